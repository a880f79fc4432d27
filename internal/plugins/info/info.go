// Package info answers lookups: command listings, server details, user
// stats and id resolution.
package info

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"scrimbot/internal/command"
	"scrimbot/internal/gameapi"
	"scrimbot/internal/plugin"
	"scrimbot/internal/storage"
)

// GroupMMR members may query matchmaking ratings.
const GroupMMR = "mmr"

type Plugin struct {
	ctx *plugin.Context
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "info" }

func (p *Plugin) Enable(ctx *plugin.Context) error {
	p.ctx = ctx

	if err := ctx.Perms.RegisterGroup(GroupMMR); err != nil {
		return err
	}

	records := []*command.Record{
		{Context: command.ContextParty, Name: "commands", Aliases: []string{"cmds"},
			Help: "commands - list the commands this party supports", Handler: p.commands},
		{Context: command.ContextAll, Name: "help",
			Help: "help [command] - describe a command", Handler: p.help},
		{Context: command.ContextAll, Name: "hammertime", Safe: true, Hidden: true, Handler: hammertime},
		{Context: command.ContextAll, Name: "serverinfo",
			Help: "serverinfo <name> - show a game server's details", Handler: p.serverInfo},
		{Context: command.ContextAll, Name: "mmr", PermsReq: []string{storage.GroupAdmin, GroupMMR},
			Help: "mmr [callsign] - show a pilot's matchmaking rating", Handler: p.mmr},
		{Context: command.ContextAll, Name: "callsign",
			Help: "callsign <id> - resolve a user id to its callsign", Handler: p.callsign},
		{Context: command.ContextAll, Name: "guid",
			Help: "guid <callsign> - resolve a callsign to its user id", Handler: p.guid},
	}
	for _, rec := range records {
		rec.Plugin = p.Name()
		if err := ctx.Commands.Register(rec); err != nil {
			return err
		}
	}
	return nil
}

func (p *Plugin) Disable() {}

func hammertime(ctx context.Context, req *command.Request) (string, error) {
	return "STOP! HAMMER TIME!", nil
}

func (p *Plugin) commands(ctx context.Context, req *command.Request) (string, error) {
	var names []string
	for _, rec := range p.ctx.Commands.Records() {
		if rec.Hidden || rec.Context == command.ContextPM {
			continue
		}
		usable := true
		for _, f := range rec.PartyFeat {
			if req.Party == nil || !req.Party.HasFeature(f) {
				usable = false
				break
			}
		}
		if usable {
			names = append(names, rec.Name)
		}
	}
	sort.Strings(names)
	return "Available commands: " + strings.Join(names, ", "), nil
}

func (p *Plugin) help(ctx context.Context, req *command.Request) (string, error) {
	if len(req.Args) == 0 {
		var names []string
		for _, rec := range p.ctx.Commands.Records() {
			if !rec.Hidden {
				names = append(names, fmt.Sprintf("%s.%s", rec.Plugin, rec.Name))
			}
		}
		sort.Strings(names)
		return "Commands: " + strings.Join(names, ", "), nil
	}

	want := strings.ToLower(req.Args[0])
	for _, rec := range p.ctx.Commands.Records() {
		if rec.Name != want || rec.Help == "" {
			continue
		}
		return rec.Help, nil
	}
	return fmt.Sprintf("No help for '%s'.", want), nil
}

func (p *Plugin) serverInfo(ctx context.Context, req *command.Request) (string, error) {
	if len(req.Args) < 1 {
		return "Usage: serverinfo <name>", nil
	}
	servers, err := p.ctx.API.ServersByName(ctx, req.Args[0])
	if err != nil {
		return "", err
	}
	if len(servers) == 0 {
		return fmt.Sprintf("No server found matching '%s'.", req.Args[0]), nil
	}
	lines := make([]string, len(servers))
	for i, s := range servers {
		lines[i] = fmt.Sprintf("%s [%s %s]: %d/%d players, avg pilot level %.0f",
			s.Name, s.Region, s.GameType, len(s.Users), s.MaxUsers, s.AveragePilotLevel)
	}
	return strings.Join(lines, "\n"), nil
}

func (p *Plugin) mmr(ctx context.Context, req *command.Request) (string, error) {
	userID := req.UserID
	callsign := "You"
	if len(req.Args) > 0 {
		callsign = req.Args[0]
		id, err := p.resolveUser(ctx, callsign)
		if err != nil {
			return "", err
		}
		if id == "" {
			return fmt.Sprintf("No user found with callsign '%s'.", callsign), nil
		}
		userID = id
	}

	stats, err := p.ctx.API.UserStats(ctx, []string{userID})
	if err != nil {
		return "", err
	}
	if len(stats) == 0 {
		return "No stats recorded for that pilot.", nil
	}
	s := stats[0]
	return fmt.Sprintf("%s: MMR %.1f, pilot level %.0f", callsign, s.MMR, s.PilotLevel), nil
}

func (p *Plugin) callsign(ctx context.Context, req *command.Request) (string, error) {
	if len(req.Args) < 1 {
		return "Usage: callsign <id>", nil
	}
	userID := req.Args[0]
	if name, ok := p.ctx.Cache.Callsign(userID); ok {
		return name, nil
	}
	name, err := p.ctx.API.Callsign(ctx, userID)
	if errors.Is(err, gameapi.ErrRequest) {
		return fmt.Sprintf("No user found with id '%s'.", userID), nil
	}
	if err != nil {
		return "", err
	}
	p.ctx.Cache.PutUser(userID, name)
	return name, nil
}

func (p *Plugin) guid(ctx context.Context, req *command.Request) (string, error) {
	if len(req.Args) < 1 {
		return "Usage: guid <callsign>", nil
	}
	id, err := p.resolveUser(ctx, req.Args[0])
	if err != nil {
		return "", err
	}
	if id == "" {
		return fmt.Sprintf("No user found with callsign '%s'.", req.Args[0]), nil
	}
	return id, nil
}

func (p *Plugin) resolveUser(ctx context.Context, callsign string) (string, error) {
	if id, ok := p.ctx.Cache.GUID(callsign); ok {
		return id, nil
	}
	id, err := p.ctx.API.UserID(ctx, callsign)
	if errors.Is(err, gameapi.ErrRequest) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if id != "" {
		p.ctx.Cache.PutUser(id, callsign)
	}
	return id, nil
}
