// Package admin carries the operator commands: permission management,
// operating modes, and shutdown.
package admin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"scrimbot/internal/command"
	"scrimbot/internal/gameapi"
	"scrimbot/internal/plugin"
	"scrimbot/internal/roster"
	"scrimbot/internal/storage"
)

type Plugin struct {
	ctx *plugin.Context
	now func() time.Time
}

func New() *Plugin { return &Plugin{now: time.Now} }

func (p *Plugin) Name() string { return "admin" }

func (p *Plugin) Enable(ctx *plugin.Context) error {
	p.ctx = ctx

	adminOnly := []string{storage.GroupAdmin}
	records := []*command.Record{
		{Context: command.ContextAll, Name: "authorize", PermsReq: adminOnly,
			Help: "authorize <group> <callsign> [remove] - manage permission groups", Handler: p.authorize},
		{Context: command.ContextAll, Name: "whitelist", PermsReq: adminOnly,
			Help: "whitelist on|off - restrict the roster to known users", Handler: p.whitelist},
		{Context: command.ContextAll, Name: "offline", PermsReq: adminOnly,
			Help: "offline on|off - refuse commands from non-admins", Handler: p.offline},
		{Context: command.ContextAll, Name: "seen", PermsReq: adminOnly,
			Help: "seen <callsign> - when the user last talked to the bot", Handler: p.seen},
		{Context: command.ContextAll, Name: "quit", PermsReq: adminOnly,
			Help: "quit - shut the bot down", Handler: p.quit},
		{Context: command.ContextAll, Name: "load", PermsReq: adminOnly, Hidden: true, Handler: notSupported},
		{Context: command.ContextAll, Name: "unload", PermsReq: adminOnly, Hidden: true, Handler: notSupported},
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

func notSupported(ctx context.Context, req *command.Request) (string, error) {
	return "Plugin hot-loading is not supported.", nil
}

func (p *Plugin) authorize(ctx context.Context, req *command.Request) (string, error) {
	if len(req.Args) < 2 {
		return "Usage: authorize <group> <callsign> [remove]", nil
	}
	group, callsign := strings.ToLower(req.Args[0]), req.Args[1]
	remove := len(req.Args) > 2 && strings.EqualFold(req.Args[2], "remove")

	known := false
	for _, g := range p.ctx.Perms.Groups() {
		if g == group {
			known = true
			break
		}
	}
	if !known {
		groups := p.ctx.Perms.Groups()
		sort.Strings(groups)
		return fmt.Sprintf("Unknown group '%s'. Groups: %s", group, strings.Join(groups, ", ")), nil
	}

	userID, err := p.resolveUser(ctx, callsign)
	if err != nil {
		return "", err
	}
	if userID == "" {
		return fmt.Sprintf("No user found with callsign '%s'.", callsign), nil
	}

	if remove {
		if !p.ctx.Perms.Remove(group, userID) {
			return fmt.Sprintf("%s is not in group '%s'.", callsign, group), nil
		}
		p.syncRoster()
		return fmt.Sprintf("Removed %s from group '%s'.", callsign, group), nil
	}
	if err := p.ctx.Perms.Add(group, userID); err != nil {
		return fmt.Sprintf("%s is already in group '%s'.", callsign, group), nil
	}
	p.syncRoster()
	return fmt.Sprintf("Added %s to group '%s'.", callsign, group), nil
}

// syncRoster pushes a permission change to the roster right away rather
// than waiting for the periodic reconcile pass.
func (p *Plugin) syncRoster() {
	if p.ctx.Roster == nil {
		return
	}
	go func() {
		if err := p.ctx.Roster.Reconcile(context.Background()); err != nil {
			p.ctx.Log.Warn("admin: roster sync: %v", err)
		}
	}()
}

func (p *Plugin) whitelist(ctx context.Context, req *command.Request) (string, error) {
	return p.toggle(req, roster.ConfigWhitelisted, "Whitelisted mode")
}

func (p *Plugin) offline(ctx context.Context, req *command.Request) (string, error) {
	return p.toggle(req, command.ConfigOffline, "Offline mode")
}

func (p *Plugin) toggle(req *command.Request, key, label string) (string, error) {
	if len(req.Args) != 1 {
		state := "off"
		if p.ctx.Config.GetBool(key) {
			state = "on"
		}
		return fmt.Sprintf("%s is %s.", label, state), nil
	}
	var on bool
	switch strings.ToLower(req.Args[0]) {
	case "on":
		on = true
	case "off":
		on = false
	default:
		return fmt.Sprintf("Usage: %s on|off", req.Command), nil
	}
	if err := p.ctx.Config.Set(key, on); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s is now %s.", label, req.Args[0]), nil
}

func (p *Plugin) seen(ctx context.Context, req *command.Request) (string, error) {
	if len(req.Args) < 1 {
		return "Usage: seen <callsign>", nil
	}
	userID, err := p.resolveUser(ctx, req.Args[0])
	if err != nil {
		return "", err
	}
	if userID == "" {
		return fmt.Sprintf("No user found with callsign '%s'.", req.Args[0]), nil
	}
	var last string
	ok, err := p.ctx.Cache.Get("seen."+userID, &last)
	if err != nil || !ok {
		return fmt.Sprintf("Never seen %s talk.", req.Args[0]), nil
	}
	at, err := time.Parse(time.RFC3339, last)
	if err != nil {
		return fmt.Sprintf("Never seen %s talk.", req.Args[0]), nil
	}
	return fmt.Sprintf("%s last talked to the bot %s ago.", req.Args[0], p.now().Sub(at).Round(time.Second)), nil
}

func (p *Plugin) quit(ctx context.Context, req *command.Request) (string, error) {
	p.ctx.Log.Info("admin: shutdown requested by %s", req.UserID)
	go p.ctx.Shutdown()
	return "Shutting down.", nil
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
