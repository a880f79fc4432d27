// Package scrim is the party management plugin: creating and running
// scrim parties, deploying them to servers, and spectating.
package scrim

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"scrimbot/internal/command"
	"scrimbot/internal/gameapi"
	"scrimbot/internal/models"
	"scrimbot/internal/party"
	"scrimbot/internal/plugin"
	"scrimbot/internal/reservation"
)

const (
	// GroupScrim members may manage scrim parties.
	GroupScrim = "scrim"
	// GroupSpectator members may reserve spectator slots.
	GroupSpectator = "spectator"

	configGameVersion   = "scrim.game_version"
	configRegion        = "scrim.region"
	configMaxGroupSize  = "scrim.max_group_size"
	configServerLimit   = "scrim.server_limit"
	configMMLimit       = "scrim.mm_limit"
	configCleanupPeriod = "scrim.cleanup_period"
	configPartyDomain   = "scrim.party_domain"

	cleanupTask = "scrim.cleanup"
)

type Plugin struct {
	ctx *plugin.Context

	mu sync.Mutex
	// spectate remembers the server a user last spectated from, so a bare
	// "spectate" can send them back. Deliberately not cached to disk.
	savedServers map[string]string
}

func New() *Plugin {
	return &Plugin{savedServers: make(map[string]string)}
}

func (p *Plugin) Name() string { return "scrim" }

func (p *Plugin) Enable(ctx *plugin.Context) error {
	p.ctx = ctx

	for _, g := range []string{GroupScrim, GroupSpectator} {
		if err := ctx.Perms.RegisterGroup(g); err != nil {
			return err
		}
	}
	defaults := map[string]interface{}{
		configGameVersion:   "1.0",
		configRegion:        "US-East",
		configMaxGroupSize:  int64(6),
		configPartyDomain:   "party.localhost",
		configServerLimit:   60.0,
		configMMLimit:       300.0,
		configCleanupPeriod: 1800.0,
	}
	for key, def := range defaults {
		if err := ctx.Config.Register(key, def); err != nil {
			return err
		}
	}

	p.refreshGlobals()

	period := ctx.Config.GetDuration(configCleanupPeriod)
	if err := ctx.Scheduler.Add(cleanupTask, period, ctx.Parties.CleanupTask(period)); err != nil {
		return err
	}

	scrimPerms := []string{"admin", GroupScrim}
	records := []*command.Record{
		{Context: command.ContextAll, Name: "party", PermsReq: scrimPerms,
			Help:    "party create [name] | leave | list | transfer <callsign> | invite <callsign> | kick <callsign>",
			Handler: p.party},
		{Context: command.ContextParty, Name: "deploy", PermsReq: scrimPerms, PartyFeat: []string{GroupScrim},
			Help: "deploy <server> [minutes] - reserve a server and deploy the party", Handler: p.deploy},
		{Context: command.ContextParty, Name: "deploymm", PermsReq: scrimPerms, PartyFeat: []string{GroupScrim},
			Help: "deploymm [region] [gametype] - deploy through matchmaking", Handler: p.deployMM},
		{Context: command.ContextParty, Name: "cancel", PermsReq: scrimPerms, PartyFeat: []string{GroupScrim},
			Help: "cancel - abort the current deployment", Handler: p.cancel},
		{Context: command.ContextParty, Name: "spectate", PermsReq: []string{"admin", GroupSpectator}, PartyFeat: []string{GroupScrim},
			Help: "spectate [server] - reserve a spectator slot, or return to the previous one", Handler: p.spectate},
	}
	for _, rec := range records {
		rec.Plugin = p.Name()
		if err := ctx.Commands.Register(rec); err != nil {
			return err
		}
	}

	// Parties from before the last restart come back first, so commands
	// addressed to them resolve immediately.
	ctx.Parties.Rejoin(ctx.Chat, ctx.BotID, p.roomAddress, p.configureParty)
	return nil
}

func (p *Plugin) Disable() {
	p.ctx.Scheduler.Remove(cleanupTask)
	for _, pt := range p.ctx.Parties.All() {
		if err := pt.Leave(); err != nil {
			p.ctx.Log.Warn("scrim: leave party %s: %v", pt.ID(), err)
		}
		p.ctx.Parties.Remove(pt.ID().String())
	}
}

// refreshGlobals pulls the matchmaking balance values into the cache so
// deploy checks can warn about pilot-level mismatches. Best effort: a
// failed fetch leaves the previous (or empty) values in place.
func (p *Plugin) refreshGlobals() {
	fctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	var g models.GameGlobals
	if err := p.ctx.API.GlobalsItem(fctx, "MMPilotLevelRange", &g.MMPilotLevelRange); err != nil {
		p.ctx.Log.Warn("scrim: fetch game globals: %v", err)
		return
	}
	p.ctx.Cache.SetGlobals(g)
}

func (p *Plugin) roomAddress(id string) string {
	return fmt.Sprintf("%s@%s", id, p.ctx.Config.GetString(configPartyDomain))
}

// configureParty wires a party's room chatter into the command core and
// keeps the registry honest when the party removes itself.
func (p *Plugin) configureParty(pt *party.Party) {
	pt.SetMessageHandler(func(userID, body string) {
		body = strings.TrimSpace(body)
		if !strings.HasPrefix(body, "!") {
			return
		}
		p.ctx.Commands.Dispatch(command.ContextParty, strings.TrimPrefix(body, "!"), userID, pt.Room().Address(), pt, pt.Send)
	})
	pt.SetForcedLeaveHandler(func(left *party.Party) {
		p.ctx.Parties.Remove(left.ID().String())
	})
}

// --- party subcommands ---

func (p *Plugin) party(ctx context.Context, req *command.Request) (string, error) {
	if len(req.Args) == 0 {
		return "Usage: party create|leave|list|transfer|invite|kick", nil
	}
	sub, args := strings.ToLower(req.Args[0]), req.Args[1:]
	switch sub {
	case "create":
		return p.partyCreate(args)
	case "leave":
		return p.partyLeave(req)
	case "list":
		return p.partyList()
	case "transfer":
		return p.partyTransfer(ctx, req, args)
	case "invite":
		return p.partyInvite(ctx, req, args)
	case "kick":
		return p.partyKick(ctx, req, args)
	}
	return fmt.Sprintf("Unknown party subcommand '%s'.", sub), nil
}

func (p *Plugin) partyCreate(args []string) (string, error) {
	id := uuid.New()
	nick := p.ctx.BotNick
	if len(args) > 0 {
		nick = args[0]
	}
	room, err := p.ctx.Chat.JoinRoom(p.roomAddress(id.String()), nick)
	if err != nil {
		return "", err
	}
	pt := party.New(id, room, p.ctx.BotID, p.ctx.Log, party.WithFeatures(GroupScrim))
	p.configureParty(pt)
	if !p.ctx.Parties.Add(pt) {
		pt.Leave()
		return "A party with that id already exists.", nil
	}
	return fmt.Sprintf("Party created: %s", room.Address()), nil
}

func (p *Plugin) partyLeave(req *command.Request) (string, error) {
	pt := req.Party
	if pt == nil {
		return "Run this from the party to leave, or kick the bot.", nil
	}
	p.ctx.Parties.Remove(pt.ID().String())
	if err := pt.Leave(); err != nil {
		return "", err
	}
	return "", nil
}

func (p *Plugin) partyList() (string, error) {
	parties := p.ctx.Parties.All()
	if len(parties) == 0 {
		return "No active parties.", nil
	}
	lines := make([]string, 0, len(parties))
	for _, pt := range parties {
		lines = append(lines, fmt.Sprintf("%s: %s, %d players", pt.ID(), pt.State(), len(pt.Players())))
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n"), nil
}

func (p *Plugin) partyTransfer(ctx context.Context, req *command.Request, args []string) (string, error) {
	if req.Party == nil {
		return "This command can only be run from a party.", nil
	}
	if len(args) < 1 {
		return "Usage: party transfer <callsign>", nil
	}
	userID, err := p.resolveUser(ctx, args[0])
	if err != nil {
		return "", err
	}
	if userID == "" {
		return fmt.Sprintf("No user found with callsign '%s'.", args[0]), nil
	}
	if err := req.Party.Transfer(userID); err != nil {
		return err.Error(), nil
	}
	p.ctx.Parties.Remove(req.Party.ID().String())
	if err := req.Party.Leave(); err != nil {
		p.ctx.Log.Warn("scrim: leave after transfer: %v", err)
	}
	return fmt.Sprintf("Leadership transferred to %s.", args[0]), nil
}

func (p *Plugin) partyInvite(ctx context.Context, req *command.Request, args []string) (string, error) {
	if req.Party == nil {
		return "This command can only be run from a party.", nil
	}
	if len(args) < 1 {
		return "Usage: party invite <callsign>", nil
	}
	userID, err := p.resolveUser(ctx, args[0])
	if err != nil {
		return "", err
	}
	if userID == "" {
		return fmt.Sprintf("No user found with callsign '%s'.", args[0]), nil
	}
	if err := req.Party.Room().Invite(userID, "scrim party invite"); err != nil {
		return "", err
	}
	return fmt.Sprintf("Invited %s.", args[0]), nil
}

func (p *Plugin) partyKick(ctx context.Context, req *command.Request, args []string) (string, error) {
	if req.Party == nil {
		return "This command can only be run from a party.", nil
	}
	if len(args) < 1 {
		return "Usage: party kick <callsign>", nil
	}
	userID, err := p.resolveUser(ctx, args[0])
	if err != nil {
		return "", err
	}
	if userID == "" {
		return fmt.Sprintf("No user found with callsign '%s'.", args[0]), nil
	}
	if err := req.Party.Kick(userID); err != nil {
		return err.Error(), nil
	}
	return "", nil
}

// --- deployment ---

func (p *Plugin) deploy(ctx context.Context, req *command.Request) (string, error) {
	if len(req.Args) < 1 {
		return "Usage: deploy <server> [minutes]", nil
	}
	pt := req.Party
	if !pt.IsLeader() {
		return "The bot is not the party leader.", nil
	}
	users := pt.Players()
	if len(users) == 0 {
		return "The party is empty.", nil
	}

	server, msg, err := p.findServer(ctx, req.Args[0])
	if err != nil || msg != "" {
		return msg, err
	}

	opts := reservation.Options{Limit: p.ctx.Config.GetDuration(configServerLimit)}
	if len(req.Args) > 1 {
		mins, err := time.ParseDuration(req.Args[1] + "m")
		if err != nil {
			return fmt.Sprintf("'%s' is not a number of minutes.", req.Args[1]), nil
		}
		opts.Limit = mins
	}
	if g, ok := p.ctx.Cache.Globals(); ok {
		opts.Globals = &g
	}

	var res reservation.Reservation
	maxGroup := int(p.ctx.Config.GetInt(configMaxGroupSize))
	if maxGroup > 0 && len(users) > maxGroup {
		res = reservation.NewSynchronizedServerReservation(p.ctx.API, p.ctx.Log, server, users, pt.ID().String(), maxGroup, opts)
	} else {
		res = reservation.NewServerReservation(p.ctx.API, p.ctx.Log, server, users, pt.ID().String(), opts)
	}

	critical, issues := res.Check(ctx)
	if critical {
		return "Cannot deploy: " + strings.Join(issues, "; "), nil
	}
	for _, w := range issues {
		pt.Send("Warning: " + w)
	}

	if err := res.Reserve(ctx); err != nil {
		return "", err
	}
	if err := pt.Deploy(res); err != nil {
		res.Cancel()
		return "", err
	}
	go p.announce(pt, res, server.Name)
	return fmt.Sprintf("Deploying to %s.", server.Name), nil
}

func (p *Plugin) deployMM(ctx context.Context, req *command.Request) (string, error) {
	pt := req.Party
	if !pt.IsLeader() {
		return "The bot is not the party leader.", nil
	}
	users := pt.Players()
	if len(users) == 0 {
		return "The party is empty.", nil
	}

	region := p.ctx.Config.GetString(configRegion)
	gameType := ""
	if len(req.Args) > 0 {
		region = req.Args[0]
	}
	if len(req.Args) > 1 {
		gameType = req.Args[1]
	}

	opts := reservation.Options{Limit: p.ctx.Config.GetDuration(configMMLimit)}
	res := reservation.NewMatchmakingReservation(p.ctx.API, p.ctx.Log,
		p.ctx.Config.GetString(configGameVersion), region, gameType, users, pt.ID().String(), opts)

	if err := res.Reserve(ctx); err != nil {
		return "", err
	}
	if err := pt.Deploy(res); err != nil {
		res.Cancel()
		return "", err
	}
	go p.announce(pt, res, "matchmaking")
	return fmt.Sprintf("Matchmaking started in %s.", region), nil
}

func (p *Plugin) cancel(ctx context.Context, req *command.Request) (string, error) {
	if req.Party.Abort(party.CancelLeader) {
		return "Deployment canceled.", nil
	}
	return "Nothing to cancel.", nil
}

// announce turns the reservation's terminal result into a line of room
// chat. The payload protocol already told the clients; this tells the
// humans.
func (p *Plugin) announce(pt *party.Party, res reservation.Reservation, target string) {
	switch res.Poll(context.Background()) {
	case reservation.Ready:
		pt.Send(fmt.Sprintf("Server ready, deploying to %s.", target))
	case reservation.TimedOut:
		pt.Send("No server became available in time.")
	case reservation.NotFound:
		pt.Send("The reservation disappeared, try again.")
	case reservation.Failed:
		pt.Send("Reservation failed, try again.")
	}
}

// --- spectate ---

func (p *Plugin) spectate(ctx context.Context, req *command.Request) (string, error) {
	p.mu.Lock()
	saved := p.savedServers[req.UserID]
	p.mu.Unlock()

	name := saved
	if len(req.Args) > 0 {
		name = req.Args[0]
	} else if saved == "" {
		return "Usage: spectate <server> (no saved server yet).", nil
	}

	server, msg, err := p.findServer(ctx, name)
	if err != nil || msg != "" {
		return msg, err
	}

	res := reservation.NewServerReservation(p.ctx.API, p.ctx.Log, server, []string{req.UserID}, "",
		reservation.Options{Limit: p.ctx.Config.GetDuration(configServerLimit)})
	if err := res.Reserve(ctx); err != nil {
		return "", err
	}
	result := res.Poll(ctx)
	if result != reservation.Ready {
		return fmt.Sprintf("Could not reserve a slot on %s (%s).", server.Name, result), nil
	}

	p.mu.Lock()
	p.savedServers[req.UserID] = server.Name
	p.mu.Unlock()

	adv := res.Advertisement()
	return fmt.Sprintf("Spectator slot on %s: %s:%d", server.Name, adv.AssignedServerIP, adv.AssignedServerPort), nil
}

// --- lookups ---

// findServer resolves a partial server name to exactly one server. The
// msg return carries user-facing text when resolution fails softly.
func (p *Plugin) findServer(ctx context.Context, name string) (*models.Server, string, error) {
	servers, err := p.ctx.API.ServersByName(ctx, name)
	if err != nil {
		return nil, "", err
	}
	switch len(servers) {
	case 0:
		return nil, fmt.Sprintf("No server found matching '%s'.", name), nil
	case 1:
		return &servers[0], "", nil
	}
	for i := range servers {
		if strings.EqualFold(servers[i].Name, name) {
			return &servers[i], "", nil
		}
	}
	names := make([]string, len(servers))
	for i, s := range servers {
		names[i] = s.Name
	}
	sort.Strings(names)
	return nil, fmt.Sprintf("Multiple servers match: %s", strings.Join(names, ", ")), nil
}

// resolveUser maps a callsign to a user id, going to the API only on a
// cache miss. An empty id with nil error means the callsign is unknown.
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
