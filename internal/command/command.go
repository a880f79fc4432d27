// Package command owns the command registry and dispatch pipeline: inbound
// chat text is tokenized, resolved to a plugin handler, gated on
// permissions and party features, and run on a worker pool.
package command

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"github.com/kballard/go-shellquote"

	"scrimbot/internal/gameapi"
	"scrimbot/internal/metrics"
	"scrimbot/internal/party"
	"scrimbot/internal/storage"
	"scrimbot/pkg/config"
)

type Logger interface {
	Error(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Info(format string, v ...interface{})
	Debug(format string, v ...interface{})
}

// ConfigOffline is the config key toggling offline mode. While set, only
// admins and safe commands get through.
const ConfigOffline = "bot.offline"

// Context is where a command arrived from. Handlers registered under All
// answer in both places.
type Context int

const (
	ContextPM Context = iota
	ContextParty
	ContextAll
)

func (c Context) String() string {
	switch c {
	case ContextPM:
		return "pm"
	case ContextParty:
		return "party"
	}
	return "all"
}

// HandlerFunc runs a resolved command. A non-empty return string is sent
// back to the caller; an error is translated for the caller and logged.
type HandlerFunc func(ctx context.Context, req *Request) (string, error)

// Record describes one registered command.
type Record struct {
	Plugin  string
	Context Context
	Name    string
	Aliases []string
	Help    string

	Hidden    bool
	Safe      bool
	PermsReq  []string
	PartyFeat []string

	Handler HandlerFunc
}

// Request is what a handler gets to work with.
type Request struct {
	Context Context
	Command string
	Args    []string
	UserID  string
	Room    string
	Party   *party.Party

	reply func(body string) error
	log   Logger
}

// Reply sends text back to where the command came from. Send failures are
// logged, not propagated; the command already ran.
func (r *Request) Reply(body string) {
	if r.reply == nil {
		return
	}
	if err := r.reply(body); err != nil {
		r.log.Error("command: reply to %s: %v", r.UserID, err)
	}
}

type key struct {
	ctx  Context
	name string
}

// Core is the command registry plus its dispatch worker pool.
type Core struct {
	log   Logger
	cfg   *config.Store
	perms *storage.Permissions

	mu       sync.Mutex
	handlers map[key][]*Record
	plugins  map[string]struct{}

	jobs    chan func()
	wg      sync.WaitGroup
	stopped bool
}

func NewCore(cfg *config.Store, perms *storage.Permissions, log Logger) *Core {
	if err := cfg.Register(ConfigOffline, false); err != nil {
		log.Warn("command: register %s: %v", ConfigOffline, err)
	}
	return &Core{
		log:      log,
		cfg:      cfg,
		perms:    perms,
		handlers: make(map[key][]*Record),
		plugins:  make(map[string]struct{}),
		jobs:     make(chan func(), 64),
	}
}

// Start spins up the dispatch workers.
func (c *Core) Start(workers int) {
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for job := range c.jobs {
				job()
			}
		}()
	}
}

// Stop drains the pool. Queued commands still run.
func (c *Core) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()
	close(c.jobs)
	c.wg.Wait()
}

// Register validates and stores a handler record. Names, aliases, plugin
// and group names are lowercased on entry.
func (c *Core) Register(rec *Record) error {
	rec.Plugin = strings.ToLower(rec.Plugin)
	rec.Name = strings.ToLower(rec.Name)
	for i, a := range rec.Aliases {
		rec.Aliases[i] = strings.ToLower(a)
	}
	for i, g := range rec.PermsReq {
		rec.PermsReq[i] = strings.ToLower(g)
	}

	if rec.Plugin == "" || rec.Name == "" || rec.Handler == nil {
		return errors.New("command: record needs a plugin, a name and a handler")
	}
	if rec.Safe && (len(rec.PermsReq) > 0 || len(rec.PartyFeat) > 0) {
		return fmt.Errorf("command: %s.%s is safe and cannot require permissions or party features", rec.Plugin, rec.Name)
	}
	if len(rec.PartyFeat) > 0 && rec.Context != ContextParty {
		return fmt.Errorf("command: %s.%s requires party features but is not a party command", rec.Plugin, rec.Name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, name := range append([]string{rec.Name}, rec.Aliases...) {
		k := key{rec.Context, name}
		for _, existing := range c.handlers[k] {
			if existing.Plugin == rec.Plugin {
				return fmt.Errorf("command: %s already registers %s in context %s", rec.Plugin, name, rec.Context)
			}
		}
	}
	for _, name := range append([]string{rec.Name}, rec.Aliases...) {
		k := key{rec.Context, name}
		c.handlers[k] = append(c.handlers[k], rec)
	}
	c.plugins[rec.Plugin] = struct{}{}
	return nil
}

// Unregister drops every record owned by a plugin.
func (c *Core) Unregister(plugin string) {
	plugin = strings.ToLower(plugin)
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, recs := range c.handlers {
		kept := recs[:0]
		for _, r := range recs {
			if r.Plugin != plugin {
				kept = append(kept, r)
			}
		}
		if len(kept) == 0 {
			delete(c.handlers, k)
		} else {
			c.handlers[k] = kept
		}
	}
	delete(c.plugins, plugin)
}

// Records lists every registered record, for help output. Sorted by
// plugin then name.
func (c *Core) Records() []*Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	seen := make(map[*Record]struct{})
	out := make([]*Record, 0, len(c.handlers))
	for _, recs := range c.handlers {
		for _, r := range recs {
			if _, ok := seen[r]; ok {
				continue
			}
			seen[r] = struct{}{}
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Plugin != out[j].Plugin {
			return out[i].Plugin < out[j].Plugin
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Dispatch hands one inbound command line to the worker pool. The reply
// function routes output back to wherever the text came from.
func (c *Core) Dispatch(ctx Context, body, userID, room string, p *party.Party, reply func(body string) error) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.jobs <- func() {
		c.handle(ctx, body, userID, room, p, reply)
	}
}

func (c *Core) handle(ctx Context, body, userID, room string, p *party.Party, reply func(body string) error) {
	req := &Request{Context: ctx, UserID: userID, Room: room, Party: p, reply: reply, log: c.log}

	tokens, err := shellquote.Split(body)
	if err != nil {
		metrics.CommandsDispatched.WithLabelValues("invalid").Inc()
		req.Reply("Invalid command")
		return
	}
	if len(tokens) == 0 {
		metrics.CommandsDispatched.WithLabelValues("invalid").Inc()
		req.Reply("No command.")
		return
	}

	plugin, name, args := resolveTokens(c.pluginKnown, tokens)
	req.Command = name
	req.Args = args

	rec, msg := c.resolve(ctx, plugin, name, p)
	if rec == nil {
		metrics.CommandsDispatched.WithLabelValues("unknown").Inc()
		req.Reply(msg)
		return
	}
	if msg = c.gate(rec, req); msg != "" {
		metrics.CommandsDispatched.WithLabelValues("denied").Inc()
		req.Reply(msg)
		return
	}

	c.invoke(rec, req)
}

func (c *Core) pluginKnown(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.plugins[name]
	return ok
}

// resolveTokens splits a token list into an optional plugin qualifier, the
// command name and its arguments.
func resolveTokens(pluginKnown func(string) bool, tokens []string) (plugin, name string, args []string) {
	first := strings.ToLower(tokens[0])
	if len(tokens) > 1 && pluginKnown(first) {
		return first, strings.ToLower(tokens[1]), tokens[2:]
	}
	return "", first, tokens[1:]
}

// resolve picks the single handler for the command, or returns the text
// to send back when it cannot.
func (c *Core) resolve(ctx Context, plugin, name string, p *party.Party) (*Record, string) {
	c.mu.Lock()
	candidates := append([]*Record{}, c.handlers[key{ctx, name}]...)
	candidates = append(candidates, c.handlers[key{ContextAll, name}]...)
	c.mu.Unlock()

	if plugin != "" {
		kept := candidates[:0]
		for _, r := range candidates {
			if r.Plugin == plugin {
				kept = append(kept, r)
			}
		}
		candidates = kept
	} else {
		// Context filter: a handler demanding party features the current
		// party lacks is not a candidate. Safe handlers always are.
		kept := candidates[:0]
		for _, r := range candidates {
			if r.Safe || partyHasFeatures(p, r.PartyFeat) {
				kept = append(kept, r)
			}
		}
		candidates = kept
	}

	switch len(candidates) {
	case 0:
		return nil, c.miscontextHint(ctx, name)
	case 1:
		return candidates[0], ""
	}
	plugins := make([]string, len(candidates))
	for i, r := range candidates {
		plugins[i] = r.Plugin
	}
	sort.Strings(plugins)
	return nil, fmt.Sprintf("Error: Command '%s' available in multiple plugins: %s", name, strings.Join(plugins, ", "))
}

func partyHasFeatures(p *party.Party, features []string) bool {
	for _, f := range features {
		if p == nil || !p.HasFeature(f) {
			return false
		}
	}
	return true
}

// miscontextHint checks whether the command exists somewhere else before
// declaring it unknown.
func (c *Core) miscontextHint(ctx Context, name string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.handlers {
		if k.name != name || k.ctx == ctx || k.ctx == ContextAll {
			continue
		}
		return fmt.Sprintf("This command can only be run from a %s.", k.ctx)
	}
	return "No such command."
}

// gate applies the precondition checks. An empty return means the command
// may run.
func (c *Core) gate(rec *Record, req *Request) string {
	if rec.Safe {
		return ""
	}
	if req.UserID == "" {
		c.log.Warn("command: %s.%s from unidentified sender in %s", rec.Plugin, rec.Name, req.Room)
		return "Error: failed to identify user."
	}
	if c.perms.UserIn(storage.GroupBlacklist, req.UserID) {
		return "You are not authorized to run this command."
	}
	if c.cfg.GetBool(ConfigOffline) && !c.perms.UserIn(storage.GroupAdmin, req.UserID) {
		return "The bot is currently offline. Try again later."
	}
	if len(rec.PermsReq) > 0 && !c.perms.UserInAny(rec.PermsReq, req.UserID) {
		return "You are not authorized to run this command."
	}
	for _, f := range rec.PartyFeat {
		if req.Party == nil || !req.Party.HasFeature(f) {
			return "This party does not support the required features."
		}
	}
	return ""
}

func (c *Core) invoke(rec *Record, req *Request) {
	defer func() {
		if r := recover(); r != nil {
			metrics.CommandsDispatched.WithLabelValues("panic").Inc()
			c.log.Error("command: %s.%s panicked: %v\n%s", rec.Plugin, rec.Name, r, debug.Stack())
			req.Reply("Error: internal error, please report this bug.")
		}
	}()

	out, err := rec.Handler(context.Background(), req)
	if err != nil {
		metrics.CommandsDispatched.WithLabelValues("error").Inc()
		c.log.Error("command: %s.%s: %v", rec.Plugin, rec.Name, err)
		req.Reply(UserError(err))
		return
	}
	metrics.CommandsDispatched.WithLabelValues("ok").Inc()
	if out != "" {
		req.Reply(out)
	}
}

// UserError translates a handler failure into text fit for the caller. A
// consumed retry budget reports the last underlying cause, not the budget.
func UserError(err error) string {
	var retry *gameapi.RetryLimitError
	if errors.As(err, &retry) && retry.Last != nil {
		err = retry.Last
	}
	switch {
	case errors.Is(err, gameapi.ErrAuth):
		return "Error: authentication failure talking to the game service."
	case errors.Is(err, gameapi.ErrInvalidBatch), errors.Is(err, gameapi.ErrRequest):
		return "Error: the game service rejected the request."
	case errors.Is(err, gameapi.ErrUnavailable):
		return "Error: the game service is unavailable. Try again later."
	case errors.Is(err, party.ErrNotLeader):
		return "The bot is not the party leader."
	case errors.Is(err, party.ErrBusy):
		return "A deployment is already in progress."
	}
	return "Error: something went wrong, please report this bug."
}
