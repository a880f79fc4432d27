// Package plugin hosts the feature modules. Plugins are compiled in and
// selected by config; each one registers its commands, permission groups
// and periodic tasks when enabled.
package plugin

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"scrimbot/internal/chat"
	"scrimbot/internal/command"
	"scrimbot/internal/models"
	"scrimbot/internal/party"
	"scrimbot/internal/reservation"
	"scrimbot/internal/storage"
	"scrimbot/pkg/config"
	"scrimbot/pkg/scheduler"
)

type Logger interface {
	Error(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Info(format string, v ...interface{})
	Debug(format string, v ...interface{})
}

// ConfigPlugins lists the plugin names enabled at startup.
const ConfigPlugins = "bot.plugins"

// GameAPI is the slice of the API client plugins work against.
type GameAPI interface {
	reservation.API
	UserID(ctx context.Context, callsign string) (string, error)
	Callsign(ctx context.Context, userID string) (string, error)
	Server(ctx context.Context, serverID string) (*models.Server, error)
	ServersByName(ctx context.Context, name string) ([]models.Server, error)
	GlobalsItem(ctx context.Context, key string, out interface{}) error
}

// RosterSync lets plugins nudge the roster reconciler after they mutate
// permission groups, instead of waiting for the next periodic pass.
type RosterSync interface {
	Reconcile(ctx context.Context) error
}

// Context is everything a plugin may touch. One shared instance is handed
// to every plugin at enable time.
type Context struct {
	Log       Logger
	Config    *config.Store
	Cache     *storage.Cache
	Perms     *storage.Permissions
	API       GameAPI
	Chat      chat.Transport
	Scheduler *scheduler.Scheduler
	Commands  *command.Core
	Parties   *party.Registry
	Roster    RosterSync
	BotID     string
	BotNick   string

	// Shutdown asks the supervisor for an orderly stop. Never nil.
	Shutdown func()
}

// Plugin is one feature module. Enable registers everything the plugin
// brings; Disable tears its background work down. Command records are
// cleaned up by the host.
type Plugin interface {
	Name() string
	Enable(ctx *Context) error
	Disable()
}

// Host owns the static plugin registry and the enabled set.
type Host struct {
	log Logger
	ctx *Context

	mu        sync.Mutex
	available map[string]Plugin
	enabled   map[string]Plugin
}

func NewHost(ctx *Context, log Logger) *Host {
	if err := ctx.Config.Register(ConfigPlugins, []string{"info"}); err != nil {
		log.Warn("plugin: register %s: %v", ConfigPlugins, err)
	}
	return &Host{
		log:       log,
		ctx:       ctx,
		available: make(map[string]Plugin),
		enabled:   make(map[string]Plugin),
	}
}

// Add registers a plugin as available. Call before EnableConfigured.
func (h *Host) Add(p Plugin) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.available[strings.ToLower(p.Name())] = p
}

// EnableConfigured enables every plugin the config names. Unknown names
// are logged and skipped; a failing Enable aborts startup.
func (h *Host) EnableConfigured() error {
	for _, name := range h.ctx.Config.GetStringList(ConfigPlugins) {
		if err := h.Enable(name); err != nil {
			return err
		}
	}
	return nil
}

// Enable activates one plugin by name.
func (h *Host) Enable(name string) error {
	name = strings.ToLower(name)
	h.mu.Lock()
	p, ok := h.available[name]
	if !ok {
		h.mu.Unlock()
		h.log.Warn("plugin: unknown plugin %q", name)
		return nil
	}
	if _, on := h.enabled[name]; on {
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	if err := p.Enable(h.ctx); err != nil {
		h.ctx.Commands.Unregister(name)
		return fmt.Errorf("plugin: enable %s: %w", name, err)
	}
	h.mu.Lock()
	h.enabled[name] = p
	h.mu.Unlock()
	h.log.Info("plugin: enabled %s", name)
	return nil
}

// Disable deactivates one plugin and drops its commands.
func (h *Host) Disable(name string) {
	name = strings.ToLower(name)
	h.mu.Lock()
	p, on := h.enabled[name]
	delete(h.enabled, name)
	h.mu.Unlock()
	if !on {
		return
	}
	p.Disable()
	h.ctx.Commands.Unregister(name)
	h.log.Info("plugin: disabled %s", name)
}

// DisableAll tears every enabled plugin down, for shutdown.
func (h *Host) DisableAll() {
	for _, name := range h.Enabled() {
		h.Disable(name)
	}
}

// Enabled lists the active plugin names, sorted.
func (h *Host) Enabled() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.enabled))
	for name := range h.enabled {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
