// Package bot is the supervisor: it owns the chat session lifecycle,
// fans transport events out to the command core and the roster
// reconciler, and drives the orderly shutdown.
package bot

import (
	"context"
	"strings"
	"sync"
	"time"

	"scrimbot/internal/chat"
	"scrimbot/internal/command"
	"scrimbot/internal/plugin"
	"scrimbot/internal/roster"
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

// API is the slice of the game client the supervisor needs directly.
type API interface {
	Authenticate(ctx context.Context) error
}

const (
	configWorkers       = "bot.workers"
	configFlushPeriod   = "cache.flush_period"
	configRosterPeriod  = "roster.period"
	configSavePeriod    = "bot.config_save_period"
	maxReconnects       = 5
	reconnectDelay      = 5 * time.Second
	flushTask           = "cache.flush"
	saveTask            = "config.save"
	rosterReconcileTask = "roster.reconcile"
)

// Deps is everything the supervisor coordinates. All fields are required.
type Deps struct {
	Log        Logger
	Config     *config.Store
	ConfigPath string
	Cache      *storage.Cache
	CachePath  string
	API        API
	Transport  chat.Transport
	Commands   *command.Core
	Scheduler  *scheduler.Scheduler
	Roster     *roster.Reconciler
	Host       *plugin.Host

	// Shutdown cancels the run context; the admin quit command ends up
	// here.
	Shutdown func()
}

type Supervisor struct {
	Deps

	// reconnectDelay is shortened in tests.
	reconnectDelay time.Duration
	disconnects    chan error
	stopOnce       sync.Once
}

func New(deps Deps) *Supervisor {
	for key, def := range map[string]interface{}{
		configWorkers:      int64(4),
		configFlushPeriod:  60.0,
		configRosterPeriod: 300.0,
		configSavePeriod:   300.0,
	} {
		if err := deps.Config.Register(key, def); err != nil {
			deps.Log.Warn("bot: register %s: %v", key, err)
		}
	}
	return &Supervisor{Deps: deps, reconnectDelay: reconnectDelay, disconnects: make(chan error, 1)}
}

// Init brings the bot up: stores proven writable first, then the API
// session, then chat, then plugins and periodic tasks. Any failure here
// is fatal.
func (s *Supervisor) Init() error {
	// Save before anything talks to the network. A bot that cannot
	// persist its state must not come up at all.
	if err := s.Config.Save(s.ConfigPath); err != nil {
		return err
	}
	if err := s.Cache.Save(s.CachePath); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.API.Authenticate(ctx); err != nil {
		return err
	}

	s.Transport.SetHandler(s)
	if err := s.Transport.Connect(ctx); err != nil {
		return err
	}

	s.Commands.Start(int(s.Config.GetInt(configWorkers)))
	if err := s.Host.EnableConfigured(); err != nil {
		return err
	}

	if err := s.Scheduler.Add(flushTask, s.Config.GetDuration(configFlushPeriod), s.Cache.FlushTask(s.CachePath)); err != nil {
		return err
	}
	if err := s.Scheduler.Add(saveTask, s.Config.GetDuration(configSavePeriod), s.saveConfigTask); err != nil {
		return err
	}
	if err := s.Scheduler.Add(rosterReconcileTask, s.Config.GetDuration(configRosterPeriod), s.Roster.Task()); err != nil {
		return err
	}
	s.Log.Info("bot: up, plugins: %s", strings.Join(s.Host.Enabled(), ", "))
	return nil
}

func (s *Supervisor) saveConfigTask(ctx context.Context) {
	if err := s.Config.Save(s.ConfigPath); err != nil {
		s.Log.Error("bot: periodic config save failed: %v", err)
	}
}

// Run babysits the chat session until the context ends. A dropped
// session gets a bounded number of reconnect attempts before the bot
// gives up and shuts itself down.
func (s *Supervisor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-s.disconnects:
			s.Log.Warn("bot: chat session lost: %v", err)
			if !s.reconnect(ctx) {
				s.Log.Error("bot: could not restore the chat session, shutting down")
				s.Shutdown()
				return
			}
		}
	}
}

func (s *Supervisor) reconnect(ctx context.Context) bool {
	for attempt := 1; attempt <= maxReconnects; attempt++ {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(s.reconnectDelay):
		}
		if err := s.Transport.Connect(ctx); err != nil {
			s.Log.Warn("bot: reconnect %d/%d: %v", attempt, maxReconnects, err)
			continue
		}
		s.Log.Info("bot: chat session restored")
		return true
	}
	return false
}

// Stop tears everything down in dependency order and flushes both
// stores. Safe to call more than once.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		s.Host.DisableAll()
		s.Scheduler.Stop()
		s.Commands.Stop()
		if err := s.Transport.Close(); err != nil {
			s.Log.Warn("bot: close chat session: %v", err)
		}
		if err := s.Config.Save(s.ConfigPath); err != nil {
			s.Log.Error("bot: final config save failed: %v", err)
		}
		if err := s.Cache.Save(s.CachePath); err != nil {
			s.Log.Error("bot: final cache save failed: %v", err)
		}
	})
}

// --- chat.Handler ---

// HandleMessage treats every direct message as a command. A leading "!"
// is tolerated so the same muscle memory works in rooms and PMs.
func (s *Supervisor) HandleMessage(msg chat.Message) {
	body := strings.TrimSpace(msg.Body)
	if body == "" {
		return
	}
	body = strings.TrimPrefix(body, "!")

	if msg.UserID != "" {
		if err := s.Cache.Put("seen."+msg.UserID, time.Now().UTC().Format(time.RFC3339)); err != nil {
			s.Log.Debug("bot: record seen %s: %v", msg.UserID, err)
		}
	}

	s.Commands.Dispatch(command.ContextPM, body, msg.UserID, "", nil, func(reply string) error {
		return s.Transport.SendMessage(msg.UserID, reply)
	})
}

func (s *Supervisor) HandleSubscriptionRequest(userID string) {
	s.Roster.HandleSubscriptionRequest(userID)
}

// HandleDisconnect queues one reconnect; a flood of disconnect events
// collapses into a single attempt cycle.
func (s *Supervisor) HandleDisconnect(err error) {
	select {
	case s.disconnects <- err:
	default:
	}
}
