package admin

import (
	"context"
	"strings"
	"testing"
	"time"

	"scrimbot/internal/chat/chattest"
	"scrimbot/internal/command"
	"scrimbot/internal/plugin"
	"scrimbot/internal/roster"
	"scrimbot/internal/storage"
	"scrimbot/pkg/config"
	"scrimbot/pkg/scheduler"
)

type nopLogger struct{}

func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Debug(string, ...interface{}) {}

type fakeAPI struct {
	plugin.GameAPI
	users map[string]string
}

func (f *fakeAPI) UserID(ctx context.Context, callsign string) (string, error) {
	return f.users[callsign], nil
}

func newTestPlugin(t *testing.T) (*Plugin, *plugin.Context, chan struct{}) {
	t.Helper()
	cfg := config.NewStore()
	perms := storage.NewPermissions(cfg)
	core := command.NewCore(cfg, perms, nopLogger{})
	core.Start(1)
	t.Cleanup(core.Stop)
	if err := cfg.Register(roster.ConfigWhitelisted, false); err != nil {
		t.Fatal(err)
	}
	quit := make(chan struct{})

	ctx := &plugin.Context{
		Log:       nopLogger{},
		Config:    cfg,
		Cache:     storage.NewCache(nopLogger{}),
		Perms:     perms,
		API:       &fakeAPI{users: map[string]string{"Raider": "u1"}},
		Chat:      chattest.New(),
		Scheduler: scheduler.New(nopLogger{}),
		Commands:  core,
		BotID:     "bot-uuid",
		Shutdown:  func() { close(quit) },
	}
	t.Cleanup(ctx.Scheduler.Stop)
	p := New()
	if err := p.Enable(ctx); err != nil {
		t.Fatal(err)
	}
	return p, ctx, quit
}

func run(t *testing.T, fn command.HandlerFunc, req *command.Request) string {
	t.Helper()
	out, err := fn(context.Background(), req)
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	return out
}

func TestAuthorizeAddAndRemove(t *testing.T) {
	p, ctx, _ := newTestPlugin(t)

	out := run(t, p.authorize, &command.Request{Args: []string{"whitelist", "Raider"}})
	if out != "Added Raider to group 'whitelist'." {
		t.Fatalf("add reply = %q", out)
	}
	if !ctx.Perms.UserIn(storage.GroupWhitelist, "u1") {
		t.Error("u1 missing from whitelist")
	}

	out = run(t, p.authorize, &command.Request{Args: []string{"whitelist", "Raider"}})
	if out != "Raider is already in group 'whitelist'." {
		t.Errorf("duplicate reply = %q", out)
	}

	out = run(t, p.authorize, &command.Request{Args: []string{"whitelist", "Raider", "remove"}})
	if out != "Removed Raider from group 'whitelist'." {
		t.Errorf("remove reply = %q", out)
	}
	if ctx.Perms.UserIn(storage.GroupWhitelist, "u1") {
		t.Error("u1 still whitelisted after remove")
	}
}

func TestAuthorizeUnknownGroup(t *testing.T) {
	p, _, _ := newTestPlugin(t)
	out := run(t, p.authorize, &command.Request{Args: []string{"wizards", "Raider"}})
	if !strings.HasPrefix(out, "Unknown group 'wizards'.") {
		t.Errorf("reply = %q", out)
	}
}

func TestAuthorizeUnknownCallsign(t *testing.T) {
	p, _, _ := newTestPlugin(t)
	out := run(t, p.authorize, &command.Request{Args: []string{"whitelist", "Nobody"}})
	if out != "No user found with callsign 'Nobody'." {
		t.Errorf("reply = %q", out)
	}
}

func TestToggles(t *testing.T) {
	p, ctx, _ := newTestPlugin(t)

	out := run(t, p.offline, &command.Request{Command: "offline", Args: []string{"on"}})
	if out != "Offline mode is now on." || !ctx.Config.GetBool(command.ConfigOffline) {
		t.Errorf("offline on: reply %q, flag %v", out, ctx.Config.GetBool(command.ConfigOffline))
	}

	out = run(t, p.whitelist, &command.Request{Command: "whitelist"})
	if out != "Whitelisted mode is off." {
		t.Errorf("status reply = %q", out)
	}

	out = run(t, p.whitelist, &command.Request{Command: "whitelist", Args: []string{"banana"}})
	if out != "Usage: whitelist on|off" {
		t.Errorf("bad arg reply = %q", out)
	}
}

func TestSeen(t *testing.T) {
	p, ctx, _ := newTestPlugin(t)

	out := run(t, p.seen, &command.Request{Args: []string{"Raider"}})
	if out != "Never seen Raider talk." {
		t.Fatalf("reply = %q", out)
	}

	at := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return at.Add(90 * time.Second) }
	if err := ctx.Cache.Put("seen.u1", at.Format(time.RFC3339)); err != nil {
		t.Fatal(err)
	}
	out = run(t, p.seen, &command.Request{Args: []string{"Raider"}})
	if out != "Raider last talked to the bot 1m30s ago." {
		t.Errorf("reply = %q", out)
	}
}

func TestQuit(t *testing.T) {
	p, _, quit := newTestPlugin(t)
	out := run(t, p.quit, &command.Request{UserID: "admin-1"})
	if out != "Shutting down." {
		t.Errorf("reply = %q", out)
	}
	select {
	case <-quit:
	case <-time.After(time.Second):
		t.Error("shutdown hook never ran")
	}
}

func TestLoadUnloadStubs(t *testing.T) {
	out := run(t, notSupported, &command.Request{Args: []string{"tracker"}})
	if out != "Plugin hot-loading is not supported." {
		t.Errorf("reply = %q", out)
	}
}
