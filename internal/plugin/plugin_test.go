package plugin

import (
	"context"
	"errors"
	"testing"

	"scrimbot/internal/command"
	"scrimbot/internal/storage"
	"scrimbot/pkg/config"
)

type nopLogger struct{}

func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Debug(string, ...interface{}) {}

type stubPlugin struct {
	name      string
	enabled   int
	disabled  int
	enableErr error
}

func (s *stubPlugin) Name() string { return s.name }
func (s *stubPlugin) Enable(ctx *Context) error {
	s.enabled++
	return s.enableErr
}
func (s *stubPlugin) Disable() { s.disabled++ }

func newTestHost(t *testing.T) (*Host, *Context) {
	t.Helper()
	cfg := config.NewStore()
	perms := storage.NewPermissions(cfg)
	core := command.NewCore(cfg, perms, nopLogger{})
	t.Cleanup(core.Stop)
	ctx := &Context{Config: cfg, Perms: perms, Commands: core, Shutdown: func() {}}
	return NewHost(ctx, nopLogger{}), ctx
}

func TestEnableConfigured(t *testing.T) {
	host, ctx := newTestHost(t)
	a := &stubPlugin{name: "alpha"}
	b := &stubPlugin{name: "beta"}
	host.Add(a)
	host.Add(b)
	if err := ctx.Config.Set(ConfigPlugins, []string{"alpha", "ghost"}); err != nil {
		t.Fatal(err)
	}

	if err := host.EnableConfigured(); err != nil {
		t.Fatal(err)
	}
	if a.enabled != 1 || b.enabled != 0 {
		t.Errorf("enabled: alpha %d, beta %d", a.enabled, b.enabled)
	}
	if got := host.Enabled(); len(got) != 1 || got[0] != "alpha" {
		t.Errorf("Enabled() = %v", got)
	}
}

func TestEnableIsIdempotent(t *testing.T) {
	host, _ := newTestHost(t)
	p := &stubPlugin{name: "alpha"}
	host.Add(p)

	if err := host.Enable("alpha"); err != nil {
		t.Fatal(err)
	}
	if err := host.Enable("ALPHA"); err != nil {
		t.Fatal(err)
	}
	if p.enabled != 1 {
		t.Errorf("enabled %d times", p.enabled)
	}
}

func TestEnableFailureAborts(t *testing.T) {
	host, _ := newTestHost(t)
	host.Add(&stubPlugin{name: "alpha", enableErr: errors.New("boom")})

	if err := host.Enable("alpha"); err == nil {
		t.Fatal("enable error swallowed")
	}
	if got := host.Enabled(); len(got) != 0 {
		t.Errorf("failed plugin reported enabled: %v", got)
	}
}

func TestDisableDropsCommands(t *testing.T) {
	host, ctx := newTestHost(t)
	p := &stubPlugin{name: "alpha"}
	host.Add(p)
	if err := host.Enable("alpha"); err != nil {
		t.Fatal(err)
	}
	if err := ctx.Commands.Register(&command.Record{
		Plugin: "alpha", Context: command.ContextPM, Name: "ping",
		Handler: func(c context.Context, req *command.Request) (string, error) { return "pong", nil },
	}); err != nil {
		t.Fatal(err)
	}

	host.Disable("alpha")
	if p.disabled != 1 {
		t.Errorf("Disable called %d times", p.disabled)
	}
	if recs := ctx.Commands.Records(); len(recs) != 0 {
		t.Errorf("commands survived disable: %v", recs)
	}
	host.Disable("alpha")
	if p.disabled != 1 {
		t.Error("second Disable reached the plugin")
	}
}
