package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestRegisterAndGet(t *testing.T) {
	s := NewStore()

	if err := s.Register("bot.offline", false); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := s.Register("bot.party.deploy_delay", 12); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := s.Register("bot.nick", "ScrimBot"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if got := s.GetBool("bot.offline"); got != false {
		t.Errorf("GetBool = %v, want false", got)
	}
	if got := s.GetInt("bot.party.deploy_delay"); got != 12 {
		t.Errorf("GetInt = %d, want 12", got)
	}
	if got := s.GetString("bot.nick"); got != "ScrimBot" {
		t.Errorf("GetString = %q, want ScrimBot", got)
	}
}

func TestRegisterKeepsLoadedValue(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.json")
	if err := os.WriteFile(file, []byte(`{"bot": {"offline": true}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewStore()
	if err := s.Load(file); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := s.Register("bot.offline", false); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if got := s.GetBool("bot.offline"); got != true {
		t.Error("Register clobbered a loaded value")
	}
}

func TestSetRejectsWrongKind(t *testing.T) {
	s := NewStore()
	if err := s.Register("bot.offline", false); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("bot.offline", "yes"); err == nil {
		t.Error("Set accepted a string for a bool path")
	}
	if err := s.Set("bot.offline", true); err != nil {
		t.Errorf("Set rejected a bool for a bool path: %v", err)
	}
}

func TestPathConflict(t *testing.T) {
	s := NewStore()
	if err := s.Register("bot.nick", "ScrimBot"); err != nil {
		t.Fatal(err)
	}
	if err := s.Register("bot.nick.color", "red"); err == nil {
		t.Error("Register accepted a path nested under an existing leaf")
	}
	if err := s.Register("bot", "x"); err == nil {
		t.Error("Register accepted a leaf shadowing an existing subtree")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.json")

	s := NewStore()
	s.Register("bot.offline", true)
	s.Register("bot.party.cleanup_period", 1800)
	s.Register("bot.party.max_group_size", 6)
	s.Register("bot.plugins", []string{"scrim", "admin", "info"})
	s.Register("bot.roster.update_rate", 0.25)
	s.Register("bot.nick", "ScrimBot")

	if err := s.Save(file); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded := NewStore()
	if err := loaded.Load(file); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if !reflect.DeepEqual(s.Keys(), loaded.Keys()) {
		t.Fatalf("key set changed across round-trip:\n  saved:  %v\n  loaded: %v", s.Keys(), loaded.Keys())
	}
	for _, key := range s.Keys() {
		want, _ := s.Get(key)
		got, _ := loaded.Get(key)
		if !reflect.DeepEqual(want, got) {
			t.Errorf("value for %q changed across round-trip: saved %v (%T), loaded %v (%T)", key, want, want, got, got)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	s := NewStore()
	if err := s.Load(filepath.Join(t.TempDir(), "absent.json")); err != nil {
		t.Errorf("Load of a missing file should not fail: %v", err)
	}
}

func TestGetDuration(t *testing.T) {
	s := NewStore()
	s.Register("bot.reservation.pollrate.server", 0.5)
	if got := s.GetDuration("bot.reservation.pollrate.server"); got.Milliseconds() != 500 {
		t.Errorf("GetDuration = %v, want 500ms", got)
	}
}
