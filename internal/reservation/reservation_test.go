package reservation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"scrimbot/internal/models"
)

type nopLogger struct{}

func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Debug(string, ...interface{}) {}

// fakeAPI scripts advertisement behavior per advertisement id.
type fakeAPI struct {
	mu      sync.Mutex
	nextID  int
	advs    map[string]*models.Advertisement
	deleted []string
	// assign maps the creation order of server advertisements to the
	// server guid the fake matchmaker assigns.
	assign []string
	// readyAfter is how many fetches an advertisement stays pending.
	readyAfter int
	fetches    map[string]int
	stats      []models.UserStats
	statsErr   error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		advs:    make(map[string]*models.Advertisement),
		fetches: make(map[string]int),
	}
}

func (f *fakeAPI) PostServerAdvertisement(ctx context.Context, gameVersion, region, serverGUID string, users []string, partyGUID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := fmt.Sprintf("adv-%d", f.nextID)
	assigned := serverGUID
	if f.nextID < len(f.assign) {
		assigned = f.assign[f.nextID]
	}
	f.nextID++
	f.advs[id] = &models.Advertisement{
		GUID:               id,
		AssignedServerGUID: assigned,
		AssignedServerIP:   "1.2.3.4",
		AssignedServerPort: 7777,
	}
	return id, nil
}

func (f *fakeAPI) PostMatchmakingAdvertisement(ctx context.Context, gameVersion, region, gameType string, users []string, partyGUID string) (string, error) {
	return f.PostServerAdvertisement(ctx, gameVersion, region, "mm-server", users, partyGUID)
}

func (f *fakeAPI) Advertisement(ctx context.Context, advID string) (*models.Advertisement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	adv, ok := f.advs[advID]
	if !ok {
		return nil, nil
	}
	f.fetches[advID]++
	if f.fetches[advID] > f.readyAfter {
		ready := *adv
		ready.ReadyToDeliver = true
		return &ready, nil
	}
	pending := *adv
	return &pending, nil
}

func (f *fakeAPI) DeleteAdvertisement(ctx context.Context, advID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, advID)
	return nil
}

func (f *fakeAPI) UserStats(ctx context.Context, userIDs []string) ([]models.UserStats, error) {
	return f.stats, f.statsErr
}

func (f *fakeAPI) deleteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deleted)
}

func testServer() *models.Server {
	return &models.Server{
		GUID:        "server-a",
		Name:        "Scrim Arena",
		Region:      "EU",
		GameVersion: "1.0",
		MaxUsers:    12,
	}
}

func fastOpts() Options {
	return Options{PollRate: 5 * time.Millisecond, Limit: 100 * time.Millisecond}
}

func TestServerReservationReady(t *testing.T) {
	api := newFakeAPI()
	api.readyAfter = 2

	r := NewServerReservation(api, nopLogger{}, testServer(), []string{"u1", "u2"}, "party-1", fastOpts())
	if err := r.Reserve(context.Background()); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if got := r.Poll(context.Background()); got != Ready {
		t.Fatalf("Poll = %v, want Ready", got)
	}
	adv := r.Advertisement()
	if adv == nil || adv.AssignedServerGUID != "server-a" {
		t.Errorf("Advertisement = %+v, want assignment to server-a", adv)
	}
	if api.deleteCount() != 0 {
		t.Errorf("a Ready reservation must not self-delete, saw %d deletes", api.deleteCount())
	}
}

func TestServerReservationTimeout(t *testing.T) {
	api := newFakeAPI()
	api.readyAfter = 1 << 30 // never ready

	r := NewServerReservation(api, nopLogger{}, testServer(), []string{"u1"}, "", fastOpts())
	if err := r.Reserve(context.Background()); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if got := r.Poll(context.Background()); got != TimedOut {
		t.Fatalf("Poll = %v, want TimedOut", got)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout took %v, limit was 100ms", elapsed)
	}
	if api.deleteCount() != 1 {
		t.Fatalf("saw %d delete calls, want exactly 1", api.deleteCount())
	}

	// Cancel after completion stays a no-op.
	r.Cancel()
	r.Delete()
	if api.deleteCount() != 1 {
		t.Errorf("post-completion Cancel/Delete issued extra deletes: %d", api.deleteCount())
	}
}

func TestCancelAbortsPoll(t *testing.T) {
	api := newFakeAPI()
	api.readyAfter = 1 << 30

	r := NewServerReservation(api, nopLogger{}, testServer(), []string{"u1"}, "", Options{PollRate: 5 * time.Millisecond, Limit: time.Minute})
	if err := r.Reserve(context.Background()); err != nil {
		t.Fatal(err)
	}

	done := make(chan Result, 1)
	go func() { done <- r.Poll(context.Background()) }()
	time.Sleep(15 * time.Millisecond)
	r.Cancel()
	r.Cancel() // idempotent

	select {
	case got := <-done:
		if got != Canceled {
			t.Fatalf("Poll = %v, want Canceled", got)
		}
	case <-time.After(time.Second):
		t.Fatal("Poll did not return after Cancel")
	}
	if api.deleteCount() != 1 {
		t.Errorf("saw %d delete calls, want 1", api.deleteCount())
	}
}

func TestAllPollersSeeSameResult(t *testing.T) {
	api := newFakeAPI()
	api.readyAfter = 1

	r := NewServerReservation(api, nopLogger{}, testServer(), []string{"u1"}, "", fastOpts())
	if err := r.Reserve(context.Background()); err != nil {
		t.Fatal(err)
	}

	results := make(chan Result, 3)
	for i := 0; i < 3; i++ {
		go func() { results <- r.Poll(context.Background()) }()
	}
	for i := 0; i < 3; i++ {
		if got := <-results; got != Ready {
			t.Errorf("poller %d saw %v, want Ready", i, got)
		}
	}
}

func TestNotFound(t *testing.T) {
	api := newFakeAPI()
	r := NewServerReservation(api, nopLogger{}, testServer(), []string{"u1"}, "", fastOpts())
	r.setAdvertisementID("unknown-adv")
	if got := r.Poll(context.Background()); got != NotFound {
		t.Fatalf("Poll = %v, want NotFound", got)
	}
	if api.deleteCount() != 1 {
		t.Errorf("saw %d delete calls, want 1", api.deleteCount())
	}
}

func TestCheckCapacityCritical(t *testing.T) {
	api := newFakeAPI()
	srv := testServer()
	srv.MaxUsers = 2

	users := []string{"u1", "u2", "u3"}
	r := NewServerReservation(api, nopLogger{}, srv, users, "", fastOpts())
	critical, issues := r.Check(context.Background())
	if !critical {
		t.Error("undersized server not flagged critical")
	}
	if len(issues) == 0 {
		t.Error("critical check produced no message")
	}
}

func TestCheckPilotLevelSkipsSilentlyOnStatsError(t *testing.T) {
	api := newFakeAPI()
	api.statsErr = fmt.Errorf("stats unavailable")
	srv := testServer()
	srv.AveragePilotLevel = 10

	r := NewServerReservation(api, nopLogger{}, srv, []string{"u1"}, "",
		Options{PollRate: time.Millisecond, Limit: time.Second, Globals: &models.GameGlobals{MMPilotLevelRange: 5}})
	critical, issues := r.Check(context.Background())
	if critical || len(issues) != 0 {
		t.Errorf("Check = (%v, %v), want silent skip", critical, issues)
	}
}

func TestCheckPilotLevelWarning(t *testing.T) {
	api := newFakeAPI()
	api.stats = []models.UserStats{{UserID: "u1", PilotLevel: 30}}
	srv := testServer()
	srv.AveragePilotLevel = 10

	r := NewServerReservation(api, nopLogger{}, srv, []string{"u1"}, "",
		Options{PollRate: time.Millisecond, Limit: time.Second, Globals: &models.GameGlobals{MMPilotLevelRange: 5}})
	critical, issues := r.Check(context.Background())
	if critical {
		t.Error("pilot level warning must not be critical")
	}
	if len(issues) != 1 {
		t.Errorf("issues = %v, want one pilot level warning", issues)
	}
}

func TestSynchronizedSplit(t *testing.T) {
	api := newFakeAPI()
	api.readyAfter = 0

	users := make([]string, 8)
	for i := range users {
		users[i] = fmt.Sprintf("u%d", i)
	}
	r := NewSynchronizedServerReservation(api, nopLogger{}, testServer(), users, "party-1", 6, fastOpts())
	if r.Children() != 2 {
		t.Fatalf("Children = %d, want 2 for 8 users with max group 6", r.Children())
	}
	if err := r.Reserve(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := r.Poll(context.Background()); got != Ready {
		t.Fatalf("Poll = %v, want Ready", got)
	}
	if adv := r.Advertisement(); adv == nil || adv.AssignedServerGUID != "server-a" {
		t.Errorf("aggregate advertisement = %+v", adv)
	}
}

func TestSynchronizedMismatchedServers(t *testing.T) {
	api := newFakeAPI()
	api.readyAfter = 0
	api.assign = []string{"server-a", "server-b"}

	users := make([]string, 8)
	for i := range users {
		users[i] = fmt.Sprintf("u%d", i)
	}
	r := NewSynchronizedServerReservation(api, nopLogger{}, testServer(), users, "party-1", 6, fastOpts())
	if err := r.Reserve(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := r.Poll(context.Background()); got != Failed {
		t.Fatalf("Poll = %v, want Failed on mismatched assignments", got)
	}
	if api.deleteCount() != 2 {
		t.Errorf("saw %d deletes, want both children deleted", api.deleteCount())
	}
}

func TestSynchronizedCancelCascades(t *testing.T) {
	api := newFakeAPI()
	api.readyAfter = 1 << 30

	r := NewSynchronizedServerReservation(api, nopLogger{}, testServer(), []string{"u1", "u2"}, "", 1, Options{PollRate: 5 * time.Millisecond, Limit: time.Minute})
	if err := r.Reserve(context.Background()); err != nil {
		t.Fatal(err)
	}

	done := make(chan Result, 1)
	go func() { done <- r.Poll(context.Background()) }()
	time.Sleep(15 * time.Millisecond)
	r.Cancel()

	select {
	case got := <-done:
		if got != Canceled {
			t.Fatalf("Poll = %v, want Canceled", got)
		}
	case <-time.After(time.Second):
		t.Fatal("aggregate Poll did not return after Cancel")
	}
}
