package party

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"scrimbot/internal/chat"
	"scrimbot/internal/chat/chattest"
	"scrimbot/internal/models"
	"scrimbot/internal/reservation"
)

type nopLogger struct{}

func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Debug(string, ...interface{}) {}

// fakeReservation scripts a reservation outcome for the watcher.
type fakeReservation struct {
	mu       sync.Mutex
	result   reservation.Result
	adv      *models.Advertisement
	users    []string
	finished chan struct{}
	once     sync.Once
	canceled bool
}

func newFakeReservation(users ...string) *fakeReservation {
	return &fakeReservation{users: users, finished: make(chan struct{})}
}

func (f *fakeReservation) resolve(result reservation.Result, adv *models.Advertisement) {
	f.once.Do(func() {
		f.mu.Lock()
		f.result = result
		f.adv = adv
		f.mu.Unlock()
		close(f.finished)
	})
}

func (f *fakeReservation) Check(ctx context.Context) (bool, []string) { return false, nil }
func (f *fakeReservation) Reserve(ctx context.Context) error          { return nil }

func (f *fakeReservation) Poll(ctx context.Context) reservation.Result {
	select {
	case <-f.finished:
	case <-ctx.Done():
	}
	return f.Result()
}

func (f *fakeReservation) Cancel() {
	f.mu.Lock()
	f.canceled = true
	f.mu.Unlock()
	f.resolve(reservation.Canceled, nil)
}

func (f *fakeReservation) Delete() {}

func (f *fakeReservation) Result() reservation.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result
}

func (f *fakeReservation) Advertisement() *models.Advertisement {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.adv
}

func (f *fakeReservation) Users() []string { return f.users }

func (f *fakeReservation) wasCanceled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.canceled
}

const botID = "bot-uuid"

func newTestParty(t *testing.T, opts ...Option) (*Party, *chattest.Room) {
	t.Helper()
	transport := chattest.New()
	roomIface, err := transport.JoinRoom("room-1@party", "Scrim-1")
	if err != nil {
		t.Fatal(err)
	}
	room := roomIface.(*chattest.Room)
	opts = append([]Option{WithDeployDelay(30 * time.Millisecond), WithFeatures("scrim")}, opts...)
	p := New(uuid.New(), room, botID, nopLogger{}, opts...)
	return p, room
}

func waitForState(t *testing.T, p *Party, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("party never reached state %v, stuck at %v", want, p.State())
}

func TestDeployHappyPath(t *testing.T) {
	p, room := newTestParty(t)
	room.InjectJoin(botID, "Scrim-1", chat.RoleLeader)
	room.InjectJoin("u1", "Alpha", "member")
	room.InjectJoin("u2", "Bravo", "member")
	room.InjectJoin("u3", "Charlie", "member")

	res := newFakeReservation("u1", "u2", "u3")
	if err := p.Deploy(res); err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}
	if p.State() != Matchmaking {
		t.Fatalf("state = %v, want Matchmaking", p.State())
	}

	res.resolve(reservation.Ready, &models.Advertisement{
		AssignedServerGUID: "server-guid",
		AssignedServerIP:   "1.2.3.4",
		AssignedServerPort: 7777,
	})
	waitForState(t, p, Deploying)
	waitForState(t, p, Deployed)

	kinds := room.PayloadKinds()
	want := []chat.PayloadKind{chat.PartyMatchmakingStart, chat.DeployPartyData, chat.GameStart}
	if len(kinds) != len(want) {
		t.Fatalf("payloads = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("payload[%d] = %v, want %v", i, kinds[i], want[i])
		}
	}
	if got := room.Payloads[1].Data; got != "server-guid;1.2.3.4;7777" {
		t.Errorf("deploy payload = %q, want guid;ip;port", got)
	}
}

func TestDeployRequiresLeadership(t *testing.T) {
	p, room := newTestParty(t)
	room.InjectJoin("u1", "Alpha", chat.RoleLeader)

	if err := p.Deploy(newFakeReservation()); err != ErrNotLeader {
		t.Errorf("Deploy = %v, want ErrNotLeader", err)
	}
}

func TestDeployRefusesFinishedReservation(t *testing.T) {
	p, room := newTestParty(t)
	room.InjectJoin(botID, "Scrim-1", chat.RoleLeader)

	res := newFakeReservation()
	res.resolve(reservation.TimedOut, nil)
	if err := p.Deploy(res); err != ErrFinished {
		t.Errorf("Deploy = %v, want ErrFinished", err)
	}
}

func TestMemberJoinAbortsMatchmaking(t *testing.T) {
	p, room := newTestParty(t)
	room.InjectJoin(botID, "Scrim-1", chat.RoleLeader)
	room.InjectJoin("u1", "Alpha", "member")

	res := newFakeReservation("u1")
	if err := p.Deploy(res); err != nil {
		t.Fatal(err)
	}

	room.InjectJoin("u2", "Bravo", "member")
	if p.State() != Idle {
		t.Errorf("state = %v, want Idle after member join", p.State())
	}
	if !res.wasCanceled() {
		t.Error("reservation not canceled on member join")
	}
	kinds := room.PayloadKinds()
	if kinds[len(kinds)-1] != chat.PartyMatchmakingCancel {
		t.Errorf("last payload = %v, want PartyMatchmakingCancel", kinds[len(kinds)-1])
	}
}

func TestLeaderChangeAbortsDeploying(t *testing.T) {
	p, room := newTestParty(t)
	room.InjectJoin(botID, "Scrim-1", chat.RoleLeader)
	room.InjectJoin("u1", "Alpha", "member")

	res := newFakeReservation("u1")
	if err := p.Deploy(res); err != nil {
		t.Fatal(err)
	}
	res.resolve(reservation.Ready, &models.Advertisement{AssignedServerGUID: "g", AssignedServerIP: "1.1.1.1", AssignedServerPort: 1})
	waitForState(t, p, Deploying)

	room.InjectRole("u1", chat.RoleLeader)
	if p.State() != Idle {
		t.Errorf("state = %v, want Idle after losing leadership", p.State())
	}
	if p.Leader() != "u1" {
		t.Errorf("leader = %q, want u1", p.Leader())
	}
	kinds := room.PayloadKinds()
	if kinds[len(kinds)-1] != chat.DeployCancelData {
		t.Errorf("last payload = %v, want DeployCancelData", kinds[len(kinds)-1])
	}

	// After the timer window, the canceled deployment must not start.
	time.Sleep(60 * time.Millisecond)
	if p.State() != Idle {
		t.Errorf("canceled deployment still started: %v", p.State())
	}
}

func TestMatchmakingFailureEmitsSpecificCode(t *testing.T) {
	p, room := newTestParty(t)
	room.InjectJoin(botID, "Scrim-1", chat.RoleLeader)

	res := newFakeReservation()
	if err := p.Deploy(res); err != nil {
		t.Fatal(err)
	}
	res.resolve(reservation.Failed, nil)
	waitForState(t, p, Idle)

	last := room.Payloads[len(room.Payloads)-1]
	if last.Kind != chat.PartyMatchmakingCancel || last.Data != string(CancelNoMatch) {
		t.Errorf("cancel payload = %+v, want PartyMatchmakingCancel/%s", last, CancelNoMatch)
	}
}

func TestForeignMatchmakingForcesLeave(t *testing.T) {
	p, room := newTestParty(t)
	room.InjectJoin("u1", "Alpha", chat.RoleLeader)
	room.InjectJoin(botID, "Scrim-1", "member")

	var forced *Party
	p.SetForcedLeaveHandler(func(left *Party) { forced = left })
	room.InjectPayload("u1", chat.Payload{Kind: chat.PartyMatchmakingStart})

	if !room.Left {
		t.Error("bot did not leave a party matchmade by someone else")
	}
	if forced != p {
		t.Error("forced-leave hook not invoked")
	}
}

func TestObserverFollowsPayloads(t *testing.T) {
	p, room := newTestParty(t)
	room.InjectJoin("u1", "Alpha", chat.RoleLeader)
	room.InjectJoin(botID, "Scrim-1", "member")

	room.InjectPayload("u1", chat.Payload{Kind: chat.DeployPartyData, Data: "g;1.1.1.1;1"})
	if p.State() != Deploying {
		t.Errorf("state = %v, want Deploying as observer", p.State())
	}
	room.InjectPayload("u1", chat.Payload{Kind: chat.DeployCancelData, Data: "leadercancel"})
	if p.State() != Idle {
		t.Errorf("state = %v, want Idle after observed cancel", p.State())
	}
}

func TestTransferRejectedOutsideIdle(t *testing.T) {
	p, room := newTestParty(t)
	room.InjectJoin(botID, "Scrim-1", chat.RoleLeader)
	room.InjectJoin("u1", "Alpha", "member")

	if err := p.Deploy(newFakeReservation("u1")); err != nil {
		t.Fatal(err)
	}
	if err := p.Transfer("u1"); err == nil {
		t.Error("Transfer allowed while matchmaking")
	}
}

func TestAbortWhenNothingToCancel(t *testing.T) {
	p, room := newTestParty(t)
	room.InjectJoin(botID, "Scrim-1", chat.RoleLeader)
	if p.Abort(CancelLeader) {
		t.Error("Abort reported success with nothing in flight")
	}
}

func TestRegistryCleanupEvictsEmptyParties(t *testing.T) {
	transport := chattest.New()
	roomIface, _ := transport.JoinRoom("room-1@party", "Scrim-1")
	room := roomIface.(*chattest.Room)

	reg := NewRegistry(mapCache{}, nopLogger{})
	p := New(uuid.New(), room, botID, nopLogger{})
	if !reg.Add(p) {
		t.Fatal("Add refused a fresh party")
	}

	// Party has a member: survives the sweep.
	room.InjectJoin("u1", "Alpha", chat.RoleLeader)
	reg.CleanupTask(5 * time.Millisecond)(context.Background())
	if reg.Len() != 1 {
		t.Fatal("sweep evicted a populated party")
	}

	room.InjectLeave("u1")
	time.Sleep(10 * time.Millisecond)
	reg.CleanupTask(5 * time.Millisecond)(context.Background())
	if reg.Len() != 0 {
		t.Error("sweep kept a party empty past the period")
	}
	if !room.Left {
		t.Error("evicted party never left its room")
	}
}

// mapCache is a minimal in-memory Cache for registry tests.
type mapCache map[string][]byte

func (m mapCache) Get(path string, out interface{}) (bool, error) { return false, nil }
func (m mapCache) Put(path string, v interface{}) error           { return nil }
