// Package party binds a chat room to the deterministic scrim state machine:
// matchmaking, deployment, leadership tracking, and the payload protocol
// the game clients understand.
package party

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"scrimbot/internal/chat"
	"scrimbot/internal/reservation"
)

type Logger interface {
	Error(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Info(format string, v ...interface{})
	Debug(format string, v ...interface{})
}

type State int

const (
	Idle State = iota
	Matchmaking
	Deploying
	Deployed
)

func (s State) String() string {
	switch s {
	case Matchmaking:
		return "matchmaking"
	case Deploying:
		return "deploying"
	case Deployed:
		return "deployed"
	}
	return "idle"
}

// CancelCode travels in the cancel payloads so game clients can show why
// a deployment stopped.
type CancelCode string

const (
	CancelLeader       CancelCode = "leadercancel"
	CancelMemberJoin   CancelCode = "memberjoin"
	CancelMemberLeft   CancelCode = "memberleft"
	CancelMemberKick   CancelCode = "memberkick"
	CancelLeaderChange CancelCode = "leaderchange"
	CancelNoMatch      CancelCode = "nomatch"
	CancelTimeout      CancelCode = "timeout"
	CancelNotFound     CancelCode = "notfound"
)

var (
	ErrNotLeader = errors.New("party: bot is not the party leader")
	ErrBusy      = errors.New("party: a deployment is already in progress")
	ErrFinished  = errors.New("party: reservation already finished")
)

// DefaultDeployDelay is how long clients get to join the assigned server
// before the match is declared started.
const DefaultDeployDelay = 12 * time.Second

// Party is one chat room plus the coordinated state the bot overlays on
// it. It implements chat.RoomEvents; all event handling and operations are
// serialized through its mutex.
type Party struct {
	id    uuid.UUID
	room  chat.Room
	botID string
	log   Logger

	// DeployDelay is fixed at creation; tests shorten it.
	deployDelay time.Duration

	mu          sync.Mutex
	players     map[string]string // user id -> nick, bot excluded
	leader      string
	state       State
	features    map[string]struct{}
	res         reservation.Reservation
	deployTimer *time.Timer
	joinTime    time.Time
	emptySince  time.Time
	gone        bool

	onMessage     func(userID, body string)
	onForcedLeave func(p *Party)
}

// Option tweaks party construction.
type Option func(*Party)

func WithDeployDelay(d time.Duration) Option {
	return func(p *Party) { p.deployDelay = d }
}

func WithFeatures(features ...string) Option {
	return func(p *Party) {
		for _, f := range features {
			p.features[f] = struct{}{}
		}
	}
}

func New(id uuid.UUID, room chat.Room, botID string, log Logger, opts ...Option) *Party {
	p := &Party{
		id:          id,
		room:        room,
		botID:       botID,
		log:         log,
		deployDelay: DefaultDeployDelay,
		players:     make(map[string]string),
		features:    make(map[string]struct{}),
		joinTime:    time.Now(),
		emptySince:  time.Now(),
	}
	for _, opt := range opts {
		opt(p)
	}
	room.SetEvents(p)
	return p
}

func (p *Party) ID() uuid.UUID   { return p.id }
func (p *Party) Room() chat.Room { return p.room }

// SetMessageHandler installs the hook room messages are forwarded to.
// Delayed history and the bot's own messages never reach it.
func (p *Party) SetMessageHandler(fn func(userID, body string)) {
	p.mu.Lock()
	p.onMessage = fn
	p.mu.Unlock()
}

// SetForcedLeaveHandler installs the hook called when the party removes
// itself, e.g. because another leader started matchmaking over the bot.
func (p *Party) SetForcedLeaveHandler(fn func(p *Party)) {
	p.mu.Lock()
	p.onForcedLeave = fn
	p.mu.Unlock()
}

func (p *Party) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Party) Leader() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.leader
}

func (p *Party) IsLeader() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.leader == p.botID
}

// Players lists the user ids currently present, excluding the bot.
func (p *Party) Players() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.players))
	for id := range p.players {
		out = append(out, id)
	}
	return out
}

func (p *Party) HasFeature(feature string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.features[feature]
	return ok
}

func (p *Party) Features() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.features))
	for f := range p.features {
		out = append(out, f)
	}
	return out
}

func (p *Party) JoinTime() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.joinTime
}

// EmptyFor reports whether the party has had no non-bot members for at
// least d.
func (p *Party) EmptyFor(d time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.players) == 0 && !p.emptySince.IsZero() && time.Since(p.emptySince) >= d
}

// Gone reports whether the party already left its room.
func (p *Party) Gone() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gone
}

// Reservation returns the live reservation handle, if any.
func (p *Party) Reservation() reservation.Reservation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.res
}

// Deploy starts a deployment with an unfinished reservation. Only the
// leader may deploy; a party already matchmaking or deploying refuses. A
// deployed party first ends its running game.
func (p *Party) Deploy(res reservation.Reservation) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.leader != p.botID {
		return ErrNotLeader
	}
	switch p.state {
	case Matchmaking, Deploying:
		return ErrBusy
	case Deployed:
		p.emitLocked(chat.GameEnd, "")
		p.state = Idle
	}
	if res.Result() != reservation.Pending {
		return ErrFinished
	}

	p.emitLocked(chat.PartyMatchmakingStart, "")
	p.res = res
	p.state = Matchmaking
	go p.watch(res)
	return nil
}

// watch consumes the reservation's terminal result and advances the state
// machine. An abort that swapped the state out from under us wins.
func (p *Party) watch(res reservation.Reservation) {
	result := res.Poll(context.Background())

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.res != res || p.state != Matchmaking {
		return
	}

	if result == reservation.Ready {
		adv := res.Advertisement()
		if adv == nil {
			p.log.Error("party %s: ready reservation carries no advertisement", p.id)
			p.emitLocked(chat.PartyMatchmakingCancel, string(CancelNoMatch))
			p.res = nil
			p.state = Idle
			return
		}
		data := fmt.Sprintf("%s;%s;%d", adv.AssignedServerGUID, adv.AssignedServerIP, adv.AssignedServerPort)
		p.emitLocked(chat.DeployPartyData, data)
		p.state = Deploying
		p.deployTimer = time.AfterFunc(p.deployDelay, p.deployTimerFired)
		return
	}

	p.emitLocked(chat.PartyMatchmakingCancel, string(cancelCode(result)))
	p.res = nil
	p.state = Idle
}

func cancelCode(result reservation.Result) CancelCode {
	switch result {
	case reservation.Canceled:
		return CancelLeader
	case reservation.TimedOut:
		return CancelTimeout
	case reservation.NotFound:
		return CancelNotFound
	}
	return CancelNoMatch
}

func (p *Party) deployTimerFired() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Deploying {
		return
	}
	p.emitLocked(chat.GameStart, "")
	p.state = Deployed
}

// Abort cancels an in-flight deployment. A no-op when the bot is not the
// leader; false when there is nothing to cancel.
func (p *Party) Abort(code CancelCode) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.abortLocked(code)
}

func (p *Party) abortLocked(code CancelCode) bool {
	if p.leader != p.botID {
		return false
	}
	switch p.state {
	case Matchmaking:
		if p.res != nil {
			p.res.Cancel()
			p.res = nil
		}
		p.emitLocked(chat.PartyMatchmakingCancel, string(code))
		p.state = Idle
		return true
	case Deploying:
		if p.deployTimer != nil {
			p.deployTimer.Stop()
			p.deployTimer = nil
		}
		p.emitLocked(chat.DeployCancelData, string(code))
		if p.res != nil {
			p.res.Cancel()
			p.res = nil
		}
		p.state = Idle
		return true
	}
	return false
}

// Transfer hands leadership to another member. Refused outside Idle so a
// transfer can never silently cancel a deployment in flight.
func (p *Party) Transfer(userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.leader != p.botID {
		return ErrNotLeader
	}
	if p.state != Idle {
		return fmt.Errorf("party: cannot transfer leadership while %s", p.state)
	}
	if _, ok := p.players[userID]; !ok {
		return fmt.Errorf("party: user %s is not in the party", userID)
	}
	p.leader = userID
	return nil
}

// Kick removes a member. An in-flight deployment is aborted first.
func (p *Party) Kick(userID string) error {
	p.mu.Lock()
	if p.leader != p.botID {
		p.mu.Unlock()
		return ErrNotLeader
	}
	if _, ok := p.players[userID]; !ok {
		p.mu.Unlock()
		return fmt.Errorf("party: user %s is not in the party", userID)
	}
	p.abortLocked(CancelMemberKick)
	p.mu.Unlock()
	return p.room.Kick(userID, "kicked by party leader")
}

// Leave aborts anything in flight, ends a running game, and leaves the
// room.
func (p *Party) Leave() error {
	p.mu.Lock()
	p.abortLocked(CancelLeader)
	if p.state == Deployed && p.leader == p.botID {
		p.emitLocked(chat.GameEnd, "")
		p.state = Idle
	}
	p.gone = true
	p.mu.Unlock()
	return p.room.Leave()
}

// Send posts a plain message into the party room.
func (p *Party) Send(body string) error {
	return p.room.Send(body)
}

func (p *Party) emitLocked(kind chat.PayloadKind, data string) {
	if err := p.room.SendPayload(chat.Payload{Kind: kind, Data: data}); err != nil {
		p.log.Error("party %s: send %s payload: %v", p.id, kind, err)
	}
}

// --- chat.RoomEvents ---

func (p *Party) OccupantJoined(userID, nick, role string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if role == chat.RoleLeader {
		p.leader = userID
	}
	if userID == p.botID {
		return
	}
	p.players[userID] = nick
	p.emptySince = time.Time{}
	p.abortInFlightLocked(CancelMemberJoin)
}

func (p *Party) OccupantLeft(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if userID == p.botID {
		return
	}
	delete(p.players, userID)
	if len(p.players) == 0 {
		p.emptySince = time.Now()
	}
	if p.leader == userID {
		p.leader = ""
	}
	p.abortInFlightLocked(CancelMemberLeft)
}

func (p *Party) RoleChanged(userID, role string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if role != chat.RoleLeader {
		return
	}
	if p.leader == p.botID && userID != p.botID {
		// Cancel before the new leader takes over; we are still
		// authorized at this instant.
		p.abortInFlightLocked(CancelLeaderChange)
	}
	p.leader = userID
}

// abortInFlightLocked aborts only when a deployment is actually running.
func (p *Party) abortInFlightLocked(code CancelCode) {
	if p.state == Matchmaking || p.state == Deploying {
		p.abortLocked(code)
	}
}

func (p *Party) RoomMessage(userID, body string, delayed bool) {
	p.mu.Lock()
	fn := p.onMessage
	p.mu.Unlock()
	if delayed || userID == p.botID || fn == nil {
		return
	}
	fn(userID, body)
}

func (p *Party) RoomPayload(userID string, payload chat.Payload) {
	if userID == p.botID {
		return
	}

	p.mu.Lock()
	switch payload.Kind {
	case chat.PartyMatchmakingStart:
		// Someone else is trying to matchmake a party the bot sits in.
		// The bot refuses to be carried into a match.
		if p.leader != p.botID {
			fn := p.onForcedLeave
			p.gone = true
			p.mu.Unlock()
			p.log.Info("party %s: foreign matchmaking started, leaving", p.id)
			if err := p.room.Leave(); err != nil {
				p.log.Warn("party %s: leave: %v", p.id, err)
			}
			if fn != nil {
				fn(p)
			}
			return
		}
	case chat.PartyMatchmakingCancel, chat.DeployCancelData:
		if p.leader != p.botID {
			p.state = Idle
		}
	case chat.DeployPartyData:
		if p.leader != p.botID {
			p.state = Deploying
		}
	}
	p.mu.Unlock()
}
