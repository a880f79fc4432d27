// Package reservation implements poll-until-ready advertisement handling
// against the game API: single-server and matchmaking reservations, and
// synchronized multi-group reservations that must land on one server.
package reservation

import (
	"context"
	"sync"
	"time"

	"scrimbot/internal/metrics"
	"scrimbot/internal/models"
)

type Logger interface {
	Error(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Info(format string, v ...interface{})
	Debug(format string, v ...interface{})
}

// API is the slice of the game API client the subsystem consumes.
type API interface {
	PostServerAdvertisement(ctx context.Context, gameVersion, region, serverGUID string, users []string, partyGUID string) (string, error)
	PostMatchmakingAdvertisement(ctx context.Context, gameVersion, region, gameType string, users []string, partyGUID string) (string, error)
	Advertisement(ctx context.Context, advID string) (*models.Advertisement, error)
	DeleteAdvertisement(ctx context.Context, advID string) error
	UserStats(ctx context.Context, userIDs []string) ([]models.UserStats, error)
}

// Result is the terminal state of a reservation. A finished reservation
// records exactly one of the non-Pending values.
type Result int

const (
	Pending Result = iota
	Ready
	Canceled
	TimedOut
	NotFound
	Failed
)

func (r Result) String() string {
	switch r {
	case Ready:
		return "ready"
	case Canceled:
		return "canceled"
	case TimedOut:
		return "timeout"
	case NotFound:
		return "notfound"
	case Failed:
		return "error"
	}
	return "pending"
}

// Reservation is a live reservation handle. Cancel and Delete are
// idempotent and safe from any goroutine; every Poll caller blocks until
// the single poller finishes and all observe the same result.
type Reservation interface {
	Check(ctx context.Context) (critical bool, issues []string)
	Reserve(ctx context.Context) error
	Poll(ctx context.Context) Result
	Cancel()
	Delete()
	Result() Result
	Advertisement() *models.Advertisement
	Users() []string
}

// Options tune one reservation's poll loop. Zero values pick the defaults.
type Options struct {
	PollRate time.Duration
	Limit    time.Duration
	Globals  *models.GameGlobals
}

const (
	DefaultServerPollRate      = 500 * time.Millisecond
	DefaultMatchmakingPollRate = 2 * time.Second
	DefaultServerLimit         = 60 * time.Second
	DefaultMatchmakingLimit    = 5 * time.Minute

	deleteTimeout = 30 * time.Second
)

// base carries the poller and the three one-shot latches shared by every
// reservation kind.
type base struct {
	api      API
	log      Logger
	pollRate time.Duration
	limit    time.Duration
	users    []string

	mu     sync.Mutex
	advID  string
	adv    *models.Advertisement
	result Result

	pollOnce   sync.Once
	cancelOnce sync.Once
	deleteOnce sync.Once
	canceled   chan struct{}
	finished   chan struct{}
}

func newBase(api API, log Logger, users []string, pollRate, limit time.Duration) base {
	return base{
		api:      api,
		log:      log,
		pollRate: pollRate,
		limit:    limit,
		users:    users,
		canceled: make(chan struct{}),
		finished: make(chan struct{}),
	}
}

func (b *base) Users() []string {
	out := make([]string, len(b.users))
	copy(out, b.users)
	return out
}

func (b *base) Result() Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.result
}

func (b *base) Advertisement() *models.Advertisement {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.adv
}

func (b *base) setAdvertisementID(id string) {
	b.mu.Lock()
	b.advID = id
	b.mu.Unlock()
}

// Cancel aborts the poll loop. Calling it again, or after the reservation
// finished, is a no-op.
func (b *base) Cancel() {
	b.cancelOnce.Do(func() { close(b.canceled) })
}

// Delete removes the advertisement from the game service. At most one API
// call is ever made.
func (b *base) Delete() {
	b.deleteOnce.Do(func() {
		b.mu.Lock()
		advID := b.advID
		b.mu.Unlock()
		if advID == "" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), deleteTimeout)
		defer cancel()
		if err := b.api.DeleteAdvertisement(ctx, advID); err != nil {
			b.log.Warn("reservation: delete advertisement %s: %v", advID, err)
		}
	})
}

// Poll arms the poller on first call and blocks until the reservation
// finishes. A canceled context returns the result recorded so far, which
// may still be Pending.
func (b *base) Poll(ctx context.Context) Result {
	b.pollOnce.Do(func() { go b.pollLoop() })
	select {
	case <-b.finished:
		return b.Result()
	case <-ctx.Done():
		return b.Result()
	}
}

func (b *base) pollLoop() {
	metrics.LiveReservations.Inc()
	defer metrics.LiveReservations.Dec()

	ctx := context.Background()
	start := time.Now()
	result := Failed

loop:
	for {
		// The lock spans the cancel check and the fetch so a cancel
		// observed here aborts before the next request goes out.
		b.mu.Lock()
		select {
		case <-b.canceled:
			b.mu.Unlock()
			result = Canceled
			break loop
		default:
		}
		advID := b.advID
		adv, err := b.api.Advertisement(ctx, advID)
		b.mu.Unlock()

		switch {
		case err != nil:
			// The client's retry budget is already spent by now.
			b.log.Warn("reservation: poll %s: %v", advID, err)
			result = Failed
			break loop
		case adv == nil:
			result = NotFound
			break loop
		default:
			b.mu.Lock()
			b.adv = adv
			b.mu.Unlock()
			if adv.ReadyToDeliver {
				result = Ready
				break loop
			}
		}

		select {
		case <-b.canceled:
			result = Canceled
			break loop
		case <-time.After(b.pollRate):
		}
		if time.Since(start) >= b.limit {
			result = TimedOut
			break loop
		}
	}

	b.finish(result)
}

// finish records the terminal result, deletes the advertisement on any
// non-Ready outcome, and releases every Poll caller.
func (b *base) finish(result Result) {
	b.mu.Lock()
	b.result = result
	b.mu.Unlock()
	if result != Ready {
		b.Delete()
	}
	close(b.finished)
}
