package reservation

import (
	"context"
	"sync"

	"scrimbot/internal/models"
)

// SynchronizedServerReservation splits a group too large for a single
// advertisement into chunks and reserves each against the same server. It
// is Ready only when every child lands Ready on the same assigned server;
// any other combination fails the aggregate and deletes every child.
type SynchronizedServerReservation struct {
	log      Logger
	children []*ServerReservation
	users    []string

	mu     sync.Mutex
	result Result
	adv    *models.Advertisement

	pollOnce   sync.Once
	cancelOnce sync.Once
	finished   chan struct{}
}

func NewSynchronizedServerReservation(api API, log Logger, server *models.Server, users []string, partyGUID string, maxGroupSize int, opts Options) *SynchronizedServerReservation {
	if maxGroupSize <= 0 {
		maxGroupSize = len(users)
	}
	var children []*ServerReservation
	for start := 0; start < len(users); start += maxGroupSize {
		end := start + maxGroupSize
		if end > len(users) {
			end = len(users)
		}
		children = append(children, NewServerReservation(api, log, server, users[start:end], partyGUID, opts))
	}
	return &SynchronizedServerReservation{
		log:      log,
		children: children,
		users:    append([]string(nil), users...),
		finished: make(chan struct{}),
	}
}

// Children exposes the child count for callers that report group splits.
func (r *SynchronizedServerReservation) Children() int {
	return len(r.children)
}

func (r *SynchronizedServerReservation) Users() []string {
	out := make([]string, len(r.users))
	copy(out, r.users)
	return out
}

func (r *SynchronizedServerReservation) Result() Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

func (r *SynchronizedServerReservation) Advertisement() *models.Advertisement {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.adv
}

// Check aggregates the children's checks. Any critical child fails the
// whole reservation.
func (r *SynchronizedServerReservation) Check(ctx context.Context) (bool, []string) {
	var critical bool
	var issues []string
	for _, child := range r.children {
		childCritical, childIssues := child.Check(ctx)
		critical = critical || childCritical
		issues = append(issues, childIssues...)
	}
	return critical, issues
}

// Reserve posts every child advertisement. A failure part-way cancels and
// deletes the children already posted.
func (r *SynchronizedServerReservation) Reserve(ctx context.Context) error {
	for i, child := range r.children {
		if err := child.Reserve(ctx); err != nil {
			for _, posted := range r.children[:i] {
				posted.Cancel()
				posted.Delete()
			}
			return err
		}
	}
	return nil
}

// Cancel cascades to every child.
func (r *SynchronizedServerReservation) Cancel() {
	r.cancelOnce.Do(func() {
		for _, child := range r.children {
			child.Cancel()
		}
	})
}

// Delete cascades to every child. Each child still makes at most one
// delete call.
func (r *SynchronizedServerReservation) Delete() {
	for _, child := range r.children {
		child.Delete()
	}
}

// Poll arms every child's poller and blocks until the aggregate resolves.
func (r *SynchronizedServerReservation) Poll(ctx context.Context) Result {
	r.pollOnce.Do(func() { go r.aggregate() })
	select {
	case <-r.finished:
		return r.Result()
	case <-ctx.Done():
		return r.Result()
	}
}

func (r *SynchronizedServerReservation) aggregate() {
	results := make([]Result, len(r.children))
	var wg sync.WaitGroup
	for i, child := range r.children {
		wg.Add(1)
		go func(i int, child *ServerReservation) {
			defer wg.Done()
			results[i] = child.Poll(context.Background())
		}(i, child)
	}
	wg.Wait()

	allReady := true
	allCanceled := true
	sameServer := true
	var serverGUID string
	for i, res := range results {
		if res != Ready {
			allReady = false
		}
		if res != Canceled {
			allCanceled = false
		}
		if res == Ready {
			adv := r.children[i].Advertisement()
			switch {
			case adv == nil:
				sameServer = false
			case serverGUID == "":
				serverGUID = adv.AssignedServerGUID
			case adv.AssignedServerGUID != serverGUID:
				sameServer = false
			}
		}
	}

	result := Failed
	switch {
	case allReady && sameServer:
		result = Ready
	case allCanceled:
		result = Canceled
	}

	r.mu.Lock()
	r.result = result
	if result == Ready {
		r.adv = r.children[0].Advertisement()
	}
	r.mu.Unlock()

	if result != Ready {
		if !allReady && !allCanceled {
			r.log.Warn("reservation: synchronized reservation failed, child results %v", results)
		}
		r.Delete()
	}
	close(r.finished)
}
