package party

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"scrimbot/internal/chat"
	"scrimbot/internal/metrics"
)

// Cache is the slice of the cache store the registry persists into.
type Cache interface {
	Get(path string, out interface{}) (bool, error)
	Put(path string, v interface{}) error
}

const (
	cachePartiesKey = "scrims.parties"
	cacheCountKey   = "scrims.count"

	// rejoinGrace is how long a rejoined party gets to report occupants
	// before it is judged empty and dropped.
	rejoinGrace = 3 * time.Second
)

// Registry tracks every party the bot participates in and mirrors the set
// into the cache so parties survive a reconnect. Its mutex guards only
// membership; per-party operations run under each party's own lock.
type Registry struct {
	log   Logger
	cache Cache

	mu      sync.Mutex
	parties map[string]*Party // party id -> party
}

func NewRegistry(cache Cache, log Logger) *Registry {
	return &Registry{
		log:     log,
		cache:   cache,
		parties: make(map[string]*Party),
	}
}

// Add registers a party and persists it. A second party under the same id
// is refused.
func (r *Registry) Add(p *Party) bool {
	r.mu.Lock()
	if _, ok := r.parties[p.ID().String()]; ok {
		r.mu.Unlock()
		return false
	}
	r.parties[p.ID().String()] = p
	size := len(r.parties)
	r.mu.Unlock()

	metrics.ActiveParties.Set(float64(size))
	r.persist()
	return true
}

func (r *Registry) Get(id string) (*Party, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.parties[id]
	return p, ok
}

// ByRoom finds the party joined at a room address.
func (r *Registry) ByRoom(address string) (*Party, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.parties {
		if p.Room().Address() == address {
			return p, true
		}
	}
	return nil, false
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	_, ok := r.parties[id]
	delete(r.parties, id)
	size := len(r.parties)
	r.mu.Unlock()

	if ok {
		metrics.ActiveParties.Set(float64(size))
		r.persist()
	}
}

func (r *Registry) All() []*Party {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Party, 0, len(r.parties))
	for _, p := range r.parties {
		out = append(out, p)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.parties)
}

// persist mirrors the current party set into the cache as id -> nick.
func (r *Registry) persist() {
	r.mu.Lock()
	snapshot := make(map[string]string, len(r.parties))
	for id, p := range r.parties {
		snapshot[id] = p.Room().Nick()
	}
	count := len(snapshot)
	r.mu.Unlock()

	if err := r.cache.Put(cachePartiesKey, snapshot); err != nil {
		r.log.Error("party registry: persist parties: %v", err)
	}
	if err := r.cache.Put(cacheCountKey, count); err != nil {
		r.log.Error("party registry: persist count: %v", err)
	}
}

// Rejoin re-instantiates the cached parties in parallel after a reconnect.
// Parties that cannot be rejoined, or that turn out empty, are dropped
// from the cache. The configure hook wires handlers before events flow.
func (r *Registry) Rejoin(transport chat.Transport, botID string, addressFor func(id string) string, configure func(p *Party)) {
	var cached map[string]string
	if ok, err := r.cache.Get(cachePartiesKey, &cached); !ok || err != nil {
		if err != nil {
			r.log.Error("party registry: read cached parties: %v", err)
		}
		return
	}

	var wg sync.WaitGroup
	for id, nick := range cached {
		guid, err := uuid.Parse(id)
		if err != nil {
			r.log.Warn("party registry: dropping cached party with bad id %q", id)
			continue
		}
		wg.Add(1)
		go func(guid uuid.UUID, nick string) {
			defer wg.Done()
			room, err := transport.JoinRoom(addressFor(guid.String()), nick)
			if err != nil {
				r.log.Warn("party registry: rejoin %s: %v", guid, err)
				return
			}
			p := New(guid, room, botID, r.log, WithFeatures("scrim"))
			if configure != nil {
				configure(p)
			}
			if !r.Add(p) {
				p.Leave()
				return
			}

			// Give presence a moment to arrive, then drop ghosts.
			time.Sleep(rejoinGrace)
			if p.EmptyFor(0) {
				r.log.Info("party registry: cached party %s is empty, dropping", guid)
				p.Leave()
				r.Remove(guid.String())
			}
		}(guid, nick)
	}
	wg.Wait()
	r.persist()
}

// CleanupTask returns the scheduler task that evicts parties empty for
// longer than the period.
func (r *Registry) CleanupTask(period time.Duration) func(ctx context.Context) {
	return func(ctx context.Context) {
		for _, p := range r.All() {
			if p.Gone() || p.EmptyFor(period) {
				if !p.Gone() {
					r.log.Info("party registry: evicting empty party %s", p.ID())
					if err := p.Leave(); err != nil {
						r.log.Warn("party registry: leave %s: %v", p.ID(), err)
					}
				}
				r.Remove(p.ID().String())
			}
		}
	}
}
