package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type Logger interface {
	Error(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Info(format string, v ...interface{})
	Debug(format string, v ...interface{})
}

// Scheduler runs named periodic tasks, one goroutine per task. Tasks are
// canceled cooperatively through their context on Remove or Stop.
type Scheduler struct {
	log Logger

	mu      sync.Mutex
	tasks   map[string]context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

func New(log Logger) *Scheduler {
	return &Scheduler{
		log:   log,
		tasks: make(map[string]context.CancelFunc),
	}
}

// Add registers a task to run every period. The name must be unique among
// live tasks.
func (s *Scheduler) Add(name string, period time.Duration, fn func(ctx context.Context)) error {
	if period <= 0 {
		return fmt.Errorf("scheduler: task %q has non-positive period %v", name, period)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return fmt.Errorf("scheduler: stopped, cannot add task %q", name)
	}
	if _, ok := s.tasks[name]; ok {
		return fmt.Errorf("scheduler: task %q already registered", name)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.tasks[name] = cancel

	s.wg.Add(1)
	go s.run(ctx, name, period, fn)
	return nil
}

// Remove cancels a task. Reports whether the task existed.
func (s *Scheduler) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancel, ok := s.tasks[name]
	if !ok {
		return false
	}
	cancel()
	delete(s.tasks, name)
	return true
}

// Stop cancels every task and waits for their goroutines to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for name, cancel := range s.tasks {
		cancel()
		delete(s.tasks, name)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, name string, period time.Duration, fn func(ctx context.Context)) {
	defer s.wg.Done()

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	s.log.Debug("scheduler: task %q running every %v", name, period)
	for {
		select {
		case <-ctx.Done():
			s.log.Debug("scheduler: task %q stopped", name)
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
