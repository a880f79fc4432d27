package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type nopLogger struct{}

func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Debug(string, ...interface{}) {}

func TestTaskRuns(t *testing.T) {
	s := New(nopLogger{})
	defer s.Stop()

	var ticks atomic.Int64
	if err := s.Add("tick", 10*time.Millisecond, func(ctx context.Context) {
		ticks.Add(1)
	}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	deadline := time.After(time.Second)
	for ticks.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("task ran %d times, want at least 3", ticks.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestDuplicateName(t *testing.T) {
	s := New(nopLogger{})
	defer s.Stop()

	if err := s.Add("cleanup", time.Minute, func(context.Context) {}); err != nil {
		t.Fatal(err)
	}
	if err := s.Add("cleanup", time.Minute, func(context.Context) {}); err == nil {
		t.Error("Add accepted a duplicate task name")
	}
}

func TestRemove(t *testing.T) {
	s := New(nopLogger{})
	defer s.Stop()

	s.Add("gone", time.Minute, func(context.Context) {})
	if !s.Remove("gone") {
		t.Error("Remove reported a live task as missing")
	}
	if s.Remove("gone") {
		t.Error("Remove reported a removed task as present")
	}
	if err := s.Add("gone", time.Minute, func(context.Context) {}); err != nil {
		t.Errorf("name not reusable after Remove: %v", err)
	}
}

func TestStopRejectsAdd(t *testing.T) {
	s := New(nopLogger{})
	s.Stop()
	if err := s.Add("late", time.Minute, func(context.Context) {}); err == nil {
		t.Error("Add succeeded on a stopped scheduler")
	}
}
