package gameapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type nopLogger struct{}

func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Debug(string, ...interface{}) {}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, "bot", "secret", nopLogger{})
	c.SetRetryPolicy(3, time.Millisecond)
	return c
}

func TestRetryExhaustionWrapsLastCause(t *testing.T) {
	var calls atomic.Int64
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := c.UserID(context.Background(), "DareDevil")
	var rle *RetryLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("err = %v, want RetryLimitError", err)
	}
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("RetryLimitError does not unwrap to ErrUnavailable: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server saw %d attempts, want 3", got)
	}
}

func TestRequestErrorsDoNotRetry(t *testing.T) {
	var calls atomic.Int64
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := c.UserID(context.Background(), "DareDevil")
	if !errors.Is(err, ErrRequest) {
		t.Fatalf("err = %v, want ErrRequest", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server saw %d attempts, want 1", got)
	}
}

func TestAdvertisementGone(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.WriteHeader(http.StatusNotFound)
		case http.MethodDelete:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	adv, err := c.Advertisement(context.Background(), "adv-1")
	if err != nil || adv != nil {
		t.Errorf("Advertisement = (%v, %v), want (nil, nil) for a dropped ad", adv, err)
	}
	if err := c.DeleteAdvertisement(context.Background(), "adv-1"); err != nil {
		t.Errorf("deleting a dropped advertisement should be a no-op, got %v", err)
	}
}

func TestAuthRefreshOn401(t *testing.T) {
	var grants atomic.Int64
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/users/bot/accessGrant" {
			grants.Add(1)
			w.Write([]byte(`{"AccessGrant": "token-2"}`))
			return
		}
		if r.Header.Get("Authorization") != "Basic token-2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"Guid": "uuid-1"}`))
	})

	c := newTestClient(t, handler)
	id, err := c.UserID(context.Background(), "DareDevil")
	if err != nil {
		t.Fatalf("UserID failed: %v", err)
	}
	if id != "uuid-1" {
		t.Errorf("UserID = %q, want uuid-1", id)
	}
	if grants.Load() == 0 {
		t.Error("client never refreshed its access grant")
	}
}

func TestInvalidBatch(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"Message": "InvalidBatch"}`))
	}))

	_, err := c.UserStats(context.Background(), []string{"uuid-1", "bogus"})
	if !errors.Is(err, ErrInvalidBatch) {
		t.Errorf("err = %v, want ErrInvalidBatch", err)
	}
}
