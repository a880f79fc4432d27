package gameapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

type Logger interface {
	Error(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Info(format string, v ...interface{})
	Debug(format string, v ...interface{})
}

const (
	defaultRetries    = 5
	defaultRetryDelay = time.Second
	requestTimeout    = 10 * time.Second
)

// Client talks to the game's REST API. Requests carry the access grant
// obtained at Authenticate time; a 401 triggers a single token refresh.
// Transient failures are retried with a fixed delay until the retry budget
// is spent, then surface as a RetryLimitError wrapping the last cause.
type Client struct {
	base       string
	username   string
	password   string
	http       *http.Client
	log        Logger
	retries    int
	retryDelay time.Duration

	mu    sync.Mutex
	token string
}

func NewClient(base, username, password string, log Logger) *Client {
	return &Client{
		base:       strings.TrimRight(base, "/"),
		username:   username,
		password:   password,
		http:       &http.Client{Timeout: requestTimeout},
		log:        log,
		retries:    defaultRetries,
		retryDelay: defaultRetryDelay,
	}
}

// SetRetryPolicy overrides the default retry budget. Used by tests and by
// the config-driven bootstrap.
func (c *Client) SetRetryPolicy(retries int, delay time.Duration) {
	c.retries = retries
	c.retryDelay = delay
}

// Authenticate obtains a fresh access grant. Fatal at init when it fails
// with ErrAuth.
func (c *Client) Authenticate(ctx context.Context) error {
	body := map[string]string{"Password": c.password}
	var result struct {
		AccessGrant string `json:"AccessGrant"`
	}
	path := fmt.Sprintf("/users/%s/accessGrant", url.PathEscape(c.username))
	if err := c.once(ctx, http.MethodPost, path, body, &result); err != nil {
		return err
	}
	c.mu.Lock()
	c.token = result.AccessGrant
	c.mu.Unlock()
	return nil
}

// request runs one API call under the retry policy.
func (c *Client) request(ctx context.Context, method, path string, in, out interface{}) error {
	var last error
	for attempt := 0; attempt < c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}

		err := c.once(ctx, method, path, in, out)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrAuth):
			// One re-auth pass; if credentials are truly bad the next
			// attempt fails the same way and we keep retrying into the
			// budget.
			if authErr := c.Authenticate(ctx); authErr != nil {
				last = authErr
				continue
			}
			last = err
		case errors.Is(err, ErrUnavailable):
			c.log.Debug("gameapi: transient failure on %s %s: %v", method, path, err)
			last = err
		default:
			// Request-shaped failures do not improve with retries.
			return err
		}
	}
	return &RetryLimitError{Last: last}
}

// once performs a single HTTP exchange with no retry handling.
func (c *Client) once(ctx context.Context, method, path string, in, out interface{}) error {
	var body bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&body).Encode(in); err != nil {
			return fmt.Errorf("gameapi: encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, &body)
	if err != nil {
		return fmt.Errorf("gameapi: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.mu.Lock()
	if c.token != "" {
		req.Header.Set("Authorization", "Basic "+c.token)
	}
	c.mu.Unlock()

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("gameapi: decode response: %w", err)
		}
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrAuth
	case resp.StatusCode == http.StatusBadRequest:
		var detail struct {
			Message string `json:"Message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&detail)
		if strings.EqualFold(detail.Message, "InvalidBatch") {
			return ErrInvalidBatch
		}
		return fmt.Errorf("%w: %s", ErrRequest, detail.Message)
	case resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: status %d", ErrRequest, resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
}
