package gameapi

import (
	"errors"
	"fmt"
)

var (
	// ErrAuth means the service rejected our credentials or token.
	ErrAuth = errors.New("gameapi: authentication rejected")
	// ErrRequest means the service rejected the request itself
	// (wrong user, invalid or malformed request).
	ErrRequest = errors.New("gameapi: request rejected")
	// ErrUnavailable means the service could not be reached or answered
	// with a server-side failure.
	ErrUnavailable = errors.New("gameapi: service unavailable")
	// ErrInvalidBatch means a batched stats request named unknown users.
	ErrInvalidBatch = errors.New("gameapi: invalid batch")
)

// RetryLimitError wraps the last failure after the retry budget is spent.
type RetryLimitError struct {
	Last error
}

func (e *RetryLimitError) Error() string {
	return fmt.Sprintf("gameapi: retry limit exceeded: %v", e.Last)
}

func (e *RetryLimitError) Unwrap() error {
	return e.Last
}
