package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"parley/pkg/session"
)

// Sentinels for the two backend failure classes callers branch on.
// Transient network failures are recognized with IsTransient instead.
var (
	ErrUnauthorized = errors.New("credential rejected")
	ErrNotFound     = errors.New("not found")
)

// Error is the typed failure for a non-2xx backend reply.
type Error struct {
	Status   int
	Endpoint string // "METHOD /path", for logs
	Code     string // machine code from the reply body, when present
	Message  string // human message from the reply body, when present
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("backend %d (%s): %s", e.Status, e.Endpoint, msg)
}

// Unwrap maps statuses onto the sentinels so errors.Is works through the
// typed error.
func (e *Error) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	}
	return nil
}

// IsTransient reports whether err is a retriable network-class failure:
// transport errors, timeouts, 429 and 5xx replies. Authentication,
// not-found and invalidated-session errors are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNotFound) ||
		errors.Is(err, session.ErrInvalidated) || errors.Is(err, context.Canceled) {
		return false
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Status == http.StatusTooManyRequests || ae.Status >= 500
	}
	// everything else reaching here is a transport-level failure
	// (refused connection, reset, DNS, deadline)
	return true
}
