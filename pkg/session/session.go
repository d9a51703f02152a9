// Package session holds the acting user's credential and identity and
// broadcasts invalidation so every component reacts to an expired
// credential the same way, instead of each polling ambient state.
package session

import (
	"errors"
	"sync"
	"time"
)

// ErrInvalidated is returned by Token once the session has been invalidated.
var ErrInvalidated = errors.New("session invalidated")

// Invalidation reasons.
const (
	ReasonCredentialRejected = "credential_rejected"
	ReasonLogout             = "logout"
)

// Actor is the authenticated user the session belongs to.
type Actor struct {
	ID   string
	Name string
}

// Invalidation describes why and when a session became invalid.
type Invalidation struct {
	Reason string
	At     time.Time
}

// Session is safe for concurrent use. It is single-use: once invalidated it
// stays invalid, and re-authentication produces a new Session.
type Session struct {
	mu      sync.RWMutex
	token   string
	actor   Actor
	invalid bool
	inv     Invalidation
	done    chan struct{}
	subs    []chan Invalidation
}

func New(token string, actor Actor) *Session {
	return &Session{token: token, actor: actor, done: make(chan struct{})}
}

// Token returns the bearer credential, or ErrInvalidated after invalidation
// so callers fail before issuing a request that would 401 anyway.
func (s *Session) Token() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.invalid {
		return "", ErrInvalidated
	}
	return s.token, nil
}

// Actor returns the authenticated user's identity.
func (s *Session) Actor() Actor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.actor
}

// Valid reports whether the session can still be used.
func (s *Session) Valid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.invalid
}

// Invalidate flips the session to invalid and notifies subscribers.
// Idempotent: only the first call records a reason and broadcasts.
func (s *Session) Invalidate(reason string) {
	s.mu.Lock()
	if s.invalid {
		s.mu.Unlock()
		return
	}
	s.invalid = true
	s.inv = Invalidation{Reason: reason, At: time.Now()}
	s.token = ""
	subs := s.subs
	inv := s.inv
	close(s.done)
	s.mu.Unlock()

	for _, ch := range subs {
		// buffered; a subscriber that never drains must not block the rest
		select {
		case ch <- inv:
		default:
		}
	}
}

// Subscribe registers for the invalidation signal. A session that is
// already invalid delivers immediately.
func (s *Session) Subscribe() <-chan Invalidation {
	ch := make(chan Invalidation, 1)
	s.mu.Lock()
	if s.invalid {
		ch <- s.inv
	} else {
		s.subs = append(s.subs, ch)
	}
	s.mu.Unlock()
	return ch
}

// Done is closed when the session is invalidated; convenient for select
// loops that only need the fact, not the reason.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Invalidation returns the recorded invalidation, if any.
func (s *Session) Invalidation() (Invalidation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inv, s.invalid
}
