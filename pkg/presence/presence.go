// Package presence keeps the advisory overlay for conversations: typing
// indicators and read/delivered markers. Nothing here is persisted or
// acknowledged; a dropped signal just means the state goes stale until
// the next one lands.
package presence

import (
	"sort"
	"sync"
	"time"
)

// DefaultTypingTTL is how long a typing flag stays up after the last
// signal from a peer.
const DefaultTypingTTL = time.Second

// Tracker holds per-conversation typing flags and per-peer read and
// delivery watermarks. Expiry is checked lazily on read; there is no
// timer goroutine per peer.
type Tracker struct {
	mu        sync.Mutex
	ttl       time.Duration
	now       func() time.Time
	typing    map[string]map[string]time.Time
	read      map[string]map[string]int64
	delivered map[string]map[string]int64
}

func NewTracker(ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &Tracker{
		ttl:       ttl,
		now:       time.Now,
		typing:    make(map[string]map[string]time.Time),
		read:      make(map[string]map[string]int64),
		delivered: make(map[string]map[string]int64),
	}
}

// SetTyping raises the typing flag for peer in conversation. The flag
// falls by itself once the TTL elapses without another signal.
func (t *Tracker) SetTyping(conversation, peer string) {
	if conversation == "" || peer == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.typing[conversation]
	if m == nil {
		m = make(map[string]time.Time)
		t.typing[conversation] = m
	}
	m[peer] = t.now()
}

// ClearTyping drops the flag early, e.g. when the peer's message arrives.
func (t *Tracker) ClearTyping(conversation, peer string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m := t.typing[conversation]; m != nil {
		delete(m, peer)
	}
}

// Typing returns the peers currently typing in conversation, sorted.
func (t *Tracker) Typing(conversation string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.typing[conversation]
	if len(m) == 0 {
		return nil
	}
	cutoff := t.now().Add(-t.ttl)
	var peers []string
	for peer, last := range m {
		if last.Before(cutoff) {
			delete(m, peer)
			continue
		}
		peers = append(peers, peer)
	}
	sort.Strings(peers)
	return peers
}

// IsTyping reports whether peer has signaled typing within the TTL.
func (t *Tracker) IsTyping(conversation, peer string) bool {
	for _, p := range t.Typing(conversation) {
		if p == peer {
			return true
		}
	}
	return false
}

// MarkRead advances peer's read watermark in conversation. Watermarks
// are monotonic; a stale marker is ignored.
func (t *Tracker) MarkRead(conversation, peer string, ts int64) {
	t.mark(t.read, conversation, peer, ts)
}

// MarkDelivered advances peer's delivery watermark in conversation.
func (t *Tracker) MarkDelivered(conversation, peer string, ts int64) {
	t.mark(t.delivered, conversation, peer, ts)
}

func (t *Tracker) mark(set map[string]map[string]int64, conversation, peer string, ts int64) {
	if conversation == "" || peer == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	m := set[conversation]
	if m == nil {
		m = make(map[string]int64)
		set[conversation] = m
	}
	if ts > m[peer] {
		m[peer] = ts
	}
}

// ReadBy returns the peers whose read watermark covers a message with
// the given timestamp, sorted.
func (t *Tracker) ReadBy(conversation string, ts int64) []string {
	return t.covered(t.read, conversation, ts)
}

// DeliveredTo returns the peers whose delivery watermark covers ts, sorted.
func (t *Tracker) DeliveredTo(conversation string, ts int64) []string {
	return t.covered(t.delivered, conversation, ts)
}

func (t *Tracker) covered(set map[string]map[string]int64, conversation string, ts int64) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var peers []string
	for peer, mark := range set[conversation] {
		if mark >= ts {
			peers = append(peers, peer)
		}
	}
	sort.Strings(peers)
	return peers
}

// LastRead returns peer's read watermark, zero if none.
func (t *Tracker) LastRead(conversation, peer string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.read[conversation][peer]
}
