// Package store owns the in-memory ordered message sequence for each
// conversation. The local cache is a write-through mirror: every mutation
// is persisted, but the mirror is only served when fresher than the TTL.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"parley/pkg/cache"
	"parley/pkg/logger"
	"parley/pkg/metrics"
	"parley/pkg/models"
)

// ErrNoSuchMessage is returned when a mutation targets an id that is not
// in the sequence.
var ErrNoSuchMessage = errors.New("no such message in conversation")

// Event types emitted on log mutations.
const (
	EventReset   = "reset"
	EventAppend  = "append"
	EventReplace = "replace"
	EventEdit    = "edit"
	EventDelete  = "delete"
	EventRemove  = "remove"
)

// Event describes one mutation of a conversation log.
type Event struct {
	Type         string
	Conversation string
	Message      models.Message
}

// Fetcher returns the authoritative message list for a conversation.
// *api.Client implements it.
type Fetcher interface {
	ListMessages(ctx context.Context, convID string) ([]models.Message, error)
}

// Log is the ordered message sequence of one conversation. Safe for
// concurrent use.
type Log struct {
	conv string
	ttl  time.Duration

	mu   sync.RWMutex
	msgs []models.Message
	subs []chan Event
}

// NewLog returns an empty log for a conversation. ttl governs how old a
// mirrored cache entry may be before it is discarded on load.
func NewLog(convID string, ttl time.Duration) *Log {
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	return &Log{conv: convID, ttl: ttl}
}

// Conversation returns the owning conversation id.
func (l *Log) Conversation() string { return l.conv }

// Load populates the sequence: a mirror entry fresher than the TTL is
// served directly; a miss, stale or corrupt entry forces the network
// fetch. Either way the result is sorted ascending by creation timestamp.
func (l *Log) Load(ctx context.Context, f Fetcher) ([]models.Message, error) {
	if cache.Ready() {
		if msgs, ok, err := cache.GetLog(l.conv, l.ttl); err == nil && ok {
			metrics.ObserveLoad(metrics.SourceCache, len(msgs))
			l.install(msgs, false)
			return l.Messages(), nil
		} else if err != nil {
			logger.Warn("cache_read_failed", "conversation", l.conv, "error", err)
		}
	}
	return l.Refresh(ctx, f)
}

// Refresh always fetches from the backend, replacing the sequence and the
// mirror regardless of cache freshness.
func (l *Log) Refresh(ctx context.Context, f Fetcher) ([]models.Message, error) {
	msgs, err := f.ListMessages(ctx, l.conv)
	if err != nil {
		return nil, err
	}
	metrics.ObserveLoad(metrics.SourceNetwork, len(msgs))
	l.install(msgs, true)
	return l.Messages(), nil
}

// LoadCached serves only the mirror, without touching the network: the
// mount-time render. Stale entries are discarded, not served.
func (l *Log) LoadCached() ([]models.Message, bool) {
	if !cache.Ready() {
		return nil, false
	}
	msgs, ok, err := cache.GetLog(l.conv, l.ttl)
	if err != nil || !ok {
		return nil, false
	}
	metrics.ObserveLoad(metrics.SourceCache, len(msgs))
	l.install(msgs, false)
	return l.Messages(), true
}

// install sorts and adopts msgs as the whole sequence.
func (l *Log) install(msgs []models.Message, mirror bool) {
	sorted := append([]models.Message(nil), msgs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].TS < sorted[j].TS })
	l.mu.Lock()
	l.msgs = sorted
	l.mu.Unlock()
	if mirror {
		l.writeThrough()
	}
	l.emit(Event{Type: EventReset, Conversation: l.conv})
}

// Append adds a message at the end of the sequence.
func (l *Log) Append(msg models.Message) {
	if msg.Conversation == "" {
		msg.Conversation = l.conv
	}
	l.mu.Lock()
	l.msgs = append(l.msgs, msg)
	l.mu.Unlock()
	l.writeThrough()
	l.emit(Event{Type: EventAppend, Conversation: l.conv, Message: msg})
}

// Replace overwrites the pending entry staged under temp with the
// confirmed message, preserving its position. If the confirmed id already
// landed separately (a feed echo), the pending entry is dropped instead,
// so one logical message never occupies two slots.
func (l *Log) Replace(temp models.TempID, confirmed models.Message) error {
	if confirmed.Temp == "" {
		confirmed.Temp = temp
	}
	if confirmed.Conversation == "" {
		confirmed.Conversation = l.conv
	}
	l.mu.Lock()
	ti := l.indexLocked(temp)
	if ti < 0 {
		l.mu.Unlock()
		return ErrNoSuchMessage
	}
	if ci := l.indexLocked(confirmed.ID); ci >= 0 && ci != ti {
		l.msgs[ci] = confirmed
		l.msgs = append(l.msgs[:ti], l.msgs[ti+1:]...)
	} else {
		l.msgs[ti] = confirmed
	}
	l.mu.Unlock()
	l.writeThrough()
	l.emit(Event{Type: EventReplace, Conversation: l.conv, Message: confirmed})
	return nil
}

// MarkEdited mutates the body of a confirmed message in place.
func (l *Log) MarkEdited(id models.MessageID, newBody string, editedTS int64) error {
	l.mu.Lock()
	i := l.indexLocked(id)
	if i < 0 {
		l.mu.Unlock()
		return ErrNoSuchMessage
	}
	l.msgs[i].Body = newBody
	l.msgs[i].Edited = true
	l.msgs[i].EditedTS = editedTS
	msg := l.msgs[i]
	l.mu.Unlock()
	l.writeThrough()
	l.emit(Event{Type: EventEdit, Conversation: l.conv, Message: msg})
	return nil
}

// MarkDeleted tombstones a message in place; identity and position stay.
func (l *Log) MarkDeleted(id models.MessageID) error {
	l.mu.Lock()
	i := l.indexLocked(id)
	if i < 0 {
		l.mu.Unlock()
		return ErrNoSuchMessage
	}
	l.msgs[i].Deleted = true
	l.msgs[i].Body = models.Tombstone
	msg := l.msgs[i]
	l.mu.Unlock()
	l.writeThrough()
	l.emit(Event{Type: EventDelete, Conversation: l.conv, Message: msg})
	return nil
}

// Restore puts back a previously captured message state at its position;
// the rollback path for failed optimistic edits.
func (l *Log) Restore(prev models.Message) error {
	l.mu.Lock()
	i := l.indexLocked(prev.Key())
	if i < 0 {
		l.mu.Unlock()
		return ErrNoSuchMessage
	}
	l.msgs[i] = prev
	l.mu.Unlock()
	l.writeThrough()
	l.emit(Event{Type: EventReplace, Conversation: l.conv, Message: prev})
	return nil
}

// Remove drops the pending entry staged under temp; the rollback path for
// a failed send. Reports whether an entry was removed.
func (l *Log) Remove(temp models.TempID) bool {
	l.mu.Lock()
	i := l.indexLocked(temp)
	if i < 0 {
		l.mu.Unlock()
		return false
	}
	msg := l.msgs[i]
	l.msgs = append(l.msgs[:i], l.msgs[i+1:]...)
	l.mu.Unlock()
	l.writeThrough()
	l.emit(Event{Type: EventRemove, Conversation: l.conv, Message: msg})
	return true
}

// Get returns the message identified by k.
func (l *Log) Get(k models.MessageKey) (models.Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if i := l.indexLocked(k); i >= 0 {
		return l.msgs[i], true
	}
	return models.Message{}, false
}

// Messages returns a copy of the ordered sequence.
func (l *Log) Messages() []models.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]models.Message(nil), l.msgs...)
}

// Len returns the sequence length.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.msgs)
}

// Subscribe returns a channel of mutation events. Delivery is best-effort:
// events are dropped for subscribers that stop draining.
func (l *Log) Subscribe() <-chan Event {
	ch := make(chan Event, 32)
	l.mu.Lock()
	l.subs = append(l.subs, ch)
	l.mu.Unlock()
	return ch
}

func (l *Log) emit(ev Event) {
	l.mu.RLock()
	subs := l.subs
	l.mu.RUnlock()
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			logger.Debug("store_event_dropped", "conversation", l.conv, "type", ev.Type)
		}
	}
}

// writeThrough mirrors the full sequence; best-effort when no cache is open.
func (l *Log) writeThrough() {
	if !cache.Ready() {
		return
	}
	l.mu.RLock()
	msgs := append([]models.Message(nil), l.msgs...)
	l.mu.RUnlock()
	if err := cache.PutLog(l.conv, msgs); err != nil {
		logger.Warn("cache_write_failed", "conversation", l.conv, "error", err)
	}
}

// indexLocked finds the entry k refers to; callers hold l.mu.
func (l *Log) indexLocked(k models.MessageKey) int {
	if models.KeyString(k) == "" {
		return -1
	}
	for i := range l.msgs {
		if l.msgs[i].Is(k) {
			return i
		}
	}
	return -1
}
