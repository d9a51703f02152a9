package store

import (
	"sort"
	"sync"
	"time"
)

// Manager hands out the single Log instance per conversation, so the feed,
// the composer and the UI all mutate the same sequence.
type Manager struct {
	ttl time.Duration

	mu   sync.Mutex
	logs map[string]*Log
}

func NewManager(ttl time.Duration) *Manager {
	return &Manager{ttl: ttl, logs: make(map[string]*Log)}
}

// Get returns the log for a conversation, creating it on first use.
func (m *Manager) Get(convID string) *Log {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.logs[convID]; ok {
		return l
	}
	l := NewLog(convID, m.ttl)
	m.logs[convID] = l
	return l
}

// Known returns the ids of all conversations with a materialized log.
func (m *Manager) Known() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.logs))
	for id := range m.logs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
