package presence

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultTypingInterval is the steady-state spacing of outbound typing
// signals per conversation.
const DefaultTypingInterval = time.Second

// Notifier throttles outbound typing signals so a keystroke storm turns
// into at most one signal per interval per conversation. Suppressed
// signals are dropped, not queued.
type Notifier struct {
	mu       sync.Mutex
	interval time.Duration
	send     func(conversation string)
	limits   map[string]*rate.Limiter
}

func NewNotifier(interval time.Duration, send func(conversation string)) *Notifier {
	if interval <= 0 {
		interval = DefaultTypingInterval
	}
	return &Notifier{
		interval: interval,
		send:     send,
		limits:   make(map[string]*rate.Limiter),
	}
}

// Typing forwards one typing signal for conversation if the limiter
// allows it and reports whether the signal went out.
func (n *Notifier) Typing(conversation string) bool {
	if conversation == "" || n.send == nil {
		return false
	}
	n.mu.Lock()
	lim := n.limits[conversation]
	if lim == nil {
		lim = rate.NewLimiter(rate.Every(n.interval), 1)
		n.limits[conversation] = lim
	}
	n.mu.Unlock()

	if !lim.Allow() {
		return false
	}
	n.send(conversation)
	return true
}
