// Package feed keeps a live event stream from the backend over a
// websocket and fans each event out to the owning message store or the
// presence overlay. Delivery is advisory: at most once, no replay, no
// buffering. A dropped connection is re-dialed with capped backoff; a
// rejected credential stops the feed and invalidates the session.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"parley/pkg/logger"
	"parley/pkg/metrics"
	"parley/pkg/models"
	"parley/pkg/presence"
	"parley/pkg/session"
	"parley/pkg/store"
)

// Event types pushed by the backend.
const (
	EventMessageNew     = "message.new"
	EventMessageEdited  = "message.edited"
	EventMessageDeleted = "message.deleted"
	EventTyping         = "typing"
	EventRead           = "read"
)

const (
	defaultMinBackoff = 500 * time.Millisecond
	defaultMaxBackoff = 15 * time.Second
)

// Event is the wire shape of one feed frame, both directions.
type Event struct {
	Type         string           `json:"type"`
	Conversation string           `json:"conversation"`
	Actor        string           `json:"actor,omitempty"`
	TS           int64            `json:"ts,omitempty"`
	Message      *models.Message  `json:"message,omitempty"`
	MessageID    models.MessageID `json:"message_id,omitempty"`
	Body         string           `json:"body,omitempty"`
	EditedTS     int64            `json:"edited_ts,omitempty"`
}

// Feed is the client side of the event stream for one actor.
type Feed struct {
	endpoint string
	sess     *session.Session
	self     string
	stores   *store.Manager
	overlay  *presence.Tracker

	minBackoff time.Duration
	maxBackoff time.Duration

	writeMu sync.Mutex
	connMu  sync.Mutex
	conn    *websocket.Conn
}

// New builds a feed client. endpoint accepts ws://, wss:// or their http
// counterparts, which are rewritten to the websocket scheme.
func New(endpoint string, sess *session.Session, self string, stores *store.Manager, overlay *presence.Tracker) (*Feed, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, errors.New("feed endpoint must be a ws or http URL")
	}
	if sess == nil {
		return nil, errors.New("feed requires a session")
	}
	return &Feed{
		endpoint:   u.String(),
		sess:       sess,
		self:       self,
		stores:     stores,
		overlay:    overlay,
		minBackoff: defaultMinBackoff,
		maxBackoff: defaultMaxBackoff,
	}, nil
}

// Run dials the feed and applies events until ctx is canceled or the
// session dies. Connection drops are retried with capped backoff.
func (f *Feed) Run(ctx context.Context) error {
	backoff := f.minBackoff
	for {
		connected, err := f.connectOnce(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, session.ErrInvalidated) {
			return err
		}
		if connected {
			backoff = f.minBackoff
		}
		logger.Warn("feed_disconnected", "error", err, "retry_in", backoff.String())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.sess.Done():
			return session.ErrInvalidated
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > f.maxBackoff {
			backoff = f.maxBackoff
		}
	}
}

// connectOnce dials, reads until the connection fails and reports whether
// the dial itself succeeded.
func (f *Feed) connectOnce(ctx context.Context) (bool, error) {
	token, err := f.sess.Token()
	if err != nil {
		return false, err
	}
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+token)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, f.dialURL(), hdr)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			logger.Warn("feed_credential_rejected", "endpoint", f.endpoint)
			if f.sess.Valid() {
				metrics.ObserveSessionInvalidation()
			}
			f.sess.Invalidate(session.ReasonCredentialRejected)
			return false, session.ErrInvalidated
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, err
	}
	logger.Info("feed_connected", "endpoint", f.endpoint, "actor", f.self)
	f.setConn(conn)
	defer f.setConn(nil)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-f.sess.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, rerr := conn.ReadMessage()
		if rerr != nil {
			if ctx.Err() != nil {
				return true, ctx.Err()
			}
			if !f.sess.Valid() {
				return true, session.ErrInvalidated
			}
			if websocket.IsCloseError(rerr, websocket.ClosePolicyViolation) {
				logger.Warn("feed_closed_unauthorized", "endpoint", f.endpoint)
				metrics.ObserveSessionInvalidation()
				f.sess.Invalidate(session.ReasonCredentialRejected)
				return true, session.ErrInvalidated
			}
			return true, rerr
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			logger.Warn("feed_frame_malformed", "error", err)
			continue
		}
		f.apply(ev)
	}
}

// apply routes one event. Own echoes are skipped: the submit and edit
// paths already reconciled the local copy from the REST reply.
func (f *Feed) apply(ev Event) {
	metrics.ObserveFeedEvent(ev.Type)
	switch ev.Type {
	case EventMessageNew:
		if ev.Message == nil || ev.Conversation == "" {
			return
		}
		msg := *ev.Message
		if msg.Sender == f.self {
			return
		}
		log := f.stores.Get(ev.Conversation)
		if _, ok := log.Get(msg.Key()); ok {
			return
		}
		log.Append(msg)
		if f.overlay != nil {
			f.overlay.ClearTyping(ev.Conversation, msg.Sender)
		}
		logger.Debug("feed_message", "conversation", ev.Conversation, "id", msg.ID)
	case EventMessageEdited:
		if ev.Actor == f.self || ev.Conversation == "" || ev.MessageID == "" {
			return
		}
		log := f.stores.Get(ev.Conversation)
		if err := log.MarkEdited(ev.MessageID, ev.Body, ev.EditedTS); err != nil {
			logger.Debug("feed_edit_unmatched", "conversation", ev.Conversation, "id", ev.MessageID)
		}
	case EventMessageDeleted:
		if ev.Actor == f.self || ev.Conversation == "" || ev.MessageID == "" {
			return
		}
		log := f.stores.Get(ev.Conversation)
		if err := log.MarkDeleted(ev.MessageID); err != nil {
			logger.Debug("feed_delete_unmatched", "conversation", ev.Conversation, "id", ev.MessageID)
		}
	case EventTyping:
		if ev.Actor == f.self || f.overlay == nil {
			return
		}
		f.overlay.SetTyping(ev.Conversation, ev.Actor)
	case EventRead:
		if ev.Actor == f.self || f.overlay == nil {
			return
		}
		f.overlay.MarkRead(ev.Conversation, ev.Actor, ev.TS)
	default:
		logger.Debug("feed_event_ignored", "type", ev.Type)
	}
}

// SendTyping pushes a typing signal upstream, best effort. Callers go
// through presence.Notifier so keystrokes are already throttled.
func (f *Feed) SendTyping(conversation string) {
	f.send(Event{Type: EventTyping, Conversation: conversation, Actor: f.self})
}

// SendRead pushes a read watermark upstream, best effort.
func (f *Feed) SendRead(conversation string, ts int64) {
	f.send(Event{Type: EventRead, Conversation: conversation, Actor: f.self, TS: ts})
}

func (f *Feed) send(ev Event) {
	f.connMu.Lock()
	conn := f.conn
	f.connMu.Unlock()
	if conn == nil {
		logger.Debug("feed_signal_dropped", "type", ev.Type, "conversation", ev.Conversation)
		return
	}
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	if err := conn.WriteJSON(ev); err != nil {
		logger.Debug("feed_signal_failed", "type", ev.Type, "error", err)
	}
}

func (f *Feed) setConn(conn *websocket.Conn) {
	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
}

func (f *Feed) dialURL() string {
	u, err := url.Parse(f.endpoint)
	if err != nil {
		return f.endpoint
	}
	q := u.Query()
	q.Set("actor", f.self)
	u.RawQuery = q.Encode()
	return u.String()
}
