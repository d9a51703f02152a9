package stub

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"parley/pkg/feed"
	"parley/pkg/logger"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// hub fans events out to connected feed clients. Sends are dropped when
// a client's buffer is full; the feed is advisory and clients recover
// real state over REST.
type hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	actor string
	conn  *websocket.Conn
	send  chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[*client]struct{})}
}

func (h *hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// remove detaches c so no broadcast can reach it afterwards; only then
// is it safe for the caller to close c.send.
func (h *hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *hub) broadcast(recipients map[string]bool, ev feed.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !recipients[c.actor] {
			continue
		}
		select {
		case c.send <- data:
		default:
			logger.Debug("stub_feed_dropped", "actor", c.actor, "type", ev.Type)
		}
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	if q := r.URL.Query().Get("actor"); q != "" && q != actor.ID {
		http.Error(w, `{"error":"actor mismatch"}`, http.StatusUnauthorized)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{actor: actor.ID, conn: conn, send: make(chan []byte, 32)}
	s.hub.add(c)
	logger.Info("stub_feed_connected", "actor", actor.ID)

	go c.writeLoop()
	s.readLoop(c)
}

func (c *client) writeLoop() {
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// readLoop consumes typing and read signals from the client and fans
// them out to the conversation's participants.
func (s *Server) readLoop(c *client) {
	defer func() {
		s.hub.remove(c)
		close(c.send)
		c.conn.Close()
		logger.Info("stub_feed_disconnected", "actor", c.actor)
	}()
	for {
		var ev feed.Event
		if err := c.conn.ReadJSON(&ev); err != nil {
			return
		}
		ev.Actor = c.actor // never trust the frame's own claim
		s.forward(ev)
	}
}

func (s *Server) forward(ev feed.Event) {
	switch ev.Type {
	case feed.EventTyping, feed.EventRead:
	default:
		return
	}
	s.mu.Lock()
	c := s.convs[ev.Conversation]
	var recipients map[string]bool
	if c != nil && c.isParticipant(ev.Actor) {
		recipients = c.recipientSet()
	}
	s.mu.Unlock()
	if recipients == nil {
		return
	}
	if ev.Type == feed.EventRead && ev.TS == 0 {
		ev.TS = time.Now().UTC().UnixNano()
	}
	s.hub.broadcast(recipients, ev)
}
