// Package stub is an in-memory marketplace chat backend: every REST
// endpoint the client speaks, a websocket feed, bearer auth with static
// dev tokens. It backs cmd/minimarket and the httptest servers in the
// test suite. State lives in process memory and dies with it.
package stub

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"parley/pkg/logger"
	"parley/pkg/models"
)

// Server holds the whole backend state behind one lock. Conversations
// are indexed by id and by their canonical (listing, participant-set)
// key, which is what makes duplicate creation requests collapse onto
// the existing conversation.
type Server struct {
	accounts map[string]models.Participant // bearer token -> account

	mu    sync.Mutex
	seq   int
	convs map[string]*conversation
	byKey map[string]string

	hub *hub
}

type conversation struct {
	id           string
	listing      string
	title        string
	participants []models.Participant
	createdMS    int64
	activityMS   int64
	msgs         []*message
}

// message keeps the variant wire units (millis) internally; the feed
// converts to canonical nanos when broadcasting.
type message struct {
	id         string
	conv       string
	sender     string
	senderName string
	body       string
	kind       string
	createdMS  int64
	editedMS   int64
	edited     bool
	deleted    bool
}

func New(accounts map[string]models.Participant) *Server {
	return &Server{
		accounts: accounts,
		convs:    make(map[string]*conversation),
		byKey:    make(map[string]string),
		hub:      newHub(),
	}
}

// Router wires every endpoint. /healthz is open; everything else,
// including the websocket upgrade, sits behind the bearer check.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)

	authed := r.PathPrefix("/").Subrouter()
	authed.Use(s.requireAuth)
	authed.HandleFunc("/ws", s.serveWS).Methods(http.MethodGet)
	authed.HandleFunc("/conversations", s.listConversations).Methods(http.MethodGet)
	authed.HandleFunc("/conversations", s.createConversation).Methods(http.MethodPost)
	authed.HandleFunc("/conversations/{id}/messages", s.listMessages).Methods(http.MethodGet)
	authed.HandleFunc("/conversations/{id}/messages", s.createMessage).Methods(http.MethodPost)
	authed.HandleFunc("/conversations/{id}/messages/{messageID}", s.updateMessage).Methods(http.MethodPut)
	authed.HandleFunc("/conversations/{id}/messages/{messageID}", s.deleteMessage).Methods(http.MethodDelete)
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

type ctxKey struct{}

func withActor(ctx context.Context, p models.Participant) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func actorFrom(ctx context.Context) models.Participant {
	p, _ := ctx.Value(ctxKey{}).(models.Participant)
	return p
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.LogRequest(r)
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			http.Error(w, `{"error":"credential rejected"}`, http.StatusUnauthorized)
			return
		}
		account, ok := s.accounts[token]
		if !ok {
			logger.Warn("stub_auth_rejected", "path", r.URL.Path)
			http.Error(w, `{"error":"credential rejected"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(withActor(r.Context(), account)))
	})
}

func (s *Server) nextID(prefix string) string {
	s.seq++
	return prefix + "-" + strconv.Itoa(s.seq)
}

func nowMS() int64 {
	return time.Now().UTC().UnixMilli()
}

func (c *conversation) isParticipant(id string) bool {
	for _, p := range c.participants {
		if p.ID == id {
			return true
		}
	}
	return false
}

func (c *conversation) recipientSet() map[string]bool {
	set := make(map[string]bool, len(c.participants))
	for _, p := range c.participants {
		set[p.ID] = true
	}
	return set
}

func (c *conversation) find(messageID string) *message {
	for _, m := range c.msgs {
		if m.id == messageID {
			return m
		}
	}
	return nil
}
