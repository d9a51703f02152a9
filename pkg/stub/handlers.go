package stub

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"

	"parley/pkg/feed"
	"parley/pkg/logger"
	"parley/pkg/models"
	"parley/pkg/telemetry"
	"parley/pkg/validation"
)

// The wire shapes here are intentionally not the client's canonical
// ones: millis timestamps, "content" for the body, sender objects,
// enveloped lists, tombstones with an empty body. The real marketplace
// backend is just as loose, and the client normalizes it all anyway.

type wireActor struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type wireMessage struct {
	ID           string    `json:"id"`
	Conversation string    `json:"conversation_id"`
	Sender       wireActor `json:"sender"`
	Content      string    `json:"content"`
	Type         string    `json:"type,omitempty"`
	CreatedAt    int64     `json:"created_at"`
	EditedAt     int64     `json:"edited_at,omitempty"`
	Edited       bool      `json:"edited,omitempty"`
	Deleted      bool      `json:"deleted,omitempty"`
}

type wireConversation struct {
	ID           string       `json:"id"`
	Listing      string       `json:"listing_id"`
	Title        string       `json:"title,omitempty"`
	Participants []wireActor  `json:"participants"`
	CreatedAt    int64        `json:"created_at"`
	LastActivity int64        `json:"last_activity"`
	LastMessage  *wireMessage `json:"last_message,omitempty"`
}

func (m *message) render() wireMessage {
	out := wireMessage{
		ID:           m.id,
		Conversation: m.conv,
		Sender:       wireActor{ID: m.sender, Name: m.senderName},
		Type:         m.kind,
		CreatedAt:    m.createdMS,
		EditedAt:     m.editedMS,
		Edited:       m.edited,
		Deleted:      m.deleted,
	}
	if !m.deleted {
		out.Content = m.body
	}
	return out
}

// toModel converts to the canonical feed shape, nanos included.
func (m *message) toModel() models.Message {
	return models.Message{
		ID:           models.MessageID(m.id),
		Conversation: m.conv,
		Sender:       m.sender,
		SenderName:   m.senderName,
		Body:         m.body,
		Kind:         m.kind,
		TS:           m.createdMS * int64(time.Millisecond),
		EditedTS:     m.editedMS * int64(time.Millisecond),
		Edited:       m.edited,
		Deleted:      m.deleted,
	}
}

func (c *conversation) render() wireConversation {
	out := wireConversation{
		ID:           c.id,
		Listing:      c.listing,
		Title:        c.title,
		CreatedAt:    c.createdMS,
		LastActivity: c.activityMS,
	}
	for _, p := range c.participants {
		out.Participants = append(out.Participants, wireActor{ID: p.ID, Name: p.Name})
	}
	if n := len(c.msgs); n > 0 {
		lm := c.msgs[n-1].render()
		out.LastMessage = &lm
	}
	return out
}

// --- Handlers for /conversations ---

func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	actor := actorFrom(r.Context())

	s.mu.Lock()
	var out []wireConversation
	for _, c := range s.convs {
		if c.isParticipant(actor.ID) {
			out = append(out, c.render())
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity > out[j].LastActivity })
	_ = json.NewEncoder(w).Encode(map[string]any{"conversations": out})
}

func (s *Server) createConversation(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	actor := actorFrom(r.Context())

	var req struct {
		Listing      string   `json:"listing_id"`
		Title        string   `json:"title"`
		Participants []string `json:"participants"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if err := validation.ConversationRequest(req.Listing, req.Participants); err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadRequest)
		return
	}

	ids := append([]string{actor.ID}, req.Participants...)
	key := models.DirectoryKey(req.Listing, ids)

	s.mu.Lock()
	if id, ok := s.byKey[key]; ok {
		// same listing, same participant set: hand back the existing
		// conversation instead of minting a duplicate
		existing := s.convs[id].render()
		s.mu.Unlock()
		logger.Info("conversation_reused", "id", id, "key", key)
		_ = json.NewEncoder(w).Encode(existing)
		return
	}
	now := nowMS()
	c := &conversation{
		id:         s.nextID("conv"),
		listing:    req.Listing,
		title:      req.Title,
		createdMS:  now,
		activityMS: now,
	}
	c.participants = append(c.participants, actor)
	for _, pid := range req.Participants {
		if pid == actor.ID {
			continue
		}
		c.participants = append(c.participants, s.lookupAccount(pid))
	}
	s.convs[c.id] = c
	s.byKey[key] = c.id
	created := c.render()
	s.mu.Unlock()

	logger.Info("conversation_created", "id", created.ID, "listing", req.Listing)
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(created)
}

// lookupAccount resolves a participant id to its account, falling back
// to a bare id for unknown users. Callers hold s.mu.
func (s *Server) lookupAccount(id string) models.Participant {
	for _, p := range s.accounts {
		if p.ID == id {
			return p
		}
	}
	return models.Participant{ID: id}
}

// --- Handlers for /conversations/{id}/messages ---

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	actor := actorFrom(r.Context())
	convID := mux.Vars(r)["id"]

	s.mu.Lock()
	c := s.convs[convID]
	if c == nil || !c.isParticipant(actor.ID) {
		s.mu.Unlock()
		http.Error(w, `{"error":"no such conversation"}`, http.StatusNotFound)
		return
	}
	out := make([]wireMessage, 0, len(c.msgs))
	// newest first, like the real backend; the client re-sorts
	for i := len(c.msgs) - 1; i >= 0; i-- {
		out = append(out, c.msgs[i].render())
	}
	s.mu.Unlock()

	_ = json.NewEncoder(w).Encode(map[string]any{"messages": out})
}

func (s *Server) createMessage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	telemetry.SetRequestOp(r.Context(), "send_message")
	actor := actorFrom(r.Context())
	convID := mux.Vars(r)["id"]

	var req struct {
		Content string `json:"content"`
		Type    string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if err := validation.MessageBody(req.Content); err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadRequest)
		return
	}
	if err := validation.MessageKind(req.Type); err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		req.Type = models.KindText
	}

	s.mu.Lock()
	c := s.convs[convID]
	if c == nil || !c.isParticipant(actor.ID) {
		s.mu.Unlock()
		http.Error(w, `{"error":"no such conversation"}`, http.StatusNotFound)
		return
	}
	m := &message{
		id:         s.nextID("msg"),
		conv:       convID,
		sender:     actor.ID,
		senderName: actor.Name,
		body:       req.Content,
		kind:       req.Type,
		createdMS:  nowMS(),
	}
	c.msgs = append(c.msgs, m)
	c.activityMS = m.createdMS
	created := m.render()
	model := m.toModel()
	recipients := c.recipientSet()
	s.mu.Unlock()

	logger.Info("message_created", "conversation", convID, "id", created.ID)
	endFanout := telemetry.StartSpan(r.Context(), "fanout")
	s.hub.broadcast(recipients, feed.Event{
		Type:         feed.EventMessageNew,
		Conversation: convID,
		Actor:        actor.ID,
		Message:      &model,
	})
	endFanout()
	_ = json.NewEncoder(w).Encode(created)
}

func (s *Server) updateMessage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	actor := actorFrom(r.Context())
	vars := mux.Vars(r)
	convID, messageID := vars["id"], vars["messageID"]

	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if err := validation.MessageBody(req.Content); err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	c := s.convs[convID]
	if c == nil || !c.isParticipant(actor.ID) {
		s.mu.Unlock()
		http.Error(w, `{"error":"no such conversation"}`, http.StatusNotFound)
		return
	}
	m := c.find(messageID)
	if m == nil || m.deleted {
		s.mu.Unlock()
		http.Error(w, `{"error":"no such message"}`, http.StatusNotFound)
		return
	}
	if m.sender != actor.ID {
		s.mu.Unlock()
		http.Error(w, `{"error":"not the author"}`, http.StatusForbidden)
		return
	}
	m.body = req.Content
	m.edited = true
	m.editedMS = nowMS()
	c.activityMS = m.editedMS
	updated := m.render()
	editedNS := m.editedMS * int64(time.Millisecond)
	recipients := c.recipientSet()
	s.mu.Unlock()

	logger.Info("message_edited", "conversation", convID, "id", messageID)
	s.hub.broadcast(recipients, feed.Event{
		Type:         feed.EventMessageEdited,
		Conversation: convID,
		Actor:        actor.ID,
		MessageID:    models.MessageID(messageID),
		Body:         req.Content,
		EditedTS:     editedNS,
	})
	_ = json.NewEncoder(w).Encode(updated)
}

func (s *Server) deleteMessage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	actor := actorFrom(r.Context())
	vars := mux.Vars(r)
	convID, messageID := vars["id"], vars["messageID"]

	s.mu.Lock()
	c := s.convs[convID]
	if c == nil || !c.isParticipant(actor.ID) {
		s.mu.Unlock()
		http.Error(w, `{"error":"no such conversation"}`, http.StatusNotFound)
		return
	}
	m := c.find(messageID)
	if m == nil || m.deleted {
		s.mu.Unlock()
		http.Error(w, `{"error":"no such message"}`, http.StatusNotFound)
		return
	}
	if m.sender != actor.ID {
		s.mu.Unlock()
		http.Error(w, `{"error":"not the author"}`, http.StatusForbidden)
		return
	}
	// soft delete: the slot stays, the body goes
	m.deleted = true
	m.body = ""
	recipients := c.recipientSet()
	s.mu.Unlock()

	logger.Info("message_deleted", "conversation", convID, "id", messageID)
	s.hub.broadcast(recipients, feed.Event{
		Type:         feed.EventMessageDeleted,
		Conversation: convID,
		Actor:        actor.ID,
		MessageID:    models.MessageID(messageID),
	})
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
}
