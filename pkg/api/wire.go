package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"parley/pkg/models"
)

// The backend's JSON is loosely shaped: bodies arrive as "content", "body"
// or "text", timestamps as seconds, millis, nanos or RFC3339 strings,
// senders and last-message previews as bare strings or objects, lists bare
// or enveloped. Everything is normalized here, once; the rest of the
// system only sees the canonical models.

// wireTS accepts any of the timestamp shapes and normalizes to unix nanos.
type wireTS int64

func (t *wireTS) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*t = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*t = 0
			return nil
		}
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			*t = wireTS(ts.UnixNano())
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("unparseable timestamp %q", s)
		}
		*t = wireTS(normalizeEpoch(f))
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*t = wireTS(normalizeEpoch(f))
	return nil
}

// normalizeEpoch guesses the unit of a numeric epoch by magnitude:
// >=1e17 nanos, >=1e11 millis, otherwise seconds.
func normalizeEpoch(v float64) int64 {
	switch {
	case v <= 0:
		return 0
	case v >= 1e17:
		return int64(v)
	case v >= 1e11:
		return int64(v * float64(time.Millisecond))
	default:
		return int64(v * float64(time.Second))
	}
}

type wireActor struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Username    string `json:"username"`
}

// decodeActor accepts "u1" or {"id":"u1","name":"Ana"} shapes.
func decodeActor(raw json.RawMessage) (id, name string) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", ""
	}
	if raw[0] == '"' {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return s, ""
		}
		return "", ""
	}
	var a wireActor
	if json.Unmarshal(raw, &a) != nil {
		return "", ""
	}
	return firstNonEmpty(a.ID, a.UserID, a.Username), firstNonEmpty(a.Name, a.DisplayName, a.Username)
}

type wireMessage struct {
	ID             string          `json:"id"`
	Conversation   string          `json:"conversation"`
	ConversationID string          `json:"conversation_id"`
	Sender         json.RawMessage `json:"sender"`
	SenderID       string          `json:"sender_id"`
	SenderName     string          `json:"sender_name"`
	Content        string          `json:"content"`
	Body           string          `json:"body"`
	Text           string          `json:"text"`
	Kind           string          `json:"kind"`
	Type           string          `json:"type"`
	TS             wireTS          `json:"ts"`
	CreatedAt      wireTS          `json:"created_at"`
	UpdatedAt      wireTS          `json:"updated_at"`
	EditedAt       wireTS          `json:"edited_at"`
	Edited         bool            `json:"edited"`
	Deleted        bool            `json:"deleted"`
}

func (w wireMessage) normalize(fallbackConv string) models.Message {
	senderID, senderName := decodeActor(w.Sender)
	body := firstNonEmpty(w.Content, w.Body, w.Text)
	editedTS := int64(w.EditedAt)
	if editedTS == 0 && w.Edited {
		editedTS = int64(w.UpdatedAt)
	}
	m := models.Message{
		ID:           models.MessageID(w.ID),
		Conversation: firstNonEmpty(w.Conversation, w.ConversationID, fallbackConv),
		Sender:       firstNonEmpty(senderID, w.SenderID),
		SenderName:   firstNonEmpty(w.SenderName, senderName),
		Body:         body,
		Kind:         firstNonEmpty(w.Kind, w.Type, models.KindText),
		TS:           firstTS(int64(w.TS), int64(w.CreatedAt)),
		EditedTS:     editedTS,
		Edited:       w.Edited,
		Deleted:      w.Deleted,
	}
	if m.Deleted && m.Body == "" {
		m.Body = models.Tombstone
	}
	return m
}

type wireConversation struct {
	ID           string          `json:"id"`
	ListingID    string          `json:"listing_id"`
	Listing      string          `json:"listing"`
	Subject      string          `json:"subject"`
	Title        string          `json:"title"`
	Participants json.RawMessage `json:"participants"`
	CreatedAt    wireTS          `json:"created_at"`
	LastActivity wireTS          `json:"last_activity"`
	UpdatedAt    wireTS          `json:"updated_at"`
	LastMessage  json.RawMessage `json:"last_message"`
}

func (w wireConversation) normalize() models.Conversation {
	c := models.Conversation{
		ID:             w.ID,
		ListingID:      firstNonEmpty(w.ListingID, w.Listing, w.Subject),
		Title:          w.Title,
		Participants:   decodeParticipants(w.Participants),
		CreatedTS:      int64(w.CreatedAt),
		LastActivityTS: firstTS(int64(w.LastActivity), int64(w.UpdatedAt)),
	}
	if lm := decodeLastMessage(w.LastMessage, w.ID); lm != nil {
		c.LastMessage = lm
		if c.LastActivityTS == 0 {
			c.LastActivityTS = lm.TS
		}
	}
	return c
}

// decodeParticipants accepts ["u1","u2"] or [{"id":"u1","name":"Ana"},...].
func decodeParticipants(raw json.RawMessage) []models.Participant {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var elems []json.RawMessage
	if json.Unmarshal(raw, &elems) != nil {
		return nil
	}
	out := make([]models.Participant, 0, len(elems))
	for _, e := range elems {
		id, name := decodeActor(e)
		if id == "" {
			continue
		}
		out = append(out, models.Participant{ID: id, Name: name})
	}
	return out
}

// decodeLastMessage accepts a bare preview string or a full message object.
func decodeLastMessage(raw json.RawMessage, conv string) *models.Message {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '"' {
		var s string
		if json.Unmarshal(raw, &s) != nil || s == "" {
			return nil
		}
		return &models.Message{Conversation: conv, Body: s, Kind: models.KindText}
	}
	var wm wireMessage
	if json.Unmarshal(raw, &wm) != nil {
		return nil
	}
	m := wm.normalize(conv)
	return &m
}

// decodeMessages accepts a bare array or a {"messages":[...]} envelope.
func decodeMessages(b []byte, conv string) ([]models.Message, error) {
	var list []wireMessage
	if err := json.Unmarshal(b, &list); err != nil {
		var env struct {
			Messages []wireMessage `json:"messages"`
		}
		if err2 := json.Unmarshal(b, &env); err2 != nil {
			return nil, fmt.Errorf("undecodable message list: %w", err)
		}
		list = env.Messages
	}
	out := make([]models.Message, 0, len(list))
	for _, wm := range list {
		out = append(out, wm.normalize(conv))
	}
	return out, nil
}

// decodeConversations accepts a bare array or a {"conversations":[...]}
// envelope.
func decodeConversations(b []byte) ([]models.Conversation, error) {
	var list []wireConversation
	if err := json.Unmarshal(b, &list); err != nil {
		var env struct {
			Conversations []wireConversation `json:"conversations"`
		}
		if err2 := json.Unmarshal(b, &env); err2 != nil {
			return nil, fmt.Errorf("undecodable conversation list: %w", err)
		}
		list = env.Conversations
	}
	out := make([]models.Conversation, 0, len(list))
	for _, wc := range list {
		out = append(out, wc.normalize())
	}
	return out, nil
}

func decodeConversation(b []byte) (models.Conversation, error) {
	var wc wireConversation
	if err := json.Unmarshal(b, &wc); err != nil {
		return models.Conversation{}, fmt.Errorf("undecodable conversation: %w", err)
	}
	if wc.ID == "" {
		var env struct {
			Conversation wireConversation `json:"conversation"`
		}
		if json.Unmarshal(b, &env) == nil && env.Conversation.ID != "" {
			wc = env.Conversation
		}
	}
	return wc.normalize(), nil
}

func decodeMessage(b []byte, conv string) (models.Message, error) {
	var wm wireMessage
	if err := json.Unmarshal(b, &wm); err != nil {
		return models.Message{}, fmt.Errorf("undecodable message: %w", err)
	}
	if wm.ID == "" {
		var env struct {
			Message wireMessage `json:"message"`
		}
		if json.Unmarshal(b, &env) == nil && env.Message.ID != "" {
			wm = env.Message
		}
	}
	return wm.normalize(conv), nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstTS(vals ...int64) int64 {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}
