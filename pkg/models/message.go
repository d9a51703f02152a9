package models

// Tombstone replaces the body of a soft-deleted message; identity and
// position in the log are retained.
const Tombstone = "[message deleted]"

// Message kinds accepted by the marketplace backend.
const (
	KindText  = "text"
	KindOffer = "offer"
)

type Message struct {
	// Exactly one of ID and Temp is set: Temp while the send is pending,
	// ID once the backend confirmed it.
	ID           MessageID `json:"id,omitempty"`
	Temp         TempID    `json:"temp_id,omitempty"`
	Conversation string    `json:"conversation"`
	Sender       string    `json:"sender"`
	SenderName   string    `json:"sender_name,omitempty"`
	Body         string    `json:"body"`
	Kind         string    `json:"kind,omitempty"`
	// Created timestamp (ns); local clock while pending, backend clock after
	TS       int64 `json:"ts"`
	EditedTS int64 `json:"edited_ts,omitempty"`
	Edited   bool  `json:"edited,omitempty"`
	Deleted  bool  `json:"deleted,omitempty"`
}

// Pending reports whether the message is still awaiting backend confirmation.
func (m Message) Pending() bool { return m.ID == "" && m.Temp != "" }

// Key returns the message identity: TempID while pending, MessageID after.
func (m Message) Key() MessageKey {
	if m.Pending() {
		return m.Temp
	}
	return m.ID
}

// Is reports whether k refers to this message. A confirmed message still
// answers to the temp id it was staged under.
func (m Message) Is(k MessageKey) bool {
	switch id := k.(type) {
	case MessageID:
		return id != "" && m.ID == id
	case TempID:
		return id != "" && m.Temp == id
	default:
		return false
	}
}
