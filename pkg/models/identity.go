package models

import "github.com/google/uuid"

// MessageKey identifies a message in a conversation log. It is a closed
// union: TempID for a locally-staged pending message, MessageID once the
// backend has confirmed it. APIs that only make sense for confirmed
// messages (edit, delete) take MessageID directly, so a pending id cannot
// be passed where a server id is required.
type MessageKey interface {
	messageKey() string
}

// MessageID is a server-assigned message identifier.
type MessageID string

func (id MessageID) messageKey() string { return string(id) }
func (id MessageID) String() string     { return string(id) }

// TempID is a client-generated identifier carried by a message while its
// send is in flight.
type TempID string

func (id TempID) messageKey() string { return string(id) }
func (id TempID) String() string     { return string(id) }

// NewTempID returns a fresh local id ("temp-" + uuid).
func NewTempID() TempID {
	return TempID("temp-" + uuid.NewString())
}

// KeyString returns the raw id for either side of the union; empty for nil.
func KeyString(k MessageKey) string {
	if k == nil {
		return ""
	}
	return k.messageKey()
}
