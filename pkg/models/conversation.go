package models

import (
	"sort"
	"strings"
)

// Participant is one member of a conversation.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type Conversation struct {
	ID string `json:"id"`
	// ListingID is the subject the conversation is about
	ListingID    string        `json:"listing_id"`
	Title        string        `json:"title,omitempty"`
	Participants []Participant `json:"participants"`
	// Created timestamp (ns)
	CreatedTS int64 `json:"created_ts,omitempty"`
	// Last activity timestamp (ns) - bumped on every message
	LastActivityTS int64 `json:"last_activity_ts,omitempty"`
	// LastMessage is an optional preview of the newest message
	LastMessage *Message `json:"last_message,omitempty"`
}

// DirectoryKey is the canonical lookup key for the at-most-one-conversation
// per (listing, participant-set) rule: listing id joined with the sorted,
// de-duplicated participant ids.
func DirectoryKey(listingID string, participantIDs []string) string {
	ids := make([]string, 0, len(participantIDs))
	seen := make(map[string]struct{}, len(participantIDs))
	for _, id := range participantIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return listingID + "|" + strings.Join(ids, ",")
}

// Key returns the conversation's directory key.
func (c Conversation) Key() string {
	return DirectoryKey(c.ListingID, c.ParticipantIDs())
}

// ParticipantIDs returns the ids of all participants.
func (c Conversation) ParticipantIDs() []string {
	ids := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.ID)
	}
	return ids
}

// HasParticipant reports whether id is a member of the conversation.
func (c Conversation) HasParticipant(id string) bool {
	for _, p := range c.Participants {
		if p.ID == id {
			return true
		}
	}
	return false
}

// Counterpart returns the first participant that is not self; zero value
// when the conversation has no other member.
func (c Conversation) Counterpart(self string) Participant {
	for _, p := range c.Participants {
		if p.ID != self {
			return p
		}
	}
	return Participant{}
}
