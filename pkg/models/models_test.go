package models

import (
	"strings"
	"testing"
)

func TestNewTempIDPrefixAndUniqueness(t *testing.T) {
	a := NewTempID()
	b := NewTempID()
	if !strings.HasPrefix(string(a), "temp-") {
		t.Fatalf("temp id missing prefix: %s", a)
	}
	if a == b {
		t.Fatalf("expected unique temp ids, got %s twice", a)
	}
}

func TestMessageKeyUnion(t *testing.T) {
	pending := Message{Temp: TempID("temp-1"), Body: "hi"}
	if !pending.Pending() {
		t.Fatalf("message with only temp id should be pending")
	}
	if _, ok := pending.Key().(TempID); !ok {
		t.Fatalf("pending key should be a TempID, got %T", pending.Key())
	}

	confirmed := Message{ID: MessageID("msg-9"), Temp: TempID("temp-1"), Body: "hi"}
	if confirmed.Pending() {
		t.Fatalf("message with server id should not be pending")
	}
	if _, ok := confirmed.Key().(MessageID); !ok {
		t.Fatalf("confirmed key should be a MessageID, got %T", confirmed.Key())
	}
	if !confirmed.Is(MessageID("msg-9")) {
		t.Fatalf("confirmed message should answer to its server id")
	}
	if !confirmed.Is(TempID("temp-1")) {
		t.Fatalf("confirmed message should still answer to its staging temp id")
	}
	if confirmed.Is(MessageID("msg-10")) {
		t.Fatalf("message matched a foreign id")
	}
	if confirmed.Is(nil) {
		t.Fatalf("nil key matched")
	}
}

func TestKeyString(t *testing.T) {
	if got := KeyString(MessageID("msg-1")); got != "msg-1" {
		t.Fatalf("KeyString(MessageID) = %q", got)
	}
	if got := KeyString(TempID("temp-2")); got != "temp-2" {
		t.Fatalf("KeyString(TempID) = %q", got)
	}
	if got := KeyString(nil); got != "" {
		t.Fatalf("KeyString(nil) = %q", got)
	}
}

func TestDirectoryKeyCanonicalizes(t *testing.T) {
	a := DirectoryKey("listing-7", []string{"u2", "u1"})
	b := DirectoryKey("listing-7", []string{"u1", "u2", "u1", " "})
	if a != b {
		t.Fatalf("directory keys differ for the same set: %q vs %q", a, b)
	}
	if a != "listing-7|u1,u2" {
		t.Fatalf("unexpected canonical key %q", a)
	}
	if DirectoryKey("listing-7", []string{"u1"}) == a {
		t.Fatalf("different participant sets must not collide")
	}
}

func TestConversationHelpers(t *testing.T) {
	c := Conversation{
		ID:        "conv-1",
		ListingID: "listing-7",
		Participants: []Participant{
			{ID: "u1", Name: "Ana"},
			{ID: "u2", Name: "Ben"},
		},
	}
	if !c.HasParticipant("u2") {
		t.Fatalf("expected u2 to be a participant")
	}
	if c.HasParticipant("u3") {
		t.Fatalf("u3 is not a participant")
	}
	if got := c.Counterpart("u1"); got.ID != "u2" {
		t.Fatalf("counterpart of u1 = %+v", got)
	}
	if got := c.Counterpart("u2"); got.ID != "u1" {
		t.Fatalf("counterpart of u2 = %+v", got)
	}
	if c.Key() != DirectoryKey("listing-7", []string{"u1", "u2"}) {
		t.Fatalf("conversation key mismatch: %q", c.Key())
	}
}
