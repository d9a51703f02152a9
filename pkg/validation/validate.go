// Package validation rejects bad input before it reaches the network.
package validation

import (
	"errors"
	"strings"
	"unicode/utf8"

	"parley/pkg/models"
)

var (
	ErrEmptyBody      = errors.New("empty message body")
	ErrBodyTooLong    = errors.New("message body too long")
	ErrBadKind        = errors.New("unsupported message kind")
	ErrEmptyListing   = errors.New("empty listing id")
	ErrNoParticipants = errors.New("no counterpart participants")
)

// MaxBodyRunes caps message bodies; the backend enforces the same limit.
const MaxBodyRunes = 4000

// MessageBody rejects blank and oversize bodies.
func MessageBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return ErrEmptyBody
	}
	if utf8.RuneCountInString(body) > MaxBodyRunes {
		return ErrBodyTooLong
	}
	return nil
}

// MessageKind accepts the known kinds; empty means the default text kind.
func MessageKind(kind string) error {
	switch kind {
	case "", models.KindText, models.KindOffer:
		return nil
	}
	return ErrBadKind
}

// ConversationRequest checks a get-or-create request before it is sent.
func ConversationRequest(listingID string, participants []string) error {
	if strings.TrimSpace(listingID) == "" {
		return ErrEmptyListing
	}
	for _, p := range participants {
		if strings.TrimSpace(p) != "" {
			return nil
		}
	}
	return ErrNoParticipants
}
