// Package directory maps a listing to its conversation: look up before
// create, at most one conversation per (listing, participant-set). The
// uniqueness constraint itself lives on the backend (create returns the
// existing conversation on conflict); the directory closes the in-process
// race by collapsing concurrent calls for one key into a single flight.
package directory

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"parley/pkg/cache"
	"parley/pkg/logger"
	"parley/pkg/models"
)

// Backend is the slice of the API client the directory needs.
type Backend interface {
	ListConversations(ctx context.Context) ([]models.Conversation, error)
	CreateConversation(ctx context.Context, listingID string, participants []string) (models.Conversation, error)
}

// Directory is safe for concurrent use.
type Directory struct {
	api  Backend
	self string

	mu    sync.RWMutex
	byKey map[string]models.Conversation
	byID  map[string]models.Conversation

	group singleflight.Group
}

// New builds a directory for the acting user self. The actor is always part
// of the participant set, so callers name only the counterpart(s).
func New(api Backend, self string) *Directory {
	return &Directory{
		api:   api,
		self:  self,
		byKey: make(map[string]models.Conversation),
		byID:  make(map[string]models.Conversation),
	}
}

// GetOrCreate returns the conversation about listingID with the given
// counterpart participants, creating it on first contact. Idempotent:
// repeated and concurrent calls converge on one conversation id.
func (d *Directory) GetOrCreate(ctx context.Context, listingID string, participants []string) (models.Conversation, error) {
	if listingID == "" {
		return models.Conversation{}, fmt.Errorf("empty listing id")
	}
	key := d.key(listingID, participants)

	d.mu.RLock()
	conv, ok := d.byKey[key]
	d.mu.RUnlock()
	if ok {
		return conv, nil
	}

	v, err, _ := d.group.Do(key, func() (any, error) {
		// re-check under the flight; a racing call may have filled the index
		d.mu.RLock()
		conv, ok := d.byKey[key]
		d.mu.RUnlock()
		if ok {
			return conv, nil
		}

		listed, err := d.api.ListConversations(ctx)
		if err != nil {
			return nil, err
		}
		for _, c := range listed {
			d.index(c)
		}
		d.mu.RLock()
		conv, ok = d.byKey[key]
		d.mu.RUnlock()
		if ok {
			return conv, nil
		}

		created, err := d.api.CreateConversation(ctx, listingID, participants)
		if err != nil {
			return nil, err
		}
		logger.Info("conversation_resolved", "listing", listingID, "conversation", created.ID)
		d.index(created)
		return created, nil
	})
	if err != nil {
		return models.Conversation{}, err
	}
	return v.(models.Conversation), nil
}

// List refreshes the directory from the backend and returns all of the
// actor's conversations.
func (d *Directory) List(ctx context.Context) ([]models.Conversation, error) {
	listed, err := d.api.ListConversations(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range listed {
		d.index(c)
	}
	return listed, nil
}

// ListCached serves the mirrored conversation records without the network;
// the mount-time render.
func (d *Directory) ListCached() []models.Conversation {
	if cache.Ready() {
		if metas, err := cache.ListMetas(); err == nil && len(metas) > 0 {
			for _, c := range metas {
				d.index(c)
			}
			return metas
		}
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]models.Conversation, 0, len(d.byID))
	for _, c := range d.byID {
		out = append(out, c)
	}
	return out
}

// Lookup finds a conversation in the local index only.
func (d *Directory) Lookup(listingID string, participants []string) (models.Conversation, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	conv, ok := d.byKey[d.key(listingID, participants)]
	return conv, ok
}

// Get resolves a conversation id through the index, then the mirror.
func (d *Directory) Get(convID string) (models.Conversation, bool) {
	d.mu.RLock()
	conv, ok := d.byID[convID]
	d.mu.RUnlock()
	if ok {
		return conv, true
	}
	if cache.Ready() {
		if conv, ok, err := cache.GetMeta(convID); err == nil && ok {
			d.index(conv)
			return conv, true
		}
	}
	return models.Conversation{}, false
}

func (d *Directory) key(listingID string, participants []string) string {
	return models.DirectoryKey(listingID, append([]string{d.self}, participants...))
}

func (d *Directory) index(c models.Conversation) {
	if c.ID == "" {
		return
	}
	d.mu.Lock()
	d.byKey[c.Key()] = c
	d.byID[c.ID] = c
	d.mu.Unlock()
	if cache.Ready() {
		if err := cache.PutMeta(c); err != nil {
			logger.Warn("conversation_mirror_failed", "conversation", c.ID, "error", err)
		}
	}
}
