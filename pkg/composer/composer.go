// Package composer owns the optimistic-send protocol for one conversation:
// stage a message locally, submit it, reconcile the local copy with the
// server-assigned identity, or roll back and restore the input on failure.
package composer

import (
	"context"
	"errors"
	"sync"
	"time"

	"parley/pkg/api"
	"parley/pkg/logger"
	"parley/pkg/metrics"
	"parley/pkg/models"
	"parley/pkg/session"
	"parley/pkg/store"
	"parley/pkg/validation"
)

// State of the submission machine. Confirmed and Failed are reported by
// LastResult; State itself returns to Idle as soon as a submission
// resolves, which is what re-arms the composer for the next send.
type State string

const (
	StateIdle      State = "idle"
	StatePending   State = "pending"
	StateConfirmed State = "confirmed"
	StateFailed    State = "failed"
)

var (
	// ErrBusy rejects re-entrant submits: one outstanding submission per
	// composer instance.
	ErrBusy = errors.New("a submission is already outstanding")
	// ErrPendingMessage rejects edit/delete of a message that has not been
	// confirmed yet; retry after it resolves.
	ErrPendingMessage = errors.New("message is awaiting confirmation")
	// ErrNotOwner rejects edit/delete of another participant's message.
	ErrNotOwner = errors.New("not the author of this message")
)

// Backend is the slice of the API client the composer needs.
type Backend interface {
	SendMessage(ctx context.Context, convID, content, kind string) (models.Message, error)
	EditMessage(ctx context.Context, convID string, id models.MessageID, content string) (models.Message, error)
	DeleteMessage(ctx context.Context, convID string, id models.MessageID) error
}

// Composer drives sends, edits and deletes for one conversation. Safe for
// concurrent use; concurrent Submit calls beyond the first are rejected
// with ErrBusy.
type Composer struct {
	conv string
	self session.Actor
	log  *store.Log
	api  Backend

	mu         sync.Mutex
	state      State
	lastResult State
	draft      string
	onTyping   func(conversation string)
}

func New(conv string, self session.Actor, log *store.Log, backend Backend) *Composer {
	return &Composer{conv: conv, self: self, log: log, api: backend, state: StateIdle}
}

// State returns Idle or Pending.
func (c *Composer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastResult returns the outcome of the most recent submission, if any.
func (c *Composer) LastResult() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastResult
}

// Draft returns the composer's input buffer. After a failed submit it
// holds the originally-typed text so the user can resubmit.
func (c *Composer) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// SetDraft updates the input buffer and fires the typing notifier.
func (c *Composer) SetDraft(text string) {
	c.mu.Lock()
	c.draft = text
	fn := c.onTyping
	c.mu.Unlock()
	if fn != nil && text != "" {
		fn(c.conv)
	}
}

// OnTyping registers a hook fired on draft edits; the presence overlay
// throttles and forwards it.
func (c *Composer) OnTyping(fn func(conversation string)) {
	c.mu.Lock()
	c.onTyping = fn
	c.mu.Unlock()
}

// Submit validates text, stages it optimistically and sends it. On success
// the pending entry is replaced in place by the confirmed message, which
// is returned. On failure the entry is removed, the input is restored to
// the draft buffer and the error surfaces; nothing retries automatically.
func (c *Composer) Submit(ctx context.Context, text, kind string) (models.Message, error) {
	if err := validation.MessageBody(text); err != nil {
		metrics.ObserveSend(metrics.SendRejected)
		return models.Message{}, err
	}
	if err := validation.MessageKind(kind); err != nil {
		metrics.ObserveSend(metrics.SendRejected)
		return models.Message{}, err
	}
	if kind == "" {
		kind = models.KindText
	}

	c.mu.Lock()
	if c.state == StatePending {
		c.mu.Unlock()
		return models.Message{}, ErrBusy
	}
	c.state = StatePending
	c.draft = ""
	c.mu.Unlock()

	temp := models.NewTempID()
	staged := models.Message{
		Temp:         temp,
		Conversation: c.conv,
		Sender:       c.self.ID,
		SenderName:   c.self.Name,
		Body:         text,
		Kind:         kind,
		TS:           time.Now().UTC().UnixNano(),
	}
	c.log.Append(staged)

	confirmed, err := c.api.SendMessage(ctx, c.conv, text, kind)
	if err != nil {
		c.log.Remove(temp)
		c.finish(StateFailed, text)
		metrics.ObserveSend(metrics.SendFailed)
		logger.Warn("message_send_failed", "conversation", c.conv, "temp_id", temp, "error", err)
		return models.Message{}, err
	}

	if rerr := c.log.Replace(temp, confirmed); rerr != nil {
		// the staged entry is gone (a refresh replaced the sequence);
		// make sure the confirmed message is present exactly once
		if _, ok := c.log.Get(confirmed.ID); !ok {
			c.log.Append(confirmed)
		}
	}
	c.finish(StateConfirmed, "")
	metrics.ObserveSend(metrics.SendConfirmed)
	logger.Info("message_confirmed", "conversation", c.conv, "temp_id", temp, "id", confirmed.ID)
	return confirmed, nil
}

// Edit replaces the body of a confirmed message of one's own. The change
// is applied optimistically and rolled back if the backend rejects it; a
// message the server no longer has is reconciled locally as deleted.
func (c *Composer) Edit(ctx context.Context, id models.MessageID, newBody string) error {
	if err := validation.MessageBody(newBody); err != nil {
		return err
	}
	prev, err := c.target(id)
	if err != nil {
		return err
	}

	_ = c.log.MarkEdited(id, newBody, time.Now().UTC().UnixNano())

	updated, err := c.api.EditMessage(ctx, c.conv, id, newBody)
	if err != nil {
		if errors.Is(err, api.ErrNotFound) {
			_ = c.log.MarkDeleted(id)
			logger.Info("edit_target_gone", "conversation", c.conv, "id", id)
			return nil
		}
		_ = c.log.Restore(prev)
		logger.Warn("message_edit_failed", "conversation", c.conv, "id", id, "error", err)
		return err
	}
	_ = c.log.MarkEdited(id, updated.Body, updated.EditedTS)
	logger.Info("message_edited", "conversation", c.conv, "id", id)
	return nil
}

// Delete tombstones a confirmed message of one's own. A message the server
// already dropped counts as deleted.
func (c *Composer) Delete(ctx context.Context, id models.MessageID) error {
	prev, err := c.target(id)
	if err != nil {
		return err
	}
	if prev.Deleted {
		return nil
	}

	_ = c.log.MarkDeleted(id)

	if err := c.api.DeleteMessage(ctx, c.conv, id); err != nil {
		if errors.Is(err, api.ErrNotFound) {
			logger.Info("delete_target_gone", "conversation", c.conv, "id", id)
			return nil
		}
		_ = c.log.Restore(prev)
		logger.Warn("message_delete_failed", "conversation", c.conv, "id", id, "error", err)
		return err
	}
	logger.Info("message_deleted", "conversation", c.conv, "id", id)
	return nil
}

// target resolves id to a confirmed message owned by the acting user.
// An empty id is how a pending message's server id reads, so it maps to
// ErrPendingMessage.
func (c *Composer) target(id models.MessageID) (models.Message, error) {
	if id == "" {
		return models.Message{}, ErrPendingMessage
	}
	m, ok := c.log.Get(id)
	if !ok {
		return models.Message{}, store.ErrNoSuchMessage
	}
	if m.Pending() {
		return models.Message{}, ErrPendingMessage
	}
	if m.Sender != c.self.ID {
		return models.Message{}, ErrNotOwner
	}
	return m, nil
}

func (c *Composer) finish(result State, draft string) {
	c.mu.Lock()
	c.state = StateIdle
	c.lastResult = result
	if draft != "" {
		c.draft = draft
	}
	c.mu.Unlock()
}
