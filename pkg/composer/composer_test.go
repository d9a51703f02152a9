package composer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"parley/pkg/api"
	"parley/pkg/models"
	"parley/pkg/session"
	"parley/pkg/store"
	"parley/pkg/validation"
)

type fakeBackend struct {
	mu      sync.Mutex
	sends   int
	edits   int
	deletes int

	sendFn func(ctx context.Context, convID, content, kind string) (models.Message, error)
	editFn func(ctx context.Context, convID string, id models.MessageID, content string) (models.Message, error)
	delFn  func(ctx context.Context, convID string, id models.MessageID) error
}

func (f *fakeBackend) SendMessage(ctx context.Context, convID, content, kind string) (models.Message, error) {
	f.mu.Lock()
	f.sends++
	f.mu.Unlock()
	if f.sendFn != nil {
		return f.sendFn(ctx, convID, content, kind)
	}
	return models.Message{ID: "msg-1", Conversation: convID, Sender: "u1", Body: content, Kind: kind, TS: 100}, nil
}

func (f *fakeBackend) EditMessage(ctx context.Context, convID string, id models.MessageID, content string) (models.Message, error) {
	f.mu.Lock()
	f.edits++
	f.mu.Unlock()
	if f.editFn != nil {
		return f.editFn(ctx, convID, id, content)
	}
	return models.Message{ID: id, Conversation: convID, Sender: "u1", Body: content, Edited: true, EditedTS: 200}, nil
}

func (f *fakeBackend) DeleteMessage(ctx context.Context, convID string, id models.MessageID) error {
	f.mu.Lock()
	f.deletes++
	f.mu.Unlock()
	if f.delFn != nil {
		return f.delFn(ctx, convID, id)
	}
	return nil
}

func (f *fakeBackend) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sends
}

func newComposer(backend *fakeBackend) (*Composer, *store.Log) {
	log := store.NewLog("conv-1", 0)
	self := session.Actor{ID: "u1", Name: "Ana"}
	return New("conv-1", self, log, backend), log
}

func TestSubmitConfirmsInPlace(t *testing.T) {
	var log *store.Log
	backend := &fakeBackend{}
	backend.sendFn = func(ctx context.Context, convID, content, kind string) (models.Message, error) {
		// mid-flight the staged entry must already be visible
		msgs := log.Messages()
		if len(msgs) != 1 {
			t.Fatalf("expected 1 staged message mid-flight, got %d", len(msgs))
		}
		staged := msgs[0]
		if !staged.Pending() {
			t.Fatal("staged message should be pending")
		}
		if !strings.HasPrefix(string(staged.Temp), "temp-") {
			t.Fatalf("unexpected temp id %q", staged.Temp)
		}
		if staged.Sender != "u1" || staged.Body != "Hello" {
			t.Fatalf("unexpected staged message %+v", staged)
		}
		return models.Message{ID: "msg-9", Conversation: convID, Sender: "u1", Body: content, Kind: kind, TS: 500}, nil
	}
	c, l := newComposer(backend)
	log = l

	confirmed, err := c.Submit(context.Background(), "Hello", models.KindText)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if confirmed.ID != "msg-9" {
		t.Fatalf("confirmed id = %q", confirmed.ID)
	}
	msgs := log.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message after confirm, got %d", len(msgs))
	}
	if msgs[0].ID != "msg-9" || msgs[0].Pending() {
		t.Fatalf("entry not confirmed in place: %+v", msgs[0])
	}
	if c.State() != StateIdle {
		t.Fatalf("state = %q, want idle", c.State())
	}
	if c.LastResult() != StateConfirmed {
		t.Fatalf("last result = %q", c.LastResult())
	}
	if c.Draft() != "" {
		t.Fatalf("draft should be empty after a confirmed send, got %q", c.Draft())
	}
}

func TestSubmitFailureRollsBackAndRestoresDraft(t *testing.T) {
	backend := &fakeBackend{
		sendFn: func(ctx context.Context, convID, content, kind string) (models.Message, error) {
			return models.Message{}, &api.Error{Status: 503, Endpoint: "send_message", Message: "unreachable"}
		},
	}
	c, log := newComposer(backend)

	_, err := c.Submit(context.Background(), "Offer?", models.KindText)
	if err == nil {
		t.Fatal("expected error from failed send")
	}
	if !api.IsTransient(err) {
		t.Fatalf("503 should classify as transient: %v", err)
	}
	if n := log.Len(); n != 0 {
		t.Fatalf("staged entry should be rolled back, log has %d", n)
	}
	if c.Draft() != "Offer?" {
		t.Fatalf("draft = %q, want original text restored", c.Draft())
	}
	if c.State() != StateIdle || c.LastResult() != StateFailed {
		t.Fatalf("state = %q last = %q", c.State(), c.LastResult())
	}

	// no automatic retry: exactly one send attempt was made
	if backend.sendCount() != 1 {
		t.Fatalf("send attempts = %d, want 1", backend.sendCount())
	}
}

func TestSubmitWhilePendingReturnsBusy(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	backend := &fakeBackend{
		sendFn: func(ctx context.Context, convID, content, kind string) (models.Message, error) {
			close(entered)
			<-release
			return models.Message{ID: "msg-1", Sender: "u1", Body: content}, nil
		},
	}
	c, _ := newComposer(backend)

	done := make(chan error, 1)
	go func() {
		_, err := c.Submit(context.Background(), "first", models.KindText)
		done <- err
	}()
	<-entered

	if c.State() != StatePending {
		t.Fatalf("state = %q, want pending", c.State())
	}
	if _, err := c.Submit(context.Background(), "second", models.KindText); !errors.Is(err, ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if backend.sendCount() != 1 {
		t.Fatalf("send attempts = %d, want 1", backend.sendCount())
	}
}

func TestSubmitValidatesBeforeNetwork(t *testing.T) {
	backend := &fakeBackend{}
	c, log := newComposer(backend)

	if _, err := c.Submit(context.Background(), "   \n\t ", models.KindText); !errors.Is(err, validation.ErrEmptyBody) {
		t.Fatalf("err = %v, want ErrEmptyBody", err)
	}
	if _, err := c.Submit(context.Background(), strings.Repeat("x", validation.MaxBodyRunes+1), models.KindText); !errors.Is(err, validation.ErrBodyTooLong) {
		t.Fatalf("err = %v, want ErrBodyTooLong", err)
	}
	if _, err := c.Submit(context.Background(), "ok", "carrier-pigeon"); !errors.Is(err, validation.ErrBadKind) {
		t.Fatalf("err = %v, want ErrBadKind", err)
	}
	if backend.sendCount() != 0 {
		t.Fatalf("rejected input must not reach the network, sends = %d", backend.sendCount())
	}
	if log.Len() != 0 {
		t.Fatalf("rejected input must not be staged, log has %d", log.Len())
	}
}

func TestEditConfirmedOwnMessage(t *testing.T) {
	backend := &fakeBackend{}
	c, log := newComposer(backend)
	log.Append(models.Message{ID: "msg-1", Sender: "u1", Body: "typo", TS: 10})

	if err := c.Edit(context.Background(), "msg-1", "fixed"); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	m, ok := log.Get(models.MessageID("msg-1"))
	if !ok {
		t.Fatal("message vanished")
	}
	if m.Body != "fixed" || !m.Edited || m.EditedTS != 200 {
		t.Fatalf("edit not applied with server timestamp: %+v", m)
	}
}

func TestEditRejectsPendingAndForeign(t *testing.T) {
	backend := &fakeBackend{}
	c, log := newComposer(backend)
	log.Append(models.Message{Temp: "temp-abc", Sender: "u1", Body: "sending", TS: 10})
	log.Append(models.Message{ID: "msg-2", Sender: "u2", Body: "theirs", TS: 20})

	if err := c.Edit(context.Background(), "", "x"); !errors.Is(err, ErrPendingMessage) {
		t.Fatalf("pending edit err = %v", err)
	}
	if err := c.Edit(context.Background(), "msg-2", "x"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("foreign edit err = %v", err)
	}
	if err := c.Edit(context.Background(), "msg-404", "x"); !errors.Is(err, store.ErrNoSuchMessage) {
		t.Fatalf("unknown edit err = %v", err)
	}
	if err := c.Delete(context.Background(), ""); !errors.Is(err, ErrPendingMessage) {
		t.Fatalf("pending delete err = %v", err)
	}
	if err := c.Delete(context.Background(), "msg-2"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("foreign delete err = %v", err)
	}
	if backend.edits != 0 || backend.deletes != 0 {
		t.Fatalf("rejected mutations must not reach the network: edits=%d deletes=%d", backend.edits, backend.deletes)
	}
}

func TestEditTransientFailureRollsBack(t *testing.T) {
	backend := &fakeBackend{
		editFn: func(ctx context.Context, convID string, id models.MessageID, content string) (models.Message, error) {
			return models.Message{}, &api.Error{Status: 500, Endpoint: "edit_message"}
		},
	}
	c, log := newComposer(backend)
	log.Append(models.Message{ID: "msg-1", Sender: "u1", Body: "original", TS: 10})

	if err := c.Edit(context.Background(), "msg-1", "changed"); err == nil {
		t.Fatal("expected edit error")
	}
	m, _ := log.Get(models.MessageID("msg-1"))
	if m.Body != "original" || m.Edited {
		t.Fatalf("rollback did not restore the message: %+v", m)
	}
}

func TestEditGoneMessageReconcilesAsDeleted(t *testing.T) {
	backend := &fakeBackend{
		editFn: func(ctx context.Context, convID string, id models.MessageID, content string) (models.Message, error) {
			return models.Message{}, &api.Error{Status: 404, Endpoint: "edit_message"}
		},
	}
	c, log := newComposer(backend)
	log.Append(models.Message{ID: "msg-1", Sender: "u1", Body: "original", TS: 10})

	if err := c.Edit(context.Background(), "msg-1", "changed"); err != nil {
		t.Fatalf("edit of a server-deleted message should reconcile, got %v", err)
	}
	m, _ := log.Get(models.MessageID("msg-1"))
	if !m.Deleted || m.Body != models.Tombstone {
		t.Fatalf("expected local tombstone, got %+v", m)
	}
}

func TestDeleteTombstonesInPlace(t *testing.T) {
	backend := &fakeBackend{}
	c, log := newComposer(backend)
	log.Append(models.Message{ID: "msg-1", Sender: "u1", Body: "a", TS: 10})
	log.Append(models.Message{ID: "msg-2", Sender: "u1", Body: "b", TS: 20})

	if err := c.Delete(context.Background(), "msg-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	msgs := log.Messages()
	if len(msgs) != 2 {
		t.Fatalf("delete must keep the slot, got %d messages", len(msgs))
	}
	if !msgs[0].Deleted || msgs[0].Body != models.Tombstone {
		t.Fatalf("expected tombstone in slot 0: %+v", msgs[0])
	}

	// deleting again is a no-op, not another round trip
	if err := c.Delete(context.Background(), "msg-1"); err != nil {
		t.Fatalf("repeat delete: %v", err)
	}
	if backend.deletes != 1 {
		t.Fatalf("delete calls = %d, want 1", backend.deletes)
	}
}

func TestDeleteGoneMessageCountsAsDeleted(t *testing.T) {
	backend := &fakeBackend{
		delFn: func(ctx context.Context, convID string, id models.MessageID) error {
			return &api.Error{Status: 404, Endpoint: "delete_message"}
		},
	}
	c, log := newComposer(backend)
	log.Append(models.Message{ID: "msg-1", Sender: "u1", Body: "a", TS: 10})

	if err := c.Delete(context.Background(), "msg-1"); err != nil {
		t.Fatalf("delete of an already-gone message should succeed, got %v", err)
	}
	m, _ := log.Get(models.MessageID("msg-1"))
	if !m.Deleted || m.Body != models.Tombstone {
		t.Fatalf("expected tombstone, got %+v", m)
	}
}

func TestDeleteTransientFailureRollsBack(t *testing.T) {
	backend := &fakeBackend{
		delFn: func(ctx context.Context, convID string, id models.MessageID) error {
			return &api.Error{Status: 503, Endpoint: "delete_message"}
		},
	}
	c, log := newComposer(backend)
	log.Append(models.Message{ID: "msg-1", Sender: "u1", Body: "keep me", TS: 10})

	if err := c.Delete(context.Background(), "msg-1"); err == nil {
		t.Fatal("expected delete error")
	}
	m, _ := log.Get(models.MessageID("msg-1"))
	if m.Deleted || m.Body != "keep me" {
		t.Fatalf("rollback did not restore the message: %+v", m)
	}
}

func TestSetDraftFiresTypingHook(t *testing.T) {
	c, _ := newComposer(&fakeBackend{})
	var got []string
	c.OnTyping(func(conv string) { got = append(got, conv) })

	c.SetDraft("H")
	c.SetDraft("He")
	c.SetDraft("")

	if len(got) != 2 {
		t.Fatalf("typing hook fired %d times, want 2 (empty draft is not typing)", len(got))
	}
	if got[0] != "conv-1" {
		t.Fatalf("hook conversation = %q", got[0])
	}
	if c.Draft() != "" {
		t.Fatalf("draft = %q", c.Draft())
	}
}
