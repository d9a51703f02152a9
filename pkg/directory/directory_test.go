package directory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"parley/pkg/cache"
	"parley/pkg/models"
)

// fakeBackend behaves like the real one: create is idempotent per
// (listing, participant-set).
type fakeBackend struct {
	mu          sync.Mutex
	convs       []models.Conversation
	listCalls   int
	createCalls int
	createDelay time.Duration
	err         error
}

func (f *fakeBackend) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]models.Conversation(nil), f.convs...), nil
}

func (f *fakeBackend) CreateConversation(ctx context.Context, listingID string, participants []string) (models.Conversation, error) {
	if f.createDelay > 0 {
		time.Sleep(f.createDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.err != nil {
		return models.Conversation{}, f.err
	}
	ps := []models.Participant{{ID: "u1"}}
	for _, p := range participants {
		ps = append(ps, models.Participant{ID: p})
	}
	want := models.DirectoryKey(listingID, append([]string{"u1"}, participants...))
	for _, c := range f.convs {
		if c.Key() == want {
			return c, nil
		}
	}
	conv := models.Conversation{
		ID:           fmt.Sprintf("conv-%d", len(f.convs)+1),
		ListingID:    listingID,
		Participants: ps,
	}
	f.convs = append(f.convs, conv)
	return conv, nil
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	_ = cache.Close()
	b := &fakeBackend{}
	d := New(b, "u1")

	first, err := d.GetOrCreate(context.Background(), "listing-7", []string{"u2"})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	second, err := d.GetOrCreate(context.Background(), "listing-7", []string{"u2"})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if first.ID == "" || first.ID != second.ID {
		t.Fatalf("ids diverged: %q vs %q", first.ID, second.ID)
	}
	if b.createCalls != 1 {
		t.Fatalf("create called %d times", b.createCalls)
	}
	if b.listCalls != 1 {
		t.Fatalf("second call should be a local hit, list called %d times", b.listCalls)
	}
}

func TestGetOrCreateFindsExistingOnBackend(t *testing.T) {
	_ = cache.Close()
	existing := models.Conversation{
		ID:        "conv-77",
		ListingID: "listing-7",
		Participants: []models.Participant{
			{ID: "u1"}, {ID: "u2"},
		},
	}
	b := &fakeBackend{convs: []models.Conversation{existing}}
	d := New(b, "u1")

	got, err := d.GetOrCreate(context.Background(), "listing-7", []string{"u2"})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if got.ID != "conv-77" {
		t.Fatalf("existing conversation not reused: %+v", got)
	}
	if b.createCalls != 0 {
		t.Fatalf("create called for an existing conversation")
	}
}

func TestConcurrentCallsConvergeOnOneConversation(t *testing.T) {
	_ = cache.Close()
	b := &fakeBackend{createDelay: 30 * time.Millisecond}
	d := New(b, "u1")

	const n = 8
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv, err := d.GetOrCreate(context.Background(), "listing-7", []string{"u2"})
			if err != nil {
				t.Errorf("GetOrCreate: %v", err)
				return
			}
			ids[i] = conv.ID
		}(i)
	}
	wg.Wait()
	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("callers diverged: %v", ids)
		}
	}
	if b.createCalls != 1 {
		t.Fatalf("create called %d times for one key", b.createCalls)
	}
}

func TestGetOrCreateDistinctKeysDistinctConversations(t *testing.T) {
	_ = cache.Close()
	b := &fakeBackend{}
	d := New(b, "u1")
	a, _ := d.GetOrCreate(context.Background(), "listing-1", []string{"u2"})
	c, _ := d.GetOrCreate(context.Background(), "listing-2", []string{"u2"})
	if a.ID == c.ID {
		t.Fatalf("different listings share a conversation")
	}
}

func TestBackendErrorPropagates(t *testing.T) {
	_ = cache.Close()
	b := &fakeBackend{err: errors.New("credential rejected")}
	d := New(b, "u1")
	if _, err := d.GetOrCreate(context.Background(), "listing-7", []string{"u2"}); err == nil {
		t.Fatalf("expected backend error")
	}
	if _, err := d.GetOrCreate(context.Background(), "", []string{"u2"}); err == nil {
		t.Fatalf("expected validation error for empty listing")
	}
}

func TestGetFallsBackToMirror(t *testing.T) {
	_ = cache.Close()
	if err := cache.Open(t.TempDir()); err != nil {
		t.Fatalf("cache.Open: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })

	mirrored := models.Conversation{ID: "conv-5", ListingID: "listing-5", Participants: []models.Participant{{ID: "u1"}, {ID: "u9"}}}
	if err := cache.PutMeta(mirrored); err != nil {
		t.Fatalf("PutMeta: %v", err)
	}

	d := New(&fakeBackend{}, "u1")
	got, ok := d.Get("conv-5")
	if !ok || got.ListingID != "listing-5" {
		t.Fatalf("mirror fallback failed: %+v ok=%v", got, ok)
	}
	if _, ok := d.Get("conv-404"); ok {
		t.Fatalf("unknown id resolved")
	}
	// once indexed, the lookup also answers by key
	if _, ok := d.Lookup("listing-5", []string{"u9"}); !ok {
		t.Fatalf("indexed conversation not found by key")
	}
}

func TestListRefreshesIndexAndMirror(t *testing.T) {
	_ = cache.Close()
	if err := cache.Open(t.TempDir()); err != nil {
		t.Fatalf("cache.Open: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })

	b := &fakeBackend{convs: []models.Conversation{
		{ID: "conv-1", ListingID: "l1", Participants: []models.Participant{{ID: "u1"}, {ID: "u2"}}},
		{ID: "conv-2", ListingID: "l2", Participants: []models.Participant{{ID: "u1"}, {ID: "u3"}}},
	}}
	d := New(b, "u1")
	listed, err := d.List(context.Background())
	if err != nil || len(listed) != 2 {
		t.Fatalf("List: %v len=%d", err, len(listed))
	}
	cached := d.ListCached()
	if len(cached) != 2 {
		t.Fatalf("mirror not populated: %d", len(cached))
	}
}
