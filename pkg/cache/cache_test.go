package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cockroachdb/pebble"

	"parley/pkg/models"
)

func openTemp(t *testing.T) {
	t.Helper()
	if db != nil {
		_ = Close()
	}
	if err := Open(t.TempDir()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = Close() })
}

// writeAgedLog plants a log entry with a controlled write timestamp.
func writeAgedLog(t *testing.T, convID string, age time.Duration, msgs []models.Message) {
	t.Helper()
	ent := Entry{WrittenTS: time.Now().Add(-age).UTC().UnixNano(), Messages: msgs}
	data, err := json.Marshal(ent)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := db.Set(logKey(convID), data, pebble.Sync); err != nil {
		t.Fatalf("set: %v", err)
	}
}

func TestLogRoundTrip(t *testing.T) {
	openTemp(t)
	msgs := []models.Message{
		{ID: "msg-1", Conversation: "conv-1", Sender: "u1", Body: "hello", TS: 100},
		{ID: "msg-2", Conversation: "conv-1", Sender: "u2", Body: "hi", TS: 200},
	}
	if err := PutLog("conv-1", msgs); err != nil {
		t.Fatalf("PutLog: %v", err)
	}
	got, ok, err := GetLog("conv-1", DefaultTTL)
	if err != nil || !ok {
		t.Fatalf("GetLog: %v ok=%v", err, ok)
	}
	if len(got) != 2 || got[0].ID != "msg-1" || got[1].Body != "hi" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestGetLogMissWhenAbsent(t *testing.T) {
	openTemp(t)
	if _, ok, err := GetLog("conv-none", DefaultTTL); err != nil || ok {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}
}

func TestStaleEntryDiscardedOnRead(t *testing.T) {
	openTemp(t)
	writeAgedLog(t, "conv-1", 25*time.Hour, []models.Message{{ID: "msg-1", Body: "old"}})

	if _, ok, _ := GetLog("conv-1", 24*time.Hour); ok {
		t.Fatalf("stale entry served as a hit")
	}
	// the stale entry must be gone, not just skipped
	if _, err := Get(string(logKey("conv-1"))); err != pebble.ErrNotFound {
		t.Fatalf("stale entry still stored: %v", err)
	}
}

func TestFreshEntryWithinTTLServed(t *testing.T) {
	openTemp(t)
	writeAgedLog(t, "conv-1", 23*time.Hour, []models.Message{{ID: "msg-1", Body: "recent"}})
	got, ok, err := GetLog("conv-1", 24*time.Hour)
	if err != nil || !ok || len(got) != 1 {
		t.Fatalf("fresh entry not served: ok=%v err=%v", ok, err)
	}
}

func TestZeroTTLDisablesFreshness(t *testing.T) {
	openTemp(t)
	writeAgedLog(t, "conv-1", 1000*time.Hour, []models.Message{{ID: "msg-1"}})
	if _, ok, _ := GetLog("conv-1", 0); !ok {
		t.Fatalf("ttl<=0 should serve any entry")
	}
}

func TestCorruptEntryIsMissAndDeleted(t *testing.T) {
	openTemp(t)
	if err := db.Set(logKey("conv-1"), []byte("{not json"), pebble.Sync); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok, err := GetLog("conv-1", DefaultTTL); err != nil || ok {
		t.Fatalf("corrupt entry not a miss: ok=%v err=%v", ok, err)
	}
	if _, err := Get(string(logKey("conv-1"))); err != pebble.ErrNotFound {
		t.Fatalf("corrupt entry not deleted: %v", err)
	}
}

func TestMetaRoundTripAndList(t *testing.T) {
	openTemp(t)
	c1 := models.Conversation{ID: "conv-1", ListingID: "listing-1", Participants: []models.Participant{{ID: "u1"}}}
	c2 := models.Conversation{ID: "conv-2", ListingID: "listing-2"}
	if err := PutMeta(c1); err != nil {
		t.Fatalf("PutMeta: %v", err)
	}
	if err := PutMeta(c2); err != nil {
		t.Fatalf("PutMeta: %v", err)
	}
	got, ok, err := GetMeta("conv-1")
	if err != nil || !ok || got.ListingID != "listing-1" {
		t.Fatalf("GetMeta: %+v ok=%v err=%v", got, ok, err)
	}
	all, err := ListMetas()
	if err != nil || len(all) != 2 {
		t.Fatalf("ListMetas: %d err=%v", len(all), err)
	}
	if err := PutMeta(models.Conversation{}); err == nil {
		t.Fatalf("PutMeta accepted empty id")
	}
}

func TestDeleteRemovesLogAndMeta(t *testing.T) {
	openTemp(t)
	_ = PutLog("conv-1", []models.Message{{ID: "msg-1"}})
	_ = PutMeta(models.Conversation{ID: "conv-1"})
	if err := Delete("conv-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := GetLog("conv-1", 0); ok {
		t.Fatalf("log survived delete")
	}
	if _, ok, _ := GetMeta("conv-1"); ok {
		t.Fatalf("meta survived delete")
	}
}

func TestSweepExpired(t *testing.T) {
	openTemp(t)
	writeAgedLog(t, "conv-old", 48*time.Hour, []models.Message{{ID: "a"}})
	writeAgedLog(t, "conv-new", time.Minute, []models.Message{{ID: "b"}})
	_ = db.Set(logKey("conv-bad"), []byte("junk"), pebble.Sync)
	_ = PutMeta(models.Conversation{ID: "conv-old"})

	n, err := SweepExpired(24 * time.Hour)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if n != 2 {
		t.Fatalf("evicted %d entries, want 2 (stale + corrupt)", n)
	}
	if _, ok, _ := GetLog("conv-new", 0); !ok {
		t.Fatalf("fresh entry swept")
	}
	if _, ok, _ := GetMeta("conv-old"); !ok {
		t.Fatalf("sweep must not touch meta records")
	}
}

func TestKeysPrefix(t *testing.T) {
	openTemp(t)
	_ = PutLog("conv-1", nil)
	_ = PutMeta(models.Conversation{ID: "conv-1"})
	keys, err := Keys("conv:conv-1")
	if err != nil || len(keys) != 2 {
		t.Fatalf("Keys: %v err=%v", keys, err)
	}
}

func TestNotOpenedGuards(t *testing.T) {
	if db != nil {
		_ = Close()
	}
	if err := PutLog("c", nil); err == nil {
		t.Fatalf("PutLog without Open should fail")
	}
	if _, _, err := GetLog("c", 0); err == nil {
		t.Fatalf("GetLog without Open should fail")
	}
	if _, err := SweepExpired(0); err == nil {
		t.Fatalf("SweepExpired without Open should fail")
	}
	if Ready() {
		t.Fatalf("Ready without Open")
	}
}

func TestJanitorStartAndCancel(t *testing.T) {
	openTemp(t)
	if _, err := StartJanitor(context.Background(), "not a cron", time.Hour); err == nil {
		t.Fatalf("invalid cron accepted")
	}
	cancel, err := StartJanitor(context.Background(), "", time.Hour)
	if err != nil {
		t.Fatalf("StartJanitor: %v", err)
	}
	cancel()
}

func TestSchemaMismatchPurgesMirror(t *testing.T) {
	if db != nil {
		_ = Close()
	}
	dir := t.TempDir()
	if err := Open(dir); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	_ = PutLog("conv-1", []models.Message{{ID: "msg-1", Body: "hello"}})
	_ = PutMeta(models.Conversation{ID: "conv-1"})

	// same-version reopen keeps entries
	if err := Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := Open(dir); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, ok, _ := GetLog("conv-1", 0); !ok {
		t.Fatalf("entry lost on same-version reopen")
	}

	// an older mirror format gets dropped wholesale
	if err := db.Set(schemaKey, []byte("0"), pebble.Sync); err != nil {
		t.Fatalf("set version: %v", err)
	}
	_ = Close()
	if err := Open(dir); err != nil {
		t.Fatalf("reopen after downgrade: %v", err)
	}
	if _, ok, _ := GetLog("conv-1", 0); ok {
		t.Fatalf("old-format entry survived schema bump")
	}
	if _, ok, _ := GetMeta("conv-1"); ok {
		t.Fatalf("old-format meta survived schema bump")
	}
	v, closer, err := db.Get(schemaKey)
	if err != nil {
		t.Fatalf("schema key missing: %v", err)
	}
	if string(v) != schemaVersion {
		t.Fatalf("schema version = %q, want %q", v, schemaVersion)
	}
	_ = closer.Close()
}
