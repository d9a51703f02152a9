// Package cache is the client-local mirror of conversation state: a pebble
// DB holding, per conversation, the ordered message log and a last-write
// timestamp, plus the conversation record itself. The mirror is never
// authoritative, only a latency optimization; log entries older than the
// TTL are discarded on read so the caller must re-fetch from the network.
package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	"parley/pkg/logger"
	"parley/pkg/metrics"
	"parley/pkg/models"
)

// DefaultTTL is the freshness window for cached message logs.
const DefaultTTL = 24 * time.Hour

var (
	db     *pebble.DB
	dbPath string
)

// Entry is the stored value for one conversation's message log.
type Entry struct {
	WrittenTS int64            `json:"written_ts"`
	Messages  []models.Message `json:"messages"`
}

// Open opens (or creates) the cache database at path and keeps a global
// handle for simple usage in this package. Pebble holds a directory lock,
// so a second process opening the same path fails here.
func Open(path string) error {
	var err error
	logger.Info("opening_cache_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("cache_open_failed", "path", path, "error", err)
		return err
	}
	if err := ensureSchema(); err != nil {
		logger.Error("cache_schema_check_failed", "path", path, "error", err)
		_ = db.Close()
		db = nil
		return err
	}
	dbPath = path
	logger.Info("cache_opened", "path", path)
	return nil
}

// OpenReadOnly attaches to an existing mirror without the schema check and
// with writes disabled, for inspection tools. Pebble still takes the
// directory lock, so it fails while a writer has the mirror open.
func OpenReadOnly(path string) error {
	var err error
	db, err = pebble.Open(path, &pebble.Options{ReadOnly: true})
	if err != nil {
		return err
	}
	dbPath = path
	return nil
}

// Close closes the opened cache DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	dbPath = ""
	logger.Info("cache_closed")
	return nil
}

// Ready reports whether the cache is opened and ready.
func Ready() bool {
	return db != nil
}

// Path returns the directory of the open cache DB.
func Path() string { return dbPath }

func logKey(convID string) []byte  { return []byte("conv:" + convID + ":log") }
func metaKey(convID string) []byte { return []byte("conv:" + convID + ":meta") }

// PutLog writes through the full ordered message log for a conversation,
// stamping the entry with the current time.
func PutLog(convID string, msgs []models.Message) error {
	if db == nil {
		return fmt.Errorf("cache not opened; call cache.Open first")
	}
	ent := Entry{WrittenTS: time.Now().UTC().UnixNano(), Messages: msgs}
	data, err := json.Marshal(ent)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	if err := db.Set(logKey(convID), data, pebble.Sync); err != nil {
		logger.Error("cache_log_write_failed", "conversation", convID, "error", err)
		return err
	}
	logger.Debug("cache_log_written", "conversation", convID, "count", len(msgs))
	return nil
}

// GetLog returns the cached log for a conversation if present and fresher
// than ttl. Stale and corrupt entries are deleted and reported as misses,
// forcing the caller back to the network. ttl <= 0 disables the freshness
// check.
func GetLog(convID string, ttl time.Duration) ([]models.Message, bool, error) {
	if db == nil {
		return nil, false, fmt.Errorf("cache not opened; call cache.Open first")
	}
	val, closer, err := db.Get(logKey(convID))
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	data := append([]byte(nil), val...)
	_ = closer.Close()

	var ent Entry
	if err := json.Unmarshal(data, &ent); err != nil {
		logger.Warn("cache_entry_corrupt", "conversation", convID, "error", err)
		_ = db.Delete(logKey(convID), pebble.Sync)
		metrics.ObserveCacheEviction()
		return nil, false, nil
	}
	if ttl > 0 && time.Since(time.Unix(0, ent.WrittenTS)) >= ttl {
		logger.Debug("cache_entry_stale", "conversation", convID, "written_ts", ent.WrittenTS)
		_ = db.Delete(logKey(convID), pebble.Sync)
		metrics.ObserveCacheEviction()
		return nil, false, nil
	}
	return ent.Messages, true, nil
}

// PutMeta mirrors the conversation record.
func PutMeta(conv models.Conversation) error {
	if db == nil {
		return fmt.Errorf("cache not opened; call cache.Open first")
	}
	if conv.ID == "" {
		return fmt.Errorf("conversation without id")
	}
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	return db.Set(metaKey(conv.ID), data, pebble.Sync)
}

// GetMeta returns the mirrored conversation record, if any.
func GetMeta(convID string) (models.Conversation, bool, error) {
	if db == nil {
		return models.Conversation{}, false, fmt.Errorf("cache not opened; call cache.Open first")
	}
	val, closer, err := db.Get(metaKey(convID))
	if err != nil {
		if err == pebble.ErrNotFound {
			return models.Conversation{}, false, nil
		}
		return models.Conversation{}, false, err
	}
	data := append([]byte(nil), val...)
	_ = closer.Close()
	var conv models.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		_ = db.Delete(metaKey(convID), pebble.Sync)
		return models.Conversation{}, false, nil
	}
	return conv, true, nil
}

// ListMetas returns all mirrored conversation records.
func ListMetas() ([]models.Conversation, error) {
	if db == nil {
		return nil, fmt.Errorf("cache not opened; call cache.Open first")
	}
	prefix := []byte("conv:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Conversation
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if !bytes.HasSuffix(iter.Key(), []byte(":meta")) {
			continue
		}
		var conv models.Conversation
		if json.Unmarshal(iter.Value(), &conv) == nil && conv.ID != "" {
			out = append(out, conv)
		}
	}
	return out, nil
}

// Delete removes a conversation's log and record from the mirror.
func Delete(convID string) error {
	if db == nil {
		return fmt.Errorf("cache not opened; call cache.Open first")
	}
	if err := db.Delete(logKey(convID), pebble.Sync); err != nil {
		return err
	}
	return db.Delete(metaKey(convID), pebble.Sync)
}

// SweepExpired deletes every log entry whose last write is older than ttl,
// along with corrupt entries, and returns how many were evicted.
func SweepExpired(ttl time.Duration) (int, error) {
	if db == nil {
		return 0, fmt.Errorf("cache not opened; call cache.Open first")
	}
	prefix := []byte("conv:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}
	var doomed [][]byte
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if !bytes.HasSuffix(iter.Key(), []byte(":log")) {
			continue
		}
		var ent Entry
		if json.Unmarshal(iter.Value(), &ent) != nil {
			doomed = append(doomed, append([]byte(nil), iter.Key()...))
			continue
		}
		if ttl > 0 && time.Since(time.Unix(0, ent.WrittenTS)) >= ttl {
			doomed = append(doomed, append([]byte(nil), iter.Key()...))
		}
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}
	for _, k := range doomed {
		if err := db.Delete(k, pebble.Sync); err != nil {
			return 0, err
		}
		metrics.ObserveCacheEviction()
	}
	if len(doomed) > 0 {
		logger.Info("cache_swept", "evicted", len(doomed))
	}
	return len(doomed), nil
}

// Keys returns all keys with the given prefix; empty prefix lists all.
// Used by the inspect tool.
func Keys(prefix string) ([]string, error) {
	if db == nil {
		return nil, fmt.Errorf("cache not opened; call cache.Open first")
	}
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []string
	p := []byte(prefix)
	for iter.SeekGE(p); iter.Valid(); iter.Next() {
		if len(p) > 0 && !bytes.HasPrefix(iter.Key(), p) {
			break
		}
		out = append(out, string(iter.Key()))
	}
	return out, nil
}

// Get returns the raw value stored under key. Used by the inspect tool.
func Get(key string) ([]byte, error) {
	if db == nil {
		return nil, fmt.Errorf("cache not opened; call cache.Open first")
	}
	val, closer, err := db.Get([]byte(key))
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), val...)
	_ = closer.Close()
	return out, nil
}
