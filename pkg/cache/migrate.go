package cache

import (
	"bytes"

	"github.com/cockroachdb/pebble"

	"parley/pkg/logger"
)

// schemaVersion is the mirror's on-disk format. Bump it when Entry or the
// key scheme changes incompatibly; an old mirror is dropped wholesale on
// open, since every entry can be refetched from the backend.
const schemaVersion = "1"

var schemaKey = []byte("system:schema_version")

// ensureSchema compares the stored format version with the running one and
// purges all conversation entries on mismatch. Idempotent; runs on Open.
func ensureSchema() error {
	stored, closer, err := db.Get(schemaKey)
	if err == nil {
		v := string(stored)
		_ = closer.Close()
		if v == schemaVersion {
			return nil
		}
		logger.Info("cache_schema_mismatch", "stored", v, "running", schemaVersion)
	} else if err != pebble.ErrNotFound {
		return err
	}

	dropped, err := purgePrefix([]byte("conv:"))
	if err != nil {
		return err
	}
	if err := db.Set(schemaKey, []byte(schemaVersion), pebble.Sync); err != nil {
		return err
	}
	if dropped > 0 {
		logger.Info("cache_schema_purged", "dropped", dropped, "version", schemaVersion)
	}
	return nil
}

func purgePrefix(prefix []byte) (int, error) {
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}
	var doomed [][]byte
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		doomed = append(doomed, append([]byte(nil), iter.Key()...))
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}
	for _, k := range doomed {
		if err := db.Delete(k, pebble.Sync); err != nil {
			return 0, err
		}
	}
	return len(doomed), nil
}
