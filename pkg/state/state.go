// Package state owns the daemon's on-disk layout: one base directory
// holding the message cache, logs and runtime state.
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	baseOnce sync.Once
	baseDir  string
)

// DefaultBaseDir resolves the base directory when no cache dir is
// configured: PARLEY_STATE_DIR, then the artifact root used by test
// harnesses, then ./.parley.
func DefaultBaseDir() string {
	baseOnce.Do(func() {
		candidates := []string{
			os.Getenv("PARLEY_STATE_DIR"),
			os.Getenv("PARLEY_ARTIFACT_ROOT"),
			os.Getenv("TEST_ARTIFACTS_ROOT"),
		}
		for _, c := range candidates {
			if strings.TrimSpace(c) == "" {
				continue
			}
			if abs, err := filepath.Abs(c); err == nil {
				baseDir = abs
			} else {
				baseDir = c
			}
			break
		}
		if baseDir == "" {
			baseDir = "./.parley"
		}
	})
	return baseDir
}

func CacheDir(base string) string { return filepath.Join(base, "cache") }
func LogDir(base string) string   { return filepath.Join(base, "logs") }
func StateDir(base string) string { return filepath.Join(base, "state") }

// EnsureStateDirs creates the canonical layout under base: cache/, logs/
// and state/{crash,abort,tmp}. Paths must not be symlinks, must be
// directories and must be writable with restrictive permissions.
func EnsureStateDirs(base string) error {
	paths := []string{
		CacheDir(base),
		LogDir(base),
		filepath.Join(StateDir(base), "crash"),
		filepath.Join(StateDir(base), "abort"),
		filepath.Join(StateDir(base), "tmp"),
	}

	for _, p := range paths {
		if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
			return fmt.Errorf("cannot create parent for %s: %w", p, err)
		}

		if fi, err := os.Lstat(p); err == nil {
			if fi.Mode()&os.ModeSymlink != 0 {
				return fmt.Errorf("path is a symlink: %s", p)
			}
			if !fi.IsDir() {
				return fmt.Errorf("path exists and is not a directory: %s", p)
			}
			if fi.Mode().Perm()&0o022 != 0 {
				return fmt.Errorf("path has permissive mode (group/other write): %s", p)
			}
		}

		if err := os.MkdirAll(p, 0o700); err != nil {
			return fmt.Errorf("cannot create path %s: %w", p, err)
		}

		if fi, err := os.Lstat(p); err == nil {
			if fi.Mode()&os.ModeSymlink != 0 {
				return fmt.Errorf("path is a symlink after creation: %s", p)
			}
			if fi.Mode().Perm()&0o022 != 0 {
				return fmt.Errorf("path has permissive mode after creation: %s", p)
			}
		}

		// writability check: create and remove a temp file
		tmp, err := os.CreateTemp(p, ".validate-*")
		if err != nil {
			return fmt.Errorf("path not writable: %s: %w", p, err)
		}
		tmp.Close()
		_ = os.Remove(tmp.Name())
	}

	return nil
}
