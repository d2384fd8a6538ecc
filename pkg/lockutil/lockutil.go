// Package lockutil provides the scoped file-locking and atomic-write
// primitives that every cross-process writer in the mesh (store, state
// machine, decision journal, ledger) builds on. Every lock acquisition is
// paired with a guaranteed release via defer, on every exit path including
// panics.
package lockutil

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/sheratan/mesh/pkg/errs"
)

// DefaultTimeout is the advisory-lock acquisition timeout used by snapshot
// and log writers.
const DefaultTimeout = 5 * time.Second

// WithLock acquires an advisory file lock at lockPath (creating parent dirs
// as needed) and runs fn while holding it. The lock is always released,
// including on panic. Returns a lock-timeout taxonomy error if the lock
// cannot be acquired within timeout.
func WithLock(lockPath string, timeout time.Duration, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return fmt.Errorf("lockutil: mkdir for lock %s: %w", lockPath, err)
	}
	fl := flock.New(lockPath)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	locked, err := fl.TryLockContext(ctx, 25*time.Millisecond)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("lockutil: acquire lock %s: %w", lockPath, err)
	}
	if !locked {
		return errs.New(errs.KindLockTimeout, "lock_timeout", fmt.Errorf("lockutil: timed out acquiring lock %s after %s", lockPath, timeout))
	}
	defer func() {
		_ = fl.Unlock()
	}()
	return fn()
}

// AtomicWriteFile writes data to path via a temp file in the same directory
// followed by an atomic rename, so a crash never leaves a half-written file.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("lockutil: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("lockutil: create temp in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("lockutil: write temp %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("lockutil: sync temp %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("lockutil: close temp %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("lockutil: chmod temp %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("lockutil: rename %s -> %s: %w", tmpName, path, err)
	}
	cleanup = false
	return nil
}

// AppendLineLocked appends a single line (with trailing newline) to path
// under the lock at lockPath. Used by state_transitions.jsonl,
// decision_trace.jsonl, and ledger.jsonl writers.
func AppendLineLocked(path, lockPath string, line []byte, timeout time.Duration) error {
	return WithLock(lockPath, timeout, func() error {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("lockutil: mkdir %s: %w", filepath.Dir(path), err)
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("lockutil: open %s: %w", path, err)
		}
		defer f.Close()
		if len(line) == 0 || line[len(line)-1] != '\n' {
			line = append(line, '\n')
		}
		if _, err := f.Write(line); err != nil {
			return fmt.Errorf("lockutil: append %s: %w", path, err)
		}
		return f.Sync()
	})
}

// CleanOrphanedTemps removes any leftover `.tmp-*` files in dir, the
// startup crash-recovery sweep for writers that died mid-write.
func CleanOrphanedTemps(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("lockutil: read dir %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if len(name) >= 5 && name[:5] == ".tmp-" {
			_ = os.Remove(filepath.Join(dir, name))
		}
	}
	return nil
}
