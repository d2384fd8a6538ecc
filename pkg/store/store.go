// Package store is the durable, file-based persistence layer for missions,
// tasks, and jobs. Every write is atomic (temp-then-rename);
// cross-process safety is provided by a per-entity-kind advisory file lock.
// Readers are lock-free and see a monotonically consistent in-memory
// index that is rebuilt at startup and kept current by every mutating
// call.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sheratan/mesh/pkg/lockutil"
	"github.com/sheratan/mesh/pkg/model"
)

// Store is the single mutator of mission/task/job records.
type Store struct {
	rootDir string

	mu       sync.RWMutex
	missions map[string]*model.Mission
	tasks    map[string]*model.Task
	jobs     map[string]*model.Job
}

// Open loads (or creates) a store rooted at dir, scanning for and removing
// orphaned temp files left behind by a crashed writer.
func Open(dir string) (*Store, error) {
	s := &Store{
		rootDir:  dir,
		missions: map[string]*model.Mission{},
		tasks:    map[string]*model.Task{},
		jobs:     map[string]*model.Job{},
	}
	for _, sub := range []string{"missions", "tasks", "jobs", "quarantine"} {
		full := filepath.Join(dir, sub)
		if err := os.MkdirAll(full, 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir %s: %w", full, err)
		}
		if sub != "quarantine" {
			if err := lockutil.CleanOrphanedTemps(full); err != nil {
				return nil, fmt.Errorf("store: clean orphans in %s: %w", full, err)
			}
		}
	}
	if err := loadEntities(s.dir("missions"), s.missions, s.quarantine("missions")); err != nil {
		return nil, err
	}
	if err := loadEntities(s.dir("tasks"), s.tasks, s.quarantine("tasks")); err != nil {
		return nil, err
	}
	if err := loadEntities(s.dir("jobs"), s.jobs, s.quarantine("jobs")); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) dir(kind string) string { return filepath.Join(s.rootDir, kind) }
func (s *Store) lockPath(kind string) string {
	return filepath.Join(s.rootDir, kind, ".lock")
}

func (s *Store) quarantine(kind string) func(name string, raw []byte) {
	return func(name string, raw []byte) {
		dst := filepath.Join(s.rootDir, "quarantine", fmt.Sprintf("%s-%s", kind, name))
		_ = os.WriteFile(dst, raw, 0o644)
	}
}

// entity is implemented by every type the store persists one-file-per-id.
type entity interface {
	*model.Mission | *model.Task | *model.Job
}

// loadEntities scans dir for "<id>.json" files and unmarshals each into dst,
// quarantining any file that fails to parse instead of aborting startup.
func loadEntities[T entity](dir string, dst map[string]T, onCorrupt func(name string, raw []byte)) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("store: read dir %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var v T
		// T is a pointer type (entity constraint); allocate its pointee.
		v = newZero(v)
		if err := json.Unmarshal(raw, v); err != nil {
			onCorrupt(e.Name(), raw)
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		dst[id] = v
	}
	return nil
}

// newZero allocates the concrete struct behind the entity pointer type T.
func newZero[T entity](_ T) T {
	var t T
	switch any(t).(type) {
	case *model.Mission:
		return any(&model.Mission{}).(T)
	case *model.Task:
		return any(&model.Task{}).(T)
	case *model.Job:
		return any(&model.Job{}).(T)
	default:
		panic("store: unreachable entity type")
	}
}

func writeEntity(dir, lockPath, id string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", id, err)
	}
	path := filepath.Join(dir, id+".json")
	return lockutil.WithLock(lockPath, lockutil.DefaultTimeout, func() error {
		return lockutil.AtomicWriteFile(path, raw, 0o644)
	})
}
