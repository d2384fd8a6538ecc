package store

import (
	"fmt"
	"sort"
	"time"

	"github.com/sheratan/mesh/pkg/errs"
	"github.com/sheratan/mesh/pkg/model"
)

// CreateTask persists a new task under a mission.
func (s *Store) CreateTask(t *model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.missions[t.MissionID]; !exists {
		return fmt.Errorf("store: task %s: mission %s: %w", t.ID, t.MissionID, errs.ErrNotFound)
	}
	if _, exists := s.tasks[t.ID]; exists {
		return fmt.Errorf("store: task %s: %w", t.ID, errs.ErrDuplicateJob)
	}
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = model.TaskPending
	}
	if err := writeEntity(s.dir("tasks"), s.lockPath("tasks"), t.ID, t); err != nil {
		return err
	}
	cp := *t
	s.tasks[t.ID] = &cp
	return nil
}

// GetTask returns a copy of the task, or ErrNotFound.
func (s *Store) GetTask(id string) (*model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("store: task %s: %w", id, errs.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

// UpdateTaskStatus transitions a task's status. Only the core calls this,
// when the task's jobs transition.
func (s *Store) UpdateTaskStatus(id string, status model.TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("store: task %s: %w", id, errs.ErrNotFound)
	}
	t.Status = status
	t.UpdatedAt = time.Now()
	return writeEntity(s.dir("tasks"), s.lockPath("tasks"), t.ID, t)
}

// ListTasksByMission returns tasks belonging to missionID, sorted by CreatedAt.
func (s *Store) ListTasksByMission(missionID string) []*model.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Task, 0)
	for _, t := range s.tasks {
		if t.MissionID == missionID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
