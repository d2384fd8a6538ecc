package store

import (
	"fmt"
	"sort"
	"time"

	"github.com/sheratan/mesh/pkg/errs"
	"github.com/sheratan/mesh/pkg/model"
)

// CreateJob persists a new job. Duplicate IDs are rejected.
func (s *Store) CreateJob(j *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[j.ID]; exists {
		return fmt.Errorf("store: job %s: %w", j.ID, errs.ErrDuplicateJob)
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	if j.Status == "" {
		j.Status = model.JobPending
	}
	if err := writeEntity(s.dir("jobs"), s.lockPath("jobs"), j.ID, j); err != nil {
		return err
	}
	cp := *j
	s.jobs[j.ID] = &cp
	return nil
}

// GetJob returns a copy of the job, or ErrNotFound.
func (s *Store) GetJob(id string) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("store: job %s: %w", id, errs.ErrNotFound)
	}
	cp := *j
	return &cp, nil
}

// MutateJob applies fn to a locked in-memory copy of the job and persists
// the result, refusing the update if fn returns an error (used to enforce
// the terminal-state and dependency invariants at the call site rather
// than inside the store).
func (s *Store) MutateJob(id string, fn func(j *model.Job) error) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("store: job %s: %w", id, errs.ErrNotFound)
	}
	cp := *j
	if err := fn(&cp); err != nil {
		return nil, err
	}
	if err := writeEntity(s.dir("jobs"), s.lockPath("jobs"), cp.ID, &cp); err != nil {
		return nil, err
	}
	s.jobs[id] = &cp
	out := cp
	return &out, nil
}

// ListJobsByTask returns jobs belonging to taskID.
func (s *Store) ListJobsByTask(taskID string) []*model.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Job, 0)
	for _, j := range s.jobs {
		if j.TaskID == taskID {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ListJobsByMission returns jobs belonging to missionID.
func (s *Store) ListJobsByMission(missionID string) []*model.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Job, 0)
	for _, j := range s.jobs {
		if j.MissionID == missionID {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// DependenciesCompleted reports whether every job in depends_on is
// completed.
func (s *Store) DependenciesCompleted(jobID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return false, fmt.Errorf("store: job %s: %w", jobID, errs.ErrNotFound)
	}
	for _, depID := range j.DependsOn {
		dep, ok := s.jobs[depID]
		if !ok || dep.Status != model.JobCompleted {
			return false, nil
		}
	}
	return true, nil
}

// ListPendingJobsSorted returns pending jobs whose dependencies are all
// completed, sorted by (priority desc, created_at asc).
func (s *Store) ListPendingJobsSorted() []*model.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Job, 0)
	for _, j := range s.jobs {
		if j.Status != model.JobPending {
			continue
		}
		if !s.dependenciesCompletedLocked(j) {
			continue
		}
		cp := *j
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].Priority != out[k].Priority {
			return out[i].Priority > out[k].Priority
		}
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})
	return out
}

func (s *Store) dependenciesCompletedLocked(j *model.Job) bool {
	for _, depID := range j.DependsOn {
		dep, ok := s.jobs[depID]
		if !ok || dep.Status != model.JobCompleted {
			return false
		}
	}
	return true
}
