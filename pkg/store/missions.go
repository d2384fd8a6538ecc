package store

import (
	"fmt"
	"sort"
	"time"

	"github.com/sheratan/mesh/pkg/errs"
	"github.com/sheratan/mesh/pkg/model"
)

// CreateMission persists a new mission. IDs must be unique.
func (s *Store) CreateMission(m *model.Mission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.missions[m.ID]; exists {
		return fmt.Errorf("store: mission %s: %w", m.ID, errs.ErrDuplicateJob)
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	if err := writeEntity(s.dir("missions"), s.lockPath("missions"), m.ID, m); err != nil {
		return err
	}
	cp := *m
	s.missions[m.ID] = &cp
	return nil
}

// GetMission returns a copy of the mission, or ErrNotFound.
func (s *Store) GetMission(id string) (*model.Mission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.missions[id]
	if !ok {
		return nil, fmt.Errorf("store: mission %s: %w", id, errs.ErrNotFound)
	}
	cp := *m
	return &cp, nil
}

// ListMissions returns all missions sorted by creation time ascending.
func (s *Store) ListMissions() []*model.Mission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Mission, 0, len(s.missions))
	for _, m := range s.missions {
		cp := *m
		out = append(out, &cp)
	}
	sortMissionsByCreatedAt(out)
	return out
}

// UpdateMissionMetadata merges patch into the mission's Metadata map, the
// only mutation a Mission permits after creation.
func (s *Store) UpdateMissionMetadata(id string, patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.missions[id]
	if !ok {
		return fmt.Errorf("store: mission %s: %w", id, errs.ErrNotFound)
	}
	if m.Metadata == nil {
		m.Metadata = map[string]any{}
	}
	for k, v := range patch {
		m.Metadata[k] = v
	}
	return writeEntity(s.dir("missions"), s.lockPath("missions"), m.ID, m)
}

func sortMissionsByCreatedAt(ms []*model.Mission) {
	sort.Slice(ms, func(i, j int) bool { return ms[i].CreatedAt.Before(ms[j].CreatedAt) })
}
