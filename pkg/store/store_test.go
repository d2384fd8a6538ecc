package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheratan/mesh/pkg/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestMissionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	m := &model.Mission{ID: "m1", Title: "Investigate X"}
	require.NoError(t, s.CreateMission(m))

	got, err := s.GetMission("m1")
	require.NoError(t, err)
	assert.Equal(t, "Investigate X", got.Title)

	require.NoError(t, s.UpdateMissionMetadata("m1", map[string]any{"priority": "high"}))
	got, err = s.GetMission("m1")
	require.NoError(t, err)
	assert.Equal(t, "high", got.Metadata["priority"])
}

func TestDuplicateMissionRejected(t *testing.T) {
	s := newTestStore(t)
	m := &model.Mission{ID: "m1"}
	require.NoError(t, s.CreateMission(m))
	require.Error(t, s.CreateMission(m))
}

func TestDependenciesCompleted(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateMission(&model.Mission{ID: "m1"}))
	require.NoError(t, s.CreateTask(&model.Task{ID: "t1", MissionID: "m1"}))

	j1 := &model.Job{ID: "j1", TaskID: "t1", MissionID: "m1", Status: model.JobPending}
	require.NoError(t, s.CreateJob(j1))

	j2 := &model.Job{ID: "j2", TaskID: "t1", MissionID: "m1", Status: model.JobPending, DependsOn: []string{"j1"}}
	require.NoError(t, s.CreateJob(j2))

	ok, err := s.DependenciesCompleted("j2")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.MutateJob("j1", func(j *model.Job) error {
		j.Status = model.JobCompleted
		return nil
	})
	require.NoError(t, err)

	ok, err = s.DependenciesCompleted("j2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestListPendingJobsSortedRespectsDependenciesAndPriority(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateMission(&model.Mission{ID: "m1"}))
	require.NoError(t, s.CreateTask(&model.Task{ID: "t1", MissionID: "m1"}))

	require.NoError(t, s.CreateJob(&model.Job{ID: "j1", TaskID: "t1", MissionID: "m1", Status: model.JobPending, Priority: 1}))
	require.NoError(t, s.CreateJob(&model.Job{ID: "j2", TaskID: "t1", MissionID: "m1", Status: model.JobPending, Priority: 5}))
	require.NoError(t, s.CreateJob(&model.Job{ID: "j3", TaskID: "t1", MissionID: "m1", Status: model.JobPending, DependsOn: []string{"j1"}}))

	pending := s.ListPendingJobsSorted()
	require.Len(t, pending, 2) // j3 excluded: dependency j1 not completed
	assert.Equal(t, "j2", pending[0].ID)
	assert.Equal(t, "j1", pending[1].ID)
}

func TestStoreReopenRecoversFromDisk(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.CreateMission(&model.Mission{ID: "m1", Title: "hi"}))

	s2, err := Open(dir)
	require.NoError(t, err)
	got, err := s2.GetMission("m1")
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Title)
}
