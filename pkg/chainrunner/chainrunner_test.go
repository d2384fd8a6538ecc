package chainrunner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheratan/mesh/pkg/model"
	"github.com/sheratan/mesh/pkg/queue"
	"github.com/sheratan/mesh/pkg/store"
)

func setup(t *testing.T) (*store.Store, *ChainRunner) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, st.CreateMission(&model.Mission{ID: "m1"}))
	require.NoError(t, st.CreateTask(&model.Task{ID: "t1", MissionID: "m1", MaxIterations: 3}))
	return st, New(st, nil)
}

func TestParseSelfloopMarkdownExtractsSections(t *testing.T) {
	raw := "# A. Summary\nDid the thing.\n## B. Analysis\nLooks fine.\n## C. Actions\nWrote a file.\n## D. Open Questions\n- should we retry?\n- anything else?"
	s := ParseSelfloopMarkdown(raw)
	assert.Equal(t, "Did the thing.", s.A)
	assert.Equal(t, "Looks fine.", s.B)
	assert.Equal(t, "Wrote a file.", s.C)
	assert.Equal(t, []string{"should we retry?", "anything else?"}, s.OpenQuestions())
}

func TestCreateFollowupJobsCreatesDependentJob(t *testing.T) {
	st, cr := setup(t)
	job := &model.Job{
		ID: "j1", TaskID: "t1", MissionID: "m1", Status: model.JobCompleted,
		Result: map[string]any{
			"action": "create_followup_jobs",
			"new_jobs": []any{
				map[string]any{"kind": "read_file", "params": map[string]any{"path": "x"}},
			},
		},
	}
	require.NoError(t, st.CreateJob(job))
	require.NoError(t, cr.OnJobTerminal(job, queue.Result{JobID: "j1", OK: true}))

	jobs := st.ListJobsByTask("t1")
	require.Len(t, jobs, 2)
	var follow *model.Job
	for _, j := range jobs {
		if j.ID != "j1" {
			follow = j
		}
	}
	require.NotNil(t, follow)
	assert.Equal(t, model.KindReadFile, follow.Kind)
	assert.Equal(t, []string{"j1"}, follow.DependsOn)
}

func TestSelfloopCreatesNextIterationWhenOpenQuestionsRemain(t *testing.T) {
	st, cr := setup(t)
	job := &model.Job{
		ID: "j1", TaskID: "t1", MissionID: "m1", Kind: model.KindSelfloop, Status: model.JobCompleted,
		Payload: model.Payload{Params: map[string]any{}},
		Result: map[string]any{
			"markdown": "## A\nstep one\n## D\n- keep going",
		},
	}
	require.NoError(t, st.CreateJob(job))
	require.NoError(t, cr.OnJobTerminal(job, queue.Result{JobID: "j1", OK: true}))

	jobs := st.ListJobsByTask("t1")
	require.Len(t, jobs, 2)

	task, err := st.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskPending, task.Status)
}

func TestSelfloopStopsAtMaxIterationsDespiteOpenQuestions(t *testing.T) {
	st, cr := setup(t)
	job := &model.Job{
		ID: "j3", TaskID: "t1", MissionID: "m1", Kind: model.KindSelfloop, Status: model.JobCompleted,
		Payload: model.Payload{Params: map[string]any{
			"loop_state": map[string]any{"iteration": float64(3)},
		}},
		Result: map[string]any{
			"markdown": "## A\nstep three\n## D\n- still more to do",
		},
	}
	require.NoError(t, st.CreateJob(job))
	require.NoError(t, cr.OnJobTerminal(job, queue.Result{JobID: "j3", OK: true}))

	jobs := st.ListJobsByTask("t1")
	assert.Len(t, jobs, 1, "no fourth iteration past max_iterations")

	task, err := st.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, task.Status)
}

func TestSelfloopCompletesTaskWhenNoOpenQuestions(t *testing.T) {
	st, cr := setup(t)
	job := &model.Job{
		ID: "j1", TaskID: "t1", MissionID: "m1", Kind: model.KindSelfloop, Status: model.JobCompleted,
		Payload: model.Payload{Params: map[string]any{}},
		Result: map[string]any{
			"markdown": "## A\nall done\n## D\n",
		},
	}
	require.NoError(t, st.CreateJob(job))
	require.NoError(t, cr.OnJobTerminal(job, queue.Result{JobID: "j1", OK: true}))

	jobs := st.ListJobsByTask("t1")
	assert.Len(t, jobs, 1)

	task, err := st.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, task.Status)
}

func TestAutoPlanInsertedAfterToolResult(t *testing.T) {
	st, cr := setup(t)
	job := &model.Job{
		ID: "j1", TaskID: "t1", MissionID: "m1", Kind: model.KindReadFile, Status: model.JobCompleted,
		Result: map[string]any{"action": "read_file_result", "content": "hi"},
	}
	require.NoError(t, st.CreateJob(job))
	require.NoError(t, cr.OnJobTerminal(job, queue.Result{JobID: "j1", OK: true}))

	jobs := st.ListJobsByTask("t1")
	require.Len(t, jobs, 2)
}

func TestFailedJobDoesNotChain(t *testing.T) {
	st, cr := setup(t)
	job := &model.Job{ID: "j1", TaskID: "t1", MissionID: "m1", Status: model.JobFailed}
	require.NoError(t, st.CreateJob(job))
	require.NoError(t, cr.OnJobTerminal(job, queue.Result{JobID: "j1", OK: false}))

	jobs := st.ListJobsByTask("t1")
	assert.Len(t, jobs, 1)
}
