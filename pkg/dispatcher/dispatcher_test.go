package dispatcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheratan/mesh/pkg/config"
	"github.com/sheratan/mesh/pkg/decisionjournal"
	"github.com/sheratan/mesh/pkg/model"
	"github.com/sheratan/mesh/pkg/queue"
	"github.com/sheratan/mesh/pkg/registry"
	"github.com/sheratan/mesh/pkg/store"
)

func allowAll(_ *model.Worker) bool { return true }

func TestBuildCandidatesProducesThreeRoles(t *testing.T) {
	priors, err := decisionjournal.NewPriorsStore(t.TempDir())
	require.NoError(t, err)

	workers := []*model.Worker{
		{ID: "w1", SuccessRateEMA: 0.9},
		{ID: "w2", SuccessRateEMA: 0.5},
		{ID: "w3", SuccessRateEMA: 0.1},
	}
	require.NoError(t, priors.Observe(model.IntentDispatchJob, "w2", 5.0, true))

	cands := buildCandidates(workers, model.IntentDispatchJob, priors, allowAll)
	require.Len(t, cands, 3)

	roles := map[candidateRole]bool{}
	for _, c := range cands {
		roles[c.Role] = true
	}
	assert.True(t, roles[roleSafeBaseline])
	assert.True(t, roles[roleBestPredicted])
	assert.True(t, roles[roleExplore])
}

func TestApplyHardRiskGatesDropsUngated(t *testing.T) {
	cands := []Candidate{
		{Worker: &model.Worker{ID: "a"}, RiskGate: true},
		{Worker: &model.Worker{ID: "b"}, RiskGate: false},
	}
	gated := applyHardRiskGates(cands)
	require.Len(t, gated, 1)
	assert.Equal(t, "a", gated[0].Worker.ID)
}

func TestSelectCandidateBreaksTiesByLatencyThenID(t *testing.T) {
	cands := []Candidate{
		{Worker: &model.Worker{ID: "zeta", LatencyEMAMillis: 100}, Priors: model.Priors{MeanScore: 1.0}},
		{Worker: &model.Worker{ID: "alpha", LatencyEMAMillis: 100}, Priors: model.Priors{MeanScore: 1.0}},
	}
	winner, ok := selectCandidate(cands, 10)
	require.True(t, ok)
	assert.Equal(t, "alpha", winner.Worker.ID)
}

func TestSheratanScoreV1MatchesFormula(t *testing.T) {
	w := config.DefaultScoreWeights()
	m := ObservedMetrics{Success: 1, Quality: 1, Relevance: 1, LatencyMS: 50, Cost: 0, Risk: 0}
	// p50==p95==0 means the baseline is degenerate and L_norm/C_norm are 0.
	score := sheratanScoreV1(w, m, 0, 0, 0, 0)
	assert.InDelta(t, 3.0+1.5+1.0, score, 0.0001)
}

func TestSheratanScoreV1PenalizesHighLatency(t *testing.T) {
	w := config.DefaultScoreWeights()
	m := ObservedMetrics{Success: 1, Quality: 1, Relevance: 1, LatencyMS: 900, Cost: 0, Risk: 0}
	score := sheratanScoreV1(w, m, 100, 1000, 0, 0)
	assert.Less(t, score, 3.0+1.5+1.0)
}

func TestNormalizeClampsToUnitInterval(t *testing.T) {
	assert.Equal(t, 0.0, normalize(-10, 10, 20))
	assert.Equal(t, 1.0, normalize(100, 10, 20))
	assert.InDelta(t, 0.5, normalize(15, 10, 20), 0.0001)
}

// TestObserveResultDropsLateResultForTerminalJob: a result arriving after
// the job was cancelled or completed must not re-enter the terminal state.
func TestObserveResultDropsLateResultForTerminalJob(t *testing.T) {
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	priors, err := decisionjournal.NewPriorsStore(t.TempDir())
	require.NoError(t, err)
	journal, err := decisionjournal.Open(t.TempDir(), nil)
	require.NoError(t, err)
	inbox, err := queue.NewInbox(t.TempDir())
	require.NoError(t, err)
	outbox, err := queue.NewOutbox(t.TempDir())
	require.NoError(t, err)

	d := New(st, registry.New(5, 0), priors, journal, inbox, outbox, NewHybridTransport(inbox, 0), config.Defaults(), nil, nil, "test-build", nil)

	job := &model.Job{ID: "job-late", TaskID: "t1", MissionID: "m1", Kind: model.KindReadFile, Status: model.JobFailed, ErrorReason: "cancelled"}
	require.NoError(t, st.CreateJob(job))

	require.NoError(t, d.ObserveResult(context.Background(), queue.Result{JobID: "job-late", OK: true}))

	updated, err := st.GetJob("job-late")
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, updated.Status)
	assert.Equal(t, "cancelled", updated.ErrorReason)
}

// TestReadOnlyPolicyFailsWriteFileJob: under RISK_POLICY.readonly, a
// write_file job's only candidate carries
// risk_gate=false, so dispatch must ABORT and the job must transition to
// failed with a validation reason rather than retry forever.
func TestReadOnlyPolicyFailsWriteFileJob(t *testing.T) {
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	reg := registry.New(5, 0)
	reg.Register(model.Worker{
		ID:           "w1",
		Capabilities: []model.Capability{{Kind: model.KindWriteFile}},
		Endpoint:     "file-queue",
		Online:       true,
	})
	priors, err := decisionjournal.NewPriorsStore(t.TempDir())
	require.NoError(t, err)
	journal, err := decisionjournal.Open(t.TempDir(), nil)
	require.NoError(t, err)
	inbox, err := queue.NewInbox(t.TempDir())
	require.NoError(t, err)
	outbox, err := queue.NewOutbox(t.TempDir())
	require.NoError(t, err)
	transport := NewHybridTransport(inbox, 0)

	cfg := config.Defaults()
	cfg.RiskPolicy.ReadOnly = true

	d := New(st, reg, priors, journal, inbox, outbox, transport, cfg, nil, nil, "test-build", nil)

	job := &model.Job{ID: "job-1", TaskID: "t1", MissionID: "m1", Kind: model.KindWriteFile}
	require.NoError(t, st.CreateJob(job))

	d.Tick(context.Background())

	updated, err := st.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, updated.Status)
	assert.NotEmpty(t, updated.ErrorReason)

	depth, err := inbox.Depth()
	require.NoError(t, err)
	assert.Equal(t, 0, depth, "a risk-blocked job must never reach the worker queue")
}
