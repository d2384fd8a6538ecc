package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheratan/mesh/pkg/config"
	"github.com/sheratan/mesh/pkg/decisionjournal"
	"github.com/sheratan/mesh/pkg/dispatcher"
	"github.com/sheratan/mesh/pkg/model"
	"github.com/sheratan/mesh/pkg/queue"
	"github.com/sheratan/mesh/pkg/registry"
	"github.com/sheratan/mesh/pkg/statemachine"
	"github.com/sheratan/mesh/pkg/store"
)

func setupServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "store"))
	require.NoError(t, err)
	reg := registry.New(5, time.Minute)
	priors, err := decisionjournal.NewPriorsStore(filepath.Join(dir, "policies"))
	require.NoError(t, err)
	journal, err := decisionjournal.Open(filepath.Join(dir, "logs"), nil)
	require.NoError(t, err)
	inbox, err := queue.NewInbox(filepath.Join(dir, "inbox"))
	require.NoError(t, err)
	outbox, err := queue.NewOutbox(filepath.Join(dir, "outbox"))
	require.NoError(t, err)
	sm, err := statemachine.Open(filepath.Join(dir, "runtime"), filepath.Join(dir, "logs"), nil, nil)
	require.NoError(t, err)

	cfg := config.Defaults()
	cfg.MaxInboxDepth = 1000

	disp := dispatcher.New(st, reg, priors, journal, inbox, outbox, fakeTransport{inbox}, cfg, nil, nil, "test-build", nil)
	return NewServer(st, reg, disp, inbox, journal, sm, cfg, nil)
}

type fakeTransport struct{ inbox *queue.Inbox }

func (f fakeTransport) Send(ctx context.Context, w *model.Worker, env queue.JobEnvelope) error {
	return f.inbox.Enqueue(env)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateAndGetMission(t *testing.T) {
	s := setupServer(t)
	r := s.Router()

	rec := doJSON(t, r, http.MethodPost, "/api/missions", map[string]any{"title": "demo"})
	require.Equal(t, http.StatusOK, rec.Code)

	var mission map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mission))
	id, _ := mission["id"].(string)
	require.NotEmpty(t, id)

	rec2 := doJSON(t, r, http.MethodGet, "/api/missions/"+id, nil)
	assert.Equal(t, http.StatusOK, rec2.Code)
}

func TestCreateJobEnforcesBackpressure(t *testing.T) {
	s := setupServer(t)
	s.cfg.MaxInboxDepth = 0
	r := s.Router()

	rec := doJSON(t, r, http.MethodPost, "/api/missions", map[string]any{"title": "demo"})
	var mission map[string]any
	json.Unmarshal(rec.Body.Bytes(), &mission)
	mid, _ := mission["id"].(string)

	rec2 := doJSON(t, r, http.MethodPost, "/api/missions/"+mid+"/tasks", map[string]any{"name": "t", "kind": "read_file"})
	var task map[string]any
	json.Unmarshal(rec2.Body.Bytes(), &task)
	tid, _ := task["id"].(string)

	rec3 := doJSON(t, r, http.MethodPost, "/api/tasks/"+tid+"/jobs", map[string]any{"kind": "read_file", "params": map[string]any{"path": "README.md"}})
	assert.Equal(t, http.StatusServiceUnavailable, rec3.Code)
}

func TestSyncJobResultIsNoOpWhenTerminal(t *testing.T) {
	s := setupServer(t)
	r := s.Router()

	rec := doJSON(t, r, http.MethodPost, "/api/missions", map[string]any{"title": "demo"})
	var mission map[string]any
	json.Unmarshal(rec.Body.Bytes(), &mission)
	mid, _ := mission["id"].(string)

	rec2 := doJSON(t, r, http.MethodPost, "/api/missions/"+mid+"/tasks", map[string]any{"name": "t", "kind": "read_file"})
	var task map[string]any
	json.Unmarshal(rec2.Body.Bytes(), &task)
	tid, _ := task["id"].(string)

	rec3 := doJSON(t, r, http.MethodPost, "/api/tasks/"+tid+"/jobs", map[string]any{"kind": "read_file", "params": map[string]any{"path": "README.md"}})
	var job map[string]any
	json.Unmarshal(rec3.Body.Bytes(), &job)
	jid, _ := job["id"].(string)

	rec4 := doJSON(t, r, http.MethodPost, "/api/jobs/"+jid+"/sync", map[string]any{"job_id": jid, "ok": true, "status": "completed"})
	require.Equal(t, http.StatusOK, rec4.Code)

	rec5 := doJSON(t, r, http.MethodPost, "/api/jobs/"+jid+"/sync", map[string]any{"job_id": jid, "ok": true, "status": "completed"})
	require.Equal(t, http.StatusOK, rec5.Code)
	var body map[string]any
	json.Unmarshal(rec5.Body.Bytes(), &body)
	assert.Equal(t, "completed", body["status"])
}

func TestRegisterAndListWorkers(t *testing.T) {
	s := setupServer(t)
	r := s.Router()

	rec := doJSON(t, r, http.MethodPost, "/api/mesh/workers/register", map[string]any{
		"worker_id":    "w1",
		"capabilities": []map[string]any{{"kind": "read_file", "cost_hint": 0.1}},
		"status":       "online",
		"endpoint":     "file-queue",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec2 := doJSON(t, r, http.MethodGet, "/api/mesh/workers", nil)
	require.Equal(t, http.StatusOK, rec2.Code)
	var workers []map[string]any
	json.Unmarshal(rec2.Body.Bytes(), &workers)
	require.Len(t, workers, 1)
}

func TestSystemStateTransitionRefusesInvalid(t *testing.T) {
	s := setupServer(t)
	r := s.Router()

	rec := doJSON(t, r, http.MethodPost, "/api/system/state/transition", map[string]any{"state": "BOGUS_STATE", "reason": "x", "actor": "test"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSystemStateTransitionAllowsValidPath(t *testing.T) {
	s := setupServer(t)
	r := s.Router()

	// Fresh state machines start PAUSED, where only RECOVERY and
	// OPERATIONAL are reachable.
	rec := doJSON(t, r, http.MethodPost, "/api/system/state/transition", map[string]any{"state": "DEGRADED", "reason": "x", "actor": "test"})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, r, http.MethodPost, "/api/system/state/transition", map[string]any{"state": "OPERATIONAL", "reason": "startup", "actor": "test"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, r, http.MethodPost, "/api/system/state/transition", map[string]any{"state": "DEGRADED", "reason": "x", "actor": "test"})
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	assert.Equal(t, "DEGRADED", body["state"])
}

func TestCreateSelfloopSeedsFirstIteration(t *testing.T) {
	s := setupServer(t)
	r := s.Router()

	rec := doJSON(t, r, http.MethodPost, "/api/selfloop/create", map[string]any{"goal": "Analyze X", "max_iterations": 3})
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	job, _ := body["job"].(map[string]any)
	require.NotNil(t, job)
	assert.Equal(t, "selfloop", job["kind"])
}
