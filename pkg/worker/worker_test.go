package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheratan/mesh/pkg/llmbridge"
	"github.com/sheratan/mesh/pkg/queue"
)

func TestResolveBoundedRefusesEscape(t *testing.T) {
	root := t.TempDir()
	_, err := resolveBounded(root, "../../etc/passwd")
	require.Error(t, err)
}

func TestResolveBoundedAllowsNested(t *testing.T) {
	root := t.TempDir()
	p, err := resolveBounded(root, "a/b/c.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "a/b/c.txt"), p)
}

func TestWriteThenReadFileRoundTrips(t *testing.T) {
	root := t.TempDir()
	_, err := writeFile(root, "notes/a.txt", "hello")
	require.NoError(t, err)

	out, err := readFile(root, "notes/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", out["content"])
}

func TestListFilesReturnsEntries(t *testing.T) {
	root := t.TempDir()
	_, err := writeFile(root, "x.txt", "1")
	require.NoError(t, err)

	out, err := listFiles(root, "")
	require.NoError(t, err)
	entries, _ := out["entries"].([]string)
	assert.Contains(t, entries, "x.txt")
}

func setupWorker(t *testing.T, llmURL string) (*Worker, *queue.Inbox, *queue.Outbox) {
	t.Helper()
	dir := t.TempDir()
	inbox, err := queue.NewInbox(filepath.Join(dir, "inbox"))
	require.NoError(t, err)
	outbox, err := queue.NewOutbox(filepath.Join(dir, "outbox"))
	require.NoError(t, err)
	failed, err := queue.NewFailedReports(filepath.Join(dir, "failed"), nil)
	require.NoError(t, err)

	cfg := Config{
		WorkerID:      "w1",
		RootDir:       filepath.Join(dir, "root"),
		LeaseDuration: time.Minute,
	}
	llm := llmbridge.New(llmURL, time.Second, 1)
	w := New(cfg, inbox, outbox, failed, llm, nil)
	return w, inbox, outbox
}

func TestExecuteDispatchesWriteFileByKind(t *testing.T) {
	w, _, _ := setupWorker(t, "")
	env := queue.JobEnvelope{
		JobID: "j1",
		Kind:  "write_file",
		Payload: map[string]any{
			"params": map[string]any{
				"path":    "out.txt",
				"content": "payload-data",
			},
		},
	}
	res := w.execute(context.Background(), env)
	assert.True(t, res.OK)
	assert.Equal(t, "completed", res.Status)
}

func TestExecuteDispatchesLLMCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(wr http.ResponseWriter, r *http.Request) {
		json.NewEncoder(wr).Encode(llmbridge.Response{OK: true, Result: map[string]any{"action": "analysis_result"}})
	}))
	defer srv.Close()

	w, _, _ := setupWorker(t, srv.URL)
	env := queue.JobEnvelope{JobID: "j2", Kind: "llm_call", Payload: map[string]any{"params": map[string]any{"prompt": "hi"}}}
	res := w.execute(context.Background(), env)
	assert.True(t, res.OK)
	assert.Equal(t, "analysis_result", res.Result["action"])
}

func TestExecuteDispatchesSelfloopUnparsed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(wr http.ResponseWriter, r *http.Request) {
		json.NewEncoder(wr).Encode(llmbridge.Response{OK: true, Markdown: "## A\nplan\n## D\nnone\n"})
	}))
	defer srv.Close()

	w, _, _ := setupWorker(t, srv.URL)
	env := queue.JobEnvelope{JobID: "j3", Kind: "selfloop", Payload: map[string]any{"params": map[string]any{"prompt": "go"}}}
	res := w.execute(context.Background(), env)
	assert.True(t, res.OK)
	assert.Equal(t, "selfloop_result", res.Result["action"])
	assert.Contains(t, res.Result["markdown"], "## A")
}

func TestExecuteUnsupportedKindFails(t *testing.T) {
	w, _, _ := setupWorker(t, "")
	env := queue.JobEnvelope{JobID: "j4", Kind: "not_a_real_kind"}
	res := w.execute(context.Background(), env)
	assert.False(t, res.OK)
	assert.Equal(t, "failed", res.Status)
}

func TestHandleJobIDClaimsExecutesAndPostsResult(t *testing.T) {
	w, inbox, outbox := setupWorker(t, "")
	require.NoError(t, inbox.Enqueue(queue.JobEnvelope{
		JobID:   "j5",
		Kind:    "write_file",
		Payload: map[string]any{"params": map[string]any{"path": "a.txt", "content": "x"}},
	}))

	w.handleJobID(context.Background(), "j5")

	results, err := outbox.Drain()
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].OK)

	_, err = inbox.ListClaimed()
	require.NoError(t, err)
}
