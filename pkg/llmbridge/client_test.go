package llmbridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallSucceedsOnFirstTry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		json.NewEncoder(w).Encode(Response{OK: true, Result: map[string]any{"action": "analysis_result"}})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, 2)
	resp, err := c.Call(context.Background(), Request{JobID: "j1", Prompt: "hi"})
	require.NoError(t, err)
	assert.True(t, resp.OK)
}

func TestCallRetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(Response{OK: true})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, 2)
	resp, err := c.Call(context.Background(), Request{JobID: "j1"})
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestCallFailsAfterExhaustingRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, 200*time.Millisecond, 1)
	_, err := c.Call(context.Background(), Request{JobID: "j1"})
	require.Error(t, err)
}

func TestCallReturnsMarkdownForSelfloopFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Response{OK: true, Markdown: "## A\nhi\n## D\n"})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, 1)
	resp, err := c.Call(context.Background(), Request{JobID: "j1", ResponseFormat: "selfloop_markdown"})
	require.NoError(t, err)
	assert.Contains(t, resp.Markdown, "## A")
}
