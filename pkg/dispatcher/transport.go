package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sheratan/mesh/pkg/model"
	"github.com/sheratan/mesh/pkg/queue"
)

// HybridTransport dispatches to pull workers (endpoint "file-queue") by
// writing the job to the shared Inbox, and to push workers (an HTTP
// endpoint) by POSTing the envelope with a bounded timeout and one retry on
// 5xx.
type HybridTransport struct {
	Inbox      *queue.Inbox
	HTTPClient *http.Client
	Timeout    time.Duration
}

// NewHybridTransport builds a HybridTransport with a default 10s per-attempt
// timeout if none is given.
func NewHybridTransport(inbox *queue.Inbox, timeout time.Duration) *HybridTransport {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HybridTransport{
		Inbox:      inbox,
		HTTPClient: &http.Client{Timeout: timeout},
		Timeout:    timeout,
	}
}

const pullWorkerEndpoint = "file-queue"

// Send implements Transport.
func (t *HybridTransport) Send(ctx context.Context, w *model.Worker, env queue.JobEnvelope) error {
	if w.Endpoint == "" || w.Endpoint == pullWorkerEndpoint {
		return t.Inbox.Enqueue(env)
	}
	return t.postWithRetry(ctx, w.Endpoint, env)
}

func (t *HybridTransport) postWithRetry(ctx context.Context, endpoint string, env queue.JobEnvelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("dispatcher: marshal envelope %s: %w", env.JobID, err)
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, t.Timeout)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			cancel()
			return fmt.Errorf("dispatcher: build request to %s: %w", endpoint, err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := t.HTTPClient.Do(req)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("worker %s returned %d", endpoint, resp.StatusCode)
			continue
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("dispatcher: push to %s rejected: status %d", endpoint, resp.StatusCode)
		}
		return nil
	}
	return fmt.Errorf("dispatcher: push to %s failed after retry: %w", endpoint, lastErr)
}
