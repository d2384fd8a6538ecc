// Package worker implements the mesh worker protocol:
// capability registration with retry, an inbox watcher, per-kind job
// dispatch bounded to a filesystem root, result posting, and failed-report
// persistence for when the core is briefly unreachable. Workers never
// interpret result actions or decide follow-ups; the core is the single
// place new jobs are created.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sheratan/mesh/pkg/llmbridge"
	"github.com/sheratan/mesh/pkg/model"
	"github.com/sheratan/mesh/pkg/queue"
)

// Config describes one worker process.
type Config struct {
	WorkerID      string
	Capabilities  []model.Capability
	Endpoint      string // "file-queue" for pull workers, else an HTTP URL this worker listens on
	CoreBaseURL   string
	RootDir       string
	LeaseDuration time.Duration
}

// Worker executes jobs claimed from an Inbox and reports results to an
// Outbox, falling back to local persistence when the core is unreachable.
type Worker struct {
	cfg           Config
	inbox         *queue.Inbox
	outbox        *queue.Outbox
	failedReports *queue.FailedReports
	llm           *llmbridge.Client
	httpClient    *http.Client
	logger        *slog.Logger
}

// New builds a Worker.
func New(cfg Config, inbox *queue.Inbox, outbox *queue.Outbox, failedReports *queue.FailedReports, llm *llmbridge.Client, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		cfg:           cfg,
		inbox:         inbox,
		outbox:        outbox,
		failedReports: failedReports,
		llm:           llm,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		logger:        logger,
	}
}

// RegisterWithRetry posts this worker's capabilities to the core, retrying
// with a fixed backoff until it succeeds or ctx is cancelled.
func (w *Worker) RegisterWithRetry(ctx context.Context) error {
	body, err := json.Marshal(map[string]any{
		"worker_id":    w.cfg.WorkerID,
		"capabilities": w.cfg.Capabilities,
		"status":       "online",
		"endpoint":     w.cfg.Endpoint,
		"meta":         map[string]any{},
	})
	if err != nil {
		return fmt.Errorf("worker: marshal registration: %w", err)
	}

	url := w.cfg.CoreBaseURL + "/api/mesh/workers/register"
	backoff := time.Second
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
			resp, err2 := w.httpClient.Do(req)
			if err2 == nil {
				resp.Body.Close()
				if resp.StatusCode < 300 {
					w.logger.Info("worker: registered", "worker_id", w.cfg.WorkerID)
					return nil
				}
				err = fmt.Errorf("registration rejected: status %d", resp.StatusCode)
			} else {
				err = err2
			}
		}
		w.logger.Warn("worker: registration attempt failed, retrying", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

// Run watches the inbox and processes job events until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	watcher := queue.NewWatcher(w.inbox, w.logger)
	go watcher.Run(ctx)

	go w.failedReports.RunDrainLoop(ctx, 15*time.Second, w.postResult)

	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-watcher.Events():
			w.handleJobID(ctx, jobID)
		}
	}
}

func (w *Worker) handleJobID(ctx context.Context, jobID string) {
	env, err := w.inbox.Claim(jobID, w.cfg.WorkerID, generateClaimToken(), w.cfg.LeaseDuration)
	if err != nil {
		// Lost the race to another worker replica, or the file is gone;
		// both are expected under concurrent claims.
		return
	}

	result := w.execute(ctx, env)
	if err := w.postResult(result); err != nil {
		w.logger.Warn("worker: result delivery failed, persisting for retry", "job_id", jobID, "error", err)
		if saveErr := w.failedReports.Save(result); saveErr != nil {
			w.logger.Error("worker: failed-report persistence failed", "job_id", jobID, "error", saveErr)
		}
	}
	if err := w.inbox.DeleteClaimed(jobID); err != nil {
		w.logger.Error("worker: cleanup of claimed job failed", "job_id", jobID, "error", err)
	}
}

// postResult writes to the outbox. In a pull deployment this is a local
// directory; the failed-reports path covers environments where the outbox
// is a networked mount the worker momentarily cannot reach.
func (w *Worker) postResult(r queue.Result) error {
	return w.outbox.PostResult(r)
}

func generateClaimToken() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}
