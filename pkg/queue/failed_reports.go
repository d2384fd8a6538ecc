package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sheratan/mesh/pkg/lockutil"
)

// FailedReports persists results a worker could not deliver to the outbox
// (e.g. the outbox directory was briefly unreachable), so they survive a
// worker restart and are retried on a timer instead of silently lost.
type FailedReports struct {
	Dir    string
	Logger *slog.Logger
}

// NewFailedReports returns a FailedReports store rooted at dir.
func NewFailedReports(dir string, logger *slog.Logger) (*FailedReports, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("queue: mkdir failed-reports %s: %w", dir, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FailedReports{Dir: dir, Logger: logger}, nil
}

// Save persists a result that could not be posted to the outbox.
func (fr *FailedReports) Save(r Result) error {
	raw, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("queue: marshal failed report %s: %w", r.JobID, err)
	}
	path := filepath.Join(fr.Dir, r.JobID+resultSuffix)
	return lockutil.AtomicWriteFile(path, raw, 0o644)
}

// pending returns stored results oldest-first.
func (fr *FailedReports) pending() ([]Result, []string, error) {
	entries, err := os.ReadDir(fr.Dir)
	if err != nil {
		return nil, nil, fmt.Errorf("queue: read failed-reports %s: %w", fr.Dir, err)
	}
	type item struct {
		r    Result
		path string
	}
	var items []item
	for _, e := range entries {
		if e.IsDir() || !hasSuffix(e.Name(), resultSuffix) {
			continue
		}
		path := filepath.Join(fr.Dir, e.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var r Result
		if err := json.Unmarshal(raw, &r); err != nil {
			continue
		}
		items = append(items, item{r: r, path: path})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].r.CreatedAt.Before(items[j].r.CreatedAt) })
	results := make([]Result, len(items))
	paths := make([]string, len(items))
	for i, it := range items {
		results[i] = it.r
		paths[i] = it.path
	}
	return results, paths, nil
}

// DrainTo retries delivering every pending failed report via post, removing
// each one that succeeds.
func (fr *FailedReports) DrainTo(post func(Result) error) {
	results, paths, err := fr.pending()
	if err != nil {
		fr.Logger.Error("queue: failed-reports drain scan failed", "error", err)
		return
	}
	for i, r := range results {
		if err := post(r); err != nil {
			fr.Logger.Warn("queue: failed-report retry still failing", "job_id", r.JobID, "error", err)
			continue
		}
		if err := os.Remove(paths[i]); err != nil {
			fr.Logger.Error("queue: failed-report cleanup failed", "job_id", r.JobID, "error", err)
		}
	}
}

// RunDrainLoop periodically calls DrainTo until ctx is cancelled.
func (fr *FailedReports) RunDrainLoop(ctx context.Context, interval time.Duration, post func(Result) error) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fr.DrainTo(post)
		}
	}
}
