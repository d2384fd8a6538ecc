// Package queue implements the file-based inbox/outbox protocol between
// the core and workers: atomic claim via rename, stale-lease reaping, and
// an fsnotify-driven watcher with a polling fallback. Rename is the only
// coordination primitive; the directories need no global lock.
package queue

import "time"

// JobEnvelope is what the dispatcher writes into the inbox and what a
// worker reads back out. Mirrors model.Job's wire-relevant fields only;
// the queue package does not import pkg/model to avoid a dependency cycle
// with dispatcher/worker; callers marshal/unmarshal the full job elsewhere.
type JobEnvelope struct {
	JobID         string          `json:"job_id"`
	Kind          string          `json:"kind"`
	Payload       map[string]any  `json:"payload"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
	ClaimedBy     string          `json:"claimed_by,omitempty"`
	ClaimToken    string          `json:"claim_token,omitempty"`
	LeaseUntil    *time.Time      `json:"lease_until,omitempty"`
}

// Result is what a worker writes into the outbox.
type Result struct {
	JobID     string         `json:"job_id"`
	OK        bool           `json:"ok"`
	Status    string         `json:"status"` // "completed" | "failed"
	Result    map[string]any `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Metrics   ResultMetrics  `json:"metrics"`
	CreatedAt time.Time      `json:"created_at"`
}

// ResultMetrics carries the observed metrics a worker measured locally.
type ResultMetrics struct {
	LatencyMS float64 `json:"latency_ms"`
	Cost      float64 `json:"cost"`
	Tokens    int     `json:"tokens"`
}

const (
	jobSuffix     = ".job.json"
	claimedSuffix = ".job.json.claimed"
	resultSuffix  = ".result.json"

	// stabilityDebounce is the minimum time since the last fsnotify
	// create/write event for a job file before the watcher treats it as
	// fully written.
	stabilityDebounce = 150 * time.Millisecond
	// pollFallbackInterval is used when the fsnotify watcher is unavailable.
	pollFallbackInterval = 1 * time.Second
)
