// Package ledger is the mesh's append-only cost/audit record
// (ledger/ledger.jsonl). It uses the same lockutil append-under-lock idiom
// as the decision journal and the state machine's transition log, rather
// than a second bespoke locking scheme.
package ledger

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/sheratan/mesh/pkg/lockutil"
)

// Entry is one ledger record: a single job's resource consumption,
// attributable to the worker and mission/task that produced it.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	JobID     string    `json:"job_id"`
	TaskID    string    `json:"task_id"`
	MissionID string    `json:"mission_id"`
	WorkerID  string    `json:"worker_id"`
	Tokens    int       `json:"tokens"`
	Cost      float64   `json:"cost"`
	LatencyMS float64   `json:"latency_ms"`
	Note      string    `json:"note,omitempty"`
}

// Ledger appends Entry records to a single JSONL file.
type Ledger struct {
	path     string
	lockPath string
}

// Open returns a Ledger writing to path (e.g. "ledger/ledger.jsonl").
func Open(path string) *Ledger {
	return &Ledger{path: path, lockPath: filepath.Join(filepath.Dir(path), ".ledger.lock")}
}

// Append writes one entry, holding the file lock for the duration of the
// single record write.
func (l *Ledger) Append(e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("ledger: marshal entry %s: %w", e.JobID, err)
	}
	return lockutil.AppendLineLocked(l.path, l.lockPath, raw, lockutil.DefaultTimeout)
}
