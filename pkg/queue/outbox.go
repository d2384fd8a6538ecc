package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sheratan/mesh/pkg/lockutil"
)

// Outbox is the directory workers write results into and the core drains
// (data/webrelay_in/).
type Outbox struct {
	Dir string
}

// NewOutbox returns an Outbox rooted at dir, creating it if needed.
func NewOutbox(dir string) (*Outbox, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("queue: mkdir outbox %s: %w", dir, err)
	}
	return &Outbox{Dir: dir}, nil
}

func (ob *Outbox) resultPath(jobID string) string {
	return filepath.Join(ob.Dir, jobID+resultSuffix)
}

// PostResult writes a worker's result atomically.
func (ob *Outbox) PostResult(r Result) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	raw, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("queue: marshal result %s: %w", r.JobID, err)
	}
	return lockutil.AtomicWriteFile(ob.resultPath(r.JobID), raw, 0o644)
}

// Drain reads and removes all pending result files, returning them in the
// order they were listed by the filesystem.
func (ob *Outbox) Drain() ([]Result, error) {
	entries, err := os.ReadDir(ob.Dir)
	if err != nil {
		return nil, fmt.Errorf("queue: read outbox %s: %w", ob.Dir, err)
	}
	var out []Result
	for _, e := range entries {
		if e.IsDir() || !hasSuffix(e.Name(), resultSuffix) {
			continue
		}
		path := filepath.Join(ob.Dir, e.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var r Result
		if err := json.Unmarshal(raw, &r); err != nil {
			// Corrupt result file: leave it for forensics rather than
			// silently dropping it.
			continue
		}
		if err := os.Remove(path); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}
