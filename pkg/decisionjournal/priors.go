package decisionjournal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sheratan/mesh/pkg/lockutil"
	"github.com/sheratan/mesh/pkg/model"
)

const (
	priorsFileName  = "priors.json"
	ringBufferDepth = 20
)

// PriorsStore holds the per-action-key statistics UCB-Light reads on every
// dispatch decision and updates on every observed result. Updates land in
// memory per result; the store flushes to disk after a burst of updates or
// on a timer rather than on every single write.
type PriorsStore struct {
	dir   string
	mu    sync.Mutex
	byKey map[string]*model.Priors

	dirty        int
	flushEvery   int
	lastFlush    time.Time
	flushMaxIdle time.Duration
}

// NewPriorsStore loads dir/priors.json, or starts empty if it doesn't exist yet.
func NewPriorsStore(dir string) (*PriorsStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("decisionjournal: mkdir priors dir %s: %w", dir, err)
	}
	ps := &PriorsStore{
		dir:          dir,
		byKey:        make(map[string]*model.Priors),
		flushEvery:   10,
		flushMaxIdle: 30 * time.Second,
		lastFlush:    time.Now(),
	}
	path := filepath.Join(dir, priorsFileName)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ps, nil
		}
		return nil, fmt.Errorf("decisionjournal: read priors %s: %w", path, err)
	}
	if len(raw) == 0 {
		return ps, nil
	}
	if err := json.Unmarshal(raw, &ps.byKey); err != nil {
		return nil, fmt.Errorf("decisionjournal: parse priors %s: %w", path, err)
	}
	return ps, nil
}

func actionKey(intent model.Intent, actionID string) string {
	return string(intent) + ":" + actionID
}

// Get returns a copy of the priors for (intent, actionID), or a fresh
// zero-visit Priors if none are recorded yet.
func (ps *PriorsStore) Get(intent model.Intent, actionID string) model.Priors {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	p, ok := ps.byKey[actionKey(intent, actionID)]
	if !ok {
		return model.Priors{}
	}
	cp := *p
	cp.LastScores = append([]float64(nil), p.LastScores...)
	return cp
}

// TotalVisits sums visits across every action under intent, used as the
// parent_visits term in the UCB-Light formula.
func (ps *PriorsStore) TotalVisits(intent model.Intent) int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	prefix := string(intent) + ":"
	total := 0
	for k, p := range ps.byKey {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			total += p.Visits
		}
	}
	return total
}

// Observe folds a newly observed score into (intent, actionID)'s running
// mean and ring buffer, flushing to disk if the dirty-count or idle-time
// threshold is crossed.
func (ps *PriorsStore) Observe(intent model.Intent, actionID string, score float64, riskGate bool) error {
	ps.mu.Lock()
	key := actionKey(intent, actionID)
	p, ok := ps.byKey[key]
	if !ok {
		p = &model.Priors{}
		ps.byKey[key] = p
	}
	p.Visits++
	p.MeanScore += (score - p.MeanScore) / float64(p.Visits)
	p.LastScores = append(p.LastScores, score)
	if len(p.LastScores) > ringBufferDepth {
		p.LastScores = p.LastScores[len(p.LastScores)-ringBufferDepth:]
	}
	p.RiskGate = riskGate
	ps.dirty++
	shouldFlush := ps.dirty >= ps.flushEvery || time.Since(ps.lastFlush) >= ps.flushMaxIdle
	ps.mu.Unlock()

	if shouldFlush {
		return ps.Flush()
	}
	return nil
}

// Flush persists the current priors map atomically under lock.
func (ps *PriorsStore) Flush() error {
	ps.mu.Lock()
	raw, err := json.MarshalIndent(ps.byKey, "", "  ")
	ps.dirty = 0
	ps.lastFlush = time.Now()
	ps.mu.Unlock()
	if err != nil {
		return fmt.Errorf("decisionjournal: marshal priors: %w", err)
	}
	path := filepath.Join(ps.dir, priorsFileName)
	lockPath := path + ".lock"
	return lockutil.WithLock(lockPath, lockutil.DefaultTimeout, func() error {
		return lockutil.AtomicWriteFile(path, raw, 0o644)
	})
}
