// Package registry tracks the live worker pool: registration, heartbeats,
// EMA-smoothed performance, and cooldowns. A misbehaving worker enters a
// time-boxed cooldown rather than being evicted, since workers are
// expected to reconnect and recover.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sheratan/mesh/pkg/errs"
	"github.com/sheratan/mesh/pkg/model"
)

// Registry is the in-memory set of registered workers. It is not
// persisted: workers are ephemeral session state that re-registers on
// restart, unlike missions/tasks/jobs which the file Store durably holds.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]*model.Worker

	cooldownFailures int
	cooldownDuration time.Duration
	// emaAlpha smooths latency/success-rate observations.
	emaAlpha float64
}

// New builds an empty Registry. cooldownFailures/cooldownDuration come from
// config.Config (WORKER_COOLDOWN_FAILURES/WORKER_COOLDOWN_SEC).
func New(cooldownFailures int, cooldownDuration time.Duration) *Registry {
	return &Registry{
		workers:          make(map[string]*model.Worker),
		cooldownFailures: cooldownFailures,
		cooldownDuration: cooldownDuration,
		emaAlpha:         0.3,
	}
}

// Register adds or refreshes a worker's advertised capabilities and
// endpoint. Re-registration clears cooldown state so an operator restarting
// a fixed worker can recover without waiting out the window.
func (r *Registry) Register(w model.Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	existing, ok := r.workers[w.ID]
	if !ok {
		w.LastSeen = now
		w.LastHeartbeat = now
		w.Online = true
		r.workers[w.ID] = &w
		return
	}
	existing.Capabilities = w.Capabilities
	existing.Endpoint = w.Endpoint
	existing.Meta = w.Meta
	existing.LastSeen = now
	existing.LastHeartbeat = now
	existing.Online = true
	existing.Cooldown = false
	existing.CooldownUntil = nil
	existing.ConsecutiveFailures = 0
}

// Heartbeat marks a worker alive without resetting its performance stats.
func (r *Registry) Heartbeat(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok {
		return fmt.Errorf("registry: worker %s: %w", id, errs.ErrNotFound)
	}
	now := time.Now()
	w.LastSeen = now
	w.LastHeartbeat = now
	w.Online = true
	r.maybeClearCooldownLocked(w, now)
	return nil
}

// Get returns a copy of the worker, or ErrNotFound.
func (r *Registry) Get(id string) (*model.Worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[id]
	if !ok {
		return nil, fmt.Errorf("registry: worker %s: %w", id, errs.ErrNotFound)
	}
	cp := *w
	return &cp, nil
}

// List returns every known worker sorted by ID, for deterministic API
// responses and for the dispatcher's lexicographic tie-break.
func (r *Registry) List() []*model.Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.Worker, 0, len(r.workers))
	for _, w := range r.workers {
		cp := *w
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Eligible returns workers currently able to accept kind (online,
// capable, cooldown not set), sorted by ID.
func (r *Registry) Eligible(kind model.JobKind) []*model.Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	out := make([]*model.Worker, 0)
	for _, w := range r.workers {
		r.maybeClearCooldownLocked(w, now)
		if w.Eligible(kind) {
			cp := *w
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) maybeClearCooldownLocked(w *model.Worker, now time.Time) {
	if w.Cooldown && w.CooldownUntil != nil && now.After(*w.CooldownUntil) {
		w.Cooldown = false
		w.CooldownUntil = nil
		w.ConsecutiveFailures = 0
	}
}

// Observation is what the dispatcher reports back after a job result, used
// to update EMAs and cooldown state.
type Observation struct {
	SuccessRate float64 // 1.0 success, 0.0 failure, for this single result
	LatencyMS   float64
	Failed      bool // timeout or exception, distinct from a clean failure result
}

// Observe folds a result observation into worker id's EMAs and, on repeated
// failures, sets its cooldown flag.
func (r *Registry) Observe(id string, obs Observation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok {
		return fmt.Errorf("registry: worker %s: %w", id, errs.ErrNotFound)
	}
	a := r.emaAlpha
	if w.SuccessRateEMA == 0 && w.LatencyEMAMillis == 0 {
		w.SuccessRateEMA = obs.SuccessRate
		w.LatencyEMAMillis = obs.LatencyMS
	} else {
		w.SuccessRateEMA = a*obs.SuccessRate + (1-a)*w.SuccessRateEMA
		w.LatencyEMAMillis = a*obs.LatencyMS + (1-a)*w.LatencyEMAMillis
	}

	if obs.Failed {
		w.ConsecutiveFailures++
		if w.ConsecutiveFailures >= r.cooldownFailures {
			until := time.Now().Add(r.cooldownDuration)
			w.Cooldown = true
			w.CooldownUntil = &until
		}
	} else {
		w.ConsecutiveFailures = 0
	}
	return nil
}

// MarkOffline flags a worker unreachable (used when a push dispatch fails
// after its retry budget, or a heartbeat is overdue).
func (r *Registry) MarkOffline(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.workers[id]; ok {
		w.Online = false
	}
}
