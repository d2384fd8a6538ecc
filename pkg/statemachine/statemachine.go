// Package statemachine implements the mesh's five-state operational
// singleton: health-probe-driven transitions, a strict
// allowed-transition matrix, and lock-protected snapshot/log persistence.
package statemachine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sheratan/mesh/pkg/errs"
	"github.com/sheratan/mesh/pkg/lockutil"
	"github.com/sheratan/mesh/pkg/model"
)

// ServiceCheck is a single configured health probe target (core API, LLM
// bridge, broker, a host, the dashboard), each carrying a critical flag.
type ServiceCheck struct {
	Name     string
	Critical bool
	Probe    func(ctx context.Context) error
}

// StateMachine is the singleton operational state holder.
type StateMachine struct {
	mu       sync.Mutex
	current  model.SystemState
	services []ServiceCheck

	runtimeDir string
	logsDir    string
	logger     *slog.Logger
}

// Open recovers the state machine from disk:
// read the snapshot; if it fails to parse, rebuild from the last valid
// JSONL transition line; if both fail, initialize to PAUSED.
func Open(runtimeDir, logsDir string, services []ServiceCheck, logger *slog.Logger) (*StateMachine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sm := &StateMachine{
		services:   services,
		runtimeDir: runtimeDir,
		logsDir:    logsDir,
		logger:     logger,
	}
	if err := ensureDirs(runtimeDir, logsDir); err != nil {
		return nil, err
	}

	if snap, err := readSnapshot(sm.snapshotPath()); err == nil {
		sm.current = snap
		return sm, nil
	}
	if last, err := readLastTransition(sm.transitionsLogPath()); err == nil {
		sm.current = model.SystemState{State: last.NewState, Since: last.Timestamp, LastTransition: last}
		return sm, nil
	}
	sm.current = model.SystemState{State: model.StatePaused, Since: time.Now().UTC()}
	if err := sm.persistSnapshotLocked(); err != nil {
		return nil, err
	}
	return sm, nil
}

func (sm *StateMachine) snapshotPath() string        { return sm.runtimeDir + "/system_state.json" }
func (sm *StateMachine) snapshotLockPath() string     { return sm.runtimeDir + "/.system_state.lock" }
func (sm *StateMachine) transitionsLogPath() string   { return sm.logsDir + "/state_transitions.jsonl" }
func (sm *StateMachine) transitionsLockPath() string  { return sm.logsDir + "/.state_transitions.lock" }

// Current returns a copy of the current system state.
func (sm *StateMachine) Current() model.SystemState {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.current
}

// Transition attempts from->to under the allowed-transition matrix, refusing
// with ErrInvalidTransition otherwise.
func (sm *StateMachine) Transition(to model.SystemStateName, reason, actor string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	from := sm.current.State
	if !model.CanTransition(from, to) {
		return fmt.Errorf("statemachine: %s -> %s: %w", from, to, errs.ErrInvalidTransition)
	}
	return sm.applyLocked(from, to, reason, actor, nil)
}

func (sm *StateMachine) applyLocked(from, to model.SystemStateName, reason, actor string, health []model.ServiceHealth) error {
	t := &model.Transition{
		EventID:       uuid.NewString(),
		PreviousState: from,
		NewState:      to,
		Reason:        reason,
		Actor:         actor,
		Timestamp:     time.Now().UTC(),
	}
	sm.current = model.SystemState{State: to, Since: t.Timestamp, LastTransition: t, Health: health}

	if err := appendTransition(sm.transitionsLogPath(), sm.transitionsLockPath(), t); err != nil {
		return fmt.Errorf("statemachine: append transition log: %w", err)
	}
	if err := sm.persistSnapshotLocked(); err != nil {
		return fmt.Errorf("statemachine: persist snapshot: %w", err)
	}
	sm.logger.Info("statemachine: transition", "from", from, "to", to, "reason", reason, "actor", actor)
	return nil
}

func (sm *StateMachine) persistSnapshotLocked() error {
	return lockutil.WithLock(sm.snapshotLockPath(), lockutil.DefaultTimeout, func() error {
		return writeSnapshot(sm.snapshotPath(), sm.current)
	})
}

// EvaluateHealth runs every configured probe with a bounded timeout,
// applies the Phase-A conservative rule (any down => DEGRADED, all active
// => OPERATIONAL), and transitions if the resulting state differs from the
// current one.
func (sm *StateMachine) EvaluateHealth(ctx context.Context, probeTimeout time.Duration) error {
	if probeTimeout <= 0 {
		probeTimeout = 2 * time.Second
	}
	health := make([]model.ServiceHealth, 0, len(sm.services))
	allActive := true
	for _, svc := range sm.services {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := svc.Probe(probeCtx)
		cancel()
		h := model.ServiceHealth{Name: svc.Name, Critical: svc.Critical, Active: err == nil}
		if err != nil {
			h.Error = err.Error()
			allActive = false
		}
		health = append(health, h)
	}

	target := model.StateOperational
	if !allActive {
		target = model.StateDegraded
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	from := sm.current.State

	if from == target {
		sm.current.Health = health
		return nil
	}
	if from == model.StatePaused {
		// Startup leaves PAUSED following the initial health read. The
		// matrix only permits PAUSED -> OPERATIONAL, so a degraded start
		// is recorded as two legal transitions rather than one illegal
		// jump; every logged transition stays matrix-valid.
		if err := sm.applyLocked(from, model.StateOperational, "startup", "system", health); err != nil {
			return err
		}
		if target == model.StateOperational {
			return nil
		}
		return sm.applyLocked(model.StateOperational, target, "startup_health_probe", "system", health)
	}
	if !model.CanTransition(from, target) {
		return nil // outside the periodic re-evaluation's allowed pair
	}
	return sm.applyLocked(from, target, "periodic_health_probe", "system", health)
}

// RunHealthLoop periodically calls EvaluateHealth until ctx is cancelled.
func (sm *StateMachine) RunHealthLoop(ctx context.Context, interval, probeTimeout time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sm.EvaluateHealth(ctx, probeTimeout); err != nil {
				sm.logger.Error("statemachine: health evaluation failed", "error", err)
			}
		}
	}
}

// Shutdown transitions to PAUSED before exit.
func (sm *StateMachine) Shutdown(actor string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	from := sm.current.State
	if from == model.StatePaused {
		return nil
	}
	if !model.CanTransition(from, model.StatePaused) {
		return fmt.Errorf("statemachine: shutdown %s -> PAUSED: %w", from, errs.ErrInvalidTransition)
	}
	return sm.applyLocked(from, model.StatePaused, "shutdown", actor, nil)
}
