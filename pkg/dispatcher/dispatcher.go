// Package dispatcher is the mesh's scheduling core: it picks eligible
// pending jobs, runs MCTS-Light candidate selection over the worker
// registry, writes a decision trace before any side effect, and dispatches
// to the chosen worker by queue file or HTTP push.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sheratan/mesh/pkg/config"
	"github.com/sheratan/mesh/pkg/decisionjournal"
	"github.com/sheratan/mesh/pkg/errs"
	"github.com/sheratan/mesh/pkg/ledger"
	"github.com/sheratan/mesh/pkg/model"
	"github.com/sheratan/mesh/pkg/queue"
	"github.com/sheratan/mesh/pkg/registry"
	"github.com/sheratan/mesh/pkg/store"
)

// ChainHook is invoked once a job reaches a terminal state, so the
// ChainRunner can create follow-up jobs without the dispatcher importing it
// directly.
type ChainHook interface {
	OnJobTerminal(job *model.Job, result queue.Result) error
}

// Transport dispatches a dispatched job to its chosen worker, either by
// writing it to the pull-worker inbox or POSTing it to a push worker's
// endpoint.
type Transport interface {
	Send(ctx context.Context, w *model.Worker, env queue.JobEnvelope) error
}

// Dispatcher runs the in-process dispatch loop.
type Dispatcher struct {
	store    *store.Store
	registry *registry.Registry
	selector WorkerSelector
	priors   *decisionjournal.PriorsStore
	journal  *decisionjournal.Journal
	inbox    *queue.Inbox
	outbox   *queue.Outbox
	transport Transport
	cfg      *config.Config
	baseline *baselineTracker
	hook     ChainHook
	ledger   *ledger.Ledger
	buildID  string
	logger   *slog.Logger
}

// New builds a Dispatcher wired to every collaborator it needs. led may be
// nil, in which case job cost/latency is not recorded to the ledger (a
// worker-less test harness has nothing to attribute cost to).
func New(
	st *store.Store,
	reg *registry.Registry,
	priors *decisionjournal.PriorsStore,
	journal *decisionjournal.Journal,
	inbox *queue.Inbox,
	outbox *queue.Outbox,
	transport Transport,
	cfg *config.Config,
	hook ChainHook,
	led *ledger.Ledger,
	buildID string,
	logger *slog.Logger,
) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:     st,
		registry:  reg,
		selector:  NewRegistrySelector(reg),
		priors:    priors,
		journal:   journal,
		inbox:     inbox,
		outbox:    outbox,
		transport: transport,
		cfg:       cfg,
		baseline:  newBaselineTracker(cfg.BaselineWindowN),
		hook:      hook,
		ledger:    led,
		buildID:   buildID,
		logger:    logger,
	}
}

// Run ticks the dispatcher on cfg.DispatchPollInterval() until ctx is
// cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.DispatchPollInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick runs one dispatch pass: select candidates, score, dispatch one job
// per eligible-and-gated candidate set found.
func (d *Dispatcher) Tick(ctx context.Context) {
	depth, err := d.inbox.Depth()
	if err != nil {
		d.logger.Error("dispatcher: inbox depth check failed", "error", err)
		return
	}
	if depth >= d.cfg.MaxInboxDepth {
		d.logger.Warn("dispatcher: backpressure engaged, inbox at capacity", "depth", depth, "max", d.cfg.MaxInboxDepth)
		return
	}

	for _, job := range d.store.ListPendingJobsSorted() {
		if err := d.dispatchOne(ctx, job); err != nil {
			d.logger.Error("dispatcher: dispatch failed", "job_id", job.ID, "error", err)
		}
	}
}

func (d *Dispatcher) dispatchOne(ctx context.Context, job *model.Job) error {
	intent := model.IntentDispatchJob
	if job.Kind.IsLLMBacked() {
		intent = model.IntentRouteLLMCall
	}

	eligible := d.selector.Eligible(job.Kind)
	cands := buildCandidates(eligible, intent, d.priors, d.riskGateFor(job))
	gated := applyHardRiskGates(cands)

	traceID := job.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}
	nodeID := uuid.NewString()

	if len(gated) == 0 {
		if d.policyBlocks(job) {
			// A job whose kind the risk policy categorically excludes
			// (not merely "no worker currently online") is not retried
			// forever. It fails with a validation reason so the submitter
			// sees a terminal outcome.
			return d.recordAbortAndFail(job, traceID, nodeID, "risk_policy_readonly_blocks_write")
		}
		return d.recordAbort(job, traceID, nodeID, "no_eligible_worker_passed_risk_gate")
	}

	parentVisits := d.priors.TotalVisits(intent)
	winner, ok := selectCandidate(gated, parentVisits)
	if !ok {
		return d.recordAbort(job, traceID, nodeID, "no_candidate_selected")
	}

	trace := model.DecisionTrace{
		SchemaVersion: model.SchemaVersion,
		Timestamp:     time.Now().UTC(),
		TraceID:       traceID,
		NodeID:        nodeID,
		BuildID:       d.buildID,
		JobID:         job.ID,
		Intent:        intent,
		Depth:         job.Depth,
		State: model.State{
			ContextRefs: []string{job.TaskID, job.MissionID},
		},
		Action: model.Action{
			ActionID:    winner.Worker.ID,
			Type:        model.ActionRoute,
			Mode:        model.ModeExecute,
			Params:      map[string]any{"role": string(winner.Role), "kind": string(job.Kind)},
			SelectScore: winner.SelectScore,
			RiskGate:    winner.RiskGate,
		},
	}
	if err := d.journal.Append(trace); err != nil && !errs.Is(err, errs.KindSchemaBreach) {
		return fmt.Errorf("dispatcher: decision trace append: %w", err)
	}

	updated, err := d.store.MutateJob(job.ID, func(j *model.Job) error {
		j.Status = model.JobDispatched
		j.WorkerID = winner.Worker.ID
		j.TraceID = traceID
		j.Attempts++
		now := time.Now()
		j.DispatchedAt = &now
		return nil
	})
	if err != nil {
		return fmt.Errorf("dispatcher: mark dispatched: %w", err)
	}

	env := queue.JobEnvelope{
		JobID:      updated.ID,
		Kind:       string(updated.Kind),
		Payload:    payloadToMap(updated.Payload),
		EnqueuedAt: time.Now(),
	}
	if err := d.transport.Send(ctx, winner.Worker, env); err != nil {
		d.registry.MarkOffline(winner.Worker.ID)
		return fmt.Errorf("dispatcher: send to worker %s: %w", winner.Worker.ID, err)
	}
	return nil
}

func (d *Dispatcher) recordAbort(job *model.Job, traceID, nodeID, reason string) error {
	trace := model.DecisionTrace{
		SchemaVersion: model.SchemaVersion,
		Timestamp:     time.Now().UTC(),
		TraceID:       traceID,
		NodeID:        nodeID,
		BuildID:       d.buildID,
		JobID:         job.ID,
		Intent:        model.IntentDispatchJob,
		Depth:         job.Depth,
		Action: model.Action{
			ActionID: "none",
			Type:     model.ActionAbort,
			Mode:     model.ModeSimulate,
			Params:   map[string]any{"reason": reason},
			RiskGate: false,
		},
	}
	if err := d.journal.Append(trace); err != nil && !errs.Is(err, errs.KindSchemaBreach) {
		return fmt.Errorf("dispatcher: abort trace append: %w", err)
	}
	d.logger.Warn("dispatcher: no viable candidate", "job_id", job.ID, "reason", reason)
	return nil
}

// recordAbortAndFail appends an ABORT decision trace and, unlike
// recordAbort, also transitions the job to failed with a validation
// reason. A risk-policy block is a terminal outcome, not a retryable one.
func (d *Dispatcher) recordAbortAndFail(job *model.Job, traceID, nodeID, reason string) error {
	if err := d.recordAbort(job, traceID, nodeID, reason); err != nil {
		return err
	}
	_, err := d.store.MutateJob(job.ID, func(j *model.Job) error {
		j.Status = model.JobFailed
		j.ErrorReason = reason
		now := time.Now()
		j.CompletedAt = &now
		return nil
	})
	if err != nil {
		return fmt.Errorf("dispatcher: fail risk-blocked job %s: %w", job.ID, err)
	}
	return nil
}

// riskGateFor returns a riskGateFn honoring config.RiskPolicy:
// in read-only mode, any job kind with side effects is hard-gated out.
func (d *Dispatcher) riskGateFor(job *model.Job) riskGateFn {
	return func(w *model.Worker) bool {
		return !d.policyBlocks(job)
	}
}

// policyBlocks reports whether the configured risk policy categorically
// excludes job's kind regardless of which worker would execute it: under
// a readonly policy, write_file is never dispatched.
func (d *Dispatcher) policyBlocks(job *model.Job) bool {
	return d.cfg.RiskPolicy.ReadOnly && job.Kind == model.KindWriteFile
}

func payloadToMap(p model.Payload) map[string]any {
	return map[string]any{
		"task":            p.Task,
		"params":          p.Params,
		"response_format": p.ResponseFormat,
	}
}
