package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sheratan/mesh/pkg/errs"
	"github.com/sheratan/mesh/pkg/ledger"
	"github.com/sheratan/mesh/pkg/model"
	"github.com/sheratan/mesh/pkg/queue"
	"github.com/sheratan/mesh/pkg/registry"
)

// DrainResults pulls every pending result from the outbox and observes each.
// Called on a timer by the core's outbox-drain goroutine; the HTTP sync
// handler observes a single posted result through ObserveResult instead.
func (d *Dispatcher) DrainResults(ctx context.Context) {
	results, err := d.drainSource()
	if err != nil {
		d.logger.Error("dispatcher: outbox drain failed", "error", err)
		return
	}
	for _, r := range results {
		if err := d.ObserveResult(ctx, r); err != nil {
			d.logger.Error("dispatcher: observe result failed", "job_id", r.JobID, "error", err)
		}
	}
}

func (d *Dispatcher) drainSource() ([]queue.Result, error) {
	if d.outbox == nil {
		return nil, nil
	}
	return d.outbox.Drain()
}

// ObserveResult computes Sheratan Score v1, updates priors and worker
// EMAs, transitions the job, and invokes the ChainRunner hook.
func (d *Dispatcher) ObserveResult(ctx context.Context, r queue.Result) error {
	job, err := d.store.GetJob(r.JobID)
	if err != nil {
		return fmt.Errorf("dispatcher: observe %s: %w", r.JobID, err)
	}
	if job.Status.IsTerminal() {
		// A late or duplicate result for a job that was already cancelled
		// or completed is dropped, with an audit entry so the drop is
		// explainable.
		d.logger.Warn("dispatcher: dropping result for terminal job", "job_id", job.ID, "status", job.Status)
		if d.ledger != nil {
			if err := d.ledger.Append(ledger.Entry{
				JobID:     job.ID,
				TaskID:    job.TaskID,
				MissionID: job.MissionID,
				WorkerID:  job.WorkerID,
				Note:      "late_result_dropped",
			}); err != nil {
				d.logger.Error("dispatcher: ledger append failed", "job_id", job.ID, "error", err)
			}
		}
		return nil
	}

	intent := model.IntentDispatchJob
	if job.Kind.IsLLMBacked() {
		intent = model.IntentRouteLLMCall
	}

	metrics := ObservedMetrics{
		Success:   boolToFloat(r.OK),
		Quality:   1.0,
		Relevance: 1.0,
		LatencyMS: r.Metrics.LatencyMS,
		Cost:      r.Metrics.Cost,
		Risk:      0,
	}
	d.baseline.observe(intent, metrics.LatencyMS, metrics.Cost)
	latP50, latP95 := d.baseline.LatencyBaseline(intent)
	costP50, costP95 := d.baseline.CostBaseline(intent)
	score := sheratanScoreV1(d.cfg.ScoreWeights, metrics, latP50, latP95, costP50, costP95)

	// Priors are updated whenever mode=execute, and failed executions are
	// still recorded so low scores depress the action's mean. Only a
	// SKIP/ABORT (never reaching a worker) is excluded, and those never
	// produce a Result.
	if job.WorkerID != "" {
		if err := d.priors.Observe(intent, job.WorkerID, score, true); err != nil {
			d.logger.Error("dispatcher: priors observe failed", "job_id", job.ID, "error", err)
		}
		if err := d.registry.Observe(job.WorkerID, registry.Observation{
			SuccessRate: boolToFloat(r.OK),
			LatencyMS:   r.Metrics.LatencyMS,
			Failed:      !r.OK,
		}); err != nil {
			d.logger.Error("dispatcher: registry observe failed", "job_id", job.ID, "error", err)
		}
	}

	status := model.JobCompleted
	reason := ""
	if !r.OK {
		if job.Attempts > d.cfg.MaxRetries {
			status = model.JobFailed
			reason = errs.ErrMaxRetriesExceeded.Error()
		} else {
			status = model.JobPending // re-enters the pool for another dispatch attempt
		}
	}

	updated, err := d.store.MutateJob(job.ID, func(j *model.Job) error {
		j.Status = status
		j.Result = r.Result
		j.Error = r.Error
		j.ErrorReason = reason
		if status.IsTerminal() {
			now := time.Now()
			j.CompletedAt = &now
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("dispatcher: mutate job %s: %w", job.ID, err)
	}

	if err := d.appendResultTrace(updated, r, score, metrics); err != nil && !errs.Is(err, errs.KindSchemaBreach) {
		d.logger.Error("dispatcher: result trace append failed", "job_id", job.ID, "error", err)
	}

	if d.ledger != nil {
		if err := d.ledger.Append(ledger.Entry{
			JobID:     updated.ID,
			TaskID:    updated.TaskID,
			MissionID: updated.MissionID,
			WorkerID:  updated.WorkerID,
			Tokens:    r.Metrics.Tokens,
			Cost:      r.Metrics.Cost,
			LatencyMS: r.Metrics.LatencyMS,
		}); err != nil {
			d.logger.Error("dispatcher: ledger append failed", "job_id", job.ID, "error", err)
		}
	}

	if updated.Status.IsTerminal() && d.hook != nil {
		if err := d.hook.OnJobTerminal(updated, r); err != nil {
			return fmt.Errorf("dispatcher: chain hook failed for %s: %w", job.ID, err)
		}
	}
	return nil
}

func (d *Dispatcher) appendResultTrace(job *model.Job, r queue.Result, score float64, m ObservedMetrics) error {
	status := "success"
	if !r.OK {
		status = "failure"
	}
	trace := model.DecisionTrace{
		SchemaVersion: model.SchemaVersion,
		Timestamp:     time.Now().UTC(),
		TraceID:       job.TraceID,
		NodeID:        uuid.NewString(),
		ParentNodeID:  "",
		BuildID:       d.buildID,
		JobID:         job.ID,
		Intent:        model.IntentDispatchJob,
		Depth:         job.Depth,
		Action: model.Action{
			ActionID: job.WorkerID,
			Type:     model.ActionExecute,
			Mode:     model.ModeExecute,
			RiskGate: true,
		},
		Result: &model.Result{
			Status: status,
			Metrics: model.Metrics{
				LatencyMS: m.LatencyMS,
				Cost:      m.Cost,
				Tokens:    r.Metrics.Tokens,
				Retries:   job.Attempts - 1,
				Risk:      m.Risk,
				Quality:   m.Quality,
			},
			Score: score,
			Error: r.Error,
		},
	}
	return d.journal.Append(trace)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}
