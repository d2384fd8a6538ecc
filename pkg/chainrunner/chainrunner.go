// Package chainrunner threads dependent jobs once a job completes:
// create_followup_jobs results spawn explicit follow-ups, selfloop results
// drive an iterate-until-done loop, and every other tool result gets an
// auto-inserted agent_plan follow-up so an LLM planner can react to it.
// The runner only ever creates jobs; it never mutates existing ones.
package chainrunner

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/sheratan/mesh/pkg/model"
	"github.com/sheratan/mesh/pkg/queue"
	"github.com/sheratan/mesh/pkg/store"
)

// autoPlanActions are LCP result actions that, on success, get an
// auto-inserted agent_plan follow-up so the planner sees the new context.
var autoPlanActions = map[string]bool{
	"list_files_result": true,
	"read_file_result":  true,
	"write_file":        true,
	"analysis_result":   true,
}

// ChainRunner implements dispatcher.ChainHook.
type ChainRunner struct {
	store  *store.Store
	logger *slog.Logger
}

// New builds a ChainRunner over st.
func New(st *store.Store, logger *slog.Logger) *ChainRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChainRunner{store: st, logger: logger}
}

// OnJobTerminal inspects a completed job's result action and creates any
// follow-up jobs. The job that just finished is left untouched.
func (c *ChainRunner) OnJobTerminal(job *model.Job, result queue.Result) error {
	if job.Status != model.JobCompleted {
		return nil // failed jobs do not chain
	}

	action, _ := job.Result["action"].(string)

	switch {
	case action == "create_followup_jobs":
		return c.handleCreateFollowupJobs(job)
	case job.Kind == model.KindSelfloop:
		return c.handleSelfloop(job)
	case autoPlanActions[action]:
		return c.handleAutoPlan(job, action)
	default:
		return nil
	}
}

// handleCreateFollowupJobs reads result.new_jobs and creates one job per
// entry, depending on the parent unless the entry says otherwise.
func (c *ChainRunner) handleCreateFollowupJobs(job *model.Job) error {
	rawList, _ := job.Result["new_jobs"].([]any)
	for _, rawEntry := range rawList {
		entry, ok := rawEntry.(map[string]any)
		if !ok {
			continue
		}
		kind, _ := entry["kind"].(string)
		if !model.JobKind(kind).IsValid() {
			c.logger.Warn("chainrunner: skipping follow-up with invalid kind", "parent_job", job.ID, "kind", kind)
			continue
		}
		params, _ := entry["params"].(map[string]any)
		priority := 0
		if p, ok := entry["priority"].(float64); ok {
			priority = int(p)
		}
		dependsOn := []string{job.ID}
		if explicit, ok := entry["depends_on"].([]any); ok {
			dependsOn = nil
			for _, d := range explicit {
				if s, ok := d.(string); ok {
					dependsOn = append(dependsOn, s)
				}
			}
		}
		follow := &model.Job{
			ID:        uuid.NewString(),
			TaskID:    job.TaskID,
			MissionID: job.MissionID,
			Kind:      model.JobKind(kind),
			Priority:  priority,
			Payload: model.Payload{
				Task:   payloadTaskFor(job),
				Params: params,
			},
			DependsOn: dependsOn,
			TraceID:   job.TraceID,
			Depth:     job.Depth + 1,
		}
		if err := c.store.CreateJob(follow); err != nil {
			return fmt.Errorf("chainrunner: create follow-up for %s: %w", job.ID, err)
		}
	}
	return nil
}

// handleSelfloop parses the worker's Markdown, advances the loop state, and
// either creates the next iteration's job or marks the task completed.
func (c *ChainRunner) handleSelfloop(job *model.Job) error {
	markdown, _ := job.Result["markdown"].(string)
	sections := ParseSelfloopMarkdown(markdown)

	task, err := c.store.GetTask(job.TaskID)
	if err != nil {
		return fmt.Errorf("chainrunner: selfloop task lookup %s: %w", job.TaskID, err)
	}

	prev := loopStateFromParams(job.Payload.Params)
	next := prev.Advance(sections)

	maxIterations := task.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 1
	}

	if next.Iteration <= maxIterations && len(next.OpenQuestions) > 0 {
		nextParams := next.toParams()
		if goal, ok := job.Payload.Params["goal"]; ok {
			nextParams["goal"] = goal
		}
		nextJob := &model.Job{
			ID:        uuid.NewString(),
			TaskID:    job.TaskID,
			MissionID: job.MissionID,
			Kind:      model.KindSelfloop,
			Priority:  job.Priority,
			Payload: model.Payload{
				Task:           payloadTaskFor(job),
				Params:         nextParams,
				ResponseFormat: job.Payload.ResponseFormat,
			},
			DependsOn: []string{job.ID},
			TraceID:   job.TraceID,
			Depth:     job.Depth + 1,
		}
		return c.store.CreateJob(nextJob)
	}
	return c.store.UpdateTaskStatus(job.TaskID, model.TaskCompleted)
}

// handleAutoPlan inserts a follow-up agent_plan job so the planner can
// react to a non-chain tool result.
func (c *ChainRunner) handleAutoPlan(job *model.Job, action string) error {
	plan := &model.Job{
		ID:        uuid.NewString(),
		TaskID:    job.TaskID,
		MissionID: job.MissionID,
		Kind:      model.KindAgentPlan,
		Priority:  job.Priority,
		Payload: model.Payload{
			Task: payloadTaskFor(job),
			Params: map[string]any{
				"prior_action": action,
				"prior_result": job.Result,
			},
		},
		DependsOn: []string{job.ID},
		TraceID:   job.TraceID,
		Depth:     job.Depth + 1,
	}
	if err := c.store.CreateJob(plan); err != nil {
		return fmt.Errorf("chainrunner: auto-plan follow-up for %s: %w", job.ID, err)
	}
	return nil
}

func payloadTaskFor(job *model.Job) model.TaskDescriptor {
	return model.TaskDescriptor{
		ID:        job.TaskID,
		MissionID: job.MissionID,
		Kind:      job.Kind,
	}
}
