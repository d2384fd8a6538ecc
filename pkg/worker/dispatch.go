package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/sheratan/mesh/pkg/llmbridge"
	"github.com/sheratan/mesh/pkg/queue"
)

// execute runs one claimed job to completion through the closed per-kind
// dispatch table. An unknown kind is a validation failure, not a fallthrough.
func (w *Worker) execute(ctx context.Context, env queue.JobEnvelope) queue.Result {
	started := time.Now()

	var (
		res map[string]any
		err error
	)

	switch env.Kind {
	case "list_files":
		res, err = w.dispatchListFiles(env)
	case "read_file":
		res, err = w.dispatchReadFile(env)
	case "write_file":
		res, err = w.dispatchWriteFile(env)
	case "llm_call", "agent_plan":
		res, err = w.dispatchLLM(ctx, env)
	case "selfloop":
		res, err = w.dispatchSelfloop(ctx, env)
	default:
		err = fmt.Errorf("worker: unsupported job kind %q", env.Kind)
	}

	latency := float64(time.Since(started).Milliseconds())

	if err != nil {
		return queue.Result{
			JobID:     env.JobID,
			OK:        false,
			Status:    "failed",
			Error:     err.Error(),
			Reason:    "worker_execution_error",
			Metrics:   queue.ResultMetrics{LatencyMS: latency},
			CreatedAt: started,
		}
	}

	tokens, _ := res["tokens"].(int)
	cost, _ := res["cost"].(float64)
	return queue.Result{
		JobID:     env.JobID,
		OK:        true,
		Status:    "completed",
		Result:    res,
		Metrics:   queue.ResultMetrics{LatencyMS: latency, Cost: cost, Tokens: tokens},
		CreatedAt: started,
	}
}

// jobParams unwraps the job's free-form parameters from the envelope
// payload. The dispatcher writes payload as {task, params, response_format};
// a job with no params at all still dispatches with an empty map rather than panicking on a type assertion.
func jobParams(env queue.JobEnvelope) map[string]any {
	if p, ok := env.Payload["params"].(map[string]any); ok {
		return p
	}
	return map[string]any{}
}

func (w *Worker) dispatchListFiles(env queue.JobEnvelope) (map[string]any, error) {
	path, _ := jobParams(env)["path"].(string)
	return listFiles(w.cfg.RootDir, path)
}

func (w *Worker) dispatchReadFile(env queue.JobEnvelope) (map[string]any, error) {
	path, _ := jobParams(env)["path"].(string)
	return readFile(w.cfg.RootDir, path)
}

func (w *Worker) dispatchWriteFile(env queue.JobEnvelope) (map[string]any, error) {
	params := jobParams(env)
	path, _ := params["path"].(string)
	content, _ := params["content"].(string)
	return writeFile(w.cfg.RootDir, path, content)
}

func (w *Worker) dispatchLLM(ctx context.Context, env queue.JobEnvelope) (map[string]any, error) {
	params := jobParams(env)
	prompt, _ := params["prompt"].(string)
	req := llmbridge.Request{
		JobID:  env.JobID,
		Prompt: prompt,
		Params: params,
	}
	resp, err := w.llm.Call(ctx, req)
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("worker: llm bridge reported failure: %s", resp.Error)
	}
	out := resp.Result
	if out == nil {
		out = map[string]any{}
	}
	out["tokens"] = resp.Tokens
	out["cost"] = resp.Cost
	return out, nil
}

// dispatchSelfloop forwards the markdown-formatted selfloop response
// untouched: the worker does not parse sections A/B/C/D, only the core's
// chain runner does.
func (w *Worker) dispatchSelfloop(ctx context.Context, env queue.JobEnvelope) (map[string]any, error) {
	params := jobParams(env)
	prompt, _ := params["prompt"].(string)
	req := llmbridge.Request{
		JobID:          env.JobID,
		Prompt:         prompt,
		ResponseFormat: "selfloop_markdown",
		Params:         params,
	}
	resp, err := w.llm.Call(ctx, req)
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("worker: llm bridge reported failure: %s", resp.Error)
	}
	return map[string]any{
		"action":   "selfloop_result",
		"markdown": resp.Markdown,
		"tokens":   resp.Tokens,
		"cost":     resp.Cost,
	}, nil
}
