package decisionjournal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sheratan/mesh/pkg/errs"
	"github.com/sheratan/mesh/pkg/model"
)

// Stats summarizes the decision trace stream for the Why-API's
// GET /api/why/stats route.
type Stats struct {
	TotalEntries  int            `json:"total_entries"`
	ByIntent      map[string]int `json:"by_intent"`
	ByActionType  map[string]int `json:"by_action_type"`
	BreachCount   int            `json:"breach_count"`
}

// readAll scans the trace JSONL file into memory. Rotation and retention
// are deployment policy, so the file stays small enough that a full scan
// per query is acceptable for the Why-API's read paths.
func (j *Journal) readAll() ([]model.DecisionTrace, error) {
	f, err := os.Open(j.tracePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("decisionjournal: open %s: %w", j.tracePath(), err)
	}
	defer f.Close()

	var out []model.DecisionTrace
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var t model.DecisionTrace
		if err := json.Unmarshal(line, &t); err != nil {
			continue // tolerate a partially-written trailing line
		}
		out = append(out, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("decisionjournal: scan %s: %w", j.tracePath(), err)
	}
	return out, nil
}

// Latest returns the most recently appended decision trace.
func (j *Journal) Latest() (*model.DecisionTrace, error) {
	all, err := j.readAll()
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("decisionjournal: latest: %w", errs.ErrNotFound)
	}
	return &all[len(all)-1], nil
}

// LatestByIntent returns the most recently appended decision trace whose
// Intent matches intent exactly.
func (j *Journal) LatestByIntent(intent string) (*model.DecisionTrace, error) {
	all, err := j.readAll()
	if err != nil {
		return nil, err
	}
	for i := len(all) - 1; i >= 0; i-- {
		if string(all[i].Intent) == intent {
			return &all[i], nil
		}
	}
	return nil, fmt.Errorf("decisionjournal: latest for intent %q: %w", intent, errs.ErrNotFound)
}

// ByTraceID returns every entry sharing trace_id in append order: the
// full decision path for one mission/job chain.
func (j *Journal) ByTraceID(traceID string) ([]model.DecisionTrace, error) {
	all, err := j.readAll()
	if err != nil {
		return nil, err
	}
	var out []model.DecisionTrace
	for _, t := range all {
		if t.TraceID == traceID {
			out = append(out, t)
		}
	}
	return out, nil
}

// ByJobID returns every entry recorded for jobID.
func (j *Journal) ByJobID(jobID string) ([]model.DecisionTrace, error) {
	all, err := j.readAll()
	if err != nil {
		return nil, err
	}
	var out []model.DecisionTrace
	for _, t := range all {
		if t.JobID == jobID {
			out = append(out, t)
		}
	}
	return out, nil
}

// ComputeStats aggregates counts across the trace and breach logs for the
// Why-API's stats endpoint.
func (j *Journal) ComputeStats() (*Stats, error) {
	all, err := j.readAll()
	if err != nil {
		return nil, err
	}
	s := &Stats{ByIntent: make(map[string]int), ByActionType: make(map[string]int)}
	s.TotalEntries = len(all)
	for _, t := range all {
		s.ByIntent[string(t.Intent)]++
		s.ByActionType[string(t.Action.Type)]++
	}

	breachF, err := os.Open(j.breachPath())
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("decisionjournal: open breach log: %w", err)
	}
	defer breachF.Close()
	scanner := bufio.NewScanner(breachF)
	for scanner.Scan() {
		if len(scanner.Bytes()) > 0 {
			s.BreachCount++
		}
	}
	return s, nil
}
