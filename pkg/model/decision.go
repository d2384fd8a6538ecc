package model

import "time"

// SchemaVersion is the constant `schema_version` stamped on every decision
// trace entry.
const SchemaVersion = "decision_trace_v1"

// State is the `state` sub-object of a decision trace entry.
type State struct {
	ContextRefs []string       `json:"context_refs,omitempty"`
	Constraints map[string]any `json:"constraints,omitempty"`
}

// Action is the `action` sub-object of a decision trace entry.
type Action struct {
	ActionID    string         `json:"action_id"`
	Type        ActionType     `json:"type"`
	Mode        ActionMode     `json:"mode"`
	Params      map[string]any `json:"params,omitempty"`
	SelectScore float64        `json:"select_score"`
	RiskGate    bool           `json:"risk_gate"`
}

// Metrics is the `result.metrics` sub-object of a decision trace entry.
type Metrics struct {
	LatencyMS float64 `json:"latency_ms"`
	Cost      float64 `json:"cost"`
	Tokens    int     `json:"tokens"`
	Retries   int     `json:"retries"`
	Risk      float64 `json:"risk"`
	Quality   float64 `json:"quality"`
}

// Result is the `result` sub-object of a decision trace entry.
type Result struct {
	Status      string         `json:"status"`
	Metrics     Metrics        `json:"metrics"`
	Score       float64        `json:"score"`
	Error       string         `json:"error,omitempty"`
	Artifacts   []string       `json:"artifacts,omitempty"`
	Determinism map[string]any `json:"determinism,omitempty"`
}

// DecisionTrace is one append-only, schema-validated record.
type DecisionTrace struct {
	SchemaVersion string    `json:"schema_version"`
	Timestamp     time.Time `json:"timestamp"`
	TraceID       string    `json:"trace_id"`
	NodeID        string    `json:"node_id"`
	ParentNodeID  string    `json:"parent_node_id,omitempty"`
	BuildID       string    `json:"build_id"`
	JobID         string    `json:"job_id"`
	Intent        Intent    `json:"intent"`
	Depth         int       `json:"depth"`
	State         State     `json:"state"`
	Action        Action    `json:"action"`
	Result        *Result   `json:"result,omitempty"`
}

// Breach is an invalid decision-trace candidate routed to the breach log
// instead of the main stream.
type Breach struct {
	Timestamp         time.Time `json:"timestamp"`
	ViolationPaths    []string  `json:"violation_paths"`
	ErrorMessage      string    `json:"error_message"`
	RawEventTruncated string    `json:"raw_event_truncated"`
}

// Priors holds the per-(intent, action-key) statistics UCB-Light reads and
// updates.
type Priors struct {
	Visits     int       `json:"visits"`
	MeanScore  float64   `json:"mean_score"`
	LastScores []float64 `json:"last_scores"` // bounded ring buffer
	RiskGate   bool       `json:"risk_gate"`  // non-learnable, sourced from policy
}
