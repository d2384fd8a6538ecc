package model

import "time"

// Mission is a user-supplied goal. Immutable after creation
// except for Metadata; destroyed only by explicit purge.
type Mission struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	CreatedAt   time.Time      `json:"created_at"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Task is a unit of work inside a mission.
type Task struct {
	ID         string         `json:"id"`
	MissionID  string         `json:"mission_id"`
	Name       string         `json:"name"`
	Kind       JobKind        `json:"kind"`
	Params     map[string]any `json:"params,omitempty"`
	Status     TaskStatus     `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	MaxIterations int         `json:"max_iterations,omitempty"` // selfloop only
}

// Payload is the worker-facing instruction carried by a Job.
type Payload struct {
	Task           TaskDescriptor `json:"task"`
	Params         map[string]any `json:"params,omitempty"`
	ResponseFormat string         `json:"response_format,omitempty"` // e.g. "selfloop_markdown"
}

// TaskDescriptor is the subset of Task a worker needs to execute a job.
type TaskDescriptor struct {
	ID        string  `json:"id"`
	MissionID string  `json:"mission_id"`
	Name      string  `json:"name"`
	Kind      JobKind `json:"kind"`
}

// Job is the execution unit.
type Job struct {
	ID            string         `json:"id"`
	TaskID        string         `json:"task_id"`
	MissionID     string         `json:"mission_id"`
	CreatedAt     time.Time      `json:"created_at"`
	Status        JobStatus      `json:"status"`
	Kind          JobKind        `json:"kind"`
	Priority      int            `json:"priority"`
	Payload       Payload        `json:"payload"`
	DependsOn     []string       `json:"depends_on,omitempty"`
	WorkerID      string         `json:"worker_id,omitempty"`
	ClaimToken    string         `json:"claim_token,omitempty"`
	ClaimDeadline *time.Time     `json:"claim_deadline,omitempty"`
	Result        map[string]any `json:"result,omitempty"`
	Error         string         `json:"error,omitempty"`
	ErrorReason   string         `json:"error_reason,omitempty"`
	TraceID       string         `json:"trace_id,omitempty"`
	Depth         int            `json:"depth,omitempty"`
	Attempts      int            `json:"attempts,omitempty"`
	DispatchedAt  *time.Time     `json:"dispatched_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
}

// Capability is a {kind, cost_hint} pair a worker advertises.
type Capability struct {
	Kind     JobKind `json:"kind"`
	CostHint float64 `json:"cost_hint"`
}

// Worker is a registered executor.
type Worker struct {
	ID                  string       `json:"id"`
	Capabilities        []Capability `json:"capabilities"`
	Endpoint            string       `json:"endpoint"` // HTTP URL, or "file-queue" for pull workers
	LastSeen            time.Time    `json:"last_seen"`
	LastHeartbeat       time.Time    `json:"last_heartbeat"`
	SuccessRateEMA      float64      `json:"success_rate_ema"`
	LatencyEMAMillis    float64      `json:"latency_ema_ms"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	Cooldown            bool         `json:"cooldown"`
	CooldownUntil       *time.Time   `json:"cooldown_until,omitempty"`
	Online              bool         `json:"online"`
	Meta                map[string]any `json:"meta,omitempty"`
}

// HasCapability reports whether the worker advertises kind.
func (w *Worker) HasCapability(kind JobKind) bool {
	for _, c := range w.Capabilities {
		if c.Kind == kind {
			return true
		}
	}
	return false
}

// Eligible reports whether the worker can currently accept dispatch of
// kind: online, capable, and not in cooldown.
func (w *Worker) Eligible(kind JobKind) bool {
	return w.Online && !w.Cooldown && w.HasCapability(kind)
}

// Transition records a single system-state change.
type Transition struct {
	EventID        string         `json:"event_id"`
	PreviousState  SystemStateName `json:"previous_state"`
	NewState       SystemStateName `json:"new_state"`
	Reason         string         `json:"reason"`
	Actor          string         `json:"actor"`
	Timestamp      time.Time      `json:"timestamp"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// ServiceHealth is a single probed service's status.
type ServiceHealth struct {
	Name     string `json:"name"`
	Critical bool   `json:"critical"`
	Active   bool   `json:"active"`
	Error    string `json:"error,omitempty"`
}

// SystemState is the singleton describing the system as a whole.
type SystemState struct {
	State          SystemStateName `json:"state"`
	Since          time.Time       `json:"since"`
	LastTransition *Transition     `json:"last_transition,omitempty"`
	Health         []ServiceHealth `json:"health,omitempty"`
}
