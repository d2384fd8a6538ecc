package model

// JobStatus is the closed set of job lifecycle states.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobDispatched JobStatus = "dispatched"
	JobRunning    JobStatus = "running"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// IsValid reports whether the status is one of the closed set.
func (s JobStatus) IsValid() bool {
	switch s {
	case JobPending, JobDispatched, JobRunning, JobCompleted, JobFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status is never re-entered once reached.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// TaskStatus is the closed set of task lifecycle states.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// JobKind is the closed enumeration of worker-executable job kinds.
// Unknown kinds are a validation failure, never silent success.
type JobKind string

const (
	KindLLMCall   JobKind = "llm_call"
	KindListFiles JobKind = "list_files"
	KindReadFile  JobKind = "read_file"
	KindWriteFile JobKind = "write_file"
	KindAgentPlan JobKind = "agent_plan"
	KindSelfloop  JobKind = "selfloop"
)

// IsValid reports whether kind is a recognized, dispatchable job kind.
func (k JobKind) IsValid() bool {
	switch k {
	case KindLLMCall, KindListFiles, KindReadFile, KindWriteFile, KindAgentPlan, KindSelfloop:
		return true
	default:
		return false
	}
}

// IsLLMBacked reports whether the kind requires the LLM bridge.
func (k JobKind) IsLLMBacked() bool {
	return k == KindLLMCall || k == KindAgentPlan || k == KindSelfloop
}

// ActionType is the closed set of decision-trace action types.
type ActionType string

const (
	ActionRoute      ActionType = "ROUTE"
	ActionExecute    ActionType = "EXECUTE"
	ActionRetry      ActionType = "RETRY"
	ActionRewrite    ActionType = "REWRITE"
	ActionFallback   ActionType = "FALLBACK"
	ActionQuarantine ActionType = "QUARANTINE"
	ActionSkip       ActionType = "SKIP"
	ActionAbort      ActionType = "ABORT"
)

func (a ActionType) IsValid() bool {
	switch a {
	case ActionRoute, ActionExecute, ActionRetry, ActionRewrite, ActionFallback, ActionQuarantine, ActionSkip, ActionAbort:
		return true
	default:
		return false
	}
}

// ActionMode distinguishes a dry-run decision from one with real side effects.
type ActionMode string

const (
	ModeSimulate ActionMode = "simulate"
	ModeExecute  ActionMode = "execute"
)

// Intent is the closed set of high-level decision intents.
type Intent string

const (
	IntentDispatchJob     Intent = "dispatch_job"
	IntentRouteLLMCall    Intent = "route_llm_call"
	IntentRecoverFailure  Intent = "recover_failure"
)

func (i Intent) IsValid() bool {
	switch i {
	case IntentDispatchJob, IntentRouteLLMCall, IntentRecoverFailure:
		return true
	default:
		return false
	}
}

// SystemStateName is the closed set of operational states.
type SystemStateName string

const (
	StateOperational SystemStateName = "OPERATIONAL"
	StateDegraded    SystemStateName = "DEGRADED"
	StateReflective  SystemStateName = "REFLECTIVE"
	StateRecovery    SystemStateName = "RECOVERY"
	StatePaused      SystemStateName = "PAUSED"
)

func (s SystemStateName) IsValid() bool {
	switch s {
	case StateOperational, StateDegraded, StateReflective, StateRecovery, StatePaused:
		return true
	default:
		return false
	}
}

// allowedTransitions is the full matrix of permitted state changes.
// Anything absent here is refused with INVALID_TRANSITION.
var allowedTransitions = map[SystemStateName]map[SystemStateName]bool{
	StatePaused: {
		StateRecovery:    true,
		StateOperational: true,
	},
	StateOperational: {
		StateDegraded:   true,
		StateReflective: true,
		StateRecovery:   true,
		StatePaused:     true,
	},
	StateDegraded: {
		StateOperational: true,
		StateReflective:  true,
		StateRecovery:    true,
		StatePaused:      true,
	},
	StateReflective: {
		StateOperational: true,
		StateDegraded:    true,
		StateRecovery:    true,
		StatePaused:      true,
	},
	StateRecovery: {
		StateOperational: true,
		StateDegraded:    true,
		StatePaused:      true,
	},
}

// CanTransition reports whether from -> to is allowed by the matrix.
func CanTransition(from, to SystemStateName) bool {
	targets, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}
