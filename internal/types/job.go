package types

// MaxStepVisits bounds how many times a job may visit the same step name
// before the circuit breaker fails it.
const MaxStepVisits = 5

// Job is one instance of a job kind (the spec's "pipeline" entity).
type Job struct {
	ID       JobId  `json:"id"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Namespace string `json:"namespace"`

	CurrentStep string     `json:"current_step"`
	StepStatus  StepStatus `json:"step_status"`
	DecisionId  *DecisionId `json:"decision_id,omitempty"`

	// Vars is namespaced: "var.*", "invoke.*", "workspace.*", "local.*", "item.*".
	Vars map[string]string `json:"vars"`

	RunbookHash string `json:"runbook_hash"`
	Cwd         string `json:"cwd"`

	WorkspaceId   *WorkspaceId `json:"workspace_id,omitempty"`
	WorkspacePath string       `json:"workspace_path,omitempty"`
	SessionId     *SessionId   `json:"session_id,omitempty"`

	Error string `json:"error,omitempty"`

	StepHistory []StepRecord `json:"step_history"`

	// ActionAttempts holds per-(trigger, chain_pos) attempt counts keyed
	// "<trigger>:<chain_pos>". No handler increments it; it is created
	// empty and stays so.
	ActionAttempts map[string]int `json:"action_attempts,omitempty"`

	Cancelling bool `json:"cancelling"`

	TotalRetries int `json:"total_retries"`

	// StepVisits counts entries into each step name (circuit breaker).
	StepVisits map[string]int `json:"step_visits"`

	CronName *string `json:"cron_name,omitempty"`

	IdleGraceLogSize int64 `json:"idle_grace_log_size,omitempty"`
	LastNudgeAtMs    int64 `json:"last_nudge_at_ms,omitempty"`

	CreatedAtMs int64 `json:"created_at_ms"`
}

// IsTerminal reports whether the job's current step is one of the three
// terminal literals.
func (j *Job) IsTerminal() bool {
	return IsTerminalStepName(j.CurrentStep)
}

// LastStepRecord returns the most recent step-history entry, or nil.
func (j *Job) LastStepRecord() *StepRecord {
	if len(j.StepHistory) == 0 {
		return nil
	}
	return &j.StepHistory[len(j.StepHistory)-1]
}

// VisitStep increments the visit counter for name and reports whether the
// budget (MaxStepVisits) has been exceeded by this visit.
func (j *Job) VisitStep(name string) (exceeded bool) {
	if j.StepVisits == nil {
		j.StepVisits = make(map[string]int)
	}
	j.StepVisits[name]++
	return j.StepVisits[name] > MaxStepVisits
}

// AgentRunStatus is the lifecycle state of a standalone agent run.
type AgentRunStatus string

const (
	AgentRunCreated         AgentRunStatus = "created"
	AgentRunWorking         AgentRunStatus = "working"
	AgentRunWaitingForInput AgentRunStatus = "waiting_for_input"
	AgentRunPrompting       AgentRunStatus = "prompting"
	AgentRunFailed          AgentRunStatus = "failed"
	AgentRunExited          AgentRunStatus = "exited"
	AgentRunGone            AgentRunStatus = "gone"
	AgentRunEscalated       AgentRunStatus = "escalated"
	AgentRunCompleted       AgentRunStatus = "completed"
)

// IsTerminal reports whether this status will not change further.
func (s AgentRunStatus) IsTerminal() bool {
	switch s {
	case AgentRunCompleted, AgentRunFailed, AgentRunGone, AgentRunExited:
		return true
	}
	return false
}

// AgentRun is a standalone agent invocation, not owned by a job.
type AgentRun struct {
	ID          AgentRunId     `json:"id"`
	AgentName   string         `json:"agent_name"`
	CommandName string         `json:"command_name"`
	Namespace   string         `json:"namespace"`
	Cwd         string         `json:"cwd"`
	RunbookHash string         `json:"runbook_hash"`
	Vars        map[string]string `json:"vars"`
	SessionId   *SessionId     `json:"session_id,omitempty"`
	AgentId     string         `json:"agent_id,omitempty"` // the agent's own session id (e.g. Claude's)
	Status      AgentRunStatus `json:"status"`
	Error       string         `json:"error,omitempty"`

	ActionAttempts   map[string]int `json:"action_attempts,omitempty"`
	IdleGraceLogSize int64          `json:"idle_grace_log_size,omitempty"`
	LastNudgeAtMs    int64          `json:"last_nudge_at_ms,omitempty"`
}

// OwnerKind distinguishes the two possible owners of an AgentRecord.
type OwnerKind string

const (
	OwnerJob      OwnerKind = "job"
	OwnerAgentRun OwnerKind = "agent_run"
)

// OwnerId is a tagged union over JobId and AgentRunId.
type OwnerId struct {
	Kind       OwnerKind  `json:"kind"`
	JobId      JobId      `json:"job_id,omitempty"`
	AgentRunId AgentRunId `json:"agent_run_id,omitempty"`
}

// OwnerFromJob builds an OwnerId wrapping a job.
func OwnerFromJob(id JobId) OwnerId { return OwnerId{Kind: OwnerJob, JobId: id} }

// OwnerFromAgentRun builds an OwnerId wrapping an agent run.
func OwnerFromAgentRun(id AgentRunId) OwnerId {
	return OwnerId{Kind: OwnerAgentRun, AgentRunId: id}
}

// TimerOwner formats this owner as a TimerId owner component.
func (o OwnerId) TimerOwner() OwnerRef {
	if o.Kind == OwnerAgentRun {
		return AgentRunOwner(o.AgentRunId)
	}
	return JobOwner(o.JobId)
}

// AgentStatus is the liveness/activity state derived from the agent's JSONL
// session log.
type AgentStatus string

const (
	AgentWorking         AgentStatus = "working"
	AgentWaitingForInput AgentStatus = "waiting_for_input"
	AgentFailed          AgentStatus = "failed"
	AgentExited          AgentStatus = "exited"
	AgentGone            AgentStatus = "gone"
)

// AgentRecord is the registry row for any spawned agent, regardless of
// whether it is job-owned or a standalone run.
type AgentRecord struct {
	AgentId       AgentId     `json:"agent_id"`
	AgentName     string      `json:"agent_name"`
	SessionId     SessionId   `json:"session_id"`
	WorkspacePath string      `json:"workspace_path"`
	Namespace     string      `json:"namespace"`
	Status        AgentStatus `json:"status"`
	Owner         OwnerId     `json:"owner"`
	ClaudeSessionId string    `json:"claude_session_id,omitempty"`
}

// Decision is an escalation record surfacing a human-review requirement.
type Decision struct {
	ID          DecisionId `json:"id"`
	JobId       JobId      `json:"job_id"`
	TriggerKind string     `json:"trigger_kind"`
	TimestampMs int64      `json:"timestamp_ms"`
}
