// Package event defines the Event enum that flows through the write-ahead
// log: every state-mutating fact the engine has observed or decided,
// serialized with a string "type" discriminator so that WAL content
// produced by a newer daemon version replays cleanly on an older one
// (unknown types become a Custom placeholder).
package event

import (
	"encoding/json"
	"fmt"

	"github.com/oddjobs/oj/internal/types"
)

// Type is the wire discriminator for an Event.
type Type string

const (
	TypeRunbookLoaded Type = "runbook:loaded"

	TypeJobCreated       Type = "job:created"
	TypeStepStarted      Type = "step:started"
	TypeShellExited      Type = "shell:exited"
	TypeStepCompleted    Type = "step:completed"
	TypeStepFailed       Type = "step:failed"
	TypeJobCompleted     Type = "job:completed"
	TypeJobFailed        Type = "job:failed"
	TypeJobCancelled     Type = "job:cancelled"
	TypeJobCancelRequested Type = "job:cancel_requested"

	TypeWorkspaceCreated Type = "workspace:created"
	TypeWorkspaceDeleted Type = "workspace:deleted"

	TypeAgentSpawned  Type = "agent:spawned"
	TypeAgentWorking  Type = "agent:working"
	TypeAgentIdle     Type = "agent:idle"
	TypeAgentFailed   Type = "agent:failed"
	TypeAgentExited   Type = "agent:exited"
	TypeAgentGone     Type = "agent:gone"
	TypeAgentLogEntry Type = "agent:log_entry"
	TypeSessionDeleted Type = "session:deleted"

	TypeAgentRunCreated   Type = "agent_run:created"
	TypeAgentRunCompleted Type = "agent_run:completed"
	TypeAgentRunFailed    Type = "agent_run:failed"

	TypeDecisionCreated Type = "decision:created"

	TypeTimerSet    Type = "timer:set"
	TypeTimerCancel Type = "timer:cancel"
	TypeTimerStart  Type = "timer:start"

	TypeWorkerStarted    Type = "worker:started"
	TypeWorkerStopped    Type = "worker:stopped"
	TypeWorkerWake       Type = "worker:wake"
	TypeWorkerTaking     Type = "worker:taking"
	TypeWorkerResized    Type = "worker:resized"
	TypeWorkerTakeComplete Type = "worker:take_complete"
	TypeWorkerJobStarted Type = "worker:job_started"
	TypeWorkerJobFreed   Type = "worker:job_freed"

	TypeQueuePushed      Type = "queue:pushed"
	TypeQueueTaken       Type = "queue:taken"
	TypeQueueCompleted   Type = "queue:completed"
	TypeQueueFailed      Type = "queue:failed"
	TypeQueueItemRetry   Type = "queue:item_retry"
	TypeQueueItemDead    Type = "queue:item_dead"
	TypeQueueDropped     Type = "queue:dropped"

	TypeCronStarted        Type = "cron:started"
	TypeCronStopped        Type = "cron:stopped"
	TypeCronFired          Type = "cron:fired"
	TypeCronJobFreed       Type = "cron:job_freed"
	TypeCronAgentRunFreed  Type = "cron:agent_run_freed"

	TypePruned Type = "gc:pruned"

	TypeCustom Type = "custom"
)

// Event is the tagged union persisted to the WAL. Exactly one of the
// pointer fields below is non-nil, selected by Type. Unknown incoming
// types deserialize into Custom rather than failing, so replay of
// forward-produced WAL content never panics.
type Event struct {
	Type Type `json:"type"`

	RunbookLoaded *RunbookLoaded `json:"runbook_loaded,omitempty"`

	JobCreated        *JobCreated        `json:"job_created,omitempty"`
	StepStarted       *StepStarted       `json:"step_started,omitempty"`
	ShellExited       *ShellExited       `json:"shell_exited,omitempty"`
	StepCompleted     *StepCompleted     `json:"step_completed,omitempty"`
	StepFailed        *StepFailed        `json:"step_failed,omitempty"`
	JobCompleted      *JobCompleted      `json:"job_completed,omitempty"`
	JobFailed         *JobFailed         `json:"job_failed,omitempty"`
	JobCancelled      *JobCancelled      `json:"job_cancelled,omitempty"`
	JobCancelRequested *JobCancelRequested `json:"job_cancel_requested,omitempty"`

	WorkspaceCreated *WorkspaceCreated `json:"workspace_created,omitempty"`
	WorkspaceDeleted *WorkspaceDeleted `json:"workspace_deleted,omitempty"`

	AgentSpawned   *AgentSpawned   `json:"agent_spawned,omitempty"`
	AgentWorking   *AgentStateEvt  `json:"agent_working,omitempty"`
	AgentIdle      *AgentStateEvt  `json:"agent_idle,omitempty"`
	AgentFailed    *AgentFailedEvt `json:"agent_failed,omitempty"`
	AgentExited    *AgentStateEvt  `json:"agent_exited,omitempty"`
	AgentGone      *AgentStateEvt  `json:"agent_gone,omitempty"`
	AgentLogEntry  *AgentLogEntry  `json:"agent_log_entry,omitempty"`
	SessionDeleted *SessionDeleted `json:"session_deleted,omitempty"`

	AgentRunCreated   *AgentRunCreated `json:"agent_run_created,omitempty"`
	AgentRunCompleted *AgentRunTerminal `json:"agent_run_completed,omitempty"`
	AgentRunFailed    *AgentRunTerminal `json:"agent_run_failed,omitempty"`

	DecisionCreated *DecisionCreated `json:"decision_created,omitempty"`

	TimerSet    *TimerSet    `json:"timer_set,omitempty"`
	TimerCancel *TimerCancel `json:"timer_cancel,omitempty"`
	TimerStart  *TimerStart  `json:"timer_start,omitempty"`

	WorkerStarted      *WorkerStarted      `json:"worker_started,omitempty"`
	WorkerStopped      *WorkerStopped      `json:"worker_stopped,omitempty"`
	WorkerWake         *WorkerWake         `json:"worker_wake,omitempty"`
	WorkerTaking       *WorkerTaking       `json:"worker_taking,omitempty"`
	WorkerResized      *WorkerResized      `json:"worker_resized,omitempty"`
	WorkerTakeComplete *WorkerTakeComplete `json:"worker_take_complete,omitempty"`
	WorkerJobStarted   *WorkerJobStarted   `json:"worker_job_started,omitempty"`
	WorkerJobFreed     *WorkerJobFreed     `json:"worker_job_freed,omitempty"`

	QueuePushed    *QueuePushed    `json:"queue_pushed,omitempty"`
	QueueTaken     *QueueTaken     `json:"queue_taken,omitempty"`
	QueueCompleted *QueueCompleted `json:"queue_completed,omitempty"`
	QueueFailed    *QueueFailed    `json:"queue_failed,omitempty"`
	QueueItemRetry *QueueItemRetry `json:"queue_item_retry,omitempty"`
	QueueItemDead  *QueueItemDead  `json:"queue_item_dead,omitempty"`
	QueueDropped   *QueueDropped   `json:"queue_dropped,omitempty"`

	CronStarted       *CronStarted       `json:"cron_started,omitempty"`
	CronStopped       *CronStopped       `json:"cron_stopped,omitempty"`
	CronFired         *CronFired         `json:"cron_fired,omitempty"`
	CronJobFreed      *CronJobFreed      `json:"cron_job_freed,omitempty"`
	CronAgentRunFreed *CronAgentRunFreed `json:"cron_agent_run_freed,omitempty"`

	Pruned *Pruned `json:"pruned,omitempty"`

	Custom *CustomEvent `json:"custom,omitempty"`
}

// CustomEvent preserves the raw payload of a type this binary does not
// recognize, so replay never loses information and never panics.
type CustomEvent struct {
	OriginalType Type            `json:"original_type"`
	Raw          json.RawMessage `json:"raw"`
}

// --- Payloads ---

type RunbookLoaded struct {
	ProjectRoot string `json:"project_root"`
	Hash        string `json:"hash"`
	Source      string `json:"source,omitempty"`
}

type JobCreated struct {
	JobId       types.JobId       `json:"job_id"`
	Name        string            `json:"name"`
	Kind        string            `json:"kind"`
	Namespace   string            `json:"namespace"`
	Vars        map[string]string `json:"vars"`
	RunbookHash string            `json:"runbook_hash"`
	Cwd         string            `json:"cwd"`
	CronName    *string           `json:"cron_name,omitempty"`
	CreatedAtEpochMs int64        `json:"created_at_epoch_ms"`
}

type StepStarted struct {
	JobId types.JobId   `json:"job_id"`
	Step  string        `json:"step"`
	Kind  types.RunKind `json:"kind"`
	AtMs  int64         `json:"at_ms"`
	// VisitCount is the step's visit count as of this start, computed by
	// the handler at emission time so that re-applying this event is a
	// pure overwrite rather than a non-idempotent increment.
	VisitCount int `json:"visit_count"`
}

type ShellExited struct {
	JobId    types.JobId `json:"job_id"`
	Step     string      `json:"step"`
	ExitCode int         `json:"exit_code"`
	Stdout   string      `json:"stdout,omitempty"`
	Stderr   string      `json:"stderr,omitempty"`
	Outputs  map[string]string `json:"outputs,omitempty"`
}

type StepCompleted struct {
	JobId types.JobId `json:"job_id"`
	Step  string      `json:"step"`
	AtMs  int64       `json:"at_ms"`
}

type StepFailed struct {
	JobId  types.JobId `json:"job_id"`
	Step   string      `json:"step"`
	Reason string      `json:"reason"`
	AtMs   int64       `json:"at_ms"`
}

type JobCompleted struct {
	JobId types.JobId `json:"job_id"`
	AtMs  int64       `json:"at_ms"`
}

type JobFailed struct {
	JobId  types.JobId `json:"job_id"`
	Reason string      `json:"reason"`
	AtMs   int64       `json:"at_ms"`
}

type JobCancelled struct {
	JobId types.JobId `json:"job_id"`
	AtMs  int64       `json:"at_ms"`
}

type JobCancelRequested struct {
	JobId types.JobId `json:"job_id"`
}

type WorkspaceCreated struct {
	WorkspaceId types.WorkspaceId   `json:"workspace_id"`
	Owner       types.OwnerId       `json:"owner"`
	Path        string              `json:"path"`
	Mode        types.WorkspaceMode `json:"mode"`
	RepoRoot    string              `json:"repo_root,omitempty"`
	Branch      string              `json:"branch,omitempty"`
	StartPoint  string              `json:"start_point,omitempty"`
	Ephemeral   bool                `json:"ephemeral"`
}

type WorkspaceDeleted struct {
	WorkspaceId types.WorkspaceId `json:"workspace_id"`
}

type AgentSpawned struct {
	AgentId       types.AgentId `json:"agent_id"`
	AgentName     string        `json:"agent_name"`
	SessionId     types.SessionId `json:"session_id"`
	WorkspacePath string        `json:"workspace_path"`
	Namespace     string        `json:"namespace"`
	Owner         types.OwnerId `json:"owner"`
	Resumed       bool          `json:"resumed"`
}

type AgentStateEvt struct {
	AgentId types.AgentId `json:"agent_id"`
	AtMs    int64         `json:"at_ms"`
}

type AgentFailedEvt struct {
	AgentId   types.AgentId `json:"agent_id"`
	ErrorKind string        `json:"error_kind"`
	Message   string        `json:"message"`
	AtMs      int64         `json:"at_ms"`
}

type AgentLogEntry struct {
	AgentId types.AgentId `json:"agent_id"`
	Kind    string        `json:"kind"`
	Summary string        `json:"summary"`
	AtMs    int64         `json:"at_ms"`
}

type SessionDeleted struct {
	SessionId types.SessionId `json:"session_id"`
}

type AgentRunCreated struct {
	AgentRunId  types.AgentRunId  `json:"agent_run_id"`
	AgentName   string            `json:"agent_name"`
	CommandName string            `json:"command_name"`
	Namespace   string            `json:"namespace"`
	Cwd         string            `json:"cwd"`
	RunbookHash string            `json:"runbook_hash"`
	Vars        map[string]string `json:"vars"`
}

type AgentRunTerminal struct {
	AgentRunId types.AgentRunId `json:"agent_run_id"`
	Reason     string           `json:"reason,omitempty"`
	AtMs       int64            `json:"at_ms"`
}

type DecisionCreated struct {
	DecisionId  types.DecisionId `json:"decision_id"`
	JobId       types.JobId      `json:"job_id"`
	TriggerKind string           `json:"trigger_kind"`
	AtMs        int64            `json:"at_ms"`
}

type TimerSet struct {
	TimerId     types.TimerId `json:"timer_id"`
	FireAfterMs int64         `json:"fire_after_ms"`
}

type TimerCancel struct {
	TimerId types.TimerId `json:"timer_id"`
}

type TimerStart struct {
	TimerId types.TimerId `json:"timer_id"`
	AtMs    int64         `json:"at_ms"`
}

type WorkerStarted struct {
	Name        string           `json:"name"`
	Namespace   string           `json:"namespace"`
	ProjectRoot string           `json:"project_root"`
	RunbookHash string           `json:"runbook_hash"`
	JobKind     string           `json:"job_kind"`
	QueueName   string           `json:"queue_name"`
	QueueType   types.QueueType  `json:"queue_type"`
	Concurrency int              `json:"concurrency"`
	PollInterval string          `json:"poll_interval,omitempty"`
}

type WorkerStopped struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
}

type WorkerWake struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
}

// WorkerTaking records that a TakeQueueItem effect has been issued for an
// external-queue item, so AvailableSlots accounts for it until
// WorkerTakeComplete lands.
type WorkerTaking struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
	ItemId    string `json:"item_id"`
}

type WorkerResized struct {
	Name        string `json:"name"`
	Namespace   string `json:"namespace"`
	Concurrency int    `json:"concurrency"`
}

type WorkerTakeComplete struct {
	Name      string            `json:"name"`
	Namespace string            `json:"namespace"`
	ItemId    string            `json:"item_id"`
	ExitCode  int                `json:"exit_code"`
	Item      map[string]string `json:"item,omitempty"`
}

// WorkerJobStarted records that a job was created to service a taken queue
// item, so the worker's concurrency accounting (ActiveJobs) includes it.
type WorkerJobStarted struct {
	Name      string      `json:"name"`
	Namespace string      `json:"namespace"`
	JobId     types.JobId `json:"job_id"`
	ItemId    string      `json:"item_id,omitempty"`
}

// WorkerJobFreed records that a worker-dispatched job reached a terminal
// state, freeing its ActiveJobs slot.
type WorkerJobFreed struct {
	Name      string      `json:"name"`
	Namespace string      `json:"namespace"`
	JobId     types.JobId `json:"job_id"`
}

type QueuePushed struct {
	QueueName  string            `json:"queue_name"`
	ItemId     string            `json:"item_id"`
	Data       map[string]string `json:"data"`
	PushedAtMs int64             `json:"pushed_at_epoch_ms"`
}

type QueueTaken struct {
	QueueName string `json:"queue_name"`
	ItemId    string `json:"item_id"`
	Worker    string `json:"worker"`
}

type QueueCompleted struct {
	QueueName string      `json:"queue_name"`
	ItemId    string      `json:"item_id"`
	JobId     types.JobId `json:"job_id,omitempty"`
}

type QueueFailed struct {
	QueueName string      `json:"queue_name"`
	ItemId    string      `json:"item_id"`
	JobId     types.JobId `json:"job_id,omitempty"`
	Reason    string      `json:"reason"`
}

type QueueItemRetry struct {
	QueueName string `json:"queue_name"`
	ItemId    string `json:"item_id"`
}

type QueueItemDead struct {
	QueueName string `json:"queue_name"`
	ItemId    string `json:"item_id"`
}

type QueueDropped struct {
	QueueName string `json:"queue_name"`
	ItemId    string `json:"item_id"`
}

type CronStarted struct {
	CronName    string           `json:"cron_name"`
	Namespace   string           `json:"namespace"`
	ProjectRoot string           `json:"project_root"`
	RunbookHash string           `json:"runbook_hash"`
	Interval    string           `json:"interval"`
	RunTarget   types.RunTarget  `json:"run_target"`
	Concurrency int              `json:"concurrency"`
}

type CronStopped struct {
	CronName  string `json:"cron_name"`
	Namespace string `json:"namespace"`
}

type CronFired struct {
	CronName  string      `json:"cron_name"`
	Namespace string      `json:"namespace"`
	JobId     *types.JobId `json:"job_id,omitempty"`
	AgentRunId *types.AgentRunId `json:"agent_run_id,omitempty"`
	AtMs      int64       `json:"at_ms"`
}

// CronJobFreed records that a cron-fired job reached a terminal state,
// freeing its ActiveJobs slot against the cron's concurrency cap.
type CronJobFreed struct {
	CronName  string      `json:"cron_name"`
	Namespace string      `json:"namespace"`
	JobId     types.JobId `json:"job_id"`
}

// CronAgentRunFreed is CronJobFreed's counterpart for an agent-target cron.
type CronAgentRunFreed struct {
	CronName   string           `json:"cron_name"`
	Namespace  string           `json:"namespace"`
	AgentRunId types.AgentRunId `json:"agent_run_id"`
}

// Pruned records a garbage-collection pass removing terminal records of one
// kind ("job", "worker", "agent", "workspace", "queue_item") from
// materialized state, scoped to a namespace (empty means every namespace).
// It is itself a WAL-recorded event so that pruning is replayed exactly
// once rather than re-derived differently after every restart.
type Pruned struct {
	Kind      string   `json:"kind"`
	Namespace string   `json:"namespace,omitempty"`
	Ids       []string `json:"ids"`
}

// MarshalJSON renders the event through its type tag so each variant's
// payload key is populated and unused keys are omitted.
func (e Event) MarshalJSON() ([]byte, error) {
	type alias Event
	return json.Marshal(alias(e))
}

// UnmarshalJSON decodes an event, falling back to Custom for an
// unrecognized Type instead of failing the whole replay.
func (e *Event) UnmarshalJSON(data []byte) error {
	type alias Event
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	if !knownType(a.Type) {
		a = alias{
			Type: TypeCustom,
			Custom: &CustomEvent{
				OriginalType: a.Type,
				Raw:          append(json.RawMessage(nil), data...),
			},
		}
	}
	*e = Event(a)
	return nil
}

func knownType(t Type) bool {
	switch t {
	case TypeRunbookLoaded, TypeJobCreated, TypeStepStarted, TypeShellExited,
		TypeStepCompleted, TypeStepFailed, TypeJobCompleted, TypeJobFailed,
		TypeJobCancelled, TypeJobCancelRequested, TypeWorkspaceCreated,
		TypeWorkspaceDeleted, TypeAgentSpawned, TypeAgentWorking, TypeAgentIdle,
		TypeAgentFailed, TypeAgentExited, TypeAgentGone, TypeAgentLogEntry,
		TypeSessionDeleted, TypeAgentRunCreated, TypeAgentRunCompleted,
		TypeAgentRunFailed, TypeDecisionCreated, TypeTimerSet, TypeTimerCancel,
		TypeTimerStart, TypeWorkerStarted, TypeWorkerStopped, TypeWorkerWake,
		TypeWorkerTaking,
		TypeWorkerResized, TypeWorkerTakeComplete, TypeWorkerJobStarted, TypeWorkerJobFreed,
		TypeQueuePushed, TypeQueueTaken,
		TypeQueueCompleted, TypeQueueFailed, TypeQueueItemRetry, TypeQueueItemDead,
		TypeQueueDropped, TypeCronStarted, TypeCronStopped, TypeCronFired,
		TypeCronJobFreed, TypeCronAgentRunFreed, TypePruned,
		TypeCustom:
		return true
	}
	return false
}

// String renders a human-readable summary, used in log lines.
func (e Event) String() string {
	return fmt.Sprintf("%s", e.Type)
}
