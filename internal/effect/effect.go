// Package effect defines the declarative side-effect vocabulary the runtime
// emits and the executor carries out: Effect values never mutate state
// directly, they are translated into adapter calls by internal/executor.
package effect

import (
	"time"

	"github.com/oddjobs/oj/internal/event"
	"github.com/oddjobs/oj/internal/types"
)

// Kind discriminates an Effect.
type Kind string

const (
	KindSpawnAgent     Kind = "spawn_agent"
	KindKillSession    Kind = "kill_session"
	KindSendToSession  Kind = "send_to_session"
	KindCreateWorkspace Kind = "create_workspace"
	KindDeleteWorkspace Kind = "delete_workspace"
	KindShell          Kind = "shell"
	KindNotify         Kind = "notify"
	KindEmit           Kind = "emit"
	KindSetTimer       Kind = "set_timer"
	KindCancelTimer    Kind = "cancel_timer"
	KindPollQueue      Kind = "poll_queue"
	KindTakeQueueItem  Kind = "take_queue_item"
)

// Effect is the tagged variant the executor dispatches on. Exactly one of
// the payload fields is populated, selected by Kind.
type Effect struct {
	Kind Kind

	SpawnAgent      *SpawnAgent
	KillSession     *KillSession
	SendToSession   *SendToSession
	CreateWorkspace *CreateWorkspace
	DeleteWorkspace *DeleteWorkspace
	Shell           *Shell
	Notify          *Notify
	Emit            *event.Event
	SetTimer        *SetTimer
	CancelTimer     *CancelTimer
	PollQueue       *PollQueue
	TakeQueueItem   *TakeQueueItem
}

// SpawnAgent asks the agent adapter to start a fresh or resumed session.
type SpawnAgent struct {
	AgentId       types.AgentId
	AgentName     string
	SessionId     types.SessionId
	WorkspacePath string
	Namespace     string
	Owner         types.OwnerId
	Command       string
	Env           map[string]string
	TmuxStatusLeft  string
	TmuxStatusRight string
	ResumeId        string // set when attempting --resume
}

// KillSession tears down a multiplexer session by id.
type KillSession struct {
	SessionId types.SessionId
}

// SendToSession delivers literal text (optionally followed by Enter) into a
// live session, used by the Nudge and Resume actions.
type SendToSession struct {
	SessionId  types.SessionId
	Text       string
	PressEnter bool
}

// CreateWorkspace provisions a folder or git worktree.
type CreateWorkspace struct {
	WorkspaceId types.WorkspaceId
	Owner       types.OwnerId
	Path        string
	Mode        types.WorkspaceMode
	RepoRoot    string
	Branch      string
	StartPoint  string
	Ephemeral   bool
}

// DeleteWorkspace removes a workspace directory from disk.
type DeleteWorkspace struct {
	WorkspaceId types.WorkspaceId
	Path        string
}

// Shell runs one shell command to completion (or cancellation) and reports
// its outputs; used for step execution, queue list/take commands, and Gate
// actions.
type Shell struct {
	JobId   types.JobId
	Step    string
	Command string
	Cwd     string
	Env     map[string]string
	Outputs []OutputSpec
	Timeout time.Duration
}

// OutputSource names where a named shell output is extracted from.
type OutputSource string

const (
	OutputStdout   OutputSource = "stdout"
	OutputStderr   OutputSource = "stderr"
	OutputExitCode OutputSource = "exit_code"
	OutputFile     OutputSource = "file"
)

// OutputSpec names one output extracted from a Shell effect's result.
type OutputSpec struct {
	Name   string
	Source OutputSource
	Path   string // only used when Source == OutputFile
}

// Notify asks the notifier adapter to surface a desktop notification.
type Notify struct {
	Title   string
	Message string
}

// SetTimer arms (or re-arms) a timer to fire after Delay.
type SetTimer struct {
	TimerId types.TimerId
	Delay   time.Duration
}

// CancelTimer cancels a pending timer; unknown ids are silently ignored.
type CancelTimer struct {
	TimerId types.TimerId
}

// PollQueue runs an external queue's list command and reports parsed items
// back to the worker loop as a follow-up WorkerPoll handling step (the
// executor runs the shell and the runtime interprets stdout as JSON).
type PollQueue struct {
	Worker    string
	Namespace string
	Command   string
	Cwd       string
	Env       map[string]string
}

// TakeQueueItem runs an external queue's take command for one item.
type TakeQueueItem struct {
	Worker    string
	Namespace string
	ItemId    string
	Command   string
	Cwd       string
	Env       map[string]string
}
