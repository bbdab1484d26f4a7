package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/oddjobs/oj/internal/adapter"
	"github.com/oddjobs/oj/internal/effect"
	"github.com/oddjobs/oj/internal/event"
)

// Executor is the sole owner of adapter state and the timer scheduler.
// Handlers build Effect values; only the Executor ever calls an adapter.
type Executor struct {
	Session  adapter.Session
	Agent    adapter.Agent
	Notifier adapter.Notifier
	Clock    adapter.Clock
	Shell    *ShellRunner
	Sched    *effect.Scheduler
	Log      *slog.Logger
}

// New builds an Executor wired to the given adapters and a fresh scheduler.
func New(session adapter.Session, agent adapter.Agent, notifier adapter.Notifier, clock adapter.Clock, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{
		Session:  session,
		Agent:    agent,
		Notifier: notifier,
		Clock:    clock,
		Shell:    NewShellRunner(),
		Sched:    effect.NewScheduler(),
		Log:      log,
	}
}

// Execute runs one effect, returning a follow-up event when the effect's
// contract produces one. Effects are never emitted from apply_event; only
// handlers build them.
func (x *Executor) Execute(ctx context.Context, eff effect.Effect) (*event.Event, error) {
	switch eff.Kind {
	case effect.KindSpawnAgent:
		return x.execSpawnAgent(ctx, eff.SpawnAgent)
	case effect.KindKillSession:
		return x.execKillSession(ctx, eff.KillSession)
	case effect.KindSendToSession:
		return nil, x.execSendToSession(ctx, eff.SendToSession)
	case effect.KindCreateWorkspace:
		return x.execCreateWorkspace(eff.CreateWorkspace)
	case effect.KindDeleteWorkspace:
		return x.execDeleteWorkspace(eff.DeleteWorkspace)
	case effect.KindShell:
		return x.execShell(ctx, eff.Shell)
	case effect.KindNotify:
		return nil, x.execNotify(ctx, eff.Notify)
	case effect.KindEmit:
		return eff.Emit, nil
	case effect.KindSetTimer:
		return x.execSetTimer(eff.SetTimer), nil
	case effect.KindCancelTimer:
		return x.execCancelTimer(eff.CancelTimer), nil
	case effect.KindTakeQueueItem:
		return x.execTakeQueueItem(ctx, eff.TakeQueueItem)
	case effect.KindPollQueue:
		return nil, fmt.Errorf("poll_queue effects are run via RunPollQueue, not Execute")
	default:
		return nil, fmt.Errorf("unknown effect kind %q", eff.Kind)
	}
}

// ExecuteAll runs every effect in order, collecting every non-nil follow-up
// event. An effect error is logged and does not stop the remaining effects.
func (x *Executor) ExecuteAll(ctx context.Context, effects []effect.Effect) []event.Event {
	var events []event.Event
	for _, eff := range effects {
		evt, err := x.Execute(ctx, eff)
		if err != nil {
			x.Log.Error("effect execution failed", "kind", eff.Kind, "error", err)
			continue
		}
		if evt != nil {
			events = append(events, *evt)
		}
	}
	return events
}

func (x *Executor) execSpawnAgent(ctx context.Context, s *effect.SpawnAgent) (*event.Event, error) {
	sessionName := adapter.SessionName(s.SessionId.String())
	if err := x.Session.Start(ctx, sessionName, s.WorkspacePath, s.Command, s.Env, s.TmuxStatusLeft, s.TmuxStatusRight); err != nil {
		return nil, fmt.Errorf("spawning agent %s: %w", s.AgentName, err)
	}
	return &event.Event{
		Type: event.TypeAgentSpawned,
		AgentSpawned: &event.AgentSpawned{
			AgentId:       s.AgentId,
			AgentName:     s.AgentName,
			SessionId:     s.SessionId,
			WorkspacePath: s.WorkspacePath,
			Namespace:     s.Namespace,
			Owner:         s.Owner,
			Resumed:       s.ResumeId != "",
		},
	}, nil
}

func (x *Executor) execKillSession(ctx context.Context, k *effect.KillSession) (*event.Event, error) {
	sessionName := adapter.SessionName(k.SessionId.String())
	if err := x.Session.Kill(ctx, sessionName); err != nil {
		return nil, fmt.Errorf("killing session %s: %w", sessionName, err)
	}
	return &event.Event{Type: event.TypeSessionDeleted, SessionDeleted: &event.SessionDeleted{SessionId: k.SessionId}}, nil
}

func (x *Executor) execSendToSession(ctx context.Context, s *effect.SendToSession) error {
	sessionName := adapter.SessionName(s.SessionId.String())
	if err := x.Session.Send(ctx, sessionName, s.Text, s.PressEnter); err != nil {
		return fmt.Errorf("sending to session %s: %w", sessionName, err)
	}
	return nil
}

func (x *Executor) execCreateWorkspace(c *effect.CreateWorkspace) (*event.Event, error) {
	if c.Mode == "git_worktree" {
		branch := c.Branch
		if branch == "" {
			branch = "ws-" + c.WorkspaceId.String()
		}
		startPoint := c.StartPoint
		if startPoint == "" {
			startPoint = "HEAD"
		}
		cmd := exec.Command("git", "worktree", "add", "-b", branch, c.Path, startPoint)
		cmd.Dir = c.RepoRoot
		if out, err := cmd.CombinedOutput(); err != nil {
			return nil, fmt.Errorf("creating git worktree: %w: %s", err, out)
		}
	} else {
		if err := os.MkdirAll(c.Path, 0o755); err != nil {
			return nil, fmt.Errorf("creating workspace directory: %w", err)
		}
	}
	return &event.Event{
		Type: event.TypeWorkspaceCreated,
		WorkspaceCreated: &event.WorkspaceCreated{
			WorkspaceId: c.WorkspaceId,
			Owner:       c.Owner,
			Path:        c.Path,
			Mode:        c.Mode,
			RepoRoot:    c.RepoRoot,
			Branch:      c.Branch,
			StartPoint:  c.StartPoint,
			Ephemeral:   c.Ephemeral,
		},
	}, nil
}

func (x *Executor) execDeleteWorkspace(d *effect.DeleteWorkspace) (*event.Event, error) {
	if err := os.RemoveAll(d.Path); err != nil {
		return nil, fmt.Errorf("deleting workspace directory: %w", err)
	}
	return &event.Event{Type: event.TypeWorkspaceDeleted, WorkspaceDeleted: &event.WorkspaceDeleted{WorkspaceId: d.WorkspaceId}}, nil
}

func (x *Executor) execShell(ctx context.Context, s *effect.Shell) (*event.Event, error) {
	res, runErr := x.Shell.Run(ctx, s)
	if res == nil {
		return nil, runErr
	}
	if runErr != nil {
		x.Log.Warn("shell step did not exit cleanly", "job_id", s.JobId, "step", s.Step, "error", runErr)
	}
	return &event.Event{
		Type: event.TypeShellExited,
		ShellExited: &event.ShellExited{
			JobId:    s.JobId,
			Step:     s.Step,
			ExitCode: res.ExitCode,
			Stdout:   res.Stdout,
			Stderr:   res.Stderr,
			Outputs:  res.Outputs,
		},
	}, nil
}

func (x *Executor) execNotify(ctx context.Context, n *effect.Notify) error {
	return x.Notifier.Notify(ctx, n.Title, n.Message)
}

func (x *Executor) execSetTimer(s *effect.SetTimer) *event.Event {
	x.Sched.Set(s.TimerId, x.Clock.Now().Add(s.Delay))
	return &event.Event{Type: event.TypeTimerSet, TimerSet: &event.TimerSet{TimerId: s.TimerId, FireAfterMs: s.Delay.Milliseconds()}}
}

func (x *Executor) execCancelTimer(c *effect.CancelTimer) *event.Event {
	x.Sched.Cancel(c.TimerId)
	return &event.Event{Type: event.TypeTimerCancel, TimerCancel: &event.TimerCancel{TimerId: c.TimerId}}
}

func (x *Executor) execTakeQueueItem(ctx context.Context, t *effect.TakeQueueItem) (*event.Event, error) {
	res, runErr := x.Shell.Run(ctx, &effect.Shell{Command: t.Command, Cwd: t.Cwd, Env: t.Env})
	if res == nil {
		return nil, runErr
	}
	var item map[string]string
	if res.ExitCode == 0 {
		_ = json.Unmarshal([]byte(res.Stdout), &item)
	}
	return &event.Event{
		Type: event.TypeWorkerTakeComplete,
		WorkerTakeComplete: &event.WorkerTakeComplete{
			Name:      t.Worker,
			Namespace: t.Namespace,
			ItemId:    t.ItemId,
			ExitCode:  res.ExitCode,
			Item:      item,
		},
	}, nil
}

// RunPollQueue runs an external queue's list command directly, returning its
// raw stdout for the worker loop to parse as a JSON array of items. This
// effect does not fit the one-effect-one-event contract the rest of Execute
// follows, since it can produce zero or many TakeQueueItem follow-ups
// depending on free slots; the worker handler calls this instead of routing
// PollQueue through Execute.
func (x *Executor) RunPollQueue(ctx context.Context, p *effect.PollQueue) (string, error) {
	res, err := x.Shell.Run(ctx, &effect.Shell{Command: p.Command, Cwd: p.Cwd, Env: p.Env})
	if res == nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("queue list command exited %d: %s", res.ExitCode, res.Stderr)
	}
	return res.Stdout, nil
}
