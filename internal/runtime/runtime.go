// Package runtime is the event handler layer between materialized state
// and the effect vocabulary: for every event the engine observes, it
// decides what side effects to request and what follow-up events to emit.
// Handlers never call an adapter and never mutate state directly — they
// read state.State (already updated by state.Apply for the event
// being handled) and return effect.Effect / event.Event values for the
// engine to execute and re-enter through the WAL.
package runtime

import (
	"fmt"
	"time"

	"github.com/oddjobs/oj/internal/adapter"
	"github.com/oddjobs/oj/internal/effect"
	"github.com/oddjobs/oj/internal/event"
	"github.com/oddjobs/oj/internal/runbook"
	"github.com/oddjobs/oj/internal/state"
	"github.com/oddjobs/oj/internal/types"
)

// ShellEvalTimeout is a bound for $(...) expansion through
// template.EvalShell. No handler calls EvalShell: workspace.ref/branch and
// locals.* are passed on without $(...) expansion.
const ShellEvalTimeout = 10 * time.Second

// Handler holds the read-only dependencies every event handler needs:
// materialized state, the per-hash runbook cache, and a clock for
// timestamping emitted events. It has no mutable fields of its own.
type Handler struct {
	State    *state.State
	Runbooks *runbook.Cache
	Clock    adapter.Clock
}

// NewHandler builds a Handler over the given state, runbook cache and clock.
func NewHandler(st *state.State, runbooks *runbook.Cache, clock adapter.Clock) *Handler {
	return &Handler{State: st, Runbooks: runbooks, Clock: clock}
}

func (h *Handler) nowMs() int64 { return h.Clock.Now().UnixMilli() }

// Handle is the central dispatch switch. Callers must have already applied
// evt to h.State (via state.Apply) before calling Handle, since
// handlers read the post-apply projection.
func (h *Handler) Handle(evt event.Event) ([]effect.Effect, []event.Event) {
	h.State.RLock()
	defer h.State.RUnlock()

	switch evt.Type {
	case event.TypeJobCreated:
		return h.onJobCreated(evt.JobCreated)
	case event.TypeWorkspaceCreated:
		return h.onWorkspaceCreated(evt.WorkspaceCreated)
	case event.TypeShellExited:
		return h.onShellExited(evt.ShellExited)
	case event.TypeStepCompleted:
		return h.onStepCompleted(evt.StepCompleted)
	case event.TypeStepFailed:
		return h.onStepFailed(evt.StepFailed)
	case event.TypeJobCancelRequested:
		return h.onJobCancelRequested(evt.JobCancelRequested)
	case event.TypeJobCompleted, event.TypeJobFailed, event.TypeJobCancelled:
		return h.onJobTerminal(evt)

	case event.TypeAgentSpawned:
		return h.onAgentSpawned(evt.AgentSpawned)
	case event.TypeAgentWorking:
		return h.onAgentWorking(evt.AgentWorking)
	case event.TypeAgentIdle:
		return h.onAgentIdle(evt.AgentIdle)
	case event.TypeAgentFailed:
		return h.onAgentFailed(evt.AgentFailed)
	case event.TypeAgentExited:
		return h.onAgentTerminalMonitor(evt.AgentExited.AgentId, "exited")
	case event.TypeAgentGone:
		return h.onAgentTerminalMonitor(evt.AgentGone.AgentId, "gone")
	case event.TypeAgentRunCreated:
		return h.onAgentRunCreated(evt.AgentRunCreated)
	case event.TypeAgentRunCompleted, event.TypeAgentRunFailed:
		return h.onAgentRunTerminal(evt)

	case event.TypeWorkerStarted:
		return h.onWorkerStarted(evt.WorkerStarted)
	case event.TypeWorkerWake:
		return h.onWorkerWake(evt.WorkerWake)
	case event.TypeWorkerResized:
		return h.onWorkerResized(evt.WorkerResized)
	case event.TypeWorkerTakeComplete:
		return h.onWorkerTakeComplete(evt.WorkerTakeComplete)
	case event.TypeQueuePushed:
		return h.onQueuePushed(evt.QueuePushed)
	case event.TypeQueueFailed:
		return h.onQueueFailed(evt.QueueFailed)

	case event.TypeCronStarted:
		return h.onCronStarted(evt.CronStarted)
	case event.TypeCronStopped:
		return h.onCronStopped(evt.CronStopped)

	default:
		return nil, nil
	}
}

func jobOwner(id types.JobId) types.OwnerId { return types.OwnerFromJob(id) }

// runbookFor resolves the parsed Runbook behind a content hash, or reports
// an error the caller should translate into a step/job failure.
func (h *Handler) runbookFor(hash string) (*runbook.Runbook, error) {
	rb, ok := h.Runbooks.Get(hash)
	if !ok {
		return nil, fmt.Errorf("no cached runbook for hash %s", hash)
	}
	return rb, nil
}

func failJobEvent(jobID types.JobId, reason string, atMs int64) event.Event {
	return event.Event{Type: event.TypeJobFailed, JobFailed: &event.JobFailed{JobId: jobID, Reason: reason, AtMs: atMs}}
}

func completeJobEvent(jobID types.JobId, atMs int64) event.Event {
	return event.Event{Type: event.TypeJobCompleted, JobCompleted: &event.JobCompleted{JobId: jobID, AtMs: atMs}}
}

func cancelJobEvent(jobID types.JobId, atMs int64) event.Event {
	return event.Event{Type: event.TypeJobCancelled, JobCancelled: &event.JobCancelled{JobId: jobID, AtMs: atMs}}
}

func stepFailedEvent(jobID types.JobId, step, reason string, atMs int64) event.Event {
	return event.Event{Type: event.TypeStepFailed, StepFailed: &event.StepFailed{JobId: jobID, Step: step, Reason: reason, AtMs: atMs}}
}

func stepCompletedEvent(jobID types.JobId, step string, atMs int64) event.Event {
	return event.Event{Type: event.TypeStepCompleted, StepCompleted: &event.StepCompleted{JobId: jobID, Step: step, AtMs: atMs}}
}
