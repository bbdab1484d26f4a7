package runtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/oddjobs/oj/internal/effect"
	"github.com/oddjobs/oj/internal/event"
	"github.com/oddjobs/oj/internal/executor"
	"github.com/oddjobs/oj/internal/state"
	"github.com/oddjobs/oj/internal/wal"
)

// maxTimerWait bounds how long Run ever blocks without re-checking the
// scheduler, so a timer armed from another goroutine is never missed by
// more than this much.
const maxTimerWait = 5 * time.Second

// Engine is the daemon's single-writer event loop: every event, whether it
// originates from an IPC request, an adapter observation, or a fired timer,
// is appended to the WAL, applied to state, handed to the Handler, and its
// resulting effects executed. Follow-up events are never processed inline —
// they re-enter through Submit so WAL order always matches the order state
// was actually derived in.
type Engine struct {
	WAL     *wal.WAL
	State   *state.State
	Handler *Handler
	Exec    *executor.Executor
	Log     *slog.Logger

	queue chan event.Event
}

// NewEngine wires an Engine over an already-open WAL, a materialized state
// (fresh or restored from snapshot+replay), a Handler, and an Executor.
func NewEngine(w *wal.WAL, st *state.State, h *Handler, x *executor.Executor, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{WAL: w, State: st, Handler: h, Exec: x, Log: log, queue: make(chan event.Event, 256)}
}

// Submit enqueues an event for processing on the engine's single goroutine.
// Safe to call from any goroutine: IPC request handlers, follow-up events
// from handlers and fired timers, and the executor's effect results all
// funnel through here.
func (e *Engine) Submit(evt event.Event) {
	e.queue <- evt
}

// Run drives the event loop until ctx is cancelled. It is the only
// goroutine that ever calls state.Apply or Handler.Handle/TimerFired; that
// single-writer guarantee is what makes Handle's own short RLock, taken
// separately from the Apply that precedes it, equivalent in practice to
// one atomic critical section per step.
func (e *Engine) Run(ctx context.Context) {
	for {
		wait := maxTimerWait
		if deadline, ok := e.Exec.Sched.NextDeadline(); ok {
			if d := time.Until(deadline); d < wait {
				if d < 0 {
					d = 0
				}
				wait = d
			}
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case evt := <-e.queue:
			timer.Stop()
			e.step(ctx, evt)
		case <-timer.C:
			e.pollTimers(ctx)
		}
	}
}

func (e *Engine) pollTimers(ctx context.Context) {
	now := e.Exec.Clock.Now()
	for _, id := range e.Exec.Sched.Fired(now) {
		effects, followups := e.Handler.TimerFired(id, now)
		e.dispatchEffects(ctx, effects)
		for _, fu := range followups {
			e.Submit(fu)
		}
	}
}

// step implements one pass of the control-flow diagram: append, apply,
// handle, execute. It deliberately does not recurse on the follow-up
// events Handle returns — those go back through Submit and get their own
// WAL entry, so a crash between two causally-linked events always leaves a
// prefix of the chain durable rather than an event that was only ever
// handled in memory.
func (e *Engine) step(ctx context.Context, evt event.Event) {
	if _, err := e.WAL.Send(evt); err != nil {
		e.Log.Error("wal append failed", "type", evt.Type, "error", err)
		return
	}
	if err := e.WAL.Flush(); err != nil {
		e.Log.Error("wal flush failed", "error", err)
	}
	e.State.Apply(evt)
	effects, followups := e.Handler.Handle(evt)
	e.dispatchEffects(ctx, effects)
	for _, fu := range followups {
		e.Submit(fu)
	}
}

// dispatchEffects runs effects through the executor, special-casing
// PollQueue: unlike every other effect it cannot map to a single follow-up
// event (Executor.RunPollQueue's doc explains why), so the engine runs it
// directly and asks the Handler to translate its stdout, with access to
// state, into however many TakeQueueItem effects the worker's free slots
// allow.
func (e *Engine) dispatchEffects(ctx context.Context, effects []effect.Effect) {
	var rest []effect.Effect
	for _, eff := range effects {
		if eff.Kind != effect.KindPollQueue {
			rest = append(rest, eff)
			continue
		}
		stdout, err := e.Exec.RunPollQueue(ctx, eff.PollQueue)
		if err != nil {
			e.Log.Warn("queue poll failed", "worker", eff.PollQueue.Worker, "error", err)
			continue
		}
		takeEffects, takeEvents := e.Handler.BuildTakeEffects(eff.PollQueue.Namespace, eff.PollQueue.Worker, stdout)
		for _, te := range takeEvents {
			e.Submit(te)
		}
		rest = append(rest, takeEffects...)
	}
	for _, fu := range e.Exec.ExecuteAll(ctx, rest) {
		e.Submit(fu)
	}
}
