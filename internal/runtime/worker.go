package runtime

import (
	"encoding/json"

	"github.com/oddjobs/oj/internal/effect"
	"github.com/oddjobs/oj/internal/event"
	"github.com/oddjobs/oj/internal/runbook"
	"github.com/oddjobs/oj/internal/template"
	"github.com/oddjobs/oj/internal/types"
)

func workerTimerID(kind types.TimerKind, scopedName string) types.TimerId {
	return types.NewTimerId(kind, types.OwnerRef(scopedName))
}

func (h *Handler) onWorkerStarted(p *event.WorkerStarted) ([]effect.Effect, []event.Event) {
	scoped := types.ScopedName(p.Namespace, p.Name)
	if p.QueueType == types.QueueExternal {
		arm := effect.Effect{Kind: effect.KindSetTimer, SetTimer: &effect.SetTimer{
			TimerId: workerTimerID(types.TimerQueuePoll, scoped),
			Delay:   parseCronInterval(p.PollInterval),
		}}
		return []effect.Effect{arm}, nil
	}
	// Persisted queues have no poll loop; drive an immediate wake so any
	// items already pending at worker-start (e.g. after a restart replay)
	// get dispatched without waiting on the next QueuePushed.
	return nil, []event.Event{{Type: event.TypeWorkerWake, WorkerWake: &event.WorkerWake{
		Name: p.Name, Namespace: p.Namespace,
	}}}
}

func (h *Handler) onWorkerResized(p *event.WorkerResized) ([]effect.Effect, []event.Event) {
	return nil, []event.Event{{Type: event.TypeWorkerWake, WorkerWake: &event.WorkerWake{
		Name: p.Name, Namespace: p.Namespace,
	}}}
}

// onWorkerWake dispatches as many jobs/takes as the worker's remaining
// concurrency allows. Persisted-queue workers drain the FIFO directly;
// external-queue workers do nothing here, since their items are taken
// from the queue-poll timer (queuePollFired, then BuildTakeEffects).
func (h *Handler) onWorkerWake(p *event.WorkerWake) ([]effect.Effect, []event.Event) {
	scoped := types.ScopedName(p.Namespace, p.Name)
	w := h.State.Worker(scoped)
	if w == nil || w.Status != types.WorkerRunning {
		return nil, nil
	}
	if w.QueueType != types.QueuePersisted {
		return nil, nil
	}
	rb, _, _, err := h.workerDefs(w)
	if err != nil {
		return nil, nil
	}

	var events []event.Event
	slots := w.AvailableSlots()
	taken := make(map[string]bool)
	for slots > 0 {
		item := nextPendingItem(h.State.QueueItems[w.QueueName], taken)
		if item == nil {
			break
		}
		taken[item.ID] = true
		slots--
		vars := make(map[string]string, len(item.Data))
		for k, v := range item.Data {
			vars["item."+k] = v
		}
		created, err := BuildJobCreated(rb, NewJobParams{
			Kind: w.JobKind, Namespace: w.Namespace, Cwd: w.ProjectRoot,
			RunbookHash: w.RunbookHash, Vars: vars,
		}, h.nowMs())
		if err != nil {
			events = append(events, event.Event{Type: event.TypeQueueFailed, QueueFailed: &event.QueueFailed{
				QueueName: w.QueueName, ItemId: item.ID, Reason: err.Error(),
			}})
			continue
		}
		jobID := created.JobCreated.JobId
		events = append(events,
			event.Event{Type: event.TypeQueueTaken, QueueTaken: &event.QueueTaken{
				QueueName: w.QueueName, ItemId: item.ID, Worker: w.Name,
			}},
			created,
			event.Event{Type: event.TypeWorkerJobStarted, WorkerJobStarted: &event.WorkerJobStarted{
				Name: w.Name, Namespace: w.Namespace, JobId: jobID, ItemId: item.ID,
			}},
		)
	}
	return nil, events
}

// nextPendingItem returns the oldest Pending item in a (push-ordered) item
// slice not already claimed earlier in the same dispatch pass, or nil if
// none are waiting. The skip set exists because state projection happens
// only once the returned events travel back through the WAL, so a single
// onWorkerWake call must track its own in-progress claims itself.
func nextPendingItem(items []*types.QueueItem, skip map[string]bool) *types.QueueItem {
	for _, it := range items {
		if it.Status == types.QueueItemPending && !skip[it.ID] {
			return it
		}
	}
	return nil
}

// workerDefs resolves a worker's runbook, job kind definition, and queue
// declaration together since all three are needed to dispatch work.
func (h *Handler) workerDefs(w *types.WorkerRecord) (*runbook.Runbook, runbook.JobDef, runbook.QueueDef, error) {
	rb, err := h.runbookFor(w.RunbookHash)
	if err != nil {
		return nil, runbook.JobDef{}, runbook.QueueDef{}, err
	}
	jobDef := rb.Job[w.JobKind]
	_, bareQueue := types.SplitScopedName(w.QueueName)
	return rb, jobDef, rb.Queue[bareQueue], nil
}

// onWorkerTakeComplete lands the result of an external queue's take
// command: a successful take turns into a job, a failed one just clears
// the in-flight marker so the next poll can retry it.
func (h *Handler) onWorkerTakeComplete(p *event.WorkerTakeComplete) ([]effect.Effect, []event.Event) {
	scoped := types.ScopedName(p.Namespace, p.Name)
	w := h.State.Worker(scoped)
	if w == nil {
		return nil, nil
	}
	if p.ExitCode != 0 {
		return nil, nil
	}
	rb, err := h.runbookFor(w.RunbookHash)
	if err != nil {
		return nil, nil
	}
	vars := make(map[string]string, len(p.Item))
	for k, v := range p.Item {
		vars["item."+k] = v
	}
	created, err := BuildJobCreated(rb, NewJobParams{
		Kind: w.JobKind, Namespace: w.Namespace, Cwd: w.ProjectRoot,
		RunbookHash: w.RunbookHash, Vars: vars,
	}, h.nowMs())
	if err != nil {
		return nil, nil
	}
	jobID := created.JobCreated.JobId
	return nil, []event.Event{
		created,
		{Type: event.TypeWorkerJobStarted, WorkerJobStarted: &event.WorkerJobStarted{
			Name: w.Name, Namespace: w.Namespace, JobId: jobID, ItemId: p.ItemId,
		}},
	}
}

// onQueuePushed wakes the worker draining this queue, if any, so a newly
// pushed persisted-queue item is dispatched without waiting on a poll tick.
func (h *Handler) onQueuePushed(p *event.QueuePushed) ([]effect.Effect, []event.Event) {
	for _, w := range h.State.Workers {
		if w.QueueName == p.QueueName && w.QueueType == types.QueuePersisted {
			return nil, []event.Event{{Type: event.TypeWorkerWake, WorkerWake: &event.WorkerWake{
				Name: w.Name, Namespace: w.Namespace,
			}}}
		}
	}
	return nil, nil
}

// onQueueFailed applies the queue's retry policy: arm a cooldown-delayed
// retry if attempts remain, otherwise mark the item dead.
func (h *Handler) onQueueFailed(p *event.QueueFailed) ([]effect.Effect, []event.Event) {
	item := h.State.QueueItemByID(p.QueueName, p.ItemId)
	if item == nil {
		return nil, nil
	}
	_, bareQueue := types.SplitScopedName(p.QueueName)
	var attempts int
	var cooldown string
	for _, w := range h.State.Workers {
		if w.QueueName != p.QueueName {
			continue
		}
		if rb, err := h.runbookFor(w.RunbookHash); err == nil {
			if qd, ok := rb.Queue[bareQueue]; ok {
				attempts, cooldown = qd.RetryAttempts, qd.RetryCooldown
			}
		}
		break
	}
	if attempts > 0 && item.FailureCount < attempts {
		delay := parseCronInterval(cooldown)
		arm := effect.Effect{Kind: effect.KindSetTimer, SetTimer: &effect.SetTimer{
			TimerId: types.NewTimerId(types.TimerQueueRetry, types.OwnerRef(p.QueueName), p.ItemId),
			Delay:   delay,
		}}
		return []effect.Effect{arm}, nil
	}
	return nil, []event.Event{{Type: event.TypeQueueItemDead, QueueItemDead: &event.QueueItemDead{
		QueueName: p.QueueName, ItemId: p.ItemId,
	}}}
}

// queuePollFired is the external-queue poll timer: it re-arms itself and
// issues a PollQueue effect. The engine runs it and hands its stdout to
// BuildTakeEffects; each resulting take re-enters as a WorkerTakeComplete
// event.
func (h *Handler) queuePollFired(scopedName string) ([]effect.Effect, []event.Event) {
	w := h.State.Worker(scopedName)
	if w == nil || w.Status != types.WorkerRunning {
		return nil, nil
	}
	rearm := effect.Effect{Kind: effect.KindSetTimer, SetTimer: &effect.SetTimer{
		TimerId: workerTimerID(types.TimerQueuePoll, scopedName),
		Delay:   parseCronInterval(w.PollInterval),
	}}
	effects := []effect.Effect{rearm}
	if w.AvailableSlots() <= 0 {
		return effects, nil
	}
	_, _, queueDef, err := h.workerDefs(w)
	if err != nil || queueDef.List == "" {
		return effects, nil
	}
	poll := effect.Effect{Kind: effect.KindPollQueue, PollQueue: &effect.PollQueue{
		Worker: w.Name, Namespace: w.Namespace, Command: queueDef.List, Cwd: w.ProjectRoot,
	}}
	return append(effects, poll), nil
}

// queueRetryFired returns a previously-failed item to Pending and wakes
// its worker, implementing the retry half of the retry/dead-letter policy.
func (h *Handler) queueRetryFired(queueName, itemID string) ([]effect.Effect, []event.Event) {
	item := h.State.QueueItemByID(queueName, itemID)
	if item == nil {
		return nil, nil
	}
	events := []event.Event{{Type: event.TypeQueueItemRetry, QueueItemRetry: &event.QueueItemRetry{
		QueueName: queueName, ItemId: itemID,
	}}}
	for _, w := range h.State.Workers {
		if w.QueueName == queueName {
			events = append(events, event.Event{Type: event.TypeWorkerWake, WorkerWake: &event.WorkerWake{
				Name: w.Name, Namespace: w.Namespace,
			}})
			break
		}
	}
	return nil, events
}

// BuildTakeEffects turns one PollQueue effect's raw stdout (a JSON array of
// item objects, each requiring an "id" field) into TakeQueueItem effects and
// the WorkerTaking events that mark them in flight, up to the worker's
// remaining slots. It takes its own read lock since the engine calls it
// directly rather than through Handle. Items the worker is already taking
// or has already queued a job for are skipped, making a re-poll of the same
// backlog idempotent.
func (h *Handler) BuildTakeEffects(namespace, workerName, pollStdout string) ([]effect.Effect, []event.Event) {
	h.State.RLock()
	defer h.State.RUnlock()

	scoped := types.ScopedName(namespace, workerName)
	w := h.State.Worker(scoped)
	if w == nil {
		return nil, nil
	}
	_, _, queueDef, err := h.workerDefs(w)
	if err != nil || queueDef.Take == "" {
		return nil, nil
	}

	var items []map[string]string
	if err := json.Unmarshal([]byte(pollStdout), &items); err != nil {
		return nil, nil
	}

	slots := w.AvailableSlots()
	var effects []effect.Effect
	var events []event.Event
	for _, item := range items {
		if slots <= 0 {
			break
		}
		id := item["id"]
		if id == "" || w.TakingItems[id] || w.InflightItems[id] {
			continue
		}
		vars := make(template.Vars, len(item))
		for k, v := range item {
			vars["item."+k] = v
		}
		cmd, err := template.Interpolate(queueDef.Take, vars)
		if err != nil {
			continue
		}
		effects = append(effects, effect.Effect{Kind: effect.KindTakeQueueItem, TakeQueueItem: &effect.TakeQueueItem{
			Worker: w.Name, Namespace: w.Namespace, ItemId: id, Command: cmd, Cwd: w.ProjectRoot,
		}})
		events = append(events, event.Event{Type: event.TypeWorkerTaking, WorkerTaking: &event.WorkerTaking{
			Name: w.Name, Namespace: w.Namespace, ItemId: id,
		}})
		slots--
	}
	return effects, events
}
