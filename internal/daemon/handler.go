package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/oddjobs/oj/internal/adapter"
	"github.com/oddjobs/oj/internal/effect"
	"github.com/oddjobs/oj/internal/event"
	"github.com/oddjobs/oj/internal/ipc"
	"github.com/oddjobs/oj/internal/runbook"
	"github.com/oddjobs/oj/internal/runtime"
	"github.com/oddjobs/oj/internal/types"
)

// Handle implements ipc.Handler. A namespace is always an absolute project
// root path; the daemon resolves runbook files for it via
// runbook.Discover(namespace) rather than requiring a client to pass a
// pre-parsed runbook over the wire.
func (d *Daemon) Handle(ctx context.Context, req *ipc.Request) *ipc.Response {
	switch req.Kind {
	case ipc.ReqEvent:
		return d.handleEvent(req.Event)
	case ipc.ReqQuery:
		return d.handleQuery(req.Query)
	case ipc.ReqCronStart:
		return d.handleCronStart(req.CronStart)
	case ipc.ReqCronStop:
		return d.handleCronStop(req.CronStop.Namespace, req.CronStop.Name)
	case ipc.ReqCronOnce:
		return d.handleCronOnce(req.CronOnce)
	case ipc.ReqCronRestart:
		return d.handleCronRestart(req.CronRestart)
	case ipc.ReqWorkerStart:
		return d.handleWorkerStart(req.WorkerStart)
	case ipc.ReqWorkerStop:
		return d.handleWorkerStop(req.WorkerStop.Namespace, req.WorkerStop.Name)
	case ipc.ReqWorkerResize:
		return d.handleWorkerResize(req.WorkerResize)
	case ipc.ReqWorkerRestart:
		return d.handleWorkerRestart(req.WorkerRestart)
	case ipc.ReqWorkerPrune:
		return d.handleWorkerPrune(req.WorkerPrune.Namespace)
	case ipc.ReqQueuePush:
		return d.handleQueuePush(req.QueuePush)
	case ipc.ReqQueueDrop:
		return d.handleQueueDrop(req.QueueDrop)
	case ipc.ReqQueueRetry:
		return d.handleQueueRetry(req.QueueRetry)
	case ipc.ReqQueueDrain:
		return d.handleQueueDrain(req.QueueDrain)
	case ipc.ReqQueuePrune:
		return d.handleQueuePrune(req.QueuePrune.Namespace)
	case ipc.ReqAgentSend:
		return d.handleAgentSend(ctx, req.AgentSend)
	case ipc.ReqAgentPrune:
		return d.handleAgentPrune(req.AgentPrune.Namespace)
	case ipc.ReqPipelinePrune:
		return d.handlePipelinePrune(req.PipelinePrune.Namespace)
	case ipc.ReqWorkspacePrune:
		return d.handleWorkspacePrune(req.WorkspacePrune.Namespace)
	case ipc.ReqPeekSession:
		return d.handlePeekSession(ctx, req.PeekSession)
	case ipc.ReqShutdown:
		return d.handleShutdown(ctx, req.Shutdown)
	default:
		return ipc.NewErrorResponse(fmt.Errorf("unhandled request kind %q", req.Kind))
	}
}

func (d *Daemon) handleEvent(r *ipc.EventRequest) *ipc.Response {
	d.Engine.Submit(r.Event)
	return ipc.NewOkResponse(r.Event)
}

func (d *Daemon) handleQuery(q *ipc.QueryRequest) *ipc.Response {
	d.State.RLock()
	defer d.State.RUnlock()

	var data any
	found := false
	switch q.Kind {
	case ipc.QueryJob:
		if j := d.State.Jobs[types.JobId(q.JobId)]; j != nil {
			data, found = j, true
		}
	case ipc.QueryWorker:
		if w := d.State.Workers[types.ScopedName(q.Namespace, q.Name)]; w != nil {
			data, found = w, true
		}
	case ipc.QueryCron:
		if c := d.State.Crons[types.ScopedName(q.Namespace, q.Name)]; c != nil {
			data, found = c, true
		}
	case ipc.QueryAgent:
		if a := d.State.Agents[types.AgentId(q.JobId)]; a != nil {
			data, found = a, true
		}
	case ipc.QueryState:
		data, found = d.State, true
	default:
		return ipc.NewErrorResponse(fmt.Errorf("unknown query kind %q", q.Kind))
	}

	if !found {
		return &ipc.Response{Kind: ipc.RespQueryResult, QueryResult: &ipc.QueryResultPayload{Found: false}}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return ipc.NewErrorResponse(fmt.Errorf("marshaling query result: %w", err))
	}
	return &ipc.Response{Kind: ipc.RespQueryResult, QueryResult: &ipc.QueryResultPayload{Found: true, Data: raw}}
}

// findInRunbooks scans every runbook file discovered under namespace
// looking for one containing name in the section test selects, loading
// (and thereby caching) each file along the way.
func (d *Daemon) findInRunbooks(namespace, name string, has func(*runbook.Runbook) bool) (*runbook.Runbook, string, error) {
	paths, err := runbook.Discover(namespace)
	if err != nil {
		return nil, "", fmt.Errorf("discovering runbooks in %s: %w", namespace, err)
	}
	for _, path := range paths {
		rb, hash, err := d.Runbooks.Load(path)
		if err != nil {
			continue
		}
		if has(rb) {
			return rb, hash, nil
		}
	}
	return nil, "", fmt.Errorf("%q not declared in any runbook under %s", name, namespace)
}

func (d *Daemon) handleCronStart(r *ipc.CronStartRequest) *ipc.Response {
	rb, hash, err := d.findInRunbooks(r.Namespace, r.Name, func(rb *runbook.Runbook) bool {
		_, ok := rb.Cron[r.Name]
		return ok
	})
	if err != nil {
		return ipc.NewErrorResponse(err)
	}
	cd := rb.Cron[r.Name]
	target := types.RunTarget{Kind: types.RunTargetKind(cd.RunTargetKind), Name: cd.RunTargetName}
	evt := event.Event{Type: event.TypeCronStarted, CronStarted: &event.CronStarted{
		CronName: r.Name, Namespace: r.Namespace, ProjectRoot: r.Namespace,
		RunbookHash: hash, Interval: cd.Interval, RunTarget: target, Concurrency: cd.Concurrency,
	}}
	d.Engine.Submit(evt)
	return ipc.NewOkResponse(evt)
}

func (d *Daemon) handleCronStop(namespace, name string) *ipc.Response {
	evt := event.Event{Type: event.TypeCronStopped, CronStopped: &event.CronStopped{CronName: name, Namespace: namespace}}
	d.Engine.Submit(evt)
	return ipc.NewOkResponse(evt)
}

func (d *Daemon) handleCronRestart(r *ipc.CronRestartRequest) *ipc.Response {
	d.handleCronStop(r.Namespace, r.Name)
	return d.handleCronStart(&ipc.CronStartRequest{Namespace: r.Namespace, Name: r.Name})
}

// handleCronOnce fires a cron's target exactly once, independent of its
// timer and concurrency cap, without registering a running CronRecord.
func (d *Daemon) handleCronOnce(r *ipc.CronOnceRequest) *ipc.Response {
	rb, hash, err := d.findInRunbooks(r.Namespace, r.Name, func(rb *runbook.Runbook) bool {
		_, ok := rb.Cron[r.Name]
		return ok
	})
	if err != nil {
		return ipc.NewErrorResponse(err)
	}
	cd := rb.Cron[r.Name]
	now := d.Exec.Clock.Now().UnixMilli()

	switch types.RunTargetKind(cd.RunTargetKind) {
	case types.RunTargetPipeline:
		created, err := runtime.BuildJobCreated(rb, runtime.NewJobParams{
			Kind: cd.RunTargetName, Namespace: r.Namespace, Cwd: r.Namespace, RunbookHash: hash,
		}, now)
		if err != nil {
			return ipc.NewErrorResponse(err)
		}
		d.Engine.Submit(created)
		return ipc.NewOkResponse(created)
	case types.RunTargetAgent:
		agentDef, ok := rb.Agent[cd.RunTargetName]
		if !ok {
			return ipc.NewErrorResponse(fmt.Errorf("cron %q: unknown agent %q", r.Name, cd.RunTargetName))
		}
		evt := event.Event{Type: event.TypeAgentRunCreated, AgentRunCreated: &event.AgentRunCreated{
			AgentRunId: types.NewAgentRunId(), AgentName: agentDef.Name, CommandName: agentDef.Name,
			Namespace: r.Namespace, Cwd: r.Namespace, RunbookHash: hash,
		}}
		d.Engine.Submit(evt)
		return ipc.NewOkResponse(evt)
	default:
		return ipc.NewErrorResponse(fmt.Errorf("cron %q: unknown run target kind %q", r.Name, cd.RunTargetKind))
	}
}

func (d *Daemon) handleWorkerStart(r *ipc.WorkerStartRequest) *ipc.Response {
	rb, hash, err := d.findInRunbooks(r.Namespace, r.Name, func(rb *runbook.Runbook) bool {
		_, ok := rb.Worker[r.Name]
		return ok
	})
	if err != nil {
		return ipc.NewErrorResponse(err)
	}
	wd := rb.Worker[r.Name]
	qd := rb.Queue[wd.Queue]
	evt := event.Event{Type: event.TypeWorkerStarted, WorkerStarted: &event.WorkerStarted{
		Name: r.Name, Namespace: r.Namespace, ProjectRoot: r.Namespace, RunbookHash: hash,
		JobKind: wd.JobKind, QueueName: types.ScopedName(r.Namespace, wd.Queue),
		QueueType: types.QueueType(qd.Type), Concurrency: wd.Concurrency, PollInterval: wd.PollInterval,
	}}
	d.Engine.Submit(evt)
	return ipc.NewOkResponse(evt)
}

func (d *Daemon) handleWorkerStop(namespace, name string) *ipc.Response {
	evt := event.Event{Type: event.TypeWorkerStopped, WorkerStopped: &event.WorkerStopped{Name: name, Namespace: namespace}}
	d.Engine.Submit(evt)
	return ipc.NewOkResponse(evt)
}

func (d *Daemon) handleWorkerResize(r *ipc.WorkerResizeRequest) *ipc.Response {
	evt := event.Event{Type: event.TypeWorkerResized, WorkerResized: &event.WorkerResized{
		Name: r.Name, Namespace: r.Namespace, Concurrency: r.Concurrency,
	}}
	d.Engine.Submit(evt)
	return ipc.NewOkResponse(evt)
}

func (d *Daemon) handleWorkerRestart(r *ipc.WorkerRestartRequest) *ipc.Response {
	d.handleWorkerStop(r.Namespace, r.Name)
	return d.handleWorkerStart(&ipc.WorkerStartRequest{Namespace: r.Namespace, Name: r.Name})
}

func (d *Daemon) handleWorkerPrune(namespace string) *ipc.Response {
	d.State.RLock()
	var ids []string
	for scoped, w := range d.State.Workers {
		if w.Status != types.WorkerStopped {
			continue
		}
		if namespace != "" && w.Namespace != namespace {
			continue
		}
		ids = append(ids, scoped)
	}
	d.State.RUnlock()

	evt := event.Event{Type: event.TypePruned, Pruned: &event.Pruned{Kind: "worker", Namespace: namespace, Ids: ids}}
	d.Engine.Submit(evt)
	return ipc.NewOkResponse(evt)
}

func (d *Daemon) handleQueuePush(r *ipc.QueuePushRequest) *ipc.Response {
	var data map[string]string
	if len(r.Data) > 0 {
		if err := json.Unmarshal(r.Data, &data); err != nil {
			return ipc.NewErrorResponse(fmt.Errorf("decoding queue item data: %w", err))
		}
	}
	queue := types.ScopedName(r.Namespace, r.Queue)
	d.State.RLock()
	existing := d.State.FindQueueItemByData(queue, data)
	d.State.RUnlock()
	if existing != nil {
		return ipc.NewOkResponse(event.Event{Type: event.TypeQueuePushed, QueuePushed: &event.QueuePushed{
			QueueName: queue, ItemId: existing.ID, Data: existing.Data, PushedAtMs: existing.PushedAtMs,
		}})
	}
	evt := event.Event{Type: event.TypeQueuePushed, QueuePushed: &event.QueuePushed{
		QueueName:  queue,
		ItemId:     uuid.NewString(),
		Data:       data,
		PushedAtMs: d.Exec.Clock.Now().UnixMilli(),
	}}
	d.Engine.Submit(evt)
	return ipc.NewOkResponse(evt)
}

func (d *Daemon) handleQueueDrop(r *ipc.QueueDropRequest) *ipc.Response {
	evt := event.Event{Type: event.TypeQueueDropped, QueueDropped: &event.QueueDropped{
		QueueName: types.ScopedName(r.Namespace, r.Queue), ItemId: r.ItemId,
	}}
	d.Engine.Submit(evt)
	return ipc.NewOkResponse(evt)
}

func (d *Daemon) handleQueueRetry(r *ipc.QueueRetryRequest) *ipc.Response {
	evt := event.Event{Type: event.TypeQueueItemRetry, QueueItemRetry: &event.QueueItemRetry{
		QueueName: types.ScopedName(r.Namespace, r.Queue), ItemId: r.ItemId,
	}}
	d.Engine.Submit(evt)
	return ipc.NewOkResponse(evt)
}

// handleQueueDrain drops every still-pending item in a queue, e.g. before
// decommissioning it.
func (d *Daemon) handleQueueDrain(r *ipc.QueueDrainRequest) *ipc.Response {
	scoped := types.ScopedName(r.Namespace, r.Queue)
	d.State.RLock()
	items := d.State.QueueItems[scoped]
	var events []event.Event
	for _, it := range items {
		if it.Status == types.QueueItemPending {
			events = append(events, event.Event{Type: event.TypeQueueDropped, QueueDropped: &event.QueueDropped{
				QueueName: scoped, ItemId: it.ID,
			}})
		}
	}
	d.State.RUnlock()

	for _, evt := range events {
		d.Engine.Submit(evt)
	}
	return ipc.NewOkResponse(events...)
}

func (d *Daemon) handleQueuePrune(namespace string) *ipc.Response {
	d.State.RLock()
	var ids []string
	for scoped, items := range d.State.QueueItems {
		ns, _ := types.SplitScopedName(scoped)
		if namespace != "" && ns != namespace {
			continue
		}
		for _, it := range items {
			switch it.Status {
			case types.QueueItemCompleted, types.QueueItemDead, types.QueueItemDropped:
				ids = append(ids, it.ID)
			}
		}
	}
	d.State.RUnlock()

	evt := event.Event{Type: event.TypePruned, Pruned: &event.Pruned{Kind: "queue_item", Namespace: namespace, Ids: ids}}
	d.Engine.Submit(evt)
	return ipc.NewOkResponse(evt)
}

// handleAgentSend delivers text directly to an agent's session. This
// bypasses the engine since it carries no domain-state transition of its
// own (the send records no event, and any resulting agent state change
// is not observed here); it is safe to run concurrently with the engine because
// Executor.Execute only ever touches adapters, never state or the WAL.
func (d *Daemon) handleAgentSend(ctx context.Context, r *ipc.AgentSendRequest) *ipc.Response {
	d.State.RLock()
	a := d.State.Agents[types.AgentId(r.AgentId)]
	d.State.RUnlock()
	if a == nil {
		return ipc.NewErrorResponse(fmt.Errorf("unknown agent %q", r.AgentId))
	}
	_, err := d.Exec.Execute(ctx, effect.Effect{Kind: effect.KindSendToSession, SendToSession: &effect.SendToSession{
		SessionId: a.SessionId, Text: r.Text, PressEnter: r.PressEnter,
	}})
	if err != nil {
		return ipc.NewErrorResponse(err)
	}
	return ipc.NewOkResponse()
}

func (d *Daemon) handleAgentPrune(namespace string) *ipc.Response {
	d.State.RLock()
	var ids []string
	for id, a := range d.State.Agents {
		switch a.Status {
		case types.AgentExited, types.AgentGone, types.AgentFailed:
		default:
			continue
		}
		if namespace != "" && a.Namespace != namespace {
			continue
		}
		ids = append(ids, string(id))
	}
	d.State.RUnlock()

	evt := event.Event{Type: event.TypePruned, Pruned: &event.Pruned{Kind: "agent", Namespace: namespace, Ids: ids}}
	d.Engine.Submit(evt)
	return ipc.NewOkResponse(evt)
}

func (d *Daemon) handlePipelinePrune(namespace string) *ipc.Response {
	d.State.RLock()
	var ids []string
	for id, j := range d.State.Jobs {
		if !j.IsTerminal() {
			continue
		}
		if namespace != "" && j.Namespace != namespace {
			continue
		}
		ids = append(ids, string(id))
	}
	d.State.RUnlock()

	evt := event.Event{Type: event.TypePruned, Pruned: &event.Pruned{Kind: "job", Namespace: namespace, Ids: ids}}
	d.Engine.Submit(evt)
	return ipc.NewOkResponse(evt)
}

func (d *Daemon) handleWorkspacePrune(namespace string) *ipc.Response {
	d.State.RLock()
	var ids []string
	for id, ws := range d.State.Workspaces {
		if !ws.Ephemeral {
			continue
		}
		reclaimable := false
		switch ws.Owner.Kind {
		case types.OwnerJob:
			if j := d.State.Jobs[ws.Owner.JobId]; j == nil || j.IsTerminal() {
				reclaimable = true
			}
		case types.OwnerAgentRun:
			if run := d.State.AgentRuns[ws.Owner.AgentRunId]; run == nil || run.Status.IsTerminal() {
				reclaimable = true
			}
		}
		if !reclaimable {
			continue
		}
		ids = append(ids, string(id))
	}
	d.State.RUnlock()

	evt := event.Event{Type: event.TypePruned, Pruned: &event.Pruned{Kind: "workspace", Namespace: namespace, Ids: ids}}
	d.Engine.Submit(evt)
	return ipc.NewOkResponse(evt)
}

func (d *Daemon) handlePeekSession(ctx context.Context, r *ipc.PeekSessionRequest) *ipc.Response {
	text, err := d.Exec.Session.Capture(ctx, adapter.SessionName(r.SessionId))
	if err != nil {
		return ipc.NewErrorResponse(err)
	}
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if r.Lines > 0 && len(lines) > r.Lines {
		lines = lines[len(lines)-r.Lines:]
	}
	return &ipc.Response{Kind: ipc.RespSessionPeek, SessionPeek: &ipc.SessionPeekPayload{Lines: lines}}
}

// handleShutdown acknowledges the request before the shutdown it triggers
// tears down the IPC server out from under the in-flight connection. With
// Kill set, every agent's session is killed first.
func (d *Daemon) handleShutdown(ctx context.Context, r *ipc.ShutdownRequest) *ipc.Response {
	if r != nil && r.Kill {
		d.State.RLock()
		var sessions []types.SessionId
		for _, a := range d.State.Agents {
			sessions = append(sessions, a.SessionId)
		}
		d.State.RUnlock()
		for _, sid := range sessions {
			if _, err := d.Exec.Execute(ctx, effect.Effect{Kind: effect.KindKillSession, KillSession: &effect.KillSession{SessionId: sid}}); err != nil {
				d.Log.Warn("killing session on shutdown", "session", sid, "error", err)
			}
		}
	}
	go d.Shutdown()
	return ipc.NewOkResponse()
}
