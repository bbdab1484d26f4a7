package state

import (
	"github.com/oddjobs/oj/internal/event"
	"github.com/oddjobs/oj/internal/types"
)

// Apply mutates the state to reflect e. It must be pure given
// (current state, e) and idempotent: applying the same event twice leaves
// the state exactly as applying it once did. Callers hold no lock; Apply
// takes the write lock itself so it can be called directly by replay as
// well as by the runtime's per-tick apply step.
func (s *State) Apply(e event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apply(e)
}

func (s *State) apply(e event.Event) {
	switch e.Type {
	case event.TypeRunbookLoaded:
		p := e.RunbookLoaded
		s.RunbookHashes[p.ProjectRoot] = p.Hash

	case event.TypeJobCreated:
		p := e.JobCreated
		j := &types.Job{
			ID:               p.JobId,
			Name:             p.Name,
			Kind:             p.Kind,
			Namespace:        p.Namespace,
			CurrentStep:      "",
			StepStatus:       types.StepPending,
			Vars:             copyStrMap(p.Vars),
			RunbookHash:      p.RunbookHash,
			Cwd:              p.Cwd,
			CronName:         p.CronName,
			StepVisits:       make(map[string]int),
			ActionAttempts:   make(map[string]int),
			CreatedAtMs:      p.CreatedAtEpochMs,
		}
		s.Jobs[p.JobId] = j

	case event.TypeStepStarted:
		p := e.StepStarted
		j := s.Jobs[p.JobId]
		if j == nil {
			return
		}
		j.CurrentStep = p.Step
		j.StepStatus = types.StepRunning
		j.DecisionId = nil
		if j.StepVisits == nil {
			j.StepVisits = make(map[string]int)
		}
		j.StepVisits[p.Step] = p.VisitCount
		rec := types.StepRecord{Name: p.Step, StartedAtMs: p.AtMs, Outcome: types.OutcomeRunning}
		if len(j.StepHistory) > 0 && j.StepHistory[len(j.StepHistory)-1].Name == p.Step && !j.StepHistory[len(j.StepHistory)-1].IsTerminal() {
			j.StepHistory[len(j.StepHistory)-1] = rec
		} else {
			j.StepHistory = append(j.StepHistory, rec)
		}

	case event.TypeShellExited:
		p := e.ShellExited
		j := s.Jobs[p.JobId]
		if j == nil {
			return
		}
		for k, v := range p.Outputs {
			if j.Vars == nil {
				j.Vars = make(map[string]string)
			}
			j.Vars[k] = v
		}

	case event.TypeStepCompleted:
		p := e.StepCompleted
		j := s.Jobs[p.JobId]
		if j == nil {
			return
		}
		finishAtMs := p.AtMs
		if len(j.StepHistory) > 0 {
			last := &j.StepHistory[len(j.StepHistory)-1]
			if last.Name == p.Step {
				last.Outcome = types.OutcomeCompleted
				last.FinishedAtMs = &finishAtMs
			}
		}
		j.StepStatus = types.StepCompleted

	case event.TypeStepFailed:
		p := e.StepFailed
		j := s.Jobs[p.JobId]
		if j == nil {
			return
		}
		finishAtMs := p.AtMs
		if len(j.StepHistory) > 0 {
			last := &j.StepHistory[len(j.StepHistory)-1]
			if last.Name == p.Step {
				last.Outcome = types.OutcomeFailed
				last.FailureReason = p.Reason
				last.FinishedAtMs = &finishAtMs
			}
		}
		j.StepStatus = types.StepFailed

	case event.TypeJobCompleted:
		p := e.JobCompleted
		j := s.Jobs[p.JobId]
		if j == nil {
			return
		}
		j.CurrentStep = types.StepDone
		j.StepStatus = types.StepCompleted
		j.Cancelling = false

	case event.TypeJobFailed:
		p := e.JobFailed
		j := s.Jobs[p.JobId]
		if j == nil {
			return
		}
		j.CurrentStep = types.StepFailedLit
		j.StepStatus = types.StepFailed
		j.Error = p.Reason
		j.Cancelling = false

	case event.TypeJobCancelled:
		p := e.JobCancelled
		j := s.Jobs[p.JobId]
		if j == nil {
			return
		}
		j.CurrentStep = types.StepCancelled
		j.StepStatus = types.StepCompleted
		j.Cancelling = false

	case event.TypeJobCancelRequested:
		p := e.JobCancelRequested
		j := s.Jobs[p.JobId]
		if j == nil {
			return
		}
		j.Cancelling = true

	case event.TypeWorkspaceCreated:
		p := e.WorkspaceCreated
		s.Workspaces[p.WorkspaceId] = &types.Workspace{
			ID: p.WorkspaceId, Owner: p.Owner, Path: p.Path, Mode: p.Mode,
			RepoRoot: p.RepoRoot, Branch: p.Branch, StartPoint: p.StartPoint,
			Ephemeral: p.Ephemeral,
		}
		if p.Owner.Kind == types.OwnerJob {
			if j := s.Jobs[p.Owner.JobId]; j != nil {
				id := p.WorkspaceId
				j.WorkspaceId = &id
				j.WorkspacePath = p.Path
			}
		}

	case event.TypeWorkspaceDeleted:
		delete(s.Workspaces, e.WorkspaceDeleted.WorkspaceId)

	case event.TypeAgentSpawned:
		p := e.AgentSpawned
		s.Agents[p.AgentId] = &types.AgentRecord{
			AgentId: p.AgentId, AgentName: p.AgentName, SessionId: p.SessionId,
			WorkspacePath: p.WorkspacePath, Namespace: p.Namespace,
			Status: types.AgentWorking, Owner: p.Owner,
		}
		s.Sessions[p.SessionId] = &types.SessionInfo{ID: p.SessionId, AgentId: p.AgentId, Namespace: p.Namespace}
		if p.Owner.Kind == types.OwnerJob {
			if j := s.Jobs[p.Owner.JobId]; j != nil {
				sid := p.SessionId
				j.SessionId = &sid
			}
		} else if p.Owner.Kind == types.OwnerAgentRun {
			if ar := s.AgentRuns[p.Owner.AgentRunId]; ar != nil {
				sid := p.SessionId
				ar.SessionId = &sid
				ar.Status = types.AgentRunWorking
			}
		}

	case event.TypeAgentWorking:
		s.setAgentStatus(e.AgentWorking.AgentId, types.AgentWorking)
	case event.TypeAgentIdle:
		s.setAgentStatus(e.AgentIdle.AgentId, types.AgentWaitingForInput)
	case event.TypeAgentExited:
		s.setAgentStatus(e.AgentExited.AgentId, types.AgentExited)
	case event.TypeAgentGone:
		s.setAgentStatus(e.AgentGone.AgentId, types.AgentGone)

	case event.TypeAgentFailed:
		p := e.AgentFailed
		s.setAgentStatus(p.AgentId, types.AgentFailed)

	case event.TypeSessionDeleted:
		delete(s.Sessions, e.SessionDeleted.SessionId)

	case event.TypeAgentRunCreated:
		p := e.AgentRunCreated
		s.AgentRuns[p.AgentRunId] = &types.AgentRun{
			ID: p.AgentRunId, AgentName: p.AgentName, CommandName: p.CommandName,
			Namespace: p.Namespace, Cwd: p.Cwd, RunbookHash: p.RunbookHash,
			Vars: copyStrMap(p.Vars), Status: types.AgentRunCreated,
			ActionAttempts: make(map[string]int),
		}

	case event.TypeAgentRunCompleted:
		p := e.AgentRunCompleted
		if ar := s.AgentRuns[p.AgentRunId]; ar != nil {
			ar.Status = types.AgentRunCompleted
		}

	case event.TypeAgentRunFailed:
		p := e.AgentRunFailed
		if ar := s.AgentRuns[p.AgentRunId]; ar != nil {
			ar.Status = types.AgentRunFailed
			ar.Error = p.Reason
		}

	case event.TypeDecisionCreated:
		p := e.DecisionCreated
		s.Decisions[p.DecisionId] = &types.Decision{ID: p.DecisionId, JobId: p.JobId, TriggerKind: p.TriggerKind, TimestampMs: p.AtMs}
		if j := s.Jobs[p.JobId]; j != nil {
			j.StepStatus = types.StepWaiting
			id := p.DecisionId
			j.DecisionId = &id
		}

	case event.TypeWorkerStarted:
		p := e.WorkerStarted
		scoped := types.ScopedName(p.Namespace, p.Name)
		s.Workers[scoped] = &types.WorkerRecord{
			Name: p.Name, Namespace: p.Namespace, ProjectRoot: p.ProjectRoot,
			RunbookHash: p.RunbookHash, Status: types.WorkerRunning, JobKind: p.JobKind,
			QueueName: p.QueueName, QueueType: p.QueueType, Concurrency: p.Concurrency,
			PollInterval: p.PollInterval,
			ActiveJobs: make(map[types.JobId]bool), ItemJobMap: make(map[types.JobId]string),
			InflightItems: make(map[string]bool), TakingItems: make(map[string]bool),
		}

	case event.TypeWorkerStopped:
		p := e.WorkerStopped
		if w := s.Workers[types.ScopedName(p.Namespace, p.Name)]; w != nil {
			w.Status = types.WorkerStopped
		}

	case event.TypeWorkerWake:
		// WorkerWake is a pure trigger to re-poll; unlike WorkerStarted it
		// must not reset ActiveJobs/InflightItems/TakingItems, so there is
		// nothing to project here.

	case event.TypeWorkerResized:
		p := e.WorkerResized
		if w := s.Workers[types.ScopedName(p.Namespace, p.Name)]; w != nil {
			w.Concurrency = p.Concurrency
		}

	case event.TypeWorkerTaking:
		p := e.WorkerTaking
		if w := s.Workers[types.ScopedName(p.Namespace, p.Name)]; w != nil {
			if w.TakingItems == nil {
				w.TakingItems = make(map[string]bool)
			}
			w.TakingItems[p.ItemId] = true
		}

	case event.TypeWorkerTakeComplete:
		p := e.WorkerTakeComplete
		if w := s.Workers[types.ScopedName(p.Namespace, p.Name)]; w != nil {
			delete(w.TakingItems, p.ItemId)
			if p.ExitCode == 0 {
				if w.InflightItems == nil {
					w.InflightItems = make(map[string]bool)
				}
				w.InflightItems[p.ItemId] = true
			}
		}

	case event.TypeWorkerJobStarted:
		p := e.WorkerJobStarted
		if w := s.Workers[types.ScopedName(p.Namespace, p.Name)]; w != nil {
			if w.ActiveJobs == nil {
				w.ActiveJobs = make(map[types.JobId]bool)
			}
			w.ActiveJobs[p.JobId] = true
			if p.ItemId != "" {
				if w.ItemJobMap == nil {
					w.ItemJobMap = make(map[types.JobId]string)
				}
				w.ItemJobMap[p.JobId] = p.ItemId
				delete(w.InflightItems, p.ItemId)
			}
		}

	case event.TypeWorkerJobFreed:
		p := e.WorkerJobFreed
		if w := s.Workers[types.ScopedName(p.Namespace, p.Name)]; w != nil {
			delete(w.ActiveJobs, p.JobId)
			delete(w.ItemJobMap, p.JobId)
		}

	case event.TypeQueuePushed:
		p := e.QueuePushed
		s.pushQueueItem(p)

	case event.TypeQueueTaken:
		p := e.QueueTaken
		if it := s.QueueItemByID(p.QueueName, p.ItemId); it != nil {
			it.Status = types.QueueItemActive
			it.WorkerName = p.Worker
		}

	case event.TypeQueueCompleted:
		p := e.QueueCompleted
		if it := s.QueueItemByID(p.QueueName, p.ItemId); it != nil {
			it.Status = types.QueueItemCompleted
		}

	case event.TypeQueueFailed:
		p := e.QueueFailed
		if it := s.QueueItemByID(p.QueueName, p.ItemId); it != nil && it.Status != types.QueueItemFailed {
			it.Status = types.QueueItemFailed
			it.FailureCount++
		}

	case event.TypeQueueItemRetry:
		p := e.QueueItemRetry
		if it := s.QueueItemByID(p.QueueName, p.ItemId); it != nil {
			it.Status = types.QueueItemPending
			it.WorkerName = ""
		}

	case event.TypeQueueItemDead:
		p := e.QueueItemDead
		if it := s.QueueItemByID(p.QueueName, p.ItemId); it != nil {
			it.Status = types.QueueItemDead
		}

	case event.TypeQueueDropped:
		p := e.QueueDropped
		if it := s.QueueItemByID(p.QueueName, p.ItemId); it != nil {
			it.Status = types.QueueItemDropped
		}

	case event.TypeCronStarted:
		p := e.CronStarted
		scoped := types.ScopedName(p.Namespace, p.CronName)
		s.Crons[scoped] = &types.CronRecord{
			CronName: p.CronName, Namespace: p.Namespace, ProjectRoot: p.ProjectRoot,
			RunbookHash: p.RunbookHash, Interval: p.Interval, RunTarget: p.RunTarget,
			Concurrency: p.Concurrency, Status: types.CronRunning,
			ActiveJobs: make(map[types.JobId]bool), ActiveAgentRuns: make(map[types.AgentRunId]bool),
		}

	case event.TypeCronStopped:
		p := e.CronStopped
		if c := s.Crons[types.ScopedName(p.Namespace, p.CronName)]; c != nil {
			c.Status = types.CronStopped
		}

	case event.TypeCronFired:
		p := e.CronFired
		if c := s.Crons[types.ScopedName(p.Namespace, p.CronName)]; c != nil {
			if p.JobId != nil {
				if c.ActiveJobs == nil {
					c.ActiveJobs = make(map[types.JobId]bool)
				}
				c.ActiveJobs[*p.JobId] = true
			}
			if p.AgentRunId != nil {
				if c.ActiveAgentRuns == nil {
					c.ActiveAgentRuns = make(map[types.AgentRunId]bool)
				}
				c.ActiveAgentRuns[*p.AgentRunId] = true
			}
		}

	case event.TypeCronJobFreed:
		p := e.CronJobFreed
		if c := s.Crons[types.ScopedName(p.Namespace, p.CronName)]; c != nil {
			delete(c.ActiveJobs, p.JobId)
		}

	case event.TypeCronAgentRunFreed:
		p := e.CronAgentRunFreed
		if c := s.Crons[types.ScopedName(p.Namespace, p.CronName)]; c != nil {
			delete(c.ActiveAgentRuns, p.AgentRunId)
		}

	case event.TypePruned:
		p := e.Pruned
		ids := make(map[string]bool, len(p.Ids))
		for _, id := range p.Ids {
			ids[id] = true
		}
		switch p.Kind {
		case "job":
			for id := range s.Jobs {
				if ids[string(id)] {
					delete(s.Jobs, id)
				}
			}
		case "worker":
			for scoped, w := range s.Workers {
				if ids[scoped] && w.Status == types.WorkerStopped {
					delete(s.Workers, scoped)
				}
			}
		case "agent":
			for id := range s.Agents {
				if ids[string(id)] {
					delete(s.Agents, id)
				}
			}
		case "workspace":
			for id := range s.Workspaces {
				if ids[string(id)] {
					delete(s.Workspaces, id)
				}
			}
		case "queue_item":
			for queue, items := range s.QueueItems {
				kept := items[:0]
				for _, it := range items {
					if !ids[it.ID] {
						kept = append(kept, it)
					}
				}
				s.QueueItems[queue] = kept
			}
			s.RebuildQueueIndex()
		}

	case event.TypeTimerSet, event.TypeTimerCancel, event.TypeTimerStart, event.TypeCustom:
		// Timers are owned by the executor's Scheduler, not materialized
		// state; Custom events are forward-compat no-ops.
	}
}

func (s *State) setAgentStatus(id types.AgentId, status types.AgentStatus) {
	if a := s.Agents[id]; a != nil {
		a.Status = status
	}
}

func (s *State) pushQueueItem(p *event.QueuePushed) {
	idx := s.queueItemIndex(p.QueueName)
	if _, exists := idx[p.ItemId]; exists {
		return
	}
	item := &types.QueueItem{
		ID: p.ItemId, QueueName: p.QueueName, Data: copyStrMap(p.Data),
		Status: types.QueueItemPending, PushedAtMs: p.PushedAtMs,
	}
	idx[p.ItemId] = len(s.QueueItems[p.QueueName])
	s.QueueItems[p.QueueName] = append(s.QueueItems[p.QueueName], item)
}

func copyStrMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
