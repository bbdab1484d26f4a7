package runtime

import (
	"fmt"

	"github.com/oddjobs/oj/internal/effect"
	"github.com/oddjobs/oj/internal/event"
	"github.com/oddjobs/oj/internal/runbook"
	"github.com/oddjobs/oj/internal/template"
	"github.com/oddjobs/oj/internal/types"
)

// NewJobParams describes a request to instantiate a job kind declared in a
// runbook. Callers (command handling, worker dispatch, cron fire) build
// this and pass it to BuildJobCreated; the resulting event is what
// actually lands in state once it travels through the WAL.
type NewJobParams struct {
	Kind        string
	Namespace   string
	Cwd         string
	Vars        map[string]string
	RunbookHash string
	CronName    *string
}

// BuildJobCreated validates that Kind names a declared job and produces the
// JobCreated event for it. Vars are namespaced under "var." unless already
// prefixed with a recognized namespace.
func BuildJobCreated(rb *runbook.Runbook, p NewJobParams, nowMs int64) (event.Event, error) {
	jobDef, ok := rb.Job[p.Kind]
	if !ok {
		return event.Event{}, fmt.Errorf("unknown job kind %q", p.Kind)
	}

	vars := make(map[string]string, len(jobDef.Vars)+len(p.Vars))
	for k, v := range jobDef.Vars {
		vars[namespaceKey(k)] = v
	}
	for k, v := range p.Vars {
		vars[namespaceKey(k)] = v
	}

	cwd := p.Cwd
	if cwd == "" {
		cwd = jobDef.Cwd
	}

	return event.Event{
		Type: event.TypeJobCreated,
		JobCreated: &event.JobCreated{
			JobId:            types.NewJobId(),
			Name:             jobDef.Name,
			Kind:             p.Kind,
			Namespace:        p.Namespace,
			Vars:             vars,
			RunbookHash:      p.RunbookHash,
			Cwd:              cwd,
			CronName:         p.CronName,
			CreatedAtEpochMs: nowMs,
		},
	}, nil
}

// namespaceKey prefixes a bare variable name under "var." unless it already
// carries one of the recognized namespace prefixes.
func namespaceKey(k string) string {
	for _, ns := range []string{"var.", "invoke.", "workspace.", "local.", "item."} {
		if len(k) >= len(ns) && k[:len(ns)] == ns {
			return k
		}
	}
	return "var." + k
}

func (h *Handler) onJobCreated(p *event.JobCreated) ([]effect.Effect, []event.Event) {
	job := h.State.Job(p.JobId)
	if job == nil {
		return nil, nil
	}
	rb, err := h.runbookFor(p.RunbookHash)
	if err != nil {
		return nil, []event.Event{failJobEvent(job.ID, err.Error(), h.nowMs())}
	}
	jobDef, ok := rb.Job[p.Kind]
	if !ok {
		return nil, []event.Event{failJobEvent(job.ID, fmt.Sprintf("unknown job kind %q", p.Kind), h.nowMs())}
	}

	if jobDef.Workspace != nil {
		return h.buildWorkspaceEffect(job, jobDef), nil
	}
	return h.startStep(job, rb, jobDef, firstStepName(jobDef))
}

func firstStepName(jobDef runbook.JobDef) string {
	if len(jobDef.Steps) == 0 {
		return types.StepDone
	}
	return jobDef.Steps[0].Name
}

func (h *Handler) buildWorkspaceEffect(job *types.Job, jobDef runbook.JobDef) []effect.Effect {
	ws := jobDef.Workspace
	mode := types.WorkspaceMode(ws.Mode)
	if mode == "" {
		mode = types.WorkspaceFolder
	}
	wsID := types.NewWorkspaceId(job.Name, job.ID.String())
	path := workspacePath(job.Cwd, wsID)
	return []effect.Effect{{
		Kind: effect.KindCreateWorkspace,
		CreateWorkspace: &effect.CreateWorkspace{
			WorkspaceId: wsID,
			Owner:       jobOwner(job.ID),
			Path:        path,
			Mode:        mode,
			RepoRoot:    job.Cwd,
			Branch:      ws.Branch,
			StartPoint:  ws.Ref,
			Ephemeral:   true,
		},
	}}
}

func workspacePath(repoRoot string, id types.WorkspaceId) string {
	return repoRoot + "/.oj/workspaces/" + id.String()
}

func (h *Handler) onWorkspaceCreated(p *event.WorkspaceCreated) ([]effect.Effect, []event.Event) {
	if p.Owner.Kind != types.OwnerJob {
		return nil, nil
	}
	job := h.State.Job(p.Owner.JobId)
	if job == nil || job.CurrentStep != "" {
		return nil, nil
	}
	rb, err := h.runbookFor(job.RunbookHash)
	if err != nil {
		return nil, []event.Event{failJobEvent(job.ID, err.Error(), h.nowMs())}
	}
	jobDef, ok := rb.Job[job.Kind]
	if !ok {
		return nil, []event.Event{failJobEvent(job.ID, fmt.Sprintf("unknown job kind %q", job.Kind), h.nowMs())}
	}
	return h.startStep(job, rb, jobDef, firstStepName(jobDef))
}

// renderVars builds the template.Vars view of a job at render time: its
// persisted Vars plus the current workspace location, which state.Apply
// deliberately does not fold back into Vars so that projection stays pure.
func renderVars(job *types.Job) template.Vars {
	vars := make(template.Vars, len(job.Vars)+2)
	for k, v := range job.Vars {
		vars[k] = v
	}
	if job.WorkspacePath != "" {
		vars["workspace.path"] = job.WorkspacePath
	}
	vars["job.id"] = job.ID.String()
	vars["job.name"] = job.Name
	return vars
}

// startStep transitions a job onto stepName: terminal names complete the
// job directly, otherwise it renders and dispatches the named step's
// shell command or agent spawn, incrementing the circuit-breaker visit
// counter first.
func (h *Handler) startStep(job *types.Job, rb *runbook.Runbook, jobDef runbook.JobDef, stepName string) ([]effect.Effect, []event.Event) {
	now := h.nowMs()

	switch stepName {
	case types.StepDone:
		return h.terminalEffects(job), []event.Event{completeJobEvent(job.ID, now)}
	case types.StepFailedLit:
		reason := "job failed"
		if last := job.LastStepRecord(); last != nil && last.FailureReason != "" {
			reason = last.FailureReason
		}
		return h.terminalEffects(job), []event.Event{failJobEvent(job.ID, reason, now)}
	case types.StepCancelled:
		return h.terminalEffects(job), []event.Event{cancelJobEvent(job.ID, now)}
	}

	stepDef, ok := findStep(jobDef, stepName)
	if !ok {
		return nil, []event.Event{failJobEvent(job.ID, fmt.Sprintf("unknown step %q", stepName), now)}
	}

	visit := job.StepVisits[stepName] + 1
	if visit > types.MaxStepVisits {
		return nil, []event.Event{failJobEvent(job.ID, "step visit budget exceeded", now)}
	}

	vars := renderVars(job)
	cwd := job.Cwd
	if stepDef.Cwd != "" {
		rendered, err := template.Interpolate(stepDef.Cwd, vars)
		if err == nil {
			cwd = rendered
		}
	}

	switch {
	case stepDef.Run != "":
		cmd, err := template.Interpolate(stepDef.Run, vars)
		if err != nil {
			return nil, []event.Event{failJobEvent(job.ID, err.Error(), now)}
		}
		startedEvt := event.Event{Type: event.TypeStepStarted, StepStarted: &event.StepStarted{
			JobId: job.ID, Step: stepName, Kind: types.RunShell, AtMs: now, VisitCount: visit,
		}}
		eff := effect.Effect{Kind: effect.KindShell, Shell: &effect.Shell{
			JobId: job.ID, Step: stepName, Command: cmd, Cwd: cwd,
		}}
		return []effect.Effect{eff}, []event.Event{startedEvt}

	case stepDef.Agent != "":
		agentDef, ok := rb.Agent[stepDef.Agent]
		if !ok {
			return nil, []event.Event{failJobEvent(job.ID, fmt.Sprintf("unknown agent %q", stepDef.Agent), now)}
		}
		startedEvt := event.Event{Type: event.TypeStepStarted, StepStarted: &event.StepStarted{
			JobId: job.ID, Step: stepName, Kind: types.RunAgent, AtMs: now, VisitCount: visit,
		}}
		effects := h.buildSpawnEffects(jobOwner(job.ID), job.Namespace, cwd, agentDef, vars, "")
		return effects, []event.Event{startedEvt}

	default:
		return nil, []event.Event{failJobEvent(job.ID, fmt.Sprintf("step %q has no run directive", stepName), now)}
	}
}

func findStep(jobDef runbook.JobDef, name string) (runbook.StepDef, bool) {
	for _, s := range jobDef.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return runbook.StepDef{}, false
}

// terminalEffects returns the cleanup effects appropriate for a job
// reaching any terminal outcome: tear down its session and, if its
// workspace was ephemeral, delete it.
func (h *Handler) terminalEffects(job *types.Job) []effect.Effect {
	var effects []effect.Effect
	if job.SessionId != nil {
		effects = append(effects, effect.Effect{Kind: effect.KindKillSession, KillSession: &effect.KillSession{SessionId: *job.SessionId}})
	}
	if job.WorkspaceId != nil {
		if ws := h.State.Workspaces[*job.WorkspaceId]; ws != nil && ws.Ephemeral {
			effects = append(effects, effect.Effect{Kind: effect.KindDeleteWorkspace, DeleteWorkspace: &effect.DeleteWorkspace{
				WorkspaceId: *job.WorkspaceId, Path: ws.Path,
			}})
		}
	}
	return effects
}

func (h *Handler) onShellExited(p *event.ShellExited) ([]effect.Effect, []event.Event) {
	job := h.State.Job(p.JobId)
	if job == nil {
		return nil, nil
	}
	now := h.nowMs()
	if p.ExitCode == 0 {
		return nil, []event.Event{stepCompletedEvent(p.JobId, p.Step, now)}
	}
	return nil, []event.Event{stepFailedEvent(p.JobId, p.Step, fmt.Sprintf("exit code %d", p.ExitCode), now)}
}

func (h *Handler) onStepCompleted(p *event.StepCompleted) ([]effect.Effect, []event.Event) {
	job := h.State.Job(p.JobId)
	if job == nil || job.IsTerminal() {
		return nil, nil
	}
	rb, jobDef, errEvt := h.jobDefFor(job)
	if errEvt != nil {
		return nil, []event.Event{*errEvt}
	}
	stepDef, ok := findStep(jobDef, p.Step)
	next := types.StepDone
	if ok && stepDef.OnDone != "" {
		next = stepDef.OnDone
	}
	return h.startStep(job, rb, jobDef, next)
}

func (h *Handler) onStepFailed(p *event.StepFailed) ([]effect.Effect, []event.Event) {
	job := h.State.Job(p.JobId)
	if job == nil || job.IsTerminal() {
		return nil, nil
	}
	rb, jobDef, errEvt := h.jobDefFor(job)
	if errEvt != nil {
		return nil, []event.Event{*errEvt}
	}
	stepDef, ok := findStep(jobDef, p.Step)
	next := types.StepFailedLit
	if ok && stepDef.OnFail != "" {
		next = stepDef.OnFail
	}
	return h.startStep(job, rb, jobDef, next)
}

func (h *Handler) jobDefFor(job *types.Job) (*runbook.Runbook, runbook.JobDef, *event.Event) {
	rb, err := h.runbookFor(job.RunbookHash)
	if err != nil {
		evt := failJobEvent(job.ID, err.Error(), h.nowMs())
		return nil, runbook.JobDef{}, &evt
	}
	jobDef, ok := rb.Job[job.Kind]
	if !ok {
		evt := failJobEvent(job.ID, fmt.Sprintf("unknown job kind %q", job.Kind), h.nowMs())
		return nil, runbook.JobDef{}, &evt
	}
	return rb, jobDef, nil
}

func (h *Handler) onJobCancelRequested(p *event.JobCancelRequested) ([]effect.Effect, []event.Event) {
	job := h.State.Job(p.JobId)
	if job == nil || job.IsTerminal() {
		return nil, nil
	}
	effects := h.terminalEffects(job)
	return effects, []event.Event{cancelJobEvent(job.ID, h.nowMs())}
}

// onJobTerminal frees any worker/cron slot this job held now that it has
// reached a terminal step.
func (h *Handler) onJobTerminal(evt event.Event) ([]effect.Effect, []event.Event) {
	var jobID types.JobId
	switch evt.Type {
	case event.TypeJobCompleted:
		jobID = evt.JobCompleted.JobId
	case event.TypeJobFailed:
		jobID = evt.JobFailed.JobId
	case event.TypeJobCancelled:
		jobID = evt.JobCancelled.JobId
	}
	job := h.State.Job(jobID)
	if job == nil {
		return nil, nil
	}

	var followups []event.Event
	if job.CronName != nil {
		if c := h.State.Cron(types.ScopedName(job.Namespace, *job.CronName)); c != nil && c.ActiveJobs[jobID] {
			followups = append(followups, event.Event{Type: event.TypeCronJobFreed, CronJobFreed: &event.CronJobFreed{
				CronName: *job.CronName, Namespace: job.Namespace, JobId: jobID,
			}})
		}
	}
	for name, w := range h.State.Workers {
		if !w.ActiveJobs[jobID] {
			continue
		}
		_ = name
		followups = append(followups, event.Event{Type: event.TypeWorkerJobFreed, WorkerJobFreed: &event.WorkerJobFreed{
			Name: w.Name, Namespace: w.Namespace, JobId: jobID,
		}})
		if itemID, ok := w.ItemJobMap[jobID]; ok {
			if evt.Type == event.TypeJobFailed {
				followups = append(followups, event.Event{Type: event.TypeQueueFailed, QueueFailed: &event.QueueFailed{
					QueueName: w.QueueName, ItemId: itemID, JobId: jobID, Reason: evt.JobFailed.Reason,
				}})
			} else {
				followups = append(followups, event.Event{Type: event.TypeQueueCompleted, QueueCompleted: &event.QueueCompleted{
					QueueName: w.QueueName, ItemId: itemID, JobId: jobID,
				}})
			}
		}
		followups = append(followups, event.Event{Type: event.TypeWorkerWake, WorkerWake: &event.WorkerWake{
			Name: w.Name, Namespace: w.Namespace,
		}})
	}
	return nil, followups
}
