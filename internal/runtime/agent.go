package runtime

import (
	"fmt"
	"strings"
	"time"

	"github.com/oddjobs/oj/internal/effect"
	"github.com/oddjobs/oj/internal/event"
	"github.com/oddjobs/oj/internal/runbook"
	"github.com/oddjobs/oj/internal/template"
	"github.com/oddjobs/oj/internal/types"
)

const defaultIdleGrace = 5 * time.Second

// buildSpawnEffects is build_spawn_effects: it constructs the shell command
// and SpawnAgent effect for a declared agent, plus the liveness timer every
// spawn arms. resumeID, when non-empty, requests the agent binary resume an
// existing session instead of starting fresh.
func (h *Handler) buildSpawnEffects(owner types.OwnerId, namespace, cwd string, agentDef runbook.AgentDef, vars template.Vars, resumeID string) []effect.Effect {
	agentID := types.NewAgentId()
	sessionID := types.NewSessionId()

	prompt := agentDef.Prompt
	if rendered, err := template.Interpolate(prompt, vars); err == nil {
		prompt = rendered
	}

	cmd := strings.TrimRight(agentDef.Run, " ")
	switch {
	case resumeID != "":
		cmd += fmt.Sprintf(" --resume %s --session-id %s", resumeID, agentID)
	case strings.Contains(agentDef.Run, "${prompt}"):
		cmd += fmt.Sprintf(" --session-id %s", agentID)
	default:
		cmd += fmt.Sprintf(" --session-id %s", agentID)
		if prompt != "" {
			cmd += " " + shellQuote(prompt)
		}
	}

	env := map[string]string{
		"OJ_NAMESPACE": namespace,
	}

	shortID := agentID.String()
	if len(shortID) > 8 {
		shortID = shortID[len(shortID)-8:]
	}

	spawn := effect.Effect{
		Kind: effect.KindSpawnAgent,
		SpawnAgent: &effect.SpawnAgent{
			AgentId:         agentID,
			AgentName:       agentDef.Name,
			SessionId:       sessionID,
			WorkspacePath:   cwd,
			Namespace:       namespace,
			Owner:           owner,
			Command:         cmd,
			Env:             env,
			TmuxStatusLeft:  fmt.Sprintf("%s %s", namespace, agentDef.Name),
			TmuxStatusRight: shortID,
			ResumeId:        resumeID,
		},
	}
	liveness := effect.Effect{
		Kind: effect.KindSetTimer,
		SetTimer: &effect.SetTimer{
			TimerId: types.NewTimerId(types.TimerLiveness, owner.TimerOwner()),
			Delay:   parseDurationDefault(agentDef.Liveness, 30*time.Second),
		},
	}
	return []effect.Effect{spawn, liveness}
}

// shellQuote wraps s in single quotes, escaping any embedded single quote
// the POSIX-shell way ('"'"').
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

func parseDurationDefault(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func (h *Handler) onAgentSpawned(p *event.AgentSpawned) ([]effect.Effect, []event.Event) {
	return nil, nil
}

func (h *Handler) onAgentWorking(p *event.AgentStateEvt) ([]effect.Effect, []event.Event) {
	agent := h.State.Agent(p.AgentId)
	if agent == nil {
		return nil, nil
	}
	cancel := effect.Effect{Kind: effect.KindCancelTimer, CancelTimer: &effect.CancelTimer{
		TimerId: types.NewTimerId(types.TimerIdleGrace, agent.Owner.TimerOwner()),
	}}
	return []effect.Effect{cancel}, nil
}

func (h *Handler) onAgentIdle(p *event.AgentStateEvt) ([]effect.Effect, []event.Event) {
	agent := h.State.Agent(p.AgentId)
	if agent == nil {
		return nil, nil
	}
	arm := effect.Effect{Kind: effect.KindSetTimer, SetTimer: &effect.SetTimer{
		TimerId: types.NewTimerId(types.TimerIdleGrace, agent.Owner.TimerOwner()),
		Delay:   defaultIdleGrace,
	}}
	return []effect.Effect{arm}, nil
}

func (h *Handler) onAgentFailed(p *event.AgentFailedEvt) ([]effect.Effect, []event.Event) {
	agent := h.State.Agent(p.AgentId)
	if agent == nil {
		return nil, nil
	}
	agentDef, ok := h.agentDefForOwner(agent.Owner)
	action := "escalate"
	if ok && agentDef.ErrorAction != "" {
		action = agentDef.ErrorAction
	}
	return h.executeAction(agent.Owner, action, "error", 0)
}

func (h *Handler) onAgentTerminalMonitor(agentID types.AgentId, reason string) ([]effect.Effect, []event.Event) {
	agent := h.State.Agent(agentID)
	if agent == nil {
		return nil, nil
	}
	cancelLiveness := effect.Effect{Kind: effect.KindCancelTimer, CancelTimer: &effect.CancelTimer{
		TimerId: types.NewTimerId(types.TimerLiveness, agent.Owner.TimerOwner()),
	}}
	cancelIdle := effect.Effect{Kind: effect.KindCancelTimer, CancelTimer: &effect.CancelTimer{
		TimerId: types.NewTimerId(types.TimerIdleGrace, agent.Owner.TimerOwner()),
	}}
	agentDef, ok := h.agentDefForOwner(agent.Owner)
	action := "escalate"
	if ok && agentDef.ExitAction != "" {
		action = agentDef.ExitAction
	}
	effects, events := h.executeAction(agent.Owner, action, reason, 0)
	return append([]effect.Effect{cancelLiveness, cancelIdle}, effects...), events
}

// agentDefForOwner resolves the AgentDef governing whichever agent this
// owner's current step or run names, used to pick the configured action
// strings (idle_action/exit_action/error_action) for action dispatch.
func (h *Handler) agentDefForOwner(owner types.OwnerId) (runbook.AgentDef, bool) {
	switch owner.Kind {
	case types.OwnerJob:
		job := h.State.Job(owner.JobId)
		if job == nil {
			return runbook.AgentDef{}, false
		}
		rb, err := h.runbookFor(job.RunbookHash)
		if err != nil {
			return runbook.AgentDef{}, false
		}
		jobDef, ok := rb.Job[job.Kind]
		if !ok {
			return runbook.AgentDef{}, false
		}
		stepDef, ok := findStep(jobDef, job.CurrentStep)
		if !ok || stepDef.Agent == "" {
			return runbook.AgentDef{}, false
		}
		agentDef, ok := rb.Agent[stepDef.Agent]
		return agentDef, ok
	case types.OwnerAgentRun:
		ar := h.State.AgentRun(owner.AgentRunId)
		if ar == nil {
			return runbook.AgentDef{}, false
		}
		rb, err := h.runbookFor(ar.RunbookHash)
		if err != nil {
			return runbook.AgentDef{}, false
		}
		agentDef, ok := rb.Agent[ar.AgentName]
		return agentDef, ok
	}
	return runbook.AgentDef{}, false
}

// executeAction is execute_action_with_attempts' dispatch step: it runs the
// action now. actionSpec is "<verb>[:<arg>]"; recognized verbs are nudge,
// done, fail, resume, escalate, gate. An unrecognized or empty verb is
// treated as escalate, matching the catch-all default. No attempt counter
// is kept, so there is no exhaustion check and no cooldown: chainPos is
// unused, and trigger only becomes the fail or escalation reason.
func (h *Handler) executeAction(owner types.OwnerId, actionSpec, trigger string, chainPos int) ([]effect.Effect, []event.Event) {
	verb, arg, _ := strings.Cut(actionSpec, ":")
	verb = strings.TrimSpace(verb)

	switch verb {
	case "nudge":
		return h.actionNudge(owner, arg)
	case "done":
		return h.actionDone(owner)
	case "fail":
		return h.actionFail(owner, trigger)
	case "resume":
		return h.actionResume(owner, arg)
	case "gate":
		return h.actionGate(owner, arg)
	default:
		return h.actionEscalate(owner, trigger)
	}
}

func (h *Handler) actionNudge(owner types.OwnerId, message string) ([]effect.Effect, []event.Event) {
	if message == "" {
		message = "Continue"
	}
	sessionID, ok := h.sessionForOwner(owner)
	if !ok {
		return nil, nil
	}
	return []effect.Effect{
		{Kind: effect.KindSendToSession, SendToSession: &effect.SendToSession{SessionId: sessionID, Text: "\x1b", PressEnter: false}},
		{Kind: effect.KindSendToSession, SendToSession: &effect.SendToSession{SessionId: sessionID, Text: "\x1b", PressEnter: false}},
		{Kind: effect.KindSendToSession, SendToSession: &effect.SendToSession{SessionId: sessionID, Text: message, PressEnter: true}},
	}, nil
}

func (h *Handler) actionDone(owner types.OwnerId) ([]effect.Effect, []event.Event) {
	now := h.nowMs()
	switch owner.Kind {
	case types.OwnerJob:
		job := h.State.Job(owner.JobId)
		if job == nil || job.IsTerminal() {
			return nil, nil
		}
		return nil, []event.Event{stepCompletedEvent(job.ID, job.CurrentStep, now)}
	case types.OwnerAgentRun:
		return nil, []event.Event{{Type: event.TypeAgentRunCompleted, AgentRunCompleted: &event.AgentRunTerminal{AgentRunId: owner.AgentRunId, AtMs: now}}}
	}
	return nil, nil
}

func (h *Handler) actionFail(owner types.OwnerId, reason string) ([]effect.Effect, []event.Event) {
	now := h.nowMs()
	switch owner.Kind {
	case types.OwnerJob:
		job := h.State.Job(owner.JobId)
		if job == nil || job.IsTerminal() {
			return nil, nil
		}
		return nil, []event.Event{stepFailedEvent(job.ID, job.CurrentStep, reason, now)}
	case types.OwnerAgentRun:
		return nil, []event.Event{{Type: event.TypeAgentRunFailed, AgentRunFailed: &event.AgentRunTerminal{AgentRunId: owner.AgentRunId, Reason: reason, AtMs: now}}}
	}
	return nil, nil
}

func (h *Handler) actionEscalate(owner types.OwnerId, trigger string) ([]effect.Effect, []event.Event) {
	now := h.nowMs()
	cancelExit := effect.Effect{Kind: effect.KindCancelTimer, CancelTimer: &effect.CancelTimer{
		TimerId: types.NewTimerId(types.TimerExitDeferred, owner.TimerOwner()),
	}}
	notify := effect.Effect{Kind: effect.KindNotify, Notify: &effect.Notify{
		Title: "oddjobs: escalation", Message: fmt.Sprintf("%s needs review (%s)", ownerLabel(owner), trigger),
	}}
	var events []event.Event
	if owner.Kind == types.OwnerJob {
		events = append(events, event.Event{Type: event.TypeDecisionCreated, DecisionCreated: &event.DecisionCreated{
			DecisionId: types.NewDecisionId(), JobId: owner.JobId, TriggerKind: trigger, AtMs: now,
		}})
	}
	return []effect.Effect{cancelExit, notify}, events
}

// actionResume kills the owner's current session, if any, and spawns the
// agent again. When that session's record is still in state, its agent id
// (the --session-id it was started with) is passed as resumeID; otherwise
// the agent starts fresh. Whether the agent's log exists on disk is not
// checked.
func (h *Handler) actionResume(owner types.OwnerId, message string) ([]effect.Effect, []event.Event) {
	agentDef, ok := h.agentDefForOwner(owner)
	if !ok {
		return h.actionEscalate(owner, "resume_unavailable")
	}
	var namespace, cwd string
	switch owner.Kind {
	case types.OwnerJob:
		job := h.State.Job(owner.JobId)
		if job == nil {
			return nil, nil
		}
		namespace, cwd = job.Namespace, job.Cwd
	case types.OwnerAgentRun:
		ar := h.State.AgentRun(owner.AgentRunId)
		if ar == nil {
			return nil, nil
		}
		namespace, cwd = ar.Namespace, ar.Cwd
	}
	vars := template.Vars{"prompt": message}
	resumeID := ""
	if sessionID, ok := h.sessionForOwner(owner); ok {
		if sess := h.State.Sessions[sessionID]; sess != nil {
			resumeID = sess.AgentId.String()
		}
	}
	effects := h.buildSpawnEffects(owner, namespace, cwd, agentDef, vars, resumeID)
	if sessionID, ok := h.sessionForOwner(owner); ok {
		kill := effect.Effect{Kind: effect.KindKillSession, KillSession: &effect.KillSession{SessionId: sessionID}}
		effects = append([]effect.Effect{kill}, effects...)
	}
	return effects, nil
}

func (h *Handler) actionGate(owner types.OwnerId, command string) ([]effect.Effect, []event.Event) {
	if owner.Kind != types.OwnerJob {
		return h.actionEscalate(owner, "gate_unsupported")
	}
	job := h.State.Job(owner.JobId)
	if job == nil || job.IsTerminal() {
		return nil, nil
	}
	vars := renderVars(job)
	cmd, err := template.Interpolate(command, vars)
	if err != nil {
		return nil, []event.Event{stepFailedEvent(job.ID, job.CurrentStep, err.Error(), h.nowMs())}
	}
	return []effect.Effect{{Kind: effect.KindShell, Shell: &effect.Shell{JobId: job.ID, Step: job.CurrentStep, Command: cmd, Cwd: job.Cwd}}}, nil
}

func (h *Handler) sessionForOwner(owner types.OwnerId) (types.SessionId, bool) {
	switch owner.Kind {
	case types.OwnerJob:
		job := h.State.Job(owner.JobId)
		if job == nil || job.SessionId == nil {
			return "", false
		}
		return *job.SessionId, true
	case types.OwnerAgentRun:
		ar := h.State.AgentRun(owner.AgentRunId)
		if ar == nil || ar.SessionId == nil {
			return "", false
		}
		return *ar.SessionId, true
	}
	return "", false
}

func ownerLabel(owner types.OwnerId) string {
	if owner.Kind == types.OwnerAgentRun {
		return "agent run " + owner.AgentRunId.String()
	}
	return "job " + owner.JobId.String()
}
