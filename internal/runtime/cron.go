package runtime

import (
	"regexp"
	"strconv"
	"time"

	"github.com/oddjobs/oj/internal/effect"
	"github.com/oddjobs/oj/internal/event"
	"github.com/oddjobs/oj/internal/runbook"
	"github.com/oddjobs/oj/internal/state"
	"github.com/oddjobs/oj/internal/types"
)

var cronIntervalRe = regexp.MustCompile(`^(\d+)(ms|s|m|h|d)?$`)

// parseCronInterval parses the interval grammar described in the runbook:
// a bare integer (seconds) or an integer followed by a unit suffix. An
// unparseable interval falls back to one minute rather than panicking.
func parseCronInterval(s string) time.Duration {
	m := cronIntervalRe.FindStringSubmatch(s)
	if m == nil {
		return time.Minute
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return time.Minute
	}
	unit := m[2]
	if unit == "" {
		unit = "s"
	}
	switch unit {
	case "ms":
		return time.Duration(n) * time.Millisecond
	case "s":
		return time.Duration(n) * time.Second
	case "m":
		return time.Duration(n) * time.Minute
	case "h":
		return time.Duration(n) * time.Hour
	case "d":
		return time.Duration(n) * 24 * time.Hour
	}
	return time.Minute
}

func cronTimerID(scopedName string) types.TimerId {
	return types.NewTimerId(types.TimerCron, types.OwnerRef(scopedName))
}

func (h *Handler) onCronStarted(p *event.CronStarted) ([]effect.Effect, []event.Event) {
	scoped := types.ScopedName(p.Namespace, p.CronName)
	arm := effect.Effect{Kind: effect.KindSetTimer, SetTimer: &effect.SetTimer{
		TimerId: cronTimerID(scoped),
		Delay:   parseCronInterval(p.Interval),
	}}
	return []effect.Effect{arm}, nil
}

// cronFired is the cron:<scoped_name> timer handler: it reloads the
// runbook on a content-hash change, fires at most one job/agent-run per
// tick subject to the cron's concurrency cap, and always re-arms.
func (h *Handler) cronFired(scopedName string, now time.Time) ([]effect.Effect, []event.Event) {
	c := h.State.Cron(scopedName)
	if c == nil || c.Status != types.CronRunning {
		return nil, nil
	}

	var events []event.Event
	hash := c.RunbookHash
	if paths, err := runbook.Discover(c.ProjectRoot); err == nil {
		for _, path := range paths {
			if newRb, newHash, changed, lerr := h.Runbooks.LoadIfChanged(path, hash); lerr == nil && changed {
				if _, declares := newRb.Cron[c.CronName]; !declares {
					continue
				}
				hash = newHash
				events = append(events, event.Event{Type: event.TypeRunbookLoaded, RunbookLoaded: &event.RunbookLoaded{
					ProjectRoot: c.ProjectRoot, Hash: newHash, Source: path,
				}})
				break
			}
		}
	}

	rearm := effect.Effect{Kind: effect.KindSetTimer, SetTimer: &effect.SetTimer{
		TimerId: cronTimerID(scopedName),
		Delay:   parseCronInterval(c.Interval),
	}}
	effects := []effect.Effect{rearm}

	rb, ok := h.Runbooks.Get(hash)
	if !ok {
		return effects, events
	}

	switch c.RunTarget.Kind {
	case types.RunTargetPipeline:
		if state.CountActiveCronJobs(c) >= c.Concurrency {
			return effects, events
		}
		cronName := c.CronName
		created, err := BuildJobCreated(rb, NewJobParams{
			Kind: c.RunTarget.Name, Namespace: c.Namespace, Cwd: c.ProjectRoot,
			RunbookHash: hash, CronName: &cronName,
		}, h.nowMs())
		if err != nil {
			return effects, events
		}
		jobID := created.JobCreated.JobId
		events = append(events, created, event.Event{Type: event.TypeCronFired, CronFired: &event.CronFired{
			CronName: c.CronName, Namespace: c.Namespace, JobId: &jobID, AtMs: h.nowMs(),
		}})

	case types.RunTargetAgent:
		if len(c.ActiveAgentRuns) >= c.Concurrency {
			return effects, events
		}
		agentDef, ok := rb.Agent[c.RunTarget.Name]
		if !ok {
			return effects, events
		}
		runID := types.NewAgentRunId()
		events = append(events, event.Event{Type: event.TypeAgentRunCreated, AgentRunCreated: &event.AgentRunCreated{
			AgentRunId: runID, AgentName: agentDef.Name, CommandName: agentDef.Name,
			Namespace: c.Namespace, Cwd: c.ProjectRoot, RunbookHash: hash,
		}}, event.Event{Type: event.TypeCronFired, CronFired: &event.CronFired{
			CronName: c.CronName, Namespace: c.Namespace, AgentRunId: &runID, AtMs: h.nowMs(),
		}})
	}

	return effects, events
}

func (h *Handler) onAgentRunCreated(p *event.AgentRunCreated) ([]effect.Effect, []event.Event) {
	rb, err := h.runbookFor(p.RunbookHash)
	if err != nil {
		return nil, []event.Event{{Type: event.TypeAgentRunFailed, AgentRunFailed: &event.AgentRunTerminal{
			AgentRunId: p.AgentRunId, Reason: err.Error(), AtMs: h.nowMs(),
		}}}
	}
	agentDef, ok := rb.Agent[p.AgentName]
	if !ok {
		return nil, []event.Event{{Type: event.TypeAgentRunFailed, AgentRunFailed: &event.AgentRunTerminal{
			AgentRunId: p.AgentRunId, Reason: "unknown agent " + p.AgentName, AtMs: h.nowMs(),
		}}}
	}
	vars := make(map[string]string, len(p.Vars))
	for k, v := range p.Vars {
		vars[k] = v
	}
	owner := types.OwnerFromAgentRun(p.AgentRunId)
	effects := h.buildSpawnEffects(owner, p.Namespace, p.Cwd, agentDef, vars, "")
	return effects, nil
}

func (h *Handler) onCronStopped(p *event.CronStopped) ([]effect.Effect, []event.Event) {
	scoped := types.ScopedName(p.Namespace, p.CronName)
	cancel := effect.Effect{Kind: effect.KindCancelTimer, CancelTimer: &effect.CancelTimer{
		TimerId: cronTimerID(scoped),
	}}
	return []effect.Effect{cancel}, nil
}

// onAgentRunTerminal frees the cron slot a completed or failed agent run
// held, mirroring onJobTerminal's bookkeeping for pipeline targets.
func (h *Handler) onAgentRunTerminal(evt event.Event) ([]effect.Effect, []event.Event) {
	var runID types.AgentRunId
	switch evt.Type {
	case event.TypeAgentRunCompleted:
		runID = evt.AgentRunCompleted.AgentRunId
	case event.TypeAgentRunFailed:
		runID = evt.AgentRunFailed.AgentRunId
	default:
		return nil, nil
	}
	run := h.State.AgentRun(runID)
	if run == nil {
		return nil, nil
	}
	for _, c := range h.State.Crons {
		if c.ActiveAgentRuns[runID] {
			return nil, []event.Event{{Type: event.TypeCronAgentRunFreed, CronAgentRunFreed: &event.CronAgentRunFreed{
				CronName: c.CronName, Namespace: c.Namespace, AgentRunId: runID,
			}}}
		}
	}
	return nil, nil
}
