package runtime

import (
	"time"

	"github.com/oddjobs/oj/internal/effect"
	"github.com/oddjobs/oj/internal/event"
	"github.com/oddjobs/oj/internal/types"
)

// TimerFired dispatches on a timer that the scheduler reports as due. Each
// kind in the TimerId grammar routes to its own handler; an unrecognized
// kind is a silent no-op so forward-compatible timer ids never panic.
func (h *Handler) TimerFired(id types.TimerId, now time.Time) ([]effect.Effect, []event.Event) {
	h.State.RLock()
	defer h.State.RUnlock()

	kind, owner, extra := id.Split()
	switch kind {
	case types.TimerLiveness:
		return h.livenessFired(owner)
	case types.TimerExitDeferred:
		return nil, nil // no handler arms this timer; a fire is a no-op, see DESIGN.md
	case types.TimerIdleGrace:
		return h.idleGraceFired(owner)
	case types.TimerCooldown:
		return nil, nil // attempts/cooldown chains are not re-armed in this build, see DESIGN.md
	case types.TimerCron:
		return h.cronFired(string(owner), now)
	case types.TimerQueuePoll:
		return h.queuePollFired(string(owner))
	case types.TimerQueueRetry:
		if len(extra) > 0 {
			return h.queueRetryFired(string(owner), extra[0])
		}
		return nil, nil
	default:
		return nil, nil
	}
}

func (h *Handler) agentForOwner(owner types.OwnerRef) *types.AgentRecord {
	for _, a := range h.State.Agents {
		if a.Owner.TimerOwner() == owner {
			return a
		}
	}
	return nil
}

func (h *Handler) livenessFired(ownerRef types.OwnerRef) ([]effect.Effect, []event.Event) {
	agent := h.agentForOwner(ownerRef)
	if agent == nil {
		return nil, nil
	}
	rearm := effect.Effect{Kind: effect.KindSetTimer, SetTimer: &effect.SetTimer{
		TimerId: types.NewTimerId(types.TimerLiveness, ownerRef),
		Delay:   30 * time.Second,
	}}
	return []effect.Effect{rearm}, nil
}

func (h *Handler) idleGraceFired(ownerRef types.OwnerRef) ([]effect.Effect, []event.Event) {
	agent := h.agentForOwner(ownerRef)
	if agent == nil || agent.Status != types.AgentWaitingForInput {
		return nil, nil
	}
	owner := agent.Owner
	agentDef, ok := h.agentDefForOwner(owner)
	action := "nudge"
	if ok && agentDef.IdleAction != "" {
		action = agentDef.IdleAction
	}
	return h.executeAction(owner, action, "idle", 0)
}
