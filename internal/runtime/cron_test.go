package runtime

import (
	"testing"
	"time"

	"github.com/oddjobs/oj/internal/event"
	"github.com/oddjobs/oj/internal/runbook"
	"github.com/oddjobs/oj/internal/state"
	"github.com/oddjobs/oj/internal/types"
)

func cronStarted(ns, name string, concurrency int) event.Event {
	return event.Event{Type: event.TypeCronStarted, CronStarted: &event.CronStarted{
		CronName: name, Namespace: ns, ProjectRoot: "/work", RunbookHash: testHash,
		Interval: "1h", Concurrency: concurrency,
		RunTarget: types.RunTarget{Kind: types.RunTargetPipeline, Name: "build"},
	}}
}

func TestCronFiresJobUpToConcurrencyCap(t *testing.T) {
	rb := &runbook.Runbook{
		Job: map[string]runbook.JobDef{
			"build": {Name: "build", Steps: []runbook.StepDef{{Name: "compile", Run: "go build ./..."}}},
		},
	}
	h, st, clock := newTestHandler(t, rb)
	drive(st, h, cronStarted("ns", "nightly", 1))

	scoped := types.ScopedName("ns", "nightly")
	timerID := types.NewTimerId(types.TimerCron, types.OwnerRef(scoped))

	_, followups := h.TimerFired(timerID, clock.Now())
	for _, fu := range followups {
		st.Apply(fu)
	}
	if _, ok := firstOfType(followups, event.TypeCronFired); !ok {
		t.Fatalf("expected the first tick to fire a job, got %+v", followups)
	}
	if got := state.CountActiveCronJobs(st.Cron(scoped)); got != 1 {
		t.Fatalf("expected 1 active cron job after firing, got %d", got)
	}

	// A second tick while the concurrency cap is already saturated must not
	// fire another job.
	_, followups = h.TimerFired(timerID, clock.Now())
	if _, ok := firstOfType(followups, event.TypeCronFired); ok {
		t.Fatalf("expected the concurrency cap to suppress a second fire, got %+v", followups)
	}
	if got := state.CountActiveCronJobs(st.Cron(scoped)); got != 1 {
		t.Fatalf("expected the active cron job count to stay at 1, got %d", got)
	}
}

func TestCronAlwaysRearmsEvenWhenSuppressed(t *testing.T) {
	rb := &runbook.Runbook{
		Job: map[string]runbook.JobDef{
			"build": {Name: "build", Steps: []runbook.StepDef{{Name: "compile", Run: "go build ./..."}}},
		},
	}
	h, st, clock := newTestHandler(t, rb)
	drive(st, h, cronStarted("ns", "nightly", 1))
	scoped := types.ScopedName("ns", "nightly")
	timerID := types.NewTimerId(types.TimerCron, types.OwnerRef(scoped))

	h.TimerFired(timerID, clock.Now())
	effects, _ := h.TimerFired(timerID, clock.Now().Add(time.Hour))
	found := false
	for _, eff := range effects {
		if eff.SetTimer != nil && eff.SetTimer.TimerId == timerID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the cron timer to re-arm even when its fire was suppressed, got %+v", effects)
	}
}

func TestCronIgnoresTickWhenNotRunning(t *testing.T) {
	rb := &runbook.Runbook{Job: map[string]runbook.JobDef{}}
	h, st, clock := newTestHandler(t, rb)
	drive(st, h, cronStarted("ns", "nightly", 1))
	scoped := types.ScopedName("ns", "nightly")
	drive(st, h, event.Event{Type: event.TypeCronStopped, CronStopped: &event.CronStopped{CronName: "nightly", Namespace: "ns"}})

	timerID := types.NewTimerId(types.TimerCron, types.OwnerRef(scoped))
	effects, followups := h.TimerFired(timerID, clock.Now())
	if len(effects) != 0 || len(followups) != 0 {
		t.Fatalf("expected a stopped cron to ignore its timer entirely, got effects=%+v followups=%+v", effects, followups)
	}
}
