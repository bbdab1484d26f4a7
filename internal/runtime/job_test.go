package runtime

import (
	"testing"
	"time"

	"github.com/oddjobs/oj/internal/adapter"
	"github.com/oddjobs/oj/internal/event"
	"github.com/oddjobs/oj/internal/runbook"
	"github.com/oddjobs/oj/internal/state"
	"github.com/oddjobs/oj/internal/types"
)

const testHash = "test-hash"

func newTestHandler(t *testing.T, rb *runbook.Runbook) (*Handler, *state.State, *adapter.FakeClock) {
	t.Helper()
	cache := runbook.NewCache()
	cache.Put(testHash, rb)
	st := state.New()
	clock := adapter.NewFakeClock(time.Unix(0, 0))
	return NewHandler(st, cache, clock), st, clock
}

// drive mimics Engine.step's apply-then-handle sequencing, but without a
// goroutine: it processes evt and every transitive follow-up event in
// order, applying each to state before handling it, and returns every
// event that was applied along the way (seed event first).
func drive(st *state.State, h *Handler, evt event.Event) []event.Event {
	queue := []event.Event{evt}
	var applied []event.Event
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		st.Apply(next)
		applied = append(applied, next)
		_, followups := h.Handle(next)
		queue = append(queue, followups...)
	}
	return applied
}

func buildJob(id types.JobId, kind string) event.Event {
	return event.Event{
		Type: event.TypeJobCreated,
		JobCreated: &event.JobCreated{
			JobId: id, Name: kind, Kind: kind, Namespace: "ns",
			RunbookHash: testHash, Cwd: "/work", CreatedAtEpochMs: 1000,
		},
	}
}

func firstOfType(events []event.Event, typ event.Type) (event.Event, bool) {
	for _, e := range events {
		if e.Type == typ {
			return e, true
		}
	}
	return event.Event{}, false
}

func TestJobLifecycleCompletesThroughSteps(t *testing.T) {
	rb := &runbook.Runbook{
		Job: map[string]runbook.JobDef{
			"build": {
				Name: "build",
				Steps: []runbook.StepDef{
					{Name: "compile", Run: "go build ./...", OnDone: "test"},
					{Name: "test", Run: "go test ./..."},
				},
			},
		},
	}
	h, st, _ := newTestHandler(t, rb)
	id := types.NewJobId()

	applied := drive(st, h, buildJob(id, "build"))
	started, ok := firstOfType(applied, event.TypeStepStarted)
	if !ok || started.StepStarted.Step != "compile" {
		t.Fatalf("expected job creation to start the compile step, got %+v", applied)
	}

	applied = drive(st, h, event.Event{Type: event.TypeStepCompleted, StepCompleted: &event.StepCompleted{JobId: id, Step: "compile", AtMs: 1100}})
	started, ok = firstOfType(applied, event.TypeStepStarted)
	if !ok || started.StepStarted.Step != "test" {
		t.Fatalf("expected on_done to advance to the test step, got %+v", applied)
	}

	applied = drive(st, h, event.Event{Type: event.TypeStepCompleted, StepCompleted: &event.StepCompleted{JobId: id, Step: "test", AtMs: 1200}})
	if _, ok := firstOfType(applied, event.TypeJobCompleted); !ok {
		t.Fatalf("expected the job to complete once its last step finishes, got %+v", applied)
	}

	job := st.Job(id)
	if !job.IsTerminal() || job.CurrentStep != types.StepDone {
		t.Fatalf("job did not reach a terminal step: %+v", job)
	}
}

func TestJobStepFailureRoutesToOnFail(t *testing.T) {
	rb := &runbook.Runbook{
		Job: map[string]runbook.JobDef{
			"build": {
				Name: "build",
				Steps: []runbook.StepDef{
					{Name: "compile", Run: "go build ./...", OnFail: "cleanup"},
					{Name: "cleanup", Run: "rm -rf ./tmp"},
				},
			},
		},
	}
	h, st, _ := newTestHandler(t, rb)
	id := types.NewJobId()
	drive(st, h, buildJob(id, "build"))

	applied := drive(st, h, event.Event{Type: event.TypeStepFailed, StepFailed: &event.StepFailed{JobId: id, Step: "compile", Reason: "boom", AtMs: 1100}})
	started, ok := firstOfType(applied, event.TypeStepStarted)
	if !ok || started.StepStarted.Step != "cleanup" {
		t.Fatalf("expected on_fail to route to cleanup, got %+v", applied)
	}
}

func TestJobCircuitBreakerFailsAfterMaxVisits(t *testing.T) {
	rb := &runbook.Runbook{
		Job: map[string]runbook.JobDef{
			"loopy": {
				Name: "loopy",
				Steps: []runbook.StepDef{
					{Name: "spin", Run: "true", OnDone: "spin"},
				},
			},
		},
	}
	h, st, _ := newTestHandler(t, rb)
	id := types.NewJobId()
	drive(st, h, buildJob(id, "loopy"))

	var applied []event.Event
	for i := 0; i < types.MaxStepVisits+1; i++ {
		applied = drive(st, h, event.Event{Type: event.TypeStepCompleted, StepCompleted: &event.StepCompleted{JobId: id, Step: "spin", AtMs: int64(1100 + i)}})
		if _, ok := firstOfType(applied, event.TypeJobFailed); ok {
			break
		}
	}
	if _, ok := firstOfType(applied, event.TypeJobFailed); !ok {
		t.Fatalf("expected the circuit breaker to fail the job eventually, got %+v", applied)
	}
	job := st.Job(id)
	if !job.IsTerminal() {
		t.Fatalf("expected the job to have reached a terminal step, got %+v", job)
	}
}

func TestJobCancelRequestedIsIgnoredOnceTerminal(t *testing.T) {
	rb := &runbook.Runbook{
		Job: map[string]runbook.JobDef{
			"build": {Name: "build", Steps: []runbook.StepDef{{Name: "compile", Run: "go build ./..."}}},
		},
	}
	h, st, _ := newTestHandler(t, rb)
	id := types.NewJobId()
	drive(st, h, buildJob(id, "build"))
	drive(st, h, event.Event{Type: event.TypeStepCompleted, StepCompleted: &event.StepCompleted{JobId: id, Step: "compile", AtMs: 1100}})

	applied := drive(st, h, event.Event{Type: event.TypeJobCancelRequested, JobCancelRequested: &event.JobCancelRequested{JobId: id}})
	if len(applied) != 1 {
		t.Fatalf("expected cancelling an already-terminal job to produce no follow-up events, got %+v", applied)
	}
}
