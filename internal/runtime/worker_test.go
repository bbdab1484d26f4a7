package runtime

import (
	"testing"

	"github.com/oddjobs/oj/internal/event"
	"github.com/oddjobs/oj/internal/runbook"
	"github.com/oddjobs/oj/internal/types"
)

func TestWorkerWakeDispatchesUpToConcurrency(t *testing.T) {
	rb := &runbook.Runbook{
		Job: map[string]runbook.JobDef{
			"build": {Name: "build", Steps: []runbook.StepDef{{Name: "compile", Run: "go build ./..."}}},
		},
	}
	h, st, _ := newTestHandler(t, rb)

	drive(st, h, event.Event{Type: event.TypeWorkerStarted, WorkerStarted: &event.WorkerStarted{
		Name: "w1", Namespace: "ns", ProjectRoot: "/work", RunbookHash: testHash,
		JobKind: "build", QueueName: "ns/fetch", QueueType: types.QueuePersisted, Concurrency: 1,
	}})

	for _, id := range []string{"item-1", "item-2"} {
		drive(st, h, event.Event{Type: event.TypeQueuePushed, QueuePushed: &event.QueuePushed{
			QueueName: "ns/fetch", ItemId: id, Data: map[string]string{"n": id},
		}})
	}

	scoped := types.ScopedName("ns", "w1")
	w := st.Worker(scoped)
	if w.AvailableSlots() != 0 {
		t.Fatalf("expected the single slot to be claimed by the first item, got %d free", w.AvailableSlots())
	}
	if len(w.ActiveJobs) != 1 {
		t.Fatalf("expected exactly one job dispatched under a concurrency-1 worker, got %d", len(w.ActiveJobs))
	}

	first := st.QueueItemByID("ns/fetch", "item-1")
	second := st.QueueItemByID("ns/fetch", "item-2")
	if first.Status != types.QueueItemActive {
		t.Fatalf("expected item-1 to be taken, got %v", first.Status)
	}
	if second.Status != types.QueueItemPending {
		t.Fatalf("expected item-2 to remain pending behind the concurrency cap, got %v", second.Status)
	}

	// Completing the in-flight job should free the slot and dispatch item-2.
	var jobID types.JobId
	for id := range w.ActiveJobs {
		jobID = id
	}
	drive(st, h, event.Event{Type: event.TypeStepCompleted, StepCompleted: &event.StepCompleted{JobId: jobID, Step: "compile", AtMs: 2000}})

	if second = st.QueueItemByID("ns/fetch", "item-2"); second.Status != types.QueueItemActive {
		t.Fatalf("expected item-2 to dispatch once the slot freed up, got %v", second.Status)
	}
}
