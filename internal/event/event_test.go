package event

import (
	"encoding/json"
	"testing"

	"github.com/oddjobs/oj/internal/types"
)

func sampleEvents() []Event {
	jobId := types.NewJobId()
	return []Event{
		{Type: TypeJobCreated, JobCreated: &JobCreated{JobId: jobId, Name: "feat", Kind: "build", Vars: map[string]string{"var.name": "feat"}}},
		{Type: TypeStepStarted, StepStarted: &StepStarted{JobId: jobId, Step: "init", Kind: types.RunShell}},
		{Type: TypeShellExited, ShellExited: &ShellExited{JobId: jobId, Step: "init", ExitCode: 0}},
		{Type: TypeJobCompleted, JobCompleted: &JobCompleted{JobId: jobId, AtMs: 42}},
		{Type: TypeTimerSet, TimerSet: &TimerSet{TimerId: types.NewTimerId(types.TimerLiveness, types.JobOwner(jobId)), FireAfterMs: 30000}},
		{Type: TypeQueuePushed, QueuePushed: &QueuePushed{QueueName: "tasks", ItemId: "item-1", Data: map[string]string{"task": "t"}}},
		{Type: TypeCronFired, CronFired: &CronFired{CronName: "janitor", AtMs: 7}},
	}
}

func TestEventRoundTrip(t *testing.T) {
	for _, e := range sampleEvents() {
		data, err := json.Marshal(e)
		if err != nil {
			t.Fatalf("marshal %s: %v", e.Type, err)
		}
		var got Event
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal %s: %v", e.Type, err)
		}
		data2, err := json.Marshal(got)
		if err != nil {
			t.Fatalf("remarshal %s: %v", e.Type, err)
		}
		if string(data) != string(data2) {
			t.Errorf("round trip mismatch for %s:\n  got  %s\n  want %s", e.Type, data2, data)
		}
	}
}

func TestUnknownTypeBecomesCustom(t *testing.T) {
	raw := []byte(`{"type":"future:event","some_field":"value"}`)
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e.Type != TypeCustom {
		t.Fatalf("expected Custom, got %s", e.Type)
	}
	if e.Custom == nil || e.Custom.OriginalType != "future:event" {
		t.Fatalf("expected preserved original type, got %+v", e.Custom)
	}
}
