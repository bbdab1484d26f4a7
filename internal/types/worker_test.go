package types

import "testing"

func TestWorkerAvailableSlots(t *testing.T) {
	w := &WorkerRecord{
		Concurrency:   3,
		ActiveJobs:    map[JobId]bool{"job-1": true},
		InflightItems: map[string]bool{"item-1": true},
		TakingItems:   map[string]bool{"item-2": true},
	}
	if got := w.AvailableSlots(); got != 0 {
		t.Fatalf("AvailableSlots() = %d, want 0 (1 active + 1 inflight + 1 taking == concurrency)", got)
	}

	delete(w.TakingItems, "item-2")
	if got := w.AvailableSlots(); got != 1 {
		t.Fatalf("AvailableSlots() = %d, want 1 once a taking slot frees up", got)
	}
}

func TestWorkerAvailableSlotsNeverNegative(t *testing.T) {
	w := &WorkerRecord{
		Concurrency: 1,
		ActiveJobs:  map[JobId]bool{"job-1": true, "job-2": true},
	}
	if got := w.AvailableSlots(); got != 0 {
		t.Fatalf("AvailableSlots() = %d, want 0 when already over concurrency", got)
	}
}
