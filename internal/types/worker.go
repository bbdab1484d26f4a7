package types

// WorkerStatus is the run state of a worker.
type WorkerStatus string

const (
	WorkerRunning WorkerStatus = "running"
	WorkerStopped WorkerStatus = "stopped"
)

// QueueType distinguishes a user-polled external queue from a
// WAL-persisted FIFO queue.
type QueueType string

const (
	QueueExternal  QueueType = "external"
	QueuePersisted QueueType = "persisted"
)

// WorkerRecord is the materialized state for one declared worker.
type WorkerRecord struct {
	Name        string       `json:"name"`
	Namespace   string       `json:"namespace"`
	ProjectRoot string       `json:"project_root"`
	RunbookHash string       `json:"runbook_hash"`
	Status      WorkerStatus `json:"status"`
	JobKind     string       `json:"job_kind"`
	QueueName   string       `json:"queue_name"`
	QueueType   QueueType    `json:"queue_type"`
	Concurrency int          `json:"concurrency"`
	PollInterval string      `json:"poll_interval,omitempty"`

	ActiveJobs map[JobId]bool `json:"active_jobs"`

	// ItemJobMap maps a job to the queue item it was created from.
	ItemJobMap map[JobId]string `json:"item_job_map,omitempty"`
	// InflightItems is the set of item ids currently taken but not yet
	// resolved to a job-completion event.
	InflightItems map[string]bool `json:"inflight_items,omitempty"`
	// TakingItems is the set of item ids for which a TakeQueueItem effect
	// has been issued but WorkerTakeComplete has not yet been observed.
	// Represented as a set (rather than a bare counter) so that
	// re-applying the same event twice stays idempotent.
	TakingItems map[string]bool `json:"taking_items,omitempty"`
}

// PendingTakes returns the number of in-flight take requests awaiting
// WorkerTakeComplete.
func (w *WorkerRecord) PendingTakes() int { return len(w.TakingItems) }

// AvailableSlots returns how many additional jobs this worker may dispatch
// right now: active jobs, items already taken but not yet turned into a
// job, and in-flight take requests may never together exceed concurrency.
func (w *WorkerRecord) AvailableSlots() int {
	used := len(w.ActiveJobs) + len(w.InflightItems) + w.PendingTakes()
	if used >= w.Concurrency {
		return 0
	}
	return w.Concurrency - used
}
