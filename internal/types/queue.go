package types

// QueueItemStatus is a position in the strict status lattice a persisted
// queue item moves through: Pending -> Active -> (Completed | Failed ->
// Pending-after-retry | Dead).
type QueueItemStatus string

const (
	QueueItemPending   QueueItemStatus = "pending"
	QueueItemActive    QueueItemStatus = "active"
	QueueItemCompleted QueueItemStatus = "completed"
	QueueItemFailed    QueueItemStatus = "failed"
	QueueItemDead      QueueItemStatus = "dead"
	QueueItemDropped   QueueItemStatus = "dropped"
)

// QueueItem is one persisted FIFO queue entry.
type QueueItem struct {
	ID            string            `json:"id"`
	QueueName     string            `json:"queue_name"` // scoped by namespace
	Data          map[string]string `json:"data"`
	Status        QueueItemStatus   `json:"status"`
	WorkerName    string            `json:"worker_name,omitempty"` // set when Active
	PushedAtMs    int64             `json:"pushed_at_epoch_ms"`
	FailureCount  int               `json:"failure_count"`
}

// QueueRetryPolicy configures persisted-queue retry/dead-letter behavior.
type QueueRetryPolicy struct {
	Attempts int   `toml:"attempts"`
	Cooldown string `toml:"cooldown"` // duration string, e.g. "30s"
}
