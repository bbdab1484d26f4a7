// Package state holds the materialized projection of the write-ahead log:
// the in-memory maps Apply derives from the event stream. Apply
// is pure and idempotent so that replay-from-snapshot and normal forward
// processing can share the same code path.
package state

import (
	"sync"

	"github.com/oddjobs/oj/internal/types"
)

// State is the full materialized projection. All fields are exported so
// that the snapshot codec can serialize them directly. The accessor
// methods do not lock; callers outside this package hold at least RLock
// while reading, whether through an accessor or a map.
type State struct {
	mu sync.RWMutex

	Jobs       map[types.JobId]*types.Job
	Workspaces map[types.WorkspaceId]*types.Workspace
	Agents     map[types.AgentId]*types.AgentRecord
	AgentRuns  map[types.AgentRunId]*types.AgentRun
	Sessions   map[types.SessionId]*types.SessionInfo
	Workers    map[string]*types.WorkerRecord // keyed by scoped name
	Crons      map[string]*types.CronRecord   // keyed by scoped name
	Decisions  map[types.DecisionId]*types.Decision

	// QueueItems is keyed by scoped queue name, each an ordered (by push
	// order) list of items.
	QueueItems map[string][]*types.QueueItem
	// queueIndex speeds up item lookup by (queue, item id) without
	// scanning the ordered slice; rebuilt on load.
	queueIndex map[string]map[string]int

	// RunbookHashes caches the last-seen content hash per project root,
	// set by RunbookLoaded events.
	RunbookHashes map[string]string

	// ProcessedSeq is the WAL seq this state is consistent through.
	ProcessedSeq uint64
}

// New returns an empty materialized state.
func New() *State {
	return &State{
		Jobs:          make(map[types.JobId]*types.Job),
		Workspaces:    make(map[types.WorkspaceId]*types.Workspace),
		Agents:        make(map[types.AgentId]*types.AgentRecord),
		AgentRuns:     make(map[types.AgentRunId]*types.AgentRun),
		Sessions:      make(map[types.SessionId]*types.SessionInfo),
		Workers:       make(map[string]*types.WorkerRecord),
		Crons:         make(map[string]*types.CronRecord),
		Decisions:     make(map[types.DecisionId]*types.Decision),
		QueueItems:    make(map[string][]*types.QueueItem),
		queueIndex:    make(map[string]map[string]int),
		RunbookHashes: make(map[string]string),
	}
}

// Lock/Unlock/RLock/RUnlock are exposed so the runtime's handlers and the
// daemon's request handlers can read state under RLock (Apply takes the
// write lock itself, separately from the handler that follows): state maps are
// protected by a short-hold mutex, and no blocking calls are made while
// the mutex is held except where data has explicitly been cloned out first.
func (s *State) Lock()    { s.mu.Lock() }
func (s *State) Unlock()  { s.mu.Unlock() }
func (s *State) RLock()   { s.mu.RLock() }
func (s *State) RUnlock() { s.mu.RUnlock() }

// Job returns a pointer to the job (caller must hold at least RLock), or
// nil if absent.
func (s *State) Job(id types.JobId) *types.Job { return s.Jobs[id] }

// Worker returns a worker by scoped name.
func (s *State) Worker(scopedName string) *types.WorkerRecord { return s.Workers[scopedName] }

// Cron returns a cron by scoped name.
func (s *State) Cron(scopedName string) *types.CronRecord { return s.Crons[scopedName] }

// AgentRun returns an agent run by id.
func (s *State) AgentRun(id types.AgentRunId) *types.AgentRun { return s.AgentRuns[id] }

// Agent returns an agent registry row by id.
func (s *State) Agent(id types.AgentId) *types.AgentRecord { return s.Agents[id] }

// RebuildQueueIndex reconstructs queueIndex from QueueItems. Callers that
// populate State by decoding a snapshot (whose unexported fields are not
// serialized) must call this once before using QueueItemByID.
func (s *State) RebuildQueueIndex() {
	s.queueIndex = make(map[string]map[string]int)
	for queue, items := range s.QueueItems {
		idx := s.queueItemIndex(queue)
		for pos, it := range items {
			idx[it.ID] = pos
		}
	}
}

func (s *State) queueItemIndex(queue string) map[string]int {
	idx, ok := s.queueIndex[queue]
	if !ok {
		idx = make(map[string]int)
		s.queueIndex[queue] = idx
	}
	return idx
}

// QueueItemByID returns the item with the given id in queue, or nil.
func (s *State) QueueItemByID(queue, itemID string) *types.QueueItem {
	idx, ok := s.queueIndex[queue]
	if !ok {
		return nil
	}
	pos, ok := idx[itemID]
	if !ok {
		return nil
	}
	return s.QueueItems[queue][pos]
}

// FindQueueItemByData returns the first Pending or Active item in queue
// whose Data equals data, for idempotent-push dedup.
func (s *State) FindQueueItemByData(queue string, data map[string]string) *types.QueueItem {
	for _, it := range s.QueueItems[queue] {
		if it.Status != types.QueueItemPending && it.Status != types.QueueItemActive {
			continue
		}
		if sameData(it.Data, data) {
			return it
		}
	}
	return nil
}

func sameData(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// CountActiveCronJobs returns how many jobs and agent runs this cron
// currently has non-terminal.
func CountActiveCronJobs(c *types.CronRecord) int {
	return len(c.ActiveJobs) + len(c.ActiveAgentRuns)
}
