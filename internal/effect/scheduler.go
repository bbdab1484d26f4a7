package effect

import (
	"container/heap"
	"sync"
	"time"

	"github.com/oddjobs/oj/internal/types"
)

// Scheduler is an intrusive binary heap of pending timers keyed by fire-at
// instant, with cancellation via tombstoning: Cancel marks an entry dead
// rather than removing it from the heap, so Set/Cancel stay O(log n) and
// idempotent.
type Scheduler struct {
	mu    sync.Mutex
	heap  timerHeap
	index map[types.TimerId]*timerEntry
}

type timerEntry struct {
	id      types.TimerId
	fireAt  time.Time
	dead    bool
	heapPos int
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].fireAt.Before(h[j].fireAt) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapPos, h[j].heapPos = i, j
}
func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.heapPos = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// NewScheduler returns an empty Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{index: make(map[types.TimerId]*timerEntry)}
}

// Set arms (or re-arms) a timer. Setting an id that is already pending
// replaces its fire time rather than creating a duplicate entry.
func (s *Scheduler) Set(id types.TimerId, fireAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.index[id]; ok {
		existing.dead = true
	}
	e := &timerEntry{id: id, fireAt: fireAt}
	s.index[id] = e
	heap.Push(&s.heap, e)
}

// Cancel tombstones a pending timer. Cancelling an unknown id is a silent
// no-op, matching the spec's CancelTimer contract.
func (s *Scheduler) Cancel(id types.TimerId) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.index[id]; ok {
		e.dead = true
		delete(s.index, id)
	}
}

// Pending reports whether id currently has a live (non-cancelled, non-fired)
// timer scheduled.
func (s *Scheduler) Pending(id types.TimerId) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[id]
	return ok
}

// Fired pops every live entry whose fire-at is at-or-before now and returns
// their ids in fire-order. Dead (cancelled/superseded) entries are dropped
// without being reported.
func (s *Scheduler) Fired(now time.Time) []types.TimerId {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fired []types.TimerId
	for s.heap.Len() > 0 {
		top := s.heap[0]
		if top.dead {
			heap.Pop(&s.heap)
			continue
		}
		if top.fireAt.After(now) {
			break
		}
		heap.Pop(&s.heap)
		delete(s.index, top.id)
		fired = append(fired, top.id)
	}
	return fired
}

// NextDeadline returns the earliest live fire-at, or zero+false if nothing
// is pending. Used by the engine loop to size its select/wait.
func (s *Scheduler) NextDeadline() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.heap.Len() > 0 {
		top := s.heap[0]
		if top.dead {
			heap.Pop(&s.heap)
			continue
		}
		return top.fireAt, true
	}
	return time.Time{}, false
}
