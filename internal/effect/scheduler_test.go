package effect

import (
	"testing"
	"time"

	"github.com/oddjobs/oj/internal/types"
)

func TestSchedulerFiresInOrder(t *testing.T) {
	s := NewScheduler()
	base := time.Unix(1000, 0)

	s.Set(types.TimerId("liveness:job-a"), base.Add(2*time.Second))
	s.Set(types.TimerId("liveness:job-b"), base.Add(1*time.Second))

	fired := s.Fired(base.Add(1500 * time.Millisecond))
	if len(fired) != 1 || fired[0] != types.TimerId("liveness:job-b") {
		t.Fatalf("expected only job-b to have fired, got %v", fired)
	}

	fired = s.Fired(base.Add(3 * time.Second))
	if len(fired) != 1 || fired[0] != types.TimerId("liveness:job-a") {
		t.Fatalf("expected job-a on second sweep, got %v", fired)
	}
}

func TestSchedulerSetReplacesPending(t *testing.T) {
	s := NewScheduler()
	base := time.Unix(2000, 0)
	id := types.TimerId("cooldown:job-a:on_idle:0")

	s.Set(id, base.Add(10*time.Second))
	s.Set(id, base.Add(1*time.Second))

	fired := s.Fired(base.Add(5 * time.Second))
	if len(fired) != 1 {
		t.Fatalf("expected the re-armed deadline to win, got %v", fired)
	}
}

func TestSchedulerCancelIsIdempotentAndSilentOnUnknown(t *testing.T) {
	s := NewScheduler()
	id := types.TimerId("idle-grace:job-a")
	s.Cancel(id) // unknown id: must not panic

	s.Set(id, time.Unix(0, 0).Add(time.Second))
	s.Cancel(id)
	s.Cancel(id) // idempotent

	fired := s.Fired(time.Unix(0, 0).Add(time.Hour))
	if len(fired) != 0 {
		t.Fatalf("expected cancelled timer not to fire, got %v", fired)
	}
	if s.Pending(id) {
		t.Fatalf("expected cancelled timer to not be pending")
	}
}

func TestSchedulerNextDeadlineSkipsDead(t *testing.T) {
	s := NewScheduler()
	base := time.Unix(3000, 0)
	a := types.TimerId("liveness:a")
	b := types.TimerId("liveness:b")

	s.Set(a, base.Add(time.Second))
	s.Set(b, base.Add(2*time.Second))
	s.Cancel(a)

	next, ok := s.NextDeadline()
	if !ok || !next.Equal(base.Add(2*time.Second)) {
		t.Fatalf("expected next deadline to be b's, got %v ok=%v", next, ok)
	}
}
