package system

import (
	"container/heap"
	"sync"
	"time"

	coresys "github.com/l1jgo/modbus/internal/core/system"
	"go.uber.org/zap"
)

// TimerSystem is the host's "invoke once after delay" primitive and
// implements event.Scheduler. ScheduleOnce may be called from any goroutine;
// callbacks always run on the tick loop goroutine, so Lua listeners fired by
// a delayed event stay on the VM's goroutine. Phase 1 (Timers).
//
// Resolution is one tick: a callback runs on the first tick at or after its
// due time. Callbacks scheduled while timers run wait for the next tick.
type TimerSystem struct {
	mu      sync.Mutex
	pending timerQueue
	seq     uint64
	now     func() time.Time
	log     *zap.Logger
}

func NewTimerSystem(log *zap.Logger) *TimerSystem {
	return &TimerSystem{
		now: time.Now,
		log: log,
	}
}

func (s *TimerSystem) Phase() coresys.Phase { return coresys.PhaseTimers }

// ScheduleOnce queues fn to run once delay has elapsed.
func (s *TimerSystem) ScheduleOnce(delay time.Duration, fn func()) {
	if delay < 0 {
		delay = 0
	}
	s.mu.Lock()
	s.seq++
	heap.Push(&s.pending, &timer{due: s.now().Add(delay), seq: s.seq, fn: fn})
	s.mu.Unlock()
}

func (s *TimerSystem) Update(_ time.Duration) {
	now := s.now()
	s.mu.Lock()
	var due []*timer
	for s.pending.Len() > 0 && !s.pending[0].due.After(now) {
		due = append(due, heap.Pop(&s.pending).(*timer))
	}
	s.mu.Unlock()

	for _, t := range due {
		s.safeRun(t)
	}
}

// Pending returns the number of timers not yet run.
func (s *TimerSystem) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Len()
}

// safeRun keeps one bad callback from taking down the loop.
func (s *TimerSystem) safeRun(t *timer) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("timer callback panic recovered", zap.Uint64("seq", t.seq), zap.Any("panic", rec))
		}
	}()
	t.fn()
}

type timer struct {
	due time.Time
	seq uint64
	fn  func()
}

// timerQueue orders timers by due time, then by scheduling order.
type timerQueue []*timer

func (q timerQueue) Len() int { return len(q) }

func (q timerQueue) Less(i, j int) bool {
	if q[i].due.Equal(q[j].due) {
		return q[i].seq < q[j].seq
	}
	return q[i].due.Before(q[j].due)
}

func (q timerQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *timerQueue) Push(x any) { *q = append(*q, x.(*timer)) }

func (q *timerQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return t
}
