package event

import "time"

// Scheduler is the host's "invoke once after delay" primitive.
// Fire-and-forget: there is no handle, no cancellation and no repeat.
type Scheduler interface {
	ScheduleOnce(delay time.Duration, fn func())
}

// SchedulerFunc adapts a plain function to Scheduler.
type SchedulerFunc func(delay time.Duration, fn func())

func (f SchedulerFunc) ScheduleOnce(delay time.Duration, fn func()) {
	f(delay, fn)
}

// AfterFuncScheduler runs callbacks on their own goroutine via time.AfterFunc.
// Hosts whose listeners are bound to one goroutine (Lua) must install a
// tick-driven scheduler instead.
type AfterFuncScheduler struct{}

func (AfterFuncScheduler) ScheduleOnce(delay time.Duration, fn func()) {
	time.AfterFunc(delay, fn)
}
