package pim

import "time"

// Scheduler is the delayed-callback boundary consumed by the engine
// and dispatcher: retry back-off, reconnect delay and deferred report
// dispatch all go through it. Injecting it keeps the engine's timing
// behaviour testable without real clocks.
type Scheduler interface {
	// ScheduleAfter invokes fn once after d has elapsed. A zero
	// duration means "as soon as possible, but not on this goroutine".
	ScheduleAfter(d time.Duration, fn func())
}

// TimerScheduler is the production Scheduler backed by time.AfterFunc.
type TimerScheduler struct{}

// ScheduleAfter implements Scheduler.
func (TimerScheduler) ScheduleAfter(d time.Duration, fn func()) {
	time.AfterFunc(d, fn)
}
