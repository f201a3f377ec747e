package accumulator

import "time"

// Clock schedules deferred work. Production code uses SystemClock; tests drive
// a virtual clock so debounce behavior is checked without real sleeps.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	// Stop prevents the callback from running. It reports false if the
	// callback already ran or the timer was already stopped.
	Stop() bool
}

// SystemClock returns a Clock backed by the runtime timer.
func SystemClock() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
