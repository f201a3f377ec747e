package accumulator

import (
	"strings"
	"sync"
	"time"
)

// DefaultDelay is how long the first delta after an idle period waits before
// it is committed, coalescing everything that arrives meanwhile.
const DefaultDelay = 50 * time.Millisecond

// FlushFunc receives the full committed text after each flush. It must not
// call Flush or Finish on the Accumulator that invoked it.
type FlushFunc func(snapshot string)

// Accumulator buffers decoded deltas and commits them into an append-only
// snapshot at a bounded rate. Snapshots reach the FlushFunc in commit order
// and never shrink.
type Accumulator struct {
	mu      sync.Mutex
	deliver sync.Mutex // held across the FlushFunc call; taken before mu is released

	clock   Clock
	delay   time.Duration
	onFlush FlushFunc

	pending  strings.Builder
	text     string
	timer    Timer
	timerSeq uint64
	stopped  bool
	flushes  int
}

// New creates an Accumulator. A zero delay means DefaultDelay; a nil clock
// means SystemClock.
func New(delay time.Duration, clock Clock, onFlush FlushFunc) *Accumulator {
	if delay <= 0 {
		delay = DefaultDelay
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &Accumulator{
		clock:   clock,
		delay:   delay,
		onFlush: onFlush,
	}
}

// Push appends a delta to the pending buffer. The first push after an idle
// state schedules exactly one deferred flush; later pushes only extend the
// buffer until that flush runs.
func (a *Accumulator) Push(delta string) {
	if delta == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return
	}
	a.pending.WriteString(delta)
	if a.timer != nil {
		return
	}

	a.timerSeq++
	seq := a.timerSeq
	a.timer = a.clock.AfterFunc(a.delay, func() { a.fire(seq) })
}

// Flush commits the pending buffer now, cancelling any scheduled flush.
func (a *Accumulator) Flush() {
	a.mu.Lock()
	a.cancelTimerLocked()
	a.commitLocked()
}

// Finish cancels any scheduled flush and synchronously commits everything
// still pending. It returns the terminal snapshot.
func (a *Accumulator) Finish() string {
	a.Flush()
	return a.Text()
}

// Stop cancels any scheduled flush and turns every later Push, Flush and
// Finish into a no-op. Pending text is discarded.
func (a *Accumulator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelTimerLocked()
	a.stopped = true
	a.pending.Reset()
}

// Text returns the committed snapshot.
func (a *Accumulator) Text() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.text
}

// PendingLen returns the number of bytes waiting for the next flush.
func (a *Accumulator) PendingLen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending.Len()
}

// Flushes returns how many commits have been delivered.
func (a *Accumulator) Flushes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flushes
}

// Scheduled reports whether a deferred flush is waiting to run.
func (a *Accumulator) Scheduled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.timer != nil
}

// fire runs on the clock's goroutine. A timer that was cancelled or replaced
// after it started firing finds a different seq and does nothing.
func (a *Accumulator) fire(seq uint64) {
	a.mu.Lock()
	if a.timer == nil || a.timerSeq != seq {
		a.mu.Unlock()
		return
	}
	a.timer = nil
	a.commitLocked()
}

func (a *Accumulator) cancelTimerLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

// commitLocked is called with mu held and releases it. The delivery lock is
// acquired before mu is released, so a later commit cannot overtake this one,
// and a Flush with nothing pending still waits for an in-flight delivery.
func (a *Accumulator) commitLocked() {
	var snapshot string
	commit := !a.stopped && a.pending.Len() > 0
	if commit {
		a.text += a.pending.String()
		a.pending.Reset()
		a.flushes++
		snapshot = a.text
	}

	a.deliver.Lock()
	a.mu.Unlock()
	defer a.deliver.Unlock()

	if commit && a.onFlush != nil {
		a.onFlush(snapshot)
	}
}
