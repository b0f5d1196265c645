package sched

import (
	"sync"
	"time"
)

// Policy configures how a Debouncer coalesces calls.
//
// A zero Policy passes every call straight through.
type Policy struct {
	// Delay is the quiet period. Zero or negative disables debouncing.
	Delay time.Duration `yaml:"delay" json:"delay"`

	// LeadingEdge runs the first call of a burst immediately and drops the
	// rest of the burst. When false the last call of a burst runs once the
	// quiet period elapses.
	LeadingEdge bool `yaml:"leading_edge" json:"leading_edge"`
}

// Enabled reports whether calls are coalesced at all.
func (p Policy) Enabled() bool {
	return p.Delay > 0
}

// Debouncer coalesces rapid calls to fn according to a Policy.
//
// Calls that are coalesced away are handed to the superseded callback so
// callers waiting on them can be completed.
type Debouncer[T any] struct {
	policy     Policy
	sched      Scheduler
	fn         func(T)
	superseded func(T)

	mu         sync.Mutex
	timer      Timer
	pending    T
	hasPending bool
}

// NewDebouncer creates a debouncer running fn on s.
//
// Parameters:
//   - s: scheduler for the quiet period (nil uses the real clock)
//   - p: coalescing policy
//   - fn: invoked for calls that survive coalescing
//   - superseded: invoked for calls that were dropped or replaced (may be nil)
func NewDebouncer[T any](s Scheduler, p Policy, fn func(T), superseded func(T)) *Debouncer[T] {
	if superseded == nil {
		superseded = func(T) {}
	}
	return &Debouncer[T]{
		policy:     p,
		sched:      OrReal(s),
		fn:         fn,
		superseded: superseded,
	}
}

// Call submits v.
func (d *Debouncer[T]) Call(v T) {
	if !d.policy.Enabled() {
		d.fn(v)
		return
	}
	if d.policy.LeadingEdge {
		d.callLeading(v)
		return
	}
	d.callTrailing(v)
}

func (d *Debouncer[T]) callLeading(v T) {
	d.mu.Lock()
	inWindow := d.timer != nil
	if inWindow {
		d.timer.Stop()
	}
	d.timer = d.sched.AfterFunc(d.policy.Delay, d.closeWindow)
	d.mu.Unlock()

	if inWindow {
		d.superseded(v)
		return
	}
	d.fn(v)
}

func (d *Debouncer[T]) closeWindow() {
	d.mu.Lock()
	d.timer = nil
	d.mu.Unlock()
}

func (d *Debouncer[T]) callTrailing(v T) {
	d.mu.Lock()
	prev, hadPrev := d.pending, d.hasPending
	d.pending, d.hasPending = v, true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = d.sched.AfterFunc(d.policy.Delay, d.fire)
	d.mu.Unlock()

	if hadPrev {
		d.superseded(prev)
	}
}

func (d *Debouncer[T]) fire() {
	d.mu.Lock()
	if !d.hasPending {
		d.timer = nil
		d.mu.Unlock()
		return
	}
	v := d.pending
	var zero T
	d.pending, d.hasPending = zero, false
	d.timer = nil
	d.mu.Unlock()

	d.fn(v)
}

// Stop cancels any pending trailing call, handing it to the superseded callback.
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	v, had := d.pending, d.hasPending
	var zero T
	d.pending, d.hasPending = zero, false
	d.mu.Unlock()

	if had {
		d.superseded(v)
	}
}
