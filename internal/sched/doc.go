// Package sched provides the timing primitives used by the mapping core.
//
// Everything that waits (subscription retry backoff, write retry delays,
// debounced writes) goes through a Scheduler so production code runs on the
// wall clock while tests drive a Manual clock and assert exact delays.
//
// # Key Types
//
//   - Scheduler: schedules a callback after a delay and reports the time
//   - Manual: deterministic Scheduler advanced explicitly by tests
//   - Debouncer: coalesces rapid calls per a Policy (leading or trailing edge)
//
// # Thread Safety
//
// All types are safe for concurrent use. Callbacks scheduled on the real
// clock run on their own goroutine; Manual callbacks run on the goroutine
// calling Advance.
package sched
