// Package state serializes, validates and retries outbound capability writes.
//
// A Manager wraps one device. Each SetState call validates the value,
// records it as the capability's provisional cached value and then waits
// for every earlier write to the same capability before writing:
//
//	SetState(v1) ──▶ [validate] ──▶ cache ──▶ write ──────────▶ done
//	SetState(v2) ──▶ [validate] ──▶ cache ──▶ wait(v1) ──▶ write ──▶ done
//
// Failed writes retry after a fixed delay while the capability's
// consecutive error count stays within MaxErrors (default 5); past that
// the write fails with ErrWriteFailed and later writes fail immediately
// until one succeeds. GetState serves the cache and falls back to a live
// read with one delayed recovery attempt.
//
// # Thread Safety
//
// Manager is safe for concurrent use.
package state
