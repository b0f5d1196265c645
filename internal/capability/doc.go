// Package capability shares device capability subscriptions among listeners.
//
// One Observer exists per mapped device. The first Observe call for a
// capability subscribes to the device; later calls join the same
// subscription and immediately receive the last known value. Failed
// subscriptions are retried on a bounded exponential backoff and then
// marked degraded:
//
//	           Observe
//	  Idle ─────────────▶ Attempting(0) ──ok──▶ Active
//	                         │  fail
//	                         ▼
//	              Attempting(n) ⟲ after min(1s·2ⁿ, 10s)
//	                         │  n = MaxRetries
//	                         ▼
//	                      Degraded (cached values only)
//
// Removing the last listener stops the subscription, cancels any retry
// and discards the capability's state.
//
// # Key Types
//
//   - Observer: per-device subscription multiplexer
//   - RetryPolicy: backoff bounds (default 1s, 10s cap, 3 retries)
//   - Status: state, retry attempts and listener count for diagnostics
//
// # Thread Safety
//
// Observer is safe for concurrent use. Listeners run without internal
// locks held; a panicking listener is recovered and logged.
//
// # Usage
//
//	obs := capability.New(dev, capability.Options{Scheduler: sched.Real(), Logger: logger})
//	id := obs.Observe("onoff", func(v any) { characteristic.UpdateValue(v) })
//	defer obs.Unobserve("onoff", id)
package capability
