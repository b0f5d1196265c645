package capability

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-hap/internal/device"
	"github.com/nerrad567/gray-logic-hap/internal/sched"
)

// Logger defines the logging interface used by the Observer.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Source is the device surface the Observer needs. device.Device satisfies it.
type Source interface {
	CachedValue(capability string) (any, bool)
	SubscribeCapability(capability string, onChange func(value any)) (device.Subscription, error)
}

// State is the subscription state of one observed capability.
type State int

const (
	// StateIdle means no subscription attempt has been made yet.
	StateIdle State = iota
	// StateAttempting means a subscription attempt is in flight or a retry is scheduled.
	StateAttempting
	// StateActive means the device subscription is established.
	StateActive
	// StateDegraded means retries are exhausted; only cached values are served.
	StateDegraded
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAttempting:
		return "attempting"
	case StateActive:
		return "active"
	case StateDegraded:
		return "degraded"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText encodes the state as its name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// RetryPolicy bounds subscription retries.
type RetryPolicy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxRetries   int
}

// DefaultRetryPolicy retries three times after 1s, 2s and 4s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{InitialDelay: time.Second, MaxDelay: 10 * time.Second, MaxRetries: 3}
}

// Delay returns the wait before retry number attempt (zero-based):
// InitialDelay doubled per attempt, capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.InitialDelay
	for i := 0; i < attempt && d < p.MaxDelay; i++ {
		d *= 2
	}
	return min(d, p.MaxDelay)
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.InitialDelay <= 0 {
		p.InitialDelay = def.InitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.MaxRetries == 0 {
		p.MaxRetries = def.MaxRetries
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	return p
}

// Options configures an Observer.
type Options struct {
	// Scheduler drives retry delays. Nil uses the real clock.
	Scheduler sched.Scheduler

	// Retry bounds subscription retries. Zero fields take DefaultRetryPolicy
	// values; a negative MaxRetries disables retrying.
	Retry RetryPolicy

	// Logger receives subscription lifecycle messages. Nil discards them.
	Logger Logger
}

// ListenerID identifies one registered listener.
type ListenerID uint64

// Status describes one observed capability for diagnostics.
type Status struct {
	Capability string `json:"capability"`
	State      State  `json:"state"`
	Attempts   int    `json:"retry_attempts"`
	Listeners  int    `json:"listeners"`
	HasValue   bool   `json:"has_value"`
}

// Degraded reports whether the capability gave up on subscribing.
func (s Status) Degraded() bool {
	return s.State == StateDegraded
}

type listener struct {
	id ListenerID
	fn func(any)
}

type observation struct {
	capability string
	value      any
	hasValue   bool
	listeners  []listener
	state      State
	attempts   int
	sub        device.Subscription
	timer      sched.Timer
}

// Observer shares one device subscription per capability among any number
// of listeners.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Listeners are called without
//     the Observer's lock held, in registration order.
type Observer struct {
	source Source
	sched  sched.Scheduler
	retry  RetryPolicy
	logger Logger

	mu           sync.Mutex
	observations map[string]*observation
	nextID       ListenerID
}

// New creates an Observer for one device.
func New(source Source, opts Options) *Observer {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Observer{
		source:       source,
		sched:        sched.OrReal(opts.Scheduler),
		retry:        opts.Retry.withDefaults(),
		logger:       logger,
		observations: make(map[string]*observation),
	}
}

// Observe registers fn for changes of capability and returns its id.
//
// The first listener for a capability creates the device subscription;
// later listeners share it. If a value is already known (from an earlier
// change or the device cache) fn receives it synchronously before Observe
// returns.
func (o *Observer) Observe(capability string, fn func(value any)) ListenerID {
	o.mu.Lock()
	o.nextID++
	id := o.nextID

	obs, exists := o.observations[capability]
	if !exists {
		obs = &observation{capability: capability, state: StateAttempting}
		obs.value, obs.hasValue = o.source.CachedValue(capability)
		o.observations[capability] = obs
	}
	obs.listeners = append(obs.listeners, listener{id: id, fn: fn})
	value, replay := obs.value, obs.hasValue
	o.mu.Unlock()

	if !exists {
		o.attempt(obs)
	}
	if replay {
		o.call(capability, fn, value)
	}
	return id
}

// Unobserve removes one listener. Removing the last listener stops the
// device subscription and discards all state for the capability.
// It returns false if the listener was not registered.
func (o *Observer) Unobserve(capability string, id ListenerID) bool {
	o.mu.Lock()
	obs, ok := o.observations[capability]
	if !ok {
		o.mu.Unlock()
		return false
	}

	found := false
	for i, l := range obs.listeners {
		if l.id == id {
			obs.listeners = append(obs.listeners[:i], obs.listeners[i+1:]...)
			found = true
			break
		}
	}
	if !found || len(obs.listeners) > 0 {
		o.mu.Unlock()
		return found
	}

	delete(o.observations, capability)
	sub := o.releaseLocked(obs)
	o.mu.Unlock()

	o.stopSubscription(capability, sub)
	return true
}

// CurrentValue returns the last value seen for capability, falling back to
// the device cache.
func (o *Observer) CurrentValue(capability string) (any, bool) {
	o.mu.Lock()
	obs, ok := o.observations[capability]
	if ok && obs.hasValue {
		v := obs.value
		o.mu.Unlock()
		return v, true
	}
	o.mu.Unlock()
	return o.source.CachedValue(capability)
}

// Status returns the status of an observed capability.
func (o *Observer) Status(capability string) (Status, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	obs, ok := o.observations[capability]
	if !ok {
		return Status{Capability: capability, State: StateIdle}, false
	}
	return obs.status(), true
}

// Statuses returns the status of every observed capability ordered by name.
func (o *Observer) Statuses() []Status {
	o.mu.Lock()
	out := make([]Status, 0, len(o.observations))
	for _, obs := range o.observations {
		out = append(out, obs.status())
	}
	o.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Capability < out[j].Capability })
	return out
}

// ObservedCapabilities returns the observed capability names in order.
func (o *Observer) ObservedCapabilities() []string {
	o.mu.Lock()
	out := make([]string, 0, len(o.observations))
	for c := range o.observations {
		out = append(out, c)
	}
	o.mu.Unlock()

	sort.Strings(out)
	return out
}

// CleanupAll drops every listener and stops every subscription and pending retry.
func (o *Observer) CleanupAll() {
	o.mu.Lock()
	all := o.observations
	o.observations = make(map[string]*observation)
	subs := make(map[string]device.Subscription, len(all))
	for c, obs := range all {
		subs[c] = o.releaseLocked(obs)
	}
	o.mu.Unlock()

	for c, sub := range subs {
		o.stopSubscription(c, sub)
	}
}

// attempt tries to subscribe once and schedules the next try on failure.
func (o *Observer) attempt(obs *observation) {
	sub, err := o.source.SubscribeCapability(obs.capability, func(v any) { o.deliver(obs, v) })

	o.mu.Lock()
	if o.observations[obs.capability] != obs {
		// Unobserved while subscribing.
		o.mu.Unlock()
		if err == nil {
			o.stopSubscription(obs.capability, sub)
		}
		return
	}

	if err == nil {
		obs.sub = sub
		obs.state = StateActive
		attempts := obs.attempts
		o.mu.Unlock()
		o.logger.Debug("capability subscribed", "capability", obs.capability, "retries", attempts)
		return
	}

	if obs.attempts >= o.retry.MaxRetries {
		obs.state = StateDegraded
		attempts := obs.attempts
		o.mu.Unlock()
		o.logger.Warn("capability subscription degraded",
			"capability", obs.capability, "retries", attempts, "error", err)
		return
	}

	delay := o.retry.Delay(obs.attempts)
	obs.attempts++
	obs.state = StateAttempting
	attempt := obs.attempts
	obs.timer = o.sched.AfterFunc(delay, func() { o.retryAttempt(obs) })
	o.mu.Unlock()

	o.logger.Warn("capability subscription failed, retrying",
		"capability", obs.capability, "attempt", attempt, "delay", delay, "error", err)
}

func (o *Observer) retryAttempt(obs *observation) {
	o.mu.Lock()
	if o.observations[obs.capability] != obs || obs.state != StateAttempting {
		o.mu.Unlock()
		return
	}
	obs.timer = nil
	o.mu.Unlock()

	o.attempt(obs)
}

func (o *Observer) deliver(obs *observation, value any) {
	o.mu.Lock()
	if o.observations[obs.capability] != obs {
		o.mu.Unlock()
		return
	}
	obs.value, obs.hasValue = value, true
	fns := make([]func(any), len(obs.listeners))
	for i, l := range obs.listeners {
		fns[i] = l.fn
	}
	o.mu.Unlock()

	for _, fn := range fns {
		o.call(obs.capability, fn, value)
	}
}

func (o *Observer) call(capability string, fn func(any), value any) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("capability listener panicked", "capability", capability, "panic", r)
		}
	}()
	fn(value)
}

// releaseLocked must be called with o.mu held.
func (o *Observer) releaseLocked(obs *observation) device.Subscription {
	if obs.timer != nil {
		obs.timer.Stop()
		obs.timer = nil
	}
	sub := obs.sub
	obs.sub = nil
	obs.listeners = nil
	obs.state = StateIdle
	return sub
}

func (o *Observer) stopSubscription(capability string, sub device.Subscription) {
	if sub == nil {
		return
	}
	if err := sub.Stop(); err != nil {
		o.logger.Warn("capability unsubscribe failed", "capability", capability, "error", err)
	}
}

func (obs *observation) status() Status {
	return Status{
		Capability: obs.capability,
		State:      obs.state,
		Attempts:   obs.attempts,
		Listeners:  len(obs.listeners),
		HasValue:   obs.hasValue,
	}
}
