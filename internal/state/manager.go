package state

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-hap/internal/sched"
)

// Defaults applied when Options leaves a field zero.
const (
	DefaultMaxErrors  = 5
	DefaultRetryDelay = time.Second
)

// Logger defines the logging interface used by the Manager.
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

// Device is the I/O surface the Manager writes through. device.Device satisfies it.
type Device interface {
	ReadCapability(ctx context.Context, capability string) (any, error)
	WriteCapability(ctx context.Context, capability string, value any) error
}

// Validator checks a value before it is written and returns the value to
// write in its place, so it may normalize or clamp.
type Validator func(value any) (any, error)

// Options configures a Manager.
type Options struct {
	// MaxErrors is the number of consecutive failures tolerated per
	// capability before writes fail terminally. Zero uses DefaultMaxErrors.
	MaxErrors int

	// RetryDelay is the fixed wait before retrying a failed write or read.
	// Zero uses DefaultRetryDelay.
	RetryDelay time.Duration

	// Scheduler drives retry delays. Nil uses the real clock.
	Scheduler sched.Scheduler

	// Logger receives write failures. Nil discards them.
	Logger Logger
}

// ErrorStatus describes the health of one managed capability.
type ErrorStatus struct {
	Capability string `json:"capability"`
	ErrorCount int    `json:"error_count"`
	LastError  string `json:"last_error,omitempty"`
	Degraded   bool   `json:"degraded"`
	Pending    int    `json:"pending_writes"`
}

// Entry is a snapshot of one managed capability.
type Entry struct {
	Value        any
	HasValue     bool
	LastSetValue any
	HasLastSet   bool
	ErrorCount   int
	UpdatedAt    time.Time
}

type entry struct {
	value      any
	hasValue   bool
	lastSet    any
	hasLastSet bool
	errorCount int
	lastError  error
	updatedAt  time.Time
	tail       chan struct{} // closed when the newest queued write settles
	pending    int
}

// Manager validates, serializes and retries writes per capability and
// caches the last known value of each.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Writes to one capability
//     run strictly one after another in call order; writes to different
//     capabilities run independently.
type Manager struct {
	dev        Device
	maxErrors  int
	retryDelay time.Duration
	sched      sched.Scheduler
	logger     Logger

	mu         sync.Mutex
	entries    map[string]*entry
	validators map[string]Validator
}

// New creates a Manager writing through dev.
func New(dev Device, opts Options) *Manager {
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = DefaultMaxErrors
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Manager{
		dev:        dev,
		maxErrors:  opts.MaxErrors,
		retryDelay: opts.RetryDelay,
		sched:      sched.OrReal(opts.Scheduler),
		logger:     opts.Logger,
		entries:    make(map[string]*entry),
		validators: make(map[string]Validator),
	}
}

// RegisterValidator sets the validator for capability, replacing any
// earlier one. A nil validator removes it.
func (m *Manager) RegisterValidator(capability string, v Validator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v == nil {
		delete(m.validators, capability)
		return
	}
	m.validators[capability] = v
}

// SetState validates value, caches it, and writes it to the device once
// every earlier write for the same capability has settled.
//
// A failed write is retried after RetryDelay while the capability's
// consecutive error count is at most MaxErrors; beyond that it fails with
// ErrWriteFailed. A success resets the count.
//
// Returns:
//   - any: the value written, after any validator normalized it
//   - error: ErrValidation, ErrWriteFailed, or the context error
func (m *Manager) SetState(ctx context.Context, capability string, value any) (any, error) {
	m.mu.Lock()
	validate := m.validators[capability]
	m.mu.Unlock()

	if validate != nil {
		normalized, err := validate(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrValidation, capability, err)
		}
		value = normalized
	}

	m.mu.Lock()
	e := m.entryLocked(capability)
	e.value, e.hasValue = value, true
	e.lastSet, e.hasLastSet = value, true
	e.updatedAt = m.sched.Now()
	prev := e.tail
	done := make(chan struct{})
	e.tail = done
	e.pending++
	m.mu.Unlock()

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			// Keep the chain intact for writes queued behind this one.
			go func() {
				<-prev
				m.settle(capability, done)
			}()
			return nil, ctx.Err()
		}
	}
	defer m.settle(capability, done)

	if err := m.write(ctx, capability, value); err != nil {
		return nil, err
	}
	return value, nil
}

func (m *Manager) write(ctx context.Context, capability string, value any) error {
	for {
		err := m.dev.WriteCapability(ctx, capability, value)

		m.mu.Lock()
		e := m.entryLocked(capability)
		if err == nil {
			e.errorCount = 0
			e.lastError = nil
			m.mu.Unlock()
			return nil
		}
		e.errorCount++
		e.lastError = err
		count := e.errorCount
		m.mu.Unlock()

		if count > m.maxErrors {
			m.logger.Error("state write failed", "capability", capability, "errors", count, "error", err)
			return fmt.Errorf("%w: %s after %d errors: %w", ErrWriteFailed, capability, count, err)
		}

		m.logger.Warn("state write failed, retrying",
			"capability", capability, "errors", count, "delay", m.retryDelay, "error", err)
		if err := sched.Sleep(ctx, m.sched, m.retryDelay); err != nil {
			return err
		}
	}
}

// settle closes done and clears the queue tail if it is still done.
func (m *Manager) settle(capability string, done chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	close(done)
	e := m.entryLocked(capability)
	e.pending--
	if e.tail == done {
		e.tail = nil
	}
}

// GetState returns the cached value of capability, reading it from the
// device when nothing is cached. A failed read is retried once after
// RetryDelay while the error count is within bounds.
//
// Returns:
//   - any: the value, or nil
//   - bool: false when no value could be obtained
func (m *Manager) GetState(ctx context.Context, capability string) (any, bool) {
	m.mu.Lock()
	if e, ok := m.entries[capability]; ok && e.hasValue {
		v := e.value
		m.mu.Unlock()
		return v, true
	}
	m.mu.Unlock()

	v, err := m.dev.ReadCapability(ctx, capability)
	if err == nil {
		m.cacheRead(capability, v)
		return v, true
	}

	count := m.recordReadError(capability, err)
	if count > m.maxErrors {
		m.logger.Warn("state read failed", "capability", capability, "errors", count, "error", err)
		return nil, false
	}
	if sched.Sleep(ctx, m.sched, m.retryDelay) != nil {
		return nil, false
	}

	v, err = m.dev.ReadCapability(ctx, capability)
	if err != nil {
		m.recordReadError(capability, err)
		m.logger.Warn("state recovery read failed", "capability", capability, "error", err)
		return nil, false
	}
	m.cacheRead(capability, v)
	return v, true
}

// UpdateCache records a value observed from the device without writing it.
func (m *Manager) UpdateCache(capability string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entryLocked(capability)
	e.value, e.hasValue = value, true
	e.updatedAt = m.sched.Now()
}

// LastSetValue returns the most recent value passed to SetState.
func (m *Manager) LastSetValue(capability string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[capability]
	if !ok || !e.hasLastSet {
		return nil, false
	}
	return e.lastSet, true
}

// Entry returns a snapshot of a managed capability.
func (m *Manager) Entry(capability string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[capability]
	if !ok {
		return Entry{}, false
	}
	return Entry{
		Value:        e.value,
		HasValue:     e.hasValue,
		LastSetValue: e.lastSet,
		HasLastSet:   e.hasLastSet,
		ErrorCount:   e.errorCount,
		UpdatedAt:    e.updatedAt,
	}, true
}

// ErrorCount returns the consecutive error count of capability.
func (m *Manager) ErrorCount(capability string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[capability]; ok {
		return e.errorCount
	}
	return 0
}

// ErrorStatus returns the error status of capability.
func (m *Manager) ErrorStatus(capability string) ErrorStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := ErrorStatus{Capability: capability}
	e, ok := m.entries[capability]
	if !ok {
		return st
	}
	st.ErrorCount = e.errorCount
	st.Degraded = e.errorCount > m.maxErrors
	st.Pending = e.pending
	if e.lastError != nil {
		st.LastError = e.lastError.Error()
	}
	return st
}

// HasErrors reports whether any capability has a non-zero error count.
func (m *Manager) HasErrors() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.errorCount > 0 {
			return true
		}
	}
	return false
}

// ManagedCapabilities returns the names of every capability with state, in order.
func (m *Manager) ManagedCapabilities() []string {
	m.mu.Lock()
	out := make([]string, 0, len(m.entries))
	for c := range m.entries {
		out = append(out, c)
	}
	m.mu.Unlock()

	sort.Strings(out)
	return out
}

func (m *Manager) cacheRead(capability string, v any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entryLocked(capability)
	e.value, e.hasValue = v, true
	e.errorCount = 0
	e.lastError = nil
	e.updatedAt = m.sched.Now()
}

func (m *Manager) recordReadError(capability string, err error) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entryLocked(capability)
	e.errorCount++
	e.lastError = err
	return e.errorCount
}

// entryLocked must be called with m.mu held.
func (m *Manager) entryLocked(capability string) *entry {
	e, ok := m.entries[capability]
	if !ok {
		e = &entry{}
		m.entries[capability] = e
	}
	return e
}
