package device

import (
	"context"
	"fmt"
	"sync"
)

// Write records a value written to a MemoryDevice.
type Write struct {
	Capability string
	Value      any
}

// MemoryDevice is an in-process device. Writes are applied to the value
// cache and echoed to subscribers, the way a device confirms a command.
//
// It backs statically configured devices and is used as a test double;
// failures can be injected per operation.
type MemoryDevice struct {
	desc  Descriptor
	cache *ValueCache

	mu            sync.Mutex
	subscribers   map[string][]*memorySubscription
	writes        []Write
	subscribes    map[string]int
	writeHook     func(ctx context.Context, capability string, value any) error
	readFailures  int
	writeFailures int
	subFailures   int
	failErr       error
}

type memorySubscription struct {
	dev        *MemoryDevice
	capability string
	onChange   func(any)
}

// NewMemoryDevice creates a device from a descriptor. Descriptor values
// seed the cache.
func NewMemoryDevice(desc Descriptor) *MemoryDevice {
	return &MemoryDevice{
		desc:        desc.DeepCopy(),
		cache:       NewValueCache(desc.Values),
		subscribers: make(map[string][]*memorySubscription),
		subscribes:  make(map[string]int),
		failErr:     ErrNotConnected,
	}
}

// Descriptor returns the device description.
func (d *MemoryDevice) Descriptor() Descriptor {
	desc := d.desc.DeepCopy()
	desc.Values = d.cache.Snapshot()
	return desc
}

// CachedValue returns the cached value of a capability.
func (d *MemoryDevice) CachedValue(capability string) (any, bool) {
	return d.cache.Get(capability)
}

// UpdateCachedValue records a value locally without notifying subscribers.
func (d *MemoryDevice) UpdateCachedValue(capability string, value any) {
	d.cache.Set(capability, value)
}

// ReadCapability returns the cached value, or ErrCapabilityNotFound.
func (d *MemoryDevice) ReadCapability(_ context.Context, capability string) (any, error) {
	d.mu.Lock()
	if d.readFailures > 0 {
		d.readFailures--
		err := d.failErr
		d.mu.Unlock()
		return nil, err
	}
	d.mu.Unlock()

	v, ok := d.cache.Get(capability)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCapabilityNotFound, capability)
	}
	return v, nil
}

// WriteCapability applies a write and echoes it to subscribers.
func (d *MemoryDevice) WriteCapability(ctx context.Context, capability string, value any) error {
	d.mu.Lock()
	d.writes = append(d.writes, Write{Capability: capability, Value: value})
	hook := d.writeHook
	if d.writeFailures > 0 {
		d.writeFailures--
		err := d.failErr
		d.mu.Unlock()
		return err
	}
	d.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, capability, value); err != nil {
			return err
		}
	}
	d.Push(capability, value)
	return nil
}

// SubscribeCapability registers onChange for a capability.
func (d *MemoryDevice) SubscribeCapability(capability string, onChange func(any)) (Subscription, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.subscribes[capability]++
	if d.subFailures > 0 {
		d.subFailures--
		return nil, fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, capability, d.failErr)
	}
	sub := &memorySubscription{dev: d, capability: capability, onChange: onChange}
	d.subscribers[capability] = append(d.subscribers[capability], sub)
	return sub, nil
}

func (s *memorySubscription) Stop() error {
	d := s.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	subs := d.subscribers[s.capability]
	for i, candidate := range subs {
		if candidate == s {
			d.subscribers[s.capability] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(d.subscribers[s.capability]) == 0 {
		delete(d.subscribers, s.capability)
	}
	return nil
}

// Push simulates a device-side value change: the cache is updated and
// subscribers are notified synchronously.
func (d *MemoryDevice) Push(capability string, value any) {
	d.cache.Set(capability, value)

	d.mu.Lock()
	subs := append([]*memorySubscription(nil), d.subscribers[capability]...)
	d.mu.Unlock()

	for _, s := range subs {
		s.onChange(value)
	}
}

// Writes returns every write attempt in order, including failed ones.
func (d *MemoryDevice) Writes() []Write {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Write(nil), d.writes...)
}

// SubscribeCalls returns how many times a capability subscription was attempted.
func (d *MemoryDevice) SubscribeCalls(capability string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.subscribes[capability]
}

// ActiveSubscriptions returns the number of live subscriptions for a capability.
func (d *MemoryDevice) ActiveSubscriptions(capability string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subscribers[capability])
}

// FailReads makes the next n reads fail.
func (d *MemoryDevice) FailReads(n int) {
	d.mu.Lock()
	d.readFailures = n
	d.mu.Unlock()
}

// FailWrites makes the next n writes fail.
func (d *MemoryDevice) FailWrites(n int) {
	d.mu.Lock()
	d.writeFailures = n
	d.mu.Unlock()
}

// FailSubscribes makes the next n subscription attempts fail.
func (d *MemoryDevice) FailSubscribes(n int) {
	d.mu.Lock()
	d.subFailures = n
	d.mu.Unlock()
}

// SetWriteHook installs a hook that runs before a write is applied. A hook
// error fails the write.
func (d *MemoryDevice) SetWriteHook(hook func(ctx context.Context, capability string, value any) error) {
	d.mu.Lock()
	d.writeHook = hook
	d.mu.Unlock()
}
