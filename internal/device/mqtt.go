package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-hap/internal/infrastructure/mqtt"
)

// defaultReadTimeout bounds a live read when no timeout is configured.
const defaultReadTimeout = 5 * time.Second

// Transport is the MQTT client surface used by MQTTDevice.
// *mqtt.Client satisfies it.
type Transport interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// CommandPayload is published on the capability command topic.
type CommandPayload struct {
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadRequestPayload is published on the device request topic.
type ReadRequestPayload struct {
	RequestID  string `json:"request_id"`
	Capability string `json:"capability"`
}

// ReadResponsePayload answers a ReadRequestPayload.
type ReadResponsePayload struct {
	Value any    `json:"value"`
	Error string `json:"error,omitempty"`
}

// MQTTDevice is a device reached over MQTT.
//
// Capability values arrive as JSON on graylogic/hap/state/{id}/{capability}
// and are cached; writes are published to the command topic; live reads use
// a request/response exchange keyed by a random request id.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type MQTTDevice struct {
	transport   Transport
	topics      mqtt.Topics
	readTimeout time.Duration
	cache       *ValueCache
	logger      Logger

	mu        sync.RWMutex
	desc      Descriptor
	listeners map[string]map[uint64]func(any)
	nextID    uint64
	started   bool
}

// NewMQTTDevice creates a device for desc on transport.
//
// Parameters:
//   - desc: Announced descriptor; its Values seed the cache
//   - transport: Connected MQTT client
//   - readTimeout: Bound on live reads (zero uses 5s)
//
// Start must be called before values are received.
func NewMQTTDevice(desc Descriptor, transport Transport, readTimeout time.Duration) *MQTTDevice {
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}
	return &MQTTDevice{
		transport:   transport,
		readTimeout: readTimeout,
		cache:       NewValueCache(desc.Values),
		logger:      noopLogger{},
		desc:        desc.DeepCopy(),
		listeners:   make(map[string]map[uint64]func(any)),
	}
}

// SetLogger sets the logger for the device.
func (d *MQTTDevice) SetLogger(logger Logger) {
	if logger != nil {
		d.logger = logger
	}
}

// Start subscribes to the device's capability state topics.
func (d *MQTTDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return nil
	}
	if err := d.transport.Subscribe(d.topics.DeviceCapabilityStates(d.desc.ID), 1, d.handleState); err != nil {
		return fmt.Errorf("subscribing to %s state: %w", d.desc.ID, err)
	}
	d.started = true
	return nil
}

// Stop unsubscribes from the state topics. Listeners are kept.
func (d *MQTTDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return nil
	}
	d.started = false
	return d.transport.Unsubscribe(d.topics.DeviceCapabilityStates(d.desc.ID))
}

// UpdateDescriptor replaces the descriptor after a re-announcement.
// Values in the new descriptor are merged into the cache.
func (d *MQTTDevice) UpdateDescriptor(desc Descriptor) {
	for k, v := range desc.Values {
		d.cache.Set(k, v)
	}
	d.mu.Lock()
	d.desc = desc.DeepCopy()
	d.mu.Unlock()
}

// Descriptor returns the current descriptor with cached values.
func (d *MQTTDevice) Descriptor() Descriptor {
	d.mu.RLock()
	desc := d.desc.DeepCopy()
	d.mu.RUnlock()
	desc.Values = d.cache.Snapshot()
	return desc
}

// CachedValue returns the last value received for a capability.
func (d *MQTTDevice) CachedValue(capability string) (any, bool) {
	return d.cache.Get(capability)
}

// UpdateCachedValue records a value locally without publishing it.
func (d *MQTTDevice) UpdateCachedValue(capability string, value any) {
	d.cache.Set(capability, value)
}

// ReadCapability asks the device for the current value and waits for the
// response or the configured read timeout.
func (d *MQTTDevice) ReadCapability(ctx context.Context, capability string) (any, error) {
	if !d.transport.IsConnected() {
		return nil, ErrNotConnected
	}

	requestID := uuid.NewString()
	responses := make(chan ReadResponsePayload, 1)
	responseTopic := d.topics.ReadResponse(requestID)

	err := d.transport.Subscribe(responseTopic, 1, func(_ string, payload []byte) error {
		var resp ReadResponsePayload
		if err := json.Unmarshal(payload, &resp); err != nil {
			return fmt.Errorf("decoding read response: %w", err)
		}
		select {
		case responses <- resp:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to read response: %w", err)
	}
	defer func() {
		if err := d.transport.Unsubscribe(responseTopic); err != nil {
			d.logger.Debug("read response unsubscribe failed", "request_id", requestID, "error", err)
		}
	}()

	req, err := json.Marshal(ReadRequestPayload{RequestID: requestID, Capability: capability})
	if err != nil {
		return nil, fmt.Errorf("encoding read request: %w", err)
	}
	if err := d.transport.Publish(d.topics.ReadRequest(d.id()), req, 1, false); err != nil {
		return nil, fmt.Errorf("publishing read request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.readTimeout)
	defer cancel()

	select {
	case resp := <-responses:
		if resp.Error != "" {
			return nil, fmt.Errorf("reading %s/%s: %s", d.id(), capability, resp.Error)
		}
		d.cache.Set(capability, resp.Value)
		return resp.Value, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s/%s", ErrReadTimeout, d.id(), capability)
		}
		return nil, ctx.Err()
	}
}

// WriteCapability publishes a command. The cache is not touched: the
// device confirms by publishing the new state.
func (d *MQTTDevice) WriteCapability(_ context.Context, capability string, value any) error {
	if !d.transport.IsConnected() {
		return ErrNotConnected
	}
	payload, err := json.Marshal(CommandPayload{Value: value, Timestamp: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encoding command: %w", err)
	}
	if err := d.transport.Publish(d.topics.CapabilityCommand(d.id(), capability), payload, 1, false); err != nil {
		return fmt.Errorf("publishing command: %w", err)
	}
	return nil
}

// SubscribeCapability registers onChange for state updates of capability.
// It fails with ErrSubscribeFailed while the transport is disconnected.
func (d *MQTTDevice) SubscribeCapability(capability string, onChange func(any)) (Subscription, error) {
	if !d.transport.IsConnected() {
		return nil, fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, capability, ErrNotConnected)
	}

	d.mu.Lock()
	d.nextID++
	id := d.nextID
	if d.listeners[capability] == nil {
		d.listeners[capability] = make(map[uint64]func(any))
	}
	d.listeners[capability][id] = onChange
	d.mu.Unlock()

	return SubscriptionFunc(func() error {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.listeners[capability], id)
		if len(d.listeners[capability]) == 0 {
			delete(d.listeners, capability)
		}
		return nil
	}), nil
}

func (d *MQTTDevice) handleState(topic string, payload []byte) error {
	id, capability, ok := d.topics.ParseCapabilityState(topic)
	if !ok || id != d.id() {
		return nil
	}

	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		return fmt.Errorf("decoding %s state: %w", capability, err)
	}
	d.cache.Set(capability, value)

	d.mu.RLock()
	fns := make([]func(any), 0, len(d.listeners[capability]))
	for _, fn := range d.listeners[capability] {
		fns = append(fns, fn)
	}
	d.mu.RUnlock()

	for _, fn := range fns {
		fn(value)
	}
	return nil
}

func (d *MQTTDevice) id() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.desc.ID
}
