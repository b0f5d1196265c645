package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-hap/internal/device"
	"github.com/nerrad567/gray-logic-hap/internal/hap"
	"github.com/nerrad567/gray-logic-hap/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-hap/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-hap/internal/mapping"
)

// Event channels broadcast to WebSocket subscribers.
const (
	ChannelCharacteristicChanged = "characteristic.changed"
	ChannelDeviceMapped          = "device.mapped"
	ChannelDeviceUnmappable      = "device.unmappable"
	ChannelDeviceRemoved         = "device.removed"
)

// ErrorTypeUnmappable is the registry error type counted each time a
// device fails to map.
const ErrorTypeUnmappable = "unmappable"

// defaultQoS is used for announcements and accessory values.
const defaultQoS byte = 1

// Logger defines the logging interface used by the bridge.
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

// Broadcaster streams events to live clients. *api.Hub satisfies it.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// Telemetry records time-series points. *influxdb.Client satisfies it.
type Telemetry interface {
	WriteCharacteristicValue(sample influxdb.CharacteristicSample) bool
	WriteMappingEvent(event influxdb.MappingEvent)
}

// Options configures a Bridge.
type Options struct {
	// Mapping configures the engine the bridge owns. Its OnChange, when
	// set, is called after the bridge's own fan-out.
	Mapping mapping.Options

	// Registry is required.
	Registry *device.Registry

	// Transport carries announcements, device traffic and accessory
	// values. Nil runs the bridge with static devices only.
	Transport device.Transport

	// Broadcaster and Telemetry are optional.
	Broadcaster Broadcaster
	Telemetry   Telemetry

	// ReadTimeout bounds live reads of MQTT devices.
	ReadTimeout time.Duration

	// ErrorThreshold is the unmappable count at which a device is
	// reported as failing. Zero uses device.DefaultErrorThreshold.
	ErrorThreshold int

	// HealthInterval is how often mapping health is published.
	// Zero uses 30 seconds.
	HealthInterval time.Duration

	Logger Logger
}

// CharacteristicEvent is the payload of ChannelCharacteristicChanged.
type CharacteristicEvent struct {
	AccessoryID    string    `json:"accessory_id"`
	IID            uint64    `json:"iid"`
	Service        string    `json:"service"`
	Characteristic string    `json:"characteristic"`
	Value          any       `json:"value"`
	OldValue       any       `json:"old_value,omitempty"`
	Origin         string    `json:"origin"`
	Timestamp      time.Time `json:"timestamp"`
}

// MappedEvent is the payload of ChannelDeviceMapped.
type MappedEvent struct {
	DeviceID    string   `json:"device_id"`
	Name        string   `json:"name"`
	PrimaryRule string   `json:"primary_rule"`
	Rules       []string `json:"rules"`
	Category    string   `json:"category"`
	Percentage  float64  `json:"percentage"`
}

// UnmappableEvent is the payload of ChannelDeviceUnmappable.
type UnmappableEvent struct {
	DeviceID string `json:"device_id"`
	Class    string `json:"class"`
	Reason   string `json:"reason"`
	Count    int    `json:"count"`
}

// valuePayload is the retained MQTT payload of an accessory characteristic.
type valuePayload struct {
	Value     any       `json:"value"`
	Origin    string    `json:"origin,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Bridge coordinates devices, the registry and the mapping engine.
//
// Thread Safety:
//   - All exported methods are safe for concurrent use.
type Bridge struct {
	engine      *mapping.Engine
	registry    *device.Registry
	transport   device.Transport
	broadcaster Broadcaster
	telemetry   Telemetry
	readTimeout time.Duration
	threshold   int
	onChange    func(*mapping.MappedDevice, hap.Change)
	health      *HealthReporter
	topics      mqtt.Topics
	logger      Logger
	now         func() time.Time

	mu      sync.Mutex
	devices map[string]device.Device
	ctx     context.Context
	started bool

	stopOnce sync.Once
}

// New creates a Bridge and its mapping engine.
//
// Parameters:
//   - opts: Options; Registry and Mapping.Rules are required
//
// Returns:
//   - *Bridge: Ready to start
//   - error: ErrRegistryRequired, or the engine construction error
func New(opts Options) (*Bridge, error) {
	if opts.Registry == nil {
		return nil, ErrRegistryRequired
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	b := &Bridge{
		registry:    opts.Registry,
		transport:   opts.Transport,
		broadcaster: opts.Broadcaster,
		telemetry:   opts.Telemetry,
		readTimeout: opts.ReadTimeout,
		threshold:   opts.ErrorThreshold,
		onChange:    opts.Mapping.OnChange,
		logger:      opts.Logger,
		now:         time.Now,
		devices:     make(map[string]device.Device),
		ctx:         context.Background(),
	}

	mappingOpts := opts.Mapping
	mappingOpts.OnChange = b.handleChange
	if mappingOpts.Logger == nil {
		mappingOpts.Logger = opts.Logger
	}
	engine, err := mapping.New(mappingOpts)
	if err != nil {
		return nil, fmt.Errorf("creating mapping engine: %w", err)
	}
	b.engine = engine

	b.health = NewHealthReporter(HealthReporterConfig{
		Interval:  opts.HealthInterval,
		Publisher: opts.Transport,
		Source:    b,
	})
	b.health.SetLogger(opts.Logger)
	return b, nil
}

// Engine returns the mapping engine owned by the bridge.
func (b *Bridge) Engine() *mapping.Engine { return b.engine }

// Registry returns the device registry.
func (b *Bridge) Registry() *device.Registry { return b.registry }

// Start subscribes to device announcements and begins health reporting.
// Without a transport it only records ctx for later registry writes.
//
// Parameters:
//   - ctx: Context for registry persistence and health reporting
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return ErrAlreadyStarted
	}
	b.started = true
	b.ctx = ctx
	b.mu.Unlock()

	if b.transport == nil {
		b.logger.Info("bridge started without MQTT transport")
		return nil
	}

	if err := b.transport.Subscribe(b.topics.AllDeviceAnnouncements(), defaultQoS, b.handleAnnouncement); err != nil {
		return fmt.Errorf("subscribing to device announcements: %w", err)
	}
	b.health.Start(ctx)
	b.logger.Info("bridge started", "topic", b.topics.AllDeviceAnnouncements())
	return nil
}

// Stop unsubscribes, stops MQTT devices and releases every mapping.
// Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		if b.transport != nil {
			b.health.Stop()
			//nolint:errcheck // Best-effort during shutdown
			b.transport.Unsubscribe(b.topics.AllDeviceAnnouncements())
		}

		b.mu.Lock()
		devices := b.devices
		b.devices = make(map[string]device.Device)
		b.mu.Unlock()

		for id, dev := range devices {
			stopDevice(dev, id, b.logger)
		}
		b.engine.Close()
		b.logger.Info("bridge stopped")
	})
}

// AddDevice registers dev, maps it and accessorizes the result. A device
// whose stored mapping no longer matches its descriptor, or a different
// device instance under a known id, is mapped from scratch.
//
// Parameters:
//   - ctx: Context for registry persistence
//   - dev: The device to add
//
// Returns:
//   - *mapping.MappedDevice: The mapped and accessorized device
//   - error: Invalid descriptor, registry failure or mapping.ErrUnmappableDevice
func (b *Bridge) AddDevice(ctx context.Context, dev device.Device) (*mapping.MappedDevice, error) {
	desc := dev.Descriptor()
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	refresh := b.registry.ShouldRefreshMapping(desc)
	if _, err := b.registry.RegisterDevice(ctx, desc); err != nil {
		return nil, fmt.Errorf("registering device %s: %w", desc.ID, err)
	}

	b.mu.Lock()
	prev, known := b.devices[desc.ID]
	b.devices[desc.ID] = dev
	b.mu.Unlock()

	if known && prev != dev {
		stopDevice(prev, desc.ID, b.logger)
		refresh = true
	}
	if refresh && b.engine.ForgetDevice(desc.ID) {
		b.logger.Info("remapping device", "device_id", desc.ID, "class", desc.Class)
	}

	md, err := b.engine.MapDevice(dev)
	if err != nil {
		if errors.Is(err, mapping.ErrUnmappableDevice) {
			b.recordUnmappable(ctx, desc, err)
		}
		return nil, err
	}

	fresh := md.Accessory() == nil
	a, err := md.Accessorize()
	if err != nil {
		return nil, err
	}
	if !fresh {
		return md, nil
	}

	if err := b.registry.ResetErrors(ctx, desc.ID, ErrorTypeUnmappable); err != nil {
		b.logger.Warn("failed to reset error counters", "device_id", desc.ID, "error", err)
	}
	if err := b.registry.SetMapping(ctx, mappingInfo(md, a)); err != nil {
		b.logger.Warn("failed to store mapping", "device_id", desc.ID, "error", err)
	}

	sel := md.Selection()
	if b.telemetry != nil {
		b.telemetry.WriteMappingEvent(influxdb.MappingEvent{
			DeviceID:    desc.ID,
			Class:       desc.Class,
			Rule:        md.PrimaryRule(),
			Category:    md.Category().String(),
			Percentage:  sel.Primary.Percentage,
			Fallback:    sel.Primary.Rule.IsFallback,
			Secondaries: len(sel.Secondaries),
			Time:        md.MappedAt(),
		})
	}
	b.broadcast(ChannelDeviceMapped, MappedEvent{
		DeviceID:    desc.ID,
		Name:        md.Name(),
		PrimaryRule: md.PrimaryRule(),
		Rules:       md.RuleIDs(),
		Category:    md.Category().String(),
		Percentage:  sel.Primary.Percentage,
	})
	b.publishAccessory(md.ID(), a)
	return md, nil
}

// RemoveDevice forgets the mapping of id, stops its device and drops it
// from the registry.
//
// Returns:
//   - error: device.ErrDeviceNotFound if nothing knew the device
func (b *Bridge) RemoveDevice(ctx context.Context, id string) error {
	b.mu.Lock()
	dev, known := b.devices[id]
	delete(b.devices, id)
	b.mu.Unlock()

	forgotten := b.engine.ForgetDevice(id)
	if known {
		stopDevice(dev, id, b.logger)
	}

	err := b.registry.RemoveDevice(ctx, id)
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		if !known && !forgotten {
			return fmt.Errorf("%w: %s", device.ErrDeviceNotFound, id)
		}
	case err != nil:
		return fmt.Errorf("removing device %s: %w", id, err)
	}

	b.logger.Info("device removed", "device_id", id)
	b.broadcast(ChannelDeviceRemoved, map[string]string{"device_id": id})
	return nil
}

// Remap forgets the mapping of a known device and maps it again.
func (b *Bridge) Remap(ctx context.Context, id string) (*mapping.MappedDevice, error) {
	b.mu.Lock()
	dev, ok := b.devices[id]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", device.ErrDeviceNotFound, id)
	}
	b.engine.ForgetDevice(id)
	if err := b.registry.ClearMapping(ctx, id); err != nil {
		b.logger.Warn("failed to clear mapping", "device_id", id, "error", err)
	}
	return b.AddDevice(ctx, dev)
}

// DeviceCount returns the number of live devices.
func (b *Bridge) DeviceCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.devices)
}

// handleAnnouncement processes a retained descriptor message.
func (b *Bridge) handleAnnouncement(topic string, payload []byte) error {
	id, ok := b.topics.ParseDeviceAnnounce(topic)
	if !ok {
		return nil
	}
	ctx := b.context()

	if len(payload) == 0 {
		err := b.RemoveDevice(ctx, id)
		if errors.Is(err, device.ErrDeviceNotFound) {
			return nil
		}
		return err
	}

	var desc device.Descriptor
	if err := json.Unmarshal(payload, &desc); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidAnnouncement, id, err)
	}
	if desc.ID == "" {
		desc.ID = id
	}
	if desc.ID != id {
		return fmt.Errorf("%w: topic names %q but descriptor names %q", ErrInvalidAnnouncement, id, desc.ID)
	}

	b.mu.Lock()
	existing := b.devices[id]
	b.mu.Unlock()

	dev, ok := existing.(*device.MQTTDevice)
	if ok {
		dev.UpdateDescriptor(desc)
	} else {
		dev = device.NewMQTTDevice(desc, b.transport, b.readTimeout)
		dev.SetLogger(b.logger)
		if err := dev.Start(); err != nil {
			return err
		}
	}

	_, err := b.AddDevice(ctx, dev)
	if errors.Is(err, mapping.ErrUnmappableDevice) {
		return nil
	}
	return err
}

// handleChange fans one characteristic change out to every sink.
func (b *Bridge) handleChange(md *mapping.MappedDevice, ch hap.Change) {
	c := ch.Characteristic
	event := CharacteristicEvent{
		AccessoryID:    md.ID(),
		IID:            c.IID(),
		Characteristic: c.Type.String(),
		Value:          ch.NewValue,
		OldValue:       ch.OldValue,
		Origin:         string(ch.Origin),
		Timestamp:      b.now(),
	}
	if ch.Service != nil {
		event.Service = ch.Service.Type.String()
	}

	b.broadcast(ChannelCharacteristicChanged, event)
	b.publishValue(md.ID(), event.IID, valuePayload{Value: event.Value, Origin: event.Origin, Timestamp: event.Timestamp})
	if b.telemetry != nil {
		b.telemetry.WriteCharacteristicValue(influxdb.CharacteristicSample{
			AccessoryID:    event.AccessoryID,
			Service:        event.Service,
			Characteristic: event.Characteristic,
			Origin:         event.Origin,
			Value:          event.Value,
			Time:           event.Timestamp,
		})
	}

	if b.onChange != nil {
		b.onChange(md, ch)
	}
}

// publishAccessory publishes the current value of every readable
// characteristic of a newly built accessory.
func (b *Bridge) publishAccessory(id string, a *hap.Accessory) {
	if b.transport == nil || !b.transport.IsConnected() {
		return
	}
	at := b.now()
	for _, s := range a.Services() {
		for _, c := range s.Characteristics() {
			if !c.HasPerm(hap.PermRead) {
				continue
			}
			b.publishValue(id, c.IID(), valuePayload{Value: c.Value(), Timestamp: at})
		}
	}
}

func (b *Bridge) publishValue(id string, iid uint64, payload valuePayload) {
	if b.transport == nil || !b.transport.IsConnected() {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Warn("failed to encode characteristic value", "device_id", id, "iid", iid, "error", err)
		return
	}
	if err := b.transport.Publish(b.topics.AccessoryCharacteristic(id, iid), data, defaultQoS, true); err != nil {
		b.logger.Warn("failed to publish characteristic value", "device_id", id, "iid", iid, "error", err)
	}
}

func (b *Bridge) recordUnmappable(ctx context.Context, desc device.Descriptor, cause error) {
	count, err := b.registry.RecordError(ctx, desc.ID, ErrorTypeUnmappable)
	if err != nil {
		b.logger.Warn("failed to persist error counter", "device_id", desc.ID, "error", err)
	}
	if err := b.registry.ClearMapping(ctx, desc.ID); err != nil {
		b.logger.Warn("failed to clear mapping", "device_id", desc.ID, "error", err)
	}

	if b.registry.HasTooManyErrors(desc.ID, ErrorTypeUnmappable, b.threshold) {
		b.logger.Error("device repeatedly unmappable", "device_id", desc.ID, "class", desc.Class, "count", count)
	} else {
		b.logger.Warn("device unmappable", "device_id", desc.ID, "class", desc.Class, "error", cause)
	}
	b.broadcast(ChannelDeviceUnmappable, UnmappableEvent{
		DeviceID: desc.ID,
		Class:    desc.Class,
		Reason:   cause.Error(),
		Count:    count,
	})
}

func (b *Bridge) broadcast(channel string, payload any) {
	if b.broadcaster != nil {
		b.broadcaster.Broadcast(channel, payload)
	}
}

func (b *Bridge) context() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ctx
}

// mappingInfo builds the registry record of an accessorized device.
func mappingInfo(md *mapping.MappedDevice, a *hap.Accessory) device.MappingInfo {
	desc := md.Descriptor()
	var services []string
	for _, s := range a.Services() {
		if s.Type == hap.ServiceAccessoryInformation {
			continue
		}
		services = append(services, s.Type.String())
	}
	return device.MappingInfo{
		DeviceID:     desc.ID,
		PrimaryRule:  md.PrimaryRule(),
		Rules:        md.RuleIDs(),
		Category:     md.Category().String(),
		Services:     services,
		Percentage:   md.Selection().Primary.Percentage,
		Class:        desc.Class,
		VirtualClass: desc.VirtualClass,
		Capabilities: desc.Capabilities,
		MappedAt:     md.MappedAt(),
	}
}

// stopDevice stops devices that own transport subscriptions.
func stopDevice(dev device.Device, id string, logger Logger) {
	stopper, ok := dev.(interface{ Stop() error })
	if !ok {
		return
	}
	if err := stopper.Stop(); err != nil {
		logger.Warn("failed to stop device", "device_id", id, "error", err)
	}
}
