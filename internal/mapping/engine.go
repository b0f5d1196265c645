package mapping

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-hap/internal/capability"
	"github.com/nerrad567/gray-logic-hap/internal/device"
	"github.com/nerrad567/gray-logic-hap/internal/hap"
	"github.com/nerrad567/gray-logic-hap/internal/rules"
	"github.com/nerrad567/gray-logic-hap/internal/sched"
	"github.com/nerrad567/gray-logic-hap/internal/state"
)

// Logger is the logging surface used by the engine.
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

// RuleSource supplies the rules to match against. *rules.Registry satisfies it.
type RuleSource interface {
	Rules() []rules.RuleDescriptor
}

// Options configures an Engine.
type Options struct {
	// Rules is required.
	Rules RuleSource

	// Scheduler drives retries, debouncing and momentary resets. Nil uses
	// the real clock.
	Scheduler sched.Scheduler

	// ObserverRetry bounds capability subscription retries.
	ObserverRetry capability.RetryPolicy

	// MaxErrors and RetryDelay configure each device's state manager.
	MaxErrors  int
	RetryDelay time.Duration

	// Incompatibilities and VariantMarker tune secondary rule selection.
	// See MatcherOptions.
	Incompatibilities []Incompatibility
	VariantMarker     string

	// OnChange is called for every characteristic change of every
	// accessorized device.
	OnChange func(md *MappedDevice, change hap.Change)

	Logger Logger
}

// Engine maps devices to accessories and owns the mapped devices.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Mapping is serialized;
//     accessory reads and writes are not.
type Engine struct {
	rules   RuleSource
	matcher *Matcher
	opts    Options
	logger  Logger

	mu         sync.Mutex
	devices    map[string]*MappedDevice
	unmappable map[string]error
}

// New creates an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Rules == nil {
		return nil, errors.New("mapping: rule source is required")
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	opts.Scheduler = sched.OrReal(opts.Scheduler)
	return &Engine{
		rules: opts.Rules,
		matcher: NewMatcher(MatcherOptions{
			Incompatibilities: opts.Incompatibilities,
			VariantMarker:     opts.VariantMarker,
			Logger:            opts.Logger,
		}),
		opts:       opts,
		logger:     opts.Logger,
		devices:    make(map[string]*MappedDevice),
		unmappable: make(map[string]error),
	}, nil
}

// MapDevice selects rules for dev and registers the result. Mapping the
// same device id again returns the existing MappedDevice, and a device
// found unmappable keeps failing without rescanning until ForgetDevice.
//
// Returns:
//   - *MappedDevice: the mapping (not yet accessorized)
//   - error: an invalid descriptor error, or ErrUnmappableDevice
func (e *Engine) MapDevice(dev device.Device) (*MappedDevice, error) {
	desc := dev.Descriptor()
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if md, ok := e.devices[desc.ID]; ok {
		return md, nil
	}
	if err, ok := e.unmappable[desc.ID]; ok {
		return nil, err
	}

	sel, err := e.matcher.Select(desc, e.rules.Rules())
	if err != nil {
		e.unmappable[desc.ID] = err
		return nil, err
	}

	md := newMappedDevice(dev, desc, sel, deviceConfig{
		observer: capability.Options{
			Scheduler: e.opts.Scheduler,
			Retry:     e.opts.ObserverRetry,
			Logger:    e.logger,
		},
		state: state.Options{
			MaxErrors:  e.opts.MaxErrors,
			RetryDelay: e.opts.RetryDelay,
			Scheduler:  e.opts.Scheduler,
			Logger:     e.logger,
		},
		onChange: e.opts.OnChange,
		logger:   e.logger,
	})
	e.devices[desc.ID] = md
	e.logger.Info("device mapped",
		"device_id", desc.ID, "class", desc.Class, "rules", strings.Join(md.RuleIDs(), ","),
		"category", md.Category().String())
	return md, nil
}

// CanMapDevice reports whether dev would map, without registering it.
func (e *Engine) CanMapDevice(dev device.Device) bool {
	desc := dev.Descriptor()
	if desc.Validate() != nil {
		return false
	}

	e.mu.Lock()
	if _, ok := e.devices[desc.ID]; ok {
		e.mu.Unlock()
		return true
	}
	if _, ok := e.unmappable[desc.ID]; ok {
		e.mu.Unlock()
		return false
	}
	e.mu.Unlock()

	_, err := e.matcher.Select(desc, e.rules.Rules())
	return err == nil
}

// Device returns the mapping for a device id.
func (e *Engine) Device(id string) (*MappedDevice, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if md, ok := e.devices[id]; ok {
		return md, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrDeviceNotMapped, id)
}

// Devices returns every mapped device ordered by id.
func (e *Engine) Devices() []*MappedDevice {
	e.mu.Lock()
	out := make([]*MappedDevice, 0, len(e.devices))
	for _, md := range e.devices {
		out = append(out, md)
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Unmappable returns the ids cached as unmappable, ordered.
func (e *Engine) Unmappable() []string {
	e.mu.Lock()
	out := make([]string, 0, len(e.unmappable))
	for id := range e.unmappable {
		out = append(out, id)
	}
	e.mu.Unlock()

	sort.Strings(out)
	return out
}

// ForgetDevice closes and removes the mapping for id and clears any
// unmappable verdict, so the next MapDevice starts from scratch.
// It reports whether anything was forgotten.
func (e *Engine) ForgetDevice(id string) bool {
	e.mu.Lock()
	md, mapped := e.devices[id]
	_, failed := e.unmappable[id]
	delete(e.devices, id)
	delete(e.unmappable, id)
	e.mu.Unlock()

	if mapped {
		md.Close()
		e.logger.Info("device forgotten", "device_id", id)
	}
	return mapped || failed
}

// Close forgets every device.
func (e *Engine) Close() {
	e.mu.Lock()
	devices := e.devices
	e.devices = make(map[string]*MappedDevice)
	e.unmappable = make(map[string]error)
	e.mu.Unlock()

	for _, md := range devices {
		md.Close()
	}
}
