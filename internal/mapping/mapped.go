package mapping

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/nerrad567/gray-logic-hap/internal/capability"
	"github.com/nerrad567/gray-logic-hap/internal/device"
	"github.com/nerrad567/gray-logic-hap/internal/hap"
	"github.com/nerrad567/gray-logic-hap/internal/rules"
	"github.com/nerrad567/gray-logic-hap/internal/sched"
	"github.com/nerrad567/gray-logic-hap/internal/state"
)

// unknownZone is used in the accessory model when the device has no zone.
const unknownZone = "unknown zone"

// MappedDevice ties one source device to its selected rules and, once
// Accessorize is called, to its synthesized accessory.
type MappedDevice struct {
	dev         device.Device
	desc        device.Descriptor
	name        string
	selection   Selection
	category    hap.Category
	observer    *capability.Observer
	state       *state.Manager
	sched       sched.Scheduler
	logger      Logger
	onChange    func(*MappedDevice, hap.Change)
	mappedAt    time.Time
	rulesOrder  []rules.RuleDescriptor
	percentages map[string]float64

	mu         sync.Mutex
	accessory  *hap.Accessory
	listeners  []observation
	debouncers []*sched.Debouncer[writeRequest]
	closed     bool
}

type observation struct {
	capability string
	id         capability.ListenerID
}

type deviceConfig struct {
	observer capability.Options
	state    state.Options
	onChange func(*MappedDevice, hap.Change)
	logger   Logger
}

func newMappedDevice(dev device.Device, desc device.Descriptor, sel Selection, cfg deviceConfig) *MappedDevice {
	s := sched.OrReal(cfg.observer.Scheduler)
	md := &MappedDevice{
		dev:         dev,
		desc:        desc,
		name:        displayName(desc),
		selection:   sel,
		observer:    capability.New(dev, cfg.observer),
		state:       state.New(dev, cfg.state),
		sched:       s,
		logger:      cfg.logger,
		onChange:    cfg.onChange,
		mappedAt:    s.Now(),
		percentages: make(map[string]float64),
	}
	for _, c := range sel.Candidates() {
		md.rulesOrder = append(md.rulesOrder, c.Rule)
		md.percentages[c.Rule.ID] = c.Percentage
	}
	md.category = resolveCategory(md.rulesOrder)
	return md
}

func displayName(desc device.Descriptor) string {
	if strings.TrimSpace(desc.Name) != "" {
		return desc.Name
	}
	return upperFirst(desc.Class) + " Device"
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// resolveCategory takes the primary's category; a secondary may fill it in
// while it is still Other.
func resolveCategory(selected []rules.RuleDescriptor) hap.Category {
	category := hap.CategoryOther
	for i, r := range selected {
		if r.Category == 0 {
			continue
		}
		if i == 0 || category == hap.CategoryOther {
			category = r.Category
		}
	}
	return category
}

// ID returns the source device id.
func (md *MappedDevice) ID() string { return md.desc.ID }

// Name returns the accessory display name.
func (md *MappedDevice) Name() string { return md.name }

// Category returns the resolved accessory category.
func (md *MappedDevice) Category() hap.Category { return md.category }

// Device returns the source device.
func (md *MappedDevice) Device() device.Device { return md.dev }

// Descriptor returns the descriptor the device was mapped with.
func (md *MappedDevice) Descriptor() device.Descriptor { return md.desc.DeepCopy() }

// PrimaryRule returns the id of the primary rule.
func (md *MappedDevice) PrimaryRule() string { return md.selection.Primary.Rule.ID }

// RuleIDs returns the selected rule ids, primary first.
func (md *MappedDevice) RuleIDs() []string {
	out := make([]string, len(md.rulesOrder))
	for i, r := range md.rulesOrder {
		out[i] = r.ID
	}
	return out
}

// Selection returns the matching outcome the device was mapped with.
func (md *MappedDevice) Selection() Selection { return md.selection }

// MappedAt returns the time the device was mapped.
func (md *MappedDevice) MappedAt() time.Time { return md.mappedAt }

// Observer returns the capability observer of the device.
func (md *MappedDevice) Observer() *capability.Observer { return md.observer }

// State returns the state manager of the device.
func (md *MappedDevice) State() *state.Manager { return md.state }

// Accessory returns the synthesized accessory, or nil before Accessorize.
func (md *MappedDevice) Accessory() *hap.Accessory {
	md.mu.Lock()
	defer md.mu.Unlock()
	return md.accessory
}

// Accessorize builds the accessory on first call and returns the same
// accessory afterwards.
//
// Returns:
//   - *hap.Accessory: the accessory with all rule services attached
//   - error: ErrDeviceClosed after the device was forgotten
func (md *MappedDevice) Accessorize() (*hap.Accessory, error) {
	md.mu.Lock()
	if md.closed {
		md.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDeviceClosed, md.desc.ID)
	}
	if md.accessory != nil {
		a := md.accessory
		md.mu.Unlock()
		return a, nil
	}

	a := hap.NewAccessory(md.desc.ID, md.name, md.category)
	md.fillInformation(a)

	var pending []pendingObservation
	for _, rule := range md.rulesOrder {
		pending = append(pending, md.applyRule(a, rule)...)
	}
	md.accessory = a
	md.mu.Unlock()

	// Change callbacks and the synchronous replay inside Observe run
	// without md.mu held.
	if md.onChange != nil {
		a.OnChange(func(ch hap.Change) { md.onChange(md, ch) })
	}
	ids := make([]observation, 0, len(pending))
	for _, p := range pending {
		ids = append(ids, observation{capability: p.capability, id: md.observer.Observe(p.capability, p.fn)})
	}

	md.mu.Lock()
	closed := md.closed
	if !closed {
		md.listeners = append(md.listeners, ids...)
	}
	md.mu.Unlock()
	if closed {
		for _, o := range ids {
			md.observer.Unobserve(o.capability, o.id)
		}
	}

	md.logger.Info("accessory created",
		"device_id", md.desc.ID, "name", md.name, "category", md.category.String(),
		"services", len(a.Services()), "rules", strings.Join(md.RuleIDs(), ","))
	return a, nil
}

func (md *MappedDevice) fillInformation(a *hap.Accessory) {
	info := a.Info()
	manufacturer := md.desc.DriverID
	if i := strings.LastIndex(manufacturer, ":"); i >= 0 {
		manufacturer = manufacturer[i+1:]
	}
	if manufacturer == "" {
		manufacturer = "unknown"
	}
	zone := md.desc.Zone
	if zone == "" {
		zone = unknownZone
	}
	info.SetCharacteristic(hap.CharManufacturer, manufacturer)
	info.SetCharacteristic(hap.CharModel, fmt.Sprintf("%s (%s)", md.name, zone))
	info.SetCharacteristic(hap.CharSerialNumber, md.desc.ID)
}

type pendingObservation struct {
	capability string
	fn         func(any)
}

// capabilityGroup is one group of UI capabilities sharing a ".group" suffix.
type capabilityGroup struct {
	name     string
	prefixes []string
}

// groupCapabilities splits raw UI capabilities by group in first-seen order.
func groupCapabilities(raw []string) []capabilityGroup {
	index := make(map[string]int)
	var groups []capabilityGroup
	for _, c := range raw {
		base, group := device.SplitCapability(c)
		i, ok := index[group]
		if !ok {
			i = len(groups)
			index[group] = i
			groups = append(groups, capabilityGroup{name: group})
		}
		groups[i].prefixes = append(groups[i].prefixes, base)
	}
	return groups
}

// flattenGroups orders groups by name length and keeps each capability
// only in the first group that has it.
func flattenGroups(groups []capabilityGroup) []capabilityGroup {
	sorted := append([]capabilityGroup(nil), groups...)
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i].name) < len(sorted[j].name) })

	seen := make(map[string]struct{})
	out := make([]capabilityGroup, 0, len(sorted))
	for _, g := range sorted {
		kept := capabilityGroup{name: g.name}
		for _, p := range g.prefixes {
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			kept.prefixes = append(kept.prefixes, p)
		}
		out = append(out, kept)
	}
	return out
}

func capabilityName(prefix, group string) string {
	if group == "" {
		return prefix
	}
	return prefix + "." + group
}

func (md *MappedDevice) applyRule(a *hap.Accessory, rule rules.RuleDescriptor) []pendingObservation {
	groups := groupCapabilities(md.desc.UICapabilities())
	if !rule.Group {
		groups = flattenGroups(groups)
	}

	var pending []pendingObservation
	for _, g := range groups {
		var service *hap.Service
		for _, prefix := range g.prefixes {
			bindings := rule.Resolve(prefix)
			if len(bindings) == 0 {
				continue
			}
			if service == nil {
				service = md.resolveService(a, rule, g.name)
				if service == nil {
					break
				}
			}
			capName := capabilityName(prefix, g.name)
			for _, b := range bindings {
				pending = append(pending, md.bind(rule, service, capName, b)...)
			}
		}
	}
	return pending
}

func (md *MappedDevice) resolveService(a *hap.Accessory, rule rules.RuleDescriptor, group string) *hap.Service {
	service := a.Service(rule.Service)
	if service == nil || rule.Group {
		subtype := group
		if subtype == "" {
			subtype = "default"
		}
		created, err := hap.NewService(rule.Service, md.name, subtype)
		if err != nil {
			md.logger.Error("creating service", "device_id", md.desc.ID, "rule", rule.ID, "error", err)
			return nil
		}
		service = a.AddService(created)
	}
	md.runOnService(rule, service, group)
	return service
}

func (md *MappedDevice) runOnService(rule rules.RuleDescriptor, service *hap.Service, group string) {
	if rule.OnService == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			md.logger.Error("service hook panicked", "device_id", md.desc.ID, "rule", rule.ID, "panic", fmt.Sprint(r))
		}
	}()
	rule.OnService(service, rules.ServiceContext{Device: md.dev, Name: md.name, Group: group})
}

func (md *MappedDevice) converterContext(capName string, service *hap.Service, ct hap.CharacteristicType) rules.Context {
	return rules.Context{
		Device:         md.dev,
		Capability:     capName,
		Service:        service,
		Characteristic: ct,
		Scheduler:      md.sched,
	}
}

// bind wires one binding onto service and returns the capability
// observation its getter needs.
func (md *MappedDevice) bind(rule rules.RuleDescriptor, service *hap.Service, capName string, b rules.CapabilityBinding) []pendingObservation {
	acc := b.Accessors(md.desc.HasCapability(capName))

	type target struct {
		char *hap.Characteristic
		ct   hap.CharacteristicType
	}
	var targets []target
	for _, ct := range b.Characteristics {
		c := service.GetCharacteristic(ct)
		if c == nil {
			md.logger.Warn("characteristic not available", "device_id", md.desc.ID, "rule", rule.ID, "characteristic", ct.String())
			continue
		}
		targets = append(targets, target{char: c, ct: ct})

		if rule.OnUpdate != nil {
			onUpdate := rule.OnUpdate
			c.OnChange(func(ch hap.Change) {
				onUpdate(rules.UpdateEvent{
					Device: md.dev, Service: service, Capability: capName,
					Characteristic: ct, OldValue: ch.OldValue, NewValue: ch.NewValue,
				})
			})
		}

		if b.Kind == rules.KindTrigger {
			continue
		}
		if acc.Get != nil {
			c.OnGet(md.readHandler(capName, service, c, acc.Get))
		}
		if acc.Set != nil {
			c.OnSet(md.writeHandler(capName, service, c, acc.Set, b.Debounce))
		}
		md.logger.Debug("characteristic bound",
			"device_id", md.desc.ID, "rule", rule.ID, "capability", capName,
			"characteristic", ct.String(), "readable", acc.Get != nil, "writable", acc.Set != nil)
	}

	if b.Validator != nil {
		md.state.RegisterValidator(capName, b.Validator)
	}
	if acc.Get == nil || len(targets) == 0 {
		return nil
	}

	get := acc.Get
	apply := func(raw any) {
		for _, t := range targets {
			v, err := get(raw, md.converterContext(capName, service, t.ct))
			if err != nil {
				md.logger.Debug("getter rejected value", "device_id", md.desc.ID, "capability", capName, "error", err)
				continue
			}
			if rules.IsNoValue(v) {
				continue
			}
			validated, err := t.char.Validate(v)
			if err != nil {
				md.logger.Warn("device value out of range", "device_id", md.desc.ID, "capability", capName,
					"characteristic", t.ct.String(), "error", err)
				continue
			}
			t.char.UpdateValue(validated)
		}
		md.state.UpdateCache(capName, raw)
	}
	return []pendingObservation{{capability: capName, fn: apply}}
}

// readHandler serves controller reads from the device cache.
func (md *MappedDevice) readHandler(capName string, service *hap.Service, c *hap.Characteristic, get rules.Converter) hap.GetHandler {
	return func(context.Context) (any, error) {
		raw, ok := md.dev.CachedValue(capName)
		if !ok {
			return nil, fmt.Errorf("%w: %s %s", hap.ErrValueUnavailable, md.desc.ID, capName)
		}
		v, err := get(raw, md.converterContext(capName, service, c.Type))
		if err != nil {
			return nil, err
		}
		if rules.IsNoValue(v) {
			return c.Value(), nil
		}
		return c.Validate(v)
	}
}

type writeRequest struct {
	ctx   context.Context
	value any
	done  chan error
}

// writeHandler converts controller writes and pushes them to the device
// through the state manager, optionally debounced. Called with md.mu held.
func (md *MappedDevice) writeHandler(capName string, service *hap.Service, c *hap.Characteristic, set rules.Converter, policy sched.Policy) hap.SetHandler {
	write := func(ctx context.Context, value any) error {
		devValue, err := set(value, md.converterContext(capName, service, c.Type))
		if err != nil {
			return err
		}
		written, err := md.state.SetState(ctx, capName, devValue)
		if err != nil {
			if errors.Is(err, state.ErrValidation) {
				return err
			}
			md.logger.Warn("device write failed", "device_id", md.desc.ID, "capability", capName, "error", err)
		} else {
			devValue = written
		}
		md.dev.UpdateCachedValue(capName, devValue)
		return nil
	}

	if !policy.Enabled() {
		return write
	}

	// A leading-edge burst drops its later values, so they must not be
	// stored. A trailing burst is followed by the write of its last value.
	var dropped error
	if policy.LeadingEdge {
		dropped = hap.ErrWriteDropped
	}
	debouncer := sched.NewDebouncer(md.sched, policy,
		func(req writeRequest) { req.done <- write(req.ctx, req.value) },
		func(req writeRequest) { req.done <- dropped },
	)
	md.debouncers = append(md.debouncers, debouncer)

	return func(ctx context.Context, value any) error {
		req := writeRequest{ctx: ctx, value: value, done: make(chan error, 1)}
		debouncer.Call(req)
		select {
		case err := <-req.done:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close releases every observation and pending debounced write. The
// device cannot be accessorized afterwards.
func (md *MappedDevice) Close() {
	md.mu.Lock()
	if md.closed {
		md.mu.Unlock()
		return
	}
	md.closed = true
	listeners := md.listeners
	debouncers := md.debouncers
	md.listeners, md.debouncers = nil, nil
	md.mu.Unlock()

	for _, l := range listeners {
		md.observer.Unobserve(l.capability, l.id)
	}
	md.observer.CleanupAll()
	for _, d := range debouncers {
		d.Stop()
	}
	md.logger.Debug("mapped device closed", "device_id", md.desc.ID)
}
