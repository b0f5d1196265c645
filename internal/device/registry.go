package device

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"
)

// DefaultErrorThreshold is the error count at which HasTooManyErrors
// reports true when no threshold is given.
const DefaultErrorThreshold = 5

// Logger defines the logging interface used by the device package.
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

// Snapshot is the registry's record of an announced device.
type Snapshot struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Class        string    `json:"class"`
	VirtualClass string    `json:"virtual_class,omitempty"`
	Zone         string    `json:"zone,omitempty"`
	Capabilities []string  `json:"capabilities"`
	LastUpdated  time.Time `json:"last_updated"`
}

// NewSnapshot builds a snapshot from a descriptor.
func NewSnapshot(desc Descriptor, at time.Time) Snapshot {
	return Snapshot{
		ID:           desc.ID,
		Name:         desc.Name,
		Class:        desc.Class,
		VirtualClass: desc.VirtualClass,
		Zone:         desc.Zone,
		Capabilities: slices.Clone(desc.Capabilities),
		LastUpdated:  at,
	}
}

// MappingInfo records the result of mapping a device, together with the
// descriptor fields the mapping was computed from.
type MappingInfo struct {
	DeviceID     string    `json:"device_id"`
	PrimaryRule  string    `json:"primary_rule"`
	Rules        []string  `json:"rules"`
	Category     string    `json:"category"`
	Services     []string  `json:"services"`
	Percentage   float64   `json:"percentage"`
	Class        string    `json:"class"`
	VirtualClass string    `json:"virtual_class,omitempty"`
	Capabilities []string  `json:"capabilities"`
	MappedAt     time.Time `json:"mapped_at"`
}

func (m MappingInfo) clone() MappingInfo {
	m.Rules = slices.Clone(m.Rules)
	m.Services = slices.Clone(m.Services)
	m.Capabilities = slices.Clone(m.Capabilities)
	return m
}

// Registry tracks announced devices, their last mapping and per-device
// error counters. It keeps everything in memory and writes through to a
// Repository when one is configured.
//
// All public methods are thread-safe.
type Registry struct {
	repo   Repository
	logger Logger
	now    func() time.Time

	mu        sync.RWMutex
	snapshots map[string]Snapshot
	mappings  map[string]MappingInfo
	errors    map[string]map[string]int // device id → error type → count
}

// NewRegistry creates a device registry. repo may be nil for a purely
// in-memory registry.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:      repo,
		logger:    noopLogger{},
		now:       time.Now,
		snapshots: make(map[string]Snapshot),
		mappings:  make(map[string]MappingInfo),
		errors:    make(map[string]map[string]int),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// RefreshCache reloads snapshots, mappings and error counters from the
// repository. It should be called on startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	if r.repo == nil {
		return nil
	}

	snapshots, err := r.repo.ListSnapshots(ctx)
	if err != nil {
		return fmt.Errorf("loading snapshots: %w", err)
	}
	mappings, err := r.repo.ListMappings(ctx)
	if err != nil {
		return fmt.Errorf("loading mappings: %w", err)
	}
	counters, err := r.repo.ListErrors(ctx)
	if err != nil {
		return fmt.Errorf("loading error counters: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.snapshots = make(map[string]Snapshot, len(snapshots))
	for _, s := range snapshots {
		r.snapshots[s.ID] = s
	}
	r.mappings = make(map[string]MappingInfo, len(mappings))
	for _, m := range mappings {
		r.mappings[m.DeviceID] = m
	}
	r.errors = make(map[string]map[string]int, len(counters))
	for id, byType := range counters {
		r.errors[id] = maps.Clone(byType)
	}

	r.logger.Info("device registry loaded",
		"snapshots", len(snapshots), "mappings", len(mappings), "error_devices", len(counters))
	return nil
}

// RegisterDevice records a snapshot of desc.
func (r *Registry) RegisterDevice(ctx context.Context, desc Descriptor) (Snapshot, error) {
	if err := desc.Validate(); err != nil {
		return Snapshot{}, err
	}
	s := NewSnapshot(desc, r.now())

	r.mu.Lock()
	r.snapshots[s.ID] = s
	r.mu.Unlock()

	if r.repo != nil {
		if err := r.repo.SaveSnapshot(ctx, s); err != nil {
			return s, fmt.Errorf("saving snapshot %s: %w", s.ID, err)
		}
	}
	return s, nil
}

// RemoveDevice drops the snapshot, mapping and error counters of a device.
// Returns ErrDeviceNotFound if the device was never registered.
func (r *Registry) RemoveDevice(ctx context.Context, id string) error {
	r.mu.Lock()
	if _, ok := r.snapshots[id]; !ok {
		r.mu.Unlock()
		return ErrDeviceNotFound
	}
	delete(r.snapshots, id)
	delete(r.mappings, id)
	r.dropErrorsLocked(id, "")
	r.mu.Unlock()

	if r.repo == nil {
		return nil
	}
	if err := r.repo.DeleteSnapshot(ctx, id); err != nil {
		return fmt.Errorf("deleting snapshot %s: %w", id, err)
	}
	if err := r.repo.DeleteMapping(ctx, id); err != nil {
		return fmt.Errorf("deleting mapping %s: %w", id, err)
	}
	if err := r.repo.SaveErrors(ctx, id, nil); err != nil {
		return fmt.Errorf("deleting error counters %s: %w", id, err)
	}
	return nil
}

// Snapshot returns the snapshot of a device.
func (r *Registry) Snapshot(id string) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.snapshots[id]
	s.Capabilities = slices.Clone(s.Capabilities)
	return s, ok
}

// Snapshots returns all snapshots ordered by device id.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	out := make([]Snapshot, 0, len(r.snapshots))
	for _, s := range r.snapshots {
		s.Capabilities = slices.Clone(s.Capabilities)
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.snapshots)
}

// SetMapping stores the mapping result of a device. A zero MappedAt is
// set to the current time.
func (r *Registry) SetMapping(ctx context.Context, info MappingInfo) error {
	if info.MappedAt.IsZero() {
		info.MappedAt = r.now()
	}
	info = info.clone()

	r.mu.Lock()
	r.mappings[info.DeviceID] = info
	r.mu.Unlock()

	if r.repo != nil {
		if err := r.repo.SaveMapping(ctx, info); err != nil {
			return fmt.Errorf("saving mapping %s: %w", info.DeviceID, err)
		}
	}
	return nil
}

// Mapping returns the stored mapping of a device.
func (r *Registry) Mapping(id string) (MappingInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.mappings[id]
	return m.clone(), ok
}

// ClearMapping forgets the stored mapping of a device.
func (r *Registry) ClearMapping(ctx context.Context, id string) error {
	r.mu.Lock()
	delete(r.mappings, id)
	r.mu.Unlock()

	if r.repo != nil {
		if err := r.repo.DeleteMapping(ctx, id); err != nil {
			return fmt.Errorf("deleting mapping %s: %w", id, err)
		}
	}
	return nil
}

// ShouldRefreshMapping reports whether desc needs to be (re)mapped: no
// mapping is stored, or the class, virtual class or capability set differs
// from the one the stored mapping was computed from.
func (r *Registry) ShouldRefreshMapping(desc Descriptor) bool {
	r.mu.RLock()
	m, ok := r.mappings[desc.ID]
	r.mu.RUnlock()

	switch {
	case !ok:
		return true
	case m.Class != desc.Class, m.VirtualClass != desc.VirtualClass:
		return true
	default:
		return !sameSet(m.Capabilities, desc.Capabilities)
	}
}

// RecordError increments the counter for (id, errType) and returns the
// new count. The in-memory count is updated even if persisting fails.
func (r *Registry) RecordError(ctx context.Context, id, errType string) (int, error) {
	r.mu.Lock()
	if r.errors[id] == nil {
		r.errors[id] = make(map[string]int)
	}
	r.errors[id][errType]++
	count := r.errors[id][errType]
	counters := maps.Clone(r.errors[id])
	r.mu.Unlock()

	r.logger.Debug("device error recorded", "device_id", id, "type", errType, "count", count)
	return count, r.persistErrors(ctx, id, counters)
}

// ResetErrors clears one error type of a device, or all types when errType is empty.
func (r *Registry) ResetErrors(ctx context.Context, id, errType string) error {
	r.mu.Lock()
	r.dropErrorsLocked(id, errType)
	counters := maps.Clone(r.errors[id])
	r.mu.Unlock()

	return r.persistErrors(ctx, id, counters)
}

// ErrorCount returns the counter for (id, errType).
func (r *Registry) ErrorCount(id, errType string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.errors[id][errType]
}

// Errors returns all counters of a device keyed by error type.
func (r *Registry) Errors(id string) map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := maps.Clone(r.errors[id])
	if out == nil {
		out = make(map[string]int)
	}
	return out
}

// HasTooManyErrors reports whether (id, errType) reached threshold.
// A threshold <= 0 uses DefaultErrorThreshold.
func (r *Registry) HasTooManyErrors(id, errType string, threshold int) bool {
	if threshold <= 0 {
		threshold = DefaultErrorThreshold
	}
	return r.ErrorCount(id, errType) >= threshold
}

func (r *Registry) persistErrors(ctx context.Context, id string, counters map[string]int) error {
	if r.repo == nil {
		return nil
	}
	if err := r.repo.SaveErrors(ctx, id, counters); err != nil {
		return fmt.Errorf("saving error counters %s: %w", id, err)
	}
	return nil
}

// dropErrorsLocked must be called with r.mu held.
func (r *Registry) dropErrorsLocked(id, errType string) {
	if errType == "" {
		delete(r.errors, id)
		return
	}
	delete(r.errors[id], errType)
	if len(r.errors[id]) == 0 {
		delete(r.errors, id)
	}
}

func sameSet(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	other := make(map[string]struct{}, len(b))
	for _, v := range b {
		if _, ok := set[v]; !ok {
			return false
		}
		other[v] = struct{}{}
	}
	return len(set) == len(other)
}
