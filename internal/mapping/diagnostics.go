package mapping

import (
	"sort"
	"time"

	"github.com/nerrad567/gray-logic-hap/internal/capability"
	"github.com/nerrad567/gray-logic-hap/internal/hap"
)

// CapabilityDiagnostics merges observer and state manager health for one
// capability.
type CapabilityDiagnostics struct {
	Capability    string           `json:"capability"`
	ErrorCount    int              `json:"error_count"`
	LastError     string           `json:"last_error,omitempty"`
	Degraded      bool             `json:"degraded"`
	ObserverState capability.State `json:"observer_state"`
	RetryAttempts int              `json:"retry_attempts"`
	Listeners     int              `json:"listeners"`
	HasValue      bool             `json:"has_value"`
	PendingWrites int              `json:"pending_writes"`
}

// DeviceDiagnostics summarizes one mapped device.
type DeviceDiagnostics struct {
	DeviceID     string                  `json:"device_id"`
	Name         string                  `json:"name"`
	Class        string                  `json:"class"`
	PrimaryRule  string                  `json:"primary_rule"`
	Rules        []string                `json:"rules"`
	Percentages  map[string]float64      `json:"percentages"`
	Skipped      []Skip                  `json:"skipped,omitempty"`
	Category     string                  `json:"category"`
	Accessorized bool                    `json:"accessorized"`
	Services     int                     `json:"services"`
	Capabilities []CapabilityDiagnostics `json:"capabilities"`
	MappedAt     time.Time               `json:"mapped_at"`
}

// Diagnostics returns the health of every observed or managed capability.
func (md *MappedDevice) Diagnostics() DeviceDiagnostics {
	d := DeviceDiagnostics{
		DeviceID:    md.desc.ID,
		Name:        md.name,
		Class:       md.desc.Class,
		PrimaryRule: md.PrimaryRule(),
		Rules:       md.RuleIDs(),
		Percentages: make(map[string]float64, len(md.percentages)),
		Skipped:     append([]Skip(nil), md.selection.Skipped...),
		Category:    md.category.String(),
		MappedAt:    md.mappedAt,
	}
	for id, p := range md.percentages {
		d.Percentages[id] = p
	}
	if a := md.Accessory(); a != nil {
		d.Accessorized = true
		d.Services = len(a.Services())
	}

	byName := make(map[string]*CapabilityDiagnostics)
	get := func(name string) *CapabilityDiagnostics {
		c, ok := byName[name]
		if !ok {
			c = &CapabilityDiagnostics{Capability: name}
			byName[name] = c
		}
		return c
	}
	for _, st := range md.observer.Statuses() {
		c := get(st.Capability)
		c.ObserverState = st.State
		c.RetryAttempts = st.Attempts
		c.Listeners = st.Listeners
		c.HasValue = st.HasValue
		c.Degraded = c.Degraded || st.Degraded()
	}
	for _, name := range md.state.ManagedCapabilities() {
		es := md.state.ErrorStatus(name)
		c := get(name)
		c.ErrorCount = es.ErrorCount
		c.LastError = es.LastError
		c.PendingWrites = es.Pending
		c.Degraded = c.Degraded || es.Degraded
	}

	d.Capabilities = make([]CapabilityDiagnostics, 0, len(byName))
	for _, c := range byName {
		d.Capabilities = append(d.Capabilities, *c)
	}
	sort.Slice(d.Capabilities, func(i, j int) bool { return d.Capabilities[i].Capability < d.Capabilities[j].Capability })
	return d
}

// Degraded reports whether any capability of the device is degraded.
func (d DeviceDiagnostics) Degraded() bool {
	for _, c := range d.Capabilities {
		if c.Degraded {
			return true
		}
	}
	return false
}

// EngineDiagnostics summarizes the engine.
type EngineDiagnostics struct {
	Mapped       int                 `json:"mapped"`
	Accessorized int                 `json:"accessorized"`
	Degraded     int                 `json:"degraded"`
	Unmappable   []string            `json:"unmappable"`
	Devices      []DeviceDiagnostics `json:"devices"`
}

// Diagnostics returns per-device diagnostics and engine-wide counts.
func (e *Engine) Diagnostics() EngineDiagnostics {
	devices := e.Devices()
	out := EngineDiagnostics{
		Mapped:     len(devices),
		Unmappable: e.Unmappable(),
		Devices:    make([]DeviceDiagnostics, 0, len(devices)),
	}
	for _, md := range devices {
		d := md.Diagnostics()
		if d.Accessorized {
			out.Accessorized++
		}
		if d.Degraded() {
			out.Degraded++
		}
		out.Devices = append(out.Devices, d)
	}
	return out
}

// Accessories returns the accessories of every accessorized device, ordered
// by device id.
func (e *Engine) Accessories() []*hap.Accessory {
	var out []*hap.Accessory
	for _, md := range e.Devices() {
		if a := md.Accessory(); a != nil {
			out = append(out, a)
		}
	}
	return out
}
