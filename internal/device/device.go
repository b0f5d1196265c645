package device

import (
	"context"
	"fmt"
	"strings"
)

// Device is a source device as seen by the mapping core.
type Device interface {
	// Descriptor returns the static description of the device.
	Descriptor() Descriptor

	// CachedValue returns the locally cached value of a capability.
	CachedValue(capability string) (any, bool)

	// UpdateCachedValue records a value in the local cache without writing
	// it to the device.
	UpdateCachedValue(capability string, value any)

	// ReadCapability performs a live read of a capability.
	ReadCapability(ctx context.Context, capability string) (any, error)

	// WriteCapability writes a value to the device.
	WriteCapability(ctx context.Context, capability string, value any) error

	// SubscribeCapability registers onChange for value changes of a capability.
	SubscribeCapability(capability string, onChange func(value any)) (Subscription, error)
}

// Subscription is an active capability change subscription.
type Subscription interface {
	Stop() error
}

// SubscriptionFunc adapts a function to Subscription.
type SubscriptionFunc func() error

// Stop calls f.
func (f SubscriptionFunc) Stop() error { return f() }

// UIComponent is a user-visible control declaring the capabilities it shows.
type UIComponent struct {
	ID           string   `json:"id" yaml:"id"`
	Capabilities []string `json:"capabilities" yaml:"capabilities"`
}

// Descriptor is the static description of a source device.
type Descriptor struct {
	ID           string         `json:"id" yaml:"id"`
	Name         string         `json:"name,omitempty" yaml:"name"`
	Class        string         `json:"class" yaml:"class"`
	VirtualClass string         `json:"virtual_class,omitempty" yaml:"virtual_class"`
	DriverID     string         `json:"driver_id,omitempty" yaml:"driver_id"`
	Zone         string         `json:"zone,omitempty" yaml:"zone"`
	Capabilities []string       `json:"capabilities" yaml:"capabilities"`
	UI           []UIComponent  `json:"ui,omitempty" yaml:"ui"`
	Values       map[string]any `json:"values,omitempty" yaml:"values"`
}

// Validate checks the descriptor has the fields the mapping core needs.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDescriptor)
	}
	if strings.TrimSpace(d.Class) == "" {
		return fmt.Errorf("%w: class is required for %s", ErrInvalidDescriptor, d.ID)
	}
	return nil
}

// HasCapability reports whether the device declares the literal capability name.
func (d Descriptor) HasCapability(capability string) bool {
	for _, c := range d.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// UICapabilities returns the raw capability names referenced by UI
// components, in declaration order, without duplicates.
func (d Descriptor) UICapabilities() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, component := range d.UI {
		for _, c := range component.Capabilities {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// NormalizedUICapabilities returns the UI capabilities with group suffixes
// stripped and duplicates removed.
func (d Descriptor) NormalizedUICapabilities() []string {
	return NormalizeCapabilities(d.UICapabilities())
}

// DeepCopy returns a copy that shares no slices or maps with d.
func (d Descriptor) DeepCopy() Descriptor {
	out := d
	out.Capabilities = append([]string(nil), d.Capabilities...)
	if d.UI != nil {
		out.UI = make([]UIComponent, len(d.UI))
		for i, c := range d.UI {
			out.UI[i] = UIComponent{ID: c.ID, Capabilities: append([]string(nil), c.Capabilities...)}
		}
	}
	if d.Values != nil {
		out.Values = make(map[string]any, len(d.Values))
		for k, v := range d.Values {
			out.Values[k] = v
		}
	}
	return out
}

// NormalizeCapability strips a trailing group suffix:
// "measure_temperature.zone1" becomes "measure_temperature".
func NormalizeCapability(capability string) string {
	base, _, _ := strings.Cut(capability, ".")
	return base
}

// SplitCapability separates a capability into its base name and group.
// The group is empty for ungrouped capabilities.
func SplitCapability(capability string) (base, group string) {
	base, rest, _ := strings.Cut(capability, ".")
	group, _, _ = strings.Cut(rest, ".")
	return base, group
}

// NormalizeCapabilities normalizes and deduplicates, preserving first-seen order.
func NormalizeCapabilities(capabilities []string) []string {
	seen := make(map[string]struct{}, len(capabilities))
	out := make([]string, 0, len(capabilities))
	for _, c := range capabilities {
		n := NormalizeCapability(c)
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
