package rules

import (
	"fmt"
	"strings"

	"github.com/nerrad567/gray-logic-hap/internal/device"
	"github.com/nerrad567/gray-logic-hap/internal/hap"
	"github.com/nerrad567/gray-logic-hap/internal/sched"
)

// Match thresholds in percent of required capabilities present.
const (
	DefaultThreshold  = 40.0
	FallbackThreshold = 25.0
)

// Wildcard is the class name that matches every device class.
const Wildcard = "*"

// Kind tags the role of a capability binding within a rule.
type Kind int

const (
	// KindRequired bindings count towards the match percentage.
	KindRequired Kind = iota
	// KindOptional bindings are wired when present but never scored.
	KindOptional
	// KindTrigger bindings create characteristics without read or write handlers.
	KindTrigger
)

// String returns the lower-case kind name.
func (k Kind) String() string {
	switch k {
	case KindRequired:
		return "required"
	case KindOptional:
		return "optional"
	case KindTrigger:
		return "trigger"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind parses a kind name. An empty name is KindOptional.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "required":
		return KindRequired, nil
	case "", "optional":
		return KindOptional, nil
	case "trigger", "triggers":
		return KindTrigger, nil
	}
	return 0, fmt.Errorf("%w: unknown binding kind %q", ErrInvalidRule, name)
}

// MatchSpec selects the device classes a rule applies to.
type MatchSpec struct {
	Classes  []string
	Wildcard bool
}

// MatchClasses builds a MatchSpec from class names; "*" sets Wildcard.
func MatchClasses(classes ...string) MatchSpec {
	var spec MatchSpec
	for _, c := range classes {
		if c == Wildcard {
			spec.Wildcard = true
			continue
		}
		spec.Classes = append(spec.Classes, c)
	}
	return spec
}

// MatchAny matches every class.
func MatchAny() MatchSpec {
	return MatchSpec{Wildcard: true}
}

// Matches reports whether the spec accepts class, directly or by wildcard.
func (m MatchSpec) Matches(class string) bool {
	return m.Wildcard || m.Names(class)
}

// Names reports whether class is listed explicitly.
func (m MatchSpec) Names(class string) bool {
	if class == "" {
		return false
	}
	for _, c := range m.Classes {
		if c == class {
			return true
		}
	}
	return false
}

func (m MatchSpec) clone() MatchSpec {
	return MatchSpec{Classes: append([]string(nil), m.Classes...), Wildcard: m.Wildcard}
}

// Context is handed to converters.
type Context struct {
	Device         device.Device
	Capability     string
	Service        *hap.Service
	Characteristic hap.CharacteristicType
	Scheduler      sched.Scheduler
}

// Converter transforms a value between device and characteristic form.
type Converter func(value any, ctx Context) (any, error)

type noValue struct{}

func (noValue) String() string { return "<no value>" }

// NoValue is returned by a getter to leave a characteristic unchanged.
var NoValue any = noValue{}

// IsNoValue reports whether v is the NoValue sentinel.
func IsNoValue(v any) bool {
	_, ok := v.(noValue)
	return ok
}

// Accessors is a getter and setter pair. Either may be nil: a nil getter
// means the characteristic is not readable from the device, a nil setter
// means writes are not forwarded.
type Accessors struct {
	Get Converter
	Set Converter
}

// CapabilityBinding connects one capability to one or more characteristics.
type CapabilityBinding struct {
	Capability      string
	Kind            Kind
	Characteristics []hap.CharacteristicType

	// Primary is used when the device declares Capability literally,
	// Fallback (when set) otherwise.
	Primary  Accessors
	Fallback *Accessors

	// Debounce coalesces controller writes.
	Debounce sched.Policy

	// Validator, when set, is registered with the state manager for Capability.
	Validator func(value any) (any, error)
}

// Accessors returns the pair to use for a device that does or does not
// declare the capability. Without a Fallback an undeclared capability
// gets neither getter nor setter.
func (b CapabilityBinding) Accessors(declared bool) Accessors {
	if declared {
		return b.Primary
	}
	if b.Fallback != nil {
		return *b.Fallback
	}
	return Accessors{}
}

func (b CapabilityBinding) clone() CapabilityBinding {
	out := b
	out.Characteristics = append([]hap.CharacteristicType(nil), b.Characteristics...)
	if b.Fallback != nil {
		fb := *b.Fallback
		out.Fallback = &fb
	}
	return out
}

// ServiceContext is passed to OnService hooks.
type ServiceContext struct {
	Device device.Device

	// Name is the accessory display name of the device.
	Name  string
	Group string
}

// UpdateEvent is passed to OnUpdate hooks for every characteristic change.
type UpdateEvent struct {
	Device         device.Device
	Service        *hap.Service
	Capability     string
	Characteristic hap.CharacteristicType
	OldValue       any
	NewValue       any
}

// RuleDescriptor is a declarative mapping rule.
type RuleDescriptor struct {
	ID       string
	Match    MatchSpec
	Service  hap.ServiceType
	Category hap.Category // zero means unset

	Bindings  []CapabilityBinding
	Forbidden []string

	// Threshold is the minimum match percentage; zero uses DefaultThreshold.
	Threshold float64

	// FallbackEnabled lowers the threshold to FallbackThreshold and makes the
	// rule a candidate when no rule matches the device class.
	FallbackEnabled bool

	// IsFallback matches every device and sorts after non-fallback rules.
	IsFallback bool

	// Group creates one service per capability group instead of merging
	// groups into a single service.
	Group bool

	OnService func(s *hap.Service, ctx ServiceContext)
	OnUpdate  func(UpdateEvent)
}

// EffectiveThreshold returns the match percentage the rule must reach.
func (r RuleDescriptor) EffectiveThreshold() float64 {
	if r.FallbackEnabled {
		return FallbackThreshold
	}
	if r.Threshold > 0 {
		return r.Threshold
	}
	return DefaultThreshold
}

// Resolve returns the bindings for capability from the highest-priority
// table that has any: Required, then Optional, then Trigger.
func (r RuleDescriptor) Resolve(capability string) []CapabilityBinding {
	for _, kind := range []Kind{KindRequired, KindOptional, KindTrigger} {
		var out []CapabilityBinding
		for _, b := range r.Bindings {
			if b.Kind == kind && b.Capability == capability {
				out = append(out, b)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

// RequiredCapabilities returns the distinct required capability names in
// declaration order.
func (r RuleDescriptor) RequiredCapabilities() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, b := range r.Bindings {
		if b.Kind != KindRequired {
			continue
		}
		if _, ok := seen[b.Capability]; ok {
			continue
		}
		seen[b.Capability] = struct{}{}
		out = append(out, b.Capability)
	}
	return out
}

// Capabilities returns every bound capability name in declaration order.
func (r RuleDescriptor) Capabilities() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, b := range r.Bindings {
		if _, ok := seen[b.Capability]; ok {
			continue
		}
		seen[b.Capability] = struct{}{}
		out = append(out, b.Capability)
	}
	return out
}

// Validate checks the descriptor is usable by the matcher and synthesizer.
func (r RuleDescriptor) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidRule)
	}
	if !r.Match.Wildcard && len(r.Match.Classes) == 0 && !r.IsFallback && !r.FallbackEnabled {
		return fmt.Errorf("%w: %s: no device classes", ErrInvalidRule, r.ID)
	}
	if _, ok := hap.LookupService(r.Service); !ok {
		return fmt.Errorf("%w: %s: unknown service %q", ErrInvalidRule, r.ID, string(r.Service))
	}
	if r.Threshold < 0 || r.Threshold > 100 {
		return fmt.Errorf("%w: %s: threshold %g outside 0..100", ErrInvalidRule, r.ID, r.Threshold)
	}
	for _, b := range r.Bindings {
		if b.Capability == "" {
			return fmt.Errorf("%w: %s: binding without capability", ErrInvalidRule, r.ID)
		}
		if strings.Contains(b.Capability, ".") {
			return fmt.Errorf("%w: %s: binding %q must name a base capability", ErrInvalidRule, r.ID, b.Capability)
		}
		for _, ct := range b.Characteristics {
			if _, ok := hap.LookupCharacteristic(ct); !ok {
				return fmt.Errorf("%w: %s: %s: unknown characteristic %q", ErrInvalidRule, r.ID, b.Capability, string(ct))
			}
		}
	}
	return nil
}

// Clone returns a copy that shares no slices with r.
func (r RuleDescriptor) Clone() RuleDescriptor {
	out := r
	out.Match = r.Match.clone()
	out.Forbidden = append([]string(nil), r.Forbidden...)
	out.Bindings = make([]CapabilityBinding, len(r.Bindings))
	for i, b := range r.Bindings {
		out.Bindings[i] = b.clone()
	}
	return out
}
