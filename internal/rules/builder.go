package rules

import (
	"github.com/nerrad567/gray-logic-hap/internal/hap"
)

// Builder composes a RuleDescriptor step by step.
//
// Binding methods take templates such as OnOff() or Dim(); the capability
// name and kind are filled in by the builder. Registering the same
// capability and kind again replaces the earlier bindings.
type Builder struct {
	rule RuleDescriptor
}

// NewBuilder starts a rule for the given classes and service.
func NewBuilder(id string, match MatchSpec, service hap.ServiceType) *Builder {
	return &Builder{rule: RuleDescriptor{ID: id, Match: match.clone(), Service: service}}
}

// Category sets the accessory category the rule proposes.
func (b *Builder) Category(c hap.Category) *Builder {
	b.rule.Category = c
	return b
}

// Group enables one service per capability group.
func (b *Builder) Group(enabled bool) *Builder {
	b.rule.Group = enabled
	return b
}

// Threshold sets the required match percentage.
func (b *Builder) Threshold(percent float64) *Builder {
	b.rule.Threshold = percent
	return b
}

// FallbackEnabled marks the rule usable when no class matches.
func (b *Builder) FallbackEnabled(enabled bool) *Builder {
	b.rule.FallbackEnabled = enabled
	return b
}

// Fallback marks the rule as a last-resort rule for any class.
func (b *Builder) Fallback(enabled bool) *Builder {
	b.rule.IsFallback = enabled
	return b
}

// Required adds required bindings for capability.
func (b *Builder) Required(capability string, bindings ...CapabilityBinding) *Builder {
	return b.bind(KindRequired, capability, bindings)
}

// Optional adds optional bindings for capability.
func (b *Builder) Optional(capability string, bindings ...CapabilityBinding) *Builder {
	return b.bind(KindOptional, capability, bindings)
}

// Trigger adds trigger bindings for capability.
func (b *Builder) Trigger(capability string, bindings ...CapabilityBinding) *Builder {
	return b.bind(KindTrigger, capability, bindings)
}

// Forbid excludes the rule for devices exposing any of the capabilities.
func (b *Builder) Forbid(capabilities ...string) *Builder {
	b.rule.Forbidden = mergeUnique(b.rule.Forbidden, capabilities)
	return b
}

// OnService sets the hook run when the rule binds a service.
func (b *Builder) OnService(fn func(s *hap.Service, ctx ServiceContext)) *Builder {
	b.rule.OnService = fn
	return b
}

// OnUpdate sets the hook run on characteristic changes.
func (b *Builder) OnUpdate(fn func(UpdateEvent)) *Builder {
	b.rule.OnUpdate = fn
	return b
}

// Extend merges base into the rule being built.
//
// The rule keeps its own id, classes and service. Bindings of base replace
// bindings for the same capability and kind, forbidden capabilities are
// unioned, and category and hooks are taken from base only while unset.
func (b *Builder) Extend(base RuleDescriptor) *Builder {
	type key struct {
		kind       Kind
		capability string
	}
	grouped := make(map[key][]CapabilityBinding)
	var order []key
	for _, binding := range base.Bindings {
		k := key{binding.Kind, binding.Capability}
		if _, ok := grouped[k]; !ok {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], binding)
	}
	for _, k := range order {
		b.bind(k.kind, k.capability, grouped[k])
	}

	b.rule.Forbidden = mergeUnique(b.rule.Forbidden, base.Forbidden)
	if b.rule.Category == 0 {
		b.rule.Category = base.Category
	}
	if b.rule.OnService == nil {
		b.rule.OnService = base.OnService
	}
	if b.rule.OnUpdate == nil {
		b.rule.OnUpdate = base.OnUpdate
	}
	return b
}

// Build validates and returns the rule.
func (b *Builder) Build() (RuleDescriptor, error) {
	rule := b.rule.Clone()
	if err := rule.Validate(); err != nil {
		return RuleDescriptor{}, err
	}
	return rule, nil
}

func (b *Builder) bind(kind Kind, capability string, bindings []CapabilityBinding) *Builder {
	var kept []CapabilityBinding
	insertAt := -1
	for _, existing := range b.rule.Bindings {
		if existing.Kind == kind && existing.Capability == capability {
			if insertAt < 0 {
				insertAt = len(kept)
			}
			continue
		}
		kept = append(kept, existing)
	}

	added := make([]CapabilityBinding, 0, len(bindings))
	for _, binding := range bindings {
		binding = binding.clone()
		binding.Kind = kind
		binding.Capability = capability
		added = append(added, binding)
	}

	if insertAt < 0 {
		b.rule.Bindings = append(kept, added...)
		return b
	}
	out := make([]CapabilityBinding, 0, len(kept)+len(added))
	out = append(out, kept[:insertAt]...)
	out = append(out, added...)
	out = append(out, kept[insertAt:]...)
	b.rule.Bindings = out
	return b
}

func mergeUnique(dst, src []string) []string {
	seen := make(map[string]struct{}, len(dst)+len(src))
	out := make([]string, 0, len(dst)+len(src))
	for _, list := range [][]string{dst, src} {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
