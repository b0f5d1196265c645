package rules

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/gray-logic-hap/internal/hap"
	"github.com/nerrad567/gray-logic-hap/internal/sched"
)

// ruleFile is the top-level document of a rule file.
type ruleFile struct {
	Rules []ruleDoc `yaml:"rules"`
}

type ruleDoc struct {
	ID                string       `yaml:"id"`
	Class             stringList   `yaml:"class"`
	Service           string       `yaml:"service"`
	Category          string       `yaml:"category"`
	Threshold         float64      `yaml:"threshold"`
	FallbackEnabled   bool         `yaml:"fallback_enabled"`
	Fallback          bool         `yaml:"fallback"`
	Group             bool         `yaml:"group"`
	Forbidden         []string     `yaml:"forbidden"`
	Extends           string       `yaml:"extends"`
	ServiceNameSuffix string       `yaml:"service_name_suffix"`
	Bindings          []bindingDoc `yaml:"bindings"`
}

type bindingDoc struct {
	Capability      string        `yaml:"capability"`
	Kind            string        `yaml:"kind"`
	Preset          *converterDoc `yaml:"preset"`
	Characteristics []string      `yaml:"characteristics"`
	Get             *converterDoc `yaml:"get"`
	Set             *converterDoc `yaml:"set"`
	FallbackGet     *converterDoc `yaml:"fallback_get"`
	FallbackSet     *converterDoc `yaml:"fallback_set"`
	DebounceMS      int           `yaml:"debounce_ms"`
	LeadingEdge     bool          `yaml:"leading_edge"`
	Validate        *rangeDoc     `yaml:"validate"`
}

// converterDoc names a converter or preset. It accepts a bare name or a
// mapping with arguments:
//
//	get: percentage
//	get: {name: scale, args: [360]}
type converterDoc struct {
	Name string `yaml:"name"`
	Args []any  `yaml:"args"`
}

func (c *converterDoc) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		c.Name = node.Value
		return nil
	}
	type plain converterDoc
	return node.Decode((*plain)(c))
}

type rangeDoc struct {
	Min   float64 `yaml:"min"`
	Max   float64 `yaml:"max"`
	Clamp bool    `yaml:"clamp"`
}

// stringList accepts a single string or a sequence of strings.
type stringList []string

func (l *stringList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*l = stringList{node.Value}
		return nil
	}
	var list []string
	if err := node.Decode(&list); err != nil {
		return err
	}
	*l = list
	return nil
}

// LoadFile reads and parses a YAML rule file.
func LoadFile(path string) ([]RuleDescriptor, error) {
	data, err := os.ReadFile(path) //nolint:gosec // rule path comes from trusted config
	if err != nil {
		return nil, fmt.Errorf("reading rule file: %w", err)
	}
	rules, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing rule file %s: %w", path, err)
	}
	return rules, nil
}

// LoadInto loads a rule file into reg.
//
// Returns:
//   - int: number of rules registered
//   - error: parse errors, or the joined registration failures (rules that
//     registered successfully stay registered)
func LoadInto(reg *Registry, path string) (int, error) {
	loaded, err := LoadFile(path)
	if err != nil {
		return 0, err
	}
	before := reg.Len()
	err = reg.AddAll(loaded...)
	return reg.Len() - before, err
}

// Parse decodes rules from YAML. Unknown keys, services, characteristics,
// categories and converters are errors. A rule may extend a rule defined
// earlier in the same document.
func Parse(data []byte) ([]RuleDescriptor, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file ruleFile
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRule, err)
	}

	built := make(map[string]RuleDescriptor, len(file.Rules))
	out := make([]RuleDescriptor, 0, len(file.Rules))
	for i, doc := range file.Rules {
		rule, err := doc.build(built)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i+1, doc.ID, err)
		}
		if _, dup := built[rule.ID]; dup {
			return nil, fmt.Errorf("rule %d: %w: %s", i+1, ErrDuplicateRule, rule.ID)
		}
		built[rule.ID] = rule
		out = append(out, rule)
	}
	return out, nil
}

func (d ruleDoc) build(earlier map[string]RuleDescriptor) (RuleDescriptor, error) {
	service, err := hap.ParseServiceType(d.Service)
	if err != nil {
		return RuleDescriptor{}, fmt.Errorf("%w: service %q: %w", ErrInvalidRule, d.Service, err)
	}

	b := NewBuilder(d.ID, MatchClasses(d.Class...), service).
		Threshold(d.Threshold).
		FallbackEnabled(d.FallbackEnabled).
		Fallback(d.Fallback).
		Group(d.Group).
		Forbid(d.Forbidden...)

	if d.Category != "" {
		category, ok := hap.ParseCategory(d.Category)
		if !ok {
			return RuleDescriptor{}, fmt.Errorf("%w: unknown category %q", ErrInvalidRule, d.Category)
		}
		b.Category(category)
	}

	if d.ServiceNameSuffix != "" {
		suffix := d.ServiceNameSuffix
		b.OnService(func(s *hap.Service, ctx ServiceContext) {
			name := ctx.Name + " " + suffix
			s.Name = name
			s.SetCharacteristic(hap.CharName, name)
		})
	}

	type entry struct {
		kind     Kind
		bindings []CapabilityBinding
	}
	grouped := make(map[string]*entry)
	var order []string
	for _, bd := range d.Bindings {
		kind, err := ParseKind(bd.Kind)
		if err != nil {
			return RuleDescriptor{}, err
		}
		binding, err := bd.build()
		if err != nil {
			return RuleDescriptor{}, fmt.Errorf("binding %s: %w", bd.Capability, err)
		}
		key := kind.String() + "/" + bd.Capability
		if grouped[key] == nil {
			grouped[key] = &entry{kind: kind}
			order = append(order, key)
		}
		grouped[key].bindings = append(grouped[key].bindings, binding)
	}
	for _, key := range order {
		e := grouped[key]
		b.bind(e.kind, e.bindings[0].Capability, e.bindings)
	}

	if d.Extends != "" {
		base, ok := earlier[d.Extends]
		if !ok {
			return RuleDescriptor{}, fmt.Errorf("%w: extends unknown rule %q", ErrInvalidRule, d.Extends)
		}
		b.Extend(base)
	}
	return b.Build()
}

func (d bindingDoc) build() (CapabilityBinding, error) {
	if d.Capability == "" {
		return CapabilityBinding{}, fmt.Errorf("%w: capability is required", ErrInvalidRule)
	}

	var binding CapabilityBinding
	if d.Preset != nil {
		preset, err := LookupPreset(d.Preset.Name, d.Preset.Args)
		if err != nil {
			return CapabilityBinding{}, err
		}
		binding = preset
	}
	binding.Capability = d.Capability

	if len(d.Characteristics) > 0 {
		binding.Characteristics = nil
		for _, name := range d.Characteristics {
			ct, err := hap.ParseCharacteristicType(name)
			if err != nil {
				return CapabilityBinding{}, fmt.Errorf("%w: characteristic %q: %w", ErrInvalidRule, name, err)
			}
			binding.Characteristics = append(binding.Characteristics, ct)
		}
	}
	if len(binding.Characteristics) == 0 {
		return CapabilityBinding{}, fmt.Errorf("%w: characteristics or a preset are required", ErrInvalidRule)
	}

	var err error
	if binding.Primary.Get, err = converterOr(d.Get, binding.Primary.Get); err != nil {
		return CapabilityBinding{}, err
	}
	if binding.Primary.Set, err = converterOr(d.Set, binding.Primary.Set); err != nil {
		return CapabilityBinding{}, err
	}
	if d.FallbackGet != nil || d.FallbackSet != nil {
		var fb Accessors
		if fb.Get, err = converterOr(d.FallbackGet, nil); err != nil {
			return CapabilityBinding{}, err
		}
		if fb.Set, err = converterOr(d.FallbackSet, nil); err != nil {
			return CapabilityBinding{}, err
		}
		binding.Fallback = &fb
	}

	if d.DebounceMS < 0 {
		return CapabilityBinding{}, fmt.Errorf("%w: debounce_ms must not be negative", ErrInvalidRule)
	}
	binding.Debounce = sched.Policy{
		Delay:       time.Duration(d.DebounceMS) * time.Millisecond,
		LeadingEdge: d.LeadingEdge,
	}

	if d.Validate != nil {
		if d.Validate.Max < d.Validate.Min {
			return CapabilityBinding{}, fmt.Errorf("%w: validate max below min", ErrInvalidRule)
		}
		if d.Validate.Clamp {
			binding.Validator = ClampValidator(d.Validate.Min, d.Validate.Max)
		} else {
			binding.Validator = RangeValidator(d.Validate.Min, d.Validate.Max)
		}
	}
	return binding, nil
}

func converterOr(doc *converterDoc, def Converter) (Converter, error) {
	if doc == nil {
		return def, nil
	}
	return LookupConverter(doc.Name, doc.Args)
}
