package mapping

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/nerrad567/gray-logic-hap/internal/device"
	"github.com/nerrad567/gray-logic-hap/internal/hap"
	"github.com/nerrad567/gray-logic-hap/internal/rules"
)

// DefaultVariantMarker identifies enhanced rule variants by id.
const DefaultVariantMarker = "-improved"

// Incompatibility skips rule Secondary as a secondary when the primary
// rule id contains PrimaryContains. An empty PrimaryContains matches every
// primary.
type Incompatibility struct {
	Secondary       string
	PrimaryContains string
}

// DefaultIncompatibilities returns the built-in secondary exclusions.
func DefaultIncompatibilities() []Incompatibility {
	return []Incompatibility{
		{Secondary: "universal-fallback"},
		{Secondary: "speaker", PrimaryContains: "speaker-improved"},
		{Secondary: "smart-speaker", PrimaryContains: "sonos"},
	}
}

// Candidate is a rule that cleared its threshold for a device.
type Candidate struct {
	Rule       rules.RuleDescriptor
	Percentage float64
	Matched    []string
}

// Skip records why a candidate was not merged into the selection.
type Skip struct {
	RuleID string `json:"rule"`
	Reason string `json:"reason"`
}

// Selection is the outcome of matching one device.
type Selection struct {
	Primary     Candidate
	Secondaries []Candidate
	Skipped     []Skip

	// Capabilities are the normalized UI capabilities that were scored.
	Capabilities []string

	// FallbackPool is set when no rule matched the device class and the
	// fallback-enabled rules were used instead.
	FallbackPool bool
}

// Candidates returns the primary followed by the secondaries.
func (s Selection) Candidates() []Candidate {
	return append([]Candidate{s.Primary}, s.Secondaries...)
}

// MatchPercentage returns the share of required capabilities present in
// capabilities, in percent. An empty required set scores 100.
func MatchPercentage(required, capabilities []string) float64 {
	if len(required) == 0 {
		return 100
	}
	return float64(len(matched(required, capabilities))) / float64(len(required)) * 100
}

func matched(required, capabilities []string) []string {
	have := make(map[string]struct{}, len(capabilities))
	for _, c := range capabilities {
		have[c] = struct{}{}
	}
	var out []string
	for _, r := range required {
		if _, ok := have[r]; ok {
			out = append(out, r)
		}
	}
	return out
}

// MatcherOptions configures a Matcher.
type MatcherOptions struct {
	// Incompatibilities lists secondary exclusions. Nil uses
	// DefaultIncompatibilities; an empty non-nil slice disables them.
	Incompatibilities []Incompatibility

	// VariantMarker identifies enhanced variants. Empty uses DefaultVariantMarker.
	VariantMarker string

	Logger Logger
}

// Matcher scores and orders rules for devices. It holds no per-device state.
type Matcher struct {
	incompatibilities []Incompatibility
	variantMarker     string
	logger            Logger
}

// NewMatcher creates a Matcher.
func NewMatcher(opts MatcherOptions) *Matcher {
	m := &Matcher{
		incompatibilities: opts.Incompatibilities,
		variantMarker:     opts.VariantMarker,
		logger:            opts.Logger,
	}
	if m.incompatibilities == nil {
		m.incompatibilities = DefaultIncompatibilities()
	}
	if m.variantMarker == "" {
		m.variantMarker = DefaultVariantMarker
	}
	if m.logger == nil {
		m.logger = noopLogger{}
	}
	return m
}

// Select picks the primary rule and compatible secondaries for desc.
//
// Parameters:
//   - desc: device descriptor; only UI-visible capabilities are scored
//   - all: rules in registry order
//
// Returns:
//   - Selection: primary first, secondaries in score order
//   - error: ErrUnmappableDevice when no rule qualifies
func (m *Matcher) Select(desc device.Descriptor, all []rules.RuleDescriptor) (Selection, error) {
	sel := Selection{Capabilities: desc.NormalizedUICapabilities()}

	pool := classCandidates(desc, all)
	if len(pool) == 0 {
		for _, r := range all {
			if r.FallbackEnabled {
				pool = append(pool, r)
			}
		}
		sel.FallbackPool = true
		m.logger.Info("no class match, trying fallback rules",
			"device_id", desc.ID, "class", desc.Class, "candidates", len(pool))
	}
	if len(pool) == 0 {
		return Selection{}, fmt.Errorf("%w: %s: no rule for class %q", ErrUnmappableDevice, desc.ID, desc.Class)
	}

	accepted := m.score(desc, pool, sel.Capabilities)
	if len(accepted) == 0 {
		m.logger.Warn("no usable rules for device", "device_id", desc.ID, "class", desc.Class)
		return Selection{}, fmt.Errorf("%w: %s: no rule reached its threshold", ErrUnmappableDevice, desc.ID)
	}

	if desc.VirtualClass != "" {
		var preferred []Candidate
		for _, c := range accepted {
			if c.Rule.Match.Names(desc.VirtualClass) {
				preferred = append(preferred, c)
			}
		}
		if len(preferred) > 0 {
			accepted = preferred
		}
	}

	sort.SliceStable(accepted, func(i, j int) bool {
		a, b := accepted[i], accepted[j]
		if a.Rule.IsFallback != b.Rule.IsFallback {
			return !a.Rule.IsFallback
		}
		return a.Percentage > b.Percentage
	})

	sel.Primary = accepted[0]
	m.logger.Info("rule selected", "device_id", desc.ID, "rule", sel.Primary.Rule.ID,
		"percentage", formatPercentage(sel.Primary.Percentage))
	if sel.Primary.Rule.IsFallback {
		m.logger.Warn("using fallback rule with limited functionality",
			"device_id", desc.ID, "rule", sel.Primary.Rule.ID)
	}

	services := map[hap.ServiceType]struct{}{sel.Primary.Rule.Service: {}}
	for _, c := range accepted[1:] {
		if reason := m.conflict(sel.Primary.Rule, c.Rule, services); reason != "" {
			m.logger.Debug("secondary rule skipped", "device_id", desc.ID, "rule", c.Rule.ID, "reason", reason)
			sel.Skipped = append(sel.Skipped, Skip{RuleID: c.Rule.ID, Reason: reason})
			continue
		}
		m.logger.Debug("secondary rule added", "device_id", desc.ID, "rule", c.Rule.ID)
		services[c.Rule.Service] = struct{}{}
		sel.Secondaries = append(sel.Secondaries, c)
	}
	return sel, nil
}

func classCandidates(desc device.Descriptor, all []rules.RuleDescriptor) []rules.RuleDescriptor {
	var out []rules.RuleDescriptor
	for _, r := range all {
		if r.Match.Matches(desc.Class) || r.Match.Names(desc.VirtualClass) || r.IsFallback {
			out = append(out, r)
		}
	}
	return out
}

func (m *Matcher) score(desc device.Descriptor, pool []rules.RuleDescriptor, capabilities []string) []Candidate {
	var accepted []Candidate
	for _, r := range pool {
		required := r.RequiredCapabilities()
		hits := matched(required, capabilities)
		pct := MatchPercentage(required, capabilities)
		m.logger.Debug("match percentage",
			"device_id", desc.ID, "rule", r.ID, "percentage", formatPercentage(pct),
			"matched", strings.Join(hits, ","), "required", strings.Join(required, ","))

		if forbidden := matched(r.Forbidden, capabilities); len(forbidden) > 0 {
			m.logger.Debug("rule excluded by forbidden capability",
				"device_id", desc.ID, "rule", r.ID, "forbidden", strings.Join(forbidden, ","))
			continue
		}
		if pct < r.EffectiveThreshold() {
			continue
		}
		accepted = append(accepted, Candidate{Rule: r, Percentage: pct, Matched: hits})
	}
	return accepted
}

// conflict returns a non-empty reason when candidate must not join primary.
func (m *Matcher) conflict(primary, candidate rules.RuleDescriptor, services map[hap.ServiceType]struct{}) string {
	for _, inc := range m.incompatibilities {
		if candidate.ID == inc.Secondary && strings.Contains(primary.ID, inc.PrimaryContains) {
			return "incompatible with " + primary.ID
		}
	}
	if _, dup := services[candidate.Service]; dup {
		return "duplicate service " + candidate.Service.String()
	}
	if strings.Contains(primary.ID, m.variantMarker) && strings.Contains(candidate.ID, m.variantMarker) &&
		primary.ID != candidate.ID {
		return "second enhanced variant"
	}
	return ""
}

func formatPercentage(p float64) string {
	return strconv.FormatFloat(p, 'f', 2, 64)
}
