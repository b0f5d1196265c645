package mapping

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/nerrad567/gray-logic-hap/internal/device"
	"github.com/nerrad567/gray-logic-hap/internal/hap"
	"github.com/nerrad567/gray-logic-hap/internal/rules"
)

func mustBuild(t *testing.T, b *rules.Builder) rules.RuleDescriptor {
	t.Helper()
	r, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return r
}

func descriptor(id, class string, caps ...string) device.Descriptor {
	return device.Descriptor{
		ID:           id,
		Class:        class,
		Capabilities: caps,
		UI:           []device.UIComponent{{ID: "main", Capabilities: caps}},
	}
}

func ruleIDs(sel Selection) []string {
	var out []string
	for _, c := range sel.Candidates() {
		out = append(out, c.Rule.ID)
	}
	return out
}

func TestMatchPercentage(t *testing.T) {
	got := MatchPercentage([]string{"onoff", "dim", "measure_power"}, []string{"onoff", "dim", "alarm_motion"})
	if math.Abs(got-66.6667) > 0.001 {
		t.Errorf("MatchPercentage = %v, want 66.67", got)
	}
	if formatPercentage(got) != "66.67" {
		t.Errorf("formatPercentage = %q, want 66.67", formatPercentage(got))
	}
	if got := MatchPercentage(nil, []string{"onoff"}); got != 100 {
		t.Errorf("empty required = %v, want 100", got)
	}
	if got := MatchPercentage([]string{"onoff"}, nil); got != 0 {
		t.Errorf("no capabilities = %v, want 0", got)
	}
}

func TestMatchPercentage_NeverDropsAsCapabilitiesGrow(t *testing.T) {
	required := []string{"onoff", "dim", "light_hue", "light_saturation"}
	added := []string{"measure_power", "onoff", "alarm_motion", "dim", "dim", "light_hue", "meter_power", "light_saturation", "volume_set"}

	var caps []string
	last := MatchPercentage(required, caps)
	for _, c := range added {
		caps = append(caps, c)
		got := MatchPercentage(required, caps)
		if got < last {
			t.Fatalf("adding %q dropped the score from %v to %v", c, last, got)
		}
		last = got
	}
	if last != 100 {
		t.Errorf("final score = %v, want 100", last)
	}
}

func TestSelect_PrimaryAndSecondaries(t *testing.T) {
	light := mustBuild(t, rules.NewBuilder("light", rules.MatchClasses("light"), hap.ServiceLightbulb).
		Required("onoff", rules.OnOff()).Required("dim", rules.Dim()))
	battery := mustBuild(t, rules.NewBuilder("battery", rules.MatchAny(), hap.ServiceBattery).
		Threshold(100).Required("measure_battery", rules.BatteryLevelSensor()))
	fallback := mustBuild(t, rules.NewBuilder("universal-fallback", rules.MatchAny(), hap.ServiceSwitch).
		Fallback(true).FallbackEnabled(true).Required("onoff", rules.OnOff()))

	m := NewMatcher(MatcherOptions{})
	sel, err := m.Select(descriptor("d1", "light", "onoff", "dim", "measure_battery"),
		[]rules.RuleDescriptor{fallback, light, battery})
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if got := ruleIDs(sel); !reflect.DeepEqual(got, []string{"light", "battery"}) {
		t.Errorf("rules = %v, want [light battery]", got)
	}
	if len(sel.Skipped) != 1 || sel.Skipped[0].RuleID != "universal-fallback" {
		t.Errorf("skipped = %+v, want universal-fallback", sel.Skipped)
	}
	if sel.FallbackPool {
		t.Error("class match reported as fallback pool")
	}
}

func TestSelect_FallbackOnlyWhenNothingElse(t *testing.T) {
	fallback := mustBuild(t, rules.NewBuilder("universal-fallback", rules.MatchAny(), hap.ServiceSwitch).
		Fallback(true).FallbackEnabled(true).Required("onoff", rules.OnOff()))

	sel, err := NewMatcher(MatcherOptions{}).Select(descriptor("d1", "kettle", "onoff"), []rules.RuleDescriptor{fallback})
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if sel.Primary.Rule.ID != "universal-fallback" || len(sel.Secondaries) != 0 {
		t.Errorf("selection = %v", ruleIDs(sel))
	}
}

func TestSelect_FallbackEnabledPool(t *testing.T) {
	thermostat := mustBuild(t, rules.NewBuilder("thermostat", rules.MatchClasses("thermostat"), hap.ServiceThermostat).
		FallbackEnabled(true).
		Required("target_temperature", rules.CapabilityBinding{Characteristics: []hap.CharacteristicType{hap.CharTargetTemperature}}).
		Required("measure_temperature", rules.TemperatureSensor()))

	sel, err := NewMatcher(MatcherOptions{}).Select(descriptor("d1", "heater", "measure_temperature"),
		[]rules.RuleDescriptor{thermostat})
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if !sel.FallbackPool || sel.Primary.Rule.ID != "thermostat" || sel.Primary.Percentage != 50 {
		t.Errorf("selection = %+v", sel.Primary)
	}
}

func TestSelect_Unmappable(t *testing.T) {
	light := mustBuild(t, rules.NewBuilder("light", rules.MatchClasses("light"), hap.ServiceLightbulb).
		Threshold(60).Forbid("camera").
		Required("onoff", rules.OnOff()).Required("dim", rules.Dim()))
	m := NewMatcher(MatcherOptions{})

	tests := []struct {
		name string
		desc device.Descriptor
	}{
		{"no class", descriptor("d1", "kettle", "onoff", "dim")},
		{"below threshold", descriptor("d2", "light", "onoff")},
		{"forbidden", descriptor("d3", "light", "onoff", "dim", "camera")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Select(tt.desc, []rules.RuleDescriptor{light})
			if !errors.Is(err, ErrUnmappableDevice) {
				t.Errorf("Select() error = %v, want ErrUnmappableDevice", err)
			}
		})
	}
}

func TestSelect_ScoresOnlyUICapabilities(t *testing.T) {
	light := mustBuild(t, rules.NewBuilder("light", rules.MatchClasses("light"), hap.ServiceLightbulb).
		Threshold(100).Required("onoff", rules.OnOff()).Required("dim", rules.Dim()))
	desc := device.Descriptor{
		ID:           "d1",
		Class:        "light",
		Capabilities: []string{"onoff", "dim"},
		UI:           []device.UIComponent{{ID: "toggle", Capabilities: []string{"onoff"}}},
	}
	if _, err := NewMatcher(MatcherOptions{}).Select(desc, []rules.RuleDescriptor{light}); !errors.Is(err, ErrUnmappableDevice) {
		t.Errorf("hidden capability counted: err = %v", err)
	}

	desc.UI = []device.UIComponent{{ID: "a", Capabilities: []string{"onoff.1"}}, {ID: "b", Capabilities: []string{"dim.1"}}}
	if _, err := NewMatcher(MatcherOptions{}).Select(desc, []rules.RuleDescriptor{light}); err != nil {
		t.Errorf("grouped capabilities not normalized: %v", err)
	}
}

func TestSelect_PrefersVirtualClass(t *testing.T) {
	plug := mustBuild(t, rules.NewBuilder("smart-plug", rules.MatchClasses("socket"), hap.ServiceOutlet).
		Required("onoff", rules.OnOff()))
	light := mustBuild(t, rules.NewBuilder("light", rules.MatchClasses("light"), hap.ServiceLightbulb).
		Required("onoff", rules.OnOff()))

	desc := descriptor("d1", "socket", "onoff")
	desc.VirtualClass = "light"
	sel, err := NewMatcher(MatcherOptions{}).Select(desc, []rules.RuleDescriptor{plug, light})
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if got := ruleIDs(sel); !reflect.DeepEqual(got, []string{"light"}) {
		t.Errorf("rules = %v, want [light]", got)
	}
}

func TestSelect_SecondaryConflicts(t *testing.T) {
	improved := mustBuild(t, rules.NewBuilder("sonos-speaker-improved", rules.MatchClasses("speaker"), hap.ServiceSpeaker).
		Required("volume_mute", rules.CapabilityBinding{Characteristics: []hap.CharacteristicType{hap.CharMute}}))
	speaker := mustBuild(t, rules.NewBuilder("speaker", rules.MatchClasses("speaker"), hap.ServiceSwitch).
		Required("volume_mute", rules.CapabilityBinding{Characteristics: []hap.CharacteristicType{hap.CharMute}}))
	smart := mustBuild(t, rules.NewBuilder("smart-speaker", rules.MatchClasses("speaker"), hap.ServiceOutlet).
		Required("volume_mute", rules.CapabilityBinding{Characteristics: []hap.CharacteristicType{hap.CharMute}}))
	sameService := mustBuild(t, rules.NewBuilder("speaker-basic", rules.MatchClasses("speaker"), hap.ServiceSpeaker).
		Required("volume_mute", rules.CapabilityBinding{Characteristics: []hap.CharacteristicType{hap.CharMute}}))
	variant := mustBuild(t, rules.NewBuilder("battery-improved", rules.MatchAny(), hap.ServiceBattery).
		Required("measure_battery", rules.BatteryLevelSensor()))
	motion := mustBuild(t, rules.NewBuilder("motion", rules.MatchAny(), hap.ServiceMotionSensor).
		Threshold(50).Required("alarm_motion", rules.MotionSensor()).Required("measure_battery", rules.BatteryLevelSensor()))

	all := []rules.RuleDescriptor{improved, speaker, smart, sameService, variant, motion}
	sel, err := NewMatcher(MatcherOptions{}).Select(descriptor("d1", "speaker", "volume_mute", "measure_battery"), all)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if got := ruleIDs(sel); !reflect.DeepEqual(got, []string{"sonos-speaker-improved", "motion"}) {
		t.Errorf("rules = %v, want [sonos-speaker-improved motion]", got)
	}

	reasons := make(map[string]string)
	for _, s := range sel.Skipped {
		reasons[s.RuleID] = s.Reason
	}
	want := map[string]string{
		"speaker":          "incompatible with sonos-speaker-improved",
		"smart-speaker":    "incompatible with sonos-speaker-improved",
		"speaker-basic":    "duplicate service " + hap.ServiceSpeaker.String(),
		"battery-improved": "second enhanced variant",
	}
	if !reflect.DeepEqual(reasons, want) {
		t.Errorf("skipped = %v, want %v", reasons, want)
	}

	// Without the built-in list only service and variant checks apply.
	sel, err = NewMatcher(MatcherOptions{Incompatibilities: []Incompatibility{}}).Select(
		descriptor("d1", "speaker", "volume_mute", "measure_battery"), all)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if got := ruleIDs(sel); !reflect.DeepEqual(got, []string{"sonos-speaker-improved", "speaker", "smart-speaker", "motion"}) {
		t.Errorf("rules without incompatibilities = %v", got)
	}
}

func TestSelect_NonFallbackBeforeHigherScore(t *testing.T) {
	partial := mustBuild(t, rules.NewBuilder("light", rules.MatchClasses("light"), hap.ServiceLightbulb).
		Required("onoff", rules.OnOff()).Required("dim", rules.Dim()))
	fallback := mustBuild(t, rules.NewBuilder("generic", rules.MatchAny(), hap.ServiceSwitch).
		Fallback(true).Required("onoff", rules.OnOff()))

	sel, err := NewMatcher(MatcherOptions{}).Select(descriptor("d1", "light", "onoff"),
		[]rules.RuleDescriptor{fallback, partial})
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if sel.Primary.Rule.ID != "light" || sel.Primary.Percentage != 50 {
		t.Errorf("primary = %s (%v), want light (50)", sel.Primary.Rule.ID, sel.Primary.Percentage)
	}
	if got := ruleIDs(sel); !reflect.DeepEqual(got, []string{"light", "generic"}) {
		t.Errorf("rules = %v, want fallback as secondary", got)
	}
}
