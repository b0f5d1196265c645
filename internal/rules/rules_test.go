package rules

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-hap/internal/hap"
	"github.com/nerrad567/gray-logic-hap/internal/sched"
)

func mustBuild(t *testing.T, b *Builder) RuleDescriptor {
	t.Helper()
	rule, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return rule
}

func TestMatchSpec(t *testing.T) {
	spec := MatchClasses("light", "socket")
	if spec.Wildcard {
		t.Error("Wildcard set without *")
	}
	if !spec.Matches("light") || spec.Matches("sensor") {
		t.Error("Matches() disagrees with the class list")
	}
	if spec.Names("") {
		t.Error("Names(\"\") = true")
	}

	wild := MatchClasses("*", "light")
	if !wild.Wildcard || !wild.Matches("sensor") {
		t.Error("* should match every class")
	}
	if wild.Names("sensor") {
		t.Error("wildcard must not count as naming a class")
	}
	if !reflect.DeepEqual(wild.Classes, []string{"light"}) {
		t.Errorf("Classes = %v, want [light]", wild.Classes)
	}
}

func TestEffectiveThreshold(t *testing.T) {
	tests := []struct {
		name string
		rule RuleDescriptor
		want float64
	}{
		{"default", RuleDescriptor{}, DefaultThreshold},
		{"explicit", RuleDescriptor{Threshold: 70}, 70},
		{"fallback enabled wins", RuleDescriptor{Threshold: 90, FallbackEnabled: true}, FallbackThreshold},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rule.EffectiveThreshold(); got != tt.want {
				t.Errorf("EffectiveThreshold() = %g, want %g", got, tt.want)
			}
		})
	}
}

func TestResolve_KindPriority(t *testing.T) {
	rule := mustBuild(t, NewBuilder("r", MatchClasses("light"), hap.ServiceLightbulb).
		Trigger("onoff", OnOff()).
		Optional("onoff", Dim()).
		Required("onoff", OnOff()).
		Trigger("button", OnOff()))

	got := rule.Resolve("onoff")
	if len(got) != 1 || got[0].Kind != KindRequired {
		t.Fatalf("Resolve(onoff) = %+v, want the required binding", got)
	}
	if got := rule.Resolve("button"); len(got) != 1 || got[0].Kind != KindTrigger {
		t.Errorf("Resolve(button) kind = %+v, want trigger", got)
	}
	if got := rule.Resolve("missing"); got != nil {
		t.Errorf("Resolve(missing) = %+v, want nil", got)
	}
	if got := rule.RequiredCapabilities(); !reflect.DeepEqual(got, []string{"onoff"}) {
		t.Errorf("RequiredCapabilities() = %v", got)
	}
	if got := rule.Capabilities(); !reflect.DeepEqual(got, []string{"onoff", "button"}) {
		t.Errorf("Capabilities() = %v", got)
	}
}

func TestBinding_Accessors(t *testing.T) {
	fallback := Accessors{Get: Fixed(false)}
	withFallback := CapabilityBinding{Primary: Accessors{Get: Truthy, Set: Truthy}, Fallback: &fallback}

	if a := withFallback.Accessors(true); a.Get == nil || a.Set == nil {
		t.Error("declared capability should use the primary pair")
	}
	a := withFallback.Accessors(false)
	if a.Set != nil {
		t.Error("fallback pair has no setter")
	}
	if v, _ := a.Get(true, Context{}); v != false {
		t.Errorf("fallback getter = %v, want false", v)
	}

	noFallback := CapabilityBinding{Primary: Accessors{Get: Truthy}}
	if a := noFallback.Accessors(false); a.Get != nil || a.Set != nil {
		t.Error("undeclared capability without fallback should get no accessors")
	}
}

func TestBuilder_ReplacesSameCapability(t *testing.T) {
	rule := mustBuild(t, NewBuilder("r", MatchClasses("light"), hap.ServiceLightbulb).
		Required("onoff", OnOff()).
		Optional("dim", Dim()).
		Required("onoff", PowerMeter(1)))

	if len(rule.Bindings) != 2 {
		t.Fatalf("len(Bindings) = %d, want 2", len(rule.Bindings))
	}
	if rule.Bindings[0].Capability != "onoff" || rule.Bindings[0].Primary.Set != nil {
		t.Errorf("onoff binding not replaced in place: %+v", rule.Bindings[0])
	}
}

func TestBuilder_Extend(t *testing.T) {
	var baseHookCalls, ownHookCalls int
	base := mustBuild(t, NewBuilder("base", MatchClasses("speaker"), hap.ServiceSpeaker).
		Category(hap.CategorySpeaker).
		Required("volume_mute", CapabilityBinding{
			Characteristics: []hap.CharacteristicType{hap.CharMute},
			Primary:         Accessors{Get: Invert},
		}).
		Optional("volume_set", Dim()).
		Forbid("camera", "onoff").
		OnService(func(*hap.Service, ServiceContext) { baseHookCalls++ }).
		OnUpdate(func(UpdateEvent) {}))

	rule := mustBuild(t, NewBuilder("own", MatchClasses("tv"), hap.ServiceSwitch).
		Required("volume_mute", CapabilityBinding{
			Characteristics: []hap.CharacteristicType{hap.CharOn},
			Primary:         Accessors{Get: Truthy},
		}).
		Required("onoff", OnOff()).
		Forbid("onoff", "dim").
		OnService(func(*hap.Service, ServiceContext) { ownHookCalls++ }).
		Extend(base))

	if rule.ID != "own" || rule.Service != hap.ServiceSwitch || !rule.Match.Names("tv") {
		t.Errorf("Extend changed identity: %s %s %v", rule.ID, rule.Service, rule.Match)
	}
	if rule.Category != hap.CategorySpeaker {
		t.Errorf("Category = %v, want inherited speaker", rule.Category)
	}
	mute := rule.Resolve("volume_mute")
	if len(mute) != 1 || mute[0].Characteristics[0] != hap.CharMute {
		t.Errorf("volume_mute = %+v, want the base binding", mute)
	}
	if len(rule.Resolve("volume_set")) != 1 || len(rule.Resolve("onoff")) != 1 {
		t.Error("merged bindings missing")
	}
	if !reflect.DeepEqual(rule.Forbidden, []string{"onoff", "dim", "camera"}) {
		t.Errorf("Forbidden = %v", rule.Forbidden)
	}
	rule.OnService(nil, ServiceContext{})
	if ownHookCalls != 1 || baseHookCalls != 0 {
		t.Errorf("OnService was replaced by the base hook")
	}
	if rule.OnUpdate == nil {
		t.Error("OnUpdate not inherited")
	}
}

func TestBuild_Validation(t *testing.T) {
	tests := []struct {
		name    string
		builder *Builder
	}{
		{"missing id", NewBuilder("", MatchClasses("light"), hap.ServiceLightbulb)},
		{"no classes", NewBuilder("r", MatchSpec{}, hap.ServiceLightbulb)},
		{"unknown service", NewBuilder("r", MatchClasses("light"), hap.ServiceType("FFFF"))},
		{"threshold range", NewBuilder("r", MatchClasses("light"), hap.ServiceLightbulb).Threshold(120)},
		{"grouped capability", NewBuilder("r", MatchClasses("light"), hap.ServiceLightbulb).Required("onoff.1", OnOff())},
		{"unknown characteristic", NewBuilder("r", MatchClasses("light"), hap.ServiceLightbulb).
			Required("onoff", CapabilityBinding{Characteristics: []hap.CharacteristicType{"FFFF"}})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.builder.Build(); !errors.Is(err, ErrInvalidRule) {
				t.Errorf("Build() error = %v, want ErrInvalidRule", err)
			}
		})
	}

	fallbackOnly := NewBuilder("fb", MatchSpec{}, hap.ServiceSwitch).Fallback(true)
	if _, err := fallbackOnly.Build(); err != nil {
		t.Errorf("fallback rule without classes: %v", err)
	}
}

func TestConverters(t *testing.T) {
	tests := []struct {
		name string
		conv Converter
		in   any
		want any
	}{
		{"truthy nil", Truthy, nil, false},
		{"truthy number", Truthy, 2.0, true},
		{"invert", Invert, true, false},
		{"boolean true", Boolean, true, 1},
		{"boolean zero", Boolean, 0.0, 0},
		{"temperature value", Temperature(20), 21.5, 21.5},
		{"temperature default", Temperature(20), nil, 20.0},
		{"temperature string", Temperature(22), "warm", 22.0},
		{"percentage", Percentage, 0.5, 50.0},
		{"percentage clamps", Percentage, 2.0, 100.0},
		{"percentage invalid", Percentage, nil, 0.0},
		{"percentage reverse", PercentageReverse, 50.0, 0.5},
		{"percentage reverse clamps", PercentageReverse, -10.0, 0.0},
		{"battery clamps", BatteryLevel(50), 120.0, 100.0},
		{"battery default", BatteryLevel(50), nil, 50.0},
		{"map range", MapRange(0, 1, 500, 140), 0.5, 320.0},
		{"map range invalid", MapRange(0, 1, 500, 140), "x", 500.0},
		{"heating valid", HeatingCoolingState, 2.0, 2},
		{"heating out of range", HeatingCoolingState, 7.0, 0},
		{"heating fractional", HeatingCoolingState, 1.5, 0},
		{"heating string", HeatingCoolingState, "1", 0},
		{"scale", Scale(360), 0.5, 180.0},
		{"threshold above", Threshold(1), 1.5, true},
		{"threshold equal", Threshold(1), 1.0, false},
		{"threshold invalid", Threshold(1), nil, false},
		{"fixed", Fixed("x"), 3.0, "x"},
		{"identity", Identity, "raw", "raw"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.conv(tt.in, Context{})
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestConverters_RoundTrip(t *testing.T) {
	for _, raw := range []float64{0, 0.25, 0.5, 1} {
		level, _ := Percentage(raw, Context{})
		back, _ := PercentageReverse(level, Context{})
		if back != raw {
			t.Errorf("PercentageReverse(Percentage(%g)) = %v", raw, back)
		}
	}
	for _, raw := range []bool{true, false} {
		shown, _ := Truthy(raw, Context{})
		back, _ := Truthy(shown, Context{})
		if back != raw {
			t.Errorf("Truthy round trip of %v = %v", raw, back)
		}
	}
}

func TestMomentary(t *testing.T) {
	clock := sched.NewManual(time.Unix(0, 0))
	service, err := hap.NewService(hap.ServiceSwitch, "", "")
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	on := service.Characteristic(hap.CharOn)
	on.UpdateValue(true)

	ctx := Context{Service: service, Characteristic: hap.CharOn, Scheduler: clock}
	set := Momentary(0)

	if v, _ := set(false, ctx); v != false || clock.Pending() != 0 {
		t.Fatalf("false write = %v with %d timers, want false and none", v, clock.Pending())
	}
	if v, _ := set(true, ctx); v != true {
		t.Fatalf("true write = %v, want true", v)
	}

	clock.Advance(MomentaryReset - time.Millisecond)
	if on.Value() != true {
		t.Fatal("reset fired early")
	}
	clock.Advance(time.Millisecond)
	if on.Value() != false {
		t.Errorf("On = %v after %v, want false", on.Value(), MomentaryReset)
	}
}

func TestRangeValidator(t *testing.T) {
	validate := RangeValidator(5, 40)
	for in, want := range map[any]float64{5.0: 5, 21: 21, "30": 30} {
		got, err := validate(in)
		if err != nil || got != want {
			t.Errorf("validate(%v) = %v, %v; want %v", in, got, err, want)
		}
	}
	for _, bad := range []any{4.9, 41, "hot", nil} {
		if _, err := validate(bad); !errors.Is(err, ErrInvalidValue) {
			t.Errorf("validate(%v) = %v, want ErrInvalidValue", bad, err)
		}
	}
}

func TestClampValidator(t *testing.T) {
	validate := ClampValidator(5, 40)
	for in, want := range map[any]float64{2.0: 5, 21: 21, "55": 40} {
		got, err := validate(in)
		if err != nil || got != want {
			t.Errorf("validate(%v) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := validate("hot"); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("validate(hot) = %v, want ErrInvalidValue", err)
	}
}

func TestLookupConverter(t *testing.T) {
	conv, err := LookupConverter("map_range", []any{0, 1, 0, 100})
	if err != nil {
		t.Fatalf("LookupConverter() error = %v", err)
	}
	if v, _ := conv(0.5, Context{}); v != 50.0 {
		t.Errorf("map_range(0.5) = %v, want 50", v)
	}

	if _, err := LookupConverter("nope", nil); !errors.Is(err, ErrUnknownConverter) {
		t.Errorf("unknown converter error = %v", err)
	}
	if _, err := LookupConverter("percentage", []any{1}); !errors.Is(err, ErrInvalidRule) {
		t.Errorf("extra argument error = %v", err)
	}
	if _, err := LookupConverter("map_range", []any{1, 1, 0, 1}); !errors.Is(err, ErrInvalidRule) {
		t.Errorf("empty range error = %v", err)
	}
	if len(ConverterNames()) != len(converterFactories) {
		t.Error("ConverterNames() incomplete")
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	light := mustBuild(t, NewBuilder("light", MatchClasses("light"), hap.ServiceLightbulb).Required("onoff", OnOff()))
	plug := mustBuild(t, NewBuilder("plug", MatchClasses("socket"), hap.ServiceOutlet).Required("onoff", OnOff()))

	if err := reg.AddAll(light, plug); err != nil {
		t.Fatalf("AddAll() error = %v", err)
	}

	dup := mustBuild(t, NewBuilder("light", MatchClasses("bulb"), hap.ServiceSwitch))
	if err := reg.Add(dup); !errors.Is(err, ErrDuplicateRule) {
		t.Fatalf("duplicate Add() error = %v, want ErrDuplicateRule", err)
	}
	got, err := reg.Get("light")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Service != hap.ServiceLightbulb {
		t.Error("duplicate replaced the first registration")
	}

	if _, err := reg.Get("missing"); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("Get(missing) error = %v", err)
	}
	if err := reg.Add(RuleDescriptor{}); !errors.Is(err, ErrInvalidRule) {
		t.Errorf("Add(invalid) error = %v", err)
	}

	all := reg.Rules()
	if len(all) != 2 || all[0].ID != "light" || all[1].ID != "plug" {
		t.Fatalf("Rules() order = %v", all)
	}
	all[0].Forbidden = append(all[0].Forbidden, "x")
	all[0].Match.Classes[0] = "changed"
	again, _ := reg.Get("light")
	if len(again.Forbidden) != 0 || again.Match.Classes[0] != "light" {
		t.Error("Rules() exposed internal state")
	}
}
