package rules

import (
	"fmt"
	"strings"

	"github.com/nerrad567/gray-logic-hap/internal/hap"
)

// Binding templates for common capabilities. Pass them to the Builder's
// Required, Optional and Trigger methods.

// OnOff maps a boolean capability to On in both directions.
func OnOff() CapabilityBinding {
	return CapabilityBinding{
		Characteristics: []hap.CharacteristicType{hap.CharOn},
		Primary:         Accessors{Get: Truthy, Set: Truthy},
	}
}

// Dim maps a 0..1 level to Brightness.
func Dim() CapabilityBinding {
	return CapabilityBinding{
		Characteristics: []hap.CharacteristicType{hap.CharBrightness},
		Primary:         Accessors{Get: Percentage, Set: PercentageReverse},
	}
}

// TemperatureSensor maps a temperature to CurrentTemperature (default 20).
func TemperatureSensor() CapabilityBinding {
	return CapabilityBinding{
		Characteristics: []hap.CharacteristicType{hap.CharCurrentTemperature},
		Primary:         Accessors{Get: Temperature(20)},
	}
}

// BatteryLevelSensor maps a battery percentage to BatteryLevel (default 50).
func BatteryLevelSensor() CapabilityBinding {
	return CapabilityBinding{
		Characteristics: []hap.CharacteristicType{hap.CharBatteryLevel},
		Primary:         Accessors{Get: BatteryLevel(50)},
	}
}

// MotionSensor maps an alarm capability to MotionDetected.
func MotionSensor() CapabilityBinding {
	return CapabilityBinding{
		Characteristics: []hap.CharacteristicType{hap.CharMotionDetected},
		Primary:         Accessors{Get: Truthy},
	}
}

// ContactSensor maps an alarm capability to ContactSensorState.
func ContactSensor() CapabilityBinding {
	return CapabilityBinding{
		Characteristics: []hap.CharacteristicType{hap.CharContactSensorState},
		Primary:         Accessors{Get: Boolean},
	}
}

// PowerMeter reports On while power draw exceeds threshold watts.
func PowerMeter(threshold float64) CapabilityBinding {
	return CapabilityBinding{
		Characteristics: []hap.CharacteristicType{hap.CharOn},
		Primary:         Accessors{Get: Threshold(threshold)},
	}
}

// OutletInUse reports OutletInUse as soon as power is measured.
func OutletInUse() CapabilityBinding {
	return CapabilityBinding{
		Characteristics: []hap.CharacteristicType{hap.CharOutletInUse},
		Primary:         Accessors{Get: Fixed(true)},
	}
}

// presetFactories are the presets available to rule files.
var presetFactories = map[string]func(args []any) (CapabilityBinding, error){
	"on_off":             noArgPreset(OnOff),
	"dim":                noArgPreset(Dim),
	"temperature_sensor": noArgPreset(TemperatureSensor),
	"battery_level":      noArgPreset(BatteryLevelSensor),
	"motion_sensor":      noArgPreset(MotionSensor),
	"contact_sensor":     noArgPreset(ContactSensor),
	"outlet_in_use":      noArgPreset(OutletInUse),
	"power_meter": func(args []any) (CapabilityBinding, error) {
		threshold, err := floatArg(args, 0, 1)
		if err != nil {
			return CapabilityBinding{}, err
		}
		return PowerMeter(threshold), nil
	},
}

func noArgPreset(fn func() CapabilityBinding) func([]any) (CapabilityBinding, error) {
	return func(args []any) (CapabilityBinding, error) {
		if len(args) > 0 {
			return CapabilityBinding{}, fmt.Errorf("%w: preset takes no arguments", ErrInvalidRule)
		}
		return fn(), nil
	}
}

// LookupPreset builds the named binding template.
func LookupPreset(name string, args []any) (CapabilityBinding, error) {
	factory, ok := presetFactories[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return CapabilityBinding{}, fmt.Errorf("%w: preset %q", ErrUnknownConverter, name)
	}
	return factory(args)
}
