package rules

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-hap/internal/hap"
	"github.com/nerrad567/gray-logic-hap/internal/sched"
)

// MomentaryReset is how long a momentary characteristic stays on.
const MomentaryReset = 300 * time.Millisecond

// Heating and cooling modes of TargetHeatingCoolingState.
const (
	HeatingCoolingOff  = 0
	HeatingCoolingHeat = 1
	HeatingCoolingCool = 2
	HeatingCoolingAuto = 3
)

// number converts v to a float64. nil, NaN and non-numeric values are not numbers.
func number(v any) (float64, bool) {
	if v == nil {
		return 0, false
	}
	n, ok := hap.ToFloat(v)
	if !ok || math.IsNaN(n) {
		return 0, false
	}
	return n, true
}

// truthy follows the usual loose boolean reading of device values.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	}
	if n, ok := hap.ToFloat(v); ok {
		return n != 0 && !math.IsNaN(n)
	}
	return true
}

func clamp(n, lo, hi float64) float64 {
	return math.Min(math.Max(n, lo), hi)
}

// Identity passes values through unchanged.
func Identity(v any, _ Context) (any, error) {
	return v, nil
}

// Truthy converts any value to a bool.
func Truthy(v any, _ Context) (any, error) {
	return truthy(v), nil
}

// Invert converts to a bool and negates it.
func Invert(v any, _ Context) (any, error) {
	return !truthy(v), nil
}

// Boolean converts to 1 or 0.
func Boolean(v any, _ Context) (any, error) {
	if truthy(v) {
		return 1, nil
	}
	return 0, nil
}

// Temperature passes numeric temperatures through and substitutes def for
// missing or invalid ones.
func Temperature(def float64) Converter {
	return func(v any, _ Context) (any, error) {
		if n, ok := number(v); ok {
			return n, nil
		}
		return def, nil
	}
}

// Percentage scales a 0..1 device value to 0..100. Invalid values become 0.
func Percentage(v any, _ Context) (any, error) {
	n, ok := number(v)
	if !ok {
		return 0.0, nil
	}
	return clamp(n*100, 0, 100), nil
}

// PercentageReverse scales 0..100 back to 0..1. Invalid values become 0.
func PercentageReverse(v any, _ Context) (any, error) {
	n, ok := number(v)
	if !ok {
		return 0.0, nil
	}
	return clamp(n/100, 0, 1), nil
}

// BatteryLevel clamps a level to 0..100, substituting def for invalid values.
func BatteryLevel(def float64) Converter {
	return func(v any, _ Context) (any, error) {
		n, ok := number(v)
		if !ok {
			return def, nil
		}
		return clamp(n, 0, 100), nil
	}
}

// MapRange maps [inMin, inMax] linearly onto [outMin, outMax] without
// clamping. Invalid values map to outMin.
func MapRange(inMin, inMax, outMin, outMax float64) Converter {
	return func(v any, _ Context) (any, error) {
		n, ok := number(v)
		if !ok || inMax == inMin {
			return outMin, nil
		}
		return (n-inMin)*(outMax-outMin)/(inMax-inMin) + outMin, nil
	}
}

// HeatingCoolingState passes valid target modes through; anything else is Off.
func HeatingCoolingState(v any, _ Context) (any, error) {
	if _, isString := v.(string); isString {
		return HeatingCoolingOff, nil
	}
	n, ok := number(v)
	if !ok || n != math.Trunc(n) || n < HeatingCoolingOff || n > HeatingCoolingAuto {
		return HeatingCoolingOff, nil
	}
	return int(n), nil
}

// Scale multiplies numeric values by factor. Invalid values become 0.
func Scale(factor float64) Converter {
	return func(v any, _ Context) (any, error) {
		n, ok := number(v)
		if !ok {
			return 0.0, nil
		}
		return n * factor, nil
	}
}

// Threshold reports whether a numeric value exceeds limit.
func Threshold(limit float64) Converter {
	return func(v any, _ Context) (any, error) {
		n, ok := number(v)
		return ok && n > limit, nil
	}
}

// Fixed always returns value.
func Fixed(value any) Converter {
	return func(any, Context) (any, error) {
		return value, nil
	}
}

// Momentary is a setter for push-button style characteristics. A true
// write is forwarded as true and the characteristic springs back to false
// after reset; false writes are forwarded as false with no reset.
func Momentary(reset time.Duration) Converter {
	if reset <= 0 {
		reset = MomentaryReset
	}
	return func(v any, ctx Context) (any, error) {
		if !truthy(v) {
			return false, nil
		}
		if ctx.Service != nil {
			service, ct := ctx.Service, ctx.Characteristic
			sched.OrReal(ctx.Scheduler).AfterFunc(reset, func() {
				if c := service.Characteristic(ct); c != nil {
					c.UpdateValue(false)
				}
			})
		}
		return true, nil
	}
}

// ConverterFactory builds a converter from rule file arguments.
type ConverterFactory func(args []any) (Converter, error)

var converterFactories = map[string]ConverterFactory{
	"identity":              plainFactory(Identity),
	"bool":                  plainFactory(Truthy),
	"invert":                plainFactory(Invert),
	"boolean":               plainFactory(Boolean),
	"percentage":            plainFactory(Percentage),
	"percentage_reverse":    plainFactory(PercentageReverse),
	"heating_cooling_state": plainFactory(HeatingCoolingState),
	"temperature": func(args []any) (Converter, error) {
		def, err := floatArg(args, 0, 20)
		if err != nil {
			return nil, err
		}
		return Temperature(def), nil
	},
	"battery_level": func(args []any) (Converter, error) {
		def, err := floatArg(args, 0, 50)
		if err != nil {
			return nil, err
		}
		return BatteryLevel(def), nil
	},
	"map_range": func(args []any) (Converter, error) {
		if len(args) != 4 {
			return nil, fmt.Errorf("%w: map_range takes 4 arguments, got %d", ErrInvalidRule, len(args))
		}
		var bounds [4]float64
		for i := range bounds {
			n, err := floatArg(args, i, 0)
			if err != nil {
				return nil, err
			}
			bounds[i] = n
		}
		if bounds[0] == bounds[1] {
			return nil, fmt.Errorf("%w: map_range input range is empty", ErrInvalidRule)
		}
		return MapRange(bounds[0], bounds[1], bounds[2], bounds[3]), nil
	},
	"scale": func(args []any) (Converter, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("%w: scale takes 1 argument, got %d", ErrInvalidRule, len(args))
		}
		factor, err := floatArg(args, 0, 1)
		if err != nil {
			return nil, err
		}
		return Scale(factor), nil
	},
	"threshold": func(args []any) (Converter, error) {
		limit, err := floatArg(args, 0, 0)
		if err != nil {
			return nil, err
		}
		return Threshold(limit), nil
	},
	"fixed": func(args []any) (Converter, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("%w: fixed takes 1 argument, got %d", ErrInvalidRule, len(args))
		}
		return Fixed(args[0]), nil
	},
	"momentary": func(args []any) (Converter, error) {
		ms, err := floatArg(args, 0, float64(MomentaryReset/time.Millisecond))
		if err != nil {
			return nil, err
		}
		return Momentary(time.Duration(ms) * time.Millisecond), nil
	},
}

func plainFactory(c Converter) ConverterFactory {
	return func(args []any) (Converter, error) {
		if len(args) > 0 {
			return nil, fmt.Errorf("%w: converter takes no arguments", ErrInvalidRule)
		}
		return c, nil
	}
}

func floatArg(args []any, i int, def float64) (float64, error) {
	if i >= len(args) {
		return def, nil
	}
	n, ok := number(args[i])
	if !ok {
		return 0, fmt.Errorf("%w: argument %d (%v) is not a number", ErrInvalidRule, i+1, args[i])
	}
	return n, nil
}

// LookupConverter builds the named converter.
func LookupConverter(name string, args []any) (Converter, error) {
	factory, ok := converterFactories[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownConverter, name)
	}
	return factory(args)
}

// ConverterNames returns the converter names usable in rule files.
func ConverterNames() []string {
	names := make([]string, 0, len(converterFactories))
	for name := range converterFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RangeValidator rejects non-numeric values and values outside [lo, hi].
// Accepted values are normalized to float64.
func RangeValidator(lo, hi float64) func(any) (any, error) {
	return func(v any) (any, error) {
		n, ok := number(v)
		if !ok {
			return nil, fmt.Errorf("%w: %v is not a number", ErrInvalidValue, v)
		}
		if n < lo || n > hi {
			return nil, fmt.Errorf("%w: %g outside [%g, %g]", ErrInvalidValue, n, lo, hi)
		}
		return n, nil
	}
}

// ClampValidator rejects non-numeric values and clamps the rest into
// [lo, hi] as float64.
func ClampValidator(lo, hi float64) func(any) (any, error) {
	return func(v any) (any, error) {
		n, ok := number(v)
		if !ok {
			return nil, fmt.Errorf("%w: %v is not a number", ErrInvalidValue, v)
		}
		return math.Min(math.Max(n, lo), hi), nil
	}
}
