package hap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"
)

// GetHandler produces the current value for a controller read.
type GetHandler func(ctx context.Context) (any, error)

// SetHandler applies a controller write. The value has already been validated.
type SetHandler func(ctx context.Context, value any) error

// Origin says where a value change came from.
type Origin string

// Change origins.
const (
	OriginDevice     Origin = "device"
	OriginController Origin = "controller"
	OriginRead       Origin = "read"
)

// Change describes a characteristic value transition.
type Change struct {
	Service        *Service
	Characteristic *Characteristic
	OldValue       any
	NewValue       any
	Origin         Origin
}

// Characteristic is a typed, protocol-visible value on a service.
type Characteristic struct {
	Type        CharacteristicType
	Format      Format
	Perms       []Perm
	Unit        Unit
	MinValue    *float64
	MaxValue    *float64
	MinStep     *float64
	ValidValues []int

	mu        sync.RWMutex
	iid       uint64
	service   *Service
	value     any
	getter    GetHandler
	setter    SetHandler
	listeners []func(Change)
}

// NewCharacteristic creates a characteristic from the catalogue.
// It returns ErrUnknownType for uncatalogued types.
func NewCharacteristic(t CharacteristicType) (*Characteristic, error) {
	def, ok := characteristicDefs[t]
	if !ok {
		return nil, fmt.Errorf("%w: characteristic %q", ErrUnknownType, string(t))
	}
	c := &Characteristic{
		Type:        def.Type,
		Format:      def.Format,
		Perms:       append([]Perm(nil), def.Perms...),
		Unit:        def.Unit,
		MinValue:    def.MinValue,
		MaxValue:    def.MaxValue,
		MinStep:     def.MinStep,
		ValidValues: append([]int(nil), def.ValidValues...),
	}
	c.value = c.defaultValue()
	return c, nil
}

func (c *Characteristic) defaultValue() any {
	switch {
	case c.Format == FormatBool:
		return false
	case c.Format.integer():
		if c.MinValue != nil {
			return int(*c.MinValue)
		}
		return 0
	case c.Format == FormatFloat:
		if c.MinValue != nil && *c.MinValue > 0 {
			return *c.MinValue
		}
		return 0.0
	default:
		return ""
	}
}

// IID returns the instance id within the owning accessory (0 if detached).
func (c *Characteristic) IID() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.iid
}

// Service returns the service that owns c.
func (c *Characteristic) Service() *Service {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.service
}

// HasPerm reports whether c grants p.
func (c *Characteristic) HasPerm(p Perm) bool {
	for _, perm := range c.Perms {
		if perm == p {
			return true
		}
	}
	return false
}

// Value returns the last known value.
func (c *Characteristic) Value() any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// OnGet installs the controller read handler.
func (c *Characteristic) OnGet(h GetHandler) {
	c.mu.Lock()
	c.getter = h
	c.mu.Unlock()
}

// OnSet installs the controller write handler.
func (c *Characteristic) OnSet(h SetHandler) {
	c.mu.Lock()
	c.setter = h
	c.mu.Unlock()
}

// HasGetHandler reports whether a read handler is installed.
func (c *Characteristic) HasGetHandler() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.getter != nil
}

// HasSetHandler reports whether a write handler is installed.
func (c *Characteristic) HasSetHandler() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.setter != nil
}

// OnChange registers fn for every value transition.
func (c *Characteristic) OnChange(fn func(Change)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// UpdateValue records a device-originated value and emits a change if it differs.
func (c *Characteristic) UpdateValue(v any) {
	c.store(v, OriginDevice)
}

// HandleGet serves a controller read through the installed read handler,
// falling back to the last known value.
func (c *Characteristic) HandleGet(ctx context.Context) (any, error) {
	if !c.HasPerm(PermRead) {
		return nil, ErrNotReadable
	}
	c.mu.RLock()
	getter := c.getter
	c.mu.RUnlock()

	if getter == nil {
		return c.Value(), nil
	}
	v, err := getter(ctx)
	if err != nil {
		return nil, err
	}
	c.store(v, OriginRead)
	return v, nil
}

// HandleSet serves a controller write: the value is validated, handed to
// the write handler, and recorded once the handler succeeds.
func (c *Characteristic) HandleSet(ctx context.Context, v any) error {
	if !c.HasPerm(PermWrite) {
		return ErrNotWritable
	}
	validated, err := c.Validate(v)
	if err != nil {
		return err
	}

	c.mu.RLock()
	setter := c.setter
	c.mu.RUnlock()

	if setter != nil {
		if err := setter(ctx, validated); err != nil {
			if errors.Is(err, ErrWriteDropped) {
				return nil
			}
			return err
		}
	}
	c.store(validated, OriginController)
	return nil
}

func (c *Characteristic) store(v any, origin Origin) {
	c.mu.Lock()
	old := c.value
	if reflect.DeepEqual(old, v) {
		c.mu.Unlock()
		return
	}
	c.value = v
	service := c.service
	listeners := make([]func(Change), len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	change := Change{Service: service, Characteristic: c, OldValue: old, NewValue: v, Origin: origin}
	for _, fn := range listeners {
		fn(change)
	}
	if service != nil {
		service.notify(change)
	}
}

// Validate coerces v to the characteristic's format and constraints.
//
// Numbers are clamped to the declared range and rounded to the step;
// integer formats yield int, float yields float64. Values outside the
// valid-values set are rejected.
func (c *Characteristic) Validate(v any) (any, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: nil for %s", ErrInvalidValue, c.Type)
	}
	switch {
	case c.Format == FormatBool:
		b, ok := toBool(v)
		if !ok {
			return nil, fmt.Errorf("%w: %v is not a bool for %s", ErrInvalidValue, v, c.Type)
		}
		return b, nil

	case c.Format.integer() || c.Format == FormatFloat:
		n, ok := ToFloat(v)
		if !ok || math.IsNaN(n) {
			return nil, fmt.Errorf("%w: %v is not numeric for %s", ErrInvalidValue, v, c.Type)
		}
		n = c.constrain(n)
		if c.Format == FormatFloat {
			return n, nil
		}
		i := int(math.Round(n))
		if len(c.ValidValues) > 0 && !containsInt(c.ValidValues, i) {
			return nil, fmt.Errorf("%w: %d not in %v for %s", ErrInvalidValue, i, c.ValidValues, c.Type)
		}
		return i, nil

	case c.Format == FormatString:
		return truncateString(fmt.Sprint(v), maxStringLen), nil
	}
	return v, nil
}

// maxStringLen is the byte limit of string characteristic values.
const maxStringLen = 64

// truncateString cuts s to at most n bytes without splitting a rune.
func truncateString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func (c *Characteristic) constrain(n float64) float64 {
	if c.MinValue != nil && n < *c.MinValue {
		n = *c.MinValue
	}
	if c.MaxValue != nil && n > *c.MaxValue {
		n = *c.MaxValue
	}
	if c.MinStep != nil && *c.MinStep > 0 {
		base := 0.0
		if c.MinValue != nil {
			base = *c.MinValue
		}
		step := *c.MinStep
		n = base + math.Round((n-base)/step)*step
		// Trim floating point noise from the step multiplication.
		n, _ = strconv.ParseFloat(strconv.FormatFloat(n, 'f', 10, 64), 64)
	}
	return n
}

func containsInt(values []int, v int) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func toBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "on":
			return true, true
		case "false", "0", "off", "":
			return false, true
		}
		return false, false
	}
	if n, ok := ToFloat(v); ok {
		return n != 0, true
	}
	return false, false
}

// ToFloat converts numeric values (and numeric strings) to float64.
// Booleans map to 1 and 0.
func ToFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case json.Number:
		n, err := t.Float64()
		return n, err == nil
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return n, err == nil
	}
	return 0, false
}
