package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the bridge.
const (
	MeasurementCharacteristic = "hap_characteristic"
	MeasurementMapping        = "hap_mapping"
)

// CharacteristicSample is one accessory characteristic value.
type CharacteristicSample struct {
	AccessoryID    string
	Service        string
	Characteristic string
	Origin         string
	Value          any
	Time           time.Time
}

// MappingEvent records the outcome of mapping one device.
type MappingEvent struct {
	DeviceID    string
	Class       string
	Rule        string
	Category    string
	Percentage  float64
	Fallback    bool
	Secondaries int
	Time        time.Time
}

// WriteCharacteristicValue records a characteristic change.
//
// Booleans are stored as 0/1 so the "value" field keeps a single numeric type.
// Values of any other kind (strings, nil) are skipped.
//
// Returns:
//   - bool: true if a point was queued
func (c *Client) WriteCharacteristicValue(s CharacteristicSample) bool {
	if !c.IsConnected() {
		return false
	}

	value, ok := numericField(s.Value)
	if !ok {
		return false
	}

	tags := map[string]string{
		"accessory_id":   s.AccessoryID,
		"service":        s.Service,
		"characteristic": s.Characteristic,
	}
	if s.Origin != "" {
		tags["origin"] = s.Origin
	}

	c.writer.WritePoint(write.NewPoint(
		MeasurementCharacteristic,
		tags,
		map[string]any{"value": value},
		timestampOrNow(s.Time),
	))
	return true
}

// WriteMappingEvent records which rule was selected for a device.
func (c *Client) WriteMappingEvent(e MappingEvent) {
	if !c.IsConnected() {
		return
	}

	c.writer.WritePoint(write.NewPoint(
		MeasurementMapping,
		map[string]string{
			"device_id": e.DeviceID,
			"class":     e.Class,
			"rule":      e.Rule,
			"category":  e.Category,
		},
		map[string]any{
			"percentage":  e.Percentage,
			"fallback":    e.Fallback,
			"secondaries": e.Secondaries,
		},
		timestampOrNow(e.Time),
	))
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Example:
//
//	client.WritePoint("bridge_stats",
//	    map[string]string{"site": "home"},
//	    map[string]any{"accessories": 12})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}

	c.writer.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

func timestampOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

func numericField(v any) (float64, bool) {
	switch n := v.(type) {
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
