package influxdb

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-hap/internal/infrastructure/config"
)

// recordingWriter captures points instead of sending them.
type recordingWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (w *recordingWriter) WritePoint(p *write.Point) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.points = append(w.points, p)
}

func (w *recordingWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushes++
}

func (w *recordingWriter) lines() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.points))
	for _, p := range w.points {
		out = append(out, write.PointToLineProtocol(p, time.Nanosecond))
	}
	return out
}

func newTestClient() (*Client, *recordingWriter) {
	w := &recordingWriter{}
	return &Client{writer: w, connected: true}, w
}

func TestConnect_Disabled(t *testing.T) {
	client, err := Connect(config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
	if client != nil {
		t.Error("Connect() returned a client when disabled")
	}
}

func TestConnect_InvalidURL(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{
		Enabled: true,
		URL:     "http://127.0.0.1:1",
		Bucket:  "hap",
	})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestWriteCharacteristicValue(t *testing.T) {
	tests := []struct {
		name   string
		value  any
		queued bool
		field  string
	}{
		{"bool true", true, true, "value=1"},
		{"bool false", false, true, "value=0"},
		{"int", 42, true, "value=42"},
		{"float", 21.5, true, "value=21.5"},
		{"string skipped", "Hall", false, ""},
		{"nil skipped", nil, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, w := newTestClient()
			ok := client.WriteCharacteristicValue(CharacteristicSample{
				AccessoryID:    "light-1",
				Service:        "Lightbulb",
				Characteristic: "On",
				Origin:         "device",
				Value:          tt.value,
			})
			if ok != tt.queued {
				t.Fatalf("WriteCharacteristicValue() = %v, want %v", ok, tt.queued)
			}
			lines := w.lines()
			if !tt.queued {
				if len(lines) != 0 {
					t.Errorf("points written = %d, want 0", len(lines))
				}
				return
			}
			if len(lines) != 1 {
				t.Fatalf("points written = %d, want 1", len(lines))
			}
			line := lines[0]
			for _, want := range []string{
				MeasurementCharacteristic,
				"accessory_id=light-1",
				"characteristic=On",
				"origin=device",
				tt.field,
			} {
				if !strings.Contains(line, want) {
					t.Errorf("line %q missing %q", line, want)
				}
			}
		})
	}
}

func TestWriteMappingEvent(t *testing.T) {
	client, w := newTestClient()
	client.WriteMappingEvent(MappingEvent{
		DeviceID:    "dev-1",
		Class:       "light",
		Rule:        "light-improved",
		Category:    "lightbulb",
		Percentage:  66.67,
		Secondaries: 1,
		Time:        time.Unix(1700000000, 0),
	})

	lines := w.lines()
	if len(lines) != 1 {
		t.Fatalf("points written = %d, want 1", len(lines))
	}
	for _, want := range []string{
		MeasurementMapping,
		"device_id=dev-1",
		"rule=light-improved",
		"percentage=66.67",
		"fallback=false",
		"secondaries=1i",
	} {
		if !strings.Contains(lines[0], want) {
			t.Errorf("line %q missing %q", lines[0], want)
		}
	}
}

func TestWrites_Disconnected(t *testing.T) {
	client, w := newTestClient()
	client.connected = false

	client.WriteCharacteristicValue(CharacteristicSample{AccessoryID: "a", Value: 1})
	client.WriteMappingEvent(MappingEvent{DeviceID: "a"})
	client.WritePoint("custom", nil, map[string]any{"v": 1})
	client.Flush()

	if n := len(w.lines()); n != 0 {
		t.Errorf("points written while disconnected = %d, want 0", n)
	}
	if w.flushes != 0 {
		t.Errorf("flushes while disconnected = %d, want 0", w.flushes)
	}
}

func TestHealthCheck_NotConnected(t *testing.T) {
	client, _ := newTestClient()
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestClose_Nil(t *testing.T) {
	var client *Client
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil error = %v", err)
	}
	if client.IsConnected() {
		t.Error("nil client reports connected")
	}
}

func TestSetOnError(t *testing.T) {
	client, _ := newTestClient()
	got := make(chan error, 1)
	client.SetOnError(func(err error) { got <- err })

	errs := make(chan error, 1)
	errs <- errors.New("write timeout")
	close(errs)
	client.handleWriteErrors(errs)

	select {
	case err := <-got:
		if err.Error() != "write timeout" {
			t.Errorf("callback error = %v", err)
		}
	default:
		t.Fatal("callback not invoked")
	}
}
