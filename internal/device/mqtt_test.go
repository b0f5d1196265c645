package device

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-hap/internal/infrastructure/mqtt"
)

type published struct {
	topic   string
	payload []byte
}

// fakeTransport is an in-memory MQTT transport. onPublish lets a test play
// the device side of an exchange.
type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	handlers  map[string]mqtt.MessageHandler
	published []published
	onPublish func(topic string, payload []byte)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{connected: true, handlers: make(map[string]mqtt.MessageHandler)}
}

func (f *fakeTransport) Publish(topic string, payload []byte, _ byte, _ bool) error {
	f.mu.Lock()
	f.published = append(f.published, published{topic: topic, payload: payload})
	hook := f.onPublish
	f.mu.Unlock()
	if hook != nil {
		hook(topic, payload)
	}
	return nil
}

func (f *fakeTransport) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

func (f *fakeTransport) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, topic)
	return nil
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) handler(topic string) mqtt.MessageHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[topic]
}

// deliver routes a message to the handler whose filter matches topic,
// supporting a trailing single-level wildcard.
func (f *fakeTransport) deliver(t *testing.T, topic string, payload []byte) {
	t.Helper()
	f.mu.Lock()
	var h mqtt.MessageHandler
	for filter, candidate := range f.handlers {
		if filter == topic {
			h = candidate
			break
		}
		if prefix, ok := strings.CutSuffix(filter, "+"); ok && strings.HasPrefix(topic, prefix) &&
			!strings.Contains(strings.TrimPrefix(topic, prefix), "/") {
			h = candidate
			break
		}
	}
	f.mu.Unlock()
	if h == nil {
		t.Fatalf("no handler for %s", topic)
	}
	if err := h(topic, payload); err != nil {
		t.Fatalf("handler(%s) error = %v", topic, err)
	}
}

func TestMQTTDevice_StateUpdates(t *testing.T) {
	transport := newFakeTransport()
	dev := NewMQTTDevice(testDescriptor(), transport, time.Second)
	if err := dev.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if transport.handler("graylogic/hap/state/lamp-1/+") == nil {
		t.Fatal("state topics not subscribed")
	}

	var got []any
	sub, err := dev.SubscribeCapability("dim", func(v any) { got = append(got, v) })
	if err != nil {
		t.Fatalf("SubscribeCapability() error = %v", err)
	}

	transport.deliver(t, "graylogic/hap/state/lamp-1/dim", []byte("0.75"))
	transport.deliver(t, "graylogic/hap/state/lamp-1/onoff", []byte("false"))

	if len(got) != 1 || got[0] != 0.75 {
		t.Errorf("dim listener received %v, want [0.75]", got)
	}
	if v, _ := dev.CachedValue("onoff"); v != false {
		t.Errorf("CachedValue(onoff) = %v, want false", v)
	}

	if err := sub.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	transport.deliver(t, "graylogic/hap/state/lamp-1/dim", []byte("0.1"))
	if len(got) != 1 {
		t.Error("stopped subscription still notified")
	}

	if err := dev.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if transport.handler("graylogic/hap/state/lamp-1/+") != nil {
		t.Error("state topics still subscribed after Stop")
	}
}

func TestMQTTDevice_Write(t *testing.T) {
	transport := newFakeTransport()
	dev := NewMQTTDevice(testDescriptor(), transport, time.Second)

	if err := dev.WriteCapability(context.Background(), "onoff", true); err != nil {
		t.Fatalf("WriteCapability() error = %v", err)
	}
	if len(transport.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(transport.published))
	}
	msg := transport.published[0]
	if msg.topic != "graylogic/hap/command/lamp-1/onoff" {
		t.Errorf("topic = %q", msg.topic)
	}
	var cmd CommandPayload
	if err := json.Unmarshal(msg.payload, &cmd); err != nil {
		t.Fatalf("decoding command: %v", err)
	}
	if cmd.Value != true {
		t.Errorf("command value = %v, want true", cmd.Value)
	}
}

func TestMQTTDevice_Read(t *testing.T) {
	transport := newFakeTransport()
	dev := NewMQTTDevice(testDescriptor(), transport, time.Second)

	transport.onPublish = func(topic string, payload []byte) {
		if topic != "graylogic/hap/request/lamp-1" {
			return
		}
		var req ReadRequestPayload
		if err := json.Unmarshal(payload, &req); err != nil {
			t.Errorf("decoding request: %v", err)
			return
		}
		resp, _ := json.Marshal(ReadResponsePayload{Value: 21.5})
		transport.deliver(t, "graylogic/hap/response/"+req.RequestID, resp)
	}

	v, err := dev.ReadCapability(context.Background(), "measure_temperature")
	if err != nil {
		t.Fatalf("ReadCapability() error = %v", err)
	}
	if v != 21.5 {
		t.Errorf("ReadCapability() = %v, want 21.5", v)
	}
	if cached, _ := dev.CachedValue("measure_temperature"); cached != 21.5 {
		t.Errorf("read value not cached: %v", cached)
	}
	if len(transport.handlers) != 0 {
		t.Errorf("response subscription left behind: %v", transport.handlers)
	}
}

func TestMQTTDevice_ReadErrors(t *testing.T) {
	transport := newFakeTransport()
	dev := NewMQTTDevice(testDescriptor(), transport, 20*time.Millisecond)

	if _, err := dev.ReadCapability(context.Background(), "dim"); !errors.Is(err, ErrReadTimeout) {
		t.Errorf("unanswered read error = %v, want ErrReadTimeout", err)
	}

	transport.connected = false
	if _, err := dev.ReadCapability(context.Background(), "dim"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected read error = %v, want ErrNotConnected", err)
	}
	if err := dev.WriteCapability(context.Background(), "dim", 1); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected write error = %v, want ErrNotConnected", err)
	}
	if _, err := dev.SubscribeCapability("dim", func(any) {}); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("disconnected subscribe error = %v, want ErrSubscribeFailed", err)
	}
}

func TestMQTTDevice_UpdateDescriptor(t *testing.T) {
	dev := NewMQTTDevice(testDescriptor(), newFakeTransport(), 0)

	next := testDescriptor()
	next.Name = "Renamed"
	next.Values = map[string]any{"dim": 1.0}
	dev.UpdateDescriptor(next)

	desc := dev.Descriptor()
	if desc.Name != "Renamed" {
		t.Errorf("Name = %q, want Renamed", desc.Name)
	}
	if desc.Values["dim"] != 1.0 || desc.Values["onoff"] != true {
		t.Errorf("Values = %v, want merged cache", desc.Values)
	}
}
