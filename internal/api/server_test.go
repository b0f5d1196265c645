package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-hap/internal/bridge"
	"github.com/nerrad567/gray-logic-hap/internal/device"
	"github.com/nerrad567/gray-logic-hap/internal/hap"
	"github.com/nerrad567/gray-logic-hap/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hap/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-hap/internal/mapping"
	"github.com/nerrad567/gray-logic-hap/internal/rules"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

// testServer creates a Server over a bridge with one mapped lamp.
func testServer(t *testing.T, secret string) (*Server, *device.MemoryDevice) {
	t.Helper()
	log := testLogger()

	light, err := rules.NewBuilder("light", rules.MatchClasses("light"), hap.ServiceLightbulb).
		Category(hap.CategoryLightbulb).
		Required("onoff", rules.OnOff()).
		Optional("dim", rules.Dim()).
		Build()
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	ruleSet := rules.NewRegistry()
	if err := ruleSet.Add(light); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	wsCfg := config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}
	hub := NewHub(wsCfg, log)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	b, err := bridge.New(bridge.Options{
		Mapping:     mapping.Options{Rules: ruleSet},
		Registry:    device.NewRegistry(nil),
		Broadcaster: hub,
		Logger:      log,
	})
	if err != nil {
		t.Fatalf("bridge.New() error: %v", err)
	}
	t.Cleanup(b.Stop)

	dev := device.NewMemoryDevice(device.Descriptor{
		ID:           "lamp",
		Name:         "Lamp",
		Class:        "light",
		Zone:         "Kitchen",
		Capabilities: []string{"onoff", "dim"},
		UI:           []device.UIComponent{{ID: "main", Capabilities: []string{"onoff", "dim"}}},
		Values:       map[string]any{"onoff": true, "dim": 0.5},
	})
	if _, err := b.AddDevice(context.Background(), dev); err != nil {
		t.Fatalf("AddDevice() error: %v", err)
	}

	srv, err := New(Deps{
		Config: config.APIConfig{Host: "127.0.0.1", Port: 0},
		WS:     wsCfg,
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{Secret: secret, AccessTokenTTL: 15},
		},
		Logger:  log,
		Bridge:  b,
		Hub:     hub,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv, dev
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return out
}

// iidOf returns the instance id of a characteristic on the lamp.
func iidOf(t *testing.T, srv *Server, st hap.ServiceType, ct hap.CharacteristicType) string {
	t.Helper()
	md, err := srv.bridge.Engine().Device("lamp")
	if err != nil {
		t.Fatal(err)
	}
	c := md.Accessory().Service(st).Characteristic(ct)
	if c == nil {
		t.Fatalf("%s missing", ct)
	}
	return strconv.FormatUint(c.IID(), 10)
}

// ─── Health & Middleware Tests ─────────────────────────────────────

func TestHealth(t *testing.T) {
	srv, _ := testServer(t, testSecret)
	w := do(t, srv.Handler(), http.MethodGet, "/api/v1/health", "")

	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	resp := decode(t, w)
	if resp["status"] != "ok" || resp["version"] != "test" {
		t.Errorf("health = %v", resp)
	}
	counts, _ := resp["bridge"].(map[string]any)
	if counts["mapped"] != float64(1) {
		t.Errorf("bridge counts = %v, want mapped 1", counts)
	}
}

func TestRequestID(t *testing.T) {
	srv, _ := testServer(t, "")
	h := srv.Handler()

	w := do(t, h, http.MethodGet, "/api/v1/health", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want client-123", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv, _ := testServer(t, "")

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/accessories", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q", got)
	}
}

func TestNotFound(t *testing.T) {
	srv, _ := testServer(t, "")
	if w := do(t, srv.Handler(), http.MethodGet, "/api/v1/nonexistent", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── Auth Tests ────────────────────────────────────────────────────

func TestAuth(t *testing.T) {
	srv, _ := testServer(t, testSecret)
	h := srv.Handler()

	valid, _, err := IssueToken(srv.secCfg.JWT, "tester", time.Now())
	if err != nil {
		t.Fatalf("IssueToken() error: %v", err)
	}
	foreign, _, err := IssueToken(config.JWTConfig{Secret: "another-secret-another-secret-123"}, "tester", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	expired, _, err := IssueToken(srv.secCfg.JWT, "tester", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + valid, "", http.StatusUnauthorized},
		{"foreign secret", "Bearer " + foreign, "", http.StatusUnauthorized},
		{"expired", "Bearer " + expired, "", http.StatusUnauthorized},
		{"valid header", "Bearer " + valid, "", http.StatusOK},
		{"valid query", "", "?token=" + valid, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/accessories"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestIssueToken(t *testing.T) {
	if _, _, err := IssueToken(config.JWTConfig{}, "x", time.Now()); !errors.Is(err, ErrNoSecret) {
		t.Errorf("IssueToken() without secret error = %v, want ErrNoSecret", err)
	}

	cfg := config.JWTConfig{Secret: testSecret}
	now := time.Now()
	token, expires, err := IssueToken(cfg, "installer", now)
	if err != nil {
		t.Fatal(err)
	}
	if got := expires.Sub(now); got != defaultTokenTTL {
		t.Errorf("ttl = %v, want %v", got, defaultTokenTTL)
	}
	claims, err := ParseToken(cfg, token)
	if err != nil {
		t.Fatalf("ParseToken() error: %v", err)
	}
	if claims.Subject != "installer" || claims.Issuer != TokenIssuer || claims.ID == "" {
		t.Errorf("claims = %+v", claims)
	}
}

// ─── Accessory Tests ───────────────────────────────────────────────

func TestListAccessories(t *testing.T) {
	srv, _ := testServer(t, "")
	w := do(t, srv.Handler(), http.MethodGet, "/api/v1/accessories", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decode(t, w)
	if resp["count"] != float64(1) {
		t.Fatalf("count = %v, want 1", resp["count"])
	}
	first := resp["accessories"].([]any)[0].(map[string]any)
	if first["id"] != "lamp" || first["category"] != "lightbulb" {
		t.Errorf("accessory = %v", first)
	}
}

func TestGetAccessory(t *testing.T) {
	srv, _ := testServer(t, "")
	h := srv.Handler()

	w := do(t, h, http.MethodGet, "/api/v1/accessories/lamp", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if services := decode(t, w)["services"].([]any); len(services) != 2 {
		t.Errorf("services = %d, want information and lightbulb", len(services))
	}

	if w := do(t, h, http.MethodGet, "/api/v1/accessories/ghost", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown accessory status = %d, want 404", w.Code)
	}
}

func TestGetCharacteristic(t *testing.T) {
	srv, _ := testServer(t, "")
	h := srv.Handler()
	path := "/api/v1/accessories/lamp/characteristics/" + iidOf(t, srv, hap.ServiceLightbulb, hap.CharBrightness)

	w := do(t, h, http.MethodGet, path, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if v := decode(t, w)["value"]; v != float64(50) {
		t.Errorf("Brightness = %v, want 50", v)
	}

	if w := do(t, h, http.MethodGet, "/api/v1/accessories/lamp/characteristics/abc", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad iid status = %d, want 400", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/api/v1/accessories/lamp/characteristics/999", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown iid status = %d, want 404", w.Code)
	}
}

func TestSetCharacteristic(t *testing.T) {
	srv, dev := testServer(t, "")
	h := srv.Handler()
	path := "/api/v1/accessories/lamp/characteristics/" + iidOf(t, srv, hap.ServiceLightbulb, hap.CharOn)

	w := do(t, h, http.MethodPut, path, `{"value": false}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if v := decode(t, w)["value"]; v != false {
		t.Errorf("response value = %v, want false", v)
	}
	writes := dev.Writes()
	if len(writes) != 1 || writes[0].Capability != "onoff" || writes[0].Value != false {
		t.Errorf("device writes = %+v", writes)
	}
}

func TestSetCharacteristic_Errors(t *testing.T) {
	srv, dev := testServer(t, "")
	h := srv.Handler()
	brightness := "/api/v1/accessories/lamp/characteristics/" + iidOf(t, srv, hap.ServiceLightbulb, hap.CharBrightness)
	manufacturer := "/api/v1/accessories/lamp/characteristics/" + iidOf(t, srv, hap.ServiceAccessoryInformation, hap.CharManufacturer)

	tests := []struct {
		name     string
		path     string
		body     string
		wantCode int
		wantErr  string
	}{
		{"invalid json", brightness, `{`, http.StatusBadRequest, ErrCodeBadRequest},
		{"missing value", brightness, `{}`, http.StatusBadRequest, ErrCodeBadRequest},
		{"not numeric", brightness, `{"value": "bright"}`, http.StatusBadRequest, ErrCodeValidation},
		{"read only", manufacturer, `{"value": "acme"}`, http.StatusMethodNotAllowed, ErrCodeNotPermitted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPut, tt.path, tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantCode, w.Body.String())
			}
			if code := decode(t, w)["code"]; code != tt.wantErr {
				t.Errorf("code = %v, want %s", code, tt.wantErr)
			}
		})
	}
	if len(dev.Writes()) != 0 {
		t.Errorf("rejected writes reached the device: %+v", dev.Writes())
	}
}

// ─── Device Tests ──────────────────────────────────────────────────

func TestListDevices(t *testing.T) {
	srv, _ := testServer(t, "")
	w := do(t, srv.Handler(), http.MethodGet, "/api/v1/devices", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decode(t, w)
	devices := resp["devices"].([]any)
	if len(devices) != 1 {
		t.Fatalf("devices = %d, want 1", len(devices))
	}
	lamp := devices[0].(map[string]any)
	if lamp["id"] != "lamp" || lamp["accessorized"] != true {
		t.Errorf("device = %v", lamp)
	}
	if m, _ := lamp["mapping"].(map[string]any); m["primary_rule"] != "light" {
		t.Errorf("mapping = %v", lamp["mapping"])
	}
}

func TestGetDevice_NotFound(t *testing.T) {
	srv, _ := testServer(t, "")
	if w := do(t, srv.Handler(), http.MethodGet, "/api/v1/devices/ghost", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestDeviceDiagnostics(t *testing.T) {
	srv, _ := testServer(t, "")
	h := srv.Handler()

	w := do(t, h, http.MethodGet, "/api/v1/devices/lamp/diagnostics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decode(t, w)
	if resp["primary_rule"] != "light" || resp["accessorized"] != true {
		t.Errorf("diagnostics = %v", resp)
	}

	w = do(t, h, http.MethodGet, "/api/v1/diagnostics", "")
	if w.Code != http.StatusOK || decode(t, w)["mapped"] != float64(1) {
		t.Errorf("engine diagnostics = %d %s", w.Code, w.Body.String())
	}
}

func TestGetCapability(t *testing.T) {
	srv, _ := testServer(t, "")
	h := srv.Handler()

	w := do(t, h, http.MethodGet, "/api/v1/devices/lamp/capabilities/dim", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if v := decode(t, w)["value"]; v != 0.5 {
		t.Errorf("dim = %v, want 0.5", v)
	}
	if w := do(t, h, http.MethodGet, "/api/v1/devices/lamp/capabilities/measure_power", ""); w.Code != http.StatusNotFound {
		t.Errorf("undeclared capability status = %d, want 404", w.Code)
	}
}

func TestForgetAndRemap(t *testing.T) {
	srv, _ := testServer(t, "")
	h := srv.Handler()

	if w := do(t, h, http.MethodDelete, "/api/v1/devices/lamp/mapping", ""); w.Code != http.StatusOK {
		t.Fatalf("forget status = %d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/api/v1/accessories/lamp", ""); w.Code != http.StatusNotFound {
		t.Errorf("forgotten accessory status = %d, want 404", w.Code)
	}
	if w := do(t, h, http.MethodDelete, "/api/v1/devices/lamp/mapping", ""); w.Code != http.StatusNotFound {
		t.Errorf("second forget status = %d, want 404", w.Code)
	}

	if w := do(t, h, http.MethodPost, "/api/v1/devices/lamp/mapping", ""); w.Code != http.StatusOK {
		t.Fatalf("remap status = %d: %s", w.Code, w.Body.String())
	}
	if w := do(t, h, http.MethodGet, "/api/v1/accessories/lamp", ""); w.Code != http.StatusOK {
		t.Errorf("remapped accessory status = %d, want 200", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/v1/devices/ghost/mapping", ""); w.Code != http.StatusNotFound {
		t.Errorf("remap unknown status = %d, want 404", w.Code)
	}
}

// ─── WebSocket Tests ───────────────────────────────────────────────

func TestWebSocket_StreamsCharacteristicChanges(t *testing.T) {
	srv, dev := testServer(t, testSecret)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	token, _, err := IssueToken(srv.secCfg.JWT, "panel", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"

	if _, resp, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Fatal("dial without token succeeded")
	} else if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("dial without token: %v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(url+"?token="+token, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	//nolint:errcheck // test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	read := func() WSMessage {
		t.Helper()
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		return msg
	}

	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}); err != nil {
		t.Fatal(err)
	}
	if msg := read(); msg.Type != WSTypePong || msg.ID != "p1" {
		t.Errorf("ping reply = %+v", msg)
	}

	sub := WSMessage{Type: WSTypeSubscribe, ID: "s1", Payload: WSSubscribePayload{Channels: []string{bridge.ChannelCharacteristicChanged}}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatal(err)
	}
	if msg := read(); msg.Type != WSTypeResponse || msg.ID != "s1" {
		t.Fatalf("subscribe reply = %+v", msg)
	}

	dev.Push("onoff", false)

	msg := read()
	if msg.Type != WSTypeEvent || msg.EventType != bridge.ChannelCharacteristicChanged {
		t.Fatalf("event = %+v", msg)
	}
	payload, _ := msg.Payload.(map[string]any)
	if payload["accessory_id"] != "lamp" || payload["value"] != false || payload["origin"] != "device" {
		t.Errorf("payload = %v", payload)
	}
}

func TestWebSocket_RejectsBadMessages(t *testing.T) {
	srv, _ := testServer(t, "")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/v1/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	//nolint:errcheck // test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	for _, raw := range []string{`not json`, `{"type":"dance","id":"x"}`, `{"type":"subscribe","id":"y","payload":{}}`} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
			t.Fatal(err)
		}
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg.Type != WSTypeError {
			t.Errorf("%s: reply type = %q, want error", raw, msg.Type)
		}
	}
}

// ─── Hub Tests ─────────────────────────────────────────────────────

func TestHub_BroadcastToSubscribed(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	subscribed := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{bridge.ChannelDeviceMapped: {}},
	}
	other := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{bridge.ChannelDeviceRemoved: {}},
	}
	hub.Register(subscribed)
	hub.Register(other)

	hub.Broadcast(bridge.ChannelDeviceMapped, map[string]any{"device_id": "lamp"})

	select {
	case msg := <-subscribed.send:
		var wsMsg WSMessage
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if wsMsg.EventType != bridge.ChannelDeviceMapped {
			t.Errorf("event_type = %q", wsMsg.EventType)
		}
	case <-time.After(time.Second):
		t.Error("timed out waiting for broadcast message")
	}

	select {
	case <-other.send:
		t.Error("unsubscribed client should not receive message")
	default:
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, testLogger())

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}

	hub.Unregister(client)
	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}
	// Sending to a closed client is absorbed.
	client.trySend([]byte("late"))
}
