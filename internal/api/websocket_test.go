package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oikomaticz/oikomaticz-core/internal/auth"
	"github.com/oikomaticz/oikomaticz-core/internal/device"
	"github.com/oikomaticz/oikomaticz-core/internal/hardware"
	"github.com/oikomaticz/oikomaticz-core/internal/mainworker"
)

// dialWS issues a ticket for username and opens a WebSocket to srv.
func dialWS(t *testing.T, env *testEnv, srv *httptest.Server, username string) (*websocket.Conn, string) {
	t.Helper()

	rec := env.do(t, http.MethodPost, "/api/v1/auth/ws-ticket", env.token(t, username), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ws-ticket status = %d", rec.Code)
	}
	ticket, _ := decode[map[string]any](t, rec)["ticket"].(string)
	if ticket == "" {
		t.Fatal("empty ticket")
	}

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?ticket=" + ticket
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, ticket
}

func readWS(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // Test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func subscribe(t *testing.T, conn *websocket.Conn, channels ...string) WSMessage {
	t.Helper()
	err := conn.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: channels},
	})
	if err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	return readWS(t, conn)
}

func TestWebSocket_DeviceChangedBroadcast(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	conn, _ := dialWS(t, env, srv, "viewer")

	if resp := subscribe(t, conn, ChannelDeviceChanged); resp.Type != WSTypeResponse || resp.ID != "sub-1" {
		t.Fatalf("subscribe response = %+v", resp)
	}

	hub := env.server.Hub()
	if hub.ClientCount() != 1 {
		t.Fatalf("ClientCount() = %d, want 1", hub.ClientCount())
	}

	// Not subscribed: must not arrive before the device event.
	hub.HardwareStatusChanged(hardware.Info{ID: 1, Status: hardware.StatusFailed})

	d := device.Device{Idx: 1, Name: "Lamp", NValue: device.SwitchOn}
	d.Type = device.TypeGeneralSwitch
	if err := hub.DeviceChanged(context.Background(), mainworker.DeviceChange{
		Device: d,
		Source: mainworker.SourceCommand,
	}); err != nil {
		t.Fatalf("DeviceChanged() error = %v", err)
	}

	msg := readWS(t, conn)
	if msg.Type != WSTypeEvent || msg.EventType != ChannelDeviceChanged {
		t.Fatalf("event = %+v", msg)
	}
	raw, _ := json.Marshal(msg.Payload)
	var payload struct {
		Device deviceView `json:"device"`
		Source string     `json:"source"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.Device.Idx != 1 || payload.Device.NValue != device.SwitchOn || payload.Device.TypeName != "Light/Switch" {
		t.Errorf("payload device = %+v", payload.Device)
	}
	if payload.Source != string(mainworker.SourceCommand) {
		t.Errorf("payload source = %q", payload.Source)
	}
}

func TestWebSocket_UnknownChannel(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	conn, _ := dialWS(t, env, srv, "viewer")
	if resp := subscribe(t, conn, "panel.state"); resp.Type != WSTypeError {
		t.Errorf("subscribe unknown channel type = %q, want error", resp.Type)
	}
}

func TestWebSocket_Ping(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	conn, _ := dialWS(t, env, srv, "viewer")
	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "p"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readWS(t, conn); msg.Type != WSTypePong || msg.ID != "p" {
		t.Errorf("ping reply = %+v", msg)
	}
}

func TestWebSocket_TicketRequired(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(base, nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("dial without ticket: err = %v, resp = %v", err, resp)
	}

	_, ticket := dialWS(t, env, srv, "viewer")
	_, resp, err = websocket.DefaultDialer.Dial(base+"?ticket="+ticket, nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("reused ticket: err = %v, resp = %v", err, resp)
	}
}

func TestTicketStore_Expiry(t *testing.T) {
	store := newTicketStore()
	now := time.Now()
	ticket := store.issue(&auth.Claims{Role: auth.RoleViewer}, now)

	if _, ok := store.consume(ticket, now.Add(ticketTTL+time.Second)); ok {
		t.Error("expired ticket accepted")
	}

	ticket = store.issue(&auth.Claims{Role: auth.RoleViewer}, now)
	store.expire(now.Add(ticketTTL + time.Second))
	if _, ok := store.consume(ticket, now); ok {
		t.Error("ticket survived expire()")
	}
}
