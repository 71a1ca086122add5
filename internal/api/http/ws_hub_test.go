package apihttp

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialWS(t *testing.T, httpURL string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(httpURL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWS_NewClientReceivesCurrentState(t *testing.T) {
	f := newServerFixture(t)
	ts := httptest.NewServer(f.srv)
	defer ts.Close()

	conn := dialWS(t, ts.URL)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != "state" {
		t.Errorf("expected a state message on connect, got %q", msg.Type)
	}
}

func TestWS_CommandsReachTheController(t *testing.T) {
	f := newServerFixture(t)
	ts := httptest.NewServer(f.srv)
	defer ts.Close()

	conn := dialWS(t, ts.URL)
	if err := conn.WriteJSON(wsCommand{Action: "play"}); err != nil {
		t.Fatalf("write command: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.controller.mu.Lock()
		plays := f.controller.plays
		f.controller.mu.Unlock()
		if plays == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("play command never reached the controller")
}

func TestWS_SeekCommandCarriesPosition(t *testing.T) {
	f := newServerFixture(t)
	ts := httptest.NewServer(f.srv)
	defer ts.Close()

	conn := dialWS(t, ts.URL)
	if err := conn.WriteJSON(wsCommand{Action: "seek", Position: 654.3}); err != nil {
		t.Fatalf("write command: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.controller.mu.Lock()
		seeks := append([]float64(nil), f.controller.seeks...)
		f.controller.mu.Unlock()
		if len(seeks) == 1 {
			if seeks[0] != 654.3 {
				t.Fatalf("expected seek 654.3, got %v", seeks)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("seek command never reached the controller")
}
