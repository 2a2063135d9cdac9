package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func wsSubscribers(b *Broker, solveID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[solveID])
}

func waitForSubscribers(t *testing.T, b *Broker, solveID string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if wsSubscribers(b, solveID) == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("broker never reached %d subscribers for %s", n, solveID)
}

func dialProgressWS(t *testing.T, s *Server, solveID string) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(s.ProgressWSHandler))
	t.Cleanup(ts.Close)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/solve/" + solveID + "/progress/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	if err := conn.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		t.Fatal(err)
	}
	var ack wsMessage
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatal(err)
	}
	if ack.Type != "connection_ack" {
		t.Fatalf("expected connection_ack, got %q", ack.Type)
	}
	return conn
}

func TestProgressWSStreamsUntilTerminal(t *testing.T) {
	s := testServer(t)
	conn := dialProgressWS(t, s, "ws-solve-1")

	if err := conn.WriteJSON(wsMessage{Type: "subscribe", ID: "sub1"}); err != nil {
		t.Fatal(err)
	}
	waitForSubscribers(t, s.Broker.(*Broker), "ws-solve-1", 1)

	s.Broker.Publish("ws-solve-1", SolveEvent{Type: "solve.progress", Data: map[string]any{"iteration": 10}})
	s.Broker.Publish("ws-solve-1", SolveEvent{Type: "solve.completed"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	want := []string{"solve.progress", "solve.completed"}
	for _, evt := range want {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatal(err)
		}
		if msg.Type != "next" || msg.ID != "sub1" {
			t.Fatalf("expected next frame for sub1, got %+v", msg)
		}
		var body struct {
			Event string `json:"event"`
		}
		if err := json.Unmarshal(msg.Payload, &body); err != nil {
			t.Fatal(err)
		}
		if body.Event != evt {
			t.Fatalf("expected event %s, got %s", evt, body.Event)
		}
	}
	var fin wsMessage
	if err := conn.ReadJSON(&fin); err != nil {
		t.Fatal(err)
	}
	if fin.Type != "complete" || fin.ID != "sub1" {
		t.Fatalf("expected complete frame for sub1, got %+v", fin)
	}
}

func TestProgressWSClientCompleteEndsStream(t *testing.T) {
	s := testServer(t)
	conn := dialProgressWS(t, s, "ws-solve-2")

	if err := conn.WriteJSON(wsMessage{Type: "subscribe", ID: "sub1"}); err != nil {
		t.Fatal(err)
	}
	waitForSubscribers(t, s.Broker.(*Broker), "ws-solve-2", 1)

	if err := conn.WriteJSON(wsMessage{Type: "complete", ID: "sub1"}); err != nil {
		t.Fatal(err)
	}
	waitForSubscribers(t, s.Broker.(*Broker), "ws-solve-2", 0)

	s.Broker.Publish("ws-solve-2", SolveEvent{Type: "solve.completed"})

	// the subscription ended on the client's initiative; no further
	// frame of any kind may arrive for it
	_ = conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var msg wsMessage
	if err := conn.ReadJSON(&msg); err == nil {
		t.Fatalf("unexpected frame after client completion: %+v", msg)
	}
}
