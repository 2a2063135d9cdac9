package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// wsSub is one live subscription. cancelled marks client-initiated
// completion; the streaming goroutine then skips its complete frame.
type wsSub struct {
	ch        chan SolveEvent
	cancelled atomic.Bool
}

// ProgressWSHandler handles GET /v1/solve/{id}/progress/ws. The client
// sends connection_init, then subscribe messages; each subscribe streams
// the solve's events as next messages until complete.
func (s *Server) ProgressWSHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/solve/")
	solveID := strings.TrimSuffix(rest, "/progress/ws")
	if solveID == "" || solveID == rest {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing solve id", r.URL.Path)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	subs := map[string]*wsSub{}

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

	// gorilla allows one concurrent writer; the keepalive and subscription
	// goroutines share the connection
	var wmu sync.Mutex
	write := func(v any) error {
		wmu.Lock()
		defer wmu.Unlock()
		return conn.WriteJSON(v)
	}

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		switch msg.Type {
		case "connection_init":
			_ = write(wsMessage{Type: "connection_ack"})
			go func() {
				ticker := time.NewTicker(20 * time.Second)
				defer ticker.Stop()
				for range ticker.C {
					if err := write(wsMessage{Type: "ping"}); err != nil {
						return
					}
				}
			}()
		case "ping":
			_ = write(wsMessage{Type: "pong"})
		case "subscribe":
			if _, dup := subs[msg.ID]; dup {
				continue
			}
			sub := &wsSub{ch: s.Broker.Subscribe(solveID)}
			subs[msg.ID] = sub
			go func(id string, sub *wsSub) {
				for evt := range sub.ch {
					payload, _ := json.Marshal(map[string]any{"event": evt.Type, "data": evt.Data})
					if err := write(wsMessage{Type: "next", ID: id, Payload: payload}); err != nil {
						return
					}
					if evt.Type == "solve.completed" || evt.Type == "solve.failed" {
						break
					}
				}
				if !sub.cancelled.Load() {
					_ = write(wsMessage{Type: "complete", ID: id})
				}
			}(msg.ID, sub)
		case "complete":
			if sub, ok := subs[msg.ID]; ok {
				sub.cancelled.Store(true)
				s.Broker.Unsubscribe(solveID, sub.ch)
				delete(subs, msg.ID)
			}
		default:
			// ignore
		}
	}
	for id, sub := range subs {
		sub.cancelled.Store(true)
		s.Broker.Unsubscribe(solveID, sub.ch)
		delete(subs, id)
	}
}
