package notify

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSignAndVerifyHMAC(t *testing.T) {
	body := []byte(`{"type":"solution.completed"}`)
	sig := SignHMAC("secret", body)
	if !VerifyHMAC("secret", body, sig) {
		t.Fatal("valid signature rejected")
	}
	if VerifyHMAC("wrong", body, sig) {
		t.Fatal("signature verified with wrong secret")
	}
	if VerifyHMAC("secret", []byte("tampered"), sig) {
		t.Fatal("signature verified for tampered body")
	}
	if VerifyHMAC("secret", body, "not-hex") {
		t.Fatal("garbage signature verified")
	}
}

func TestWorkerDeliversSignedEvent(t *testing.T) {
	received := make(chan *http.Request, 1)
	bodyCh := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodyCh <- b
		received <- r
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWorker()
	w.Start()
	defer close(w.Stop)

	pub := NewPublisher([]Endpoint{{URL: srv.URL, Secret: "s3cret"}}, w)
	pub.Emit(EventSolutionCompleted, map[string]any{"solveId": "s1"})

	select {
	case r := <-received:
		body := <-bodyCh
		if r.Header.Get("X-Event-Type") != EventSolutionCompleted {
			t.Fatalf("event type header = %s", r.Header.Get("X-Event-Type"))
		}
		if !VerifyHMAC("s3cret", body, r.Header.Get("X-Signature")) {
			t.Fatal("delivery signature invalid")
		}
		var payload struct {
			Type string         `json:"type"`
			Data map[string]any `json:"data"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatal(err)
		}
		if payload.Type != EventSolutionCompleted || payload.Data["solveId"] != "s1" {
			t.Fatalf("payload = %+v", payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("delivery never arrived")
	}
}

func TestWorkerRetriesUntilSuccess(t *testing.T) {
	attempts := make(chan int, 8)
	count := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count++
		attempts <- count
		if count < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := NewWorker()
	w.Start()
	defer close(w.Stop)

	w.Enqueue(Delivery{EventType: EventSolveFailed, URL: srv.URL, Payload: []byte("{}")})

	deadline := time.After(10 * time.Second)
	for {
		select {
		case n := <-attempts:
			if n >= 2 {
				return // retried and succeeded
			}
		case <-deadline:
			t.Fatal("second attempt never came")
		}
	}
}

func TestEmitWithoutEndpointsIsNoop(t *testing.T) {
	pub := NewPublisher(nil, nil)
	pub.Emit(EventSolutionCompleted, nil) // must not panic
}

func TestBackoffCapped(t *testing.T) {
	if nextBackoff(0) != time.Second {
		t.Fatalf("backoff(0) = %v", nextBackoff(0))
	}
	if nextBackoff(3) != 8*time.Second {
		t.Fatalf("backoff(3) = %v", nextBackoff(3))
	}
	if nextBackoff(50) != time.Hour {
		t.Fatalf("backoff(50) = %v", nextBackoff(50))
	}
}
