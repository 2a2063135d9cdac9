package notify

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"hubroute/internal/metrics"
)

// Delivery is one pending webhook POST.
type Delivery struct {
	EventType string
	URL       string
	Secret    string
	Payload   []byte
	Attempts  int
}

// Worker drains the delivery queue with exponential backoff on failure.
type Worker struct {
	HTTP        *http.Client
	Stop        chan struct{}
	MaxAttempts int
	queue       chan Delivery
}

type retryItem struct {
	d  Delivery
	at time.Time
}

func NewWorker() *Worker {
	max := 10
	if v := os.Getenv("WEBHOOK_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			max = n
		}
	}
	return &Worker{
		HTTP:        &http.Client{Timeout: 5 * time.Second},
		Stop:        make(chan struct{}),
		MaxAttempts: max,
		queue:       make(chan Delivery, 256),
	}
}

// Enqueue adds a delivery; drops when the queue is full.
func (w *Worker) Enqueue(d Delivery) {
	select {
	case w.queue <- d:
	default:
		metrics.WebhookDeliveries.WithLabelValues(d.EventType, "dropped").Inc()
	}
}

func (w *Worker) Start() {
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		var pending []retryItem
		for {
			select {
			case <-w.Stop:
				return
			case d := <-w.queue:
				w.deliver(d, &pending)
			case <-ticker.C:
				now := time.Now()
				var due []Delivery
				rest := pending[:0]
				for _, it := range pending {
					if it.at.Before(now) {
						due = append(due, it.d)
					} else {
						rest = append(rest, it)
					}
				}
				pending = rest
				for _, d := range due {
					w.deliver(d, &pending)
				}
			}
		}
	}()
}

func (w *Worker) deliver(d Delivery, pending *[]retryItem) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(d.Payload))
	if err != nil {
		metrics.WebhookDeliveries.WithLabelValues(d.EventType, "failed").Inc()
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if d.Secret != "" {
		req.Header.Set("X-Signature", SignHMAC(d.Secret, d.Payload))
		req.Header.Set("X-Event-Type", d.EventType)
	}
	start := time.Now()
	resp, err := w.HTTP.Do(req)
	latency := float64(time.Since(start).Milliseconds())
	success := false
	if err == nil && resp != nil {
		if resp.Body != nil {
			_ = resp.Body.Close()
		}
		success = resp.StatusCode >= 200 && resp.StatusCode < 300
	}
	status := "delivered"
	if !success {
		status = "retry"
	}
	if success {
		metrics.WebhookDeliveries.WithLabelValues(d.EventType, status).Inc()
		metrics.WebhookLatency.WithLabelValues(d.EventType, status).Observe(latency)
		return
	}
	d.Attempts++
	if d.Attempts >= w.MaxAttempts {
		metrics.WebhookDeliveries.WithLabelValues(d.EventType, "failed").Inc()
		return
	}
	metrics.WebhookDeliveries.WithLabelValues(d.EventType, status).Inc()
	*pending = append(*pending, retryItem{d: d, at: time.Now().Add(nextBackoff(d.Attempts))})
}

func nextBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 10 {
		attempts = 10
	}
	base := time.Second * time.Duration(1<<attempts)
	if base > time.Hour {
		base = time.Hour
	}
	return base
}

// EndpointsFromEnv reads WEBHOOK_URLS (comma separated) and WEBHOOK_SECRET.
func EndpointsFromEnv() []Endpoint {
	raw := os.Getenv("WEBHOOK_URLS")
	if raw == "" {
		return nil
	}
	secret := os.Getenv("WEBHOOK_SECRET")
	var out []Endpoint
	for _, u := range strings.Split(raw, ",") {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, Endpoint{URL: u, Secret: secret})
		}
	}
	return out
}
