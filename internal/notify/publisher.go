// Package notify delivers solve lifecycle events to webhook endpoints.
package notify

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types emitted by the solver.
const (
	EventSolutionCompleted  = "solution.completed"
	EventSolutionInfeasible = "solution.infeasible"
	EventSolveFailed        = "solve.failed"
)

// Endpoint is one webhook destination with its shared signing secret.
type Endpoint struct {
	URL    string
	Secret string
}

type Publisher struct {
	endpoints []Endpoint
	worker    *Worker
}

func NewPublisher(endpoints []Endpoint, w *Worker) *Publisher {
	return &Publisher{endpoints: endpoints, worker: w}
}

// Emit enqueues an event for every configured endpoint. Delivery is
// asynchronous; a full queue drops the delivery rather than blocking the
// solve path.
func (p *Publisher) Emit(eventType string, data any) {
	if p == nil || len(p.endpoints) == 0 {
		return
	}
	payload := map[string]any{
		"id":   fmt.Sprintf("evt_%d", time.Now().UnixNano()),
		"type": eventType,
		"ts":   time.Now().UTC().Format(time.RFC3339),
		"data": data,
	}
	body, _ := json.Marshal(payload)
	for _, ep := range p.endpoints {
		p.worker.Enqueue(Delivery{EventType: eventType, URL: ep.URL, Secret: ep.Secret, Payload: body})
	}
}
