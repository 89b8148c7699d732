package shim

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Module is a loaded handler module. What it can do is decided by which of
// the capability interfaces below it implements.
type Module any

// Starter is the optional one-time startup hook.
type Starter interface {
	Start(ctx context.Context, env *Env) error
}

// FetchHandler serves HTTP requests.
type FetchHandler interface {
	Fetch(ctx context.Context, req *http.Request, env *Env) (*Response, error)
}

// ScheduledHandler handles cron triggers.
type ScheduledHandler interface {
	Scheduled(ctx context.Context, event *ScheduledEvent, env *Env) error
}

// QueueHandler consumes message batches.
type QueueHandler interface {
	Queue(ctx context.Context, batch *MessageBatch, env *Env) error
}

// Capability names one of the functions a module can export.
type Capability string

const (
	CapStart     Capability = "start"
	CapFetch     Capability = "fetch"
	CapScheduled Capability = "scheduled"
	CapQueue     Capability = "queue"
)

// Capabilities lists the capabilities mod implements.
func Capabilities(mod Module) []Capability {
	var caps []Capability
	if _, ok := mod.(Starter); ok {
		caps = append(caps, CapStart)
	}
	if _, ok := mod.(FetchHandler); ok {
		caps = append(caps, CapFetch)
	}
	if _, ok := mod.(ScheduledHandler); ok {
		caps = append(caps, CapScheduled)
	}
	if _, ok := mod.(QueueHandler); ok {
		caps = append(caps, CapQueue)
	}
	return caps
}

// Response is the result of a fetch call.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// NewResponse builds a plain response.
func NewResponse(status int, body []byte) *Response {
	return &Response{Status: status, Header: make(http.Header), Body: body}
}

// JSON builds a response carrying v encoded as JSON.
func JSON(status int, v any) (*Response, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	resp := NewResponse(status, data)
	resp.Header.Set("Content-Type", "application/json")
	return resp, nil
}

// Write copies the response to w. A zero status is sent as 200.
func (r *Response) Write(w http.ResponseWriter) error {
	for k, vs := range r.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	status := r.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, err := w.Write(r.Body)
	return err
}

// ScheduledEvent describes a cron trigger firing.
type ScheduledEvent struct {
	Cron          string    `json:"cron"`
	ScheduledTime time.Time `json:"scheduled_time"`
}
