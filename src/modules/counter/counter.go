// Package counter is the module the host runs by default. It counts hits in
// KV, records cron ticks, and stores queue messages in the database.
package counter

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"worker-host/src/bindings"
	"worker-host/src/shim"
)

const Name = "counter"

func init() {
	shim.Register(Name, func(context.Context) (shim.Module, error) {
		return New(), nil
	})
}

const createEvents = `CREATE TABLE IF NOT EXISTS events (
	id          TEXT PRIMARY KEY,
	queue       TEXT NOT NULL,
	body        TEXT NOT NULL,
	attempts    INT NOT NULL DEFAULT 0,
	received_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// Module implements every shim capability.
type Module struct {
	startedAt time.Time
}

func New() *Module {
	return &Module{}
}

// Start creates the events table when a database is bound.
func (m *Module) Start(ctx context.Context, env *shim.Env) error {
	m.startedAt = time.Now()
	db, err := shim.Binding[*bindings.Database](env, "DB")
	if errors.Is(err, shim.ErrBindingNotFound) {
		log.Println("counter: no DB binding, events will not be stored")
		return nil
	}
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, createEvents)
	return err
}

func (m *Module) Fetch(ctx context.Context, req *http.Request, env *shim.Env) (*shim.Response, error) {
	switch {
	case req.Method == http.MethodGet && req.URL.Path == "/hits":
		return m.hits(ctx, env)
	case req.Method == http.MethodPost && req.URL.Path == "/enqueue":
		return m.enqueue(ctx, req, env)
	case req.Method == http.MethodGet && req.URL.Path == "/events":
		return m.events(ctx, env)
	case req.Method == http.MethodGet && req.URL.Path == "/":
		greeting, ok := env.Var("GREETING")
		if !ok {
			greeting = "worker-host counter module"
		}
		return shim.JSON(http.StatusOK, map[string]any{
			"message":    greeting,
			"started_at": m.startedAt,
		})
	}
	return shim.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
}

func (m *Module) hits(ctx context.Context, env *shim.Env) (*shim.Response, error) {
	kv, err := shim.Binding[*bindings.KV](env, "KV")
	if err != nil {
		return nil, err
	}
	n, err := kv.Incr(ctx, "hits")
	if err != nil {
		return nil, err
	}
	return shim.JSON(http.StatusOK, map[string]int64{"hits": n})
}

func (m *Module) enqueue(ctx context.Context, req *http.Request, env *shim.Env) (*shim.Response, error) {
	producer, err := shim.Binding[*bindings.Producer](env, "QUEUE")
	if err != nil {
		return nil, err
	}
	body, err := io.ReadAll(io.LimitReader(req.Body, 1<<20))
	if err != nil {
		return shim.JSON(http.StatusBadRequest, map[string]string{"error": "invalid body"})
	}
	if len(body) == 0 {
		return shim.JSON(http.StatusBadRequest, map[string]string{"error": "empty body"})
	}
	id, err := producer.Send(ctx, body)
	if err != nil {
		return nil, err
	}
	return shim.JSON(http.StatusAccepted, map[string]string{"id": id, "queue": producer.Name()})
}

type event struct {
	ID         string    `json:"id"`
	Queue      string    `json:"queue"`
	Body       string    `json:"body"`
	Attempts   int       `json:"attempts"`
	ReceivedAt time.Time `json:"received_at"`
}

func (m *Module) events(ctx context.Context, env *shim.Env) (*shim.Response, error) {
	db, err := shim.Binding[*bindings.Database](env, "DB")
	if errors.Is(err, shim.ErrBindingNotFound) {
		return shim.JSON(http.StatusServiceUnavailable, map[string]string{"error": "no database bound"})
	}
	if err != nil {
		return nil, err
	}
	res, err := db.Prepare(`SELECT id, queue, body, attempts, received_at
		FROM events ORDER BY received_at DESC LIMIT $1`).Bind(20).All(ctx)
	if err != nil {
		return nil, err
	}
	var events []event
	if err := res.Decode(&events); err != nil {
		return nil, err
	}
	return shim.JSON(http.StatusOK, events)
}

// Scheduled remembers the last cron tick in KV.
func (m *Module) Scheduled(ctx context.Context, ev *shim.ScheduledEvent, env *shim.Env) error {
	kv, err := shim.Binding[*bindings.KV](env, "KV")
	if err != nil {
		return err
	}
	return kv.PutJSON(ctx, "last_scheduled", ev, 0)
}

// Queue stores each message. Messages that fail to insert are retried on
// their own; the rest of the batch is acked.
func (m *Module) Queue(ctx context.Context, batch *shim.MessageBatch, env *shim.Env) error {
	db, err := shim.Binding[*bindings.Database](env, "DB")
	if errors.Is(err, shim.ErrBindingNotFound) {
		batch.AckAll()
		return nil
	}
	if err != nil {
		return err
	}

	insert := db.Prepare(`INSERT INTO events (id, queue, body, attempts)
		VALUES ($1, $2, $3, $4) ON CONFLICT (id) DO NOTHING`)
	for _, msg := range batch.Messages {
		if _, err := insert.Bind(msg.ID, batch.Queue, string(msg.Body), msg.Attempts).Run(ctx); err != nil {
			log.Printf("counter: store message %s: %v", msg.ID, err)
			msg.Retry()
			continue
		}
		msg.Ack()
	}
	return nil
}
