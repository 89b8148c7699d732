package bindings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Envelope is a queued message as stored in Redis.
type Envelope struct {
	ID        string    `json:"id"`
	Body      []byte    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
	Attempts  int       `json:"attempts"`
}

// Queues stores messages in Redis lists: producers LPUSH onto
// "queue:<name>", consumers pop from the other end.
type Queues struct {
	client redis.UniversalClient
}

func NewQueues(client redis.UniversalClient) *Queues {
	return &Queues{client: client}
}

func listKey(name string) string {
	return "queue:" + name
}

func deadLetterKey(name string) string {
	return "queue:" + name + ":dlq"
}

// Producer returns the send-only view of one queue handed to modules.
func (q *Queues) Producer(name string) *Producer {
	return &Producer{queues: q, name: name}
}

// Send enqueues a single message body.
func (q *Queues) Send(ctx context.Context, name string, body []byte) (string, error) {
	ids, err := q.SendBatch(ctx, name, [][]byte{body})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// SendBatch enqueues bodies in order and returns their message IDs.
func (q *Queues) SendBatch(ctx context.Context, name string, bodies [][]byte) ([]string, error) {
	if len(bodies) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(bodies))
	values := make([]any, 0, len(bodies))
	now := time.Now().UTC()
	for _, body := range bodies {
		env := Envelope{ID: uuid.NewString(), Body: body, Timestamp: now}
		data, err := json.Marshal(env)
		if err != nil {
			return nil, err
		}
		ids = append(ids, env.ID)
		values = append(values, data)
	}
	if err := q.client.LPush(ctx, listKey(name), values...).Err(); err != nil {
		return nil, fmt.Errorf("send to %s: %w", name, err)
	}
	return ids, nil
}

// Receive waits up to wait for a first message, then drains up to limit
// messages without blocking. It returns nil when the queue stayed empty.
// Once a message has been popped it is always returned: a failure while
// draining ends the batch early instead of dropping what was taken.
func (q *Queues) Receive(ctx context.Context, name string, limit int, wait time.Duration) ([]Envelope, error) {
	if limit <= 0 {
		limit = 1
	}
	res, err := q.client.BRPop(ctx, wait, listKey(name)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("receive from %s: %w", name, err)
	}

	raw := []string{res[1]}
	for len(raw) < limit {
		v, err := q.client.RPop(ctx, listKey(name)).Result()
		if err != nil {
			break
		}
		raw = append(raw, v)
	}

	envs := make([]Envelope, 0, len(raw))
	for _, r := range raw {
		var env Envelope
		if err := json.Unmarshal([]byte(r), &env); err != nil {
			// Unreadable payloads go straight to the dead letter list.
			_ = q.client.LPush(context.WithoutCancel(ctx), deadLetterKey(name), r).Err()
			continue
		}
		envs = append(envs, env)
	}
	return envs, nil
}

// Requeue puts a message back with its attempt count bumped.
func (q *Queues) Requeue(ctx context.Context, name string, env Envelope) error {
	env.Attempts++
	return q.push(ctx, listKey(name), env)
}

// DeadLetter moves a message to "queue:<name>:dlq".
func (q *Queues) DeadLetter(ctx context.Context, name string, env Envelope) error {
	return q.push(ctx, deadLetterKey(name), env)
}

// Len reports the number of pending and dead-lettered messages.
func (q *Queues) Len(ctx context.Context, name string) (pending, dead int64, err error) {
	pending, err = q.client.LLen(ctx, listKey(name)).Result()
	if err != nil {
		return 0, 0, err
	}
	dead, err = q.client.LLen(ctx, deadLetterKey(name)).Result()
	return pending, dead, err
}

func (q *Queues) push(ctx context.Context, key string, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, key, data).Err()
}

// Producer sends messages to a single queue.
type Producer struct {
	queues *Queues
	name   string
}

func (p *Producer) Name() string {
	return p.name
}

func (p *Producer) Send(ctx context.Context, body []byte) (string, error) {
	return p.queues.Send(ctx, p.name, body)
}

func (p *Producer) SendBatch(ctx context.Context, bodies [][]byte) ([]string, error) {
	return p.queues.SendBatch(ctx, p.name, bodies)
}
