package shim

import (
	"sync"
	"time"
)

type outcome int

const (
	pending outcome = iota
	acked
	retried
)

// Message is one queue message delivered to a module.
type Message struct {
	ID        string
	Timestamp time.Time
	Body      []byte
	Attempts  int

	mu      sync.Mutex
	outcome outcome
}

// Ack marks the message as handled. The last call between Ack and Retry wins.
func (m *Message) Ack() {
	m.set(acked)
}

// Retry asks for the message to be delivered again.
func (m *Message) Retry() {
	m.set(retried)
}

func (m *Message) set(o outcome) {
	m.mu.Lock()
	m.outcome = o
	m.mu.Unlock()
}

func (m *Message) get() outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outcome
}

// MessageBatch is the argument of the queue entrypoint.
type MessageBatch struct {
	Queue    string
	Messages []*Message
}

// AckAll acks every message in the batch.
func (b *MessageBatch) AckAll() {
	for _, m := range b.Messages {
		m.Ack()
	}
}

// RetryAll marks every message in the batch for redelivery.
func (b *MessageBatch) RetryAll() {
	for _, m := range b.Messages {
		m.Retry()
	}
}

// Settle splits a handled batch into acked and retried messages. Explicit
// Ack/Retry calls win; the rest are acked when handlerErr is nil and
// retried otherwise.
func Settle(b *MessageBatch, handlerErr error) (ack, retry []*Message) {
	for _, m := range b.Messages {
		switch m.get() {
		case acked:
			ack = append(ack, m)
		case retried:
			retry = append(retry, m)
		default:
			if handlerErr == nil {
				ack = append(ack, m)
			} else {
				retry = append(retry, m)
			}
		}
	}
	return ack, retry
}
