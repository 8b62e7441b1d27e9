// Package queue provides the asynchronous hand-off used for usage records,
// with two backends:
//
//  1. Memory Queue (buffered channel): no persistence, no external
//     dependencies. Used for local runs and tests.
//  2. Redis Queue (Redis list): survives restarts and can be shared by
//     several worker processes.
//
// Payloads are opaque JSON documents; producers marshal, consumers unmarshal.
// Items that exhaust their retries go to a DeadLetterQueue.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Queue defines the interface for message queuing
type Queue interface {
	// Enqueue adds a payload to the queue
	Enqueue(ctx context.Context, payload []byte) error

	// Dequeue retrieves up to maxItems payloads, blocking until at least one
	// is available or ctx is cancelled
	Dequeue(ctx context.Context, maxItems int) ([][]byte, error)

	// DequeueWithTimeout is Dequeue bounded by timeout; an empty slice means
	// nothing arrived in time
	DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([][]byte, error)

	// Length returns the current queue length
	Length(ctx context.Context) (int, error)

	// Close shuts down the queue
	Close() error
}

// DeadLetterQueue holds payloads that could not be processed
type DeadLetterQueue interface {
	Add(ctx context.Context, payload []byte, err error) error
	List(ctx context.Context, maxItems int) ([]DeadLetterItem, error)
	Remove(ctx context.Context, id string) error
	Close() error
}

// DeadLetterItem represents an item in the dead letter queue
type DeadLetterItem struct {
	ID        string          `json:"id"`
	Payload   json.RawMessage `json:"payload"`
	Error     string          `json:"error"`
	Timestamp time.Time       `json:"timestamp"`
}

// Config holds queue and worker configuration
type Config struct {
	// QueueName is the name/key for the queue
	QueueName string

	// BatchSize is the maximum number of items to process in a batch
	BatchSize int

	// BatchTimeout is how long to wait before processing a partial batch
	BatchTimeout time.Duration

	// MaxRetries is the maximum number of retry attempts
	MaxRetries int

	// RetryBackoff is the initial backoff duration for retries
	RetryBackoff time.Duration
}

// DefaultConfig returns default queue configuration
func DefaultConfig(queueName string) *Config {
	return &Config{
		QueueName:    queueName,
		BatchSize:    100,
		BatchTimeout: 5 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 1 * time.Second,
	}
}

func newDeadLetterItem(payload []byte, err error) DeadLetterItem {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	raw := json.RawMessage(payload)
	if !json.Valid(payload) {
		// keep the item listable even if the payload is garbage
		quoted, _ := json.Marshal(string(payload))
		raw = quoted
	}
	return DeadLetterItem{
		ID:        uuid.NewString(),
		Payload:   raw,
		Error:     msg,
		Timestamp: time.Now().UTC(),
	}
}
