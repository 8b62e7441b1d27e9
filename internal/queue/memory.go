package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryQueue implements Queue using a buffered channel
type MemoryQueue struct {
	items     chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryQueue creates a new in-memory queue buffering ten batches
func NewMemoryQueue(config *Config) *MemoryQueue {
	if config == nil {
		config = DefaultConfig("memory")
	}
	size := config.BatchSize * 10
	if size <= 0 {
		size = 1000
	}

	return &MemoryQueue{
		items: make(chan []byte, size),
		done:  make(chan struct{}),
	}
}

func (q *MemoryQueue) isClosed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// Enqueue adds a payload to the queue, blocking while the buffer is full
func (q *MemoryQueue) Enqueue(ctx context.Context, payload []byte) error {
	if q.isClosed() {
		return ErrQueueClosed
	}

	select {
	case q.items <- payload:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue retrieves payloads from the queue
func (q *MemoryQueue) Dequeue(ctx context.Context, maxItems int) ([][]byte, error) {
	var first []byte

	select {
	case first = <-q.items:
	case <-q.done:
		return q.drainClosed(maxItems)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return q.fill(first, maxItems), nil
}

// DequeueWithTimeout retrieves payloads with a timeout
func (q *MemoryQueue) DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([][]byte, error) {
	var first []byte

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case first = <-q.items:
	case <-timer.C:
		return [][]byte{}, nil
	case <-q.done:
		return q.drainClosed(maxItems)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return q.fill(first, maxItems), nil
}

// fill tops up a batch without blocking
func (q *MemoryQueue) fill(first []byte, maxItems int) [][]byte {
	items := [][]byte{first}
	for len(items) < maxItems {
		select {
		case item := <-q.items:
			items = append(items, item)
		default:
			return items
		}
	}
	return items
}

// drainClosed hands out whatever was buffered before Close, then reports the
// queue as closed.
func (q *MemoryQueue) drainClosed(maxItems int) ([][]byte, error) {
	select {
	case first := <-q.items:
		return q.fill(first, maxItems), nil
	default:
		return nil, ErrQueueClosed
	}
}

// Length returns the current queue length
func (q *MemoryQueue) Length(ctx context.Context) (int, error) {
	return len(q.items), nil
}

// Close stops accepting new payloads; buffered ones can still be dequeued.
func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}

// MemoryDeadLetterQueue implements DeadLetterQueue using in-memory storage
type MemoryDeadLetterQueue struct {
	items  []DeadLetterItem
	mu     sync.RWMutex
	closed bool
}

// NewMemoryDeadLetterQueue creates a new in-memory dead letter queue
func NewMemoryDeadLetterQueue() *MemoryDeadLetterQueue {
	return &MemoryDeadLetterQueue{
		items: make([]DeadLetterItem, 0),
	}
}

// Add adds a failed payload to the dead letter queue
func (q *MemoryDeadLetterQueue) Add(ctx context.Context, payload []byte, err error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	q.items = append(q.items, newDeadLetterItem(payload, err))
	return nil
}

// List retrieves items in insertion order
func (q *MemoryDeadLetterQueue) List(ctx context.Context, maxItems int) ([]DeadLetterItem, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	if maxItems <= 0 || maxItems > len(q.items) {
		maxItems = len(q.items)
	}

	result := make([]DeadLetterItem, maxItems)
	copy(result, q.items[:maxItems])
	return result, nil
}

// Remove removes an item from the dead letter queue
func (q *MemoryDeadLetterQueue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	for i, item := range q.items {
		if item.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return nil
		}
	}

	return ErrItemNotFound
}

// Close shuts down the dead letter queue
func (q *MemoryDeadLetterQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.items = nil
	return nil
}
