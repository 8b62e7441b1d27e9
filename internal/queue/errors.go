package queue

import "errors"

// Sentinel errors shared by the memory and Redis implementations.
var (
	// ErrQueueClosed is returned by Enqueue after Close, and by Dequeue once
	// a closed memory queue has been drained.
	ErrQueueClosed = errors.New("queue is closed")

	// ErrItemNotFound is returned when a dead letter ID is unknown
	ErrItemNotFound = errors.New("dead letter item not found")

	// ErrMaxRetriesExceeded marks usage records moved to the dead letter queue
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)
