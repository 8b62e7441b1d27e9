package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueue_EnqueueDequeue(t *testing.T) {
	q := NewMemoryQueue(DefaultConfig("test"))
	defer q.Close()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, []byte(`{"id":1}`)))

	items, err := q.Dequeue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.JSONEq(t, `{"id":1}`, string(items[0]))
}

func TestMemoryQueue_BatchDequeue(t *testing.T) {
	config := DefaultConfig("test-batch")
	config.BatchSize = 5
	q := NewMemoryQueue(config)
	defer q.Close()
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		require.NoError(t, q.Enqueue(ctx, []byte(fmt.Sprintf(`{"id":%d}`, i))))
	}

	length, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12, length)

	first, err := q.Dequeue(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, first, 5)
	assert.JSONEq(t, `{"id":0}`, string(first[0]))

	second, err := q.DequeueWithTimeout(ctx, 10, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Len(t, second, 7)
}

func TestMemoryQueue_DequeueWithTimeoutEmpty(t *testing.T) {
	q := NewMemoryQueue(nil)
	defer q.Close()

	start := time.Now()
	items, err := q.DequeueWithTimeout(context.Background(), 10, 30*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestMemoryQueue_DequeueHonoursContext(t *testing.T) {
	q := NewMemoryQueue(nil)
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryQueue_Close(t *testing.T) {
	q := NewMemoryQueue(nil)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, []byte(`"buffered"`)))
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	assert.ErrorIs(t, q.Enqueue(ctx, []byte(`"late"`)), ErrQueueClosed)

	items, err := q.Dequeue(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	_, err = q.Dequeue(ctx, 10)
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestMemoryQueue_CloseUnblocksDequeue(t *testing.T) {
	q := NewMemoryQueue(nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background(), 1)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not return after Close")
	}
}

func TestMemoryQueue_ConcurrentProducers(t *testing.T) {
	q := NewMemoryQueue(DefaultConfig("concurrent"))
	defer q.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for p := 0; p < 10; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				_ = q.Enqueue(ctx, []byte(fmt.Sprintf(`{"p":%d,"i":%d}`, p, i)))
			}
		}(p)
	}
	wg.Wait()

	length, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100, length)
}

func TestMemoryDeadLetterQueue(t *testing.T) {
	dlq := NewMemoryDeadLetterQueue()
	ctx := context.Background()

	require.NoError(t, dlq.Add(ctx, []byte(`{"id":"a"}`), ErrMaxRetriesExceeded))
	require.NoError(t, dlq.Add(ctx, []byte(`not json`), errors.New("bad payload")))

	items, err := dlq.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.JSONEq(t, `{"id":"a"}`, string(items[0].Payload))
	assert.Equal(t, ErrMaxRetriesExceeded.Error(), items[0].Error)
	assert.JSONEq(t, `"not json"`, string(items[1].Payload))
	assert.NotEqual(t, items[0].ID, items[1].ID)

	limited, err := dlq.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	require.NoError(t, dlq.Remove(ctx, items[0].ID))
	assert.ErrorIs(t, dlq.Remove(ctx, items[0].ID), ErrItemNotFound)

	require.NoError(t, dlq.Close())
	assert.ErrorIs(t, dlq.Add(ctx, []byte(`{}`), errors.New("x")), ErrQueueClosed)
}
