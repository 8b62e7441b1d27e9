package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"model_registry/internal/models"
	"model_registry/internal/queue"
	"model_registry/internal/utils"
)

// UsageStore is the persistence side of the usage worker
type UsageStore interface {
	Create(ctx context.Context, record *models.UsageRecord) error
	CreateBatch(ctx context.Context, records []*models.UsageRecord) error
}

// SpendTracker receives the cost of every persisted successful record
type SpendTracker interface {
	AddUsage(ctx context.Context, pluginID string, cost decimal.Decimal) error
}

// drainPoll is how long Drain waits for stragglers before deciding the queue is empty
const drainPoll = 10 * time.Millisecond

// UsageQueueWorker moves usage records from the queue into the store
type UsageQueueWorker struct {
	queue  queue.Queue
	dlq    queue.DeadLetterQueue
	store  UsageStore
	spend  SpendTracker
	config *queue.Config
	logger *utils.Logger

	// batch serializes the run loop and Drain so a dequeued batch is
	// always persisted before Drain reports the queue empty
	batch chan struct{}

	stopOnce    sync.Once
	stopChan    chan struct{}
	stoppedChan chan struct{}
	started     bool
}

// NewUsageQueueWorker creates a new usage queue worker. spend may be nil.
func NewUsageQueueWorker(q queue.Queue, dlq queue.DeadLetterQueue, store UsageStore, spend SpendTracker, config *queue.Config) *UsageQueueWorker {
	if config == nil {
		config = queue.DefaultConfig("usage")
	}

	return &UsageQueueWorker{
		queue:       q,
		dlq:         dlq,
		store:       store,
		spend:       spend,
		config:      config,
		logger:      utils.NewLogger("usage-worker"),
		batch:       make(chan struct{}, 1),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start starts the worker goroutine
func (w *UsageQueueWorker) Start(ctx context.Context) {
	w.started = true
	go w.run(ctx)
}

// Stop gracefully stops the worker. Records still queued stay queued; call
// Drain to persist them.
func (w *UsageQueueWorker) Stop() error {
	w.stopOnce.Do(func() { close(w.stopChan) })
	if w.started {
		<-w.stoppedChan
	}
	return nil
}

// Enqueue adds a usage record to the queue
func (w *UsageQueueWorker) Enqueue(ctx context.Context, record *models.UsageRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal usage record: %w", err)
	}
	return w.queue.Enqueue(ctx, payload)
}

// run is the main worker loop
func (w *UsageQueueWorker) run(ctx context.Context) {
	defer close(w.stoppedChan)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Usage worker stopping")
			return
		case <-ctx.Done():
			w.logger.Info("Usage worker context cancelled")
			return
		case w.batch <- struct{}{}:
		}

		_, err := w.processBatch(ctx, w.config.BatchTimeout)
		<-w.batch

		if err != nil {
			if errors.Is(err, queue.ErrQueueClosed) {
				w.logger.Info("Usage queue closed, worker exiting")
				return
			}
			w.logger.Error("Failed to dequeue usage records", "error", err)
			w.sleep(ctx, time.Second)
		}
	}
}

// Drain persists everything currently queued and returns once the queue
// is empty or ctx is done.
func (w *UsageQueueWorker) Drain(ctx context.Context) error {
	select {
	case w.batch <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-w.batch }()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := w.processBatch(ctx, drainPoll)
		if errors.Is(err, queue.ErrQueueClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

// processBatch dequeues up to BatchSize records and persists them,
// returning how many payloads were dequeued.
func (w *UsageQueueWorker) processBatch(ctx context.Context, wait time.Duration) (int, error) {
	items, err := w.queue.DequeueWithTimeout(ctx, w.config.BatchSize, wait)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}

	w.logger.Debug("Processing usage batch", "count", len(items))

	records := make([]*models.UsageRecord, 0, len(items))
	for _, item := range items {
		var record models.UsageRecord
		if err := json.Unmarshal(item, &record); err != nil {
			w.logger.Error("Failed to unmarshal usage record", "error", err)
			w.deadLetter(ctx, item, err)
			continue
		}
		records = append(records, &record)
	}

	if len(records) == 0 {
		return len(items), nil
	}

	if err := w.store.CreateBatch(ctx, records); err != nil {
		w.logger.Error("Failed to insert batch, falling back to individual inserts", "error", err)
		for _, record := range records {
			if err := w.processItem(ctx, record); err != nil {
				w.logger.Error("Failed to process usage record", "id", record.ID, "error", err)
				continue
			}
			w.trackSpend(ctx, record)
		}
		return len(items), nil
	}

	w.logger.Debug("Inserted batch successfully", "count", len(records))
	for _, record := range records {
		w.trackSpend(ctx, record)
	}
	return len(items), nil
}

// processItem inserts a single record with exponential backoff, dead
// lettering it once retries are exhausted
func (w *UsageQueueWorker) processItem(ctx context.Context, record *models.UsageRecord) error {
	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := w.config.RetryBackoff * time.Duration(1<<uint(attempt-1))
			w.logger.Debug("Retrying usage record", "attempt", attempt, "backoff", backoff)
			if !w.sleep(ctx, backoff) {
				lastErr = ctx.Err()
				break
			}
		}

		if err := w.store.Create(ctx, record); err != nil {
			lastErr = err
			w.logger.Warn("Failed to insert usage record", "attempt", attempt, "error", err)
			continue
		}
		return nil
	}

	payload, _ := json.Marshal(record)
	w.deadLetter(ctx, payload, lastErr)
	return fmt.Errorf("%w: %v", queue.ErrMaxRetriesExceeded, lastErr)
}

func (w *UsageQueueWorker) deadLetter(ctx context.Context, payload []byte, cause error) {
	if w.dlq == nil {
		return
	}
	if err := w.dlq.Add(context.WithoutCancel(ctx), payload, cause); err != nil {
		w.logger.Error("Failed to add to dead letter queue", "error", err)
		return
	}
	w.logger.Warn("Usage record moved to DLQ", "error", cause)
}

func (w *UsageQueueWorker) trackSpend(ctx context.Context, record *models.UsageRecord) {
	if w.spend == nil || !record.Succeeded() || record.TotalCost.IsZero() {
		return
	}
	if err := w.spend.AddUsage(ctx, record.PluginID, record.TotalCost); err != nil {
		w.logger.Warn("Failed to update spend counter", "plugin_id", record.PluginID, "error", err)
	}
}

// sleep waits for d, returning false if ctx ended first
func (w *UsageQueueWorker) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// GetQueueLength returns the current queue length
func (w *UsageQueueWorker) GetQueueLength(ctx context.Context) (int, error) {
	return w.queue.Length(ctx)
}

// GetDeadLetterItems returns items from the dead letter queue
func (w *UsageQueueWorker) GetDeadLetterItems(ctx context.Context, maxItems int) ([]queue.DeadLetterItem, error) {
	if w.dlq == nil {
		return nil, fmt.Errorf("dead letter queue not configured")
	}
	return w.dlq.List(ctx, maxItems)
}

// RetryDeadLetterItem re-enqueues a dead lettered record
func (w *UsageQueueWorker) RetryDeadLetterItem(ctx context.Context, id string) error {
	if w.dlq == nil {
		return fmt.Errorf("dead letter queue not configured")
	}

	items, err := w.dlq.List(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to list dead letter items: %w", err)
	}

	for _, dlItem := range items {
		if dlItem.ID != id {
			continue
		}
		if err := w.queue.Enqueue(ctx, dlItem.Payload); err != nil {
			return fmt.Errorf("failed to re-enqueue item: %w", err)
		}
		if err := w.dlq.Remove(ctx, id); err != nil {
			return fmt.Errorf("failed to remove from DLQ: %w", err)
		}
		return nil
	}

	return queue.ErrItemNotFound
}
