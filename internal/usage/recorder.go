// Package usage records one usage row per completion attempt without
// blocking the caller, and aggregates recorded usage on demand.
package usage

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"model_registry/internal/metrics"
	"model_registry/internal/models"
	"model_registry/internal/storage"
	"model_registry/internal/utils"
)

// enqueueTimeout bounds a single detached hand-off to the sink
const enqueueTimeout = 5 * time.Second

// Sink receives usage records for asynchronous persistence.
type Sink interface {
	Enqueue(ctx context.Context, record *models.UsageRecord) error
	Drain(ctx context.Context) error
}

// Source lists persisted usage records.
type Source interface {
	List(ctx context.Context, filter storage.UsageFilter) ([]*models.UsageRecord, error)
}

// RecordParams describes one completion attempt
type RecordParams struct {
	PluginID         string
	TenantID         string
	UserID           string
	ModelID          string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Cost             models.CostBreakdown
	Duration         time.Duration
	Status           models.UsageStatus
	ErrorMessage     string
	Metadata         map[string]interface{}
}

// Recorder writes usage records fire-and-forget. Construct one per process.
type Recorder struct {
	sink    Sink
	source  Source
	metrics *metrics.Metrics
	logger  *utils.Logger
	now     func() time.Time

	pending sync.WaitGroup
}

// NewRecorder creates a recorder. source may be nil when summaries are not
// needed; m may be nil.
func NewRecorder(sink Sink, source Source, m *metrics.Metrics) *Recorder {
	return &Recorder{
		sink:    sink,
		source:  source,
		metrics: m,
		logger:  utils.NewLogger("usage"),
		now:     time.Now,
	}
}

// Record builds the usage record and hands it off in the background. It
// never fails; hand-off errors are logged.
func (r *Recorder) Record(ctx context.Context, params RecordParams) {
	record := r.buildRecord(params)

	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		defer func() {
			if p := recover(); p != nil {
				r.metrics.RecordUsage("failed")
				r.logger.Error("Usage recording panicked", "record_id", record.ID.String(), "panic", p)
			}
		}()

		enqueueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), enqueueTimeout)
		defer cancel()

		if err := r.sink.Enqueue(enqueueCtx, record); err != nil {
			r.metrics.RecordUsage("failed")
			r.logger.Error("Failed to record usage",
				"record_id", record.ID.String(),
				"plugin_id", record.PluginID,
				"model", record.ModelID,
				"error", err)
			return
		}
		r.metrics.RecordUsage("enqueued")
	}()
}

// Flush waits for every detached hand-off and then for the sink to persist
// what it holds.
func (r *Recorder) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return r.sink.Drain(ctx)
}

func (r *Recorder) buildRecord(params RecordParams) *models.UsageRecord {
	status := params.Status
	if status == "" {
		status = models.UsageStatusSuccess
	}
	total := params.TotalTokens
	if total == 0 {
		total = params.PromptTokens + params.CompletionTokens
	}

	record := &models.UsageRecord{
		ID:               uuid.New(),
		PluginID:         strings.TrimSpace(params.PluginID),
		TenantID:         utils.OptionalString(params.TenantID),
		UserID:           utils.OptionalString(params.UserID),
		ModelID:          strings.TrimSpace(params.ModelID),
		PromptTokens:     params.PromptTokens,
		CompletionTokens: params.CompletionTokens,
		TotalTokens:      total,
		PromptCost:       params.Cost.PromptCost,
		CompletionCost:   params.Cost.CompletionCost,
		TotalCost:        params.Cost.TotalCost,
		DurationMs:       params.Duration.Milliseconds(),
		Status:           status,
		ErrorMessage:     utils.OptionalString(params.ErrorMessage),
		CreatedAt:        r.now().UTC(),
	}
	if len(params.Metadata) > 0 {
		record.Metadata = models.JSONB(params.Metadata)
	}
	return record
}
