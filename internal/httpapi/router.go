package httpapi

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"model_registry/internal/askai"
	"model_registry/internal/middleware"
	"model_registry/internal/models"
	"model_registry/internal/queue"
	"model_registry/internal/registry"
	"model_registry/internal/usage"
)

// ModelRegistry is the registry surface the HTTP layer needs
type ModelRegistry interface {
	GetModel(ctx context.Context, id string) (*models.Model, error)
	GetModels(ctx context.Context, opts registry.GetOptions) ([]*models.Model, error)
	SyncModels(ctx context.Context) error
	Stats() registry.Stats
}

// CompletionService runs chat completions
type CompletionService interface {
	Complete(ctx context.Context, req *askai.CompletionRequest) (*askai.CompletionResult, error)
}

// UsageSummarizer aggregates recorded usage
type UsageSummarizer interface {
	Summarize(ctx context.Context, filter usage.Filter, dates usage.DateRange) (*usage.Summary, error)
}

// HealthChecker reports backing store health
type HealthChecker interface {
	Health(ctx context.Context) error
}

// ModelCounter counts active models in the backing store
type ModelCounter interface {
	CountActive(ctx context.Context) (int, error)
}

// UsageRecords reads persisted usage records
type UsageRecords interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.UsageRecord, error)
}

// UsagePipeline exposes the usage queue backlog and its dead letters
type UsagePipeline interface {
	GetQueueLength(ctx context.Context) (int, error)
	GetDeadLetterItems(ctx context.Context, maxItems int) ([]queue.DeadLetterItem, error)
	RetryDeadLetterItem(ctx context.Context, id string) error
}

// Dependencies aggregates all services the HTTP layer needs. Models,
// Records and Pipeline are optional.
type Dependencies struct {
	Registry    ModelRegistry
	Completions CompletionService
	Usage       UsageSummarizer
	Store       HealthChecker
	Models      ModelCounter
	Records     UsageRecords
	Pipeline    UsagePipeline
	Gatherer    prometheus.Gatherer
}

// NewRouter creates the HTTP handler with every route registered
func NewRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()
	registerRoutes(mux, deps)
	return middleware.Chain(mux, middleware.RequestID, middleware.Logging, middleware.Recover)
}

func registerRoutes(mux *http.ServeMux, deps *Dependencies) {
	mux.HandleFunc("GET /health", deps.handleHealth)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /v1/models", deps.handleListModels)
	mux.HandleFunc("GET /v1/models/{id...}", deps.handleGetModel)
	mux.HandleFunc("POST /v1/models/sync", deps.handleSyncModels)
	mux.HandleFunc("POST /v1/chat/completions", deps.handleChat)
	mux.HandleFunc("GET /v1/usage/summary", deps.handleUsageSummary)
	mux.HandleFunc("GET /v1/usage/records/{id}", deps.handleGetUsageRecord)
	mux.HandleFunc("GET /v1/usage/dead-letters", deps.handleListDeadLetters)
	mux.HandleFunc("POST /v1/usage/dead-letters/{id}/retry", deps.handleRetryDeadLetter)
}
