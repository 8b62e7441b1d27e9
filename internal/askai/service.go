// Package askai is the completion facade: it validates requests, resolves
// the model through the registry, calls the upstream provider and records
// usage for every attempt.
package askai

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	openai "github.com/sashabaranov/go-openai"

	"model_registry/internal/apperrors"
	"model_registry/internal/billing"
	"model_registry/internal/catalog"
	"model_registry/internal/metrics"
	"model_registry/internal/models"
	"model_registry/internal/usage"
	"model_registry/internal/utils"
)

// ModelResolver looks up active models
type ModelResolver interface {
	GetModel(ctx context.Context, id string) (*models.Model, error)
}

// Completer performs upstream chat completions
type Completer interface {
	CreateCompletion(ctx context.Context, req *catalog.CompletionRequest) (*catalog.CompletionResponse, error)
}

// UsageRecorder records completion attempts without blocking
type UsageRecorder interface {
	Record(ctx context.Context, params usage.RecordParams)
}

// Service is the completion facade. Construct one per process.
type Service struct {
	models   ModelResolver
	client   Completer
	recorder UsageRecorder
	metrics  *metrics.Metrics
	validate *validator.Validate
	logger   *utils.Logger
	now      func() time.Time

	mu       sync.Mutex
	draining bool
	inflight sync.WaitGroup
}

// NewService creates the completion facade. m may be nil.
func NewService(resolver ModelResolver, client Completer, recorder UsageRecorder, m *metrics.Metrics) *Service {
	return &Service{
		models:   resolver,
		client:   client,
		recorder: recorder,
		metrics:  m,
		validate: newValidator(),
		logger:   utils.NewLogger("askai"),
		now:      time.Now,
	}
}

// Complete runs one non-streaming completion.
func (s *Service) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResult, error) {
	if !s.begin() {
		s.metrics.RecordCompletion("rejected", string(apperrors.KindShuttingDown), 0, 0, 0)
		return nil, apperrors.ShuttingDown()
	}
	defer s.inflight.Done()

	start := s.now()
	if err := s.validateRequest(req); err != nil {
		s.metrics.RecordCompletion("rejected", string(apperrors.KindInvalidRequest), s.now().Sub(start), 0, 0)
		return nil, err
	}

	model, err := s.models.GetModel(ctx, req.Model)
	if err != nil {
		return nil, s.fail(ctx, req, start, err)
	}
	if model == nil || !model.IsActive {
		return nil, s.fail(ctx, req, start, apperrors.ModelNotFound(req.Model))
	}

	resp, err := s.client.CreateCompletion(ctx, upstreamRequest(req, model))
	if err != nil {
		return nil, s.fail(ctx, req, start, err)
	}
	if len(resp.Choices) == 0 {
		return nil, s.fail(ctx, req, start, apperrors.ProviderError(0, "completion returned no choices", false))
	}

	promptTokens := resp.Usage.PromptTokens
	completionTokens := resp.Usage.CompletionTokens
	totalTokens := resp.Usage.TotalTokens
	if totalTokens == 0 {
		totalTokens = promptTokens + completionTokens
	}
	cost := billing.CalculateCost(&model.Pricing, promptTokens, completionTokens)
	elapsed := s.now().Sub(start)

	s.recorder.Record(ctx, usage.RecordParams{
		PluginID:         req.PluginID,
		TenantID:         req.TenantID,
		UserID:           req.UserID,
		ModelID:          model.ID,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      totalTokens,
		Cost:             cost,
		Duration:         elapsed,
		Status:           models.UsageStatusSuccess,
		Metadata:         req.Metadata,
	})
	s.metrics.RecordCompletion("success", "", elapsed, promptTokens, completionTokens)

	choice := resp.Choices[0]
	return &CompletionResult{
		ID:           resp.ID,
		Model:        model.ID,
		Text:         choice.Message.Content,
		FinishReason: mapFinishReason(choice.FinishReason),
		Usage: Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      totalTokens,
			PromptCost:       cost.PromptCost,
			CompletionCost:   cost.CompletionCost,
			TotalCost:        cost.TotalCost,
		},
		Duration:   elapsed,
		DurationMs: elapsed.Milliseconds(),
	}, nil
}

// Shutdown stops accepting requests and waits for in-flight ones. There is
// no way back to accepting.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Completion service drained")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Draining reports whether Shutdown has been called
func (s *Service) Draining() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draining
}

func (s *Service) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return false
	}
	s.inflight.Add(1)
	return true
}

// fail records an error usage row for the attempt and returns the typed error.
func (s *Service) fail(ctx context.Context, req *CompletionRequest, start time.Time, cause error) error {
	err := classify(cause)
	elapsed := s.now().Sub(start)
	kind := apperrors.KindOf(err)

	s.recorder.Record(ctx, usage.RecordParams{
		PluginID:     req.PluginID,
		TenantID:     req.TenantID,
		UserID:       req.UserID,
		ModelID:      strings.TrimSpace(req.Model),
		Duration:     elapsed,
		Status:       models.UsageStatusError,
		ErrorMessage: err.Error(),
		Metadata:     req.Metadata,
	})
	s.metrics.RecordCompletion("error", string(kind), elapsed, 0, 0)
	s.logger.Warn("Completion failed", "model", req.Model, "plugin_id", req.PluginID, "kind", string(kind), "error", err)
	return err
}

// classify keeps typed errors and converts everything else, treating a
// blown deadline as a timeout.
func classify(err error) error {
	if _, ok := apperrors.As(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Timeout(err)
	}
	return apperrors.Wrap(err)
}

func upstreamRequest(req *CompletionRequest, model *models.Model) *catalog.CompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if prompt := strings.TrimSpace(req.SystemPrompt); prompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: prompt})
	}
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	return &catalog.CompletionRequest{
		Model:            model.ID,
		Messages:         messages,
		Temperature:      req.Temperature,
		MaxTokens:        req.MaxTokens,
		TopP:             req.TopP,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
	}
}

func mapFinishReason(reason openai.FinishReason) FinishReason {
	switch reason {
	case openai.FinishReasonStop:
		return FinishStop
	case openai.FinishReasonLength:
		return FinishLength
	case openai.FinishReasonContentFilter, "error":
		return FinishError
	default:
		return FinishStop
	}
}
