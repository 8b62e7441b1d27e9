package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"model_registry/internal/apperrors"
	"model_registry/internal/askai"
	"model_registry/internal/metrics"
	"model_registry/internal/models"
	"model_registry/internal/registry"
	"model_registry/internal/usage"
	"model_registry/internal/utils"
)

type fakeRegistry struct {
	models      map[string]*models.Model
	err         error
	syncErr     error
	syncCalls   int
	lastOptions registry.GetOptions
}

func (f *fakeRegistry) GetModel(ctx context.Context, id string) (*models.Model, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.models[id], nil
}

func (f *fakeRegistry) GetModels(ctx context.Context, opts registry.GetOptions) ([]*models.Model, error) {
	f.lastOptions = opts
	if f.err != nil {
		return nil, f.err
	}
	out := make([]*models.Model, 0, len(f.models))
	for _, m := range f.models {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeRegistry) SyncModels(ctx context.Context) error {
	f.syncCalls++
	return f.syncErr
}

func (f *fakeRegistry) Stats() registry.Stats {
	return registry.Stats{Entries: len(f.models), Warm: true}
}

type fakeCompletions struct {
	last   *askai.CompletionRequest
	result *askai.CompletionResult
	err    error
}

func (f *fakeCompletions) Complete(ctx context.Context, req *askai.CompletionRequest) (*askai.CompletionResult, error) {
	f.last = req
	return f.result, f.err
}

type fakeUsage struct {
	filter usage.Filter
	dates  usage.DateRange
	err    error
}

func (f *fakeUsage) Summarize(ctx context.Context, filter usage.Filter, dates usage.DateRange) (*usage.Summary, error) {
	f.filter = filter
	f.dates = dates
	if f.err != nil {
		return nil, f.err
	}
	return &usage.Summary{
		TotalRequests: 2,
		TotalTokens:   30,
		TotalCost:     decimal.RequireFromString("0.5"),
		ByModel:       map[string]*usage.ModelSummary{},
	}, nil
}

type fakeStore struct{ err error }

func (f fakeStore) Health(ctx context.Context) error { return f.err }

func newTestDeps() (*Dependencies, *fakeRegistry, *fakeCompletions, *fakeUsage) {
	reg := &fakeRegistry{models: map[string]*models.Model{
		"openai/gpt-4o": {ID: "openai/gpt-4o", Name: "GPT-4o", IsActive: true},
	}}
	completions := &fakeCompletions{}
	summaries := &fakeUsage{}
	return &Dependencies{
		Registry:    reg,
		Completions: completions,
		Usage:       summaries,
		Store:       fakeStore{},
	}, reg, completions, summaries
}

func serve(t *testing.T, deps *Dependencies, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rr := httptest.NewRecorder()
	NewRouter(deps).ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) utils.ErrorResponse {
	t.Helper()
	var body utils.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestHealth(t *testing.T) {
	deps, _, _, _ := newTestDeps()

	rr := serve(t, deps, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	var body HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 1, body.Registry.Entries)

	deps.Store = fakeStore{err: errors.New("connection refused")}
	rr = serve(t, deps, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestListModels(t *testing.T) {
	deps, reg, _, _ := newTestDeps()

	rr := serve(t, deps, http.MethodGet, "/v1/models?refresh=true", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, reg.lastOptions.ForceRefresh)

	var body ModelListResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "openai/gpt-4o", body.Data[0].ID)

	reg.err = apperrors.BackingStore("failed to load models", errors.New("db down"))
	rr = serve(t, deps, http.MethodGet, "/v1/models", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, string(apperrors.KindBackingStore), decodeError(t, rr).Kind)
}

func TestGetModel(t *testing.T) {
	deps, _, _, _ := newTestDeps()

	rr := serve(t, deps, http.MethodGet, "/v1/models/openai/gpt-4o", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var model models.Model
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &model))
	assert.Equal(t, "GPT-4o", model.Name)

	rr = serve(t, deps, http.MethodGet, "/v1/models/missing/model", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, string(apperrors.KindModelNotFound), decodeError(t, rr).Kind)
}

func TestSyncModels(t *testing.T) {
	deps, reg, _, _ := newTestDeps()

	rr := serve(t, deps, http.MethodPost, "/v1/models/sync", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, reg.syncCalls)

	reg.syncErr = errors.New("upstream catalog is empty")
	rr = serve(t, deps, http.MethodPost, "/v1/models/sync", nil)
	assert.Equal(t, http.StatusBadGateway, rr.Code)

	rr = serve(t, deps, http.MethodGet, "/v1/models/sync", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestChatCompletions(t *testing.T) {
	deps, _, completions, _ := newTestDeps()
	completions.result = &askai.CompletionResult{
		ID:           "gen-1",
		Model:        "openai/gpt-4o",
		Text:         "hello",
		FinishReason: askai.FinishStop,
		DurationMs:   12,
	}

	body := []byte(`{"model":"openai/gpt-4o","plugin_id":"p","temperature":0.5,"messages":[{"role":"user","content":"hi"}]}`)
	rr := serve(t, deps, http.MethodPost, "/v1/chat/completions", body)
	require.Equal(t, http.StatusOK, rr.Code)

	require.NotNil(t, completions.last)
	assert.Equal(t, "p", completions.last.PluginID)
	require.NotNil(t, completions.last.Temperature)
	assert.Equal(t, 0.5, *completions.last.Temperature)

	var result askai.CompletionResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	assert.Equal(t, "hello", result.Text)
	assert.Equal(t, askai.FinishStop, result.FinishReason)
}

func TestChatCompletions_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
		check  func(t *testing.T, rr *httptest.ResponseRecorder)
	}{
		{
			name:   "malformed body",
			body:   `{"model":`,
			status: http.StatusBadRequest,
		},
		{
			name:   "unknown field",
			body:   `{"model":"m","stream":true}`,
			status: http.StatusBadRequest,
		},
		{
			name:   "invalid request",
			body:   `{}`,
			err:    apperrors.InvalidRequest("temperature", 3.0, "temperature must be <= 2"),
			status: http.StatusBadRequest,
			check: func(t *testing.T, rr *httptest.ResponseRecorder) {
				assert.Equal(t, "temperature", decodeError(t, rr).Field)
			},
		},
		{
			name:   "rate limited",
			body:   `{}`,
			err:    apperrors.RateLimited(1500*time.Millisecond, "slow down"),
			status: http.StatusTooManyRequests,
			check: func(t *testing.T, rr *httptest.ResponseRecorder) {
				assert.Equal(t, "2", rr.Header().Get("Retry-After"))
				assert.Equal(t, 2, decodeError(t, rr).RetryAfter)
			},
		},
		{"auth failed", `{}`, apperrors.AuthFailed(401, "bad key"), http.StatusUnauthorized, nil},
		{"timeout", `{}`, apperrors.Timeout(context.DeadlineExceeded), http.StatusGatewayTimeout, nil},
		{"shutting down", `{}`, apperrors.ShuttingDown(), http.StatusServiceUnavailable, nil},
		{"provider error", `{}`, apperrors.ProviderError(500, "upstream", true), http.StatusBadGateway, nil},
		{"untyped", `{}`, errors.New("boom"), http.StatusInternalServerError, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps, _, completions, _ := newTestDeps()
			completions.err = tt.err

			rr := serve(t, deps, http.MethodPost, "/v1/chat/completions", []byte(tt.body))
			assert.Equal(t, tt.status, rr.Code)
			if tt.check != nil {
				tt.check(t, rr)
			}
		})
	}
}

func TestUsageSummary(t *testing.T) {
	deps, _, _, summaries := newTestDeps()

	rr := serve(t, deps, http.MethodGet, "/v1/usage/summary?plugin_id=p1&from=2025-01-01&to=2025-02-01T00:00:00Z", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	assert.Equal(t, "p1", summaries.filter.PluginID)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), summaries.dates.From)
	assert.True(t, summaries.dates.To.Equal(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, float64(2), body["total_requests"])
	assert.Equal(t, "0.5", body["total_cost"])

	rr = serve(t, deps, http.MethodGet, "/v1/usage/summary?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "from", decodeError(t, rr).Field)
}

func TestMetricsEndpoint(t *testing.T) {
	deps, _, _, _ := newTestDeps()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.SetActiveModels(3)
	deps.Gatherer = reg

	rr := serve(t, deps, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), "model_registry_registry_active_models 3"), rr.Body.String())
}
