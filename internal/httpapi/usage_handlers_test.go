package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"model_registry/internal/models"
	"model_registry/internal/queue"
	"model_registry/internal/storage"
)

type fakeModelCounter struct {
	n   int
	err error
}

func (f fakeModelCounter) CountActive(ctx context.Context) (int, error) { return f.n, f.err }

type fakeRecords struct {
	records map[uuid.UUID]*models.UsageRecord
	err     error
}

func (f fakeRecords) GetByID(ctx context.Context, id uuid.UUID) (*models.UsageRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	rec, ok := f.records[id]
	if !ok {
		return nil, storage.ErrUsageRecordNotFound
	}
	return rec, nil
}

type fakePipeline struct {
	pending  int
	dead     []queue.DeadLetterItem
	err      error
	retried  []string
	retryErr error
}

func (f *fakePipeline) GetQueueLength(ctx context.Context) (int, error) {
	return f.pending, f.err
}

func (f *fakePipeline) GetDeadLetterItems(ctx context.Context, maxItems int) ([]queue.DeadLetterItem, error) {
	if f.err != nil {
		return nil, f.err
	}
	if maxItems > 0 && maxItems < len(f.dead) {
		return f.dead[:maxItems], nil
	}
	return f.dead, nil
}

func (f *fakePipeline) RetryDeadLetterItem(ctx context.Context, id string) error {
	if f.retryErr != nil {
		return f.retryErr
	}
	for _, item := range f.dead {
		if item.ID == id {
			f.retried = append(f.retried, id)
			return nil
		}
	}
	return queue.ErrItemNotFound
}

func deadLetters(ids ...string) []queue.DeadLetterItem {
	out := make([]queue.DeadLetterItem, 0, len(ids))
	for _, id := range ids {
		out = append(out, queue.DeadLetterItem{
			ID:        id,
			Payload:   json.RawMessage(`{"plugin_id":"p"}`),
			Error:     "max retries exceeded",
			Timestamp: time.Now(),
		})
	}
	return out
}

func TestHealth_ReportsStoreAndUsageQueue(t *testing.T) {
	deps, _, _, _ := newTestDeps()
	deps.Models = fakeModelCounter{n: 7}
	deps.Pipeline = &fakePipeline{pending: 3, dead: deadLetters("a", "b")}

	rr := serve(t, deps, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var body HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.NotNil(t, body.StoredModels)
	assert.Equal(t, 7, *body.StoredModels)
	require.NotNil(t, body.UsageQueue)
	assert.Equal(t, UsageQueueHealth{Pending: 3, DeadLetters: 2}, *body.UsageQueue)

	deps.Models = fakeModelCounter{err: errors.New("timeout")}
	deps.Pipeline = &fakePipeline{err: errors.New("redis down")}
	rr = serve(t, deps, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	body = HealthResponse{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Nil(t, body.StoredModels)
	assert.Nil(t, body.UsageQueue)
}

func TestGetUsageRecord(t *testing.T) {
	id := uuid.New()
	deps, _, _, _ := newTestDeps()
	deps.Records = fakeRecords{records: map[uuid.UUID]*models.UsageRecord{
		id: {ID: id, PluginID: "plugin-1", ModelID: "openai/gpt-4o", TotalTokens: 12},
	}}

	rr := serve(t, deps, http.MethodGet, "/v1/usage/records/"+id.String(), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var rec models.UsageRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, 12, rec.TotalTokens)

	rr = serve(t, deps, http.MethodGet, "/v1/usage/records/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = serve(t, deps, http.MethodGet, "/v1/usage/records/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "id", decodeError(t, rr).Field)

	deps.Records = fakeRecords{err: errors.New("connection refused")}
	rr = serve(t, deps, http.MethodGet, "/v1/usage/records/"+id.String(), nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestDeadLetters(t *testing.T) {
	deps, _, _, _ := newTestDeps()
	pipeline := &fakePipeline{dead: deadLetters("a", "b", "c")}
	deps.Pipeline = pipeline

	rr := serve(t, deps, http.MethodGet, "/v1/usage/dead-letters?limit=2", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list DeadLetterListResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Count)
	assert.Equal(t, "a", list.Data[0].ID)

	rr = serve(t, deps, http.MethodGet, "/v1/usage/dead-letters?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = serve(t, deps, http.MethodPost, "/v1/usage/dead-letters/b/retry", nil)
	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, []string{"b"}, pipeline.retried)

	rr = serve(t, deps, http.MethodPost, "/v1/usage/dead-letters/zzz/retry", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	pipeline.retryErr = errors.New("redis down")
	rr = serve(t, deps, http.MethodPost, "/v1/usage/dead-letters/a/retry", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestUsageEndpoints_WithoutBackends(t *testing.T) {
	deps, _, _, _ := newTestDeps()

	rr := serve(t, deps, http.MethodGet, "/v1/usage/dead-letters", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = serve(t, deps, http.MethodGet, "/v1/usage/records/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
