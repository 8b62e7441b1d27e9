package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"model_registry/internal/apperrors"
	"model_registry/internal/askai"
	"model_registry/internal/models"
	"model_registry/internal/queue"
	"model_registry/internal/registry"
	"model_registry/internal/storage"
	"model_registry/internal/usage"
	"model_registry/internal/utils"
)

// ModelListResponse is the body of GET /v1/models
type ModelListResponse struct {
	Data  []*models.Model `json:"data"`
	Count int             `json:"count"`
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status       string            `json:"status"`
	Database     string            `json:"database"`
	Registry     registry.Stats    `json:"registry"`
	StoredModels *int              `json:"stored_models,omitempty"`
	UsageQueue   *UsageQueueHealth `json:"usage_queue,omitempty"`
}

// UsageQueueHealth reports the usage persistence backlog
type UsageQueueHealth struct {
	Pending     int `json:"pending"`
	DeadLetters int `json:"dead_letters"`
}

func (d *Dependencies) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := HealthResponse{Status: "ok", Database: "ok", Registry: d.Registry.Stats()}
	status := http.StatusOK
	if d.Store != nil {
		if err := d.Store.Health(ctx); err != nil {
			logger.Warn("Health check failed", "error", err)
			resp.Status = "degraded"
			resp.Database = err.Error()
			status = http.StatusServiceUnavailable
		}
	}

	if d.Models != nil && status == http.StatusOK {
		if n, err := d.Models.CountActive(ctx); err != nil {
			logger.Warn("Counting stored models failed", "error", err)
		} else {
			resp.StoredModels = &n
		}
	}

	if d.Pipeline != nil {
		pending, err := d.Pipeline.GetQueueLength(ctx)
		if err == nil {
			var dead []queue.DeadLetterItem
			dead, err = d.Pipeline.GetDeadLetterItems(ctx, 0)
			resp.UsageQueue = &UsageQueueHealth{Pending: pending, DeadLetters: len(dead)}
		}
		if err != nil {
			logger.Warn("Reading usage queue state failed", "error", err)
			resp.UsageQueue = nil
		}
	}
	utils.RespondWithJSON(w, status, resp)
}

func (d *Dependencies) handleListModels(w http.ResponseWriter, r *http.Request) {
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))

	list, err := d.Registry.GetModels(r.Context(), registry.GetOptions{ForceRefresh: refresh})
	if err != nil {
		respondError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, ModelListResponse{Data: list, Count: len(list)})
}

func (d *Dependencies) handleGetModel(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))

	model, err := d.Registry.GetModel(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	if model == nil {
		respondError(w, apperrors.ModelNotFound(id))
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, model)
}

func (d *Dependencies) handleSyncModels(w http.ResponseWriter, r *http.Request) {
	if err := d.Registry.SyncModels(r.Context()); err != nil {
		respondError(w, apperrors.Wrap(err))
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, d.Registry.Stats())
}

func (d *Dependencies) handleChat(w http.ResponseWriter, r *http.Request) {
	var req askai.CompletionRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		respondError(w, apperrors.InvalidRequest("body", nil, "invalid JSON body: "+err.Error()))
		return
	}

	result, err := d.Completions.Complete(r.Context(), &req)
	if err != nil {
		respondError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, result)
}

func (d *Dependencies) handleUsageSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	from, err := parseTime("from", q.Get("from"))
	if err != nil {
		respondError(w, err)
		return
	}
	to, err := parseTime("to", q.Get("to"))
	if err != nil {
		respondError(w, err)
		return
	}

	filter := usage.Filter{
		PluginID: q.Get("plugin_id"),
		UserID:   q.Get("user_id"),
		TenantID: q.Get("tenant_id"),
	}
	summary, err := d.Usage.Summarize(r.Context(), filter, usage.DateRange{From: from, To: to})
	if err != nil {
		respondError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, summary)
}

// DeadLetterListResponse is the body of GET /v1/usage/dead-letters
type DeadLetterListResponse struct {
	Data  []queue.DeadLetterItem `json:"data"`
	Count int                    `json:"count"`
}

func (d *Dependencies) handleGetUsageRecord(w http.ResponseWriter, r *http.Request) {
	if d.Records == nil {
		utils.RespondWithError(w, http.StatusNotFound, "usage records are not available")
		return
	}
	raw := r.PathValue("id")
	id, err := uuid.Parse(raw)
	if err != nil {
		respondError(w, apperrors.InvalidRequest("id", raw, "expected a UUID"))
		return
	}

	record, err := d.Records.GetByID(r.Context(), id)
	if errors.Is(err, storage.ErrUsageRecordNotFound) {
		utils.RespondWithError(w, http.StatusNotFound, "usage record not found")
		return
	}
	if err != nil {
		respondError(w, apperrors.BackingStore("failed to read usage record", err))
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, record)
}

func (d *Dependencies) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	if d.Pipeline == nil {
		utils.RespondWithError(w, http.StatusNotFound, "usage queue is not available")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, apperrors.InvalidRequest("limit", raw, "expected a non-negative integer"))
			return
		}
		limit = n
	}

	items, err := d.Pipeline.GetDeadLetterItems(r.Context(), limit)
	if err != nil {
		respondError(w, apperrors.BackingStore("failed to list dead letters", err))
		return
	}
	if items == nil {
		items = []queue.DeadLetterItem{}
	}
	utils.RespondWithJSON(w, http.StatusOK, DeadLetterListResponse{Data: items, Count: len(items)})
}

func (d *Dependencies) handleRetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	if d.Pipeline == nil {
		utils.RespondWithError(w, http.StatusNotFound, "usage queue is not available")
		return
	}
	id := r.PathValue("id")

	err := d.Pipeline.RetryDeadLetterItem(r.Context(), id)
	if errors.Is(err, queue.ErrItemNotFound) {
		utils.RespondWithError(w, http.StatusNotFound, "dead letter not found")
		return
	}
	if err != nil {
		respondError(w, apperrors.BackingStore("failed to requeue dead letter", err))
		return
	}
	utils.RespondWithJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "requeued"})
}

// parseTime accepts RFC 3339 timestamps and plain dates (UTC midnight).
func parseTime(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, value); err == nil {
		return t, nil
	}
	return time.Time{}, apperrors.InvalidRequest(field, value, "expected RFC 3339 timestamp or YYYY-MM-DD date")
}
