package usage

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"model_registry/internal/apperrors"
	"model_registry/internal/storage"
)

// Filter selects records by at most one owner identifier
type Filter struct {
	PluginID string
	UserID   string
	TenantID string
}

// DateRange bounds records by creation time: From inclusive, To exclusive.
// Zero bounds are open.
type DateRange struct {
	From time.Time
	To   time.Time
}

// ModelSummary aggregates usage of a single model
type ModelSummary struct {
	ModelID  string          `json:"model_id"`
	Requests int             `json:"requests"`
	Errors   int             `json:"errors"`
	Tokens   int64           `json:"tokens"`
	Cost     decimal.Decimal `json:"cost"`
}

// Summary aggregates usage over a filtered record set
type Summary struct {
	TotalRequests int                      `json:"total_requests"`
	TotalErrors   int                      `json:"total_errors"`
	TotalTokens   int64                    `json:"total_tokens"`
	TotalCost     decimal.Decimal          `json:"total_cost"`
	ByModel       map[string]*ModelSummary `json:"by_model"`
}

// Models returns the per-model entries ordered by cost, highest first.
func (s *Summary) Models() []*ModelSummary {
	out := make([]*ModelSummary, 0, len(s.ByModel))
	for _, m := range s.ByModel {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Cost.Cmp(out[j].Cost); c != 0 {
			return c > 0
		}
		return out[i].ModelID < out[j].ModelID
	})
	return out
}

// Summarize aggregates the records matching filter and dates.
func (r *Recorder) Summarize(ctx context.Context, filter Filter, dates DateRange) (*Summary, error) {
	query, err := filter.toStorage(dates)
	if err != nil {
		return nil, err
	}
	if r.source == nil {
		return nil, apperrors.BackingStore("usage store is not configured", nil)
	}

	records, err := r.source.List(ctx, query)
	if err != nil {
		return nil, apperrors.BackingStore("failed to list usage records", err)
	}

	summary := &Summary{
		TotalCost: decimal.Zero,
		ByModel:   make(map[string]*ModelSummary),
	}
	for _, rec := range records {
		tokens := int64(rec.TotalTokens)
		if tokens == 0 {
			tokens = int64(rec.PromptTokens + rec.CompletionTokens)
		}

		summary.TotalRequests++
		summary.TotalTokens += tokens
		summary.TotalCost = summary.TotalCost.Add(rec.TotalCost)

		m, ok := summary.ByModel[rec.ModelID]
		if !ok {
			m = &ModelSummary{ModelID: rec.ModelID, Cost: decimal.Zero}
			summary.ByModel[rec.ModelID] = m
		}
		m.Requests++
		m.Tokens += tokens
		m.Cost = m.Cost.Add(rec.TotalCost)

		if !rec.Succeeded() {
			summary.TotalErrors++
			m.Errors++
		}
	}
	return summary, nil
}

func (f Filter) toStorage(dates DateRange) (storage.UsageFilter, error) {
	query := storage.UsageFilter{
		PluginID: strings.TrimSpace(f.PluginID),
		UserID:   strings.TrimSpace(f.UserID),
		TenantID: strings.TrimSpace(f.TenantID),
		From:     dates.From,
		To:       dates.To,
	}

	set := 0
	for _, v := range []string{query.PluginID, query.UserID, query.TenantID} {
		if v != "" {
			set++
		}
	}
	if set > 1 {
		return query, apperrors.InvalidRequest("filter", f, "filter by at most one of plugin_id, user_id, tenant_id")
	}
	if !dates.From.IsZero() && !dates.To.IsZero() && !dates.From.Before(dates.To) {
		return query, apperrors.InvalidRequest("to", dates.To, "end of range must be after its start")
	}
	return query, nil
}
