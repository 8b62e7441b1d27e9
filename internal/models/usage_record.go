package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UsageStatus is the outcome of a completion attempt.
type UsageStatus string

const (
	UsageStatusSuccess UsageStatus = "success"
	UsageStatusError   UsageStatus = "error"
)

// UsageRecord represents a single completion attempt audit log
type UsageRecord struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	PluginID         string          `db:"plugin_id" json:"plugin_id"`
	TenantID         *string         `db:"tenant_id" json:"tenant_id,omitempty"`
	UserID           *string         `db:"user_id" json:"user_id,omitempty"`
	ModelID          string          `db:"model_id" json:"model_id"`
	PromptTokens     int             `db:"prompt_tokens" json:"prompt_tokens"`
	CompletionTokens int             `db:"completion_tokens" json:"completion_tokens"`
	TotalTokens      int             `db:"total_tokens" json:"total_tokens"`
	PromptCost       decimal.Decimal `db:"prompt_cost" json:"prompt_cost"`
	CompletionCost   decimal.Decimal `db:"completion_cost" json:"completion_cost"`
	TotalCost        decimal.Decimal `db:"total_cost" json:"total_cost"`
	DurationMs       int64           `db:"duration_ms" json:"duration_ms"`
	Status           UsageStatus     `db:"status" json:"status"`
	ErrorMessage     *string         `db:"error_message" json:"error_message,omitempty"`
	Metadata         JSONB           `db:"metadata" json:"metadata,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
}

// Succeeded reports whether the attempt completed.
func (r *UsageRecord) Succeeded() bool {
	return r.Status == UsageStatusSuccess
}
