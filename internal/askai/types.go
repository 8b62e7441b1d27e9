package askai

import (
	"time"

	"github.com/shopspring/decimal"
)

// Message roles accepted from callers
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// FinishReason is why generation stopped
type FinishReason string

const (
	FinishStop   FinishReason = "stop"
	FinishLength FinishReason = "length"
	FinishError  FinishReason = "error"
)

// Message is a single chat turn
type Message struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content" validate:"required"`
}

// CompletionRequest is an inbound completion request. Sampling parameters
// are optional; nil means the upstream default.
type CompletionRequest struct {
	Model            string                 `json:"model" validate:"required"`
	Messages         []Message              `json:"messages" validate:"required,min=1,dive"`
	PluginID         string                 `json:"plugin_id" validate:"required"`
	UserID           string                 `json:"user_id,omitempty"`
	TenantID         string                 `json:"tenant_id,omitempty"`
	Temperature      *float64               `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	MaxTokens        *int                   `json:"max_tokens,omitempty" validate:"omitempty,gt=0"`
	TopP             *float64               `json:"top_p,omitempty" validate:"omitempty,gte=0,lte=1"`
	FrequencyPenalty *float64               `json:"frequency_penalty,omitempty" validate:"omitempty,gte=-2,lte=2"`
	PresencePenalty  *float64               `json:"presence_penalty,omitempty" validate:"omitempty,gte=-2,lte=2"`
	SystemPrompt     string                 `json:"system_prompt,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// Usage is the token and cost breakdown of a completion
type Usage struct {
	PromptTokens     int             `json:"prompt_tokens"`
	CompletionTokens int             `json:"completion_tokens"`
	TotalTokens      int             `json:"total_tokens"`
	PromptCost       decimal.Decimal `json:"prompt_cost"`
	CompletionCost   decimal.Decimal `json:"completion_cost"`
	TotalCost        decimal.Decimal `json:"total_cost"`
}

// CompletionResult is the shaped outcome of a successful completion
type CompletionResult struct {
	ID           string        `json:"id"`
	Model        string        `json:"model"`
	Text         string        `json:"text"`
	FinishReason FinishReason  `json:"finish_reason"`
	Usage        Usage         `json:"usage"`
	Duration     time.Duration `json:"-"`
	DurationMs   int64         `json:"duration_ms"`
}
