package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PriceScale is the number of fractional digits kept for per-unit prices.
const PriceScale int32 = 15

// DefaultModality is used when the upstream catalog omits one.
const DefaultModality = "text->text"

//
// Model (models table)
//

type Model struct {
	// 1. Identity & lifecycle
	ID          string `db:"id" json:"id"` // "<provider>/<name>"
	Name        string `db:"name" json:"name"`
	Description string `db:"description" json:"description,omitempty"`
	IsActive    bool   `db:"is_active" json:"is_active"`

	// 2. Limits
	ContextLength       int `db:"context_length" json:"context_length"`
	MaxCompletionTokens int `db:"max_completion_tokens" json:"max_completion_tokens,omitempty"`

	// 3. Capabilities
	Modality            string     `db:"modality" json:"modality"`
	InputModalities     StringList `db:"input_modalities" json:"input_modalities"`
	OutputModalities    StringList `db:"output_modalities" json:"output_modalities"`
	Tokenizer           string     `db:"tokenizer" json:"tokenizer,omitempty"`
	SupportedParameters StringList `db:"supported_parameters" json:"supported_parameters"`

	// 4. Pricing (per single unit)
	Pricing Pricing `db:"pricing" json:"pricing"`

	// 5. Timestamps
	LastSyncedAt time.Time `db:"last_synced_at" json:"last_synced_at"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Provider returns the part of the ID before the first slash.
func (m *Model) Provider() string {
	provider, _, found := strings.Cut(m.ID, "/")
	if !found {
		return ""
	}
	return provider
}

// Clone returns a deep copy so callers can't mutate cached entries.
func (m *Model) Clone() *Model {
	if m == nil {
		return nil
	}
	c := *m
	c.InputModalities = cloneList(m.InputModalities)
	c.OutputModalities = cloneList(m.OutputModalities)
	c.SupportedParameters = cloneList(m.SupportedParameters)
	return &c
}

func cloneList(l StringList) StringList {
	if l == nil {
		return nil
	}
	out := make(StringList, len(l))
	copy(out, l)
	return out
}

// Pricing holds the per-unit rates of a model: per token for prompt and
// completion, per request and per image otherwise.
type Pricing struct {
	Prompt     decimal.Decimal `db:"prompt" json:"prompt"`
	Completion decimal.Decimal `db:"completion" json:"completion"`
	Request    decimal.Decimal `db:"request" json:"request"`
	Image      decimal.Decimal `db:"image" json:"image"`
}

// IsFree reports whether every rate is zero.
func (p Pricing) IsFree() bool {
	return p.Prompt.IsZero() && p.Completion.IsZero() && p.Request.IsZero() && p.Image.IsZero()
}

// CostBreakdown is the cost derived from token counts and a Pricing.
type CostBreakdown struct {
	PromptCost     decimal.Decimal `json:"prompt_cost"`
	CompletionCost decimal.Decimal `json:"completion_cost"`
	TotalCost      decimal.Decimal `json:"total_cost"`
}

// ParseDecimalOrZero parses a decimal string; empty, unparsable and negative
// values become zero.
func ParseDecimalOrZero(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return decimal.Zero
	}
	return d
}
