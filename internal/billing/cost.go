package billing

import (
	"github.com/shopspring/decimal"

	"model_registry/internal/models"
	"model_registry/internal/utils"
)

var costLogger = utils.NewLogger("billing")

// CalculateCost prices a completion:
// prompt*Prompt + completion*Completion + Request. Pure and linear in the
// token counts; a nil pricing yields zero cost.
func CalculateCost(pricing *models.Pricing, promptTokens, completionTokens int) models.CostBreakdown {
	if pricing == nil {
		costLogger.Warn("Pricing missing, recording zero cost",
			"prompt_tokens", promptTokens,
			"completion_tokens", completionTokens,
		)
		return models.CostBreakdown{
			PromptCost:     decimal.Zero,
			CompletionCost: decimal.Zero,
			TotalCost:      decimal.Zero,
		}
	}

	promptCost := pricing.Prompt.Mul(decimal.NewFromInt(int64(promptTokens)))
	completionCost := pricing.Completion.Mul(decimal.NewFromInt(int64(completionTokens)))

	return models.CostBreakdown{
		PromptCost:     promptCost,
		CompletionCost: completionCost,
		TotalCost:      promptCost.Add(completionCost).Add(pricing.Request),
	}
}
