package registry

import (
	"strings"

	"github.com/shopspring/decimal"

	"model_registry/internal/catalog"
	"model_registry/internal/models"
)

var oneMillion = decimal.NewFromInt(1_000_000)

// perMillionUnits are pricing.unit values meaning "USD per 1M tokens".
var perMillionUnits = map[string]bool{
	"per_million_tokens": true,
	"1m_tokens":          true,
	"per_million":        true,
}

// toModel turns an upstream descriptor into a Model with explicit defaults.
// Descriptors without an ID are rejected.
func toModel(raw catalog.RawModel) (*models.Model, bool) {
	id := strings.TrimSpace(raw.ID)
	if id == "" {
		return nil, false
	}

	m := &models.Model{
		ID:                  id,
		Name:                strings.TrimSpace(raw.Name),
		Description:         strings.TrimSpace(raw.Description),
		Modality:            models.DefaultModality,
		InputModalities:     models.StringList{},
		OutputModalities:    models.StringList{},
		SupportedParameters: models.StringList{},
		IsActive:            true,
	}
	if m.Name == "" {
		m.Name = id
	}

	if arch := raw.Architecture; arch != nil {
		if modality := strings.TrimSpace(arch.Modality); modality != "" {
			m.Modality = modality
		}
		m.InputModalities = cleanList(arch.InputModalities)
		m.OutputModalities = cleanList(arch.OutputModalities)
		m.Tokenizer = strings.TrimSpace(arch.Tokenizer)
	}
	if len(m.InputModalities) == 0 || len(m.OutputModalities) == 0 {
		in, out := splitModality(m.Modality)
		if len(m.InputModalities) == 0 {
			m.InputModalities = in
		}
		if len(m.OutputModalities) == 0 {
			m.OutputModalities = out
		}
	}
	m.SupportedParameters = cleanList(raw.SupportedParameters)

	if raw.ContextLength.Valid && raw.ContextLength.Value > 0 {
		m.ContextLength = raw.ContextLength.Value
	}
	if tp := raw.TopProvider; tp != nil {
		if m.ContextLength == 0 && tp.ContextLength.Valid && tp.ContextLength.Value > 0 {
			m.ContextLength = tp.ContextLength.Value
		}
		if tp.MaxCompletionTokens.Valid && tp.MaxCompletionTokens.Value > 0 {
			m.MaxCompletionTokens = tp.MaxCompletionTokens.Value
		}
	}

	m.Pricing = toPricing(raw.Pricing)
	return m, true
}

func toPricing(raw *catalog.RawPricing) models.Pricing {
	if raw == nil {
		return models.Pricing{
			Prompt:     decimal.Zero,
			Completion: decimal.Zero,
			Request:    decimal.Zero,
			Image:      decimal.Zero,
		}
	}
	perMillion := perMillionUnits[strings.ToLower(strings.TrimSpace(raw.Unit))]
	return models.Pricing{
		Prompt:     normalizePrice(raw.Prompt, perMillion),
		Completion: normalizePrice(raw.Completion, perMillion),
		Request:    normalizePrice(raw.Request, false),
		Image:      normalizePrice(raw.Image, false),
	}
}

// normalizePrice parses an upstream price into a per-unit rate with
// PriceScale fractional digits. Missing, unparsable and negative values
// become zero.
func normalizePrice(p catalog.Price, perMillion bool) decimal.Decimal {
	d := models.ParseDecimalOrZero(string(p))
	if d.IsZero() {
		return decimal.Zero
	}
	if perMillion {
		d = d.DivRound(oneMillion, models.PriceScale)
	}
	return d.Round(models.PriceScale)
}

// splitModality derives modality lists from "text+image->text".
func splitModality(modality string) (models.StringList, models.StringList) {
	in, out, found := strings.Cut(modality, "->")
	if !found {
		return models.StringList{}, models.StringList{}
	}
	return cleanList(strings.Split(in, "+")), cleanList(strings.Split(out, "+"))
}

// cleanList trims entries and drops blanks and duplicates, keeping order.
func cleanList(in []string) models.StringList {
	out := make(models.StringList, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
