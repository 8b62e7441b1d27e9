package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// RawModel is one entry of the upstream /models listing, as sent.
type RawModel struct {
	ID                  string        `json:"id"`
	Name                string        `json:"name"`
	Description         string        `json:"description"`
	ContextLength       FlexInt       `json:"context_length"`
	Architecture        *Architecture `json:"architecture,omitempty"`
	Pricing             *RawPricing   `json:"pricing,omitempty"`
	TopProvider         *TopProvider  `json:"top_provider,omitempty"`
	SupportedParameters []string      `json:"supported_parameters,omitempty"`
}

type Architecture struct {
	Modality         string   `json:"modality"`
	InputModalities  []string `json:"input_modalities"`
	OutputModalities []string `json:"output_modalities"`
	Tokenizer        string   `json:"tokenizer"`
}

// RawPricing carries upstream prices verbatim. Unit is optional; when absent
// prices are per single token (or per request/image).
type RawPricing struct {
	Prompt     Price  `json:"prompt"`
	Completion Price  `json:"completion"`
	Request    Price  `json:"request"`
	Image      Price  `json:"image"`
	Unit       string `json:"unit,omitempty"`
}

type TopProvider struct {
	ContextLength       FlexInt `json:"context_length"`
	MaxCompletionTokens FlexInt `json:"max_completion_tokens"`
	IsModerated         bool    `json:"is_moderated"`
}

// Price is a price as sent upstream: a JSON number or a decimal string.
// The empty string means the field was missing or null.
type Price string

func (p *Price) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*p = ""
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = Price(strings.TrimSpace(s))
	default:
		// numbers and anything else are kept as text and validated later
		*p = Price(data)
	}
	return nil
}

// FlexInt accepts a JSON number, a numeric string or null. Null and
// unparsable values decode to zero and Valid=false.
type FlexInt struct {
	Value int
	Valid bool
}

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	*f = FlexInt{}
	text := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if text == "" || text == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	*f = FlexInt{Value: int(v), Valid: true}
	return nil
}

func (f FlexInt) MarshalJSON() ([]byte, error) {
	if !f.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(f.Value)), nil
}

// Int returns a valid FlexInt.
func Int(v int) FlexInt {
	return FlexInt{Value: v, Valid: true}
}

// modelsEnvelope is the {"data":[...]} shape of GET /models.
type modelsEnvelope struct {
	Data []RawModel `json:"data"`
}

func decodeModels(body []byte) ([]RawModel, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("empty response body")
	}
	if body[0] == '[' {
		var list []RawModel
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var env modelsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

// CompletionRequest is the body of POST /chat/completions. Sampling fields
// are pointers so an explicit zero is still sent.
type CompletionRequest struct {
	Model            string                         `json:"model"`
	Messages         []openai.ChatCompletionMessage `json:"messages"`
	Temperature      *float64                       `json:"temperature,omitempty"`
	MaxTokens        *int                           `json:"max_tokens,omitempty"`
	TopP             *float64                       `json:"top_p,omitempty"`
	FrequencyPenalty *float64                       `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64                       `json:"presence_penalty,omitempty"`
	Stream           bool                           `json:"stream"`
}

// CompletionResponse uses the OpenAI-compatible response shape.
type CompletionResponse = openai.ChatCompletionResponse

// errorEnvelope is the {"error":{"message":...}} error body.
type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Code    any    `json:"code,omitempty"`
	} `json:"error"`
}
