package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"

	"model_registry/internal/apperrors"
	"model_registry/internal/utils"
)

const (
	DefaultBaseURL  = "https://openrouter.ai/api/v1"
	DefaultSiteURL  = "http://localhost:3000"
	DefaultSiteName = "Model Registry"
	DefaultTimeout  = 30 * time.Second

	// maxErrorBody caps raw error text carried into error messages
	maxErrorBody = 512
)

// Config configures the upstream catalog client
type Config struct {
	APIKey   string
	BaseURL  string
	SiteURL  string
	SiteName string
	Timeout  time.Duration
}

// Client talks to an OpenRouter-compatible API. It holds no state besides
// its configuration and never retries.
type Client struct {
	http    *resty.Client
	timeout time.Duration
	logger  *utils.Logger
}

// NewClient creates a catalog client. An empty API key is rejected.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, apperrors.MissingCredential("OPENROUTER_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.SiteURL == "" {
		cfg.SiteURL = DefaultSiteURL
	}
	if cfg.SiteName == "" {
		cfg.SiteName = DefaultSiteName
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("HTTP-Referer", cfg.SiteURL).
		SetHeader("X-Title", cfg.SiteName).
		SetRetryCount(0)

	return &Client{
		http:    httpClient,
		timeout: cfg.Timeout,
		logger:  utils.NewLogger("catalog"),
	}, nil
}

// ListModels fetches the full upstream model catalog.
func (c *Client) ListModels(ctx context.Context) ([]RawModel, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.http.R().
		SetContext(ctx).
		Get("/models")
	if err != nil {
		return nil, transportError(ctx, err)
	}
	if resp.IsError() {
		return nil, errorFromResponse(resp)
	}

	list, err := decodeModels(resp.Body())
	if err != nil {
		return nil, &apperrors.Error{
			Kind:       apperrors.KindProviderError,
			Message:    "malformed model listing",
			StatusCode: resp.StatusCode(),
			Err:        err,
		}
	}

	c.logger.Debug("Fetched model catalog", "count", len(list))
	return list, nil
}

// CreateCompletion performs a single non-streaming chat completion.
func (c *Client) CreateCompletion(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if req == nil {
		return nil, apperrors.InvalidRequest("request", nil, "completion request is required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		Post("/chat/completions")
	if err != nil {
		return nil, transportError(ctx, err)
	}
	if resp.IsError() {
		return nil, errorFromResponse(resp)
	}

	var completion CompletionResponse
	if err := json.Unmarshal(resp.Body(), &completion); err != nil {
		return nil, &apperrors.Error{
			Kind:       apperrors.KindProviderError,
			Message:    "malformed completion response",
			StatusCode: resp.StatusCode(),
			Err:        err,
		}
	}
	return &completion, nil
}

// transportError classifies failures where no response was received.
func transportError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperrors.Timeout(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperrors.Timeout(err)
	}
	return apperrors.Network(err)
}

// errorFromResponse maps a non-2xx response to a typed error.
func errorFromResponse(resp *resty.Response) error {
	status := resp.StatusCode()
	message := errorMessage(resp.Body())
	if message == "" {
		message = fmt.Sprintf("upstream returned status %d", status)
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperrors.AuthFailed(status, message)
	case status == http.StatusTooManyRequests:
		return apperrors.RateLimited(parseRetryAfter(resp.Header().Get("Retry-After"), time.Now()), message)
	case status >= 500:
		return apperrors.ProviderError(status, message, true)
	case status >= 400:
		return &apperrors.Error{Kind: apperrors.KindInvalidRequest, Message: message, StatusCode: status}
	default:
		return apperrors.ProviderError(status, message, false)
	}
}

// errorMessage extracts error.message, falling back to the raw body.
func errorMessage(body []byte) string {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Message != "" {
		return env.Error.Message
	}
	return truncate(strings.TrimSpace(string(body)), maxErrorBody)
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// parseRetryAfter reads a Retry-After header given in seconds or as an
// HTTP date. Missing or invalid values yield zero.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
