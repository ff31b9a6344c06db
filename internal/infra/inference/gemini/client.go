// Package gemini adapts the Gemini generateContent API to the scanning
// inference port.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/compliance-armada/internal/domain/scanning"
	"github.com/ahrav/compliance-armada/pkg/common"
	"github.com/ahrav/compliance-armada/pkg/common/logger"
	"github.com/ahrav/compliance-armada/pkg/common/otel"
)

const (
	DefaultEndpoint       = "https://generativelanguage.googleapis.com"
	DefaultModel          = "gemini-1.5-flash"
	DefaultAttemptTimeout = 30 * time.Second
	DefaultMaxRetries     = 2
	DefaultMaxElapsed     = time.Minute

	maxResponseBytes = 1 << 20
)

// Config configures the Gemini client.
type Config struct {
	Endpoint string
	Model    string
	APIKey   string
	// AttemptTimeout bounds each HTTP attempt.
	AttemptTimeout time.Duration
	// MaxRetries is the number of extra attempts after a retryable failure.
	MaxRetries int
	// RequestsPerSecond caps outbound calls; zero disables the limiter.
	RequestsPerSecond float64
	Burst             int
	// InitialBackoff is the first retry delay. Defaults to 500ms.
	InitialBackoff time.Duration
	// MaxElapsed stops retrying once this much time has passed since the
	// first attempt, whatever MaxRetries says.
	MaxElapsed time.Duration
}

func (c Config) withDefaults() Config {
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = DefaultAttemptTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxElapsed <= 0 {
		c.MaxElapsed = DefaultMaxElapsed
	}
	return c
}

var _ scanning.InferenceService = (*Client)(nil)

// Client evaluates (chunk, rule) pairs with one generateContent call each,
// retrying transport failures and 429/5xx responses.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *common.RateLimiter

	logger *logger.Logger
	tracer trace.Tracer
}

// NewClient creates a Client. A nil httpClient selects a client whose
// transport is traced.
func NewClient(cfg Config, httpClient *http.Client, logger *logger.Logger, tracer trace.Tracer) *Client {
	cfg = cfg.withDefaults()
	if httpClient == nil {
		httpClient = &http.Client{Transport: otel.NewTransport(http.DefaultTransport)}
	}

	var limiter *common.RateLimiter
	if cfg.RequestsPerSecond > 0 {
		limiter = common.NewRateLimiter(cfg.RequestsPerSecond, cfg.Burst)
	}

	return &Client{
		cfg:     cfg,
		http:    httpClient,
		limiter: limiter,
		logger:  logger.With("component", "gemini_client", "model", cfg.Model),
		tracer:  tracer,
	}
}

type (
	part struct {
		Text string `json:"text"`
	}

	content struct {
		Role  string `json:"role,omitempty"`
		Parts []part `json:"parts"`
	}

	generationConfig struct {
		Temperature      float64 `json:"temperature"`
		ResponseMIMEType string  `json:"responseMimeType,omitempty"`
	}

	generateRequest struct {
		SystemInstruction *content         `json:"systemInstruction,omitempty"`
		Contents          []content        `json:"contents"`
		GenerationConfig  generationConfig `json:"generationConfig"`
	}

	generateResponse struct {
		Candidates []struct {
			Content      content `json:"content"`
			FinishReason string  `json:"finishReason"`
		} `json:"candidates"`
	}

	apiError struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
)

// statusError is a non-2xx response.
type statusError struct {
	StatusCode int
	Message    string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("gemini API error (%d): %s", e.StatusCode, e.Message)
}

func (e *statusError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Evaluate asks the model whether req's chunk satisfies req's rule.
func (c *Client) Evaluate(ctx context.Context, req scanning.EvaluationRequest) (scanning.Verdict, error) {
	ctx, span := c.tracer.Start(ctx, "gemini.evaluate",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("rule_id", req.Rule.ID),
			attribute.Int("chunk_index", req.ChunkIndex),
		))
	defer span.End()

	body, err := json.Marshal(generateRequest{
		SystemInstruction: &content{Parts: []part{{Text: systemPrompt}}},
		Contents:          []content{{Role: "user", Parts: []part{{Text: buildPrompt(req)}}}},
		GenerationConfig:  generationConfig{Temperature: 0, ResponseMIMEType: "application/json"},
	})
	if err != nil {
		return scanning.Verdict{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	var text string
	attempt := 0
	operation := func() error {
		attempt++
		out, err := c.generate(ctx, body)
		if err == nil {
			text = out
			return nil
		}

		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return err
		}
		var se *statusError
		if errors.As(err, &se) && !se.retryable() {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}

		c.logger.Debug(ctx, "gemini call failed, will retry",
			"attempt", attempt,
			"rule_id", req.Rule.ID,
			"error", err,
		)
		return err
	}

	// WithMaxRetries treats zero as unlimited.
	var retries backoff.BackOff = &backoff.StopBackOff{}
	if c.cfg.MaxRetries > 0 {
		expBackoff := backoff.NewExponentialBackOff()
		expBackoff.InitialInterval = c.cfg.InitialBackoff
		expBackoff.MaxElapsedTime = c.cfg.MaxElapsed
		retries = backoff.WithMaxRetries(expBackoff, uint64(c.cfg.MaxRetries))
	}
	policy := backoff.WithContext(retries, ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate content failed")
		span.SetAttributes(attribute.Int("attempts", attempt))
		return scanning.Verdict{}, err
	}
	span.SetAttributes(attribute.Int("attempts", attempt))

	verdict, err := ParseVerdict(text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed verdict")
		return scanning.Verdict{}, err
	}
	return verdict, nil
}

// generate performs one HTTP attempt and returns the first candidate text.
func (c *Client) generate(ctx context.Context, body []byte) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", strings.TrimRight(c.cfg.Endpoint, "/"), c.cfg.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("x-goog-api-key", c.cfg.APIKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(respBody)
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		return "", &statusError{StatusCode: resp.StatusCode, Message: msg}
	}

	var gr generateResponse
	if err := json.Unmarshal(respBody, &gr); err != nil {
		return "", backoff.Permanent(fmt.Errorf("%w: decode response: %v", scanning.ErrMalformedVerdict, err))
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return "", backoff.Permanent(fmt.Errorf("%w: response has no candidates", scanning.ErrMalformedVerdict))
	}

	var sb strings.Builder
	for _, p := range gr.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String(), nil
}
