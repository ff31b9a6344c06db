package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/compliance-armada/internal/domain/rules"
	"github.com/ahrav/compliance-armada/internal/domain/scanning"
	"github.com/ahrav/compliance-armada/pkg/common/logger"
)

func candidate(text string) string {
	resp := map[string]any{
		"candidates": []any{
			map[string]any{
				"content": map[string]any{
					"role":  "model",
					"parts": []any{map[string]any{"text": text}},
				},
				"finishReason": "STOP",
			},
		},
	}
	b, _ := json.Marshal(resp)
	return string(b)
}

func testRequest() scanning.EvaluationRequest {
	return scanning.EvaluationRequest{
		ScanID: uuid.New(),
		Rule: rules.Rule{
			ID:          "art-32",
			FrameworkID: "gdpr",
			Citation:    "Art. 32",
			Title:       "Security of processing",
			Requirement: "Personal data is encrypted.",
		},
		ChunkIndex: 4,
		ChunkText:  "Customer records are stored in plain text.",
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc, cfg Config) (*Client, *atomic.Int32) {
	t.Helper()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	cfg.Endpoint = srv.URL
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = time.Millisecond
	}
	return NewClient(cfg, srv.Client(), logger.Noop(), noop.NewTracerProvider().Tracer("test")), &calls
}

func TestClient_Evaluate_Gap(t *testing.T) {
	t.Parallel()

	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1beta/models/test-model:generateContent", r.URL.Path)
		assert.Equal(t, "secret-key", r.Header.Get("x-goog-api-key"))

		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Contents, 1)
		prompt := req.Contents[0].Parts[0].Text
		assert.Contains(t, prompt, "Personal data is encrypted.")
		assert.Contains(t, prompt, "Paragraph 4:")
		assert.Equal(t, "application/json", req.GenerationConfig.ResponseMIMEType)

		fmt.Fprint(w, candidate("```json\n{\"compliant\": false, \"severity\": \"high\", \"remediation\": \"Encrypt it.\"}\n```"))
	}, Config{Model: "test-model", APIKey: "secret-key"})

	v, err := client.Evaluate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, scanning.Gap(scanning.SeverityHigh, "Encrypt it."), v)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_Evaluate_Retries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		statuses   []int
		maxRetries int
		wantErr    bool
		wantCalls  int32
	}{
		{name: "recovers after 503", statuses: []int{503, 200}, maxRetries: 2, wantCalls: 2},
		{name: "recovers after 429", statuses: []int{429, 429, 200}, maxRetries: 2, wantCalls: 3},
		{name: "gives up after max retries", statuses: []int{500, 500, 500, 500}, maxRetries: 2, wantErr: true, wantCalls: 3},
		{name: "client error is not retried", statuses: []int{400, 200}, maxRetries: 2, wantErr: true, wantCalls: 1},
		{name: "no retries configured", statuses: []int{503, 200}, maxRetries: 0, wantErr: true, wantCalls: 1},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var n atomic.Int32
			client, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				i := int(n.Add(1)) - 1
				status := tt.statuses[len(tt.statuses)-1]
				if i < len(tt.statuses) {
					status = tt.statuses[i]
				}
				if status != http.StatusOK {
					w.WriteHeader(status)
					fmt.Fprint(w, `{"error": {"code": 1, "message": "try later", "status": "UNAVAILABLE"}}`)
					return
				}
				fmt.Fprint(w, candidate(`{"compliant": true}`))
			}, Config{MaxRetries: tt.maxRetries})

			v, err := client.Evaluate(context.Background(), testRequest())
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "try later")
			} else {
				require.NoError(t, err)
				assert.Equal(t, scanning.NoGap(), v)
			}
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestClient_Evaluate_MaxElapsedStopsRetries(t *testing.T) {
	t.Parallel()

	client, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}, Config{MaxRetries: 10000, InitialBackoff: 5 * time.Millisecond, MaxElapsed: 50 * time.Millisecond})

	start := time.Now()
	_, err := client.Evaluate(context.Background(), testRequest())
	require.Error(t, err)
	assert.Less(t, calls.Load(), int32(10000))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestClient_Evaluate_MalformedNotRetried(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{name: "prose answer", body: candidate("I think it is fine.")},
		{name: "no candidates", body: `{"candidates": []}`},
		{name: "not json", body: `<html>`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, tt.body)
			}, Config{MaxRetries: 3})

			_, err := client.Evaluate(context.Background(), testRequest())
			assert.ErrorIs(t, err, scanning.ErrMalformedVerdict)
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestClient_Evaluate_AttemptTimeout(t *testing.T) {
	t.Parallel()

	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}, Config{AttemptTimeout: 20 * time.Millisecond, MaxRetries: 1})

	_, err := client.Evaluate(context.Background(), testRequest())
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_Evaluate_ContextCancelled(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}, Config{MaxRetries: 5, InitialBackoff: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.Evaluate(ctx, testRequest())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestBuildPrompt(t *testing.T) {
	prompt := buildPrompt(testRequest())
	assert.True(t, strings.HasPrefix(prompt, "Framework: gdpr\n"))
	assert.Contains(t, prompt, "Rule: art-32 (Art. 32) Security of processing")
	assert.Contains(t, prompt, "Customer records are stored in plain text.")
}
