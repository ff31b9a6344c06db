package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/compliance-armada/pkg/common/logger"
)

func serve(t *testing.T, cfg Config, path string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	Routes(r, cfg)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestLiveness(t *testing.T) {
	t.Parallel()

	rec := serve(t, Config{Build: "abc123", Log: logger.Noop()}, "/liveness")
	require.Equal(t, http.StatusOK, rec.Code)

	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, healthResponse{Status: "ok", Build: "abc123"}, body)
}

func TestReadiness(t *testing.T) {
	t.Parallel()

	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name   string
		checks map[string]Checker
		status int
		failed map[string]string
	}{
		{name: "no checks", status: http.StatusOK},
		{name: "all pass", checks: map[string]Checker{"database": ok}, status: http.StatusOK},
		{
			name:   "one fails",
			checks: map[string]Checker{"database": ok, "events": down},
			status: http.StatusServiceUnavailable,
			failed: map[string]string{"events": "connection refused"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := serve(t, Config{Log: logger.Noop(), Checks: tt.checks}, "/readiness")
			assert.Equal(t, tt.status, rec.Code)

			var body readyResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.failed, body.Failed)
		})
	}
}
