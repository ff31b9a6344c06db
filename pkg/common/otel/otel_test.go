package otel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestEndpointExcluder(t *testing.T) {
	s := newEndpointExcluder(map[string]struct{}{"GET /v1/liveness": {}}, 1)

	tests := []struct {
		name string
		want sdktrace.SamplingDecision
	}{
		{name: "GET /v1/liveness", want: sdktrace.Drop},
		{name: "POST /v1/scans", want: sdktrace.RecordAndSample},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := s.ShouldSample(sdktrace.SamplingParameters{
				ParentContext: context.Background(),
				TraceID:       trace.TraceID{1},
				Name:          tt.name,
			})
			assert.Equal(t, tt.want, res.Decision)
		})
	}
}

func TestGetTraceID(t *testing.T) {
	assert.Equal(t, "00000000000000000000000000000000", GetTraceID(context.Background()))

	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	assert.Equal(t, span.SpanContext().TraceID().String(), GetTraceID(ctx))
}

func TestAddSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	_, span := AddSpan(context.Background(), tp.Tracer("test"), "scan.run", attribute.String("scan_id", "abc"))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "scan.run", ended[0].Name())
	assert.Contains(t, ended[0].Attributes(), attribute.String("scan_id", "abc"))
}

func TestMiddlewareSkipsExcludedRoutes(t *testing.T) {
	sawSpan := map[string]bool{}
	h := Middleware("svc", map[string]struct{}{"/v1/liveness": {}})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sawSpan[r.URL.Path] = trace.SpanFromContext(r.Context()).SpanContext().IsValid()
			w.WriteHeader(http.StatusOK)
		}))

	for _, path := range []string{"/v1/liveness", "/v1/scans"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.False(t, sawSpan["/v1/liveness"])
}
