package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestNewTracerDisabled(t *testing.T) {
	t.Parallel()

	tracer, err := NewTracer(TracerConfig{ServiceName: "gpanel-proxy", Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, tracer)

	ctx, span := tracer.StartSpan(context.Background(), "forward")
	assert.NotNil(t, ctx)
	span.End()

	assert.NoError(t, tracer.Shutdown(context.Background()))
}

func TestNewTracerEnabledWithoutEndpoint(t *testing.T) {
	t.Parallel()

	tracer, err := NewTracer(TracerConfig{
		ServiceName:  "gpanel-proxy",
		Enabled:      true,
		SamplingRate: 1.0,
	})
	require.NoError(t, err)
	require.NotNil(t, tracer)
	t.Cleanup(func() { _ = tracer.Shutdown(context.Background()) })

	_, span := tracer.StartSpan(context.Background(), "forward")
	assert.True(t, span.SpanContext().HasTraceID())
	span.End()
}

func TestCreateSampler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rate float64
		want sdktrace.Sampler
	}{
		{"always", 1.0, sdktrace.AlwaysSample()},
		{"above one", 2.0, sdktrace.AlwaysSample()},
		{"never", 0, sdktrace.NeverSample()},
		{"negative", -1, sdktrace.NeverSample()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want.Description(), createSampler(tt.rate).Description())
		})
	}

	assert.Contains(t, createSampler(0.5).Description(), "TraceIDRatioBased")
}

func TestTracingMiddleware(t *testing.T) {
	t.Parallel()

	tracer, err := NewTracer(TracerConfig{
		ServiceName:  "gpanel-proxy",
		Enabled:      true,
		SamplingRate: 1.0,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tracer.Shutdown(context.Background()) })

	var gotTraceID string
	handler := TracingMiddleware(tracer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTraceID = TraceIDFromContext(r.Context())
		w.WriteHeader(http.StatusBadGateway)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/containers", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.NotEmpty(t, gotTraceID)
}

func TestInjectTraceContext(t *testing.T) {
	t.Parallel()

	tracer, err := NewTracer(TracerConfig{
		ServiceName:  "gpanel-proxy",
		Enabled:      true,
		SamplingRate: 1.0,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tracer.Shutdown(context.Background()) })

	ctx, span := tracer.StartSpan(context.Background(), "forward")
	defer span.End()

	req := httptest.NewRequest(http.MethodGet, "http://backend/api", nil)
	InjectTraceContext(ctx, req)
	assert.NotEmpty(t, req.Header.Get("Traceparent"))
}
