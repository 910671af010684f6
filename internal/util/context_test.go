package util

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRequestIDContext(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	assert.Empty(t, RequestIDFromContext(ctx))

	ctx = ContextWithRequestID(ctx, "req-123")
	assert.Equal(t, "req-123", RequestIDFromContext(ctx))
}

func TestConnIDContext(t *testing.T) {
	t.Parallel()

	ctx := ContextWithConnID(context.Background(), "conn-abc")
	assert.Equal(t, "conn-abc", ConnIDFromContext(ctx))
	assert.Empty(t, ConnIDFromContext(context.Background()))
}

func TestTransportContext(t *testing.T) {
	t.Parallel()

	ctx := ContextWithTransport(context.Background(), "quic")
	assert.Equal(t, "quic", TransportFromContext(ctx))
	assert.Empty(t, TransportFromContext(context.Background()))
}

func TestRouteAndPoolContext(t *testing.T) {
	t.Parallel()

	ctx := ContextWithRoute(context.Background(), "/api/containers/*")
	ctx = ContextWithPool(ctx, "bolt")
	assert.Equal(t, "/api/containers/*", RouteFromContext(ctx))
	assert.Equal(t, "bolt", PoolFromContext(ctx))
}

func TestSubjectContext(t *testing.T) {
	t.Parallel()

	ctx := ContextWithSubject(context.Background(), "user-7")
	assert.Equal(t, "user-7", SubjectFromContext(ctx))
	assert.Empty(t, SubjectFromContext(context.Background()))
}

func TestStartTimeAndElapsed(t *testing.T) {
	t.Parallel()

	assert.Zero(t, ElapsedTime(context.Background()))

	start := time.Now().Add(-time.Second)
	ctx := ContextWithStartTime(context.Background(), start)
	assert.Equal(t, start, StartTimeFromContext(ctx))
	assert.GreaterOrEqual(t, ElapsedTime(ctx), time.Second)
}

func TestNewTimeoutContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := NewTimeoutContext(context.Background(), time.Minute)
	defer cancel()

	deadline, ok := ctx.Deadline()
	assert.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, time.Second)
}
