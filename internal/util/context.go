package util

import (
	"context"
	"time"
)

// Context keys.
type ctxKey string

const (
	ctxKeyRequestID ctxKey = "request_id"
	ctxKeyConnID    ctxKey = "conn_id"
	ctxKeyTransport ctxKey = "transport"
	ctxKeyStartTime ctxKey = "start_time"
	ctxKeyRoute     ctxKey = "route"
	ctxKeyPool      ctxKey = "pool"
	ctxKeySubject   ctxKey = "subject"
)

// ContextWithRequestID adds a request ID to the context.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, requestID)
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyRequestID).(string); ok {
		return v
	}
	return ""
}

// ContextWithConnID adds a connection ID to the context.
func ContextWithConnID(ctx context.Context, connID string) context.Context {
	return context.WithValue(ctx, ctxKeyConnID, connID)
}

// ConnIDFromContext extracts the connection ID from context.
func ConnIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyConnID).(string); ok {
		return v
	}
	return ""
}

// ContextWithTransport records which listener (quic or http) the
// request arrived on.
func ContextWithTransport(ctx context.Context, transport string) context.Context {
	return context.WithValue(ctx, ctxKeyTransport, transport)
}

// TransportFromContext extracts the transport name from context.
func TransportFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyTransport).(string); ok {
		return v
	}
	return ""
}

// ContextWithStartTime adds a start time to the context.
func ContextWithStartTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ctxKeyStartTime, t)
}

// StartTimeFromContext extracts the start time from context.
func StartTimeFromContext(ctx context.Context) time.Time {
	if v, ok := ctx.Value(ctxKeyStartTime).(time.Time); ok {
		return v
	}
	return time.Time{}
}

// ContextWithRoute adds the matched route pattern to the context.
func ContextWithRoute(ctx context.Context, route string) context.Context {
	return context.WithValue(ctx, ctxKeyRoute, route)
}

// RouteFromContext extracts the matched route pattern from context.
func RouteFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyRoute).(string); ok {
		return v
	}
	return ""
}

// ContextWithPool adds the selected pool name to the context.
func ContextWithPool(ctx context.Context, pool string) context.Context {
	return context.WithValue(ctx, ctxKeyPool, pool)
}

// PoolFromContext extracts the selected pool name from context.
func PoolFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyPool).(string); ok {
		return v
	}
	return ""
}

// ContextWithSubject adds the authenticated subject to the context.
func ContextWithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, ctxKeySubject, subject)
}

// SubjectFromContext extracts the authenticated subject from context.
func SubjectFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeySubject).(string); ok {
		return v
	}
	return ""
}

// NewTimeoutContext creates a context with a timeout.
// Returns the context and a cancel function that should be deferred.
func NewTimeoutContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, timeout)
}

// ElapsedTime returns the elapsed time since the start time in context.
func ElapsedTime(ctx context.Context) time.Duration {
	startTime := StartTimeFromContext(ctx)
	if startTime.IsZero() {
		return 0
	}
	return time.Since(startTime)
}
