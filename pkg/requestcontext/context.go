// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values. Middleware sets them; services consume them without
// importing net/http.
package requestcontext

import (
	"context"
	"time"

	id "payguard/pkg/domain"
)

// Context key types (unexported for encapsulation).
type (
	adminIDKey     struct{}
	clientIPKey    struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// Exported context keys for tests that need context.WithValue directly.
var (
	ContextKeyAdminID     = adminIDKey{}
	ContextKeyClientIP    = clientIPKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// AdminID retrieves the authenticated administrator identity, or "" when the
// caller is a system actor.
func AdminID(ctx context.Context) id.AdminID {
	if admin, ok := ctx.Value(ContextKeyAdminID).(id.AdminID); ok {
		return admin
	}
	return ""
}

// WithAdminID injects an administrator identity into the context.
func WithAdminID(ctx context.Context, admin id.AdminID) context.Context {
	return context.WithValue(ctx, ContextKeyAdminID, admin)
}

// ClientIP retrieves the caller's source IP. Audit entries for admin actions
// record it; system actors leave it empty.
func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(ContextKeyClientIP).(string); ok {
		return ip
	}
	return ""
}

// WithClientIP injects the caller's source IP into the context.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ContextKeyClientIP, ip)
}

// RequestID retrieves the request correlation ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request correlation ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Now retrieves the request-scoped time from context. Falls back to
// time.Now() for non-HTTP contexts (background sweeps, CLI, tests that
// don't inject one).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context. Useful for service unit
// tests and for batch operations that need one consistent timestamp.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
