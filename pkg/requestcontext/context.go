// Package requestcontext provides HTTP-independent context accessors for request-scoped values.
//
// Middleware sets the values; services read them. The package has no net/http
// dependency so services can import it freely.
//
//	actor := requestcontext.Actor(ctx)
//	now := requestcontext.Now(ctx)
//
// Tests inject values directly:
//
//	ctx = requestcontext.WithActor(ctx, 7, requestcontext.RoleApplicant)
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"time"
)

// Role is the portal role of the authenticated caller.
type Role string

const (
	RoleApplicant Role = "applicant"
	RoleAdmin     Role = "admin"
)

// IsAdmin reports whether the role may perform staff-only commands.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin
}

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID int64
	Role   Role
}

// IsZero reports whether no caller was authenticated.
func (p Principal) IsZero() bool {
	return p.UserID == 0
}

type (
	principalKey   struct{}
	clientIPKey    struct{}
	userAgentKey   struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// -----------------------------------------------------------------------------
// Auth context
// -----------------------------------------------------------------------------

// Actor retrieves the authenticated principal. Returns the zero Principal if not set.
func Actor(ctx context.Context) Principal {
	if p, ok := ctx.Value(principalKey{}).(Principal); ok {
		return p
	}
	return Principal{}
}

// UserID retrieves the authenticated user ID, or 0.
func UserID(ctx context.Context) int64 {
	return Actor(ctx).UserID
}

// WithActor injects an authenticated principal into the context.
func WithActor(ctx context.Context, userID int64, role Role) context.Context {
	return context.WithValue(ctx, principalKey{}, Principal{UserID: userID, Role: role})
}

// -----------------------------------------------------------------------------
// Client metadata (IP, User-Agent)
// -----------------------------------------------------------------------------

func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(clientIPKey{}).(string); ok {
		return ip
	}
	return ""
}

func UserAgent(ctx context.Context) string {
	if ua, ok := ctx.Value(userAgentKey{}).(string); ok {
		return ua
	}
	return ""
}

// WithClientMetadata injects client IP and User-Agent into a context.
func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	ctx = context.WithValue(ctx, clientIPKey{}, clientIP)
	return context.WithValue(ctx, userAgentKey{}, userAgent)
}

// -----------------------------------------------------------------------------
// Request metadata
// -----------------------------------------------------------------------------

func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(requestIDKey{}).(string); ok {
		return reqID
	}
	return ""
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (workers, CLI, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestTimeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey{}, t)
}
