package common

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	orgIDKey
	userIDKey
)

func withString(ctx context.Context, k ctxKey, v string) context.Context {
	return context.WithValue(ctx, k, v)
}

func stringFrom(ctx context.Context, k ctxKey) string {
	v, _ := ctx.Value(k).(string)
	return v
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return withString(ctx, requestIDKey, id)
}

func RequestIDFromContext(ctx context.Context) string { return stringFrom(ctx, requestIDKey) }

// EnsureRequestID returns ctx carrying a request id, minting one if absent.
func EnsureRequestID(ctx context.Context) (context.Context, string) {
	if id := RequestIDFromContext(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return WithRequestID(ctx, id), id
}

// WithOrgID scopes the request to a tenant; template lookup and stored files
// key on it.
func WithOrgID(ctx context.Context, orgID string) context.Context {
	return withString(ctx, orgIDKey, orgID)
}

func OrgIDFromContext(ctx context.Context) string { return stringFrom(ctx, orgIDKey) }

func WithUserID(ctx context.Context, userID string) context.Context {
	return withString(ctx, userIDKey, userID)
}

func UserIDFromContext(ctx context.Context) string { return stringFrom(ctx, userIDKey) }

// LogAttrs returns the request, org and user ids present on ctx as slog
// key/value pairs, skipping the empty ones.
func LogAttrs(ctx context.Context) []any {
	var out []any
	for _, kv := range []struct {
		name string
		key  ctxKey
	}{{"req_id", requestIDKey}, {"org_id", orgIDKey}, {"user_id", userIDKey}} {
		if v := stringFrom(ctx, kv.key); v != "" {
			out = append(out, kv.name, v)
		}
	}
	return out
}
