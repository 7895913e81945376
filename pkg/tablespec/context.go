package tablespec

import (
	"context"
)

// Context keys for request-scoped data
type contextKey string

const (
	contextKeyRequestID contextKey = "requestID"
	contextKeyCategory  contextKey = "category"
	contextKeyUserID    contextKey = "userID"
)

// WithRequestID adds the request id to context
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, id)
}

// GetRequestID retrieves the request id from context
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(contextKeyRequestID).(string); ok {
		return v
	}
	return ""
}

// WithCategory adds category to context
func WithCategory(ctx context.Context, category string) context.Context {
	return context.WithValue(ctx, contextKeyCategory, category)
}

// GetCategory retrieves category from context
func GetCategory(ctx context.Context) string {
	if v, ok := ctx.Value(contextKeyCategory).(string); ok {
		return v
	}
	return ""
}

// WithUserID adds the authenticated user to context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKeyUserID, userID)
}

// GetUserID retrieves the authenticated user from context
func GetUserID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(contextKeyUserID).(string)
	return v, ok
}
