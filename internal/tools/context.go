package tools

import "context"

type contextKey string

const userIDKey contextKey = "user_id"

// WithUserID records which user's conversation a tool call belongs to.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// UserIDFromContext extracts the user ID from the context. Returns
// "unknown" if not set.
func UserIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok && id != "" {
		return id
	}
	return "unknown"
}
