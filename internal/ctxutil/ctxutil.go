// Package ctxutil provides shared context key accessors.
//
// This package exists to break the circular dependency between server and mcp:
// server mounts the MCP transport, and mcp tool handlers want the request ID
// that server's middleware assigned. Both packages import ctxutil instead of
// each other.
package ctxutil

import "context"

type contextKey string

const keyRequestID contextKey = "request_id"

// WithRequestID returns a new context carrying the request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

// RequestIDFromContext extracts the request ID from the context.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(keyRequestID).(string); ok {
		return v
	}
	return ""
}
