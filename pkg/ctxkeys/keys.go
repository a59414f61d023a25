// Package ctxkeys defines typed context keys to avoid SA1029 lint warnings
// and prevent key collisions across packages.
package ctxkeys

import "context"

// Key is a typed context key to prevent collisions.
type Key string

// Request context keys
const (
	KeyRequestID Key = "request_id"
)

// GraphQL context keys
const (
	KeyOperationName Key = "operation_name"
	KeyOperationKind Key = "operation_kind"
)

// WithRequestID stores the request ID on ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, KeyRequestID, id)
}

// GetRequestID extracts request_id from context.
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(KeyRequestID).(string); ok {
		return v
	}
	return ""
}

// GetOperationName extracts operation_name from context.
func GetOperationName(ctx context.Context) string {
	if v, ok := ctx.Value(KeyOperationName).(string); ok {
		return v
	}
	return ""
}

// GetOperationKind extracts operation_kind from context.
func GetOperationKind(ctx context.Context) string {
	if v, ok := ctx.Value(KeyOperationKind).(string); ok {
		return v
	}
	return ""
}

// WithOperation stores the selected GraphQL operation name and kind on ctx.
func WithOperation(ctx context.Context, name, kind string) context.Context {
	ctx = context.WithValue(ctx, KeyOperationName, name)
	return context.WithValue(ctx, KeyOperationKind, kind)
}
