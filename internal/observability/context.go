// Package observability carries the per-invocation operation ID shared by
// logs, receipts and trace attributes.
package observability

import (
	"context"

	"github.com/google/uuid"
)

type opIDKey struct{}

// WithOpID generates a new operation ID and stores it in the context.
// Each CLI invocation calls this once at startup.
func WithOpID(ctx context.Context) context.Context {
	return context.WithValue(ctx, opIDKey{}, uuid.NewString())
}

// WithExistingOpID stores a caller-supplied ID, e.g. one handed over by a
// UI process that already started an operation.
func WithExistingOpID(ctx context.Context, id string) context.Context {
	if _, err := uuid.Parse(id); err != nil {
		return WithOpID(ctx)
	}
	return context.WithValue(ctx, opIDKey{}, id)
}

// OpID retrieves the operation ID from context.
// Returns empty string if no op_id was set.
func OpID(ctx context.Context) string {
	if id, ok := ctx.Value(opIDKey{}).(string); ok {
		return id
	}
	return ""
}
