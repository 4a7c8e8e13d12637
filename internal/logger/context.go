package logger

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey struct{}

// ContextWithLogger stores a logger in the context.
func ContextWithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext extracts a logger from the context.
// Returns zap.NewNop() if no logger is found.
func FromContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok {
		return l
	}
	return zap.NewNop()
}

// WithScope returns a context whose logger carries the tenant and collection.
func WithScope(ctx context.Context, tenant, collection string) context.Context {
	l := FromContext(ctx).With(zap.String("tenant", tenant), zap.String("collection", collection))
	return ContextWithLogger(ctx, l)
}
