// SPDX-License-Identifier: MIT

package log

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey string

const runIDKey ctxKey = "run_id"

// ContextWithRunID stores the provided run ID in the context.
func ContextWithRunID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromContext extracts the run ID from context if present.
func RunIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(runIDKey).(string); ok {
		return v
	}
	return ""
}

// FromContext returns a logger enriched with correlation fields from ctx.
func FromContext(ctx context.Context) zerolog.Logger {
	l := Base()
	if rid := RunIDFromContext(ctx); rid != "" {
		l = l.With().Str("run_id", rid).Logger()
	}
	return l
}

// WithComponentFromContext returns a logger that is annotated with the
// component name and enriched with correlation fields from ctx.
func WithComponentFromContext(ctx context.Context, component string) zerolog.Logger {
	l := FromContext(ctx)
	return l.With().Str("component", component).Logger()
}
