// Package correlation attaches a correlation id to a context so every log
// and audit event produced while handling one logical request carries the
// same opaque token, including across worker-pool boundaries.
package correlation

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type ctxKey struct{}

// HeaderName is the inbound HTTP header a client may use to supply its own id.
const HeaderName = "X-Correlation-Id"

// Ensure returns a context that carries a correlation id, generating one when
// absent. An id already present is never overwritten; nested scopes reuse it.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return context.WithValue(ctx, ctxKey{}, id), id
}

// With pins an explicit id (transport-supplied) unless one is already set.
func With(ctx context.Context, id string) context.Context {
	if id == "" || FromContext(ctx) != "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the correlation id or "" when none is set.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Attr returns the slog attribute for the context's correlation id.
func Attr(ctx context.Context) slog.Attr {
	return slog.String("correlationId", FromContext(ctx))
}

// Detach copies the correlation id (and nothing else) onto a fresh context.
// Worker pools use it so queued work survives the submitter's cancellation
// while keeping its identity.
func Detach(ctx context.Context) context.Context {
	return With(context.Background(), FromContext(ctx))
}
