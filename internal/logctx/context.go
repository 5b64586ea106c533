package logctx

import (
	"context"
	"log/slog"
)

type ctxKey string

const (
	keyRID    ctxKey = "request_id"
	keyLogger ctxKey = "logger"
)

// WithRequestID stores the correlation id of the inbound request.
func WithRequestID(ctx context.Context, rid string) context.Context {
	return context.WithValue(ctx, keyRID, rid)
}

// RequestID returns correlation id if present.
func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(keyRID).(string)
	return v
}

// WithLogger stores a request-scoped logger.
func WithLogger(ctx context.Context, log *slog.Logger) context.Context {
	return context.WithValue(ctx, keyLogger, log)
}

// From returns the request-scoped logger, falling back to the default logger.
// The request id is attached when one is present.
func From(ctx context.Context) *slog.Logger {
	log, _ := ctx.Value(keyLogger).(*slog.Logger)
	if log == nil {
		log = slog.Default()
	}
	if rid := RequestID(ctx); rid != "" {
		return log.With("request_id", rid)
	}
	return log
}
