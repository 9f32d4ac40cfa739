package cmd

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/inbox/pkg/otelhelper"
)

// NewTracer returns a no-op tracer unless tracing is enabled. The returned
// shutdown function is never nil.
// nolint:ireturn
func NewTracer(ctx context.Context, enabled bool, serviceName string, logger *slog.Logger) (trace.Tracer, otelhelper.ShutdownFunc) {
	noop := func(context.Context) error { return nil }

	if !enabled {
		return otelhelper.NoopTracer(), noop
	}

	tracer, shutdown, err := otelhelper.NewTracer(ctx, serviceName)
	if err != nil {
		logger.WarnContext(ctx, "Tracing disabled", "error", err)

		return otelhelper.NoopTracer(), noop
	}

	return tracer, shutdown
}
