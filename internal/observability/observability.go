// Package observability wires the process-wide slog logger. Logs always
// go to stderr in text or JSON form; when OTEL_LOGS_EXPORTER is set they
// are additionally exported through the OpenTelemetry log pipeline.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

const instrumentationName = "github.com/halcyonic/drivectl"

// Instrument installs the default slog logger and returns a shutdown
// function that flushes any export pipeline. Format is "text" or "json".
//
// OTEL_LOGS_EXPORTER selects an additional export pipeline:
// "otlp"/"otlp-http" (OTLP over HTTP), "otlp-grpc", or "stdout".
// Unset or "none" disables export.
func Instrument(level slog.Level, format string) (func(context.Context) error, error) {
	var handler slog.Handler
	handlerOpts := &slog.HandlerOptions{Level: level}
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}

	shutdown := func(context.Context) error { return nil }

	if name := os.Getenv("OTEL_LOGS_EXPORTER"); name != "" && name != "none" {
		exporter, err := newLogExporter(context.Background(), name)
		if err != nil {
			return nil, fmt.Errorf("creating log exporter: %w", err)
		}

		provider := sdklog.NewLoggerProvider(sdklog.WithProcessor(
			minsev.NewLogProcessor(sdklog.NewBatchProcessor(exporter), otelSeverity(level)),
		))
		handler = fanout{handler, otelslog.NewHandler(instrumentationName, otelslog.WithLoggerProvider(provider))}
		shutdown = provider.Shutdown
	}

	slog.SetDefault(slog.New(handler))
	return shutdown, nil
}

func newLogExporter(ctx context.Context, name string) (sdklog.Exporter, error) {
	switch name {
	case "otlp", "otlp-http":
		return otlploghttp.New(ctx)
	case "otlp-grpc":
		return otlploggrpc.New(ctx)
	case "stdout":
		return stdoutlog.New()
	default:
		return nil, fmt.Errorf("unknown log exporter %q", name)
	}
}

func otelSeverity(level slog.Level) minsev.Severity {
	switch {
	case level <= slog.LevelDebug:
		return minsev.SeverityDebug
	case level <= slog.LevelInfo:
		return minsev.SeverityInfo
	case level <= slog.LevelWarn:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}

// fanout dispatches every record to all member handlers.
type fanout []slog.Handler

var _ slog.Handler = (fanout)(nil)

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, record slog.Record) error {
	for _, h := range f {
		if h.Enabled(ctx, record.Level) {
			if err := h.Handle(ctx, record.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make(fanout, len(f))
	for i, h := range f {
		next[i] = h.WithAttrs(attrs)
	}
	return next
}

func (f fanout) WithGroup(name string) slog.Handler {
	next := make(fanout, len(f))
	for i, h := range f {
		next[i] = h.WithGroup(name)
	}
	return next
}
