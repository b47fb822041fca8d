// Package observability wires structured tracing, log export, and metrics
// for moqlite processes (spec's ambient observability stack, supplemented
// from moq-relay's observability.rs: an OTLP trace/log pipeline plus a
// Prometheus metrics surface).
//
// Every piece is optional and controlled by Config: a zero Config disables
// tracing, log export, and metrics, leaving Start/Span/Recorder usable as
// no-ops so call sites never need to branch on whether observability is
// configured.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/okdaichi/moqlite"

// Config controls which parts of the observability stack Setup turns on.
// The zero value disables everything.
type Config struct {
	// Service names this process in trace/log resource attributes.
	Service string

	// TraceAddr is the OTLP/gRPC collector endpoint for traces (e.g.
	// "localhost:4317"). Empty disables tracing.
	TraceAddr string

	// LogAddr is the OTLP/gRPC collector endpoint for logs. Empty keeps
	// slog writing to its existing handler.
	LogAddr string

	// Metrics enables the Prometheus metrics surface (Recorder, IncTracks,
	// DecTracks, Handler).
	Metrics bool
}

type state struct {
	tracingEnabled bool
	metricsEnabled bool
	tracerProvider *sdktrace.TracerProvider
	loggerProvider *sdklog.LoggerProvider
	metrics        *metricsState
}

var (
	mu      sync.RWMutex
	current state
)

// Setup initializes whichever parts of the stack Config asks for. It is not
// safe to call concurrently with Start, NewRecorder, or Shutdown.
func Setup(ctx context.Context, cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	next := state{}

	if cfg.TraceAddr != "" {
		exp, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.TraceAddr),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return fmt.Errorf("observability: trace exporter: %w", err)
		}
		res := resource.NewSchemaless(attribute.String("service.name", cfg.Service))
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		next.tracerProvider = tp
		next.tracingEnabled = true
	}

	if cfg.LogAddr != "" {
		exp, err := otlploggrpc.New(ctx,
			otlploggrpc.WithEndpoint(cfg.LogAddr),
			otlploggrpc.WithInsecure(),
		)
		if err != nil {
			return fmt.Errorf("observability: log exporter: %w", err)
		}
		res := resource.NewSchemaless(attribute.String("service.name", cfg.Service))
		lp := sdklog.NewLoggerProvider(
			sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)),
			sdklog.WithResource(res),
		)
		slog.SetDefault(slog.New(otelslog.NewHandler(cfg.Service, otelslog.WithLoggerProvider(lp))))
		next.loggerProvider = lp
	}

	if cfg.Metrics {
		ms, err := newMetricsState()
		if err != nil {
			return fmt.Errorf("observability: metrics: %w", err)
		}
		next.metrics = ms
		next.metricsEnabled = true
	}

	current = next
	return nil
}

// Shutdown flushes and tears down whatever Setup started. Safe to call even
// if Setup was never called.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	defer mu.Unlock()

	var errs []error
	if current.tracerProvider != nil {
		if err := current.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if current.loggerProvider != nil {
		if err := current.loggerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	current = state{}
	if len(errs) > 0 {
		return fmt.Errorf("observability: shutdown: %v", errs)
	}
	return nil
}

// Enabled reports whether tracing is configured.
func Enabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return current.tracingEnabled
}

// MetricsEnabled reports whether the Prometheus metrics surface is active.
func MetricsEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return current.metricsEnabled
}

// Span wraps an OTel span with moqlite's attribute/event helpers, so call
// sites never need to import go.opentelemetry.io/otel/trace directly.
type Span struct {
	span  trace.Span
	onEnd func()
}

// Start begins a span named name, a no-op span when tracing is disabled.
func Start(ctx context.Context, name string) (context.Context, *Span) {
	return StartWith(ctx, name)
}

// Option configures StartWith.
type Option func(*startOptions)

type startOptions struct {
	attrs   []attribute.KeyValue
	onStart func()
	onEnd   func()
}

// Attrs sets initial span attributes.
func Attrs(attrs ...attribute.KeyValue) Option {
	return func(o *startOptions) { o.attrs = append(o.attrs, attrs...) }
}

// OnStart registers a callback run synchronously once the span starts.
func OnStart(fn func()) Option {
	return func(o *startOptions) { o.onStart = fn }
}

// OnEnd registers a callback run synchronously when the span ends.
func OnEnd(fn func()) Option {
	return func(o *startOptions) { o.onEnd = fn }
}

// StartWith begins a span named name with the given options applied.
func StartWith(ctx context.Context, name string, opts ...Option) (context.Context, *Span) {
	var o startOptions
	for _, opt := range opts {
		opt(&o)
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, name)
	if len(o.attrs) > 0 {
		span.SetAttributes(o.attrs...)
	}
	if o.onStart != nil {
		o.onStart()
	}
	return ctx, &Span{span: span, onEnd: o.onEnd}
}

// End completes the span, running any OnEnd callback first.
func (s *Span) End() {
	if s == nil {
		return
	}
	if s.onEnd != nil {
		s.onEnd()
	}
	s.span.End()
}

// Error records err on the span (if non-nil) and sets an error status with
// msg as the description.
func (s *Span) Error(err error, msg string) {
	if s == nil {
		return
	}
	if err != nil {
		s.span.RecordError(err)
	}
	s.span.SetStatus(codes.Error, msg)
}

// Event adds a named event with attributes to the span's timeline.
func (s *Span) Event(name string, attrs ...attribute.KeyValue) {
	if s == nil {
		return
	}
	s.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Set adds attributes to the span.
func (s *Span) Set(attrs ...attribute.KeyValue) {
	if s == nil {
		return
	}
	s.span.SetAttributes(attrs...)
}

// Track, Group, GroupSequence, Frames, Broadcast, and Subscribers are the
// attribute keys this package's spans use consistently across the relay and
// core.
func Track(name string) attribute.KeyValue        { return attribute.String("moq.track", name) }
func Group(seq int64) attribute.KeyValue          { return attribute.Int64("moq.group", seq) }
func GroupSequence(seq uint64) attribute.KeyValue { return attribute.Int64("moq.group", int64(seq)) }
func Frames(n int) attribute.KeyValue             { return attribute.Int64("moq.frames", int64(n)) }
func Broadcast(path string) attribute.KeyValue    { return attribute.String("moq.broadcast", path) }
func Subscribers(n int) attribute.KeyValue        { return attribute.Int64("moq.subscribers", int64(n)) }

// Str and Num build ad-hoc attributes for call sites with no dedicated
// helper above.
func Str(key, value string) attribute.KeyValue { return attribute.String(key, value) }
func Num(key string, value int64) attribute.KeyValue { return attribute.Int64(key, value) }
