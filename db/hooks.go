package db

import (
	"context"
	"log/slog"
	"time"
)

// Hook observes every statement, DDL included, so trigger and index creation
// shows up in the same logs, metrics and traces as the updates they later act
// on. Implementations must be safe for concurrent use. A panicking hook is
// logged and skipped; it never fails the statement.
type Hook interface {
	// BeforeQuery runs just before the statement goes to the driver.
	BeforeQuery(ctx context.Context, query string, args []any)
	// AfterQuery runs once the driver returns. err is the mapped error the
	// caller receives.
	AfterQuery(ctx context.Context, query string, args []any, duration time.Duration, err error)
}

type hookChain []Hook

func newHookChain(hooks []Hook) hookChain {
	var c hookChain
	for _, h := range hooks {
		if h != nil {
			c = append(c, h)
		}
	}
	return c
}

// observe runs fn between the Before and After calls of every hook and
// returns fn's error.
func (c hookChain) observe(ctx context.Context, query string, args []any, fn func() error) error {
	for _, h := range c {
		contain("BeforeQuery", func() { h.BeforeQuery(ctx, query, args) })
	}
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	for _, h := range c {
		contain("AfterQuery", func() { h.AfterQuery(ctx, query, args, elapsed, err) })
	}
	return err
}

func contain(phase string, call func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("schemakit/db: hook panic", "phase", phase, "panic", r)
		}
	}()
	call()
}

// CompositeHook bundles several hooks into one Config.Hooks entry. Each
// member is isolated from the others' panics.
func CompositeHook(hooks ...Hook) Hook { return newHookChain(hooks) }

func (c hookChain) BeforeQuery(ctx context.Context, query string, args []any) {
	for _, h := range c {
		contain("BeforeQuery", func() { h.BeforeQuery(ctx, query, args) })
	}
}

func (c hookChain) AfterQuery(ctx context.Context, query string, args []any, d time.Duration, err error) {
	for _, h := range c {
		contain("AfterQuery", func() { h.AfterQuery(ctx, query, args, d, err) })
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Logging
// ─────────────────────────────────────────────────────────────────────────────

// LogHookConfig configures NewLogHook.
type LogHookConfig struct {
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// SlowQueryThreshold turns statements slower than this into warnings.
	// Zero disables it.
	SlowQueryThreshold time.Duration
	// LogArgs adds bound parameters to each entry. Emails are PII; leave it
	// off outside development.
	LogArgs bool
}

// NewLogHook logs statements through slog: failures at error, slow
// statements at warn, schema changes (CREATE, DROP, ALTER) at info and
// everything else at debug.
func NewLogHook(cfg LogHookConfig) Hook {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return logHook(cfg)
}

type logHook LogHookConfig

func (logHook) BeforeQuery(context.Context, string, []any) {}

func (h logHook) AfterQuery(ctx context.Context, query string, args []any, d time.Duration, err error) {
	kind := StatementKind(query)
	attrs := []any{
		slog.String("kind", kind),
		slog.String("query", trimQuery(query)),
		slog.Duration("duration", d),
	}
	if h.LogArgs && len(args) > 0 {
		attrs = append(attrs, slog.Any("args", args))
	}

	switch {
	case err != nil:
		h.Logger.ErrorContext(ctx, "schemakit/db: query error", append(attrs, slog.Any("error", err))...)
	case h.SlowQueryThreshold > 0 && d > h.SlowQueryThreshold:
		h.Logger.WarnContext(ctx, "schemakit/db: slow query", attrs...)
	case kind == "CREATE" || kind == "DROP" || kind == "ALTER":
		h.Logger.InfoContext(ctx, "schemakit/db: schema change", attrs...)
	default:
		h.Logger.DebugContext(ctx, "schemakit/db: query", attrs...)
	}
}

func trimQuery(q string) string {
	const limit = 500
	if len(q) > limit {
		return q[:limit] + "…"
	}
	return q
}

// ─────────────────────────────────────────────────────────────────────────────
// Metrics and tracing adapters
// ─────────────────────────────────────────────────────────────────────────────

// MetricsCollector receives one observation per statement.
// PrometheusCollector is the built-in implementation.
type MetricsCollector interface {
	RecordQuery(query string, duration time.Duration, success bool)
}

// NewMetricsHook feeds every statement to c.
func NewMetricsHook(c MetricsCollector) Hook { return metricsHook{c} }

type metricsHook struct{ c MetricsCollector }

func (metricsHook) BeforeQuery(context.Context, string, []any) {}

func (h metricsHook) AfterQuery(_ context.Context, query string, _ []any, d time.Duration, err error) {
	h.c.RecordQuery(query, d, err == nil)
}

// Tracer records one span per statement. NewOTelTracer adapts an
// OpenTelemetry tracer.
type Tracer interface {
	// StartSpan opens a span that began at start. The returned context must
	// carry the span so that EndSpan can finish it.
	StartSpan(ctx context.Context, query string, start time.Time) context.Context
	// EndSpan finishes the span carried by ctx at end.
	EndSpan(ctx context.Context, err error, end time.Time)
}

// NewTracingHook records each statement as a span once the driver returns,
// backdated to when the statement was sent.
func NewTracingHook(t Tracer) Hook { return tracingHook{t} }

type tracingHook struct{ t Tracer }

func (tracingHook) BeforeQuery(context.Context, string, []any) {}

func (h tracingHook) AfterQuery(ctx context.Context, query string, _ []any, d time.Duration, err error) {
	end := time.Now()
	h.t.EndSpan(h.t.StartSpan(ctx, query, end.Add(-d)), err, end)
}
