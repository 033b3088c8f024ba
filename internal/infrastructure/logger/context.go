package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type (
	sourceSystemKey struct{}
	sweepKey        struct{}
	batchIDKey      struct{}
)

// WithSourceSystem tags ctx with the marketplace being processed
func WithSourceSystem(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceSystemKey{}, source)
}

// WithSweep tags ctx with the running sweep (match, reconcile, quality)
func WithSweep(ctx context.Context, sweep string) context.Context {
	return context.WithValue(ctx, sweepKey{}, sweep)
}

// WithBatchID tags ctx with the ingestion batch
func WithBatchID(ctx context.Context, batchID string) context.Context {
	return context.WithValue(ctx, batchIDKey{}, batchID)
}

func SourceSystem(ctx context.Context) string {
	s, _ := ctx.Value(sourceSystemKey{}).(string)
	return s
}

func Sweep(ctx context.Context) string {
	s, _ := ctx.Value(sweepKey{}).(string)
	return s
}

func BatchID(ctx context.Context) string {
	s, _ := ctx.Value(batchIDKey{}).(string)
	return s
}

// Enrich returns l with the trace, span, source system, sweep and batch of
// ctx attached, so one sweep or batch can be followed across entries.
//
//	log := logger.Enrich(ctx, s.logger)
//	log.Info("Batch ingested", zap.Int("documents", n))
func Enrich(ctx context.Context, l *zap.Logger) *zap.Logger {
	if l == nil {
		l = zap.NewNop()
	}
	if fields := contextFields(ctx); len(fields) > 0 {
		return l.With(fields...)
	}
	return l
}

func contextFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if v := SourceSystem(ctx); v != "" {
		fields = append(fields, zap.String("source_system", v))
	}
	if v := Sweep(ctx); v != "" {
		fields = append(fields, zap.String("sweep", v))
	}
	if v := BatchID(ctx); v != "" {
		fields = append(fields, zap.String("batch_id", v))
	}
	return fields
}
