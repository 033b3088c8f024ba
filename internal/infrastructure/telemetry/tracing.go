package telemetry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/salesledger/backend/internal/domain/shared"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the tracer used for pipeline and sweep spans
const TracerName = "salesledger"

const attrPrefix = "ledger."

// Span attribute keys
const (
	AttrSourceSystem = attribute.Key(attrPrefix + "source_system")
	AttrDocumentType = attribute.Key(attrPrefix + "document_type")
	AttrSweep        = attribute.Key(attrPrefix + "sweep")
	AttrDateFrom     = attribute.Key(attrPrefix + "date_from")
	AttrDateTo       = attribute.Key(attrPrefix + "date_to")
)

func start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.GetTracerProvider().Tracer(TracerName).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// StartDocumentSpan starts the span of one ingested document. The caller
// must End it.
func StartDocumentSpan(ctx context.Context, source, docType string) (context.Context, trace.Span) {
	return start(ctx, "ingest.document",
		AttrSourceSystem.String(source),
		AttrDocumentType.String(docType),
	)
}

// StartSweepSpan starts the span "sweep.<name>" over r. The caller must End it.
func StartSweepSpan(ctx context.Context, sweep string, r shared.DateRange) (context.Context, trace.Span) {
	return start(ctx, "sweep."+sweep,
		AttrSweep.String(sweep),
		AttrDateFrom.String(r.From.Format(time.DateOnly)),
		AttrDateTo.String(r.To.Format(time.DateOnly)),
	)
}

// SetAttributes adds name/value pairs to a span under the ledger. prefix.
// A trailing name without a value is ignored.
func SetAttributes(span trace.Span, keyValues ...any) {
	if span == nil {
		return
	}
	attrs := make([]attribute.KeyValue, 0, len(keyValues)/2)
	for i := 0; i+1 < len(keyValues); i += 2 {
		key, ok := keyValues[i].(string)
		if !ok {
			continue
		}
		if !strings.HasPrefix(key, attrPrefix) {
			key = attrPrefix + key
		}
		attrs = append(attrs, toAttribute(key, keyValues[i+1]))
	}
	span.SetAttributes(attrs...)
}

// RecordError records err on the span and marks it failed.
func RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func toAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	case fmt.Stringer:
		return attribute.String(key, v.String())
	default:
		return attribute.String(key, fmt.Sprint(v))
	}
}
