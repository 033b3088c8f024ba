package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// ErrMeterNil is returned when metrics are built without a meter
var ErrMeterNil = errors.New("telemetry: meter is nil")

// Metric attribute keys. Span keys carry the ledger. prefix, metric labels don't.
const (
	metricAttrSource  = attribute.Key("source_system")
	metricAttrDocType = attribute.Key("document_type")
	metricAttrOutcome = attribute.Key("outcome")
	metricAttrSweep   = attribute.Key("sweep")
)

// Ingestion outcomes
const (
	OutcomeIngested  = "ingested"
	OutcomeInvalid   = "invalid"
	OutcomeCollision = "collision"
	OutcomeFailed    = "failed"
)

// LedgerMetrics counts ingestion and sweep activity.
type LedgerMetrics struct {
	documents    metric.Int64Counter
	entries      metric.Int64Counter
	warnings     metric.Int64Counter
	sweepLines   metric.Int64Counter
	sweepUpdates metric.Int64Counter
	sweepErrors  metric.Int64Counter
	duration     metric.Float64Histogram
}

// NewLedgerMetrics registers the ledger instruments on meter.
func NewLedgerMetrics(meter metric.Meter) (*LedgerMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}
	m := &LedgerMetrics{}
	var err error

	if m.documents, err = meter.Int64Counter("ledger_documents_total",
		metric.WithDescription("Documents pushed to ingestion, by outcome"),
		metric.WithUnit("{documents}")); err != nil {
		return nil, err
	}
	if m.entries, err = meter.Int64Counter("ledger_entries_projected_total",
		metric.WithDescription("Ledger entries written by projection"),
		metric.WithUnit("{entries}")); err != nil {
		return nil, err
	}
	if m.warnings, err = meter.Int64Counter("ledger_projection_warnings_total",
		metric.WithDescription("Projection warnings such as missing related documents"),
		metric.WithUnit("{warnings}")); err != nil {
		return nil, err
	}
	if m.sweepLines, err = meter.Int64Counter("ledger_sweep_lines_total",
		metric.WithDescription("Ledger lines visited by sweeps"),
		metric.WithUnit("{lines}")); err != nil {
		return nil, err
	}
	if m.sweepUpdates, err = meter.Int64Counter("ledger_sweep_updates_total",
		metric.WithDescription("Ledger lines changed by sweeps"),
		metric.WithUnit("{lines}")); err != nil {
		return nil, err
	}
	if m.sweepErrors, err = meter.Int64Counter("ledger_sweep_errors_total",
		metric.WithDescription("Per-line sweep errors"),
		metric.WithUnit("{errors}")); err != nil {
		return nil, err
	}
	if m.duration, err = meter.Float64Histogram("ledger_sweep_duration_seconds",
		metric.WithDescription("Sweep wall time"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return m, nil
}

// NoopLedgerMetrics returns metrics backed by a no-op meter, for tests and tools.
func NoopLedgerMetrics() *LedgerMetrics {
	m, _ := NewLedgerMetrics(noop.NewMeterProvider().Meter(TracerName))
	return m
}

// RecordDocument counts one ingested document
func (m *LedgerMetrics) RecordDocument(ctx context.Context, source, docType, outcome string) {
	m.documents.Add(ctx, 1, metric.WithAttributes(
		metricAttrSource.String(source),
		metricAttrDocType.String(docType),
		metricAttrOutcome.String(outcome),
	))
}

// RecordProjection counts entries and warnings produced for one document
func (m *LedgerMetrics) RecordProjection(ctx context.Context, source string, entries, warnings int) {
	attrs := metric.WithAttributes(metricAttrSource.String(source))
	m.entries.Add(ctx, int64(entries), attrs)
	if warnings > 0 {
		m.warnings.Add(ctx, int64(warnings), attrs)
	}
}

// RecordSweep records the outcome of one sweep run
func (m *LedgerMetrics) RecordSweep(ctx context.Context, sweep string, processed, updated, errs int, seconds float64) {
	attrs := metric.WithAttributes(metricAttrSweep.String(sweep))
	m.sweepLines.Add(ctx, int64(processed), attrs)
	m.sweepUpdates.Add(ctx, int64(updated), attrs)
	m.sweepErrors.Add(ctx, int64(errs), attrs)
	m.duration.Record(ctx, seconds, attrs)
}
