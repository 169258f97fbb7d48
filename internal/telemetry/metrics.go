package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "visionbench/evaluation"

// Metrics holds the engine's metric instruments. A nil *Metrics is valid and records nothing.
type Metrics struct {
	InputTokens   metric.Int64Counter
	OutputTokens  metric.Int64Counter
	ProviderCalls metric.Int64Counter
	Images        metric.Int64Counter
	Runs          metric.Int64Counter
	Cost          metric.Float64Counter
	ImportRows    metric.Int64Counter
}

// NewMetrics creates all instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.InputTokens, err = meter.Int64Counter("llm.tokens.input",
		metric.WithDescription("Input tokens reported by providers"),
		metric.WithUnit("{token}"))
	if err != nil {
		return nil, err
	}

	m.OutputTokens, err = meter.Int64Counter("llm.tokens.output",
		metric.WithDescription("Output tokens reported by providers"),
		metric.WithUnit("{token}"))
	if err != nil {
		return nil, err
	}

	m.ProviderCalls, err = meter.Int64Counter("llm.calls",
		metric.WithDescription("Logical provider calls partitioned by outcome"))
	if err != nil {
		return nil, err
	}

	m.Images, err = meter.Int64Counter("evaluation.images",
		metric.WithDescription("Images processed partitioned by outcome (correct, incorrect, unscored, error)"))
	if err != nil {
		return nil, err
	}

	m.Runs, err = meter.Int64Counter("evaluation.runs",
		metric.WithDescription("Finished evaluation runs partitioned by final status"))
	if err != nil {
		return nil, err
	}

	m.Cost, err = meter.Float64Counter("evaluation.cost",
		metric.WithDescription("Accumulated actual cost"),
		metric.WithUnit("USD"))
	if err != nil {
		return nil, err
	}

	m.ImportRows, err = meter.Int64Counter("import.rows",
		metric.WithDescription("Annotation import rows partitioned by outcome (created, updated, skipped, error)"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordCall records one logical provider call and its token usage.
func (m *Metrics) RecordCall(ctx context.Context, provider, model, outcome string, input, output int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("llm.provider", provider),
		attribute.String("llm.model", model),
	)
	m.ProviderCalls.Add(ctx, 1, attrs, metric.WithAttributes(attribute.String("outcome", outcome)))
	if input > 0 {
		m.InputTokens.Add(ctx, input, attrs)
	}
	if output > 0 {
		m.OutputTokens.Add(ctx, output, attrs)
	}
}

// RecordImage records one finished image and what it cost.
func (m *Metrics) RecordImage(ctx context.Context, outcome string, cost float64) {
	if m == nil {
		return
	}
	m.Images.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if cost > 0 {
		m.Cost.Add(ctx, cost)
	}
}

// RecordRun records a run reaching a terminal status.
func (m *Metrics) RecordRun(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.Runs.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordImportRow records one processed import row.
func (m *Metrics) RecordImportRow(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.ImportRows.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
