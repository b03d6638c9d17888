package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/stagehand"

// Instruments holds the domain metrics recorded during pipeline runs.
type Instruments struct {
	stageDuration metric.Float64Histogram
	paidCalls     metric.Int64Counter
	retries       metric.Int64Counter
	lensDuration  metric.Float64Histogram
	findings      metric.Int64Counter
	mismatches    metric.Int64Counter
}

// NewInstruments registers the run instruments on the given meter.
func NewInstruments(meter metric.Meter) (*Instruments, error) {
	ins := &Instruments{}
	var err error

	ins.stageDuration, err = meter.Float64Histogram(
		"stagehand.stage.duration",
		metric.WithDescription("Wall-clock time per stage attempt"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	ins.paidCalls, err = meter.Int64Counter(
		"stagehand.budget.paid_calls_total",
		metric.WithDescription("Paid tool invocations charged against the run budget"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	ins.retries, err = meter.Int64Counter(
		"stagehand.stage.retries_total",
		metric.WithDescription("Stage retries by error class"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, err
	}

	ins.lensDuration, err = meter.Float64Histogram(
		"stagehand.review.lens_duration",
		metric.WithDescription("Wall-clock time per review lens"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	ins.findings, err = meter.Int64Counter(
		"stagehand.review.findings_total",
		metric.WithDescription("Merged review findings by severity"),
		metric.WithUnit("{finding}"),
	)
	if err != nil {
		return nil, err
	}

	ins.mismatches, err = meter.Int64Counter(
		"stagehand.session.mismatches_total",
		metric.WithDescription("Session continuity mismatches detected after stages"),
		metric.WithUnit("{mismatch}"),
	)
	if err != nil {
		return nil, err
	}

	return ins, nil
}

// RecordStage records one stage attempt with its outcome.
func (i *Instruments) RecordStage(ctx context.Context, stageID, tool, outcome string, elapsed time.Duration) {
	if i == nil {
		return
	}
	i.stageDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(
			attribute.String("stage", stageID),
			attribute.String("tool", tool),
			attribute.String("outcome", outcome),
		))
}

// RecordPaidCall counts one paid invocation of a tool.
func (i *Instruments) RecordPaidCall(ctx context.Context, tool string) {
	if i == nil {
		return
	}
	i.paidCalls.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", tool)))
}

// RecordRetry counts one retry of a stage, tagged with the error class
// that triggered it.
func (i *Instruments) RecordRetry(ctx context.Context, stageID, class string) {
	if i == nil {
		return
	}
	i.retries.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("stage", stageID),
			attribute.String("class", class),
		))
}

// RecordLens records one review lens completion.
func (i *Instruments) RecordLens(ctx context.Context, lens, outcome string, elapsed time.Duration) {
	if i == nil {
		return
	}
	i.lensDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(
			attribute.String("lens", lens),
			attribute.String("outcome", outcome),
		))
}

// RecordFindings counts merged findings at a given severity.
func (i *Instruments) RecordFindings(ctx context.Context, severity string, n int64) {
	if i == nil || n == 0 {
		return
	}
	i.findings.Add(ctx, n, metric.WithAttributes(attribute.String("severity", severity)))
}

// RecordMismatch counts one session continuity mismatch.
func (i *Instruments) RecordMismatch(ctx context.Context, tool string) {
	if i == nil {
		return
	}
	i.mismatches.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", tool)))
}
