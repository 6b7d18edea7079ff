package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricOperationsTotal   = "scm.operations.total"
	metricOperationDuration = "scm.operation.duration.seconds"
	metricErrorsTotal       = "scm.errors.total"
	metricInflight          = "scm.inflight.operations"

	attrBackend = "scm.backend"
	attrOp      = "scm.op"
	attrStatus  = "scm.status"

	// StatusOK marks a successful operation.
	StatusOK = "ok"
	// StatusError marks a failed operation.
	StatusError = "error"
)

// Backend commands range from cached lookups to slow remote checkouts.
var durationBucketBoundaries = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

// REDMetrics holds the rate, error and duration instruments for backend
// operations.
type REDMetrics struct {
	operationsTotal   metric.Int64Counter
	operationDuration metric.Float64Histogram
	errorsTotal       metric.Int64Counter
	inflight          metric.Int64UpDownCounter
}

// NewREDMetrics creates RED instruments from mt.
func NewREDMetrics(mt metric.Meter) (*REDMetrics, error) {
	total, err := mt.Int64Counter(metricOperationsTotal,
		metric.WithDescription("Backend operations performed"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricOperationsTotal, err)
	}

	duration, err := mt.Float64Histogram(metricOperationDuration,
		metric.WithDescription("Backend operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricOperationDuration, err)
	}

	errs, err := mt.Int64Counter(metricErrorsTotal,
		metric.WithDescription("Failed backend operations by error kind"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricErrorsTotal, err)
	}

	inflight, err := mt.Int64UpDownCounter(metricInflight,
		metric.WithDescription("Backend operations in progress"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricInflight, err)
	}

	return &REDMetrics{
		operationsTotal:   total,
		operationDuration: duration,
		errorsTotal:       errs,
		inflight:          inflight,
	}, nil
}

// RecordOperation records a completed operation. kind classifies failures
// and is ignored for successful ones.
func (rm *REDMetrics) RecordOperation(ctx context.Context, backend, op, kind string, duration time.Duration) {
	status := StatusOK
	if kind != "" {
		status = StatusError
	}

	attrs := metric.WithAttributes(
		attribute.String(attrBackend, backend),
		attribute.String(attrOp, op),
		attribute.String(attrStatus, status),
	)

	rm.operationsTotal.Add(ctx, 1, attrs)
	rm.operationDuration.Record(ctx, duration.Seconds(), attrs)

	if status == StatusError {
		rm.errorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String(attrBackend, backend),
			attribute.String(attrOp, op),
			attribute.String("error.type", kind),
		))
	}
}

// TrackInflight increments the in-flight gauge and returns the matching
// decrement.
func (rm *REDMetrics) TrackInflight(ctx context.Context, backend, op string) func() {
	attrs := metric.WithAttributes(attribute.String(attrBackend, backend), attribute.String(attrOp, op))
	rm.inflight.Add(ctx, 1, attrs)

	return func() {
		rm.inflight.Add(ctx, -1, attrs)
	}
}
