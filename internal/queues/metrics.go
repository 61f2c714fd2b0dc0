package queues

import (
	"context"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricNameJobsStarted   = "transcription_queue_jobs_started_total"
	metricNameJobsSucceeded = "transcription_queue_jobs_succeeded_total"
	metricNameJobsFailed    = "transcription_queue_jobs_failed_total"
	metricNameJobsRetried   = "transcription_queue_jobs_retried_total"
	metricNameJobDuration   = "transcription_queue_job_duration_ms"
)

type stageMetrics struct {
	start    metric.Int64Counter
	success  metric.Int64Counter
	failure  metric.Int64Counter
	retry    metric.Int64Counter
	duration metric.Float64Histogram
	attrs    metric.MeasurementOption
	enabled  bool
}

func newStageMetrics(meter metric.Meter, stage string, helper *log.Helper) *stageMetrics {
	m := &stageMetrics{attrs: metric.WithAttributes(attribute.String("stage", stage))}
	if meter == nil {
		return m
	}
	var err error
	if m.start, err = meter.Int64Counter(metricNameJobsStarted,
		metric.WithDescription("Number of queue job attempts started")); err != nil {
		helper.Warnf("queue metrics: register started counter: %v", err)
		return m
	}
	if m.success, err = meter.Int64Counter(metricNameJobsSucceeded,
		metric.WithDescription("Number of queue job attempts that succeeded")); err != nil {
		helper.Warnf("queue metrics: register succeeded counter: %v", err)
		return m
	}
	if m.failure, err = meter.Int64Counter(metricNameJobsFailed,
		metric.WithDescription("Number of queue job attempts that failed")); err != nil {
		helper.Warnf("queue metrics: register failed counter: %v", err)
		return m
	}
	if m.retry, err = meter.Int64Counter(metricNameJobsRetried,
		metric.WithDescription("Number of retries scheduled after a failed attempt")); err != nil {
		helper.Warnf("queue metrics: register retried counter: %v", err)
		return m
	}
	if m.duration, err = meter.Float64Histogram(metricNameJobDuration,
		metric.WithDescription("Time spent running a queue job attempt"), metric.WithUnit("ms")); err != nil {
		helper.Warnf("queue metrics: register duration histogram: %v", err)
	}
	m.enabled = true
	return m
}

func (m *stageMetrics) started(ctx context.Context) {
	if m == nil || !m.enabled {
		return
	}
	m.start.Add(ctx, 1, m.attrs)
}

func (m *stageMetrics) succeeded(ctx context.Context, elapsed time.Duration) {
	if m == nil || !m.enabled {
		return
	}
	m.success.Add(ctx, 1, m.attrs)
	m.observe(ctx, elapsed)
}

func (m *stageMetrics) failed(ctx context.Context, elapsed time.Duration) {
	if m == nil || !m.enabled {
		return
	}
	m.failure.Add(ctx, 1, m.attrs)
	m.observe(ctx, elapsed)
}

func (m *stageMetrics) retried(ctx context.Context) {
	if m == nil || !m.enabled {
		return
	}
	m.retry.Add(ctx, 1, m.attrs)
}

func (m *stageMetrics) observe(ctx context.Context, elapsed time.Duration) {
	if m.duration == nil {
		return
	}
	m.duration.Record(ctx, float64(elapsed.Microseconds())/1000, m.attrs)
}
