package job

import (
	"context"
	"time"

	"github.com/Deepreo/jobscheduler/core"
	"github.com/Deepreo/jobscheduler/errors"
	"github.com/google/uuid"
	"go.elastic.co/apm/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumName = "github.com/Deepreo/jobscheduler"

// MetricsMiddleware records run time and run count of every execution on the
// global meter provider.
func MetricsMiddleware() (core.JobMiddleware, error) {
	return MetricsMiddlewareWithMeter(otel.GetMeterProvider().Meter(instrumName))
}

func MetricsMiddlewareWithMeter(meter metric.Meter) (core.JobMiddleware, error) {
	runTime, err := meter.Float64Histogram(
		"jobscheduler.job.run_time",
		metric.WithDescription("The time it took to execute the job."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	runs, err := meter.Int64Counter(
		"jobscheduler.job.runs",
		metric.WithDescription("The number of job executions."),
	)
	if err != nil {
		return nil, err
	}

	return func(next core.JobFunc) core.JobFunc {
		return func(ctx context.Context, id uuid.UUID) error {
			start := time.Now()

			err := next(ctx, id)

			attrs := metric.WithAttributes(
				attribute.String("job_id", id.String()),
				statusAttr(err),
			)
			runTime.Record(ctx, milliseconds(time.Since(start)), attrs)
			runs.Add(ctx, 1, attrs)

			return err
		}
	}, nil
}

// TracingMiddleware wraps every execution in a span of the global tracer
// provider.
func TracingMiddleware() core.JobMiddleware {
	return TracingMiddlewareWithTracer(otel.GetTracerProvider().Tracer(instrumName))
}

func TracingMiddlewareWithTracer(tracer trace.Tracer) core.JobMiddleware {
	return func(next core.JobFunc) core.JobFunc {
		return func(ctx context.Context, id uuid.UUID) error {
			ctx, span := tracer.Start(ctx, "job.run",
				trace.WithSpanKind(trace.SpanKindInternal),
				trace.WithAttributes(attribute.String("job_id", id.String())),
			)
			defer span.End()

			err := next(ctx, id)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return err
		}
	}
}

// APMMiddleware reports every execution as an Elastic APM transaction. A nil
// tracer uses apm.DefaultTracer.
func APMMiddleware(tracer *apm.Tracer) core.JobMiddleware {
	return func(next core.JobFunc) core.JobFunc {
		return func(ctx context.Context, id uuid.UUID) error {
			t := tracer
			if t == nil {
				t = apm.DefaultTracer()
			}
			tx := t.StartTransaction("job "+id.String(), "scheduled")
			defer tx.End()
			ctx = apm.ContextWithTransaction(ctx, tx)

			err := next(ctx, id)
			if err != nil {
				apm.CaptureError(ctx, err).Send()
				tx.Result = "error"
			} else {
				tx.Result = "success"
			}
			return err
		}
	}
}

// RecoverMiddleware turns a panic of the job into an error, so the middlewares
// outside it observe a failed run instead of unwinding.
func RecoverMiddleware() core.JobMiddleware {
	return func(next core.JobFunc) core.JobFunc {
		return func(ctx context.Context, id uuid.UUID) (err error) {
			defer func() {
				if p := recover(); p != nil {
					err = errors.Newf("job %s panicked: %v", id, p)
				}
			}()
			return next(ctx, id)
		}
	}
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func statusAttr(err error) attribute.KeyValue {
	if err != nil {
		return attribute.String("status", "error")
	}
	return attribute.String("status", "ok")
}
