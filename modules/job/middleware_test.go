package job

import (
	"context"
	"testing"

	"github.com/Deepreo/jobscheduler/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.elastic.co/apm/v2/apmtest"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func failing(ctx context.Context, id uuid.UUID) error { return errors.New("boom") }

func TestTracingMiddleware(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	mw := TracingMiddlewareWithTracer(provider.Tracer("test"))

	require.NoError(t, mw(noop)(context.Background(), uuid.New()))
	require.Error(t, mw(failing)(context.Background(), uuid.New()))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "job.run", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}

func TestMetricsMiddleware(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	mw, err := MetricsMiddlewareWithMeter(provider.Meter("test"))
	require.NoError(t, err)

	id := uuid.New()
	require.NoError(t, mw(noop)(context.Background(), id))
	require.NoError(t, mw(noop)(context.Background(), id))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	byName := map[string]metricdata.Metrics{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		byName[m.Name] = m
	}

	runs, ok := byName["jobscheduler.job.runs"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, runs.DataPoints, 1)
	assert.Equal(t, int64(2), runs.DataPoints[0].Value)

	runTime, ok := byName["jobscheduler.job.run_time"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, runTime.DataPoints, 1)
	assert.Equal(t, uint64(2), runTime.DataPoints[0].Count)
}

func TestAPMMiddleware(t *testing.T) {
	tracer := apmtest.NewRecordingTracer()
	defer tracer.Close()
	mw := APMMiddleware(tracer.Tracer)

	require.NoError(t, mw(noop)(context.Background(), uuid.New()))
	require.Error(t, mw(failing)(context.Background(), uuid.New()))
	tracer.Flush(nil)

	payloads := tracer.Payloads()
	require.Len(t, payloads.Transactions, 2)
	assert.Equal(t, "scheduled", payloads.Transactions[0].Type)
	assert.Equal(t, "success", payloads.Transactions[0].Result)
	assert.Equal(t, "error", payloads.Transactions[1].Result)
	assert.Len(t, payloads.Errors, 1)
}

func TestRecoverMiddleware(t *testing.T) {
	run := RecoverMiddleware()(func(context.Context, uuid.UUID) error {
		panic("boom")
	})

	var err error
	assert.NotPanics(t, func() { err = run(context.Background(), uuid.New()) })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}
