package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestSetup_NoEndpointUsesNoopTracer(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	p, err := Setup(ctx, Options{ServiceVersion: "test", MetricReaders: []sdkmetric.Reader{reader}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	_, span := otel.Tracer("t").Start(ctx, "op")
	assert.False(t, span.SpanContext().IsValid())
	span.End()

	counter, err := otel.Meter("t").Int64Counter("hits")
	require.NoError(t, err)
	counter.Add(ctx, 2)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	sum := rm.ScopeMetrics[0].Metrics[0].Data.(metricdata.Sum[int64])
	assert.Equal(t, int64(2), sum.DataPoints[0].Value)
}

func TestSetup_WithEndpointInstallsSDKTracer(t *testing.T) {
	p, err := Setup(context.Background(), Options{Endpoint: "http://127.0.0.1:4318"})
	require.NoError(t, err)

	_, ok := p.TracerProvider.(*sdktrace.TracerProvider)
	assert.True(t, ok)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestExporterOptions(t *testing.T) {
	tests := []struct {
		endpoint string
		wantN    int
		wantErr  bool
	}{
		{"collector:4318", 1, false},
		{"https://collector:4318", 1, false},
		{"http://collector:4318", 2, false},
		{"http://collector:4318/otlp/", 3, false},
		{"http://", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			opts, err := exporterOptions(tt.endpoint)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, opts, tt.wantN)
		})
	}
}
