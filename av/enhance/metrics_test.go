package enhance

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestReader returns a ManualReader-backed provider for metric inspection.
func newTestReader(t *testing.T) (*sdkmetric.MeterProvider, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	return mp, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func counterValue(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	m := findMetric(rm, name)
	require.NotNil(t, m, "metric %s not found", name)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is %T", name, m.Data)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	mp, _ := newTestReader(t)
	m, err := NewMetrics(mp)
	require.NoError(t, err)
	assert.NotNil(t, m.Hops)
	assert.NotNil(t, m.HopDuration)
}

func TestEngine_RecordsMetrics(t *testing.T) {
	mp, reader := newTestReader(t)
	e := newTestEngine(t, nil, WithMeterProvider(mp), WithName("metrics"))

	buf := make([]float64, DefaultHopSize)
	for i := 0; i < 100; i++ {
		require.NoError(t, e.ProcessBlock(buf, buf))
	}
	require.NoError(t, e.Disable())
	for i := 0; i < 50; i++ {
		require.NoError(t, e.ProcessBlock(buf, buf))
	}

	rm := collect(t, reader)
	assert.Equal(t, int64(150), counterValue(t, rm, "toxenhance.hops"))
	assert.Equal(t, int64(50), counterValue(t, rm, "toxenhance.bypassed_hops"))

	hist := findMetric(rm, "toxenhance.hop.duration")
	require.NotNil(t, hist)
	data, ok := hist.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, data.DataPoints, 1)
	assert.Equal(t, uint64(150), data.DataPoints[0].Count)
	name, ok := data.DataPoints[0].Attributes.Value(attribute.Key("engine"))
	require.True(t, ok)
	assert.Equal(t, "metrics", name.AsString())

	for _, gauge := range []string{"toxenhance.speech_presence", "toxenhance.echo.convergence"} {
		m := findMetric(rm, gauge)
		require.NotNil(t, m, gauge)
		g, ok := m.Data.(metricdata.Gauge[float64])
		require.True(t, ok)
		require.Len(t, g.DataPoints, 1)
		assert.GreaterOrEqual(t, g.DataPoints[0].Value, 0.0)
		assert.LessOrEqual(t, g.DataPoints[0].Value, 1.0)
	}
}

func TestEngine_FlushesFaultsOnClose(t *testing.T) {
	mp, reader := newTestReader(t)
	e, err := New(DefaultConfig(), WithMeterProvider(mp))
	require.NoError(t, err)
	require.NoError(t, e.Init())

	bad := make([]float64, DefaultHopSize)
	bad[3] = math.Inf(1)
	require.NoError(t, e.ProcessBlock(bad, bad))
	require.NoError(t, e.Close())

	rm := collect(t, reader)
	assert.Equal(t, int64(1), counterValue(t, rm, "toxenhance.faults"))
	assert.Equal(t, int64(1), counterValue(t, rm, "toxenhance.hops"))
}
