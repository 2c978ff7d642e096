package instrumentation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := New(provider)
	require.NoError(t, err)
	return m, reader
}

func collectSum(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != name {
				continue
			}
			sum, ok := md.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestMetrics_Counters(t *testing.T) {
	ctx := context.Background()
	m, reader := newTestMetrics(t)

	m.RecordFlowStarted(ctx, "google")
	m.RecordFlowStarted(ctx, "github")
	m.RecordCallback(ctx, ResultSuccess)
	m.RecordCallback(ctx, ResultSessionExpired)
	m.RecordCallback(ctx, ResultRateLimited)
	m.RecordCodeExchange(ctx, "google", true, 20*time.Millisecond, nil)
	m.RecordTokenRefresh(ctx, "google", false, 10*time.Millisecond, errors.New("boom"))
	m.RecordTokenRevocation(ctx, "google", true)
	m.RecordPersistFailure(ctx, "refresh")

	assert.Equal(t, int64(2), collectSum(t, reader, "oauth.flow.started"))
	assert.Equal(t, int64(3), collectSum(t, reader, "oauth.callback.processed"))
	assert.Equal(t, int64(1), collectSum(t, reader, "oauth.code.exchanged"))
	assert.Equal(t, int64(1), collectSum(t, reader, "oauth.token.refreshed"))
	assert.Equal(t, int64(1), collectSum(t, reader, "oauth.token.revoked"))
	assert.Equal(t, int64(1), collectSum(t, reader, "oauth.storage.write_failures"))
}

func TestMetrics_ProviderDuration(t *testing.T) {
	ctx := context.Background()
	m, reader := newTestMetrics(t)

	m.RecordCodeExchange(ctx, "github", false, 1500*time.Microsecond, nil)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	var found bool
	for _, sm := range rm.ScopeMetrics {
		assert.Equal(t, MeterName, sm.Scope.Name)
		for _, md := range sm.Metrics {
			if md.Name != "oauth.provider.duration" {
				continue
			}
			hist, ok := md.Data.(metricdata.Histogram[float64])
			require.True(t, ok)
			require.Len(t, hist.DataPoints, 1)
			assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
			assert.InDelta(t, 1.5, hist.DataPoints[0].Sum, 0.001)
			found = true
		}
	}
	assert.True(t, found)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordFlowStarted(ctx, "google")
		m.RecordCallback(ctx, ResultSuccess)
		m.RecordCodeExchange(ctx, "google", true, time.Second, nil)
		m.RecordTokenRefresh(ctx, "google", true, time.Second, nil)
		m.RecordTokenRevocation(ctx, "google", false)
		m.RecordPersistFailure(ctx, "callback")
	})
}

func TestNew_GlobalProvider(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)
	assert.NotPanics(t, func() { m.RecordFlowStarted(context.Background(), "google") })
}
