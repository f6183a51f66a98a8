package observability

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Mindburn-Labs/vault/pkg/contracts"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "vaultd", config.ServiceName)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.True(t, config.Enabled)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	// Disabled providers still hand out a usable observer.
	_, finish := p.StartOperation(context.Background(), "propose")
	finish(nil)
	_, finish = p.StartOperation(context.Background(), "execute")
	finish(contracts.ErrLimitExceeded)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestStartOperation_RecordsSpanAndMetrics(t *testing.T) {
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	p, err := NewWithProviders(tp, mp)
	require.NoError(t, err)
	ctx := context.Background()

	_, finish := p.StartOperation(ctx, "approve")
	finish(nil)
	_, finish = p.StartOperation(ctx, "execute")
	finish(fmt.Errorf("wrapped: %w", contracts.ErrTimelockNotElapsed))

	ended := spans.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, "vault.approve", ended[0].Name())
	assert.Equal(t, codes.Unset, ended[0].Status().Code)
	assert.Equal(t, "vault.execute", ended[1].Name())
	assert.Equal(t, codes.Error, ended[1].Status().Code)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	sums := map[string]int64{}
	var histCount uint64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					sums[m.Name] += dp.Value
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					histCount += dp.Count
				}
			}
		}
	}
	assert.Equal(t, int64(2), sums["vault.operations"])
	assert.Equal(t, int64(1), sums["vault.errors"])
	assert.Equal(t, uint64(2), histCount)
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "expired", ErrorKind(fmt.Errorf("x: %w", contracts.ErrProposalExpired)))
	assert.Equal(t, "invalid_state", ErrorKind(contracts.ErrInvalidState))
	assert.Equal(t, "limit_exceeded", ErrorKind(contracts.ErrLimitExceeded))
	assert.Equal(t, "internal", ErrorKind(assert.AnError))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, "warn", "json").Info("hidden")
	assert.Empty(t, buf.String())

	NewLogger(&buf, "debug", "json").Debug("shown", "k", 1)
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	NewLogger(&buf, "nonsense", "text").Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}
