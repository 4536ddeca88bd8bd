package bootstrap

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/gamification/internal/telemetry/metrics"
)

func TestServeMetricsStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := ServeMetrics(ctx, "127.0.0.1:0", metrics.SetupPrometheus())

	cancel()
	select {
	case <-done:
	case <-time.After(2 * shutdownGrace):
		t.Fatal("metrics server did not shut down")
	}
}

func TestShutdownIdleServer(t *testing.T) {
	assert.NoError(t, Shutdown(&http.Server{}))
}

func TestSignalContextCancels(t *testing.T) {
	ctx, stop := SignalContext()
	require.NoError(t, ctx.Err())
	stop()
	assert.Error(t, ctx.Err())
}
