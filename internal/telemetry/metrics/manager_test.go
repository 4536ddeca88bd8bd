package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerRegistersInstruments(t *testing.T) {
	reg := SetupPrometheus()
	m := NewManager("gamification", "api", reg)

	m.CounterRequests.WithLabelValues("GET", "/v1/leaderboard", "200").Inc()
	m.CounterHandleRequestPanic.Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.CounterRequests.WithLabelValues("GET", "/v1/leaderboard", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CounterHandleRequestPanic))

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "gamification_api_requests_total")
	assert.Contains(t, string(body), "go_goroutines")
}
