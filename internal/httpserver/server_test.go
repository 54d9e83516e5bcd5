package httpserver_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/septivank/usage-rollup-worker/internal/httpserver"
	"github.com/septivank/usage-rollup-worker/internal/metrics"
)

func TestHealthz(t *testing.T) {
	srv := httptest.NewServer(httpserver.Handler("usage-rollup-worker", prometheus.NewRegistry()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.JSONEq(t, `{"status":"ok","service":"usage-rollup-worker"}`, string(body))
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.NewMetrics(reg)
	require.NoError(t, err)
	m.RecordCycle("daily_rollup", metrics.StatusSuccess)

	srv := httptest.NewServer(httpserver.Handler("usage-rollup-worker", reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `usage_rollup_cycles_total{job="daily_rollup",status="success"} 1`)
}

func TestUnknownRoute(t *testing.T) {
	srv := httptest.NewServer(httpserver.Handler("usage-rollup-worker", prometheus.NewRegistry()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
