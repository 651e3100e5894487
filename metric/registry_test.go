package metric

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndScrape(t *testing.T) {
	registry := NewRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_records_total",
		Help: "Total records forwarded by ingestion",
	})
	require.NoError(t, registry.Register("ingest", "ingest_records_total", counter))
	counter.Add(3)

	rec := httptest.NewRecorder()
	registry.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "ingest_records_total 3")
}

func TestRegistry_DuplicateRegistration(t *testing.T) {
	registry := NewRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_total", Help: "x"})
	require.NoError(t, registry.Register("engine", "dup_total", counter))

	err := registry.Register("engine", "dup_total", counter)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistry_Unregister(t *testing.T) {
	registry := NewRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "sessions_active", Help: "x"})
	require.NoError(t, registry.Register("aggregate", "sessions_active", gauge))

	assert.True(t, registry.Unregister("aggregate", "sessions_active"))
	assert.False(t, registry.Unregister("aggregate", "sessions_active"))

	// Re-registration succeeds after unregister
	assert.NoError(t, registry.Register("aggregate", "sessions_active", gauge))
}
