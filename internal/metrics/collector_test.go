package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.BatchBuilt()
	c.ProductRejected("missing_sku")
	c.ProductRejected("missing_sku")
	c.ProductRejected("duplicate_key")
	c.IdentifierClaimed()
	c.Submission("success")
	c.Poll("short_page")
	c.ItemOutcome("SUCCESS")
	c.ConsistencyRepair()
	c.SpecFetch("fallback")
	c.SetPending(3)
	c.CommandProcessed("error", 0.2)

	assert.Equal(t, float64(1), testutil.ToFloat64(c.batchesBuilt))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.productsRejected.WithLabelValues("missing_sku")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.productsRejected.WithLabelValues("duplicate_key")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.consistencyRepairs))
	assert.Equal(t, float64(3), testutil.ToFloat64(c.batchesPending))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.commandsProcessed.WithLabelValues("error")))
}

func TestCollectorPayloadHistograms(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.PayloadObserved(48_000, 25)
	c.PayloadObserved(90_000, 50)

	assert.Equal(t, 1, testutil.CollectAndCount(c.payloadBytes))
	assert.Equal(t, 1, testutil.CollectAndCount(c.chunkItems))
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.BatchBuilt()
		c.ProductRejected("x")
		c.PayloadObserved(1, 1)
		c.SetPending(1)
		c.CommandProcessed("success", 1)
	})
}

func TestHandlerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.BatchBuilt()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "marketplace_feed_batches_built_total 1"))
}
