package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ExposesCounters(t *testing.T) {
	r := NewRegistry()
	r.Checkouts.WithLabelValues("settled").Inc()
	r.FeedDropped.Add(2)

	assert.Equal(t, float64(1), testutil.ToFloat64(r.Checkouts.WithLabelValues("settled")))
	assert.Equal(t, float64(2), testutil.ToFloat64(r.FeedDropped))

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `storefront_checkouts_total{outcome="settled"} 1`)
	assert.Contains(t, string(body), "storefront_feed_events_dropped_total 2")
}

func TestRegistry_Independent(t *testing.T) {
	// separate registries must not collide on registration
	a := NewRegistry()
	b := NewRegistry()
	a.FeedDropped.Inc()
	assert.Equal(t, float64(0), testutil.ToFloat64(b.FeedDropped))
}
