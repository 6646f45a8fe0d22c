package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	HTTPRequests  *prometheus.CounterVec
	HTTPLatencyMS *prometheus.HistogramVec

	// checkout outcome: settled, partial, no_stock, empty_cart, not_found, duplicate, invalid, error
	Checkouts *prometheus.CounterVec

	FeedPublished *prometheus.CounterVec
	FeedDropped   prometheus.Counter
	FeedFailed    *prometheus.CounterVec
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefront",
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"route", "method", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "storefront",
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"route"})
	checkouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefront",
		Name:      "checkouts_total",
		Help:      "Checkout attempts by outcome.",
	}, []string{"outcome"})
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefront",
		Subsystem: "feed",
		Name:      "events_published_total",
		Help:      "Catalog events accepted by the dispatcher.",
	}, []string{"kind"})
	dropped := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "storefront",
		Subsystem: "feed",
		Name:      "events_dropped_total",
		Help:      "Catalog events dropped because the dispatch queue was full.",
	})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefront",
		Subsystem: "feed",
		Name:      "sink_failures_total",
		Help:      "Failed deliveries per sink.",
	}, []string{"sink"})

	r.MustRegister(
		requests, latency, checkouts, published, dropped, failed,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Registry{
		reg:           r,
		HTTPRequests:  requests,
		HTTPLatencyMS: latency,
		Checkouts:     checkouts,
		FeedPublished: published,
		FeedDropped:   dropped,
		FeedFailed:    failed,
	}
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
