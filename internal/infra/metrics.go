package infra

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Feed metrics
var (
	FeedMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feed_messages_total",
		Help: "Inbound websocket frames handled",
	})

	FeedParseErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feed_parse_errors_total",
		Help: "Inbound frames dropped as malformed",
	})

	FeedReconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feed_reconnects_total",
		Help: "Reconnect attempts scheduled after unexpected closes",
	})

	FeedConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "feed_connected",
		Help: "1 while the streaming connection is up",
	})
)

// Snapshot / cache metrics
var (
	SnapshotRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "snapshot_requests_total",
		Help: "Upstream REST calls by endpoint",
	}, []string{"endpoint"})

	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Cache reads answered without a network call",
	})

	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Cache reads that fell through to upstream",
	})

	CacheEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_evictions_total",
		Help: "Entries removed by expiry sweeps or quota eviction",
	})
)

// NewMetricsRegistry builds the registry with all application collectors.
func NewMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		FeedMessagesTotal,
		FeedParseErrorsTotal,
		FeedReconnectsTotal,
		FeedConnected,
		SnapshotRequestsTotal,
		CacheHitsTotal,
		CacheMissesTotal,
		CacheEvictionsTotal,
		collectors.NewGoCollector(),
	)
	return reg
}

// StartMetricsServer serves /metrics on addr. Blocking; run in a goroutine.
func StartMetricsServer(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	slog.Info("metrics server listening", slog.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("metrics server failed", slog.Any("error", err))
	}
}
