package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricHTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qaflow",
		Name:      "http_requests_total",
		Help:      "HTTP requests served, by method and status.",
	}, []string{"method", "status"})
	metricRunsSaved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qaflow",
		Name:      "runs_saved_total",
		Help:      "Run outcomes persisted, by final status.",
	}, []string{"status"})
	metricRunStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "qaflow",
		Name:      "run_streams_active",
		Help:      "Run streams currently relayed from the executor.",
	})
)
