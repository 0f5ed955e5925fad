package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "green_route"

var (
	OptimizationsTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "optimizations_total", Help: "Total number of route optimizations"})
	OptimizationLatency = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "optimization_latency_seconds", Help: "Route optimization latency seconds"})
	RecalculationsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "recalculations_total", Help: "Routes re-optimized by a tracking session"})
	TrackingSessions    = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "tracking_sessions_active", Help: "Number of routes currently tracked"})
	PredictorAccuracy   = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "predictor_accuracy_percent", Help: "Last computed congestion predictor accuracy"})

	TrafficSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "traffic_subscriptions_active", Help: "Number of routes with a traffic subscription"})

	TrackingTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "tracking_ticks_total", Help: "Tracking ticks by result"},
		[]string{"result"},
	)
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "events_published_total", Help: "Events published by name and sink"},
		[]string{"event", "sink"},
	)
	EventPublishErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "event_publish_errors_total", Help: "Failed event publishes by sink"},
		[]string{"sink"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
