// Package metrics provides Prometheus instrumentation for the chat room. It
// exposes gauges for participants and stream connections, counters for
// message and sweep throughput, and histograms for latency tracking.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ParticipantsOnline is the participant count left by the last sweep.
	ParticipantsOnline = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatroom_participants_online",
		Help: "Number of participants currently in the room",
	})

	// MessagesTotal counts appended messages by kind.
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatroom_messages_total",
		Help: "Total number of messages appended to the log",
	}, []string{"kind"}) // kind = "message", "private_message"

	// HTTPRequestDuration records handler latency in seconds.
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chatroom_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"method", "route", "status"})

	// SweepsTotal counts sweep passes by outcome.
	SweepsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatroom_sweeps_total",
		Help: "Total number of inactivity sweeps",
	}, []string{"result"}) // result = "ok", "aborted"

	// EvictionsTotal counts participants removed for inactivity.
	EvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatroom_evictions_total",
		Help: "Total number of participants evicted for inactivity",
	})

	// SweepDuration records how long a sweep pass takes.
	SweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatroom_sweep_duration_seconds",
		Help:    "Duration of an inactivity sweep in seconds",
		Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
	})

	// StreamConnections tracks the current number of push stream connections.
	StreamConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatroom_stream_connections",
		Help: "Current number of active push stream connections",
	})

	// StreamFramesTotal counts frames written to stream clients.
	StreamFramesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatroom_stream_frames_total",
		Help: "Total number of event frames written to stream clients",
	})

	// RateLimitedTotal counts message posts rejected by the rate limiter.
	RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatroom_rate_limited_total",
		Help: "Total number of message posts rejected by the rate limiter",
	})
)

func init() {
	prometheus.MustRegister(
		ParticipantsOnline,
		MessagesTotal,
		HTTPRequestDuration,
		SweepsTotal,
		EvictionsTotal,
		SweepDuration,
		StreamConnections,
		StreamFramesTotal,
		RateLimitedTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
