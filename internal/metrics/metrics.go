// Package metrics exposes Prometheus collectors for story sessions and the
// HTTP API, plus rolling latency statistics served as JSON.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dgallion1/storygest/internal/session"
)

const namespace = "storygest"

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)

	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "finished_total",
			Help:      "Story sessions finished, by outcome",
		},
		[]string{"outcome"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Story sessions currently streaming",
		},
	)

	BytesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "received_bytes_total",
			Help:      "Bytes received from story sources",
		},
	)

	FlushesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "flushes_total",
			Help:      "Accumulator flushes delivered to the parser",
		},
	)

	SnapshotSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "snapshot_size_bytes",
			Help:      "Size of the text parsed at each flush",
			Buckets:   prometheus.ExponentialBuckets(100, 4, 7),
		},
	)

	ParseDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "parser",
			Name:      "duration_seconds",
			Help:      "Time to parse one snapshot",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 8),
		},
	)

	FirstByteLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "first_byte_seconds",
			Help:      "Time from session start to the first byte received",
			Buckets:   []float64{.1, .25, .5, 1, 2, 5, 10, 30},
		},
	)

	SessionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "duration_seconds",
			Help:      "Total session duration",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		},
	)
)

// GenerationStats is the JSON body of the generation stats endpoint.
type GenerationStats struct {
	FirstByte StatsSnapshot `json:"first_byte"`
	Duration  StatsSnapshot `json:"duration"`
}

// Recorder is a session.Observer feeding the Prometheus collectors and the
// rolling latency windows.
type Recorder struct {
	firstByte *LatencyStats
	duration  *LatencyStats
}

func NewRecorder(window time.Duration) *Recorder {
	return &Recorder{
		firstByte: NewLatencyStats(window),
		duration:  NewLatencyStats(window),
	}
}

var _ session.Observer = (*Recorder)(nil)

func (r *Recorder) ChunkReceived(n int) {
	BytesReceived.Add(float64(n))
}

func (r *Recorder) Flushed(snapshotBytes int, parse time.Duration) {
	FlushesTotal.Inc()
	SnapshotSize.Observe(float64(snapshotBytes))
	ParseDuration.Observe(parse.Seconds())
}

// Finished records one session end. Latency windows only take sessions that
// ran to a result, so superseded sessions do not skew them.
func (r *Recorder) Finished(outcome session.Outcome, firstByte, total time.Duration) {
	SessionsTotal.WithLabelValues(string(outcome)).Inc()
	if outcome == session.OutcomeSuperseded {
		return
	}
	if firstByte > 0 {
		FirstByteLatency.Observe(firstByte.Seconds())
		r.firstByte.Record(firstByte)
	}
	SessionDuration.Observe(total.Seconds())
	r.duration.Record(total)
}

func (r *Recorder) Snapshot() GenerationStats {
	return GenerationStats{
		FirstByte: r.firstByte.Snapshot(),
		Duration:  r.duration.Snapshot(),
	}
}
