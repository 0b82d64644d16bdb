// Package metrics provides Prometheus metrics for monitoring the
// truckportal bridge: request counts, session-pool occupancy, captcha
// outcomes, and process memory.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts total requests by endpoint and status.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "truckportal_requests_total",
			Help: "Total number of requests processed",
		},
		[]string{"command", "status"},
	)

	// RequestDuration tracks request duration by endpoint.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "truckportal_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~205s
		},
		[]string{"command"},
	)

	// SessionPoolMax shows the configured session capacity.
	SessionPoolMax = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "truckportal_session_pool_max",
			Help: "Configured maximum number of browser sessions",
		},
	)

	// SessionPoolAvailable shows remaining session capacity.
	SessionPoolAvailable = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "truckportal_session_pool_available",
			Help: "Remaining session capacity",
		},
	)

	// ActiveSessions shows current live sessions.
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "truckportal_active_sessions",
			Help: "Number of live browser sessions",
		},
	)

	// ChallengesSolved counts solved captcha challenges by path taken.
	ChallengesSolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "truckportal_captcha_solved_total",
			Help: "Total captcha challenges solved by type",
		},
		[]string{"type"},
	)

	// ChallengesFailed counts failed captcha attempts.
	ChallengesFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "truckportal_captcha_failed_total",
			Help: "Total captcha challenges failed by reason",
		},
		[]string{"reason"},
	)

	// MemoryUsageBytes shows current memory usage.
	MemoryUsageBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "truckportal_memory_usage_bytes",
			Help: "Current memory usage in bytes (alloc)",
		},
	)

	// MemorySysBytes shows system memory obtained.
	MemorySysBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "truckportal_memory_sys_bytes",
			Help: "Total memory obtained from system",
		},
	)

	// GoroutineCount shows current goroutine count.
	GoroutineCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "truckportal_goroutines",
			Help: "Current number of goroutines",
		},
	)

	// BuildInfo provides build information as labels.
	BuildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "truckportal_build_info",
			Help: "Build information",
		},
		[]string{"version", "go_version"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		SessionPoolMax,
		SessionPoolAvailable,
		ActiveSessions,
		ChallengesSolved,
		ChallengesFailed,
		MemoryUsageBytes,
		MemorySysBytes,
		GoroutineCount,
		BuildInfo,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// StartMemoryCollector starts a goroutine that periodically updates memory metrics.
func StartMemoryCollector(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			updateMemoryMetrics()
		case <-stopCh:
			return
		}
	}
}

// updateMemoryMetrics updates memory-related metrics.
func updateMemoryMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	MemoryUsageBytes.Set(float64(m.Alloc))
	MemorySysBytes.Set(float64(m.Sys))
	GoroutineCount.Set(float64(runtime.NumGoroutine()))
}

// RecordRequest records metrics for a completed request.
func RecordRequest(command, status string, duration time.Duration) {
	RequestsTotal.WithLabelValues(command, status).Inc()
	RequestDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// RecordChallengeSolved records a solved captcha challenge.
func RecordChallengeSolved(challengeType string) {
	ChallengesSolved.WithLabelValues(challengeType).Inc()
}

// RecordChallengeFailed records a failed captcha attempt.
func RecordChallengeFailed(reason string) {
	ChallengesFailed.WithLabelValues(reason).Inc()
}

// UpdatePoolMetrics updates session pool occupancy gauges.
func UpdatePoolMetrics(max, available int) {
	SessionPoolMax.Set(float64(max))
	SessionPoolAvailable.Set(float64(available))
}

// UpdateSessionMetrics updates the live session count gauge.
func UpdateSessionMetrics(count int) {
	ActiveSessions.Set(float64(count))
}
