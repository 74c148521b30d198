// Package metrics defines the Prometheus collectors for incsync.
//
// incsync is a short-lived CLI, so collectors are exported by writing the
// default registry to a node_exporter textfile rather than serving /metrics.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// propagationChanges counts AC checkbox rewrites by direction
	propagationChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "incsync_propagation_ac_changes_total",
		Help: "AC checkbox rewrites made by the propagator",
	}, []string{"direction"})

	// desyncIssues counts validator issues by kind
	desyncIssues = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "incsync_desync_issues_total",
		Help: "Desync issues reported by the validator",
	}, []string{"kind"})

	// repairs counts repair runs by outcome
	repairs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "incsync_repairs_total",
		Help: "Repair runs by outcome",
	}, []string{"outcome"})

	// cacheLookups counts cache reads by result (hit, miss, expired, corrupt)
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "incsync_cache_lookups_total",
		Help: "Cache reads by result",
	}, []string{"backend", "result"})

	// retryAttempts counts attempts made by the retry handler
	retryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "incsync_retry_attempts_total",
		Help: "Attempts made by the retry handler by error kind",
	}, []string{"kind"})

	// retryDelay tracks how long the handler slept between attempts
	retryDelay = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "incsync_retry_delay_seconds",
		Help:    "Backoff delay between retry attempts",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 9), // 250ms to 64s
	})

	// syncItems counts batch sync items by tracker and result
	syncItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "incsync_sync_items_total",
		Help: "Tracker sync items by result",
	}, []string{"tracker", "result"})

	// wipViolations counts WIP violations by severity
	wipViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "incsync_wip_violations_total",
		Help: "WIP discipline violations by severity",
	}, []string{"severity"})
)

// ACChanged records one AC rewrite. checked is the new checkbox state.
func ACChanged(checked bool) {
	dir := "unchecked"
	if checked {
		dir = "checked"
	}
	propagationChanges.WithLabelValues(dir).Inc()
}

// DesyncIssue records one validator issue.
func DesyncIssue(kind string) {
	desyncIssues.WithLabelValues(kind).Inc()
}

// Repair records a repair outcome ("repaired", "clean", "failed").
func Repair(outcome string) {
	repairs.WithLabelValues(outcome).Inc()
}

// CacheLookup records a cache read.
func CacheLookup(backend, result string) {
	cacheLookups.WithLabelValues(backend, result).Inc()
}

// RetryAttempt records one attempt of the retry handler. kind is the error
// class of a failed attempt or "success".
func RetryAttempt(kind string) {
	retryAttempts.WithLabelValues(kind).Inc()
}

// RetryDelay records a backoff sleep.
func RetryDelay(seconds float64) {
	retryDelay.Observe(seconds)
}

// SyncItem records one batch sync item result.
func SyncItem(tracker, result string) {
	syncItems.WithLabelValues(tracker, result).Inc()
}

// WIPViolation records one WIP violation.
func WIPViolation(severity string) {
	wipViolations.WithLabelValues(severity).Inc()
}

// WriteTextfile writes the default registry in the Prometheus text format,
// suitable for the node_exporter textfile collector.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
