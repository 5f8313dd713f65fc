// Package metrics holds the Prometheus collectors of the watcher.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// RunsTotal counts pipeline runs by kind and result.
	RunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cheekschecker",
		Name:      "runs_total",
		Help:      "Total number of pipeline runs, labeled by kind (watch, summary) and result (ok, unchanged, error).",
	}, []string{"kind", "result"})

	// RunDurationSeconds is the wall time of a run.
	RunDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cheekschecker",
		Name:      "run_duration_seconds",
		Help:      "Wall time of a pipeline run.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"kind"})

	// LastSuccessSeconds is the unix time of the last successful run.
	LastSuccessSeconds = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "cheekschecker",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp (seconds) of the last successful run by kind.",
	}, []string{"kind"})

	// FetchAttemptsTotal counts HTTP attempts against the calendar page.
	FetchAttemptsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cheekschecker",
		Subsystem: "fetch",
		Name:      "attempts_total",
		Help:      "Total number of HTTP attempts made to fetch the calendar page.",
	})

	// ParsedDays is the number of business days in the latest parse.
	ParsedDays = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cheekschecker",
		Name:      "parsed_days",
		Help:      "Number of business days found in the latest calendar parse.",
	})

	// MeetingDays is the number of parsed days currently meeting the criteria.
	MeetingDays = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cheekschecker",
		Name:      "meeting_days",
		Help:      "Number of parsed business days currently meeting the criteria.",
	})

	// NotificationsTotal counts stage notifications by stage.
	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cheekschecker",
		Subsystem: "notify",
		Name:      "stage_notifications_total",
		Help:      "Total number of stage notifications emitted, labeled by stage.",
	}, []string{"stage"})

	// SlackErrorsTotal counts failed webhook deliveries.
	SlackErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cheekschecker",
		Subsystem: "notify",
		Name:      "slack_errors_total",
		Help:      "Total number of Slack messages that could not be delivered.",
	})

	// StateConflictsTotal counts optimistic concurrency retries.
	StateConflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cheekschecker",
		Subsystem: "state",
		Name:      "conflicts_total",
		Help:      "Total number of notification state writes retried after a concurrent change.",
	})
)

// Registry holds the watcher's collectors, separate from the default
// registry so tests and the server can scrape it in isolation.
var Registry = prometheus.NewRegistry()

// Register registers the collectors with Registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		Registry.MustRegister(
			RunsTotal,
			RunDurationSeconds,
			LastSuccessSeconds,
			FetchAttemptsTotal,
			ParsedDays,
			MeetingDays,
			NotificationsTotal,
			SlackErrorsTotal,
			StateConflictsTotal,
		)
	})
}

// ObserveRun records the outcome of a run that started at start.
func ObserveRun(kind, result string, start time.Time) {
	RunsTotal.WithLabelValues(kind, result).Inc()
	RunDurationSeconds.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if result != "error" {
		LastSuccessSeconds.WithLabelValues(kind).Set(NowUnixSeconds())
	}
}

func NowUnixSeconds() float64 {
	return float64(time.Now().Unix())
}
