// Package metrics exposes Prometheus counters for session and catalog
// activity. Recording is a no-op until InitMetrics is called, so packages can
// record unconditionally.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

var (
	loginsTotal         *prometheus.CounterVec
	renewalsTotal       *prometheus.CounterVec
	refreshTotal        *prometheus.CounterVec
	refreshDuration     *prometheus.HistogramVec
	sessionsAuthed      *prometheus.GaugeVec
	reportsDroppedTotal prometheus.Counter

	metricsOnce       sync.Once
	metricsRegistered bool
)

// InitMetrics registers all collectors with the default registry.
// Safe to call more than once.
func InitMetrics() {
	metricsOnce.Do(func() {
		loginsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaultenv_logins_total",
				Help: "Total number of session logins",
			},
			[]string{"server", "method", "status"},
		)

		renewalsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaultenv_token_renewals_total",
				Help: "Total number of token self-renewals",
			},
			[]string{"server", "status"},
		)

		refreshTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaultenv_catalog_refresh_total",
				Help: "Total number of catalog node refreshes",
			},
			[]string{"kind", "status"},
		)

		refreshDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vaultenv_catalog_refresh_duration_seconds",
				Help:    "Duration of catalog node refreshes in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"kind"},
		)

		sessionsAuthed = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vaultenv_session_authenticated",
				Help: "Whether the session of a server holds a token (1) or not (0)",
			},
			[]string{"server"},
		)

		reportsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "vaultenv_reports_dropped_total",
			Help: "Total number of user-facing error reports dropped due to queue overflow",
		})

		metricsRegistered = true
	})
}

func status(err error) string {
	if err != nil {
		return StatusFailure
	}
	return StatusSuccess
}

// RecordLogin records the outcome of a login.
func RecordLogin(server, method string, err error) {
	if !metricsRegistered || loginsTotal == nil {
		return
	}
	loginsTotal.WithLabelValues(server, method, status(err)).Inc()
}

// RecordRenewal records the outcome of a token renewal.
func RecordRenewal(server string, err error) {
	if !metricsRegistered || renewalsTotal == nil {
		return
	}
	renewalsTotal.WithLabelValues(server, status(err)).Inc()
}

// RecordRefresh records a catalog refresh of a node of the given kind.
func RecordRefresh(kind string, d time.Duration, err error) {
	if !metricsRegistered {
		return
	}
	if refreshTotal != nil {
		refreshTotal.WithLabelValues(kind, status(err)).Inc()
	}
	if refreshDuration != nil {
		refreshDuration.WithLabelValues(kind).Observe(d.Seconds())
	}
}

// SetAuthenticated records whether the session of server holds a token.
func SetAuthenticated(server string, authenticated bool) {
	if !metricsRegistered || sessionsAuthed == nil {
		return
	}
	value := 0.0
	if authenticated {
		value = 1.0
	}
	sessionsAuthed.WithLabelValues(server).Set(value)
}

// IncrementDroppedReports counts a report lost to queue overflow.
func IncrementDroppedReports() {
	if metricsRegistered && reportsDroppedTotal != nil {
		reportsDroppedTotal.Inc()
	}
}

// GetLoginsTotal returns the login counter for testing.
func GetLoginsTotal() *prometheus.CounterVec {
	return loginsTotal
}

// GetRenewalsTotal returns the renewal counter for testing.
func GetRenewalsTotal() *prometheus.CounterVec {
	return renewalsTotal
}

// GetRefreshTotal returns the refresh counter for testing.
func GetRefreshTotal() *prometheus.CounterVec {
	return refreshTotal
}

// GetSessionAuthenticated returns the session gauge for testing.
func GetSessionAuthenticated() *prometheus.GaugeVec {
	return sessionsAuthed
}

// GetReportsDropped returns the dropped reports counter for testing.
func GetReportsDropped() prometheus.Counter {
	return reportsDroppedTotal
}

// IsMetricsRegistered returns whether metrics have been initialized.
func IsMetricsRegistered() bool {
	return metricsRegistered
}
