package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Daemon registry metrics
	DaemonsConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bastion_daemons_connected",
			Help: "Number of authenticated daemon connections",
		},
	)

	DaemonAuthFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_daemon_auth_failures_total",
			Help: "Daemon authentication failures by reason",
		},
		[]string{"reason"},
	)

	DaemonPingTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bastion_daemon_ping_timeouts_total",
			Help: "Daemon sockets terminated for an unanswered ping",
		},
	)

	// Console relay metrics
	ConsoleSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bastion_console_sessions",
			Help: "Open browser console sessions",
		},
	)

	ConsoleBroadcastDrops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bastion_console_broadcast_drops_total",
			Help: "Console events skipped because a session write failed",
		},
	)

	// Scheduler metrics
	ScheduleRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_schedule_runs_total",
			Help: "Schedule executions by result",
		},
		[]string{"action", "result"},
	)

	ScheduleRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bastion_schedule_run_duration_seconds",
			Help:    "Schedule execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Placement metrics
	PlacementRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_placement_requests_total",
			Help: "Placement queries by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(DaemonsConnected)
	prometheus.MustRegister(DaemonAuthFailures)
	prometheus.MustRegister(DaemonPingTimeouts)
	prometheus.MustRegister(ConsoleSessions)
	prometheus.MustRegister(ConsoleBroadcastDrops)
	prometheus.MustRegister(ScheduleRunsTotal)
	prometheus.MustRegister(ScheduleRunDuration)
	prometheus.MustRegister(PlacementRequestsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
