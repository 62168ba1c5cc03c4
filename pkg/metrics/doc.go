/*
Package metrics exposes Prometheus instrumentation and component health
for the panel.

Counters and gauges cover the four core subsystems: daemon connectivity
(connected gauge, auth failures, ping timeouts), console fan-out (open
sessions, dropped writes), the scheduler (runs by action and result,
durations), and placement (queries by outcome). Handler serves them at
/metrics.

The health side is a small component registry: subsystems report
healthy/unhealthy with a message, and HealthHandler/ReadyHandler render
the aggregate as JSON for /healthz and /readyz.
*/
package metrics
