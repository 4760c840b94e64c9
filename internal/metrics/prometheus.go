package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements the Collector interface using Prometheus metrics.
type PrometheusCollector struct {
	pollsTotal    *prometheus.CounterVec
	pendingSeen   *prometheus.CounterVec
	authResults   *prometheus.CounterVec
	execsTotal    *prometheus.CounterVec
	execDuration  *prometheus.HistogramVec
	timeoutsTotal *prometheus.CounterVec
	keyChanges    *prometheus.CounterVec
}

// NewPrometheusCollector creates a new PrometheusCollector with all metrics registered.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		pollsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qvm_remote_polls_total",
			Help: "Total number of per-domain poll passes started.",
		}, []string{"domain"}),
		pendingSeen: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qvm_remote_pending_seen_total",
			Help: "Total number of pending requests observed across poll passes.",
		}, []string{"domain"}),
		authResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qvm_remote_auth_results_total",
			Help: "Total number of HMAC verification outcomes.",
		}, []string{"domain", "result"}),
		execsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qvm_remote_execs_total",
			Help: "Total number of commands executed, by exit code class.",
		}, []string{"domain", "exit_class"}),
		execDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "qvm_remote_exec_duration_seconds",
			Help:    "Execution wall-clock duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"domain"}),
		timeoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qvm_remote_timeouts_total",
			Help: "Total number of executions killed for exceeding their wall-clock budget.",
		}, []string{"domain"}),
		keyChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qvm_remote_keystore_changes_total",
			Help: "Total number of administrative key store changes.",
		}, []string{"action"}),
	}

	reg.MustRegister(
		c.pollsTotal,
		c.pendingSeen,
		c.authResults,
		c.execsTotal,
		c.execDuration,
		c.timeoutsTotal,
		c.keyChanges,
	)

	return c
}

// PollStarted increments the poll counter for domain.
func (c *PrometheusCollector) PollStarted(domain string) {
	c.pollsTotal.WithLabelValues(domain).Inc()
}

// PollFinished adds pendingSeen to the running total for domain.
func (c *PrometheusCollector) PollFinished(domain string, pendingSeen int) {
	c.pendingSeen.WithLabelValues(domain).Add(float64(pendingSeen))
}

// AuthResult increments the auth result counter for domain/result.
func (c *PrometheusCollector) AuthResult(domain, result string) {
	c.authResults.WithLabelValues(domain, result).Inc()
}

// ExecFinished records an execution's exit class, duration, and whether it
// was killed for a timeout.
func (c *PrometheusCollector) ExecFinished(domain string, exitCode int, durationSeconds float64, timedOut bool) {
	c.execsTotal.WithLabelValues(domain, exitClass(exitCode)).Inc()
	c.execDuration.WithLabelValues(domain).Observe(durationSeconds)
	if timedOut {
		c.timeoutsTotal.WithLabelValues(domain).Inc()
	}
}

// KeyStoreChanged increments the key store change counter for action.
func (c *PrometheusCollector) KeyStoreChanged(action string) {
	c.keyChanges.WithLabelValues(action).Inc()
}

func exitClass(exitCode int) string {
	if exitCode == 0 {
		return "success"
	}
	return "failure"
}
