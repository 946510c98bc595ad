package db

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector is a MetricsCollector that exports statement counts and
// latencies, labelled by statement kind (SELECT, UPDATE, CREATE, ...) and
// outcome.
type PrometheusCollector struct {
	duration *prometheus.HistogramVec
	total    *prometheus.CounterVec
}

// NewPrometheusCollector registers the collector's metrics with reg. A nil
// reg uses prometheus.DefaultRegisterer.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &PrometheusCollector{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "schemakit",
			Subsystem: "db",
			Name:      "statement_duration_seconds",
			Help:      "Time spent in the driver per statement.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"statement", "outcome"}),
		total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schemakit",
			Subsystem: "db",
			Name:      "statements_total",
			Help:      "Statements executed.",
		}, []string{"statement", "outcome"}),
	}
	for _, col := range []prometheus.Collector{c.duration, c.total} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// RecordQuery implements MetricsCollector.
func (c *PrometheusCollector) RecordQuery(query string, d time.Duration, success bool) {
	outcome := "ok"
	if !success {
		outcome = "error"
	}
	kind := StatementKind(query)
	c.duration.WithLabelValues(kind, outcome).Observe(d.Seconds())
	c.total.WithLabelValues(kind, outcome).Inc()
}

// StatementKind returns the leading keyword of query in upper case, or
// "OTHER" when there is none. It keeps metric label cardinality bounded.
func StatementKind(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return "OTHER"
	}
	kw := strings.ToUpper(strings.TrimLeft(fields[0], "("))
	switch kw {
	case "SELECT", "INSERT", "UPDATE", "DELETE", "CREATE", "DROP", "ALTER",
		"EXPLAIN", "PRAGMA", "WITH", "SHOW", "BEGIN", "COMMIT", "ROLLBACK":
		return kw
	}
	return "OTHER"
}

var _ MetricsCollector = (*PrometheusCollector)(nil)
