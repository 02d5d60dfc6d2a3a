package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the audit counters exported to Prometheus. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	issuesRegistered *prometheus.CounterVec
	issuesDropped    *prometheus.CounterVec
	elementsSkipped  *prometheus.CounterVec
	probes           *prometheus.CounterVec
	restores         *prometheus.CounterVec
}

// NewMetrics creates the audit counters and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		issuesRegistered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalpel_audit_issues_registered_total",
			Help: "Issues forwarded to the results sink.",
		}, []string{"check"}),
		issuesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalpel_audit_issues_dropped_total",
			Help: "Issues discarded because the check reached its issue ceiling.",
		}, []string{"check"}),
		elementsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalpel_audit_elements_skipped_total",
			Help: "Candidate elements not analyzed.",
		}, []string{"check", "reason"}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalpel_audit_remote_file_probes_total",
			Help: "Remote file probes by outcome.",
		}, []string{"outcome"}),
		restores: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalpel_audit_dom_restores_total",
			Help: "DOM state restores by outcome.",
		}, []string{"outcome"}),
	}

	for _, c := range []prometheus.Collector{m.issuesRegistered, m.issuesDropped, m.elementsSkipped, m.probes, m.restores} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering audit metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) IssuesRegistered(check string, n int) {
	if m == nil {
		return
	}
	m.issuesRegistered.WithLabelValues(check).Add(float64(n))
}

func (m *Metrics) IssuesDropped(check string, n int) {
	if m == nil {
		return
	}
	m.issuesDropped.WithLabelValues(check).Add(float64(n))
}

// ElementSkipped counts an element left out of analysis for reason.
func (m *Metrics) ElementSkipped(check, reason string) {
	if m == nil {
		return
	}
	m.elementsSkipped.WithLabelValues(check, reason).Inc()
}

func (m *Metrics) Probe(outcome string) {
	if m == nil {
		return
	}
	m.probes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Restore(outcome string) {
	if m == nil {
		return
	}
	m.restores.WithLabelValues(outcome).Inc()
}
