package cmd

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xkilldash9x/scalpel-audit/internal/observability"
)

const metricsKey contextKey = "metrics"

// metricsSink holds the counters of one command run. When path is set they
// are written there in the Prometheus text format once the command succeeds,
// for pickup by a node_exporter textfile collector.
type metricsSink struct {
	reg     *prometheus.Registry
	metrics *observability.Metrics
	path    string
}

func newMetricsSink(path string) (*metricsSink, error) {
	reg := prometheus.NewRegistry()
	m, err := observability.NewMetrics(reg)
	if err != nil {
		return nil, err
	}
	return &metricsSink{reg: reg, metrics: m, path: path}, nil
}

func (s *metricsSink) write() error {
	if s == nil || s.path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(s.path, s.reg); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}

// metricsFromContext returns the run's counters, or nil when the root
// command's setup did not run. A nil *Metrics records nothing.
func metricsFromContext(ctx context.Context) *observability.Metrics {
	s, ok := ctx.Value(metricsKey).(*metricsSink)
	if !ok || s == nil {
		return nil
	}
	return s.metrics
}
