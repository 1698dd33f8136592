package daemon

import (
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	"github.com/georchestra/datadirsync-k8s-agent/pkg/metrics"
)

var (
	// A cycle is usually a no-op fetch; long ones are first clones or
	// cycles with many rollouts.
	cycleDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "datadirsync",
		Subsystem: "daemon",
		Name:      "cycle_duration_seconds",
		Help:      "Duration of one sync-resolve-trigger cycle, in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	}, []string{metrics.LabelSuccess})

	changedPaths = prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
		Namespace: "datadirsync",
		Subsystem: "daemon",
		Name:      "changed_paths",
		Help:      "Number of changed paths observed in the last cycle.",
	}, []string{})

	pendingRetries = prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
		Namespace: "datadirsync",
		Subsystem: "daemon",
		Name:      "pending_retries",
		Help:      "Targets whose restart failed and will be retried next cycle.",
	}, []string{})
)
