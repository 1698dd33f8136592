package rollout

import (
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	"github.com/georchestra/datadirsync-k8s-agent/pkg/metrics"
)

var (
	restartDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "datadirsync",
		Subsystem: "rollout",
		Name:      "restart_duration_seconds",
		Help:      "Duration of deployment restart API calls, in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{metrics.LabelSuccess})
)
