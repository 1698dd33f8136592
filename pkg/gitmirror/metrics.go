package gitmirror

import (
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	"github.com/georchestra/datadirsync-k8s-agent/pkg/metrics"
)

const (
	MetricRepoReady   = 1
	MetricRepoUnready = 0
)

var (
	repoReady = prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
		Namespace: "datadirsync",
		Subsystem: "git",
		Name:      "ready",
		Help:      "Status of the git repository mirror.",
	}, []string{})

	// Fetches of a config repo are small; anything over a few seconds
	// is the network, not the payload.
	fetchDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "datadirsync",
		Subsystem: "git",
		Name:      "fetch_duration_seconds",
		Help:      "Duration of git fetch from the upstream repository, in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30},
	}, []string{metrics.LabelSuccess})
)
