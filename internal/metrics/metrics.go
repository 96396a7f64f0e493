// Package metrics records per-run gauges and pushes them to a Prometheus
// Pushgateway. Batch runs are too short-lived to be scraped.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const DefaultJob = "coesg_data"

type RunStats struct {
	RecordsFetched int
	Rounds         int
	Published      bool
	Failed         bool
	Duration       time.Duration
	FinishedAt     time.Time
}

type Recorder struct {
	registry *prometheus.Registry
	pushURL  string
	job      string

	recordsFetched prometheus.Gauge
	rounds         prometheus.Gauge
	published      prometheus.Gauge
	failed         prometheus.Gauge
	duration       prometheus.Gauge
	lastSuccess    prometheus.Gauge
}

// NewRecorder builds a recorder on a private registry. An empty pushURL turns
// Push into a no-op.
func NewRecorder(pushURL, job string) *Recorder {
	if job == "" {
		job = DefaultJob
	}
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		pushURL:  pushURL,
		job:      job,
		recordsFetched: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coe_records_fetched",
			Help: "Upstream bid records fetched in the last run.",
		}),
		rounds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coe_rounds_total",
			Help: "Bidding rounds in the last generated history.",
		}),
		published: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coe_published",
			Help: "1 if the last run published changed artifacts.",
		}),
		failed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coe_run_failed",
			Help: "1 if the last run aborted with an error.",
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coe_run_duration_seconds",
			Help: "Wall time of the last run.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coe_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run.",
		}),
	}
	r.registry.MustRegister(r.recordsFetched, r.rounds, r.published, r.failed, r.duration, r.lastSuccess)
	return r
}

func (r *Recorder) Observe(s RunStats) {
	r.recordsFetched.Set(float64(s.RecordsFetched))
	r.rounds.Set(float64(s.Rounds))
	r.published.Set(boolGauge(s.Published))
	r.failed.Set(boolGauge(s.Failed))
	r.duration.Set(s.Duration.Seconds())
	if !s.Failed {
		r.lastSuccess.Set(float64(s.FinishedAt.Unix()))
	}
}

// Push replaces this job's metric group on the gateway.
func (r *Recorder) Push(ctx context.Context) error {
	if r.pushURL == "" {
		return nil
	}
	if err := push.New(r.pushURL, r.job).Gatherer(r.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}

// Enabled reports whether Push has a gateway to send to.
func (r *Recorder) Enabled() bool {
	return r.pushURL != ""
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
