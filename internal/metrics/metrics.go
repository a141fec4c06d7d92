// Package metrics counts what a processing run did and can export the
// counters to a node_exporter textfile.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds the counters of one run. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	registry *prometheus.Registry

	EmailsFetched   prometheus.Counter
	EmailsSkipped   prometheus.Counter
	EmailsProcessed prometheus.Counter
	EmailsFailed    prometheus.Counter
	FetchFailures   prometheus.Counter
	RuleMatches     *prometheus.CounterVec
	Actions         *prometheus.CounterVec
	LastRunSuccess  prometheus.Gauge
}

// New builds a Recorder on its own registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		EmailsFetched: factory.NewCounter(prometheus.CounterOpts{
			Name: "inboxrules_emails_fetched_total",
			Help: "Emails fetched from Gmail",
		}),
		EmailsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "inboxrules_emails_skipped_total",
			Help: "Emails skipped because an earlier run processed them",
		}),
		EmailsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "inboxrules_emails_processed_total",
			Help: "Emails evaluated and recorded as processed",
		}),
		EmailsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "inboxrules_emails_failed_total",
			Help: "Emails left unprocessed because an action failed",
		}),
		FetchFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "inboxrules_fetch_failures_total",
			Help: "Listed messages that could not be loaded",
		}),
		RuleMatches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "inboxrules_rule_matches_total",
			Help: "Emails matched per rule",
		}, []string{"rule"}),
		Actions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "inboxrules_actions_total",
			Help: "Actions dispatched by type and result",
		}, []string{"action", "result"}),
		LastRunSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name: "inboxrules_last_run_success",
			Help: "1 if the last run finished without error",
		}),
	}
}

func (r *Recorder) Fetched(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.EmailsFetched.Add(float64(n))
}

func (r *Recorder) FetchFailed(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.FetchFailures.Add(float64(n))
}

func (r *Recorder) Skipped() {
	if r != nil {
		r.EmailsSkipped.Inc()
	}
}

func (r *Recorder) Processed() {
	if r != nil {
		r.EmailsProcessed.Inc()
	}
}

func (r *Recorder) Failed() {
	if r != nil {
		r.EmailsFailed.Inc()
	}
}

func (r *Recorder) Matched(rule string) {
	if r != nil {
		r.RuleMatches.WithLabelValues(rule).Inc()
	}
}

// Action counts one dispatched action; ok selects the "applied" or "failed"
// result label.
func (r *Recorder) Action(actionType string, ok bool) {
	if r == nil {
		return
	}
	result := "applied"
	if !ok {
		result = "failed"
	}
	r.Actions.WithLabelValues(actionType, result).Inc()
}

// Finished sets the last-run gauge.
func (r *Recorder) Finished(err error) {
	if r == nil {
		return
	}
	if err != nil {
		r.LastRunSuccess.Set(0)
		return
	}
	r.LastRunSuccess.Set(1)
}

// Gatherer exposes the registry, mainly for tests.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// WriteTextfile writes all counters in the Prometheus text format, atomically
// replacing path.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}
