// Package metrics exposes bandit and HTTP counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fractal-lba/bayesbandit/pkg/bandit"
)

// Metrics holds all Prometheus collectors for the daemon
type Metrics struct {
	// Bandit activity, labeled by bandit and arm
	Pulls          *prometheus.CounterVec
	Updates        *prometheus.CounterVec
	Rejected       *prometheus.CounterVec
	ObservedValues *prometheus.HistogramVec
	PosteriorMean  *prometheus.GaugeVec
	PendingTickets *prometheus.GaugeVec

	// Reconciliation outcomes
	ReconciledArms *prometheus.CounterVec
	DroppedTickets *prometheus.CounterVec
	Diagnostics    *prometheus.CounterVec

	// Persistence
	Checkpoints *prometheus.CounterVec

	// Transport
	HTTPRequests *prometheus.CounterVec
}

// New creates all collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		Pulls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bandit_pulls_total",
				Help: "Number of successful arm pulls",
			},
			[]string{"bandit", "arm"},
		),
		Updates: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bandit_updates_total",
				Help: "Number of observations applied to an arm",
			},
			[]string{"bandit", "arm"},
		),
		Rejected: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bandit_rejected_observations_total",
				Help: "Number of observations the arm's learner refused",
			},
			[]string{"bandit", "arm"},
		),
		ObservedValues: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bandit_observed_value",
				Help:    "Raw observed values before reward shaping",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
			},
			[]string{"bandit", "arm"},
		),
		PosteriorMean: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bandit_posterior_mean",
				Help: "Posterior mean of each arm's reward model",
			},
			[]string{"bandit", "arm"},
		),
		PendingTickets: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bandit_pending_tickets",
				Help: "Delayed-reward pulls awaiting an update",
			},
			[]string{"bandit"},
		),
		ReconciledArms: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bandit_reconciled_arms_total",
				Help: "Arms seen during reconciliation by outcome (retained, cold_started, dropped)",
			},
			[]string{"bandit", "outcome"},
		),
		DroppedTickets: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bandit_dropped_tickets_total",
				Help: "Pending tickets discarded with their dropped arm",
			},
			[]string{"bandit"},
		),
		Diagnostics: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bandit_reconcile_diagnostics_total",
				Help: "Reconciliation diagnostics by code",
			},
			[]string{"bandit", "code"},
		),
		Checkpoints: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bandit_checkpoints_total",
				Help: "Snapshot saves by result (ok, error)",
			},
			[]string{"bandit", "result"},
		),
		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bandit_http_requests_total",
				Help: "HTTP requests by route and status code",
			},
			[]string{"route", "code"},
		),
	}
}

// Observer returns a bandit.Observer that records events for banditName
func (m *Metrics) Observer(banditName string) bandit.Observer {
	return &observer{m: m, bandit: banditName}
}

type observer struct {
	m      *Metrics
	bandit string
}

func (o *observer) ArmPulled(arm string) {
	o.m.Pulls.WithLabelValues(o.bandit, arm).Inc()
}

func (o *observer) ArmUpdated(arm string, raw float64) {
	o.m.Updates.WithLabelValues(o.bandit, arm).Inc()
	o.m.ObservedValues.WithLabelValues(o.bandit, arm).Observe(raw)
}

func (o *observer) ObservationRejected(arm string, _ error) {
	o.m.Rejected.WithLabelValues(o.bandit, arm).Inc()
}

func (o *observer) Reconciled(report *bandit.Report) {
	o.m.ReconciledArms.WithLabelValues(o.bandit, "retained").Add(float64(len(report.Retained)))
	o.m.ReconciledArms.WithLabelValues(o.bandit, "cold_started").Add(float64(len(report.ColdStarted)))
	o.m.ReconciledArms.WithLabelValues(o.bandit, "dropped").Add(float64(len(report.Dropped)))
	o.m.DroppedTickets.WithLabelValues(o.bandit).Add(float64(report.DroppedTickets))

	for _, d := range report.Diagnostics {
		o.m.Diagnostics.WithLabelValues(o.bandit, string(d.Code)).Inc()
	}

	// Dropped arms no longer report a posterior
	for _, arm := range report.Dropped {
		o.m.PosteriorMean.DeleteLabelValues(o.bandit, arm)
	}
}
