// Package metrics defines the Prometheus collectors the ledger exports.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "splitledger"

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	EntriesAppended       *prometheus.CounterVec
	InvitationTransitions *prometheus.CounterVec
	DomainErrors          *prometheus.CounterVec
	RPCDuration           *prometheus.HistogramVec
	ProjectionReplayed    prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EntriesAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_appended_total",
			Help:      "Ledger entries appended, by kind.",
		}, []string{"kind"}),
		InvitationTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invitation_transitions_total",
			Help:      "Invitation state changes, by resulting status.",
		}, []string{"status"}),
		DomainErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "domain_errors_total",
			Help:      "Rejected operations, by error kind.",
		}, []string{"kind"}),
		RPCDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_duration_seconds",
			Help:      "RPC handling time, by procedure and result code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"procedure", "code"}),
		ProjectionReplayed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "balance_replay_entries",
			Help:      "Entries folded on top of the cached checkpoint per balance read.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}
	reg.MustRegister(m.EntriesAppended, m.InvitationTransitions, m.DomainErrors, m.RPCDuration, m.ProjectionReplayed)
	return m
}

// EntryAppended counts a committed entry.
func (m *Metrics) EntryAppended(kind string) {
	if m == nil {
		return
	}
	m.EntriesAppended.WithLabelValues(kind).Inc()
}

// InvitationTransitioned counts an invitation reaching status.
func (m *Metrics) InvitationTransitioned(status string) {
	if m == nil {
		return
	}
	m.InvitationTransitions.WithLabelValues(status).Inc()
}

// DomainError counts a rejected operation.
func (m *Metrics) DomainError(kind string) {
	if m == nil {
		return
	}
	m.DomainErrors.WithLabelValues(kind).Inc()
}

// ObserveRPC records one RPC.
func (m *Metrics) ObserveRPC(procedure, code string, seconds float64) {
	if m == nil {
		return
	}
	m.RPCDuration.WithLabelValues(procedure, code).Observe(seconds)
}

// Replayed records how many entries a balance read folded.
func (m *Metrics) Replayed(n int) {
	if m == nil {
		return
	}
	m.ProjectionReplayed.Observe(float64(n))
}
