// Package metrics holds the Prometheus collectors of the contacts engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the engine's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	// Commits counts outermost transactions that committed.
	Commits prometheus.Counter
	// Rollbacks counts outermost transactions that rolled back.
	Rollbacks prometheus.Counter
	// Retries counts lock-conflict retries by phase (begin, commit).
	Retries *prometheus.CounterVec
	// LockFailures counts phases that exhausted the retry budget.
	LockFailures *prometheus.CounterVec
	// Notifications counts subscriber callbacks delivered per view.
	Notifications *prometheus.CounterVec
	// SubscriberPanics counts callbacks that panicked.
	SubscriberPanics prometheus.Counter
	// Denials counts access checks refused per capability.
	Denials *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Commits: f.NewCounter(prometheus.CounterOpts{
			Name: "contactsd_txn_commits_total",
			Help: "Total number of committed outermost transactions",
		}),
		Rollbacks: f.NewCounter(prometheus.CounterOpts{
			Name: "contactsd_txn_rollbacks_total",
			Help: "Total number of rolled back outermost transactions",
		}),
		Retries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "contactsd_txn_lock_retries_total",
			Help: "Total number of retries after a storage lock conflict",
		}, []string{"phase"}),
		LockFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "contactsd_txn_lock_failures_total",
			Help: "Total number of transaction phases that gave up on a held lock",
		}, []string{"phase"}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "contactsd_notifications_total",
			Help: "Total number of change notifications delivered to subscribers",
		}, []string{"view"}),
		SubscriberPanics: f.NewCounter(prometheus.CounterOpts{
			Name: "contactsd_subscriber_panics_total",
			Help: "Total number of subscriber callbacks that panicked",
		}),
		Denials: f.NewCounterVec(prometheus.CounterOpts{
			Name: "contactsd_access_denials_total",
			Help: "Total number of refused access checks",
		}, []string{"capability"}),
	}
}

// Unregistered returns collectors attached to a private registry, for
// callers that do not export metrics.
func Unregistered() *Metrics {
	return New(prometheus.NewRegistry())
}

// Commit records a successful outermost commit.
func (m *Metrics) Commit() {
	if m != nil {
		m.Commits.Inc()
	}
}

// Rollback records an outermost rollback.
func (m *Metrics) Rollback() {
	if m != nil {
		m.Rollbacks.Inc()
	}
}

// Retry records one lock-conflict retry in phase.
func (m *Metrics) Retry(phase string) {
	if m != nil {
		m.Retries.WithLabelValues(phase).Inc()
	}
}

// LockFailure records a phase that ran out of retries.
func (m *Metrics) LockFailure(phase string) {
	if m != nil {
		m.LockFailures.WithLabelValues(phase).Inc()
	}
}

// Notified records a delivered callback for view.
func (m *Metrics) Notified(view string) {
	if m != nil {
		m.Notifications.WithLabelValues(view).Inc()
	}
}

// SubscriberPanic records a recovered callback panic.
func (m *Metrics) SubscriberPanic() {
	if m != nil {
		m.SubscriberPanics.Inc()
	}
}

// Denied records a refused access check.
func (m *Metrics) Denied(capability string) {
	if m != nil {
		m.Denials.WithLabelValues(capability).Inc()
	}
}
