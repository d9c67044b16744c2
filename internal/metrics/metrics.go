// Package metrics exposes the counters served on the health endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SpamSuppressions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flexguard_spam_suppressions_total",
		Help: "Message bursts suppressed by the anti-spam detector.",
	})

	SweepTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flexguard_sweep_ticks_total",
		Help: "Expiry scheduler sweeps executed.",
	})

	ExpiredEntities = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flexguard_expired_entities_total",
		Help: "Temporal entities moved to a terminal status by the sweep.",
	}, []string{"kind", "status"})

	ReportsFiled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flexguard_reports_filed_total",
		Help: "Reports appended to a guild report sequence.",
	})

	ActionsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flexguard_actions_dispatched_total",
		Help: "Moderation actions executed through the dispatcher.",
	}, []string{"kind", "outcome"})
)
