package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the engine's Prometheus instruments, exposed on /metrics.
type Metrics struct {
	CurrentCycleID    prometheus.Gauge
	ChainCycleID      prometheus.Gauge
	SlipCount         prometheus.Gauge
	PrizePoolWei      prometheus.Gauge
	UnresolvedCycles  prometheus.Gauge
	ChecksRun         *prometheus.CounterVec
	AlertsRaised      *prometheus.CounterVec
	ResolutionDelayHr prometheus.Gauge
}

// NewMetrics registers the instruments on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CurrentCycleID: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "oddyssey", Name: "current_cycle_id",
			Help: "Cycle id of the store's current cycle.",
		}),
		ChainCycleID: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "oddyssey", Name: "chain_cycle_id",
			Help: "Cycle id the contract reports as current.",
		}),
		SlipCount: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "oddyssey", Name: "current_cycle_slips",
			Help: "Slips placed in the current cycle.",
		}),
		PrizePoolWei: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "oddyssey", Name: "current_cycle_prize_pool_wei",
			Help: "Prize pool of the current cycle in wei.",
		}),
		UnresolvedCycles: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "oddyssey", Name: "unresolved_cycles",
			Help: "Published cycles past their end time awaiting resolution.",
		}),
		ChecksRun: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oddyssey", Name: "monitor_checks_total",
			Help: "Monitor checks run, by check and outcome.",
		}, []string{"check", "outcome"}),
		AlertsRaised: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oddyssey", Name: "monitor_alerts_total",
			Help: "Alerts raised, by check and severity.",
		}, []string{"check", "severity"}),
		ResolutionDelayHr: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "oddyssey", Name: "resolution_delay_hours",
			Help: "Hours the oldest unresolved cycle has waited past its last kickoff.",
		}),
	}
}
