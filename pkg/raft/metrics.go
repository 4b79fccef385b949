package raft

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors the replication core exposes.
// Registering them is left to the operational shell (cmd/replicad), which
// owns the process's registry and HTTP exposition.
type Metrics struct {
	CurrentTerm    prometheus.Gauge
	CommitIndex    prometheus.Gauge
	LastApplied    prometheus.Gauge
	RoleState      *prometheus.GaugeVec
	AppendRequests *prometheus.CounterVec
	ElectionsTotal prometheus.Counter
	ApplyLatency   prometheus.Histogram
}

// NewMetrics constructs the core's metrics, labeled with the local node id
// so a shared scrape target can distinguish servers in a multi-process test
// harness.
func NewMetrics(nodeID NodeID) *Metrics {
	labels := prometheus.Labels{"node_id": string(nodeID)}
	return &Metrics{
		CurrentTerm: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "raft",
			Name:        "current_term",
			Help:        "Current term observed by this server.",
			ConstLabels: labels,
		}),
		CommitIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "raft",
			Name:        "commit_index",
			Help:        "Highest log index known committed.",
			ConstLabels: labels,
		}),
		LastApplied: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "raft",
			Name:        "last_applied",
			Help:        "Highest log index applied to the state machine.",
			ConstLabels: labels,
		}),
		RoleState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "raft",
			Name:        "role_state",
			Help:        "1 for the role this server currently occupies, 0 otherwise.",
			ConstLabels: labels,
		}, []string{"role"}),
		AppendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "raft",
			Name:        "append_requests_total",
			Help:        "AppendRequests handled, partitioned by outcome.",
			ConstLabels: labels,
		}, []string{"succeeded"}),
		ElectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "raft",
			Name:        "elections_total",
			Help:        "Number of elections this server has started as candidate.",
			ConstLabels: labels,
		}),
		ApplyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "raft",
			Name:        "apply_latency_seconds",
			Help:        "Latency of a single state machine Apply call.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
	}
}

// Register adds every collector to reg, ignoring AlreadyRegisteredError so a
// test harness can construct multiple in-process servers against a shared
// registry without panicking.
func (m *Metrics) Register(reg prometheus.Registerer) {
	for _, c := range []prometheus.Collector{
		m.CurrentTerm, m.CommitIndex, m.LastApplied, m.RoleState, m.AppendRequests, m.ElectionsTotal, m.ApplyLatency,
	} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}
}

// Observe snapshots the server's current term/commit/applied/role gauges.
// Called after any mailbox closure that might have changed them.
func (m *Metrics) Observe(ctx *ServerContext) {
	m.CurrentTerm.Set(float64(ctx.currentTerm))
	m.CommitIndex.Set(float64(ctx.commitIndex))
	m.LastApplied.Set(float64(ctx.executor.LastApplied()))
	for _, r := range []RoleName{RoleReserve, RolePassive, RoleFollower, RoleCandidate, RoleLeader} {
		v := 0.0
		if ctx.role.Name() == r {
			v = 1.0
		}
		m.RoleState.WithLabelValues(r.String()).Set(v)
	}
}
