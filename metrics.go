package netsim

//
// Prometheus instrumentation
//

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector a running Scenario can update. The
// zero value is not usable; build one with NewMetrics.
type Metrics struct {
	FlowsCompleted   prometheus.Counter
	Rebalances       prometheus.Counter
	MessagesSent     *prometheus.CounterVec
	LinkUtilization  *prometheus.GaugeVec
}

// NewMetrics registers netsim's collectors against reg and returns the
// handle used to update them. Pass prometheus.NewRegistry() for test
// isolation, or prometheus.DefaultRegisterer for a process-wide
// /metrics endpoint.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		FlowsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "netsim_flows_completed_total",
			Help: "Total number of Flows that finished transmitting all their bytes.",
		}),
		Rebalances: factory.NewCounter(prometheus.CounterOpts{
			Name: "netsim_rebalance_total",
			Help: "Total number of max-min fair rebalance passes run over a Link's affected subnet.",
		}),
		MessagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "netsim_messages_sent_total",
			Help: "Total number of Messages sent through the Protocol, labeled by message kind.",
		}, []string{"kind"}),
		LinkUtilization: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "netsim_link_utilization_ratio",
			Help: "Fraction of a Link's nominal bandwidth currently allocated to flows, labeled by link tag.",
		}, []string{"link"}),
	}
}

// observeLinkUtilization records l's current utilization ratio (sum of
// allocated Mbit/s over nominal Bandwidth) under l's "name" tag, or its
// label if untagged.
func (m *Metrics) observeLinkUtilization(l *Link) {
	if m == nil {
		return
	}
	var allocated float64
	for _, v := range l.allocation {
		allocated += v
	}
	label := l.Tags["name"]
	if label == "" {
		label = l.label
	}
	ratio := 0.0
	if l.Bandwidth > 0 {
		ratio = allocated / l.Bandwidth
	}
	m.LinkUtilization.WithLabelValues(label).Set(ratio)
}

// observeRebalance increments the rebalance counter and refreshes the
// utilization gauge for every link the rebalance touched.
func (m *Metrics) observeRebalance(affectedLinks map[*Link]bool) {
	if m == nil {
		return
	}
	m.Rebalances.Inc()
	for l := range affectedLinks {
		m.observeLinkUtilization(l)
	}
}

// observeFlowCompleted increments the flows-completed counter.
func (m *Metrics) observeFlowCompleted() {
	if m == nil {
		return
	}
	m.FlowsCompleted.Inc()
}

// observeMessageSent increments the per-kind message counter.
func (m *Metrics) observeMessageSent(kind MessageKind) {
	if m == nil {
		return
	}
	m.MessagesSent.WithLabelValues(string(kind)).Inc()
}
