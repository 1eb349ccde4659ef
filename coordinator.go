package netsim

//
// CoordinatorProcess: broker-assignment hysteresis and QoS monitoring
//

import "math"

// coordinatorLatencyGroupBoundaries are the fixed bucket edges
// (milliseconds) brokers are grouped into; the last bucket is
// implicitly [1000, +Inf).
var coordinatorLatencyGroupBoundaries = []float64{0, 2, 5, 10, 20, 50, 100, 200, 500, 1000}

// coordinatorTheta is the hysteresis fraction: a reassignment only fires
// once the incumbent's subscriber total exceeds the candidate's by more
// than theta times the candidate group's aggregate subscriber count.
const coordinatorTheta = 0.1

// CoordinatorProcess periodically recomputes, for every client, the
// lowest-latency group of running brokers (by sampled latency, and
// separately by coordinate distance when Vivaldi is enabled) and issues
// a ReconnectRequest when the least-loaded candidate clears the
// hysteresis threshold against the client's current broker.
type CoordinatorProcess struct {
	*NodeProcess

	topology       *Topology
	useCoordinates bool
	Registry       *BrokerRegistry
	Clients        *ClientRegistry
}

// NewCoordinatorProcess creates a CoordinatorProcess overseeing the
// brokers and clients registered in registry and clients, both shared
// by reference so members spawned after the coordinator still fall
// under its purview. useCoordinates selects Vivaldi-distance group
// membership for "possible" brokers in addition to sampled-latency
// "optimal" brokers; when false, possible and optimal groups coincide.
func NewCoordinatorProcess(env *Environment, topology *Topology, protocol *Protocol, node *Node, registry *BrokerRegistry, clients *ClientRegistry, useCoordinates bool, rnd *RandSource, logger Logger) *CoordinatorProcess {
	return &CoordinatorProcess{
		NodeProcess:    newNodeProcess(env, protocol, node, false, rnd, logger),
		topology:       topology,
		useCoordinates: useCoordinates,
		Registry:       registry,
		Clients:        clients,
	}
}

// Run spawns the coordinator's reconnect-evaluation loop: every 15s
// virtual time it reassesses every client's broker assignment (spec
// §4.6).
func (cp *CoordinatorProcess) Run() *Process {
	return cp.env.Spawn("coordinator("+cp.node.Name+")", func(p *Process) {
		for {
			cp.doReconnect(p)
			p.Timeout(15)
		}
	})
}

// RunMonitoring spawns the optional periodic QoS-measurement loop: every
// 15s virtual time it asks each client to ping every running broker.
// It runs as its own process,
// independent of (and concurrent with) Run's, so it must never touch
// Run's Process: every Send/Receive here goes through the explicit-
// process SendOn/ReceiveOn variants with this goroutine's own p.
func (cp *CoordinatorProcess) RunMonitoring() *Process {
	return cp.env.Spawn("monitor("+cp.node.Name+")", func(p *Process) {
		for {
			for _, client := range cp.Clients.Clients {
				cp.doMonitoring(p, client)
			}
			p.Timeout(15)
		}
	})
}

// doMonitoring asks client, via QoSRequest/QoSResponse, to measure its
// RTT to every currently-running broker.
func (cp *CoordinatorProcess) doMonitoring(p *Process, client *ClientProcess) {
	for _, b := range cp.Registry.Running() {
		cp.SendOn(p, client.Node(), &Message{Kind: KindQoSRequest, Target: b.Node()})
		cp.ReceiveOn(p, KindQoSResponse)
	}
}

// doReconnect runs one reassignment pass over every client.
func (cp *CoordinatorProcess) doReconnect(p *Process) {
	for _, client := range cp.Clients.Clients {
		currentBroker := cp.brokerFor(client.SelectedBroker)

		optimalBrokers := cp.brokersInLowestLatencyGroup(client.Node(), false)
		if len(optimalBrokers) == 0 {
			continue
		}

		possibleBrokers := optimalBrokers
		if cp.useCoordinates {
			possibleBrokers = cp.brokersInLowestLatencyGroup(client.Node(), true)
		}

		newBroker := argminTotalSubscribers(possibleBrokers)
		optimalBroker := argminTotalSubscribers(optimalBrokers)
		if newBroker == currentBroker {
			continue
		}

		if containsBroker(possibleBrokers, currentBroker) {
			delta := coordinatorTheta * float64(sumTotalSubscribers(possibleBrokers))
			if float64(newBroker.TotalSubscribers())+delta >= float64(currentBroker.TotalSubscribers()) {
				cp.logger.Debugf("keeping %s on %s: %s not ahead by more than %.1f subscribers",
					client.Node().Name, currentBroker.Node().Name, newBroker.Node().Name, delta)
				continue
			}
		}

		cp.logger.Infof("reassigning %s from %s to %s (optimal %s)",
			client.Node().Name, client.SelectedBroker.Name, newBroker.Node().Name, optimalBroker.Node().Name)
		cp.SendOn(p, client.Node(), &Message{Kind: KindReconnectRequest, NewBroker: newBroker.Node(), OptimalBroker: optimalBroker.Node()})
		if cp.protocol.AcksEnabled() {
			cp.ReceiveOn(p, KindReconnectAck)
		}
	}
}

// brokerFor returns the BrokerProcess whose Node is node, or nil.
func (cp *CoordinatorProcess) brokerFor(node *Node) *BrokerProcess {
	for _, b := range cp.Registry.Brokers {
		if b.Node() == node {
			return b
		}
	}
	return nil
}

// brokersInLowestLatencyGroup returns every running broker falling in
// the first non-empty fixed latency bucket, measured either by sampled
// route latency or by Vivaldi coordinate distance.
func (cp *CoordinatorProcess) brokersInLowestLatencyGroup(node *Node, useCoordinates bool) []*BrokerProcess {
	type measured struct {
		broker  *BrokerProcess
		latency float64
	}

	var running []measured
	for _, b := range cp.Registry.Running() {
		l, err := cp.topology.Latency(node, b.Node(), useCoordinates, cp.rnd)
		if err != nil {
			continue
		}
		running = append(running, measured{broker: b, latency: l})
	}

	bounds := append(append([]float64{}, coordinatorLatencyGroupBoundaries...), math.Inf(1))
	low := 0.0
	for _, high := range bounds {
		var group []*BrokerProcess
		for _, m := range running {
			if m.latency >= low && m.latency < high {
				group = append(group, m.broker)
			}
		}
		if len(group) > 0 {
			return group
		}
		low = high
	}
	return nil
}

// argminTotalSubscribers returns the broker in brokers with the fewest
// total subscribers, or nil if brokers is empty.
func argminTotalSubscribers(brokers []*BrokerProcess) *BrokerProcess {
	var best *BrokerProcess
	bestCount := 0
	for _, b := range brokers {
		if best == nil || b.TotalSubscribers() < bestCount {
			best = b
			bestCount = b.TotalSubscribers()
		}
	}
	return best
}

// sumTotalSubscribers sums TotalSubscribers across brokers.
func sumTotalSubscribers(brokers []*BrokerProcess) int {
	total := 0
	for _, b := range brokers {
		total += b.TotalSubscribers()
	}
	return total
}

// containsBroker reports whether target is present in brokers.
func containsBroker(brokers []*BrokerProcess, target *BrokerProcess) bool {
	if target == nil {
		return false
	}
	for _, b := range brokers {
		if b == target {
			return true
		}
	}
	return false
}
