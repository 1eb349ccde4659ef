package netsim

//
// ClientProcess: the EMMA overlay's subscribing/publishing endpoint
//

// pingBatch is how many brokers pingRandomBrokers/pingClosestBrokers
// sample per round.
const pingBatch = 5

// pingLoopGap is the virtual-time gap between a random-broker ping round
// and a closest-broker ping round.
const pingLoopGap = 30.0

// ClientRegistry is the shared, mutable list of every ClientProcess in
// a scenario, handed by reference to the coordinator so clients spawned
// after it are still visible to its reconnect and monitoring loops
// (the counterpart of [BrokerRegistry], for the same reason).
type ClientRegistry struct {
	Clients []*ClientProcess
}

// NewClientRegistry creates an empty, growable ClientRegistry.
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{}
}

// Add appends cp to the registry.
func (r *ClientRegistry) Add(cp *ClientProcess) {
	r.Clients = append(r.Clients, cp)
}

// ClientProcess is a client of the pub/sub overlay: it maintains a
// topic subscription set against a single selected broker, publishes
// on a schedule, and reacts to coordinator-driven reassignment.
type ClientProcess struct {
	*NodeProcess

	SelectedBroker *Node
	Subscriptions  map[string]bool
}

// NewClientProcess creates a ClientProcess for node, initially
// connected to initialBroker.
func NewClientProcess(env *Environment, protocol *Protocol, node *Node, initialBroker *Node, executeVivaldi bool, rnd *RandSource, logger Logger) *ClientProcess {
	cp := &ClientProcess{
		NodeProcess:    newNodeProcess(env, protocol, node, executeVivaldi, rnd, logger),
		SelectedBroker: initialBroker,
		Subscriptions:  map[string]bool{},
	}
	cp.handlers[KindReconnectRequest] = cp.handleReconnectRequest
	cp.handlers[KindPub] = cp.handlePublish
	cp.handlers[KindQoSRequest] = cp.handleQoSRequest
	return cp
}

// Run spawns the client's receive loop.
func (cp *ClientProcess) Run() *Process {
	return cp.env.Spawn("client("+cp.node.Name+")", cp.runLoop)
}

// handleReconnectRequest migrates every current subscription from the
// old broker to msg.NewBroker, then updates SelectedBroker. It runs
// synchronously inside runLoop, so its Send/Receive calls use the
// loop's own Process. With acks disabled it never suspends, so the
// whole migration happens at one virtual instant; with acks enabled
// each Receive suspends the loop for a round trip, and other processes
// (publishers, for example) run in between.
func (cp *ClientProcess) handleReconnectRequest(msg *Message) {
	oldBroker := cp.SelectedBroker
	for topic := range cp.Subscriptions {
		cp.Send(msg.NewBroker, &Message{Kind: KindSub, Topic: topic})
		if cp.protocol.AcksEnabled() {
			cp.Receive(KindSubAck)
		}
		cp.Send(oldBroker, &Message{Kind: KindUnsub, Topic: topic})
		if cp.protocol.AcksEnabled() {
			cp.Receive(KindUnsubAck)
		}
	}
	cp.SelectedBroker = msg.NewBroker
	if cp.protocol.AcksEnabled() {
		cp.Send(msg.Source, &Message{Kind: KindReconnectAck})
	}
}

// handleQoSRequest spawns a dedicated sub-process to ping msg.Target and
// report the average RTT back to the requester, so the main receive
// loop stays free to handle other messages while the 10 pings run.
func (cp *ClientProcess) handleQoSRequest(msg *Message) {
	target, requester := msg.Target, msg.Source
	cp.env.Spawn("qos("+cp.node.Name+")", func(p *Process) {
		avgs := cp.pingNodes(p, []*Node{target}, 10, 0.25)
		cp.SendOn(p, requester, &Message{Kind: KindQoSResponse, AvgRTT: avgs[target]})
	})
}

// handlePublish acknowledges an inbound Pub when acks are enabled;
// clients are leaves of the fan-out tree so there is nothing further
// to forward.
func (cp *ClientProcess) handlePublish(msg *Message) {
	if cp.protocol.AcksEnabled() {
		cp.Send(msg.Source, &Message{Kind: KindPubAck})
	}
}

// Subscribe registers topic locally and sends Sub to the selected
// broker, waiting for SubAck if acks are enabled.
func (cp *ClientProcess) Subscribe(topic string) *Process {
	return cp.env.Spawn("subscribe("+cp.node.Name+","+topic+")", func(p *Process) {
		cp.Subscriptions[topic] = true
		cp.SendOn(p, cp.SelectedBroker, &Message{Kind: KindSub, Topic: topic})
		if cp.protocol.AcksEnabled() {
			cp.ReceiveOn(p, KindSubAck)
		}
	})
}

// RunPublisher repeatedly publishes to topic every interval seconds
// until the client shuts down.
func (cp *ClientProcess) RunPublisher(topic string, interval float64) *Process {
	return cp.env.Spawn("publisher("+cp.node.Name+","+topic+")", func(p *Process) {
		for cp.running {
			cp.SendOn(p, cp.SelectedBroker, &Message{
				Kind:      KindPub,
				Topic:     topic,
				Data:      cp.env.Now(),
				FirstSent: cp.env.Now() * 1000,
			})
			if cp.protocol.AcksEnabled() {
				cp.ReceiveOn(p, KindPubAck)
			}
			p.Timeout(interval)
		}
	})
}

// RunPingLoop alternates, every pingLoopGap seconds, between pinging a
// batch of brokers returned by FindRandomBrokersRequest and a batch
// returned by FindClosestBrokersRequest. When Vivaldi is enabled the
// resulting Ping traffic feeds the pinged brokers' coordinate updates
// through their own receive loops.
func (cp *ClientProcess) RunPingLoop() *Process {
	return cp.env.Spawn("pingloop("+cp.node.Name+")", func(p *Process) {
		for cp.running {
			cp.pingRandomBrokers(p)
			p.Timeout(pingLoopGap)
			cp.pingClosestBrokers(p)
			p.Timeout(pingLoopGap)
		}
	})
}

// pingRandomBrokers asks the selected broker for pingBatch random
// brokers and pings each.
func (cp *ClientProcess) pingRandomBrokers(p *Process) {
	cp.SendOn(p, cp.SelectedBroker, &Message{Kind: KindFindRandomBrokersRequest})
	resp, ok, _ := cp.ReceiveOn(p, KindFindRandomBrokersResponse)
	if !ok {
		return
	}
	cp.pingNodes(p, resp.Brokers, 5, 0)
}

// pingClosestBrokers asks the selected broker for the pingBatch closest
// brokers and pings each.
func (cp *ClientProcess) pingClosestBrokers(p *Process) {
	cp.SendOn(p, cp.SelectedBroker, &Message{Kind: KindFindClosestBrokersRequest})
	resp, ok, _ := cp.ReceiveOn(p, KindFindClosestBrokersResponse)
	if !ok {
		return
	}
	cp.pingNodes(p, resp.Brokers, 5, 0)
}

// PingAll periodically pings every broker returned by getBrokers, used
// when Vivaldi is disabled but the scenario still wants clients to
// sample broker RTTs directly.
func (cp *ClientProcess) PingAll(getBrokers func() []*Node, intervalSeconds float64) *Process {
	return cp.env.Spawn("pingall("+cp.node.Name+")", func(p *Process) {
		for cp.running {
			cp.pingNodes(p, getBrokers(), 5, 0)
			p.Timeout(intervalSeconds)
		}
	})
}

// Shutdown unsubscribes from every topic before stopping the receive
// loop.
func (cp *ClientProcess) Shutdown() *Process {
	return cp.env.Spawn("shutdown("+cp.node.Name+")", func(p *Process) {
		for topic := range cp.Subscriptions {
			cp.SendOn(p, cp.SelectedBroker, &Message{Kind: KindUnsub, Topic: topic})
			if cp.protocol.AcksEnabled() {
				cp.ReceiveOn(p, KindUnsubAck)
			}
		}
		cp.NodeProcess.ShutdownOn(p)
	})
}
