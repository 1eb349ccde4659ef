package netsim

//
// BrokerProcess: the EMMA overlay's relay node
//

// BrokerRegistry is the shared, mutable list of every BrokerProcess in a
// scenario. The original source passes its own growing broker_procs list
// by reference to every BrokerProcess it constructs, so a broker spawned
// later is visible to earlier brokers' forwarding and FindRandomBrokers/
// FindClosestBrokers logic without re-wiring anything; BrokerRegistry is
// that shared-by-pointer list translated to Go.
type BrokerRegistry struct {
	Brokers []*BrokerProcess
}

// NewBrokerRegistry creates an empty, growable BrokerRegistry.
func NewBrokerRegistry() *BrokerRegistry {
	return &BrokerRegistry{}
}

// Add appends bp to the registry.
func (r *BrokerRegistry) Add(bp *BrokerProcess) {
	r.Brokers = append(r.Brokers, bp)
}

// Running returns every registered broker whose receive loop is still
// active.
func (r *BrokerRegistry) Running() []*BrokerProcess {
	var out []*BrokerProcess
	for _, b := range r.Brokers {
		if b.Running() {
			out = append(out, b)
		}
	}
	return out
}

// BrokerProcess relays Pub messages between subscribers and peer
// brokers, tracking per-topic local subscribers and forwarding to every
// peer not already listed in a message's Hops (loop prevention) that has
// at least one subscriber of that topic.
type BrokerProcess struct {
	*NodeProcess

	Registry    *BrokerRegistry
	Subscribers map[string]map[*Node]bool
}

// NewBrokerProcess creates a BrokerProcess for node and registers it
// with registry, which it also uses to discover peers (including itself,
// filtered out by the loop-prevention Hops check, exactly as the
// original source's self.brokers list includes the broker itself).
func NewBrokerProcess(env *Environment, protocol *Protocol, node *Node, registry *BrokerRegistry, executeVivaldi bool, rnd *RandSource, logger Logger) *BrokerProcess {
	bp := &BrokerProcess{
		NodeProcess: newNodeProcess(env, protocol, node, executeVivaldi, rnd, logger),
		Registry:    registry,
		Subscribers: map[string]map[*Node]bool{},
	}
	bp.handlers[KindSub] = bp.handleSubscribe
	bp.handlers[KindUnsub] = bp.handleUnsubscribe
	bp.handlers[KindPub] = bp.handlePublish
	bp.handlers[KindFindRandomBrokersRequest] = bp.handleRandomBrokers
	bp.handlers[KindFindClosestBrokersRequest] = bp.handleClosestBrokers
	registry.Add(bp)
	return bp
}

// Run spawns the broker's receive loop.
func (bp *BrokerProcess) Run() *Process {
	return bp.env.Spawn("broker("+bp.node.Name+")", bp.runLoop)
}

func (bp *BrokerProcess) handleSubscribe(msg *Message) {
	subs, ok := bp.Subscribers[msg.Topic]
	if !ok {
		subs = map[*Node]bool{}
		bp.Subscribers[msg.Topic] = subs
	}
	subs[msg.Source] = true
	if bp.protocol.AcksEnabled() {
		bp.Send(msg.Source, &Message{Kind: KindSubAck, Topic: msg.Topic})
	}
}

func (bp *BrokerProcess) handleUnsubscribe(msg *Message) {
	if subs, ok := bp.Subscribers[msg.Topic]; ok {
		delete(subs, msg.Source)
	}
	if bp.protocol.AcksEnabled() {
		bp.Send(msg.Source, &Message{Kind: KindUnsubAck, Topic: msg.Topic})
	}
}

// handlePublish forwards msg to every local subscriber of its topic
// (other than the original sender) and to every peer broker not already
// listed in msg.Hops that has at least one subscriber of that topic,
// appending itself to Hops so the message is never relayed back through
// this broker.
func (bp *BrokerProcess) handlePublish(msg *Message) {
	if bp.protocol.AcksEnabled() && msg.Source != nil {
		bp.Send(msg.Source, &Message{Kind: KindPubAck})
	}

	hops := append(append([]*Node{}, msg.Hops...), bp.node)
	visited := map[*Node]bool{}
	for _, h := range hops {
		visited[h] = true
	}

	if msg.FirstSent == 0 {
		msg.FirstSent = msg.Timestamp
	}

	for subscriber := range bp.Subscribers[msg.Topic] {
		if subscriber == msg.Source {
			continue
		}
		fwd := &Message{
			Kind:       KindPub,
			Topic:      msg.Topic,
			Data:       msg.Data,
			Hops:       hops,
			FirstSent:  msg.FirstSent,
			E2ELatency: msg.E2ELatency,
		}
		bp.Send(subscriber, fwd)
		if bp.protocol.AcksEnabled() {
			bp.Receive(KindPubAck)
		}
	}

	for _, peer := range bp.Registry.Brokers {
		if visited[peer.node] {
			continue
		}
		if len(peer.Subscribers[msg.Topic]) == 0 {
			continue
		}
		fwd := &Message{
			Kind:       KindPub,
			Topic:      msg.Topic,
			Data:       msg.Data,
			Hops:       hops,
			FirstSent:  msg.FirstSent,
			E2ELatency: msg.E2ELatency,
		}
		bp.Send(peer.node, fwd)
		if bp.protocol.AcksEnabled() {
			bp.Receive(KindPubAck)
		}
	}
}

// handleRandomBrokers replies with 5 peer Nodes chosen uniformly at
// random with replacement.
func (bp *BrokerProcess) handleRandomBrokers(msg *Message) {
	peers := bp.Registry.Brokers
	if len(peers) == 0 {
		bp.Send(msg.Source, &Message{Kind: KindFindRandomBrokersResponse})
		return
	}
	brokers := make([]*Node, 5)
	for i := range brokers {
		brokers[i] = peers[bp.rnd.Intn(len(peers))].node
	}
	bp.Send(msg.Source, &Message{Kind: KindFindRandomBrokersResponse, Brokers: brokers})
}

// handleClosestBrokers replies with the 5 peers minimizing Vivaldi
// distance to the requester.
func (bp *BrokerProcess) handleClosestBrokers(msg *Message) {
	closest := make([]*Node, 0, len(bp.Registry.Brokers))
	for _, peer := range bp.Registry.Brokers {
		closest = append(closest, peer.node)
	}
	if msg.Source.Coordinate != nil {
		sortNodesByDistance(msg.Source, closest)
	}
	n := 5
	if n > len(closest) {
		n = len(closest)
	}
	bp.Send(msg.Source, &Message{Kind: KindFindClosestBrokersResponse, Brokers: closest[:n]})
}

// Shutdown reconnects every current subscriber to a uniformly-random
// still-running broker, then performs the default shutdown.
func (bp *BrokerProcess) Shutdown() *Process {
	return bp.env.Spawn("shutdown("+bp.node.Name+")", func(p *Process) {
		subscribers := map[*Node]bool{}
		for _, subs := range bp.Subscribers {
			for n := range subs {
				subscribers[n] = true
			}
		}

		running := bp.Registry.Running()
		for subscriber := range subscribers {
			if len(running) == 0 {
				continue
			}
			target := running[bp.rnd.Intn(len(running))].node
			bp.SendOn(p, subscriber, &Message{Kind: KindReconnectRequest, NewBroker: target, OptimalBroker: target})
			if bp.protocol.AcksEnabled() {
				bp.ReceiveOn(p, KindReconnectAck)
			}
		}

		bp.NodeProcess.ShutdownOn(p)
	})
}

// PingAllBrokers periodically pings every other registered broker; the
// Ping traffic feeds the peers' Vivaldi updates through their own
// receive loops.
func (bp *BrokerProcess) PingAllBrokers() *Process {
	return bp.env.Spawn("pingall("+bp.node.Name+")", func(p *Process) {
		for bp.running {
			var peers []*Node
			for _, peer := range bp.Registry.Brokers {
				peers = append(peers, peer.node)
			}
			bp.pingNodes(p, peers, 5, 0)
			p.Timeout(15)
		}
	})
}

// TotalSubscribers returns the number of distinct subscribing nodes
// across every topic (used by the coordinator's hysteresis decision).
func (bp *BrokerProcess) TotalSubscribers() int {
	seen := map[*Node]bool{}
	for _, subs := range bp.Subscribers {
		for n := range subs {
			seen[n] = true
		}
	}
	return len(seen)
}

// sortNodesByDistance sorts nodes ascending by Vivaldi distance to from.
func sortNodesByDistance(from *Node, nodes []*Node) {
	for i := 1; i < len(nodes); i++ {
		for j := i; j > 0 && from.DistanceTo(nodes[j]) < from.DistanceTo(nodes[j-1]); j-- {
			nodes[j], nodes[j-1] = nodes[j-1], nodes[j]
		}
	}
}
