package netsim

//
// Shared message-handler loop for broker/client/coordinator processes
//

// MessageHandler reacts to one received Message. It may call Send or
// Receive on the embedding NodeProcess; both run to completion (to
// their next yield point) before the outer loop resumes.
type MessageHandler func(msg *Message)

// NodeProcess is the shared receive-dispatch loop used by
// [ClientProcess], [BrokerProcess], and [CoordinatorProcess]: it
// suspends on Receive, dispatches the result to a handler keyed by
// [MessageKind], and loops until shutdown.
type NodeProcess struct {
	env            *Environment
	protocol       *Protocol
	node           *Node
	rnd            *RandSource
	logger         Logger
	proc           *Process
	running        bool
	executeVivaldi bool
	handlers       map[MessageKind]MessageHandler
}

// newNodeProcess creates a NodeProcess for node, wiring the two
// handlers every node kind shares (Ping and Shutdown).
func newNodeProcess(env *Environment, protocol *Protocol, node *Node, executeVivaldi bool, rnd *RandSource, logger Logger) *NodeProcess {
	np := &NodeProcess{
		env:            env,
		protocol:       protocol,
		node:           node,
		rnd:            rnd,
		logger:         logger,
		executeVivaldi: executeVivaldi,
		handlers:       map[MessageKind]MessageHandler{},
	}
	np.handlers[KindPing] = np.handlePing
	np.handlers[KindShutdown] = np.handleShutdown
	return np
}

// Node returns the process's Node identity.
func (np *NodeProcess) Node() *Node {
	return np.node
}

// Running reports whether the process's receive loop is still active.
func (np *NodeProcess) Running() bool {
	return np.running
}

// acceptedKinds lists every MessageKind this process currently handles.
func (np *NodeProcess) acceptedKinds() []MessageKind {
	kinds := make([]MessageKind, 0, len(np.handlers))
	for k := range np.handlers {
		kinds = append(kinds, k)
	}
	return kinds
}

// runLoop is the common Process body: receive, optionally run a
// Vivaldi update from the sender's latency sample, dispatch, repeat.
// Unexpected kinds are fatal.
func (np *NodeProcess) runLoop(p *Process) {
	np.proc = p
	np.running = true
	if np.executeVivaldi && np.node.Coordinate == nil {
		np.node.Coordinate = NewVivaldiCoordinate()
	}

	for np.running {
		msg, ok, _ := np.protocol.Receive(p, np.node, np.acceptedKinds()...)
		if !ok {
			continue
		}

		if np.executeVivaldi {
			if _, isVivaldi := msg.Source.Coordinate.(*VivaldiCoordinate); isVivaldi {
				VivaldiUpdate(np.rnd, np.node, msg.Source, msg.Latency*2)
			}
		}

		handler, ok := np.handlers[msg.Kind]
		if !ok {
			fatalf(ErrUnexpectedMessage, "%s received unhandled kind %s", np.node.Name, msg.Kind)
		}
		np.logger.Debugf("%s handling %s from %s", np.node.Name, msg.Kind, msg.Source.Name)
		handler(msg)
	}
}

// Send transmits msg from this process's node to destination. Send
// itself never suspends (Protocol.Send spawns its own delivery
// process), so it is always safe to call from a handler invoked
// synchronously by runLoop.
func (np *NodeProcess) Send(destination *Node, msg *Message) {
	np.protocol.Send(np.proc, np.node, destination, msg)
}

// Receive suspends until a message of one of kinds arrives. Only call
// this from a handler invoked synchronously by runLoop (the only
// goroutine allowed to use np.proc); any independently-spawned
// goroutine (Subscribe, RunPublisher, a Coordinator's loops, ...) must
// use ReceiveOn with its own Process instead: sharing np.proc across
// concurrently-alive goroutines would let one goroutine's Receive
// suspend using another's channel pair.
func (np *NodeProcess) Receive(kinds ...MessageKind) (*Message, bool, any) {
	return np.protocol.Receive(np.proc, np.node, kinds...)
}

// Timeout suspends the process for delay seconds. Same single-goroutine
// caveat as Receive.
func (np *NodeProcess) Timeout(delay float64) any {
	return np.proc.Timeout(delay)
}

// SendOn transmits msg from this process's node to destination on
// behalf of p. Use this (rather than Send) from any goroutine other than
// runLoop's own. Protocol.Send does not use the process it is given and
// never suspends it, so SendOn never suspends p either.
func (np *NodeProcess) SendOn(p *Process, destination *Node, msg *Message) {
	np.protocol.Send(p, np.node, destination, msg)
}

// ReceiveOn suspends p until a message of one of kinds arrives in this
// node's mailbox. Use this from any goroutine other than runLoop's own.
func (np *NodeProcess) ReceiveOn(p *Process, kinds ...MessageKind) (*Message, bool, any) {
	return np.protocol.Receive(p, np.node, kinds...)
}

func (np *NodeProcess) handlePing(msg *Message) {
	np.Send(msg.Source, &Message{Kind: KindPong, PingLatency: msg.Latency})
}

func (np *NodeProcess) handleShutdown(_ *Message) {
	np.running = false
}

// ShutdownOn marks the process as no longer running and sends itself a
// Shutdown message, via p, so its own receive loop observes the request.
// Shutdown is idempotent: a second Shutdown is absorbed by the
// already-false running flag.
func (np *NodeProcess) ShutdownOn(p *Process) {
	np.running = false
	np.SendOn(p, np.node, &Message{Kind: KindShutdown})
}

// pingNodes sends pingsPerNode Pings to each of nodes (skipping self)
// from p, sleeping interval seconds between pings, and returns the
// running average RTT observed per node. Coordinate updates happen only
// in runLoop, on the receiving side of each ping; the Pongs collected
// here feed the RTT average alone.
func (np *NodeProcess) pingNodes(p *Process, nodes []*Node, pingsPerNode int, interval float64) map[*Node]float64 {
	avgs := map[*Node]float64{}
	for _, n := range nodes {
		if n == np.node {
			continue
		}
		for i := 0; i < pingsPerNode; i++ {
			np.SendOn(p, n, &Message{Kind: KindPing})
			pong, ok, _ := np.ReceiveOn(p, KindPong)
			if !ok {
				continue
			}
			avgs[n] += (pong.RTT - avgs[n]) / float64(i+1)
			if interval > 0 {
				p.Timeout(interval)
			}
		}
	}
	return avgs
}
