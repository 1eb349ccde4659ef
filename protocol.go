package netsim

//
// Message envelopes, per-node mailboxes, and CSV tracing
//

import (
	"encoding/csv"
	"fmt"
	"strconv"
)

// MessageKind identifies a Message's variant.
type MessageKind string

// The closed set of message kinds.
const (
	KindPing                       MessageKind = "Ping"
	KindPong                       MessageKind = "Pong"
	KindSub                        MessageKind = "Sub"
	KindSubAck                     MessageKind = "SubAck"
	KindUnsub                      MessageKind = "Unsub"
	KindUnsubAck                   MessageKind = "UnsubAck"
	KindPub                        MessageKind = "Pub"
	KindPubAck                     MessageKind = "PubAck"
	KindFindRandomBrokersRequest   MessageKind = "FindRandomBrokersRequest"
	KindFindRandomBrokersResponse  MessageKind = "FindRandomBrokersResponse"
	KindFindClosestBrokersRequest  MessageKind = "FindClosestBrokersRequest"
	KindFindClosestBrokersResponse MessageKind = "FindClosestBrokersResponse"
	KindReconnectRequest           MessageKind = "ReconnectRequest"
	KindReconnectAck               MessageKind = "ReconnectAck"
	KindQoSRequest                 MessageKind = "QoSRequest"
	KindQoSResponse                MessageKind = "QoSResponse"
	KindShutdown                   MessageKind = "Shutdown"
)

// managementKinds is the set of control-plane kinds (every kind except
// Sub/SubAck/Unsub/UnsubAck/Pub/PubAck).
var managementKinds = map[MessageKind]bool{
	KindPing: true, KindPong: true,
	KindFindRandomBrokersRequest: true, KindFindRandomBrokersResponse: true,
	KindFindClosestBrokersRequest: true, KindFindClosestBrokersResponse: true,
	KindReconnectRequest: true, KindReconnectAck: true,
	KindQoSRequest: true, KindQoSResponse: true,
	KindShutdown: true,
}

// Message is a single envelope exchanged between Nodes. Its Kind
// determines which of the kind-specific fields below are meaningful; a
// handler dispatches on Kind rather than on Go type.
type Message struct {
	Kind MessageKind

	Source      *Node
	Destination *Node

	// Timestamp is the virtual-time send timestamp, in milliseconds.
	Timestamp float64

	// Latency is the one-way latency incurred delivering this message,
	// in milliseconds.
	Latency float64

	// Management is true for control-plane kinds.
	Management bool

	// Topic is set for Sub/Unsub/Pub.
	Topic string

	// Data is set for Pub.
	Data any

	// Hops records the brokers this message has traversed, for Pub
	// loop prevention.
	Hops []*Node

	// FirstSent is the virtual time (ms) the originating Pub was first
	// sent, preserved across broker-to-broker forwarding so e2e latency
	// can be measured at the final recipient.
	FirstSent float64

	// E2ELatency is, for Pub, the sum of the one-way latencies of every
	// hop the message has taken so far: each Send adds its own latency
	// and brokers copy the running total into forwarded messages.
	E2ELatency float64

	// Brokers is set for FindRandomBrokersResponse/FindClosestBrokersResponse.
	Brokers []*Node

	// NewBroker and OptimalBroker are set for ReconnectRequest.
	NewBroker     *Node
	OptimalBroker *Node

	// PingLatency and RTT are set for Pong.
	PingLatency float64
	RTT         float64

	// Target is set for QoSRequest.
	Target *Node

	// AvgRTT is set for QoSResponse.
	AvgRTT float64
}

// ByteSize returns the message's wire size in bytes, a fixed per-kind
// accounting.
func (m *Message) ByteSize() int {
	switch m.Kind {
	case KindPing, KindPong, KindShutdown, KindSubAck, KindUnsubAck, KindPubAck:
		return 5
	case KindSub, KindUnsub:
		return 5 + len(m.Topic)
	case KindPub:
		return 10 + len(m.Topic)
	case KindFindRandomBrokersRequest, KindFindClosestBrokersRequest:
		return 5
	case KindFindRandomBrokersResponse, KindFindClosestBrokersResponse:
		return 1 + 5*len(m.Brokers)
	case KindReconnectRequest, KindReconnectAck:
		return 47
	case KindQoSRequest:
		return 13
	case KindQoSResponse:
		return 9
	default:
		panic(fmt.Errorf("%w: %s", ErrUnexpectedMessage, m.Kind))
	}
}

// Protocol delivers Messages between Nodes over a Topology after a
// latency-derived delay, tracing every send to an optional CSV writer.
type Protocol struct {
	env       *Environment
	topology  *Topology
	rnd       *RandSource
	stores    map[*Node]*Store
	history   []*Message
	enableAck bool
	trace     *csv.Writer
}

// ProtocolOption configures a Protocol at construction time.
type ProtocolOption func(*Protocol)

// WithAcks enables PubAck/SubAck/UnsubAck handling in node processes
// built atop this Protocol.
func WithAcks(enabled bool) ProtocolOption {
	return func(p *Protocol) { p.enableAck = enabled }
}

// csvTraceHeader is the CSV header row; field names and order are a
// stable contract for downstream analysis tooling.
var csvTraceHeader = []string{
	"timestamp", "msg_type", "source", "destination", "latency", "size",
	"management", "topic", "broker", "optimal_broker", "data", "e2e_latency",
}

// WithTraceWriter causes every Send to append one CSV row to w. The
// header row is written immediately.
func WithTraceWriter(w *csv.Writer) ProtocolOption {
	return func(p *Protocol) {
		p.trace = w
		_ = p.trace.Write(csvTraceHeader)
		p.trace.Flush()
	}
}

// NewProtocol creates a Protocol bound to env and topology, with
// acknowledgements enabled by default.
func NewProtocol(env *Environment, topology *Topology, rnd *RandSource, opts ...ProtocolOption) *Protocol {
	p := &Protocol{
		env:       env,
		topology:  topology,
		rnd:       rnd,
		stores:    map[*Node]*Store{},
		enableAck: true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AcksEnabled reports whether acknowledgement messages are enabled.
func (p *Protocol) AcksEnabled() bool {
	return p.enableAck
}

// storeFor returns (creating if necessary) the mailbox for node.
func (p *Protocol) storeFor(node *Node) *Store {
	s, ok := p.stores[node]
	if !ok {
		s = NewStore(p.env)
		p.stores[node] = s
	}
	return s
}

// Send stamps msg with source, destination, send timestamp and
// measured one-way latency, appends it to the trace, then spawns a
// delivery process that sleeps for the latency before depositing msg
// into the destination's mailbox. The calling process is never
// suspended by Send itself: two sends issued back to back by the same
// handler are both stamped at the same virtual time and race their own
// independent deliveries.
func (p *Protocol) Send(proc *Process, source, destination *Node, msg *Message) {
	msg.Source = source
	msg.Destination = destination
	// the kernel's clock runs in seconds; message timestamps are
	// reported in milliseconds, hence the ×1000.
	msg.Timestamp = p.env.Now() * 1000
	msg.Management = managementKinds[msg.Kind]

	latency, err := p.topology.Latency(source, destination, false, p.rnd)
	if err != nil {
		fatalf(ErrNoRoute, "protocol send %s -> %s: %v", source.Name, destination.Name, err)
	}
	msg.Latency = latency

	// Pub accumulates e2e latency across broker-to-broker hops; Pong
	// derives its rtt from the ping's recorded latency plus this
	// message's own (freshly sampled) return latency.
	switch msg.Kind {
	case KindPub:
		msg.E2ELatency += latency
	case KindPong:
		msg.RTT = msg.PingLatency + latency
	}

	p.history = append(p.history, msg)
	p.traceRow(msg)
	p.env.Metrics.observeMessageSent(msg.Kind)

	_ = proc // kept for API symmetry with Receive; delivery no longer rides the sender's own suspension
	p.env.Spawn(fmt.Sprintf("deliver(%s->%s)", source.Name, destination.Name), func(dp *Process) {
		dp.Timeout(latency / 1000)
		p.storeFor(destination).Put(msg)
	})
}

// Receive suspends proc until a Message of one of kinds (or any
// Message, if kinds is empty) arrives in node's mailbox.
func (p *Protocol) Receive(proc *Process, node *Node, kinds ...MessageKind) (*Message, bool, any) {
	var filter func(any) bool
	if len(kinds) > 0 {
		allowed := map[MessageKind]bool{}
		for _, k := range kinds {
			allowed[k] = true
		}
		filter = func(v any) bool { return allowed[v.(*Message).Kind] }
	}

	item, ok, cause := p.storeFor(node).Get(proc, filter)
	if !ok {
		return nil, false, cause
	}
	return item.(*Message), true, nil
}

// History returns every Message ever sent through p, in send order.
func (p *Protocol) History() []*Message {
	return p.history
}

// traceRow appends one CSV row for msg, if tracing is enabled.
func (p *Protocol) traceRow(msg *Message) {
	if p.trace == nil {
		return
	}

	brokerCol, optimalCol, dataCol := "", "", ""
	if msg.NewBroker != nil {
		brokerCol = msg.NewBroker.Name
	}
	if msg.OptimalBroker != nil {
		optimalCol = msg.OptimalBroker.Name
	}
	if msg.Data != nil {
		dataCol = fmt.Sprintf("%v", msg.Data)
	}
	e2eCol := ""
	if msg.E2ELatency != 0 {
		e2eCol = strconv.FormatFloat(msg.E2ELatency, 'f', -1, 64)
	}

	row := []string{
		strconv.FormatFloat(msg.Timestamp, 'f', -1, 64),
		string(msg.Kind),
		msg.Source.Name,
		msg.Destination.Name,
		strconv.FormatFloat(msg.Latency, 'f', -1, 64),
		strconv.Itoa(msg.ByteSize()),
		strconv.FormatBool(msg.Management),
		msg.Topic,
		brokerCol,
		optimalCol,
		dataCol,
		e2eCol,
	}
	_ = p.trace.Write(row)
	p.trace.Flush()
}
