package netsim

//
// Data model
//

import "fmt"

// Logger is the logger we're using.
type Logger interface {
	// Debugf formats and emits a debug message.
	Debugf(format string, v ...any)

	// Debug emits a debug message.
	Debug(message string)

	// Infof formats and emits an informational message.
	Infof(format string, v ...any)

	// Info emits an informational message.
	Info(message string)

	// Warnf formats and emits a warning message.
	Warnf(format string, v ...any)

	// Warn emits a warning message.
	Warn(message string)
}

// NullLogger is a [Logger] that does not emit logs.
type NullLogger struct{}

// Debug implements Logger
func (nl *NullLogger) Debug(message string) {
	// nothing
}

// Debugf implements Logger
func (nl *NullLogger) Debugf(format string, v ...any) {
	// nothing
}

// Info implements Logger
func (nl *NullLogger) Info(message string) {
	// nothing
}

// Infof implements Logger
func (nl *NullLogger) Infof(format string, v ...any) {
	// nothing
}

// Warn implements Logger
func (nl *NullLogger) Warn(message string) {
	// nothing
}

// Warnf implements Logger
func (nl *NullLogger) Warnf(format string, v ...any) {
	// nothing
}

var _ Logger = &NullLogger{}

// Capacity describes a Node's compute capacity.
type Capacity struct {
	// CPUMillis is the CPU capacity in millicores.
	CPUMillis int

	// Memory is the memory capacity in bytes.
	Memory int64
}

// DefaultCapacity is the capacity assigned to a Node that doesn't
// specify one explicitly (1 core, 1 GiB of memory).
var DefaultCapacity = Capacity{CPUMillis: 1000, Memory: 1024 * 1024 * 1024}

// Coordinate is a synthetic position in a latency-embedding space. The
// only implementation in this module is [*VivaldiCoordinate], but the
// interface keeps [Node] decoupled from any one embedding algorithm.
type Coordinate interface {
	// DistanceTo returns the estimated distance (in the same unit as the
	// RTT samples the coordinate was trained on) to other. Implementations
	// must panic with ErrMixedCoordinateTypes if other is a foreign kind.
	DistanceTo(other Coordinate) float64
}

// Node is a machine in the network that can run compute tasks, manage
// data, and exchange data with other nodes. Node identity is its Name:
// a [Topology] rejects a second, distinct *Node that reuses a Name it
// already holds.
//
// A Node is immutable after construction except for its Coordinate,
// which Vivaldi (or any other embedding) updates in place.
type Node struct {
	// Name is the Node's stable, hashable identity.
	Name string

	// Capacity is the Node's compute capacity.
	Capacity Capacity

	// Arch is the Node's CPU architecture tag (e.g. "x86", "arm").
	Arch string

	// Labels is a free-form string-to-string label map.
	Labels map[string]string

	// Coordinate is the Node's synthetic position, or nil if none has
	// been assigned yet.
	Coordinate Coordinate
}

// NewNode creates a Node with the given name, default capacity, and
// "x86" architecture. Use the With* methods to customize it.
func NewNode(name string) *Node {
	return &Node{
		Name:     name,
		Capacity: DefaultCapacity,
		Arch:     "x86",
		Labels:   map[string]string{},
	}
}

// WithCapacity sets Capacity and returns n, for chaining.
func (n *Node) WithCapacity(c Capacity) *Node {
	n.Capacity = c
	return n
}

// WithArch sets Arch and returns n, for chaining.
func (n *Node) WithArch(arch string) *Node {
	n.Arch = arch
	return n
}

// WithLabel sets a label and returns n, for chaining.
func (n *Node) WithLabel(key, value string) *Node {
	n.Labels[key] = value
	return n
}

// String implements fmt.Stringer.
func (n *Node) String() string {
	return n.Name
}

// DistanceTo returns the synthetic distance between n and other. It
// panics with ErrUnsetCoordinate if either Node has no Coordinate.
func (n *Node) DistanceTo(other *Node) float64 {
	if n.Coordinate == nil {
		panic(fmt.Errorf("%w: %s has no coordinate", ErrUnsetCoordinate, n.Name))
	}
	if other.Coordinate == nil {
		panic(fmt.Errorf("%w: %s has no coordinate", ErrUnsetCoordinate, other.Name))
	}
	return n.Coordinate.DistanceTo(other.Coordinate)
}

// Relay is an opaque, transparent vertex (e.g. "internet", "switch_lan_0")
// that is counted in paths but contributes no latency or bandwidth.
type Relay string

// Vertex is any member of a [Graph]'s node set: a [*Node], a [*Link], or
// a [Relay]. It exists as a documentation alias; the graph stores
// vertices as `any` and type-switches on them.
type Vertex = any

// Connection is an edge in the topology: a physical or logical network
// connection (a cable, a WiFi hop, ...). If LatencyDist is set it is
// used for sampling and takes precedence over Latency for the mode too.
//
// Invariant: Source and Target must not both be *Node; Nodes may only
// connect to each other through at least one *Link or Relay.
type Connection struct {
	// Source is the edge's source vertex.
	Source Vertex

	// Target is the edge's target vertex.
	Target Vertex

	// Latency is the constant one-way latency in milliseconds, used
	// when LatencyDist is nil.
	Latency float64

	// LatencyDist is an optional latency distribution.
	LatencyDist *LatencyDistribution
}

// SampleLatency returns a one-way latency sample in milliseconds.
func (c *Connection) SampleLatency(rnd *RandSource) float64 {
	if c.LatencyDist != nil {
		return c.LatencyDist.Sample(rnd)
	}
	return c.Latency
}

// ModeLatency returns the one-way latency used for the cached Route:
// the mode of the distribution if present, else the constant.
func (c *Connection) ModeLatency() float64 {
	if c.LatencyDist != nil {
		return c.LatencyDist.Mode()
	}
	return c.Latency
}

// Route is a computed path between a source and destination Node.
type Route struct {
	// Source is the route's origin Node.
	Source *Node

	// Destination is the route's final Node.
	Destination *Node

	// Path is the ordered sequence of vertices traversed, including
	// Source and Destination.
	Path []Vertex

	// Hops is the sub-sequence of Path that are *Link, in order.
	Hops []*Link

	// RTT is the round-trip time in milliseconds: twice the one-way sum
	// of per-edge latencies along Path.
	RTT float64
}

// newRoute builds a Route from a path and a one-way latency, deriving Hops.
func newRoute(source, destination *Node, path []Vertex, oneWayLatency float64) *Route {
	hops := make([]*Link, 0, len(path))
	for _, v := range path {
		if l, ok := v.(*Link); ok {
			hops = append(hops, l)
		}
	}
	return &Route{
		Source:      source,
		Destination: destination,
		Path:        path,
		Hops:        hops,
		RTT:         2 * oneWayLatency,
	}
}

// clone returns a shallow copy of r (same Path/Hops slices, new struct).
func (r *Route) clone() *Route {
	cp := *r
	return &cp
}

// String implements fmt.Stringer.
func (r *Route) String() string {
	return fmt.Sprintf("Route[%s ->%v-> %s (rtt=%.2f)]", r.Source, r.Hops, r.Destination, r.RTT)
}
