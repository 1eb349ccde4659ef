package netsim

//
// Typed directed multigraph of Nodes, Links, and relays, and the
// specialized Topology built on top of it
//

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// edge is one directed arc of a Graph, carrying the Connection it was
// added from so latency can be recovered while walking a path.
type edge struct {
	target Vertex
	conn   *Connection
}

// Graph is a directed multigraph over an arbitrary vertex set ([*Node],
// [*Link], [Relay]). Create one with NewGraph; the zero value has no
// adjacency map and cannot have vertices added to it.
type Graph struct {
	vertices  []Vertex
	adjacency map[Vertex][]edge
}

// NewGraph creates an empty Graph.
func NewGraph() *Graph {
	return &Graph{adjacency: map[Vertex][]edge{}}
}

// addVertex registers v if not already present.
func (g *Graph) addVertex(v Vertex) {
	if _, ok := g.adjacency[v]; ok {
		return
	}
	g.adjacency[v] = nil
	g.vertices = append(g.vertices, v)
}

// addEdge records conn as an arc from conn.Source to conn.Target. When
// directed is false a mirror arc is also recorded; both directions of a
// symmetric connection share the one Connection object.
func (g *Graph) addEdge(conn *Connection, directed bool) {
	g.addVertex(conn.Source)
	g.addVertex(conn.Target)
	g.adjacency[conn.Source] = append(g.adjacency[conn.Source], edge{target: conn.Target, conn: conn})
	if !directed {
		g.adjacency[conn.Target] = append(g.adjacency[conn.Target], edge{target: conn.Source, conn: conn})
	}
}

// connectionBetween returns the first recorded Connection from a to b,
// or nil if a and b are not directly adjacent.
func (g *Graph) connectionBetween(a, b Vertex) *Connection {
	for _, e := range g.adjacency[a] {
		if e.target == b {
			return e.conn
		}
	}
	return nil
}

// Path returns the shortest sequence of vertices from source to
// destination, inclusive of both endpoints, found via breadth-first
// search. It returns nil if source equals destination, or if
// destination is unreachable.
func (g *Graph) Path(source, destination Vertex) []Vertex {
	if source == destination {
		return nil
	}

	queue := []Vertex{source}
	visited := map[Vertex]bool{}
	parents := map[Vertex]Vertex{}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		if node == destination {
			path := []Vertex{node}
			cur := node
			for {
				p, ok := parents[cur]
				if !ok {
					break
				}
				path = append(path, p)
				cur = p
			}
			// reverse in place
			for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
				path[i], path[j] = path[j], path[i]
			}
			return path
		}

		visited[node] = true

		for _, e := range g.adjacency[node] {
			successor := e.target
			if successor == node || visited[successor] {
				continue
			}
			if _, ok := parents[successor]; !ok {
				parents[successor] = node
			}
			queue = append(queue, successor)
		}
	}

	return nil
}

// Nodes returns every *Node vertex in the graph.
func (g *Graph) Nodes() []*Node {
	var out []*Node
	for _, v := range g.vertices {
		if n, ok := v.(*Node); ok {
			out = append(out, n)
		}
	}
	return out
}

// Links returns every *Link vertex in the graph.
func (g *Graph) Links() []*Link {
	var out []*Link
	for _, v := range g.vertices {
		if l, ok := v.(*Link); ok {
			out = append(out, l)
		}
	}
	return out
}

// routeKey identifies a cached route by endpoint identity. The cache
// holds only mode-latency routes; sample-mode callers reuse the cached
// path and re-sample just the rtt.
type routeKey struct {
	source, destination *Node
}

// Topology is a [Graph] specialized for the simulator: connection
// validation, cached shortest-path routing, and a derived bandwidth
// graph for external consumers (topology-builder DSLs and export
// layers consume exactly this contract).
type Topology struct {
	graph       *Graph
	nodesByName map[string]*Node
	routeCache  map[routeKey]*Route
	logger      Logger
}

// NewTopology creates an empty Topology.
func NewTopology(logger Logger) *Topology {
	return &Topology{
		graph:       NewGraph(),
		nodesByName: map[string]*Node{},
		routeCache:  map[routeKey]*Route{},
		logger:      logger,
	}
}

// registerNode records v in nodesByName if it is a *Node. Node identity
// is its Name, so a second, distinct *Node reusing a known name would
// silently split one logical vertex in two; that is always a caller
// bug, hence the panic.
func (t *Topology) registerNode(v Vertex) {
	n, ok := v.(*Node)
	if !ok {
		return
	}
	if existing, found := t.nodesByName[n.Name]; found && existing != n {
		fatalf(ErrDuplicateAddr, "%s", n.Name)
	}
	t.nodesByName[n.Name] = n
}

// AddConnection adds conn to the topology. directed controls whether a
// mirror edge is also added (see [Graph.addEdge]). It panics with
// ErrInvalidTopology if both endpoints are *Node (Nodes may only
// connect to each other through at least one Link or Relay), and with
// ErrDuplicateAddr if an endpoint reuses an already-registered Node
// name with a different *Node value.
func (t *Topology) AddConnection(conn *Connection, directed bool) {
	_, srcIsNode := conn.Source.(*Node)
	_, dstIsNode := conn.Target.(*Node)
	if srcIsNode && dstIsNode {
		fatalf(ErrInvalidTopology, "node-to-node direct edge: %v -> %v", conn.Source, conn.Target)
	}
	t.registerNode(conn.Source)
	t.registerNode(conn.Target)
	t.graph.addEdge(conn, directed)
}

// Nodes returns every Node known to the topology.
func (t *Topology) Nodes() []*Node {
	return t.graph.Nodes()
}

// Links returns every Link known to the topology.
func (t *Topology) Links() []*Link {
	return t.graph.Links()
}

// Route returns the Route from source to destination. The path and its
// mode-latency rtt are computed once and cached; route computation is
// expensive relative to message send frequency, so only the rtt is
// re-derived per use. When useMode is true the cached Route is returned
// as-is, so repeated calls return a structurally identical Route. When
// useMode is false the result is a shallow copy of the cached Route
// whose rtt is recomputed by sampling each edge's latency distribution
// from rnd.
//
// It panics with ErrInvalidTopology if the computed path contains
// consecutive vertices with no recorded edge between them, and returns
// ErrNoRoute if source and destination are distinct and disconnected.
// A route from a Node to itself has the one-vertex Path [source], no
// Hops, and zero rtt.
func (t *Topology) Route(source, destination *Node, useMode bool, rnd *RandSource) (*Route, error) {
	key := routeKey{source: source, destination: destination}
	cached, ok := t.routeCache[key]
	if !ok {
		path := t.graph.Path(source, destination)
		if path == nil && source == destination {
			// a node reaches itself over an empty path with zero latency
			path = []Vertex{source}
		}
		if path == nil {
			return nil, fmt.Errorf("%w: %s -> %s", ErrNoRoute, source.Name, destination.Name)
		}
		cached = newRoute(source, destination, path, t.pathLatency(path, true, nil))
		t.routeCache[key] = cached
	}

	route := cached.clone()
	if !useMode {
		route.RTT = 2 * t.pathLatency(route.Path, false, rnd)
	}
	return route, nil
}

// pathLatency sums the one-way per-edge latency along path, using each
// edge's mode latency when useMode is true and a fresh sample from rnd
// otherwise. It panics with ErrInvalidTopology if consecutive vertices
// have no recorded edge between them.
func (t *Topology) pathLatency(path []Vertex, useMode bool, rnd *RandSource) float64 {
	var oneWay float64
	for i := 0; i+1 < len(path); i++ {
		conn := t.graph.connectionBetween(path[i], path[i+1])
		if conn == nil {
			fatalf(ErrInvalidTopology, "no edge between %v and %v on computed path", path[i], path[i+1])
		}
		if useMode {
			oneWay += conn.ModeLatency()
		} else {
			oneWay += conn.SampleLatency(rnd)
		}
	}
	return oneWay
}

// Latency returns the one-way latency in milliseconds between source
// and destination: when useCoordinates is true it is estimated from
// their Vivaldi coordinates (DistanceTo); otherwise it is half the RTT
// of a freshly latency-sampled Route.
func (t *Topology) Latency(source, destination *Node, useCoordinates bool, rnd *RandSource) (float64, error) {
	if useCoordinates {
		return source.DistanceTo(destination), nil
	}
	route, err := t.Route(source, destination, false, rnd)
	if err != nil {
		return 0, err
	}
	return route.RTT / 2, nil
}

// bandwidthSelfLoop models a node's bandwidth to itself as a 1 Gbit/s
// disk read. A convention, not a measurement.
const bandwidthSelfLoop = 1.25e8

// BandwidthGraph returns, for every ordered pair of Nodes reachable
// from one another, the bottleneck bandwidth in bytes/sec along the
// mode-latency route between them (the minimum Link.Bandwidth on the
// route, converted from Mbit/s). Self-pairs are bandwidthSelfLoop.
// Unreachable pairs are omitted.
func (t *Topology) BandwidthGraph(rnd *RandSource) map[string]map[string]float64 {
	nodes := t.Nodes()
	graph := make(map[string]map[string]float64, len(nodes))

	for _, n1 := range nodes {
		row := map[string]float64{n1.Name: bandwidthSelfLoop}
		for _, n2 := range nodes {
			if n1 == n2 {
				continue
			}
			route, err := t.Route(n1, n2, true, rnd)
			if err != nil {
				t.logf("no route from %s to %s", n1.Name, n2.Name)
				continue
			}
			if len(route.Hops) == 0 {
				continue
			}
			minBandwidth := route.Hops[0].Bandwidth
			for _, hop := range route.Hops[1:] {
				if hop.Bandwidth < minBandwidth {
					minBandwidth = hop.Bandwidth
				}
			}
			row[n2.Name] = minBandwidth * 125000
		}
		graph[n1.Name] = row
	}
	return graph
}

func (t *Topology) logf(format string, args ...any) {
	if t.logger != nil {
		t.logger.Debugf(format, args...)
	}
}

//
// GraphML ingestion
//

type graphmlDoc struct {
	XMLName xml.Name        `xml:"graphml"`
	Keys    []graphmlKey    `xml:"key"`
	Graph   graphmlGraphTag `xml:"graph"`
}

type graphmlKey struct {
	ID       string `xml:"id,attr"`
	For      string `xml:"for,attr"`
	AttrName string `xml:"attr.name,attr"`
}

type graphmlGraphTag struct {
	Nodes []graphmlNode `xml:"node"`
	Edges []graphmlEdge `xml:"edge"`
}

type graphmlNode struct {
	ID string `xml:"id,attr"`
}

type graphmlEdge struct {
	Source string          `xml:"source,attr"`
	Target string          `xml:"target,attr"`
	Data   []graphmlEdgeKV `xml:"data"`
}

type graphmlEdgeKV struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

// LoadInetGraph ingests a GraphML regional latency graph: vertices
// become [Relay]s prefixed "internet_", directed edges carry
// a constant latency in milliseconds taken from the GraphML attribute
// named "latency".
func (t *Topology) LoadInetGraph(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	var doc graphmlDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return err
	}

	var latencyKey string
	for _, k := range doc.Keys {
		if k.For == "edge" && k.AttrName == "latency" {
			latencyKey = k.ID
		}
	}

	for _, e := range doc.Graph.Edges {
		var latency float64
		for _, d := range e.Data {
			if d.Key == latencyKey {
				v, err := strconv.ParseFloat(strings.TrimSpace(d.Value), 64)
				if err != nil {
					return fmt.Errorf("netsim: invalid latency value %q: %w", d.Value, err)
				}
				latency = v
			}
		}
		src := Relay("internet_" + e.Source)
		dst := Relay("internet_" + e.Target)
		t.AddConnection(&Connection{Source: src, Target: dst, Latency: latency}, true)
	}

	return nil
}
