package netsim

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestGraphPathBFS(t *testing.T) {
	t.Run("direct neighbour", func(t *testing.T) {
		g := NewGraph()
		a, b := "a", "b"
		g.addEdge(&Connection{Source: a, Target: b}, true)

		path := g.Path(a, b)
		require.Equal(t, []Vertex{a, b}, path)
	})

	t.Run("same source and destination returns nil", func(t *testing.T) {
		g := NewGraph()
		require.Nil(t, g.Path("a", "a"))
	})

	t.Run("unreachable destination returns nil", func(t *testing.T) {
		g := NewGraph()
		g.addVertex("a")
		g.addVertex("b")
		require.Nil(t, g.Path("a", "b"))
	})

	t.Run("shortest path prefers fewer hops", func(t *testing.T) {
		g := NewGraph()
		// a -> b -> c -> d (long path) and a -> d (short path)
		g.addEdge(&Connection{Source: "a", Target: "b"}, true)
		g.addEdge(&Connection{Source: "b", Target: "c"}, true)
		g.addEdge(&Connection{Source: "c", Target: "d"}, true)
		g.addEdge(&Connection{Source: "a", Target: "d"}, true)

		path := g.Path("a", "d")
		require.Equal(t, []Vertex{"a", "d"}, path)
	})

	t.Run("first-insertion tie-break is deterministic", func(t *testing.T) {
		g := NewGraph()
		g.addEdge(&Connection{Source: "a", Target: "b"}, true)
		g.addEdge(&Connection{Source: "a", Target: "c"}, true)
		g.addEdge(&Connection{Source: "b", Target: "z"}, true)
		g.addEdge(&Connection{Source: "c", Target: "z"}, true)

		path := g.Path("a", "z")
		require.Equal(t, []Vertex{"a", "b", "z"}, path)
	})
}

func TestTopologyAddConnectionRejectsNodeToNode(t *testing.T) {
	topo := NewTopology(nil)
	a := NewNode("a")
	b := NewNode("b")

	defer func() {
		r := recover()
		require.NotNil(t, r)
	}()
	topo.AddConnection(&Connection{Source: a, Target: b}, true)
}

func TestTopologyAddConnectionRejectsDuplicateNodeName(t *testing.T) {
	topo := NewTopology(nil)
	a := NewNode("a")
	imposter := NewNode("a")

	topo.AddConnection(&Connection{Source: a, Target: NewLink(100, nil)}, false)

	defer func() {
		r := recover()
		require.NotNil(t, r)
		require.ErrorIs(t, r.(error), ErrDuplicateAddr)
	}()
	topo.AddConnection(&Connection{Source: imposter, Target: NewLink(100, nil)}, false)
}

func TestTopologyAddConnectionSymmetric(t *testing.T) {
	topo := NewTopology(nil)
	a := NewNode("a")
	b := NewNode("b")
	link := NewLink(100, nil)

	topo.AddConnection(&Connection{Source: a, Target: link, Latency: 1}, false)
	topo.AddConnection(&Connection{Source: link, Target: b, Latency: 1}, false)

	rnd := NewRandSource(1)
	route, err := topo.Route(a, b, true, rnd)
	require.NoError(t, err)
	require.Equal(t, []*Link{link}, route.Hops)

	// the mirror edge must exist too.
	routeBack, err := topo.Route(b, a, true, rnd)
	require.NoError(t, err)
	require.Equal(t, []*Link{link}, routeBack.Hops)
}

func TestTopologyRouteComputesRTT(t *testing.T) {
	topo := NewTopology(nil)
	a := NewNode("a")
	b := NewNode("b")
	link := NewLink(100, nil)

	topo.AddConnection(&Connection{Source: a, Target: link, Latency: 1}, false)
	topo.AddConnection(&Connection{Source: link, Target: b, Latency: 1}, false)

	rnd := NewRandSource(1)
	route, err := topo.Route(a, b, true, rnd)
	require.NoError(t, err)
	require.Equal(t, 4.0, route.RTT) // one-way 2ms * 2
	require.Equal(t, []*Link{link}, route.Hops)
	require.Equal(t, []Vertex{a, link, b}, route.Path)
}

func TestTopologyRouteNoRoute(t *testing.T) {
	topo := NewTopology(nil)
	a := NewNode("a")
	b := NewNode("b")
	topo.AddConnection(&Connection{Source: a, Target: NewLink(10, nil)}, false)

	rnd := NewRandSource(1)
	_, err := topo.Route(a, b, true, rnd)
	require.ErrorIs(t, err, ErrNoRoute)
}

// TestTopologyRouteCacheStable: two successive mode-latency Route calls
// return structurally identical routes.
func TestTopologyRouteCacheStable(t *testing.T) {
	topo := NewTopology(nil)
	a := NewNode("a")
	b := NewNode("b")
	link := NewLink(100, nil)
	topo.AddConnection(&Connection{Source: a, Target: link, LatencyDist: LatencyWLAN}, false)
	topo.AddConnection(&Connection{Source: link, Target: b, LatencyDist: LatencyWLAN}, false)

	rnd := NewRandSource(42)
	first, err := topo.Route(a, b, true, rnd)
	require.NoError(t, err)
	second, err := topo.Route(a, b, true, rnd)
	require.NoError(t, err)

	// Links and Nodes on a Route are shared by identity, so compare them
	// by pointer rather than descending into their unexported state.
	sameLink := cmp.Comparer(func(x, y *Link) bool { return x == y })
	sameNode := cmp.Comparer(func(x, y *Node) bool { return x == y })
	if diff := cmp.Diff(first, second, sameLink, sameNode); diff != "" {
		t.Fatalf("routes differ structurally: %s", diff)
	}
}

func TestTopologyLatencyUsesCoordinatesWhenRequested(t *testing.T) {
	topo := NewTopology(nil)
	a := NewNode("a")
	b := NewNode("b")
	a.Coordinate = NewVivaldiCoordinate()
	b.Coordinate = &VivaldiCoordinate{Height: 1e-5, Error: 1.5, Position: [8]float64{3, 4}}

	latency, err := topo.Latency(a, b, true, nil)
	require.NoError(t, err)
	require.InDelta(t, 5.0+2e-5, latency, 1e-9)
}

func TestParseSizeSuffixes(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"10K", 10_000},
		{"4Gi", 4 * (1 << 30)},
		{"0", 0},
		{"5", 5},
		{"7Q", 7}, // unknown suffix tolerated as factor 1
	}
	for _, c := range cases {
		got, err := ParseSize(c.in)
		require.NoError(t, err)
		require.Equal(t, c.want, got)
	}
}

func TestSizeParsingInvalid(t *testing.T) {
	_, err := ParseSize("not-a-size!")
	require.Error(t, err)
}

func TestToSizeStringRoundTripsDecimalUnits(t *testing.T) {
	for _, unit := range []string{"", "K", "M", "G"} {
		s := ToSizeString(5_000_000, unit)
		back, err := ParseSize(s)
		require.NoError(t, err)

		mul, ok := decimalMultipliers[unit]
		if !ok {
			mul = 1
		}
		require.InDelta(t, 5_000_000, back, float64(mul))
	}
}
