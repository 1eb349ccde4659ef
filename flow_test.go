package netsim

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestFlowSingleTransferTiming: one 1.25MB flow
// over a 100Mbit/s, 1ms link completes in ~0.1061s virtual time
// (handshake + transmission).
func TestFlowSingleTransferTiming(t *testing.T) {
	env := NewEnvironment(nil)
	a, b := NewNode("a"), NewNode("b")
	link := NewLink(100, nil)
	route := &Route{Source: a, Destination: b, Path: []Vertex{a, link, b}, Hops: []*Link{link}, RTT: 2}

	flow := NewFlow(env, &NullLogger{}, 1_250_000, route)
	proc := flow.Start()
	env.RunUntilIdle()

	require.False(t, proc.Alive())
	expected := 1.5*(2.0/1000) + 1_250_000/(100*125000*0.97)
	require.InDelta(t, expected, env.Now(), 1e-6)
	require.InDelta(t, 0.1061, env.Now(), 1e-3)
}

// TestFlowTwoConcurrentFlowsShareFairly: two
// concurrent same-size flows on the same link split bandwidth evenly
// and complete at the same virtual time.
func TestFlowTwoConcurrentFlowsShareFairly(t *testing.T) {
	env := NewEnvironment(nil)
	a, b := NewNode("a"), NewNode("b")
	link := NewLink(100, nil)
	route := func() *Route {
		return &Route{Source: a, Destination: b, Path: []Vertex{a, link, b}, Hops: []*Link{link}, RTT: 2}
	}

	f1 := NewFlow(env, &NullLogger{}, 1_250_000, route())
	f2 := NewFlow(env, &NullLogger{}, 1_250_000, route())
	p1 := f1.Start()
	p2 := f2.Start()

	env.RunUntilIdle()

	require.False(t, p1.Alive())
	require.False(t, p2.Alive())
	require.InDelta(t, 0.2063, env.Now(), 2e-3)
}

// TestFlowZeroGoodputTerminatesOnlyThatFlow: a ZeroGoodput error is
// fatal to that flow only. A link with zero bandwidth collapses goodput
// to zero, which [Environment.Spawn] recovers inside the flow's own
// process instead of letting it take down the whole simulation, and the
// flow's link registration is still released.
func TestFlowZeroGoodputTerminatesOnlyThatFlow(t *testing.T) {
	env := NewEnvironment(nil)
	a, b := NewNode("a"), NewNode("b")
	link := NewLink(0, nil)
	route := &Route{Source: a, Destination: b, Path: []Vertex{a, link, b}, Hops: []*Link{link}, RTT: 0}

	flow := NewFlow(env, &NullLogger{}, 1000, route)
	proc := flow.Start()
	env.RunUntilIdle()

	require.False(t, proc.Alive())
	require.Equal(t, 0, link.numFlows)
	require.Empty(t, link.allocation)
}

// TestIsEntityScopedFatalClassification checks the flow-or-process
// scoped vs simulation-fatal split without actually triggering a
// topology-invariant panic inside a goroutine (which would crash the
// whole test binary by design, since those errors are meant to abort
// the simulation).
func TestIsEntityScopedFatalClassification(t *testing.T) {
	require.True(t, isEntityScopedFatal(ErrZeroGoodput))
	require.True(t, isEntityScopedFatal(ErrUnexpectedMessage))
	require.False(t, isEntityScopedFatal(ErrInvalidTopology))
	require.False(t, isEntityScopedFatal(ErrUnsetCoordinate))
	require.False(t, isEntityScopedFatal(ErrMixedCoordinateTypes))
}
