package netsim

import (
	"math"
	"testing"

	"github.com/montanaflynn/stats"
	"github.com/stretchr/testify/require"
)

func TestVivaldiUpdateInitializesCoordinates(t *testing.T) {
	a, b := NewNode("a"), NewNode("b")
	rnd := NewRandSource(1)

	VivaldiUpdate(rnd, a, b, 10)

	require.NotNil(t, a.Coordinate)
	require.NotNil(t, b.Coordinate)
	ca := a.Coordinate.(*VivaldiCoordinate)
	require.Equal(t, 1, ca.Runs)
}

// TestVivaldiInvariantsHoldAfterUpdate: 0 < error <= 1.5 and
// height >= 1e-3 after any update.
func TestVivaldiInvariantsHoldAfterUpdate(t *testing.T) {
	rnd := NewRandSource(7)
	nodes := make([]*Node, 6)
	for i := range nodes {
		nodes[i] = NewNode(string(rune('a' + i)))
	}

	for round := 0; round < 50; round++ {
		for i := 0; i < len(nodes); i++ {
			for j := i + 1; j < len(nodes); j++ {
				rtt := 5 + float64(round+i+j)
				VivaldiUpdate(rnd, nodes[i], nodes[j], rtt)

				ca := nodes[i].Coordinate.(*VivaldiCoordinate)
				require.Greater(t, ca.Error, 0.0)
				require.LessOrEqual(t, ca.Error, vivaldiMaxError)
				require.GreaterOrEqual(t, ca.Height, vivaldiHeightFloor)
			}
		}
	}
}

func TestVivaldiMixedCoordinateTypesIsFatal(t *testing.T) {
	a := NewNode("a")
	a.Coordinate = NewVivaldiCoordinate()
	b := NewNode("b")
	b.Coordinate = fakeCoordinate{}

	defer func() {
		r := recover()
		require.NotNil(t, r)
	}()
	VivaldiUpdate(NewRandSource(1), a, b, 10)
}

func TestDistanceToUnsetCoordinateIsFatal(t *testing.T) {
	a := NewNode("a")
	b := NewNode("b")
	b.Coordinate = NewVivaldiCoordinate()

	defer func() {
		r := recover()
		require.NotNil(t, r)
	}()
	a.DistanceTo(b)
}

type fakeCoordinate struct{}

func (fakeCoordinate) DistanceTo(Coordinate) float64 { return 0 }

// TestVivaldiConvergesOnSquareTopology: four nodes
// arranged as a square with true RTTs of 10 ms along each side and
// 14.14 ms along each diagonal
// should converge, after 300 pairwise updates, to an embedding whose
// pairwise distances approximate those RTTs within 2ms RMS error.
func TestVivaldiConvergesOnSquareTopology(t *testing.T) {
	nodes := []*Node{NewNode("n0"), NewNode("n1"), NewNode("n2"), NewNode("n3")}
	// square adjacency: 0-1, 1-2, 2-3, 3-0 at 10ms; diagonals 0-2, 1-3 at
	// 14.14ms.
	trueRTT := map[[2]int]float64{
		{0, 1}: 10, {1, 2}: 10, {2, 3}: 10, {3, 0}: 10,
		{0, 2}: 14.14, {1, 3}: 14.14,
	}
	rttFor := func(i, j int) float64 {
		if i > j {
			i, j = j, i
		}
		return trueRTT[[2]int{i, j}]
	}

	rnd := NewRandSource(123)
	pairs := [][2]int{{0, 1}, {1, 2}, {2, 3}, {3, 0}, {0, 2}, {1, 3}}
	for round := 0; round < 300; round++ {
		p := pairs[round%len(pairs)]
		VivaldiUpdate(rnd, nodes[p[0]], nodes[p[1]], rttFor(p[0], p[1]))
	}

	var sqErrs []float64
	for i := 0; i < len(nodes); i++ {
		for j := i + 1; j < len(nodes); j++ {
			predicted := nodes[i].DistanceTo(nodes[j])
			diff := predicted - rttFor(i, j)
			sqErrs = append(sqErrs, diff*diff)
		}
	}
	meanSqErr, err := stats.Mean(sqErrs)
	require.NoError(t, err)
	require.Less(t, math.Sqrt(meanSqErr), 2.0)
}
