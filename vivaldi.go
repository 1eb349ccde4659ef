package netsim

//
// Vivaldi network coordinate embedding
//

import (
	"fmt"
	"math"
)

const (
	// vivaldiDimensions is the dimensionality of the coordinate space.
	vivaldiDimensions = 8

	// vivaldiCE tunes the weight of the current error in each update.
	vivaldiCE = 0.9

	// vivaldiCC modulates the force applied to the position.
	vivaldiCC = 0.25

	// vivaldiMaxError caps a coordinate's error.
	vivaldiMaxError = 1.5

	// vivaldiMinHeight is a coordinate's initial height.
	vivaldiMinHeight = 1e-5

	// vivaldiHeightFloor is the minimum height after any update.
	vivaldiHeightFloor = 1e-3
)

// VivaldiCoordinate is a synthetic position in an 8-dimensional space
// whose Euclidean distance, plus the two endpoints' heights, estimates
// measured RTT. It implements [Coordinate].
type VivaldiCoordinate struct {
	Position [vivaldiDimensions]float64
	Height   float64
	Error    float64
	Runs     int
}

// NewVivaldiCoordinate creates a coordinate at the origin with the
// default initial height and maximum error.
func NewVivaldiCoordinate() *VivaldiCoordinate {
	return &VivaldiCoordinate{Height: vivaldiMinHeight, Error: vivaldiMaxError}
}

// DistanceTo implements Coordinate. It panics with
// ErrMixedCoordinateTypes if other is not a *VivaldiCoordinate.
func (c *VivaldiCoordinate) DistanceTo(other Coordinate) float64 {
	o, ok := other.(*VivaldiCoordinate)
	if !ok {
		panic(fmt.Errorf("%w: got %T", ErrMixedCoordinateTypes, other))
	}
	return euclideanNorm(subtract(c.Position, o.Position)) + c.Height + o.Height
}

// applyForce moves c's position by force along the unit vector from
// other towards c, adjusts c's height proportionally when the two
// positions differ, and then clamps the height to vivaldiHeightFloor.
func (c *VivaldiCoordinate) applyForce(rnd *RandSource, force float64, other *VivaldiCoordinate) {
	unit, norm := unitVectorAt(rnd, c.Position, other.Position)
	for i := range c.Position {
		c.Position[i] += unit[i] * force
	}
	if norm > 0 {
		c.Height += (c.Height + other.Height) * force / norm
	}
	c.Height = math.Max(c.Height, vivaldiHeightFloor)
}

// VivaldiUpdate runs one Vivaldi update step for node given a fresh RTT
// sample to other. Either Node may be seeing its first
// sample, in which case a coordinate is created for it at the origin.
// It panics with ErrMixedCoordinateTypes if other already carries a
// non-Vivaldi coordinate.
func VivaldiUpdate(rnd *RandSource, node, other *Node, rtt float64) {
	if node.Coordinate == nil {
		node.Coordinate = NewVivaldiCoordinate()
	}
	self, ok := node.Coordinate.(*VivaldiCoordinate)
	if !ok {
		panic(fmt.Errorf("%w: node %s has coordinate type %T", ErrMixedCoordinateTypes, node.Name, node.Coordinate))
	}

	if other.Coordinate == nil {
		other.Coordinate = NewVivaldiCoordinate()
	}
	peer, ok := other.Coordinate.(*VivaldiCoordinate)
	if !ok {
		panic(fmt.Errorf("%w: node %s has coordinate type %T", ErrMixedCoordinateTypes, other.Name, other.Coordinate))
	}

	weight := self.Error / (self.Error + peer.Error)

	oldDistance := euclideanNorm(subtract(self.Position, peer.Position)) + self.Height + peer.Height
	sampleError := math.Abs(oldDistance-rtt) / rtt

	self.Error = sampleError*vivaldiCE*weight + self.Error*(1-vivaldiCE*weight)
	self.Error = math.Min(self.Error, vivaldiMaxError)

	delta := vivaldiCC * weight
	force := delta * (rtt - oldDistance)
	self.applyForce(rnd, force, peer)
	self.Runs++
}

// subtract returns a - b element-wise.
func subtract(a, b [vivaldiDimensions]float64) [vivaldiDimensions]float64 {
	var out [vivaldiDimensions]float64
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return out
}

// euclideanNorm returns the L2 norm of v.
func euclideanNorm(v [vivaldiDimensions]float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// unitVectorAt returns the unit vector pointing from v2 towards v1,
// and the pre-normalization norm. When v1 and v2 coincide there is no
// well-defined direction, so a random unit vector drawn from the shared
// deterministic random source is used instead, and the reported norm is
// zero.
func unitVectorAt(rnd *RandSource, v1, v2 [vivaldiDimensions]float64) ([vivaldiDimensions]float64, float64) {
	result := subtract(v1, v2)
	norm := euclideanNorm(result)
	if norm > 0 {
		var unit [vivaldiDimensions]float64
		for i := range result {
			unit[i] = result[i] / norm
		}
		return unit, norm
	}

	var random [vivaldiDimensions]float64
	for i := range random {
		random[i] = rnd.NormFloat64()
	}
	randomNorm := euclideanNorm(random)
	var unit [vivaldiDimensions]float64
	for i := range random {
		unit[i] = random[i] / randomNorm
	}
	return unit, 0.0
}
