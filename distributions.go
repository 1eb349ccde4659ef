package netsim

//
// Latency distributions and the shared deterministic random source
//

import (
	"math"

	"golang.org/x/exp/rand"
)

// RandSource is the single reproducible randomness source shared by
// latency sampling, broker-selection tie-breaks, and Vivaldi tie-breaks.
// Spec §9 calls for one seeded source so that scenario replays are
// deterministic; wrapping golang.org/x/exp/rand.Rand rather than handing
// out *rand.Rand directly keeps callers from reaching for math/rand.
type RandSource struct {
	rnd *rand.Rand
}

// NewRandSource creates a RandSource seeded with seed.
func NewRandSource(seed uint64) *RandSource {
	return &RandSource{rnd: rand.New(rand.NewSource(seed))}
}

// Float64 returns a pseudo-random float in [0, 1).
func (r *RandSource) Float64() float64 {
	return r.rnd.Float64()
}

// NormFloat64 returns a pseudo-random sample from the standard normal
// distribution.
func (r *RandSource) NormFloat64() float64 {
	return r.rnd.NormFloat64()
}

// Intn returns a pseudo-random int in [0, n).
func (r *RandSource) Intn(n int) int {
	return r.rnd.Intn(n)
}

// LatencyDistribution is a three-parameter lognormal latency model,
// ported from the shape/loc/scale triples the source calibrated per
// link class (LAN, WLAN, business ISP, mobile ISP).
type LatencyDistribution struct {
	// Shape is the lognormal shape parameter (sigma of the underlying
	// normal).
	Shape float64

	// Loc shifts the distribution's support.
	Loc float64

	// Scale is the lognormal scale parameter (exp(mu) of the underlying
	// normal).
	Scale float64
}

// Common calibrated latency distributions (one-way, milliseconds),
// ported from the source's per-medium lognormal fits.
var (
	LatencyLAN         = &LatencyDistribution{Shape: 0.25, Loc: 0.35, Scale: 0.16}
	LatencyWLAN        = &LatencyDistribution{Shape: 0.635, Loc: 1.18, Scale: 3.27}
	LatencyBusinessISP = &LatencyDistribution{Shape: 0.87, Loc: 5.95, Scale: 1.21}
	LatencyMobileISP   = &LatencyDistribution{Shape: 0.49, Loc: 16.2, Scale: 8.02}
)

// Sample draws a latency value from the distribution using rnd.
func (d *LatencyDistribution) Sample(rnd RandSourceLike) float64 {
	// Lognormal(shape, scale) sample: exp(shape*Z + log(scale)) + loc,
	// where Z is a standard normal draw.
	z := rnd.NormFloat64()
	return math.Exp(d.Shape*z+math.Log(d.Scale)) + d.Loc
}

// Mode returns the distribution's mode, used as the deterministic
// "mode latency" for route caching.
func (d *LatencyDistribution) Mode() float64 {
	return math.Exp(math.Log(d.Scale)-d.Shape*d.Shape) + d.Loc
}

// RandSourceLike is satisfied by *RandSource; it exists so distribution
// sampling can be unit-tested against a fake without pulling in the real
// generator.
type RandSourceLike interface {
	NormFloat64() float64
}
