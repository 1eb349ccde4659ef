package netsim

//
// Flow lifecycle: a long-running byte transfer competing for link
// bandwidth
//

import (
	"fmt"
	"math"
)

// Flow is a long-running byte transfer along a [Route]. It registers
// with every [Link] on the route's Hops and receives a max-min fair
// share of each; when that share changes it is interrupted mid-sleep
// and recomputes its remaining transmission time.
type Flow struct {
	// Size is the flow's total size in bytes.
	Size int64

	// Route is the path the flow's bytes travel.
	Route *Route

	// Sent is how many bytes have been accounted for so far.
	Sent float64

	env    *Environment
	logger Logger
	proc   *Process
}

// NewFlow creates a Flow of size bytes along route. Call Start to
// spawn its simulation process.
func NewFlow(env *Environment, logger Logger, size int64, route *Route) *Flow {
	return &Flow{Size: size, Route: route, env: env, logger: logger}
}

// Start spawns the flow's simulation process and returns it; the
// caller can inspect Process.Alive to know when the transfer has
// completed.
func (f *Flow) Start() *Process {
	f.proc = f.env.Spawn(fmt.Sprintf("flow(%s->%s)", f.Route.Source, f.Route.Destination), f.run)
	return f.proc
}

// run is the flow's process body.
func (f *Flow) run(p *Process) {
	if len(f.Route.Hops) == 0 {
		fatalf(ErrInvalidTopology, "no hops in route from %s to %s", f.Route.Source, f.Route.Destination)
	}

	// rough TCP handshake estimate; the handshake completes before the
	// flow registers with its links and computes goodput.
	connectionTime := 1.5 * (f.Route.RTT / 1000)
	if connectionTime > 0 {
		p.Timeout(connectionTime)
	}

	addAndRebalance(f)
	// whether this transfer succeeds or a ZeroGoodput error terminates it
	// early, the flow must always deregister from every hop it registered
	// with.
	defer removeAndRebalance(f)

	goodput := f.goodputBps()
	if goodput <= 0 {
		fatalf(ErrZeroGoodput, "flow %s -> %s", f.Route.Source, f.Route.Destination)
	}

	remaining := float64(f.Size)
	transmissionTime := remaining / goodput

	for {
		started := f.env.Now()
		result := p.Timeout(transmissionTime)

		interrupted, wasInterrupted := result.(*Interrupted)
		if !wasInterrupted {
			break
		}

		elapsed := f.env.Now() - started
		f.Sent += goodput * elapsed
		if f.Sent >= float64(f.Size) {
			break
		}

		f.logger.Debugf("flow %s -> %s interrupted, new bw %.2f", f.Route.Source, f.Route.Destination, interrupted.Cause)

		goodput = f.goodputBps()
		if goodput <= 0 {
			fatalf(ErrZeroGoodput, "flow %s -> %s", f.Route.Source, f.Route.Destination)
		}
		transmissionTime = (float64(f.Size) - f.Sent) / goodput
	}

	f.Sent = float64(f.Size)
	f.env.Metrics.observeFlowCompleted()
}

// goodputBps returns the flow's current goodput: the minimum over its
// route's Hops of each Link's allocated bytes/sec for this flow.
func (f *Flow) goodputBps() float64 {
	min := math.Inf(1)
	for _, link := range f.Route.Hops {
		bps, ok := link.GoodputBps(f)
		if !ok {
			continue
		}
		if bps < min {
			min = bps
		}
	}
	if math.IsInf(min, 1) {
		return 0
	}
	return min
}

// notifyRebalance interrupts the flow's process with its new
// allocation, called by rebalance for every non-triggering flow whose
// allocation changed.
func (f *Flow) notifyRebalance(newAllocationMbps float64) {
	if f.proc != nil {
		f.proc.Interrupt(newAllocationMbps)
	}
}
