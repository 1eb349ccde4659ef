package netsim

//
// Error kinds
//

import (
	stderrors "errors"

	"github.com/pkg/errors"
)

// ErrDuplicateAddr indicates that a name has already been added to a topology.
var ErrDuplicateAddr = stderrors.New("netsim: node name already present in topology")

// ErrNoRoute indicates that Graph.Path found no path between two distinct
// vertices. Reported to the caller: a Flow aborts and the bandwidth graph
// entry for that pair is omitted.
var ErrNoRoute = stderrors.New("netsim: no route between source and destination")

// ErrInvalidTopology indicates a Node-to-Node direct edge, a computed
// path with no recorded edge between two consecutive vertices, or a
// Flow whose Route has no hops. Fatal: aborts the simulation.
var ErrInvalidTopology = stderrors.New("netsim: invalid topology")

// ErrUnsetCoordinate indicates DistanceTo was called on a Node (or
// Coordinate) without a coordinate assigned. Fatal.
var ErrUnsetCoordinate = stderrors.New("netsim: node has no coordinate set")

// ErrMixedCoordinateTypes indicates Vivaldi was executed against a
// Coordinate of a foreign concrete type. Fatal.
var ErrMixedCoordinateTypes = stderrors.New("netsim: nodes have different coordinate types")

// ErrZeroGoodput indicates a Flow's goodput collapsed to zero or less.
// Fatal to that Flow only.
var ErrZeroGoodput = stderrors.New("netsim: flow goodput is zero or negative")

// ErrUnexpectedMessage indicates a process received a message Kind it
// does not handle. Fatal (assertion).
var ErrUnexpectedMessage = stderrors.New("netsim: unexpected message kind")

// ErrExternalFetchFailure indicates an inter-region latency matrix
// fetch did not return success. Surfaced to the caller by the external
// dataset fetchers that sit outside this package.
var ErrExternalFetchFailure = stderrors.New("netsim: external fetch did not succeed")

// fatalf wraps msg with args using pkg/errors so panics carry a stack
// trace, then panics. Used for the error kinds that abort the offending
// flow/process/simulation rather than being returned through an error
// value.
func fatalf(kind error, format string, args ...any) {
	panic(errors.Wrapf(kind, format, args...))
}

// isEntityScopedFatal reports whether err is scoped to a single flow or
// process rather than being a topology-invariant violation that must
// abort the whole simulation. [Environment.Spawn] recovers exactly
// these from a Process's goroutine so that one flow's ZeroGoodput, or
// one process's UnexpectedMessage, can't take the whole simulation down
// with it.
func isEntityScopedFatal(err error) bool {
	return stderrors.Is(err, ErrZeroGoodput) || stderrors.Is(err, ErrUnexpectedMessage)
}
