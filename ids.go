package netsim

//
// Name/ID generation
//

import (
	"fmt"
	"sync/atomic"
)

// NameFactory mints unique, deterministic names for a category of entity
// (e.g. a region's brokers, a region's clients). Injecting a factory,
// instead of sharing process-wide counters, keeps concurrently-running
// tests from observing each other's numbering.
type NameFactory struct {
	counters map[string]*atomic.Int64
}

// NewNameFactory creates an empty NameFactory.
func NewNameFactory() *NameFactory {
	return &NameFactory{counters: map[string]*atomic.Int64{}}
}

// Next returns "<category>_<n>" where n starts at 1 and increments once
// per call for that category.
func (f *NameFactory) Next(category string) string {
	counter, ok := f.counters[category]
	if !ok {
		counter = &atomic.Int64{}
		f.counters[category] = counter
	}
	return fmt.Sprintf("%s_%d", category, counter.Add(1))
}

// defaultLinkID names unlabeled Links for log messages ("link3", ...).
// A package-level atomic counter is fine here: Link identity itself is
// by object identity, and this counter exists purely for human-readable
// logging, not for anything observable by simulation semantics.
var defaultLinkID = &atomic.Int64{}

// newLinkLabel returns a new, unique label for an unlabeled Link.
func newLinkLabel() string {
	return fmt.Sprintf("link%d", defaultLinkID.Add(1))
}
