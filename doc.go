// Package netsim is a discrete-event simulator for edge/fog messaging
// overlays.
//
// It synthesizes plausible network topologies spanning IoT devices, edge
// compute boxes, cloudlets, and cloud regions ([Graph], [Topology]);
// models TCP-like [Flow]s competing for [Link] bandwidth with max-min
// fairness; and runs a publish/subscribe broker overlay (the EMMA
// scenario, see [Scenario]) over that topology to evaluate client-to-
// broker assignment strategies.
//
// The simulation runs on a single-threaded cooperative kernel
// ([Environment]) with a virtual clock: [Process]es are goroutines that
// may only suspend at a yield point ([Process.Timeout], [Store.Get],
// [Process.AllOf], [Process.Interrupt]), so that
// between suspensions a process mutates shared topology/link state
// without preemption, exactly as a cooperative scheduler would.
//
// A [Protocol] delivers typed [Message] envelopes between [Node]s after a
// [Topology]-computed latency, depositing them into per-destination
// filterable [Store] mailboxes. Three kinds of [NodeProcess] (broker,
// client, coordinator) implement the EMMA pub/sub overlay on top of the
// Protocol: subscription, publication forwarding, optional
// acknowledgements, shutdown/reconnect orchestration, and latency-aware
// client reassignment.
//
// A secondary component, [VivaldiCoordinate], assigns each Node a
// synthetic position in a low-dimensional space such that Euclidean
// distance approximates round-trip latency, updated online from pairwise
// RTT samples.
//
// This package models flow-level bandwidth sharing and message-level
// protocol behavior; it does not model individual packets, congestion
// control beyond max-min fairness, or real wall-clock execution.
package netsim
