package netsim

//
// Scenario driver: spawns brokers/clients/a coordinator over simulated
// time and narrates a concrete EMMA run
//

import (
	"encoding/csv"
	"io"
)

// regionLinkBandwidth is the nominal uplink bandwidth (Mbit/s) given to
// every node materialized into a region, a fiber-to-exchange backhaul.
const regionLinkBandwidth = 1000.0

// interRegionLatencies are the one-way latency distributions (ms)
// between the three regions the EMMA scenario narrates, standing in
// for the cloudping GraphML matrix LoadInetGraph ingests in production;
// the scenario driver carries its own numbers rather than fetching a
// dataset live.
var interRegionLatencies = map[[2]string]*LatencyDistribution{
	{"eu-central", "eu-west"}: {Shape: 0.2, Loc: 8, Scale: 1.1},
	{"eu-central", "us-east"}: {Shape: 0.2, Loc: 45, Scale: 1.3},
	{"eu-west", "us-east"}:    {Shape: 0.2, Loc: 38, Scale: 1.2},
}

// ScenarioOptions configures a Scenario, mirroring EmmaScenario's
// constructor keyword arguments.
type ScenarioOptions struct {
	// UseVivaldi runs Vivaldi on every node and routes the coordinator's
	// "possible brokers" grouping, and pingLoop target selection, through
	// coordinate distance rather than sampled latency.
	UseVivaldi bool

	// ActionIntervalMinutes is the virtual-time gap, in minutes, between
	// each narrated scenario step.
	ActionIntervalMinutes float64

	// ClientsPerGroup is how many clients spawnClientGroup creates.
	ClientsPerGroup int

	// PublishersPerClient is how many RunPublisher processes each
	// subscribing client also runs.
	PublishersPerClient int

	// PublishIntervalSeconds is the gap between successive publishes of
	// a single publisher.
	PublishIntervalSeconds float64

	// EnableAcks toggles Protocol acknowledgement handshakes.
	EnableAcks bool

	// PingAllBrokers runs ClientProcess.PingAll on every client that
	// isn't already running Vivaldi's ping loop.
	PingAllBrokers bool

	// Trace receives the CSV message trace, if non-nil.
	Trace io.Writer

	// Seed seeds the scenario's single RandSource.
	Seed uint64

	// Metrics, if non-nil, receives flow/rebalance/message observability
	// updates for the scenario's Environment.
	Metrics *Metrics
}

// DefaultScenarioOptions mirrors EmmaScenario's constructor defaults.
func DefaultScenarioOptions() ScenarioOptions {
	return ScenarioOptions{
		ActionIntervalMinutes:  1,
		ClientsPerGroup:        10,
		PublishersPerClient:    7,
		PublishIntervalSeconds: 0.1,
		PingAllBrokers:         true,
	}
}

// Scenario owns an Environment, Topology and Protocol, and narrates an
// EMMA pub/sub overlay run across spawned BrokerProcess/ClientProcess/
// CoordinatorProcess instances.
type Scenario struct {
	Name string

	Env      *Environment
	Topology *Topology
	Protocol *Protocol
	Registry *BrokerRegistry
	Clients  *ClientRegistry

	logger Logger
	rnd    *RandSource
	opts   ScenarioOptions

	regions       map[string]bool
	brokerNames   *NameFactory
	clientNames   *NameFactory
	coordinator   *CoordinatorProcess
}

// NewScenario creates a Scenario named name, ready to have regions
// wired in (see WireRegion) before Run/RunEMMA is called. A nil logger
// discards scenario narration.
func NewScenario(name string, logger Logger, opts ScenarioOptions) *Scenario {
	if logger == nil {
		logger = &NullLogger{}
	}
	rnd := NewRandSource(opts.Seed)
	env := NewEnvironment(logger)
	env.Metrics = opts.Metrics
	topology := NewTopology(logger)

	var protoOpts []ProtocolOption
	protoOpts = append(protoOpts, WithAcks(opts.EnableAcks))
	if opts.Trace != nil {
		protoOpts = append(protoOpts, WithTraceWriter(csv.NewWriter(opts.Trace)))
	}

	return &Scenario{
		Name:        name,
		Env:         env,
		Topology:    topology,
		Protocol:    NewProtocol(env, topology, rnd, protoOpts...),
		Registry:    NewBrokerRegistry(),
		Clients:     NewClientRegistry(),
		logger:      logger,
		rnd:         rnd,
		opts:        opts,
		regions:     map[string]bool{},
		brokerNames: NewNameFactory(),
		clientNames: NewNameFactory(),
	}
}

// WireRegion registers a region so broker/client nodes can be
// materialized into it, connecting it by a Relay to every
// already-wired region using the calibrated interRegionLatencies table
// (falling back to LatencyWLAN if the pair is unlisted).
func (s *Scenario) WireRegion(region string) {
	if s.regions[region] {
		return
	}
	for other := range s.regions {
		dist := interRegionLatencies[[2]string{region, other}]
		if dist == nil {
			dist = interRegionLatencies[[2]string{other, region}]
		}
		if dist == nil {
			dist = LatencyWLAN
		}
		s.Topology.AddConnection(&Connection{
			Source:      Relay("internet_" + region),
			Target:      Relay("internet_" + other),
			LatencyDist: dist,
		}, false)
	}
	s.regions[region] = true
}

// materialize attaches node to region's Relay via a dedicated Link,
// mirroring NodeCell.materialize's "node -> link -> backhaul" shape.
func (s *Scenario) materialize(node *Node, region string) {
	s.WireRegion(region)
	link := NewLink(regionLinkBandwidth, map[string]string{"name": "link_" + node.Name, "region": region})
	s.Topology.AddConnection(&Connection{Source: node, Target: link}, true)
	s.Topology.AddConnection(&Connection{Source: link, Target: Relay("internet_" + region)}, true)
}

// SpawnBroker materializes a new broker node in region, spawns its
// receive loop, and, when Vivaldi is enabled, its ping-all loop
// against every currently-known broker.
func (s *Scenario) SpawnBroker(region string) *BrokerProcess {
	node := NewNode(s.brokerNames.Next(region + "_broker")).WithLabel("region", region)
	s.materialize(node, region)

	bp := NewBrokerProcess(s.Env, s.Protocol, node, s.Registry, s.opts.UseVivaldi, s.rnd, s.logger)
	bp.Run()
	if s.opts.UseVivaldi {
		bp.PingAllBrokers()
	}
	return bp
}

// SpawnClient materializes a new client node in region, subscribes it
// to topic, and spawns its receive loop and publishers.
func (s *Scenario) SpawnClient(region, topic string, publishers int) *ClientProcess {
	node := NewNode(s.clientNames.Next(region + "_client")).WithLabel("region", region)
	s.materialize(node, region)

	initialBroker := s.Registry.Brokers[0].Node()
	cp := NewClientProcess(s.Env, s.Protocol, node, initialBroker, s.opts.UseVivaldi, s.rnd, s.logger)
	cp.Subscribe(topic)
	cp.Run()
	for i := 0; i < publishers; i++ {
		cp.RunPublisher(topic, s.opts.PublishIntervalSeconds)
	}

	switch {
	case s.opts.UseVivaldi:
		cp.RunPingLoop()
	case s.opts.PingAllBrokers:
		cp.PingAll(func() []*Node {
			var running []*Node
			for _, b := range s.Registry.Running() {
				running = append(running, b.Node())
			}
			return running
		}, 15)
	}

	s.Clients.Add(cp)
	return cp
}

// SpawnClientGroup spawns ClientsPerGroup clients in region, each
// subscribing to region's own name as topic and running
// PublishersPerClient publishers; a default client group is 10 VMs,
// each running a subscriber and 7 publishers.
func (s *Scenario) SpawnClientGroup(region string) {
	for i := 0; i < s.opts.ClientsPerGroup; i++ {
		s.SpawnClient(region, region, s.opts.PublishersPerClient)
	}
}

// SpawnCoordinator creates the overlay's single CoordinatorProcess over
// the scenario's shared broker and client registries (so brokers and
// clients spawned later are covered too) and starts its reconnect loop. The
// coordinator lives in eu-central, so its control messages pay real
// route latencies like everything else's.
func (s *Scenario) SpawnCoordinator() *CoordinatorProcess {
	node := NewNode("coordinator")
	s.materialize(node, "eu-central")
	cp := NewCoordinatorProcess(s.Env, s.Topology, s.Protocol, node, s.Registry, s.Clients, s.opts.UseVivaldi, s.rnd, s.logger)
	cp.Run()
	s.coordinator = cp
	return cp
}

// sleepSeconds is the virtual-time gap between narrated scenario steps.
func (s *Scenario) sleepSeconds() float64 {
	return s.opts.ActionIntervalMinutes * 60
}

// RunEMMA narrates the concrete 9-step EMMA scenario, spawned as its
// own Process so every SpawnX call above runs inside the cooperative
// scheduler rather than at Go call time.
func (s *Scenario) RunEMMA() *Process {
	return s.Env.Spawn("scenario("+s.Name+")", func(p *Process) {
		s.log("===== STARTING SCENARIO " + s.Name + " =====")

		s.log("[0] spawn coordinator and initial broker")
		s.SpawnCoordinator()
		s.SpawnBroker("eu-central")
		p.Timeout(s.sleepSeconds())

		s.log("[1] topic global: one publisher and subscriber in us-east and eu-west, one subscriber in eu-central")
		s.SpawnClient("eu-west", "global", s.opts.PublishersPerClient)
		centralClient := s.SpawnClient("eu-central", "global", 0)
		s.SpawnClient("us-east", "global", s.opts.PublishersPerClient)
		p.Timeout(s.sleepSeconds())

		s.log("[2] client group appears in us-east")
		s.SpawnClientGroup("us-east")
		p.Timeout(s.sleepSeconds())

		s.log("[3] broker spawns in eu-west")
		s.SpawnBroker("eu-west")
		p.Timeout(s.sleepSeconds())

		s.log("[4] client group appears in eu-west")
		s.SpawnClientGroup("eu-west")
		p.Timeout(s.sleepSeconds())

		s.log("[5] broker spawns in us-east")
		usEastBroker := s.SpawnBroker("us-east")
		p.Timeout(s.sleepSeconds())

		s.log("[6] broker spawns in eu-west")
		s.SpawnBroker("eu-west")
		p.Timeout(s.sleepSeconds())

		s.log("[7] subscriber to topic global in eu-central disappears")
		s.waitFor(p, centralClient.Shutdown())
		p.Timeout(s.sleepSeconds())

		s.log("[8] broker shuts down in us-east")
		s.waitFor(p, usEastBroker.Shutdown())
	})
}

// Run runs RunEMMA to completion over ten action intervals of virtual
// time.
func (s *Scenario) Run() {
	s.RunEMMA()
	totalSteps := 10
	s.Env.Run(float64(totalSteps) * s.sleepSeconds())
}

// waitFor polls proc, via p, until it has finished running; the kernel
// has no native process-join primitive, so a short poll stands in for
// one.
func (s *Scenario) waitFor(p *Process, proc *Process) {
	for proc.Alive() {
		p.Timeout(0.01)
	}
}

// log prefixes message with the scenario's current virtual mm:ss clock.
func (s *Scenario) log(message string) {
	minutes := int(s.Env.Now()) / 60
	seconds := int(s.Env.Now()) % 60
	s.logger.Infof("%02d:%02d %s", minutes, seconds, message)
}
