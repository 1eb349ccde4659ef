package netsim

//
// End-to-end broker-overlay scenarios, exercised through the Client/
// Broker/Coordinator process API rather than the full Scenario driver
// (which runs at a much coarser virtual-time grain than these
// assertions need).
//

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// chainConnect wires source -- link -- destination with the full oneWayMs
// latency charged on the link's far edge (zero on the near edge), so a
// path's total one-way latency equals the sum of each hop's oneWayMs.
func chainConnect(topo *Topology, source *Node, link *Link, destination *Node, oneWayMs float64) {
	topo.AddConnection(&Connection{Source: source, Target: link}, false)
	topo.AddConnection(&Connection{Source: link, Target: destination, Latency: oneWayMs}, false)
}

var _ = Describe("pub/sub fan-out", func() {
	It("delivers exactly one Pub to the lone subscriber at send_time+10ms, with two PubAcks", func() {
		env := NewEnvironment(nil)
		topo := NewTopology(nil)
		rnd := NewRandSource(1)
		protocol := NewProtocol(env, topo, rnd)

		c1n, c2n, b1n := NewNode("c1"), NewNode("c2"), NewNode("b1")
		chainConnect(topo, c1n, NewLink(1000, nil), b1n, 5)
		chainConnect(topo, c2n, NewLink(1000, nil), b1n, 5)

		registry := NewBrokerRegistry()
		b1 := NewBrokerProcess(env, protocol, b1n, registry, false, rnd, &NullLogger{})
		c1 := NewClientProcess(env, protocol, c1n, b1n, false, rnd, &NullLogger{})
		c2 := NewClientProcess(env, protocol, c2n, b1n, false, rnd, &NullLogger{})

		b1.Run()
		c1.Run()
		c2.Run()

		c2.Subscribe("t")
		env.RunUntilIdle()

		env.Spawn("publish-once", func(p *Process) {
			c1.SendOn(p, c1.SelectedBroker, &Message{Kind: KindPub, Topic: "t", Data: "payload"})
			c1.ReceiveOn(p, KindPubAck)
		})
		env.RunUntilIdle()

		var original *Message
		var delivered []*Message
		pubAcks := 0
		for _, msg := range protocol.History() {
			switch {
			case msg.Kind == KindPub && msg.Source == c1n:
				original = msg
			case msg.Kind == KindPub && msg.Destination == c2n:
				delivered = append(delivered, msg)
			case msg.Kind == KindPubAck:
				pubAcks++
			}
		}

		Expect(original).NotTo(BeNil())
		Expect(delivered).To(HaveLen(1))
		Expect(delivered[0].Timestamp + delivered[0].Latency).To(Equal(original.Timestamp + 10))
		Expect(pubAcks).To(Equal(2))
	})
})

var _ = Describe("inter-broker forwarding", func() {
	It("forwards across exactly one peer hop, stamps Hops, and never loops back", func() {
		env := NewEnvironment(nil)
		topo := NewTopology(nil)
		rnd := NewRandSource(1)
		protocol := NewProtocol(env, topo, rnd)

		c1n, c2n := NewNode("c1"), NewNode("c2")
		b1n, b2n := NewNode("b1"), NewNode("b2")
		chainConnect(topo, c1n, NewLink(1000, nil), b1n, 2)
		chainConnect(topo, c2n, NewLink(1000, nil), b2n, 2)
		chainConnect(topo, b1n, NewLink(1000, nil), b2n, 20)

		registry := NewBrokerRegistry()
		b1 := NewBrokerProcess(env, protocol, b1n, registry, false, rnd, &NullLogger{})
		b2 := NewBrokerProcess(env, protocol, b2n, registry, false, rnd, &NullLogger{})
		c1 := NewClientProcess(env, protocol, c1n, b1n, false, rnd, &NullLogger{})
		c2 := NewClientProcess(env, protocol, c2n, b2n, false, rnd, &NullLogger{})

		b1.Run()
		b2.Run()
		c1.Run()
		c2.Run()

		c2.Subscribe("t")
		env.RunUntilIdle()

		env.Spawn("publish-once", func(p *Process) {
			c1.SendOn(p, c1.SelectedBroker, &Message{Kind: KindPub, Topic: "t", Data: "payload"})
			c1.ReceiveOn(p, KindPubAck)
		})
		env.RunUntilIdle()

		var toC2 []*Message
		var b1ToB2 []*Message
		var b2ToB1 []*Message
		for _, msg := range protocol.History() {
			if msg.Kind != KindPub {
				continue
			}
			switch {
			case msg.Destination == c2n:
				toC2 = append(toC2, msg)
			case msg.Source == b1n && msg.Destination == b2n:
				b1ToB2 = append(b1ToB2, msg)
			case msg.Source == b2n && msg.Destination == b1n:
				b2ToB1 = append(b2ToB1, msg)
			}
		}

		Expect(toC2).To(HaveLen(1))
		Expect(toC2[0].Hops).To(Equal([]*Node{b1n, b2n}))
		Expect(b1ToB2).To(HaveLen(1))
		Expect(b2ToB1).To(BeEmpty())
	})
})

var _ = Describe("client reconnect", func() {
	It("migrates every subscription to the new broker and off the old one", func() {
		env := NewEnvironment(nil)
		topo := NewTopology(nil)
		rnd := NewRandSource(1)
		protocol := NewProtocol(env, topo, rnd)

		cn := NewNode("c")
		b1n, b2n := NewNode("b1"), NewNode("b2")
		chainConnect(topo, cn, NewLink(1000, nil), b1n, 1)
		chainConnect(topo, cn, NewLink(1000, nil), b2n, 1)
		chainConnect(topo, b1n, NewLink(1000, nil), b2n, 1)

		registry := NewBrokerRegistry()
		b1 := NewBrokerProcess(env, protocol, b1n, registry, false, rnd, &NullLogger{})
		b2 := NewBrokerProcess(env, protocol, b2n, registry, false, rnd, &NullLogger{})
		client := NewClientProcess(env, protocol, cn, b1n, false, rnd, &NullLogger{})

		b1.Run()
		b2.Run()
		client.Run()

		client.Subscribe("t1")
		client.Subscribe("t2")
		env.RunUntilIdle()

		Expect(b1.Subscribers["t1"]).To(HaveKey(cn))
		Expect(b1.Subscribers["t2"]).To(HaveKey(cn))

		var ack *Message
		env.Spawn("reconnect-requester", func(p *Process) {
			protocol.Send(p, b1n, cn, &Message{Kind: KindReconnectRequest, NewBroker: b2n, OptimalBroker: b2n})
			ack, _, _ = protocol.Receive(p, b1n, KindReconnectAck)
		})
		env.RunUntilIdle()

		Expect(ack).NotTo(BeNil())
		Expect(client.SelectedBroker).To(Equal(b2n))
		Expect(b2.Subscribers["t1"]).To(HaveKey(cn))
		Expect(b2.Subscribers["t2"]).To(HaveKey(cn))
		Expect(b1.Subscribers["t1"]).NotTo(HaveKey(cn))
		Expect(b1.Subscribers["t2"]).NotTo(HaveKey(cn))
	})
})

var _ = Describe("coordinator QoS monitoring", func() {
	It("asks the client to ping each running broker and collects the response", func() {
		env := NewEnvironment(nil)
		topo := NewTopology(nil)
		rnd := NewRandSource(1)
		protocol := NewProtocol(env, topo, rnd, WithAcks(false))

		cn, bn, coordn := NewNode("c"), NewNode("b"), NewNode("coord")
		chainConnect(topo, cn, NewLink(1000, nil), bn, 1)
		chainConnect(topo, coordn, NewLink(1000, nil), cn, 1)

		registry := NewBrokerRegistry()
		broker := NewBrokerProcess(env, protocol, bn, registry, false, rnd, &NullLogger{})
		client := NewClientProcess(env, protocol, cn, bn, false, rnd, &NullLogger{})
		clients := NewClientRegistry()
		clients.Add(client)
		broker.Run()
		client.Run()

		coordinator := NewCoordinatorProcess(env, topo, protocol, coordn,
			registry, clients, false, rnd, &NullLogger{})
		env.Spawn("monitor-pass", func(p *Process) {
			coordinator.doMonitoring(p, client)
		})
		env.RunUntilIdle()

		requests, responses, pings := 0, 0, 0
		for _, msg := range protocol.History() {
			switch {
			case msg.Kind == KindQoSRequest && msg.Destination == cn:
				requests++
			case msg.Kind == KindQoSResponse && msg.Destination == coordn:
				responses++
				Expect(msg.AvgRTT).To(BeNumerically(">", 0))
			case msg.Kind == KindPing && msg.Source == cn && msg.Destination == bn:
				pings++
			}
		}
		Expect(requests).To(Equal(1))
		Expect(responses).To(Equal(1))
		Expect(pings).To(Equal(10))
	})
})

var _ = Describe("coordinator hysteresis", func() {
	// fakeSubscribers fabricates n distinct *Node keys to populate a
	// broker's Subscribers map without running real Subscribe handshakes;
	// TotalSubscribers only needs the map's key count.
	fakeSubscribers := func(n int) map[*Node]bool {
		out := map[*Node]bool{}
		for i := 0; i < n; i++ {
			out[NewNode("sub")] = true
		}
		return out
	}

	setup := func(b1Count, b2Count, b3Count int) (*Environment, *Protocol, *CoordinatorProcess, *Node) {
		env := NewEnvironment(nil)
		topo := NewTopology(nil)
		rnd := NewRandSource(1)
		protocol := NewProtocol(env, topo, rnd, WithAcks(false))

		cn := NewNode("c")
		b1n, b2n, b3n := NewNode("b1"), NewNode("b2"), NewNode("b3")
		// all three brokers equidistant (1ms one-way), so they fall in the
		// same lowest-latency bucket.
		chainConnect(topo, cn, NewLink(1000, nil), b1n, 1)
		chainConnect(topo, cn, NewLink(1000, nil), b2n, 1)
		chainConnect(topo, cn, NewLink(1000, nil), b3n, 1)
		// the coordinator reaches the client over its own link, so its
		// ReconnectRequest has a route to travel.
		coordn := NewNode("coord")
		chainConnect(topo, coordn, NewLink(1000, nil), cn, 1)

		registry := NewBrokerRegistry()
		b1 := NewBrokerProcess(env, protocol, b1n, registry, false, rnd, &NullLogger{})
		b2 := NewBrokerProcess(env, protocol, b2n, registry, false, rnd, &NullLogger{})
		b3 := NewBrokerProcess(env, protocol, b3n, registry, false, rnd, &NullLogger{})
		b1.Subscribers["t"] = fakeSubscribers(b1Count)
		b2.Subscribers["t"] = fakeSubscribers(b2Count)
		b3.Subscribers["t"] = fakeSubscribers(b3Count)
		b1.Run()
		b2.Run()
		b3.Run()

		client := NewClientProcess(env, protocol, cn, b1n, false, rnd, &NullLogger{})
		client.Run()
		clients := NewClientRegistry()
		clients.Add(client)

		coordinator := NewCoordinatorProcess(env, topo, protocol, coordn,
			registry, clients, false, rnd, &NullLogger{})

		return env, protocol, coordinator, cn
	}

	reconnectRequestsTo := func(protocol *Protocol, target *Node) []*Message {
		var out []*Message
		for _, msg := range protocol.History() {
			if msg.Kind == KindReconnectRequest && msg.Destination == target {
				out = append(out, msg)
			}
		}
		return out
	}

	It("does not reconnect when the incumbent clears the hysteresis threshold (10/9/8)", func() {
		env, protocol, coordinator, cn := setup(10, 9, 8)
		env.Spawn("reconnect-pass", func(p *Process) {
			coordinator.doReconnect(p)
		})
		env.RunUntilIdle()

		Expect(reconnectRequestsTo(protocol, cn)).To(BeEmpty())
	})

	It("reconnects to the least-loaded broker once it clears the threshold (10/9/5)", func() {
		env, protocol, coordinator, cn := setup(10, 9, 5)
		env.Spawn("reconnect-pass", func(p *Process) {
			coordinator.doReconnect(p)
		})
		env.RunUntilIdle()

		reqs := reconnectRequestsTo(protocol, cn)
		Expect(reqs).To(HaveLen(1))
		Expect(reqs[0].NewBroker.Name).To(Equal("b3"))
	})
})
