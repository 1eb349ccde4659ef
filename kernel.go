package netsim

//
// Discrete-event kernel: a cooperative scheduler over a virtual clock
//

import (
	"github.com/google/btree"
)

// Interrupted is returned by [Process.Timeout] in place of its normal
// nil result when the wait was cancelled by [Process.Interrupt].
// [Store.Get] reports the same case as ok=false plus the interrupt's
// cause.
type Interrupted struct {
	// Cause is the value passed to Interrupt.
	Cause any
}

// event is a scheduled wakeup, ordered by (time, seq) so that FIFO
// ordering holds among events due at the same virtual time.
type event struct {
	time float64
	seq  uint64
	fire func()
}

// Less implements btree.Item.
func (e *event) Less(than btree.Item) bool {
	o := than.(*event)
	if e.time != o.time {
		return e.time < o.time
	}
	return e.seq < o.seq
}

// Environment is a single-threaded, cooperative discrete-event
// scheduler with a virtual clock. Only one [Process] runs at a time;
// it runs until it suspends at a yield point (Timeout, a Store's Get,
// AllOf, or until it is interrupted). A Store's Put never suspends
// its caller.
type Environment struct {
	logger Logger
	now    float64
	seq    uint64
	queue  *btree.BTree

	// Metrics, if non-nil, receives flow/rebalance/message observability
	// updates. A nil Metrics silently disables all recording.
	Metrics *Metrics
}

// NewEnvironment creates an Environment whose clock starts at zero.
func NewEnvironment(logger Logger) *Environment {
	return &Environment{logger: logger, queue: btree.New(32)}
}

// Now returns the current virtual time, in seconds.
func (env *Environment) Now() float64 {
	return env.now
}

// nextSeq returns a strictly increasing sequence number, used to break
// time ties in FIFO order.
func (env *Environment) nextSeq() uint64 {
	env.seq++
	return env.seq
}

// scheduleAfter schedules fire to run delay seconds from now and
// returns the event handle (so a caller can cancel it before it
// fires).
func (env *Environment) scheduleAfter(delay float64, fire func()) *event {
	e := &event{time: env.now + delay, seq: env.nextSeq(), fire: fire}
	env.queue.ReplaceOrInsert(e)
	return e
}

// cancel removes e from the queue if it is still pending.
func (env *Environment) cancel(e *event) {
	env.queue.Delete(e)
}

// resumeTurn hands control to p, passing it cause as the result of its
// pending suspension, and blocks until p suspends again or finishes.
// Calling this from within another Process's body (e.g. to deliver an
// interrupt) nests correctly: the caller's goroutine blocks on
// p.turnDone while p's goroutine runs, and control returns to the
// caller once p yields again.
func (env *Environment) resumeTurn(p *Process, cause any) {
	if !p.alive {
		return
	}
	p.resume <- cause
	<-p.turnDone
}

// Run advances the simulation, firing every scheduled event with
// time <= until, in (time, seq) order.
func (env *Environment) Run(until float64) {
	for {
		item := env.queue.Min()
		if item == nil {
			return
		}
		e := item.(*event)
		if e.time > until {
			return
		}
		env.queue.Delete(item)
		env.now = e.time
		e.fire()
	}
}

// RunUntilIdle advances the simulation until no events remain pending.
func (env *Environment) RunUntilIdle() {
	for {
		item := env.queue.Min()
		if item == nil {
			return
		}
		e := item.(*event)
		env.queue.Delete(item)
		env.now = e.time
		e.fire()
	}
}

// Process is a cooperatively-scheduled unit of simulation logic,
// backed by a goroutine that only ever runs between two suspension
// points.
type Process struct {
	name string
	env  *Environment

	resume   chan any
	turnDone chan struct{}
	alive    bool

	pendingEvent  *event
	cancelPending func()
}

// Name returns the process's human-readable name.
func (p *Process) Name() string {
	return p.name
}

// Alive reports whether the process's body has not yet returned.
func (p *Process) Alive() bool {
	return p.alive
}

// Spawn starts body as a new Process named name. It blocks until body
// reaches its first suspension point or returns, so that by the time
// Spawn returns the scheduler is back to a single logical thread of
// control.
func (env *Environment) Spawn(name string, body func(p *Process)) *Process {
	p := &Process{
		name:     name,
		env:      env,
		resume:   make(chan any),
		turnDone: make(chan struct{}),
		alive:    true,
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				if err, ok := r.(error); ok && isEntityScopedFatal(err) {
					if env.logger != nil {
						env.logger.Warnf("process %s terminated: %v", p.name, err)
					}
				} else {
					panic(r)
				}
			}
			p.alive = false
			p.turnDone <- struct{}{}
		}()
		body(p)
	}()
	<-p.turnDone
	return p
}

// parkSelf suspends the calling goroutine until resumeTurn delivers a
// value, registering cancel so that Interrupt can unregister this
// suspension before resuming with an Interrupted cause.
func (p *Process) parkSelf(cancel func()) any {
	p.cancelPending = cancel
	p.turnDone <- struct{}{}
	v := <-p.resume
	p.cancelPending = nil
	return v
}

// Timeout suspends the process for delay seconds of virtual time. It
// returns a non-nil *Interrupted if the wait was cancelled early by
// Interrupt.
func (p *Process) Timeout(delay float64) any {
	e := p.env.scheduleAfter(delay, func() {
		p.pendingEvent = nil
		p.env.resumeTurn(p, nil)
	})
	p.pendingEvent = e
	return p.parkSelf(func() {
		p.env.cancel(e)
		p.pendingEvent = nil
	})
}

// Interrupt cancels p's pending suspension (a Timeout or a Store Get)
// and resumes it immediately with an *Interrupted carrying cause. It
// is a no-op if p is not alive or not currently suspended.
func (p *Process) Interrupt(cause any) {
	if !p.alive || p.cancelPending == nil {
		return
	}
	cancel := p.cancelPending
	p.cancelPending = nil
	cancel()
	p.env.resumeTurn(p, &Interrupted{Cause: cause})
}

// AllOf runs each of ops in sequence, in the calling process, and
// collects their results in order. The ops are not started together:
// each one's wait begins only after the previous one has finished, so
// the total wait is the sum of the individual waits.
func (p *Process) AllOf(ops ...func() any) []any {
	results := make([]any, len(ops))
	for i, op := range ops {
		results[i] = op()
	}
	return results
}
