package netsim

//
// Per-destination filterable mailboxes
//

// pendingGet is a suspended Get waiting for a message the filter
// accepts.
type pendingGet struct {
	proc   *Process
	filter func(any) bool
}

// Store is a FIFO mailbox with predicate-based retrieval: Put never
// blocks; Get suspends the calling Process until a matching item is
// available, scanning pending getters in arrival order so the first
// waiting, matching getter wins.
type Store struct {
	env     *Environment
	items   []any
	pending []*pendingGet
}

// NewStore creates an empty Store bound to env.
func NewStore(env *Environment) *Store {
	return &Store{env: env}
}

// Put enqueues item. If a pending Get's filter accepts it, item is
// delivered directly to that Process (resuming it immediately, nested
// within the caller's turn); otherwise it is appended to the backlog
// for a future Get.
func (s *Store) Put(item any) {
	for i, pg := range s.pending {
		if pg.filter == nil || pg.filter(item) {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			s.env.resumeTurn(pg.proc, item)
			return
		}
	}
	s.items = append(s.items, item)
}

// Get suspends proc until an item accepted by filter (or any item, if
// filter is nil) is available, then returns it. If the backlog already
// holds a match it is returned immediately without suspending. Returns
// ok=false if the wait was cancelled by Interrupt, in which case cause
// is the interrupt's cause.
func (s *Store) Get(proc *Process, filter func(any) bool) (item any, ok bool, cause any) {
	for i, it := range s.items {
		if filter == nil || filter(it) {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return it, true, nil
		}
	}

	pg := &pendingGet{proc: proc, filter: filter}
	s.pending = append(s.pending, pg)

	result := proc.parkSelf(func() {
		s.removePending(pg)
	})

	if interrupted, isInterrupted := result.(*Interrupted); isInterrupted {
		return nil, false, interrupted.Cause
	}
	return result, true, nil
}

// removePending drops pg from the pending-getter list, if still
// present (it may already have been delivered to).
func (s *Store) removePending(pg *pendingGet) {
	for i, p := range s.pending {
		if p == pg {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}
