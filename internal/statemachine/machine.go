package statemachine

import (
	"context"
	"sync"

	"github.com/vk/dataflow/internal/flowstate"
)

// Snapshot pairs a State with the Changes that produced it — the unit
// published on Machine.Changes().
type Snapshot struct {
	State   flowstate.State
	Changes Changes
}

// Machine is the stateful, single-threaded wrapper around Transition. It
// serialises incoming messages onto one goroutine (§5: "single-threaded
// serialisation point... each transition is atomic with respect to
// observers") and publishes one Snapshot per message that produced a
// non-empty change set.
//
// A Machine starts suspended: messages sent via Send queue (bounded by an
// internal buffer) but are not applied until Start is called, so a caller
// can install an initial snapshot and wire up downstream consumers before
// anything begins reacting to it.
type Machine struct {
	mu    sync.Mutex
	state flowstate.State

	in  chan Message
	out chan Snapshot

	startOnce sync.Once
	startedCh chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMachine creates a suspended Machine over the given initial state.
func NewMachine(initial flowstate.State) *Machine {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Machine{
		state:     initial,
		in:        make(chan Message, 256),
		out:       make(chan Snapshot, 256),
		startedCh: make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	m.wg.Add(1)
	go m.loop()
	return m
}

// Start releases the machine from suspension. Safe to call more than once;
// only the first call has an effect.
func (m *Machine) Start() {
	m.startOnce.Do(func() { close(m.startedCh) })
}

// State returns the most recently committed snapshot.
func (m *Machine) State() flowstate.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Send enqueues msg for processing. It blocks only while the internal queue
// is full; once the machine has been closed it returns without blocking, and
// msg may be dropped.
func (m *Machine) Send(msg Message) {
	select {
	case m.in <- msg:
	case <-m.ctx.Done():
	}
}

// Changes returns the observable stream of (state, changes) tuples.
func (m *Machine) Changes() <-chan Snapshot { return m.out }

// Close stops the processing loop and closes the Changes stream.
func (m *Machine) Close() {
	m.cancel()
	m.wg.Wait()
}

func (m *Machine) loop() {
	defer m.wg.Done()
	defer close(m.out)

	select {
	case <-m.startedCh:
	case <-m.ctx.Done():
		return
	}

	for {
		select {
		case <-m.ctx.Done():
			return
		case msg := <-m.in:
			m.mu.Lock()
			current := m.state
			m.mu.Unlock()

			next, changes, err := Transition(current, msg)
			if err != nil {
				continue
			}
			m.mu.Lock()
			m.state = next
			m.mu.Unlock()
			if len(changes) == 0 {
				continue
			}
			select {
			case m.out <- Snapshot{State: next, Changes: changes}:
			case <-m.ctx.Done():
				return
			}
		}
	}
}
