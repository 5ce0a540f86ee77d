package statemachine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/dataflow/internal/index"
	"github.com/vk/dataflow/internal/statemachine"
	"github.com/vk/dataflow/internal/status"
)

func TestMachineSuspendedUntilStart(t *testing.T) {
	s0, a, _ := setupChain(t)
	slices := s0.Flow.Get(a.ID(), 0).Add(index.New(), status0(1))
	s0.Flow = s0.Flow.With(a.ID(), slices)
	s0.TimeIndex = 1

	m := statemachine.NewMachine(s0)
	defer m.Close()

	m.Send(statemachine.Start{Vertex: a.ID(), Index: index.New()})

	select {
	case <-m.Changes():
		t.Fatal("machine must not publish before Start")
	case <-time.After(50 * time.Millisecond):
	}

	m.Start()

	select {
	case snap := <-m.Changes():
		require.Contains(t, snap.Changes, a.ID())
	case <-time.After(time.Second):
		t.Fatal("expected a snapshot after Start")
	}
}

func TestMachinePublishesOnlyNonEmptyChanges(t *testing.T) {
	s0, a, _ := setupChain(t)
	m := statemachine.NewMachine(s0)
	defer m.Close()
	m.Start()

	// a is Incomplete; Start is a no-op for it.
	m.Send(statemachine.Start{Vertex: a.ID(), Index: index.New()})

	select {
	case <-m.Changes():
		t.Fatal("a no-op transition must not publish a snapshot")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMachineStateReflectsLatestSnapshot(t *testing.T) {
	s0, a, _ := setupChain(t)
	slices := s0.Flow.Get(a.ID(), 0).Add(index.New(), status0(1))
	s0.Flow = s0.Flow.With(a.ID(), slices)
	s0.TimeIndex = 1

	m := statemachine.NewMachine(s0)
	defer m.Close()
	m.Start()
	m.Send(statemachine.Start{Vertex: a.ID(), Index: index.New()})

	var snap statemachine.Snapshot
	select {
	case snap = <-m.Changes():
	case <-time.After(time.Second):
		t.Fatal("expected a snapshot")
	}

	vs, ok := m.State().VertexState(a.ID(), index.New())
	require.True(t, ok)
	assert.Equal(t, status.Started, vs.Status.Tag)
	assert.Equal(t, vs.Status.Tag, func() status.Tag {
		v, _ := snap.State.VertexState(a.ID(), index.New())
		return v.Status.Tag
	}())
}
