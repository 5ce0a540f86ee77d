package statemachine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/dataflow/internal/artefact"
	"github.com/vk/dataflow/internal/flowstate"
	"github.com/vk/dataflow/internal/graph"
	"github.com/vk/dataflow/internal/index"
	"github.com/vk/dataflow/internal/methodfake"
	"github.com/vk/dataflow/internal/statemachine"
	"github.com/vk/dataflow/internal/status"
)

func newScalarVertex(in, out int) *graph.Vertex {
	inputs := make([]artefact.Descriptor, in)
	for i := range inputs {
		inputs[i] = artefact.Scalar(cty.Number)
	}
	outputs := make([]artefact.Descriptor, out)
	for i := range outputs {
		outputs[i] = artefact.Scalar(cty.Number)
	}
	return graph.NewVertex(methodfake.New(inputs, outputs))
}

func rootSlice(v *graph.Vertex) flowstate.VertexState {
	return flowstate.VertexState{Status: status.IncompleteStatus(status.UnassignedInputs, nil)}
}

func setupChain(t *testing.T) (flowstate.State, *graph.Vertex, *graph.Vertex) {
	t.Helper()
	a := newScalarVertex(0, 1)
	b := newScalarVertex(1, 1)
	g := graph.New()
	g.AddVertex(a)
	g.AddVertex(b)
	require.NoError(t, g.Connect(graph.Edge{Source: a, OutputRef: 0, Target: b, InputRef: 0, Kind: graph.OneToOneAt(0)}))

	flow := flowstate.FlowState{}
	flow = flow.With(a.ID(), flow.Get(a.ID(), 0).Add(index.New(), rootSlice(a)))
	flow = flow.With(b.ID(), flow.Get(b.ID(), 0).Add(index.New(), rootSlice(b)))
	return flowstate.State{Graph: g, Flow: flow, TimeIndex: 0}, a, b
}

func TestTwoVertexChain(t *testing.T) {
	s0, a, b := setupChain(t)

	// A has no inputs, so it must be promoted to CanStart by the same
	// reclassify pass the engine runs over a freshly installed state.
	s0, reclassifyChanges := statemachine.Reclassify(s0)
	require.Contains(t, reclassifyChanges, a.ID())
	vsA, _ := s0.VertexState(a.ID(), index.New())
	require.Equal(t, status.CanStart, vsA.Status.Tag)

	s1, changes, err := statemachine.Transition(s0, statemachine.Start{Vertex: a.ID(), Index: index.New()})
	require.NoError(t, err)
	require.Contains(t, changes, a.ID())
	vs, _ := s1.VertexState(a.ID(), index.New())
	assert.Equal(t, status.Started, vs.Status.Tag)
	startTime := vs.Status.Time

	s2, changes, err := statemachine.Transition(s1, statemachine.Succeeded{
		Vertex: a.ID(), Index: index.New(), StartTime: startTime,
		Kind: statemachine.IterationResult, Output: []artefact.Artefact{cty.NumberIntVal(42)},
	})
	require.NoError(t, err)
	require.Contains(t, changes, a.ID())
	vsA, _ = s2.VertexState(a.ID(), index.New())
	assert.Equal(t, status.Complete, vsA.Status.Tag)

	vsB, _ := s2.VertexState(b.ID(), index.New())
	require.Equal(t, status.CanStart, vsB.Status.Tag, "B must become CanStart once A completes")
}

func TestStaleSucceededDropped(t *testing.T) {
	s0, a, _ := setupChain(t)
	slices := s0.Flow.Get(a.ID(), 0).Add(index.New(), status0(1))
	s0.Flow = s0.Flow.With(a.ID(), slices)
	s0.TimeIndex = 1

	s1, _, err := statemachine.Transition(s0, statemachine.Start{Vertex: a.ID(), Index: index.New()})
	require.NoError(t, err)

	// Forge a Succeeded with a stale start time (as if the original worker
	// completed after the slice was already restarted at a later time).
	s2, changes, err := statemachine.Transition(s1, statemachine.Succeeded{
		Vertex: a.ID(), Index: index.New(), StartTime: -999, Kind: statemachine.NoMoreIterations,
	})
	require.NoError(t, err)
	assert.Empty(t, changes)
	assert.Equal(t, s1, s2)
}

func status0(t int64) flowstate.VertexState {
	return flowstate.VertexState{Status: status.CanStartAt(t)}
}

func TestScatterReduceFan(t *testing.T) {
	a := graph.NewVertex(methodfake.New(nil, []artefact.Descriptor{artefact.List(cty.Number)}))
	b := newScalarVertex(1, 1)
	c := graph.NewVertex(methodfake.New([]artefact.Descriptor{artefact.List(cty.Number)}, nil))

	g := graph.New()
	g.AddVertex(a)
	g.AddVertex(b)
	g.AddVertex(c)
	require.NoError(t, g.Connect(graph.Edge{Source: a, OutputRef: 0, Target: b, InputRef: 0, Kind: graph.ScatterAt(0)}))
	require.NoError(t, g.Connect(graph.Edge{Source: b, OutputRef: 0, Target: c, InputRef: 0, Kind: graph.ReduceAt(0)}))

	flow := flowstate.FlowState{}
	flow = flow.With(a.ID(), flow.Get(a.ID(), 0).Add(index.New(), status0(1)))
	flow = flow.With(c.ID(), flow.Get(c.ID(), 0).Add(index.New(), rootSlice(c)))
	s0 := flowstate.State{Graph: g, Flow: flow, TimeIndex: 1}

	s1, _, err := statemachine.Transition(s0, statemachine.Start{Vertex: a.ID(), Index: index.New()})
	require.NoError(t, err)
	vsA, _ := s1.VertexState(a.ID(), index.New())
	startTime := vsA.Status.Time

	arr := cty.ListVal([]cty.Value{cty.NumberIntVal(1), cty.NumberIntVal(2), cty.NumberIntVal(3)})
	s2, changes, err := statemachine.Transition(s1, statemachine.Succeeded{
		Vertex: a.ID(), Index: index.New(), StartTime: startTime,
		Kind: statemachine.IterationResult, Output: []artefact.Artefact{arr},
	})
	require.NoError(t, err)
	require.Contains(t, changes, b.ID())

	for i := 0; i < 3; i++ {
		vs, ok := s2.VertexState(b.ID(), index.New(i))
		require.True(t, ok, "B[%d] must exist", i)
		assert.Equal(t, status.CanStart, vs.Status.Tag)
	}

	// Complete all three B slices.
	s3 := s2
	for i := 0; i < 3; i++ {
		ix := index.New(i)
		var err error
		s3, _, err = statemachine.Transition(s3, statemachine.Start{Vertex: b.ID(), Index: ix})
		require.NoError(t, err)
		vs, _ := s3.VertexState(b.ID(), ix)
		s3, _, err = statemachine.Transition(s3, statemachine.Succeeded{
			Vertex: b.ID(), Index: ix, StartTime: vs.Status.Time,
			Kind: statemachine.IterationResult, Output: []artefact.Artefact{cty.NumberIntVal(int64(10 + i))},
		})
		require.NoError(t, err)
	}

	vsC, ok := s3.VertexState(c.ID(), index.New())
	require.True(t, ok)
	assert.Equal(t, status.CanStart, vsC.Status.Tag, "C must become CanStart once all of B's slices complete")
}

func TestCollectAggregation(t *testing.T) {
	x := graph.NewVertex(methodfake.New(nil, []artefact.Descriptor{artefact.Scalar(cty.Number)}))
	y := graph.NewVertex(methodfake.New(nil, []artefact.Descriptor{artefact.Scalar(cty.Number)}))
	z := graph.NewVertex(methodfake.New([]artefact.Descriptor{artefact.List(cty.Number)}, nil))

	g := graph.New()
	g.AddVertex(x)
	g.AddVertex(y)
	g.AddVertex(z)
	require.NoError(t, g.Connect(graph.Edge{Source: x, OutputRef: 0, Target: z, InputRef: 0, Kind: graph.CollectAt(0, 0)}))
	require.NoError(t, g.Connect(graph.Edge{Source: y, OutputRef: 0, Target: z, InputRef: 0, Kind: graph.CollectAt(1, 0)}))

	flow := flowstate.FlowState{}
	flow = flow.With(x.ID(), flow.Get(x.ID(), 0).Add(index.New(), status0(1)))
	flow = flow.With(y.ID(), flow.Get(y.ID(), 0).Add(index.New(), status0(1)))
	flow = flow.With(z.ID(), flow.Get(z.ID(), 0).Add(index.New(), rootSlice(z)))
	s0 := flowstate.State{Graph: g, Flow: flow, TimeIndex: 1}

	s1, _, err := statemachine.Transition(s0, statemachine.Start{Vertex: x.ID(), Index: index.New()})
	require.NoError(t, err)
	vsX, _ := s1.VertexState(x.ID(), index.New())
	s2, _, err := statemachine.Transition(s1, statemachine.Succeeded{
		Vertex: x.ID(), Index: index.New(), StartTime: vsX.Status.Time,
		Kind: statemachine.IterationResult, Output: []artefact.Artefact{cty.NumberIntVal(100)},
	})
	require.NoError(t, err)

	vsZ, ok := s2.VertexState(z.ID(), index.New())
	require.True(t, ok)
	assert.NotEqual(t, status.CanStart, vsZ.Status.Tag, "Z must wait for both collect inputs")

	s3, _, err := statemachine.Transition(s2, statemachine.Start{Vertex: y.ID(), Index: index.New()})
	require.NoError(t, err)
	vsY, _ := s3.VertexState(y.ID(), index.New())
	s4, changes, err := statemachine.Transition(s3, statemachine.Succeeded{
		Vertex: y.ID(), Index: index.New(), StartTime: vsY.Status.Time,
		Kind: statemachine.IterationResult, Output: []artefact.Artefact{cty.NumberIntVal(200)},
	})
	require.NoError(t, err)
	require.Contains(t, changes, z.ID())

	vsZ, ok = s4.VertexState(z.ID(), index.New())
	require.True(t, ok)
	assert.Equal(t, status.CanStart, vsZ.Status.Tag)
}

func TestEmptyAlterIsNoOp(t *testing.T) {
	s0, _, _ := setupChain(t)
	s1, changes, err := statemachine.Transition(s0, statemachine.Alter{})
	require.NoError(t, err)
	assert.Empty(t, changes)
	assert.Equal(t, s0.TimeIndex, s1.TimeIndex)
}

func TestReclassifyNoOpOnEmptyState(t *testing.T) {
	s0 := flowstate.State{Graph: graph.New(), Flow: flowstate.FlowState{}}
	s1, changes := statemachine.Reclassify(s0)
	assert.Empty(t, changes)
	assert.Equal(t, int64(0), s1.TimeIndex)
}

func TestReclassifyPromotesReadyVertexAndCascadesDownstream(t *testing.T) {
	s0, a, b := setupChain(t)

	s1, changes := statemachine.Reclassify(s0)
	require.Contains(t, changes, a.ID())
	vsA, _ := s1.VertexState(a.ID(), index.New())
	assert.Equal(t, status.CanStart, vsA.Status.Tag)

	// B still has no input yet (A hasn't executed), so it stays Incomplete.
	vsB, _ := s1.VertexState(b.ID(), index.New())
	assert.Equal(t, status.Incomplete, vsB.Status.Tag)
}

func TestReclassifyLeavesRestoredCompleteStartedUntouched(t *testing.T) {
	a := newScalarVertex(0, 1)
	g := graph.New()
	g.AddVertex(a)

	cp := cty.StringVal("resume-here")
	flow := flowstate.FlowState{}
	flow = flow.With(a.ID(), flow.Get(a.ID(), 0).Add(index.New(), flowstate.VertexState{
		Status: status.CompleteStartedAt(1),
		Data:   &flowstate.Data{Output: []artefact.Artefact{cty.NumberIntVal(1)}, Checkpoint: &cp},
	}))
	s0 := flowstate.State{Graph: g, Flow: flow}

	s1, changes := statemachine.Reclassify(s0)
	vs, ok := s1.VertexState(a.ID(), index.New())
	require.True(t, ok)
	assert.Equal(t, status.CompleteStarted, vs.Status.Tag, "reclassify must not disturb an already-running slice")
	assert.Empty(t, changes, "nothing to reclassify when the slice was already CompleteStarted before restore")
}

func TestAlterRejectsCycleLeavesStateUnchanged(t *testing.T) {
	// setupChain's a has no input port, so b -> a there would fail on the
	// input_ref range check; here a has one input so the cycle check fires.
	a := newScalarVertex(1, 1)
	b := newScalarVertex(1, 1)
	g := graph.New()
	g.AddVertex(a)
	g.AddVertex(b)
	require.NoError(t, g.Connect(graph.Edge{Source: a, OutputRef: 0, Target: b, InputRef: 0, Kind: graph.OneToOneAt(0)}))
	s0 := flowstate.State{Graph: g, Flow: flowstate.FlowState{}}
	reply := make(chan error, 1)
	s1, changes, err := statemachine.Transition(s0, statemachine.Alter{
		Connect: []graph.Edge{{Source: b, OutputRef: 0, Target: a, InputRef: 0, Kind: graph.OneToOneAt(0)}},
		Reply:   reply,
	})
	require.NoError(t, err)
	assert.Empty(t, changes)
	assert.Equal(t, s0.TimeIndex, s1.TimeIndex)
	select {
	case replyErr := <-reply:
		assert.Error(t, replyErr)
	default:
		t.Fatal("expected a reply on rejection")
	}
}
