package inputs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/dataflow/internal/artefact"
	"github.com/vk/dataflow/internal/flowstate"
	"github.com/vk/dataflow/internal/graph"
	"github.com/vk/dataflow/internal/index"
	"github.com/vk/dataflow/internal/inputs"
	"github.com/vk/dataflow/internal/methodfake"
	"github.com/vk/dataflow/internal/status"
)

func complete(flow flowstate.FlowState, id graph.VertexID, rank int, ix index.Index, out ...artefact.Artefact) flowstate.FlowState {
	slices := flow.Get(id, rank)
	slices = slices.Add(ix, flowstate.VertexState{Status: status.CompleteStatus(), Data: &flowstate.Data{Output: out}})
	return flow.With(id, slices)
}

func TestAssembleOneToOneUnavailable(t *testing.T) {
	g := graph.New()
	a := graph.NewVertex(methodfake.New(nil, []artefact.Descriptor{artefact.Scalar(cty.Number)}))
	b := graph.NewVertex(methodfake.New([]artefact.Descriptor{artefact.Scalar(cty.Number)}, nil))
	g.AddVertex(a)
	g.AddVertex(b)
	require.NoError(t, g.Connect(graph.Edge{Source: a, OutputRef: 0, Target: b, InputRef: 0, Kind: graph.OneToOneAt(0)}))

	flow := flowstate.FlowState{}
	values := inputs.Assemble(g, flow, b, index.New())
	require.Len(t, values, 1)
	assert.False(t, values[0].Available())
}

func TestAssembleOneToOneAvailable(t *testing.T) {
	g := graph.New()
	a := graph.NewVertex(methodfake.New(nil, []artefact.Descriptor{artefact.Scalar(cty.Number)}))
	b := graph.NewVertex(methodfake.New([]artefact.Descriptor{artefact.Scalar(cty.Number)}, nil))
	g.AddVertex(a)
	g.AddVertex(b)
	require.NoError(t, g.Connect(graph.Edge{Source: a, OutputRef: 0, Target: b, InputRef: 0, Kind: graph.OneToOneAt(0)}))

	flow := complete(flowstate.FlowState{}, a.ID(), 0, index.New(), cty.NumberIntVal(7))
	values := inputs.Assemble(g, flow, b, index.New())
	require.Len(t, values, 1)
	require.Equal(t, inputs.Item, values[0].Kind)
	assert.Equal(t, cty.NumberIntVal(7), values[0].Scalar)
}

func TestAssembleScatter(t *testing.T) {
	g := graph.New()
	a := graph.NewVertex(methodfake.New(nil, []artefact.Descriptor{artefact.List(cty.Number)}))
	b := graph.NewVertex(methodfake.New([]artefact.Descriptor{artefact.Scalar(cty.Number)}, nil))
	g.AddVertex(a)
	g.AddVertex(b)
	require.NoError(t, g.Connect(graph.Edge{Source: a, OutputRef: 0, Target: b, InputRef: 0, Kind: graph.ScatterAt(0)}))

	arr := cty.ListVal([]cty.Value{cty.NumberIntVal(10), cty.NumberIntVal(20), cty.NumberIntVal(30)})
	flow := complete(flowstate.FlowState{}, a.ID(), 0, index.New(), arr)

	values := inputs.Assemble(g, flow, b, index.New(1))
	require.Len(t, values, 1)
	require.Equal(t, inputs.Item, values[0].Kind)
	assert.Equal(t, cty.NumberIntVal(20), values[0].Scalar)
}

func TestAssembleReduceRequiresContiguous(t *testing.T) {
	g := graph.New()
	a := graph.NewVertex(methodfake.New(nil, []artefact.Descriptor{artefact.Scalar(cty.Number)}))
	b := graph.NewVertex(methodfake.New([]artefact.Descriptor{artefact.List(cty.Number)}, nil))
	g.AddVertex(a)
	g.AddVertex(b)
	require.NoError(t, g.Connect(graph.Edge{Source: a, OutputRef: 0, Target: b, InputRef: 0, Kind: graph.ReduceAt(0)}))

	flow := flowstate.FlowState{}
	flow = complete(flow, a.ID(), 1, index.New(0), cty.NumberIntVal(1))
	flow = complete(flow, a.ID(), 1, index.New(2), cty.NumberIntVal(3))

	values := inputs.Assemble(g, flow, b, index.New())
	require.Len(t, values, 1)
	assert.False(t, values[0].Available(), "gap at index 1 must block reduce")

	flow = complete(flow, a.ID(), 1, index.New(1), cty.NumberIntVal(2))
	values = inputs.Assemble(g, flow, b, index.New())
	require.True(t, values[0].Available())
	assert.Equal(t, []artefact.Artefact{cty.NumberIntVal(1), cty.NumberIntVal(2), cty.NumberIntVal(3)}, values[0].Elements)
}

func TestAssembleCollectOrdersByIdx(t *testing.T) {
	g := graph.New()
	x := graph.NewVertex(methodfake.New(nil, []artefact.Descriptor{artefact.Scalar(cty.Number)}))
	y := graph.NewVertex(methodfake.New(nil, []artefact.Descriptor{artefact.Scalar(cty.Number)}))
	z := graph.NewVertex(methodfake.New([]artefact.Descriptor{artefact.List(cty.Number)}, nil))
	g.AddVertex(x)
	g.AddVertex(y)
	g.AddVertex(z)
	require.NoError(t, g.Connect(graph.Edge{Source: x, OutputRef: 0, Target: z, InputRef: 0, Kind: graph.CollectAt(1, 0)}))
	require.NoError(t, g.Connect(graph.Edge{Source: y, OutputRef: 0, Target: z, InputRef: 0, Kind: graph.CollectAt(0, 0)}))

	flow := flowstate.FlowState{}
	values := inputs.Assemble(g, flow, z, index.New())
	assert.False(t, values[0].Available())

	flow = complete(flow, x.ID(), 0, index.New(), cty.NumberIntVal(100))
	flow = complete(flow, y.ID(), 0, index.New(), cty.NumberIntVal(200))
	values = inputs.Assemble(g, flow, z, index.New())
	require.True(t, values[0].Available())
	assert.Equal(t, []artefact.Artefact{cty.NumberIntVal(200), cty.NumberIntVal(100)}, values[0].Elements)
}

func TestAssembleNoEdgesArrayPortIsEmptyArray(t *testing.T) {
	g := graph.New()
	z := graph.NewVertex(methodfake.New([]artefact.Descriptor{artefact.List(cty.Number)}, nil))
	g.AddVertex(z)
	values := inputs.Assemble(g, flowstate.FlowState{}, z, index.New())
	require.Equal(t, inputs.Array, values[0].Kind)
	assert.Empty(t, values[0].Elements)
}

func TestAllAvailable(t *testing.T) {
	assert.True(t, inputs.AllAvailable(nil))
	assert.True(t, inputs.AllAvailable([]inputs.Value{{Kind: inputs.Item}}))
	assert.False(t, inputs.AllAvailable([]inputs.Value{{Kind: inputs.NotAvailable}}))
}

func TestMaterializeCollapsesArrayIntoTuple(t *testing.T) {
	values := []inputs.Value{
		{Kind: inputs.Item, Scalar: cty.NumberIntVal(7)},
		{Kind: inputs.Array, Elements: []artefact.Artefact{cty.NumberIntVal(1), cty.NumberIntVal(2)}},
		{Kind: inputs.NotAvailable},
	}
	out := inputs.Materialize(values)
	require.Len(t, out, 3)
	assert.Equal(t, cty.NumberIntVal(7), out[0])
	assert.Equal(t, cty.TupleVal([]cty.Value{cty.NumberIntVal(1), cty.NumberIntVal(2)}), out[1])
	assert.Equal(t, cty.NilVal, out[2])
}
