// Package inputs implements spec.md §4.3's input assembly: the pure
// function from (graph, flow state, vertex, slice index) to one availability
// value per input port. Both the state machine's downstream-reclassification
// phase (§4.1 phase 3) and the runtime's pre-Execute value fetch (§4.4) share
// this logic, so it lives in its own package rather than being duplicated.
package inputs

import (
	"sort"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/dataflow/internal/artefact"
	"github.com/vk/dataflow/internal/flowstate"
	"github.com/vk/dataflow/internal/graph"
	"github.com/vk/dataflow/internal/index"
)

// Kind discriminates the three input-assembly outcomes of §4.3.
type Kind int

const (
	NotAvailable Kind = iota
	Item
	Array
)

// Value is what one input port resolves to for a given slice.
type Value struct {
	Kind     Kind
	Scalar   artefact.Artefact   // valid iff Kind == Item
	Elements []artefact.Artefact // valid iff Kind == Array
}

// Available reports whether the port has resolved to usable data.
func (v Value) Available() bool { return v.Kind != NotAvailable }

func sourceOutput(flow flowstate.FlowState, g *graph.Graph, source graph.VertexID, ix index.Index, outputRef int) (artefact.Artefact, bool) {
	rank, err := g.Rank(source)
	if err != nil {
		return cty.NilVal, false
	}
	slices := flow.Get(source, rank)
	vs, ok := slices.Find(ix)
	if !ok || !vs.Status.IsAvailable() || vs.Data == nil {
		return cty.NilVal, false
	}
	if outputRef < 0 || outputRef >= len(vs.Data.Output) {
		return cty.NilVal, false
	}
	return vs.Data.Output[outputRef], true
}

// Assemble computes the availability value for every input port of v at
// slice index ix.
func Assemble(g *graph.Graph, flow flowstate.FlowState, v *graph.Vertex, ix index.Index) []Value {
	descriptors := v.Inputs()
	out := make([]Value, len(descriptors))
	for port, desc := range descriptors {
		edges := g.InputEdges(v.ID(), port)
		out[port] = assemblePort(g, flow, edges, ix, desc)
	}
	return out
}

func assemblePort(g *graph.Graph, flow flowstate.FlowState, edges []graph.Edge, ix index.Index, desc artefact.Descriptor) Value {
	if len(edges) == 0 {
		if desc.Array {
			return Value{Kind: Array, Elements: []artefact.Artefact{}}
		}
		return Value{Kind: NotAvailable}
	}

	if edges[0].Kind.Tag == graph.Collect {
		return assembleCollect(g, flow, edges, ix)
	}

	e := edges[0]
	switch e.Kind.Tag {
	case graph.OneToOne:
		return assembleOneToOne(flow, g, e, ix)
	case graph.Scatter:
		return assembleScatter(flow, g, e, ix)
	case graph.Reduce:
		return assembleReduce(flow, g, e, ix)
	default:
		return Value{Kind: NotAvailable}
	}
}

func assembleOneToOne(flow flowstate.FlowState, g *graph.Graph, e graph.Edge, ix index.Index) Value {
	r := e.Kind.Rank
	srcIx := ix.Prefix(r)
	v, ok := sourceOutput(flow, g, e.Source.ID(), srcIx, e.OutputRef)
	if !ok {
		return Value{Kind: NotAvailable}
	}
	return Value{Kind: Item, Scalar: v}
}

func assembleScatter(flow flowstate.FlowState, g *graph.Graph, e graph.Edge, ix index.Index) Value {
	r := e.Kind.Rank
	if r >= len(ix) {
		return Value{Kind: NotAvailable}
	}
	srcIx := ix.Prefix(r)
	arr, ok := sourceOutput(flow, g, e.Source.ID(), srcIx, e.OutputRef)
	if !ok {
		return Value{Kind: NotAvailable}
	}
	elems, ok := arrayElements(arr)
	if !ok {
		return Value{Kind: NotAvailable}
	}
	pos := ix[r]
	if pos < 0 || pos >= len(elems) {
		return Value{Kind: NotAvailable}
	}
	return Value{Kind: Item, Scalar: elems[pos]}
}

func assembleReduce(flow flowstate.FlowState, g *graph.Graph, e graph.Edge, ix index.Index) Value {
	rank, err := g.Rank(e.Source.ID())
	if err != nil {
		return Value{Kind: NotAvailable}
	}
	slices := flow.Get(e.Source.ID(), rank)
	entries := slices.StartingWith(ix)

	byLast := make(map[int]flowstate.VertexState, len(entries))
	maxLast := -1
	for _, entry := range entries {
		last, ok := entry.Index.Last()
		if !ok {
			continue
		}
		byLast[last] = entry.Value
		if last > maxLast {
			maxLast = last
		}
	}
	if maxLast < 0 {
		return Value{Kind: NotAvailable}
	}
	elements := make([]artefact.Artefact, 0, maxLast+1)
	for i := 0; i <= maxLast; i++ {
		vs, ok := byLast[i]
		if !ok || !vs.Status.IsAvailable() || vs.Data == nil || e.OutputRef >= len(vs.Data.Output) {
			return Value{Kind: NotAvailable}
		}
		elements = append(elements, vs.Data.Output[e.OutputRef])
	}
	return Value{Kind: Array, Elements: elements}
}

func assembleCollect(g *graph.Graph, flow flowstate.FlowState, edges []graph.Edge, ix index.Index) Value {
	sorted := append([]graph.Edge(nil), edges...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Kind.CollectIndex < sorted[j].Kind.CollectIndex })

	elements := make([]artefact.Artefact, 0, len(sorted))
	for _, e := range sorted {
		r := e.Kind.SourceRank()
		srcIx := ix.Prefix(r)
		v, ok := sourceOutput(flow, g, e.Source.ID(), srcIx, e.OutputRef)
		if !ok {
			return Value{Kind: NotAvailable}
		}
		elements = append(elements, v)
	}
	return Value{Kind: Array, Elements: elements}
}

// ArrayElements decomposes a list/tuple-typed artefact into its elements, in
// order. It is exported so callers that need to interpret an array-typed
// output outside of port assembly (e.g. shape propagation after a Scatter
// source produces output) don't duplicate the cty iteration logic.
func ArrayElements(v artefact.Artefact) ([]artefact.Artefact, bool) {
	return arrayElements(v)
}

func arrayElements(v artefact.Artefact) ([]artefact.Artefact, bool) {
	if v.IsNull() || !v.CanIterateElements() {
		return nil, false
	}
	out := make([]artefact.Artefact, 0, v.LengthInt())
	it := v.ElementIterator()
	for it.Next() {
		_, ev := it.Element()
		out = append(out, ev)
	}
	return out, true
}

// AllAvailable reports whether every port value is available.
func AllAvailable(values []Value) bool {
	for _, v := range values {
		if !v.Available() {
			return false
		}
	}
	return true
}

// Materialize converts a fully-available set of port Values (as produced by
// Assemble once AllAvailable holds) into the []artefact.Artefact a Method's
// Execute/Reproduce call expects — one value per input port, with Array
// ports collapsed into a single tuple-typed artefact.
func Materialize(values []Value) []artefact.Artefact {
	out := make([]artefact.Artefact, len(values))
	for i, v := range values {
		switch v.Kind {
		case Item:
			out[i] = v.Scalar
		case Array:
			out[i] = cty.TupleVal(v.Elements)
		default:
			out[i] = cty.NilVal
		}
	}
	return out
}
