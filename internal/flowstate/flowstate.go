// Package flowstate defines State: the complete, immutable snapshot the
// state machine operates on (spec.md §3 — "the triple of Graph, Flow and a
// logical TimeIndex"). Flow itself is a map from vertex to a persistent
// mdmap.Map of that vertex's per-slice VertexState, addressed by
// index.Index ("VertexIndex").
package flowstate

import (
	"github.com/vk/dataflow/internal/artefact"
	"github.com/vk/dataflow/internal/graph"
	"github.com/vk/dataflow/internal/index"
	"github.com/vk/dataflow/internal/mdmap"
	"github.com/vk/dataflow/internal/status"
)

// Data holds the output artefacts and the most recent checkpoint produced
// by a slice, independent of its status. Both are nil until the slice has
// produced something.
type Data struct {
	Output     []artefact.Artefact
	Checkpoint *artefact.Checkpoint
}

// Clone returns a deep-enough copy: the Output slice and Checkpoint pointer
// are copied so callers can't mutate shared state through the original.
func (d *Data) Clone() *Data {
	if d == nil {
		return nil
	}
	out := &Data{}
	if d.Output != nil {
		out.Output = append([]artefact.Artefact(nil), d.Output...)
	}
	if d.Checkpoint != nil {
		cp := *d.Checkpoint
		out.Checkpoint = &cp
	}
	return out
}

// VertexState is the value stored at one VertexIndex slice of one vertex.
type VertexState struct {
	Status status.Status
	Data   *Data
}

// Slices is the persistent per-slice map for a single vertex.
type Slices = mdmap.Map[VertexState]

// FlowState maps each vertex to its Slices. It is conceptually immutable:
// every mutator on State returns a new FlowState value, sharing every
// untouched vertex's Slices map by value (mdmap.Map is itself persistent).
type FlowState map[graph.VertexID]Slices

// Clone returns a shallow copy of the map itself (entries share the
// persistent mdmap.Map values, which is safe — those are immutable).
func (f FlowState) Clone() FlowState {
	out := make(FlowState, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Get returns the slices map for a vertex, or an empty rank-agnostic map if
// the vertex has no recorded slices yet.
func (f FlowState) Get(id graph.VertexID, rank int) Slices {
	if s, ok := f[id]; ok {
		return s
	}
	return mdmap.Empty[VertexState](rank)
}

// With returns a new FlowState with vertex id's slices replaced.
func (f FlowState) With(id graph.VertexID, s Slices) FlowState {
	out := f.Clone()
	out[id] = s
	return out
}

// State is the complete snapshot a statemachine.Transition operates on and
// an analyser.Analyse reads from (spec.md §3, §4).
type State struct {
	Graph     *graph.Graph
	Flow      FlowState
	TimeIndex int64
}

// New returns an empty State over an empty graph.
func New() State {
	return State{Graph: graph.New(), Flow: FlowState{}, TimeIndex: 0}
}

// VertexState looks up one slice's state for a vertex. It returns the zero
// VertexState and false if the vertex or the slice is absent.
func (s State) VertexState(id graph.VertexID, ix index.Index) (VertexState, bool) {
	v, ok := s.Graph.Vertex(id)
	if !ok {
		return VertexState{}, false
	}
	rank, err := s.Graph.Rank(id)
	if err != nil {
		rank = len(ix)
	}
	_ = v
	slices := s.Flow.Get(id, rank)
	return slices.Find(ix)
}
