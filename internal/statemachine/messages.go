// Package statemachine implements the deterministic core of spec.md §4.1:
// a pure Transition function from (state, message) to (new state, changes),
// plus a single-threaded Machine wrapper that serialises messages the way
// §5 requires ("single-threaded serialisation point... each transition is
// atomic with respect to observers").
package statemachine

import (
	"github.com/vk/dataflow/internal/artefact"
	"github.com/vk/dataflow/internal/graph"
	"github.com/vk/dataflow/internal/index"
)

// Message is the sealed set of inputs a Transition accepts, per §4.1.
type Message interface {
	isMessage()
}

// Alter is an atomic graph mutation batch. Disconnect and Remove are applied
// first, then Merge's vertices/edges are added, then Connect; downstream
// statuses are then recomputed for every touched vertex.
type Alter struct {
	Disconnect []graph.Edge
	Remove     []graph.VertexID
	Merge      *graph.Graph
	Connect    []graph.Edge
	// Reply, if non-nil, receives the outcome of this Alter — nil on success,
	// or an error wrapping graph.ErrAlter on a rejected mutation. The state
	// is left unchanged when Reply receives a non-nil error.
	Reply chan error
}

func (Alter) isMessage() {}

// Start transitions a CanStart slice to Started. CanStartTime, if non-nil,
// must match the slice's recorded CanStartTime or the message is dropped as
// stale.
type Start struct {
	Vertex       graph.VertexID
	Index        index.Index
	CanStartTime *int64
}

func (Start) isMessage() {}

// Iteration reports one yielded (outputs, checkpoint) pair from a running
// method. Dropped unless the slice is Started or Continues with a matching
// StartTime.
type Iteration struct {
	Vertex     graph.VertexID
	Index      index.Index
	Output     []artefact.Artefact
	Checkpoint *artefact.Checkpoint
	StartTime  int64
}

func (Iteration) isMessage() {}

// SucceededKind discriminates Succeeded's two payload shapes (§4.1).
type SucceededKind int

const (
	// IterationResult carries a final output tuple directly — used by
	// Reproduce, which has no lazy sequence to iterate.
	IterationResult SucceededKind = iota
	// NoMoreIterations signals a running sequence terminated; the slice's
	// last Iteration output becomes its Complete output.
	NoMoreIterations
)

// Succeeded is the terminal-success message. Dropped unless StartTime
// matches the slice's current running StartTime.
type Succeeded struct {
	Vertex     graph.VertexID
	Index      index.Index
	StartTime  int64
	Kind       SucceededKind
	Output     []artefact.Artefact
	Checkpoint *artefact.Checkpoint
}

func (Succeeded) isMessage() {}

// Failed reports a method failure. Dropped unless StartTime matches.
type Failed struct {
	Vertex    graph.VertexID
	Index     index.Index
	StartTime int64
	Err       error
}

func (Failed) isMessage() {}

// Stop requests cancellation of a running slice.
type Stop struct {
	Vertex graph.VertexID
	Index  index.Index
}

func (Stop) isMessage() {}
