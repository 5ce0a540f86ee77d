package statemachine

import (
	"github.com/vk/dataflow/internal/flowstate"
	"github.com/vk/dataflow/internal/graph"
	"github.com/vk/dataflow/internal/index"
)

// ChangeKind discriminates the four VertexChanges variants of §4.1.
type ChangeKind int

const (
	New ChangeKind = iota
	Removed
	ShapeChanged
	Modified
)

func (k ChangeKind) String() string {
	switch k {
	case New:
		return "New"
	case Removed:
		return "Removed"
	case ShapeChanged:
		return "ShapeChanged"
	case Modified:
		return "Modified"
	default:
		return "Unknown"
	}
}

// VertexChange describes what happened to one vertex's slices during a
// single transition. Old is a snapshot of the vertex's Slices as they stood
// immediately before this transition began — the analyser (§4.2) diffs Old
// against the post-transition State it's handed to recover each touched
// slice's old→new status pair, which is what the action table keys on.
type VertexChange struct {
	Kind              ChangeKind
	Indices           []index.Index
	Old               flowstate.Slices
	ConnectionChanged bool
}

// Changes is the per-transition output of §4.1: which vertices changed and
// how. An empty Changes means the message was a no-op.
type Changes map[graph.VertexID]VertexChange

func (t *tx) ensureOld(v graph.VertexID) VertexChange {
	vc, ok := t.changes[v]
	if !ok {
		vc = VertexChange{Old: t.initialFlow.Get(v, t.rank(v))}
	}
	return vc
}

// touch records that an existing slice was modified.
func (t *tx) touch(v graph.VertexID, ix index.Index) {
	vc := t.ensureOld(v)
	if vc.Kind != New && vc.Kind != Removed {
		vc.Kind = Modified
	}
	for _, existing := range vc.Indices {
		if existing.Equal(ix) {
			t.changes[v] = vc
			return
		}
	}
	vc.Indices = append(vc.Indices, ix)
	t.changes[v] = vc
}

// markNew records that a brand-new slice was created.
func (t *tx) markNew(v graph.VertexID, ix index.Index) {
	vc := t.ensureOld(v)
	if vc.Kind == Removed {
		vc.Kind = Modified
	} else if vc.Kind != Modified {
		vc.Kind = New
	}
	vc.Indices = append(vc.Indices, ix)
	t.changes[v] = vc
}

func (t *tx) markRemoved(v graph.VertexID) {
	t.changes[v] = VertexChange{Kind: Removed, Old: t.initialFlow.Get(v, t.rank(v))}
}

func (t *tx) markConnectionChanged(v graph.VertexID) {
	vc := t.ensureOld(v)
	if vc.Kind != New && vc.Kind != Removed {
		vc.Kind = ShapeChanged
	}
	vc.ConnectionChanged = true
	t.changes[v] = vc
}
