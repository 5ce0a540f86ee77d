package statemachine

import (
	"fmt"

	"github.com/vk/dataflow/internal/artefact"
	"github.com/vk/dataflow/internal/flowstate"
	"github.com/vk/dataflow/internal/graph"
	"github.com/vk/dataflow/internal/index"
	"github.com/vk/dataflow/internal/inputs"
	"github.com/vk/dataflow/internal/status"
)

// Transition is the pure core of §4.1: given the current state and one
// message, it computes the next state and the induced Changes. A dropped
// (stale, or no-op) message returns the original state unchanged and an
// empty Changes, never an error. A rejected Alter is not an error here
// either: its failure goes to the Alter's Reply channel and the state is left
// unchanged (§7's AlterError contract). Only an unknown message type
// produces an error.
func Transition(state flowstate.State, msg Message) (flowstate.State, Changes, error) {
	switch m := msg.(type) {
	case Alter:
		return transitionAlter(state, m)
	case Start:
		return transitionStart(state, m)
	case Iteration:
		return transitionIteration(state, m)
	case Succeeded:
		return transitionSucceeded(state, m)
	case Failed:
		return transitionFailed(state, m)
	case Stop:
		return transitionStop(state, m)
	default:
		return state, Changes{}, fmt.Errorf("statemachine: unknown message type %T", msg)
	}
}

// tx accumulates the mutations of a single Transition call. time is the
// logical time stamped onto every CanStart/Started/CompleteStarted status
// created during this transition — bumped exactly once, even when the
// transition cascades into many downstream reclassifications, matching the
// scenario in spec.md §8 where a single Succeeded message yields both the
// source's Complete and a downstream CanStart(t) at the same t.
type tx struct {
	state       flowstate.State
	initialFlow flowstate.FlowState
	changes     Changes
	time        int64
}

func newTx(state flowstate.State) *tx {
	return &tx{state: state, initialFlow: state.Flow, changes: Changes{}}
}

func (t *tx) rank(v graph.VertexID) int {
	r, err := t.state.Graph.Rank(v)
	if err != nil {
		return 0
	}
	return r
}

func (t *tx) get(v graph.VertexID, ix index.Index) (flowstate.VertexState, bool) {
	return t.state.Flow.Get(v, t.rank(v)).Find(ix)
}

func (t *tx) set(v graph.VertexID, ix index.Index, vs flowstate.VertexState) {
	slices := t.state.Flow.Get(v, t.rank(v)).Add(ix, vs)
	t.state.Flow = t.state.Flow.With(v, slices)
}

func (t *tx) bumpTime() int64 {
	t.state.TimeIndex++
	t.time = t.state.TimeIndex
	return t.time
}

func transitionStart(state flowstate.State, m Start) (flowstate.State, Changes, error) {
	t := newTx(state)
	vs, ok := t.get(m.Vertex, m.Index)
	if !ok || vs.Status.Tag != status.CanStart {
		return state, Changes{}, nil
	}
	if m.CanStartTime != nil && *m.CanStartTime != vs.Status.Time {
		return state, Changes{}, nil
	}
	t.bumpTime()
	vs.Status = status.StartedAt(t.time)
	t.set(m.Vertex, m.Index, vs)
	t.touch(m.Vertex, m.Index)
	t.propagateFrom(m.Vertex, m.Index)
	return t.state, t.changes, nil
}

func transitionIteration(state flowstate.State, m Iteration) (flowstate.State, Changes, error) {
	t := newTx(state)
	vs, ok := t.get(m.Vertex, m.Index)
	if !ok {
		return state, Changes{}, nil
	}
	var k int
	switch vs.Status.Tag {
	case status.Started:
		if vs.Status.Time != m.StartTime {
			return state, Changes{}, nil
		}
		k = 1
	case status.Continues:
		if vs.Status.Time != m.StartTime {
			return state, Changes{}, nil
		}
		k = vs.Status.Iterations + 1
	default:
		return state, Changes{}, nil
	}
	t.bumpTime()
	vs.Status = status.ContinuesAt(k, m.StartTime)
	vs.Data = &flowstate.Data{Output: m.Output, Checkpoint: m.Checkpoint}
	t.set(m.Vertex, m.Index, vs)
	t.touch(m.Vertex, m.Index)
	t.propagateShape(m.Vertex, m.Index, m.Output)
	t.propagateFrom(m.Vertex, m.Index)
	return t.state, t.changes, nil
}

func transitionSucceeded(state flowstate.State, m Succeeded) (flowstate.State, Changes, error) {
	t := newTx(state)
	vs, ok := t.get(m.Vertex, m.Index)
	if !ok {
		return state, Changes{}, nil
	}
	switch vs.Status.Tag {
	case status.Started, status.Continues, status.CompleteStarted:
		if vs.Status.Time != m.StartTime {
			return state, Changes{}, nil
		}
	default:
		return state, Changes{}, nil
	}
	t.bumpTime()

	data := vs.Data
	if m.Kind == IterationResult {
		data = &flowstate.Data{Output: m.Output, Checkpoint: m.Checkpoint}
	}
	vs.Status = status.CompleteStatus()
	vs.Data = data
	t.set(m.Vertex, m.Index, vs)
	t.touch(m.Vertex, m.Index)
	if data != nil {
		t.propagateShape(m.Vertex, m.Index, data.Output)
	}
	t.propagateFrom(m.Vertex, m.Index)
	return t.state, t.changes, nil
}

func transitionFailed(state flowstate.State, m Failed) (flowstate.State, Changes, error) {
	t := newTx(state)
	vs, ok := t.get(m.Vertex, m.Index)
	if !ok {
		return state, Changes{}, nil
	}
	switch vs.Status.Tag {
	case status.Started, status.Continues, status.CompleteStarted:
		if vs.Status.Time != m.StartTime {
			return state, Changes{}, nil
		}
	default:
		return state, Changes{}, nil
	}
	t.bumpTime()
	vs.Status = status.IncompleteStatus(status.ExecutionFailed, m.Err)
	t.set(m.Vertex, m.Index, vs)
	t.touch(m.Vertex, m.Index)
	t.propagateFrom(m.Vertex, m.Index)
	return t.state, t.changes, nil
}

func transitionStop(state flowstate.State, m Stop) (flowstate.State, Changes, error) {
	t := newTx(state)
	vs, ok := t.get(m.Vertex, m.Index)
	if !ok || !vs.Status.IsRunning() {
		return state, Changes{}, nil
	}
	t.bumpTime()
	vs.Status = status.IncompleteStatus(status.Stopped, nil)
	t.set(m.Vertex, m.Index, vs)
	t.touch(m.Vertex, m.Index)
	t.propagateFrom(m.Vertex, m.Index)
	return t.state, t.changes, nil
}

// propagateShape implements §4.1 phase 2: when a slice's output becomes
// known, downstream Scatter edges whose source rank matches this slice gain
// one child slice per array element not already present, with status
// Incomplete(UnassignedInputs).
func (t *tx) propagateShape(v graph.VertexID, ix index.Index, output []artefact.Artefact) {
	for _, e := range t.state.Graph.OutgoingEdges(v) {
		if e.Kind.Tag != graph.Scatter || e.Kind.Rank != len(ix) {
			continue
		}
		if e.OutputRef < 0 || e.OutputRef >= len(output) {
			continue
		}
		elements, ok := inputs.ArrayElements(output[e.OutputRef])
		if !ok {
			continue
		}
		targetRank := e.Kind.Rank + 1
		for i := range elements {
			childIx := ix.Append(i)
			if _, exists := t.state.Flow.Get(e.Target.ID(), targetRank).Find(childIx); exists {
				continue
			}
			t.set(e.Target.ID(), childIx, flowstate.VertexState{
				Status: status.IncompleteStatus(status.UnassignedInputs, nil),
			})
			t.markNew(e.Target.ID(), childIx)
		}
	}
}

// propagateFrom implements §4.1 phase 3: walk downstream from the slice
// that just changed, recomputing input availability for every potentially
// affected slice and applying the CanStart promotion / Incomplete(OutdatedInputs)
// demotion rules, cascading further whenever a slice's status actually moves.
func (t *tx) propagateFrom(v graph.VertexID, ix index.Index) {
	visited := map[string]bool{}
	var visit func(v graph.VertexID, ix index.Index)
	visit = func(v graph.VertexID, ix index.Index) {
		key := v.String() + "|" + ix.Key()
		if visited[key] {
			return
		}
		visited[key] = true
		for _, e := range t.state.Graph.OutgoingEdges(v) {
			for _, tix := range t.affectedTargetIndices(e, ix) {
				if t.reclassify(e.Target.ID(), tix) {
					t.touch(e.Target.ID(), tix)
					visit(e.Target.ID(), tix)
				}
			}
		}
	}
	visit(v, ix)
}

// affectedTargetIndices maps a changed source slice to the target slice(s)
// that edge e could make available/unavailable, following §4.3's per-kind
// index arithmetic in reverse.
func (t *tx) affectedTargetIndices(e graph.Edge, srcIx index.Index) []index.Index {
	switch e.Kind.Tag {
	case graph.Scatter:
		r := e.Kind.Rank
		if len(srcIx) != r {
			return nil
		}
		rank := r + 1
		entries := t.state.Flow.Get(e.Target.ID(), rank).StartingWith(srcIx)
		out := make([]index.Index, len(entries))
		for i, entry := range entries {
			out[i] = entry.Index
		}
		return out
	case graph.Reduce:
		r := e.Kind.Rank // target rank; source has rank r+1
		if len(srcIx) != r+1 {
			return nil
		}
		return []index.Index{srcIx.Prefix(r)}
	default: // OneToOne, Collect: source and target share rank r
		r := e.Kind.Rank
		if len(srcIx) != r {
			return nil
		}
		return []index.Index{srcIx}
	}
}

// reclassify recomputes availability for one slice and applies the phase-3
// rule. It reports whether the slice's status actually changed.
func (t *tx) reclassify(v graph.VertexID, ix index.Index) bool {
	vertex, ok := t.state.Graph.Vertex(v)
	if !ok {
		return false
	}
	vs, ok := t.get(v, ix)
	if !ok {
		return false
	}
	available := inputs.AllAvailable(inputs.Assemble(t.state.Graph, t.state.Flow, vertex, ix))

	switch {
	case available && vs.Status.Tag == status.Incomplete &&
		(vs.Status.Reason == status.UnassignedInputs || vs.Status.Reason == status.OutdatedInputs):
		vs.Status = status.CanStartAt(t.time)
		t.set(v, ix, vs)
		return true
	case !available && vs.Status.IsAvailable():
		vs.Status = status.IncompleteStatus(status.OutdatedInputs, nil)
		vs.Data = nil
		t.set(v, ix, vs)
		return true
	case !available && vs.Status.Tag == status.CanStart:
		vs.Status = status.IncompleteStatus(status.OutdatedInputs, nil)
		t.set(v, ix, vs)
		return true
	default:
		return false
	}
}
