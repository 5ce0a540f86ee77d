package statemachine

import (
	"github.com/vk/dataflow/internal/flowstate"
	"github.com/vk/dataflow/internal/graph"
	"github.com/vk/dataflow/internal/index"
	"github.com/vk/dataflow/internal/status"
)

// transitionAlter applies an atomic graph mutation batch (§4.1): disconnect,
// then remove, then merge in Merge's vertices and edges, then connect. If
// any Connect fails validation the whole batch is rejected and the original
// state is returned unchanged (§7's AlterError contract).
func transitionAlter(state flowstate.State, m Alter) (flowstate.State, Changes, error) {
	g := state.Graph.Clone()

	for _, e := range m.Disconnect {
		g.Disconnect(e)
	}
	for _, id := range m.Remove {
		g.RemoveVertex(id)
	}

	var mergedVertices []*graph.Vertex
	if m.Merge != nil {
		for _, v := range m.Merge.Vertices() {
			g.AddVertex(v)
			mergedVertices = append(mergedVertices, v)
		}
		for _, v := range mergedVertices {
			for _, e := range m.Merge.OutgoingEdges(v.ID()) {
				if err := g.Connect(e); err != nil {
					reply(m.Reply, err)
					return state, Changes{}, nil
				}
			}
		}
	}

	var connected []graph.Edge
	for _, e := range m.Connect {
		if err := g.Connect(e); err != nil {
			reply(m.Reply, err)
			return state, Changes{}, nil
		}
		connected = append(connected, e)
	}

	touchedTargets := map[graph.VertexID]bool{}
	for _, e := range m.Disconnect {
		touchedTargets[e.Target.ID()] = true
	}
	for _, e := range connected {
		touchedTargets[e.Target.ID()] = true
	}

	newVertices := map[graph.VertexID]*graph.Vertex{}
	for _, v := range mergedVertices {
		newVertices[v.ID()] = v
	}

	if len(m.Remove) == 0 && len(touchedTargets) == 0 && len(newVertices) == 0 {
		reply(m.Reply, nil)
		return state, Changes{}, nil
	}

	t := &tx{
		state:       flowstate.State{Graph: g, Flow: state.Flow, TimeIndex: state.TimeIndex},
		initialFlow: state.Flow,
		changes:     Changes{},
	}
	t.bumpTime()

	if len(m.Remove) > 0 {
		t.state.Flow = t.state.Flow.Clone()
	}
	for _, id := range m.Remove {
		t.markRemoved(id)
		delete(t.state.Flow, id)
	}

	for id, v := range newVertices {
		rank := t.rank(id)
		if rank != 0 {
			continue
		}
		if _, ok := t.get(id, index.New()); ok {
			continue
		}
		t.set(id, index.New(), flowstate.VertexState{Status: status.IncompleteStatus(status.UnassignedInputs, nil)})
		t.markNew(id, index.New())
		_ = v
	}

	for id := range touchedTargets {
		t.markConnectionChanged(id)
		rank := t.rank(id)
		for _, entry := range t.state.Flow.Get(id, rank).ToSlice() {
			if t.reclassify(id, entry.Index) {
				t.touch(id, entry.Index)
				t.propagateFrom(id, entry.Index)
			}
		}
		if rank == 0 {
			if _, ok := t.get(id, index.New()); !ok {
				t.set(id, index.New(), flowstate.VertexState{Status: status.IncompleteStatus(status.UnassignedInputs, nil)})
				t.markNew(id, index.New())
			}
			if t.reclassify(id, index.New()) {
				t.touch(id, index.New())
				t.propagateFrom(id, index.New())
			}
		}
	}

	for id := range newVertices {
		if touchedTargets[id] {
			continue
		}
		rank := t.rank(id)
		if rank == 0 {
			if t.reclassify(id, index.New()) {
				t.touch(id, index.New())
				t.propagateFrom(id, index.New())
			}
		}
	}

	reply(m.Reply, nil)
	return t.state, t.changes, nil
}

// Reclassify recomputes input availability for every slice already present
// in state and applies the same CanStart promotion / Incomplete(OutdatedInputs)
// demotion cascade the touchedTargets loop above runs for a live graph
// mutation. Installing an initial DataFlowState (§6's restore scenario) is
// not itself a message, so it never passes through Transition and nothing
// would otherwise re-derive a slice whose inputs turned out to already be
// satisfied — e.g. a zero-input vertex sitting at Incomplete(UnassignedInputs)
// needs this pass to ever reach CanStart.
func Reclassify(state flowstate.State) (flowstate.State, Changes) {
	any := false
	for _, slices := range state.Flow {
		if slices.Len() != 0 {
			any = true
			break
		}
	}
	if !any {
		return state, Changes{}
	}

	t := newTx(state)
	t.bumpTime()
	for v := range state.Flow {
		rank := t.rank(v)
		for _, entry := range t.state.Flow.Get(v, rank).ToSlice() {
			if t.reclassify(v, entry.Index) {
				t.touch(v, entry.Index)
				t.propagateFrom(v, entry.Index)
			}
		}
	}
	return t.state, t.changes
}

func reply(ch chan error, err error) {
	if ch == nil {
		return
	}
	select {
	case ch <- err:
	default:
	}
}
