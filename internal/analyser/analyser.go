// Package analyser implements spec.md §4.2: a pure function from a
// post-transition (state, changes) pair to the list of runtime Actions the
// change induces. It is deliberately decoupled from how statemachine
// produces a Changes value — it only looks at each touched slice's
// old→new status pair, recovered by diffing VertexChange.Old against the
// vertex's current slices in state. This keeps the rule table in one
// place and lets it apply uniformly whether a transition came from a live
// message or from installing a restored initial state.
package analyser

import (
	"github.com/vk/dataflow/internal/flowstate"
	"github.com/vk/dataflow/internal/graph"
	"github.com/vk/dataflow/internal/index"
	"github.com/vk/dataflow/internal/statemachine"
	"github.com/vk/dataflow/internal/status"
)

// ActionKind discriminates the five actions of §4.2.
type ActionKind int

const (
	Delay ActionKind = iota
	Execute
	Reproduce
	StopMethod
	Remove
)

func (k ActionKind) String() string {
	switch k {
	case Delay:
		return "Delay"
	case Execute:
		return "Execute"
	case Reproduce:
		return "Reproduce"
	case StopMethod:
		return "StopMethod"
	case Remove:
		return "Remove"
	default:
		return "Unknown"
	}
}

// Action is one imperative directive for the runtime to carry out.
type Action struct {
	Kind   ActionKind
	Vertex graph.VertexID
	Index  index.Index
	// Time is the CanStartTime/StartTime relevant to this action. Unused
	// for Remove.
	Time int64
}

// Analyse computes the actions induced by changes, given the state they
// were produced against (the post-transition state — Changes.Old holds the
// pre-transition snapshot needed to recover each slice's old status).
func Analyse(state flowstate.State, changes statemachine.Changes) []Action {
	var actions []Action
	for v, vc := range changes {
		if vc.Kind == statemachine.Removed {
			actions = append(actions, Action{Kind: Remove, Vertex: v})
			continue
		}
		rank, err := state.Graph.Rank(v)
		if err != nil {
			continue
		}
		current := state.Flow.Get(v, rank)
		for _, ix := range vc.Indices {
			newVS, ok := current.Find(ix)
			if !ok {
				continue
			}
			oldVS, hadOld := vc.Old.Find(ix)
			if a, ok := actionFor(v, ix, hadOld, oldVS, newVS); ok {
				actions = append(actions, a)
			}
		}
	}
	return actions
}

func actionFor(v graph.VertexID, ix index.Index, hadOld bool, old, new flowstate.VertexState) (Action, bool) {
	oldTag := status.Tag(-1)
	if hadOld {
		oldTag = old.Status.Tag
	}

	switch {
	// CanStart t1 -> CanStart t2 (t1 != t2): re-debounce.
	case oldTag == status.CanStart && new.Status.Tag == status.CanStart && old.Status.Time != new.Status.Time:
		return Action{Kind: Delay, Vertex: v, Index: ix, Time: new.Status.Time}, true

	// _ -> CanStart t (entering CanStart from anything else).
	case new.Status.Tag == status.CanStart && oldTag != status.CanStart:
		return Action{Kind: Delay, Vertex: v, Index: ix, Time: new.Status.Time}, true

	// CanStart _ -> Started t.
	case oldTag == status.CanStart && new.Status.Tag == status.Started:
		return Action{Kind: Execute, Vertex: v, Index: ix, Time: new.Status.Time}, true

	// _ -> CompleteStarted(_, t): fresh re-execution with no checkpoint to
	// resume from runs Execute; with a checkpoint present, Reproduce.
	case new.Status.Tag == status.CompleteStarted && oldTag != status.CompleteStarted:
		if new.Data != nil && new.Data.Checkpoint != nil {
			return Action{Kind: Reproduce, Vertex: v, Index: ix, Time: new.Status.Time}, true
		}
		return Action{Kind: Execute, Vertex: v, Index: ix, Time: new.Status.Time}, true

	// Complete(Some checkpoint, _) -> Continues(k, _, t): resume with prior
	// output as resume state.
	case oldTag == status.Complete && old.Data != nil && old.Data.Checkpoint != nil && new.Status.Tag == status.Continues:
		return Action{Kind: Execute, Vertex: v, Index: ix, Time: new.Status.Time}, true

	// Continues _ -> Complete _, or Started _ -> Incomplete(Stopped).
	case oldTag == status.Continues && new.Status.Tag == status.Complete:
		return Action{Kind: StopMethod, Vertex: v, Index: ix, Time: old.Status.Time}, true
	case oldTag == status.Started && new.Status.Tag == status.Incomplete && new.Status.Reason == status.Stopped:
		return Action{Kind: StopMethod, Vertex: v, Index: ix, Time: old.Status.Time}, true

	default:
		return Action{}, false
	}
}
