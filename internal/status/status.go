// Package status implements the per-slice VertexStatus lattice of spec.md
// §3: a tagged variant with one case per status kind, plus the coarse
// adjacency table that says which tag-to-tag moves are ever legitimate.
//
// Transitions are a pure function of (old status, message, input
// availability) — per spec.md §9 ("Status lattice is best encoded as a
// tagged variant... transitions are a pure function"). That function lives
// in internal/statemachine, since it needs the message and availability
// context this package deliberately does not carry. This package only
// fixes the vocabulary and the static shape of the lattice so it can be
// centralised and tested cell-by-cell, as §9 asks.
package status

import "fmt"

// Tag discriminates the status cases of spec.md §3.
type Tag int

const (
	Incomplete Tag = iota
	CanStart
	Started
	Continues
	Complete
	CompleteStarted
	Paused
	PausedContinues
	PausedInherited
)

func (t Tag) String() string {
	switch t {
	case Incomplete:
		return "Incomplete"
	case CanStart:
		return "CanStart"
	case Started:
		return "Started"
	case Continues:
		return "Continues"
	case Complete:
		return "Complete"
	case CompleteStarted:
		return "CompleteStarted"
	case Paused:
		return "Paused"
	case PausedContinues:
		return "PausedContinues"
	case PausedInherited:
		return "PausedInherited"
	default:
		return "Unknown"
	}
}

// Reason discriminates the Incomplete cases of spec.md §3.
type Reason int

const (
	// NoReason is used for every non-Incomplete status.
	NoReason Reason = iota
	UnassignedInputs
	OutdatedInputs
	ExecutionFailed
	Stopped
	TransientInputs
)

func (r Reason) String() string {
	switch r {
	case NoReason:
		return "NoReason"
	case UnassignedInputs:
		return "UnassignedInputs"
	case OutdatedInputs:
		return "OutdatedInputs"
	case ExecutionFailed:
		return "ExecutionFailed"
	case Stopped:
		return "Stopped"
	case TransientInputs:
		return "TransientInputs"
	default:
		return "Unknown"
	}
}

// Status is the full per-slice status value. Output artefacts and
// checkpoints are not carried here — they live in flowstate.VertexState.Data
// — so this type stays a small, comparable control value.
type Status struct {
	Tag Tag
	// Reason is meaningful only when Tag == Incomplete.
	Reason Reason
	// Err is meaningful only when Reason == ExecutionFailed.
	Err error
	// Time is the CanStartTime (Tag == CanStart) or StartTime
	// (Tag == Started, Continues, or CompleteStarted).
	Time int64
	// Iterations is k, the number of checkpoints emitted so far. Meaningful
	// only when Tag == Continues or PausedContinues.
	Iterations int
}

func IncompleteStatus(reason Reason, err error) Status {
	return Status{Tag: Incomplete, Reason: reason, Err: err}
}

func CanStartAt(t int64) Status { return Status{Tag: CanStart, Time: t} }

func StartedAt(t int64) Status { return Status{Tag: Started, Time: t} }

func ContinuesAt(k int, t int64) Status { return Status{Tag: Continues, Iterations: k, Time: t} }

func CompleteStatus() Status { return Status{Tag: Complete} }

func CompleteStartedAt(t int64) Status { return Status{Tag: CompleteStarted, Time: t} }

func PausedStatus() Status { return Status{Tag: Paused} }

func PausedContinuesAt(k int) Status { return Status{Tag: PausedContinues, Iterations: k} }

func PausedInheritedStatus() Status { return Status{Tag: PausedInherited} }

// IsRunning reports whether a method is currently executing for this status.
func (s Status) IsRunning() bool {
	switch s.Tag {
	case Started, Continues, CompleteStarted:
		return true
	default:
		return false
	}
}

// IsAvailable reports whether a slice in this status has produced output
// that downstream slices may read (§4.1 phase 3's reclassification checks
// this before tearing down a Complete status on upstream invalidation).
func (s Status) IsAvailable() bool {
	switch s.Tag {
	case Continues, Complete, CompleteStarted:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	switch s.Tag {
	case Incomplete:
		if s.Reason == ExecutionFailed && s.Err != nil {
			return fmt.Sprintf("Incomplete(%s: %v)", s.Reason, s.Err)
		}
		return fmt.Sprintf("Incomplete(%s)", s.Reason)
	case CanStart, Started, CompleteStarted:
		return fmt.Sprintf("%s(t=%d)", s.Tag, s.Time)
	case Continues:
		return fmt.Sprintf("Continues(k=%d, t=%d)", s.Iterations, s.Time)
	case PausedContinues:
		return fmt.Sprintf("PausedContinues(k=%d)", s.Iterations)
	default:
		return s.Tag.String()
	}
}

// Allowed reports whether a direct old→new tag transition is ever
// legitimate, independent of which message causes it. internal/statemachine
// is the authority on which message drives which cell; this table exists so
// that authority can be asserted against a single, centralised lattice
// (spec.md §9: "Centralise the table; test each cell").
//
// Paused, PausedContinues and PausedInherited are part of the status
// vocabulary (spec.md §3) but no message in spec.md §4.1 drives a
// transition into or out of them — see DESIGN.md's Open Question notes.
// They are included here only as self-loops so an implementation that adds
// a pause/resume message later has a lattice cell ready to wire up.
func Allowed(from, to Tag) bool {
	switch from {
	case Incomplete:
		return to == Incomplete || to == CanStart
	case CanStart:
		return to == CanStart || to == Started || to == Incomplete
	case Started:
		return to == Continues || to == Complete || to == Incomplete
	case Continues:
		return to == Continues || to == Complete || to == Incomplete
	case Complete:
		return to == Complete || to == Continues || to == CompleteStarted || to == Incomplete
	case CompleteStarted:
		return to == Complete || to == Incomplete
	case Paused:
		return to == Paused
	case PausedContinues:
		return to == PausedContinues
	case PausedInherited:
		return to == PausedInherited
	default:
		return false
	}
}
