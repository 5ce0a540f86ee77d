// Package artefact defines the opaque values that flow along the edges of
// a dataflow graph, and the erased type descriptors that the graph model
// uses for edge validation without ever inspecting a value's contents.
//
// Artefacts and checkpoints are represented as cty.Value, the same
// value representation the teacher repo uses for step/resource I/O
// (see internal/dag/node_runner.go's ctyValueToInterface), rather than a
// bare `any`. This keeps the core's "typed only by erased descriptors"
// requirement concrete: a Descriptor carries a cty.Type, and the core never
// needs reflection to compare two descriptors or to decide whether a value
// matches a port's shape.
package artefact

import (
	"github.com/zclconf/go-cty/cty"
)

// Artefact is an opaque output value produced by a method. The core never
// branches on its contents; it only ever compares cty.Types.
type Artefact = cty.Value

// Checkpoint is opaque, method-defined state sufficient to resume or
// reproduce an iteration. Like Artefact, the core treats it as inert.
type Checkpoint = cty.Value

// NilCheckpoint is the zero checkpoint value. A method's first Execute call
// receives a nil *Checkpoint rather than this value.
var NilCheckpoint = cty.NilVal

// Descriptor is the erased type of one input or output port.
type Descriptor struct {
	// Type is the scalar element type of the port.
	Type cty.Type
	// Array marks a port that carries a list of Type rather than a single
	// value — the shape that Reduce and Collect inputs, and Scatter
	// sources, require.
	Array bool
}

// Scalar returns a descriptor for a single value of t.
func Scalar(t cty.Type) Descriptor { return Descriptor{Type: t} }

// List returns a descriptor for an array-typed port carrying elements of t.
func List(t cty.Type) Descriptor { return Descriptor{Type: t, Array: true} }

// Assignable reports whether a value of the given cty.Type may be carried by
// a port with this descriptor. Arrays are checked by element type only —
// the core does not otherwise constrain list length, which is a runtime
// property (§3: "shape inference driven by runtime output sizes").
func (d Descriptor) Assignable(t cty.Type) bool {
	if d.Array {
		switch {
		case t.IsListType():
			return t.ElementType().Equals(d.Type)
		case t.IsTupleType():
			for _, et := range t.TupleElementTypes() {
				if !et.Equals(d.Type) {
					return false
				}
			}
			return true
		default:
			return false
		}
	}
	return t.Equals(d.Type)
}

// String renders the descriptor for diagnostics and error messages.
func (d Descriptor) String() string {
	if d.Array {
		return "[]" + d.Type.FriendlyName()
	}
	return d.Type.FriendlyName()
}
