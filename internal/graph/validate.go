package graph

import "fmt"

// validatePortRefs rejects an edge whose output_ref/input_ref falls outside
// the declared port lists of its endpoints ("port overflow", §7).
func validatePortRefs(e Edge) error {
	outputs := e.Source.Outputs()
	if e.OutputRef < 0 || e.OutputRef >= len(outputs) {
		return fmt.Errorf("%w: output_ref %d out of range for vertex %s (%d outputs)",
			ErrAlter, e.OutputRef, e.Source.id, len(outputs))
	}
	inputs := e.Target.Inputs()
	if e.InputRef < 0 || e.InputRef >= len(inputs) {
		return fmt.Errorf("%w: input_ref %d out of range for vertex %s (%d inputs)",
			ErrAlter, e.InputRef, e.Target.id, len(inputs))
	}
	return nil
}

// validatePortBinding enforces §3's input-port binding rule: an input port
// is unconnected, bound by exactly one non-Collect edge, or bound by one or
// more Collect edges with pairwise-disjoint idx values.
func validatePortBinding(existing []Edge, e Edge) error {
	var atPort []Edge
	for _, ex := range existing {
		if ex.InputRef == e.InputRef {
			atPort = append(atPort, ex)
		}
	}
	if len(atPort) == 0 {
		return nil
	}
	if e.Kind.Tag != Collect {
		return fmt.Errorf("%w: input port %d of vertex %s is already bound", ErrAlter, e.InputRef, e.Target.id)
	}
	for _, ex := range atPort {
		if ex.Kind.Tag != Collect {
			return fmt.Errorf("%w: input port %d of vertex %s already has a non-Collect binding", ErrAlter, e.InputRef, e.Target.id)
		}
		if ex.Kind.CollectIndex == e.Kind.CollectIndex {
			return fmt.Errorf("%w: input port %d of vertex %s already has a Collect edge at idx %d",
				ErrAlter, e.InputRef, e.Target.id, e.Kind.CollectIndex)
		}
	}
	return nil
}

// validateKindTypes checks that the source output descriptor and target
// input descriptor are compatible with the edge's connection kind
// ("type mismatch", §7).
func validateKindTypes(e Edge) error {
	out := e.Source.Outputs()[e.OutputRef]
	in := e.Target.Inputs()[e.InputRef]

	switch e.Kind.Tag {
	case OneToOne:
		if out.Array != in.Array || !out.Type.Equals(in.Type) {
			return fmt.Errorf("%w: OneToOne edge type mismatch: %s -> %s", ErrAlter, out, in)
		}
	case Scatter:
		if !out.Array {
			return fmt.Errorf("%w: Scatter source output %s is not array-typed", ErrAlter, out)
		}
		if in.Array || !in.Type.Equals(out.Type) {
			return fmt.Errorf("%w: Scatter edge type mismatch: %s -> %s", ErrAlter, out, in)
		}
	case Reduce:
		if out.Array {
			return fmt.Errorf("%w: Reduce source output %s must be scalar", ErrAlter, out)
		}
		if !in.Array || !in.Type.Equals(out.Type) {
			return fmt.Errorf("%w: Reduce edge type mismatch: %s -> %s", ErrAlter, out, in)
		}
	case Collect:
		if out.Array {
			return fmt.Errorf("%w: Collect source output %s must be scalar", ErrAlter, out)
		}
		if !in.Array || !in.Type.Equals(out.Type) {
			return fmt.Errorf("%w: Collect edge type mismatch: %s -> %s", ErrAlter, out, in)
		}
	default:
		return fmt.Errorf("%w: unknown connection kind %v", ErrAlter, e.Kind.Tag)
	}
	return nil
}
