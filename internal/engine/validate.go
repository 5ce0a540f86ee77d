package engine

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/vk/dataflow/internal/graph"
)

// validate is a package-level validator instance, following the teacher's
// pattern of a single shared *validator.Validate rather than constructing
// one per call (validator.New is not cheap: it builds a struct-field cache).
var validate = validator.New()

// edgeShape is the subset of an Edge's scalar fields go-playground/validator
// can check directly; Source/Target are validated separately since a
// *graph.Vertex has no meaningful struct tags of its own.
type edgeShape struct {
	OutputRef    int `validate:"gte=0"`
	InputRef     int `validate:"gte=0"`
	Rank         int `validate:"gte=0"`
	CollectIndex int `validate:"gte=0"`
}

// ValidateEdge checks one edge's structural well-formedness before it is
// ever handed to graph.Connect — SPEC_FULL.md component K.
func ValidateEdge(e graph.Edge) error {
	if e.Source == nil {
		return fmt.Errorf("engine: edge has no source vertex")
	}
	if e.Target == nil {
		return fmt.Errorf("engine: edge has no target vertex")
	}
	shape := edgeShape{
		OutputRef:    e.OutputRef,
		InputRef:     e.InputRef,
		Rank:         e.Kind.Rank,
		CollectIndex: e.Kind.CollectIndex,
	}
	if err := validate.Struct(shape); err != nil {
		return fmt.Errorf("engine: malformed edge: %w", err)
	}
	return nil
}

// ValidateAlter checks every edge an AlterAsync batch would add or remove.
// Graph-level rules (acyclicity, port binding, type compatibility) are still
// enforced by graph.Connect itself inside the state machine; this pass only
// rejects structurally malformed edges before they reach it.
func ValidateAlter(disconnect, connect []graph.Edge) error {
	for _, e := range disconnect {
		if err := ValidateEdge(e); err != nil {
			return err
		}
	}
	for _, e := range connect {
		if err := ValidateEdge(e); err != nil {
			return err
		}
	}
	return nil
}
