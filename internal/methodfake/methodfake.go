// Package methodfake provides in-tree test doubles for the method.Method
// contract. Concrete method implementations are out of scope for this
// module (spec.md §1); this package exists only so the core's own test
// suite has something to schedule, mirroring the teacher repo's
// internal/testutil fakes used to exercise its executor without a real
// runner.
package methodfake

import (
	"context"
	"fmt"
	"sync"

	"github.com/vk/dataflow/internal/artefact"
	"github.com/vk/dataflow/internal/method"
)

// Method is a configurable method.Method double. The zero value is not
// usable; construct with New.
type Method struct {
	id      method.ID
	inputs  []artefact.Descriptor
	outputs []artefact.Descriptor

	mu          sync.Mutex
	ExecuteFunc func(ctx context.Context, inputs []artefact.Artefact, checkpoint *artefact.Checkpoint) (method.Sequence, error)
	ReproduceFunc func(ctx context.Context, inputs []artefact.Artefact, checkpoint artefact.Checkpoint) ([]artefact.Artefact, error)
	Calls       int
}

// New returns a Method with the given port shapes and no behaviour
// installed; set ExecuteFunc/ReproduceFunc before use.
func New(inputs, outputs []artefact.Descriptor) *Method {
	return &Method{id: method.NewID(), inputs: inputs, outputs: outputs}
}

func (m *Method) ID() method.ID                      { return m.id }
func (m *Method) Inputs() []artefact.Descriptor      { return m.inputs }
func (m *Method) Outputs() []artefact.Descriptor     { return m.outputs }

func (m *Method) Execute(ctx context.Context, inputs []artefact.Artefact, checkpoint *artefact.Checkpoint) (method.Sequence, error) {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()
	if m.ExecuteFunc == nil {
		return nil, fmt.Errorf("methodfake: ExecuteFunc not set")
	}
	return m.ExecuteFunc(ctx, inputs, checkpoint)
}

func (m *Method) Reproduce(ctx context.Context, inputs []artefact.Artefact, checkpoint artefact.Checkpoint) ([]artefact.Artefact, error) {
	if m.ReproduceFunc == nil {
		return nil, fmt.Errorf("methodfake: ReproduceFunc not set")
	}
	return m.ReproduceFunc(ctx, inputs, checkpoint)
}

// sliceSequence replays a fixed list of results, then terminates.
type sliceSequence struct {
	results []method.Result
	i       int
}

func (s *sliceSequence) Next(ctx context.Context) (method.Result, bool, error) {
	if err := ctx.Err(); err != nil {
		return method.Result{}, false, err
	}
	if s.i >= len(s.results) {
		return method.Result{}, false, nil
	}
	r := s.results[s.i]
	s.i++
	return r, true, nil
}

// Sequence returns a method.Sequence that yields results in order, then
// signals completion.
func Sequence(results ...method.Result) method.Sequence {
	return &sliceSequence{results: results}
}

// FailingSequence returns a method.Sequence whose first Next call fails
// with err.
func FailingSequence(err error) method.Sequence {
	return &failSequence{err: err}
}

type failSequence struct{ err error }

func (s *failSequence) Next(ctx context.Context) (method.Result, bool, error) {
	return method.Result{}, false, s.err
}

// BlockingSequence returns a method.Sequence whose first Next call blocks
// until ctx is cancelled, then returns ctx.Err(). Useful for exercising
// cancellation paths.
func BlockingSequence() method.Sequence { return &blockingSequence{} }

type blockingSequence struct{}

func (s *blockingSequence) Next(ctx context.Context) (method.Result, bool, error) {
	<-ctx.Done()
	return method.Result{}, false, ctx.Err()
}
