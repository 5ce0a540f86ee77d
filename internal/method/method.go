// Package method defines the external Method contract (§6 of the spec):
// the only interface the dataflow core requires from user code. Concrete
// method implementations are out of scope for this module — only this
// contract, and the progress/cancellation plumbing a method body observes
// through its context, live here.
package method

import (
	"context"
	"sync"

	"github.com/vk/dataflow/internal/artefact"
)

// ID is a method's stable, comparable identity. The source project left
// Method equality/hashing unimplemented (see spec.md §9's Open Questions);
// here a Method is identified by an ID handed out once at registration time,
// following the same "stable structured identity assigned at construction"
// approach the teacher repo uses for its node addresses.
type ID struct{ n uint64 }

var (
	idMu   sync.Mutex
	nextID uint64
)

// NewID returns a fresh, process-unique method identity.
func NewID() ID {
	idMu.Lock()
	defer idMu.Unlock()
	nextID++
	return ID{n: nextID}
}

// Equal reports whether two IDs were handed out from the same NewID call.
func (id ID) Equal(other ID) bool { return id.n == other.n }

// Less gives ID a total order, so IDs (and hence Methods) can be used as
// sorted map keys or in deterministic test fixtures.
func (id ID) Less(other ID) bool { return id.n < other.n }

// Result is one element of the lazy sequence a method's Execute call
// produces: a full output tuple plus the checkpoint that identifies how to
// reproduce it.
type Result struct {
	Outputs    []artefact.Artefact
	Checkpoint artefact.Checkpoint
}

// Sequence is the lazy sequence of checkpointed results yielded by Execute.
// Next blocks until a result is ready, returns (_, false, nil) once the
// method has no more iterations, or returns a non-nil error if the method
// failed. A method must honour ctx's cancellation between iterations
// (§6: "must honour the context's cancellation token between yields").
type Sequence interface {
	Next(ctx context.Context) (Result, bool, error)
}

// Method is the external contract every vertex's executable logic must
// satisfy. Equality and ordering are defined over ID, not over the
// implementation, so two distinct Method values are never accidentally
// treated as the same vertex logic.
type Method interface {
	// ID returns this method's stable identity.
	ID() ID

	// Inputs and Outputs describe the method's ports, in declaration order.
	// The graph model uses these to validate edges at connection time.
	Inputs() []artefact.Descriptor
	Outputs() []artefact.Descriptor

	// Execute runs the method body. It must produce at least one element
	// and must be deterministic given (inputs, checkpoint). checkpoint is
	// nil on a fresh run and non-nil when resuming a Continues slice after
	// a Complete(checkpoint, _) → Continues(...) transition (§4.2).
	Execute(ctx context.Context, inputs []artefact.Artefact, checkpoint *artefact.Checkpoint) (Sequence, error)

	// Reproduce yields the outputs that Execute would have produced at the
	// point it emitted checkpoint, bit-identical. It is invoked instead of
	// Execute when an observer restores a CompleteStarted slice whose
	// output was Partial (§4.4, §9).
	Reproduce(ctx context.Context, inputs []artefact.Artefact, checkpoint artefact.Checkpoint) ([]artefact.Artefact, error)
}
