// Package engine implements spec.md §4.5: the façade that wires a
// statemachine.Machine's Changes() through analyser.Analyse into a
// runtime.Runtime, and the runtime's posted messages back into the
// machine's Send — plus the observable streams (state, changes, progress)
// and the start()/alter_async() entry points external callers use instead
// of touching the state machine or runtime directly.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vk/dataflow/internal/analyser"
	"github.com/vk/dataflow/internal/ctxlog"
	"github.com/vk/dataflow/internal/flowstate"
	"github.com/vk/dataflow/internal/graph"
	"github.com/vk/dataflow/internal/index"
	"github.com/vk/dataflow/internal/runtime"
	"github.com/vk/dataflow/internal/scheduler"
	"github.com/vk/dataflow/internal/statemachine"
	"github.com/vk/dataflow/internal/status"
)

// Event is one published (state, changes) tuple. A runtime or scheduler
// panic is fatal (§7): it is recovered, logged, and forwarded as a single
// Event with Err set, after which Events() is closed — never silently
// dropped and never left to crash the state machine goroutine.
type Event struct {
	Snapshot statemachine.Snapshot
	Err      error
}

// ProgressEvent is one (vertex, index, fraction) progress report (§4.4).
type ProgressEvent struct {
	Vertex   graph.VertexID
	Index    index.Index
	Fraction float64
}

// Engine is the top-level object external callers construct and drive.
type Engine struct {
	machine *statemachine.Machine
	rt      *runtime.Runtime
	logger  *slog.Logger

	events   chan Event
	progress chan ProgressEvent

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type config struct {
	logger      *slog.Logger
	runtimeOpts []runtime.Option
}

// Option configures an Engine at construction time.
type Option func(*config)

// WithLogger installs logger as the context-carried logger every runtime
// goroutine logs through (via internal/ctxlog). Without this option the
// engine runs with a discarding logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithRuntimeOptions passes opts through to runtime.New — e.g.
// runtime.WithDelay for a non-zero Delay debounce, or runtime.WithMetrics.
func WithRuntimeOptions(opts ...runtime.Option) Option {
	return func(c *config) { c.runtimeOpts = append(c.runtimeOpts, opts...) }
}

// New constructs a suspended Engine over initial (§4.5: "creates a
// suspended state machine"). initial may be a restored DataFlowState whose
// CompleteStarted slices carry a Partial checkpoint, or whose slices simply
// were never reclassified before being persisted (e.g. a zero-input vertex
// left at Incomplete(UnassignedInputs)) — New runs the installed state
// through statemachine.Reclassify before evaluating the analyser, so the
// runtime issues whatever Delay/Execute/Reproduce actions the restore
// implies as soon as Start is called.
func New(initial flowstate.State, sched scheduler.Scheduler, opts ...Option) *Engine {
	cfg := &config{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ctx = ctxlog.WithLogger(ctx, cfg.logger)

	reclassified, reclassifyChanges := statemachine.Reclassify(initial)
	restore := restoreChanges(reclassified, reclassifyChanges)

	e := &Engine{
		logger:   cfg.logger,
		events:   make(chan Event, 256),
		progress: make(chan ProgressEvent, 256),
		cancel:   cancel,
	}

	e.machine = statemachine.NewMachine(reclassified)

	runtimeOpts := append([]runtime.Option{
		runtime.WithProgress(func(v graph.VertexID, ix index.Index, p float64) {
			select {
			case e.progress <- ProgressEvent{Vertex: v, Index: ix, Fraction: p}:
			default:
			}
		}),
	}, cfg.runtimeOpts...)
	e.rt = runtime.New(ctx, e.machine, sched, runtimeOpts...)

	e.wg.Add(1)
	go e.loop(reclassified, restore)

	return e
}

// loop is the engine's single change-processing goroutine: it dispatches the
// restore-implied actions once, then forever forwards Machine snapshots to
// Events() and their derived Actions to the runtime.
func (e *Engine) loop(initial flowstate.State, restore statemachine.Changes) {
	defer e.wg.Done()
	defer close(e.events)
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("engine: change loop panicked", slog.Any("panic", r))
			select {
			case e.events <- Event{Err: fmt.Errorf("engine: panic: %v", r)}:
			default:
			}
		}
	}()

	for _, action := range analyser.Analyse(initial, restore) {
		e.rt.Dispatch(initial, action)
	}

	for snap := range e.machine.Changes() {
		select {
		case e.events <- Event{Snapshot: snap}:
		default:
		}
		for _, action := range analyser.Analyse(snap.State, snap.Changes) {
			e.rt.Dispatch(snap.State, action)
		}
	}
}

// restoreChanges adds, on top of whatever statemachine.Reclassify's own
// promotion/demotion cascade already produced, a synthetic "entering from
// nothing" entry for every slice that was already sitting in an actionable
// status before restore — e.g. a CompleteStarted slice carrying a Partial
// checkpoint (§6). Reclassify correctly leaves such a slice untouched (its
// status never changed), but it still needs its action re-derived here
// since no live message ever produced it in this process; analyser.Analyse
// only derives an action by diffing a slice's old status against its new
// one (see its Reproduce rule, TestCompleteStartedWithCheckpointProducesReproduce),
// so each such index is excluded from the vertex's Old map rather than left
// pointing at its own (identical) prior value.
func restoreChanges(reclassified flowstate.State, already statemachine.Changes) statemachine.Changes {
	out := make(statemachine.Changes, len(already))
	for v, vc := range already {
		out[v] = vc
	}

	for v := range reclassified.Flow {
		rank, err := reclassified.Graph.Rank(v)
		if err != nil {
			continue
		}
		vc := out[v]
		touched := make(map[string]bool, len(vc.Indices))
		for _, ix := range vc.Indices {
			touched[ix.Key()] = true
		}

		changed := false
		for _, entry := range reclassified.Flow.Get(v, rank).ToSlice() {
			if touched[entry.Index.Key()] || !isRestoreActionable(entry.Value.Status.Tag) {
				continue
			}
			vc.Old = vc.Old.Remove(entry.Index)
			vc.Indices = append(vc.Indices, entry.Index)
			changed = true
		}
		if changed {
			out[v] = vc
		}
	}
	return out
}

// isRestoreActionable reports whether a slice's status, found already in
// this shape at restore time rather than arrived at via a live transition,
// still implies a runtime action (a debounce, a worker invocation, or a
// reproduce replay).
func isRestoreActionable(tag status.Tag) bool {
	switch tag {
	case status.CanStart, status.CompleteStarted, status.Started, status.Continues:
		return true
	default:
		return false
	}
}

// State returns the state machine's most recently committed snapshot.
func (e *Engine) State() flowstate.State { return e.machine.State() }

// Events returns the observable stream of (state, changes) tuples (§4.5).
// It is closed once, after an Engine is Closed or after an unrecoverable
// runtime panic — the final delivery in the latter case has Err set.
func (e *Engine) Events() <-chan Event { return e.events }

// Progress returns the observable stream of (vertex, index, fraction)
// progress reports (§4.4).
func (e *Engine) Progress() <-chan ProgressEvent { return e.progress }

// Start transitions the suspended state machine to active (§4.5, §6).
func (e *Engine) Start() { e.machine.Start() }

// AlterAsync validates and posts an Alter message built from the given
// batch, and blocks until the state machine acknowledges it or ctx is
// done. A structurally malformed edge, or one graph.Connect rejects (cycle,
// type mismatch, port overflow), is returned as an *AlterError; the state
// is left unchanged either way (§7).
func (e *Engine) AlterAsync(ctx context.Context, disconnect []graph.Edge, remove []graph.VertexID, merge *graph.Graph, connect []graph.Edge) error {
	if err := ValidateAlter(disconnect, connect); err != nil {
		return newAlterError("invalid alter batch", err)
	}

	reply := make(chan error, 1)
	e.machine.Send(statemachine.Alter{
		Disconnect: disconnect,
		Remove:     remove,
		Merge:      merge,
		Connect:    connect,
		Reply:      reply,
	})

	select {
	case err := <-reply:
		if err != nil {
			return newAlterError("graph alteration rejected", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the engine: the runtime's worker contexts, the state
// machine's processing loop, and the engine's own change-processing
// goroutine, in that order. Events() is closed as a result; Progress() is
// left open since scheduler-spawned worker goroutines outside the engine's
// own waitgroup may still report progress as they unwind from cancellation.
func (e *Engine) Close() {
	e.cancel()
	e.machine.Close()
	e.wg.Wait()
}
