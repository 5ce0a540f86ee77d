// Package runtime implements spec.md §4.4: the dispatcher that turns each
// analyser.Action into a scheduled side effect (a debounced Start, a worker
// invocation, a cancellation) and posts the resulting messages back onto a
// statemachine.Machine. Like the state machine it drives, the Runtime is a
// single serialization point over its own action queue; the methods it
// invokes run concurrently, under the Scheduler it was built with.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vk/dataflow/internal/analyser"
	"github.com/vk/dataflow/internal/artefact"
	"github.com/vk/dataflow/internal/ctxlog"
	"github.com/vk/dataflow/internal/flowstate"
	"github.com/vk/dataflow/internal/graph"
	"github.com/vk/dataflow/internal/index"
	"github.com/vk/dataflow/internal/inputs"
	"github.com/vk/dataflow/internal/method"
	"github.com/vk/dataflow/internal/scheduler"
	"github.com/vk/dataflow/internal/statemachine"
)

// ProgressFunc receives one (vertex, index, fraction) progress report,
// forwarded from a method body's method.Report calls (§4.4's "progress"
// observable).
type ProgressFunc func(v graph.VertexID, ix index.Index, p float64)

// Poster is the narrow slice of statemachine.Machine the runtime needs: the
// ability to post a message back for the state machine to transition on.
// Defined as an interface (rather than taking *statemachine.Machine
// directly) so tests can intercept posted messages without a live Machine
// goroutine.
type Poster interface {
	Send(msg statemachine.Message)
}

// Metrics is the Prometheus surface described in SPEC_FULL.md §4: a gauge
// for in-flight executions and a counter for actions dispatched by kind,
// grounded on ahrav-go-gavel's infrastructure/middleware/prometheus_metrics.go.
type Metrics struct {
	InFlight   prometheus.Gauge
	Dispatched *prometheus.CounterVec
}

// NewMetrics constructs and registers Metrics on reg. Passing nil registers
// against prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dataflow",
			Subsystem: "runtime",
			Name:      "inflight_executions",
			Help:      "Number of Execute/Reproduce invocations currently running.",
		}),
		Dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dataflow",
			Subsystem: "runtime",
			Name:      "actions_dispatched_total",
			Help:      "Actions dispatched by the runtime, labelled by kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.InFlight, m.Dispatched)
	return m
}

// handleKey identifies one in-flight or debounced slot: a vertex at an
// index. Only one handle is live per key at a time — the state machine's
// own CanStart/Started/StopMethod sequencing guarantees a slice is never
// dispatched twice concurrently.
type handleKey struct {
	vertex graph.VertexID
	index  string
}

// Runtime dispatches analyser.Actions against a Scheduler, posting the
// resulting Start/Iteration/Succeeded/Failed messages back to post.
// Dispatch is normally called from a single goroutine (the engine's change
// loop), but a worker or debounce timer completing on its own goroutine
// also removes its own handle — handlesMu guards the map against that
// cross-goroutine access.
type Runtime struct {
	post      Poster
	sched     scheduler.Scheduler
	ctx       context.Context
	delayFunc func(timeIndex int64) time.Duration
	metrics   *Metrics
	progress  ProgressFunc

	handlesMu sync.Mutex
	handles   map[handleKey]context.CancelFunc
}

// Option configures a Runtime at construction time.
type Option func(*Runtime)

// WithDelay overrides the default zero-delay Delay-action debounce with f,
// matching SPEC_FULL.md §9's Open Question 4 resolution.
func WithDelay(f func(timeIndex int64) time.Duration) Option {
	return func(r *Runtime) { r.delayFunc = f }
}

// WithMetrics attaches a Metrics instance. Without this option the runtime
// runs with no Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(r *Runtime) { r.metrics = m }
}

// WithProgress installs f as the sink for progress reports a method body
// makes via method.Report. Without this option progress reports are
// discarded.
func WithProgress(f ProgressFunc) Option {
	return func(r *Runtime) { r.progress = f }
}

// New builds a Runtime that dispatches onto sched and posts back to post.
// ctx is the parent context for every worker goroutine the runtime starts;
// the runtime logs through ctxlog.FromContext(ctx), which falls back to a
// discarding logger when ctx carries none.
func New(ctx context.Context, post Poster, sched scheduler.Scheduler, opts ...Option) *Runtime {
	r := &Runtime{
		post:      post,
		sched:     sched,
		ctx:       ctx,
		delayFunc: func(int64) time.Duration { return 0 },
		handles:   make(map[handleKey]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func keyOf(v graph.VertexID, ix index.Index) handleKey {
	return handleKey{vertex: v, index: ix.Key()}
}

// cancelAndForget cancels and removes any handle at key, returning whether
// one existed.
func (r *Runtime) cancelAndForget(key handleKey) bool {
	r.handlesMu.Lock()
	cancel, ok := r.handles[key]
	if ok {
		delete(r.handles, key)
	}
	r.handlesMu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// setHandle installs cancel as the handle for key, replacing (and
// cancelling) whatever was there before.
func (r *Runtime) setHandle(key handleKey, cancel context.CancelFunc) {
	r.cancelAndForget(key)
	r.handlesMu.Lock()
	r.handles[key] = cancel
	r.handlesMu.Unlock()
}

func (r *Runtime) countDispatched(kind analyser.ActionKind) {
	if r.metrics == nil {
		return
	}
	r.metrics.Dispatched.WithLabelValues(kind.String()).Inc()
}

// Dispatch carries out one action against state, the state it was derived
// from (needed to assemble a vertex's materialized inputs and to look up
// its Method).
func (r *Runtime) Dispatch(state flowstate.State, action analyser.Action) {
	r.countDispatched(action.Kind)
	switch action.Kind {
	case analyser.Delay:
		r.dispatchDelay(action)
	case analyser.Execute:
		r.dispatchExecute(state, action)
	case analyser.Reproduce:
		r.dispatchReproduce(state, action)
	case analyser.StopMethod:
		r.dispatchStop(action)
	case analyser.Remove:
		r.dispatchRemove(action)
	}
}

// dispatchDelay implements the Delay action's debounce (§4.2, §9 Open
// Question 4): after delayFunc(action.Time), post a Start carrying
// CanStartTime so a stale debounce timer (superseded by a later
// re-debounce, which cancels this handle first) can never fire against a
// slice that has since moved on.
func (r *Runtime) dispatchDelay(action analyser.Action) {
	t := action.Time
	key := keyOf(action.Vertex, action.Index)

	ctx, cancel := context.WithCancel(r.ctx)
	r.setHandle(key, cancel)
	time.AfterFunc(r.delayFunc(t), func() {
		defer r.cancelAndForget(key)
		if ctx.Err() != nil {
			return
		}
		r.post.Send(statemachine.Start{Vertex: action.Vertex, Index: action.Index, CanStartTime: &t})
	})
}

func (r *Runtime) dispatchExecute(state flowstate.State, action analyser.Action) {
	vertex, ok := state.Graph.Vertex(action.Vertex)
	if !ok {
		return
	}
	vs, ok := state.VertexState(action.Vertex, action.Index)
	if !ok {
		return
	}
	values := inputs.Assemble(state.Graph, state.Flow, vertex, action.Index)
	if !inputs.AllAvailable(values) {
		return
	}
	materialized := inputs.Materialize(values)

	var checkpoint *artefact.Checkpoint
	if vs.Data != nil {
		checkpoint = vs.Data.Checkpoint
	}

	key := keyOf(action.Vertex, action.Index)
	ctx, cancel := context.WithCancel(r.ctx)
	r.setHandle(key, cancel)

	v, ix, startTime := action.Vertex, action.Index, action.Time
	r.sched.Start(func() {
		defer r.cancelAndForget(key)
		r.runExecute(ctx, vertex, v, ix, startTime, materialized, checkpoint)
	})
}

// runExecute drives a Method's lazy result Sequence to completion, posting
// one Iteration message per yielded result and a final Succeeded once the
// sequence is exhausted (§4.4). A Next error or an Execute error both
// become a Failed message rather than propagating — a worker's failure
// must never reach the scheduler or the state machine goroutine directly.
func (r *Runtime) runExecute(ctx context.Context, vertex *graph.Vertex, v graph.VertexID, ix index.Index, startTime int64, in []artefact.Artefact, checkpoint *artefact.Checkpoint) {
	logger := ctxlog.FromContext(r.ctx)
	if r.metrics != nil {
		r.metrics.InFlight.Inc()
		defer r.metrics.InFlight.Dec()
	}

	ctx = r.withReporter(ctx, v, ix)

	seq, err := vertex.Method.Execute(ctx, in, checkpoint)
	if err != nil {
		r.fail(v, ix, startTime, fmt.Errorf("execute: %w", err))
		return
	}

	for {
		res, more, err := seq.Next(ctx)
		if err != nil {
			r.fail(v, ix, startTime, fmt.Errorf("execute: iteration: %w", err))
			return
		}
		// seq.Next may return one more legitimate result after ctx was
		// cancelled if the Method doesn't check it promptly — the runtime
		// must not post on its behalf (§4.4 step 3: "posts Iteration" only
		// "if not cancelled").
		if ctx.Err() != nil {
			return
		}
		if !more {
			r.post.Send(statemachine.Succeeded{
				Vertex:    v,
				Index:     ix,
				StartTime: startTime,
				Kind:      statemachine.NoMoreIterations,
			})
			return
		}
		logger.Debug("runtime: iteration produced", slog.String("vertex", v.String()), slog.String("index", ix.String()))
		cp := res.Checkpoint
		r.post.Send(statemachine.Iteration{
			Vertex:     v,
			Index:      ix,
			Output:     res.Outputs,
			Checkpoint: &cp,
			StartTime:  startTime,
		})
	}
}

// dispatchReproduce implements the Reproduce action (§4.2, §4.4): replay a
// CompleteStarted slice's prior checkpoint bit-identically, rather than
// re-running Execute from scratch.
func (r *Runtime) dispatchReproduce(state flowstate.State, action analyser.Action) {
	vertex, ok := state.Graph.Vertex(action.Vertex)
	if !ok {
		return
	}
	vs, ok := state.VertexState(action.Vertex, action.Index)
	if !ok || vs.Data == nil || vs.Data.Checkpoint == nil {
		return
	}
	values := inputs.Assemble(state.Graph, state.Flow, vertex, action.Index)
	if !inputs.AllAvailable(values) {
		return
	}
	materialized := inputs.Materialize(values)
	checkpoint := *vs.Data.Checkpoint

	key := keyOf(action.Vertex, action.Index)
	ctx, cancel := context.WithCancel(r.ctx)
	r.setHandle(key, cancel)

	v, ix, startTime := action.Vertex, action.Index, action.Time
	r.sched.Start(func() {
		defer r.cancelAndForget(key)
		if r.metrics != nil {
			r.metrics.InFlight.Inc()
			defer r.metrics.InFlight.Dec()
		}
		ctx := r.withReporter(ctx, v, ix)
		outputs, err := vertex.Method.Reproduce(ctx, materialized, checkpoint)
		if err != nil {
			r.fail(v, ix, startTime, fmt.Errorf("reproduce: %w", err))
			return
		}
		r.post.Send(statemachine.Succeeded{
			Vertex:     v,
			Index:      ix,
			StartTime:  startTime,
			Kind:       statemachine.IterationResult,
			Output:     outputs,
			Checkpoint: &checkpoint,
		})
	})
}

func (r *Runtime) dispatchStop(action analyser.Action) {
	r.cancelAndForget(keyOf(action.Vertex, action.Index))
}

// dispatchRemove cancels every in-flight or debounced handle belonging to a
// removed vertex, regardless of index (§4.4: "cancel and forget every
// handle for that vertex").
func (r *Runtime) dispatchRemove(action analyser.Action) {
	r.handlesMu.Lock()
	var toCancel []context.CancelFunc
	for key, cancel := range r.handles {
		if key.vertex == action.Vertex {
			toCancel = append(toCancel, cancel)
			delete(r.handles, key)
		}
	}
	r.handlesMu.Unlock()
	for _, cancel := range toCancel {
		cancel()
	}
}

// withReporter installs a method.Reporter in ctx that forwards to the
// runtime's configured ProgressFunc, if any (§4.4's progress observable).
func (r *Runtime) withReporter(ctx context.Context, v graph.VertexID, ix index.Index) context.Context {
	if r.progress == nil {
		return ctx
	}
	return method.WithReporter(ctx, func(p float64) { r.progress(v, ix, p) })
}

func (r *Runtime) fail(v graph.VertexID, ix index.Index, startTime int64, err error) {
	ctxlog.FromContext(r.ctx).Warn("runtime: method failed", slog.String("vertex", v.String()), slog.String("index", ix.String()), slog.Any("err", err))
	r.post.Send(statemachine.Failed{Vertex: v, Index: ix, StartTime: startTime, Err: err})
}
