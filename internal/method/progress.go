package method

import "context"

// progressKey is an unexported type to prevent collisions with context keys
// from other packages, mirroring internal/ctxlog's key pattern.
type progressKey struct{}

// Reporter is the callback a method body uses to report fractional
// progress in [0,1]. The runtime installs one in the task context before
// invoking Execute/Reproduce (§4.4).
type Reporter func(p float64)

// WithReporter returns a context carrying report as the active progress
// reporter.
func WithReporter(ctx context.Context, report Reporter) context.Context {
	return context.WithValue(ctx, progressKey{}, report)
}

// Report invokes the progress reporter installed in ctx, if any. Calling it
// outside of a task context is a silent no-op so that test doubles for
// Method don't need to special-case a missing reporter.
func Report(ctx context.Context, p float64) {
	if report, ok := ctx.Value(progressKey{}).(Reporter); ok {
		report(p)
	}
}
