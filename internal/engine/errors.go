package engine

import (
	"github.com/hashicorp/hcl/v2"
)

// AlterError reports why an AlterAsync call was rejected (§7's AlterError
// kind). It carries an hcl.Diagnostics, the same diagnostic-collection shape
// the teacher repo uses for every user-facing validation failure throughout
// internal/dag and internal/node, rather than a bare error string.
type AlterError struct {
	Diags hcl.Diagnostics
	cause error
}

func newAlterError(summary string, cause error) *AlterError {
	return &AlterError{
		Diags: hcl.Diagnostics{{
			Severity: hcl.DiagError,
			Summary:  summary,
			Detail:   cause.Error(),
		}},
		cause: cause,
	}
}

func (e *AlterError) Error() string { return e.Diags.Error() }

// Unwrap exposes the underlying cause so callers can still errors.Is against
// graph.ErrAlter.
func (e *AlterError) Unwrap() error { return e.cause }
