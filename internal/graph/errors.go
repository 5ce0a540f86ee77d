package graph

import "errors"

// ErrAlter is wrapped by every graph mutation error, so callers (the state
// machine's Alter handler, §7) can classify any failure from this package as
// an AlterError uniformly with errors.Is.
var ErrAlter = errors.New("invalid graph alteration")
