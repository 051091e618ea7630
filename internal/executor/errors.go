package executor

import "errors"

// ErrOperatorCancel is returned by both executor strategies when a run ends
// because the operator requested cancellation rather than because of a
// placement/market failure. Store.Finalize records its message on the
// Cancelled row.
var ErrOperatorCancel = errors.New("cancelled by user")
