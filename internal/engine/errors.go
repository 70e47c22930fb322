package engine

import "errors"

// Error taxonomy for the apply pipeline. Every failure mode is
// distinguishable with errors.Is so callers and the control plane can
// report, retry or escalate appropriately.
var (
	// ErrValidation: the document was malformed or unsafe. Nothing was
	// compiled, nothing was touched.
	ErrValidation = errors.New("policy validation failed")

	// ErrCompile: an internal invariant was violated while compiling a
	// validated policy. Fatal to this apply attempt only.
	ErrCompile = errors.New("policy compilation failed")

	// ErrNativeRejected: the native layer refused one operation; the
	// whole transaction was aborted and the prior state is intact.
	ErrNativeRejected = errors.New("native layer rejected the transaction")

	// ErrTransactionUnavailable: the native transaction could not be
	// opened. Retried with bounded backoff before surfacing.
	ErrTransactionUnavailable = errors.New("native transaction unavailable")

	// ErrPersistence: the baseline could not be written or read. Never
	// causes a filter-state change on its own.
	ErrPersistence = errors.New("baseline persistence failed")
)
