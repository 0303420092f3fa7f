package engine

import "errors"

// Sentinel errors for the outcomes a workflow operation can fail with.
// Not-found and forbidden outcomes are reported through repo.ErrNotFound
// and policy.ForbiddenError respectively; everything else is one of
// these, wrapped with context via fmt.Errorf and %w.
var (
	// ErrInvalidState means the entity exists but its lifecycle status
	// does not permit the requested transition.
	ErrInvalidState = errors.New("invalid state")

	// ErrConflict means a uniqueness rule blocked the write, such as a
	// duplicate request or a second pending submission.
	ErrConflict = errors.New("conflict")

	// ErrValidation means the input itself was rejected before any
	// state was touched.
	ErrValidation = errors.New("validation failed")

	// ErrStorage means the blob store failed; no database state was
	// changed.
	ErrStorage = errors.New("storage failure")
)
