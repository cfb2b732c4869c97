package models

import "errors"

// Domain error kinds. Callers match with errors.Is; the HTTP layer converts
// them to status codes.
var (
	// ErrInvalidIdentifier marks malformed or ambiguous identifier input.
	// Never retried.
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrAmbiguousMergeTarget marks a merge lookup key matching more than one
	// row. The merge is rejected; resolution is manual.
	ErrAmbiguousMergeTarget = errors.New("ambiguous merge target")

	// ErrMergeFailed marks a database failure during a merge transaction. The
	// whole merge is rolled back.
	ErrMergeFailed = errors.New("merge failed")

	// ErrOversizeProjection marks a projection payload exceeding its type's
	// byte cap. The record is still written, with a null payload.
	ErrOversizeProjection = errors.New("projection exceeds size cap")

	// ErrEntityNotFound marks a lookup for an entity that does not exist.
	ErrEntityNotFound = errors.New("entity not found")
)
