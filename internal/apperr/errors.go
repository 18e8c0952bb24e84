// Package apperr defines the sentinel error taxonomy shared by every
// package in the engine: config, fatal, and infrastructure errors, per
// the error-handling design. User-recoverable per-file errors have no
// sentinel here.
package apperr

import (
	"errors"
	"fmt"
)

// Config errors: surfaced immediately, the triggering operation is
// rejected, no partial writes occur.
var (
	ErrModelMismatch  = errors.New("embedding model does not match project canonical model")
	ErrEmbeddingNotReady = errors.New("embedding not ready for this photo")
	ErrSchemaMismatch = errors.New("store schema version is ahead of this build")
)

// Fatal errors: the app refuses to run further jobs.
var (
	ErrMigrationFailed   = errors.New("migration verification failed")
	ErrForeignKeysDisabled = errors.New("foreign key enforcement is not active on this connection")
)

// Infrastructure errors: the job is marked failed, the user may retry.
var (
	ErrModelLoadTimeout = errors.New("model failed to load within the allotted timeout")
	ErrLeaseLost        = errors.New("job lease was reclaimed by crash recovery")
)

// ModelMismatchError carries the canonical/requested model pair for a
// human-readable diagnostic, per the semantic embedding index's
// fail-fast-on-mismatch rule.
type ModelMismatchError struct {
	Canonical string
	Requested string
	ProjectID int64
}

func (e *ModelMismatchError) Error() string {
	return fmt.Sprintf("project %d: requested model %q but canonical model is %q",
		e.ProjectID, e.Requested, e.Canonical)
}

func (e *ModelMismatchError) Unwrap() error { return ErrModelMismatch }

// EmbeddingNotReadyError carries a human-readable diagnostic for a
// photo whose canonical-model embedding is missing or stale.
type EmbeddingNotReadyError struct {
	PhotoID int64
	Model   string
	Reason  string // "missing" | "hash_mismatch"
}

func (e *EmbeddingNotReadyError) Error() string {
	return fmt.Sprintf("photo %d: embedding for model %q not ready (%s)",
		e.PhotoID, e.Model, e.Reason)
}

func (e *EmbeddingNotReadyError) Unwrap() error { return ErrEmbeddingNotReady }

// LeaseLostError is raised when a worker discovers, at a renewal or
// commit point, that zombie recovery already reassigned its job.
type LeaseLostError struct {
	JobID int64
	Owner string
}

func (e *LeaseLostError) Error() string {
	return fmt.Sprintf("job %d: lease owned by %q was reclaimed", e.JobID, e.Owner)
}

func (e *LeaseLostError) Unwrap() error { return ErrLeaseLost }
