package service

import (
	"errors"
	"fmt"

	"github.com/zenGate-Global/loader-registry/platform/go/persistence"
)

// FieldErrors maps request fields to validation issues.
type FieldErrors map[string][]string

// ValidationError captures input validation problems surfaced by the service.
type ValidationError struct {
	Fields FieldErrors
}

func (v *ValidationError) Error() string {
	return "validation error"
}

// Domain-level error sentinel values.
var (
	// ErrNotFound indicates the referenced loader code, version id or
	// archived version does not exist in the expected store.
	ErrNotFound = errors.New("loader version not found")
	// ErrConcurrencyConflict indicates a racing transaction violated a
	// uniqueness invariant; the caller should retry the whole operation.
	ErrConcurrencyConflict = errors.New("loader version conflict, retry the operation")
	// ErrProtectedDeletion indicates an attempt to physically delete an
	// ACTIVE version; active versions can only be retired via revocation
	// or a replacing approval.
	ErrProtectedDeletion = errors.New("active loader versions cannot be deleted")
)

// StateTransitionError reports an operation attempted against a version whose
// current status does not permit it.
type StateTransitionError struct {
	LoaderCode string
	Current    persistence.VersionStatus
	Attempted  string
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("loader %s: cannot %s while %s", e.LoaderCode, e.Attempted, e.Current)
}

// translateRepoError recovers storage-level failures into the domain error
// taxonomy at the operation boundary. Nothing here is fatal: every failure is
// scoped to one operation and leaves the stores consistent.
func translateRepoError(err error, deleting bool) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, persistence.ErrLoaderVersionNotFound) {
		return ErrNotFound
	}

	var conflict *persistence.StatusConflictError
	if errors.As(err, &conflict) {
		if deleting && conflict.Current == persistence.StatusActive {
			return ErrProtectedDeletion
		}
		return &StateTransitionError{
			LoaderCode: conflict.LoaderCode,
			Current:    conflict.Current,
			Attempted:  conflict.Attempted,
		}
	}

	if persistence.IsUniqueViolation(err) || persistence.IsSerializationFailure(err) || persistence.IsCheckViolation(err) {
		return ErrConcurrencyConflict
	}

	return err
}
