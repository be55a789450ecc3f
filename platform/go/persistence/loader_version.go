package persistence

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrLoaderVersionNotFound indicates the requested loader version could not be
// located in the store the operation expected it in.
var ErrLoaderVersionNotFound = errors.New("loader version not found")

// StatusConflictError reports a live row whose current status does not permit
// the attempted transition.
type StatusConflictError struct {
	LoaderCode string
	Current    VersionStatus
	Attempted  string
}

func (e *StatusConflictError) Error() string {
	return fmt.Sprintf("loader %s: cannot %s while %s", e.LoaderCode, e.Attempted, e.Current)
}

// VersionStatus is the lifecycle state of a live loader version.
type VersionStatus string

const (
	StatusDraft           VersionStatus = "DRAFT"
	StatusPendingApproval VersionStatus = "PENDING_APPROVAL"
	StatusActive          VersionStatus = "ACTIVE"
)

// ArchiveStatus records why a version left the live table.
type ArchiveStatus string

const (
	// ArchiveStatusArchived marks a formerly ACTIVE version that was
	// superseded or revoked.
	ArchiveStatusArchived ArchiveStatus = "ARCHIVED"
	// ArchiveStatusRejected marks a draft that was turned down in review.
	ArchiveStatusRejected ArchiveStatus = "REJECTED"
)

// ChangeType tags the provenance of a version.
type ChangeType string

const (
	ChangeTypeCreated  ChangeType = "CREATED"
	ChangeTypeUpdated  ChangeType = "UPDATED"
	ChangeTypeRollback ChangeType = "ROLLBACK"
	ChangeTypeImported ChangeType = "IMPORTED"
)

// LoadStrategy selects how the executor materialises the loader's output.
type LoadStrategy string

const (
	LoadStrategyFull        LoadStrategy = "FULL"
	LoadStrategyIncremental LoadStrategy = "INCREMENTAL"
	LoadStrategyUpsert      LoadStrategy = "UPSERT"
)

// LoaderDefinition is the opaque JSON body of a loader (query text, source
// bindings). The registry versions it; it only inspects it through the
// payload validator.
type LoaderDefinition []byte

// LoaderSettings are the structured execution knobs snapshotted with every
// version.
type LoaderSettings struct {
	RefreshIntervalSeconds int
	MaxRuntimeSeconds      int
	LoadStrategy           LoadStrategy
}

// LoaderVersionRecord is a row of the live table: the current ACTIVE version
// or the single in-flight draft for a loader code.
type LoaderVersionRecord struct {
	ID              uuid.UUID
	LoaderCode      string
	VersionNumber   int
	VersionStatus   VersionStatus
	ParentVersionID *uuid.UUID
	Definition      LoaderDefinition
	Settings        LoaderSettings
	Enabled         bool
	ChangeType      ChangeType
	ChangeSummary   *string
	ImportLabel     *string
	CreatedBy       string
	CreatedAt       time.Time
	ModifiedBy      *string
	ModifiedAt      *time.Time
	ApprovedBy      *string
	ApprovedAt      *time.Time
}

// ArchivedLoaderVersion is a frozen snapshot of a live row at the moment it
// left the live table. Immutable once written.
type ArchivedLoaderVersion struct {
	LoaderVersionRecord

	ArchiveStatus   ArchiveStatus
	RejectedBy      *string
	RejectedAt      *time.Time
	RejectionReason *string
	ArchivedBy      string
	ArchivedAt      time.Time
	ArchiveReason   string
}

// IsUniqueViolation reports whether err is a Postgres unique constraint
// violation. The partial indexes on the live table surface invariant races
// this way.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// IsSerializationFailure reports whether err is a serialization failure of a
// serializable transaction; callers are expected to retry the whole operation.
func IsSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

// IsCheckViolation reports whether err is a CHECK constraint violation
// (enabled on a non-active row, active without approver).
func IsCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23514"
}
