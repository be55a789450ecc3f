package repo

import (
	"context"

	"github.com/google/uuid"

	"github.com/zenGate-Global/loader-registry/platform/go/persistence"
)

// CreateDraftParams is the payload for staging (or overwriting) the single
// draft of a loader code.
type CreateDraftParams struct {
	LoaderCode    string
	Definition    persistence.LoaderDefinition
	Settings      persistence.LoaderSettings
	Author        string
	ChangeType    persistence.ChangeType
	ChangeSummary *string
	ImportLabel   *string
}

// UpdateDraftParams is the payload for mutating a draft that is still in
// DRAFT status.
type UpdateDraftParams struct {
	Definition    persistence.LoaderDefinition
	Settings      persistence.LoaderSettings
	Author        string
	ChangeSummary *string
}

// Repository exposes the atomic registry operations. Every mutation is one
// transaction: a conflict or crash mid-sequence leaves either the pre- or the
// post-state, never a half-archived row.
type Repository interface {
	CreateDraft(ctx context.Context, params CreateDraftParams) (persistence.LoaderVersionRecord, error)
	UpdateDraft(ctx context.Context, id uuid.UUID, params UpdateDraftParams) (persistence.LoaderVersionRecord, error)
	SubmitDraft(ctx context.Context, id uuid.UUID, author string) (persistence.LoaderVersionRecord, error)
	DeleteDraft(ctx context.Context, id uuid.UUID) error

	Approve(ctx context.Context, id uuid.UUID, approver string) (persistence.LoaderVersionRecord, error)
	Reject(ctx context.Context, id uuid.UUID, approver, reason string) (persistence.ArchivedLoaderVersion, error)
	Revoke(ctx context.Context, loaderCode, admin, reason string) (persistence.ArchivedLoaderVersion, error)
	SetEnabled(ctx context.Context, loaderCode string, enabled bool, actor string) (persistence.LoaderVersionRecord, error)

	GetVersion(ctx context.Context, id uuid.UUID) (persistence.LoaderVersionRecord, error)
	GetActive(ctx context.Context, loaderCode string) (persistence.LoaderVersionRecord, error)
	GetDraft(ctx context.Context, loaderCode string) (persistence.LoaderVersionRecord, error)
	ListLive(ctx context.Context) ([]persistence.LoaderVersionRecord, error)
	ListArchived(ctx context.Context, loaderCode string) ([]persistence.ArchivedLoaderVersion, error)
	GetArchived(ctx context.Context, loaderCode string, versionNumber int) (persistence.ArchivedLoaderVersion, error)

	// History reads the live rows and the archive for a code in one
	// transaction so audit consumers never observe a half-committed
	// workflow step.
	History(ctx context.Context, loaderCode string) ([]persistence.LoaderVersionRecord, []persistence.ArchivedLoaderVersion, error)
}
