package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/zenGate-Global/loader-registry/platform/go/persistence"
)

type postgresRepository struct {
	db      *persistence.RegistryDB
	live    *persistence.LoaderVersionStore
	archive *persistence.LoaderArchiveStore
}

// NewPostgresRepository constructs a Repository backed by the shared
// persistence layer.
func NewPostgresRepository(db *persistence.RegistryDB, live *persistence.LoaderVersionStore, archive *persistence.LoaderArchiveStore) Repository {
	if db == nil {
		panic("registry db is required")
	}
	if live == nil {
		panic("loader version store is required")
	}
	if archive == nil {
		panic("loader archive store is required")
	}
	return &postgresRepository{db: db, live: live, archive: archive}
}

func (r *postgresRepository) CreateDraft(ctx context.Context, params CreateDraftParams) (persistence.LoaderVersionRecord, error) {
	var record persistence.LoaderVersionRecord
	return record, r.db.WithSerializable(ctx, func(tx pgx.Tx) error {
		existing, err := r.live.GetDraftTx(ctx, tx, params.LoaderCode)
		switch {
		case err == nil:
			rec, overwriteErr := r.live.OverwriteDraftTx(ctx, tx, existing.ID, persistence.OverwriteDraftParams{
				Definition:    params.Definition,
				Settings:      params.Settings,
				ChangeType:    params.ChangeType,
				ChangeSummary: params.ChangeSummary,
				ImportLabel:   params.ImportLabel,
				ModifiedBy:    params.Author,
			})
			if overwriteErr != nil {
				return overwriteErr
			}
			record = rec
			return nil
		case errors.Is(err, persistence.ErrLoaderVersionNotFound):
			// fall through to a fresh insert
		default:
			return err
		}

		var parentID *uuid.UUID
		active, err := r.live.GetActiveTx(ctx, tx, params.LoaderCode)
		switch {
		case err == nil:
			parentID = &active.ID
		case errors.Is(err, persistence.ErrLoaderVersionNotFound):
		default:
			return err
		}

		next, err := r.live.NextVersionNumberTx(ctx, tx, params.LoaderCode)
		if err != nil {
			return err
		}

		rec, err := r.live.InsertDraftTx(ctx, tx, persistence.InsertDraftParams{
			ID:              uuid.New(),
			LoaderCode:      params.LoaderCode,
			VersionNumber:   next,
			ParentVersionID: parentID,
			Definition:      params.Definition,
			Settings:        params.Settings,
			ChangeType:      params.ChangeType,
			ChangeSummary:   params.ChangeSummary,
			ImportLabel:     params.ImportLabel,
			CreatedBy:       params.Author,
		})
		if err != nil {
			return err
		}
		record = rec
		return nil
	})
}

func (r *postgresRepository) UpdateDraft(ctx context.Context, id uuid.UUID, params UpdateDraftParams) (persistence.LoaderVersionRecord, error) {
	var record persistence.LoaderVersionRecord
	return record, r.db.WithSerializable(ctx, func(tx pgx.Tx) error {
		current, err := r.live.GetByIDForUpdateTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if current.VersionStatus != persistence.StatusDraft {
			return &persistence.StatusConflictError{
				LoaderCode: current.LoaderCode,
				Current:    current.VersionStatus,
				Attempted:  "update draft",
			}
		}

		rec, err := r.live.UpdateDraftTx(ctx, tx, id, persistence.OverwriteDraftParams{
			Definition:    params.Definition,
			Settings:      params.Settings,
			ChangeType:    persistence.ChangeTypeUpdated,
			ChangeSummary: params.ChangeSummary,
			ImportLabel:   current.ImportLabel,
			ModifiedBy:    params.Author,
		})
		if err != nil {
			return err
		}
		record = rec
		return nil
	})
}

func (r *postgresRepository) SubmitDraft(ctx context.Context, id uuid.UUID, author string) (persistence.LoaderVersionRecord, error) {
	var record persistence.LoaderVersionRecord
	return record, r.db.WithSerializable(ctx, func(tx pgx.Tx) error {
		current, err := r.live.GetByIDForUpdateTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if current.VersionStatus != persistence.StatusDraft {
			return &persistence.StatusConflictError{
				LoaderCode: current.LoaderCode,
				Current:    current.VersionStatus,
				Attempted:  "submit for approval",
			}
		}

		rec, err := r.live.SubmitTx(ctx, tx, id, author)
		if err != nil {
			return err
		}
		record = rec
		return nil
	})
}

func (r *postgresRepository) DeleteDraft(ctx context.Context, id uuid.UUID) error {
	return r.db.WithSerializable(ctx, func(tx pgx.Tx) error {
		current, err := r.live.GetByIDForUpdateTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if current.VersionStatus != persistence.StatusDraft {
			return &persistence.StatusConflictError{
				LoaderCode: current.LoaderCode,
				Current:    current.VersionStatus,
				Attempted:  "delete draft",
			}
		}
		return r.live.DeleteTx(ctx, tx, id)
	})
}

func (r *postgresRepository) Approve(ctx context.Context, id uuid.UUID, approver string) (persistence.LoaderVersionRecord, error) {
	var record persistence.LoaderVersionRecord
	return record, r.db.WithSerializable(ctx, func(tx pgx.Tx) error {
		draft, err := r.live.GetByIDForUpdateTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if draft.VersionStatus != persistence.StatusPendingApproval {
			return &persistence.StatusConflictError{
				LoaderCode: draft.LoaderCode,
				Current:    draft.VersionStatus,
				Attempted:  "approve",
			}
		}

		prior, err := r.live.GetActiveForUpdateTx(ctx, tx, draft.LoaderCode)
		switch {
		case err == nil:
			reason := fmt.Sprintf("superseded by version %d", draft.VersionNumber)
			if _, archiveErr := r.archive.InsertSnapshotTx(ctx, tx, prior, persistence.ArchiveMeta{
				ArchiveStatus: persistence.ArchiveStatusArchived,
				ArchivedBy:    approver,
				ArchiveReason: reason,
			}); archiveErr != nil {
				return archiveErr
			}
			if deleteErr := r.live.DeleteTx(ctx, tx, prior.ID); deleteErr != nil {
				return deleteErr
			}
		case errors.Is(err, persistence.ErrLoaderVersionNotFound):
		default:
			return err
		}

		rec, err := r.live.PromoteTx(ctx, tx, id, approver)
		if err != nil {
			return err
		}
		record = rec
		return nil
	})
}

func (r *postgresRepository) Reject(ctx context.Context, id uuid.UUID, approver, reason string) (persistence.ArchivedLoaderVersion, error) {
	var archived persistence.ArchivedLoaderVersion
	return archived, r.db.WithSerializable(ctx, func(tx pgx.Tx) error {
		draft, err := r.live.GetByIDForUpdateTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if draft.VersionStatus != persistence.StatusPendingApproval {
			return &persistence.StatusConflictError{
				LoaderCode: draft.LoaderCode,
				Current:    draft.VersionStatus,
				Attempted:  "reject",
			}
		}

		now := time.Now().UTC()
		snapshot, err := r.archive.InsertSnapshotTx(ctx, tx, draft, persistence.ArchiveMeta{
			ArchiveStatus:   persistence.ArchiveStatusRejected,
			ArchivedBy:      approver,
			ArchiveReason:   reason,
			RejectedBy:      &approver,
			RejectedAt:      &now,
			RejectionReason: &reason,
		})
		if err != nil {
			return err
		}
		if err := r.live.DeleteTx(ctx, tx, draft.ID); err != nil {
			return err
		}
		archived = snapshot
		return nil
	})
}

func (r *postgresRepository) Revoke(ctx context.Context, loaderCode, admin, reason string) (persistence.ArchivedLoaderVersion, error) {
	var archived persistence.ArchivedLoaderVersion
	return archived, r.db.WithSerializable(ctx, func(tx pgx.Tx) error {
		active, err := r.live.GetActiveForUpdateTx(ctx, tx, loaderCode)
		if err != nil {
			return err
		}

		// The snapshot records the version as disabled: revocation takes
		// the loader out of execution in the same step that retires it.
		active.Enabled = false

		snapshot, err := r.archive.InsertSnapshotTx(ctx, tx, active, persistence.ArchiveMeta{
			ArchiveStatus: persistence.ArchiveStatusArchived,
			ArchivedBy:    admin,
			ArchiveReason: "revoked: " + reason,
		})
		if err != nil {
			return err
		}
		if err := r.live.DeleteTx(ctx, tx, active.ID); err != nil {
			return err
		}
		archived = snapshot
		return nil
	})
}

func (r *postgresRepository) SetEnabled(ctx context.Context, loaderCode string, enabled bool, actor string) (persistence.LoaderVersionRecord, error) {
	var record persistence.LoaderVersionRecord
	return record, r.db.WithSerializable(ctx, func(tx pgx.Tx) error {
		rec, err := r.live.SetEnabledTx(ctx, tx, loaderCode, enabled, actor)
		if err != nil {
			return err
		}
		record = rec
		return nil
	})
}

func (r *postgresRepository) GetVersion(ctx context.Context, id uuid.UUID) (persistence.LoaderVersionRecord, error) {
	var record persistence.LoaderVersionRecord
	return record, r.db.WithTx(ctx, func(tx pgx.Tx) error {
		rec, err := r.live.GetByIDTx(ctx, tx, id)
		if err != nil {
			return err
		}
		record = rec
		return nil
	})
}

func (r *postgresRepository) GetActive(ctx context.Context, loaderCode string) (persistence.LoaderVersionRecord, error) {
	return r.live.GetActive(ctx, loaderCode)
}

func (r *postgresRepository) GetDraft(ctx context.Context, loaderCode string) (persistence.LoaderVersionRecord, error) {
	return r.live.GetDraft(ctx, loaderCode)
}

func (r *postgresRepository) ListLive(ctx context.Context) ([]persistence.LoaderVersionRecord, error) {
	return r.live.ListLive(ctx)
}

func (r *postgresRepository) ListArchived(ctx context.Context, loaderCode string) ([]persistence.ArchivedLoaderVersion, error) {
	return r.archive.ListByCode(ctx, loaderCode)
}

func (r *postgresRepository) GetArchived(ctx context.Context, loaderCode string, versionNumber int) (persistence.ArchivedLoaderVersion, error) {
	return r.archive.GetByVersion(ctx, loaderCode, versionNumber)
}

func (r *postgresRepository) History(ctx context.Context, loaderCode string) ([]persistence.LoaderVersionRecord, []persistence.ArchivedLoaderVersion, error) {
	var (
		live     []persistence.LoaderVersionRecord
		archived []persistence.ArchivedLoaderVersion
	)
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		liveRows, err := r.live.ListByCodeTx(ctx, tx, loaderCode)
		if err != nil {
			return err
		}
		archivedRows, err := r.archive.ListByCodeTx(ctx, tx, loaderCode)
		if err != nil {
			return err
		}
		live = liveRows
		archived = archivedRows
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return live, archived, nil
}
