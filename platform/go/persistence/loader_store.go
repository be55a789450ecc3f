package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const loaderVersionColumns = `
	id, loader_code, version_number, version_status, parent_version_id,
	definition, refresh_interval_seconds, max_runtime_seconds, load_strategy,
	enabled, change_type, change_summary, import_label,
	created_by, created_at, modified_by, modified_at, approved_by, approved_at`

// LoaderVersionStore provides PostgreSQL-backed access to the loader_versions
// table (the live working set).
type LoaderVersionStore struct {
	db *RegistryDB
}

// NewLoaderVersionStore returns a store bound to the registry database.
func NewLoaderVersionStore(db *RegistryDB) (*LoaderVersionStore, error) {
	if db == nil {
		return nil, errors.New("registry db is required")
	}
	return &LoaderVersionStore{db: db}, nil
}

// InsertDraftParams defines the payload required to persist a brand-new draft.
type InsertDraftParams struct {
	ID              uuid.UUID
	LoaderCode      string
	VersionNumber   int
	ParentVersionID *uuid.UUID
	Definition      LoaderDefinition
	Settings        LoaderSettings
	ChangeType      ChangeType
	ChangeSummary   *string
	ImportLabel     *string
	CreatedBy       string
}

// OverwriteDraftParams defines the fields replaced when the single in-flight
// draft is overwritten by a newer proposal.
type OverwriteDraftParams struct {
	Definition    LoaderDefinition
	Settings      LoaderSettings
	ChangeType    ChangeType
	ChangeSummary *string
	ImportLabel   *string
	ModifiedBy    string
}

// NextVersionNumberTx allocates the next version number for a loader code by
// examining both the live and archive tables. Callers must hold a
// serializable transaction so the allocation and the subsequent insert are one
// atomic unit.
func (s *LoaderVersionStore) NextVersionNumberTx(ctx context.Context, tx pgx.Tx, loaderCode string) (int, error) {
	row := tx.QueryRow(ctx, `
		SELECT GREATEST(
			COALESCE((SELECT MAX(version_number) FROM loader_versions WHERE loader_code = $1), 0),
			COALESCE((SELECT MAX(version_number) FROM loader_version_archive WHERE loader_code = $1), 0)
		) + 1
	`, loaderCode)

	var next int
	if err := row.Scan(&next); err != nil {
		return 0, fmt.Errorf("allocate version number: %w", err)
	}
	return next, nil
}

// InsertDraftTx inserts a new DRAFT row. A racing insert for the same loader
// code trips the one-draft partial index and surfaces as a unique violation.
func (s *LoaderVersionStore) InsertDraftTx(ctx context.Context, tx pgx.Tx, params InsertDraftParams) (LoaderVersionRecord, error) {
	if params.ID == uuid.Nil {
		return LoaderVersionRecord{}, errors.New("draft id is required")
	}
	if params.LoaderCode == "" {
		return LoaderVersionRecord{}, errors.New("loader code is required")
	}
	if len(params.Definition) == 0 {
		return LoaderVersionRecord{}, errors.New("loader definition is required")
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO loader_versions (
			id, loader_code, version_number, version_status, parent_version_id,
			definition, refresh_interval_seconds, max_runtime_seconds, load_strategy,
			enabled, change_type, change_summary, import_label, created_by, created_at
		) VALUES (
			$1, $2, $3, 'DRAFT', $4, $5, $6, $7, $8, FALSE, $9, $10, $11, $12, NOW()
		)
	`, params.ID, params.LoaderCode, params.VersionNumber, params.ParentVersionID,
		[]byte(params.Definition), params.Settings.RefreshIntervalSeconds,
		params.Settings.MaxRuntimeSeconds, params.Settings.LoadStrategy,
		params.ChangeType, params.ChangeSummary, params.ImportLabel, params.CreatedBy); err != nil {
		return LoaderVersionRecord{}, fmt.Errorf("insert draft: %w", err)
	}

	return s.GetByIDTx(ctx, tx, params.ID)
}

// OverwriteDraftTx replaces the payload of the existing draft row in place
// (cumulative edit). The row keeps its id, version number and status.
func (s *LoaderVersionStore) OverwriteDraftTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, params OverwriteDraftParams) (LoaderVersionRecord, error) {
	result, err := tx.Exec(ctx, `
		UPDATE loader_versions
		SET definition = $2,
		    refresh_interval_seconds = $3,
		    max_runtime_seconds = $4,
		    load_strategy = $5,
		    change_type = $6,
		    change_summary = $7,
		    import_label = $8,
		    modified_by = $9,
		    modified_at = NOW()
		WHERE id = $1 AND version_status IN ('DRAFT', 'PENDING_APPROVAL')
	`, id, []byte(params.Definition), params.Settings.RefreshIntervalSeconds,
		params.Settings.MaxRuntimeSeconds, params.Settings.LoadStrategy,
		params.ChangeType, params.ChangeSummary, params.ImportLabel, params.ModifiedBy)
	if err != nil {
		return LoaderVersionRecord{}, fmt.Errorf("overwrite draft: %w", err)
	}
	if result.RowsAffected() == 0 {
		return LoaderVersionRecord{}, ErrLoaderVersionNotFound
	}

	return s.GetByIDTx(ctx, tx, id)
}

// UpdateDraftTx mutates a draft that is still in DRAFT status. It reports
// ErrLoaderVersionNotFound when no such row matched; the caller distinguishes
// "missing" from "wrong status" by fetching the row first.
func (s *LoaderVersionStore) UpdateDraftTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, params OverwriteDraftParams) (LoaderVersionRecord, error) {
	result, err := tx.Exec(ctx, `
		UPDATE loader_versions
		SET definition = $2,
		    refresh_interval_seconds = $3,
		    max_runtime_seconds = $4,
		    load_strategy = $5,
		    change_type = $6,
		    change_summary = $7,
		    import_label = $8,
		    modified_by = $9,
		    modified_at = NOW()
		WHERE id = $1 AND version_status = 'DRAFT'
	`, id, []byte(params.Definition), params.Settings.RefreshIntervalSeconds,
		params.Settings.MaxRuntimeSeconds, params.Settings.LoadStrategy,
		params.ChangeType, params.ChangeSummary, params.ImportLabel, params.ModifiedBy)
	if err != nil {
		return LoaderVersionRecord{}, fmt.Errorf("update draft: %w", err)
	}
	if result.RowsAffected() == 0 {
		return LoaderVersionRecord{}, ErrLoaderVersionNotFound
	}

	return s.GetByIDTx(ctx, tx, id)
}

// SubmitTx flips a DRAFT row to PENDING_APPROVAL.
func (s *LoaderVersionStore) SubmitTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, author string) (LoaderVersionRecord, error) {
	result, err := tx.Exec(ctx, `
		UPDATE loader_versions
		SET version_status = 'PENDING_APPROVAL',
		    modified_by = $2,
		    modified_at = NOW()
		WHERE id = $1 AND version_status = 'DRAFT'
	`, id, author)
	if err != nil {
		return LoaderVersionRecord{}, fmt.Errorf("submit draft: %w", err)
	}
	if result.RowsAffected() == 0 {
		return LoaderVersionRecord{}, ErrLoaderVersionNotFound
	}

	return s.GetByIDTx(ctx, tx, id)
}

// PromoteTx flips a PENDING_APPROVAL row to ACTIVE and records the approver.
// The one-active partial index catches a racing promotion for the same code.
func (s *LoaderVersionStore) PromoteTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, approver string) (LoaderVersionRecord, error) {
	result, err := tx.Exec(ctx, `
		UPDATE loader_versions
		SET version_status = 'ACTIVE',
		    approved_by = $2,
		    approved_at = NOW(),
		    modified_by = $2,
		    modified_at = NOW()
		WHERE id = $1 AND version_status = 'PENDING_APPROVAL'
	`, id, approver)
	if err != nil {
		return LoaderVersionRecord{}, fmt.Errorf("promote draft: %w", err)
	}
	if result.RowsAffected() == 0 {
		return LoaderVersionRecord{}, ErrLoaderVersionNotFound
	}

	return s.GetByIDTx(ctx, tx, id)
}

// SetEnabledTx toggles the execution flag of the current ACTIVE version. The
// status predicate keeps the enabled-implies-active invariant intact.
func (s *LoaderVersionStore) SetEnabledTx(ctx context.Context, tx pgx.Tx, loaderCode string, enabled bool, modifiedBy string) (LoaderVersionRecord, error) {
	row := tx.QueryRow(ctx, `
		UPDATE loader_versions
		SET enabled = $2,
		    modified_by = $3,
		    modified_at = NOW()
		WHERE loader_code = $1 AND version_status = 'ACTIVE'
		RETURNING `+loaderVersionColumns,
		loaderCode, enabled, modifiedBy)

	record, err := scanLoaderVersion(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LoaderVersionRecord{}, ErrLoaderVersionNotFound
		}
		return LoaderVersionRecord{}, fmt.Errorf("set enabled: %w", err)
	}
	return record, nil
}

// DeleteTx physically removes a live row. It is reachable only from the draft
// deletion path and the archive manager; ACTIVE rows are guarded by the
// callers within the same transaction.
func (s *LoaderVersionStore) DeleteTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	result, err := tx.Exec(ctx, `DELETE FROM loader_versions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete loader version: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrLoaderVersionNotFound
	}
	return nil
}

// GetByIDTx fetches a live row by primary key.
func (s *LoaderVersionStore) GetByIDTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (LoaderVersionRecord, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+loaderVersionColumns+`
		FROM loader_versions
		WHERE id = $1
	`, id)
	return scanNotFound(scanLoaderVersion(row))
}

// GetByIDForUpdateTx fetches a live row and locks it for the remainder of the
// transaction, serialising concurrent workflow steps on the same version.
func (s *LoaderVersionStore) GetByIDForUpdateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (LoaderVersionRecord, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+loaderVersionColumns+`
		FROM loader_versions
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanNotFound(scanLoaderVersion(row))
}

// GetActiveTx fetches the current ACTIVE version for a loader code.
func (s *LoaderVersionStore) GetActiveTx(ctx context.Context, tx pgx.Tx, loaderCode string) (LoaderVersionRecord, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+loaderVersionColumns+`
		FROM loader_versions
		WHERE loader_code = $1 AND version_status = 'ACTIVE'
	`, loaderCode)
	return scanNotFound(scanLoaderVersion(row))
}

// GetActiveForUpdateTx is GetActiveTx with a row lock.
func (s *LoaderVersionStore) GetActiveForUpdateTx(ctx context.Context, tx pgx.Tx, loaderCode string) (LoaderVersionRecord, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+loaderVersionColumns+`
		FROM loader_versions
		WHERE loader_code = $1 AND version_status = 'ACTIVE'
		FOR UPDATE
	`, loaderCode)
	return scanNotFound(scanLoaderVersion(row))
}

// GetDraftTx fetches the single DRAFT or PENDING_APPROVAL row for a loader
// code, if any.
func (s *LoaderVersionStore) GetDraftTx(ctx context.Context, tx pgx.Tx, loaderCode string) (LoaderVersionRecord, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+loaderVersionColumns+`
		FROM loader_versions
		WHERE loader_code = $1 AND version_status IN ('DRAFT', 'PENDING_APPROVAL')
	`, loaderCode)
	return scanNotFound(scanLoaderVersion(row))
}

// ListByCodeTx returns the live rows for a loader code (at most two).
func (s *LoaderVersionStore) ListByCodeTx(ctx context.Context, tx pgx.Tx, loaderCode string) ([]LoaderVersionRecord, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+loaderVersionColumns+`
		FROM loader_versions
		WHERE loader_code = $1
		ORDER BY version_number DESC
	`, loaderCode)
	if err != nil {
		return nil, fmt.Errorf("list live versions: %w", err)
	}
	defer rows.Close()

	return collectLoaderVersions(rows)
}

// ListLiveTx returns every live row, newest versions first.
func (s *LoaderVersionStore) ListLiveTx(ctx context.Context, tx pgx.Tx) ([]LoaderVersionRecord, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+loaderVersionColumns+`
		FROM loader_versions
		ORDER BY loader_code, version_number DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list live versions: %w", err)
	}
	defer rows.Close()

	return collectLoaderVersions(rows)
}

// GetActive is the pool-level convenience used by read-only callers (the
// scheduler contract).
func (s *LoaderVersionStore) GetActive(ctx context.Context, loaderCode string) (LoaderVersionRecord, error) {
	var record LoaderVersionRecord
	return record, s.db.WithTx(ctx, func(tx pgx.Tx) error {
		rec, err := s.GetActiveTx(ctx, tx, loaderCode)
		if err != nil {
			return err
		}
		record = rec
		return nil
	})
}

// GetDraft is the pool-level convenience for draft lookups.
func (s *LoaderVersionStore) GetDraft(ctx context.Context, loaderCode string) (LoaderVersionRecord, error) {
	var record LoaderVersionRecord
	return record, s.db.WithTx(ctx, func(tx pgx.Tx) error {
		rec, err := s.GetDraftTx(ctx, tx, loaderCode)
		if err != nil {
			return err
		}
		record = rec
		return nil
	})
}

// ListLive is the pool-level convenience for the registry overview.
func (s *LoaderVersionStore) ListLive(ctx context.Context) ([]LoaderVersionRecord, error) {
	var records []LoaderVersionRecord
	return records, s.db.WithTx(ctx, func(tx pgx.Tx) error {
		list, err := s.ListLiveTx(ctx, tx)
		if err != nil {
			return err
		}
		records = list
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLoaderVersion(scanner rowScanner) (LoaderVersionRecord, error) {
	var (
		record   LoaderVersionRecord
		rawDef   []byte
		strategy string
		status   string
		change   string
	)

	if err := scanner.Scan(
		&record.ID, &record.LoaderCode, &record.VersionNumber, &status, &record.ParentVersionID,
		&rawDef, &record.Settings.RefreshIntervalSeconds, &record.Settings.MaxRuntimeSeconds, &strategy,
		&record.Enabled, &change, &record.ChangeSummary, &record.ImportLabel,
		&record.CreatedBy, &record.CreatedAt, &record.ModifiedBy, &record.ModifiedAt,
		&record.ApprovedBy, &record.ApprovedAt,
	); err != nil {
		return LoaderVersionRecord{}, err
	}

	record.Definition = LoaderDefinition(rawDef)
	record.Settings.LoadStrategy = LoadStrategy(strategy)
	record.VersionStatus = VersionStatus(status)
	record.ChangeType = ChangeType(change)
	return record, nil
}

func collectLoaderVersions(rows pgx.Rows) ([]LoaderVersionRecord, error) {
	var records []LoaderVersionRecord
	for rows.Next() {
		record, err := scanLoaderVersion(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate loader versions: %w", err)
	}
	return records, nil
}

func scanNotFound(record LoaderVersionRecord, err error) (LoaderVersionRecord, error) {
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LoaderVersionRecord{}, ErrLoaderVersionNotFound
		}
		return LoaderVersionRecord{}, err
	}
	return record, nil
}
