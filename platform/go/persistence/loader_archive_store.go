package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const archivedVersionColumns = `
	id, loader_code, version_number, version_status, archive_status, parent_version_id,
	definition, refresh_interval_seconds, max_runtime_seconds, load_strategy,
	enabled, change_type, change_summary, import_label,
	created_by, created_at, modified_by, modified_at, approved_by, approved_at,
	rejected_by, rejected_at, rejection_reason, archived_by, archived_at, archive_reason`

// LoaderArchiveStore provides access to the append-only
// loader_version_archive table. Rows are inserted once and never updated.
type LoaderArchiveStore struct {
	db *RegistryDB
}

// NewLoaderArchiveStore returns a store bound to the registry database.
func NewLoaderArchiveStore(db *RegistryDB) (*LoaderArchiveStore, error) {
	if db == nil {
		return nil, errors.New("registry db is required")
	}
	return &LoaderArchiveStore{db: db}, nil
}

// ArchiveMeta carries the audit metadata recorded at the moment a live row is
// retired.
type ArchiveMeta struct {
	ArchiveStatus   ArchiveStatus
	ArchivedBy      string
	ArchiveReason   string
	RejectedBy      *string
	RejectedAt      *time.Time
	RejectionReason *string
}

// InsertSnapshotTx freezes a live row into the archive. The (code, version)
// uniqueness constraint guarantees each retired version lands exactly once.
func (s *LoaderArchiveStore) InsertSnapshotTx(ctx context.Context, tx pgx.Tx, record LoaderVersionRecord, meta ArchiveMeta) (ArchivedLoaderVersion, error) {
	if meta.ArchivedBy == "" {
		return ArchivedLoaderVersion{}, errors.New("archivedBy is required")
	}
	if meta.ArchiveReason == "" {
		return ArchivedLoaderVersion{}, errors.New("archive reason is required")
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO loader_version_archive (
			id, loader_code, version_number, version_status, archive_status, parent_version_id,
			definition, refresh_interval_seconds, max_runtime_seconds, load_strategy,
			enabled, change_type, change_summary, import_label,
			created_by, created_at, modified_by, modified_at, approved_by, approved_at,
			rejected_by, rejected_at, rejection_reason, archived_by, archived_at, archive_reason
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, NOW(), $25
		)
		RETURNING `+archivedVersionColumns,
		record.ID, record.LoaderCode, record.VersionNumber, record.VersionStatus, meta.ArchiveStatus,
		record.ParentVersionID, []byte(record.Definition), record.Settings.RefreshIntervalSeconds,
		record.Settings.MaxRuntimeSeconds, record.Settings.LoadStrategy, record.Enabled,
		record.ChangeType, record.ChangeSummary, record.ImportLabel,
		record.CreatedBy, record.CreatedAt, record.ModifiedBy, record.ModifiedAt,
		record.ApprovedBy, record.ApprovedAt,
		meta.RejectedBy, meta.RejectedAt, meta.RejectionReason,
		meta.ArchivedBy, meta.ArchiveReason)

	archived, err := scanArchivedVersion(row)
	if err != nil {
		return ArchivedLoaderVersion{}, fmt.Errorf("insert archive snapshot: %w", err)
	}
	return archived, nil
}

// GetByVersionTx fetches one archived snapshot by loader code and version
// number.
func (s *LoaderArchiveStore) GetByVersionTx(ctx context.Context, tx pgx.Tx, loaderCode string, versionNumber int) (ArchivedLoaderVersion, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+archivedVersionColumns+`
		FROM loader_version_archive
		WHERE loader_code = $1 AND version_number = $2
	`, loaderCode, versionNumber)

	archived, err := scanArchivedVersion(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ArchivedLoaderVersion{}, ErrLoaderVersionNotFound
		}
		return ArchivedLoaderVersion{}, err
	}
	return archived, nil
}

// ListByCodeTx returns every archived snapshot for a loader code, newest
// versions first.
func (s *LoaderArchiveStore) ListByCodeTx(ctx context.Context, tx pgx.Tx, loaderCode string) ([]ArchivedLoaderVersion, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+archivedVersionColumns+`
		FROM loader_version_archive
		WHERE loader_code = $1
		ORDER BY version_number DESC
	`, loaderCode)
	if err != nil {
		return nil, fmt.Errorf("list archived versions: %w", err)
	}
	defer rows.Close()

	var records []ArchivedLoaderVersion
	for rows.Next() {
		record, scanErr := scanArchivedVersion(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archived versions: %w", err)
	}
	return records, nil
}

// GetByVersion is the pool-level convenience for audit/rollback lookups.
func (s *LoaderArchiveStore) GetByVersion(ctx context.Context, loaderCode string, versionNumber int) (ArchivedLoaderVersion, error) {
	var record ArchivedLoaderVersion
	return record, s.db.WithTx(ctx, func(tx pgx.Tx) error {
		rec, err := s.GetByVersionTx(ctx, tx, loaderCode, versionNumber)
		if err != nil {
			return err
		}
		record = rec
		return nil
	})
}

// ListByCode is the pool-level convenience for the audit stream.
func (s *LoaderArchiveStore) ListByCode(ctx context.Context, loaderCode string) ([]ArchivedLoaderVersion, error) {
	var records []ArchivedLoaderVersion
	return records, s.db.WithTx(ctx, func(tx pgx.Tx) error {
		list, err := s.ListByCodeTx(ctx, tx, loaderCode)
		if err != nil {
			return err
		}
		records = list
		return nil
	})
}

func scanArchivedVersion(scanner rowScanner) (ArchivedLoaderVersion, error) {
	var (
		record   ArchivedLoaderVersion
		rawDef   []byte
		status   string
		archive  string
		strategy string
		change   string
	)

	if err := scanner.Scan(
		&record.ID, &record.LoaderCode, &record.VersionNumber, &status, &archive, &record.ParentVersionID,
		&rawDef, &record.Settings.RefreshIntervalSeconds, &record.Settings.MaxRuntimeSeconds, &strategy,
		&record.Enabled, &change, &record.ChangeSummary, &record.ImportLabel,
		&record.CreatedBy, &record.CreatedAt, &record.ModifiedBy, &record.ModifiedAt,
		&record.ApprovedBy, &record.ApprovedAt,
		&record.RejectedBy, &record.RejectedAt, &record.RejectionReason,
		&record.ArchivedBy, &record.ArchivedAt, &record.ArchiveReason,
	); err != nil {
		return ArchivedLoaderVersion{}, err
	}

	record.Definition = LoaderDefinition(rawDef)
	record.Settings.LoadStrategy = LoadStrategy(strategy)
	record.VersionStatus = VersionStatus(status)
	record.ArchiveStatus = ArchiveStatus(archive)
	record.ChangeType = ChangeType(change)
	return record, nil
}
