package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	domainrepo "github.com/zenGate-Global/loader-registry/domains/loaders/be/repo"
	"github.com/zenGate-Global/loader-registry/platform/go/persistence"
)

// LoaderVersion is a loader version record as exposed by the domain service.
type LoaderVersion struct {
	ID              uuid.UUID
	LoaderCode      string
	VersionNumber   int
	Status          persistence.VersionStatus
	ParentVersionID *uuid.UUID
	Definition      json.RawMessage
	Settings        persistence.LoaderSettings
	Enabled         bool
	ChangeType      persistence.ChangeType
	ChangeSummary   *string
	ImportLabel     *string
	CreatedBy       string
	CreatedAt       time.Time
	ModifiedBy      *string
	ModifiedAt      *time.Time
	ApprovedBy      *string
	ApprovedAt      *time.Time
}

// HistoryEntry is one record of a loader's version trail: either a live row or
// an archived snapshot.
type HistoryEntry struct {
	LoaderVersion

	Archived        bool
	ArchiveStatus   *persistence.ArchiveStatus
	ArchivedBy      *string
	ArchivedAt      *time.Time
	ArchiveReason   *string
	RejectedBy      *string
	RejectedAt      *time.Time
	RejectionReason *string
}

// PayloadValidator checks a loader definition before it is persisted. The
// default implementation lives in the persistence package
// (DefinitionValidator); deployments may plug their own.
type PayloadValidator interface {
	Validate(ctx context.Context, definition []byte) error
}

// CreateDraftInput defines the payload for staging a draft. When a draft for
// the code already exists it is overwritten in place; drafts are cumulative.
type CreateDraftInput struct {
	LoaderCode    string
	Definition    json.RawMessage
	Settings      persistence.LoaderSettings
	ChangeSummary string
	ImportLabel   string
}

// UpdateDraftInput defines the payload for editing an existing DRAFT row.
type UpdateDraftInput struct {
	Definition    json.RawMessage
	Settings      persistence.LoaderSettings
	ChangeSummary string
}

// Service exposes the loader versioning and approval workflow.
type Service interface {
	CreateDraft(ctx context.Context, author string, input CreateDraftInput) (LoaderVersion, error)
	UpdateDraft(ctx context.Context, author string, draftID uuid.UUID, input UpdateDraftInput) (LoaderVersion, error)
	SubmitForApproval(ctx context.Context, author string, draftID uuid.UUID) (LoaderVersion, error)
	DeleteDraft(ctx context.Context, author string, draftID uuid.UUID) error

	Approve(ctx context.Context, approver string, draftID uuid.UUID, comments string) (LoaderVersion, error)
	Reject(ctx context.Context, approver string, draftID uuid.UUID, reason, comments string) (HistoryEntry, error)

	Revoke(ctx context.Context, admin string, loaderCode, reason string) (HistoryEntry, error)
	SetEnabled(ctx context.Context, actor string, loaderCode string, enabled bool) (LoaderVersion, error)

	GetActive(ctx context.Context, loaderCode string) (LoaderVersion, error)
	GetDraft(ctx context.Context, loaderCode string) (LoaderVersion, error)
	ListLive(ctx context.Context) ([]LoaderVersion, error)
	History(ctx context.Context, loaderCode string) ([]HistoryEntry, error)
	Rollback(ctx context.Context, admin string, loaderCode string, targetVersion int, reason string) (LoaderVersion, error)
}

type service struct {
	repo      domainrepo.Repository
	validator PayloadValidator
}

// New builds a loader workflow Service backed by the provided repository and
// payload validator.
func New(repo domainrepo.Repository, validator PayloadValidator) Service {
	if repo == nil {
		panic("loader repository is required")
	}
	if validator == nil {
		panic("payload validator is required")
	}
	return &service{repo: repo, validator: validator}
}

func (s *service) CreateDraft(ctx context.Context, author string, input CreateDraftInput) (LoaderVersion, error) {
	fieldErrors := FieldErrors{}

	code, err := persistence.NormalizeLoaderCode(input.LoaderCode)
	if err != nil {
		addFieldError(fieldErrors, "loaderCode", err.Error())
	}
	if author = strings.TrimSpace(author); author == "" {
		addFieldError(fieldErrors, "author", "author is required")
	}
	s.validateDefinition(ctx, fieldErrors, input.Definition)
	validateSettings(fieldErrors, input.Settings)
	if len(fieldErrors) > 0 {
		return LoaderVersion{}, &ValidationError{Fields: fieldErrors}
	}

	changeType := persistence.ChangeTypeCreated
	if _, getErr := s.repo.GetActive(ctx, code); getErr == nil {
		changeType = persistence.ChangeTypeUpdated
	}
	if input.ImportLabel != "" {
		changeType = persistence.ChangeTypeImported
	}

	record, err := s.repo.CreateDraft(ctx, domainrepo.CreateDraftParams{
		LoaderCode:    code,
		Definition:    persistence.LoaderDefinition(cloneRawMessage(input.Definition)),
		Settings:      input.Settings,
		Author:        author,
		ChangeType:    changeType,
		ChangeSummary: optionalString(input.ChangeSummary),
		ImportLabel:   optionalString(input.ImportLabel),
	})
	if err != nil {
		return LoaderVersion{}, translateRepoError(err, false)
	}

	return mapRecord(record), nil
}

func (s *service) UpdateDraft(ctx context.Context, author string, draftID uuid.UUID, input UpdateDraftInput) (LoaderVersion, error) {
	fieldErrors := FieldErrors{}
	if author = strings.TrimSpace(author); author == "" {
		addFieldError(fieldErrors, "author", "author is required")
	}
	s.validateDefinition(ctx, fieldErrors, input.Definition)
	validateSettings(fieldErrors, input.Settings)
	if len(fieldErrors) > 0 {
		return LoaderVersion{}, &ValidationError{Fields: fieldErrors}
	}

	record, err := s.repo.UpdateDraft(ctx, draftID, domainrepo.UpdateDraftParams{
		Definition:    persistence.LoaderDefinition(cloneRawMessage(input.Definition)),
		Settings:      input.Settings,
		Author:        author,
		ChangeSummary: optionalString(input.ChangeSummary),
	})
	if err != nil {
		return LoaderVersion{}, translateRepoError(err, false)
	}

	return mapRecord(record), nil
}

func (s *service) SubmitForApproval(ctx context.Context, author string, draftID uuid.UUID) (LoaderVersion, error) {
	if author = strings.TrimSpace(author); author == "" {
		return LoaderVersion{}, &ValidationError{Fields: FieldErrors{"author": {"author is required"}}}
	}

	record, err := s.repo.SubmitDraft(ctx, draftID, author)
	if err != nil {
		return LoaderVersion{}, translateRepoError(err, false)
	}

	return mapRecord(record), nil
}

func (s *service) DeleteDraft(ctx context.Context, author string, draftID uuid.UUID) error {
	if strings.TrimSpace(author) == "" {
		return &ValidationError{Fields: FieldErrors{"author": {"author is required"}}}
	}

	if err := s.repo.DeleteDraft(ctx, draftID); err != nil {
		return translateRepoError(err, true)
	}
	return nil
}

func (s *service) validateDefinition(ctx context.Context, fieldErrors FieldErrors, definition json.RawMessage) {
	if len(definition) == 0 {
		addFieldError(fieldErrors, "definition", "definition is required")
		return
	}
	if err := s.validator.Validate(ctx, definition); err != nil {
		addFieldError(fieldErrors, "definition", err.Error())
	}
}

func validateSettings(fieldErrors FieldErrors, settings persistence.LoaderSettings) {
	if settings.RefreshIntervalSeconds <= 0 {
		addFieldError(fieldErrors, "refreshIntervalSeconds", "refreshIntervalSeconds must be positive")
	}
	if settings.MaxRuntimeSeconds < 0 {
		addFieldError(fieldErrors, "maxRuntimeSeconds", "maxRuntimeSeconds cannot be negative")
	}
	switch settings.LoadStrategy {
	case persistence.LoadStrategyFull, persistence.LoadStrategyIncremental, persistence.LoadStrategyUpsert:
	default:
		addFieldError(fieldErrors, "loadStrategy", "loadStrategy must be one of FULL, INCREMENTAL, UPSERT")
	}
}

func addFieldError(m FieldErrors, field, message string) {
	m[field] = append(m[field], message)
}

func normalizeCode(input string, fieldErrors FieldErrors) string {
	code, err := persistence.NormalizeLoaderCode(input)
	if err != nil {
		addFieldError(fieldErrors, "loaderCode", err.Error())
		return ""
	}
	return code
}

func optionalString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func cloneRawMessage(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	buf := make([]byte, len(raw))
	copy(buf, raw)
	return buf
}

func mapRecord(record persistence.LoaderVersionRecord) LoaderVersion {
	return LoaderVersion{
		ID:              record.ID,
		LoaderCode:      record.LoaderCode,
		VersionNumber:   record.VersionNumber,
		Status:          record.VersionStatus,
		ParentVersionID: record.ParentVersionID,
		Definition:      cloneRawMessage(json.RawMessage(record.Definition)),
		Settings:        record.Settings,
		Enabled:         record.Enabled,
		ChangeType:      record.ChangeType,
		ChangeSummary:   record.ChangeSummary,
		ImportLabel:     record.ImportLabel,
		CreatedBy:       record.CreatedBy,
		CreatedAt:       record.CreatedAt,
		ModifiedBy:      record.ModifiedBy,
		ModifiedAt:      record.ModifiedAt,
		ApprovedBy:      record.ApprovedBy,
		ApprovedAt:      record.ApprovedAt,
	}
}

func mapArchived(record persistence.ArchivedLoaderVersion) HistoryEntry {
	status := record.ArchiveStatus
	return HistoryEntry{
		LoaderVersion:   mapRecord(record.LoaderVersionRecord),
		Archived:        true,
		ArchiveStatus:   &status,
		ArchivedBy:      &record.ArchivedBy,
		ArchivedAt:      &record.ArchivedAt,
		ArchiveReason:   &record.ArchiveReason,
		RejectedBy:      record.RejectedBy,
		RejectedAt:      record.RejectedAt,
		RejectionReason: record.RejectionReason,
	}
}
