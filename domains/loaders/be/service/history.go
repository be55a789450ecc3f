package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	domainrepo "github.com/zenGate-Global/loader-registry/domains/loaders/be/repo"
	"github.com/zenGate-Global/loader-registry/platform/go/persistence"
)

// GetActive returns the current ACTIVE version for a loader code. This is the
// read contract of the scheduler/executor; it never mutates versioning state.
func (s *service) GetActive(ctx context.Context, loaderCode string) (LoaderVersion, error) {
	fieldErrors := FieldErrors{}
	code := normalizeCode(loaderCode, fieldErrors)
	if len(fieldErrors) > 0 {
		return LoaderVersion{}, &ValidationError{Fields: fieldErrors}
	}

	record, err := s.repo.GetActive(ctx, code)
	if err != nil {
		return LoaderVersion{}, translateRepoError(err, false)
	}
	return mapRecord(record), nil
}

// GetDraft returns the single in-flight DRAFT or PENDING_APPROVAL version for
// a loader code.
func (s *service) GetDraft(ctx context.Context, loaderCode string) (LoaderVersion, error) {
	fieldErrors := FieldErrors{}
	code := normalizeCode(loaderCode, fieldErrors)
	if len(fieldErrors) > 0 {
		return LoaderVersion{}, &ValidationError{Fields: fieldErrors}
	}

	record, err := s.repo.GetDraft(ctx, code)
	if err != nil {
		return LoaderVersion{}, translateRepoError(err, false)
	}
	return mapRecord(record), nil
}

// ListLive returns every live row across all loader codes, for the registry
// overview.
func (s *service) ListLive(ctx context.Context) ([]LoaderVersion, error) {
	records, err := s.repo.ListLive(ctx)
	if err != nil {
		return nil, translateRepoError(err, false)
	}

	results := make([]LoaderVersion, 0, len(records))
	for _, record := range records {
		results = append(results, mapRecord(record))
	}
	return results, nil
}

// History returns the union of the live rows and every archived snapshot for
// a loader code, sorted by version number descending. Read-only.
func (s *service) History(ctx context.Context, loaderCode string) ([]HistoryEntry, error) {
	fieldErrors := FieldErrors{}
	code := normalizeCode(loaderCode, fieldErrors)
	if len(fieldErrors) > 0 {
		return nil, &ValidationError{Fields: fieldErrors}
	}

	live, archived, err := s.repo.History(ctx, code)
	if err != nil {
		return nil, translateRepoError(err, false)
	}
	if len(live) == 0 && len(archived) == 0 {
		return nil, ErrNotFound
	}

	entries := make([]HistoryEntry, 0, len(live)+len(archived))
	for _, record := range live {
		entries = append(entries, HistoryEntry{LoaderVersion: mapRecord(record)})
	}
	for _, record := range archived {
		entries = append(entries, mapArchived(record))
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].VersionNumber > entries[j].VersionNumber
	})
	return entries, nil
}

// Rollback re-materialises an archived snapshot as a new draft. The archive
// is never mutated; the draft carries a fresh version number and must still
// pass approval like any other change.
func (s *service) Rollback(ctx context.Context, admin string, loaderCode string, targetVersion int, reason string) (LoaderVersion, error) {
	fieldErrors := FieldErrors{}
	if admin = strings.TrimSpace(admin); admin == "" {
		addFieldError(fieldErrors, "admin", "admin is required")
	}
	code := normalizeCode(loaderCode, fieldErrors)
	if targetVersion <= 0 {
		addFieldError(fieldErrors, "targetVersion", "targetVersion must be positive")
	}
	if len(fieldErrors) > 0 {
		return LoaderVersion{}, &ValidationError{Fields: fieldErrors}
	}

	snapshot, err := s.repo.GetArchived(ctx, code, targetVersion)
	if err != nil {
		return LoaderVersion{}, translateRepoError(err, false)
	}

	// Snapshots predate schema changes, so the definition is validated
	// again on its way back in.
	if validateErr := s.validator.Validate(ctx, snapshot.Definition); validateErr != nil {
		return LoaderVersion{}, &ValidationError{Fields: FieldErrors{"definition": {validateErr.Error()}}}
	}

	summary := fmt.Sprintf("rollback to version %d", targetVersion)
	if reason = strings.TrimSpace(reason); reason != "" {
		summary = fmt.Sprintf("%s: %s", summary, reason)
	}

	record, err := s.repo.CreateDraft(ctx, domainrepo.CreateDraftParams{
		LoaderCode:    code,
		Definition:    persistence.LoaderDefinition(cloneRawMessage(json.RawMessage(snapshot.Definition))),
		Settings:      snapshot.Settings,
		Author:        admin,
		ChangeType:    persistence.ChangeTypeRollback,
		ChangeSummary: &summary,
	})
	if err != nil {
		return LoaderVersion{}, translateRepoError(err, false)
	}
	return mapRecord(record), nil
}
