package service

import (
	"context"
	"strings"
)

// Revoke retires the current ACTIVE version outside the normal approval
// cycle: the row is disabled and archived in one transaction. This is the only
// way to remove an ACTIVE version without a replacing draft.
func (s *service) Revoke(ctx context.Context, admin string, loaderCode, reason string) (HistoryEntry, error) {
	fieldErrors := FieldErrors{}
	if admin = strings.TrimSpace(admin); admin == "" {
		addFieldError(fieldErrors, "admin", "admin is required")
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		addFieldError(fieldErrors, "reason", "revocation reason is required")
	}
	code := normalizeCode(loaderCode, fieldErrors)
	if len(fieldErrors) > 0 {
		return HistoryEntry{}, &ValidationError{Fields: fieldErrors}
	}

	snapshot, err := s.repo.Revoke(ctx, code, admin, reason)
	if err != nil {
		return HistoryEntry{}, translateRepoError(err, false)
	}
	return mapArchived(snapshot), nil
}

// SetEnabled toggles execution of the current ACTIVE version. The storage
// predicate guarantees the flag can only ever be true on an ACTIVE row.
func (s *service) SetEnabled(ctx context.Context, actor string, loaderCode string, enabled bool) (LoaderVersion, error) {
	fieldErrors := FieldErrors{}
	if actor = strings.TrimSpace(actor); actor == "" {
		addFieldError(fieldErrors, "actor", "actor is required")
	}
	code := normalizeCode(loaderCode, fieldErrors)
	if len(fieldErrors) > 0 {
		return LoaderVersion{}, &ValidationError{Fields: fieldErrors}
	}

	record, err := s.repo.SetEnabled(ctx, code, enabled, actor)
	if err != nil {
		return LoaderVersion{}, translateRepoError(err, false)
	}
	return mapRecord(record), nil
}
