package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Approve promotes a pending draft to ACTIVE. The prior ACTIVE version, if
// any, is archived as superseded in the same transaction. The promoted
// version stays disabled: activation does not imply execution; a separate
// toggle controls that.
func (s *service) Approve(ctx context.Context, approver string, draftID uuid.UUID, _ string) (LoaderVersion, error) {
	if approver = strings.TrimSpace(approver); approver == "" {
		return LoaderVersion{}, &ValidationError{Fields: FieldErrors{"approver": {"approver is required"}}}
	}

	record, err := s.repo.Approve(ctx, draftID, approver)
	if err != nil {
		return LoaderVersion{}, translateRepoError(err, false)
	}

	return mapRecord(record), nil
}

// Reject turns down a pending draft. The rejection metadata is set and the
// row moved to the archive as REJECTED in one atomic step; a rejected draft
// never remains visible as live.
func (s *service) Reject(ctx context.Context, approver string, draftID uuid.UUID, reason, _ string) (HistoryEntry, error) {
	fieldErrors := FieldErrors{}
	if approver = strings.TrimSpace(approver); approver == "" {
		addFieldError(fieldErrors, "approver", "approver is required")
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		addFieldError(fieldErrors, "reason", "rejection reason is required")
	}
	if len(fieldErrors) > 0 {
		return HistoryEntry{}, &ValidationError{Fields: fieldErrors}
	}

	snapshot, err := s.repo.Reject(ctx, draftID, approver, reason)
	if err != nil {
		return HistoryEntry{}, translateRepoError(err, false)
	}
	return mapArchived(snapshot), nil
}
