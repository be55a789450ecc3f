package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zenGate-Global/loader-registry/platform/go/persistence"
)

func TestServiceHistoryOrdersNewestFirst(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)

	publishVersion(t, svc, "orders-daily", "SELECT 1")
	publishVersion(t, svc, "orders-daily", "SELECT 2")

	draft, err := svc.CreateDraft(context.Background(), "alice", CreateDraftInput{
		LoaderCode: "orders-daily",
		Definition: json.RawMessage(`{"query":"SELECT 3"}`),
		Settings:   testSettings(),
	})
	require.NoError(t, err)

	entries, err := svc.History(context.Background(), "orders-daily")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	require.Equal(t, 3, entries[0].VersionNumber)
	require.Equal(t, draft.ID, entries[0].ID)
	require.False(t, entries[0].Archived)

	require.Equal(t, 2, entries[1].VersionNumber)
	require.False(t, entries[1].Archived)

	require.Equal(t, 1, entries[2].VersionNumber)
	require.True(t, entries[2].Archived)
	require.NotNil(t, entries[2].ArchiveStatus)
	require.Equal(t, persistence.ArchiveStatusArchived, *entries[2].ArchiveStatus)
}

func TestServiceHistoryUnknownCode(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)

	_, err := svc.History(context.Background(), "orders-daily")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestServiceRollbackRoundTrip(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)

	publishVersion(t, svc, "orders-daily", "SELECT 1")
	publishVersion(t, svc, "orders-daily", "SELECT 2")

	draft, err := svc.Rollback(context.Background(), "root", "orders-daily", 1, "version 2 times out")
	require.NoError(t, err)
	require.Equal(t, persistence.StatusDraft, draft.Status)
	require.Equal(t, persistence.ChangeTypeRollback, draft.ChangeType)
	require.Equal(t, 3, draft.VersionNumber)
	require.JSONEq(t, `{"query":"SELECT 1"}`, string(draft.Definition))
	require.NotNil(t, draft.ChangeSummary)
	require.Equal(t, "rollback to version 1: version 2 times out", *draft.ChangeSummary)

	// the rollback draft goes through the same approval cycle as any other
	_, err = svc.SubmitForApproval(context.Background(), "root", draft.ID)
	require.NoError(t, err)
	active, err := svc.Approve(context.Background(), "root", draft.ID, "")
	require.NoError(t, err)
	require.Equal(t, persistence.StatusActive, active.Status)
	require.JSONEq(t, `{"query":"SELECT 1"}`, string(active.Definition))
}

func TestServiceRollbackUnknownVersion(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)

	publishVersion(t, svc, "orders-daily", "SELECT 1")

	_, err := svc.Rollback(context.Background(), "root", "orders-daily", 7, "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestServiceRollbackValidation(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)

	_, err := svc.Rollback(context.Background(), "", "bad code!", 0, "x")
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Contains(t, validationErr.Fields, "admin")
	require.Contains(t, validationErr.Fields, "loaderCode")
	require.Contains(t, validationErr.Fields, "targetVersion")
}

func TestServiceListLive(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)

	publishVersion(t, svc, "orders-daily", "SELECT 1")
	_, err := svc.CreateDraft(context.Background(), "alice", CreateDraftInput{
		LoaderCode: "customers-nightly",
		Definition: json.RawMessage(`{"query":"SELECT 2"}`),
		Settings:   testSettings(),
	})
	require.NoError(t, err)

	live, err := svc.ListLive(context.Background())
	require.NoError(t, err)
	require.Len(t, live, 2)
}
