package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/zenGate-Global/loader-registry/platform/go/persistence"
)

func newIntegrationRepository(t *testing.T) Repository {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	t.Cleanup(cancel)

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("registry"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp").WithStartupTimeout(2*time.Minute)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = pgContainer.Terminate(context.Background())
	})

	connString, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: connString})
	require.NoError(t, err)
	t.Cleanup(func() { persistence.ClosePool(pool) })

	require.NoError(t, persistence.BootstrapRegistrySchema(ctx, pool))

	db := persistence.NewRegistryDB(pool)
	live, err := persistence.NewLoaderVersionStore(db)
	require.NoError(t, err)
	archive, err := persistence.NewLoaderArchiveStore(db)
	require.NoError(t, err)

	return NewPostgresRepository(db, live, archive)
}

func integrationDraftParams(code string) CreateDraftParams {
	return CreateDraftParams{
		LoaderCode: code,
		Definition: persistence.LoaderDefinition(`{"query":"SELECT 1"}`),
		Settings: persistence.LoaderSettings{
			RefreshIntervalSeconds: 3600,
			LoadStrategy:           persistence.LoadStrategyFull,
		},
		Author:     "alice",
		ChangeType: persistence.ChangeTypeCreated,
	}
}

func TestPostgresRepositoryWorkflow(t *testing.T) {
	t.Parallel()

	if testing.Short() {
		t.Skip("skipping repository integration test in short mode")
	}

	ctx := context.Background()
	repository := newIntegrationRepository(t)

	// draft -> pending -> active
	draft, err := repository.CreateDraft(ctx, integrationDraftParams("orders-daily"))
	require.NoError(t, err)
	require.Equal(t, 1, draft.VersionNumber)
	require.Nil(t, draft.ParentVersionID)

	// overwriting keeps the same row
	overwrite := integrationDraftParams("orders-daily")
	overwrite.Definition = persistence.LoaderDefinition(`{"query":"SELECT 2"}`)
	overwrite.Author = "bob"
	overwritten, err := repository.CreateDraft(ctx, overwrite)
	require.NoError(t, err)
	require.Equal(t, draft.ID, overwritten.ID)
	require.Equal(t, 1, overwritten.VersionNumber)

	pending, err := repository.SubmitDraft(ctx, draft.ID, "bob")
	require.NoError(t, err)
	require.Equal(t, persistence.StatusPendingApproval, pending.VersionStatus)

	active, err := repository.Approve(ctx, draft.ID, "root")
	require.NoError(t, err)
	require.Equal(t, persistence.StatusActive, active.VersionStatus)

	// replacing version archives the prior active
	replacement, err := repository.CreateDraft(ctx, integrationDraftParams("orders-daily"))
	require.NoError(t, err)
	require.Equal(t, 2, replacement.VersionNumber)
	require.NotNil(t, replacement.ParentVersionID)
	require.Equal(t, active.ID, *replacement.ParentVersionID)

	_, err = repository.SubmitDraft(ctx, replacement.ID, "alice")
	require.NoError(t, err)
	newActive, err := repository.Approve(ctx, replacement.ID, "root")
	require.NoError(t, err)

	archived, err := repository.GetArchived(ctx, "orders-daily", 1)
	require.NoError(t, err)
	require.Equal(t, active.ID, archived.ID)
	require.Equal(t, persistence.ArchiveStatusArchived, archived.ArchiveStatus)
	require.Equal(t, "superseded by version 2", archived.ArchiveReason)

	current, err := repository.GetActive(ctx, "orders-daily")
	require.NoError(t, err)
	require.Equal(t, newActive.ID, current.ID)

	// deleting the active row is rejected by status
	err = repository.DeleteDraft(ctx, newActive.ID)
	var conflict *persistence.StatusConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, persistence.StatusActive, conflict.Current)

	// rejection moves the draft to the archive with its reason
	doomed, err := repository.CreateDraft(ctx, integrationDraftParams("orders-daily"))
	require.NoError(t, err)
	require.Equal(t, 3, doomed.VersionNumber)
	_, err = repository.SubmitDraft(ctx, doomed.ID, "alice")
	require.NoError(t, err)

	rejected, err := repository.Reject(ctx, doomed.ID, "root", "query too broad")
	require.NoError(t, err)
	require.Equal(t, persistence.ArchiveStatusRejected, rejected.ArchiveStatus)
	require.NotNil(t, rejected.RejectionReason)
	require.Equal(t, "query too broad", *rejected.RejectionReason)

	_, err = repository.GetDraft(ctx, "orders-daily")
	require.True(t, errors.Is(err, persistence.ErrLoaderVersionNotFound))

	// rejected numbers are never reused
	next, err := repository.CreateDraft(ctx, integrationDraftParams("orders-daily"))
	require.NoError(t, err)
	require.Equal(t, 4, next.VersionNumber)
	require.NoError(t, repository.DeleteDraft(ctx, next.ID))

	// toggling execution only touches the active row
	enabled, err := repository.SetEnabled(ctx, "orders-daily", true, "root")
	require.NoError(t, err)
	require.True(t, enabled.Enabled)

	// revocation disables, archives and removes the active row
	revoked, err := repository.Revoke(ctx, "orders-daily", "root", "credentials rotated")
	require.NoError(t, err)
	require.False(t, revoked.Enabled)
	require.Equal(t, "revoked: credentials rotated", revoked.ArchiveReason)

	_, err = repository.GetActive(ctx, "orders-daily")
	require.True(t, errors.Is(err, persistence.ErrLoaderVersionNotFound))

	// history sees both stores in one read
	liveRows, archivedRows, err := repository.History(ctx, "orders-daily")
	require.NoError(t, err)
	require.Empty(t, liveRows)
	require.Len(t, archivedRows, 3)
}
