package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zenGate-Global/loader-registry/domains/loaders/be/service"
	platformactor "github.com/zenGate-Global/loader-registry/platform/go/actor"
	"github.com/zenGate-Global/loader-registry/platform/go/persistence"
)

type mockService struct {
	createDraftFn func(ctx context.Context, author string, input service.CreateDraftInput) (service.LoaderVersion, error)
	updateDraftFn func(ctx context.Context, author string, draftID uuid.UUID, input service.UpdateDraftInput) (service.LoaderVersion, error)
	submitFn      func(ctx context.Context, author string, draftID uuid.UUID) (service.LoaderVersion, error)
	deleteDraftFn func(ctx context.Context, author string, draftID uuid.UUID) error
	approveFn     func(ctx context.Context, approver string, draftID uuid.UUID, comments string) (service.LoaderVersion, error)
	rejectFn      func(ctx context.Context, approver string, draftID uuid.UUID, reason, comments string) (service.HistoryEntry, error)
	revokeFn      func(ctx context.Context, admin string, loaderCode, reason string) (service.HistoryEntry, error)
	setEnabledFn  func(ctx context.Context, actor string, loaderCode string, enabled bool) (service.LoaderVersion, error)
	getActiveFn   func(ctx context.Context, loaderCode string) (service.LoaderVersion, error)
	getDraftFn    func(ctx context.Context, loaderCode string) (service.LoaderVersion, error)
	listLiveFn    func(ctx context.Context) ([]service.LoaderVersion, error)
	historyFn     func(ctx context.Context, loaderCode string) ([]service.HistoryEntry, error)
	rollbackFn    func(ctx context.Context, admin string, loaderCode string, targetVersion int, reason string) (service.LoaderVersion, error)
}

func (m *mockService) CreateDraft(ctx context.Context, author string, input service.CreateDraftInput) (service.LoaderVersion, error) {
	if m.createDraftFn == nil {
		panic("createDraftFn not configured")
	}
	return m.createDraftFn(ctx, author, input)
}

func (m *mockService) UpdateDraft(ctx context.Context, author string, draftID uuid.UUID, input service.UpdateDraftInput) (service.LoaderVersion, error) {
	if m.updateDraftFn == nil {
		panic("updateDraftFn not configured")
	}
	return m.updateDraftFn(ctx, author, draftID, input)
}

func (m *mockService) SubmitForApproval(ctx context.Context, author string, draftID uuid.UUID) (service.LoaderVersion, error) {
	if m.submitFn == nil {
		panic("submitFn not configured")
	}
	return m.submitFn(ctx, author, draftID)
}

func (m *mockService) DeleteDraft(ctx context.Context, author string, draftID uuid.UUID) error {
	if m.deleteDraftFn == nil {
		panic("deleteDraftFn not configured")
	}
	return m.deleteDraftFn(ctx, author, draftID)
}

func (m *mockService) Approve(ctx context.Context, approver string, draftID uuid.UUID, comments string) (service.LoaderVersion, error) {
	if m.approveFn == nil {
		panic("approveFn not configured")
	}
	return m.approveFn(ctx, approver, draftID, comments)
}

func (m *mockService) Reject(ctx context.Context, approver string, draftID uuid.UUID, reason, comments string) (service.HistoryEntry, error) {
	if m.rejectFn == nil {
		panic("rejectFn not configured")
	}
	return m.rejectFn(ctx, approver, draftID, reason, comments)
}

func (m *mockService) Revoke(ctx context.Context, admin string, loaderCode, reason string) (service.HistoryEntry, error) {
	if m.revokeFn == nil {
		panic("revokeFn not configured")
	}
	return m.revokeFn(ctx, admin, loaderCode, reason)
}

func (m *mockService) SetEnabled(ctx context.Context, actor string, loaderCode string, enabled bool) (service.LoaderVersion, error) {
	if m.setEnabledFn == nil {
		panic("setEnabledFn not configured")
	}
	return m.setEnabledFn(ctx, actor, loaderCode, enabled)
}

func (m *mockService) GetActive(ctx context.Context, loaderCode string) (service.LoaderVersion, error) {
	if m.getActiveFn == nil {
		panic("getActiveFn not configured")
	}
	return m.getActiveFn(ctx, loaderCode)
}

func (m *mockService) GetDraft(ctx context.Context, loaderCode string) (service.LoaderVersion, error) {
	if m.getDraftFn == nil {
		panic("getDraftFn not configured")
	}
	return m.getDraftFn(ctx, loaderCode)
}

func (m *mockService) ListLive(ctx context.Context) ([]service.LoaderVersion, error) {
	if m.listLiveFn == nil {
		panic("listLiveFn not configured")
	}
	return m.listLiveFn(ctx)
}

func (m *mockService) History(ctx context.Context, loaderCode string) ([]service.HistoryEntry, error) {
	if m.historyFn == nil {
		panic("historyFn not configured")
	}
	return m.historyFn(ctx, loaderCode)
}

func (m *mockService) Rollback(ctx context.Context, admin string, loaderCode string, targetVersion int, reason string) (service.LoaderVersion, error) {
	if m.rollbackFn == nil {
		panic("rollbackFn not configured")
	}
	return m.rollbackFn(ctx, admin, loaderCode, targetVersion, reason)
}

func newTestRouter(t *testing.T, svc service.Service) http.Handler {
	t.Helper()

	router := chi.NewRouter()
	router.Use(platformactor.Middleware)
	New(svc, zaptest.NewLogger(t)).RegisterRoutes(router)
	return router
}

func sampleVersion(code string) service.LoaderVersion {
	return service.LoaderVersion{
		ID:            uuid.New(),
		LoaderCode:    code,
		VersionNumber: 1,
		Status:        persistence.StatusDraft,
		Definition:    json.RawMessage(`{"query":"SELECT 1"}`),
		Settings: persistence.LoaderSettings{
			RefreshIntervalSeconds: 3600,
			LoadStrategy:           persistence.LoadStrategyFull,
		},
		ChangeType: persistence.ChangeTypeCreated,
		CreatedBy:  "alice",
		CreatedAt:  time.Now().UTC(),
	}
}

func TestHandlerCreateDraft(t *testing.T) {
	t.Parallel()

	svc := &mockService{}
	router := newTestRouter(t, svc)

	svc.createDraftFn = func(_ context.Context, author string, input service.CreateDraftInput) (service.LoaderVersion, error) {
		require.Equal(t, "alice", author)
		require.Equal(t, "orders-daily", input.LoaderCode)
		require.JSONEq(t, `{"query":"SELECT 1"}`, string(input.Definition))
		require.Equal(t, 3600, input.Settings.RefreshIntervalSeconds)
		return sampleVersion("orders-daily"), nil
	}

	body := `{"definition":{"query":"SELECT 1"},"settings":{"refreshIntervalSeconds":3600,"loadStrategy":"FULL"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/loaders/orders-daily/draft", bytes.NewBufferString(body))
	req.Header.Set(platformactor.HeaderActor, "alice")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusCreated, recorder.Code)
	require.Equal(t, "/api/v1/loaders/orders-daily/draft", recorder.Header().Get("Location"))

	var response loaderVersionResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	require.Equal(t, "orders-daily", response.LoaderCode)
	require.Equal(t, string(persistence.StatusDraft), response.Status)
}

func TestHandlerCreateDraftRequiresActor(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, &mockService{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/loaders/orders-daily/draft", bytes.NewBufferString(`{}`))
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusUnauthorized, recorder.Code)

	var problem ProblemDetails
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &problem))
	require.Equal(t, problemTypeUnauthorized, problem.Type)
}

func TestHandlerValidationProblem(t *testing.T) {
	t.Parallel()

	svc := &mockService{}
	router := newTestRouter(t, svc)

	svc.createDraftFn = func(_ context.Context, _ string, _ service.CreateDraftInput) (service.LoaderVersion, error) {
		return service.LoaderVersion{}, &service.ValidationError{
			Fields: service.FieldErrors{"loaderCode": {"loader code is invalid"}},
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/loaders/BAD!/draft", bytes.NewBufferString(`{}`))
	req.Header.Set(platformactor.HeaderActor, "alice")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.Equal(t, "application/problem+json", recorder.Header().Get("Content-Type"))

	var problem ProblemDetails
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &problem))
	require.Equal(t, problemTypeValidation, problem.Type)
	require.Contains(t, problem.Errors, "loaderCode")
}

func TestHandlerApproveDraft(t *testing.T) {
	t.Parallel()

	svc := &mockService{}
	router := newTestRouter(t, svc)

	draftID := uuid.New()
	svc.approveFn = func(_ context.Context, approver string, id uuid.UUID, comments string) (service.LoaderVersion, error) {
		require.Equal(t, "root", approver)
		require.Equal(t, draftID, id)
		require.Equal(t, "looks good", comments)
		version := sampleVersion("orders-daily")
		version.Status = persistence.StatusActive
		return version, nil
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/drafts/"+draftID.String()+"/approve", bytes.NewBufferString(`{"comments":"looks good"}`))
	req.Header.Set(platformactor.HeaderActor, "root")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusOK, recorder.Code)

	var response loaderVersionResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	require.Equal(t, string(persistence.StatusActive), response.Status)
}

func TestHandlerApproveWithoutBody(t *testing.T) {
	t.Parallel()

	svc := &mockService{}
	router := newTestRouter(t, svc)

	draftID := uuid.New()
	svc.approveFn = func(_ context.Context, _ string, _ uuid.UUID, comments string) (service.LoaderVersion, error) {
		require.Empty(t, comments)
		return sampleVersion("orders-daily"), nil
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/drafts/"+draftID.String()+"/approve", nil)
	req.Header.Set(platformactor.HeaderActor, "root")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusOK, recorder.Code)
}

func TestHandlerStateConflictProblem(t *testing.T) {
	t.Parallel()

	svc := &mockService{}
	router := newTestRouter(t, svc)

	draftID := uuid.New()
	svc.approveFn = func(_ context.Context, _ string, _ uuid.UUID, _ string) (service.LoaderVersion, error) {
		return service.LoaderVersion{}, &service.StateTransitionError{
			LoaderCode: "orders-daily",
			Current:    persistence.StatusDraft,
			Attempted:  "approve",
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/drafts/"+draftID.String()+"/approve", nil)
	req.Header.Set(platformactor.HeaderActor, "root")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusConflict, recorder.Code)

	var problem ProblemDetails
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &problem))
	require.Equal(t, problemTypeConflict, problem.Type)
}

func TestHandlerDeleteDraft(t *testing.T) {
	t.Parallel()

	svc := &mockService{}
	router := newTestRouter(t, svc)

	draftID := uuid.New()
	svc.deleteDraftFn = func(_ context.Context, author string, id uuid.UUID) error {
		require.Equal(t, "alice", author)
		require.Equal(t, draftID, id)
		return nil
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/drafts/"+draftID.String(), nil)
	req.Header.Set(platformactor.HeaderActor, "alice")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusNoContent, recorder.Code)
}

func TestHandlerDeleteActiveIsProtected(t *testing.T) {
	t.Parallel()

	svc := &mockService{}
	router := newTestRouter(t, svc)

	svc.deleteDraftFn = func(_ context.Context, _ string, _ uuid.UUID) error {
		return service.ErrProtectedDeletion
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/drafts/"+uuid.NewString(), nil)
	req.Header.Set(platformactor.HeaderActor, "alice")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusConflict, recorder.Code)

	var problem ProblemDetails
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &problem))
	require.Equal(t, problemTypeProtected, problem.Type)
}

func TestHandlerDraftIDMustBeUUID(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, &mockService{})

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/drafts/not-a-uuid", nil)
	req.Header.Set(platformactor.HeaderActor, "alice")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestHandlerGetActiveNotFound(t *testing.T) {
	t.Parallel()

	svc := &mockService{}
	router := newTestRouter(t, svc)

	svc.getActiveFn = func(_ context.Context, loaderCode string) (service.LoaderVersion, error) {
		require.Equal(t, "orders-daily", loaderCode)
		return service.LoaderVersion{}, service.ErrNotFound
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/loaders/orders-daily/active", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestHandlerHistory(t *testing.T) {
	t.Parallel()

	svc := &mockService{}
	router := newTestRouter(t, svc)

	archived := persistence.ArchiveStatusArchived
	svc.historyFn = func(_ context.Context, loaderCode string) ([]service.HistoryEntry, error) {
		version := sampleVersion(loaderCode)
		version.VersionNumber = 2
		return []service.HistoryEntry{
			{LoaderVersion: version},
			{
				LoaderVersion: sampleVersion(loaderCode),
				Archived:      true,
				ArchiveStatus: &archived,
			},
		}, nil
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/loaders/orders-daily/history", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusOK, recorder.Code)

	var response historyResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	require.Len(t, response.Items, 2)
	require.False(t, response.Items[0].Archived)
	require.True(t, response.Items[1].Archived)
	require.Equal(t, string(persistence.ArchiveStatusArchived), *response.Items[1].ArchiveStatus)
}

func TestHandlerRollback(t *testing.T) {
	t.Parallel()

	svc := &mockService{}
	router := newTestRouter(t, svc)

	svc.rollbackFn = func(_ context.Context, admin string, loaderCode string, targetVersion int, reason string) (service.LoaderVersion, error) {
		require.Equal(t, "root", admin)
		require.Equal(t, "orders-daily", loaderCode)
		require.Equal(t, 3, targetVersion)
		require.Equal(t, "bad release", reason)
		version := sampleVersion(loaderCode)
		version.ChangeType = persistence.ChangeTypeRollback
		return version, nil
	}

	body := `{"targetVersion":3,"reason":"bad release"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/loaders/orders-daily/rollback", bytes.NewBufferString(body))
	req.Header.Set(platformactor.HeaderActor, "root")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusCreated, recorder.Code)

	var response loaderVersionResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	require.Equal(t, string(persistence.ChangeTypeRollback), response.ChangeType)
}

func TestHandlerSetEnabled(t *testing.T) {
	t.Parallel()

	svc := &mockService{}
	router := newTestRouter(t, svc)

	svc.setEnabledFn = func(_ context.Context, actor string, loaderCode string, enabled bool) (service.LoaderVersion, error) {
		require.Equal(t, "root", actor)
		require.True(t, enabled)
		version := sampleVersion(loaderCode)
		version.Status = persistence.StatusActive
		version.Enabled = true
		return version, nil
	}

	req := httptest.NewRequest(http.MethodPut, "/api/v1/loaders/orders-daily/enabled", bytes.NewBufferString(`{"enabled":true}`))
	req.Header.Set(platformactor.HeaderActor, "root")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusOK, recorder.Code)

	var response loaderVersionResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	require.True(t, response.Enabled)
}
