package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/loader-registry/domains/loaders/be/service"
	platformactor "github.com/zenGate-Global/loader-registry/platform/go/actor"
	platformlogging "github.com/zenGate-Global/loader-registry/platform/go/logging"
	"github.com/zenGate-Global/loader-registry/platform/go/persistence"
)

const (
	problemTypeValidation   = "https://loader-registry.zengate.global/problems/validation-error"
	problemTypeNotFound     = "https://loader-registry.zengate.global/problems/not-found"
	problemTypeConflict     = "https://loader-registry.zengate.global/problems/state-conflict"
	problemTypeConcurrency  = "https://loader-registry.zengate.global/problems/concurrent-update"
	problemTypeProtected    = "https://loader-registry.zengate.global/problems/protected-deletion"
	problemTypeUnauthorized = "https://loader-registry.zengate.global/problems/missing-actor"
	problemTypeInternal     = "https://loader-registry.zengate.global/problems/internal-error"
	loadersBasePath         = "/api/v1/loaders"
)

type operation string

const (
	listOperation       operation = "listLoaders"
	createOperation     operation = "createDraft"
	updateOperation     operation = "updateDraft"
	submitOperation     operation = "submitDraft"
	deleteOperation     operation = "deleteDraft"
	approveOperation    operation = "approveDraft"
	rejectOperation     operation = "rejectDraft"
	revokeOperation     operation = "revokeActive"
	setEnabledOperation operation = "setEnabled"
	getActiveOperation  operation = "getActive"
	getDraftOperation   operation = "getDraft"
	historyOperation    operation = "getHistory"
	rollbackOperation   operation = "rollback"
)

// ProblemDetails is the RFC 7807 error body every endpoint returns on failure.
type ProblemDetails struct {
	Type   string              `json:"type,omitempty"`
	Title  string              `json:"title"`
	Status int                 `json:"status"`
	Detail string              `json:"detail,omitempty"`
	Errors map[string][]string `json:"errors,omitempty"`
}

// Handler exposes the loader versioning service over HTTP.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("loaders service is required")
	}
	if logger == nil {
		panic("logger is required")
	}

	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes mounts every loader endpoint on the router. Caller identity
// is expected on the context; see platform/go/actor.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/loaders", func(r chi.Router) {
			r.Get("/", h.listLoaders)
			r.Route("/{loaderCode}", func(r chi.Router) {
				r.Post("/draft", h.createDraft)
				r.Get("/draft", h.getDraft)
				r.Get("/active", h.getActive)
				r.Get("/history", h.getHistory)
				r.Post("/rollback", h.rollback)
				r.Post("/revoke", h.revoke)
				r.Put("/enabled", h.setEnabled)
			})
		})
		r.Route("/drafts/{draftId}", func(r chi.Router) {
			r.Patch("/", h.updateDraft)
			r.Delete("/", h.deleteDraft)
			r.Post("/submit", h.submitDraft)
			r.Post("/approve", h.approveDraft)
			r.Post("/reject", h.rejectDraft)
		})
	})
}

type settingsPayload struct {
	RefreshIntervalSeconds int    `json:"refreshIntervalSeconds"`
	MaxRuntimeSeconds      int    `json:"maxRuntimeSeconds"`
	LoadStrategy           string `json:"loadStrategy"`
}

type createDraftRequest struct {
	Definition    json.RawMessage `json:"definition"`
	Settings      settingsPayload `json:"settings"`
	ChangeSummary *string         `json:"changeSummary,omitempty"`
	ImportLabel   *string         `json:"importLabel,omitempty"`
}

type updateDraftRequest struct {
	Definition    json.RawMessage `json:"definition"`
	Settings      settingsPayload `json:"settings"`
	ChangeSummary *string         `json:"changeSummary,omitempty"`
}

type reviewRequest struct {
	Reason   string `json:"reason,omitempty"`
	Comments string `json:"comments,omitempty"`
}

type rollbackRequest struct {
	TargetVersion int    `json:"targetVersion"`
	Reason        string `json:"reason,omitempty"`
}

type setEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

type loaderVersionResponse struct {
	ID              uuid.UUID       `json:"id"`
	LoaderCode      string          `json:"loaderCode"`
	VersionNumber   int             `json:"versionNumber"`
	Status          string          `json:"status"`
	ParentVersionID *uuid.UUID      `json:"parentVersionId,omitempty"`
	Definition      json.RawMessage `json:"definition"`
	Settings        settingsPayload `json:"settings"`
	Enabled         bool            `json:"enabled"`
	ChangeType      string          `json:"changeType"`
	ChangeSummary   *string         `json:"changeSummary,omitempty"`
	ImportLabel     *string         `json:"importLabel,omitempty"`
	CreatedBy       string          `json:"createdBy"`
	CreatedAt       time.Time       `json:"createdAt"`
	ModifiedBy      *string         `json:"modifiedBy,omitempty"`
	ModifiedAt      *time.Time      `json:"modifiedAt,omitempty"`
	ApprovedBy      *string         `json:"approvedBy,omitempty"`
	ApprovedAt      *time.Time      `json:"approvedAt,omitempty"`
}

type historyEntryResponse struct {
	loaderVersionResponse

	Archived        bool       `json:"archived"`
	ArchiveStatus   *string    `json:"archiveStatus,omitempty"`
	ArchivedBy      *string    `json:"archivedBy,omitempty"`
	ArchivedAt      *time.Time `json:"archivedAt,omitempty"`
	ArchiveReason   *string    `json:"archiveReason,omitempty"`
	RejectedBy      *string    `json:"rejectedBy,omitempty"`
	RejectedAt      *time.Time `json:"rejectedAt,omitempty"`
	RejectionReason *string    `json:"rejectionReason,omitempty"`
}

type loaderListResponse struct {
	Items []loaderVersionResponse `json:"items"`
}

type historyResponse struct {
	Items []historyEntryResponse `json:"items"`
}

func (h *Handler) listLoaders(w http.ResponseWriter, r *http.Request) {
	versions, err := h.svc.ListLive(r.Context())
	if err != nil {
		h.writeError(w, r, err, listOperation)
		return
	}

	items := make([]loaderVersionResponse, 0, len(versions))
	for _, version := range versions {
		items = append(items, toAPIVersion(version))
	}
	h.writeJSON(w, r, http.StatusOK, loaderListResponse{Items: items})
}

func (h *Handler) createDraft(w http.ResponseWriter, r *http.Request) {
	author, ok := h.requireActor(w, r, createOperation)
	if !ok {
		return
	}

	var body createDraftRequest
	if !h.decodeBody(w, r, &body) {
		return
	}

	draft, err := h.svc.CreateDraft(r.Context(), author, service.CreateDraftInput{
		LoaderCode:    chi.URLParam(r, "loaderCode"),
		Definition:    body.Definition,
		Settings:      toSettings(body.Settings),
		ChangeSummary: deref(body.ChangeSummary),
		ImportLabel:   deref(body.ImportLabel),
	})
	if err != nil {
		h.writeError(w, r, err, createOperation)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("%s/%s/draft", loadersBasePath, draft.LoaderCode))
	h.writeJSON(w, r, http.StatusCreated, toAPIVersion(draft))
}

func (h *Handler) updateDraft(w http.ResponseWriter, r *http.Request) {
	author, ok := h.requireActor(w, r, updateOperation)
	if !ok {
		return
	}
	draftID, ok := h.draftID(w, r)
	if !ok {
		return
	}

	var body updateDraftRequest
	if !h.decodeBody(w, r, &body) {
		return
	}

	draft, err := h.svc.UpdateDraft(r.Context(), author, draftID, service.UpdateDraftInput{
		Definition:    body.Definition,
		Settings:      toSettings(body.Settings),
		ChangeSummary: deref(body.ChangeSummary),
	})
	if err != nil {
		h.writeError(w, r, err, updateOperation)
		return
	}

	h.writeJSON(w, r, http.StatusOK, toAPIVersion(draft))
}

func (h *Handler) submitDraft(w http.ResponseWriter, r *http.Request) {
	author, ok := h.requireActor(w, r, submitOperation)
	if !ok {
		return
	}
	draftID, ok := h.draftID(w, r)
	if !ok {
		return
	}

	pending, err := h.svc.SubmitForApproval(r.Context(), author, draftID)
	if err != nil {
		h.writeError(w, r, err, submitOperation)
		return
	}

	h.writeJSON(w, r, http.StatusOK, toAPIVersion(pending))
}

func (h *Handler) deleteDraft(w http.ResponseWriter, r *http.Request) {
	author, ok := h.requireActor(w, r, deleteOperation)
	if !ok {
		return
	}
	draftID, ok := h.draftID(w, r)
	if !ok {
		return
	}

	if err := h.svc.DeleteDraft(r.Context(), author, draftID); err != nil {
		h.writeError(w, r, err, deleteOperation)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) approveDraft(w http.ResponseWriter, r *http.Request) {
	approver, ok := h.requireActor(w, r, approveOperation)
	if !ok {
		return
	}
	draftID, ok := h.draftID(w, r)
	if !ok {
		return
	}

	var body reviewRequest
	if !h.decodeOptionalBody(w, r, &body) {
		return
	}

	active, err := h.svc.Approve(r.Context(), approver, draftID, body.Comments)
	if err != nil {
		h.writeError(w, r, err, approveOperation)
		return
	}

	h.writeJSON(w, r, http.StatusOK, toAPIVersion(active))
}

func (h *Handler) rejectDraft(w http.ResponseWriter, r *http.Request) {
	approver, ok := h.requireActor(w, r, rejectOperation)
	if !ok {
		return
	}
	draftID, ok := h.draftID(w, r)
	if !ok {
		return
	}

	var body reviewRequest
	if !h.decodeBody(w, r, &body) {
		return
	}

	rejected, err := h.svc.Reject(r.Context(), approver, draftID, body.Reason, body.Comments)
	if err != nil {
		h.writeError(w, r, err, rejectOperation)
		return
	}

	h.writeJSON(w, r, http.StatusOK, toAPIHistoryEntry(rejected))
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	admin, ok := h.requireActor(w, r, revokeOperation)
	if !ok {
		return
	}

	var body reviewRequest
	if !h.decodeBody(w, r, &body) {
		return
	}

	revoked, err := h.svc.Revoke(r.Context(), admin, chi.URLParam(r, "loaderCode"), body.Reason)
	if err != nil {
		h.writeError(w, r, err, revokeOperation)
		return
	}

	h.writeJSON(w, r, http.StatusOK, toAPIHistoryEntry(revoked))
}

func (h *Handler) setEnabled(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r, setEnabledOperation)
	if !ok {
		return
	}

	var body setEnabledRequest
	if !h.decodeBody(w, r, &body) {
		return
	}

	version, err := h.svc.SetEnabled(r.Context(), actor, chi.URLParam(r, "loaderCode"), body.Enabled)
	if err != nil {
		h.writeError(w, r, err, setEnabledOperation)
		return
	}

	h.writeJSON(w, r, http.StatusOK, toAPIVersion(version))
}

func (h *Handler) getActive(w http.ResponseWriter, r *http.Request) {
	version, err := h.svc.GetActive(r.Context(), chi.URLParam(r, "loaderCode"))
	if err != nil {
		h.writeError(w, r, err, getActiveOperation)
		return
	}

	h.writeJSON(w, r, http.StatusOK, toAPIVersion(version))
}

func (h *Handler) getDraft(w http.ResponseWriter, r *http.Request) {
	version, err := h.svc.GetDraft(r.Context(), chi.URLParam(r, "loaderCode"))
	if err != nil {
		h.writeError(w, r, err, getDraftOperation)
		return
	}

	h.writeJSON(w, r, http.StatusOK, toAPIVersion(version))
}

func (h *Handler) getHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.History(r.Context(), chi.URLParam(r, "loaderCode"))
	if err != nil {
		h.writeError(w, r, err, historyOperation)
		return
	}

	items := make([]historyEntryResponse, 0, len(entries))
	for _, entry := range entries {
		items = append(items, toAPIHistoryEntry(entry))
	}
	h.writeJSON(w, r, http.StatusOK, historyResponse{Items: items})
}

func (h *Handler) rollback(w http.ResponseWriter, r *http.Request) {
	admin, ok := h.requireActor(w, r, rollbackOperation)
	if !ok {
		return
	}

	var body rollbackRequest
	if !h.decodeBody(w, r, &body) {
		return
	}

	draft, err := h.svc.Rollback(r.Context(), admin, chi.URLParam(r, "loaderCode"), body.TargetVersion, body.Reason)
	if err != nil {
		h.writeError(w, r, err, rollbackOperation)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("%s/%s/draft", loadersBasePath, draft.LoaderCode))
	h.writeJSON(w, r, http.StatusCreated, toAPIVersion(draft))
}

func (h *Handler) requireActor(w http.ResponseWriter, r *http.Request, op operation) (string, bool) {
	identity := platformactor.FromContextOrAnonymous(r.Context())
	if identity.Kind == platformactor.KindAnonymous || strings.TrimSpace(identity.Name) == "" {
		h.writeProblem(w, r, http.StatusUnauthorized, ProblemDetails{
			Type:   problemTypeUnauthorized,
			Title:  "Missing caller identity",
			Status: http.StatusUnauthorized,
			Detail: fmt.Sprintf("%s requires the %s header", op, platformactor.HeaderActor),
		})
		return "", false
	}
	return identity.Name, true
}

func (h *Handler) draftID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "draftId")
	id, err := uuid.Parse(raw)
	if err != nil {
		h.writeProblem(w, r, http.StatusBadRequest, ProblemDetails{
			Type:   problemTypeValidation,
			Title:  "Validation failed",
			Status: http.StatusBadRequest,
			Detail: fmt.Sprintf("draft id %q is not a valid UUID", raw),
		})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeProblem(w, r, http.StatusBadRequest, ProblemDetails{
			Type:   problemTypeValidation,
			Title:  "Invalid request body",
			Status: http.StatusBadRequest,
			Detail: "request body must be valid JSON",
		})
		return false
	}
	return true
}

// decodeOptionalBody tolerates an absent body. Approvals carry no required
// fields.
func (h *Handler) decodeOptionalBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	h.writeProblem(w, r, http.StatusBadRequest, ProblemDetails{
		Type:   problemTypeValidation,
		Title:  "Invalid request body",
		Status: http.StatusBadRequest,
		Detail: "request body must be valid JSON",
	})
	return false
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, op operation) {
	status, problem := h.problemForError(r.Context(), err, op)
	h.writeProblem(w, r, status, problem)
}

func (h *Handler) problemForError(ctx context.Context, err error, op operation) (int, ProblemDetails) {
	status, title, detail, problemType, fieldErrors := classifyError(err)

	logger := h.loggerFrom(ctx)
	fields := []zap.Field{
		zap.String("operation", string(op)),
		zap.Int("status", status),
	}

	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("loader operation failed", append(fields, zap.Error(err))...)
	case status == http.StatusNotFound:
		logger.Info("loader resource not found", append(fields, zap.Error(err))...)
	default:
		logger.Warn("loader request rejected", append(fields, zap.Error(err))...)
	}

	problem := ProblemDetails{
		Type:   problemType,
		Title:  title,
		Status: status,
		Detail: detail,
	}
	if len(fieldErrors) > 0 {
		copied := make(map[string][]string, len(fieldErrors))
		for field, messages := range fieldErrors {
			copied[field] = append([]string(nil), messages...)
		}
		problem.Errors = copied
	}
	return status, problem
}

func classifyError(err error) (status int, title, detail, problemType string, fieldErrors service.FieldErrors) {
	var validationErr *service.ValidationError
	var transitionErr *service.StateTransitionError
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest,
			"Validation failed",
			"one or more fields are invalid",
			problemTypeValidation,
			validationErr.Fields
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound,
			"Resource not found",
			"loader version not found",
			problemTypeNotFound,
			nil
	case errors.Is(err, service.ErrProtectedDeletion):
		return http.StatusConflict,
			"Protected deletion",
			"active versions can only be removed through revocation or supersession",
			problemTypeProtected,
			nil
	case errors.As(err, &transitionErr):
		return http.StatusConflict,
			"Invalid state transition",
			transitionErr.Error(),
			problemTypeConflict,
			nil
	case errors.Is(err, service.ErrConcurrencyConflict):
		return http.StatusConflict,
			"Concurrent update",
			"a concurrent change beat this request; retry with fresh state",
			problemTypeConcurrency,
			nil
	default:
		return http.StatusInternalServerError,
			"Internal server error",
			"an unexpected error occurred",
			problemTypeInternal,
			nil
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.loggerFrom(r.Context()).Error("failed to encode response", zap.Error(err))
	}
}

func (h *Handler) writeProblem(w http.ResponseWriter, r *http.Request, status int, problem ProblemDetails) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem); err != nil {
		h.loggerFrom(r.Context()).Error("failed to encode problem response", zap.Error(err))
	}
}

func (h *Handler) loggerFrom(ctx context.Context) *zap.Logger {
	if logger, ok := platformlogging.FromContext(ctx); ok {
		return logger
	}
	return h.logger
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func toSettings(payload settingsPayload) persistence.LoaderSettings {
	return persistence.LoaderSettings{
		RefreshIntervalSeconds: payload.RefreshIntervalSeconds,
		MaxRuntimeSeconds:      payload.MaxRuntimeSeconds,
		LoadStrategy:           persistence.LoadStrategy(payload.LoadStrategy),
	}
}

func fromSettings(settings persistence.LoaderSettings) settingsPayload {
	return settingsPayload{
		RefreshIntervalSeconds: settings.RefreshIntervalSeconds,
		MaxRuntimeSeconds:      settings.MaxRuntimeSeconds,
		LoadStrategy:           string(settings.LoadStrategy),
	}
}

func toAPIVersion(version service.LoaderVersion) loaderVersionResponse {
	return loaderVersionResponse{
		ID:              version.ID,
		LoaderCode:      version.LoaderCode,
		VersionNumber:   version.VersionNumber,
		Status:          string(version.Status),
		ParentVersionID: version.ParentVersionID,
		Definition:      version.Definition,
		Settings:        fromSettings(version.Settings),
		Enabled:         version.Enabled,
		ChangeType:      string(version.ChangeType),
		ChangeSummary:   version.ChangeSummary,
		ImportLabel:     version.ImportLabel,
		CreatedBy:       version.CreatedBy,
		CreatedAt:       version.CreatedAt,
		ModifiedBy:      version.ModifiedBy,
		ModifiedAt:      version.ModifiedAt,
		ApprovedBy:      version.ApprovedBy,
		ApprovedAt:      version.ApprovedAt,
	}
}

func toAPIHistoryEntry(entry service.HistoryEntry) historyEntryResponse {
	response := historyEntryResponse{
		loaderVersionResponse: toAPIVersion(entry.LoaderVersion),
		Archived:              entry.Archived,
		ArchivedBy:            entry.ArchivedBy,
		ArchivedAt:            entry.ArchivedAt,
		ArchiveReason:         entry.ArchiveReason,
		RejectedBy:            entry.RejectedBy,
		RejectedAt:            entry.RejectedAt,
		RejectionReason:       entry.RejectionReason,
	}
	if entry.ArchiveStatus != nil {
		status := string(*entry.ArchiveStatus)
		response.ArchiveStatus = &status
	}
	return response
}
