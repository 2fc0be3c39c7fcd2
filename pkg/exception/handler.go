package exception

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ruleengine/controlplane/internal/audit"
	"github.com/ruleengine/controlplane/internal/httpserver"
	"github.com/ruleengine/controlplane/pkg/tenant"
)

// Handler provides HTTP handlers for the resource exceptions API.
type Handler struct {
	logger *slog.Logger
	audit  *audit.Writer
}

// NewHandler creates an exception Handler.
func NewHandler(logger *slog.Logger, auditWriter *audit.Writer) *Handler {
	return &Handler{logger: logger, audit: auditWriter}
}

// Routes returns a chi.Router with all exception routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Delete("/{id}", h.handleDelete)
	return r
}

func (h *Handler) store(r *http.Request) *Store {
	return NewStore(tenant.ConnFromContext(r.Context()))
}

// CreateRequest is the JSON body for POST /resource-exceptions. Exactly one
// identification mode must be supplied.
type CreateRequest struct {
	Customer     string   `json:"customer"`
	TenantName   string   `json:"tenant_name" validate:"required"`
	ARN          string   `json:"arn"`
	ResourceID   string   `json:"resource_id"`
	ResourceType string   `json:"resource_type"`
	Location     string   `json:"location"`
	TagsFilters  []string `json:"tags_filters"`
	ExpireAt     string   `json:"expire_at" validate:"required"`
}

// Response is the JSON shape of an exception.
type Response struct {
	ID           uuid.UUID `json:"id"`
	Customer     string    `json:"customer"`
	TenantName   string    `json:"tenant_name"`
	ARN          string    `json:"arn,omitempty"`
	ResourceID   string    `json:"resource_id,omitempty"`
	ResourceType string    `json:"resource_type,omitempty"`
	Location     string    `json:"location,omitempty"`
	TagsFilters  []string  `json:"tags_filters,omitempty"`
	ExpireAt     time.Time `json:"expire_at"`
	CreatedAt    time.Time `json:"created_at"`
}

func toResponse(e ResourceException) Response {
	return Response{
		ID:           e.ID,
		Customer:     e.Customer,
		TenantName:   e.TenantName,
		ARN:          e.ARN,
		ResourceID:   e.ResourceID,
		ResourceType: e.ResourceType,
		Location:     e.Location,
		TagsFilters:  e.TagsFilters,
		ExpireAt:     e.ExpireAt,
		CreatedAt:    e.CreatedAt,
	}
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	modes := 0
	if req.ARN != "" {
		modes++
	}
	if req.ResourceID != "" {
		modes++
	}
	if len(req.TagsFilters) > 0 {
		modes++
	}
	if modes != 1 {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request",
			"exactly one of arn, resource_id+location+resource_type, or tags_filters must be set")
		return
	}
	if req.ResourceID != "" && (req.ResourceType == "" || req.Location == "") {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request",
			"resource_id requires resource_type and location")
		return
	}
	expireAt, err := time.Parse(time.RFC3339, req.ExpireAt)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "expire_at must be RFC3339")
		return
	}

	created, err := h.store(r).Create(r.Context(), ResourceException{
		Customer:     req.Customer,
		TenantName:   req.TenantName,
		ARN:          req.ARN,
		ResourceID:   req.ResourceID,
		ResourceType: req.ResourceType,
		Location:     req.Location,
		TagsFilters:  req.TagsFilters,
		ExpireAt:     expireAt,
	})
	if err != nil {
		h.logger.Error("creating exception", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to create exception")
		return
	}
	if h.audit != nil {
		h.audit.LogFromRequest(r, "create", "resource_exception", created.ID, nil)
	}
	httpserver.Respond(w, http.StatusCreated, toResponse(created))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	items, err := h.store(r).ListActive(r.Context())
	if err != nil {
		h.logger.Error("listing exceptions", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list exceptions")
		return
	}
	out := make([]Response, 0, len(items))
	for _, e := range items {
		out = append(out, toResponse(e))
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"items": out})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid exception ID")
		return
	}
	if err := h.store(r).Delete(r.Context(), id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "exception not found")
			return
		}
		h.logger.Error("deleting exception", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to delete exception")
		return
	}
	if h.audit != nil {
		h.audit.LogFromRequest(r, "delete", "resource_exception", id, nil)
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}
