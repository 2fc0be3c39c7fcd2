package tenant

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ruleengine/controlplane/internal/audit"
	"github.com/ruleengine/controlplane/internal/db"
	"github.com/ruleengine/controlplane/internal/httpserver"
)

// Handler provides HTTP handlers for tenant and customer management.
type Handler struct {
	logger      *slog.Logger
	audit       *audit.Writer
	pool        *pgxpool.Pool
	provisioner *Provisioner
}

// NewHandler creates a tenant Handler.
func NewHandler(logger *slog.Logger, auditWriter *audit.Writer, pool *pgxpool.Pool, provisioner *Provisioner) *Handler {
	return &Handler{logger: logger, audit: auditWriter, pool: pool, provisioner: provisioner}
}

// Routes returns a chi.Router with all tenant routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Route("/{name}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Patch("/", h.handlePatch)
	})
	return r
}

// CustomerRoutes returns a chi.Router with the customer routes mounted.
func (h *Handler) CustomerRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreateCustomer)
	r.Get("/{name}", h.handleGetCustomer)
	return r
}

// CreateRequest is the JSON body for POST /tenants.
type CreateRequest struct {
	Name          string   `json:"name" validate:"required,min=2"`
	Slug          string   `json:"slug" validate:"required,min=2,max=63"`
	Customer      string   `json:"customer" validate:"required"`
	Cloud         string   `json:"cloud" validate:"required,oneof=AWS AZURE GOOGLE KUBERNETES"`
	Project       string   `json:"project" validate:"required"`
	ActiveRegions []string `json:"active_regions"`
}

// PatchRequest is the JSON body for PATCH /tenants/{name}.
type PatchRequest struct {
	IsActive      *bool    `json:"is_active"`
	ActiveRegions []string `json:"active_regions"`
}

// Response is the JSON shape of a tenant.
type Response struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Slug          string    `json:"slug"`
	Customer      string    `json:"customer"`
	Cloud         string    `json:"cloud"`
	Project       string    `json:"project"`
	ActiveRegions []string  `json:"active_regions"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
}

func toResponse(t db.Tenant) Response {
	regions := t.ActiveRegions
	if regions == nil {
		regions = []string{}
	}
	return Response{
		ID:            t.ID,
		Name:          t.Name,
		Slug:          t.Slug,
		Customer:      t.Customer,
		Cloud:         t.Cloud,
		Project:       t.Project,
		ActiveRegions: regions,
		IsActive:      t.IsActive,
		CreatedAt:     t.CreatedAt,
	}
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	q := db.New(h.pool)
	if _, err := q.GetCustomer(r.Context(), req.Customer); err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "customer not found")
		return
	}

	info, err := h.provisioner.Provision(r.Context(), ProvisionParams{
		Name:          req.Name,
		Slug:          req.Slug,
		Customer:      req.Customer,
		Cloud:         req.Cloud,
		Project:       req.Project,
		ActiveRegions: req.ActiveRegions,
	})
	if err != nil {
		h.logger.Error("provisioning tenant", "error", err)
		httpserver.RespondError(w, http.StatusConflict, "conflict", "failed to provision tenant")
		return
	}
	created, err := q.GetTenantBySlug(r.Context(), info.Slug)
	if err != nil {
		h.logger.Error("fetching provisioned tenant", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to fetch tenant")
		return
	}
	if h.audit != nil {
		h.audit.LogFromRequest(r, "create", "tenant", created.ID, nil)
	}
	httpserver.Respond(w, http.StatusCreated, toResponse(created))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := db.New(h.pool)
	customer := r.URL.Query().Get("customer")
	var (
		tenants []db.Tenant
		err     error
	)
	if customer != "" {
		tenants, err = q.ListTenantsByCustomer(r.Context(), customer)
	} else {
		tenants, err = q.ListTenants(r.Context())
	}
	if err != nil {
		h.logger.Error("listing tenants", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list tenants")
		return
	}
	items := make([]Response, 0, len(tenants))
	for _, t := range tenants {
		items = append(items, toResponse(t))
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	t, err := db.New(h.pool).GetTenantByName(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "tenant not found")
		return
	}
	httpserver.Respond(w, http.StatusOK, toResponse(t))
}

func (h *Handler) handlePatch(w http.ResponseWriter, r *http.Request) {
	var req PatchRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	q := db.New(h.pool)
	t, err := q.GetTenantByName(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "tenant not found")
		return
	}
	if req.IsActive != nil {
		if err := q.SetTenantActive(r.Context(), t.ID, *req.IsActive); err != nil {
			h.logger.Error("updating tenant activity", "error", err)
			httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to update tenant")
			return
		}
	}
	if req.ActiveRegions != nil {
		if err := q.UpdateTenantActiveRegions(r.Context(), t.ID, req.ActiveRegions); err != nil {
			h.logger.Error("updating tenant regions", "error", err)
			httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to update tenant")
			return
		}
	}
	updated, err := q.GetTenantByName(r.Context(), t.Name)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to fetch tenant")
		return
	}
	if h.audit != nil {
		h.audit.LogFromRequest(r, "update", "tenant", updated.ID, nil)
	}
	httpserver.Respond(w, http.StatusOK, toResponse(updated))
}

// CustomerCreateRequest is the JSON body for POST /customers.
type CustomerCreateRequest struct {
	Name        string `json:"name" validate:"required,min=2"`
	DisplayName string `json:"display_name" validate:"required"`
}

func (h *Handler) handleCreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req CustomerCreateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	c, err := db.New(h.pool).CreateCustomer(r.Context(), req.Name, req.DisplayName, false)
	if err != nil {
		h.logger.Error("creating customer", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to create customer")
		return
	}
	httpserver.Respond(w, http.StatusCreated, map[string]any{
		"name":         c.Name,
		"display_name": c.DisplayName,
		"is_system":    c.IsSystem,
		"created_at":   c.CreatedAt,
	})
}

func (h *Handler) handleGetCustomer(w http.ResponseWriter, r *http.Request) {
	c, err := db.New(h.pool).GetCustomer(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "customer not found")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"name":         c.Name,
		"display_name": c.DisplayName,
		"is_system":    c.IsSystem,
		"created_at":   c.CreatedAt,
	})
}
