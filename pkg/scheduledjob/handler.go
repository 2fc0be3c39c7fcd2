package scheduledjob

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robfig/cron/v3"

	"github.com/ruleengine/controlplane/internal/audit"
	"github.com/ruleengine/controlplane/internal/db"
	"github.com/ruleengine/controlplane/internal/httpserver"
	"github.com/ruleengine/controlplane/pkg/job"
	"github.com/ruleengine/controlplane/pkg/secret"
	"github.com/ruleengine/controlplane/pkg/tenant"
)

// cronParser validates schedules with the standard 5-field cron syntax.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Handler provides HTTP handlers for the scheduled jobs API. Registration
// resolves and freezes the ruleset/region selection via the job admission
// resolver. When the handler holds a scheduler it registers and deregisters
// cron entries on create, patch and delete; with a nil scheduler it only
// writes rows, which the worker-side scheduler loads at start.
type Handler struct {
	logger   *slog.Logger
	audit    *audit.Writer
	executor job.Executor
	sts      job.IdentityChecker
	lm       job.PermissionChecker
	secrets  secret.Store
	opts     job.Options
	// scheduler is non-nil only when API and worker share a process.
	scheduler *Scheduler
}

// NewHandler creates a scheduled-job Handler. scheduler may be nil.
func NewHandler(logger *slog.Logger, auditWriter *audit.Writer, executor job.Executor, sts job.IdentityChecker, lm job.PermissionChecker, secrets secret.Store, opts job.Options, scheduler *Scheduler) *Handler {
	return &Handler{
		logger:    logger,
		audit:     auditWriter,
		executor:  executor,
		sts:       sts,
		lm:        lm,
		secrets:   secrets,
		opts:      opts,
		scheduler: scheduler,
	}
}

// Routes returns a chi.Router with all scheduled-job routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Route("/{name}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Patch("/", h.handlePatch)
		r.Delete("/", h.handleDelete)
	})
	return r
}

func (h *Handler) store(r *http.Request) *Store {
	return NewStore(tenant.ConnFromContext(r.Context()))
}

// CreateRequest is the JSON body for POST /scheduled-jobs.
type CreateRequest struct {
	Name          string   `json:"name" validate:"required,min=3"`
	TenantName    string   `json:"tenant_name" validate:"required"`
	Customer      string   `json:"customer"`
	Schedule      string   `json:"schedule" validate:"required"`
	Description   string   `json:"description"`
	TargetRegions []string `json:"target_regions"`
	Rulesets      []string `json:"rulesets"`
	LicenseKey    string   `json:"license_key"`
	Enabled       *bool    `json:"enabled"`
}

// PatchRequest is the JSON body for PATCH /scheduled-jobs/{name}.
type PatchRequest struct {
	Customer    string  `json:"customer"`
	Schedule    *string `json:"schedule"`
	Description *string `json:"description"`
	Enabled     *bool   `json:"enabled"`
}

// Response is the JSON shape of a scheduled job.
type Response struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Customer    string    `json:"customer"`
	TenantName  string    `json:"tenant_name"`
	Type        string    `json:"type"`
	Schedule    string    `json:"schedule"`
	Description string    `json:"description,omitempty"`
	Rulesets    []string  `json:"rulesets"`
	Regions     []string  `json:"regions"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toResponse(s *ScheduledJob) Response {
	return Response{
		ID:          s.ID,
		Name:        s.Name,
		Customer:    s.Customer,
		TenantName:  s.TenantName,
		Type:        s.Type,
		Schedule:    s.Schedule,
		Description: s.Description,
		Rulesets:    s.Rulesets,
		Regions:     s.Regions,
		Enabled:     s.Enabled,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if _, err := cronParser.Parse(req.Schedule); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid cron schedule")
		return
	}

	conn := tenant.ConnFromContext(r.Context())
	jobSvc := job.NewService(conn, h.executor, h.sts, h.lm, h.secrets, h.opts, h.logger)
	regions, rulesets, err := jobSvc.ResolveForSchedule(r.Context(), job.Request{
		TenantName:    req.TenantName,
		Customer:      req.Customer,
		TargetRegions: req.TargetRegions,
		Rulesets:      req.Rulesets,
		LicenseKey:    req.LicenseKey,
	})
	if err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	customer := req.Customer
	if customer == "" {
		if t, err := db.New(conn).GetTenantByName(r.Context(), req.TenantName); err == nil {
			customer = t.Customer
		}
	}
	created, err := h.store(r).Create(r.Context(), &ScheduledJob{
		Name:        req.Name,
		Customer:    customer,
		TenantName:  req.TenantName,
		Type:        TypeStandard,
		Schedule:    req.Schedule,
		Description: req.Description,
		Rulesets:    rulesets,
		Regions:     regions,
		Enabled:     enabled,
	})
	if err != nil {
		h.logger.Error("creating scheduled job", "error", err)
		httpserver.RespondError(w, http.StatusConflict, "conflict", "scheduled job with this name already exists")
		return
	}
	if h.scheduler != nil && created.Enabled {
		if info := tenant.FromContext(r.Context()); info != nil {
			if err := h.scheduler.Register(info.Slug, created); err != nil {
				h.logger.Error("registering cron entry", "name", created.Name, "error", err)
			}
		}
	}
	if h.audit != nil {
		h.audit.LogFromRequest(r, "create", "scheduled_job", created.ID, nil)
	}
	httpserver.Respond(w, http.StatusCreated, toResponse(created))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	items, err := h.store(r).List(r.Context())
	if err != nil {
		h.logger.Error("listing scheduled jobs", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list scheduled jobs")
		return
	}
	out := make([]Response, 0, len(items))
	for _, s := range items {
		out = append(out, toResponse(s))
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"items": out})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	item, err := h.store(r).Get(r.Context(), r.URL.Query().Get("customer"), chi.URLParam(r, "name"))
	if err != nil {
		h.logger.Error("getting scheduled job", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to get scheduled job")
		return
	}
	if item == nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "scheduled job not found")
		return
	}
	httpserver.Respond(w, http.StatusOK, toResponse(item))
}

func (h *Handler) handlePatch(w http.ResponseWriter, r *http.Request) {
	var req PatchRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	name := chi.URLParam(r, "name")
	store := h.store(r)
	item, err := store.Get(r.Context(), req.Customer, name)
	if err != nil {
		h.logger.Error("getting scheduled job", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to get scheduled job")
		return
	}
	if item == nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "scheduled job not found")
		return
	}
	if req.Schedule != nil {
		if _, err := cronParser.Parse(*req.Schedule); err != nil {
			httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid cron schedule")
			return
		}
		item.Schedule = *req.Schedule
	}
	if req.Description != nil {
		item.Description = *req.Description
	}
	if req.Enabled != nil {
		item.Enabled = *req.Enabled
	}
	updated, err := store.Update(r.Context(), item)
	if err != nil || updated == nil {
		h.logger.Error("updating scheduled job", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to update scheduled job")
		return
	}
	if h.scheduler != nil {
		if info := tenant.FromContext(r.Context()); info != nil {
			if updated.Enabled {
				if err := h.scheduler.Register(info.Slug, updated); err != nil {
					h.logger.Error("re-registering cron entry", "name", updated.Name, "error", err)
				}
			} else {
				h.scheduler.Deregister(updated.Customer, updated.Name)
			}
		}
	}
	if h.audit != nil {
		h.audit.LogFromRequest(r, "update", "scheduled_job", updated.ID, nil)
	}
	httpserver.Respond(w, http.StatusOK, toResponse(updated))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	customer := r.URL.Query().Get("customer")
	if err := h.store(r).Delete(r.Context(), customer, name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "scheduled job not found")
			return
		}
		h.logger.Error("deleting scheduled job", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to delete scheduled job")
		return
	}
	if h.scheduler != nil {
		h.scheduler.Deregister(customer, name)
	}
	if h.audit != nil {
		h.audit.LogFromRequest(r, "delete", "scheduled_job", uuid.Nil, nil)
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}
