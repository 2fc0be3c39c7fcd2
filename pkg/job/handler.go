package job

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ruleengine/controlplane/internal/audit"
	"github.com/ruleengine/controlplane/internal/auth"
	"github.com/ruleengine/controlplane/internal/httpserver"
	"github.com/ruleengine/controlplane/pkg/secret"
	"github.com/ruleengine/controlplane/pkg/tenant"
)

// Handler provides HTTP handlers for the jobs API.
type Handler struct {
	logger   *slog.Logger
	audit    *audit.Writer
	executor Executor
	sts      IdentityChecker
	lm       PermissionChecker
	secrets  secret.Store
	opts     Options
}

// NewHandler creates a job Handler.
func NewHandler(logger *slog.Logger, auditWriter *audit.Writer, executor Executor, sts IdentityChecker, lm PermissionChecker, secrets secret.Store, opts Options) *Handler {
	return &Handler{
		logger:   logger,
		audit:    auditWriter,
		executor: executor,
		sts:      sts,
		lm:       lm,
		secrets:  secrets,
		opts:     opts,
	}
}

// Routes returns a chi.Router with all job routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleSubmit)
	r.Post("/k8s", h.handleSubmitK8s)
	r.Get("/", h.handleList)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Delete("/", h.handleTerminate)
	})
	return r
}

// service creates a per-request Service from the tenant-scoped connection.
func (h *Handler) service(r *http.Request) *Service {
	conn := tenant.ConnFromContext(r.Context())
	return NewService(conn, h.executor, h.sts, h.lm, h.secrets, h.opts, h.logger)
}

// Response is the JSON shape of a job.
type Response struct {
	ID              uuid.UUID `json:"id"`
	TenantName      string    `json:"tenant_name"`
	Customer        string    `json:"customer"`
	Regions         []string  `json:"regions"`
	Rulesets        []string  `json:"rulesets"`
	RulesToScan     []string  `json:"rules_to_scan,omitempty"`
	Status          string    `json:"status"`
	SubmittedAt     time.Time `json:"submitted_at"`
	BatchJobID      string    `json:"batch_job_id,omitempty"`
	AffectedLicense string    `json:"affected_license,omitempty"`
	PlatformID      string    `json:"platform_id,omitempty"`
	Reason          string    `json:"reason,omitempty"`
}

func toResponse(j *Job) Response {
	regions := j.Regions
	if regions == nil {
		regions = []string{}
	}
	rulesets := j.Rulesets
	if rulesets == nil {
		rulesets = []string{}
	}
	return Response{
		ID:              j.ID,
		TenantName:      j.TenantName,
		Customer:        j.Customer,
		Regions:         regions,
		Rulesets:        rulesets,
		RulesToScan:     j.RulesToScan,
		Status:          j.Status,
		SubmittedAt:     j.SubmittedAt,
		BatchJobID:      j.BatchJobID,
		AffectedLicense: j.AffectedLicense,
		PlatformID:      j.PlatformID,
		Reason:          j.Reason,
	}
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req Request
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	created, err := h.service(r).Submit(r.Context(), req)
	if err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}
	if h.audit != nil {
		h.audit.LogFromRequest(r, "submit", "job", created.ID, nil)
	}
	httpserver.Respond(w, http.StatusCreated, toResponse(created))
}

func (h *Handler) handleSubmitK8s(w http.ResponseWriter, r *http.Request) {
	var req K8sRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	created, err := h.service(r).SubmitK8s(r.Context(), req)
	if err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}
	if h.audit != nil {
		h.audit.LogFromRequest(r, "submit", "job", created.ID, nil)
	}
	httpserver.Respond(w, http.StatusCreated, toResponse(created))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	filters := ListFilters{Status: r.URL.Query().Get("status")}
	jobs, err := h.service(r).Store().List(r.Context(), filters, params.PageSize, params.Offset)
	if err != nil {
		h.logger.Error("listing jobs", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list jobs")
		return
	}
	items := make([]Response, 0, len(jobs))
	for _, j := range jobs {
		items = append(items, toResponse(j))
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid job ID")
		return
	}
	j, err := h.service(r).Store().Get(r.Context(), id)
	if err != nil {
		h.logger.Error("getting job", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to get job")
		return
	}
	if j == nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	httpserver.Respond(w, http.StatusOK, toResponse(j))
}

func (h *Handler) handleTerminate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid job ID")
		return
	}
	user := "unknown"
	if identity := auth.FromContext(r.Context()); identity != nil {
		user = identity.Subject
	}
	if err := h.service(r).Terminate(r.Context(), id, user, r.URL.Query().Get("customer")); err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}
	if h.audit != nil {
		h.audit.LogFromRequest(r, "terminate", "job", id, nil)
	}
	httpserver.Respond(w, http.StatusAccepted, map[string]string{
		"message": "the job with id '" + id.String() + "' is being terminated",
	})
}
