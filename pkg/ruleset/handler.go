package ruleset

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ruleengine/controlplane/internal/audit"
	"github.com/ruleengine/controlplane/internal/httpserver"
	"github.com/ruleengine/controlplane/internal/platform"
	"github.com/ruleengine/controlplane/pkg/license"
)

// Handler provides HTTP handlers for the rulesets API.
type Handler struct {
	logger         *slog.Logger
	audit          *audit.Writer
	pool           *pgxpool.Pool
	s3             *platform.S3Client
	lm             *license.LMClient
	rulesetsBucket string
	systemCustomer string
}

// NewHandler creates a ruleset Handler.
func NewHandler(logger *slog.Logger, auditWriter *audit.Writer, pool *pgxpool.Pool, s3 *platform.S3Client, lm *license.LMClient, rulesetsBucket, systemCustomer string) *Handler {
	return &Handler{
		logger:         logger,
		audit:          auditWriter,
		pool:           pool,
		s3:             s3,
		lm:             lm,
		rulesetsBucket: rulesetsBucket,
		systemCustomer: systemCustomer,
	}
}

// Routes returns a chi.Router with all ruleset routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Post("/release", h.handleRelease)
	r.Route("/{name}", func(r chi.Router) {
		r.Patch("/", h.handleUpdate)
		r.Delete("/", h.handleDelete)
		r.Get("/{version}", h.handleGet)
	})
	return r
}

func (h *Handler) service() *Service {
	return NewService(h.pool, h.s3, h.lm, h.logger, h.rulesetsBucket, h.systemCustomer)
}

// Response is the JSON shape of a ruleset.
type Response struct {
	ID          string   `json:"id"`
	Customer    string   `json:"customer"`
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Cloud       string   `json:"cloud"`
	Rules       []string `json:"rules"`
	Licensed    bool     `json:"licensed"`
	EventDriven bool     `json:"event_driven"`
	Description string   `json:"description,omitempty"`
	CreatedAt   string   `json:"created_at"`
}

func toResponse(r *Ruleset) Response {
	rules := r.Rules
	if rules == nil {
		rules = []string{}
	}
	return Response{
		ID:          r.ID.String(),
		Customer:    r.Customer,
		Name:        r.Name,
		Version:     r.Version,
		Cloud:       r.Cloud,
		Rules:       rules,
		Licensed:    r.Licensed,
		EventDriven: r.EventDriven,
		Description: r.Description,
		CreatedAt:   r.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	created, err := h.service().Create(r.Context(), req)
	if err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}
	if h.audit != nil {
		h.audit.LogFromRequest(r, "create", "ruleset", created.ID, nil)
	}
	httpserver.Respond(w, http.StatusCreated, toResponse(created))
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	updated, err := h.service().Update(r.Context(), chi.URLParam(r, "name"), req)
	if err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}
	if h.audit != nil {
		h.audit.LogFromRequest(r, "update", "ruleset", updated.ID, nil)
	}
	httpserver.Respond(w, http.StatusOK, toResponse(updated))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := h.service().List(r.Context(), q.Get("customer"), q.Get("cloud"), q.Get("event_driven") == "true")
	if err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}
	out := make([]Response, 0, len(items))
	for _, item := range items {
		out = append(out, toResponse(item))
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"items": out})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	item, err := h.service().Get(r.Context(), r.URL.Query().Get("customer"), chi.URLParam(r, "name"), chi.URLParam(r, "version"))
	if err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, toResponse(item))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	err := h.service().Delete(r.Context(), q.Get("customer"), chi.URLParam(r, "name"), q.Get("version"), q.Get("all_versions") == "true")
	if err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}

// releaseBody is the JSON body for POST /rulesets/release.
type releaseBody struct {
	Rulesets []ReleaseRequest `json:"rulesets" validate:"required,min=1,dive"`
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	var body releaseBody
	if !httpserver.DecodeAndValidate(w, r, &body) {
		return
	}
	results, allOK, err := h.service().Release(r.Context(), body.Rulesets)
	if err != nil {
		httpserver.RespondAPIError(w, err)
		return
	}
	status := http.StatusCreated
	if !allOK {
		status = http.StatusMultiStatus
	}
	httpserver.Respond(w, status, map[string]any{"items": results})
}
