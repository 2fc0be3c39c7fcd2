package license

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ruleengine/controlplane/internal/httpserver"
)

// Handler provides the read-only HTTP view over the cached license replica.
type Handler struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewHandler creates a license Handler.
func NewHandler(logger *slog.Logger, pool *pgxpool.Pool) *Handler {
	return &Handler{pool: pool, logger: logger}
}

// Routes returns a chi.Router with all license routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	r.Get("/{key}", h.handleGet)
	return r
}

// Response is the JSON shape of a license.
type Response struct {
	LicenseKey  string                   `json:"license_key"`
	Customers   map[string]CustomerEntry `json:"customers"`
	RulesetIDs  []string                 `json:"ruleset_ids"`
	EventDriven EventDriven              `json:"event_driven"`
	Expiration  time.Time                `json:"expiration"`
	Expired     bool                     `json:"expired"`
}

func toResponse(l *License) Response {
	ids := l.RulesetIDs
	if ids == nil {
		ids = []string{}
	}
	return Response{
		LicenseKey:  l.LicenseKey,
		Customers:   l.Customers,
		RulesetIDs:  ids,
		EventDriven: l.EventDriven,
		Expiration:  l.Expiration,
		Expired:     l.IsExpired(time.Now()),
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	svc := NewService(h.pool, h.logger)
	licenses, err := svc.List(r.Context())
	if err != nil {
		h.logger.Error("listing licenses", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list licenses")
		return
	}
	items := make([]Response, 0, len(licenses))
	for _, l := range licenses {
		items = append(items, toResponse(l))
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	svc := NewService(h.pool, h.logger)
	l, err := svc.Get(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		h.logger.Error("getting license", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to get license")
		return
	}
	if l == nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "license not found")
		return
	}
	httpserver.Respond(w, http.StatusOK, toResponse(l))
}
