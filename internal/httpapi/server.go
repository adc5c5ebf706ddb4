package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"

	"FeeSync/internal/domain"
	"FeeSync/internal/ports"
)

const apiKeyHeader = "X-API-Key"

// Runner triggers one sync run.
type Runner interface {
	Run(ctx context.Context) (domain.RunReport, error)
}

// Deps wires the handlers.
type Deps struct {
	Runner    Runner
	Ledger    ports.SyncLedger
	APIKey    string
	RateLimit int
	Logger    *slog.Logger
}

type handler struct {
	runner Runner
	ledger ports.SyncLedger
	logger *slog.Logger
}

type errorBody struct {
	Error string `json:"error"`
}

// NewRouter builds the admin API. Every route except /healthz requires the
// API key when one is configured; RateLimit is requests per minute per IP.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{runner: deps.Runner, ledger: deps.Ledger, logger: logger.With("component", "httpapi")}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	if deps.RateLimit > 0 {
		router.Use(httprate.LimitByIP(deps.RateLimit, time.Minute))
	}

	router.Get("/healthz", h.health)

	router.Group(func(r chi.Router) {
		r.Use(requireAPIKey(deps.APIKey))
		r.Post("/runs", h.triggerRun)
		r.Get("/outcomes/{encounterID}", h.outcomes)
	})

	return router
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) triggerRun(w http.ResponseWriter, r *http.Request) {
	// A disconnecting client must not interrupt a run that is placing orders.
	report, err := h.runner.Run(context.WithoutCancel(r.Context()))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, report)
	case errors.Is(err, domain.ErrRunInProgress):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case domain.IsRunFatal(err):
		h.logger.Error("triggered run aborted", "error", err)
		writeJSON(w, http.StatusBadGateway, errorBody{Error: err.Error()})
	default:
		h.logger.Error("triggered run failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
}

func (h *handler) outcomes(w http.ResponseWriter, r *http.Request) {
	encounterID := chi.URLParam(r, "encounterID")
	records, err := h.ledger.History(r.Context(), encounterID)
	if err != nil {
		h.logger.Error("load outcome history", "encounter_id", encounterID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "history unavailable"})
		return
	}
	if len(records) == 0 {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no outcome recorded for " + encounterID})
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func requireAPIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(apiKeyHeader)
			if got == "" {
				got = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid api key"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
