package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"CatalogHarvester/internal/domain"
)

// SecretHeader carries the shared secret that guards run triggers.
const SecretHeader = "X-Internal-Secret"

// Runner runs one configured harvest source by name and reports its
// latest journaled run.
type Runner interface {
	RunSource(ctx context.Context, name string) (domain.RunReport, error)
	LastRun(ctx context.Context, name string) (domain.RunReport, error)
}

// NewRouter exposes the trigger, run history, health and metrics endpoints.
// An empty secret leaves the source endpoints unauthenticated.
func NewRouter(runner Runner, secret string, logger *slog.Logger) *mux.Router {
	h := &handler{runner: runner, secret: secret, logger: logger}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/sources/{name}/runs", h.triggerRun).Methods(http.MethodPost)
	r.HandleFunc("/sources/{name}/runs/latest", h.lastRun).Methods(http.MethodGet)
	return r
}

type handler struct {
	runner Runner
	secret string
	logger *slog.Logger
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) triggerRun(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}

	name := mux.Vars(r)["name"]
	report, err := h.runner.RunSource(r.Context(), name)
	if err != nil {
		h.writeError(w, name, "run failed", err)
		return
	}

	h.info("run triggered over http", "source", name, "job", report.JobID, "status", report.Status)
	writeJSON(w, http.StatusOK, report)
}

func (h *handler) lastRun(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}

	name := mux.Vars(r)["name"]
	report, err := h.runner.LastRun(r.Context(), name)
	if err != nil {
		h.writeError(w, name, "run history unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *handler) authorized(w http.ResponseWriter, r *http.Request) bool {
	if h.secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(SecretHeader)), []byte(h.secret)) != 1 {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid secret"})
		return false
	}
	return true
}

func (h *handler) writeError(w http.ResponseWriter, name, internal string, err error) {
	var (
		cfgErr  *domain.ConfigError
		cfgErrs domain.ConfigErrors
	)
	switch {
	case domain.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.As(err, &cfgErr), errors.As(err, &cfgErrs):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	default:
		h.warn(internal, "source", name, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": internal})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *handler) info(msg string, args ...any) {
	if h.logger != nil {
		h.logger.Info(msg, args...)
	}
}

func (h *handler) warn(msg string, args ...any) {
	if h.logger != nil {
		h.logger.Warn(msg, args...)
	}
}
