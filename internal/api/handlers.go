package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/kpiwatch/kpiwatch-engine/internal/cache"
	"github.com/kpiwatch/kpiwatch-engine/internal/models"
	"github.com/kpiwatch/kpiwatch-engine/internal/services"
)

// DetectionService is the surface the handlers need from the service facade.
type DetectionService interface {
	RunDetection(ctx context.Context, opts services.RunOptions) (*services.RunOutcome, error)
	LatestRun(ctx context.Context) (*models.RunResult, error)
	LatestReport(ctx context.Context) ([]byte, error)
}

// Handler serves the detection API.
type Handler struct {
	logger  *slog.Logger
	service DetectionService
}

// NewHandler builds the handler set around a detection service.
func NewHandler(logger *slog.Logger, service DetectionService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// Routes registers every endpoint on a fresh router.
func (h *Handler) Routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/runs", h.triggerRun).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/runs/latest", h.latestRun).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/runs/latest/report", h.latestReport).Methods(http.MethodGet)
	return r
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) triggerRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	opts, err := ToRunOptions(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "evalDate must be YYYY-MM-DD")
		return
	}

	outcome, err := h.service.RunDetection(r.Context(), opts)
	if err != nil {
		h.logger.Error("detection run failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "detection run failed")
		return
	}
	writeJSON(w, http.StatusOK, ToRunDTO(outcome.Result, outcome.Evaluations))
}

func (h *Handler) latestRun(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.LatestRun(r.Context())
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			writeError(w, http.StatusNotFound, "no run available yet")
			return
		}
		h.logger.Error("latest run lookup failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "latest run lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, ToRunDTO(result, nil))
}

func (h *Handler) latestReport(w http.ResponseWriter, r *http.Request) {
	html, err := h.service.LatestReport(r.Context())
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			writeError(w, http.StatusNotFound, "no report available yet")
			return
		}
		h.logger.Error("latest report lookup failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "latest report lookup failed")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(html)
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
