// Package rest serves a worker's liveness and status over HTTP.
package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/nemanja-m/cxehelper/internal/shared/config"
	"github.com/nemanja-m/cxehelper/internal/shared/logging"
	"github.com/nemanja-m/cxehelper/internal/worker/core"
)

const idleTimeout = 60 * time.Second

type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type API struct {
	worker core.WorkerService
}

func NewAPI(worker core.WorkerService) *API {
	return &API{worker: worker}
}

func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", a.health)
	mux.HandleFunc("GET /api/status", a.status)
}

// health answers 200 only while the worker accepts tasks.
func (a *API) health(w http.ResponseWriter, r *http.Request) {
	if !a.worker.Ready() {
		respondJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "starting"})
		return
	}
	respondJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (a *API) status(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, a.worker.Status())
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message, Code: statusCode})
}

func NewServer(cfg config.WorkerHTTP, worker core.WorkerService, logger logging.Logger) *http.Server {
	mux := http.NewServeMux()
	NewAPI(worker).RegisterRoutes(mux)

	handler := Chain(
		mux,
		RequestID,
		Recovery(logger),
		Logging(logger),
	)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  idleTimeout,
	}
}
