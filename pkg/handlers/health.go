package handlers

import (
	"net/http"
	"os"
	"runtime"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-grounding/pkg/config"
	"github.com/ekaya-inc/ekaya-grounding/pkg/grounding"
)

// PingResponse contains service status and version information.
type PingResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Service     string `json:"service"`
	GoVersion   string `json:"go_version"`
	Hostname    string `json:"hostname"`
	Environment string `json:"environment"`
}

// HealthResponse reports whether a grounded model is being served.
type HealthResponse struct {
	Status   string `json:"status"`
	Model    string `json:"model,omitempty"`
	Snapshot string `json:"snapshot,omitempty"`
	Explores int    `json:"explores"`
}

// SnapshotProvider exposes the published grounding snapshot.
type SnapshotProvider interface {
	Snapshot() *grounding.Snapshot
}

// HealthHandler handles health check and ping endpoints.
type HealthHandler struct {
	cfg       *config.Config
	snapshots SnapshotProvider
	logger    *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. snapshots may be nil, in
// which case /health only reports liveness.
func NewHealthHandler(cfg *config.Config, snapshots SnapshotProvider, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, snapshots: snapshots, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ping", h.Ping)
}

// Health handles GET /health requests.
// Returns 503 until a semantic model has been grounded.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{Status: "ok"}
	status := http.StatusOK

	if h.snapshots != nil {
		snap := h.snapshots.Snapshot()
		if snap == nil {
			response.Status = "not_ready"
			status = http.StatusServiceUnavailable
		} else {
			response.Model = snap.Model.Name
			response.Snapshot = snap.Version
			response.Explores = len(snap.Indexes)
		}
	}

	if err := WriteJSON(w, status, response); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}

// Ping handles GET /ping requests.
// Returns detailed service information including version and environment.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		http.Error(w, "failed to get hostname", http.StatusInternalServerError)
		return
	}

	response := PingResponse{
		Status:      "ok",
		Version:     h.cfg.Version,
		Service:     "ekaya-grounding",
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}
