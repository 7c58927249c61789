package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-grounding/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-grounding/pkg/services"
)

// maxQuestionBytes bounds the request body of POST /api/sql.
const maxQuestionBytes = 64 << 10

// GenerateSQLRequest is the body of POST /api/sql.
type GenerateSQLRequest struct {
	Question string `json:"question"`
	Limit    *int   `json:"limit,omitempty"`
}

// RefreshResponse is returned by POST /api/refresh.
type RefreshResponse struct {
	Status   string `json:"status"`
	Snapshot string `json:"snapshot"`
}

// SQLHandler exposes SQL generation over HTTP.
type SQLHandler struct {
	service services.TextToSQLService
	logger  *zap.Logger
}

// NewSQLHandler creates a new SQLHandler.
func NewSQLHandler(service services.TextToSQLService, logger *zap.Logger) *SQLHandler {
	return &SQLHandler{service: service, logger: logger}
}

// RegisterRoutes registers the SQL handler's routes on the given mux.
func (h *SQLHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sql", h.Generate)
	mux.HandleFunc("POST /api/refresh", h.Refresh)
}

// Generate handles POST /api/sql.
// The body is always a Result; refusals carry error_kind and no SQL.
func (h *SQLHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req GenerateSQLRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQuestionBytes)).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if req.Question == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_question", "question is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if req.Limit != nil && *req.Limit <= 0 {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	result := h.service.Generate(r.Context(), services.GenerateRequest{
		Question: req.Question,
		Limit:    req.Limit,
	})

	if err := WriteJSON(w, statusForKind(result.ErrorKind), result); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Refresh handles POST /api/refresh: reload catalog metadata and reground
// the current model.
func (h *SQLHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Refresh(r.Context()); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, apperrors.ErrNotReady) {
			status = http.StatusServiceUnavailable
		}
		h.logger.Error("Refresh failed", zap.Error(err))
		if err := ErrorResponse(w, status, apperrors.KindOf(err), err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	response := RefreshResponse{Status: "ok"}
	if snap := h.service.Snapshot(); snap != nil {
		response.Snapshot = snap.Version
	}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
