package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ekaya-inc/ekaya-grounding/pkg/apperrors"
)

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// statusForKind maps a result error kind onto an HTTP status. Planning
// refusals are well-formed answers about an unanswerable question.
func statusForKind(kind string) int {
	switch kind {
	case "":
		return http.StatusOK
	case apperrors.KindNotReady:
		return http.StatusServiceUnavailable
	case apperrors.KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}
