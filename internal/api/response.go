package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/anesxvito/MediChat-sub001/internal/models"
)

// fallbackErrorBody is served when marshaling a response fails mid-request.
// It is pre-marshaled at startup so the failure path cannot itself fail.
var fallbackErrorBody []byte

func init() {
	var err error
	fallbackErrorBody, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// statusForError maps the intake error taxonomy onto HTTP status codes.
// Unrecognized errors, including request validation failures, are treated as
// client mistakes rather than server faults.
func statusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrConversationNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrConversationAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, models.ErrUpstreamService):
		return http.StatusBadGateway
	case errors.Is(err, models.ErrInvalidStatusTransition):
		return http.StatusConflict
	case errors.Is(err, models.ErrPersistence):
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// writeError resolves the HTTP status for err and writes the error envelope.
func writeError(w http.ResponseWriter, err error) {
	writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
}

// writeJSONResponse marshals the envelope before touching the ResponseWriter,
// so an encoding failure can still downgrade to the fallback body and a 500
// instead of a half-written response.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorBody
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}
