// Package api provides HTTP handlers for MediChat endpoints.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/anesxvito/MediChat-sub001/internal/models"
)

func (s *Server) submitTurnHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.submitTurnHandler: processing turn submission", "method", r.Method, "path", r.URL.Path)

	var req models.SubmitTurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.submitTurnHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	result, err := s.orchestrator.SubmitTurn(r.Context(), req)
	if err != nil {
		status := statusForError(err)
		if status >= http.StatusInternalServerError {
			slog.Error("Server.submitTurnHandler: turn failed", "error", err, "patientID", req.PatientID)
		} else {
			slog.Warn("Server.submitTurnHandler: turn rejected", "error", err, "patientID", req.PatientID)
		}
		writeJSONResponse(w, status, models.Error(err.Error()))
		return
	}

	slog.Info("Server.submitTurnHandler: turn processed", "conversationID", result.ConversationID, "status", result.Status)
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

func (s *Server) getMessagesHandler(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")
	slog.Debug("Server.getMessagesHandler: fetching history", "conversationID", conversationID)

	conv, messages, err := s.orchestrator.GetHistory(conversationID)
	if err != nil {
		slog.Warn("Server.getMessagesHandler: fetch failed", "error", err, "conversationID", conversationID)
		writeError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"conversation": conv,
		"messages":     messages,
	}))
}

func (s *Server) listConversationsHandler(w http.ResponseWriter, r *http.Request) {
	patientID := r.PathValue("id")
	slog.Debug("Server.listConversationsHandler: listing conversations", "patientID", patientID)

	convs, err := s.orchestrator.ListConversations(patientID)
	if err != nil {
		slog.Warn("Server.listConversationsHandler: list failed", "error", err, "patientID", patientID)
		writeError(w, err)
		return
	}
	if convs == nil {
		convs = []models.Conversation{}
	}

	writeJSONResponse(w, http.StatusOK, models.Success(convs))
}

func (s *Server) clinicianResponseHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	conversationID := r.PathValue("id")
	slog.Debug("Server.clinicianResponseHandler: processing clinician response", "conversationID", conversationID)

	var req models.ClinicianResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.clinicianResponseHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	conv, err := s.orchestrator.ClinicianRespond(r.Context(), conversationID, req)
	if err != nil {
		slog.Warn("Server.clinicianResponseHandler: response rejected", "error", err, "conversationID", conversationID)
		writeError(w, err)
		return
	}

	slog.Info("Server.clinicianResponseHandler: clinician response saved", "conversationID", conversationID, "clinicianID", req.ClinicianID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Clinician response saved", conv))
}

func (s *Server) archiveHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	conversationID := r.PathValue("id")
	slog.Debug("Server.archiveHandler: processing archive request", "conversationID", conversationID)

	var req models.ArchiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.archiveHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	if err := s.orchestrator.Archive(conversationID, req); err != nil {
		slog.Warn("Server.archiveHandler: archive rejected", "error", err, "conversationID", conversationID)
		writeError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Archive flag updated", nil))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("ok", nil))
}
