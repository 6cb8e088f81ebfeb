// Package models defines the core data structures for MediChat.
//
// It includes the conversation and message types shared across modules,
// together with validation rules and the sentinel errors used at package
// boundaries.
package models

import (
	"errors"
	"time"
)

// MessageRole identifies the author of a conversation message.
type MessageRole string

const (
	// MessageRolePatient marks a message written by the patient.
	MessageRolePatient MessageRole = "patient"
	// MessageRoleAssistant marks a message written by the intake assistant.
	MessageRoleAssistant MessageRole = "assistant"
)

// ConversationStatus represents the lifecycle stage of an intake conversation.
type ConversationStatus string

const (
	// StatusInProgress indicates the automated intake dialogue is still running.
	StatusInProgress ConversationStatus = "in_progress"
	// StatusAwaitingClinician indicates intake is complete and clinician review is pending.
	StatusAwaitingClinician ConversationStatus = "awaiting_clinician"
	// StatusClinicianResponded indicates the clinician has written back.
	StatusClinicianResponded ConversationStatus = "clinician_responded"
)

// ArchiveParty identifies which side of a conversation toggles an archival flag.
type ArchiveParty string

const (
	// ArchivePartyPatient archives the conversation in the patient's view.
	ArchivePartyPatient ArchiveParty = "patient"
	// ArchivePartyClinician archives the conversation in the clinician's view.
	ArchivePartyClinician ArchiveParty = "clinician"
)

// Validation constants for input validation
const (
	// MaxMessageLength defines the maximum allowed length for a patient message
	MaxMessageLength = 4096
)

// Error variables for better error handling and testability
var (
	ErrEmptyPatientID          = errors.New("patient id cannot be empty")
	ErrEmptyMessage            = errors.New("message text cannot be empty")
	ErrMessageTooLong          = errors.New("message text exceeds maximum length")
	ErrInvalidRole             = errors.New("invalid message role")
	ErrInvalidArchiveParty     = errors.New("invalid archive party")
	ErrInvalidStatusTransition = errors.New("invalid conversation status transition")

	// ErrConversationNotFound is returned when a conversation id does not exist.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrConversationAccessDenied is returned when a conversation exists but
	// belongs to a different patient than the caller.
	ErrConversationAccessDenied = errors.New("conversation does not belong to patient")
	// ErrUpstreamService wraps reasoning-service failures (unavailable,
	// timeout, malformed response).
	ErrUpstreamService = errors.New("reasoning service error")
	// ErrPersistence wraps storage failures.
	ErrPersistence = errors.New("persistence error")
	// ErrDuplicateTurn is returned when an idempotency key was already used.
	ErrDuplicateTurn = errors.New("duplicate turn submission")
)

// IsValidRole checks if the given message role is supported.
func IsValidRole(r MessageRole) bool {
	switch r {
	case MessageRolePatient, MessageRoleAssistant:
		return true
	default:
		return false
	}
}

// IsValidStatus checks if the given conversation status is supported.
func IsValidStatus(s ConversationStatus) bool {
	switch s {
	case StatusInProgress, StatusAwaitingClinician, StatusClinicianResponded:
		return true
	default:
		return false
	}
}

// IsValidArchiveParty checks if the given archive party is supported.
func IsValidArchiveParty(p ArchiveParty) bool {
	switch p {
	case ArchivePartyPatient, ArchivePartyClinician:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether a conversation may move from s to next.
// Status only moves forward: in_progress -> awaiting_clinician -> clinician_responded.
func (s ConversationStatus) CanTransitionTo(next ConversationStatus) bool {
	switch s {
	case StatusInProgress:
		return next == StatusAwaitingClinician
	case StatusAwaitingClinician:
		return next == StatusClinicianResponded
	default:
		return false
	}
}

// Message represents one entry in a conversation's append-only message log.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	Role           MessageRole `json:"role"`
	Content        string      `json:"content"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Conversation represents one intake visit for a patient.
//
// VisitNumber is 1-based and sequential per patient; it is assigned at
// creation and never changes. Messages are append-only medical records:
// archiving a conversation is a per-party flag, never a destructive delete.
type Conversation struct {
	ID              string             `json:"id"`
	PatientID       string             `json:"patient_id"`
	ClinicianID     string             `json:"clinician_id,omitempty"`
	VisitNumber     int                `json:"visit_number"`
	Status          ConversationStatus `json:"status"`
	ClinicalSummary string             `json:"clinical_summary,omitempty"`
	CompletedAt     *time.Time         `json:"completed_at,omitempty"`

	// Clinician-authored fields, written only after clinician response.
	Diagnosis       string `json:"diagnosis,omitempty"`
	Recommendations string `json:"recommendations,omitempty"`
	Referral        string `json:"referral,omitempty"`
	ClinicianNotes  string `json:"clinician_notes,omitempty"`

	PatientArchived   bool `json:"patient_archived"`
	ClinicianArchived bool `json:"clinician_archived"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PatientTurnCount derives the number of patient turns from a message log.
// Counts are always recomputed from the authoritative log, never from a
// separately maintained counter that can drift under retries.
func PatientTurnCount(messages []Message) int {
	count := 0
	for _, m := range messages {
		if m.Role == MessageRolePatient {
			count++
		}
	}
	return count
}

// SubmitTurnRequest represents the payload for submitting one patient turn.
type SubmitTurnRequest struct {
	PatientID      string `json:"patient_id"`
	ConversationID string `json:"conversation_id,omitempty"`
	Text           string `json:"text"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// Validate performs validation on a SubmitTurnRequest.
func (r *SubmitTurnRequest) Validate() error {
	if r.PatientID == "" {
		return ErrEmptyPatientID
	}
	if r.Text == "" {
		return ErrEmptyMessage
	}
	if len(r.Text) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}

// TurnResult is the orchestrator's answer to one submitted patient turn.
type TurnResult struct {
	ConversationID string             `json:"conversation_id"`
	VisitNumber    int                `json:"visit_number"`
	Status         ConversationStatus `json:"status"`
	Reply          string             `json:"reply"`
}

// ClinicianResponseRequest represents the payload for a clinician's response.
type ClinicianResponseRequest struct {
	ClinicianID     string `json:"clinician_id"`
	Diagnosis       string `json:"diagnosis,omitempty"`
	Recommendations string `json:"recommendations,omitempty"`
	Referral        string `json:"referral,omitempty"`
	Notes           string `json:"notes,omitempty"`
}

// Validate performs validation on a ClinicianResponseRequest.
func (r *ClinicianResponseRequest) Validate() error {
	if r.ClinicianID == "" {
		return errors.New("clinician_id is required")
	}
	if r.Diagnosis == "" && r.Recommendations == "" && r.Referral == "" && r.Notes == "" {
		return errors.New("at least one of diagnosis, recommendations, referral or notes is required")
	}
	return nil
}

// ArchiveRequest represents the payload for toggling a per-party archival flag.
type ArchiveRequest struct {
	Party    ArchiveParty `json:"party"`
	Archived bool         `json:"archived"`
}

// Validate performs validation on an ArchiveRequest.
func (r *ArchiveRequest) Validate() error {
	if !IsValidArchiveParty(r.Party) {
		return ErrInvalidArchiveParty
	}
	return nil
}

// NotificationEventKind identifies the type of a state-change notification.
type NotificationEventKind string

const (
	// EventHandoffReady signals that an intake conversation is awaiting clinician review.
	EventHandoffReady NotificationEventKind = "handoff_ready"
	// EventClinicianResponded signals that the clinician has written back.
	EventClinicianResponded NotificationEventKind = "clinician_responded"
)

// NotificationEvent is a state-change event published to a user channel.
type NotificationEvent struct {
	Kind           NotificationEventKind `json:"kind"`
	ConversationID string                `json:"conversation_id"`
	PatientID      string                `json:"patient_id"`
	VisitNumber    int                   `json:"visit_number"`
	OccurredAt     time.Time             `json:"occurred_at"`
}
