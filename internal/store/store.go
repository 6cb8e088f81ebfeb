// Package store provides storage backends for MediChat.
//
// The conversation store is an append-only ordered log of messages per
// conversation, with conversations keyed by id and grouped by patient and
// per-patient visit number. SQLite and PostgreSQL backends are provided,
// plus an in-memory store for tests and DSN-less runs.
package store

import (
	"strings"
	"time"

	"github.com/anesxvito/MediChat-sub001/internal/models"
)

// IntakeCompletion carries the status-transition payload applied atomically
// with the final assistant message of a completed intake.
type IntakeCompletion struct {
	Summary     string
	CompletedAt time.Time
}

// Store defines the conversation/message persistence interface.
//
// Message insertion is append-only and read-back is ordered; deleting a
// conversation is a per-party archival flag, never a destructive delete.
type Store interface {
	// CreateConversation creates a new conversation for a patient, assigning
	// the next sequential visit number (count of the patient's existing
	// conversations + 1) and initial status in_progress.
	CreateConversation(patientID string) (*models.Conversation, error)

	// GetConversation retrieves a conversation by id. Returns nil if not found.
	GetConversation(id string) (*models.Conversation, error)

	// GetConversationByVisit retrieves a patient's conversation by visit number.
	// Returns nil if not found.
	GetConversationByVisit(patientID string, visitNumber int) (*models.Conversation, error)

	// ListConversationsForPatient returns all conversations for a patient,
	// ordered by visit number.
	ListConversationsForPatient(patientID string) ([]models.Conversation, error)

	// AddMessage appends a message to a conversation's log.
	AddMessage(msg models.Message) error

	// GetMessages returns a conversation's messages in insertion order.
	GetMessages(conversationID string) ([]models.Message, error)

	// FinishTurn appends the assistant message and, when completion is
	// non-nil, applies the in_progress -> awaiting_clinician transition in
	// the same transaction. The transition fails if the conversation has
	// already left in_progress.
	FinishTurn(conversationID string, assistant models.Message, completion *IntakeCompletion) error

	// SaveClinicianResponse writes the clinician-authored fields and applies
	// the awaiting_clinician -> clinician_responded transition.
	SaveClinicianResponse(conversationID string, resp models.ClinicianResponseRequest, respondedAt time.Time) error

	// SetArchived toggles the per-party archival flag.
	SetArchived(conversationID string, party models.ArchiveParty, archived bool) error

	// Close releases any underlying resources.
	Close() error
}

// TurnDedupRepo defines the interface for idempotent turn submission.
type TurnDedupRepo interface {
	// LookupTurnKey returns the conversation id recorded for an idempotency
	// key, or found=false if the key has not been seen.
	LookupTurnKey(key string) (conversationID string, found bool, err error)

	// RecordTurnKey records an idempotency key for a conversation. Returns
	// false if the key was already recorded.
	RecordTurnKey(key, conversationID string) (bool, error)
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN configures the store to use SQLite with the given file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN configures the store to use PostgreSQL with the given DSN.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType determines the database type from a DSN string.
// Returns "postgres" for PostgreSQL connection strings, "sqlite" otherwise.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}
