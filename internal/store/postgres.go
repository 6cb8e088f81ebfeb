// Package store provides storage backends for MediChat.
//
// This file implements the PostgreSQL-backed conversation store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/anesxvito/MediChat-sub001/internal/models"
	"github.com/anesxvito/MediChat-sub001/internal/util"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	slog.Debug("Opening Postgres database connection")
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	slog.Debug("Postgres database opened")

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	slog.Debug("Postgres ping successful")

	// Run migrations to ensure tables exist
	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// CreateConversation creates a new conversation for a patient. The visit
// number is derived inside a transaction; the (patient_id, visit_number)
// unique constraint backstops concurrent creation.
func (s *PostgresStore) CreateConversation(patientID string) (*models.Conversation, error) {
	tx, err := s.db.Begin()
	if err != nil {
		slog.Error("PostgresStore.CreateConversation begin failed", "error", err, "patientID", patientID)
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM conversations WHERE patient_id = $1`, patientID).Scan(&count); err != nil {
		slog.Error("PostgresStore.CreateConversation count failed", "error", err, "patientID", patientID)
		return nil, fmt.Errorf("failed to count conversations for %s: %w", patientID, err)
	}

	now := time.Now()
	conv := models.Conversation{
		ID:          util.GenerateConversationID(),
		PatientID:   patientID,
		VisitNumber: count + 1,
		Status:      models.StatusInProgress,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err = tx.Exec(
		`INSERT INTO conversations (id, patient_id, visit_number, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		conv.ID, conv.PatientID, conv.VisitNumber, conv.Status, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore.CreateConversation insert failed", "error", err, "patientID", patientID)
		return nil, fmt.Errorf("failed to insert conversation for %s: %w", patientID, err)
	}

	if err := tx.Commit(); err != nil {
		slog.Error("PostgresStore.CreateConversation commit failed", "error", err, "patientID", patientID)
		return nil, fmt.Errorf("failed to commit conversation: %w", err)
	}
	slog.Debug("PostgresStore.CreateConversation succeeded", "conversationID", conv.ID, "patientID", patientID, "visitNumber", conv.VisitNumber)
	return &conv, nil
}

// GetConversation retrieves a conversation by id. Returns nil if not found.
func (s *PostgresStore) GetConversation(id string) (*models.Conversation, error) {
	row := s.db.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	conv, err := scanConversationRow(row)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore.GetConversation not found", "conversationID", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore.GetConversation failed", "error", err, "conversationID", id)
		return nil, fmt.Errorf("failed to get conversation %s: %w", id, err)
	}
	return &conv, nil
}

// GetConversationByVisit retrieves a patient's conversation by visit number.
// Returns nil if not found.
func (s *PostgresStore) GetConversationByVisit(patientID string, visitNumber int) (*models.Conversation, error) {
	row := s.db.QueryRow(
		`SELECT `+conversationColumns+` FROM conversations WHERE patient_id = $1 AND visit_number = $2`,
		patientID, visitNumber,
	)
	conv, err := scanConversationRow(row)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore.GetConversationByVisit not found", "patientID", patientID, "visitNumber", visitNumber)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore.GetConversationByVisit failed", "error", err, "patientID", patientID, "visitNumber", visitNumber)
		return nil, fmt.Errorf("failed to get visit %d for %s: %w", visitNumber, patientID, err)
	}
	return &conv, nil
}

// ListConversationsForPatient returns all conversations for a patient, ordered
// by visit number.
func (s *PostgresStore) ListConversationsForPatient(patientID string) ([]models.Conversation, error) {
	rows, err := s.db.Query(
		`SELECT `+conversationColumns+` FROM conversations WHERE patient_id = $1 ORDER BY visit_number ASC`,
		patientID,
	)
	if err != nil {
		slog.Error("PostgresStore.ListConversationsForPatient query failed", "error", err, "patientID", patientID)
		return nil, fmt.Errorf("failed to query conversations for %s: %w", patientID, err)
	}
	defer rows.Close()

	var convs []models.Conversation
	for rows.Next() {
		conv, err := scanConversationRows(rows)
		if err != nil {
			slog.Error("PostgresStore.ListConversationsForPatient scan failed", "error", err, "patientID", patientID)
			return nil, err
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore.ListConversationsForPatient rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate conversation rows: %w", err)
	}
	slog.Debug("PostgresStore.ListConversationsForPatient succeeded", "patientID", patientID, "count", len(convs))
	return convs, nil
}

// AddMessage appends a message to a conversation's log.
func (s *PostgresStore) AddMessage(msg models.Message) error {
	_, err := s.db.Exec(
		`INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES ($1, $2, $3, $4, $5)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.CreatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore.AddMessage failed", "error", err, "conversationID", msg.ConversationID, "role", msg.Role)
		return fmt.Errorf("failed to insert message for %s: %w", msg.ConversationID, err)
	}
	slog.Debug("PostgresStore.AddMessage succeeded", "conversationID", msg.ConversationID, "role", msg.Role)
	return nil
}

// GetMessages returns a conversation's messages in insertion order.
func (s *PostgresStore) GetMessages(conversationID string) ([]models.Message, error) {
	rows, err := s.db.Query(
		`SELECT id, conversation_id, role, content, created_at FROM messages WHERE conversation_id = $1 ORDER BY seq ASC`,
		conversationID,
	)
	if err != nil {
		slog.Error("PostgresStore.GetMessages query failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query messages for %s: %w", conversationID, err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			slog.Error("PostgresStore.GetMessages scan failed", "error", err, "conversationID", conversationID)
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore.GetMessages rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	slog.Debug("PostgresStore.GetMessages succeeded", "conversationID", conversationID, "count", len(msgs))
	return msgs, nil
}

// FinishTurn appends the assistant message and, when completion is non-nil,
// applies the in_progress -> awaiting_clinician transition atomically.
func (s *PostgresStore) FinishTurn(conversationID string, assistant models.Message, completion *IntakeCompletion) error {
	tx, err := s.db.Begin()
	if err != nil {
		slog.Error("PostgresStore.FinishTurn begin failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES ($1, $2, $3, $4, $5)`,
		assistant.ID, assistant.ConversationID, assistant.Role, assistant.Content, assistant.CreatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore.FinishTurn message insert failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to insert assistant message for %s: %w", conversationID, err)
	}

	if completion != nil {
		result, err := tx.Exec(
			`UPDATE conversations SET status = $1, clinical_summary = $2, completed_at = $3, updated_at = $4
			 WHERE id = $5 AND status = $6`,
			models.StatusAwaitingClinician, completion.Summary, completion.CompletedAt, time.Now(),
			conversationID, models.StatusInProgress,
		)
		if err != nil {
			slog.Error("PostgresStore.FinishTurn transition failed", "error", err, "conversationID", conversationID)
			return fmt.Errorf("failed to transition conversation %s: %w", conversationID, err)
		}
		n, _ := result.RowsAffected()
		if n == 0 {
			slog.Error("PostgresStore.FinishTurn transition rejected", "conversationID", conversationID)
			return fmt.Errorf("conversation %s: %w", conversationID, models.ErrInvalidStatusTransition)
		}
	} else {
		_, err = tx.Exec(`UPDATE conversations SET updated_at = $1 WHERE id = $2`, time.Now(), conversationID)
		if err != nil {
			return fmt.Errorf("failed to touch conversation %s: %w", conversationID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		slog.Error("PostgresStore.FinishTurn commit failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to commit turn: %w", err)
	}
	slog.Debug("PostgresStore.FinishTurn succeeded", "conversationID", conversationID, "completed", completion != nil)
	return nil
}

// SaveClinicianResponse writes the clinician fields and applies the
// awaiting_clinician -> clinician_responded transition.
func (s *PostgresStore) SaveClinicianResponse(conversationID string, resp models.ClinicianResponseRequest, respondedAt time.Time) error {
	result, err := s.db.Exec(
		`UPDATE conversations SET status = $1, clinician_id = $2, diagnosis = $3, recommendations = $4, referral = $5, clinician_notes = $6, updated_at = $7
		 WHERE id = $8 AND status = $9`,
		models.StatusClinicianResponded, resp.ClinicianID, resp.Diagnosis, resp.Recommendations, resp.Referral, resp.Notes, respondedAt,
		conversationID, models.StatusAwaitingClinician,
	)
	if err != nil {
		slog.Error("PostgresStore.SaveClinicianResponse failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to save clinician response for %s: %w", conversationID, err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		slog.Error("PostgresStore.SaveClinicianResponse transition rejected", "conversationID", conversationID)
		return fmt.Errorf("conversation %s: %w", conversationID, models.ErrInvalidStatusTransition)
	}
	slog.Debug("PostgresStore.SaveClinicianResponse succeeded", "conversationID", conversationID, "clinicianID", resp.ClinicianID)
	return nil
}

// SetArchived toggles the per-party archival flag.
func (s *PostgresStore) SetArchived(conversationID string, party models.ArchiveParty, archived bool) error {
	column := "patient_archived"
	if party == models.ArchivePartyClinician {
		column = "clinician_archived"
	}
	result, err := s.db.Exec(
		`UPDATE conversations SET `+column+` = $1, updated_at = $2 WHERE id = $3`,
		archived, time.Now(), conversationID,
	)
	if err != nil {
		slog.Error("PostgresStore.SetArchived failed", "error", err, "conversationID", conversationID, "party", party)
		return fmt.Errorf("failed to set archived for %s: %w", conversationID, err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("conversation %s: %w", conversationID, models.ErrConversationNotFound)
	}
	slog.Debug("PostgresStore.SetArchived succeeded", "conversationID", conversationID, "party", party, "archived", archived)
	return nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	} else {
		slog.Debug("Postgres database connection closed successfully")
	}
	return err
}
