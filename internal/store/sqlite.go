// Package store provides storage backends for MediChat.
//
// This file implements the SQLite-backed conversation store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/anesxvito/MediChat-sub001/internal/models"
	"github.com/anesxvito/MediChat-sub001/internal/util"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	slog.Debug("SQLite database directory verified/created", "dir", dir)

	slog.Debug("Opening SQLite database connection")
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	slog.Debug("SQLite database opened")

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}
	slog.Debug("SQLite ping successful")

	// Run migrations to ensure tables exist
	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// CreateConversation creates a new conversation for a patient. The visit
// number is derived from the patient's existing conversation count inside a
// transaction; the (patient_id, visit_number) unique constraint backstops
// concurrent creation.
func (s *SQLiteStore) CreateConversation(patientID string) (*models.Conversation, error) {
	tx, err := s.db.Begin()
	if err != nil {
		slog.Error("SQLiteStore.CreateConversation begin failed", "error", err, "patientID", patientID)
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM conversations WHERE patient_id = ?`, patientID).Scan(&count); err != nil {
		slog.Error("SQLiteStore.CreateConversation count failed", "error", err, "patientID", patientID)
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
		 VALUES (?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.PatientID, conv.VisitNumber, conv.Status, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore.CreateConversation insert failed", "error", err, "patientID", patientID)
		return nil, fmt.Errorf("failed to insert conversation for %s: %w", patientID, err)
	}

	if err := tx.Commit(); err != nil {
		slog.Error("SQLiteStore.CreateConversation commit failed", "error", err, "patientID", patientID)
		return nil, fmt.Errorf("failed to commit conversation: %w", err)
	}
	slog.Debug("SQLiteStore.CreateConversation succeeded", "conversationID", conv.ID, "patientID", patientID, "visitNumber", conv.VisitNumber)
	return &conv, nil
}

const conversationColumns = `id, patient_id, clinician_id, visit_number, status, clinical_summary, completed_at,
	diagnosis, recommendations, referral, clinician_notes, patient_archived, clinician_archived, created_at, updated_at`

// GetConversation retrieves a conversation by id. Returns nil if not found.
func (s *SQLiteStore) GetConversation(id string) (*models.Conversation, error) {
	row := s.db.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	conv, err := scanConversationRow(row)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore.GetConversation not found", "conversationID", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore.GetConversation failed", "error", err, "conversationID", id)
		return nil, fmt.Errorf("failed to get conversation %s: %w", id, err)
	}
	slog.Debug("SQLiteStore.GetConversation found", "conversationID", id, "status", conv.Status)
	return &conv, nil
}

// GetConversationByVisit retrieves a patient's conversation by visit number.
// Returns nil if not found.
func (s *SQLiteStore) GetConversationByVisit(patientID string, visitNumber int) (*models.Conversation, error) {
	row := s.db.QueryRow(
		`SELECT `+conversationColumns+` FROM conversations WHERE patient_id = ? AND visit_number = ?`,
		patientID, visitNumber,
	)
	conv, err := scanConversationRow(row)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore.GetConversationByVisit not found", "patientID", patientID, "visitNumber", visitNumber)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore.GetConversationByVisit failed", "error", err, "patientID", patientID, "visitNumber", visitNumber)
		return nil, fmt.Errorf("failed to get visit %d for %s: %w", visitNumber, patientID, err)
	}
	return &conv, nil
}

// ListConversationsForPatient returns all conversations for a patient, ordered
// by visit number.
func (s *SQLiteStore) ListConversationsForPatient(patientID string) ([]models.Conversation, error) {
	rows, err := s.db.Query(
		`SELECT `+conversationColumns+` FROM conversations WHERE patient_id = ? ORDER BY visit_number ASC`,
		patientID,
	)
	if err != nil {
		slog.Error("SQLiteStore.ListConversationsForPatient query failed", "error", err, "patientID", patientID)
		return nil, fmt.Errorf("failed to query conversations for %s: %w", patientID, err)
	}
	defer rows.Close()

	var convs []models.Conversation
	for rows.Next() {
		conv, err := scanConversationRows(rows)
		if err != nil {
			slog.Error("SQLiteStore.ListConversationsForPatient scan failed", "error", err, "patientID", patientID)
			return nil, err
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore.ListConversationsForPatient rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate conversation rows: %w", err)
	}
	slog.Debug("SQLiteStore.ListConversationsForPatient succeeded", "patientID", patientID, "count", len(convs))
	return convs, nil
}

// AddMessage appends a message to a conversation's log.
func (s *SQLiteStore) AddMessage(msg models.Message) error {
	_, err := s.db.Exec(
		`INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.CreatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore.AddMessage failed", "error", err, "conversationID", msg.ConversationID, "role", msg.Role)
		return fmt.Errorf("failed to insert message for %s: %w", msg.ConversationID, err)
	}
	slog.Debug("SQLiteStore.AddMessage succeeded", "conversationID", msg.ConversationID, "role", msg.Role)
	return nil
}

// GetMessages returns a conversation's messages in insertion order.
func (s *SQLiteStore) GetMessages(conversationID string) ([]models.Message, error) {
	rows, err := s.db.Query(
		`SELECT id, conversation_id, role, content, created_at FROM messages WHERE conversation_id = ? ORDER BY seq ASC`,
		conversationID,
	)
	if err != nil {
		slog.Error("SQLiteStore.GetMessages query failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query messages for %s: %w", conversationID, err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			slog.Error("SQLiteStore.GetMessages scan failed", "error", err, "conversationID", conversationID)
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore.GetMessages rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	slog.Debug("SQLiteStore.GetMessages succeeded", "conversationID", conversationID, "count", len(msgs))
	return msgs, nil
}

// FinishTurn appends the assistant message and, when completion is non-nil,
// applies the in_progress -> awaiting_clinician transition atomically.
func (s *SQLiteStore) FinishTurn(conversationID string, assistant models.Message, completion *IntakeCompletion) error {
	tx, err := s.db.Begin()
	if err != nil {
		slog.Error("SQLiteStore.FinishTurn begin failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		assistant.ID, assistant.ConversationID, assistant.Role, assistant.Content, assistant.CreatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore.FinishTurn message insert failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to insert assistant message for %s: %w", conversationID, err)
	}

	if completion != nil {
		result, err := tx.Exec(
			`UPDATE conversations SET status = ?, clinical_summary = ?, completed_at = ?, updated_at = ?
			 WHERE id = ? AND status = ?`,
			models.StatusAwaitingClinician, completion.Summary, completion.CompletedAt, time.Now(),
			conversationID, models.StatusInProgress,
		)
		if err != nil {
			slog.Error("SQLiteStore.FinishTurn transition failed", "error", err, "conversationID", conversationID)
			return fmt.Errorf("failed to transition conversation %s: %w", conversationID, err)
		}
		n, _ := result.RowsAffected()
		if n == 0 {
			slog.Error("SQLiteStore.FinishTurn transition rejected", "conversationID", conversationID)
			return fmt.Errorf("conversation %s: %w", conversationID, models.ErrInvalidStatusTransition)
		}
	} else {
		_, err = tx.Exec(`UPDATE conversations SET updated_at = ? WHERE id = ?`, time.Now(), conversationID)
		if err != nil {
			return fmt.Errorf("failed to touch conversation %s: %w", conversationID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		slog.Error("SQLiteStore.FinishTurn commit failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to commit turn: %w", err)
	}
	slog.Debug("SQLiteStore.FinishTurn succeeded", "conversationID", conversationID, "completed", completion != nil)
	return nil
}

// SaveClinicianResponse writes the clinician fields and applies the
// awaiting_clinician -> clinician_responded transition.
func (s *SQLiteStore) SaveClinicianResponse(conversationID string, resp models.ClinicianResponseRequest, respondedAt time.Time) error {
	result, err := s.db.Exec(
		`UPDATE conversations SET status = ?, clinician_id = ?, diagnosis = ?, recommendations = ?, referral = ?, clinician_notes = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		models.StatusClinicianResponded, resp.ClinicianID, resp.Diagnosis, resp.Recommendations, resp.Referral, resp.Notes, respondedAt,
		conversationID, models.StatusAwaitingClinician,
	)
	if err != nil {
		slog.Error("SQLiteStore.SaveClinicianResponse failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to save clinician response for %s: %w", conversationID, err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		slog.Error("SQLiteStore.SaveClinicianResponse transition rejected", "conversationID", conversationID)
		return fmt.Errorf("conversation %s: %w", conversationID, models.ErrInvalidStatusTransition)
	}
	slog.Debug("SQLiteStore.SaveClinicianResponse succeeded", "conversationID", conversationID, "clinicianID", resp.ClinicianID)
	return nil
}

// SetArchived toggles the per-party archival flag.
func (s *SQLiteStore) SetArchived(conversationID string, party models.ArchiveParty, archived bool) error {
	column := "patient_archived"
	if party == models.ArchivePartyClinician {
		column = "clinician_archived"
	}
	result, err := s.db.Exec(
		`UPDATE conversations SET `+column+` = ?, updated_at = ? WHERE id = ?`,
		archived, time.Now(), conversationID,
	)
	if err != nil {
		slog.Error("SQLiteStore.SetArchived failed", "error", err, "conversationID", conversationID, "party", party)
		return fmt.Errorf("failed to set archived for %s: %w", conversationID, err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("conversation %s: %w", conversationID, models.ErrConversationNotFound)
	}
	slog.Debug("SQLiteStore.SetArchived succeeded", "conversationID", conversationID, "party", party, "archived", archived)
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	} else {
		slog.Debug("SQLite database connection closed successfully")
	}
	return err
}
