package store

import (
	"database/sql"
	"fmt"

	"github.com/anesxvito/MediChat-sub001/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// conversationScanner abstracts sql.Row and sql.Rows for scanning.
type conversationScanner interface {
	Scan(dest ...interface{}) error
}

func scanConversation(sc conversationScanner) (models.Conversation, error) {
	var c models.Conversation
	var clinicianID, summary, diagnosis, recommendations, referral, notes sql.NullString
	var completedAt sql.NullTime
	err := sc.Scan(
		&c.ID, &c.PatientID, &clinicianID, &c.VisitNumber, &c.Status, &summary, &completedAt,
		&diagnosis, &recommendations, &referral, &notes,
		&c.PatientArchived, &c.ClinicianArchived, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return c, err
	}
	c.ClinicianID = clinicianID.String
	c.ClinicalSummary = summary.String
	c.Diagnosis = diagnosis.String
	c.Recommendations = recommendations.String
	c.Referral = referral.String
	c.ClinicianNotes = notes.String
	if completedAt.Valid {
		c.CompletedAt = &completedAt.Time
	}
	return c, nil
}

// scanConversationRow scans a Conversation from a single sql.Row.
// Passes sql.ErrNoRows through unwrapped so callers can map it to not-found.
func scanConversationRow(row *sql.Row) (models.Conversation, error) {
	return scanConversation(row)
}

// scanConversationRows scans a Conversation from sql.Rows.
func scanConversationRows(rows *sql.Rows) (models.Conversation, error) {
	c, err := scanConversation(rows)
	if err != nil {
		return c, fmt.Errorf("scan conversation failed: %w", err)
	}
	return c, nil
}

// scanOutboxMessage scans an OutboxMessage from sql.Rows.
func scanOutboxMessage(rows *sql.Rows) (OutboxMessage, error) {
	var m OutboxMessage
	var payloadJSON, dedupeKey, lastError sql.NullString
	var nextAttemptAt, lockedAt sql.NullTime
	err := rows.Scan(
		&m.ID, &m.RecipientID, &m.Kind, &payloadJSON, &m.Status, &m.Attempts,
		&nextAttemptAt, &dedupeKey, &lockedAt, &lastError, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return m, fmt.Errorf("scan outbox message failed: %w", err)
	}
	m.PayloadJSON = payloadJSON.String
	m.DedupeKey = dedupeKey.String
	m.LastError = lastError.String
	if nextAttemptAt.Valid {
		m.NextAttemptAt = &nextAttemptAt.Time
	}
	if lockedAt.Valid {
		m.LockedAt = &lockedAt.Time
	}
	return m, nil
}
