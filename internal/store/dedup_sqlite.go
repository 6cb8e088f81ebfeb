package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Compile-time check that SQLiteStore implements TurnDedupRepo.
var _ TurnDedupRepo = (*SQLiteStore)(nil)

func (s *SQLiteStore) LookupTurnKey(key string) (string, bool, error) {
	var conversationID string
	err := s.db.QueryRow(`SELECT conversation_id FROM turn_dedup WHERE idempotency_key = ?`, key).Scan(&conversationID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("turn dedup lookup failed: %w", err)
	}
	return conversationID, true, nil
}

func (s *SQLiteStore) RecordTurnKey(key, conversationID string) (bool, error) {
	// First writer wins: the primary key constraint decides, RowsAffected
	// reports whether this call was the writer.
	result, err := s.db.Exec(
		`INSERT OR IGNORE INTO turn_dedup (idempotency_key, conversation_id, recorded_at) VALUES (?, ?, ?)`,
		key, conversationID, time.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("record turn key failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record turn key rows affected failed: %w", err)
	}
	return n > 0, nil
}
