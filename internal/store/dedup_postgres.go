package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Compile-time check that PostgresStore implements TurnDedupRepo.
var _ TurnDedupRepo = (*PostgresStore)(nil)

func (s *PostgresStore) LookupTurnKey(key string) (string, bool, error) {
	var conversationID string
	err := s.db.QueryRow(`SELECT conversation_id FROM turn_dedup WHERE idempotency_key = $1`, key).Scan(&conversationID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("turn dedup lookup failed: %w", err)
	}
	return conversationID, true, nil
}

func (s *PostgresStore) RecordTurnKey(key, conversationID string) (bool, error) {
	now := time.Now()
	result, err := s.db.Exec(
		`INSERT INTO turn_dedup (idempotency_key, conversation_id, recorded_at) VALUES ($1, $2, $3)
		 ON CONFLICT (idempotency_key) DO NOTHING`,
		key, conversationID, now,
	)
	if err != nil {
		return false, fmt.Errorf("record turn key failed: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}
