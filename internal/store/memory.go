package store

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/anesxvito/MediChat-sub001/internal/models"
	"github.com/anesxvito/MediChat-sub001/internal/util"
)

// InMemoryStore keeps conversations, messages, dedup keys and the notification
// outbox in process memory. Used for tests and DSN-less runs; data does not
// survive a restart.
type InMemoryStore struct {
	mu            sync.Mutex
	conversations map[string]*models.Conversation
	messages      map[string][]models.Message
	turnKeys      map[string]string
	outbox        []*OutboxMessage
}

// Compile-time checks for the interfaces InMemoryStore implements.
var (
	_ Store         = (*InMemoryStore)(nil)
	_ TurnDedupRepo = (*InMemoryStore)(nil)
	_ OutboxRepo    = (*InMemoryStore)(nil)
)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string][]models.Message),
		turnKeys:      make(map[string]string),
	}
}

func (s *InMemoryStore) CreateConversation(patientID string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, c := range s.conversations {
		if c.PatientID == patientID {
			count++
		}
	}

	now := time.Now()
	conv := &models.Conversation{
		ID:          util.GenerateConversationID(),
		PatientID:   patientID,
		VisitNumber: count + 1,
		Status:      models.StatusInProgress,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.conversations[conv.ID] = conv
	slog.Debug("InMemoryStore.CreateConversation succeeded", "conversationID", conv.ID, "patientID", patientID, "visitNumber", conv.VisitNumber)

	copy := *conv
	return &copy, nil
}

func (s *InMemoryStore) GetConversation(id string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, nil
	}
	copy := *conv
	return &copy, nil
}

func (s *InMemoryStore) GetConversationByVisit(patientID string, visitNumber int) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conversations {
		if c.PatientID == patientID && c.VisitNumber == visitNumber {
			copy := *c
			return &copy, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) ListConversationsForPatient(patientID string) ([]models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var convs []models.Conversation
	for _, c := range s.conversations {
		if c.PatientID == patientID {
			convs = append(convs, *c)
		}
	}
	// Order by visit number to match the SQL backends.
	for i := 1; i < len(convs); i++ {
		for j := i; j > 0 && convs[j-1].VisitNumber > convs[j].VisitNumber; j-- {
			convs[j-1], convs[j] = convs[j], convs[j-1]
		}
	}
	return convs, nil
}

func (s *InMemoryStore) AddMessage(msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[msg.ConversationID]; !ok {
		return fmt.Errorf("conversation %s: %w", msg.ConversationID, models.ErrConversationNotFound)
	}
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	return nil
}

func (s *InMemoryStore) GetMessages(conversationID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *InMemoryStore) FinishTurn(conversationID string, assistant models.Message, completion *IntakeCompletion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return fmt.Errorf("conversation %s: %w", conversationID, models.ErrConversationNotFound)
	}
	if completion != nil && conv.Status != models.StatusInProgress {
		return fmt.Errorf("conversation %s: %w", conversationID, models.ErrInvalidStatusTransition)
	}

	s.messages[conversationID] = append(s.messages[conversationID], assistant)
	if completion != nil {
		conv.Status = models.StatusAwaitingClinician
		conv.ClinicalSummary = completion.Summary
		completedAt := completion.CompletedAt
		conv.CompletedAt = &completedAt
	}
	conv.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) SaveClinicianResponse(conversationID string, resp models.ClinicianResponseRequest, respondedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return fmt.Errorf("conversation %s: %w", conversationID, models.ErrConversationNotFound)
	}
	if conv.Status != models.StatusAwaitingClinician {
		return fmt.Errorf("conversation %s: %w", conversationID, models.ErrInvalidStatusTransition)
	}

	conv.Status = models.StatusClinicianResponded
	conv.ClinicianID = resp.ClinicianID
	conv.Diagnosis = resp.Diagnosis
	conv.Recommendations = resp.Recommendations
	conv.Referral = resp.Referral
	conv.ClinicianNotes = resp.Notes
	conv.UpdatedAt = respondedAt
	return nil
}

func (s *InMemoryStore) SetArchived(conversationID string, party models.ArchiveParty, archived bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return fmt.Errorf("conversation %s: %w", conversationID, models.ErrConversationNotFound)
	}
	if party == models.ArchivePartyClinician {
		conv.ClinicianArchived = archived
	} else {
		conv.PatientArchived = archived
	}
	conv.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) Close() error {
	return nil
}

func (s *InMemoryStore) LookupTurnKey(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conversationID, found := s.turnKeys[key]
	return conversationID, found, nil
}

func (s *InMemoryStore) RecordTurnKey(key, conversationID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, found := s.turnKeys[key]; found {
		return false, nil
	}
	s.turnKeys[key] = conversationID
	return true, nil
}

func (s *InMemoryStore) EnqueueOutboxMessage(recipientID, kind, payloadJSON, dedupeKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dedupeKey != "" {
		for _, m := range s.outbox {
			if m.DedupeKey == dedupeKey && m.Status != OutboxStatusSent && m.Status != OutboxStatusCanceled {
				return m.ID, nil
			}
		}
	}

	now := time.Now()
	msg := &OutboxMessage{
		ID:          util.GenerateOutboxID(),
		RecipientID: recipientID,
		Kind:        kind,
		PayloadJSON: payloadJSON,
		Status:      OutboxStatusQueued,
		DedupeKey:   dedupeKey,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.outbox = append(s.outbox, msg)
	return msg.ID, nil
}

func (s *InMemoryStore) ClaimDueOutboxMessages(now time.Time, limit int) ([]OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var claimed []OutboxMessage
	for _, m := range s.outbox {
		if len(claimed) >= limit {
			break
		}
		if m.Status != OutboxStatusQueued {
			continue
		}
		if m.NextAttemptAt != nil && m.NextAttemptAt.After(now) {
			continue
		}
		m.Status = OutboxStatusSending
		lockedAt := now
		m.LockedAt = &lockedAt
		m.UpdatedAt = now
		claimed = append(claimed, *m)
	}
	return claimed, nil
}

func (s *InMemoryStore) MarkOutboxMessageSent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.outbox {
		if m.ID == id {
			m.Status = OutboxStatusSent
			m.UpdatedAt = time.Now()
			return nil
		}
	}
	return fmt.Errorf("outbox message %s not found", id)
}

func (s *InMemoryStore) FailOutboxMessage(id string, errMsg string, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.outbox {
		if m.ID == id {
			m.Status = OutboxStatusQueued
			m.Attempts++
			m.LastError = errMsg
			m.NextAttemptAt = &nextAttemptAt
			m.LockedAt = nil
			m.UpdatedAt = time.Now()
			return nil
		}
	}
	return fmt.Errorf("outbox message %s not found", id)
}

func (s *InMemoryStore) RequeueStaleSendingMessages(staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.outbox {
		if m.Status == OutboxStatusSending && m.LockedAt != nil && m.LockedAt.Before(staleBefore) {
			m.Status = OutboxStatusQueued
			m.LockedAt = nil
			m.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}
