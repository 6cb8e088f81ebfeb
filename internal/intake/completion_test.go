package intake

import (
	"testing"
	"time"

	"github.com/anesxvito/MediChat-sub001/internal/models"
)

func makeMessages(conversationID string, patientTurns int) []models.Message {
	var msgs []models.Message
	for i := 0; i < patientTurns; i++ {
		msgs = append(msgs,
			models.Message{ID: "m_p", ConversationID: conversationID, Role: models.MessageRolePatient, Content: "patient text", CreatedAt: time.Now()},
			models.Message{ID: "m_a", ConversationID: conversationID, Role: models.MessageRoleAssistant, Content: "assistant text", CreatedAt: time.Now()},
		)
	}
	return msgs
}

func TestRequiredPatientTurns(t *testing.T) {
	if got := RequiredPatientTurns(1); got != 10 {
		t.Errorf("Expected 10 for first visit, got %d", got)
	}
	for _, visit := range []int{2, 3, 7} {
		if got := RequiredPatientTurns(visit); got != 7 {
			t.Errorf("Expected 7 for visit %d, got %d", visit, got)
		}
	}
}

func TestContainsCompletionSignal(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"I have gathered all the information I need. Thank you!", true},
		{"The DOCTOR WILL NOW REVIEW your answers.", true},
		{"I will now forward this information to the care team.", true},
		{"Thank you for providing all this information today.", true},
		{"Can you rate the pain from 0 to 10?", false},
		{"The doctor reviews cases daily.", false},
		{"", false},
	}
	for _, c := range cases {
		if got := ContainsCompletionSignal(c.text); got != c.want {
			t.Errorf("ContainsCompletionSignal(%q) = %v, want %v", c.text, got, c.want)
		}
	}
}

func TestIsCompleteRequiresBothConditions(t *testing.T) {
	conv := &models.Conversation{ID: "c_1", VisitNumber: 1, Status: models.StatusInProgress}
	signal := "I have gathered all the information."

	// Signal alone at turn 9 must not complete.
	if IsComplete(conv, makeMessages(conv.ID, 9), signal) {
		t.Error("Expected incomplete at 9 patient turns despite signal")
	}
	// Threshold alone without signal must not complete.
	if IsComplete(conv, makeMessages(conv.ID, 10), "Tell me more about the pain.") {
		t.Error("Expected incomplete without completion signal")
	}
	// Both together complete.
	if !IsComplete(conv, makeMessages(conv.ID, 10), signal) {
		t.Error("Expected complete at 10 patient turns with signal")
	}
}

func TestIsCompleteReturnVisitThreshold(t *testing.T) {
	conv := &models.Conversation{ID: "c_2", VisitNumber: 2, Status: models.StatusInProgress}
	signal := "Thank you for providing all this information."

	if IsComplete(conv, makeMessages(conv.ID, 6), signal) {
		t.Error("Expected incomplete at 6 patient turns on a return visit")
	}
	if !IsComplete(conv, makeMessages(conv.ID, 7), signal) {
		t.Error("Expected complete at 7 patient turns on a return visit")
	}
}

func TestIsCompleteNeverReevaluatesFinishedConversations(t *testing.T) {
	signal := "I have gathered all the information."
	for _, status := range []models.ConversationStatus{models.StatusAwaitingClinician, models.StatusClinicianResponded} {
		conv := &models.Conversation{ID: "c_3", VisitNumber: 1, Status: status}
		if IsComplete(conv, makeMessages(conv.ID, 12), signal) {
			t.Errorf("Conversation with status %s must never complete again", status)
		}
	}
}

func TestIsCompleteIdempotent(t *testing.T) {
	conv := &models.Conversation{ID: "c_4", VisitNumber: 1, Status: models.StatusInProgress}
	msgs := makeMessages(conv.ID, 10)
	signal := "the doctor will now review"
	first := IsComplete(conv, msgs, signal)
	second := IsComplete(conv, msgs, signal)
	if first != second || !first {
		t.Errorf("Expected stable true result, got %v then %v", first, second)
	}
}
