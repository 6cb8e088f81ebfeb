package intake

import (
	"strings"

	"github.com/anesxvito/MediChat-sub001/internal/models"
)

// Required patient turns before the assistant may close the intake dialogue.
// Return visits need fewer turns because the previous visit's context is
// carried forward.
const (
	FirstVisitRequiredPatientTurns  = 10
	ReturnVisitRequiredPatientTurns = 7
)

// completionPhrases is the fixed set of closing phrases the assistant is
// instructed to use. Matching is case-insensitive substring search; this is a
// deliberate heuristic, isolated here so it can be replaced by a structured
// model-emitted flag without touching the orchestrator.
var completionPhrases = []string{
	"i have gathered all the information",
	"the doctor will now review",
	"i will now forward this information",
	"thank you for providing all this information",
}

// RequiredPatientTurns returns the turn threshold for a visit number.
func RequiredPatientTurns(visitNumber int) int {
	if visitNumber == 1 {
		return FirstVisitRequiredPatientTurns
	}
	return ReturnVisitRequiredPatientTurns
}

// ContainsCompletionSignal reports whether the assistant text contains one of
// the fixed completion phrases, case-insensitively.
func ContainsCompletionSignal(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range completionPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// IsComplete reports whether the intake dialogue is complete.
//
// Both halves of the termination condition are required: the patient-turn
// count, recomputed from the persisted message log, must have reached the
// visit's threshold, and the latest assistant reply must carry a completion
// phrase. Conversations already past in_progress are never re-evaluated.
func IsComplete(conv *models.Conversation, messages []models.Message, latestAssistantText string) bool {
	if conv.Status != models.StatusInProgress {
		return false
	}
	if models.PatientTurnCount(messages) < RequiredPatientTurns(conv.VisitNumber) {
		return false
	}
	return ContainsCompletionSignal(latestAssistantText)
}
