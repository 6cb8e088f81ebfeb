package intake

import (
	"fmt"
	"strings"

	"github.com/anesxvito/MediChat-sub001/internal/models"
)

// PreviousVisit carries the continuity context from a patient's immediately
// preceding conversation. ChiefComplaint is the literal text of that
// conversation's first patient message.
type PreviousVisit struct {
	ChiefComplaint  string
	Diagnosis       string
	Recommendations string
	Referral        string
	Notes           string
}

// BuildInstructions composes the instruction frame for one dialogue turn.
// First visits get the standard intake framing; return visits additionally
// embed the previous chief complaint verbatim together with the clinician's
// response, under an explicit no-fabrication directive.
//
// This is a pure function over the conversation snapshot; no template state
// is shared between turns.
func BuildInstructions(conv *models.Conversation, prev *PreviousVisit) string {
	var b strings.Builder

	b.WriteString("You are a virtual intake assistant for a patient portal. ")
	b.WriteString("Your job is to gather the clinical information a doctor needs before the visit. ")
	b.WriteString("You are not a doctor: never diagnose, never recommend treatment.\n\n")

	if conv.VisitNumber > 1 && prev != nil {
		writeReturnVisitContext(&b, prev)
	}

	b.WriteString("Interviewing rules:\n")
	b.WriteString("- Gather one topic at a time for the patient's primary complaint: ")
	b.WriteString("location and radiation; severity on a 0-10 scale with anchors ")
	b.WriteString("(0 = no pain, 10 = worst imaginable); duration and onset pattern; quality; ")
	b.WriteString("aggravating and relieving factors; associated symptoms; prior occurrence; ")
	b.WriteString("impact on daily function.\n")
	b.WriteString("- Ask exactly one focused question per turn.\n")
	b.WriteString("- Stay with the complaint the patient raised; do not introduce unrelated body systems.\n")
	b.WriteString("- Whenever the patient mentions test results, scans, prior records or any external document, ")
	b.WriteString("encourage them to attach it using the portal's file upload. ")
	b.WriteString("Never say you are unable to receive files.\n\n")

	required := RequiredPatientTurns(conv.VisitNumber)
	fmt.Fprintf(&b, "Continue asking questions until the patient has written at least %d messages in this conversation. ", required)
	b.WriteString("Only then may you close the interview. Your closing statement must thank the patient ")
	b.WriteString("and must contain one of these exact phrases:\n")
	for _, phrase := range completionPhrases {
		fmt.Fprintf(&b, "- \"%s\"\n", phrase)
	}
	b.WriteString("Do not use any of these phrases earlier in the conversation. ")
	b.WriteString("This closing statement is the only way to end the interview.")

	return b.String()
}

// writeReturnVisitContext embeds the previous visit's chief complaint,
// character-for-character, plus the clinician's written response when present.
func writeReturnVisitContext(b *strings.Builder, prev *PreviousVisit) {
	b.WriteString("This is a RETURN VISIT. The patient's previous chief complaint, quoted verbatim, was:\n")
	fmt.Fprintf(b, "\"%s\"\n", prev.ChiefComplaint)

	if prev.Diagnosis != "" {
		fmt.Fprintf(b, "Previous diagnosis: %s\n", prev.Diagnosis)
	}
	if prev.Recommendations != "" {
		fmt.Fprintf(b, "Previous recommendations: %s\n", prev.Recommendations)
	}
	if prev.Referral != "" {
		fmt.Fprintf(b, "Previous referral: %s\n", prev.Referral)
	}
	if prev.Notes != "" {
		fmt.Fprintf(b, "Previous clinician notes: %s\n", prev.Notes)
	}

	b.WriteString("Begin by asking how the patient has been since that visit. ")
	b.WriteString("You may only refer to symptoms that appear in the quoted text above. ")
	b.WriteString("Do not invent, substitute or embellish any symptom that is not present in it, ")
	b.WriteString("and do not claim to remember anything beyond what is quoted here.\n\n")
}

// FirstPatientMessageText returns the literal content of a conversation's
// first patient message, or empty when none exists yet.
func FirstPatientMessageText(messages []models.Message) string {
	for _, m := range messages {
		if m.Role == models.MessageRolePatient {
			return m.Content
		}
	}
	return ""
}
