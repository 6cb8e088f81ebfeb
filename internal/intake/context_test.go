package intake

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/anesxvito/MediChat-sub001/internal/models"
)

func TestBuildInstructionsFirstVisit(t *testing.T) {
	conv := &models.Conversation{ID: "c_1", PatientID: "patient-1", VisitNumber: 1, Status: models.StatusInProgress}
	got := BuildInstructions(conv, nil)

	if strings.Contains(got, "RETURN VISIT") {
		t.Error("First-visit instructions must not carry return-visit framing")
	}
	for _, want := range []string{
		"one focused question per turn",
		"file upload",
		"at least 10 messages",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("First-visit instructions missing %q", want)
		}
	}
	// The closing mechanism is the completion phrase set; every phrase must be
	// spelled out for the reasoning service.
	for _, phrase := range completionPhrases {
		if !strings.Contains(got, phrase) {
			t.Errorf("Instructions missing completion phrase %q", phrase)
		}
	}
	// The assistant must never claim it cannot receive files.
	if !strings.Contains(got, "Never say you are unable to receive files") {
		t.Error("Instructions missing upload-capability directive")
	}
}

func TestBuildInstructionsReturnVisit(t *testing.T) {
	conv := &models.Conversation{ID: "c_2", PatientID: "patient-1", VisitNumber: 2, Status: models.StatusInProgress}
	prev := &PreviousVisit{
		ChiefComplaint:  "I've had a stabbing pain behind my left eye for three days.",
		Diagnosis:       "Cluster headache",
		Recommendations: "Sumatriptan as needed",
		Referral:        "Neurology",
		Notes:           "Follow up in two weeks",
	}
	got := BuildInstructions(conv, prev)

	if !strings.Contains(got, "RETURN VISIT") {
		t.Error("Return-visit instructions missing return framing")
	}
	if !strings.Contains(got, prev.ChiefComplaint) {
		t.Error("Return-visit instructions must embed the previous chief complaint verbatim")
	}
	for _, want := range []string{prev.Diagnosis, prev.Recommendations, prev.Referral, prev.Notes} {
		if !strings.Contains(got, want) {
			t.Errorf("Return-visit instructions missing clinician field %q", want)
		}
	}
	if !strings.Contains(got, "Do not invent") {
		t.Error("Return-visit instructions missing no-fabrication directive")
	}
	if !strings.Contains(got, "at least 7 messages") {
		t.Error("Return-visit instructions must use the 7-turn threshold")
	}
}

// The previous chief complaint must appear character-for-character in the
// built instructions, whatever text the patient originally wrote.
func TestBuildInstructionsEmbedsChiefComplaintVerbatim(t *testing.T) {
	conv := &models.Conversation{ID: "c_3", PatientID: "patient-1", VisitNumber: 3, Status: models.StatusInProgress}
	rng := rand.New(rand.NewPCG(42, 0))
	alphabet := []rune("abcdefghijklmnopqrstuvwxyz ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789.,;:!?-()'")

	for i := 0; i < 100; i++ {
		n := 1 + rng.IntN(200)
		var b strings.Builder
		for j := 0; j < n; j++ {
			b.WriteRune(alphabet[rng.IntN(len(alphabet))])
		}
		complaint := b.String()

		got := BuildInstructions(conv, &PreviousVisit{ChiefComplaint: complaint})
		if !strings.Contains(got, complaint) {
			t.Fatalf("Instructions do not contain complaint %q", complaint)
		}
	}
}

func TestBuildInstructionsOmitsEmptyClinicianFields(t *testing.T) {
	conv := &models.Conversation{ID: "c_4", PatientID: "patient-1", VisitNumber: 2, Status: models.StatusInProgress}
	got := BuildInstructions(conv, &PreviousVisit{ChiefComplaint: "back pain"})

	for _, label := range []string{"Previous diagnosis:", "Previous recommendations:", "Previous referral:", "Previous clinician notes:"} {
		if strings.Contains(got, label) {
			t.Errorf("Instructions should omit empty clinician field %q", label)
		}
	}
}

func TestFirstPatientMessageText(t *testing.T) {
	msgs := []models.Message{
		{Role: models.MessageRoleAssistant, Content: "Welcome!"},
		{Role: models.MessageRolePatient, Content: "my knee hurts"},
		{Role: models.MessageRolePatient, Content: "a lot"},
	}
	if got := FirstPatientMessageText(msgs); got != "my knee hurts" {
		t.Errorf("Expected first patient message, got %q", got)
	}
	if got := FirstPatientMessageText(nil); got != "" {
		t.Errorf("Expected empty for no messages, got %q", got)
	}
}

func ExampleBuildInstructions() {
	conv := &models.Conversation{VisitNumber: 1, Status: models.StatusInProgress}
	text := BuildInstructions(conv, nil)
	fmt.Println(strings.Contains(text, "virtual intake assistant"))
	// Output: true
}
