package intake

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anesxvito/MediChat-sub001/internal/genai"
	"github.com/anesxvito/MediChat-sub001/internal/models"
)

// SummaryFailurePlaceholder is stored when summary synthesis fails. The
// handoff must not depend on the summarizer's availability, so the transition
// happens either way and the clinician is pointed at the raw transcript.
const SummaryFailurePlaceholder = "Summary generation failed; please review the conversation transcript manually."

const summarySystemPrompt = `You are a clinical documentation assistant. From the intake conversation
transcript you are given, produce a structured clinical summary for the
reviewing doctor with exactly these sections:

1. Chief complaint
2. History of present illness
3. Associated symptoms
4. Past medical history
5. Patient's stated concerns
6. Referenced uploaded files

Use only information stated in the transcript. Write "None reported" for a
section with no information. Do not add interpretation or diagnosis.`

// Summarizer produces the clinical summary handed to the clinician when an
// intake conversation completes.
type Summarizer struct {
	client genai.ClientInterface
}

// NewSummarizer creates a summarizer over the given reasoning client.
func NewSummarizer(client genai.ClientInterface) *Summarizer {
	return &Summarizer{client: client}
}

// Synthesize generates the structured summary from the full ordered message
// transcript. It never fails: upstream errors are logged and the placeholder
// text is returned instead.
func (s *Summarizer) Synthesize(ctx context.Context, conv *models.Conversation, messages []models.Message) string {
	transcript := BuildTranscript(messages)
	summary, err := s.client.GeneratePrompt(ctx, summarySystemPrompt, transcript)
	if err != nil {
		slog.Error("Summarizer.Synthesize: synthesis failed, storing placeholder", "error", err, "conversationID", conv.ID, "visitNumber", conv.VisitNumber)
		return SummaryFailurePlaceholder
	}
	if strings.TrimSpace(summary) == "" {
		slog.Error("Summarizer.Synthesize: empty summary returned, storing placeholder", "conversationID", conv.ID)
		return SummaryFailurePlaceholder
	}
	slog.Debug("Summarizer.Synthesize succeeded", "conversationID", conv.ID, "summaryLength", len(summary))
	return summary
}

// BuildTranscript renders the message log as a role-labeled transcript.
func BuildTranscript(messages []models.Message) string {
	var b strings.Builder
	for _, m := range messages {
		label := "Patient"
		if m.Role == models.MessageRoleAssistant {
			label = "Assistant"
		}
		fmt.Fprintf(&b, "%s: %s\n", label, m.Content)
	}
	return b.String()
}
