// Package intake implements the AI-mediated patient intake conversation engine.
//
// The orchestrator drives one dialogue turn at a time: it loads or creates the
// conversation, frames the instructions for the reasoning service, persists
// both sides of the turn, and evaluates the termination condition that hands
// the case to a clinician.
package intake

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go"

	"github.com/anesxvito/MediChat-sub001/internal/genai"
	"github.com/anesxvito/MediChat-sub001/internal/models"
	"github.com/anesxvito/MediChat-sub001/internal/notify"
	"github.com/anesxvito/MediChat-sub001/internal/store"
	"github.com/anesxvito/MediChat-sub001/internal/util"
)

// Default timeouts for the two reasoning-service calls within a turn.
const (
	DefaultTurnTimeout    = 60 * time.Second
	DefaultSummaryTimeout = 30 * time.Second
)

// Opts holds configuration options for the orchestrator.
type Opts struct {
	Notifier       notify.Notifier
	DedupRepo      store.TurnDedupRepo
	TurnTimeout    time.Duration
	SummaryTimeout time.Duration
}

// Option defines a configuration option for the orchestrator.
type Option func(*Opts)

// WithNotifier sets the notifier used for state-change events.
func WithNotifier(n notify.Notifier) Option {
	return func(o *Opts) { o.Notifier = n }
}

// WithDedupRepo enables idempotency-key deduplication of turn submissions.
func WithDedupRepo(r store.TurnDedupRepo) Option {
	return func(o *Opts) { o.DedupRepo = r }
}

// WithTurnTimeout overrides the primary reasoning call timeout.
func WithTurnTimeout(d time.Duration) Option {
	return func(o *Opts) { o.TurnTimeout = d }
}

// WithSummaryTimeout overrides the summary synthesis call timeout.
func WithSummaryTimeout(d time.Duration) Option {
	return func(o *Opts) { o.SummaryTimeout = d }
}

// Orchestrator coordinates intake dialogue turns.
type Orchestrator struct {
	store          store.Store
	client         genai.ClientInterface
	summarizer     *Summarizer
	notifier       notify.Notifier
	dedup          store.TurnDedupRepo
	turnTimeout    time.Duration
	summaryTimeout time.Duration
	locks          *conversationLocks
}

// NewOrchestrator creates an orchestrator over the given store and reasoning client.
func NewOrchestrator(st store.Store, client genai.ClientInterface, opts ...Option) *Orchestrator {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = DefaultTurnTimeout
	}
	if cfg.SummaryTimeout <= 0 {
		cfg.SummaryTimeout = DefaultSummaryTimeout
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.NewLogNotifier()
	}
	slog.Debug("Orchestrator.NewOrchestrator: creating orchestrator", "turnTimeout", cfg.TurnTimeout, "summaryTimeout", cfg.SummaryTimeout, "dedupEnabled", cfg.DedupRepo != nil)
	return &Orchestrator{
		store:          st,
		client:         client,
		summarizer:     NewSummarizer(client),
		notifier:       cfg.Notifier,
		dedup:          cfg.DedupRepo,
		turnTimeout:    cfg.TurnTimeout,
		summaryTimeout: cfg.SummaryTimeout,
		locks:          newConversationLocks(),
	}
}

// SubmitTurn processes one inbound patient message and returns the assistant
// reply together with the conversation's status and visit number.
//
// Exactly one patient message and at most one assistant message are appended
// per accepted call; at most one status transition occurs. If the reasoning
// call fails, the turn fails with no assistant message persisted; the patient
// message remains, so a retry resumes cleanly.
func (o *Orchestrator) SubmitTurn(ctx context.Context, req models.SubmitTurnRequest) (*models.TurnResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// A seen idempotency key routes to the conversation it was bound to:
	// resumed there if the assistant reply was never produced, replayed
	// otherwise.
	if req.IdempotencyKey != "" && o.dedup != nil {
		conversationID, found, err := o.dedup.LookupTurnKey(req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("%w: idempotency lookup failed: %v", models.ErrPersistence, err)
		}
		if found {
			slog.Debug("Orchestrator.SubmitTurn: idempotency key seen", "patientID", req.PatientID, "conversationID", conversationID)
			return o.redeemTurnKey(ctx, req, conversationID)
		}
	}

	conv, err := o.resolveConversation(req.PatientID, req.ConversationID)
	if err != nil {
		return nil, err
	}

	// Bind the key to the conversation before anything is appended, so a
	// retry after a failed reasoning call lands on this conversation and
	// resumes it instead of creating another visit.
	if req.IdempotencyKey != "" && o.dedup != nil {
		fresh, err := o.dedup.RecordTurnKey(req.IdempotencyKey, conv.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: idempotency record failed: %v", models.ErrPersistence, err)
		}
		if !fresh {
			boundID, found, err := o.dedup.LookupTurnKey(req.IdempotencyKey)
			if err != nil {
				return nil, fmt.Errorf("%w: idempotency lookup failed: %v", models.ErrPersistence, err)
			}
			if found {
				return o.redeemTurnKey(ctx, req, boundID)
			}
		}
	}

	// Serialize turns per conversation: threshold and completion signal must
	// derive from one message-log snapshot.
	unlock := o.locks.Lock(conv.ID)
	defer unlock()

	// Reload under the lock so a concurrent turn's writes are visible.
	if req.ConversationID != "" {
		conv, err = o.loadOwnedConversation(req.PatientID, conv.ID)
		if err != nil {
			return nil, err
		}
	}

	patientMsg := models.Message{
		ID:             util.GenerateMessageID(),
		ConversationID: conv.ID,
		Role:           models.MessageRolePatient,
		Content:        req.Text,
		CreatedAt:      time.Now(),
	}
	if err := o.store.AddMessage(patientMsg); err != nil {
		return nil, fmt.Errorf("%w: failed to append patient message: %v", models.ErrPersistence, err)
	}

	messages, err := o.store.GetMessages(conv.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load message log: %v", models.ErrPersistence, err)
	}

	return o.completeTurn(ctx, conv, messages)
}

// completeTurn generates the assistant reply for the trailing patient message,
// evaluates the termination condition against the supplied log snapshot, and
// commits the turn. Callers hold the conversation lock.
func (o *Orchestrator) completeTurn(ctx context.Context, conv *models.Conversation, messages []models.Message) (*models.TurnResult, error) {
	prev, err := o.loadPreviousVisit(conv)
	if err != nil {
		return nil, err
	}

	current := messages[len(messages)-1]
	reply, err := o.generateReply(ctx, conv, prev, messages, current.Content)
	if err != nil {
		return nil, err
	}

	assistantMsg := models.Message{
		ID:             util.GenerateMessageID(),
		ConversationID: conv.ID,
		Role:           models.MessageRoleAssistant,
		Content:        reply,
		CreatedAt:      time.Now(),
	}

	status := conv.Status
	if IsComplete(conv, messages, reply) {
		completedAt := time.Now()
		summaryCtx, cancel := context.WithTimeout(ctx, o.summaryTimeout)
		summary := o.summarizer.Synthesize(summaryCtx, conv, append(messages, assistantMsg))
		cancel()

		if err := o.store.FinishTurn(conv.ID, assistantMsg, &store.IntakeCompletion{Summary: summary, CompletedAt: completedAt}); err != nil {
			return nil, fmt.Errorf("%w: failed to complete intake: %v", models.ErrPersistence, err)
		}
		status = models.StatusAwaitingClinician
		slog.Info("Orchestrator.completeTurn: intake complete, handing off", "conversationID", conv.ID, "patientID", conv.PatientID, "visitNumber", conv.VisitNumber)
		o.publishHandoff(ctx, conv, completedAt)
	} else {
		if err := o.store.FinishTurn(conv.ID, assistantMsg, nil); err != nil {
			return nil, fmt.Errorf("%w: failed to persist assistant message: %v", models.ErrPersistence, err)
		}
	}

	slog.Debug("Orchestrator.completeTurn: turn committed", "conversationID", conv.ID, "status", status, "visitNumber", conv.VisitNumber)
	return &models.TurnResult{
		ConversationID: conv.ID,
		VisitNumber:    conv.VisitNumber,
		Status:         status,
		Reply:          reply,
	}, nil
}

// resolveConversation loads an existing conversation (verifying ownership) or
// creates a new one when no id was supplied.
func (o *Orchestrator) resolveConversation(patientID, conversationID string) (*models.Conversation, error) {
	if conversationID == "" {
		conv, err := o.store.CreateConversation(patientID)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to create conversation: %v", models.ErrPersistence, err)
		}
		slog.Info("Orchestrator.resolveConversation: new conversation created", "conversationID", conv.ID, "patientID", patientID, "visitNumber", conv.VisitNumber)
		return conv, nil
	}
	return o.loadOwnedConversation(patientID, conversationID)
}

func (o *Orchestrator) loadOwnedConversation(patientID, conversationID string) (*models.Conversation, error) {
	conv, err := o.store.GetConversation(conversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load conversation: %v", models.ErrPersistence, err)
	}
	if conv == nil {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, models.ErrConversationNotFound)
	}
	if conv.PatientID != patientID {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, models.ErrConversationAccessDenied)
	}
	return conv, nil
}

// loadPreviousVisit fetches the continuity context for return visits: the
// immediately preceding conversation's first patient message, verbatim, plus
// the clinician's response fields when present.
func (o *Orchestrator) loadPreviousVisit(conv *models.Conversation) (*PreviousVisit, error) {
	if conv.VisitNumber <= 1 {
		return nil, nil
	}

	prevConv, err := o.store.GetConversationByVisit(conv.PatientID, conv.VisitNumber-1)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load previous visit: %v", models.ErrPersistence, err)
	}
	if prevConv == nil {
		slog.Warn("Orchestrator.loadPreviousVisit: previous visit missing", "patientID", conv.PatientID, "visitNumber", conv.VisitNumber-1)
		return nil, nil
	}

	prevMessages, err := o.store.GetMessages(prevConv.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load previous visit messages: %v", models.ErrPersistence, err)
	}

	return &PreviousVisit{
		ChiefComplaint:  FirstPatientMessageText(prevMessages),
		Diagnosis:       prevConv.Diagnosis,
		Recommendations: prevConv.Recommendations,
		Referral:        prevConv.Referral,
		Notes:           prevConv.ClinicianNotes,
	}, nil
}

// generateReply calls the reasoning service with the instruction frame, the
// dialogue history, and the just-submitted patient message.
func (o *Orchestrator) generateReply(ctx context.Context, conv *models.Conversation, prev *PreviousVisit, messages []models.Message, newText string) (string, error) {
	instructions := BuildInstructions(conv, prev)

	params := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(instructions)}
	// History excludes the just-appended patient message; it is supplied
	// separately as the current user turn.
	for _, m := range messages[:len(messages)-1] {
		switch m.Role {
		case models.MessageRolePatient:
			params = append(params, openai.UserMessage(m.Content))
		case models.MessageRoleAssistant:
			params = append(params, openai.AssistantMessage(m.Content))
		}
	}
	params = append(params, openai.UserMessage(newText))

	turnCtx, cancel := context.WithTimeout(ctx, o.turnTimeout)
	defer cancel()

	reply, err := o.client.GenerateWithMessages(turnCtx, params)
	if err != nil {
		slog.Error("Orchestrator.generateReply: reasoning call failed", "error", err, "conversationID", conv.ID)
		return "", fmt.Errorf("%w: %v", models.ErrUpstreamService, err)
	}
	return reply, nil
}

// redeemTurnKey resolves a submission whose idempotency key is already bound
// to a conversation. A turn whose assistant reply was never produced, because
// the reasoning call failed or the patient message never landed, is resumed;
// an answered turn is replayed from the log without appending anything.
func (o *Orchestrator) redeemTurnKey(ctx context.Context, req models.SubmitTurnRequest, conversationID string) (*models.TurnResult, error) {
	unlock := o.locks.Lock(conversationID)
	defer unlock()

	conv, err := o.loadOwnedConversation(req.PatientID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrDuplicateTurn, err)
	}
	messages, err := o.store.GetMessages(conv.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load message log: %v", models.ErrPersistence, err)
	}

	if conv.Status == models.StatusInProgress {
		if len(messages) == 0 {
			// The key was bound but the patient message never persisted.
			patientMsg := models.Message{
				ID:             util.GenerateMessageID(),
				ConversationID: conv.ID,
				Role:           models.MessageRolePatient,
				Content:        req.Text,
				CreatedAt:      time.Now(),
			}
			if err := o.store.AddMessage(patientMsg); err != nil {
				return nil, fmt.Errorf("%w: failed to append patient message: %v", models.ErrPersistence, err)
			}
			return o.completeTurn(ctx, conv, []models.Message{patientMsg})
		}
		if messages[len(messages)-1].Role == models.MessageRolePatient {
			slog.Info("Orchestrator.redeemTurnKey: resuming unanswered turn", "conversationID", conv.ID, "patientID", req.PatientID)
			return o.completeTurn(ctx, conv, messages)
		}
	}

	reply := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.MessageRoleAssistant {
			reply = messages[i].Content
			break
		}
	}

	return &models.TurnResult{
		ConversationID: conv.ID,
		VisitNumber:    conv.VisitNumber,
		Status:         conv.Status,
		Reply:          reply,
	}, nil
}

func (o *Orchestrator) publishHandoff(ctx context.Context, conv *models.Conversation, occurredAt time.Time) {
	event := models.NotificationEvent{
		Kind:           models.EventHandoffReady,
		ConversationID: conv.ID,
		PatientID:      conv.PatientID,
		VisitNumber:    conv.VisitNumber,
		OccurredAt:     occurredAt,
	}
	recipient := conv.ClinicianID
	if recipient == "" {
		slog.Debug("Orchestrator.publishHandoff: no assigned clinician, publishing to triage", "conversationID", conv.ID)
		recipient = "triage"
	}
	if err := o.notifier.Publish(ctx, recipient, event); err != nil {
		// Best effort: a failed notification never fails the turn.
		slog.Error("Orchestrator.publishHandoff: publish failed", "error", err, "conversationID", conv.ID, "recipient", recipient)
	}
}

// ClinicianRespond records the clinician's written response, transitions the
// conversation to clinician_responded, and notifies the patient.
func (o *Orchestrator) ClinicianRespond(ctx context.Context, conversationID string, req models.ClinicianResponseRequest) (*models.Conversation, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	unlock := o.locks.Lock(conversationID)
	defer unlock()

	conv, err := o.store.GetConversation(conversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load conversation: %v", models.ErrPersistence, err)
	}
	if conv == nil {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, models.ErrConversationNotFound)
	}

	respondedAt := time.Now()
	if err := o.store.SaveClinicianResponse(conversationID, req, respondedAt); err != nil {
		return nil, err
	}
	slog.Info("Orchestrator.ClinicianRespond: clinician responded", "conversationID", conversationID, "clinicianID", req.ClinicianID)

	event := models.NotificationEvent{
		Kind:           models.EventClinicianResponded,
		ConversationID: conv.ID,
		PatientID:      conv.PatientID,
		VisitNumber:    conv.VisitNumber,
		OccurredAt:     respondedAt,
	}
	if err := o.notifier.Publish(ctx, conv.PatientID, event); err != nil {
		slog.Error("Orchestrator.ClinicianRespond: publish failed", "error", err, "conversationID", conversationID)
	}

	return o.store.GetConversation(conversationID)
}

// Archive toggles one party's archival flag. Archival never deletes messages;
// conversations are medical records.
func (o *Orchestrator) Archive(conversationID string, req models.ArchiveRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	return o.store.SetArchived(conversationID, req.Party, req.Archived)
}

// GetHistory returns a conversation and its ordered message log.
func (o *Orchestrator) GetHistory(conversationID string) (*models.Conversation, []models.Message, error) {
	conv, err := o.store.GetConversation(conversationID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: failed to load conversation: %v", models.ErrPersistence, err)
	}
	if conv == nil {
		return nil, nil, fmt.Errorf("conversation %s: %w", conversationID, models.ErrConversationNotFound)
	}
	messages, err := o.store.GetMessages(conversationID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: failed to load message log: %v", models.ErrPersistence, err)
	}
	return conv, messages, nil
}

// ListConversations returns all of a patient's conversations ordered by visit number.
func (o *Orchestrator) ListConversations(patientID string) ([]models.Conversation, error) {
	if patientID == "" {
		return nil, models.ErrEmptyPatientID
	}
	convs, err := o.store.ListConversationsForPatient(patientID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list conversations: %v", models.ErrPersistence, err)
	}
	return convs, nil
}
