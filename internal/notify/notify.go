// Package notify publishes conversation state-change events to users.
//
// Delivery is best-effort from the caller's point of view: the intake engine
// logs publish failures and never fails a turn because a notification could
// not be sent. Durable delivery is layered on via the store outbox.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/anesxvito/MediChat-sub001/internal/models"
	"github.com/anesxvito/MediChat-sub001/internal/store"
	"github.com/anesxvito/MediChat-sub001/internal/twiliosms"
)

// Notifier publishes a state-change event to a user's channel.
type Notifier interface {
	Publish(ctx context.Context, userID string, event models.NotificationEvent) error
}

// PhoneLookupFunc resolves a user id to a phone number in E.164 format.
// Returns false when the user has no number on file.
type PhoneLookupFunc func(userID string) (string, bool)

// SMSNotifier delivers events as text messages through Twilio.
type SMSNotifier struct {
	sender twiliosms.SMSSender
	lookup PhoneLookupFunc
}

// NewSMSNotifier creates an SMS notifier. lookup maps user ids to phone numbers.
func NewSMSNotifier(sender twiliosms.SMSSender, lookup PhoneLookupFunc) *SMSNotifier {
	return &SMSNotifier{sender: sender, lookup: lookup}
}

// Publish renders the event as a short text message and sends it.
func (n *SMSNotifier) Publish(ctx context.Context, userID string, event models.NotificationEvent) error {
	phone, ok := n.lookup(userID)
	if !ok {
		slog.Warn("SMSNotifier.Publish: no phone number on file", "userID", userID, "kind", event.Kind)
		return fmt.Errorf("no phone number for user %s", userID)
	}

	body := RenderEventText(event)
	if err := n.sender.SendMessage(ctx, phone, body); err != nil {
		slog.Error("SMSNotifier.Publish: send failed", "userID", userID, "kind", event.Kind, "error", err)
		return err
	}
	slog.Debug("SMSNotifier.Publish succeeded", "userID", userID, "kind", event.Kind)
	return nil
}

// RenderEventText renders a notification event as a short user-facing message.
func RenderEventText(event models.NotificationEvent) string {
	switch event.Kind {
	case models.EventHandoffReady:
		return fmt.Sprintf("MediChat: intake for visit %d is complete and awaiting your review.", event.VisitNumber)
	case models.EventClinicianResponded:
		return fmt.Sprintf("MediChat: your doctor has responded to your visit %d intake.", event.VisitNumber)
	default:
		return fmt.Sprintf("MediChat: update for visit %d.", event.VisitNumber)
	}
}

// OutboxNotifier enqueues events into the durable notification outbox instead
// of sending them inline. The OutboxSender delivers them with retry/backoff.
type OutboxNotifier struct {
	repo store.OutboxRepo
}

// NewOutboxNotifier creates an outbox-backed notifier.
func NewOutboxNotifier(repo store.OutboxRepo) *OutboxNotifier {
	return &OutboxNotifier{repo: repo}
}

// Publish enqueues the event. The dedupe key collapses repeated publishes of
// the same event for the same conversation while one is still pending.
func (n *OutboxNotifier) Publish(ctx context.Context, userID string, event models.NotificationEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal notification event: %w", err)
	}
	dedupeKey := fmt.Sprintf("%s:%s", event.Kind, event.ConversationID)
	id, err := n.repo.EnqueueOutboxMessage(userID, string(event.Kind), string(payload), dedupeKey)
	if err != nil {
		slog.Error("OutboxNotifier.Publish: enqueue failed", "userID", userID, "kind", event.Kind, "error", err)
		return err
	}
	slog.Debug("OutboxNotifier.Publish: event enqueued", "userID", userID, "kind", event.Kind, "outboxID", id)
	return nil
}

// OutboxSendFunc adapts a delegate Notifier into the sender callback used by
// store.OutboxSender, decoding the queued payload back into an event.
func OutboxSendFunc(delegate Notifier) store.OutboxSendFunc {
	return func(ctx context.Context, msg store.OutboxMessage) error {
		var event models.NotificationEvent
		if err := json.Unmarshal([]byte(msg.PayloadJSON), &event); err != nil {
			return fmt.Errorf("failed to unmarshal notification payload: %w", err)
		}
		return delegate.Publish(ctx, msg.RecipientID, event)
	}
}

// LogNotifier logs events instead of delivering them. Used when no
// notification transport is configured.
type LogNotifier struct{}

// NewLogNotifier creates a log-only notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

// Publish logs the event and reports success.
func (n *LogNotifier) Publish(ctx context.Context, userID string, event models.NotificationEvent) error {
	slog.Info("LogNotifier.Publish", "userID", userID, "kind", event.Kind, "conversationID", event.ConversationID, "visitNumber", event.VisitNumber)
	return nil
}
