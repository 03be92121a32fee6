package dispatcher

import (
	"context"
	"time"

	"github.com/fntelecomllc/bankreconciler/internal/model"
	"github.com/fntelecomllc/bankreconciler/internal/store"
)

// MarkVerifiedHandler marks the matched transaction as verified in the
// repository. It is retried under RetryRunner as a critical action.
type MarkVerifiedHandler struct {
	Repo store.Repository
}

func (h *MarkVerifiedHandler) Handle(ctx context.Context, kind model.ActionKind, result model.MatchResult, email model.CanonicalEmail) (model.ActionResult, error) {
	if result.BestCandidate == nil {
		return model.ActionResult{Status: model.ActionSkipped, OutcomeLabel: "no_candidate"}, nil
	}
	sourceLabel := result.BestCandidate.Transaction.SourceLabel
	if err := h.Repo.MarkTransactionVerified(ctx, sourceLabel, result.BestCandidate.ExternalID, time.Now().UTC()); err != nil {
		return model.ActionResult{}, err
	}
	return model.ActionResult{Status: model.ActionSuccess, OutcomeLabel: "verified"}, nil
}

// UpdateStatusHandler marks the source email as processed. It is retried
// under RetryRunner as a critical action.
type UpdateStatusHandler struct {
	Repo store.Repository
}

func (h *UpdateStatusHandler) Handle(ctx context.Context, kind model.ActionKind, result model.MatchResult, email model.CanonicalEmail) (model.ActionResult, error) {
	if err := h.Repo.MarkEmailProcessed(ctx, result.EmailID, nil); err != nil {
		return model.ActionResult{}, err
	}
	return model.ActionResult{Status: model.ActionSuccess, OutcomeLabel: "status_updated"}, nil
}

// WebhookNotifier is the narrow collaborator contract for outbound
// notification handlers (notify_external_system, send_webhook). A concrete
// HTTP-backed implementation is wired at the daemon level; tests and
// development mode use the dispatcher's built-in simulation instead.
type WebhookNotifier interface {
	Notify(ctx context.Context, eventKind string, payload map[string]interface{}) error
}

// NotifyExternalSystemHandler posts the match outcome to a configured
// external system via WebhookNotifier.
type NotifyExternalSystemHandler struct {
	Notifier WebhookNotifier
}

func (h *NotifyExternalSystemHandler) Handle(ctx context.Context, kind model.ActionKind, result model.MatchResult, email model.CanonicalEmail) (model.ActionResult, error) {
	payload := matchPayload(result, email)
	if err := h.Notifier.Notify(ctx, "match.decided", payload); err != nil {
		return model.ActionResult{}, err
	}
	return model.ActionResult{Status: model.ActionSuccess, OutcomeLabel: "notified"}, nil
}

// SendWebhookHandler fires a generic outbound webhook for the match.
type SendWebhookHandler struct {
	Notifier WebhookNotifier
}

func (h *SendWebhookHandler) Handle(ctx context.Context, kind model.ActionKind, result model.MatchResult, email model.CanonicalEmail) (model.ActionResult, error) {
	payload := matchPayload(result, email)
	if err := h.Notifier.Notify(ctx, "match.webhook", payload); err != nil {
		return model.ActionResult{}, err
	}
	return model.ActionResult{Status: model.ActionSuccess, OutcomeLabel: "webhook_sent"}, nil
}

// TicketCreator is the narrow collaborator contract for ticket-tracker
// integrations (create_ticket).
type TicketCreator interface {
	CreateTicket(ctx context.Context, subject, description string, metadata map[string]interface{}) (ticketID string, err error)
}

// CreateTicketHandler opens a ticket for manual review of an
// ambiguous/unmatched/review outcome.
type CreateTicketHandler struct {
	Tickets TicketCreator
}

func (h *CreateTicketHandler) Handle(ctx context.Context, kind model.ActionKind, result model.MatchResult, email model.CanonicalEmail) (model.ActionResult, error) {
	subject := "Reconciliation review needed: " + email.Subject
	id, err := h.Tickets.CreateTicket(ctx, subject, result.Notes, matchPayload(result, email))
	if err != nil {
		return model.ActionResult{}, err
	}
	return model.ActionResult{Status: model.ActionSuccess, OutcomeLabel: "ticket_created", Metadata: map[string]interface{}{"ticketId": id}}, nil
}

// Mailer is the narrow collaborator contract for outbound notification
// email (send_email).
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SendEmailHandler notifies operators of a review/unmatched/ambiguous case.
type SendEmailHandler struct {
	Mailer    Mailer
	Recipient string
}

func (h *SendEmailHandler) Handle(ctx context.Context, kind model.ActionKind, result model.MatchResult, email model.CanonicalEmail) (model.ActionResult, error) {
	subject := "Reconciliation: " + string(result.Status) + " - " + email.Subject
	body := "Match status: " + string(result.Status)
	if err := h.Mailer.Send(ctx, h.Recipient, subject, body); err != nil {
		return model.ActionResult{}, err
	}
	return model.ActionResult{Status: model.ActionSuccess, OutcomeLabel: "email_sent"}, nil
}

// FlagUnmatchedHandler records a processing note on an email that produced
// no candidates at all.
type FlagUnmatchedHandler struct {
	Repo store.Repository
}

func (h *FlagUnmatchedHandler) Handle(ctx context.Context, kind model.ActionKind, result model.MatchResult, email model.CanonicalEmail) (model.ActionResult, error) {
	procErr := &model.ProcessingError{Stage: "match", Message: "no candidate transactions found", OccurredAt: time.Now().UTC()}
	if err := h.Repo.MarkEmailProcessed(ctx, result.EmailID, procErr); err != nil {
		return model.ActionResult{}, err
	}
	return model.ActionResult{Status: model.ActionSuccess, OutcomeLabel: "flagged"}, nil
}

// EscalationNotifier is the narrow collaborator contract for the escalate
// action, routed to a distinct channel from ordinary notifications.
type EscalationNotifier interface {
	Escalate(ctx context.Context, reason string, payload map[string]interface{}) error
}

// EscalateHandler routes a high-value or ambiguous match to the escalation
// channel, per the escalation additive rule in §4.7.
type EscalateHandler struct {
	Notifier EscalationNotifier
}

func (h *EscalateHandler) Handle(ctx context.Context, kind model.ActionKind, result model.MatchResult, email model.CanonicalEmail) (model.ActionResult, error) {
	reason := "escalation policy triggered for outcome " + string(result.Status)
	if err := h.Notifier.Escalate(ctx, reason, matchPayload(result, email)); err != nil {
		return model.ActionResult{}, err
	}
	return model.ActionResult{Status: model.ActionSuccess, OutcomeLabel: "escalated"}, nil
}

func matchPayload(result model.MatchResult, email model.CanonicalEmail) map[string]interface{} {
	payload := map[string]interface{}{
		"emailId":    result.EmailID,
		"matchId":    result.ID,
		"status":     result.Status,
		"confidence": result.Confidence,
		"sender":     email.Sender,
		"subject":    email.Subject,
	}
	if result.BestCandidate != nil {
		payload["transactionId"] = result.BestCandidate.ExternalID
		payload["transactionTotal"] = result.BestCandidate.Total
	}
	return payload
}
