package dispatcher

import (
	"context"

	"github.com/fntelecomllc/bankreconciler/internal/model"
	"github.com/fntelecomllc/bankreconciler/internal/store"
)

// SimulatedIntegrations backs every external collaborator interface with a
// no-op success, so the handlers built on it report their ordinary outcome
// labels (e.g. "notified", "ticket_created", "email_sent", "escalated").
// The "<kind>_simulated" label comes from Dispatcher itself, for action
// kinds with no registered handler in development mode. Used when the
// daemon is started without real webhook/ticket/mail credentials configured.
type SimulatedIntegrations struct{}

func (SimulatedIntegrations) Notify(ctx context.Context, eventKind string, payload map[string]interface{}) error {
	return nil
}

func (SimulatedIntegrations) CreateTicket(ctx context.Context, subject, description string, metadata map[string]interface{}) (string, error) {
	return "simulated-ticket", nil
}

func (SimulatedIntegrations) Send(ctx context.Context, to, subject, body string) error {
	return nil
}

func (SimulatedIntegrations) Escalate(ctx context.Context, reason string, payload map[string]interface{}) error {
	return nil
}

// DefaultHandlers wires every action kind to a handler backed by repo for
// storage-affecting actions and sim for every outbound-integration action.
// Callers running with real integrations override individual entries in
// the returned map before passing it to dispatcher.New.
func DefaultHandlers(repo store.Repository, sim SimulatedIntegrations, recipient string) map[model.ActionKind]Handler {
	return map[model.ActionKind]Handler{
		model.ActionMarkVerified:   &MarkVerifiedHandler{Repo: repo},
		model.ActionUpdateStatus:   &UpdateStatusHandler{Repo: repo},
		model.ActionNotifyExternal: &NotifyExternalSystemHandler{Notifier: sim},
		model.ActionSendWebhook:    &SendWebhookHandler{Notifier: sim},
		model.ActionCreateTicket:   &CreateTicketHandler{Tickets: sim},
		model.ActionSendEmail:      &SendEmailHandler{Mailer: sim, Recipient: recipient},
		model.ActionFlagUnmatched:  &FlagUnmatchedHandler{Repo: repo},
		model.ActionEscalate:       &EscalateHandler{Notifier: sim},
	}
}
