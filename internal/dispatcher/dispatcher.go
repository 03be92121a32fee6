// Package dispatcher categorizes a persisted Match into an outcome and
// executes the configured action set against it, auditing every attempt.
package dispatcher

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fntelecomllc/bankreconciler/internal/config"
	"github.com/fntelecomllc/bankreconciler/internal/logging"
	"github.com/fntelecomllc/bankreconciler/internal/model"
	"github.com/fntelecomllc/bankreconciler/internal/resilience"
	"github.com/fntelecomllc/bankreconciler/internal/store"
)

var log = logging.For("dispatcher")

// Handler executes one action kind against a match and returns its outcome.
// Handlers that are unconfigured in development mode should return a
// simulated success so the pipeline stays observable end-to-end.
type Handler interface {
	Handle(ctx context.Context, kind model.ActionKind, result model.MatchResult, email model.CanonicalEmail) (model.ActionResult, error)
}

// Dispatcher computes the outcome for a match, derives its action list, and
// executes each action in order, writing an append-then-update audit row
// per action.
type Dispatcher struct {
	repo     store.Repository
	cfg      *config.Config
	handlers map[model.ActionKind]Handler
	critical map[model.ActionKind]*resilience.RetryRunner
}

// New builds a Dispatcher. handlers maps each action kind to its executor;
// kinds absent from the map fall back to a simulated success when
// cfg.Dispatcher.DevelopmentMode is set.
func New(repo store.Repository, cfg *config.Config, handlers map[model.ActionKind]Handler) *Dispatcher {
	critical := map[model.ActionKind]*resilience.RetryRunner{
		model.ActionMarkVerified: resilience.NewRetryRunner(resilience.DefaultRetryConfig(), nil),
		model.ActionUpdateStatus: resilience.NewRetryRunner(resilience.DefaultRetryConfig(), nil),
	}
	return &Dispatcher{repo: repo, cfg: cfg, handlers: handlers, critical: critical}
}

// Categorize derives the outcome bucket for a persisted match, per §4.7.
func Categorize(result model.MatchResult, cfg *config.Config) model.Outcome {
	switch result.Status {
	case model.StatusAutoMatched:
		if result.Confidence >= cfg.Scoring.Thresholds.AutoMatch && len(result.AlternativeCandidates) < cfg.Scoring.AmbiguousCandidatesCount {
			return model.OutcomeMatched
		}
		return model.OutcomeAmbiguous
	case model.StatusNeedsReview:
		return model.OutcomeReview
	case model.StatusNoCandidates:
		return model.OutcomeUnmatched
	case model.StatusRejected:
		return model.OutcomeRejected
	default:
		return model.OutcomeUnmatched
	}
}

// actionsFor computes the configured action list for outcome, then applies
// the escalation additive rule.
func (d *Dispatcher) actionsFor(outcome model.Outcome, result model.MatchResult) []model.ActionKind {
	base := d.cfg.Dispatcher.ActionPolicy[outcome]
	actions := append([]model.ActionKind(nil), base...)

	if d.shouldEscalate(result) && !containsKind(actions, model.ActionEscalate) {
		actions = append(actions, model.ActionEscalate)
	}
	return actions
}

func (d *Dispatcher) shouldEscalate(result model.MatchResult) bool {
	if len(result.AlternativeCandidates) >= d.cfg.Scoring.AmbiguousCandidatesCount {
		return true
	}
	if result.BestCandidate == nil {
		return false
	}
	if threshold, err := decimal.NewFromString(d.cfg.Dispatcher.EscalateIfAmountAbove); err == nil {
		if result.BestCandidate.Transaction.Amount.GreaterThan(threshold) {
			return true
		}
	}
	ref := result.BestCandidate.Transaction.Reference
	if ref == nil || strings.TrimSpace(ref.Original) == "" || strings.EqualFold(strings.TrimSpace(ref.Original), "N/A") {
		return true
	}
	return false
}

// Dispatch categorizes result, computes its action list, and executes each
// action in order. Handler failure never aborts subsequent actions; the
// full vector of results is always returned.
func (d *Dispatcher) Dispatch(ctx context.Context, result model.MatchResult, email model.CanonicalEmail) ([]model.ActionResult, error) {
	outcome := Categorize(result, d.cfg)
	actions := d.actionsFor(outcome, result)

	results := make([]model.ActionResult, 0, len(actions))
	for _, kind := range actions {
		started := time.Now().UTC()

		audit := model.ActionAudit{
			ActionKind:        kind,
			MatchID:           result.ID,
			EmailID:           result.EmailID,
			MatchStatusAtTime: result.Status,
			ConfidenceAtTime:  result.Confidence,
			Actor:             "dispatcher",
			StartInstant:      started,
			Status:            model.ActionPending,
		}
		if result.BestCandidate != nil {
			txnID := result.BestCandidate.ExternalID
			audit.TransactionID = &txnID
		}
		actionID, err := d.repo.AppendAudit(ctx, audit)
		if err != nil {
			log.Error("dispatch", "append audit failed", err, logging.Fields{"kind": kind, "emailId": result.EmailID})
		}

		actionResult, execErr := d.execute(ctx, kind, result, email)
		ended := time.Now().UTC()
		duration := ended.Sub(started).Milliseconds()

		status := actionResult.Status
		outcomeLabel := actionResult.OutcomeLabel
		message := actionResult.Message
		patch := store.AuditPatch{
			Status:         &status,
			OutcomeLabel:   &outcomeLabel,
			Message:        &message,
			EndInstant:     &ended,
			DurationMillis: &duration,
		}
		if actionResult.Error != "" {
			errMsg := actionResult.Error
			patch.Error = &errMsg
		}
		if actionID != "" {
			if err := d.repo.UpdateAudit(ctx, actionID, patch); err != nil {
				log.Error("dispatch", "update audit failed", err, logging.Fields{"actionId": actionID})
			}
		}
		if execErr != nil {
			log.Warn("dispatch", "action handler returned error", logging.Fields{"kind": kind, "emailId": result.EmailID, "error": execErr.Error()})
		}
		actionResult.Kind = kind
		results = append(results, actionResult)
	}
	return results, nil
}

func (d *Dispatcher) execute(ctx context.Context, kind model.ActionKind, result model.MatchResult, email model.CanonicalEmail) (model.ActionResult, error) {
	handler, ok := d.handlers[kind]
	if !ok {
		if d.cfg.Dispatcher.DevelopmentMode {
			return model.ActionResult{Status: model.ActionSuccess, OutcomeLabel: string(kind) + "_simulated"}, nil
		}
		return model.ActionResult{Status: model.ActionFailed, Error: "no handler configured for action kind " + string(kind)}, nil
	}

	actionCtx, cancel := context.WithTimeout(ctx, time.Duration(d.cfg.Dispatcher.ActionTimeoutSeconds)*time.Second)
	defer cancel()

	runner, critical := d.critical[kind]
	if !critical {
		actionResult, err := handler.Handle(actionCtx, kind, result, email)
		if err != nil {
			return model.ActionResult{Status: model.ActionFailed, Error: err.Error()}, err
		}
		return actionResult, nil
	}

	var actionResult model.ActionResult
	runErr := runner.Run(actionCtx, func(ctx context.Context) error {
		r, err := handler.Handle(ctx, kind, result, email)
		actionResult = r
		return err
	})
	if runErr != nil {
		return model.ActionResult{Status: model.ActionFailed, Error: runErr.Error()}, runErr
	}
	return actionResult, nil
}

func containsKind(list []model.ActionKind, k model.ActionKind) bool {
	for _, v := range list {
		if v == k {
			return true
		}
	}
	return false
}
