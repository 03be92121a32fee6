package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/fntelecomllc/bankreconciler/internal/config"
	"github.com/fntelecomllc/bankreconciler/internal/model"
	"github.com/fntelecomllc/bankreconciler/internal/store/memory"
	"github.com/shopspring/decimal"
)

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestCategorizeMatchedVsAmbiguous(t *testing.T) {
	cfg := config.Default()

	matched := model.MatchResult{Status: model.StatusAutoMatched, Confidence: 0.95, AlternativeCandidates: nil}
	if got := Categorize(matched, cfg); got != model.OutcomeMatched {
		t.Fatalf("expected MATCHED, got %s", got)
	}

	ambiguous := model.MatchResult{
		Status: model.StatusAutoMatched, Confidence: 0.95,
		AlternativeCandidates: []model.MatchCandidate{{ExternalID: "TXN002"}, {ExternalID: "TXN003"}},
	}
	if got := Categorize(ambiguous, cfg); got != model.OutcomeAmbiguous {
		t.Fatalf("expected AMBIGUOUS for >= ambiguousCandidatesCount alternatives, got %s", got)
	}

	review := model.MatchResult{Status: model.StatusNeedsReview, Confidence: 0.65}
	if got := Categorize(review, cfg); got != model.OutcomeReview {
		t.Fatalf("expected REVIEW, got %s", got)
	}

	unmatched := model.MatchResult{Status: model.StatusNoCandidates}
	if got := Categorize(unmatched, cfg); got != model.OutcomeUnmatched {
		t.Fatalf("expected UNMATCHED, got %s", got)
	}

	rejected := model.MatchResult{Status: model.StatusRejected, Confidence: 0.1}
	if got := Categorize(rejected, cfg); got != model.OutcomeRejected {
		t.Fatalf("expected REJECTED, got %s", got)
	}
}

func TestRejectedOutcomeDispatchesNoActionsByDefault(t *testing.T) {
	cfg := config.Default()
	repo := memory.New()
	d := New(repo, cfg, DefaultHandlers(repo, SimulatedIntegrations{}, "ops@example.com"))

	result := model.MatchResult{EmailID: "msg-1", Status: model.StatusRejected, Confidence: 0.1}
	email := model.CanonicalEmail{MessageID: "msg-1", Sender: "alerts@bank.com", Subject: "Alert"}

	results, err := d.Dispatch(context.Background(), result, email)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected zero actions for rejected outcome by default policy, got %d", len(results))
	}
}

func TestMatchedOutcomeRunsConfiguredActions(t *testing.T) {
	cfg := config.Default()
	repo := memory.New()
	d := New(repo, cfg, DefaultHandlers(repo, SimulatedIntegrations{}, "ops@example.com"))

	emailID := "msg-2"
	txnID := "TXN001"
	ctx := context.Background()
	now := time.Now().UTC()
	rawTxn := model.Transaction{ExternalID: txnID, SourceLabel: "bank-a", Amount: "100.00", Currency: "NGN", Instant: now}
	canonTxn := model.CanonicalTransaction{
		ExternalID: txnID, SourceLabel: "bank-a", Amount: mustDecimal("100.00"), Currency: "NGN", Instant: now,
		Reference: &model.ReferenceBundle{Original: "GTB-TRF-001", Cleaned: "GTB-TRF-001"},
	}
	if _, err := repo.UpsertTransaction(ctx, canonTxn, rawTxn); err != nil {
		t.Fatalf("seed transaction: %v", err)
	}
	rawEmail := model.Email{MessageID: emailID, Sender: "alerts@bank.com", Subject: "Alert", IngestedAt: now}
	canonEmail := model.CanonicalEmail{MessageID: emailID, Sender: "alerts@bank.com", Subject: "Alert"}
	if _, err := repo.UpsertEmail(ctx, canonEmail, rawEmail); err != nil {
		t.Fatalf("seed email: %v", err)
	}

	best := &model.MatchCandidate{ExternalID: txnID, Total: 0.95, Transaction: canonTxn}
	result := model.MatchResult{EmailID: emailID, Status: model.StatusAutoMatched, Confidence: 0.95, BestCandidate: best}
	email := model.CanonicalEmail{MessageID: emailID, Sender: "alerts@bank.com", Subject: "Alert"}

	results, err := d.Dispatch(context.Background(), result, email)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	want := cfg.Dispatcher.ActionPolicy[model.OutcomeMatched]
	if len(results) != len(want) {
		t.Fatalf("expected %d actions for MATCHED, got %d", len(want), len(results))
	}
	for i, r := range results {
		if r.Status != model.ActionSuccess && r.Status != model.ActionSkipped {
			t.Fatalf("action %d: expected success/skipped, got %s (%s)", i, r.Status, r.Error)
		}
	}
}

func TestEscalationAdditiveTriggersOnHighAmount(t *testing.T) {
	cfg := config.Default()
	repo := memory.New()
	d := New(repo, cfg, DefaultHandlers(repo, SimulatedIntegrations{}, "ops@example.com"))

	ref := "TRANSFER-1"
	best := &model.MatchCandidate{
		ExternalID: "TXN009",
		Total:      0.95,
		Transaction: model.CanonicalTransaction{
			Amount:    mustDecimal("2000000.00"),
			Reference: &model.ReferenceBundle{Original: ref, Cleaned: ref},
		},
	}
	result := model.MatchResult{EmailID: "msg-3", Status: model.StatusAutoMatched, Confidence: 0.95, BestCandidate: best}
	email := model.CanonicalEmail{MessageID: "msg-3"}

	results, err := d.Dispatch(context.Background(), result, email)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	found := false
	for _, r := range results {
		if r.OutcomeLabel == "escalated" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an escalate action for amount above threshold, got %+v", results)
	}
}
