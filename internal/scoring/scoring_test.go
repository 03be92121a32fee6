package scoring

import (
	"testing"
	"time"

	"github.com/fntelecomllc/bankreconciler/internal/config"
	"github.com/fntelecomllc/bankreconciler/internal/model"
	"github.com/fntelecomllc/bankreconciler/internal/normalize"
	"github.com/shopspring/decimal"
)

func mustEmail(t *testing.T, amount string, currency string, instant time.Time, reference string, account string) model.CanonicalEmail {
	t.Helper()
	f := normalize.RawEmailFields{
		MessageID: "email-1", Amount: amount, Currency: currency,
		HasInstant: true, InstantTime: instant, Reference: reference, AccountRef: account,
	}
	return normalize.CanonicalizeEmail(f, nil)
}

func mustTxn(t *testing.T, externalID, amount, currency string, instant time.Time, reference, account string) model.CanonicalTransaction {
	t.Helper()
	ct, ok := normalize.CanonicalizeTransaction(normalize.RawTransactionFields{
		ExternalID: externalID, SourceLabel: "bank-a", Amount: amount, Currency: currency,
		Instant: instant, Reference: reference, AccountRef: account,
	}, nil)
	if !ok {
		t.Fatalf("expected transaction to canonicalize")
	}
	return ct
}

func TestRuleWeightedEqualsRawTimesWeight(t *testing.T) {
	cfg := config.Default()
	scorer := New(cfg)
	instant := time.Date(2025, 11, 5, 10, 30, 0, 0, time.UTC)
	email := mustEmail(t, "23500.00", "NGN", instant, "GTB/TRF/2025/001", "1234567890")
	txn := mustTxn(t, "TXN001", "23500.00", "NGN", instant.Add(-5*time.Minute), "GTB-TRANSFER-2025-001", "1234567890")

	candidate := scorer.ScoreCandidate(email, txn)
	for _, rs := range candidate.Scores {
		want := rs.Raw * rs.Weight
		if want != rs.Weighted {
			t.Fatalf("rule %s: weighted %.4f != raw*weight %.4f", rs.RuleName, rs.Weighted, want)
		}
	}
}

func TestScenarioS1ExactAmountCloseTimestamp(t *testing.T) {
	cfg := config.Default()
	scorer := New(cfg)
	emailInstant := time.Date(2025, 11, 5, 10, 30, 0, 0, time.UTC)
	email := mustEmail(t, "23500.00", "NGN", emailInstant, "GTB/TRF/2025/001", "1234567890")
	txn := mustTxn(t, "TXN001", "23500.00", "NGN", emailInstant.Add(-5*time.Minute), "GTB-TRANSFER-2025-001", "1234567890")

	result := scorer.RankAndDecide("email-1", email, []model.CanonicalTransaction{txn})
	if result.Status != model.StatusAutoMatched {
		t.Fatalf("expected auto_matched, got %v (confidence %.4f)", result.Status, result.Confidence)
	}
	if result.Confidence < 0.80 {
		t.Fatalf("expected confidence >= 0.80, got %.4f", result.Confidence)
	}
	if result.BestCandidate.ExternalID != "TXN001" {
		t.Fatalf("expected best candidate TXN001, got %s", result.BestCandidate.ExternalID)
	}
}

func TestScenarioS2NoCandidates(t *testing.T) {
	cfg := config.Default()
	scorer := New(cfg)
	email := mustEmail(t, "9999.99", "NGN", time.Date(2025, 11, 5, 10, 0, 0, 0, time.UTC), "", "")

	result := scorer.RankAndDecide("email-2", email, nil)
	if result.Status != model.StatusNoCandidates {
		t.Fatalf("expected no_candidates, got %v", result.Status)
	}
	if result.Confidence != 0.0 {
		t.Fatalf("expected confidence 0.0, got %.4f", result.Confidence)
	}
	if len(result.AlternativeCandidates) != 0 {
		t.Fatalf("expected no alternatives, got %d", len(result.AlternativeCandidates))
	}
}

func TestRulePurityIdenticalInputsProduceIdenticalScores(t *testing.T) {
	cfg := config.Default()
	scorer := New(cfg)
	instant := time.Date(2025, 11, 5, 12, 0, 0, 0, time.UTC)
	email := mustEmail(t, "5000.00", "NGN", instant, "REF123", "")
	txn := mustTxn(t, "TXN-A", "5000.00", "NGN", instant.Add(time.Hour), "REF123", "")

	c1 := scorer.ScoreCandidate(email, txn)
	c2 := scorer.ScoreCandidate(email, txn)
	if c1.Total != c2.Total {
		t.Fatalf("expected identical totals, got %.6f vs %.6f", c1.Total, c2.Total)
	}
}

func TestDecisionBoundaryIsInclusive(t *testing.T) {
	cfg := config.Default()
	scorer := New(cfg)
	if got := scorer.decide(cfg.Scoring.Thresholds.AutoMatch); got != model.StatusAutoMatched {
		t.Fatalf("expected exact autoMatch threshold to map to auto_matched, got %v", got)
	}
	if got := scorer.decide(cfg.Scoring.Thresholds.NeedsReview); got != model.StatusNeedsReview {
		t.Fatalf("expected exact needsReview threshold to map to needs_review, got %v", got)
	}
}

func TestEmailAmountNilYieldsZeroAmountScore(t *testing.T) {
	email := model.CanonicalEmail{}
	txn := mustTxn(t, "TXN-X", "100.00", "NGN", time.Now(), "", "")
	raw, _ := exactAmount(email, txn, RuleConfig{AmountTolerance: 0.01})
	if raw != 0.0 {
		t.Fatalf("expected 0.0 when email amount missing, got %.4f", raw)
	}
}

func TestAmountToleranceAcceptsWithinOnePercent(t *testing.T) {
	email := model.CanonicalEmail{}
	amt := decimal.NewFromFloat(100.00)
	email.Amount = &amt
	txn := mustTxn(t, "TXN-Y", "100.50", "NGN", time.Now(), "", "")
	raw, details := exactAmount(email, txn, RuleConfig{AmountTolerance: 0.01})
	if raw != 0.95 {
		t.Fatalf("expected 0.95 within tolerance, got %.4f (%v)", raw, details)
	}
}
