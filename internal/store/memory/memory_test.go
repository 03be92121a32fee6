package memory

import (
	"context"
	"testing"
	"time"

	"github.com/fntelecomllc/bankreconciler/internal/model"
	"github.com/fntelecomllc/bankreconciler/internal/store"
	"github.com/shopspring/decimal"
)

func TestUpsertTransactionIsIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()
	raw := model.Transaction{ExternalID: "TXN001", SourceLabel: "bank-a", Amount: "100.00", Currency: "NGN", Instant: time.Now()}
	ct := model.CanonicalTransaction{ExternalID: "TXN001", SourceLabel: "bank-a", Amount: decimal.NewFromFloat(100), Currency: "NGN", Instant: raw.Instant}

	res1, err := s.UpsertTransaction(ctx, ct, raw)
	if err != nil || !res1.Created {
		t.Fatalf("first upsert: created=%v err=%v", res1.Created, err)
	}
	res2, err := s.UpsertTransaction(ctx, ct, raw)
	if err != nil || res2.Created {
		t.Fatalf("second upsert: expected created=false, got %v err=%v", res2.Created, err)
	}
}

func TestRematchReplacesExistingMatchAtomically(t *testing.T) {
	s := New()
	ctx := context.Background()
	emailID := "msg-1"
	s.emails[emailID] = model.Email{MessageID: emailID, IngestedAt: time.Now()}

	first := model.MatchResult{EmailID: emailID, Status: model.StatusNeedsReview, Confidence: 0.55}
	id1, err := s.WriteMatch(ctx, first)
	if err != nil {
		t.Fatalf("first write: %v", err)
	}

	second := model.MatchResult{EmailID: emailID, Status: model.StatusAutoMatched, Confidence: 0.9}
	id2, err := s.WriteMatch(ctx, second)
	if err != nil {
		t.Fatalf("second write: %v", err)
	}
	if id1 == id2 {
		t.Fatalf("expected a fresh match id on rematch")
	}

	got, err := s.GetMatchForEmail(ctx, emailID)
	if err != nil || got == nil {
		t.Fatalf("expected a match to exist, err=%v", err)
	}
	if got.Status != model.StatusAutoMatched {
		t.Fatalf("expected the replaced match to reflect new status, got %v", got.Status)
	}
	if len(s.matches) != 1 {
		t.Fatalf("expected exactly one persisted match for the email, found %d", len(s.matches))
	}
}

func TestFindCandidateTransactionsRespectsToleranceAndWindow(t *testing.T) {
	s := New()
	ctx := context.Background()
	instant := time.Date(2025, 11, 5, 10, 30, 0, 0, time.UTC)

	inWindow := model.CanonicalTransaction{ExternalID: "TXN-IN", SourceLabel: "a", Amount: decimal.NewFromFloat(23500), Currency: "NGN", Instant: instant.Add(-5 * time.Minute)}
	outOfWindow := model.CanonicalTransaction{ExternalID: "TXN-OUT", SourceLabel: "a", Amount: decimal.NewFromFloat(23500), Currency: "NGN", Instant: instant.Add(-72 * time.Hour)}

	s.canonTxns[txnKey{"a", "TXN-IN"}] = inWindow
	s.txns[txnKey{"a", "TXN-IN"}] = model.Transaction{ExternalID: "TXN-IN", SourceLabel: "a"}
	s.canonTxns[txnKey{"a", "TXN-OUT"}] = outOfWindow
	s.txns[txnKey{"a", "TXN-OUT"}] = model.Transaction{ExternalID: "TXN-OUT", SourceLabel: "a"}

	results, err := s.FindCandidateTransactions(ctx, store.CandidateQuery{
		Amount: "23500", HasAmount: true,
		Currency: "NGN", HasCurrency: true, RequireSameCurrency: true,
		Instant: instant, HasInstant: true, WindowHours: 48, AmountTolerance: 0.01,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].ExternalID != "TXN-IN" {
		t.Fatalf("expected only TXN-IN, got %+v", results)
	}
}
