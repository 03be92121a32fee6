package retriever

import (
	"context"
	"testing"
	"time"

	"github.com/fntelecomllc/bankreconciler/internal/config"
	"github.com/fntelecomllc/bankreconciler/internal/model"
	"github.com/fntelecomllc/bankreconciler/internal/normalize"
	"github.com/fntelecomllc/bankreconciler/internal/store/memory"
)

func TestFindCandidatesEmailWithoutAmountReturnsEmpty(t *testing.T) {
	repo := memory.New()
	r := New(repo, config.Default(), nil)

	candidates, err := r.FindCandidates(context.Background(), model.CanonicalEmail{MessageID: "e1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("expected no candidates, got %d", len(candidates))
	}
}

func TestFindCandidatesWithinWindowAndTolerance(t *testing.T) {
	repo := memory.New()
	cfg := config.Default()
	instant := time.Date(2025, 11, 5, 10, 30, 0, 0, time.UTC)

	raw := model.Transaction{ExternalID: "TXN001", SourceLabel: "bank-a", Amount: "23500.00", Currency: "NGN", Instant: instant.Add(-5 * time.Minute)}
	ct, _ := normalize.CanonicalizeTransaction(normalize.RawTransactionFields{
		ExternalID: "TXN001", SourceLabel: "bank-a", Amount: "23500.00", Currency: "NGN", Instant: raw.Instant,
	}, nil)
	if _, err := repo.UpsertTransaction(context.Background(), ct, raw); err != nil {
		t.Fatalf("seed upsert: %v", err)
	}

	r := New(repo, cfg, nil)
	email := normalize.CanonicalizeEmail(normalize.RawEmailFields{
		MessageID: "e1", Amount: "23500.00", Currency: "NGN", HasInstant: true, InstantTime: instant,
	}, nil)

	candidates, err := r.FindCandidates(context.Background(), email)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candidates) != 1 || candidates[0].ExternalID != "TXN001" {
		t.Fatalf("expected exactly TXN001, got %+v", candidates)
	}
}
