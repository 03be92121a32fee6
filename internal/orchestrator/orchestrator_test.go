package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/fntelecomllc/bankreconciler/internal/config"
	"github.com/fntelecomllc/bankreconciler/internal/dispatcher"
	"github.com/fntelecomllc/bankreconciler/internal/model"
	"github.com/fntelecomllc/bankreconciler/internal/normalize"
	"github.com/fntelecomllc/bankreconciler/internal/retriever"
	"github.com/fntelecomllc/bankreconciler/internal/scoring"
	"github.com/fntelecomllc/bankreconciler/internal/source"
	"github.com/fntelecomllc/bankreconciler/internal/store/memory"
)

func seedS3(t *testing.T, repo *memory.Store, aliases *normalize.AliasTable) {
	t.Helper()
	ctx := context.Background()
	emailInstant := time.Date(2025, 11, 5, 12, 0, 0, 0, time.UTC)

	emailFields := normalize.RawEmailFields{
		MessageID: "email-s3", Amount: "5000.00", Currency: "NGN",
		HasInstant: true, InstantTime: emailInstant, Reference: "REF123",
	}
	canonEmail := normalize.CanonicalizeEmail(emailFields, aliases)
	if _, err := repo.UpsertEmail(ctx, canonEmail, model.Email{MessageID: "email-s3", IsAlert: true, IngestedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("seed email: %v", err)
	}

	for _, tc := range []struct {
		id  string
		ref string
	}{{"TXN-EXACT", "REF123"}, {"TXN-CLOSE", "REF124"}} {
		rawTxn := model.Transaction{ExternalID: tc.id, SourceLabel: "bank-a", Amount: "5000.00", Currency: "NGN", Instant: emailInstant.Add(-30 * time.Minute), Reference: tc.ref}
		canonTxn, ok := normalize.CanonicalizeTransaction(normalize.RawTransactionFields{
			ExternalID: tc.id, SourceLabel: "bank-a", Amount: "5000.00", Currency: "NGN",
			Instant: emailInstant.Add(-30 * time.Minute), Reference: tc.ref,
		}, aliases)
		if !ok {
			t.Fatalf("expected transaction %s to canonicalize", tc.id)
		}
		if _, err := repo.UpsertTransaction(ctx, canonTxn, rawTxn); err != nil {
			t.Fatalf("seed transaction %s: %v", tc.id, err)
		}
	}
}

func TestScenarioS3AmbiguousTwoCandidatesEscalates(t *testing.T) {
	cfg := config.Default()
	repo := memory.New()
	aliases := normalize.NewAliasTable(cfg.BankAliases)
	seedS3(t, repo, aliases)

	retr := retriever.New(repo, cfg, aliases)
	scorer := scoring.New(cfg)
	disp := dispatcher.New(repo, cfg, dispatcher.DefaultHandlers(repo, dispatcher.SimulatedIntegrations{}, "ops@example.com"))

	orch := New(cfg, repo, aliases, nil, nil, nil, retr, scorer, disp)
	result := orch.TriggerCycle(context.Background())
	if !result.Started {
		t.Fatalf("expected cycle to start, reason=%s", result.Reason)
	}

	match, err := repo.GetMatchForEmail(context.Background(), "email-s3")
	if err != nil || match == nil {
		t.Fatalf("expected a persisted match for email-s3: %v", err)
	}
	if match.BestCandidate == nil || match.BestCandidate.ExternalID != "TXN-EXACT" {
		t.Fatalf("expected best candidate to be the exact-reference transaction, got %+v", match.BestCandidate)
	}

	outcome := dispatcher.Categorize(*match, cfg)
	if len(match.AlternativeCandidates) >= cfg.Scoring.AmbiguousCandidatesCount {
		if outcome != model.OutcomeAmbiguous {
			t.Fatalf("expected AMBIGUOUS outcome with %d alternatives, got %s", len(match.AlternativeCandidates), outcome)
		}
	} else if outcome != model.OutcomeMatched {
		t.Fatalf("expected MATCHED outcome with fewer than %d alternatives, got %s", cfg.Scoring.AmbiguousCandidatesCount, outcome)
	}
}

func TestTriggerCycleSkipsWhenAlreadyRunning(t *testing.T) {
	cfg := config.Default()
	repo := memory.New()
	aliases := normalize.NewAliasTable(cfg.BankAliases)
	retr := retriever.New(repo, cfg, aliases)
	scorer := scoring.New(cfg)

	orch := New(cfg, repo, aliases, nil, nil, nil, retr, scorer, nil)
	orch.cycleRunning = true

	result := orch.TriggerCycle(context.Background())
	if result.Started {
		t.Fatalf("expected trigger to be refused while a cycle is running")
	}
	if result.Reason != "poll_in_progress" {
		t.Fatalf("expected reason poll_in_progress, got %q", result.Reason)
	}
}

func TestRunCycleFetchPollMatchEndToEnd(t *testing.T) {
	cfg := config.Default()
	repo := memory.New()
	aliases := normalize.NewAliasTable(cfg.BankAliases)
	retr := retriever.New(repo, cfg, aliases)
	scorer := scoring.New(cfg)
	disp := dispatcher.New(repo, cfg, dispatcher.DefaultHandlers(repo, dispatcher.SimulatedIntegrations{}, "ops@example.com"))

	now := time.Now().UTC()
	emailPuller := source.NewMockEmailPuller("inbox", []source.RawEmail{
		{MessageID: "m1", Sender: "alerts@gtbank.com", Subject: "Credit Alert", Body: "NGN 23,500.00 credited ref GTB/TRF/001 account 1234567890", ReceivedAt: now.Add(-time.Minute)},
	})

	orch := New(cfg, repo, aliases, emailPuller, nil, source.NewHeuristicExtractor(), retr, scorer, disp)
	record := orch.runCycle(context.Background(), "test")

	if record.Status == model.CycleFailed {
		t.Fatalf("expected cycle not to fail outright: %+v", record.Phases)
	}
	if len(record.Phases) != 3 {
		t.Fatalf("expected 3 phase results, got %d", len(record.Phases))
	}
	if record.Phases[0].Name != model.PhaseFetchEmails || record.Phases[0].New != 1 {
		t.Fatalf("expected fetch_emails phase to record 1 new email, got %+v", record.Phases[0])
	}
}

