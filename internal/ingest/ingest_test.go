package ingest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/fntelecomllc/bankreconciler/internal/model"
	"github.com/fntelecomllc/bankreconciler/internal/normalize"
	"github.com/fntelecomllc/bankreconciler/internal/source"
	"github.com/fntelecomllc/bankreconciler/internal/store"
	"github.com/fntelecomllc/bankreconciler/internal/store/memory"
)

// fakeBulkRepo wraps an in-memory store with a BulkStageTransactions fast
// path, so tests can exercise the bulk branch without a live Postgres pool.
type fakeBulkRepo struct {
	*memory.Store
	bulkCalls int
}

func (f *fakeBulkRepo) BulkStageTransactions(ctx context.Context, rows []model.Transaction, canon []model.CanonicalTransaction) (int, error) {
	f.bulkCalls++
	created := 0
	for i, row := range rows {
		res, err := f.Store.UpsertTransaction(ctx, canon[i], row)
		if err != nil {
			return created, err
		}
		if res.Created {
			created++
		}
	}
	return created, nil
}

var _ store.BulkTransactionStager = (*fakeBulkRepo)(nil)

func rawTransactions(n int) []source.RawTransaction {
	raws := make([]source.RawTransaction, n)
	for i := range raws {
		raws[i] = source.RawTransaction{
			ExternalID: fmt.Sprintf("txn-%d", i),
			Amount:     "100.00",
			Currency:   "NGN",
			Instant:    time.Now().UTC(),
			Reference:  fmt.Sprintf("REF%d", i),
		}
	}
	return raws
}

func TestTransactionsUsesBulkStagerAboveThreshold(t *testing.T) {
	repo := &fakeBulkRepo{Store: memory.New()}
	aliases := normalize.NewAliasTable(nil)

	raws := rawTransactions(bulkStageThreshold)
	result := Transactions(context.Background(), repo, aliases, "test-source", raws)

	if repo.bulkCalls != 1 {
		t.Fatalf("expected bulk path to be used exactly once, got %d calls", repo.bulkCalls)
	}
	if result.New != bulkStageThreshold || result.Stored != bulkStageThreshold {
		t.Fatalf("expected all %d transactions newly stored, got New=%d Stored=%d", bulkStageThreshold, result.New, result.Stored)
	}
	if result.Duplicate != 0 || result.Failed != 0 {
		t.Fatalf("unexpected duplicate/failed counts: %+v", result)
	}
}

func TestTransactionsFallsBackToPerRowBelowThreshold(t *testing.T) {
	repo := &fakeBulkRepo{Store: memory.New()}
	aliases := normalize.NewAliasTable(nil)

	raws := rawTransactions(bulkStageThreshold - 1)
	result := Transactions(context.Background(), repo, aliases, "test-source", raws)

	if repo.bulkCalls != 0 {
		t.Fatalf("expected the per-row path below threshold, got %d bulk calls", repo.bulkCalls)
	}
	if result.New != len(raws) || result.Stored != len(raws) {
		t.Fatalf("expected all %d transactions newly stored, got New=%d Stored=%d", len(raws), result.New, result.Stored)
	}
}

func TestTransactionsSkipsMalformedAmount(t *testing.T) {
	repo := memory.New()
	aliases := normalize.NewAliasTable(nil)

	raws := []source.RawTransaction{{ExternalID: "bad-1", Amount: "not-a-number", Currency: "NGN", Instant: time.Now().UTC()}}
	result := Transactions(context.Background(), repo, aliases, "test-source", raws)

	if result.Failed != 1 {
		t.Fatalf("expected 1 failed transaction, got %+v", result)
	}
	if result.New != 0 || result.Stored != 0 {
		t.Fatalf("expected nothing stored for a malformed transaction, got %+v", result)
	}
}
