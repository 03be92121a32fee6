package postgres

import (
	"context"
	"fmt"

	"github.com/fntelecomllc/bankreconciler/internal/model"
	"github.com/fntelecomllc/bankreconciler/internal/store"
	"github.com/jackc/pgx/v5"
)

// BulkStageTransactions loads raw transaction rows into a temporary staging
// table via pgx's binary COPY protocol, then folds them into the
// transactions table with one idempotent INSERT ... ON CONFLICT DO NOTHING,
// avoiding one round trip per row for large provider pages. It returns how
// many rows were newly inserted; rows already present (by natural key) are
// silently skipped, matching upsertTransaction's dedup semantics.
func (s *Store) BulkStageTransactions(ctx context.Context, rows []model.Transaction, canon []model.CanonicalTransaction) (int, error) {
	if s.pool == nil {
		return 0, fmt.Errorf("%w: bulk ingestion requires a configured pgx pool", store.ErrPersistenceFailed)
	}
	if len(rows) != len(canon) {
		return 0, fmt.Errorf("bulk stage: raw/canonical length mismatch (%d vs %d)", len(rows), len(canon))
	}
	if len(rows) == 0 {
		return 0, nil
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: acquire pool connection: %v", store.ErrPersistenceFailed, err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: begin bulk tx: %v", store.ErrPersistenceFailed, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		CREATE TEMP TABLE txn_staging (
			external_id text, source_label text, amount text, currency text, instant timestamptz,
			description text, reference text, account_ref text, counterparty text, status text
		) ON COMMIT DROP`); err != nil {
		return 0, fmt.Errorf("%w: create staging table: %v", store.ErrPersistenceFailed, err)
	}

	source := pgx.CopyFromSlice(len(rows), func(i int) ([]interface{}, error) {
		t := rows[i]
		c := canon[i]
		return []interface{}{
			t.ExternalID, t.SourceLabel, c.Amount.StringFixed(2), c.Currency, c.Instant,
			t.Description, t.Reference, t.AccountRef, t.Counterparty, t.Status,
		}, nil
	})
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"txn_staging"}, []string{
		"external_id", "source_label", "amount", "currency", "instant",
		"description", "reference", "account_ref", "counterparty", "status",
	}, source); err != nil {
		return 0, fmt.Errorf("%w: copy into staging table: %v", store.ErrPersistenceFailed, err)
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO transactions (external_id, source_label, amount, currency, instant, description, reference, account_ref, counterparty, status, verified)
		SELECT external_id, source_label, amount, currency, instant, description, reference, account_ref, counterparty, status, false
		FROM txn_staging
		ON CONFLICT (source_label, external_id) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("%w: fold staging into transactions: %v", store.ErrPersistenceFailed, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("%w: commit bulk tx: %v", store.ErrPersistenceFailed, err)
	}
	return int(tag.RowsAffected()), nil
}
