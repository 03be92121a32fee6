package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fntelecomllc/bankreconciler/internal/model"
	"github.com/fntelecomllc/bankreconciler/internal/normalize"
	"github.com/fntelecomllc/bankreconciler/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Store is the Postgres-backed store.Repository implementation.
type Store struct {
	db      *sqlx.DB
	pool    *pgxpool.Pool // used only for the bulk transaction COPY path
	aliases *normalize.AliasTable
}

// New wraps an already-open *sqlx.DB (driver "postgres", via lib/pq) and an
// optional pgx pool used for bulk ingestion. aliases is consulted when
// rehydrating canonical views from stored raw rows.
func New(db *sqlx.DB, pool *pgxpool.Pool, aliases *normalize.AliasTable) *Store {
	return &Store{db: db, pool: pool, aliases: aliases}
}

func (s *Store) exec(tx Querier) Querier {
	if tx != nil {
		return tx
	}
	return s.db
}

func (s *Store) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return s.db.BeginTxx(ctx, opts)
}

type emailRow struct {
	MessageID           string          `db:"message_id"`
	Sender              string          `db:"sender"`
	Subject             string          `db:"subject"`
	Body                string          `db:"body"`
	ReceivedAt          time.Time       `db:"received_at"`
	ExtractedAmount     sql.NullString  `db:"extracted_amount"`
	ExtractedCurrency   sql.NullString  `db:"extracted_currency"`
	ExtractedReference  sql.NullString  `db:"extracted_reference"`
	ExtractedAccountRef sql.NullString  `db:"extracted_account_ref"`
	ExtractedInstant    sql.NullTime    `db:"extracted_instant"`
	ExtractedType       sql.NullString  `db:"extracted_type"`
	ExtractionConfidence sql.NullFloat64 `db:"extraction_confidence"`
	ExtractionMethod    sql.NullString  `db:"extraction_method"`
	IsAlert             bool            `db:"is_alert"`
	Processed           bool            `db:"processed"`
	ParsingErrorJSON    sql.NullString  `db:"parsing_error"`
	IngestedAt          time.Time       `db:"ingested_at"`
	LastUpdated         time.Time       `db:"last_updated"`
}

func toEmailRow(e model.Email) emailRow {
	row := emailRow{
		MessageID:  e.MessageID,
		Sender:     e.Sender,
		Subject:    e.Subject,
		Body:       e.Body,
		ReceivedAt: e.ReceivedAt,
		IsAlert:    e.IsAlert,
		Processed:  e.Processed,
		IngestedAt: e.IngestedAt,
		LastUpdated: e.LastUpdated,
	}
	if e.ExtractedAmount != nil {
		row.ExtractedAmount = sql.NullString{String: *e.ExtractedAmount, Valid: true}
	}
	if e.ExtractedCurrency != nil {
		row.ExtractedCurrency = sql.NullString{String: *e.ExtractedCurrency, Valid: true}
	}
	if e.ExtractedReference != nil {
		row.ExtractedReference = sql.NullString{String: *e.ExtractedReference, Valid: true}
	}
	if e.ExtractedAccountRef != nil {
		row.ExtractedAccountRef = sql.NullString{String: *e.ExtractedAccountRef, Valid: true}
	}
	if e.ExtractedInstant != nil {
		row.ExtractedInstant = sql.NullTime{Time: *e.ExtractedInstant, Valid: true}
	}
	if e.ExtractionMethod != "" {
		row.ExtractionMethod = sql.NullString{String: string(e.ExtractionMethod), Valid: true}
	}
	if e.ExtractedType != "" {
		row.ExtractedType = sql.NullString{String: string(e.ExtractedType), Valid: true}
	}
	row.ExtractionConfidence = sql.NullFloat64{Float64: e.ExtractionConfidence, Valid: e.ExtractionConfidence != 0}
	if e.ParsingError != nil {
		if b, err := json.Marshal(e.ParsingError); err == nil {
			row.ParsingErrorJSON = sql.NullString{String: string(b), Valid: true}
		}
	}
	return row
}

func (r emailRow) toModel() model.Email {
	e := model.Email{
		MessageID:  r.MessageID,
		Sender:     r.Sender,
		Subject:    r.Subject,
		Body:       r.Body,
		ReceivedAt: r.ReceivedAt,
		IsAlert:    r.IsAlert,
		Processed:  r.Processed,
		IngestedAt: r.IngestedAt,
		LastUpdated: r.LastUpdated,
		ExtractionConfidence: r.ExtractionConfidence.Float64,
	}
	if r.ExtractedAmount.Valid {
		e.ExtractedAmount = &r.ExtractedAmount.String
	}
	if r.ExtractedCurrency.Valid {
		e.ExtractedCurrency = &r.ExtractedCurrency.String
	}
	if r.ExtractedReference.Valid {
		e.ExtractedReference = &r.ExtractedReference.String
	}
	if r.ExtractedAccountRef.Valid {
		e.ExtractedAccountRef = &r.ExtractedAccountRef.String
	}
	if r.ExtractedInstant.Valid {
		e.ExtractedInstant = &r.ExtractedInstant.Time
	}
	if r.ExtractedType.Valid {
		e.ExtractedType = model.TransactionType(r.ExtractedType.String)
	}
	if r.ExtractionMethod.Valid {
		e.ExtractionMethod = model.ExtractionMethod(r.ExtractionMethod.String)
	}
	if r.ParsingErrorJSON.Valid {
		var pe model.ProcessingError
		if json.Unmarshal([]byte(r.ParsingErrorJSON.String), &pe) == nil {
			e.ParsingError = &pe
		}
	}
	return e
}

func (s *Store) UpsertEmail(ctx context.Context, canon model.CanonicalEmail, raw model.Email) (store.UpsertResult, error) {
	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM emails WHERE message_id = $1)`, raw.MessageID); err != nil {
		return store.UpsertResult{}, fmt.Errorf("%w: check email existence: %v", store.ErrPersistenceFailed, err)
	}
	if exists {
		return store.UpsertResult{Created: false}, nil
	}

	row := toEmailRow(raw)
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO emails (
			message_id, sender, subject, body, received_at,
			extracted_amount, extracted_currency, extracted_reference, extracted_account_ref,
			extracted_instant, extracted_type, extraction_confidence, extraction_method,
			is_alert, processed, parsing_error, ingested_at, last_updated
		) VALUES (
			:message_id, :sender, :subject, :body, :received_at,
			:extracted_amount, :extracted_currency, :extracted_reference, :extracted_account_ref,
			:extracted_instant, :extracted_type, :extraction_confidence, :extraction_method,
			:is_alert, :processed, :parsing_error, :ingested_at, :last_updated
		) ON CONFLICT (message_id) DO NOTHING`, row)
	if err != nil {
		return store.UpsertResult{}, fmt.Errorf("%w: insert email: %v", store.ErrPersistenceFailed, err)
	}
	return store.UpsertResult{Created: true}, nil
}

type transactionRow struct {
	ExternalID   string          `db:"external_id"`
	SourceLabel  string          `db:"source_label"`
	Amount       string          `db:"amount"`
	Currency     string          `db:"currency"`
	Instant      time.Time       `db:"instant"`
	Description  string          `db:"description"`
	Reference    string          `db:"reference"`
	AccountRef   string          `db:"account_ref"`
	Counterparty string          `db:"counterparty"`
	Status       string          `db:"status"`
	Verified     bool            `db:"verified"`
	VerifiedAt   sql.NullTime    `db:"verified_at"`
}

func (s *Store) UpsertTransaction(ctx context.Context, canon model.CanonicalTransaction, raw model.Transaction) (store.UpsertResult, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM transactions WHERE source_label = $1 AND external_id = $2)`,
		raw.SourceLabel, raw.ExternalID)
	if err != nil {
		return store.UpsertResult{}, fmt.Errorf("%w: check transaction existence: %v", store.ErrPersistenceFailed, err)
	}
	if exists {
		return store.UpsertResult{Created: false}, nil
	}

	row := transactionRow{
		ExternalID: raw.ExternalID, SourceLabel: raw.SourceLabel, Amount: canon.Amount.StringFixed(2),
		Currency: canon.Currency, Instant: canon.Instant, Description: raw.Description,
		Reference: raw.Reference, AccountRef: raw.AccountRef, Counterparty: raw.Counterparty, Status: raw.Status,
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO transactions (
			external_id, source_label, amount, currency, instant,
			description, reference, account_ref, counterparty, status, verified
		) VALUES (
			:external_id, :source_label, :amount, :currency, :instant,
			:description, :reference, :account_ref, :counterparty, :status, false
		) ON CONFLICT (source_label, external_id) DO NOTHING`, row)
	if err != nil {
		return store.UpsertResult{}, fmt.Errorf("%w: insert transaction: %v", store.ErrPersistenceFailed, err)
	}
	return store.UpsertResult{Created: true}, nil
}

func (s *Store) ListUnmatchedEmails(ctx context.Context, limit int) ([]model.Email, error) {
	query := `
		SELECT e.* FROM emails e
		LEFT JOIN matches m ON m.email_id = e.message_id
		WHERE m.email_id IS NULL AND e.is_alert
		ORDER BY e.ingested_at ASC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	var rows []emailRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("%w: list unmatched emails: %v", store.ErrPersistenceFailed, err)
	}
	result := make([]model.Email, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.toModel())
	}
	return result, nil
}

func (s *Store) FindCandidateTransactions(ctx context.Context, q store.CandidateQuery) ([]model.Transaction, error) {
	if !q.HasAmount {
		return nil, nil
	}
	amount, err := decimal.NewFromString(q.Amount)
	if err != nil {
		return nil, nil
	}
	tolerance := amount.Abs().Mul(decimal.NewFromFloat(q.AmountTolerance))
	lowAmount := amount.Sub(tolerance)
	highAmount := amount.Add(tolerance)

	sqlStr := `SELECT * FROM transactions WHERE amount BETWEEN $1 AND $2`
	args := []interface{}{lowAmount.StringFixed(2), highAmount.StringFixed(2)}

	if q.RequireSameCurrency && q.HasCurrency {
		args = append(args, q.Currency)
		sqlStr += fmt.Sprintf(" AND currency = $%d", len(args))
	}
	if q.HasInstant {
		args = append(args, q.Instant.Add(-time.Duration(q.WindowHours*float64(time.Hour))))
		from := len(args)
		args = append(args, q.Instant.Add(time.Duration(q.WindowHours*float64(time.Hour))))
		to := len(args)
		sqlStr += fmt.Sprintf(" AND instant BETWEEN $%d AND $%d", from, to)
	}
	if q.ExcludeMatched {
		sqlStr += ` AND (external_id, source_label) NOT IN (
			SELECT COALESCE(match_details->>'externalId', ''), COALESCE(match_details->>'sourceLabel', '')
			FROM matches WHERE status = 'matched')`
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		sqlStr += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var rows []transactionRow
	if err := s.db.SelectContext(ctx, &rows, sqlStr, args...); err != nil {
		return nil, fmt.Errorf("%w: find candidate transactions: %v", store.ErrPersistenceFailed, err)
	}
	return fromTransactionRows(rows), nil
}

func fromTransactionRows(rows []transactionRow) []model.Transaction {
	result := make([]model.Transaction, 0, len(rows))
	for _, r := range rows {
		t := model.Transaction{
			ExternalID: r.ExternalID, SourceLabel: r.SourceLabel, Amount: r.Amount, Currency: r.Currency,
			Instant: r.Instant, Description: r.Description, Reference: r.Reference, AccountRef: r.AccountRef,
			Counterparty: r.Counterparty, Status: r.Status, Verified: r.Verified,
		}
		if r.VerifiedAt.Valid {
			t.VerifiedAt = &r.VerifiedAt.Time
		}
		result = append(result, t)
	}
	return result
}

func (s *Store) FindCandidatesByCompositeKey(ctx context.Context, q store.CompositeKeyQuery) ([]model.Transaction, error) {
	var rows []transactionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM transactions
		WHERE amount = $1 AND currency = $2
		AND to_char(instant, 'YYYY-MM-DD-HH24') = $3`,
		q.Amount, q.Currency, q.DateBucket)
	if err != nil {
		return nil, fmt.Errorf("%w: find candidates by composite key: %v", store.ErrPersistenceFailed, err)
	}
	return fromTransactionRows(rows), nil
}

func (s *Store) FindTransactionByExternalID(ctx context.Context, sourceLabel, externalID string) (*model.Transaction, error) {
	var row transactionRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM transactions WHERE source_label = $1 AND external_id = $2`, sourceLabel, externalID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find transaction by external id: %v", store.ErrPersistenceFailed, err)
	}
	result := fromTransactionRows([]transactionRow{row})
	return &result[0], nil
}

type matchRow struct {
	ID                string         `db:"id"`
	EmailID           string         `db:"email_id"`
	TransactionID     sql.NullString `db:"transaction_id"`
	Confidence        float64        `db:"confidence"`
	Status            string         `db:"status"`
	MatchMethod       string         `db:"match_method"`
	MatchDetailsBlob  sql.NullString `db:"match_details"`
	AlternativesBlob  sql.NullString `db:"alternatives"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
	Notes             sql.NullString `db:"notes"`
}

func (s *Store) GetMatchForEmail(ctx context.Context, emailID string) (*model.MatchResult, error) {
	var row matchRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM matches WHERE email_id = $1`, emailID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get match for email: %v", store.ErrPersistenceFailed, err)
	}
	return rowToMatchResult(row), nil
}

func rowToMatchResult(row matchRow) *model.MatchResult {
	result := &model.MatchResult{
		ID: row.ID, EmailID: row.EmailID, Confidence: row.Confidence,
		Status: statusFromPersisted(row.Status), CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt,
	}
	if row.Notes.Valid {
		result.Notes = row.Notes.String
	}
	if row.MatchDetailsBlob.Valid {
		var cand model.MatchCandidate
		if json.Unmarshal([]byte(row.MatchDetailsBlob.String), &cand) == nil {
			result.BestCandidate = &cand
		}
	}
	if row.AlternativesBlob.Valid {
		var alts []model.MatchCandidate
		if json.Unmarshal([]byte(row.AlternativesBlob.String), &alts) == nil {
			result.AlternativeCandidates = alts
		}
	}
	return result
}

func statusFromPersisted(s string) model.MatchStatus {
	switch model.PersistedStatus(s) {
	case model.PersistedMatched:
		return model.StatusAutoMatched
	case model.PersistedReview:
		return model.StatusNeedsReview
	case model.PersistedRejected:
		return model.StatusRejected
	case model.PersistedNoCandidates:
		return model.StatusNoCandidates
	default:
		return model.StatusNoCandidates
	}
}

func (s *Store) WriteMatch(ctx context.Context, result model.MatchResult) (string, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("%w: begin write match tx: %v", store.ErrPersistenceFailed, err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM matches WHERE email_id = $1`, result.EmailID); err != nil {
		tx.Rollback()
		return "", fmt.Errorf("%w: delete existing match: %v", store.ErrPersistenceFailed, err)
	}

	id := result.ID
	if id == "" {
		id = uuid.NewString()
	}
	var detailsBlob, altsBlob []byte
	var txnID sql.NullString
	if result.BestCandidate != nil {
		detailsBlob, _ = json.Marshal(result.BestCandidate)
		txnID = sql.NullString{String: result.BestCandidate.ExternalID, Valid: true}
	}
	if result.AlternativeCandidates != nil {
		altsBlob, _ = json.Marshal(result.AlternativeCandidates)
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO matches (id, email_id, transaction_id, confidence, status, match_method, match_details, alternatives, created_at, updated_at, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9, $10)`,
		id, result.EmailID, txnID, result.Confidence, string(result.Status.ToPersisted()), "weighted_rules",
		nullableJSON(detailsBlob), nullableJSON(altsBlob), now, result.Notes)
	if err != nil {
		tx.Rollback()
		return "", fmt.Errorf("%w: insert match: %v", store.ErrPersistenceFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("%w: commit write match: %v", store.ErrPersistenceFailed, err)
	}
	return id, nil
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func (s *Store) MarkEmailProcessed(ctx context.Context, emailID string, procErr *model.ProcessingError) error {
	var errJSON interface{}
	if procErr != nil {
		b, _ := json.Marshal(procErr)
		errJSON = string(b)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE emails SET processed = $1, parsing_error = $2, last_updated = $3
		WHERE message_id = $4`, procErr == nil, errJSON, time.Now().UTC(), emailID)
	if err != nil {
		return fmt.Errorf("%w: mark email processed: %v", store.ErrPersistenceFailed, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) MarkTransactionVerified(ctx context.Context, sourceLabel, externalID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions SET verified = true, verified_at = $1
		WHERE source_label = $2 AND external_id = $3 AND verified = false`, at, sourceLabel, externalID)
	if err != nil {
		return fmt.Errorf("%w: mark transaction verified: %v", store.ErrPersistenceFailed, err)
	}
	_ = res
	return nil
}

func (s *Store) AppendAudit(ctx context.Context, audit model.ActionAudit) (string, error) {
	if audit.ActionID == "" {
		audit.ActionID = uuid.NewString()
	}
	var txnID interface{}
	if audit.TransactionID != nil {
		txnID = *audit.TransactionID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO action_audits (
			action_id, action_kind, match_id, email_id, transaction_id, match_status_at_time,
			confidence_at_time, actor, start_instant, status, outcome_label, retry_count
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		audit.ActionID, string(audit.ActionKind), audit.MatchID, audit.EmailID, txnID,
		string(audit.MatchStatusAtTime), audit.ConfidenceAtTime, audit.Actor, audit.StartInstant,
		string(audit.Status), audit.OutcomeLabel, audit.RetryCount)
	if err != nil {
		return "", fmt.Errorf("%w: append audit: %v", store.ErrPersistenceFailed, err)
	}
	return audit.ActionID, nil
}

func (s *Store) UpdateAudit(ctx context.Context, actionID string, patch store.AuditPatch) error {
	sets := []string{}
	args := []interface{}{}
	add := func(col string, val interface{}) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	if patch.OutcomeLabel != nil {
		add("outcome_label", *patch.OutcomeLabel)
	}
	if patch.Message != nil {
		add("message", *patch.Message)
	}
	if patch.Error != nil {
		add("error", *patch.Error)
	}
	if patch.EndInstant != nil {
		add("end_instant", *patch.EndInstant)
	}
	if patch.DurationMillis != nil {
		add("duration_millis", *patch.DurationMillis)
	}
	if patch.PayloadBlob != nil {
		add("payload_blob", *patch.PayloadBlob)
	}
	if patch.RetryCount != nil {
		add("retry_count", *patch.RetryCount)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, actionID)
	query := fmt.Sprintf("UPDATE action_audits SET %s WHERE action_id = $%d", joinComma(sets), len(args))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: update audit: %v", store.ErrPersistenceFailed, err)
	}
	return nil
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}

func (s *Store) CleanupOldAudits(ctx context.Context, retentionDays int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	res, err := s.db.ExecContext(ctx, `DELETE FROM action_audits WHERE start_instant < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: cleanup old audits: %v", store.ErrPersistenceFailed, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) GetCanonicalTransaction(ctx context.Context, sourceLabel, externalID string) (*model.CanonicalTransaction, error) {
	t, err := s.FindTransactionByExternalID(ctx, sourceLabel, externalID)
	if err != nil || t == nil {
		return nil, err
	}
	ct, ok := normalize.CanonicalizeTransaction(normalize.RawTransactionFields{
		ExternalID: t.ExternalID, SourceLabel: t.SourceLabel, Amount: t.Amount, Currency: t.Currency,
		Instant: t.Instant, Reference: t.Reference, AccountRef: t.AccountRef,
		Description: t.Description, Counterparty: t.Counterparty, Status: t.Status,
	}, s.aliases)
	if !ok {
		return nil, nil
	}
	return &ct, nil
}

func (s *Store) GetCanonicalEmail(ctx context.Context, messageID string) (*model.CanonicalEmail, error) {
	var row emailRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM emails WHERE message_id = $1`, messageID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get canonical email: %v", store.ErrPersistenceFailed, err)
	}
	e := row.toModel()
	f := normalize.RawEmailFields{MessageID: e.MessageID, Sender: e.Sender, Subject: e.Subject}
	if e.ExtractedAmount != nil {
		f.Amount = *e.ExtractedAmount
	}
	if e.ExtractedCurrency != nil {
		f.Currency = *e.ExtractedCurrency
	}
	if e.ExtractedReference != nil {
		f.Reference = *e.ExtractedReference
	}
	if e.ExtractedAccountRef != nil {
		f.AccountRef = *e.ExtractedAccountRef
	}
	if e.ExtractedInstant != nil {
		f.HasInstant = true
		f.InstantTime = *e.ExtractedInstant
	}
	ce := normalize.CanonicalizeEmail(f, s.aliases)
	return &ce, nil
}

var _ store.Repository = (*Store)(nil)
