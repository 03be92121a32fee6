// Package memory implements store.Repository entirely in process memory. It
// backs tests and reconciled when no database DSN is configured; it has no pack-grounded
// precedent (the teacher's only persistence layer is Postgres-backed), so it
// is a from-scratch implementation of the operations store.Repository names,
// concurrency-guarded by a single mutex — adequate for its single-process
// use cases.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fntelecomllc/bankreconciler/internal/model"
	"github.com/fntelecomllc/bankreconciler/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type txnKey struct {
	sourceLabel string
	externalID  string
}

// Store is an in-memory store.Repository implementation.
type Store struct {
	mu sync.Mutex

	emails       map[string]model.Email
	canonEmails  map[string]model.CanonicalEmail
	txns         map[txnKey]model.Transaction
	canonTxns    map[txnKey]model.CanonicalTransaction
	matches      map[string]model.MatchResult // keyed by emailId
	matchIDs     map[string]string            // matchId -> emailId
	audits       map[string]model.ActionAudit
	matchedTxnIDs map[string]bool // externalId -> referenced by an auto_matched Match
}

// New builds an empty in-memory store.
func New() *Store {
	return &Store{
		emails:        make(map[string]model.Email),
		canonEmails:   make(map[string]model.CanonicalEmail),
		txns:          make(map[txnKey]model.Transaction),
		canonTxns:     make(map[txnKey]model.CanonicalTransaction),
		matches:       make(map[string]model.MatchResult),
		matchIDs:      make(map[string]string),
		audits:        make(map[string]model.ActionAudit),
		matchedTxnIDs: make(map[string]bool),
	}
}

func (s *Store) UpsertTransaction(ctx context.Context, t model.CanonicalTransaction, raw model.Transaction) (store.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := txnKey{sourceLabel: raw.SourceLabel, externalID: raw.ExternalID}
	if _, exists := s.txns[key]; exists {
		return store.UpsertResult{Created: false}, nil
	}
	s.txns[key] = raw
	s.canonTxns[key] = t
	return store.UpsertResult{Created: true}, nil
}

func (s *Store) UpsertEmail(ctx context.Context, e model.CanonicalEmail, raw model.Email) (store.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.emails[raw.MessageID]; exists {
		return store.UpsertResult{Created: false}, nil
	}
	s.emails[raw.MessageID] = raw
	s.canonEmails[raw.MessageID] = e
	return store.UpsertResult{Created: true}, nil
}

func (s *Store) ListUnmatchedEmails(ctx context.Context, limit int) ([]model.Email, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []model.Email
	for id, e := range s.emails {
		if !e.IsAlert {
			continue
		}
		if _, matched := s.matches[id]; matched {
			continue
		}
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].IngestedAt.Before(result[j].IngestedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func withinTolerance(amount, candidate decimal.Decimal, tolerance float64) bool {
	diff := amount.Sub(candidate).Abs()
	allowed := amount.Abs().Mul(decimal.NewFromFloat(tolerance))
	return diff.LessThanOrEqual(allowed)
}

func (s *Store) FindCandidateTransactions(ctx context.Context, q store.CandidateQuery) ([]model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !q.HasAmount {
		return nil, nil
	}
	amount, err := decimal.NewFromString(q.Amount)
	if err != nil {
		return nil, nil
	}

	var result []model.Transaction
	for key, ct := range s.canonTxns {
		if !withinTolerance(amount, ct.Amount, q.AmountTolerance) {
			continue
		}
		if q.RequireSameCurrency && q.HasCurrency && ct.Currency != q.Currency {
			continue
		}
		if q.HasInstant {
			delta := q.Instant.Sub(ct.Instant)
			if delta < 0 {
				delta = -delta
			}
			if delta.Hours() > q.WindowHours {
				continue
			}
		}
		if q.ExcludeMatched && s.matchedTxnIDs[key.externalID] {
			continue
		}
		result = append(result, s.txns[key])
	}
	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

func (s *Store) FindCandidatesByCompositeKey(ctx context.Context, q store.CompositeKeyQuery) ([]model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []model.Transaction
	for key, ct := range s.canonTxns {
		if ct.CompositeKey == nil {
			continue
		}
		if ct.CompositeKey.AmountString != q.Amount || ct.CompositeKey.Currency != q.Currency {
			continue
		}
		if ct.CompositeKey.DateBucket != q.DateBucket {
			continue
		}
		result = append(result, s.txns[key])
	}
	return result, nil
}

func (s *Store) FindTransactionByExternalID(ctx context.Context, sourceLabel, externalID string) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.txns[txnKey{sourceLabel, externalID}]; ok {
		cp := t
		return &cp, nil
	}
	return nil, nil
}

func (s *Store) GetMatchForEmail(ctx context.Context, emailID string) (*model.MatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.matches[emailID]; ok {
		cp := m
		return &cp, nil
	}
	return nil, nil
}

func (s *Store) WriteMatch(ctx context.Context, result model.MatchResult) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.matches[result.EmailID]; ok {
		delete(s.matchIDs, existing.ID)
		if existing.BestCandidate != nil {
			delete(s.matchedTxnIDs, existing.BestCandidate.ExternalID)
		}
	}

	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if result.CreatedAt.IsZero() {
		result.CreatedAt = now
	}
	result.UpdatedAt = now

	s.matches[result.EmailID] = result
	s.matchIDs[result.ID] = result.EmailID

	if result.Status == model.StatusAutoMatched && result.BestCandidate != nil {
		s.matchedTxnIDs[result.BestCandidate.ExternalID] = true
	}

	return result.ID, nil
}

func (s *Store) MarkEmailProcessed(ctx context.Context, emailID string, procErr *model.ProcessingError) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.emails[emailID]
	if !ok {
		return store.ErrNotFound
	}
	e.Processed = procErr == nil
	e.ParsingError = procErr
	e.LastUpdated = time.Now().UTC()
	s.emails[emailID] = e
	return nil
}

func (s *Store) MarkTransactionVerified(ctx context.Context, sourceLabel, externalID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := txnKey{sourceLabel, externalID}
	t, ok := s.txns[key]
	if !ok {
		return store.ErrNotFound
	}
	if t.Verified {
		return nil
	}
	t.Verified = true
	verifiedAt := at
	t.VerifiedAt = &verifiedAt
	s.txns[key] = t
	return nil
}

func (s *Store) AppendAudit(ctx context.Context, audit model.ActionAudit) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if audit.ActionID == "" {
		audit.ActionID = uuid.NewString()
	}
	s.audits[audit.ActionID] = audit
	return audit.ActionID, nil
}

func (s *Store) UpdateAudit(ctx context.Context, actionID string, patch store.AuditPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.audits[actionID]
	if !ok {
		return store.ErrNotFound
	}
	if patch.Status != nil {
		a.Status = *patch.Status
	}
	if patch.OutcomeLabel != nil {
		a.OutcomeLabel = *patch.OutcomeLabel
	}
	if patch.Message != nil {
		a.Message = patch.Message
	}
	if patch.Error != nil {
		a.Error = patch.Error
	}
	if patch.EndInstant != nil {
		a.EndInstant = patch.EndInstant
	}
	if patch.DurationMillis != nil {
		a.DurationMillis = patch.DurationMillis
	}
	if patch.PayloadBlob != nil {
		a.PayloadBlob = patch.PayloadBlob
	}
	if patch.RetryCount != nil {
		a.RetryCount = *patch.RetryCount
	}
	s.audits[actionID] = a
	return nil
}

func (s *Store) CleanupOldAudits(ctx context.Context, retentionDays int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	removed := 0
	for id, a := range s.audits {
		if a.StartInstant.Before(cutoff) {
			delete(s.audits, id)
			removed++
		}
	}
	return removed, nil
}

func (s *Store) GetCanonicalTransaction(ctx context.Context, sourceLabel, externalID string) (*model.CanonicalTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ct, ok := s.canonTxns[txnKey{sourceLabel, externalID}]; ok {
		cp := ct
		return &cp, nil
	}
	return nil, nil
}

func (s *Store) GetCanonicalEmail(ctx context.Context, messageID string) (*model.CanonicalEmail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ce, ok := s.canonEmails[messageID]; ok {
		cp := ce
		return &cp, nil
	}
	return nil, nil
}

var _ store.Repository = (*Store)(nil)
