// Package retriever turns a canonical email into a bounded list of
// candidate transactions, applying the configured window/tolerance and a
// short-TTL cache to avoid repeated identical storage queries within a
// cycle.
package retriever

import (
	"context"
	"fmt"
	"time"

	"github.com/fntelecomllc/bankreconciler/internal/config"
	"github.com/fntelecomllc/bankreconciler/internal/logging"
	"github.com/fntelecomllc/bankreconciler/internal/model"
	"github.com/fntelecomllc/bankreconciler/internal/normalize"
	"github.com/fntelecomllc/bankreconciler/internal/store"
	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
)

var log = logging.For("retriever")

// Retriever queries storage for plausible transaction candidates for a
// given email and converts rows to canonical form.
type Retriever struct {
	repo    store.Repository
	cfg     *config.Config
	aliases *normalize.AliasTable
	cache   *gocache.Cache
}

// New builds a Retriever bound to repo and cfg. aliases is used to rebuild
// the canonical view of every candidate row the repository returns.
func New(repo store.Repository, cfg *config.Config, aliases *normalize.AliasTable) *Retriever {
	ttl := time.Duration(cfg.Retrieval.CacheTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	return &Retriever{
		repo:    repo,
		cfg:     cfg,
		aliases: aliases,
		cache:   gocache.New(ttl, 2*ttl),
	}
}

func cacheKey(email model.CanonicalEmail) string {
	key := "none"
	if email.CompositeKey != nil {
		key = email.CompositeKey.String()
	}
	return fmt.Sprintf("candidates:%s:%s", email.MessageID, key)
}

// FindCandidates retrieves candidates for email using the configured
// window/tolerance, re-applies the predicates as a paranoid post-filter,
// and truncates to maxCandidates.
func (r *Retriever) FindCandidates(ctx context.Context, email model.CanonicalEmail) ([]model.CanonicalTransaction, error) {
	if email.Amount == nil {
		log.Info("find_candidates", "no amount on email, returning empty candidate set", logging.Fields{"emailId": email.MessageID})
		return nil, nil
	}

	key := cacheKey(email)
	if cached, ok := r.cache.Get(key); ok {
		return cached.([]model.CanonicalTransaction), nil
	}

	query := store.CandidateQuery{
		Amount: email.Amount.StringFixed(2), HasAmount: true,
		WindowHours:         r.cfg.Retrieval.WindowHours,
		AmountTolerance:     r.cfg.Retrieval.AmountTolerance,
		RequireSameCurrency: r.cfg.Retrieval.RequireSameCurrency,
		ExcludeMatched:      r.cfg.Retrieval.ExcludeMatched,
		Limit:               r.cfg.Retrieval.MaxCandidates * 4,
	}
	if email.Currency != nil {
		query.Currency = *email.Currency
		query.HasCurrency = true
	}
	if email.Instant != nil {
		query.Instant = *email.Instant
		query.HasInstant = true
	}

	rows, err := r.repo.FindCandidateTransactions(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retriever: find candidates: %w", err)
	}
	before := len(rows)

	candidates := make([]model.CanonicalTransaction, 0, len(rows))
	for _, t := range rows {
		ct, ok := normalize.CanonicalizeTransaction(normalize.RawTransactionFields{
			ExternalID: t.ExternalID, SourceLabel: t.SourceLabel, Amount: t.Amount, Currency: t.Currency,
			Instant: t.Instant, Reference: t.Reference, AccountRef: t.AccountRef,
			Description: t.Description, Counterparty: t.Counterparty, Status: t.Status,
		}, r.aliases)
		if !ok {
			continue
		}
		if !r.passesPostFilter(email, ct) {
			continue
		}
		candidates = append(candidates, ct)
	}

	if len(candidates) > r.cfg.Retrieval.MaxCandidates {
		candidates = candidates[:r.cfg.Retrieval.MaxCandidates]
	}

	log.Info("find_candidates", "retrieved candidates", logging.Fields{
		"emailId": email.MessageID, "before": before, "after": len(candidates),
	})

	r.cache.Set(key, candidates, gocache.DefaultExpiration)
	return candidates, nil
}

// passesPostFilter repeats the candidate-search predicates defensively, in
// case the storage implementation's query was loosened for performance.
func (r *Retriever) passesPostFilter(email model.CanonicalEmail, txn model.CanonicalTransaction) bool {
	if email.Amount == nil {
		return false
	}
	diff := email.Amount.Sub(txn.Amount).Abs()
	allowed := email.Amount.Abs().Mul(decimal.NewFromFloat(r.cfg.Retrieval.AmountTolerance))
	if diff.GreaterThan(allowed) {
		return false
	}
	if r.cfg.Retrieval.RequireSameCurrency && email.Currency != nil && *email.Currency != txn.Currency {
		return false
	}
	if email.Instant != nil {
		delta := email.Instant.Sub(txn.Instant)
		if delta < 0 {
			delta = -delta
		}
		if delta.Hours() > r.cfg.Retrieval.WindowHours {
			return false
		}
	}
	return true
}

// FindCandidatesByCompositeKey uses the email's composite key bucket for a
// tight, 1-hour-window match, for callers that want precision over recall.
func (r *Retriever) FindCandidatesByCompositeKey(ctx context.Context, email model.CanonicalEmail) ([]model.CanonicalTransaction, error) {
	if email.CompositeKey == nil {
		return nil, nil
	}
	rows, err := r.repo.FindCandidatesByCompositeKey(ctx, store.CompositeKeyQuery{
		Amount:      email.CompositeKey.AmountString,
		Currency:    email.CompositeKey.Currency,
		DateBucket:  email.CompositeKey.DateBucket,
		WindowHours: r.cfg.Retrieval.CompositeKeyWindowHours,
	})
	if err != nil {
		return nil, fmt.Errorf("retriever: find candidates by composite key: %w", err)
	}
	candidates := make([]model.CanonicalTransaction, 0, len(rows))
	for _, t := range rows {
		ct, ok := normalize.CanonicalizeTransaction(normalize.RawTransactionFields{
			ExternalID: t.ExternalID, SourceLabel: t.SourceLabel, Amount: t.Amount, Currency: t.Currency,
			Instant: t.Instant, Reference: t.Reference, AccountRef: t.AccountRef,
			Description: t.Description, Counterparty: t.Counterparty, Status: t.Status,
		}, r.aliases)
		if ok {
			candidates = append(candidates, ct)
		}
	}
	return candidates, nil
}
