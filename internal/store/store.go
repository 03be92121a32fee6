// Package store defines the storage repository the rest of the engine
// depends on, and the shared error/query types its implementations use.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/fntelecomllc/bankreconciler/internal/model"
)

// ErrNotFound is returned by single-row lookups that find nothing.
var ErrNotFound = errors.New("store: not found")

// ErrPersistenceFailed wraps an underlying storage failure. Repository
// implementations return it on the first failure; they do not retry.
var ErrPersistenceFailed = errors.New("store: persistence failed")

// CandidateQuery carries the parameters findCandidateTransactions accepts.
type CandidateQuery struct {
	Amount             string
	HasAmount          bool
	Currency           string
	HasCurrency        bool
	Instant            time.Time
	HasInstant         bool
	WindowHours        float64
	AmountTolerance    float64
	RequireSameCurrency bool
	ExcludeMatched     bool
	Limit              int
}

// CompositeKeyQuery carries the parameters findCandidatesByCompositeKey
// accepts.
type CompositeKeyQuery struct {
	Amount      string
	Currency    string
	DateBucket  string
	WindowHours float64
}

// UpsertResult reports whether an upsert created a new row.
type UpsertResult struct {
	Created bool
}

// AuditPatch is the subset of ActionAudit fields updateAudit may mutate.
type AuditPatch struct {
	Status         *model.ActionStatus
	OutcomeLabel   *string
	Message        *string
	Error          *string
	EndInstant     *time.Time
	DurationMillis *int64
	PayloadBlob    *string
	RetryCount     *int
}

// Repository is the storage contract consumed by the core, matching §4.4.
type Repository interface {
	UpsertTransaction(ctx context.Context, t model.CanonicalTransaction, raw model.Transaction) (UpsertResult, error)
	UpsertEmail(ctx context.Context, e model.CanonicalEmail, raw model.Email) (UpsertResult, error)

	ListUnmatchedEmails(ctx context.Context, limit int) ([]model.Email, error)
	FindCandidateTransactions(ctx context.Context, q CandidateQuery) ([]model.Transaction, error)
	FindCandidatesByCompositeKey(ctx context.Context, q CompositeKeyQuery) ([]model.Transaction, error)
	FindTransactionByExternalID(ctx context.Context, sourceLabel, externalID string) (*model.Transaction, error)

	GetMatchForEmail(ctx context.Context, emailID string) (*model.MatchResult, error)
	WriteMatch(ctx context.Context, result model.MatchResult) (string, error)
	MarkEmailProcessed(ctx context.Context, emailID string, procErr *model.ProcessingError) error
	MarkTransactionVerified(ctx context.Context, sourceLabel, externalID string, at time.Time) error

	AppendAudit(ctx context.Context, audit model.ActionAudit) (string, error)
	UpdateAudit(ctx context.Context, actionID string, patch AuditPatch) error

	CleanupOldAudits(ctx context.Context, retentionDays int) (int, error)

	// GetCanonicalTransaction returns the transaction's canonical view by
	// (sourceLabel, externalId), or nil when no such row exists.
	GetCanonicalTransaction(ctx context.Context, sourceLabel, externalID string) (*model.CanonicalTransaction, error)
	GetCanonicalEmail(ctx context.Context, messageID string) (*model.CanonicalEmail, error)
}

// BulkTransactionStager is an optional capability a Repository may implement
// for a batch-insert fast path over large transaction pages, bypassing one
// round trip per row. Callers should type-assert for it and fall back to
// per-row UpsertTransaction when a repository doesn't implement it.
type BulkTransactionStager interface {
	BulkStageTransactions(ctx context.Context, rows []model.Transaction, canon []model.CanonicalTransaction) (int, error)
}
