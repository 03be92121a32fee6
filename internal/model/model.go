// Package model defines the core entities the reconciliation engine operates
// on: raw and canonical emails/transactions, the scoring and match types, and
// the audit/run records the rest of the system persists or reports.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExtractionMethod identifies how an email's structured fields were derived.
type ExtractionMethod string

const (
	ExtractionStructured ExtractionMethod = "structured"
	ExtractionModel      ExtractionMethod = "model"
	ExtractionHybrid     ExtractionMethod = "hybrid"
)

// TransactionType is the credit/debit classification surfaced as a scoring
// diagnostic; it never carries rule weight unless explicitly configured.
type TransactionType string

const (
	TransactionCredit  TransactionType = "credit"
	TransactionDebit   TransactionType = "debit"
	TransactionUnknown TransactionType = "unknown"
)

// ProcessingError carries a stage-tagged failure recorded against an Email or
// a Transaction ingestion attempt. It gives the "malformed input" category a
// concrete carrier instead of a bare string.
type ProcessingError struct {
	Stage      string    `json:"stage"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurredAt"`
}

func (p *ProcessingError) String() string {
	if p == nil {
		return ""
	}
	return p.Stage + ": " + p.Message
}

// Email is the raw, as-ingested alert message.
type Email struct {
	MessageID   string    `json:"messageId" db:"message_id"`
	Sender      string    `json:"sender" db:"sender"`
	Subject     string    `json:"subject" db:"subject"`
	Body        string    `json:"body" db:"body"`
	ReceivedAt  time.Time `json:"receivedAt" db:"received_at"`

	// Optional pre-extracted fields, populated by the extraction collaborator.
	ExtractedAmount     *string          `json:"extractedAmount,omitempty" db:"extracted_amount"`
	ExtractedCurrency   *string          `json:"extractedCurrency,omitempty" db:"extracted_currency"`
	ExtractedReference  *string          `json:"extractedReference,omitempty" db:"extracted_reference"`
	ExtractedAccountRef *string          `json:"extractedAccountRef,omitempty" db:"extracted_account_ref"`
	ExtractedInstant    *time.Time       `json:"extractedInstant,omitempty" db:"extracted_instant"`
	ExtractedType       TransactionType  `json:"extractedType,omitempty" db:"extracted_type"`
	ExtractionConfidence float64         `json:"extractionConfidence,omitempty" db:"extraction_confidence"`
	ExtractionMethod     ExtractionMethod `json:"extractionMethod,omitempty" db:"extraction_method"`
	IsAlert              bool             `json:"isAlert" db:"is_alert"`

	Processed    bool             `json:"processed" db:"processed"`
	ParsingError *ProcessingError `json:"parsingError,omitempty" db:"parsing_error"`
	IngestedAt   time.Time        `json:"ingestedAt" db:"ingested_at"`
	LastUpdated  time.Time        `json:"lastUpdated" db:"last_updated"`
}

// Transaction is the raw, as-ingested payment-provider record.
type Transaction struct {
	ExternalID   string    `json:"externalId" db:"external_id"`
	SourceLabel  string    `json:"sourceLabel" db:"source_label"`
	Amount       string    `json:"amount" db:"amount"`
	Currency     string    `json:"currency" db:"currency"`
	Instant      time.Time `json:"instant" db:"instant"`
	Description  string    `json:"description" db:"description"`
	Reference    string    `json:"reference" db:"reference"`
	AccountRef   string    `json:"accountRef" db:"account_ref"`
	Counterparty string    `json:"counterparty" db:"counterparty"`
	Status       string    `json:"status" db:"status"`

	Verified   bool       `json:"verified" db:"verified"`
	VerifiedAt *time.Time `json:"verifiedAt,omitempty" db:"verified_at"`

	IngestionError *ProcessingError `json:"ingestionError,omitempty" db:"-"`
}

// ReferenceBundle holds the several normalized views of a reference string
// that rules compare against.
type ReferenceBundle struct {
	Original       string   `json:"original"`
	Cleaned        string   `json:"cleaned"`
	AlphanumericOnly string `json:"alphanumericOnly"`
	Tokens         []string `json:"tokens"`
}

// Enrichment is bank-identity metadata derived from sender/subject matching
// against the configured alias table.
type Enrichment struct {
	BankCode             string  `json:"bankCode"`
	BankName             string  `json:"bankName"`
	Category             string  `json:"category"`
	EnrichmentConfidence float64 `json:"enrichmentConfidence"`
}

// CompositeKey is a deterministic, coarse-grained fingerprint used for cheap
// candidate grouping. It does not uniquely identify an entity.
type CompositeKey struct {
	AmountString      string   `json:"amountString"`
	Currency          string   `json:"currency"`
	DateBucket        string   `json:"dateBucket"`
	TopReferenceTokens []string `json:"topReferenceTokens"`
	AccountLast4      string   `json:"accountLast4"`
}

// String renders the composite key's canonical string form:
// amount|currency|dateBucket|tok1_tok2_tok3|last4
func (k CompositeKey) String() string {
	toks := ""
	for i, t := range k.TopReferenceTokens {
		if i > 0 {
			toks += "_"
		}
		toks += t
	}
	return k.AmountString + "|" + k.Currency + "|" + k.DateBucket + "|" + toks + "|" + k.AccountLast4
}

// CanonicalEmail is the normalized, comparable representation of an Email.
type CanonicalEmail struct {
	MessageID      string
	Amount         *decimal.Decimal
	Currency       *string
	Instant        *time.Time
	InstantUnknown bool
	Reference      *ReferenceBundle
	AccountRef     *string
	Enrichment     *Enrichment
	CompositeKey   *CompositeKey
	Sender         string
	Subject        string
	TransactionType TransactionType
}

// CanonicalTransaction is the normalized, comparable representation of a
// Transaction.
type CanonicalTransaction struct {
	ExternalID     string
	SourceLabel    string
	Amount         decimal.Decimal
	Currency       string
	Instant        time.Time
	InstantUnknown bool
	Reference      *ReferenceBundle
	AccountRef     *string
	Enrichment     *Enrichment
	CompositeKey   *CompositeKey
	Description    string
	Counterparty   string
	Status         string
}

// RuleScore is the output of one scoring rule applied to a single candidate
// pair.
type RuleScore struct {
	RuleName string                 `json:"ruleName"`
	Raw      float64                `json:"raw"`
	Weight   float64                `json:"weight"`
	Weighted float64                `json:"weighted"`
	Details  map[string]interface{} `json:"details,omitempty"`
}

// MatchCandidate is one scored transaction carrying its ordered RuleScores
// and total.
type MatchCandidate struct {
	Transaction CanonicalTransaction `json:"-"`
	ExternalID  string               `json:"externalId"`
	Scores      []RuleScore          `json:"scores"`
	Total       float64              `json:"total"`
	Rank        int                  `json:"rank"`
}

// MatchStatus is the decision produced by the scorer/ranker for one email.
type MatchStatus string

const (
	StatusAutoMatched MatchStatus = "auto_matched"
	StatusNeedsReview MatchStatus = "needs_review"
	StatusRejected    MatchStatus = "rejected"
	StatusNoCandidates MatchStatus = "no_candidates"
)

// PersistedStatus is the storage-layer encoding of a MatchStatus.
type PersistedStatus string

const (
	PersistedMatched     PersistedStatus = "matched"
	PersistedReview       PersistedStatus = "review"
	PersistedRejected     PersistedStatus = "rejected"
	PersistedNoCandidates PersistedStatus = "no_candidates"
	PersistedPending      PersistedStatus = "pending"
)

// ToPersisted maps an internal MatchStatus to its stored representation.
func (s MatchStatus) ToPersisted() PersistedStatus {
	switch s {
	case StatusAutoMatched:
		return PersistedMatched
	case StatusNeedsReview:
		return PersistedReview
	case StatusRejected:
		return PersistedRejected
	case StatusNoCandidates:
		return PersistedNoCandidates
	default:
		return PersistedPending
	}
}

// MatchResult is the decision for one email, with its best candidate and
// bounded alternatives.
type MatchResult struct {
	ID                   string           `json:"id,omitempty"`
	EmailID              string           `json:"emailId"`
	BestCandidate        *MatchCandidate  `json:"bestCandidate,omitempty"`
	AlternativeCandidates []MatchCandidate `json:"alternativeCandidates"`
	Status               MatchStatus      `json:"status"`
	Confidence           float64          `json:"confidence"`
	CreatedAt            time.Time        `json:"createdAt"`
	UpdatedAt            time.Time        `json:"updatedAt"`
	Notes                string           `json:"notes,omitempty"`
}

// ActionStatus tracks the lifecycle of one dispatched action.
type ActionStatus string

const (
	ActionPending  ActionStatus = "pending"
	ActionRunning  ActionStatus = "running"
	ActionSuccess  ActionStatus = "success"
	ActionFailed   ActionStatus = "failed"
	ActionSkipped  ActionStatus = "skipped"
	ActionRetrying ActionStatus = "retrying"
)

// ActionKind names one post-match operation the dispatcher can execute.
type ActionKind string

const (
	ActionMarkVerified        ActionKind = "mark_verified"
	ActionUpdateStatus        ActionKind = "update_status"
	ActionNotifyExternal      ActionKind = "notify_external_system"
	ActionSendWebhook         ActionKind = "send_webhook"
	ActionCreateTicket        ActionKind = "create_ticket"
	ActionSendEmail           ActionKind = "send_email"
	ActionFlagUnmatched       ActionKind = "flag_unmatched"
	ActionEscalate            ActionKind = "escalate"
)

// ActionAudit is one append-only row describing an attempted action.
type ActionAudit struct {
	ActionID          string       `json:"actionId" db:"action_id"`
	ActionKind        ActionKind   `json:"actionKind" db:"action_kind"`
	MatchID           string       `json:"matchId" db:"match_id"`
	EmailID           string       `json:"emailId" db:"email_id"`
	TransactionID     *string      `json:"transactionId,omitempty" db:"transaction_id"`
	MatchStatusAtTime MatchStatus  `json:"matchStatusAtTime" db:"match_status_at_time"`
	ConfidenceAtTime  float64      `json:"confidenceAtTime" db:"confidence_at_time"`
	Actor             string       `json:"actor" db:"actor"`
	StartInstant      time.Time    `json:"startInstant" db:"start_instant"`
	EndInstant        *time.Time   `json:"endInstant,omitempty" db:"end_instant"`
	DurationMillis    *int64       `json:"durationMillis,omitempty" db:"duration_millis"`
	Status            ActionStatus `json:"status" db:"status"`
	OutcomeLabel      string       `json:"outcomeLabel,omitempty" db:"outcome_label"`
	Message           *string      `json:"message,omitempty" db:"message"`
	Error             *string      `json:"error,omitempty" db:"error"`
	RetryCount        int          `json:"retryCount" db:"retry_count"`
	PayloadBlob       *string      `json:"payloadBlob,omitempty" db:"payload_blob"`
}

// Outcome is the dispatcher-level classification derived from a persisted
// Match.
type Outcome string

const (
	OutcomeMatched   Outcome = "MATCHED"
	OutcomeAmbiguous Outcome = "AMBIGUOUS"
	OutcomeUnmatched Outcome = "UNMATCHED"
	OutcomeReview    Outcome = "REVIEW"
	OutcomeRejected  Outcome = "REJECTED"
)

// ActionResult is what an action handler returns.
type ActionResult struct {
	Kind         ActionKind             `json:"kind"`
	Status       ActionStatus           `json:"status"`
	OutcomeLabel string                 `json:"outcomeLabel"`
	Message      string                 `json:"message,omitempty"`
	Error        string                 `json:"error,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// BankAlias is one row of the bank-identity alias table loaded from config.
type BankAlias struct {
	Alias    string   `mapstructure:"alias" json:"alias"`
	Code     string   `mapstructure:"code" json:"code"`
	Name     string   `mapstructure:"name" json:"name"`
	Category string   `mapstructure:"category" json:"category"`
	Domains  []string `mapstructure:"domains" json:"domains"`
}
