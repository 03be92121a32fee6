// Package source defines the pluggable puller contract for email and
// transaction sources, and ships a mock email puller, HTTP-backed email and
// transaction pullers, and a heuristic extraction collaborator.
package source

import (
	"context"
	"time"

	"github.com/fntelecomllc/bankreconciler/internal/model"
)

// RawEmail is a source-agnostic email record before canonicalization.
type RawEmail struct {
	MessageID  string
	Sender     string
	Subject    string
	Body       string
	ReceivedAt time.Time
}

// RawTransaction is a source-agnostic transaction record before
// canonicalization.
type RawTransaction struct {
	ExternalID   string
	Amount       string
	Currency     string
	Instant      time.Time
	Status       string
	Reference    string
	Description  string
	AccountRef   string
	Counterparty string
}

// EmailPuller produces raw email records for a time range. Implementations
// must be safe to call concurrently but are not required to be; the
// orchestrator serializes calls per source.
type EmailPuller interface {
	Fetch(ctx context.Context, since, until time.Time, limit, offset int) ([]RawEmail, error)
	GetByID(ctx context.Context, messageID string) (*RawEmail, error)
	Validate(ctx context.Context) error
	SourceLabel() string
}

// TransactionPuller produces raw transaction records for a time range,
// idempotent by (sourceLabel, externalId).
type TransactionPuller interface {
	Fetch(ctx context.Context, since, until time.Time, limit, offset int) ([]RawTransaction, error)
	GetByID(ctx context.Context, externalID string) (*RawTransaction, error)
	Validate(ctx context.Context) error
	SourceLabel() string
}

// ExtractionResult is the email extraction collaborator's output, per §6.
type ExtractionResult struct {
	Amount            *string
	Currency          *string
	Reference         *string
	AccountSegment    *string
	TransactionInstant *time.Time
	TransactionType   model.TransactionType
	Confidence        float64
	Method            model.ExtractionMethod
	IsAlert           bool
}

// EmailExtractor is the opaque field-extraction collaborator: it receives a
// raw email and returns optional structured fields plus a confidence score.
// The core treats it as a narrow interface so a model-backed implementation
// can be swapped in without touching the fetch pipeline.
type EmailExtractor interface {
	Extract(ctx context.Context, email RawEmail) (ExtractionResult, error)
}

// PreFilterConfig controls the email fetcher's pre-filter, applied before
// handing survivors to the extractor.
type PreFilterConfig struct {
	SenderDomainAllowlist []string
	SubjectKeywords       []string
	SubjectDenylist       []string
	MinBodyLength         int
}
