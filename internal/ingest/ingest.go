// Package ingest turns raw puller output into normalized, upserted storage
// rows, backing orchestrator phases 1 and 2.
package ingest

import (
	"context"
	"time"

	"github.com/fntelecomllc/bankreconciler/internal/logging"
	"github.com/fntelecomllc/bankreconciler/internal/model"
	"github.com/fntelecomllc/bankreconciler/internal/normalize"
	"github.com/fntelecomllc/bankreconciler/internal/source"
	"github.com/fntelecomllc/bankreconciler/internal/store"
)

var log = logging.For("ingest")

// Emails normalizes and upserts a page of raw emails, applying the
// extractor to each survivor of the pre-filter. It returns per-batch
// counters for the orchestrator's PhaseResult.
func Emails(ctx context.Context, repo store.Repository, aliases *normalize.AliasTable, extractor source.EmailExtractor, prefilter source.PreFilterConfig, raws []source.RawEmail) model.BatchResult {
	result := model.BatchResult{Fetched: len(raws)}

	for _, raw := range raws {
		if !source.PassesPreFilter(raw, prefilter) {
			continue
		}

		fields := normalize.RawEmailFields{
			MessageID: raw.MessageID,
			Sender:    raw.Sender,
			Subject:   raw.Subject,
		}

		extraction, err := extractor.Extract(ctx, raw)
		if err != nil {
			log.Warn("ingest_emails", "extraction failed", logging.Fields{"messageId": raw.MessageID, "error": err.Error()})
		} else {
			if extraction.Amount != nil {
				fields.Amount = *extraction.Amount
			}
			if extraction.Currency != nil {
				fields.Currency = *extraction.Currency
			}
			if extraction.Reference != nil {
				fields.Reference = *extraction.Reference
			}
			if extraction.AccountSegment != nil {
				fields.AccountRef = *extraction.AccountSegment
			}
			if extraction.TransactionInstant != nil {
				fields.HasInstant = true
				fields.InstantTime = *extraction.TransactionInstant
			}
			fields.Type = extraction.TransactionType
		}

		canonical := normalize.CanonicalizeEmail(fields, aliases)

		rawModel := model.Email{
			MessageID:  raw.MessageID,
			Sender:     raw.Sender,
			Subject:    raw.Subject,
			Body:       raw.Body,
			ReceivedAt: raw.ReceivedAt,
			IngestedAt: time.Now().UTC(),
		}
		if extraction.Amount != nil {
			rawModel.ExtractedAmount = extraction.Amount
		}
		if extraction.Currency != nil {
			rawModel.ExtractedCurrency = extraction.Currency
		}
		if extraction.Reference != nil {
			rawModel.ExtractedReference = extraction.Reference
		}
		if extraction.AccountSegment != nil {
			rawModel.ExtractedAccountRef = extraction.AccountSegment
		}
		rawModel.ExtractedInstant = extraction.TransactionInstant
		rawModel.ExtractedType = extraction.TransactionType
		rawModel.ExtractionConfidence = extraction.Confidence
		rawModel.ExtractionMethod = extraction.Method
		rawModel.IsAlert = extraction.IsAlert

		upsertResult, err := repo.UpsertEmail(ctx, canonical, rawModel)
		if err != nil {
			result.Failed++
			log.Error("ingest_emails", "upsert failed", err, logging.Fields{"messageId": raw.MessageID})
			continue
		}
		if upsertResult.Created {
			result.New++
			result.Stored++
		} else {
			result.Duplicate++
		}
	}
	return result
}

// bulkStageThreshold is the minimum page size at which Transactions prefers
// a repository's batch-insert fast path (when it implements one) over one
// UpsertTransaction round trip per row.
const bulkStageThreshold = 25

// Transactions normalizes and upserts a page of raw transactions. When repo
// implements store.BulkTransactionStager and the page is large enough, the
// whole batch is staged and folded in with one round trip; otherwise each
// transaction is upserted individually.
func Transactions(ctx context.Context, repo store.Repository, aliases *normalize.AliasTable, sourceLabel string, raws []source.RawTransaction) model.BatchResult {
	result := model.BatchResult{Fetched: len(raws)}

	rawModels := make([]model.Transaction, 0, len(raws))
	canonModels := make([]model.CanonicalTransaction, 0, len(raws))

	for _, raw := range raws {
		fields := normalize.RawTransactionFields{
			ExternalID:   raw.ExternalID,
			SourceLabel:  sourceLabel,
			Amount:       raw.Amount,
			Currency:     raw.Currency,
			Instant:      raw.Instant,
			Reference:    raw.Reference,
			AccountRef:   raw.AccountRef,
			Description:  raw.Description,
			Counterparty: raw.Counterparty,
			Status:       raw.Status,
		}

		canonical, ok := normalize.CanonicalizeTransaction(fields, aliases)
		if !ok {
			result.Failed++
			log.Warn("ingest_transactions", "malformed transaction skipped", logging.Fields{"externalId": raw.ExternalID, "sourceLabel": sourceLabel})
			continue
		}

		rawModels = append(rawModels, model.Transaction{
			ExternalID:   raw.ExternalID,
			SourceLabel:  sourceLabel,
			Amount:       raw.Amount,
			Currency:     raw.Currency,
			Instant:      raw.Instant,
			Description:  raw.Description,
			Reference:    raw.Reference,
			AccountRef:   raw.AccountRef,
			Counterparty: raw.Counterparty,
			Status:       raw.Status,
		})
		canonModels = append(canonModels, canonical)
	}

	if stager, ok := repo.(store.BulkTransactionStager); ok && len(rawModels) >= bulkStageThreshold {
		created, err := stager.BulkStageTransactions(ctx, rawModels, canonModels)
		if err != nil {
			result.Failed += len(rawModels)
			log.Error("ingest_transactions", "bulk stage failed", err, logging.Fields{"sourceLabel": sourceLabel, "count": len(rawModels)})
			return result
		}
		result.New += created
		result.Stored += created
		result.Duplicate += len(rawModels) - created
		return result
	}

	for i, rawModel := range rawModels {
		upsertResult, err := repo.UpsertTransaction(ctx, canonModels[i], rawModel)
		if err != nil {
			result.Failed++
			log.Error("ingest_transactions", "upsert failed", err, logging.Fields{"externalId": rawModel.ExternalID})
			continue
		}
		if upsertResult.Created {
			result.New++
			result.Stored++
		} else {
			result.Duplicate++
		}
	}
	return result
}
