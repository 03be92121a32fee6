package normalize

import (
	"time"

	"github.com/fntelecomllc/bankreconciler/internal/model"
	"github.com/shopspring/decimal"
)

// RawEmailFields is the subset of an Email's raw/extracted fields the
// canonicalizer needs; it is intentionally decoupled from model.Email so
// normalization stays a pure function of its inputs.
type RawEmailFields struct {
	MessageID   string
	Sender      string
	Subject     string
	Amount      string
	Currency    string
	Reference   string
	AccountRef  string
	Instant     string
	HasInstant  bool
	InstantTime time.Time
	Type        model.TransactionType
}

// CanonicalizeEmail builds a CanonicalEmail from raw/extracted fields,
// consulting aliases for bank enrichment. Canonicalization is pure: it never
// mutates its inputs.
func CanonicalizeEmail(f RawEmailFields, aliases *AliasTable) model.CanonicalEmail {
	ce := model.CanonicalEmail{
		MessageID:       f.MessageID,
		Sender:          f.Sender,
		Subject:         f.Subject,
		TransactionType: f.Type,
	}

	var hasAmount, hasCurrency, hasInstant bool
	var amount decimal.Decimal
	var currency string
	var instant time.Time

	if f.Amount != "" {
		if amt, ok := NormalizeAmount(f.Amount); ok {
			amount = amt
			hasAmount = true
			ce.Amount = &amt
		}
	}
	if f.Currency != "" {
		if cur, ok := NormalizeCurrency(f.Currency); ok {
			currency = cur
			hasCurrency = true
			ce.Currency = &cur
		}
	}
	if f.HasInstant {
		instant = f.InstantTime.UTC()
		hasInstant = true
		ce.Instant = &instant
	} else if f.Instant != "" {
		if t, ok := NormalizeTimestamp(f.Instant); ok {
			instant = t
			hasInstant = true
			ce.Instant = &t
		}
	}
	ce.InstantUnknown = !hasInstant

	var refBundle *model.ReferenceBundle
	if f.Reference != "" {
		if rb, ok := NormalizeReference(f.Reference); ok {
			refBundle = rb
			ce.Reference = rb
		}
	}
	if f.AccountRef != "" {
		ar := f.AccountRef
		ce.AccountRef = &ar
	}

	if aliases != nil {
		if enr, ok := aliases.EnrichBankInfo(f.Sender, f.Sender, f.Subject); ok {
			ce.Enrichment = enr
		}
	}

	if ck, ok := CompositeKey(amount, hasAmount, currency, hasCurrency, instant, hasInstant, refBundle, f.AccountRef); ok {
		ce.CompositeKey = ck
	}

	return ce
}

// RawTransactionFields is the subset of a Transaction's raw fields the
// canonicalizer needs.
type RawTransactionFields struct {
	ExternalID   string
	SourceLabel  string
	Amount       string
	Currency     string
	Instant      time.Time
	Reference    string
	AccountRef   string
	Description  string
	Counterparty string
	Status       string
}

// CanonicalizeTransaction builds a CanonicalTransaction from raw fields.
// Amount and currency are required for a transaction to be ingestible;
// callers should treat a false second return as a malformed-input error.
func CanonicalizeTransaction(f RawTransactionFields, aliases *AliasTable) (model.CanonicalTransaction, bool) {
	ct := model.CanonicalTransaction{
		ExternalID:   f.ExternalID,
		SourceLabel:  f.SourceLabel,
		Instant:      f.Instant.UTC(),
		Description:  f.Description,
		Counterparty: f.Counterparty,
		Status:       f.Status,
	}

	amount, amountOK := NormalizeAmount(f.Amount)
	if !amountOK {
		return ct, false
	}
	ct.Amount = amount

	currency, currencyOK := NormalizeCurrency(f.Currency)
	if !currencyOK {
		return ct, false
	}
	ct.Currency = currency

	var refBundle *model.ReferenceBundle
	if f.Reference != "" {
		if rb, ok := NormalizeReference(f.Reference); ok {
			refBundle = rb
			ct.Reference = rb
		}
	}
	if f.AccountRef != "" {
		ar := f.AccountRef
		ct.AccountRef = &ar
	}

	if aliases != nil {
		if enr, ok := aliases.EnrichBankInfo(f.Counterparty, f.Counterparty, f.Description); ok {
			ct.Enrichment = enr
		}
	}

	if ck, ok := CompositeKey(amount, true, currency, true, ct.Instant, true, refBundle, f.AccountRef); ok {
		ct.CompositeKey = ck
	}

	return ct, true
}
