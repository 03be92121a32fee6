package normalize

import (
	"sort"
	"time"

	"github.com/fntelecomllc/bankreconciler/internal/model"
	"github.com/shopspring/decimal"
)

// CompositeKey builds a deterministic, coarse-grained fingerprint from
// amount, currency, and instant, plus the optional reference and account
// number. All three of amount/currency/instant are required; otherwise
// (nil, false).
func CompositeKey(amount decimal.Decimal, hasAmount bool, currency string, hasCurrency bool, instant time.Time, hasInstant bool, reference *model.ReferenceBundle, accountNumber string) (*model.CompositeKey, bool) {
	if !hasAmount || !hasCurrency || !hasInstant {
		return nil, false
	}

	bucket := instant.UTC().Truncate(time.Hour).Format("2006-01-02-15")

	var topTokens []string
	if reference != nil {
		n := len(reference.Tokens)
		if n > 3 {
			n = 3
		}
		topTokens = append(topTokens, reference.Tokens[:n]...)
		sort.Strings(topTokens)
	}

	last4 := ""
	if len(accountNumber) >= 4 {
		last4 = accountNumber[len(accountNumber)-4:]
	} else {
		last4 = accountNumber
	}

	return &model.CompositeKey{
		AmountString:       amount.StringFixed(2),
		Currency:           currency,
		DateBucket:         bucket,
		TopReferenceTokens: topTokens,
		AccountLast4:       last4,
	}, true
}
