// Package scoring implements the weighted rule set, ranker, tie-breaker and
// decision thresholds that turn a canonical email and its retrieved
// candidate transactions into a MatchResult.
package scoring

import (
	"math"

	"github.com/fntelecomllc/bankreconciler/internal/model"
	"github.com/shopspring/decimal"
)

// Rule is a pure function mapping (email, transaction) to a raw score in
// [0,1] plus diagnostic details. Rules never see configuration beyond what
// is passed explicitly, keeping them trivially testable in isolation.
type Rule func(email model.CanonicalEmail, txn model.CanonicalTransaction, cfg RuleConfig) (raw float64, details map[string]interface{})

// RuleConfig carries the few parameters rules need beyond the pair itself.
type RuleConfig struct {
	AmountTolerance float64
	MinSimilarity   float64
	WindowHours     float64
}

func exactAmount(email model.CanonicalEmail, txn model.CanonicalTransaction, cfg RuleConfig) (float64, map[string]interface{}) {
	if email.Amount == nil {
		return 0.0, map[string]interface{}{"reason": "email amount missing"}
	}
	if email.Amount.Equal(txn.Amount) {
		return 1.0, map[string]interface{}{"emailAmount": email.Amount.String(), "txnAmount": txn.Amount.String()}
	}
	diff := email.Amount.Sub(txn.Amount).Abs()
	allowed := email.Amount.Abs().Mul(decimal.NewFromFloat(cfg.AmountTolerance))
	if diff.LessThanOrEqual(allowed) {
		return 0.95, map[string]interface{}{"withinTolerance": true}
	}
	return 0.0, map[string]interface{}{"withinTolerance": false}
}

func exactReference(email model.CanonicalEmail, txn model.CanonicalTransaction, cfg RuleConfig) (float64, map[string]interface{}) {
	if email.Reference == nil || txn.Reference == nil {
		return 0.0, map[string]interface{}{"reason": "reference missing"}
	}
	if email.Reference.AlphanumericOnly == txn.Reference.AlphanumericOnly {
		return 1.0, map[string]interface{}{"match": "alphanumericOnly"}
	}
	if email.Reference.Cleaned == txn.Reference.Cleaned {
		return 0.95, map[string]interface{}{"match": "cleaned"}
	}
	return 0.0, map[string]interface{}{"match": "none"}
}

func fuzzyReference(email model.CanonicalEmail, txn model.CanonicalTransaction, cfg RuleConfig) (float64, map[string]interface{}) {
	if email.Reference == nil || txn.Reference == nil {
		return 0.0, map[string]interface{}{"reason": "reference missing"}
	}
	sim := bestFuzzySimilarity(email.Reference.Cleaned, txn.Reference.Cleaned)
	min := cfg.MinSimilarity
	if min == 0 {
		min = 0.6
	}
	if sim < min {
		return 0.0, map[string]interface{}{"similarity": sim, "belowMin": true}
	}
	return sim, map[string]interface{}{"similarity": sim}
}

func timestampProximity(email model.CanonicalEmail, txn model.CanonicalTransaction, cfg RuleConfig) (float64, map[string]interface{}) {
	if email.Instant == nil {
		return 0.5, map[string]interface{}{"reason": "email instant missing"}
	}
	delta := email.Instant.Sub(txn.Instant)
	if delta < 0 {
		delta = -delta
	}
	deltaHours := delta.Hours()
	if deltaHours <= 1.0 {
		return 1.0, map[string]interface{}{"deltaHours": deltaHours}
	}
	window := cfg.WindowHours
	if window <= 0 {
		window = 48
	}
	if deltaHours >= window {
		return 0.0, map[string]interface{}{"deltaHours": deltaHours, "beyondWindow": true}
	}
	score := 1.0 - deltaHours/window
	return score, map[string]interface{}{"deltaHours": deltaHours}
}

func accountMatch(email model.CanonicalEmail, txn model.CanonicalTransaction, cfg RuleConfig) (float64, map[string]interface{}) {
	if email.AccountRef == nil || txn.AccountRef == nil {
		return 0.0, map[string]interface{}{"reason": "account reference missing"}
	}
	a, b := *email.AccountRef, *txn.AccountRef
	if last4(a) == last4(b) {
		return 1.0, map[string]interface{}{"match": "last4"}
	}
	if a == b {
		return 1.0, map[string]interface{}{"match": "full"}
	}
	sim := simpleRatio(a, b)
	if sim >= 0.8 {
		return sim, map[string]interface{}{"similarity": sim}
	}
	return 0.0, map[string]interface{}{"similarity": sim}
}

func last4(s string) string {
	if len(s) <= 4 {
		return s
	}
	return s[len(s)-4:]
}

func compositeKeyRule(email model.CanonicalEmail, txn model.CanonicalTransaction, cfg RuleConfig) (float64, map[string]interface{}) {
	if email.CompositeKey == nil || txn.CompositeKey == nil {
		return 0.0, map[string]interface{}{"reason": "composite key missing"}
	}
	ek, tk := email.CompositeKey, txn.CompositeKey
	if ek.String() == tk.String() {
		return 1.0, map[string]interface{}{"match": "full"}
	}

	components := 0.0
	matched := 0.0
	components++
	if ek.Currency == tk.Currency {
		matched++
	}
	components++
	if ek.AmountString == tk.AmountString {
		matched++
	}
	components++
	if ek.DateBucket == tk.DateBucket {
		matched++
	}
	components++
	if ek.AccountLast4 == tk.AccountLast4 && ek.AccountLast4 != "" {
		matched++
	}
	components++
	if tokenOverlap(ek.TopReferenceTokens, tk.TopReferenceTokens) > 0.5 {
		matched++
	}

	fraction := matched / components
	return fraction, map[string]interface{}{"matchedComponents": matched, "totalComponents": components}
}

func tokenOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	bSet := map[string]bool{}
	for _, t := range b {
		bSet[t] = true
	}
	hits := 0
	for _, t := range a {
		if bSet[t] {
			hits++
		}
	}
	denom := len(a)
	if len(b) > denom {
		denom = len(b)
	}
	return float64(hits) / float64(denom)
}

func bankMatch(email model.CanonicalEmail, txn model.CanonicalTransaction, cfg RuleConfig) (float64, map[string]interface{}) {
	if email.Enrichment == nil || txn.Enrichment == nil {
		return 0.0, map[string]interface{}{"reason": "enrichment missing on one or both sides"}
	}
	if email.Enrichment.BankCode != txn.Enrichment.BankCode {
		return 0.0, map[string]interface{}{"match": false}
	}
	avg := (email.Enrichment.EnrichmentConfidence + txn.Enrichment.EnrichmentConfidence) / 2
	return avg, map[string]interface{}{"match": true, "avgConfidence": avg}
}

// Rules lists every scoring rule in a stable iteration order; adding a rule
// means adding a weight entry in config and an entry here.
var Rules = []struct {
	Name string
	Fn   Rule
}{
	{"exactAmount", exactAmount},
	{"exactReference", exactReference},
	{"fuzzyReference", fuzzyReference},
	{"timestampProximity", timestampProximity},
	{"accountMatch", accountMatch},
	{"compositeKey", compositeKeyRule},
	{"bankMatch", bankMatch},
}

func weightFor(name string, weights map[string]float64) float64 {
	return weights[name]
}

func clampUnit(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
