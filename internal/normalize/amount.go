// Package normalize implements the stateless canonicalization functions that
// turn semi-structured email text and raw provider records into the
// comparable representation the retriever and scorer operate on.
package normalize

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	currencySymbols = map[string]string{
		"₦": "NGN", "N": "NGN", "$": "USD", "£": "GBP", "€": "EUR",
	}
	currencyWords = map[string]string{
		"naira": "NGN", "dollar": "USD", "dollars": "USD",
		"pound": "GBP", "pounds": "GBP", "euro": "EUR", "euros": "EUR",
		"ngn": "NGN", "usd": "USD", "gbp": "GBP", "eur": "EUR",
	}
	numericToken = regexp.MustCompile(`[0-9][0-9,]*(?:\.[0-9]+)?`)
)

// NormalizeAmount extracts a scale-2 decimal from free-form input. It
// strips grouping commas and parses the first numeric token encountered;
// unparsable input yields (zero Decimal, false).
func NormalizeAmount(input string) (decimal.Decimal, bool) {
	match := numericToken.FindString(input)
	if match == "" {
		return decimal.Decimal{}, false
	}
	cleaned := strings.ReplaceAll(match, ",", "")
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d.Round(2), true
}

// NormalizeCurrency maps a symbol, ISO code, or currency word to its
// ISO-4217 code. Any other three-letter alphabetic token is returned
// uppercased as-is; any other non-empty token defaults to "NGN". Empty input
// (after trimming) returns false so callers can distinguish "not supplied"
// from "supplied".
func NormalizeCurrency(input string) (string, bool) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", false
	}
	if code, ok := currencySymbols[trimmed]; ok {
		return code, true
	}
	lower := strings.ToLower(trimmed)
	if code, ok := currencyWords[lower]; ok {
		return code, true
	}
	upper := strings.ToUpper(trimmed)
	if len(upper) == 3 && isAlpha(upper) {
		return upper, true
	}
	return "NGN", true
}

func isAlpha(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
