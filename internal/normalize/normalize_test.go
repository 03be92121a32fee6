package normalize

import (
	"testing"
	"time"

	"github.com/fntelecomllc/bankreconciler/internal/model"
	"github.com/shopspring/decimal"
)

func TestNormalizeAmount(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{"naira symbol with commas", "₦1,234.56", "1234.56", true},
		{"trailing currency code", "1234.56 NGN", "1234.56", true},
		{"bare number", "1234.56", "1234.56", true},
		{"unparsable", "no numbers here", "", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, ok := NormalizeAmount(c.input)
			if ok != c.ok {
				t.Fatalf("ok = %v, want %v", ok, c.ok)
			}
			if ok && got.StringFixed(2) != c.want {
				t.Fatalf("got %s, want %s", got.StringFixed(2), c.want)
			}
		})
	}
}

func TestNormalizeCurrencyDefaultsUnknownToNGN(t *testing.T) {
	got, ok := NormalizeCurrency("ZZZ999")
	if !ok || got != "NGN" {
		t.Fatalf("got %q, %v, want NGN, true", got, ok)
	}
}

func TestNormalizeCurrencyIdempotentOnISOCodes(t *testing.T) {
	for _, code := range []string{"NGN", "USD", "GBP", "EUR"} {
		got, ok := NormalizeCurrency(code)
		if !ok || got != code {
			t.Fatalf("NormalizeCurrency(%s) = %s, %v", code, got, ok)
		}
		again, _ := NormalizeCurrency(got)
		if again != got {
			t.Fatalf("not idempotent: %s -> %s -> %s", code, got, again)
		}
	}
}

func TestNormalizeTimestampISO8601RoundTrip(t *testing.T) {
	input := "2025-11-05T10:30:00Z"
	got, ok := NormalizeTimestamp(input)
	if !ok {
		t.Fatalf("expected parse success")
	}
	want, _ := time.Parse(time.RFC3339, input)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestNormalizeTimestampAlternateFormats(t *testing.T) {
	cases := []string{
		"05/11/2025 10:30:00",
		"05-11-2025 10:30:00",
		"2025-11-05 10:30:00",
		"05 Nov 2025 10:30:00",
	}
	for _, c := range cases {
		if _, ok := NormalizeTimestamp(c); !ok {
			t.Errorf("expected %q to parse", c)
		}
	}
}

func TestNormalizeReferenceFiltersShortTokens(t *testing.T) {
	rb, ok := NormalizeReference("GTB/TRF/2025/001")
	if !ok {
		t.Fatalf("expected success")
	}
	if rb.AlphanumericOnly != "GTBTRF2025001" {
		t.Fatalf("alphanumeric = %q", rb.AlphanumericOnly)
	}
	for _, tok := range rb.Tokens {
		if len(tok) < minTokenLength {
			t.Fatalf("token %q shorter than minimum", tok)
		}
	}
}

func TestCompositeKeyDeterministic(t *testing.T) {
	amount := decimal.NewFromFloat(23500.00).Round(2)
	instant := time.Date(2025, 11, 5, 10, 30, 0, 0, time.UTC)
	ref, _ := NormalizeReference("GTB/TRF/2025/001")

	k1, ok1 := CompositeKey(amount, true, "NGN", true, instant, true, ref, "1234567890")
	k2, ok2 := CompositeKey(amount, true, "NGN", true, instant, true, ref, "1234567890")
	if !ok1 || !ok2 {
		t.Fatalf("expected both to succeed")
	}
	if k1.String() != k2.String() {
		t.Fatalf("not deterministic: %s != %s", k1.String(), k2.String())
	}
}

func TestCompositeKeyRequiresAllThree(t *testing.T) {
	amount := decimal.NewFromFloat(100.0)
	instant := time.Now()
	if _, ok := CompositeKey(amount, true, "", false, instant, true, nil, ""); ok {
		t.Fatalf("expected failure without currency")
	}
}

func TestEnrichBankInfoPriorityDomainOverName(t *testing.T) {
	table := NewAliasTable([]model.BankAlias{
		{Alias: "gtbank", Code: "GTB", Name: "GTBank", Domains: []string{"gtbank.com"}},
	})
	enr, ok := table.EnrichBankInfo("alerts@gtbank.com", "GTBank Alerts", "Transaction Alert")
	if !ok {
		t.Fatalf("expected a hit")
	}
	if enr.EnrichmentConfidence != 0.95 {
		t.Fatalf("expected domain-priority confidence 0.95, got %v", enr.EnrichmentConfidence)
	}
}
