package source

import (
	"context"
	"regexp"
	"strings"

	"github.com/fntelecomllc/bankreconciler/internal/model"
)

var (
	amountPattern    = regexp.MustCompile(`(?i)(?:₦|ngn|n|\$|usd|£|gbp|€|eur)\s*([0-9][0-9,]*(?:\.[0-9]{1,2})?)`)
	referencePattern = regexp.MustCompile(`(?i)(?:ref(?:erence)?|trf|txn)[:\s/#-]*([A-Za-z0-9/\-]{5,})`)
	accountPattern   = regexp.MustCompile(`(?:a/c|acct|account)[^\d]{0,10}(\d{6,})`)
	debitWords       = []string{"debit", "withdrawal", "sent", "deducted"}
	creditWords      = []string{"credit", "received", "deposit", "inward"}
	alertWords       = []string{"alert", "transaction", "transfer", "debit", "credit", "deposit", "withdrawal"}
)

// HeuristicExtractor is the default EmailExtractor: a regex/keyword-based
// implementation with no external dependency, so the pipeline runs
// end-to-end without a model-backed extraction service. Confidence is
// derived from how many fields it managed to recover.
type HeuristicExtractor struct{}

func NewHeuristicExtractor() *HeuristicExtractor { return &HeuristicExtractor{} }

func (h *HeuristicExtractor) Extract(ctx context.Context, email RawEmail) (ExtractionResult, error) {
	text := email.Subject + "\n" + email.Body
	lower := strings.ToLower(text)

	result := ExtractionResult{Method: model.ExtractionStructured, TransactionType: model.TransactionUnknown}
	recovered := 0
	total := 4

	if m := amountPattern.FindStringSubmatch(text); len(m) == 2 {
		amt := m[1]
		result.Amount = &amt
		recovered++
	}
	if cur := detectCurrencyToken(text); cur != "" {
		result.Currency = &cur
		recovered++
	}
	if m := referencePattern.FindStringSubmatch(text); len(m) == 2 {
		ref := strings.TrimSpace(m[1])
		result.Reference = &ref
		recovered++
	}
	if m := accountPattern.FindStringSubmatch(text); len(m) == 2 {
		acct := m[1]
		result.AccountSegment = &acct
		recovered++
	}

	for _, w := range debitWords {
		if strings.Contains(lower, w) {
			result.TransactionType = model.TransactionDebit
			break
		}
	}
	for _, w := range creditWords {
		if strings.Contains(lower, w) {
			result.TransactionType = model.TransactionCredit
			break
		}
	}

	result.IsAlert = containsAnyCI(text, alertWords)
	result.Confidence = float64(recovered) / float64(total)

	return result, nil
}

func detectCurrencyToken(text string) string {
	switch {
	case strings.Contains(text, "₦"), strings.Contains(strings.ToLower(text), "ngn"), strings.Contains(strings.ToLower(text), "naira"):
		return "NGN"
	case strings.Contains(text, "$"), strings.Contains(strings.ToLower(text), "usd"):
		return "USD"
	case strings.Contains(text, "£"), strings.Contains(strings.ToLower(text), "gbp"):
		return "GBP"
	case strings.Contains(text, "€"), strings.Contains(strings.ToLower(text), "eur"):
		return "EUR"
	default:
		return ""
	}
}

var _ EmailExtractor = (*HeuristicExtractor)(nil)
