package normalize

import (
	"strings"

	"github.com/fntelecomllc/bankreconciler/internal/model"
)

const (
	confidenceDomain  = 0.95
	confidenceName    = 0.85
	confidenceSubject = 0.75
)

// AliasTable is the read-only, config-loaded bank/fintech alias lookup
// consulted by EnrichBankInfo. Keys are lowercased, space-stripped
// substrings, matching the alias-table growth convention: it is data, not
// code, and only changes via a config reload.
type AliasTable struct {
	aliases []model.BankAlias
}

// NewAliasTable builds a lookup table from configured aliases.
func NewAliasTable(aliases []model.BankAlias) *AliasTable {
	return &AliasTable{aliases: aliases}
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, " ", ""))
}

// EnrichBankInfo matches sender domain, then sender display name, then
// subject against the alias table, in that priority order; the first
// priority with a substring hit wins. Returns (nil, false) on no hit.
func (t *AliasTable) EnrichBankInfo(senderEmail, senderName, subject string) (*model.Enrichment, bool) {
	if t == nil {
		return nil, false
	}

	domain := ""
	if at := strings.LastIndex(senderEmail, "@"); at >= 0 {
		domain = normalizeKey(senderEmail[at+1:])
	}
	nameKey := normalizeKey(senderName)
	subjectKey := normalizeKey(subject)

	if domain != "" {
		for _, a := range t.aliases {
			for _, d := range a.Domains {
				if d != "" && strings.Contains(domain, normalizeKey(d)) {
					return enrichmentFrom(a, confidenceDomain), true
				}
			}
		}
	}
	if nameKey != "" {
		for _, a := range t.aliases {
			key := normalizeKey(a.Alias)
			if key != "" && strings.Contains(nameKey, key) {
				return enrichmentFrom(a, confidenceName), true
			}
		}
	}
	if subjectKey != "" {
		for _, a := range t.aliases {
			key := normalizeKey(a.Alias)
			if key != "" && strings.Contains(subjectKey, key) {
				return enrichmentFrom(a, confidenceSubject), true
			}
		}
	}
	return nil, false
}

func enrichmentFrom(a model.BankAlias, confidence float64) *model.Enrichment {
	return &model.Enrichment{
		BankCode:             a.Code,
		BankName:             a.Name,
		Category:             a.Category,
		EnrichmentConfidence: confidence,
	}
}
