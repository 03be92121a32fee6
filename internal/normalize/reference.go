package normalize

import (
	"regexp"
	"strings"

	"github.com/fntelecomllc/bankreconciler/internal/model"
)

var (
	whitespaceRun  = regexp.MustCompile(`\s+`)
	nonAlnum       = regexp.MustCompile(`[^a-zA-Z0-9]+`)
	alnumOnlyChars = regexp.MustCompile(`[^a-zA-Z0-9]`)
)

const minTokenLength = 3

// NormalizeReference builds a ReferenceBundle from free-form reference text.
// It collapses internal whitespace, computes an uppercased alphanumeric-only
// form, and tokenizes on non-alphanumeric boundaries, discarding tokens
// shorter than three characters. Empty input returns (nil, false).
func NormalizeReference(input string) (*model.ReferenceBundle, bool) {
	if strings.TrimSpace(input) == "" {
		return nil, false
	}
	cleaned := strings.TrimSpace(whitespaceRun.ReplaceAllString(input, " "))
	alnum := strings.ToUpper(alnumOnlyChars.ReplaceAllString(input, ""))

	var tokens []string
	for _, tok := range nonAlnum.Split(input, -1) {
		if len(tok) >= minTokenLength {
			tokens = append(tokens, tok)
		}
	}

	return &model.ReferenceBundle{
		Original:         input,
		Cleaned:          cleaned,
		AlphanumericOnly: alnum,
		Tokens:           tokens,
	}, true
}
