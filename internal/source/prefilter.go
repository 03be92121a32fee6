package source

import "strings"

// PassesPreFilter applies the sender-domain allowlist, subject keyword
// list, subject denylist, and minimum body length predicates described in
// §4.3. All configured predicates must pass; an empty allowlist/keyword
// list imposes no constraint.
func PassesPreFilter(email RawEmail, cfg PreFilterConfig) bool {
	if len(cfg.SenderDomainAllowlist) > 0 && !matchesAnyDomain(email.Sender, cfg.SenderDomainAllowlist) {
		return false
	}
	if len(cfg.SubjectKeywords) > 0 && !containsAnyCI(email.Subject, cfg.SubjectKeywords) {
		return false
	}
	if len(cfg.SubjectDenylist) > 0 && containsAnyCI(email.Subject, cfg.SubjectDenylist) {
		return false
	}
	if cfg.MinBodyLength > 0 && len(email.Body) < cfg.MinBodyLength {
		return false
	}
	return true
}

func matchesAnyDomain(sender string, domains []string) bool {
	at := strings.LastIndex(sender, "@")
	if at < 0 {
		return false
	}
	domain := strings.ToLower(sender[at+1:])
	for _, d := range domains {
		if strings.Contains(domain, strings.ToLower(d)) {
			return true
		}
	}
	return false
}

func containsAnyCI(haystack string, needles []string) bool {
	lower := strings.ToLower(haystack)
	for _, n := range needles {
		if strings.Contains(lower, strings.ToLower(n)) {
			return true
		}
	}
	return false
}
