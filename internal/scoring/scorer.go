package scoring

import (
	"sort"
	"time"

	"github.com/fntelecomllc/bankreconciler/internal/config"
	"github.com/fntelecomllc/bankreconciler/internal/model"
)

// Scorer applies the weighted rule set to candidate pairs and produces a
// ranked, tie-broken, threshold-mapped MatchResult.
type Scorer struct {
	cfg *config.Config
}

// New builds a Scorer bound to cfg; every call reads that same *config.Config.
func New(cfg *config.Config) *Scorer {
	return &Scorer{cfg: cfg}
}

func (s *Scorer) weightMap() map[string]float64 {
	w := s.cfg.Scoring.Weights
	return map[string]float64{
		"exactAmount":        w.ExactAmount,
		"exactReference":     w.ExactReference,
		"fuzzyReference":     w.FuzzyReference,
		"timestampProximity": w.TimestampProximity,
		"accountMatch":       w.AccountMatch,
		"compositeKey":       w.CompositeKey,
		"bankMatch":          w.BankMatch,
	}
}

// ScoreCandidate applies every rule to one (email, transaction) pair and
// returns the fully scored candidate, unranked.
func (s *Scorer) ScoreCandidate(email model.CanonicalEmail, txn model.CanonicalTransaction) model.MatchCandidate {
	weights := s.weightMap()
	ruleCfg := RuleConfig{
		AmountTolerance: s.cfg.Retrieval.AmountTolerance,
		MinSimilarity:   s.cfg.Scoring.MinSimilarity,
		WindowHours:     s.cfg.Retrieval.WindowHours,
	}

	scores := make([]model.RuleScore, 0, len(Rules))
	total := 0.0
	for _, r := range Rules {
		raw, details := r.Fn(email, txn, ruleCfg)
		raw = clampUnit(raw)
		weight := weights[r.Name]
		weighted := raw * weight
		scores = append(scores, model.RuleScore{
			RuleName: r.Name, Raw: raw, Weight: weight, Weighted: weighted, Details: details,
		})
		total += weighted
	}

	return model.MatchCandidate{
		Transaction: txn,
		ExternalID:  txn.ExternalID,
		Scores:      scores,
		Total:       clampUnit(total),
	}
}

// rawScoreFor finds a candidate's raw score for a named rule, used by the
// tie-breaker's referenceScore/bankScore components.
func rawScoreFor(c model.MatchCandidate, name string) float64 {
	for _, rs := range c.Scores {
		if rs.RuleName == name {
			return rs.Raw
		}
	}
	return 0
}

// RankAndDecide scores every candidate, ranks them, applies tie-breaking,
// and maps the result onto a decision per §4.6.
func (s *Scorer) RankAndDecide(emailID string, email model.CanonicalEmail, candidates []model.CanonicalTransaction) model.MatchResult {
	now := time.Now().UTC()
	if len(candidates) == 0 {
		return model.MatchResult{
			EmailID: emailID, Status: model.StatusNoCandidates, Confidence: 0.0,
			CreatedAt: now, UpdatedAt: now,
		}
	}

	scored := make([]model.MatchCandidate, 0, len(candidates))
	for _, c := range candidates {
		scored = append(scored, s.ScoreCandidate(email, c))
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Total > scored[j].Total })
	for i := range scored {
		scored[i].Rank = i + 1
	}

	s.applyTieBreak(email, scored)

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Total > scored[j].Total })
	for i := range scored {
		scored[i].Rank = i + 1
	}

	best := scored[0]
	status := s.decide(best.Total)

	result := model.MatchResult{
		EmailID: emailID, BestCandidate: &best, Status: status,
		Confidence: best.Total, CreatedAt: now, UpdatedAt: now,
	}

	maxAlt := s.cfg.Scoring.MaxAlternatives
	switch status {
	case model.StatusAutoMatched, model.StatusNeedsReview:
		if s.cfg.Scoring.StoreAlternatives {
			result.AlternativeCandidates = boundedRest(scored, maxAlt)
		}
	case model.StatusRejected:
		result.AlternativeCandidates = boundedAll(scored, maxAlt)
	}
	return result
}

func boundedRest(scored []model.MatchCandidate, max int) []model.MatchCandidate {
	if len(scored) <= 1 {
		return nil
	}
	rest := scored[1:]
	if len(rest) > max {
		rest = rest[:max]
	}
	return append([]model.MatchCandidate(nil), rest...)
}

func boundedAll(scored []model.MatchCandidate, max int) []model.MatchCandidate {
	all := scored
	if len(all) > max {
		all = all[:max]
	}
	return append([]model.MatchCandidate(nil), all...)
}

// decide maps a best-candidate total to a MatchStatus per the ordered
// threshold table; comparisons are inclusive (>=) at every boundary.
func (s *Scorer) decide(total float64) model.MatchStatus {
	th := s.cfg.Scoring.Thresholds
	switch {
	case total >= th.AutoMatch:
		return model.StatusAutoMatched
	case total >= th.NeedsReview:
		return model.StatusNeedsReview
	default:
		return model.StatusRejected
	}
}

// applyTieBreak finds the tie group around the current best candidate and
// nudges each member's total by a small additive tie-score, without letting
// the adjustment move a candidate outside the group.
func (s *Scorer) applyTieBreak(email model.CanonicalEmail, scored []model.MatchCandidate) {
	if len(scored) == 0 {
		return
	}
	bestTotal := scored[0].Total
	maxDiff := s.cfg.Scoring.MaxTieDifference

	type tieBounds struct {
		lower, upper float64
	}

	for i := range scored {
		if bestTotal-scored[i].Total > maxDiff {
			continue
		}
		tieScore := s.tieScore(email, scored[i])
		adjusted := scored[i].Total + tieScore*0.01

		bounds := tieBounds{lower: bestTotal - maxDiff, upper: bestTotal + maxDiff}
		if adjusted < bounds.lower {
			adjusted = bounds.lower
		}
		if adjusted > bounds.upper {
			adjusted = bounds.upper
		}
		scored[i].Total = clampUnit(adjusted)
	}
}

func (s *Scorer) tieScore(email model.CanonicalEmail, c model.MatchCandidate) float64 {
	recency := 0.0
	if s.cfg.Scoring.PreferRecentTieBreak && email.Instant != nil {
		deltaHours := email.Instant.Sub(c.Transaction.Instant).Hours()
		if deltaHours < 0 {
			deltaHours = -deltaHours
		}
		recency = 1.0 / (1.0 + deltaHours)
	}

	reference := rawScoreFor(c, "exactReference")
	if fuzzy := rawScoreFor(c, "fuzzyReference"); fuzzy > reference {
		reference = fuzzy
	}

	bank := rawScoreFor(c, "bankMatch")

	return recency*0.4 + reference*0.4 + bank*0.2
}
