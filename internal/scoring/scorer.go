// Package scoring aggregates rule outcomes into a credit score.
package scoring

import (
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// BaseScore is the starting score before any rule contribution.
const BaseScore = 1000

// Scorer runs the built-in registry, then any loaded policy rules, and
// accumulates their impacts onto the base score. Evaluation order is
// fixed, so the outcome list reads as a reproducible audit trail.
type Scorer struct {
	registry []rules.Rule
	policies *rules.PolicyEngine
}

// NewScorer creates a scorer over the built-in registry. The policy
// engine is optional; pass nil to score with built-in rules only.
func NewScorer(policies *rules.PolicyEngine) *Scorer {
	return &Scorer{
		registry: rules.Registry(),
		policies: policies,
	}
}

// Score evaluates every rule against the profile and its derived
// metrics. A failing rule aborts the whole evaluation; no partial
// score is ever produced.
func (s *Scorer) Score(profile *domain.FinancialProfile, m *domain.DerivedMetrics) (*domain.ScoringResult, error) {
	outcomes := make([]domain.RuleOutcome, 0, len(s.registry))
	score := BaseScore

	for _, rule := range s.registry {
		out, err := rule.Evaluate(profile, m)
		if err != nil {
			return nil, &rules.EvaluationError{RuleName: rule.Name(), Err: err}
		}

		score += out.ScoreImpact
		outcomes = append(outcomes, out)
	}

	if s.policies != nil {
		policyOutcomes, err := s.policies.EvaluateAll(profile, m)
		if err != nil {
			return nil, err
		}

		for _, out := range policyOutcomes {
			score += out.ScoreImpact
			outcomes = append(outcomes, out)
		}
	}

	return &domain.ScoringResult{
		FinalScore: score,
		Outcomes:   outcomes,
	}, nil
}

// RuleCount returns the number of rules the scorer will evaluate.
func (s *Scorer) RuleCount() int {
	n := len(s.registry)
	if s.policies != nil {
		n += s.policies.PolicyCount()
	}
	return n
}
