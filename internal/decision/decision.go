// Package decision maps credit scores to risk tiers and business
// decisions, and assembles the persisted assessment record.
package decision

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Tier thresholds over the final score. Scores at or above the LOW
// threshold are LOW risk; at or above the MEDIUM threshold, MEDIUM;
// everything below is HIGH.
const (
	LowTierThreshold    = 750
	MediumTierThreshold = 600
)

// EngineVersion tags each assessment with the pipeline revision that
// produced it.
const EngineVersion = "kestrel-1.0"

// TierFor classifies a final score into a risk tier.
func TierFor(score int) domain.RiskTier {
	switch {
	case score >= LowTierThreshold:
		return domain.RiskLow
	case score >= MediumTierThreshold:
		return domain.RiskMedium
	default:
		return domain.RiskHigh
	}
}

// DecisionFor maps a risk tier to the business decision.
func DecisionFor(tier domain.RiskTier) domain.Decision {
	switch tier {
	case domain.RiskLow:
		return domain.DecisionApprove
	case domain.RiskMedium:
		return domain.DecisionReview
	default:
		return domain.DecisionReject
	}
}

// Processor turns a scoring result into an assessment record.
type Processor struct{}

// NewProcessor creates a decision processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// AssessmentInput contains all data needed to assemble an assessment.
type AssessmentInput struct {
	TenantID    string
	ApplicantID string
	TraceID     string
	Profile     *domain.FinancialProfile
	Result      *domain.ScoringResult
	MetricsMs   int64
	ScoringMs   int64
	StartTime   time.Time
}

// Process classifies the score and builds the full assessment, audit
// entries included, ready for atomic persistence.
func (p *Processor) Process(ctx context.Context, input *AssessmentInput) *domain.Assessment {
	now := time.Now().UTC()
	tier := TierFor(input.Result.FinalScore)

	assessment := &domain.Assessment{
		ID:          uuid.New().String(),
		TenantID:    input.TenantID,
		ApplicantID: input.ApplicantID,
		CreatedAt:   now,

		MonthlyIncome:             input.Profile.MonthlyIncome,
		MonthlyExpenses:           input.Profile.MonthlyExpenses,
		TotalMonthlyEMIs:          input.Profile.TotalMonthlyEMIs,
		PastLoanDefaults:          input.Profile.PastLoanDefaults,
		CreditHistoryLengthMonths: input.Profile.CreditHistoryLengthMonths,
		EmploymentType:            input.Profile.EmploymentType,
		Age:                       input.Profile.Age,
		RequestedLoanAmount:       input.Profile.RequestedLoanAmount,

		CreditScore: input.Result.FinalScore,
		RiskTier:    tier,
		Decision:    DecisionFor(tier),
	}

	audits := make([]domain.AuditEntry, len(input.Result.Outcomes))
	for i, out := range input.Result.Outcomes {
		audits[i] = domain.AuditEntry{
			ID:           uuid.New().String(),
			AssessmentID: assessment.ID,
			RuleName:     out.RuleName,
			ScoreImpact:  out.ScoreImpact,
			Reason:       out.Reason,
			CreatedAt:    now,
		}
	}
	assessment.Audits = audits

	assessment.Metadata = domain.AssessmentMetadata{
		TraceID:        input.TraceID,
		MetricsMs:      input.MetricsMs,
		ScoringMs:      input.ScoringMs,
		TotalMs:        time.Since(input.StartTime).Milliseconds(),
		RulesEvaluated: len(input.Result.Outcomes),
		EngineVersion:  EngineVersion,
	}

	return assessment
}
