package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskTier is the coarse risk classification derived from the final score.
type RiskTier string

const (
	RiskLow    RiskTier = "LOW"
	RiskMedium RiskTier = "MEDIUM"
	RiskHigh   RiskTier = "HIGH"
)

// Decision is the business action derived from the risk tier.
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReview  Decision = "REVIEW"
	DecisionReject  Decision = "REJECT"
)

// RuleOutcome is the output of one rule evaluation. Outcomes are
// immutable once created.
type RuleOutcome struct {
	RuleName    string `json:"ruleName"`
	ScoreImpact int    `json:"scoreImpact"`
	Reason      string `json:"reason"`
}

// ScoringResult is the aggregated output of the rule engine: the final
// score and one outcome per rule, in evaluation order.
type ScoringResult struct {
	FinalScore int           `json:"finalScore"`
	Outcomes   []RuleOutcome `json:"outcomes"`
}

// Reasons returns the justification strings in rule order.
func (s *ScoringResult) Reasons() []string {
	reasons := make([]string, len(s.Outcomes))
	for i, o := range s.Outcomes {
		reasons[i] = o.Reason
	}
	return reasons
}

// Assessment is the persisted snapshot of one underwriting run. It owns
// its audit entries; the whole set is written atomically and is immutable
// until an explicit re-evaluation replaces it.
type Assessment struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenantId"`
	ApplicantID string    `json:"applicantId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`

	// Profile snapshot, stored with the same decimal representation
	// that was scored.
	MonthlyIncome             decimal.Decimal `json:"monthlyIncome"`
	MonthlyExpenses           decimal.Decimal `json:"monthlyExpenses"`
	TotalMonthlyEMIs          decimal.Decimal `json:"totalMonthlyEmis"`
	PastLoanDefaults          int             `json:"pastLoanDefaults"`
	CreditHistoryLengthMonths int             `json:"creditHistoryLengthMonths"`
	EmploymentType            EmploymentType  `json:"employmentType"`
	Age                       int             `json:"age"`
	RequestedLoanAmount       decimal.Decimal `json:"requestedLoanAmount"`

	// Outcome
	CreditScore int      `json:"creditScore"`
	RiskTier    RiskTier `json:"riskTier"`
	Decision    Decision `json:"decision"`

	// Audit trail, one entry per rule in evaluation order.
	Audits []AuditEntry `json:"audits,omitempty"`

	// Processing metadata
	Metadata AssessmentMetadata `json:"metadata"`
}

// AuditEntry records one rule's contribution to an assessment.
type AuditEntry struct {
	ID           string    `json:"id"`
	AssessmentID string    `json:"assessmentId"`
	RuleName     string    `json:"ruleName"`
	ScoreImpact  int       `json:"scoreImpact"`
	Reason       string    `json:"reason"`
	CreatedAt    time.Time `json:"createdAt"`
}

// AssessmentMetadata contains processing information.
type AssessmentMetadata struct {
	TraceID        string `json:"traceId"`
	MetricsMs      int64  `json:"metricsMs"`
	ScoringMs      int64  `json:"scoringMs"`
	TotalMs        int64  `json:"totalMs"`
	RulesEvaluated int    `json:"rulesEvaluated"`
	EngineVersion  string `json:"engineVersion"`
}

// Profile reconstructs the scored financial profile from the snapshot.
func (a *Assessment) Profile() *FinancialProfile {
	return &FinancialProfile{
		MonthlyIncome:             a.MonthlyIncome,
		MonthlyExpenses:           a.MonthlyExpenses,
		TotalMonthlyEMIs:          a.TotalMonthlyEMIs,
		PastLoanDefaults:          a.PastLoanDefaults,
		CreditHistoryLengthMonths: a.CreditHistoryLengthMonths,
		EmploymentType:            a.EmploymentType,
		Age:                       a.Age,
		RequestedLoanAmount:       a.RequestedLoanAmount,
	}
}

// EvaluationResponse is the API response for a credit evaluation.
type EvaluationResponse struct {
	AssessmentID string             `json:"assessmentId,omitempty"`
	ApplicantID  string             `json:"applicantId,omitempty"`
	CreditScore  int                `json:"creditScore"`
	RiskTier     RiskTier           `json:"riskTier"`
	Decision     Decision           `json:"decision"`
	Reasons      []string           `json:"reasons"`
	Metadata     AssessmentMetadata `json:"metadata"`
}

// ToResponse converts an Assessment to an API response.
func (a *Assessment) ToResponse() *EvaluationResponse {
	reasons := make([]string, len(a.Audits))
	for i, e := range a.Audits {
		reasons[i] = e.Reason
	}

	return &EvaluationResponse{
		AssessmentID: a.ID,
		ApplicantID:  a.ApplicantID,
		CreditScore:  a.CreditScore,
		RiskTier:     a.RiskTier,
		Decision:     a.Decision,
		Reasons:      reasons,
		Metadata:     a.Metadata,
	}
}
