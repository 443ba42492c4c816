// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EmploymentType classifies the applicant's source of income.
type EmploymentType string

const (
	EmploymentSalaried     EmploymentType = "SALARIED"
	EmploymentSelfEmployed EmploymentType = "SELF_EMPLOYED"
)

// Valid reports whether the employment type is a known value.
func (e EmploymentType) Valid() bool {
	switch e {
	case EmploymentSalaried, EmploymentSelfEmployed:
		return true
	}
	return false
}

// FinancialProfile holds the raw financial facts for one evaluation.
// Monetary fields are exact decimals; scoring must stay deterministic
// and auditable, so binary floating point is never used for money.
type FinancialProfile struct {
	MonthlyIncome             decimal.Decimal `json:"monthlyIncome"`
	MonthlyExpenses           decimal.Decimal `json:"monthlyExpenses"`
	TotalMonthlyEMIs          decimal.Decimal `json:"totalMonthlyEmis"`
	PastLoanDefaults          int             `json:"pastLoanDefaults"`
	CreditHistoryLengthMonths int             `json:"creditHistoryLengthMonths"`
	EmploymentType            EmploymentType  `json:"employmentType"`
	Age                       int             `json:"age"`
	RequestedLoanAmount       decimal.Decimal `json:"requestedLoanAmount"`
}

// DerivedMetrics holds the normalized ratios computed once per evaluation.
// All values are scale-2 decimals, rounded half-up at the final step of
// each computation. Rules read them, never write them.
type DerivedMetrics struct {
	// DebtToIncomeRatio is a percentage (42.50 means 42.50%).
	DebtToIncomeRatio decimal.Decimal `json:"debtToIncomeRatio"`

	// DisposableIncome is a monthly currency amount. May be negative.
	DisposableIncome decimal.Decimal `json:"disposableIncome"`

	// LoanToIncomeRatio relates the requested loan to annualized income
	// (3.50 means the loan is 3.5x annual income).
	LoanToIncomeRatio decimal.Decimal `json:"loanToIncomeRatio"`
}

// Applicant is a loan applicant registered with a tenant.
type Applicant struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	FullName  string    `json:"fullName"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// EvaluateRequest is the API request payload for a credit evaluation.
// Decimal fields accept both JSON numbers and quoted strings.
type EvaluateRequest struct {
	MonthlyIncome             decimal.Decimal `json:"monthlyIncome"`
	MonthlyExpenses           decimal.Decimal `json:"monthlyExpenses"`
	TotalMonthlyEMIs          decimal.Decimal `json:"totalMonthlyEmis"`
	PastLoanDefaults          int             `json:"pastLoanDefaults"`
	CreditHistoryLengthMonths int             `json:"creditHistoryLengthMonths"`
	EmploymentType            EmploymentType  `json:"employmentType"`
	Age                       int             `json:"age"`
	RequestedLoanAmount       decimal.Decimal `json:"requestedLoanAmount"`
}

// UpdateProfileRequest carries the fields that may change on a
// re-evaluation. Nil fields keep their persisted values.
type UpdateProfileRequest struct {
	MonthlyIncome    *decimal.Decimal `json:"monthlyIncome,omitempty"`
	MonthlyExpenses  *decimal.Decimal `json:"monthlyExpenses,omitempty"`
	TotalMonthlyEMIs *decimal.Decimal `json:"totalMonthlyEmis,omitempty"`
	PastLoanDefaults *int             `json:"pastLoanDefaults,omitempty"`
}

// Apply overlays the non-nil fields onto a profile.
func (r *UpdateProfileRequest) Apply(p *FinancialProfile) {
	if r.MonthlyIncome != nil {
		p.MonthlyIncome = *r.MonthlyIncome
	}
	if r.MonthlyExpenses != nil {
		p.MonthlyExpenses = *r.MonthlyExpenses
	}
	if r.TotalMonthlyEMIs != nil {
		p.TotalMonthlyEMIs = *r.TotalMonthlyEMIs
	}
	if r.PastLoanDefaults != nil {
		p.PastLoanDefaults = *r.PastLoanDefaults
	}
}

// ToProfile converts a request to a FinancialProfile domain object.
func (r *EvaluateRequest) ToProfile() *FinancialProfile {
	return &FinancialProfile{
		MonthlyIncome:             r.MonthlyIncome,
		MonthlyExpenses:           r.MonthlyExpenses,
		TotalMonthlyEMIs:          r.TotalMonthlyEMIs,
		PastLoanDefaults:          r.PastLoanDefaults,
		CreditHistoryLengthMonths: r.CreditHistoryLengthMonths,
		EmploymentType:            r.EmploymentType,
		Age:                       r.Age,
		RequestedLoanAmount:       r.RequestedLoanAmount,
	}
}
