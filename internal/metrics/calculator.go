// Package metrics derives normalized financial ratios from a raw profile.
package metrics

import (
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Metric scale: two decimal places, rounded half-up at the final step of
// each computation. Intermediate divisions run at scale+2 so premature
// rounding cannot shift a threshold comparison.
const (
	scale             = 2
	intermediateScale = scale + 2
)

var (
	hundred = decimal.NewFromInt(100)
	twelve  = decimal.NewFromInt(12)
)

// Compute validates the profile invariants and derives all metrics.
// It is a pure function of its input; on any invariant violation it
// returns a *domain.ValidationError and no metrics.
func Compute(profile *domain.FinancialProfile) (*domain.DerivedMetrics, error) {
	if err := Validate(profile); err != nil {
		return nil, err
	}

	dti := debtToIncomeRatio(profile.TotalMonthlyEMIs, profile.MonthlyIncome)
	disposable := disposableIncome(profile.MonthlyIncome, profile.MonthlyExpenses, profile.TotalMonthlyEMIs)

	lti, err := loanToIncomeRatio(profile.RequestedLoanAmount, profile.MonthlyIncome)
	if err != nil {
		return nil, err
	}

	return &domain.DerivedMetrics{
		DebtToIncomeRatio: dti,
		DisposableIncome:  disposable,
		LoanToIncomeRatio: lti,
	}, nil
}

// Validate checks the arithmetic invariants that must hold before any
// rule runs. The HTTP boundary validates ranges too; the core re-checks
// them so a bad profile can never be partially scored.
func Validate(profile *domain.FinancialProfile) error {
	if profile == nil {
		return domain.NewValidationError("profile", "profile is required")
	}

	if profile.MonthlyIncome.Sign() <= 0 {
		return domain.NewValidationError("monthlyIncome", "monthly income must be greater than zero")
	}
	if profile.MonthlyExpenses.Sign() < 0 {
		return domain.NewValidationError("monthlyExpenses", "monthly expenses cannot be negative")
	}
	if profile.TotalMonthlyEMIs.Sign() < 0 {
		return domain.NewValidationError("totalMonthlyEmis", "total monthly EMIs cannot be negative")
	}
	if profile.MonthlyExpenses.GreaterThan(profile.MonthlyIncome) {
		return domain.NewValidationError("monthlyExpenses", "monthly expenses cannot exceed monthly income")
	}
	if profile.TotalMonthlyEMIs.GreaterThan(profile.MonthlyIncome) {
		return domain.NewValidationError("totalMonthlyEmis", "total monthly EMIs cannot exceed monthly income")
	}
	if profile.PastLoanDefaults < 0 {
		return domain.NewValidationError("pastLoanDefaults", "past loan defaults cannot be negative")
	}
	if profile.CreditHistoryLengthMonths < 0 {
		return domain.NewValidationError("creditHistoryLengthMonths", "credit history length cannot be negative")
	}
	if !profile.EmploymentType.Valid() {
		return domain.NewValidationError("employmentType", "unknown employment type")
	}
	if profile.Age < 18 {
		return domain.NewValidationError("age", "applicant must be at least 18")
	}
	if profile.RequestedLoanAmount.Sign() <= 0 {
		return domain.NewValidationError("requestedLoanAmount", "requested loan amount must be greater than zero")
	}

	return nil
}

// debtToIncomeRatio = (EMIs / income) * 100, as a percentage.
func debtToIncomeRatio(totalMonthlyEMIs, monthlyIncome decimal.Decimal) decimal.Decimal {
	return totalMonthlyEMIs.
		DivRound(monthlyIncome, intermediateScale).
		Mul(hundred).
		Round(scale)
}

// disposableIncome = income - (expenses + EMIs). May be negative.
func disposableIncome(monthlyIncome, monthlyExpenses, totalMonthlyEMIs decimal.Decimal) decimal.Decimal {
	return monthlyIncome.
		Sub(monthlyExpenses.Add(totalMonthlyEMIs)).
		Round(scale)
}

// loanToIncomeRatio = requested loan / annualized income.
func loanToIncomeRatio(requestedLoanAmount, monthlyIncome decimal.Decimal) (decimal.Decimal, error) {
	annualIncome := monthlyIncome.Mul(twelve)

	// Guards the division. The income invariant already rules this out,
	// but a division must never run unguarded.
	if annualIncome.Sign() <= 0 {
		return decimal.Zero, domain.NewValidationError("monthlyIncome", "annual income must be greater than zero")
	}

	return requestedLoanAmount.
		DivRound(annualIncome, intermediateScale).
		Round(scale), nil
}
