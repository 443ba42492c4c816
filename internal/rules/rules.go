// Package rules provides the ordered credit rule registry and the CEL
// policy overlay engine.
package rules

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Rule evaluates one underwriting signal against the profile and derived
// metrics, producing a signed score impact with a justification. Rules
// are independent of each other; only the registry fixes their order.
type Rule interface {
	// Name is a stable identifier recorded in the audit trail.
	Name() string

	// Evaluate inspects the profile and metrics. It must not mutate
	// either.
	Evaluate(profile *domain.FinancialProfile, m *domain.DerivedMetrics) (domain.RuleOutcome, error)
}

// Registry returns the built-in rules in their fixed evaluation order.
// The order is part of the audit contract: for a given profile the
// outcome list must reproduce byte-for-byte across runs. Adding,
// removing or reordering rules is a deliberate change, never incidental.
func Registry() []Rule {
	return []Rule{
		IncomeStabilityRule{},
		DtiRule{},
		DefaultHistoryRule{},
		CreditHistoryRule{},
		DisposableIncomeRule{},
	}
}

// Thresholds shared by the built-in rules. These, and the deltas below,
// are the business contract under test; boundary inclusivity matters.
var (
	dtiLow         = decimal.NewFromInt(30)
	dtiHigh        = decimal.NewFromInt(50)
	disposableHigh = decimal.NewFromInt(25000)
	disposableMid  = decimal.NewFromInt(10000)
)

// IncomeStabilityRule scores the stability of the applicant's income
// source.
type IncomeStabilityRule struct{}

func (IncomeStabilityRule) Name() string { return "IncomeStabilityRule" }

func (r IncomeStabilityRule) Evaluate(profile *domain.FinancialProfile, m *domain.DerivedMetrics) (domain.RuleOutcome, error) {
	if profile.EmploymentType == domain.EmploymentSalaried {
		return outcome(r, 50, "Salaried employment provides stable income"), nil
	}
	return outcome(r, 20, "Self-employed income considered moderately stable"), nil
}

// DtiRule scores the debt-to-income ratio.
type DtiRule struct{}

func (DtiRule) Name() string { return "DtiRule" }

func (r DtiRule) Evaluate(profile *domain.FinancialProfile, m *domain.DerivedMetrics) (domain.RuleOutcome, error) {
	if m == nil {
		return domain.RuleOutcome{}, fmt.Errorf("derived metrics are required")
	}

	dti := m.DebtToIncomeRatio
	if dti.LessThan(dtiLow) {
		return outcome(r, 80, "Low debt-to-income ratio indicates healthy debt levels"), nil
	}
	if dti.LessThanOrEqual(dtiHigh) {
		return outcome(r, 30, "Moderate debt-to-income ratio indicates manageable risk"), nil
	}
	return outcome(r, -100, "High debt-to-income ratio indicates heavy existing debt burden"), nil
}

// DefaultHistoryRule scores past repayment behavior.
type DefaultHistoryRule struct{}

func (DefaultHistoryRule) Name() string { return "DefaultHistoryRule" }

func (r DefaultHistoryRule) Evaluate(profile *domain.FinancialProfile, m *domain.DerivedMetrics) (domain.RuleOutcome, error) {
	switch defaults := profile.PastLoanDefaults; {
	case defaults == 0:
		return outcome(r, 100, "No past loan defaults indicate reliable repayment behavior"), nil
	case defaults == 1:
		return outcome(r, -100, "One past loan default indicates increased behavioral risk"), nil
	default:
		return outcome(r, -250, "Multiple past loan defaults indicate high behavioral risk"), nil
	}
}

// CreditHistoryRule scores the length of the applicant's credit history.
type CreditHistoryRule struct{}

func (CreditHistoryRule) Name() string { return "CreditHistoryRule" }

func (r CreditHistoryRule) Evaluate(profile *domain.FinancialProfile, m *domain.DerivedMetrics) (domain.RuleOutcome, error) {
	months := profile.CreditHistoryLengthMonths

	if months >= 36 {
		return outcome(r, 70, "Long credit history improves predictability of borrower behavior"), nil
	}
	if months >= 12 {
		return outcome(r, 30, "Moderate credit history provides some predictability"), nil
	}
	return outcome(r, -50, "Short credit history reduces confidence in repayment behavior"), nil
}

// DisposableIncomeRule scores the applicant's monthly repayment buffer.
type DisposableIncomeRule struct{}

func (DisposableIncomeRule) Name() string { return "DisposableIncomeRule" }

func (r DisposableIncomeRule) Evaluate(profile *domain.FinancialProfile, m *domain.DerivedMetrics) (domain.RuleOutcome, error) {
	if m == nil {
		return domain.RuleOutcome{}, fmt.Errorf("derived metrics are required")
	}

	disposable := m.DisposableIncome
	if disposable.GreaterThanOrEqual(disposableHigh) {
		return outcome(r, 80, "High disposable income indicates strong repayment capacity"), nil
	}
	if disposable.GreaterThanOrEqual(disposableMid) {
		return outcome(r, 30, "Moderate disposable income provides limited repayment buffer"), nil
	}
	return outcome(r, -100, "Low disposable income indicates affordability constraints"), nil
}

func outcome(r Rule, impact int, reason string) domain.RuleOutcome {
	return domain.RuleOutcome{
		RuleName:    r.Name(),
		ScoreImpact: impact,
		Reason:      reason,
	}
}
