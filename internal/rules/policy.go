package rules

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// PolicyEngine evaluates tenant-defined CEL rules on top of the built-in
// registry. Built-in rules always run first; loaded policy rules run
// after them in ID order, so the combined audit trail stays reproducible
// for a given profile and policy set.
type PolicyEngine struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled map[string]*compiledPolicy
	ordered  []*compiledPolicy
}

type compiledPolicy struct {
	Config  *domain.PolicyRule
	Program cel.Program
}

// NewPolicyEngine creates a policy engine with the profile and metric
// variables bound into the CEL environment. Decimal values are exposed
// to expressions as doubles; exact decimal arithmetic is reserved for
// the built-in rules.
func NewPolicyEngine() (*PolicyEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("monthly_income", cel.DoubleType),
		cel.Variable("monthly_expenses", cel.DoubleType),
		cel.Variable("total_monthly_emis", cel.DoubleType),
		cel.Variable("requested_loan_amount", cel.DoubleType),
		cel.Variable("past_loan_defaults", cel.IntType),
		cel.Variable("credit_history_months", cel.IntType),
		cel.Variable("age", cel.IntType),
		cel.Variable("employment_type", cel.StringType),
		cel.Variable("dti", cel.DoubleType),
		cel.Variable("disposable_income", cel.DoubleType),
		cel.Variable("lti", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &PolicyEngine{
		env:      env,
		compiled: make(map[string]*compiledPolicy),
	}, nil
}

// ValidatePolicy compiles a policy rule without loading it.
func (e *PolicyEngine) ValidatePolicy(cfg *domain.PolicyRule) error {
	if cfg == nil {
		return fmt.Errorf("policy rule is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compile(cfg)
	return err
}

// LoadPolicy compiles and loads a single policy rule.
func (e *PolicyEngine) LoadPolicy(cfg *domain.PolicyRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compile(cfg)
	if err != nil {
		return err
	}

	e.compiled[cfg.ID] = compiled
	e.reorder()

	return nil
}

// ReloadPolicies clears all loaded policy rules and loads new ones.
// This enables hot-reloading from the database.
func (e *PolicyEngine) ReloadPolicies(configs []*domain.PolicyRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	loaded := make(map[string]*compiledPolicy)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		compiled, err := e.compile(cfg)
		if err != nil {
			return err
		}
		loaded[cfg.ID] = compiled
	}

	e.compiled = loaded
	e.reorder()

	return nil
}

// EvaluateAll runs every loaded policy rule in ID order. Any runtime
// failure aborts with an *EvaluationError naming the offending rule; no
// partial outcome list is returned.
func (e *PolicyEngine) EvaluateAll(profile *domain.FinancialProfile, m *domain.DerivedMetrics) ([]domain.RuleOutcome, error) {
	e.mu.RLock()
	policies := e.ordered
	e.mu.RUnlock()

	if len(policies) == 0 {
		return nil, nil
	}

	activation := map[string]any{
		"monthly_income":        profile.MonthlyIncome.InexactFloat64(),
		"monthly_expenses":      profile.MonthlyExpenses.InexactFloat64(),
		"total_monthly_emis":    profile.TotalMonthlyEMIs.InexactFloat64(),
		"requested_loan_amount": profile.RequestedLoanAmount.InexactFloat64(),
		"past_loan_defaults":    int64(profile.PastLoanDefaults),
		"credit_history_months": int64(profile.CreditHistoryLengthMonths),
		"age":                   int64(profile.Age),
		"employment_type":       string(profile.EmploymentType),
		"dti":                   m.DebtToIncomeRatio.InexactFloat64(),
		"disposable_income":     m.DisposableIncome.InexactFloat64(),
		"lti":                   m.LoanToIncomeRatio.InexactFloat64(),
	}

	outcomes := make([]domain.RuleOutcome, 0, len(policies))
	for _, p := range policies {
		out, _, err := p.Program.Eval(activation)
		if err != nil {
			return nil, &EvaluationError{RuleName: p.Config.Name, Err: err}
		}

		impact, err := toImpact(out)
		if err != nil {
			return nil, &EvaluationError{RuleName: p.Config.Name, Err: err}
		}

		outcomes = append(outcomes, domain.RuleOutcome{
			RuleName:    p.Config.Name,
			ScoreImpact: impact,
			Reason:      p.Config.Reason,
		})
	}

	return outcomes, nil
}

// PolicyCount returns the number of loaded policy rules.
func (e *PolicyEngine) PolicyCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// GetLoadedPolicies returns the currently loaded policy configurations
// in evaluation order.
func (e *PolicyEngine) GetLoadedPolicies() []*domain.PolicyRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]*domain.PolicyRule, 0, len(e.ordered))
	for _, p := range e.ordered {
		policies = append(policies, p.Config)
	}
	return policies
}

// Close cleans up the engine.
func (e *PolicyEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled = make(map[string]*compiledPolicy)
	e.ordered = nil
	return nil
}

func (e *PolicyEngine) compile(cfg *domain.PolicyRule) (*compiledPolicy, error) {
	if cfg.ID == "" || cfg.Name == "" {
		return nil, fmt.Errorf("policy rule id and name are required")
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile policy %s: %w", cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.IntType {
		return nil, fmt.Errorf("policy %s: expression must return int score impact, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for policy %s: %w", cfg.ID, err)
	}

	return &compiledPolicy{
		Config:  cfg,
		Program: program,
	}, nil
}

// reorder rebuilds the deterministic evaluation order. Caller holds the
// write lock.
func (e *PolicyEngine) reorder() {
	ordered := make([]*compiledPolicy, 0, len(e.compiled))
	for _, p := range e.compiled {
		ordered = append(ordered, p)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Config.ID < ordered[j].Config.ID
	})
	e.ordered = ordered
}

func toImpact(val ref.Val) (int, error) {
	i, ok := val.(types.Int)
	if !ok {
		return 0, fmt.Errorf("expression produced %T, want int", val.Value())
	}
	return int(i), nil
}
