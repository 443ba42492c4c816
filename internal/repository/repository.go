// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
//
// An assessment and its audit entries form one atomic unit: writes and
// replacements run inside a transaction, and deletes cascade.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveApplicant stores an applicant with tenant isolation.
func (r *SQLRepository) SaveApplicant(ctx context.Context, tenantID string, applicant *domain.Applicant) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO applicants (id, tenant_id, full_name, email, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		applicant.ID, tenantID, applicant.FullName, applicant.Email, applicant.CreatedAt,
	)
	return err
}

// GetApplicant retrieves an applicant by ID with tenant isolation.
func (r *SQLRepository) GetApplicant(ctx context.Context, tenantID string, applicantID string) (*domain.Applicant, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, full_name, email, created_at
		FROM applicants
		WHERE tenant_id = ? AND id = ?
	`

	var a domain.Applicant
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, applicantID).Scan(
		&a.ID, &a.TenantID, &a.FullName, &a.Email, &a.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &a, nil
}

// SaveAssessment stores an assessment and its audit entries in one
// transaction.
func (r *SQLRepository) SaveAssessment(ctx context.Context, tenantID string, a *domain.Assessment) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	metadata, _ := json.Marshal(a.Metadata)

	query := `
		INSERT INTO assessments (
			id, tenant_id, applicant_id, created_at,
			monthly_income, monthly_expenses, total_monthly_emis,
			past_loan_defaults, credit_history_months, employment_type,
			age, requested_loan_amount,
			credit_score, risk_tier, decision, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = tx.ExecContext(ctx, r.rebind(query),
		a.ID, tenantID, a.ApplicantID, a.CreatedAt,
		a.MonthlyIncome.String(), a.MonthlyExpenses.String(), a.TotalMonthlyEMIs.String(),
		a.PastLoanDefaults, a.CreditHistoryLengthMonths, a.EmploymentType,
		a.Age, a.RequestedLoanAmount.String(),
		a.CreditScore, a.RiskTier, a.Decision, string(metadata),
	)
	if err != nil {
		return fmt.Errorf("failed to insert assessment: %w", err)
	}

	if err := r.insertAudits(ctx, tx, tenantID, a); err != nil {
		return err
	}

	return tx.Commit()
}

// GetAssessment retrieves an assessment with its audit entries.
func (r *SQLRepository) GetAssessment(ctx context.Context, tenantID string, assessmentID string) (*domain.Assessment, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, applicant_id, created_at,
			   monthly_income, monthly_expenses, total_monthly_emis,
			   past_loan_defaults, credit_history_months, employment_type,
			   age, requested_loan_amount,
			   credit_score, risk_tier, decision, metadata
		FROM assessments
		WHERE tenant_id = ? AND id = ?
	`

	a, err := r.scanAssessment(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, assessmentID))
	if err != nil {
		return nil, err
	}

	audits, err := r.GetAuditEntries(ctx, tenantID, assessmentID)
	if err != nil {
		return nil, err
	}
	a.Audits = audits

	return a, nil
}

// ListAssessmentsByApplicant retrieves an applicant's assessment
// history, newest first. Audit entries are not loaded; fetch them per
// assessment via GetAuditEntries.
func (r *SQLRepository) ListAssessmentsByApplicant(ctx context.Context, tenantID string, applicantID string) ([]*domain.Assessment, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, applicant_id, created_at,
			   monthly_income, monthly_expenses, total_monthly_emis,
			   past_loan_defaults, credit_history_months, employment_type,
			   age, requested_loan_amount,
			   credit_score, risk_tier, decision, metadata
		FROM assessments
		WHERE tenant_id = ? AND applicant_id = ?
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, applicantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assessments []*domain.Assessment
	for rows.Next() {
		a, err := r.scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		assessments = append(assessments, a)
	}

	return assessments, rows.Err()
}

// CountAssessmentsByApplicant counts assessments persisted since the
// given time. Used by the evaluation throttle.
func (r *SQLRepository) CountAssessmentsByApplicant(ctx context.Context, tenantID string, applicantID string, since time.Time) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*) FROM assessments
		WHERE tenant_id = ? AND applicant_id = ? AND created_at >= ?
	`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, applicantID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count assessments: %w", err)
	}

	return count, nil
}

// ReplaceAssessment overwrites an assessment's snapshot and outcome and
// swaps the entire audit set, all in one transaction.
func (r *SQLRepository) ReplaceAssessment(ctx context.Context, tenantID string, a *domain.Assessment) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	metadata, _ := json.Marshal(a.Metadata)

	query := `
		UPDATE assessments SET
			monthly_income = ?, monthly_expenses = ?, total_monthly_emis = ?,
			past_loan_defaults = ?, credit_history_months = ?, employment_type = ?,
			age = ?, requested_loan_amount = ?,
			credit_score = ?, risk_tier = ?, decision = ?, metadata = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := tx.ExecContext(ctx, r.rebind(query),
		a.MonthlyIncome.String(), a.MonthlyExpenses.String(), a.TotalMonthlyEMIs.String(),
		a.PastLoanDefaults, a.CreditHistoryLengthMonths, a.EmploymentType,
		a.Age, a.RequestedLoanAmount.String(),
		a.CreditScore, a.RiskTier, a.Decision, string(metadata),
		tenantID, a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update assessment: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}

	deleteQuery := `DELETE FROM assessment_audits WHERE tenant_id = ? AND assessment_id = ?`
	if _, err := tx.ExecContext(ctx, r.rebind(deleteQuery), tenantID, a.ID); err != nil {
		return fmt.Errorf("failed to clear audit entries: %w", err)
	}

	if err := r.insertAudits(ctx, tx, tenantID, a); err != nil {
		return err
	}

	return tx.Commit()
}

// DeleteAssessment removes an assessment; the audit entries go with it
// via the foreign-key cascade.
func (r *SQLRepository) DeleteAssessment(ctx context.Context, tenantID string, assessmentID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `DELETE FROM assessments WHERE tenant_id = ? AND id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), tenantID, assessmentID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// GetAuditEntries retrieves an assessment's audit trail in evaluation
// order.
func (r *SQLRepository) GetAuditEntries(ctx context.Context, tenantID string, assessmentID string) ([]domain.AuditEntry, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, assessment_id, rule_name, score_impact, reason, created_at
		FROM assessment_audits
		WHERE tenant_id = ? AND assessment_id = ?
		ORDER BY seq
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, assessmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(
			&e.ID, &e.AssessmentID, &e.RuleName, &e.ScoreImpact, &e.Reason, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// SavePolicyRule stores a policy rule with tenant isolation.
func (r *SQLRepository) SavePolicyRule(ctx context.Context, tenantID string, rule *domain.PolicyRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO policy_rules (
			id, tenant_id, name, description, version, expression, reason, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			version = excluded.version,
			expression = excluded.expression,
			reason = excluded.reason,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.Version, rule.Expression, rule.Reason, enabled,
		now, now,
	)
	return err
}

// GetPolicyRule retrieves a policy rule with tenant isolation.
func (r *SQLRepository) GetPolicyRule(ctx context.Context, tenantID string, ruleID string) (*domain.PolicyRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, reason, enabled
		FROM policy_rules
		WHERE tenant_id = ? AND id = ?
	`

	var rule domain.PolicyRule
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID).Scan(
		&rule.ID, &rule.TenantID, &rule.Name, &rule.Description,
		&rule.Version, &rule.Expression, &rule.Reason, &enabled,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rule.Enabled = enabled == 1

	return &rule, nil
}

// ListPolicyRules retrieves all policy rules for a tenant in ID order.
func (r *SQLRepository) ListPolicyRules(ctx context.Context, tenantID string) ([]*domain.PolicyRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, reason, enabled
		FROM policy_rules
		WHERE tenant_id = ?
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.PolicyRule
	for rows.Next() {
		var rule domain.PolicyRule
		var enabled int

		if err := rows.Scan(
			&rule.ID, &rule.TenantID, &rule.Name, &rule.Description,
			&rule.Version, &rule.Expression, &rule.Reason, &enabled,
		); err != nil {
			return nil, err
		}

		rule.Enabled = enabled == 1
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// insertAudits writes the audit entries inside the caller's transaction,
// preserving evaluation order through the seq column.
func (r *SQLRepository) insertAudits(ctx context.Context, tx *sql.Tx, tenantID string, a *domain.Assessment) error {
	query := `
		INSERT INTO assessment_audits (
			id, assessment_id, tenant_id, seq, rule_name, score_impact, reason, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	for i, e := range a.Audits {
		_, err := tx.ExecContext(ctx, r.rebind(query),
			e.ID, a.ID, tenantID, i, e.RuleName, e.ScoreImpact, e.Reason, e.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert audit entry: %w", err)
		}
	}

	return nil
}

// scanner abstracts sql.Row and sql.Rows for shared scan logic.
type scanner interface {
	Scan(dest ...any) error
}

func (r *SQLRepository) scanAssessment(row scanner) (*domain.Assessment, error) {
	var a domain.Assessment
	var income, expenses, emis, loan, metadata string

	err := row.Scan(
		&a.ID, &a.TenantID, &a.ApplicantID, &a.CreatedAt,
		&income, &expenses, &emis,
		&a.PastLoanDefaults, &a.CreditHistoryLengthMonths, &a.EmploymentType,
		&a.Age, &loan,
		&a.CreditScore, &a.RiskTier, &a.Decision, &metadata,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if a.MonthlyIncome, err = decimal.NewFromString(income); err != nil {
		return nil, fmt.Errorf("corrupt monthly_income %q: %w", income, err)
	}
	if a.MonthlyExpenses, err = decimal.NewFromString(expenses); err != nil {
		return nil, fmt.Errorf("corrupt monthly_expenses %q: %w", expenses, err)
	}
	if a.TotalMonthlyEMIs, err = decimal.NewFromString(emis); err != nil {
		return nil, fmt.Errorf("corrupt total_monthly_emis %q: %w", emis, err)
	}
	if a.RequestedLoanAmount, err = decimal.NewFromString(loan); err != nil {
		return nil, fmt.Errorf("corrupt requested_loan_amount %q: %w", loan, err)
	}

	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &a.Metadata); err != nil {
			return nil, fmt.Errorf("corrupt metadata %q: %w", metadata, err)
		}
	}

	return &a, nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
