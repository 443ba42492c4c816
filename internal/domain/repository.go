package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
//
// SaveAssessment and ReplaceAssessment are atomic: the assessment row and
// its full audit-entry set are written in one transaction, or not at all.
type Repository interface {
	// Applicant operations
	SaveApplicant(ctx context.Context, tenantID string, applicant *Applicant) error
	GetApplicant(ctx context.Context, tenantID string, applicantID string) (*Applicant, error)

	// Assessment operations
	SaveAssessment(ctx context.Context, tenantID string, assessment *Assessment) error
	GetAssessment(ctx context.Context, tenantID string, assessmentID string) (*Assessment, error)
	ListAssessmentsByApplicant(ctx context.Context, tenantID string, applicantID string) ([]*Assessment, error)
	CountAssessmentsByApplicant(ctx context.Context, tenantID string, applicantID string, since time.Time) (int64, error)

	// ReplaceAssessment atomically overwrites an assessment's snapshot,
	// score, tier and decision, and swaps the entire audit set. Partial
	// replacement is forbidden.
	ReplaceAssessment(ctx context.Context, tenantID string, assessment *Assessment) error

	// DeleteAssessment removes an assessment and, by cascade, its audit
	// entries.
	DeleteAssessment(ctx context.Context, tenantID string, assessmentID string) error

	// Audit trail
	GetAuditEntries(ctx context.Context, tenantID string, assessmentID string) ([]AuditEntry, error)

	// Policy rule operations
	SavePolicyRule(ctx context.Context, tenantID string, rule *PolicyRule) error
	GetPolicyRule(ctx context.Context, tenantID string, ruleID string) (*PolicyRule, error)
	ListPolicyRules(ctx context.Context, tenantID string) ([]*PolicyRule, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
