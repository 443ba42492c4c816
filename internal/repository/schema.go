package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.
//
// Monetary columns are stored as TEXT so decimal values round-trip
// exactly; REAL would silently lose precision.

const schemaApplicants = `
CREATE TABLE IF NOT EXISTS applicants (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    full_name TEXT NOT NULL,
    email TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_applicants_tenant ON applicants(tenant_id);
CREATE INDEX IF NOT EXISTS idx_applicants_email ON applicants(tenant_id, email);
`

const schemaAssessments = `
CREATE TABLE IF NOT EXISTS assessments (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    applicant_id TEXT,
    created_at TIMESTAMP NOT NULL,
    monthly_income TEXT NOT NULL,
    monthly_expenses TEXT NOT NULL,
    total_monthly_emis TEXT NOT NULL,
    past_loan_defaults INTEGER NOT NULL,
    credit_history_months INTEGER NOT NULL,
    employment_type TEXT NOT NULL,
    age INTEGER NOT NULL,
    requested_loan_amount TEXT NOT NULL,
    credit_score INTEGER NOT NULL,
    risk_tier TEXT NOT NULL,
    decision TEXT NOT NULL,
    metadata TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assessments_tenant ON assessments(tenant_id);
CREATE INDEX IF NOT EXISTS idx_assessments_applicant ON assessments(tenant_id, applicant_id);
CREATE INDEX IF NOT EXISTS idx_assessments_created ON assessments(tenant_id, created_at);
`

const schemaAssessmentAudits = `
CREATE TABLE IF NOT EXISTS assessment_audits (
    id TEXT PRIMARY KEY,
    assessment_id TEXT NOT NULL REFERENCES assessments(id) ON DELETE CASCADE,
    tenant_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    rule_name TEXT NOT NULL,
    score_impact INTEGER NOT NULL,
    reason TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audits_assessment ON assessment_audits(tenant_id, assessment_id, seq);
`

const schemaPolicyRules = `
CREATE TABLE IF NOT EXISTS policy_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    reason TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_policy_rules_tenant ON policy_rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_policy_rules_enabled ON policy_rules(tenant_id, enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaApplicants,
		schemaAssessments,
		schemaAssessmentAudits,
		schemaPolicyRules,
	}
}
