package domain

// PolicyRule defines a tenant-configured scoring rule evaluated after the
// built-in registry. The CEL expression is evaluated against the profile
// and derived metrics and must produce the signed score impact as an
// integer. Policy rules extend the rule set without touching the core
// registry; their evaluation order (by ID) is fixed per loaded set so
// audit trails stay reproducible.
type PolicyRule struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// Expression is a CEL expression returning an int score impact,
	// e.g. "age < 25 ? -40 : 0".
	Expression string `json:"expression"`

	// Reason is the justification recorded in the audit trail.
	Reason string `json:"reason"`

	// Whether the rule is active.
	Enabled bool `json:"enabled"`
}
