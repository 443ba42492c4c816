package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func testAssessment(applicantID string) *domain.Assessment {
	id := uuid.New().String()
	now := time.Now().UTC()

	a := &domain.Assessment{
		ID:          id,
		TenantID:    "tenant-001",
		ApplicantID: applicantID,
		CreatedAt:   now,

		MonthlyIncome:             decimal.RequireFromString("50000"),
		MonthlyExpenses:           decimal.RequireFromString("10000"),
		TotalMonthlyEMIs:          decimal.RequireFromString("5000"),
		PastLoanDefaults:          0,
		CreditHistoryLengthMonths: 48,
		EmploymentType:            domain.EmploymentSalaried,
		Age:                       30,
		RequestedLoanAmount:       decimal.RequireFromString("200000.55"),

		CreditScore: 1380,
		RiskTier:    domain.RiskLow,
		Decision:    domain.DecisionApprove,

		Metadata: domain.AssessmentMetadata{
			TraceID:        "trace-001",
			RulesEvaluated: 5,
			EngineVersion:  "kestrel-1.0",
		},
	}

	names := []string{"IncomeStabilityRule", "DtiRule", "DefaultHistoryRule", "CreditHistoryRule", "DisposableIncomeRule"}
	impacts := []int{50, 80, 100, 70, 80}
	for i, name := range names {
		a.Audits = append(a.Audits, domain.AuditEntry{
			ID:           uuid.New().String(),
			AssessmentID: id,
			RuleName:     name,
			ScoreImpact:  impacts[i],
			Reason:       "reason for " + name,
			CreatedAt:    now,
		})
	}

	return a
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetApplicant", func(t *testing.T) {
		applicant := &domain.Applicant{
			ID:        "app-001",
			FullName:  "Asha Nair",
			Email:     "asha@example.com",
			CreatedAt: time.Now().UTC(),
		}

		if err := repo.SaveApplicant(ctx, tenantID, applicant); err != nil {
			t.Fatalf("SaveApplicant failed: %v", err)
		}

		retrieved, err := repo.GetApplicant(ctx, tenantID, "app-001")
		if err != nil {
			t.Fatalf("GetApplicant failed: %v", err)
		}
		if retrieved.FullName != applicant.FullName {
			t.Errorf("expected name %s, got %s", applicant.FullName, retrieved.FullName)
		}
		if retrieved.TenantID != tenantID {
			t.Errorf("expected tenant %s, got %s", tenantID, retrieved.TenantID)
		}
	})

	t.Run("SaveAndGetAssessment", func(t *testing.T) {
		a := testAssessment("app-001")

		if err := repo.SaveAssessment(ctx, tenantID, a); err != nil {
			t.Fatalf("SaveAssessment failed: %v", err)
		}

		retrieved, err := repo.GetAssessment(ctx, tenantID, a.ID)
		if err != nil {
			t.Fatalf("GetAssessment failed: %v", err)
		}

		// Decimals must round-trip exactly.
		if !retrieved.RequestedLoanAmount.Equal(a.RequestedLoanAmount) {
			t.Errorf("loan amount lost precision: %s vs %s", retrieved.RequestedLoanAmount, a.RequestedLoanAmount)
		}
		if !retrieved.MonthlyIncome.Equal(a.MonthlyIncome) {
			t.Errorf("income lost precision: %s", retrieved.MonthlyIncome)
		}
		if retrieved.CreditScore != 1380 {
			t.Errorf("expected score 1380, got %d", retrieved.CreditScore)
		}
		if retrieved.RiskTier != domain.RiskLow || retrieved.Decision != domain.DecisionApprove {
			t.Errorf("unexpected outcome %s/%s", retrieved.RiskTier, retrieved.Decision)
		}
		if retrieved.Metadata.TraceID != "trace-001" {
			t.Errorf("metadata not restored: %+v", retrieved.Metadata)
		}

		if len(retrieved.Audits) != 5 {
			t.Fatalf("expected 5 audit entries, got %d", len(retrieved.Audits))
		}
		// Audit order must match evaluation order.
		for i, e := range retrieved.Audits {
			if e.RuleName != a.Audits[i].RuleName {
				t.Errorf("audit %d: expected %s, got %s", i, a.Audits[i].RuleName, e.RuleName)
			}
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		a := testAssessment("app-001")
		if err := repo.SaveAssessment(ctx, tenantID, a); err != nil {
			t.Fatalf("SaveAssessment failed: %v", err)
		}

		if _, err := repo.GetAssessment(ctx, "tenant-002", a.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound across tenants, got %v", err)
		}
		if _, err := repo.GetApplicant(ctx, "tenant-002", "app-001"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound across tenants, got %v", err)
		}
	})

	t.Run("ListAssessmentsByApplicant", func(t *testing.T) {
		applicant := &domain.Applicant{ID: "app-list", FullName: "Dev Rao", Email: "dev@example.com", CreatedAt: time.Now().UTC()}
		if err := repo.SaveApplicant(ctx, tenantID, applicant); err != nil {
			t.Fatalf("SaveApplicant failed: %v", err)
		}

		first := testAssessment("app-list")
		first.CreatedAt = time.Now().UTC().Add(-time.Hour)
		second := testAssessment("app-list")

		if err := repo.SaveAssessment(ctx, tenantID, first); err != nil {
			t.Fatalf("SaveAssessment failed: %v", err)
		}
		if err := repo.SaveAssessment(ctx, tenantID, second); err != nil {
			t.Fatalf("SaveAssessment failed: %v", err)
		}

		list, err := repo.ListAssessmentsByApplicant(ctx, tenantID, "app-list")
		if err != nil {
			t.Fatalf("ListAssessmentsByApplicant failed: %v", err)
		}
		if len(list) != 2 {
			t.Fatalf("expected 2 assessments, got %d", len(list))
		}
		if list[0].ID != second.ID {
			t.Errorf("expected newest first, got %s", list[0].ID)
		}
	})

	t.Run("CountAssessmentsByApplicant", func(t *testing.T) {
		count, err := repo.CountAssessmentsByApplicant(ctx, tenantID, "app-list", time.Now().UTC().Add(-30*time.Minute))
		if err != nil {
			t.Fatalf("CountAssessmentsByApplicant failed: %v", err)
		}
		if count != 1 {
			t.Errorf("expected 1 assessment in window, got %d", count)
		}
	})

	t.Run("ReplaceAssessmentSwapsAudits", func(t *testing.T) {
		a := testAssessment("app-001")
		if err := repo.SaveAssessment(ctx, tenantID, a); err != nil {
			t.Fatalf("SaveAssessment failed: %v", err)
		}

		updated := testAssessment("app-001")
		updated.ID = a.ID
		updated.CreatedAt = a.CreatedAt
		updated.PastLoanDefaults = 2
		updated.CreditScore = 1030
		updated.RiskTier = domain.RiskLow
		updated.Audits = updated.Audits[:3]
		for i := range updated.Audits {
			updated.Audits[i].AssessmentID = a.ID
			updated.Audits[i].Reason = "replaced"
		}

		if err := repo.ReplaceAssessment(ctx, tenantID, updated); err != nil {
			t.Fatalf("ReplaceAssessment failed: %v", err)
		}

		retrieved, err := repo.GetAssessment(ctx, tenantID, a.ID)
		if err != nil {
			t.Fatalf("GetAssessment failed: %v", err)
		}
		if retrieved.CreditScore != 1030 {
			t.Errorf("expected updated score 1030, got %d", retrieved.CreditScore)
		}
		if retrieved.PastLoanDefaults != 2 {
			t.Errorf("expected updated snapshot, got %d defaults", retrieved.PastLoanDefaults)
		}
		if len(retrieved.Audits) != 3 {
			t.Fatalf("expected old audits replaced, got %d entries", len(retrieved.Audits))
		}
		for _, e := range retrieved.Audits {
			if e.Reason != "replaced" {
				t.Errorf("stale audit entry survived: %+v", e)
			}
		}
	})

	t.Run("ReplaceUnknownAssessment", func(t *testing.T) {
		a := testAssessment("app-001")
		a.ID = "missing"
		if err := repo.ReplaceAssessment(ctx, tenantID, a); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("DeleteAssessmentCascades", func(t *testing.T) {
		a := testAssessment("app-001")
		if err := repo.SaveAssessment(ctx, tenantID, a); err != nil {
			t.Fatalf("SaveAssessment failed: %v", err)
		}

		if err := repo.DeleteAssessment(ctx, tenantID, a.ID); err != nil {
			t.Fatalf("DeleteAssessment failed: %v", err)
		}

		if _, err := repo.GetAssessment(ctx, tenantID, a.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}

		audits, err := repo.GetAuditEntries(ctx, tenantID, a.ID)
		if err != nil {
			t.Fatalf("GetAuditEntries failed: %v", err)
		}
		if len(audits) != 0 {
			t.Errorf("expected audits cascaded, got %d entries", len(audits))
		}
	})

	t.Run("DeleteUnknownAssessment", func(t *testing.T) {
		if err := repo.DeleteAssessment(ctx, tenantID, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("CorruptMetadataFailsLoudly", func(t *testing.T) {
		a := testAssessment("app-001")
		if err := repo.SaveAssessment(ctx, tenantID, a); err != nil {
			t.Fatalf("SaveAssessment failed: %v", err)
		}

		sqlRepo := repo.(*SQLRepository)
		if _, err := sqlRepo.db.ExecContext(ctx,
			sqlRepo.rebind(`UPDATE assessments SET metadata = ? WHERE id = ?`),
			`{not json`, a.ID,
		); err != nil {
			t.Fatalf("failed to corrupt metadata: %v", err)
		}

		if _, err := repo.GetAssessment(ctx, tenantID, a.ID); err == nil {
			t.Error("expected error for corrupt metadata, got nil")
		}
	})

	t.Run("PolicyRuleUpsertAndList", func(t *testing.T) {
		rule := &domain.PolicyRule{
			ID:         "pol-001",
			Name:       "YoungBorrowerPenalty",
			Version:    "1.0.0",
			Expression: `age < 25 ? -40 : 0`,
			Reason:     "Borrowers under 25 carry elevated early-tenure risk",
			Enabled:    true,
		}

		if err := repo.SavePolicyRule(ctx, tenantID, rule); err != nil {
			t.Fatalf("SavePolicyRule failed: %v", err)
		}

		rule.Expression = `age < 23 ? -40 : 0`
		if err := repo.SavePolicyRule(ctx, tenantID, rule); err != nil {
			t.Fatalf("SavePolicyRule upsert failed: %v", err)
		}

		retrieved, err := repo.GetPolicyRule(ctx, tenantID, "pol-001")
		if err != nil {
			t.Fatalf("GetPolicyRule failed: %v", err)
		}
		if retrieved.Expression != `age < 23 ? -40 : 0` {
			t.Errorf("upsert did not replace expression: %s", retrieved.Expression)
		}
		if !retrieved.Enabled {
			t.Error("expected rule enabled")
		}

		rules, err := repo.ListPolicyRules(ctx, tenantID)
		if err != nil {
			t.Fatalf("ListPolicyRules failed: %v", err)
		}
		if len(rules) != 1 {
			t.Errorf("expected 1 rule, got %d", len(rules))
		}
	})

	t.Run("MissingTenant", func(t *testing.T) {
		if _, err := repo.GetAssessment(ctx, "", "any"); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}
