// Package underwriting orchestrates the credit evaluation pipeline:
// validate, derive metrics, score, decide, persist, publish.
package underwriting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/throttle"
)

// ErrThrottled is returned when an applicant has exhausted the
// evaluation allowance for the current window.
var ErrThrottled = errors.New("evaluation limit reached for applicant")

// assessmentCacheTTL bounds how long read endpoints may serve a cached
// assessment.
const assessmentCacheTTL = 5 * time.Minute

// Service runs evaluations. Anonymous evaluations score a profile and
// return the result without persisting anything; applicant evaluations
// persist an assessment with its audit trail atomically and publish a
// completion event.
type Service struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	scorer    *scoring.Scorer
	processor *decision.Processor
	throttle  *throttle.Service
	logger    *slog.Logger
}

// NewService creates an underwriting service. Cache, bus and throttle
// are optional; repo is required for the persisted paths.
func NewService(repo domain.Repository, cache domain.Cache, bus domain.EventBus, scorer *scoring.Scorer, thr *throttle.Service, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		scorer:    scorer,
		processor: decision.NewProcessor(),
		throttle:  thr,
		logger:    logger,
	}
}

// Evaluate scores a profile without persisting anything. The returned
// assessment carries a generated ID and the full audit trail, but no
// applicant linkage.
func (s *Service) Evaluate(ctx context.Context, tenantID string, profile *domain.FinancialProfile) (*domain.Assessment, error) {
	return s.run(ctx, tenantID, "", profile)
}

// EvaluateApplicant scores a profile for a registered applicant and
// persists the assessment with its audit entries in one transaction.
func (s *Service) EvaluateApplicant(ctx context.Context, tenantID, applicantID string, profile *domain.FinancialProfile) (*domain.Assessment, error) {
	if _, err := s.repo.GetApplicant(ctx, tenantID, applicantID); err != nil {
		return nil, err
	}

	if s.throttle != nil {
		allowed, err := s.throttle.Allow(ctx, tenantID, applicantID)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, ErrThrottled
		}
	}

	assessment, err := s.run(ctx, tenantID, applicantID, profile)
	if err != nil {
		return nil, err
	}

	if err := s.repo.SaveAssessment(ctx, tenantID, assessment); err != nil {
		return nil, fmt.Errorf("failed to save assessment: %w", err)
	}

	s.cacheAssessment(ctx, tenantID, assessment)
	s.publishOutcome(ctx, assessment)

	return assessment, nil
}

// ReEvaluate applies the profile updates to a persisted assessment and
// runs the full pipeline again. The assessment keeps its identity; the
// snapshot, score, tier, decision and the entire audit set are replaced
// atomically. Audit entries never accumulate across runs.
func (s *Service) ReEvaluate(ctx context.Context, tenantID, assessmentID string, update *domain.UpdateProfileRequest) (*domain.Assessment, error) {
	existing, err := s.repo.GetAssessment(ctx, tenantID, assessmentID)
	if err != nil {
		return nil, err
	}

	profile := existing.Profile()
	if update != nil {
		update.Apply(profile)
	}

	assessment, err := s.run(ctx, tenantID, existing.ApplicantID, profile)
	if err != nil {
		return nil, err
	}

	// Keep the original identity and creation time; only the outcome
	// and its audit trail change.
	assessment.ID = existing.ID
	assessment.CreatedAt = existing.CreatedAt
	for i := range assessment.Audits {
		assessment.Audits[i].AssessmentID = existing.ID
	}

	if err := s.repo.ReplaceAssessment(ctx, tenantID, assessment); err != nil {
		return nil, fmt.Errorf("failed to replace assessment: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.DeleteAssessment(ctx, tenantID, assessment.ID); err != nil {
			s.logger.Warn("failed to invalidate assessment cache",
				"tenant_id", tenantID, "assessment_id", assessment.ID, "error", err)
		}
	}
	s.cacheAssessment(ctx, tenantID, assessment)
	s.publishOutcome(ctx, assessment)

	return assessment, nil
}

// run executes the in-memory pipeline: validate, derive, score, decide.
func (s *Service) run(ctx context.Context, tenantID, applicantID string, profile *domain.FinancialProfile) (*domain.Assessment, error) {
	start := time.Now()

	m, err := metrics.Compute(profile)
	if err != nil {
		return nil, err
	}
	metricsMs := time.Since(start).Milliseconds()

	scoringStart := time.Now()
	result, err := s.scorer.Score(profile, m)
	if err != nil {
		return nil, err
	}
	scoringMs := time.Since(scoringStart).Milliseconds()

	assessment := s.processor.Process(ctx, &decision.AssessmentInput{
		TenantID:    tenantID,
		ApplicantID: applicantID,
		TraceID:     traceIDFromContext(ctx),
		Profile:     profile,
		Result:      result,
		MetricsMs:   metricsMs,
		ScoringMs:   scoringMs,
		StartTime:   start,
	})

	s.logger.Info("evaluation completed",
		"tenant_id", tenantID,
		"applicant_id", applicantID,
		"assessment_id", assessment.ID,
		"score", assessment.CreditScore,
		"tier", assessment.RiskTier,
		"decision", assessment.Decision,
		"total_ms", assessment.Metadata.TotalMs,
	)

	return assessment, nil
}

func (s *Service) cacheAssessment(ctx context.Context, tenantID string, assessment *domain.Assessment) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetAssessment(ctx, tenantID, assessment, assessmentCacheTTL); err != nil {
		s.logger.Warn("failed to cache assessment",
			"tenant_id", tenantID, "assessment_id", assessment.ID, "error", err)
	}
}

// publishOutcome emits the completion event. Publish failures are
// logged, not propagated; the assessment is already durable.
func (s *Service) publishOutcome(ctx context.Context, assessment *domain.Assessment) {
	if s.bus == nil {
		return
	}

	topic := domain.TopicAssessmentCompleted
	if assessment.Decision == domain.DecisionReject {
		topic = domain.TopicAssessmentRejected
	}

	payload, err := json.Marshal(assessment.ToResponse())
	if err != nil {
		s.logger.Error("failed to marshal assessment event", "error", err)
		return
	}

	if err := s.bus.Publish(ctx, assessment.TenantID, topic, payload); err != nil {
		s.logger.Warn("failed to publish assessment event",
			"tenant_id", assessment.TenantID, "topic", topic, "error", err)
	}
}

// traceIDFromContext reads the active span's trace ID, if any.
func traceIDFromContext(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.TraceID().IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
