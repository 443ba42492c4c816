// Package throttle limits how often an applicant can be evaluated.
package throttle

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Service enforces a per-applicant evaluation rate limit. Counts come
// from the cache when one is available; otherwise the repository is
// consulted for the number of assessments persisted inside the window.
type Service struct {
	repo  domain.Repository
	cache domain.Cache

	maxEvaluations int64
	window         time.Duration
}

// NewService creates a throttle service from config.
func NewService(repo domain.Repository, cache domain.Cache, cfg domain.ThrottleConfig) *Service {
	return &Service{
		repo:           repo,
		cache:          cache,
		maxEvaluations: int64(cfg.MaxEvaluations),
		window:         time.Duration(cfg.WindowSecs) * time.Second,
	}
}

// Allow reports whether another evaluation of the applicant may run,
// and records the attempt when it may. Zero or negative limits disable
// throttling.
func (s *Service) Allow(ctx context.Context, tenantID, applicantID string) (bool, error) {
	if s.maxEvaluations <= 0 {
		return true, nil
	}
	if tenantID == "" || applicantID == "" {
		return false, fmt.Errorf("tenantID and applicantID are required")
	}

	if s.cache != nil {
		count, err := s.cache.IncrementCounter(ctx, tenantID, counterKey(applicantID), s.window)
		if err == nil {
			return count <= s.maxEvaluations, nil
		}
		// Cache failure falls through to the repository count.
	}

	if s.repo != nil {
		since := time.Now().Add(-s.window)
		count, err := s.repo.CountAssessmentsByApplicant(ctx, tenantID, applicantID, since)
		if err != nil {
			return false, fmt.Errorf("failed to count recent assessments: %w", err)
		}
		return count < s.maxEvaluations, nil
	}

	return true, nil
}

func counterKey(applicantID string) string {
	return "throttle:" + applicantID
}
