package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/underwriting"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// assessmentReadTTL bounds how long GET /assessments may serve an
// assessment loaded from the repository before re-reading it.
const assessmentReadTTL = 5 * time.Minute

// GlobalTenantID is used for policy rules that apply to all tenants.
const GlobalTenantID = "*"

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	service  *underwriting.Service
	policies *rules.PolicyEngine
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, service *underwriting.Service, policies *rules.PolicyEngine, version string) *Handler {
	return &Handler{
		repo:     repo,
		cache:    cache,
		bus:      bus,
		service:  service,
		policies: policies,
		version:  version,
	}
}

// Evaluate handles POST /evaluate: a stateless scoring run. Nothing is
// persisted; the caller gets the score, tier, decision and reasons.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req domain.EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	assessment, err := h.service.Evaluate(ctx, tenantID, req.ToProfile())
	if err != nil {
		h.writeEvaluationError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, assessment.ToResponse())
}

// CreateApplicantRequest is the request body for POST /applicants.
type CreateApplicantRequest struct {
	ID       string `json:"id,omitempty"`
	FullName string `json:"fullName"`
	Email    string `json:"email,omitempty"`
}

// CreateApplicant registers a new applicant with the tenant.
func (h *Handler) CreateApplicant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req CreateApplicantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.FullName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "fullName is required",
		})
		return
	}

	applicant := &domain.Applicant{
		ID:        req.ID,
		TenantID:  tenantID,
		FullName:  req.FullName,
		Email:     req.Email,
		CreatedAt: time.Now().UTC(),
	}
	if applicant.ID == "" {
		applicant.ID = uuid.New().String()
	}

	if err := h.repo.SaveApplicant(ctx, tenantID, applicant); err != nil {
		slog.Error("failed to save applicant", "id", applicant.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save applicant",
		})
		return
	}

	writeJSON(w, http.StatusCreated, applicant)
}

// GetApplicant retrieves an applicant by ID.
func (h *Handler) GetApplicant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	applicantID := chi.URLParam(r, "id")

	applicant, err := h.repo.GetApplicant(ctx, tenantID, applicantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "applicant not found",
			})
			return
		}
		slog.Error("failed to get applicant", "id", applicantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get applicant",
		})
		return
	}

	writeJSON(w, http.StatusOK, applicant)
}

// AcceptedResponse is returned for async evaluation requests.
type AcceptedResponse struct {
	RequestID   string `json:"requestId"`
	ApplicantID string `json:"applicantId"`
	Status      string `json:"status"`
}

// EvaluateApplicant handles POST /applicants/{id}/evaluate. The default
// is a synchronous run that persists the assessment and returns it. With
// ?async=true the request is published to the worker queue and the
// caller gets a 202 with the request ID.
func (h *Handler) EvaluateApplicant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	applicantID := chi.URLParam(r, "id")

	var req domain.EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if r.URL.Query().Get("async") == "true" {
		if h.bus == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "event bus not available",
			})
			return
		}

		msg := worker.EvaluationMessage{
			RequestID:   uuid.New().String(),
			TenantID:    tenantID,
			ApplicantID: applicantID,
			TraceID:     GetTraceID(ctx),
			Profile:     req,
		}
		payload, err := json.Marshal(msg)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to encode evaluation request",
			})
			return
		}

		if err := h.bus.Publish(ctx, tenantID, domain.TopicAssessmentRequested, payload); err != nil {
			slog.Error("failed to publish evaluation request",
				"applicant_id", applicantID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to queue evaluation request",
			})
			return
		}

		writeJSON(w, http.StatusAccepted, AcceptedResponse{
			RequestID:   msg.RequestID,
			ApplicantID: applicantID,
			Status:      "accepted",
		})
		return
	}

	assessment, err := h.service.EvaluateApplicant(ctx, tenantID, applicantID, req.ToProfile())
	if err != nil {
		h.writeEvaluationError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, assessment.ToResponse())
}

// ListAssessments returns all assessments for an applicant, newest first.
// Audit entries are not included; fetch a single assessment for those.
func (h *Handler) ListAssessments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	applicantID := chi.URLParam(r, "id")

	assessments, err := h.repo.ListAssessmentsByApplicant(ctx, tenantID, applicantID)
	if err != nil {
		slog.Error("failed to list assessments", "applicant_id", applicantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list assessments",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"assessments": assessments,
		"count":       len(assessments),
	})
}

// GetAssessment retrieves an assessment by ID, reading through the cache.
func (h *Handler) GetAssessment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	assessmentID := chi.URLParam(r, "id")

	if h.cache != nil {
		if cached, err := h.cache.GetAssessment(ctx, tenantID, assessmentID); err == nil && cached != nil {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	assessment, err := h.repo.GetAssessment(ctx, tenantID, assessmentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "assessment not found",
			})
			return
		}
		slog.Error("failed to get assessment", "id", assessmentID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get assessment",
		})
		return
	}

	if h.cache != nil {
		if err := h.cache.SetAssessment(ctx, tenantID, assessment, assessmentReadTTL); err != nil {
			slog.Warn("failed to cache assessment", "id", assessmentID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, assessment)
}

// GetAuditTrail returns the per-rule audit entries for an assessment,
// in evaluation order.
func (h *Handler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	assessmentID := chi.URLParam(r, "id")

	assessment, err := h.repo.GetAssessment(ctx, tenantID, assessmentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "assessment not found",
			})
			return
		}
		slog.Error("failed to get audit trail", "id", assessmentID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get audit trail",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"assessmentId": assessment.ID,
		"entries":      assessment.Audits,
		"count":        len(assessment.Audits),
	})
}

// ReEvaluate handles PUT /assessments/{id}: overlays the profile updates
// on the stored snapshot and runs the pipeline again. The assessment
// keeps its ID; the outcome and the entire audit set are replaced.
func (h *Handler) ReEvaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	assessmentID := chi.URLParam(r, "id")

	var update domain.UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	assessment, err := h.service.ReEvaluate(ctx, tenantID, assessmentID, &update)
	if err != nil {
		h.writeEvaluationError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, assessment.ToResponse())
}

// DeleteAssessment deletes an assessment; its audit entries go with it.
func (h *Handler) DeleteAssessment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	assessmentID := chi.URLParam(r, "id")

	if err := h.repo.DeleteAssessment(ctx, tenantID, assessmentID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "assessment not found",
			})
			return
		}
		slog.Error("failed to delete assessment", "id", assessmentID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to delete assessment",
		})
		return
	}

	if h.cache != nil {
		if err := h.cache.DeleteAssessment(ctx, tenantID, assessmentID); err != nil {
			slog.Warn("failed to invalidate assessment cache", "id", assessmentID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "assessment deleted",
	})
}

// ListPolicies returns all policy rules loaded in the engine.
// Policies are loaded from the database at startup and can be reloaded
// via POST /policies/reload.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	loaded := h.policies.GetLoadedPolicies()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"policies": loaded,
		"count":    len(loaded),
		"source":   "database",
	})
}

// GetPolicy retrieves a loaded policy rule by ID.
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	policyID := chi.URLParam(r, "id")

	for _, p := range h.policies.GetLoadedPolicies() {
		if p.ID == policyID {
			writeJSON(w, http.StatusOK, p)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "policy not found",
	})
}

// CreatePolicyRequest is the request body for creating a policy rule.
type CreatePolicyRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression"`
	Reason      string `json:"reason"`
	Enabled     bool   `json:"enabled"`
}

// CreatePolicy creates a new policy rule and saves it to the database.
// Policies are saved globally (tenant_id = "*") so they apply to all
// tenants. After saving, call POST /policies/reload to hot-reload.
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreatePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	policy := &domain.PolicyRule{
		ID:          req.ID,
		TenantID:    GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Reason:      req.Reason,
		Enabled:     req.Enabled,
	}

	// Validate the CEL expression by attempting to load it
	if err := h.policies.LoadPolicy(policy); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if err := h.repo.SavePolicyRule(ctx, GlobalTenantID, policy); err != nil {
		slog.Error("failed to save policy rule", "id", policy.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save policy",
		})
		return
	}

	slog.Info("policy created", "id", policy.ID, "name", policy.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"policy":  policy,
		"message": "Policy created. Call POST /policies/reload to apply changes.",
	})
}

// ReloadPolicies reloads all policy rules from the database into the
// engine. This enables hot-reloading without server restart.
func (h *Handler) ReloadPolicies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	dbPolicies, err := h.repo.ListPolicyRules(ctx, GlobalTenantID)
	if err != nil {
		slog.Error("failed to list policies from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load policies from database",
		})
		return
	}

	if err := h.policies.ReloadPolicies(dbPolicies); err != nil {
		slog.Error("failed to reload policies into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload policies: " + err.Error(),
		})
		return
	}

	slog.Info("policies reloaded from database", "count", len(dbPolicies))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "policies reloaded successfully",
		"count":   len(dbPolicies),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// writeEvaluationError maps pipeline errors to HTTP responses.
func (h *Handler) writeEvaluationError(w http.ResponseWriter, err error) {
	var vErr *domain.ValidationError
	var rErr *rules.EvaluationError

	switch {
	case errors.As(err, &vErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": vErr.Error(),
			"field": vErr.Field,
		})
	case errors.Is(err, underwriting.ErrThrottled):
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error": err.Error(),
		})
	case errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "not found",
		})
	case errors.As(err, &rErr):
		slog.Error("rule evaluation failed", "rule", rErr.RuleName, "error", rErr)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "rule evaluation failed",
		})
	default:
		slog.Error("evaluation failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "evaluation failed",
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
