package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/studyhub/league-core/config"
	"github.com/studyhub/league-core/internal/app"
	"github.com/studyhub/league-core/internal/application/command"
	"github.com/studyhub/league-core/internal/application/query"
	"github.com/studyhub/league-core/internal/domain/competition"
	"github.com/studyhub/league-core/internal/domain/shared"
	"github.com/studyhub/league-core/internal/domain/trust"
	"github.com/studyhub/league-core/internal/infrastructure/scheduler"
)

// OperatorHeader names the human behind an admin call for the audit trail.
const OperatorHeader = "X-Operator"

// JobRunner triggers scheduled jobs on demand.
type JobRunner interface {
	RunNow(ctx context.Context, jobName string) (*scheduler.JobResult, error)
	ListJobs() []scheduler.JobInfo
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN API
// ══════════════════════════════════════════════════════════════════════════════

// Admin serves /admin/v1.
type Admin struct {
	app      *app.App
	jobs     JobRunner
	features *config.FeatureFlags
}

// NewAdmin creates the admin handlers. jobs may be nil when this process
// runs no scheduler; features may be nil when no flags are configured.
func NewAdmin(a *app.App, jobs JobRunner, features *config.FeatureFlags) *Admin {
	return &Admin{app: a, jobs: jobs, features: features}
}

// Routes mounts the endpoints on r.
func (ad *Admin) Routes(r chi.Router) {
	r.Get("/restrictions", ad.ListActiveRestrictions)
	r.Post("/restrictions", ad.ImposeRestriction)
	r.Delete("/restrictions/{id}", ad.ClearRestriction)
	r.Get("/users/{userID}/restrictions", ad.ListUserRestrictions)

	r.Get("/policy", ad.GetPolicy)
	r.Put("/policy", ad.UpdatePolicy)

	r.Post("/competitions", ad.CreateCompetition)
	r.Post("/competitions/{id}/recompute", ad.Recompute)

	r.Get("/jobs", ad.ListJobs)
	r.Post("/jobs/{name}/run", ad.RunJob)

	r.Get("/features", ad.ListFeatures)
	r.Put("/features/{name}", ad.SetFeatureRollout)
}

func operator(r *http.Request) string {
	if op := strings.TrimSpace(r.Header.Get(OperatorHeader)); op != "" {
		return op
	}
	return "admin"
}

// ─────────────────────────────────────────────────────────────────────────────
// Restrictions
// ─────────────────────────────────────────────────────────────────────────────

// ListActiveRestrictions handles GET /restrictions.
func (ad *Admin) ListActiveRestrictions(w http.ResponseWriter, r *http.Request) {
	ad.listRestrictions(w, r, "")
}

// ListUserRestrictions handles GET /users/{userID}/restrictions.
func (ad *Admin) ListUserRestrictions(w http.ResponseWriter, r *http.Request) {
	ad.listRestrictions(w, r, shared.UserID(chi.URLParam(r, "userID")))
}

func (ad *Admin) listRestrictions(w http.ResponseWriter, r *http.Request, user shared.UserID) {
	limit, err := intParam(r, "limit")
	if err != nil {
		respondError(w, r, err)
		return
	}
	res, err := ad.app.ListRestrictions.Handle(r.Context(), query.ListRestrictionsQuery{UserID: user, Limit: limit})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type imposeRestrictionRequest struct {
	UserID   string `json:"user_id"`
	Reason   string `json:"reason"`
	Duration string `json:"duration"`
}

// ImposeRestriction handles POST /restrictions.
func (ad *Admin) ImposeRestriction(w http.ResponseWriter, r *http.Request) {
	var req imposeRestrictionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	d, err := time.ParseDuration(req.Duration)
	if err != nil {
		respondError(w, r, shared.WrapError("restriction", "Impose", shared.ErrInvalidInput, "invalid duration", err))
		return
	}

	res, err := ad.app.RestrictionAdmin.Impose(r.Context(), command.ImposeRestrictionCommand{
		UserID:   shared.UserID(req.UserID),
		Reason:   req.Reason,
		Duration: d,
		Operator: operator(r),
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// ClearRestriction handles DELETE /restrictions/{id}.
func (ad *Admin) ClearRestriction(w http.ResponseWriter, r *http.Request) {
	res, err := ad.app.RestrictionAdmin.Clear(r.Context(), command.ClearRestrictionCommand{
		RestrictionID: chi.URLParam(r, "id"),
		Operator:      operator(r),
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ─────────────────────────────────────────────────────────────────────────────
// Policy
// ─────────────────────────────────────────────────────────────────────────────

// GetPolicy handles GET /policy.
func (ad *Admin) GetPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := ad.app.GetPolicy.Handle(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// UpdatePolicy handles PUT /policy. The stored version is bumped by the
// handler; a version in the body is ignored.
func (ad *Admin) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var p trust.Policy
	if err := decodeJSON(w, r, &p); err != nil {
		respondError(w, r, err)
		return
	}
	next, err := ad.app.UpdatePolicy.Handle(r.Context(), command.UpdatePolicyCommand{
		Policy:   &p,
		Operator: operator(r),
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, next)
}

// ─────────────────────────────────────────────────────────────────────────────
// Competitions
// ─────────────────────────────────────────────────────────────────────────────

type createCompetitionRequest struct {
	Name        string           `json:"name"`
	Type        competition.Type `json:"type"`
	Tier        competition.Tier `json:"tier"`
	Start       time.Time        `json:"start"`
	Capacity    int              `json:"capacity,omitempty"`
	EntryPoints int              `json:"entry_points,omitempty"`
}

// CreateCompetition handles POST /competitions for public leagues.
func (ad *Admin) CreateCompetition(w http.ResponseWriter, r *http.Request) {
	var req createCompetitionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	res, err := ad.app.CreateComp.Handle(r.Context(), command.CreateCompetitionCommand{
		Name:        req.Name,
		Type:        req.Type,
		Tier:        req.Tier,
		Start:       req.Start,
		Capacity:    req.Capacity,
		EntryPoints: req.EntryPoints,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// Recompute handles POST /competitions/{id}/recompute.
func (ad *Admin) Recompute(w http.ResponseWriter, r *http.Request) {
	res, err := ad.app.Recompute.Handle(r.Context(), command.RecomputeStandingsCommand{
		CompetitionID: chi.URLParam(r, "id"),
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ─────────────────────────────────────────────────────────────────────────────
// Jobs
// ─────────────────────────────────────────────────────────────────────────────

type jobRunResponse struct {
	Job      string `json:"job"`
	Success  bool   `json:"success"`
	Duration string `json:"duration"`
	Error    string `json:"error,omitempty"`
}

// ListJobs handles GET /jobs.
func (ad *Admin) ListJobs(w http.ResponseWriter, r *http.Request) {
	if ad.jobs == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": []scheduler.JobInfo{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": ad.jobs.ListJobs()})
}

// RunJob handles POST /jobs/{name}/run. A job that ran and failed is
// reported with 200 and success=false; the job itself is not an HTTP error.
func (ad *Admin) RunJob(w http.ResponseWriter, r *http.Request) {
	if ad.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "no scheduler in this process")
		return
	}
	name := chi.URLParam(r, "name")
	res, err := ad.jobs.RunNow(r.Context(), name)
	switch {
	case res == nil && errors.Is(err, scheduler.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	case res == nil && errors.Is(err, scheduler.ErrJobBusy):
		writeError(w, http.StatusConflict, "conflict", err.Error())
		return
	case res == nil:
		respondError(w, r, err)
		return
	}

	out := jobRunResponse{Job: name, Success: res.Success, Duration: res.Duration.String()}
	if res.Error != nil {
		out.Error = res.Error.Error()
	}
	writeJSON(w, http.StatusOK, out)
}

// ─────────────────────────────────────────────────────────────────────────────
// Feature flags
// ─────────────────────────────────────────────────────────────────────────────

// ListFeatures handles GET /features.
func (ad *Admin) ListFeatures(w http.ResponseWriter, r *http.Request) {
	features := []config.Feature{}
	if ad.features != nil {
		features = ad.features.All()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"features": features})
}

type featureRolloutRequest struct {
	RolloutPercent int `json:"rollout_percent"`
}

// SetFeatureRollout handles PUT /features/{name}. The change lives in memory
// until the process restarts.
func (ad *Admin) SetFeatureRollout(w http.ResponseWriter, r *http.Request) {
	if ad.features == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "feature flags are not configured")
		return
	}
	var req featureRolloutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	name := chi.URLParam(r, "name")
	switch err := ad.features.SetRolloutPercent(name, req.RolloutPercent); {
	case errors.Is(err, config.ErrFeatureNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	requestLogger(r).Info("feature rollout changed",
		"feature", name, "rollout_percent", req.RolloutPercent, "operator", operator(r))
	writeJSON(w, http.StatusOK, map[string]interface{}{"name": name, "rollout_percent": req.RolloutPercent})
}
