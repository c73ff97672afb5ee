package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/studyhub/league-core/config"
	"github.com/studyhub/league-core/internal/app"
	"github.com/studyhub/league-core/internal/application/command"
	"github.com/studyhub/league-core/internal/application/query"
	"github.com/studyhub/league-core/internal/domain/activity"
	"github.com/studyhub/league-core/internal/domain/competition"
	"github.com/studyhub/league-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PUBLIC API
// ══════════════════════════════════════════════════════════════════════════════

// API serves /api/v1. Writes act as the user named by X-User-ID.
type API struct {
	app      *app.App
	observer RejectionObserver
	features *config.FeatureFlags
}

// NewAPI creates the public handlers. observer and features may be nil;
// without features every optional endpoint is served.
func NewAPI(a *app.App, observer RejectionObserver, features *config.FeatureFlags) *API {
	return &API{app: a, observer: observer, features: features}
}

// Routes mounts the endpoints on r.
func (api *API) Routes(r chi.Router, limiter *UserRateLimiter) {
	r.Group(func(r chi.Router) {
		r.Use(RequireUser)
		if limiter != nil {
			r.Use(limiter.Middleware)
		}
		r.Post("/activity", api.SubmitActivity)
		r.With(RequireFeature(api.features, config.FeatureManualSessions)).
			Post("/sessions/manual", api.RequestManualSession)
		r.With(RequireFeature(api.features, config.FeaturePrivateCompetitions)).
			Post("/competitions/private", api.CreatePrivateCompetition)
		r.Post("/competitions/{id}/join", api.JoinCompetition)
	})

	r.Get("/competitions/{id}/leaderboard", api.GetLeaderboard)
	r.Get("/competitions/{id}/users/{userID}/rank", api.GetUserRank)
	r.Get("/users/{userID}/reports/{date}", api.GetDailyReport)
}

// ─────────────────────────────────────────────────────────────────────────────
// Activity
// ─────────────────────────────────────────────────────────────────────────────

type submitActivityRequest struct {
	Events []*activity.RawEvent `json:"events"`
}

// SubmitActivity handles POST /activity.
func (api *API) SubmitActivity(w http.ResponseWriter, r *http.Request) {
	var req submitActivityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	res, err := api.app.SubmitActivity.Handle(r.Context(), command.SubmitActivityCommand{
		UserID: userID(r),
		Events: req.Events,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type manualSessionRequest struct {
	Minutes   int    `json:"minutes"`
	Questions int    `json:"questions"`
	Correct   int    `json:"correct"`
	Subject   string `json:"subject"`
}

// IdempotencyKeyHeader lets clients retry a manual report safely.
const IdempotencyKeyHeader = "Idempotency-Key"

// RequestManualSession handles POST /sessions/manual. A replayed report
// answers 200 with status duplicate instead of 201.
func (api *API) RequestManualSession(w http.ResponseWriter, r *http.Request) {
	var req manualSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	res, err := api.app.ManualSession.Handle(r.Context(), command.RequestManualSessionCommand{
		UserID:         userID(r),
		IdempotencyKey: r.Header.Get(IdempotencyKeyHeader),
		Minutes:        req.Minutes,
		Questions:      req.Questions,
		Correct:        req.Correct,
		Subject:        req.Subject,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	if res.Duplicate() {
		writeJSON(w, http.StatusOK, res)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// ─────────────────────────────────────────────────────────────────────────────
// Competitions
// ─────────────────────────────────────────────────────────────────────────────

type joinRequest struct {
	InviteCode string `json:"invite_code,omitempty"`
}

// JoinCompetition handles POST /competitions/{id}/join. The body is optional.
func (api *API) JoinCompetition(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, r, err)
			return
		}
	}

	res, err := api.app.JoinComp.Handle(r.Context(), command.JoinCompetitionCommand{
		CompetitionID: chi.URLParam(r, "id"),
		UserID:        userID(r),
		InviteCode:    req.InviteCode,
	})
	if err != nil {
		if rejection := asRejection(err); rejection != nil && api.observer != nil {
			_, code := rejectionStatus(rejection)
			api.observer.JoinRejected(code)
		}
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type privateCompetitionRequest struct {
	Name     string    `json:"name"`
	Start    time.Time `json:"start"`
	Duration string    `json:"duration,omitempty"`
	Capacity int       `json:"capacity,omitempty"`
}

// CreatePrivateCompetition handles POST /competitions/private. The invite
// code is returned once and never stored in clear.
func (api *API) CreatePrivateCompetition(w http.ResponseWriter, r *http.Request) {
	var req privateCompetitionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	var duration time.Duration
	if req.Duration != "" {
		d, err := time.ParseDuration(req.Duration)
		if err != nil {
			respondError(w, r, shared.WrapError("competition", "CreatePrivate", shared.ErrInvalidInput, "invalid duration", err))
			return
		}
		duration = d
	}

	res, err := api.app.CreateComp.HandlePrivate(r.Context(), command.CreatePrivateCompetitionCommand{
		CreatorID: userID(r),
		Name:      req.Name,
		Start:     req.Start,
		Duration:  duration,
		Capacity:  req.Capacity,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// GetLeaderboard handles GET /competitions/{id}/leaderboard?limit=&offset=.
func (api *API) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		respondError(w, r, err)
		return
	}
	offset, err := intParam(r, "offset")
	if err != nil {
		respondError(w, r, err)
		return
	}

	res, err := api.app.Leaderboard.Handle(r.Context(), query.GetLeaderboardQuery{
		CompetitionID: chi.URLParam(r, "id"),
		Limit:         limit,
		Offset:        offset,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetUserRank handles GET /competitions/{id}/users/{userID}/rank.
func (api *API) GetUserRank(w http.ResponseWriter, r *http.Request) {
	res, err := api.app.UserRank.Handle(r.Context(), query.GetUserRankQuery{
		CompetitionID: chi.URLParam(r, "id"),
		UserID:        shared.UserID(chi.URLParam(r, "userID")),
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ─────────────────────────────────────────────────────────────────────────────
// Reports
// ─────────────────────────────────────────────────────────────────────────────

// GetDailyReport handles GET /users/{userID}/reports/{date}, date as YYYY-MM-DD.
func (api *API) GetDailyReport(w http.ResponseWriter, r *http.Request) {
	res, err := api.app.DailyReport.Handle(r.Context(), query.GetDailyReportQuery{
		UserID: shared.UserID(chi.URLParam(r, "userID")),
		Date:   chi.URLParam(r, "date"),
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, shared.WrapError("http", "Query", shared.ErrInvalidInput, name+" must be an integer", err)
	}
	return v, nil
}

func asRejection(err error) *competition.JoinRejection {
	var rejection *competition.JoinRejection
	if errors.As(err, &rejection) {
		return rejection
	}
	return nil
}
