// Package app assembles the league's command and query handlers from a set
// of stores. Both binaries and the HTTP tests build the same graph here.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/studyhub/league-core/config"
	"github.com/studyhub/league-core/internal/application/command"
	"github.com/studyhub/league-core/internal/application/query"
	"github.com/studyhub/league-core/internal/domain/activity"
	"github.com/studyhub/league-core/internal/domain/competition"
	"github.com/studyhub/league-core/internal/domain/report"
	"github.com/studyhub/league-core/internal/domain/restriction"
	"github.com/studyhub/league-core/internal/domain/shared"
	"github.com/studyhub/league-core/internal/domain/trust"
	"github.com/studyhub/league-core/internal/infrastructure/persistence/memory"
	"github.com/studyhub/league-core/internal/infrastructure/persistence/postgres"
	"github.com/studyhub/league-core/pkg/logger"
	"github.com/studyhub/league-core/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORES
// ══════════════════════════════════════════════════════════════════════════════

// Stores is every persistence port the handlers need.
type Stores struct {
	Events       activity.EventRepository
	Sessions     activity.SessionRepository
	Assessments  trust.Repository
	Policies     trust.PolicyStore
	Restrictions restriction.Repository
	Reports      report.Repository
	Competitions competition.Repository
	Rewards      competition.RewardRepository
	Balances     competition.BalanceReader
	Standings    competition.StandingsCache
	Locker       command.UserLocker
}

// MemoryStores returns process-local stores. Used by tests and by the API
// when no database is configured.
func MemoryStores() Stores {
	comps := memory.NewCompetitionRepository()
	return Stores{
		Events:       memory.NewEventRepository(),
		Sessions:     memory.NewSessionRepository(),
		Assessments:  memory.NewAssessmentRepository(),
		Policies:     memory.NewPolicyStore(),
		Restrictions: memory.NewRestrictionRepository(),
		Reports:      memory.NewReportRepository(),
		Competitions: comps,
		Rewards:      comps,
		Balances:     comps,
		Standings:    memory.NewStandingsCache(),
		Locker:       memory.NewUserLocker(),
	}
}

// PostgresStores returns database-backed stores. The standings cache and the
// user locker stay process-local; callers swap in the Redis ones when available.
func PostgresStores(conn *postgres.Connection) Stores {
	rewards := postgres.NewRewardRepository(conn)
	return Stores{
		Events:       postgres.NewEventRepository(conn),
		Sessions:     postgres.NewSessionRepository(conn),
		Assessments:  postgres.NewAssessmentRepository(conn),
		Policies:     postgres.NewPolicyStore(conn),
		Restrictions: postgres.NewRestrictionRepository(conn),
		Reports:      postgres.NewReportRepository(conn),
		Competitions: postgres.NewCompetitionRepository(conn),
		Rewards:      rewards,
		Balances:     rewards,
		Standings:    memory.NewStandingsCache(),
		Locker:       memory.NewUserLocker(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// APP
// ══════════════════════════════════════════════════════════════════════════════

// Options tunes the handler graph.
type Options struct {
	Policy    *config.PolicyFile
	Pipeline  config.PipelineConfig
	Location  *time.Location
	Clock     timeutil.Clock
	Publisher shared.EventPublisher
	Logger    *slog.Logger
}

// App exposes every use case.
type App struct {
	Stores Stores
	Policy *trust.PolicyHolder

	// Commands
	Settler          *command.SessionSettler
	SubmitActivity   *command.SubmitActivityHandler
	ManualSession    *command.RequestManualSessionHandler
	CreateComp       *command.CreateCompetitionHandler
	JoinComp         *command.JoinCompetitionHandler
	Recompute        *command.RecomputeStandingsHandler
	Distribute       *command.DistributeRewardsHandler
	Advance          *command.AdvanceCompetitionsHandler
	RestrictionAdmin *command.RestrictionAdminHandler
	UpdatePolicy     *command.UpdatePolicyHandler

	// Queries
	Leaderboard      *query.GetLeaderboardHandler
	UserRank         *query.GetUserRankHandler
	DailyReport      *query.GetDailyReportHandler
	ListRestrictions *query.ListRestrictionsHandler
	GetPolicy        *query.GetPolicyHandler
}

// New bootstraps the fraud policy against the store and wires the handlers.
func New(ctx context.Context, stores Stores, opts Options) (*App, error) {
	if opts.Policy == nil {
		return nil, shared.ErrPolicyMissing
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.SystemClock{}
	}
	if opts.Publisher == nil {
		opts.Publisher = shared.NoopPublisher{}
	}
	log := logger.OrDefault(opts.Logger)

	policy, err := command.BootstrapPolicy(ctx, stores.Policies, &opts.Policy.Fraud)
	if err != nil {
		return nil, fmt.Errorf("bootstrap policy: %w", err)
	}
	holder, err := trust.NewPolicyHolder(policy)
	if err != nil {
		return nil, err
	}
	log.Info("fraud policy active", logger.PolicyVersion(policy.Version))

	classifierCfg := activity.DefaultClassifierConfig()
	if opts.Pipeline.MergeGap > 0 {
		classifierCfg.MergeGap = opts.Pipeline.MergeGap
	}
	if opts.Pipeline.MinDuration > 0 {
		classifierCfg.MinDuration = opts.Pipeline.MinDuration
	}
	if opts.Pipeline.RulesVersion != "" {
		classifierCfg.RulesVersion = opts.Pipeline.RulesVersion
	}
	classifier := activity.NewClassifier(classifierCfg)

	pipeline := command.NewSessionPipeline(command.SessionPipelineDeps{
		Sessions:     stores.Sessions,
		Assessments:  stores.Assessments,
		Restrictions: stores.Restrictions,
		Reports:      stores.Reports,
		Policy:       holder,
		Validator:    trust.NewValidator(trust.DefaultRegistry(), opts.Location),
		Locker:       stores.Locker,
		Publisher:    opts.Publisher,
		Location:     opts.Location,
		Logger:       log,
	})
	settler := command.NewSessionSettler(stores.Events, classifier, pipeline,
		command.SettlerConfig{Lookback: opts.Pipeline.Lookback}, log)

	recompute := command.NewRecomputeStandingsHandler(command.RecomputeStandingsDeps{
		Competitions: stores.Competitions,
		Reports:      stores.Reports,
		Cache:        stores.Standings,
		Publisher:    opts.Publisher,
		Scoring:      opts.Policy.Scoring,
		Location:     opts.Location,
		Clock:        opts.Clock,
		Logger:       log,
	})
	distribute := command.NewDistributeRewardsHandler(stores.Competitions, stores.Rewards, recompute,
		opts.Publisher, opts.Clock, log)

	return &App{
		Stores: stores,
		Policy: holder,

		Settler:          settler,
		SubmitActivity:   command.NewSubmitActivityHandler(stores.Events, stores.Restrictions, settler, opts.Clock, log),
		ManualSession:    command.NewRequestManualSessionHandler(pipeline, opts.Clock, log),
		CreateComp:       command.NewCreateCompetitionHandler(stores.Competitions, opts.Publisher, opts.Clock, log),
		JoinComp:         command.NewJoinCompetitionHandler(stores.Competitions, stores.Balances, opts.Publisher, opts.Clock, log),
		Recompute:        recompute,
		Distribute:       distribute,
		Advance:          command.NewAdvanceCompetitionsHandler(stores.Competitions, distribute, opts.Publisher, opts.Clock, 0, log),
		RestrictionAdmin: command.NewRestrictionAdminHandler(stores.Restrictions, stores.Locker, opts.Publisher, opts.Clock, log),
		UpdatePolicy:     command.NewUpdatePolicyHandler(stores.Policies, holder, opts.Clock, log),

		Leaderboard:      query.NewGetLeaderboardHandler(stores.Competitions, stores.Standings, opts.Clock, log),
		UserRank:         query.NewGetUserRankHandler(stores.Competitions, stores.Standings, log),
		DailyReport:      query.NewGetDailyReportHandler(stores.Reports),
		ListRestrictions: query.NewListRestrictionsHandler(stores.Restrictions, opts.Clock),
		GetPolicy:        query.NewGetPolicyHandler(holder),
	}, nil
}
