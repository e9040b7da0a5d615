package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"menu-planner/internal/catalog"
	"menu-planner/internal/config"
	"menu-planner/internal/llm"
	"menu-planner/internal/menuplan"
	"menu-planner/internal/metrics"
	"menu-planner/internal/planlock"
	"menu-planner/internal/planner"
	"menu-planner/internal/shared"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// App holds the application's dependencies.
type App struct {
	cfg          *config.Config
	textGen      llm.TextGenerator
	catalogRepo  *catalog.Repository
	planRepo     *planner.PlanRepository
	metricsStore *metrics.Store
	locker       planlock.Locker
	collector    *metrics.SelectionCollector
	logger       *zap.Logger
}

// NewApp creates and initializes a new App instance. collector may be nil.
func NewApp(
	cfg *config.Config,
	db *sqlx.DB,
	textGen llm.TextGenerator,
	locker planlock.Locker,
	collector *metrics.SelectionCollector,
	logger *zap.Logger,
) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	if locker == nil {
		locker = planlock.NewLocal()
	}
	return &App{
		cfg:          cfg,
		textGen:      textGen,
		catalogRepo:  catalog.NewRepository(db),
		planRepo:     planner.NewPlanRepository(db),
		metricsStore: metrics.NewStore(db),
		locker:       locker,
		collector:    collector,
		logger:       logger,
	}
}

// UpdateInput is a menu update request for one user. Empty preferences or
// allergens fall back to the stored profile and then to the configured
// defaults.
type UpdateInput struct {
	StartDate    string
	MealSlots    []menuplan.MealSlot
	NumberOfDays int
	Preferences  string
	Allergens    string
}

// UpdateUserMenu extends the user's stored plan and persists the result.
func (a *App) UpdateUserMenu(ctx context.Context, userID string, in UpdateInput) (*planner.UpdateResult, error) {
	runID := uuid.NewString()
	log := a.logger.With(zap.String("run_id", runID), zap.String("user_id", userID))

	unlock, err := a.locker.Lock(ctx, "plan:"+userID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock plan for user %s: %w", userID, err)
	}
	defer unlock()

	profile, err := a.planRepo.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		profile = &planner.Profile{UserID: userID}
	}

	snapshot, err := a.catalogRepo.LoadSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	var observer planner.AttemptObserver
	if a.collector != nil {
		observer = a.collector
	}
	selector := planner.NewSelector(snapshot, a.textGen, planner.SelectorOptions{
		MaxAttempts:    a.cfg.MaxAttempts,
		PoolIncrement:  a.cfg.PoolIncrement,
		AttemptTimeout: a.cfg.AttemptTimeout,
		Observer:       observer,
		Logger:         log,
	})
	menuPlanner := planner.NewPlanner(selector, a.cfg.Concurrency, log)

	res, err := menuPlanner.UpdateMenu(ctx, profile.Plan, planner.Request{
		Preferences:  firstNonEmpty(in.Preferences, profile.Preferences, a.cfg.DefaultPreferences),
		Allergens:    firstNonEmpty(normalizeAllergens(in.Allergens), profile.Allergens, normalizeAllergens(a.cfg.DefaultAllergens)),
		StartDate:    in.StartDate,
		MealSlots:    in.MealSlots,
		NumberOfDays: in.NumberOfDays,
	})
	if err != nil {
		a.observeUpdate("failed")
		log.Error("menu update failed", zap.Error(err))
		return nil, err
	}

	if res.Changed() {
		if err := a.planRepo.SavePlan(ctx, userID, res.Plan); err != nil {
			a.observeUpdate("failed")
			return nil, err
		}
		a.observeUpdate("changed")
	} else {
		a.observeUpdate("unchanged")
	}

	for _, meta := range res.Metas {
		if err := a.metricsStore.RecordMeta(ctx, runID, meta); err != nil {
			log.Warn("failed to record metrics", zap.String("agent", meta.AgentName), zap.Error(err))
		}
	}

	usage := shared.TotalUsage(res.Metas)
	log.Info("menu update finished",
		zap.Int("added", len(res.Added)),
		zap.Int("generation_calls", len(res.Metas)),
		zap.Int("total_tokens", usage.TotalTokens),
	)
	return res, nil
}

func (a *App) observeUpdate(result string) {
	if a.collector != nil {
		a.collector.ObserveUpdate(result)
	}
}

// ProfileUpdate changes the fields that are not nil.
type ProfileUpdate struct {
	Preferences *string
	Allergens   *string
}

// UpdateProfile stores the user's preferences and allergens.
func (a *App) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (*planner.Profile, error) {
	profile, err := a.planRepo.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		profile = &planner.Profile{UserID: userID}
	}
	if update.Preferences != nil {
		profile.Preferences = *update.Preferences
	}
	if update.Allergens != nil {
		profile.Allergens = *update.Allergens
	}

	if err := a.planRepo.SaveProfile(ctx, userID, profile.Preferences, profile.Allergens); err != nil {
		return nil, err
	}
	return profile, nil
}

// GetProfile returns the user's stored profile, empty for a new user.
func (a *App) GetProfile(ctx context.Context, userID string) (*planner.Profile, error) {
	profile, err := a.planRepo.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		profile = &planner.Profile{UserID: userID}
	}
	return profile, nil
}

// ImportCatalog loads a YAML seed file into the catalog.
func (a *App) ImportCatalog(ctx context.Context, path string) (restaurants, items int, err error) {
	seed, err := catalog.LoadSeed(path)
	if err != nil {
		return 0, 0, err
	}
	restaurants, items, err = a.catalogRepo.Import(ctx, seed)
	if err != nil {
		return 0, 0, err
	}
	a.logger.Info("catalog imported",
		zap.String("path", path),
		zap.Int("restaurants", restaurants),
		zap.Int("items", items),
	)
	return restaurants, items, nil
}

// DailyUsage reports token usage for the last days.
func (a *App) DailyUsage(ctx context.Context, days int) ([]metrics.DailyUsage, error) {
	return a.metricsStore.GetDailyUsage(ctx, days)
}

// CleanupMetrics removes metrics older than the configured retention.
func (a *App) CleanupMetrics(ctx context.Context) (int64, error) {
	removed, err := a.metricsStore.Cleanup(ctx, a.cfg.MetricsRetentionDays)
	if err != nil {
		return 0, err
	}
	a.logger.Info("metrics cleaned up", zap.Int64("removed", removed))
	return removed, nil
}

// Health reports process health and the size of the data directory.
func (a *App) Health() metrics.SysHealth {
	return metrics.GetSysHealth(filepath.Dir(a.cfg.DatabasePath))
}

// normalizeAllergens trims each tag and joins them with bare commas, the form
// the allergen filter matches exactly.
func normalizeAllergens(s string) string {
	return strings.Join(catalog.ParseAllergens(s), ",")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
