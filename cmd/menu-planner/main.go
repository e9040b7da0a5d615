package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"menu-planner/internal/app"
	"menu-planner/internal/config"
	"menu-planner/internal/database"
	"menu-planner/internal/llm"
	"menu-planner/internal/logging"
	"menu-planner/internal/planlock"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Flags
	userID  string
	verbose bool

	cfg     *config.Config
	logger  *zap.Logger
	closers []func() error
)

var rootCmd = &cobra.Command{
	Use:   "menu-planner",
	Short: "Plan meals from a restaurant catalog",
	Long: `menu-planner fills a user's menu plan one meal at a time.

For every missing (date, meal) it filters the catalog down to open restaurants
and allergen-safe items and asks a language model to pick one of them.
Meals already in the plan are never replaced.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(); err != nil {
			return err
		}

		var err error
		cfg, err = config.NewFromEnv()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		level := cfg.LogLevel
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(level, cfg.LogPretty)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "cli", "user whose plan and profile are used")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(planCmd, showCmd, profileCmd, importCatalogCmd, usageCmd, metricsCleanupCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	closeResources()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// closeResources releases what newApplication opened, newest first.
func closeResources() {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil && logger != nil {
			logger.Warn("failed to close resource", zap.Error(err))
		}
	}
	closers = nil
}

// newApplication opens the database and, when withLLM is set, the text
// generator and plan lock.
func newApplication(ctx context.Context, withLLM bool) (*app.App, error) {
	db, err := database.NewDB(cfg.DatabasePath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	closers = append(closers, db.Close)

	if !withLLM {
		return app.NewApp(cfg, db.SQL, nil, nil, nil, logger), nil
	}

	textGen, closeGen, err := llm.NewFromConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", cfg.LLMProvider, err)
	}
	closers = append(closers, closeGen)

	locker, closeLocker, err := planlock.New(ctx, cfg.RedisURL, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create plan lock: %w", err)
	}
	closers = append(closers, closeLocker)

	return app.NewApp(cfg, db.SQL, textGen, locker, nil, logger), nil
}
