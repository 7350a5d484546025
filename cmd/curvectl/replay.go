package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"claimCurve/internal/config"
	"claimCurve/internal/mark"
	"claimCurve/internal/model"
	"claimCurve/internal/replay"
	"claimCurve/internal/storage"
	"claimCurve/internal/storage/postgres"
)

func runReplay(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadReplay(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Scenario == "" {
		return fmt.Errorf("scenario path is required")
	}
	if cfg.Out == "" {
		return fmt.Errorf("output path is required")
	}

	scenario, err := replay.LoadScenario(cfg.Scenario)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sink storage.Storage = storage.NewJsonlStorage(cfg.Out, cfg.Errors)
	var store *postgres.Store
	if cfg.PGDSN != "" {
		store, err = postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		sink = storage.Multi(sink, store.Journal(ctx))
	}

	runner := replay.NewRunner(replay.RunConfig{
		BatchSize:         cfg.BatchSize,
		CheckpointPath:    cfg.Checkpoint,
		CheckpointEnabled: cfg.CheckpointEnabled,
	}, scenario, sink, logger)

	logger.Info("replay start",
		zap.String("scenario", cfg.Scenario),
		zap.String("scenario_id", scenario.ID()),
		zap.Int("steps", len(scenario.Steps)),
		zap.Uint64("batch_size", cfg.BatchSize),
		zap.String("out", cfg.Out),
		zap.String("errors", cfg.Errors),
		zap.Bool("checkpoint_enabled", cfg.CheckpointEnabled),
		zap.String("checkpoint", cfg.Checkpoint),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
	)

	summary, runErr := runner.Run(ctx)
	logger.Info("replay complete",
		zap.Uint64("steps", summary.Steps),
		zap.Uint64("skipped", summary.Skipped),
		zap.Int("trades", summary.Trades),
		zap.Int("rejected", summary.Rejected),
		zap.Error(runErr),
	)
	if runErr != nil {
		return runErr
	}

	if store != nil && summary.State.Params.Sigma != nil {
		if err := store.UpsertPools(ctx, []model.Pool{mark.DescribePool(summary.State, summary.State.LastUpdate)}); err != nil {
			return fmt.Errorf("upsert pool: %w", err)
		}
		data, err := json.Marshal(summary.State)
		if err != nil {
			return fmt.Errorf("marshal state: %w", err)
		}
		if err := store.SaveEngineState(ctx, summary.State.Params.ID(), data); err != nil {
			return fmt.Errorf("save engine state: %w", err)
		}
	}
	return nil
}
