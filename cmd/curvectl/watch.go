package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"claimCurve/internal/chain"
	"claimCurve/internal/config"
	"claimCurve/internal/fixedpoint"
	"claimCurve/internal/mark"
	"claimCurve/internal/pool"
	"claimCurve/internal/replay"
	"claimCurve/internal/storage"
	"claimCurve/internal/token"
)

func runWatch(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadWatch(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if len(cfg.Schedules) == 0 {
		return fmt.Errorf("at least one schedule is required")
	}
	if cfg.IndexToken != "" && cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required to read the yield index")
	}
	if cfg.PGDSN == "" && cfg.Out == "" {
		return fmt.Errorf("pg dsn or output path is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStateStore(ctx, cfg.StateConfig)
	if err != nil {
		return err
	}
	defer store.Close()

	st, err := store.load(ctx)
	if err != nil {
		return err
	}

	var index pool.YieldIndex = pool.NewStaticIndex(fixedpoint.One())
	var clock mark.Clock = mark.SystemClock
	if cfg.RPCURL != "" {
		chainClient, err := chain.NewClient(ctx, cfg.RPCURL,
			chain.WithRetry(cfg.MaxRetries, cfg.RetryBackoff),
			chain.WithLogger(logger),
		)
		if err != nil {
			return fmt.Errorf("connect rpc: %w", err)
		}
		defer chainClient.Close()

		clock = chainClient.LatestBlockTime
		if cfg.IndexToken != "" {
			addr, err := replay.ParseAddress(cfg.IndexToken)
			if err != nil {
				return fmt.Errorf("parse index token: %w", err)
			}
			index = token.NewIndexSource(chainClient, addr, logger)
		}
	}

	engine, err := pool.Restore(st, pool.WithIndex(index), pool.WithLogger(logger))
	if err != nil {
		return err
	}

	var sink storage.MarkSink
	if store.pg != nil {
		sink = store.pg
	} else {
		sink = storage.NewJsonlMarks(cfg.Out)
	}

	scheduler := mark.NewScheduler(ctx, mark.NewMarker(engine), sink, clock, logger)
	for _, spec := range cfg.Schedules {
		if err := scheduler.Register(spec); err != nil {
			return err
		}
	}

	logger.Info("watch start",
		zap.String("pool", st.Params.ID()),
		zap.Strings("schedules", cfg.Schedules),
		zap.String("rpc", cfg.RPCURL),
		zap.String("index_token", cfg.IndexToken),
		zap.String("out", cfg.Out),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
	)

	if _, err := scheduler.RunNow(ctx); err != nil {
		logger.Warn("initial mark failed", zap.Error(err))
	}

	scheduler.Start()
	<-ctx.Done()
	scheduler.Stop()

	logger.Info("watch stopped")
	return nil
}
