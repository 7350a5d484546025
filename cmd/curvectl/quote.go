package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"claimCurve/internal/config"
	"claimCurve/internal/fixedpoint"
	"claimCurve/internal/pool"
)

type quoteOutput struct {
	PoolID          string `json:"pool_id"`
	Op              string `json:"op"`
	AmountIn        string `json:"amount_in"`
	AmountOut       string `json:"amount_out"`
	AmountInNative  string `json:"amount_in_native"`
	AmountOutNative string `json:"amount_out_native"`
	DeltaLiquidity  string `json:"delta_liquidity"`
	Strike          string `json:"strike"`
	Timestamp       uint64 `json:"timestamp"`
}

type sizeOutput struct {
	PoolID     string `json:"pool_id"`
	Guess      string `json:"guess"`
	NetPull    string `json:"net_pull"`
	Iterations int    `json:"iterations"`
	Converged  bool   `json:"converged"`
	Timestamp  uint64 `json:"timestamp"`
}

// restoreEngine loads the stored state and rebuilds a read-only engine over it
// with a fixed yield index.
func restoreEngine(ctx context.Context, cfg config.StateConfig, index string, logger *zap.Logger) (*pool.Engine, error) {
	idx, err := parseWad("index", index)
	if err != nil {
		return nil, err
	}

	store, err := openStateStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	st, err := store.load(ctx)
	if err != nil {
		return nil, err
	}
	return pool.Restore(st, pool.WithIndex(pool.NewStaticIndex(idx)), pool.WithLogger(logger))
}

func runQuote(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadQuote(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	d, err := pool.ParseDirection(cfg.Op)
	if err != nil {
		return err
	}
	at, err := timestampOr(cfg.At)
	if err != nil {
		return fmt.Errorf("parse at: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := restoreEngine(ctx, cfg.StateConfig, cfg.Index, logger)
	if err != nil {
		return err
	}
	params := engine.Params()

	amount, err := parseNative("amount", cfg.Amount, d.AmountDecimals(params))
	if err != nil {
		return err
	}

	q, err := engine.Quote(ctx, d, amount, at)
	if err != nil {
		return err
	}

	logger.Debug("quote",
		zap.String("pool", params.ID()),
		zap.Stringer("op", d),
		zap.Uint64("at", at),
	)

	return printJSON(cmd.OutOrStdout(), quoteOutput{
		PoolID:          params.ID(),
		Op:              d.String(),
		AmountIn:        fixedpoint.FormatWad(q.AmountInScaled),
		AmountOut:       fixedpoint.FormatWad(q.AmountOutScaled),
		AmountInNative:  q.AmountInNative.Dec(),
		AmountOutNative: q.AmountOutNative.Dec(),
		DeltaLiquidity:  fixedpoint.FormatSignedWad(q.DeltaLiquidity),
		Strike:          fixedpoint.FormatWad(q.Strike),
		Timestamp:       q.Timestamp,
	})
}

func runSize(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadSize(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	target, err := parseWad("target", cfg.Target)
	if err != nil {
		return err
	}
	epsilon, err := parseWad("epsilon", cfg.Epsilon)
	if err != nil {
		return err
	}
	upper, err := parseWadOptional("upper", cfg.Upper)
	if err != nil {
		return err
	}
	guess, err := parseWadOptional("guess", cfg.Guess)
	if err != nil {
		return err
	}
	at, err := timestampOr(cfg.At)
	if err != nil {
		return fmt.Errorf("parse at: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := restoreEngine(ctx, cfg.StateConfig, cfg.Index, logger)
	if err != nil {
		return err
	}

	res, err := engine.SizeTradeForTargetInput(ctx, pool.SizeRequest{
		Target:     target,
		UpperBound: upper,
		Guess:      guess,
		Epsilon:    epsilon,
	}, at)
	if err != nil {
		return err
	}
	if !res.Converged {
		logger.Warn("sizing did not converge",
			zap.Int("iterations", res.Iterations),
			zap.String("net_pull", fixedpoint.FormatWad(res.NetPull)),
		)
	}

	return printJSON(cmd.OutOrStdout(), sizeOutput{
		PoolID:     engine.Params().ID(),
		Guess:      fixedpoint.FormatWad(res.Guess),
		NetPull:    fixedpoint.FormatWad(res.NetPull),
		Iterations: res.Iterations,
		Converged:  res.Converged,
		Timestamp:  at,
	})
}
