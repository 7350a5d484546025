package main

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "curvectl",
		Short:        "Covered-call curve pool engine",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a pool and write its state",
		RunE:  runInit,
	}

	stateFlags(initCmd.Flags())
	initCmd.Flags().String("sigma", "", "implied volatility (decimal, e.g. 0.5)")
	initCmd.Flags().String("fee", "0.003", "swap fee (decimal)")
	initCmd.Flags().String("maturity", "", "maturity (unix seconds or RFC3339)")
	initCmd.Flags().Uint8("asset-decimals", 18, "wrapped asset decimals")
	initCmd.Flags().Uint8("claim-decimals", 18, "claim token decimals")
	initCmd.Flags().String("asset-token", "", "wrapped asset address")
	initCmd.Flags().String("claim-token", "", "claim token address")
	initCmd.Flags().String("yield-token", "", "yield token address")
	initCmd.Flags().String("strike", "", "initial strike (decimal)")
	initCmd.Flags().String("price-hint", "1", "initial spot price hint (decimal)")
	initCmd.Flags().String("amount", "", "wrapped asset to seed (decimal)")
	initCmd.Flags().String("now", "", "initialization time (unix seconds or RFC3339), default wall clock")
	logFlag(initCmd.Flags())

	root.AddCommand(initCmd)

	quoteCmd := &cobra.Command{
		Use:   "quote",
		Short: "Price a swap against a stored pool",
		RunE:  runQuote,
	}

	stateFlags(quoteCmd.Flags())
	quoteCmd.Flags().String("op", "", "swap direction (asset-in, claim-in, asset-out, claim-out)")
	quoteCmd.Flags().String("amount", "", "exact side amount (decimal)")
	quoteCmd.Flags().String("at", "", "quote time (unix seconds or RFC3339), default wall clock")
	quoteCmd.Flags().String("index", "1", "yield index of the wrapped asset (decimal)")
	logFlag(quoteCmd.Flags())

	root.AddCommand(quoteCmd)

	sizeCmd := &cobra.Command{
		Use:   "size",
		Short: "Size a claim sale against a target wrapped input",
		RunE:  runSize,
	}

	stateFlags(sizeCmd.Flags())
	sizeCmd.Flags().String("target", "", "wrapped amount to put in (decimal)")
	sizeCmd.Flags().String("epsilon", "0.0001", "relative tolerance below target (decimal)")
	sizeCmd.Flags().String("upper", "", "upper bound of the search (decimal), default pool capacity")
	sizeCmd.Flags().String("guess", "", "first guess (decimal)")
	sizeCmd.Flags().String("at", "", "sizing time (unix seconds or RFC3339), default wall clock")
	sizeCmd.Flags().String("index", "1", "yield index of the wrapped asset (decimal)")
	logFlag(sizeCmd.Flags())

	root.AddCommand(sizeCmd)

	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Run a YAML scenario and journal every step",
		RunE:  runReplay,
	}

	replayCmd.Flags().String("scenario", "", "scenario YAML path")
	replayCmd.Flags().String("out", "./data/trades.jsonl", "output trades JSONL")
	replayCmd.Flags().String("errors", "./data/step_errors.jsonl", "rejected steps JSONL")
	replayCmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path")
	replayCmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	replayCmd.Flags().Uint64("batch-size", 100, "steps per batch")
	replayCmd.Flags().String("pg-dsn", "", "optional Postgres DSN for trades and final state")
	logFlag(replayCmd.Flags())

	root.AddCommand(replayCmd)

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Periodically mark a pool's curve",
		RunE:  runWatch,
	}

	stateFlags(watchCmd.Flags())
	watchCmd.Flags().String("rpc", "", "RPC URL for block time and yield index")
	watchCmd.Flags().String("index-token", "", "wrapped asset exposing exchangeRate()")
	watchCmd.Flags().StringSlice("schedule", []string{"@every 1m"}, "cron schedules (seconds field first)")
	watchCmd.Flags().String("out", "", "marks JSONL path when no Postgres DSN is set")
	watchCmd.Flags().Int("max-retries", 5, "maximum RPC retry attempts")
	watchCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial RPC retry backoff")
	logFlag(watchCmd.Flags())

	root.AddCommand(watchCmd)

	metricsCmd := &cobra.Command{
		Use:   "metrics",
		Short: "Aggregate a trade journal into window metrics",
		RunE:  runMetrics,
	}

	metricsCmd.Flags().String("state", "", "optional state file describing the pool")
	metricsCmd.Flags().String("pool", "", "optional pool id of a stored engine state")
	metricsCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	metricsCmd.Flags().String("rpc", "", "optional RPC URL for token metadata")
	metricsCmd.Flags().String("in", "", "input trades JSONL")
	metricsCmd.Flags().String("window", "5m", "aggregation window (e.g. 1m, 5m, 1h)")
	metricsCmd.Flags().Int("batch-size", 1000, "batch size for DB writes")
	metricsCmd.Flags().String("progress-file", "", "optional local file for progress tracking")
	metricsCmd.Flags().String("recompute-from", "", "recompute from timestamp (unix seconds or RFC3339)")
	logFlag(metricsCmd.Flags())

	root.AddCommand(metricsCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func stateFlags(flags *pflag.FlagSet) {
	flags.String("state", "./data/state.json", "engine state JSON path")
	flags.String("pg-dsn", "", "optional Postgres DSN for engine state")
	flags.String("pool", "", "pool id when loading state from Postgres")
}

func logFlag(flags *pflag.FlagSet) {
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	return "***"
}
