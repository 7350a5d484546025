package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"claimCurve/internal/config"
	"claimCurve/internal/fixedpoint"
	"claimCurve/internal/mark"
	"claimCurve/internal/model"
	"claimCurve/internal/pool"
	"claimCurve/internal/replay"
)

// operator is the account the CLI seeds pools from. Its in-memory balances are
// sized so that any claim amount the curve asks for can be paid.
var operator = common.HexToAddress("0x000000000000000000000000000000000000c0de")

type initOutput struct {
	PoolID      string `json:"pool_id"`
	Account     string `json:"account"`
	Liquidity   string `json:"liquidity"`
	Claim       string `json:"claim"`
	ClaimNative string `json:"claim_native"`
	Shares      string `json:"shares"`
	Strike      string `json:"strike"`
	Timestamp   uint64 `json:"timestamp"`
}

func runInit(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadInit(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	params, err := initParams(cfg)
	if err != nil {
		return err
	}
	strike, err := parseWad("strike", cfg.Strike)
	if err != nil {
		return err
	}
	priceHint, err := parseWad("price hint", cfg.PriceHint)
	if err != nil {
		return err
	}
	amount, err := parseNative("amount", cfg.Amount, params.AssetDecimals)
	if err != nil {
		return err
	}
	now, err := timestampOr(cfg.Now)
	if err != nil {
		return fmt.Errorf("parse now: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStateStore(ctx, cfg.StateConfig)
	if err != nil {
		return err
	}
	defer store.Close()

	ledger := pool.NewMemoryLedger()
	if err := ledger.MintTo(ctx, params.Asset, operator, amount); err != nil {
		return err
	}
	if err := ledger.MintTo(ctx, params.Claim, operator, new(uint256.Int).Lsh(uint256.NewInt(1), 200)); err != nil {
		return err
	}

	engine, err := pool.New(params,
		pool.WithLedger(ledger),
		pool.WithShareToken(ledger.Shares(params.Account())),
		pool.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	res, err := engine.Initialize(ctx, operator, priceHint, amount, strike, now)
	if err != nil {
		return err
	}

	st := engine.State()
	if err := store.save(ctx, st); err != nil {
		return err
	}
	if store.pg != nil {
		if err := store.pg.UpsertPools(ctx, []model.Pool{mark.DescribePool(st, now)}); err != nil {
			return fmt.Errorf("upsert pool: %w", err)
		}
	}

	logger.Info("pool initialized",
		zap.String("pool", params.ID()),
		zap.String("state", cfg.StateFile),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
		zap.Uint64("now", now),
	)

	return printJSON(cmd.OutOrStdout(), initOutput{
		PoolID:      params.ID(),
		Account:     params.Account().Hex(),
		Liquidity:   fixedpoint.FormatWad(res.Liquidity),
		Claim:       fixedpoint.FormatWad(res.Claim),
		ClaimNative: res.ClaimNative.Dec(),
		Shares:      fixedpoint.FormatWad(res.Shares),
		Strike:      fixedpoint.FormatWad(st.Strike),
		Timestamp:   now,
	})
}

func initParams(cfg config.InitConfig) (pool.Params, error) {
	sigma, err := parseWad("sigma", cfg.Sigma)
	if err != nil {
		return pool.Params{}, err
	}
	fee, err := parseWad("fee", cfg.Fee)
	if err != nil {
		return pool.Params{}, err
	}
	maturity, err := config.ParseTimestamp(cfg.Maturity)
	if err != nil {
		return pool.Params{}, fmt.Errorf("parse maturity: %w", err)
	}

	addresses := make([]common.Address, 3)
	for i, in := range []struct{ name, value string }{
		{"asset token", cfg.Asset},
		{"claim token", cfg.Claim},
		{"yield token", cfg.Yield},
	} {
		if in.value == "" {
			if i == 2 {
				continue
			}
			return pool.Params{}, fmt.Errorf("%s is required", in.name)
		}
		addr, err := replay.ParseAddress(in.value)
		if err != nil {
			return pool.Params{}, fmt.Errorf("parse %s: %w", in.name, err)
		}
		addresses[i] = addr
	}
	if addresses[0] == addresses[1] {
		return pool.Params{}, fmt.Errorf("asset and claim tokens must differ")
	}

	params := pool.Params{
		Sigma:         sigma,
		Fee:           fee,
		Maturity:      maturity,
		AssetDecimals: cfg.AssetDecimals,
		ClaimDecimals: cfg.ClaimDecimals,
		Asset:         addresses[0],
		Claim:         addresses[1],
		Yield:         addresses[2],
	}
	if err := params.Validate(); err != nil {
		return pool.Params{}, err
	}
	return params, nil
}
