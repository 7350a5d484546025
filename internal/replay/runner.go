package replay

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"claimCurve/internal/fixedpoint"
	"claimCurve/internal/model"
	"claimCurve/internal/pool"
	"claimCurve/internal/storage"
)

// RunConfig holds runtime settings for a replay.
type RunConfig struct {
	BatchSize         uint64
	CheckpointPath    string
	CheckpointEnabled bool
}

// Summary reports what a run did.
type Summary struct {
	Steps    uint64
	Skipped  uint64
	Trades   int
	Rejected int
	State    pool.State
}

// env is the in-memory pool a scenario runs against.
type env struct {
	engine   *pool.Engine
	ledger   *pool.MemoryLedger
	index    *pool.StaticIndex
	params   pool.Params
	accounts map[string]common.Address
	now      uint64
}

// Runner executes a scenario step by step and journals each outcome.
type Runner struct {
	cfg        RunConfig
	scenario   *Scenario
	storage    storage.Storage
	logger     *zap.Logger
	checkpoint *CheckpointStore
	clock      func() time.Time

	env *env
}

// NewRunner builds a Runner with its dependencies.
func NewRunner(cfg RunConfig, scenario *Scenario, storageSink storage.Storage, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:        cfg,
		scenario:   scenario,
		storage:    storageSink,
		logger:     logger,
		checkpoint: NewCheckpointStore(cfg.CheckpointPath, cfg.CheckpointEnabled),
		clock:      time.Now,
	}
}

func newEnv(s *Scenario, logger *zap.Logger) (*env, error) {
	params, err := s.Params()
	if err != nil {
		return nil, err
	}
	accounts, err := ParseAccounts(s.Accounts)
	if err != nil {
		return nil, err
	}
	idx, err := parseWadOr(s.Index, fixedpoint.One())
	if err != nil {
		return nil, fmt.Errorf("index: %w", err)
	}
	// The yield token holds the wrapped asset backing split claims unless told otherwise.
	vault := params.Yield
	if strings.TrimSpace(s.Vault) != "" {
		if vault, err = ParseAddress(s.Vault); err != nil {
			return nil, fmt.Errorf("vault: %w", err)
		}
	}

	ledger := pool.NewMemoryLedger()
	index := pool.NewStaticIndex(idx)
	engine, err := pool.New(params,
		pool.WithLogger(logger),
		pool.WithLedger(ledger),
		pool.WithShareToken(ledger.Shares(params.Account())),
		pool.WithIndex(index),
		pool.WithSplitter(pool.NewMemorySplitter(ledger, index, params, vault)),
	)
	if err != nil {
		return nil, err
	}
	return &env{engine: engine, ledger: ledger, index: index, params: params, accounts: accounts}, nil
}

// Run executes the scenario, resuming after the last checkpointed step.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	if r.scenario == nil {
		return Summary{}, fmt.Errorf("scenario is nil")
	}
	if r.storage == nil {
		return Summary{}, fmt.Errorf("storage is nil")
	}
	if r.cfg.BatchSize == 0 {
		return Summary{}, fmt.Errorf("batch size must be greater than zero")
	}

	env, err := newEnv(r.scenario, r.logger)
	if err != nil {
		return Summary{}, err
	}
	r.env = env
	poolID := env.params.ID()
	steps := r.scenario.Steps
	summary := Summary{Steps: uint64(len(steps))}

	from := uint64(1)
	done, ok, err := r.checkpoint.Load(r.scenario.ID(), summary.Steps)
	if err != nil {
		return summary, err
	}
	if ok {
		from = done + 1
		r.logger.Info("resume from checkpoint", zap.Uint64("last_processed", done), zap.Uint64("from", from))
	}

	// Journaled steps are re-executed silently to rebuild the in-memory pool.
	for n := uint64(1); n < from && n <= summary.Steps; n++ {
		_, _ = r.exec(ctx, env, steps[n-1])
		summary.Skipped++
	}

	if from > summary.Steps {
		r.logger.Info("nothing to replay", zap.Uint64("from", from), zap.Uint64("steps", summary.Steps))
		summary.State = env.engine.State()
		return summary, nil
	}

	ranges, err := SplitRange(from, summary.Steps, r.cfg.BatchSize)
	if err != nil {
		return summary, err
	}

	for _, stepRange := range ranges {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}

		ingestedAt := r.clock().UTC()
		records := make([]model.TradeRecord, 0, stepRange.Len())
		var rejected []model.StepError
		var stopErr error
		last := stepRange.To

		for n := stepRange.From; n <= stepRange.To; n++ {
			step := steps[n-1]
			tr, err := r.exec(ctx, env, step)
			if err != nil {
				rejected = append(rejected, buildStepError(poolID, n, step, env.now, err))
				r.logger.Info("step rejected", zap.Uint64("step", n), zap.String("op", step.Op), zap.Error(err))
				if r.scenario.StopOnError {
					// The failed step stays unprocessed so a resumed run retries it.
					stopErr = fmt.Errorf("step %d (%s): %w", n, step.Op, err)
					last = n - 1
					break
				}
				continue
			}
			if tr != nil {
				records = append(records, buildTradeRecord(n, *tr, env.engine.State(), env.now, ingestedAt))
			}
		}

		if err := r.storage.PutTradeBatch(records); err != nil {
			return summary, fmt.Errorf("store trades: %w", err)
		}
		if err := r.storage.PutStepErrors(rejected); err != nil {
			return summary, fmt.Errorf("store step errors: %w", err)
		}
		if err := r.checkpoint.Save(r.scenario.ID(), last); err != nil {
			return summary, err
		}
		summary.Trades += len(records)
		summary.Rejected += len(rejected)

		r.logger.Info("batch complete",
			zap.Stringer("range", stepRange),
			zap.Int("trades", len(records)),
			zap.Int("rejected", len(rejected)),
			zap.Uint64("checkpoint", last),
		)
		if stopErr != nil {
			summary.State = env.engine.State()
			return summary, stopErr
		}
	}

	summary.State = env.engine.State()
	return summary, nil
}

// Balance returns an account's balance of token after Run.
func (r *Runner) Balance(token common.Address, account string) (*uint256.Int, error) {
	if r.env == nil {
		return nil, fmt.Errorf("runner has not run")
	}
	addr, err := resolveAccount(r.env.accounts, account)
	if err != nil {
		return nil, err
	}
	return r.env.ledger.Balance(token, addr), nil
}

func (e *env) advance(s Step) {
	switch {
	case s.ToMaturity != nil:
		if *s.ToMaturity >= e.params.Maturity {
			e.now = 0
		} else {
			e.now = e.params.Maturity - *s.ToMaturity
		}
	case s.At != 0:
		e.now = s.At
	}
}

func (e *env) token(name string) (common.Address, uint8, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "asset":
		return e.params.Asset, e.params.AssetDecimals, nil
	case "claim":
		return e.params.Claim, e.params.ClaimDecimals, nil
	case "yield":
		return e.params.Yield, e.params.ClaimDecimals, nil
	}
	return common.Address{}, 0, fmt.Errorf("unknown token %q", name)
}

func maxUint256() *uint256.Int {
	return new(uint256.Int).SetAllOne()
}

// parseLimit reads a slippage bound; empty means no bound, which is zero for
// minimums and the largest amount for maximums.
func parseLimit(s string, decimals uint8, isMax bool) (*uint256.Int, error) {
	if strings.TrimSpace(s) == "" {
		if isMax {
			return maxUint256(), nil
		}
		return new(uint256.Int), nil
	}
	return parseNative(s, decimals)
}

// exec runs one step. Steps that move no pool tokens return a nil trade.
func (r *Runner) exec(ctx context.Context, env *env, s Step) (*trade, error) {
	env.advance(s)
	op := strings.ToLower(strings.TrimSpace(s.Op))
	p := env.params

	if op == OpSetIndex {
		raw := s.Index
		if raw == "" {
			raw = s.Amount
		}
		idx, err := fixedpoint.ParseWad(raw)
		if err != nil {
			return nil, err
		}
		if idx.IsZero() {
			return nil, fmt.Errorf("index must be positive: %w", fixedpoint.ErrDomain)
		}
		env.index.Set(idx)
		return nil, nil
	}

	account, err := resolveAccount(env.accounts, s.Account)
	if err != nil {
		return nil, err
	}

	switch op {
	case OpFund:
		token, decimals, err := env.token(s.Token)
		if err != nil {
			return nil, err
		}
		amount, err := parseNative(s.Amount, decimals)
		if err != nil {
			return nil, err
		}
		return nil, env.ledger.MintTo(ctx, token, account, amount)

	case OpInitialize:
		amount, err := parseNative(s.Amount, p.AssetDecimals)
		if err != nil {
			return nil, err
		}
		strike, err := fixedpoint.ParseWad(s.Strike)
		if err != nil {
			return nil, fmt.Errorf("strike: %w", err)
		}
		hint, err := parseWadOr(s.PriceHint, fixedpoint.One())
		if err != nil {
			return nil, fmt.Errorf("price hint: %w", err)
		}
		res, err := env.engine.Initialize(ctx, account, hint, amount, strike, env.now)
		if err != nil {
			return nil, err
		}
		return &trade{op: op, account: account, tokenIn: p.Asset, tokenOut: p.Claim,
			amountIn: amount, amountOut: res.ClaimNative, deltaLiquidity: res.Liquidity.ToBig()}, nil

	case OpAllocate:
		inAsset := strings.ToLower(strings.TrimSpace(s.Side)) != "claim"
		decimals, otherDecimals := p.AssetDecimals, p.ClaimDecimals
		if !inAsset {
			decimals, otherDecimals = otherDecimals, decimals
		}
		amount, err := parseNative(s.Amount, decimals)
		if err != nil {
			return nil, err
		}
		maxOther, err := parseLimit(s.Limit, otherDecimals, true)
		if err != nil {
			return nil, err
		}
		q, err := env.engine.Allocate(ctx, account, inAsset, amount, maxOther, env.now)
		if err != nil {
			return nil, err
		}
		return &trade{op: op, account: account, tokenIn: p.Asset, tokenOut: p.Claim,
			amountIn: q.AssetNative, amountOut: q.ClaimNative, deltaLiquidity: q.DeltaLiquidity.ToBig()}, nil

	case OpDeallocate:
		liquidity, err := fixedpoint.ParseWad(s.Amount)
		if err != nil {
			return nil, err
		}
		minAsset, err := parseLimit(s.Limit, p.AssetDecimals, false)
		if err != nil {
			return nil, err
		}
		minClaim, err := parseLimit(s.MinClaim, p.ClaimDecimals, false)
		if err != nil {
			return nil, err
		}
		q, err := env.engine.Deallocate(ctx, account, liquidity, minAsset, minClaim, env.now)
		if err != nil {
			return nil, err
		}
		return &trade{op: op, account: account, tokenIn: p.Asset, tokenOut: p.Claim,
			amountIn: q.AssetNative, amountOut: q.ClaimNative,
			deltaLiquidity: new(big.Int).Neg(q.DeltaLiquidity.ToBig())}, nil

	case OpAssetForYield:
		target, err := parseNative(s.Amount, p.AssetDecimals)
		if err != nil {
			return nil, err
		}
		eps, err := parseWadOr(s.Epsilon, new(uint256.Int))
		if err != nil {
			return nil, fmt.Errorf("epsilon: %w", err)
		}
		guess, err := parseWadOr(s.Guess, new(uint256.Int))
		if err != nil {
			return nil, fmt.Errorf("guess: %w", err)
		}
		minYield, err := parseLimit(s.Limit, p.ClaimDecimals, false)
		if err != nil {
			return nil, err
		}
		res, err := env.engine.SwapAssetForYield(ctx, account, target, pool.SizeRequest{Epsilon: eps, Guess: guess}, minYield, env.now)
		if err != nil {
			return nil, err
		}
		return &trade{op: op, account: account, tokenIn: p.Asset, tokenOut: p.Yield,
			amountIn: res.WrappedIn, amountOut: res.YieldOut, deltaLiquidity: res.Quote.DeltaLiquidity}, nil
	}

	d, err := pool.ParseDirection(op)
	if err != nil {
		return nil, err
	}
	tokenIn, tokenOut := p.Asset, p.Claim
	inDecimals, outDecimals := p.AssetDecimals, p.ClaimDecimals
	if d == pool.ClaimIn || d == pool.AssetOut {
		tokenIn, tokenOut = tokenOut, tokenIn
		inDecimals, outDecimals = outDecimals, inDecimals
	}
	exactOut := d == pool.AssetOut || d == pool.ClaimOut
	amountDecimals, limitDecimals := inDecimals, outDecimals
	if exactOut {
		amountDecimals, limitDecimals = outDecimals, inDecimals
	}
	amount, err := parseNative(s.Amount, amountDecimals)
	if err != nil {
		return nil, err
	}
	limit, err := parseLimit(s.Limit, limitDecimals, exactOut)
	if err != nil {
		return nil, err
	}
	q, err := env.engine.Swap(ctx, account, d, amount, limit, env.now)
	if err != nil {
		return nil, err
	}
	return &trade{op: op, account: account, tokenIn: tokenIn, tokenOut: tokenOut,
		amountIn: q.AmountInNative, amountOut: q.AmountOutNative, deltaLiquidity: q.DeltaLiquidity}, nil
}
