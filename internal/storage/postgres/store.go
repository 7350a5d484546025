package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"claimCurve/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS pools (
	pool_id TEXT PRIMARY KEY,
	account TEXT NOT NULL,
	asset TEXT NOT NULL,
	claim TEXT NOT NULL,
	yield TEXT NOT NULL,
	asset_decimals SMALLINT NOT NULL,
	claim_decimals SMALLINT NOT NULL,
	sigma NUMERIC NOT NULL,
	fee NUMERIC NOT NULL,
	maturity BIGINT NOT NULL,
	initial_strike NUMERIC,
	created_at BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS trades (
	pool_id TEXT NOT NULL,
	step BIGINT NOT NULL,
	op TEXT NOT NULL,
	account TEXT NOT NULL,
	amount_in NUMERIC NOT NULL,
	amount_out NUMERIC NOT NULL,
	delta_liquidity NUMERIC NOT NULL,
	liquidity NUMERIC NOT NULL,
	strike NUMERIC NOT NULL,
	implied_rate NUMERIC NOT NULL,
	ts BIGINT NOT NULL,
	PRIMARY KEY (pool_id, step)
);
CREATE TABLE IF NOT EXISTS marks (
	pool_id TEXT NOT NULL,
	ts BIGINT NOT NULL,
	tau NUMERIC NOT NULL,
	spot_price NUMERIC NOT NULL,
	implied_rate NUMERIC NOT NULL,
	residual NUMERIC NOT NULL,
	liquidity NUMERIC,
	strike NUMERIC,
	PRIMARY KEY (pool_id, ts)
);
CREATE TABLE IF NOT EXISTS pool_window_metrics (
	pool_id TEXT NOT NULL,
	window_size_seconds BIGINT NOT NULL,
	window_start_ts TIMESTAMPTZ NOT NULL,
	window_end_ts TIMESTAMPTZ NOT NULL,
	trade_count BIGINT NOT NULL,
	volume_asset NUMERIC NOT NULL,
	volume_claim NUMERIC NOT NULL,
	fee_liquidity NUMERIC NOT NULL,
	rate_open NUMERIC, rate_close NUMERIC, rate_high NUMERIC, rate_low NUMERIC,
	liquidity NUMERIC, fee_rate NUMERIC, apr NUMERIC,
	fee_method TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (pool_id, window_size_seconds, window_start_ts)
);
CREATE TABLE IF NOT EXISTS engine_state (
	pool_id TEXT PRIMARY KEY,
	state JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS progress_state (
	name TEXT PRIMARY KEY,
	last_processed_ts BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// Store provides Postgres persistence for pools, trades and marks.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func (s *Store) sendBatch(ctx context.Context, batch *pgx.Batch, n int) error {
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// UpsertPools inserts or updates pool descriptions.
func (s *Store) UpsertPools(ctx context.Context, pools []model.Pool) error {
	if len(pools) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range pools {
		batch.Queue(`
			INSERT INTO pools (
				pool_id, account, asset, claim, yield, asset_decimals, claim_decimals,
				sigma, fee, maturity, initial_strike, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, '')::numeric, $12, now())
			ON CONFLICT (pool_id)
			DO UPDATE SET
				initial_strike = COALESCE(pools.initial_strike, EXCLUDED.initial_strike),
				created_at = LEAST(pools.created_at, EXCLUDED.created_at),
				updated_at = now()
		`,
			p.ID,
			p.Account,
			p.Asset.Address,
			p.Claim.Address,
			p.Yield.Address,
			int16(p.Asset.Decimals),
			int16(p.Claim.Decimals),
			p.Sigma,
			p.Fee,
			int64(p.Maturity),
			p.InitialStrike,
			int64(p.CreatedAt),
		)
	}
	return s.sendBatch(ctx, batch, len(pools))
}

// PutTrades inserts journaled trades, ignoring steps already stored.
func (s *Store) PutTrades(ctx context.Context, trades []model.TradeRecord) error {
	if len(trades) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, tr := range trades {
		batch.Queue(`
			INSERT INTO trades (
				pool_id, step, op, account, amount_in, amount_out, delta_liquidity, liquidity, strike, implied_rate, ts
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (pool_id, step) DO NOTHING
		`,
			tr.PoolID,
			int64(tr.Step),
			tr.Op,
			tr.Account,
			orZero(tr.AmountIn),
			orZero(tr.AmountOut),
			orZero(tr.DeltaLiquidity),
			orZero(tr.Liquidity),
			orZero(tr.Strike),
			orZero(tr.ImpliedRate),
			int64(tr.Timestamp),
		)
	}
	return s.sendBatch(ctx, batch, len(trades))
}

// Journal adapts the store to storage.Storage under ctx. Rejected steps are
// not kept in Postgres.
type Journal struct {
	ctx   context.Context
	store *Store
}

func (s *Store) Journal(ctx context.Context) *Journal {
	return &Journal{ctx: ctx, store: s}
}

func (j *Journal) PutTradeBatch(trades []model.TradeRecord) error {
	return j.store.PutTrades(j.ctx, trades)
}

func (j *Journal) PutStepErrors([]model.StepError) error {
	return nil
}

// PutMarks upserts curve marks.
func (s *Store) PutMarks(ctx context.Context, marks []model.Mark) error {
	if len(marks) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range marks {
		batch.Queue(`
			INSERT INTO marks (pool_id, ts, tau, spot_price, implied_rate, residual, liquidity, strike)
			VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, '')::numeric, NULLIF($8, '')::numeric)
			ON CONFLICT (pool_id, ts)
			DO UPDATE SET
				tau = EXCLUDED.tau,
				spot_price = EXCLUDED.spot_price,
				implied_rate = EXCLUDED.implied_rate,
				residual = EXCLUDED.residual,
				liquidity = EXCLUDED.liquidity,
				strike = EXCLUDED.strike
		`,
			m.PoolID,
			int64(m.Timestamp),
			orZero(m.Tau),
			orZero(m.SpotPrice),
			orZero(m.ImpliedRate),
			orZero(m.Residual),
			m.Liquidity,
			m.Strike,
		)
	}
	return s.sendBatch(ctx, batch, len(marks))
}

// UpsertWindowMetrics inserts or updates window metrics.
func (s *Store) UpsertWindowMetrics(ctx context.Context, metrics []model.WindowMetrics) error {
	if len(metrics) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range metrics {
		batch.Queue(`
			INSERT INTO pool_window_metrics (
				pool_id, window_size_seconds, window_start_ts, window_end_ts,
				trade_count, volume_asset, volume_claim, fee_liquidity,
				rate_open, rate_close, rate_high, rate_low, liquidity, fee_rate, apr,
				fee_method, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,now(),now())
			ON CONFLICT (pool_id, window_size_seconds, window_start_ts)
			DO UPDATE SET
				window_end_ts = EXCLUDED.window_end_ts,
				trade_count = EXCLUDED.trade_count,
				volume_asset = EXCLUDED.volume_asset,
				volume_claim = EXCLUDED.volume_claim,
				fee_liquidity = EXCLUDED.fee_liquidity,
				rate_open = EXCLUDED.rate_open,
				rate_close = EXCLUDED.rate_close,
				rate_high = EXCLUDED.rate_high,
				rate_low = EXCLUDED.rate_low,
				liquidity = EXCLUDED.liquidity,
				fee_rate = EXCLUDED.fee_rate,
				apr = EXCLUDED.apr,
				fee_method = EXCLUDED.fee_method,
				updated_at = now()
		`,
			m.PoolID,
			m.WindowSizeSecs,
			m.WindowStart,
			m.WindowEnd,
			int64(m.TradeCount),
			m.VolumeAsset,
			m.VolumeClaim,
			m.FeeLiquidity,
			m.RateOpen,
			m.RateClose,
			m.RateHigh,
			m.RateLow,
			m.Liquidity,
			m.FeeRate,
			m.APR,
			m.FeeMethod,
		)
	}
	return s.sendBatch(ctx, batch, len(metrics))
}

// SaveEngineState stores the JSON form of a pool's engine state.
func (s *Store) SaveEngineState(ctx context.Context, poolID string, state []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO engine_state (pool_id, state, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (pool_id) DO UPDATE
		SET state = EXCLUDED.state, updated_at = now()
	`, poolID, state)
	return err
}

// LoadEngineState returns the stored engine state for a pool.
func (s *Store) LoadEngineState(ctx context.Context, poolID string) ([]byte, bool, error) {
	var state []byte
	row := s.pool.QueryRow(ctx, `SELECT state FROM engine_state WHERE pool_id=$1`, poolID)
	if err := row.Scan(&state); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return state, true, nil
}

// LoadState returns last_processed_ts for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var ts int64
	row := s.pool.QueryRow(ctx, `SELECT last_processed_ts FROM progress_state WHERE name=$1`, name)
	if err := row.Scan(&ts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(ts), true, nil
}

// SaveState upserts last_processed_ts for a name.
func (s *Store) SaveState(ctx context.Context, name string, ts uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO progress_state (name, last_processed_ts, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_ts = EXCLUDED.last_processed_ts, updated_at = now()
	`, name, int64(ts))
	return err
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
