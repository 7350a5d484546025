package mark

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"claimCurve/internal/fixedpoint"
	"claimCurve/internal/model"
	"claimCurve/internal/storage"
)

const feeMethodLiquidity = "liquidity_growth"

// Config controls aggregation behavior.
type Config struct {
	WindowSeconds uint64
	BatchSize     int
	RecomputeFrom uint64
	StateStore    StateStore
}

// MetricsSink receives pool descriptions and window metrics.
type MetricsSink interface {
	UpsertPools(ctx context.Context, pools []model.Pool) error
	UpsertWindowMetrics(ctx context.Context, metrics []model.WindowMetrics) error
}

// Aggregator aggregates journaled trades into pool window metrics.
type Aggregator struct {
	cfg          Config
	sink         MetricsSink
	logger       *zap.Logger
	accumulators map[string]*Accumulator
	pools        map[string]model.Pool
	emitted      map[string]bool
}

func NewAggregator(cfg Config, sink MetricsSink, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Aggregator{
		cfg:          cfg,
		sink:         sink,
		logger:       logger,
		accumulators: make(map[string]*Accumulator),
		pools:        make(map[string]model.Pool),
		emitted:      make(map[string]bool),
	}
}

// Register supplies token decimals for a pool and queues its row for upsert.
// Trades of unregistered pools are formatted with 18 decimals.
func (a *Aggregator) Register(pool model.Pool) {
	key := poolKey(pool.ID)
	a.pools[key] = pool
	delete(a.emitted, key)
}

// Run executes aggregation over a trade journal.
func (a *Aggregator) Run(ctx context.Context, inputPath string) error {
	if a.sink == nil {
		return fmt.Errorf("metrics sink is nil")
	}
	if a.cfg.WindowSeconds == 0 {
		return fmt.Errorf("window seconds must be > 0")
	}
	if a.cfg.BatchSize <= 0 {
		a.cfg.BatchSize = 1000
	}

	startTs, err := a.loadStartTimestamp(ctx)
	if err != nil {
		return err
	}

	batch := make([]model.WindowMetrics, 0, a.cfg.BatchSize)
	pools := make([]model.Pool, 0, 16)
	maxTs := startTs
	var total, windows, skipped, failed int

	flush := func(acc *Accumulator) {
		metrics, pool := a.flushAccumulator(acc)
		if metrics != nil {
			batch = append(batch, *metrics)
			windows++
		}
		if pool != nil {
			pools = append(pools, *pool)
		}
	}

	err = storage.ScanTrades(inputPath, func(record model.TradeRecord) error {
		total++
		if record.Timestamp <= startTs {
			skipped++
			return nil
		}

		windowStart := windowStart(record.Timestamp, a.cfg.WindowSeconds)
		windowEnd := windowStart + a.cfg.WindowSeconds

		accKey := poolKey(record.PoolID)
		acc := a.accumulators[accKey]
		if acc == nil {
			acc = NewAccumulator(record, windowStart, windowEnd)
			a.accumulators[accKey] = acc
		} else if acc.WindowStart != windowStart {
			flush(acc)
			acc = NewAccumulator(record, windowStart, windowEnd)
			a.accumulators[accKey] = acc
		}

		if err := acc.AddTrade(record); err != nil {
			failed++
			a.logger.Warn("aggregate trade", zap.Error(err), zap.String("pool", record.PoolID), zap.Uint64("step", record.Step))
			return nil
		}

		if record.Timestamp > maxTs {
			maxTs = record.Timestamp
		}

		if len(batch) >= a.cfg.BatchSize {
			if err := a.flushBatches(ctx, batch, pools); err != nil {
				return err
			}
			batch = batch[:0]
			pools = pools[:0]

			if err := a.saveState(ctx); err != nil {
				return err
			}
		}
		return nil
	}, func(line int, err error) {
		failed++
		a.logger.Warn("decode trade", zap.Int("line", line), zap.Error(err))
	})
	if err != nil {
		return err
	}

	for _, acc := range a.accumulators {
		flush(acc)
	}
	a.accumulators = make(map[string]*Accumulator)

	if len(batch) > 0 || len(pools) > 0 {
		if err := a.flushBatches(ctx, batch, pools); err != nil {
			return err
		}
	}

	a.cfg.RecomputeFrom = maxTs
	if err := a.saveState(ctx); err != nil {
		return err
	}

	a.logger.Info("aggregate complete",
		zap.Int("total", total),
		zap.Int("windows", windows),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
	)

	return nil
}

func (a *Aggregator) loadStartTimestamp(ctx context.Context) (uint64, error) {
	if a.cfg.RecomputeFrom > 0 {
		return a.cfg.RecomputeFrom - 1, nil
	}
	if a.cfg.StateStore == nil {
		return 0, nil
	}
	last, ok, err := a.cfg.StateStore.Load(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return last, nil
}

// saveState records the newest timestamp that no open window can still need.
func (a *Aggregator) saveState(ctx context.Context) error {
	if a.cfg.StateStore == nil {
		return nil
	}

	if len(a.accumulators) == 0 {
		return a.cfg.StateStore.Save(ctx, a.cfg.RecomputeFrom)
	}

	safeTs := minOpenWindowStart(a.accumulators)
	if safeTs > 0 {
		safeTs = safeTs - 1
	}
	if safeTs == 0 {
		safeTs = a.cfg.RecomputeFrom
	}
	return a.cfg.StateStore.Save(ctx, safeTs)
}

func (a *Aggregator) flushBatches(ctx context.Context, batch []model.WindowMetrics, pools []model.Pool) error {
	if len(pools) > 0 {
		if err := a.sink.UpsertPools(ctx, pools); err != nil {
			return err
		}
	}
	if len(batch) > 0 {
		if err := a.sink.UpsertWindowMetrics(ctx, batch); err != nil {
			return err
		}
	}
	return nil
}

func (a *Aggregator) flushAccumulator(acc *Accumulator) (*model.WindowMetrics, *model.Pool) {
	if acc == nil {
		return nil, nil
	}

	assetDecimals, claimDecimals := uint8(fixedpoint.Decimals), uint8(fixedpoint.Decimals)
	key := poolKey(acc.PoolID)
	pool, known := a.pools[key]
	if known {
		assetDecimals, claimDecimals = pool.Asset.Decimals, pool.Claim.Decimals
	} else {
		a.logger.Debug("unregistered pool", zap.String("pool", acc.PoolID))
	}

	feeRate := computeFeeRate(acc.FeeLiquidity, acc.Liquidity)
	metrics := &model.WindowMetrics{
		PoolID:         acc.PoolID,
		WindowSizeSecs: int64(a.cfg.WindowSeconds),
		WindowStart:    time.Unix(int64(acc.WindowStart), 0).UTC(),
		WindowEnd:      time.Unix(int64(acc.WindowEnd), 0).UTC(),
		TradeCount:     acc.TradeCount,
		VolumeAsset:    formatTokenAmount(acc.VolumeAsset, assetDecimals),
		VolumeClaim:    formatTokenAmount(acc.VolumeClaim, claimDecimals),
		FeeLiquidity:   formatTokenAmount(acc.FeeLiquidity, fixedpoint.Decimals),
		RateOpen:       formatWadPtr(acc.RateOpen),
		RateClose:      formatWadPtr(acc.RateClose),
		RateHigh:       formatWadPtr(acc.RateHigh),
		RateLow:        formatWadPtr(acc.RateLow),
		Liquidity:      formatWadPtr(acc.Liquidity),
		FeeRate:        feeRate,
		APR:            computeAPR(feeRate, a.cfg.WindowSeconds),
		FeeMethod:      feeMethodLiquidity,
	}

	if !known || a.emitted[key] {
		return metrics, nil
	}
	a.emitted[key] = true
	return metrics, &pool
}

func windowStart(ts uint64, windowSec uint64) uint64 {
	return ts - (ts % windowSec)
}

func poolKey(id string) string {
	return strings.ToLower(id)
}

func minOpenWindowStart(acc map[string]*Accumulator) uint64 {
	var low uint64
	for _, entry := range acc {
		if entry == nil {
			continue
		}
		if low == 0 || entry.WindowStart < low {
			low = entry.WindowStart
		}
	}
	return low
}
