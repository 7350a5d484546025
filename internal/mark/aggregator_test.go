package mark

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"claimCurve/internal/model"
	"claimCurve/internal/storage"
)

type recordingSink struct {
	pools   []model.Pool
	metrics []model.WindowMetrics
}

func (s *recordingSink) UpsertPools(_ context.Context, pools []model.Pool) error {
	s.pools = append(s.pools, pools...)
	return nil
}

func (s *recordingSink) UpsertWindowMetrics(_ context.Context, metrics []model.WindowMetrics) error {
	s.metrics = append(s.metrics, metrics...)
	return nil
}

const (
	windowBase = 1_800_000_000 - 1_800_000_000%3600
	wad        = "000000000000000000"
)

func bigOf(s string) *big.Int {
	v, _ := new(big.Int).SetString(s, 10)
	return v
}

func sampleTrades() []model.TradeRecord {
	return []model.TradeRecord{
		{PoolID: "p", Step: 1, Op: "initialize", AmountIn: "1000" + wad, AmountOut: "303" + wad,
			DeltaLiquidity: "1400" + wad, Liquidity: "1400" + wad, ImpliedRate: "0", Timestamp: windowBase + 10},
		{PoolID: "p", Step: 2, Op: "claim-in", AmountIn: "100" + wad, AmountOut: "95" + wad,
			DeltaLiquidity: "2" + wad, Liquidity: "1402" + wad, ImpliedRate: "50000000000000000", Timestamp: windowBase + 20},
		{PoolID: "p", Step: 3, Op: "asset-in", AmountIn: "10" + wad, AmountOut: "10" + wad,
			DeltaLiquidity: "-1", Liquidity: "1402" + wad, ImpliedRate: "40000000000000000", Timestamp: windowBase + 30},
		{PoolID: "p", Step: 4, Op: "asset-for-yield", AmountIn: "5" + wad, AmountOut: "50" + wad,
			DeltaLiquidity: "1" + wad, Liquidity: "1403" + wad, ImpliedRate: "60000000000000000", Timestamp: windowBase + 3600 + 5},
		{PoolID: "p", Step: 5, Op: "allocate", AmountIn: "100" + wad, AmountOut: "30" + wad,
			DeltaLiquidity: "140" + wad, Liquidity: "1543" + wad, ImpliedRate: "60000000000000000", Timestamp: windowBase + 3600 + 6},
	}
}

func TestAccumulatorWindow(t *testing.T) {
	trades := sampleTrades()
	acc := NewAccumulator(trades[0], windowBase, windowBase+3600)
	for _, tr := range trades[:3] {
		if err := acc.AddTrade(tr); err != nil {
			t.Fatalf("add trade: %v", err)
		}
	}

	if acc.TradeCount != 2 {
		t.Fatalf("trade count %d", acc.TradeCount)
	}
	if acc.VolumeAsset.String() != "105"+wad {
		t.Fatalf("asset volume %s", acc.VolumeAsset)
	}
	if acc.VolumeClaim.String() != "110"+wad {
		t.Fatalf("claim volume %s", acc.VolumeClaim)
	}
	if acc.FeeLiquidity.String() != "2"+wad {
		t.Fatalf("fee liquidity %s", acc.FeeLiquidity)
	}
	if acc.RateOpen.Sign() != 0 || acc.RateClose.String() != "40000000000000000" ||
		acc.RateHigh.String() != "50000000000000000" || acc.RateLow.Sign() != 0 {
		t.Fatalf("rates o=%s c=%s h=%s l=%s", acc.RateOpen, acc.RateClose, acc.RateHigh, acc.RateLow)
	}
	if acc.Liquidity.String() != "1402"+wad || acc.LastStep != 3 {
		t.Fatalf("liquidity %s last step %d", acc.Liquidity, acc.LastStep)
	}

	if err := acc.AddTrade(model.TradeRecord{PoolID: "p", Op: "claim-in", AmountIn: "x"}); err == nil {
		t.Fatalf("expected error for malformed amount")
	}
}

func TestComputeAPR(t *testing.T) {
	rate := computeFeeRate(bigOf("1"+wad), bigOf("1000"+wad))
	if rate == nil || *rate != "0.001000000000000000" {
		t.Fatalf("fee rate %v", rate)
	}
	apr := computeAPR(rate, 86400)
	if apr == nil || *apr != "0.365000000000000000" {
		t.Fatalf("apr %v", apr)
	}
	if computeAPR(rate, 0) != nil || computeAPR(nil, 86400) != nil {
		t.Fatalf("apr should be nil without a window or rate")
	}
	if computeFeeRate(bigOf("0"), bigOf("10")) != nil {
		t.Fatalf("zero fee should have no rate")
	}
	if got := formatTokenAmount(bigOf("-1500000"), 6); got != "-1.500000" {
		t.Fatalf("format %s", got)
	}
}

func writeJournal(t *testing.T, trades []model.TradeRecord) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trades.jsonl")
	if err := storage.NewJsonlStorage(path, "").PutTradeBatch(trades); err != nil {
		t.Fatalf("write journal: %v", err)
	}
	return path
}

func TestAggregatorRun(t *testing.T) {
	path := writeJournal(t, sampleTrades())
	sink := &recordingSink{}
	store := &NamedState{Store: &ProgressFile{Path: filepath.Join(t.TempDir(), "progress.json")}, Name: "metrics:3600"}

	agg := NewAggregator(Config{WindowSeconds: 3600, StateStore: store}, sink, nil)
	agg.Register(model.Pool{ID: "p", Asset: model.TokenMeta{Decimals: 18}, Claim: model.TokenMeta{Decimals: 18}})
	if err := agg.Run(context.Background(), path); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(sink.pools) != 1 || sink.pools[0].ID != "p" {
		t.Fatalf("pools %+v", sink.pools)
	}
	if len(sink.metrics) != 2 {
		t.Fatalf("expected 2 windows, got %d", len(sink.metrics))
	}
	first := sink.metrics[0]
	if !first.WindowStart.Equal(time.Unix(windowBase, 0).UTC()) || first.TradeCount != 2 {
		t.Fatalf("first window %+v", first)
	}
	if first.VolumeAsset != "105.000000000000000000" || first.FeeLiquidity != "2.000000000000000000" {
		t.Fatalf("first window volume %s fee %s", first.VolumeAsset, first.FeeLiquidity)
	}
	if first.APR == nil || first.FeeRate == nil || first.FeeMethod != feeMethodLiquidity {
		t.Fatalf("first window fee fields %+v", first)
	}
	second := sink.metrics[1]
	if second.TradeCount != 1 || second.Liquidity == nil || *second.Liquidity != "1543.000000000000000000" {
		t.Fatalf("second window %+v", second)
	}

	last, ok, err := store.Load(context.Background())
	if err != nil || !ok {
		t.Fatalf("load state: %v %v", ok, err)
	}
	if last != windowBase+3600+6 {
		t.Fatalf("state ts %d", last)
	}

	// A second run only sees trades after the saved timestamp.
	sink2 := &recordingSink{}
	if err := NewAggregator(Config{WindowSeconds: 3600, StateStore: store}, sink2, nil).Run(context.Background(), path); err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if len(sink2.metrics) != 0 {
		t.Fatalf("rerun should produce nothing, got %d windows", len(sink2.metrics))
	}
}

func TestAggregatorValidatesConfig(t *testing.T) {
	if err := NewAggregator(Config{WindowSeconds: 60}, nil, nil).Run(context.Background(), "x"); err == nil {
		t.Fatalf("expected error for nil sink")
	}
	if err := NewAggregator(Config{}, &recordingSink{}, nil).Run(context.Background(), "x"); err == nil {
		t.Fatalf("expected error for zero window")
	}
}

type memoryProgress struct {
	values map[string]uint64
}

func (m *memoryProgress) LoadState(_ context.Context, name string) (uint64, bool, error) {
	v, ok := m.values[name]
	return v, ok, nil
}

func (m *memoryProgress) SaveState(_ context.Context, name string, ts uint64) error {
	m.values[name] = ts
	return nil
}

func TestNamedState(t *testing.T) {
	progress := &memoryProgress{values: map[string]uint64{}}
	s := &NamedState{Store: progress, Name: "metrics:3600"}
	if _, ok, _ := s.Load(context.Background()); ok {
		t.Fatalf("expected no state")
	}
	if err := s.Save(context.Background(), 42); err != nil {
		t.Fatalf("save: %v", err)
	}
	if v, ok, _ := s.Load(context.Background()); !ok || v != 42 {
		t.Fatalf("load %d %v", v, ok)
	}
	var nilStore *NamedState
	if err := nilStore.Save(context.Background(), 1); err != nil {
		t.Fatalf("nil store save: %v", err)
	}
}

func TestProgressFileKeepsNames(t *testing.T) {
	ctx := context.Background()
	f := &ProgressFile{Path: filepath.Join(t.TempDir(), "nested", "progress.json")}
	if _, ok, err := f.LoadState(ctx, "metrics:60"); err != nil || ok {
		t.Fatalf("empty file: %v %v", ok, err)
	}
	if err := f.SaveState(ctx, "metrics:60", 100); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := f.SaveState(ctx, "metrics:3600", 200); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := f.SaveState(ctx, "metrics:60", 150); err != nil {
		t.Fatalf("save: %v", err)
	}

	reopened := &ProgressFile{Path: f.Path}
	for name, want := range map[string]uint64{"metrics:60": 150, "metrics:3600": 200} {
		got, ok, err := reopened.LoadState(ctx, name)
		if err != nil || !ok || got != want {
			t.Fatalf("%s: got %d ok=%v err=%v", name, got, ok, err)
		}
	}
}
