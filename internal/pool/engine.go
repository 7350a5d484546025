package pool

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"claimCurve/internal/curve"
	"claimCurve/internal/fixedpoint"
)

// Engine owns one pool's state. State-changing calls are mutually exclusive and
// fail fast with ErrReentrant when nested; quotes only snapshot under a read lock.
type Engine struct {
	mu     sync.RWMutex
	locked bool
	state  State

	curve    *curve.Curve
	index    YieldIndex
	ledger   Ledger
	shares   ShareToken
	splitter Splitter
	logger   *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithCurve(c *curve.Curve) Option {
	return func(e *Engine) { e.curve = c }
}

func WithIndex(index YieldIndex) Option {
	return func(e *Engine) { e.index = index }
}

func WithLedger(ledger Ledger) Option {
	return func(e *Engine) { e.ledger = ledger }
}

func WithShareToken(shares ShareToken) Option {
	return func(e *Engine) { e.shares = shares }
}

func WithSplitter(splitter Splitter) Option {
	return func(e *Engine) { e.splitter = splitter }
}

// New creates an engine for an uninitialized pool.
func New(params Params, opts ...Option) (*Engine, error) {
	return Restore(NewState(params), opts...)
}

// Restore creates an engine over a previously persisted state.
func Restore(state State, opts ...Option) (*Engine, error) {
	if err := state.Params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pool params: %w", err)
	}
	e := &Engine{state: state.Clone(), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	if e.curve == nil {
		e.curve = curve.Default()
	}
	if e.index == nil {
		e.index = NewStaticIndex(fixedpoint.One())
	}
	if e.ledger == nil {
		mem := NewMemoryLedger()
		e.ledger = mem
		if e.shares == nil {
			e.shares = mem.Shares(state.Params.Account())
		}
	}
	if e.shares == nil {
		if mem, ok := e.ledger.(*MemoryLedger); ok {
			e.shares = mem.Shares(state.Params.Account())
		} else {
			return nil, fmt.Errorf("share token required with a custom ledger")
		}
	}
	return e, nil
}

// State returns a copy of the current state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Clone()
}

// Params returns the immutable pool parameters.
func (e *Engine) Params() Params {
	return e.State().Params
}

// Curve exposes the curve the engine evaluates with.
func (e *Engine) Curve() *curve.Curve { return e.curve }

// enter takes the operation guard. The returned func releases it.
func (e *Engine) enter() (func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.locked {
		return nil, ErrReentrant
	}
	e.locked = true
	return func() {
		e.mu.Lock()
		e.locked = false
		e.mu.Unlock()
	}, nil
}

func (e *Engine) commit(next State) {
	e.mu.Lock()
	e.state = next
	e.mu.Unlock()
}

// PreCompute is the per-call view of the pool the quotes work from.
type PreCompute struct {
	// ReserveInAsset is the wrapped reserve converted at Index.
	ReserveInAsset *uint256.Int
	Strike         *uint256.Int
	Tau            *uint256.Int
	// Liquidity is re-solved from the current reserves at Strike and Tau.
	Liquidity *uint256.Int
	Index     *uint256.Int
	Timestamp uint64
}

func (pc PreCompute) params(sigma *uint256.Int) curve.Params {
	return curve.Params{Strike: pc.Strike, Sigma: sigma, Tau: pc.Tau}
}

func (pc PreCompute) reserves(st State) curve.Reserves {
	return curve.Reserves{Asset: pc.ReserveInAsset, Claim: st.ReserveClaim, Liquidity: pc.Liquidity}
}

// PreCompute derives the strike and liquidity for a call at now.
func (e *Engine) PreCompute(ctx context.Context, now uint64) (PreCompute, error) {
	return e.preCompute(ctx, e.State(), now)
}

func (e *Engine) preCompute(ctx context.Context, st State, now uint64) (PreCompute, error) {
	if !st.Initialized() {
		return PreCompute{}, ErrNotInitialized
	}
	idx, err := e.index.Index(ctx)
	if err != nil {
		return PreCompute{}, fmt.Errorf("read yield index: %w", err)
	}
	x, err := syToAsset(st.ReserveAsset, idx)
	if err != nil {
		return PreCompute{}, err
	}
	tau := curve.Tau(st.Params.Maturity, now)
	strike, err := e.curve.StrikeFromImpliedRate(x, st.TotalLiquidity, st.Params.Sigma, tau, st.LastImpliedRate)
	if err != nil {
		return PreCompute{}, fmt.Errorf("derive strike: %w", err)
	}
	pc := PreCompute{ReserveInAsset: x, Strike: strike, Tau: tau, Index: idx, Timestamp: now}
	pc.Liquidity, err = e.curve.SolveLiquidity(x, st.ReserveClaim, pc.params(st.Params.Sigma))
	if err != nil {
		return PreCompute{}, fmt.Errorf("solve liquidity: %w", err)
	}
	return pc, nil
}

// TradingFunction evaluates the residual of the stored state against the curve at
// now, with the strike derived from the implied-rate memory.
func (e *Engine) TradingFunction(ctx context.Context, now uint64) (*big.Int, error) {
	st := e.State()
	if !st.Initialized() {
		return new(big.Int), nil
	}
	pc, err := e.preCompute(ctx, st, now)
	if err != nil {
		return nil, err
	}
	return e.curve.TradingFunction(pc.ReserveInAsset, st.ReserveClaim, st.TotalLiquidity, pc.params(st.Params.Sigma))
}
