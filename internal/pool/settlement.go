package pool

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"claimCurve/internal/fixedpoint"
)

// YieldIndex reports how many asset units one wrapped unit redeems for, as a WAD.
type YieldIndex interface {
	Index(ctx context.Context) (*uint256.Int, error)
}

// Ledger moves token balances in native units.
type Ledger interface {
	Transfer(ctx context.Context, token, from, to common.Address, amount *uint256.Int) error
}

// ShareToken mints and burns the pool's liquidity shares.
type ShareToken interface {
	Mint(ctx context.Context, to common.Address, amount *uint256.Int) error
	Burn(ctx context.Context, from common.Address, amount *uint256.Int) error
}

// Splitter turns wrapped asset into equal amounts of claim and yield tokens, and back.
type Splitter interface {
	Split(ctx context.Context, from common.Address, wrapped *uint256.Int, claimTo, yieldTo common.Address) (*uint256.Int, error)
	Merge(ctx context.Context, claimFrom, yieldFrom common.Address, amount *uint256.Int, to common.Address) (*uint256.Int, error)
}

func syToAsset(amount, index *uint256.Int) (*uint256.Int, error) {
	return fixedpoint.MulDown(amount, index)
}

func assetToSyDown(amount, index *uint256.Int) (*uint256.Int, error) {
	return fixedpoint.DivDown(amount, index)
}

func assetToSyUp(amount, index *uint256.Int) (*uint256.Int, error) {
	return fixedpoint.DivUp(amount, index)
}

// StaticIndex is a YieldIndex held in memory. Set moves it, as accrual would.
type StaticIndex struct {
	mu sync.RWMutex
	v  *uint256.Int
}

func NewStaticIndex(v *uint256.Int) *StaticIndex {
	return &StaticIndex{v: new(uint256.Int).Set(v)}
}

func (s *StaticIndex) Index(context.Context) (*uint256.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return new(uint256.Int).Set(s.v), nil
}

func (s *StaticIndex) Set(v *uint256.Int) {
	s.mu.Lock()
	s.v = new(uint256.Int).Set(v)
	s.mu.Unlock()
}

// MemoryLedger is an in-process multi-token balance book.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[common.Address]map[common.Address]*uint256.Int
	supply   map[common.Address]*uint256.Int
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances: make(map[common.Address]map[common.Address]*uint256.Int),
		supply:   make(map[common.Address]*uint256.Int),
	}
}

func (l *MemoryLedger) slot(token, account common.Address) *uint256.Int {
	book, ok := l.balances[token]
	if !ok {
		book = make(map[common.Address]*uint256.Int)
		l.balances[token] = book
	}
	bal, ok := book[account]
	if !ok {
		bal = new(uint256.Int)
		book[account] = bal
	}
	return bal
}

// Balance returns a copy of account's balance of token.
func (l *MemoryLedger) Balance(token, account common.Address) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(uint256.Int).Set(l.slot(token, account))
}

// Supply returns the minted supply of token.
func (l *MemoryLedger) Supply(token common.Address) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.supply[token]; ok {
		return new(uint256.Int).Set(s)
	}
	return new(uint256.Int)
}

func (l *MemoryLedger) Transfer(_ context.Context, token, from, to common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	src := l.slot(token, from)
	if src.Lt(amount) {
		return fmt.Errorf("transfer %s of %s from %s: have %s: %w", amount.Dec(), token.Hex(), from.Hex(), src.Dec(), ErrInsufficientBalance)
	}
	src.Sub(src, amount)
	dst := l.slot(token, to)
	dst.Add(dst, amount)
	return nil
}

// MintTo credits amount of token to account.
func (l *MemoryLedger) MintTo(_ context.Context, token, to common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	dst := l.slot(token, to)
	dst.Add(dst, amount)
	s, ok := l.supply[token]
	if !ok {
		s = new(uint256.Int)
		l.supply[token] = s
	}
	s.Add(s, amount)
	return nil
}

// BurnFrom debits amount of token from account.
func (l *MemoryLedger) BurnFrom(_ context.Context, token, from common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	src := l.slot(token, from)
	if src.Lt(amount) {
		return fmt.Errorf("burn %s of %s from %s: have %s: %w", amount.Dec(), token.Hex(), from.Hex(), src.Dec(), ErrInsufficientBalance)
	}
	src.Sub(src, amount)
	s := l.supply[token]
	s.Sub(s, amount)
	return nil
}

// Shares returns a ShareToken backed by this ledger under the given token address.
func (l *MemoryLedger) Shares(token common.Address) ShareToken {
	return memoryShares{ledger: l, token: token}
}

type memoryShares struct {
	ledger *MemoryLedger
	token  common.Address
}

func (m memoryShares) Mint(ctx context.Context, to common.Address, amount *uint256.Int) error {
	return m.ledger.MintTo(ctx, m.token, to, amount)
}

func (m memoryShares) Burn(ctx context.Context, from common.Address, amount *uint256.Int) error {
	return m.ledger.BurnFrom(ctx, m.token, from, amount)
}

// MemorySplitter splits wrapped asset held in a MemoryLedger. Wrapped and claim
// amounts share decimals.
type MemorySplitter struct {
	ledger *MemoryLedger
	index  YieldIndex
	params Params
	vault  common.Address
}

func NewMemorySplitter(ledger *MemoryLedger, index YieldIndex, params Params, vault common.Address) *MemorySplitter {
	return &MemorySplitter{ledger: ledger, index: index, params: params, vault: vault}
}

func (m *MemorySplitter) Split(ctx context.Context, from common.Address, wrapped *uint256.Int, claimTo, yieldTo common.Address) (*uint256.Int, error) {
	idx, err := m.index.Index(ctx)
	if err != nil {
		return nil, err
	}
	minted, err := syToAsset(wrapped, idx)
	if err != nil {
		return nil, err
	}
	if err := m.ledger.Transfer(ctx, m.params.Asset, from, m.vault, wrapped); err != nil {
		return nil, err
	}
	if err := m.ledger.MintTo(ctx, m.params.Claim, claimTo, minted); err != nil {
		return nil, err
	}
	if err := m.ledger.MintTo(ctx, m.params.Yield, yieldTo, minted); err != nil {
		return nil, err
	}
	return minted, nil
}

func (m *MemorySplitter) Merge(ctx context.Context, claimFrom, yieldFrom common.Address, amount *uint256.Int, to common.Address) (*uint256.Int, error) {
	idx, err := m.index.Index(ctx)
	if err != nil {
		return nil, err
	}
	wrapped, err := assetToSyDown(amount, idx)
	if err != nil {
		return nil, err
	}
	if err := m.ledger.BurnFrom(ctx, m.params.Claim, claimFrom, amount); err != nil {
		return nil, err
	}
	if err := m.ledger.BurnFrom(ctx, m.params.Yield, yieldFrom, amount); err != nil {
		return nil, err
	}
	if err := m.ledger.Transfer(ctx, m.params.Asset, m.vault, to, wrapped); err != nil {
		return nil, err
	}
	return wrapped, nil
}

// settlement records each completed leg so a failed operation can be reversed.
type settlement struct {
	logger *zap.Logger
	undo   []func(context.Context) error
	names  []string
}

func (s *settlement) transfer(ctx context.Context, ledger Ledger, token, from, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	if err := ledger.Transfer(ctx, token, from, to, amount); err != nil {
		return err
	}
	s.push("transfer "+token.Hex(), func(ctx context.Context) error {
		return ledger.Transfer(ctx, token, to, from, amount)
	})
	return nil
}

func (s *settlement) mint(ctx context.Context, shares ShareToken, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	if err := shares.Mint(ctx, to, amount); err != nil {
		return err
	}
	s.push("mint shares", func(ctx context.Context) error { return shares.Burn(ctx, to, amount) })
	return nil
}

func (s *settlement) burn(ctx context.Context, shares ShareToken, from common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	if err := shares.Burn(ctx, from, amount); err != nil {
		return err
	}
	s.push("burn shares", func(ctx context.Context) error { return shares.Mint(ctx, from, amount) })
	return nil
}

func (s *settlement) push(name string, fn func(context.Context) error) {
	s.names = append(s.names, name)
	s.undo = append(s.undo, fn)
}

// unwind reverses completed legs newest first. Failures are logged and the rest still run.
func (s *settlement) unwind(ctx context.Context) {
	for i := len(s.undo) - 1; i >= 0; i-- {
		if err := s.undo[i](ctx); err != nil {
			s.logger.Error("failed to revert settlement leg",
				zap.String("leg", s.names[i]),
				zap.Error(err),
			)
		}
	}
	s.undo, s.names = nil, nil
}
