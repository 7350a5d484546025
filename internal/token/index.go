package token

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"claimCurve/internal/chain"
)

// IndexSource reads the wrapped asset's exchangeRate() as the pool's yield
// index. The reported index never decreases: a lower reading than one already
// served is replaced by the previous value.
type IndexSource struct {
	caller chain.Caller
	token  common.Address
	logger *zap.Logger

	mu   sync.Mutex
	last *uint256.Int
}

func NewIndexSource(caller chain.Caller, token common.Address, logger *zap.Logger) *IndexSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IndexSource{caller: caller, token: token, logger: logger}
}

// Index implements pool.YieldIndex.
func (s *IndexSource) Index(ctx context.Context) (*uint256.Int, error) {
	if s.caller == nil {
		return nil, fmt.Errorf("chain client is nil")
	}
	parsed, err := yieldToken.get()
	if err != nil {
		return nil, fmt.Errorf("parse yield token abi: %w", err)
	}
	values, err := call(ctx, s.caller, s.token, parsed, "exchangeRate")
	if err != nil {
		return nil, err
	}
	rate, err := asUint256("exchangeRate", values[0])
	if err != nil {
		return nil, err
	}
	if rate.IsZero() {
		return nil, fmt.Errorf("exchangeRate of %s is zero", s.token.Hex())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last != nil && rate.Lt(s.last) {
		s.logger.Warn("exchange rate decreased",
			zap.String("token", s.token.Hex()),
			zap.String("rate", rate.Dec()),
			zap.String("last", s.last.Dec()),
		)
		return new(uint256.Int).Set(s.last), nil
	}
	s.last = new(uint256.Int).Set(rate)
	return rate, nil
}
