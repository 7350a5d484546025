package token

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"claimCurve/internal/chain"
	"claimCurve/internal/model"
)

// MetaCache caches token metadata by address.
type MetaCache struct {
	mu   sync.RWMutex
	data map[common.Address]model.TokenMeta
}

func NewMetaCache() *MetaCache {
	return &MetaCache{data: make(map[common.Address]model.TokenMeta)}
}

func (c *MetaCache) Get(address common.Address) (model.TokenMeta, bool) {
	c.mu.RLock()
	meta, ok := c.data[address]
	c.mu.RUnlock()
	return meta, ok
}

func (c *MetaCache) Set(address common.Address, meta model.TokenMeta) {
	c.mu.Lock()
	c.data[address] = meta
	c.mu.Unlock()
}

// Lookup returns cached metadata or fetches and caches it.
func (c *MetaCache) Lookup(ctx context.Context, caller chain.Caller, token common.Address, logger *zap.Logger) (model.TokenMeta, error) {
	if meta, ok := c.Get(token); ok {
		return meta, nil
	}
	meta, err := FetchMeta(ctx, caller, token, logger)
	if err != nil {
		return meta, err
	}
	c.Set(token, meta)
	return meta, nil
}

func call(ctx context.Context, caller chain.Caller, to common.Address, parsed abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &to, Data: data}
	resp, err := caller.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s returned nothing", method)
	}
	return values, nil
}

// FetchMeta loads token metadata via ERC20 calls. Only decimals is required;
// symbol and name fall back to bytes32 encodings and are left empty on failure.
func FetchMeta(ctx context.Context, caller chain.Caller, token common.Address, logger *zap.Logger) (model.TokenMeta, error) {
	meta := model.TokenMeta{Address: token.Hex()}
	if caller == nil {
		return meta, fmt.Errorf("chain client is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	stringABI, err := erc20String.get()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 string abi: %w", err)
	}
	bytes32ABI, err := erc20Bytes32.get()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 bytes32 abi: %w", err)
	}

	values, err := call(ctx, caller, token, stringABI, "decimals")
	if err != nil {
		return meta, err
	}
	decimals, ok := values[0].(uint8)
	if !ok {
		return meta, fmt.Errorf("decimals: unsupported type %T", values[0])
	}
	meta.Decimals = decimals

	text := func(method string) string {
		if values, err := call(ctx, caller, token, stringABI, method); err == nil {
			if s, ok := values[0].(string); ok {
				return s
			}
		}
		values, err := call(ctx, caller, token, bytes32ABI, method)
		if err != nil {
			logger.Debug("token text call failed", zap.String("token", token.Hex()), zap.String("method", method), zap.Error(err))
			return ""
		}
		s, _ := bytes32ToString(values[0])
		return s
	}
	meta.Symbol = text("symbol")
	meta.Name = text("name")

	return meta, nil
}

// BalanceOf reads an ERC20 balance in native units.
func BalanceOf(ctx context.Context, caller chain.Caller, token, owner common.Address) (*uint256.Int, error) {
	parsed, err := erc20String.get()
	if err != nil {
		return nil, err
	}
	values, err := call(ctx, caller, token, parsed, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return asUint256("balanceOf", values[0])
}

func bytes32ToString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case [32]byte:
		return string(bytes.TrimRight(v[:], "\x00")), true
	case []byte:
		return string(bytes.TrimRight(v, "\x00")), true
	default:
		return "", false
	}
}

func asUint256(method string, value interface{}) (*uint256.Int, error) {
	b, ok := value.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected type %T", method, value)
	}
	v, overflow := uint256.FromBig(b)
	if overflow || b.Sign() < 0 {
		return nil, fmt.Errorf("%s: %s out of uint256 range", method, b)
	}
	return v, nil
}
