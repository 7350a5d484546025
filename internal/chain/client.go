package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// Caller is the subset of the client the token readers need.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Client wraps go-ethereum RPC and retries transient failures.
type Client struct {
	rpcClient *rpc.Client
	ethClient *ethclient.Client
	logger    *zap.Logger

	maxRetries int
	backoff    time.Duration

	mu      sync.RWMutex
	tsCache map[uint64]uint64
}

// Option configures a Client.
type Option func(*Client)

// WithRetry sets the retry budget for RPC calls.
func WithRetry(maxRetries int, backoff time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.backoff = backoff
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a new chain client from the RPC URL.
func NewClient(ctx context.Context, rpcURL string, opts ...Option) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}

	c := &Client{
		rpcClient:  rpcClient,
		ethClient:  ethclient.NewClient(rpcClient),
		logger:     zap.NewNop(),
		maxRetries: 3,
		backoff:    500 * time.Millisecond,
		tsCache:    make(map[uint64]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// GetChainID returns the chain ID.
func (c *Client) GetChainID(ctx context.Context) (*big.Int, error) {
	var id *big.Int
	err := c.retry(ctx, "chain id", func(ctx context.Context) error {
		var err error
		id, err = c.ethClient.ChainID(ctx)
		return err
	})
	return id, err
}

// LatestBlockTime returns the timestamp of the latest header. It is the
// engine's notion of "now" when quoting against a live deployment.
func (c *Client) LatestBlockTime(ctx context.Context) (uint64, error) {
	var header *types.Header
	err := c.retry(ctx, "latest header", func(ctx context.Context) error {
		var err error
		header, err = c.ethClient.HeaderByNumber(ctx, nil)
		return err
	})
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.tsCache[header.Number.Uint64()] = header.Time
	c.mu.Unlock()
	return header.Time, nil
}

// BlockTimestamp returns the block timestamp, using an in-memory cache.
func (c *Client) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	c.mu.RLock()
	ts, ok := c.tsCache[number]
	c.mu.RUnlock()
	if ok {
		return ts, nil
	}

	var header *types.Header
	err := c.retry(ctx, "header", func(ctx context.Context) error {
		var err error
		header, err = c.ethClient.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
		if errors.Is(err, ethereum.NotFound) {
			return Permanent(err)
		}
		return err
	})
	if err != nil {
		return 0, err
	}

	ts = header.Time
	c.mu.Lock()
	c.tsCache[number] = ts
	c.mu.Unlock()

	return ts, nil
}

// CallContract performs an eth_call for a contract method.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	var out []byte
	err := c.retry(ctx, "eth_call", func(ctx context.Context) error {
		var err error
		out, err = c.ethClient.CallContract(ctx, msg, blockNumber)
		return err
	})
	return out, err
}

func (c *Client) retry(ctx context.Context, what string, fn func(context.Context) error) error {
	return Retry(ctx, c.maxRetries, c.backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil {
			c.logger.Warn("rpc call failed", zap.String("call", what), zap.Error(err))
		}
		return err
	})
}
