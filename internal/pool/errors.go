package pool

import "errors"

var (
	// ErrInvariantViolation is returned when a post-adjustment state is off the curve.
	ErrInvariantViolation = errors.New("pool: trading function outside tolerance")
	ErrSlippageExceeded   = errors.New("pool: slippage exceeded")
	ErrAlreadyInitialized = errors.New("pool: already initialized")
	ErrNotInitialized     = errors.New("pool: not initialized")
	ErrMaturityReached    = errors.New("pool: maturity reached")
	// ErrReentrant is returned when a state-changing call starts while another is running.
	ErrReentrant           = errors.New("pool: reentrant call")
	ErrInsufficientBalance = errors.New("pool: insufficient balance")
	ErrNoSplitter          = errors.New("pool: no splitter configured")
)
