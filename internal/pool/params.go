package pool

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/zeebo/blake3"

	"claimCurve/internal/fixedpoint"
)

// Params are fixed when the pool is created.
type Params struct {
	Sigma         *uint256.Int
	Fee           *uint256.Int
	Maturity      uint64
	AssetDecimals uint8
	ClaimDecimals uint8

	// Token identities used for settlement.
	Asset common.Address
	Claim common.Address
	Yield common.Address
}

// Validate checks the immutable parameters.
func (p Params) Validate() error {
	if p.Sigma == nil || p.Sigma.IsZero() {
		return fmt.Errorf("sigma must be positive: %w", fixedpoint.ErrDomain)
	}
	if p.Fee == nil || p.Fee.Cmp(fixedpoint.One()) >= 0 {
		return fmt.Errorf("fee must be below 1: %w", fixedpoint.ErrDomain)
	}
	if p.Maturity == 0 {
		return fmt.Errorf("maturity is required: %w", fixedpoint.ErrDomain)
	}
	if p.AssetDecimals > fixedpoint.Decimals || p.ClaimDecimals > fixedpoint.Decimals {
		return fmt.Errorf("token decimals above %d: %w", fixedpoint.Decimals, fixedpoint.ErrDomain)
	}
	return nil
}

func (p Params) digest() [32]byte {
	h := blake3.New()
	sigma, fee := p.Sigma.Bytes32(), p.Fee.Bytes32()
	h.Write(sigma[:])
	h.Write(fee[:])
	var buf [10]byte
	binary.BigEndian.PutUint64(buf[:8], p.Maturity)
	buf[8], buf[9] = p.AssetDecimals, p.ClaimDecimals
	h.Write(buf[:])
	h.Write(p.Asset.Bytes())
	h.Write(p.Claim.Bytes())
	h.Write(p.Yield.Bytes())
	var id [32]byte
	h.Digest().Read(id[:])
	return id
}

// ID returns a stable hex identifier derived from the parameters.
func (p Params) ID() string {
	d := p.digest()
	return hex.EncodeToString(d[:])
}

// Account is the pool's own settlement address. It also names the share token.
func (p Params) Account() common.Address {
	d := p.digest()
	return common.BytesToAddress(d[12:])
}
