package replay

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"claimCurve/internal/model"
	"claimCurve/internal/pool"
)

// trade describes what a step moved, before the post-state is attached.
type trade struct {
	op             string
	account        common.Address
	tokenIn        common.Address
	tokenOut       common.Address
	amountIn       *uint256.Int
	amountOut      *uint256.Int
	deltaLiquidity *big.Int
}

func decString(x *uint256.Int) string {
	if x == nil {
		return "0"
	}
	return x.Dec()
}

func buildTradeRecord(step uint64, tr trade, st pool.State, timestamp uint64, ingestedAt time.Time) model.TradeRecord {
	delta := "0"
	if tr.deltaLiquidity != nil {
		delta = tr.deltaLiquidity.String()
	}
	rate := "0"
	if st.LastImpliedRate != nil {
		rate = st.LastImpliedRate.String()
	}

	return model.TradeRecord{
		PoolID:         st.Params.ID(),
		Step:           step,
		Op:             tr.op,
		Account:        tr.account.Hex(),
		TokenIn:        tr.tokenIn.Hex(),
		TokenOut:       tr.tokenOut.Hex(),
		AmountIn:       decString(tr.amountIn),
		AmountOut:      decString(tr.amountOut),
		DeltaLiquidity: delta,
		Liquidity:      decString(st.TotalLiquidity),
		Strike:         decString(st.Strike),
		ImpliedRate:    rate,
		ReserveAsset:   decString(st.ReserveAsset),
		ReserveClaim:   decString(st.ReserveClaim),
		Timestamp:      timestamp,
		IngestedAt:     ingestedAt.UTC().Format(time.RFC3339Nano),
	}
}

func buildStepError(poolID string, step uint64, s Step, timestamp uint64, err error) model.StepError {
	return model.StepError{
		PoolID:    poolID,
		Step:      step,
		Op:        s.Op,
		Account:   s.Account,
		Amount:    s.Amount,
		Timestamp: timestamp,
		Error:     err.Error(),
	}
}
