package model

import (
	"encoding/json"
)

// TradeRecord is one committed pool operation as journaled to storage.
// Amounts are raw integer strings: native units for AmountIn/AmountOut, WAD otherwise.
// Liquidity operations carry the asset leg in AmountIn and the claim leg in
// AmountOut; the sign of DeltaLiquidity tells deposits from withdrawals.
type TradeRecord struct {
	PoolID         string `json:"pool_id"`
	Step           uint64 `json:"step"`
	Op             string `json:"op"`
	Account        string `json:"account"`
	TokenIn        string `json:"token_in,omitempty"`
	TokenOut       string `json:"token_out,omitempty"`
	AmountIn       string `json:"amount_in"`
	AmountOut      string `json:"amount_out"`
	DeltaLiquidity string `json:"delta_liquidity"`
	Liquidity      string `json:"liquidity"`
	Strike         string `json:"strike"`
	ImpliedRate    string `json:"implied_rate"`
	ReserveAsset   string `json:"reserve_asset"`
	ReserveClaim   string `json:"reserve_claim"`
	Timestamp      uint64 `json:"timestamp"`
	IngestedAt     string `json:"ingested_at"`
}

// MarshalJSON ensures TradeRecord is encoded with stable field names.
func (tr TradeRecord) MarshalJSON() ([]byte, error) {
	type Alias TradeRecord
	return json.Marshal(Alias(tr))
}

// UnmarshalJSON decodes a TradeRecord from JSON.
func (tr *TradeRecord) UnmarshalJSON(data []byte) error {
	type Alias TradeRecord
	var a Alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*tr = TradeRecord(a)
	return nil
}

// IsSwap reports whether the record moved the price through a swap.
func (tr TradeRecord) IsSwap() bool {
	switch tr.Op {
	case "asset-in", "claim-in", "asset-out", "claim-out", "asset-for-yield":
		return true
	}
	return false
}
