package model

// Pool is the immutable description of a curve pool for storage.
type Pool struct {
	ID            string    `json:"id"`
	Account       string    `json:"account"`
	Asset         TokenMeta `json:"asset"`
	Claim         TokenMeta `json:"claim"`
	Yield         TokenMeta `json:"yield"`
	Sigma         string    `json:"sigma"`
	Fee           string    `json:"fee"`
	Maturity      uint64    `json:"maturity"`
	InitialStrike string    `json:"initial_strike,omitempty"`
	CreatedAt     uint64    `json:"created_at"`
}

// TokenMeta captures ERC20 metadata.
type TokenMeta struct {
	Address  string `json:"address"`
	Decimals uint8  `json:"decimals"`
	Symbol   string `json:"symbol,omitempty"`
	Name     string `json:"name,omitempty"`
}

// Mark is a point-in-time reading of a pool's curve. Values are human decimals.
type Mark struct {
	PoolID       string `json:"pool_id"`
	Timestamp    uint64 `json:"timestamp"`
	Tau          string `json:"tau"`
	Index        string `json:"index,omitempty"`
	ReserveAsset string `json:"reserve_asset,omitempty"`
	ReserveClaim string `json:"reserve_claim,omitempty"`
	Liquidity    string `json:"liquidity,omitempty"`
	Strike       string `json:"strike,omitempty"`
	SpotPrice    string `json:"spot_price"`
	ImpliedRate  string `json:"implied_rate"`
	Residual     string `json:"residual"`
}
