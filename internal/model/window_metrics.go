package model

import "time"

// WindowMetrics stores aggregated trading metrics for a pool window.
type WindowMetrics struct {
	PoolID         string
	WindowSizeSecs int64
	WindowStart    time.Time
	WindowEnd      time.Time
	TradeCount     uint64
	VolumeAsset    string
	VolumeClaim    string
	FeeLiquidity   string
	RateOpen       *string
	RateClose      *string
	RateHigh       *string
	RateLow        *string
	Liquidity      *string
	FeeRate        *string
	APR            *string
	FeeMethod      string
}
