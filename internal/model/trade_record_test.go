package model

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestTradeRecordJSONRoundTrip(t *testing.T) {
	original := TradeRecord{
		PoolID:         "5be1c0ffee",
		Step:           7,
		Op:             "claim-in",
		Account:        "0x00000000000000000000000000000000000a11ce",
		TokenIn:        "0x1000000000000000000000000000000000000002",
		TokenOut:       "0x1000000000000000000000000000000000000001",
		AmountIn:       "100000000000000000000",
		AmountOut:      "97310000000000000000",
		DeltaLiquidity: "-12345",
		Liquidity:      "1403356234862424800000",
		Strike:         "1094940000000000000",
		ImpliedRate:    "361000000000000000",
		ReserveAsset:   "902690000000000000000",
		ReserveClaim:   "403884460047334130000",
		Timestamp:      1897408000,
		IngestedAt:     "2030-02-15T00:00:00Z",
	}

	b, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded TradeRecord
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if !reflect.DeepEqual(original, decoded) {
		t.Fatalf("round-trip mismatch: %+v != %+v", original, decoded)
	}
}

func TestMarkJSONStringFields(t *testing.T) {
	mark := Mark{
		PoolID:      "5be1c0ffee",
		Timestamp:   1897408000,
		Tau:         "82191780821917808",
		SpotPrice:   "1029900000000000000",
		ImpliedRate: "-42",
		Residual:    "3",
	}

	data, err := json.Marshal(mark)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	for _, key := range []string{"tau", "spot_price", "implied_rate", "residual"} {
		if _, ok := decoded[key].(string); !ok {
			t.Fatalf("%s should be string", key)
		}
	}
	if _, ok := decoded["timestamp"].(float64); !ok {
		t.Fatalf("timestamp should be numeric")
	}
}

func TestTradeRecordIsSwap(t *testing.T) {
	cases := map[string]bool{
		"asset-in":        true,
		"claim-out":       true,
		"asset-for-yield": true,
		"allocate":        false,
		"deallocate":      false,
		"initialize":      false,
	}
	for op, want := range cases {
		if got := (TradeRecord{Op: op}).IsSwap(); got != want {
			t.Fatalf("IsSwap(%s) = %v, want %v", op, got, want)
		}
	}
}
