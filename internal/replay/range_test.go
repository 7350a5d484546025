package replay

import (
	"reflect"
	"strings"
	"testing"
)

func TestSplitRange(t *testing.T) {
	got, err := SplitRange(1, 7, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []StepRange{
		{From: 1, To: 3},
		{From: 4, To: 6},
		{From: 7, To: 7},
	}

	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ranges mismatch: %+v != %+v", got, want)
	}
}

func TestSplitRangeSingle(t *testing.T) {
	got, err := SplitRange(5, 5, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []StepRange{{From: 5, To: 5}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ranges mismatch: %+v != %+v", got, want)
	}
}

func TestSplitRangeExactBatches(t *testing.T) {
	got, err := SplitRange(3, 8, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []StepRange{{From: 3, To: 4}, {From: 5, To: 6}, {From: 7, To: 8}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ranges mismatch: %+v != %+v", got, want)
	}
	if got[0].Len() != 2 || got[2].String() != "steps 7..8" {
		t.Fatalf("range helpers: len %d name %s", got[0].Len(), got[2])
	}
}

func TestSplitRangeInvalid(t *testing.T) {
	cases := map[string][3]uint64{
		"empty step range 10..9":    {10, 9, 1},
		"must be greater than zero": {1, 10, 0},
		"numbered from 1":           {0, 10, 5},
	}
	for want, args := range cases {
		_, err := SplitRange(args[0], args[1], args[2])
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("SplitRange%v: expected %q, got %v", args, want, err)
		}
	}
}
