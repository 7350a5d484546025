package storage

import (
	"errors"
	"testing"

	"claimCurve/internal/model"
)

type countingSink struct {
	trades int
	errs   int
	fail   error
}

func (c *countingSink) PutTradeBatch(trades []model.TradeRecord) error {
	if c.fail != nil {
		return c.fail
	}
	c.trades += len(trades)
	return nil
}

func (c *countingSink) PutStepErrors(errs []model.StepError) error {
	if c.fail != nil {
		return c.fail
	}
	c.errs += len(errs)
	return nil
}

func TestMultiFansOut(t *testing.T) {
	a, b := &countingSink{}, &countingSink{}
	s := Multi(a, b)
	if err := s.PutTradeBatch(make([]model.TradeRecord, 3)); err != nil {
		t.Fatalf("put trades: %v", err)
	}
	if err := s.PutStepErrors(make([]model.StepError, 1)); err != nil {
		t.Fatalf("put errors: %v", err)
	}
	if a.trades != 3 || b.trades != 3 || a.errs != 1 || b.errs != 1 {
		t.Fatalf("unexpected counts a=%+v b=%+v", a, b)
	}

	boom := errors.New("boom")
	c := &countingSink{}
	if err := Multi(&countingSink{fail: boom}, c).PutTradeBatch(make([]model.TradeRecord, 2)); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if c.trades != 0 {
		t.Fatalf("sinks after a failure should not be called")
	}
}
