package storage

import (
	"context"

	"claimCurve/internal/model"
)

// Storage defines a sink for journaled pool operations.
type Storage interface {
	PutTradeBatch(trades []model.TradeRecord) error
	PutStepErrors(errs []model.StepError) error
}

// MarkSink receives periodic curve marks.
type MarkSink interface {
	PutMarks(ctx context.Context, marks []model.Mark) error
}

// Multi fans every batch out to each sink in order, stopping at the first error.
func Multi(sinks ...Storage) Storage {
	return multi(sinks)
}

type multi []Storage

func (m multi) PutTradeBatch(trades []model.TradeRecord) error {
	for _, s := range m {
		if err := s.PutTradeBatch(trades); err != nil {
			return err
		}
	}
	return nil
}

func (m multi) PutStepErrors(errs []model.StepError) error {
	for _, s := range m {
		if err := s.PutStepErrors(errs); err != nil {
			return err
		}
	}
	return nil
}
