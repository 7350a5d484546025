package mark

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"claimCurve/internal/model"
	"claimCurve/internal/storage"
)

// Clock reports the timestamp a mark is taken at.
type Clock func(ctx context.Context) (uint64, error)

// SystemClock reads the local wall clock.
func SystemClock(context.Context) (uint64, error) {
	return uint64(time.Now().Unix()), nil
}

// Scheduler takes marks on a cron schedule and stores them.
type Scheduler struct {
	cron   *cron.Cron
	marker *Marker
	sink   storage.MarkSink
	clock  Clock
	logger *zap.Logger
	ctx    context.Context
}

// NewScheduler creates a Scheduler; specs take a leading seconds field.
func NewScheduler(ctx context.Context, marker *Marker, sink storage.MarkSink, clock Clock, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = SystemClock
	}
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		marker: marker,
		sink:   sink,
		clock:  clock,
		logger: logger,
		ctx:    ctx,
	}
}

// Register schedules a mark for every firing of spec.
func (s *Scheduler) Register(spec string) error {
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return fmt.Errorf("register mark task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("entries", len(s.cron.Entries())))
}

// Stop stops the scheduler and waits for a running mark to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// RunNow takes and stores one mark.
func (s *Scheduler) RunNow(ctx context.Context) (model.Mark, error) {
	now, err := s.clock(ctx)
	if err != nil {
		return model.Mark{}, fmt.Errorf("read clock: %w", err)
	}
	m, err := s.marker.Mark(ctx, now)
	if err != nil {
		return model.Mark{}, err
	}
	if s.sink != nil {
		if err := s.sink.PutMarks(ctx, []model.Mark{m}); err != nil {
			return model.Mark{}, fmt.Errorf("store mark: %w", err)
		}
	}
	return m, nil
}

func (s *Scheduler) tick() {
	m, err := s.RunNow(s.ctx)
	if err != nil {
		s.logger.Warn("mark failed", zap.Error(err))
		return
	}
	s.logger.Info("mark",
		zap.String("pool", m.PoolID),
		zap.Uint64("ts", m.Timestamp),
		zap.String("spot_price", m.SpotPrice),
		zap.String("implied_rate", m.ImpliedRate),
	)
}
