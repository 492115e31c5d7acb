package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"cityv-crowd/internal/aggregator"
	"cityv-crowd/internal/config"

	"go.uber.org/zap"
)

// DailyRoller implemented by aggregator.Aggregator
type DailyRoller interface {
	RollupAll(ctx context.Context, date string) (aggregator.RollupReport, error)
}

// Archiver rolls up the previous local day for every business once a day
type Archiver struct {
	roller DailyRoller
	loc    *time.Location
	hour   int
	minute int
	now    func() time.Time
	logger *zap.Logger
}

// NewArchiver runs at hour:minute local time
func NewArchiver(roller DailyRoller, loc *time.Location, hour, minute int, logger *zap.Logger) *Archiver {
	if loc == nil {
		loc = time.UTC
	}
	return &Archiver{
		roller: roller,
		loc:    loc,
		hour:   hour,
		minute: minute,
		now:    time.Now,
		logger: logger,
	}
}

// WithClock replaces the clock used to plan runs
func (a *Archiver) WithClock(now func() time.Time) *Archiver {
	a.now = now
	return a
}

// NextRun first hour:minute in loc strictly after now
func NextRun(now time.Time, loc *time.Location, hour, minute int) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return next
}

// PreviousDate the local calendar day before t
func PreviousDate(t time.Time, loc *time.Location) string {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day()-1, 12, 0, 0, 0, loc).Format(aggregator.DateLayout)
}

// RunOnce rolls up date for every business
func (a *Archiver) RunOnce(ctx context.Context, date string) (aggregator.RollupReport, error) {
	a.logger.Info("Running daily rollup", zap.String("summary_date", date))
	report, err := a.roller.RollupAll(ctx, date)
	if err != nil {
		return report, fmt.Errorf("failed to roll up %s: %w", date, err)
	}
	return report, nil
}

// Run rolls up the previous day at every scheduled time until ctx is done
func (a *Archiver) Run(ctx context.Context) error {
	for {
		now := a.now()
		next := NextRun(now, a.loc, a.hour, a.minute)
		wait := next.Sub(now)
		a.logger.Info("Next daily rollup scheduled",
			zap.Time("next_run", next),
			zap.Duration("wait_duration", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		if _, err := a.RunOnce(ctx, PreviousDate(a.now(), a.loc)); err != nil {
			a.logger.Error("Scheduled rollup failed", zap.Error(err))
		}
	}
}

// ArchiverService scheduled daily rollup process
type ArchiverService struct {
	config   *config.Config
	logger   *zap.Logger
	db       *sql.DB
	archiver *Archiver
}

// NewArchiverService connects to Postgres; the archiver needs no Redis
func NewArchiverService(cfg *config.Config, logger *zap.Logger) (*ArchiverService, error) {
	db, err := openPostgres(cfg)
	if err != nil {
		return nil, err
	}
	c := newCore(cfg, db, nil, logger)
	return &ArchiverService{
		config:   cfg,
		logger:   logger,
		db:       db,
		archiver: NewArchiver(c.aggregator, cfg.Aggregator.Location, cfg.Aggregator.RollupHour, cfg.Aggregator.RollupMinute, logger),
	}, nil
}

// Start runs the schedule until ctx is done
func (s *ArchiverService) Start(ctx context.Context) error {
	s.logger.Info("Starting archiver service",
		zap.String("timezone", s.config.Aggregator.Timezone),
		zap.Int("rollup_hour", s.config.Aggregator.RollupHour),
		zap.Int("rollup_minute", s.config.Aggregator.RollupMinute),
	)
	return s.archiver.Run(ctx)
}

// RunDate one-shot rollup of date for every business
func (s *ArchiverService) RunDate(ctx context.Context, date string) (aggregator.RollupReport, error) {
	return s.archiver.RunOnce(ctx, date)
}

// Stop closes the database
func (s *ArchiverService) Stop(ctx context.Context) error {
	closeAll(s.logger, s.db, nil)
	s.logger.Info("Archiver service stopped")
	return nil
}
