package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"CatalogHarvester/internal/domain"
	"CatalogHarvester/internal/harvester"
	"CatalogHarvester/internal/ports"
)

// SourceRunner runs one harvest source end to end.
type SourceRunner interface {
	Run(ctx context.Context, src harvester.Source) domain.RunReport
}

// DriverFactory returns the driver for a harvest frequency, or false when
// the source only runs on demand.
type DriverFactory func(frequency string) (ports.Scheduler, bool, error)

// Scheduler gives every scheduled source its own driver, so sources run
// concurrently and each one sequentially.
type Scheduler struct {
	runner    SourceRunner
	newDriver DriverFactory
	logger    *slog.Logger

	drivers []ports.Scheduler
}

// NewScheduler returns a helper to start/stop recurring runs.
func NewScheduler(runner SourceRunner, newDriver DriverFactory, logger *slog.Logger) *Scheduler {
	return &Scheduler{runner: runner, newDriver: newDriver, logger: logger}
}

// Start registers every source with a recurring frequency. Nothing is
// started when one of the frequencies is invalid, and nothing keeps running
// when a driver fails to start.
func (s *Scheduler) Start(ctx context.Context, sources []harvester.Source) error {
	if s.runner == nil || s.newDriver == nil {
		return nil
	}

	type plan struct {
		src    harvester.Source
		driver ports.Scheduler
	}
	var plans []plan
	for _, src := range sources {
		driver, scheduled, err := s.newDriver(src.Frequency)
		if err != nil {
			return &domain.ConfigError{Field: "frequency", Message: fmt.Sprintf("source %s: %v", src.Name, err)}
		}
		if !scheduled {
			s.info("source runs on demand only", "source", src.Name)
			continue
		}
		plans = append(plans, plan{src: src, driver: driver})
	}

	for _, pl := range plans {
		src := pl.src
		job := func(trigger time.Time) {
			s.info("scheduled run", "source", src.Name, "trigger", trigger)
			s.runner.Run(ctx, src)
		}
		if err := pl.driver.Start(ctx, job); err != nil {
			err = fmt.Errorf("schedule %s: %w", src.Name, err)
			return errors.Join(err, s.Stop(ctx))
		}
		s.drivers = append(s.drivers, pl.driver)
		s.info("source scheduled", "source", src.Name, "frequency", src.Frequency)
	}
	return nil
}

// Stop gracefully tears down every driver.
func (s *Scheduler) Stop(ctx context.Context) error {
	var errs []error
	for _, d := range s.drivers {
		if err := d.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.drivers = nil
	return errors.Join(errs...)
}

func (s *Scheduler) info(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}
