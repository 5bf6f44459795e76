package jobs

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/fuomag9/vscode-farm/internal/container"
)

// Scheduler manages background jobs
type Scheduler struct {
	cron     *cron.Cron
	reporter *InventoryReporter
	schedule string
	logger   zerolog.Logger
}

// NewScheduler creates a new job scheduler. An empty schedule disables the
// inventory job.
func NewScheduler(inventory container.Inventory, schedule string, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		reporter: NewInventoryReporter(inventory, logger),
		schedule: schedule,
		logger:   logger,
	}
}

// Start registers the jobs and starts the scheduler
func (s *Scheduler) Start() error {
	if s.schedule != "" {
		if _, err := s.cron.AddFunc(s.schedule, func() {
			s.logger.Debug().Msg("Running container inventory job...")
			s.reporter.Run(context.Background())
		}); err != nil {
			return fmt.Errorf("invalid inventory schedule %q: %w", s.schedule, err)
		}
	}

	s.cron.Start()
	s.logger.Info().Str("inventory_schedule", s.schedule).Msg("Job scheduler started")
	return nil
}

// Stop stops the scheduler and waits for a running job to finish
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("Job scheduler stopped")
}
