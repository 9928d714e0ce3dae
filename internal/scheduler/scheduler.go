package scheduler

import (
	"context"
	"errors"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	syncengine "fuelgrid/internal/sync"
)

// Runner triggers sync runs.
type Runner interface {
	Sync(ctx context.Context, opts syncengine.Options) (*syncengine.Result, error)
}

// Scheduler drives periodic background sync runs from a cron expression.
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	logger *zap.Logger
}

// New builds a scheduler; schedule is a standard cron expression. An empty
// schedule disables background runs.
func New(schedule string, runner Runner, logger *zap.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:   cron.New(),
		runner: runner,
		logger: logger,
	}
	if schedule == "" {
		return s, nil
	}

	_, err := s.cron.AddFunc(schedule, s.run)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) run() {
	result, err := s.runner.Sync(context.Background(), syncengine.Options{})
	if err != nil {
		if errors.Is(err, syncengine.ErrSyncAlreadyRunning) {
			s.logger.Info("scheduled sync skipped, run already in progress")
			return
		}
		s.logger.Error("scheduled sync failed", zap.Error(err))
		return
	}
	s.logger.Info("scheduled sync finished",
		zap.Int("synced", result.RecordsSynced),
		zap.Int("skipped", result.RecordsSkipped),
		zap.Int("errors", len(result.Errors)),
	)
}

// Start begins the cron loop.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the cron loop and waits for a running job to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
