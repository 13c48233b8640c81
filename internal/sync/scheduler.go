package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var (
	errMissingCoordinator = errors.New("sync coordinator is required")
	errInvalidInterval    = errors.New("sync interval must be positive")
)

// SchedulerConfig describes the periodic auto-sync job.
type SchedulerConfig struct {
	Coordinator *Coordinator
	Interval    time.Duration
	Logger      *zap.Logger
}

// Scheduler drains the coordinator's retry queue on a fixed interval while
// auto-sync is enabled.
type Scheduler struct {
	cron        *cron.Cron
	coordinator *Coordinator
	logger      *zap.Logger
}

// NewScheduler constructs the auto-sync scheduler without starting it.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Coordinator == nil {
		return nil, errMissingCoordinator
	}
	if cfg.Interval <= 0 {
		return nil, errInvalidInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	scheduler := &Scheduler{
		cron:        cron.New(),
		coordinator: cfg.Coordinator,
		logger:      logger,
	}
	spec := fmt.Sprintf("@every %s", cfg.Interval)
	if _, err := scheduler.cron.AddFunc(spec, scheduler.runOnce); err != nil {
		return nil, err
	}
	return scheduler, nil
}

// Start begins the periodic drain in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and returns a context that is done once any running
// job has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) runOnce() {
	if s.coordinator.QueueLength() == 0 {
		return
	}
	result := s.coordinator.SyncToServer(context.Background())
	if !result.Success {
		s.logger.Warn("scheduled sync skipped", zap.String("reason", result.Error))
		return
	}
	s.logger.Info("scheduled sync completed",
		zap.Int("enrollments", result.Synced.Enrollments),
		zap.Int("lessons", result.Synced.Lessons),
		zap.Int("pending", s.coordinator.QueueLength()))
}
