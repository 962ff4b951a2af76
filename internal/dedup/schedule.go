package dedup

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler runs periodic corpus-wide rescans on a cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	service *Service
	logger  *zap.Logger
}

// NewScheduler registers a rescan job with the given cron spec.
func NewScheduler(service *Service, spec string, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		cron:    cron.New(),
		service: service,
		logger:  logger,
	}
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return nil, fmt.Errorf("invalid rescan schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) run() {
	report, err := s.service.Rescan(context.Background())
	if err != nil {
		s.logger.Error("scheduled dedup rescan failed", zap.Error(err))
		return
	}
	s.logger.Info("scheduled dedup rescan finished",
		zap.String("method", string(report.Method)),
		zap.Int("candidates", report.Candidates),
		zap.Int("clusters", report.Clusters),
		zap.Int("changed", len(report.Changed)))
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for a running rescan to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
