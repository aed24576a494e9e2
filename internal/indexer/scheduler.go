package indexer

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler runs periodic incremental passes on a cron spec. This
// replaces driving the daemon from an external crontab: staleness stays
// bounded even when the filesystem watcher is disabled or misses
// events.
type Scheduler struct {
	orch   *Orchestrator
	spec   string
	logger *zap.Logger
	cron   *cron.Cron
}

// NewScheduler builds a scheduler. spec accepts standard cron
// expressions and descriptors like "@every 15m".
func NewScheduler(orch *Orchestrator, spec string, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		orch:   orch,
		spec:   spec,
		logger: logger.Named("scheduler"),
		cron:   cron.New(),
	}
}

// Start registers the job and starts the cron loop. Passes run with
// ctx so shutdown cancels an in-flight pass.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		s.logger.Debug("scheduled pass starting")
		if _, err := s.orch.Run(ctx, Options{Mode: ModeIncremental}); err != nil {
			s.logger.Warn("scheduled pass failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop stops scheduling and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
