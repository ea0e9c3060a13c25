package scheduler

import (
	"context"
	"fmt"
	"time"

	"leadhopper_backend/platform/config"
	"leadhopper_backend/platform/logger"

	"github.com/hibiken/asynq"
)

// reclaimUnique keeps overlapping scheduler replicas from queueing the same
// reclaim twice.
const reclaimUnique = 5 * time.Minute

// PeriodicScheduler enqueues hopper.reclaim_due on the configured schedule.
type PeriodicScheduler struct {
	scheduler *asynq.Scheduler
	spec      string
	log       *logger.Logger
}

func NewPeriodicScheduler(cfg config.SchedulerConfig, log *logger.Logger) (*PeriodicScheduler, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	spec, err := ReclaimSpec(cfg)
	if err != nil {
		return nil, err
	}

	scheduler := asynq.NewScheduler(opt, &asynq.SchedulerOpts{Location: time.UTC})
	if _, err := scheduler.Register(spec, NewReclaimDueTask(),
		asynq.Queue(queueName(cfg)),
		asynq.Unique(reclaimUnique),
	); err != nil {
		return nil, fmt.Errorf("register reclaim schedule %q: %w", spec, err)
	}

	return &PeriodicScheduler{scheduler: scheduler, spec: spec, log: log}, nil
}

// Run starts the scheduler and blocks until ctx is cancelled.
func (p *PeriodicScheduler) Run(ctx context.Context) error {
	if err := p.scheduler.Start(); err != nil {
		return err
	}
	p.log.Info("reclaim schedule registered", "spec", p.spec, "backend", "asynq")
	<-ctx.Done()
	p.scheduler.Shutdown()
	return nil
}
