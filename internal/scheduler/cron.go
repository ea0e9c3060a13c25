package scheduler

import (
	"context"
	"time"

	"leadhopper_backend/platform/config"
	"leadhopper_backend/platform/logger"

	"github.com/robfig/cron/v3"
)

const cronRunTimeout = 30 * time.Minute

// CronReclaimer runs the reclaim pass in-process when no redis is configured.
// Overlapping runs are skipped.
type CronReclaimer struct {
	cron      *cron.Cron
	reclaimer ReclaimRunner
	spec      string
	log       *logger.Logger
}

func NewCronReclaimer(cfg config.SchedulerConfig, reclaimer ReclaimRunner, log *logger.Logger) (*CronReclaimer, error) {
	spec, err := ReclaimSpec(cfg)
	if err != nil {
		return nil, err
	}

	cl := cronLogger{log: log}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	r := &CronReclaimer{cron: c, reclaimer: reclaimer, spec: spec, log: log}
	if _, err := c.AddFunc(spec, r.runOnce); err != nil {
		return nil, err
	}
	return r, nil
}

// Run starts the cron loop and blocks until ctx is cancelled and the
// in-flight run, if any, has finished.
func (r *CronReclaimer) Run(ctx context.Context) {
	r.log.Info("reclaim schedule registered", "spec", r.spec, "backend", "cron")
	r.cron.Start()
	<-ctx.Done()
	<-r.cron.Stop().Done()
}

func (r *CronReclaimer) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), cronRunTimeout)
	defer cancel()

	result, err := r.reclaimer.ReclaimDue(ctx)
	if err != nil {
		r.log.Warn("scheduled reclaim failed", "error", err)
		return
	}
	r.log.Info("scheduled reclaim finished", "reclaimed", len(result.Reclaimed), "skipped", result.Skipped)
}

// cronLogger adapts the structured logger to cron.Logger.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
