package scheduler

import (
	"context"
	"errors"
	"fmt"

	"leadhopper_backend/internal/hopper/domain"
	"leadhopper_backend/internal/hopper/service"
	"leadhopper_backend/platform/config"
	"leadhopper_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// ReclaimRunner runs one reclaim pass.
type ReclaimRunner interface {
	ReclaimDue(ctx context.Context) (service.ReclaimResult, error)
}

// Replenisher refills an agent's hopper.
type Replenisher interface {
	FillToCapacity(ctx context.Context, agentID uuid.UUID) (service.AllocationResult, error)
}

type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	reclaimer ReclaimRunner
	filler    Replenisher
	log       *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, reclaimer ReclaimRunner, filler Replenisher, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueName(cfg): 1,
		},
	})

	w := newWorker(reclaimer, filler, log)
	w.server = server
	return w, nil
}

func newWorker(reclaimer ReclaimRunner, filler Replenisher, log *logger.Logger) *Worker {
	mux := asynq.NewServeMux()
	w := &Worker{
		mux:       mux,
		reclaimer: reclaimer,
		filler:    filler,
		log:       log,
	}

	mux.HandleFunc(TaskReclaimDue, w.handleReclaimDue)
	mux.HandleFunc(TaskReplenish, w.handleReplenish)
	return w
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) handleReclaimDue(ctx context.Context, _ *asynq.Task) error {
	result, err := w.reclaimer.ReclaimDue(ctx)
	if err != nil {
		return err
	}
	w.log.Info("scheduled reclaim finished", "reclaimed", len(result.Reclaimed), "skipped", result.Skipped)
	return nil
}

// handleReplenish retries a refill that failed inline. An agent that no longer
// exists or was deactivated needs no refill, so the task is not retried.
func (w *Worker) handleReplenish(ctx context.Context, task *asynq.Task) error {
	agentID, err := ParseReplenishPayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	result, err := w.filler.FillToCapacity(ctx, agentID)
	if errors.Is(err, domain.ErrAgentNotFound) {
		w.log.Info("replenish skipped for unknown agent", "agent_id", agentID.String())
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	if err != nil {
		return err
	}
	w.log.Info("async replenish finished", "agent_id", agentID.String(), "assigned", result.Assigned())
	return nil
}
