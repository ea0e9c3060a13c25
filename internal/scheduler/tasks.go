package scheduler

import (
	"encoding/json"
	"fmt"
	"time"

	"leadhopper_backend/platform/config"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const TaskReclaimDue = "hopper.reclaim_due"

const TaskReplenish = "hopper.replenish"

type ReplenishPayload struct {
	AgentID string `json:"agentId"`
}

func NewReclaimDueTask() *asynq.Task {
	return asynq.NewTask(TaskReclaimDue, nil)
}

func NewReplenishTask(agentID uuid.UUID) (*asynq.Task, error) {
	data, err := json.Marshal(ReplenishPayload{AgentID: agentID.String()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReplenish, data), nil
}

func ParseReplenishPayload(task *asynq.Task) (uuid.UUID, error) {
	var payload ReplenishPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(payload.AgentID)
}

// ReclaimSpec returns the schedule of the reclaim task: RECLAIM_CRON when set,
// otherwise an @every spec built from RECLAIM_INTERVAL. Both asynq and
// robfig/cron accept the result.
func ReclaimSpec(cfg config.SchedulerConfig) (string, error) {
	if spec := cfg.GetReclaimCron(); spec != "" {
		return spec, nil
	}
	interval := cfg.GetReclaimInterval()
	if interval < time.Second {
		return "", fmt.Errorf("reclaim interval %s is too short", interval)
	}
	return "@every " + interval.String(), nil
}
