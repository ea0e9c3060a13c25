package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"leadhopper_backend/internal/events"
	"leadhopper_backend/internal/hopper/domain"
	"leadhopper_backend/internal/hopper/repository"
	"leadhopper_backend/platform/logger"
	"leadhopper_backend/platform/metrics"

	"github.com/google/uuid"
)

// AllocationResult reports exactly which leads one allocation assigned.
// Granted is the request after clamping to free capacity. PoolExhausted means
// the pool ran dry before Granted was reached; it is a result, not an error.
type AllocationResult struct {
	AgentID       uuid.UUID
	Requested     int
	Granted       int
	Leads         []domain.Lead
	PoolExhausted bool
}

// Assigned returns how many leads were assigned.
func (r AllocationResult) Assigned() int { return len(r.Leads) }

// Allocator assigns pool leads to agents.
type Allocator struct {
	store   repository.LeadAllocator
	bus     events.Bus
	log     *logger.Logger
	metrics *metrics.Metrics
	opts    Options
	retry   retrier
	now     Clock
}

// NewAllocator creates an Allocator.
func NewAllocator(store repository.LeadAllocator, bus events.Bus, log *logger.Logger, m *metrics.Metrics, opts Options) *Allocator {
	return &Allocator{
		store:   store,
		bus:     bus,
		log:     log,
		metrics: m,
		opts:    opts,
		retry:   newRetrier(opts, m),
		now:     systemClock,
	}
}

// Allocate assigns up to needed unassigned leads to agentID, never exceeding
// the agent's capacity. needed == 0 is a no-op.
func (a *Allocator) Allocate(ctx context.Context, agentID uuid.UUID, needed int) (AllocationResult, error) {
	if needed < 0 {
		return AllocationResult{}, toAppError("allocate", fmt.Errorf("%w: needed must not be negative", domain.ErrInvalidCapacity))
	}
	if needed == 0 {
		return AllocationResult{AgentID: agentID, Leads: []domain.Lead{}}, nil
	}
	result, err := a.allocate(ctx, agentID, needed)
	if err != nil {
		return AllocationResult{}, toAppError("allocate", err)
	}
	result.Requested = needed
	return result, nil
}

// FillToCapacity tops the agent's hopper up to its capacity.
func (a *Allocator) FillToCapacity(ctx context.Context, agentID uuid.UUID) (AllocationResult, error) {
	result, err := a.allocate(ctx, agentID, math.MaxInt32)
	if err != nil {
		return AllocationResult{}, toAppError("fill", err)
	}
	result.Requested = result.Granted
	return result, nil
}

func (a *Allocator) allocate(ctx context.Context, agentID uuid.UUID, needed int) (AllocationResult, error) {
	defer a.metrics.Timer("allocate")()

	var (
		outcome     repository.AllocateOutcome
		committedAt time.Time
	)
	err := a.retry.do(ctx, "allocate", func() error {
		var err error
		committedAt = a.now()
		outcome, err = a.store.AllocateLeads(ctx, repository.AllocateParams{
			AgentID: agentID,
			Needed:  needed,
			Policy:  a.opts.Selection,
			Now:     committedAt,
		})
		return err
	})
	if err != nil {
		a.metrics.ObserveAllocation(allocationOutcome(err), 0)
		return AllocationResult{}, err
	}

	result := AllocationResult{
		AgentID:       agentID,
		Granted:       outcome.Granted,
		Leads:         outcome.Leads,
		PoolExhausted: len(outcome.Leads) < outcome.Granted,
	}
	if result.Leads == nil {
		result.Leads = []domain.Lead{}
	}

	a.metrics.ObserveAllocation(resultOutcome(result), result.Assigned())
	a.log.WithContext(ctx).Allocation(agentID.String(), outcome.Granted, result.Assigned(), result.PoolExhausted)

	if result.Assigned() > 0 && a.bus != nil {
		ids := make([]uuid.UUID, len(result.Leads))
		for i, l := range result.Leads {
			ids[i] = l.ID
		}
		a.bus.Publish(ctx, events.LeadsAllocated{
			BaseEvent:     events.NewBaseEvent(committedAt),
			AgentID:       agentID,
			LeadIDs:       ids,
			Requested:     outcome.Granted,
			PoolExhausted: result.PoolExhausted,
		})
	}
	return result, nil
}

func resultOutcome(r AllocationResult) string {
	switch {
	case r.Granted == 0:
		return "full"
	case r.PoolExhausted:
		return "partial"
	default:
		return "filled"
	}
}

func allocationOutcome(err error) string {
	if isContention(err) {
		return "contention"
	}
	return "error"
}
