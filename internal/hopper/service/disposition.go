package service

import (
	"context"
	"log/slog"
	"time"

	"leadhopper_backend/internal/events"
	"leadhopper_backend/internal/hopper/domain"
	"leadhopper_backend/internal/hopper/repository"
	"leadhopper_backend/platform/apperr"
	"leadhopper_backend/platform/logger"
	"leadhopper_backend/platform/metrics"

	"github.com/google/uuid"
)

// Filler tops an agent's hopper up to capacity.
type Filler interface {
	FillToCapacity(ctx context.Context, agentID uuid.UUID) (AllocationResult, error)
}

// ReplenishQueue schedules an asynchronous refill when the inline one fails.
type ReplenishQueue interface {
	EnqueueReplenish(ctx context.Context, agentID uuid.UUID) error
}

// Replenishment describes the refill that follows a terminal disposition.
// A failed refill never undoes the committed disposition.
type Replenishment struct {
	Allocation *AllocationResult
	Error      string
	Queued     bool
}

// DispositionResult is the committed lead plus any follow-up refill.
type DispositionResult struct {
	Lead          domain.Lead
	Terminal      bool
	Replenishment *Replenishment
}

// DispositionItem is one entry of a batch.
type DispositionItem struct {
	LeadID      uuid.UUID
	Disposition domain.Disposition
}

// DispositionItemResult is the per-item outcome of a batch. Err is nil on success.
type DispositionItemResult struct {
	LeadID uuid.UUID
	Lead   *domain.Lead
	Err    error
}

// BatchDispositionResult collects per-item outcomes and the single refill.
type BatchDispositionResult struct {
	Items         []DispositionItemResult
	Applied       int
	Failed        int
	Replenishment *Replenishment
}

type dispositionLeads interface {
	repository.LeadReader
	repository.DispositionWriter
}

// DispositionHandler applies agent outcomes and triggers replenishment.
type DispositionHandler struct {
	leads   dispositionLeads
	filler  Filler
	queue   ReplenishQueue
	bus     events.Bus
	log     *logger.Logger
	metrics *metrics.Metrics
	retry   retrier
	now     Clock
}

// NewDispositionHandler creates a DispositionHandler. queue may be nil.
func NewDispositionHandler(leads dispositionLeads, filler Filler, queue ReplenishQueue, bus events.Bus, log *logger.Logger, m *metrics.Metrics, opts Options) *DispositionHandler {
	return &DispositionHandler{
		leads:   leads,
		filler:  filler,
		queue:   queue,
		bus:     bus,
		log:     log,
		metrics: m,
		retry:   newRetrier(opts, m),
		now:     systemClock,
	}
}

// SetReplenishQueue installs the queue used when an immediate refill fails.
func (h *DispositionHandler) SetReplenishQueue(q ReplenishQueue) {
	h.queue = q
}

// ApplyDisposition records the outcome of agentID working leadID. Terminal
// outcomes refill the agent's hopper immediately.
func (h *DispositionHandler) ApplyDisposition(ctx context.Context, leadID, agentID uuid.UUID, disposition domain.Disposition) (DispositionResult, error) {
	lead, err := h.apply(ctx, leadID, agentID, disposition)
	if err != nil {
		return DispositionResult{}, toAppError("disposition", err)
	}

	result := DispositionResult{Lead: lead, Terminal: lead.Status.IsTerminal()}
	if result.Terminal {
		result.Replenishment = h.replenish(ctx, agentID)
	}
	return result, nil
}

// ApplyDispositions applies each item independently, then refills once if
// any item closed a lead.
func (h *DispositionHandler) ApplyDispositions(ctx context.Context, agentID uuid.UUID, items []DispositionItem) (BatchDispositionResult, error) {
	if len(items) == 0 {
		return BatchDispositionResult{}, apperr.Validation("at least one disposition is required")
	}

	result := BatchDispositionResult{Items: make([]DispositionItemResult, 0, len(items))}
	closed := false
	for _, item := range items {
		lead, err := h.apply(ctx, item.LeadID, agentID, item.Disposition)
		if err != nil {
			result.Failed++
			result.Items = append(result.Items, DispositionItemResult{LeadID: item.LeadID, Err: toAppError("disposition", err)})
			continue
		}
		result.Applied++
		closed = closed || lead.Status.IsTerminal()
		result.Items = append(result.Items, DispositionItemResult{LeadID: item.LeadID, Lead: &lead})
	}

	if closed {
		result.Replenishment = h.replenish(ctx, agentID)
	}
	return result, nil
}

func (h *DispositionHandler) apply(ctx context.Context, leadID, agentID uuid.UUID, raw domain.Disposition) (domain.Lead, error) {
	defer h.metrics.Timer("disposition")()

	disposition, err := domain.ParseDisposition(string(raw))
	if err != nil {
		return domain.Lead{}, err
	}

	var applied domain.Lead
	var committedAt time.Time
	err = h.retry.do(ctx, "disposition", func() error {
		lead, err := h.leads.GetLead(ctx, leadID)
		if err != nil {
			return err
		}
		// Terminal first: a repeated sale_made is rejected, not re-applied.
		if lead.Status.IsTerminal() {
			return domain.ErrAlreadyTerminal
		}
		if !lead.HeldBy(agentID) {
			return domain.ErrNotOwner
		}

		committedAt = h.now()
		updated, ok, err := h.leads.ApplyDisposition(ctx, repository.DispositionParams{
			LeadID:      leadID,
			AgentID:     agentID,
			Version:     lead.Version,
			Disposition: disposition,
			NextStatus:  disposition.NextStatus(lead.Status),
			Now:         committedAt,
		})
		if err != nil {
			return err
		}
		if !ok {
			return errStaleVersion
		}
		applied = updated
		return nil
	})
	if err != nil {
		return domain.Lead{}, err
	}

	h.metrics.ObserveDisposition(string(disposition))
	h.log.WithContext(ctx).Disposition(leadID.String(), agentID.String(), string(disposition), string(applied.Status))
	if h.bus != nil {
		h.bus.Publish(ctx, events.LeadDispositioned{
			BaseEvent:   events.NewBaseEvent(committedAt),
			LeadID:      leadID,
			AgentID:     agentID,
			Disposition: string(disposition),
			Status:      string(applied.Status),
			Terminal:    applied.Status.IsTerminal(),
		})
	}
	return applied, nil
}

func (h *DispositionHandler) replenish(ctx context.Context, agentID uuid.UUID) *Replenishment {
	allocation, err := h.filler.FillToCapacity(ctx, agentID)
	if err == nil {
		return &Replenishment{Allocation: &allocation}
	}

	h.metrics.ObserveReplenishmentFailure()
	log := h.log.WithContext(ctx)
	log.Warn("replenishment failed after terminal disposition",
		slog.String("agent_id", agentID.String()),
		slog.String("error", err.Error()),
	)

	out := &Replenishment{Error: err.Error()}
	if h.queue == nil {
		return out
	}
	if qerr := h.queue.EnqueueReplenish(ctx, agentID); qerr != nil {
		log.Error("failed to enqueue replenishment",
			slog.String("agent_id", agentID.String()),
			slog.String("error", qerr.Error()),
		)
		return out
	}
	out.Queued = true
	return out
}
