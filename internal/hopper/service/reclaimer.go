package service

import (
	"context"
	"fmt"
	"time"

	"leadhopper_backend/internal/events"
	"leadhopper_backend/internal/hopper/domain"
	"leadhopper_backend/internal/hopper/repository"
	"leadhopper_backend/platform/logger"
	"leadhopper_backend/platform/metrics"

	"github.com/google/uuid"
)

// ReclaimedLead is one lead returned to the pool.
type ReclaimedLead struct {
	LeadID  uuid.UUID
	AgentID uuid.UUID
	Reason  domain.ReclaimReason
}

// ReclaimResult summarizes a reclaim run. Skipped counts eligible leads that
// changed concurrently; they are re-evaluated on the next run.
type ReclaimResult struct {
	Reclaimed []ReclaimedLead
	Skipped   int
}

// Reclaimer returns idle, stale and orphaned leads to the pool.
// It never allocates.
type Reclaimer struct {
	leads   reclaimLeads
	agents  repository.AgentStore
	bus     events.Bus
	log     *logger.Logger
	metrics *metrics.Metrics
	opts    Options
	retry   retrier
	now     Clock
}

type reclaimLeads interface {
	repository.LeadReleaser
	repository.LeadReader
}

// NewReclaimer creates a Reclaimer.
func NewReclaimer(leads reclaimLeads, agents repository.AgentStore, bus events.Bus, log *logger.Logger, m *metrics.Metrics, opts Options) *Reclaimer {
	return &Reclaimer{
		leads:   leads,
		agents:  agents,
		bus:     bus,
		log:     log,
		metrics: m,
		opts:    opts,
		retry:   newRetrier(opts, m),
		now:     systemClock,
	}
}

// ReclaimDue sweeps assigned leads past the idle or max-hold threshold back
// into the pool. A second run right after the first reclaims nothing.
func (r *Reclaimer) ReclaimDue(ctx context.Context) (ReclaimResult, error) {
	defer r.metrics.Timer("reclaim_due")()

	now := r.now()
	batch := r.opts.ReclaimBatchSize
	if batch < 1 {
		batch = 500
	}

	result := ReclaimResult{Reclaimed: []ReclaimedLead{}}
	cursor := uuid.Nil
	for {
		page, err := r.leads.ListReclaimable(ctx, repository.ReclaimScanParams{
			IdleCutoff:    r.opts.Reclaim.IdleCutoff(now),
			MaxHoldCutoff: r.opts.Reclaim.MaxHoldCutoff(now),
			AfterID:       cursor,
			Limit:         batch,
		})
		if err != nil {
			r.finish(ctx, "scheduled", now, result)
			return result, toAppError("reclaim", err)
		}

		for _, lead := range page {
			cursor = lead.ID
			reason, ok := r.opts.Reclaim.Eligible(lead, now)
			if !ok {
				continue
			}
			released, err := r.leads.ReleaseLead(ctx, repository.ReleaseParams{
				LeadID:  lead.ID,
				Version: lead.Version,
				Reason:  reason,
				Now:     now,
			})
			if err != nil {
				if isContention(err) {
					result.Skipped++
					continue
				}
				r.finish(ctx, "scheduled", now, result)
				return result, toAppError("reclaim", err)
			}
			if !released {
				result.Skipped++
				continue
			}
			result.Reclaimed = append(result.Reclaimed, ReclaimedLead{
				LeadID:  lead.ID,
				AgentID: *lead.AssignedAgentID,
				Reason:  reason,
			})
		}

		if len(page) < batch {
			break
		}
	}

	r.finish(ctx, "scheduled", now, result)
	return result, nil
}

// ReclaimAgent deactivates the agent and returns every non-terminal lead it
// holds, protected ones included, to the pool. Closed leads keep their holder.
func (r *Reclaimer) ReclaimAgent(ctx context.Context, agentID uuid.UUID) (ReclaimResult, error) {
	defer r.metrics.Timer("reclaim_agent")()

	deactivatedAt := r.now()
	if _, err := r.agents.DeactivateAgent(ctx, agentID, deactivatedAt); err != nil {
		return ReclaimResult{}, toAppError("deactivate agent", err)
	}

	result := ReclaimResult{Reclaimed: []ReclaimedLead{}}
	err := r.retry.do(ctx, "reclaim_agent", func() error {
		held, err := r.leads.ListHeldByAgent(ctx, agentID)
		if err != nil {
			return err
		}
		stale := false
		for _, lead := range held {
			released, err := r.leads.ReleaseLead(ctx, repository.ReleaseParams{
				LeadID:  lead.ID,
				Version: lead.Version,
				Reason:  domain.ReasonDeactivated,
				Now:     r.now(),
			})
			if err != nil {
				return err
			}
			if !released {
				stale = true
				continue
			}
			result.Reclaimed = append(result.Reclaimed, ReclaimedLead{
				LeadID:  lead.ID,
				AgentID: agentID,
				Reason:  domain.ReasonDeactivated,
			})
		}
		if stale {
			return fmt.Errorf("agent %s: %w", agentID, errStaleVersion)
		}
		return nil
	})

	r.finish(ctx, "deactivation", deactivatedAt, result)
	if err != nil {
		return result, toAppError("reclaim agent", err)
	}

	if r.bus != nil {
		r.bus.Publish(ctx, events.AgentDeactivated{
			BaseEvent: events.NewBaseEvent(deactivatedAt),
			AgentID:   agentID,
			Reclaimed: len(result.Reclaimed),
		})
	}
	return result, nil
}

// finish logs, records metrics and publishes one LeadsReclaimed per losing agent and reason.
func (r *Reclaimer) finish(ctx context.Context, trigger string, at time.Time, result ReclaimResult) {
	r.log.WithContext(ctx).Reclamation(trigger, len(result.Reclaimed), result.Skipped)

	type key struct {
		agent  uuid.UUID
		reason domain.ReclaimReason
	}
	grouped := make(map[key][]uuid.UUID)
	order := make([]key, 0)
	for _, rl := range result.Reclaimed {
		k := key{agent: rl.AgentID, reason: rl.Reason}
		if _, seen := grouped[k]; !seen {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], rl.LeadID)
	}

	skippedReported := false
	for _, k := range order {
		skipped := 0
		if !skippedReported {
			skipped = result.Skipped
			skippedReported = true
		}
		r.metrics.ObserveReclaim(string(k.reason), len(grouped[k]), skipped)
		if r.bus != nil {
			r.bus.Publish(ctx, events.LeadsReclaimed{
				BaseEvent: events.NewBaseEvent(at),
				AgentID:   k.agent,
				LeadIDs:   grouped[k],
				Reason:    string(k.reason),
			})
		}
	}
	if !skippedReported && result.Skipped > 0 {
		r.metrics.ObserveReclaim("", 0, result.Skipped)
	}
}
