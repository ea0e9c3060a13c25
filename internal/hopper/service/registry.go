package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"leadhopper_backend/internal/hopper/domain"
	"leadhopper_backend/internal/hopper/repository"
	"leadhopper_backend/platform/apperr"
	"leadhopper_backend/platform/logger"
	"leadhopper_backend/platform/phone"
	"leadhopper_backend/platform/sanitize"

	"github.com/google/uuid"
)

// Registration is the registry's answer to an agent upsert.
// Allocation is the immediate fill; AllocationError is set when it failed.
type Registration struct {
	Agent           domain.Agent
	Activated       bool
	Allocation      *AllocationResult
	AllocationError string
}

// IngestResult reports how many of the received leads were new.
type IngestResult struct {
	Received int
	Inserted int
}

type registryStore interface {
	repository.AgentStore
	repository.LeadReader
	repository.LeadIngestor
}

// Registry manages agents and the lead pool's inputs.
type Registry struct {
	store     registryStore
	filler    Filler
	reclaimer *Reclaimer
	log       *logger.Logger
	opts      Options
	now       Clock
}

// NewRegistry creates a Registry.
func NewRegistry(store registryStore, filler Filler, reclaimer *Reclaimer, log *logger.Logger, opts Options) *Registry {
	return &Registry{
		store:     store,
		filler:    filler,
		reclaimer: reclaimer,
		log:       log,
		opts:      opts,
		now:       systemClock,
	}
}

// RegisterAgent creates, updates or reactivates an agent and fills its hopper.
// A nil capacity uses the configured default. Lowering capacity below the
// current count never takes leads away; the agent simply gets no more until it drains.
func (r *Registry) RegisterAgent(ctx context.Context, id uuid.UUID, displayName string, capacity *int) (Registration, error) {
	limit := r.opts.DefaultCapacity
	if capacity != nil {
		limit = *capacity
	}
	if limit < 0 {
		return Registration{}, toAppError("register agent", fmt.Errorf("%w: capacity must not be negative", domain.ErrInvalidCapacity))
	}

	agent, activated, err := r.store.UpsertAgent(ctx, domain.AgentRegistration{
		ID:          id,
		DisplayName: sanitize.Text(displayName),
		Capacity:    limit,
	}, r.now())
	if err != nil {
		return Registration{}, toAppError("register agent", err)
	}

	reg := Registration{Agent: agent, Activated: activated}
	allocation, err := r.filler.FillToCapacity(ctx, id)
	if err != nil {
		reg.AllocationError = err.Error()
		r.log.WithContext(ctx).Warn("initial fill failed", "agent_id", id.String(), "error", err.Error())
		return reg, nil
	}
	reg.Allocation = &allocation
	reg.Agent.CurrentCount += allocation.Assigned()
	return reg, nil
}

// DeactivateAgent removes the agent from rotation and empties its hopper.
func (r *Registry) DeactivateAgent(ctx context.Context, id uuid.UUID) (ReclaimResult, error) {
	return r.reclaimer.ReclaimAgent(ctx, id)
}

// GetAgent returns the agent with its derived count.
func (r *Registry) GetAgent(ctx context.Context, id uuid.UUID) (domain.Agent, error) {
	agent, err := r.store.GetAgent(ctx, id)
	if err != nil {
		return domain.Agent{}, toAppError("get agent", err)
	}
	return agent, nil
}

// ListAssigned returns the agent's current working set.
func (r *Registry) ListAssigned(ctx context.Context, agentID uuid.UUID) ([]domain.Lead, error) {
	agent, err := r.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, toAppError("list assigned", err)
	}
	if !agent.Active {
		return nil, toAppError("list assigned", domain.ErrAgentNotFound)
	}
	leads, err := r.store.ListHeldByAgent(ctx, agentID)
	if err != nil {
		return nil, toAppError("list assigned", err)
	}
	return leads, nil
}

// IngestLeads adds pre-scored leads to the pool. Phones are normalized to
// E.164; an unparseable phone or an out-of-range score rejects the whole
// batch. Free-text fields are stripped of markup. Re-sent ids are ignored.
func (r *Registry) IngestLeads(ctx context.Context, leads []domain.NewLead) (IngestResult, error) {
	if len(leads) == 0 {
		return IngestResult{}, apperr.Validation("at least one lead is required")
	}

	seen := make(map[uuid.UUID]struct{}, len(leads))
	normalized := make([]domain.NewLead, 0, len(leads))
	var invalid []string
	for i, l := range leads {
		if l.ID == uuid.Nil {
			l.ID = uuid.New()
		}
		if _, dup := seen[l.ID]; dup {
			continue
		}
		seen[l.ID] = struct{}{}

		if !domain.ValidQualityScore(l.QualityScore) {
			invalid = append(invalid, fmt.Sprintf("leads[%d].qualityScore", i))
			continue
		}
		e164, err := phone.NormalizeE164(l.Contact.Phone, r.opts.PhoneRegion)
		if errors.Is(err, phone.ErrInvalidNumber) {
			invalid = append(invalid, fmt.Sprintf("leads[%d].phone", i))
			continue
		}
		l.Contact.Phone = e164
		l.Contact.PracticeName = sanitize.Text(l.Contact.PracticeName)
		l.Contact.ContactName = sanitize.Text(l.Contact.ContactName)
		l.Contact.City = sanitize.Text(l.Contact.City)
		l.Contact.Specialty = sanitize.Text(l.Contact.Specialty)
		l.Contact.Source = sanitize.Text(l.Contact.Source)
		l.Contact.Email = strings.ToLower(strings.TrimSpace(l.Contact.Email))
		normalized = append(normalized, l)
	}
	if len(invalid) > 0 {
		return IngestResult{}, apperr.Validation("invalid lead").WithDetails(invalid)
	}

	inserted, err := r.store.InsertLeads(ctx, normalized, r.now())
	if err != nil {
		return IngestResult{}, toAppError("ingest leads", err)
	}
	r.log.WithContext(ctx).Info("hopper_ingest", "received", len(leads), "inserted", inserted)
	return IngestResult{Received: len(leads), Inserted: inserted}, nil
}
