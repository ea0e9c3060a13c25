package repository

import (
	"context"
	"time"

	"leadhopper_backend/internal/hopper/domain"

	"github.com/google/uuid"
)

// =====================================
// Segregated Interfaces
// =====================================

// LeadReader provides read-only access to leads.
type LeadReader interface {
	GetLead(ctx context.Context, id uuid.UUID) (domain.Lead, error)
	ListHeldByAgent(ctx context.Context, agentID uuid.UUID) ([]domain.Lead, error)
}

// LeadAllocator moves pool leads into an agent's hopper.
type LeadAllocator interface {
	AllocateLeads(ctx context.Context, params AllocateParams) (AllocateOutcome, error)
}

// LeadReleaser returns held leads to the pool.
type LeadReleaser interface {
	ListReclaimable(ctx context.Context, params ReclaimScanParams) ([]domain.Lead, error)
	ReleaseLead(ctx context.Context, params ReleaseParams) (bool, error)
}

// DispositionWriter records agent outcomes.
type DispositionWriter interface {
	ApplyDisposition(ctx context.Context, params DispositionParams) (domain.Lead, bool, error)
}

// LeadIngestor adds new leads to the pool.
type LeadIngestor interface {
	InsertLeads(ctx context.Context, leads []domain.NewLead, now time.Time) (int, error)
}

// AgentStore manages the agent registry.
type AgentStore interface {
	GetAgent(ctx context.Context, id uuid.UUID) (domain.Agent, error)
	UpsertAgent(ctx context.Context, reg domain.AgentRegistration, now time.Time) (domain.Agent, bool, error)
	DeactivateAgent(ctx context.Context, id uuid.UUID, now time.Time) (domain.Agent, error)
}

// StatsReader provides aggregate views for operators.
type StatsReader interface {
	CountByStatus(ctx context.Context) (map[domain.LeadStatus]int, error)
	ListAgentLoads(ctx context.Context) ([]domain.Agent, error)
}

// Store is the full hopper persistence surface.
type Store interface {
	LeadReader
	LeadAllocator
	LeadReleaser
	DispositionWriter
	LeadIngestor
	AgentStore
	StatsReader
}

// =====================================
// Parameter types
// =====================================

// AllocateParams describes one allocation attempt.
type AllocateParams struct {
	AgentID uuid.UUID
	Needed  int
	Policy  domain.SelectionPolicy
	Now     time.Time
}

// AllocateOutcome is what one allocation transaction committed.
// Granted is Needed clamped to the agent's free capacity at lock time.
type AllocateOutcome struct {
	Agent   domain.Agent
	Granted int
	Leads   []domain.Lead
}

// ReclaimScanParams selects the next keyset page of reclaim candidates.
type ReclaimScanParams struct {
	IdleCutoff    time.Time
	MaxHoldCutoff time.Time
	AfterID       uuid.UUID
	Limit         int
}

// ReleaseParams identifies the exact lead version to return to the pool.
type ReleaseParams struct {
	LeadID  uuid.UUID
	Version int64
	Reason  domain.ReclaimReason
	Now     time.Time
}

// DispositionParams identifies the lead version and the transition to apply.
type DispositionParams struct {
	LeadID      uuid.UUID
	AgentID     uuid.UUID
	Version     int64
	Disposition domain.Disposition
	NextStatus  domain.LeadStatus
	Now         time.Time
}
