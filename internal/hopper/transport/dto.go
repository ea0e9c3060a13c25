package transport

import (
	"time"

	"leadhopper_backend/internal/hopper/domain"

	"github.com/google/uuid"
)

// ListAssignedRequest is the query of the working-set view.
type ListAssignedRequest struct {
	AgentID string `form:"agentId" validate:"required,uuid"`
}

// DispositionRequest is the request body for recording one call outcome.
type DispositionRequest struct {
	AgentID     uuid.UUID `json:"agentId" validate:"required"`
	Disposition string    `json:"disposition" validate:"required,disposition"`
}

// DispositionItem is one entry of a batch.
type DispositionItem struct {
	LeadID      uuid.UUID `json:"leadId" validate:"required"`
	Disposition string    `json:"disposition" validate:"required,disposition"`
}

// BatchDispositionRequest is the request body for recording several outcomes at once.
type BatchDispositionRequest struct {
	AgentID uuid.UUID         `json:"agentId" validate:"required"`
	Items   []DispositionItem `json:"items" validate:"required,min=1,max=500,dive"`
}

// RegisterAgentRequest creates, updates or reactivates an agent. A missing
// capacity uses the configured default.
type RegisterAgentRequest struct {
	DisplayName string `json:"displayName,omitempty" validate:"max=200"`
	Capacity    *int   `json:"capacity,omitempty" validate:"omitempty,min=0,max=10000"`
}

// IngestLead is one pre-scored lead. A missing id is generated.
type IngestLead struct {
	ID           *uuid.UUID `json:"id,omitempty"`
	QualityScore int        `json:"qualityScore" validate:"min=0,max=2147483647"`
	PracticeName string     `json:"practiceName" validate:"required,max=300"`
	ContactName  string     `json:"contactName,omitempty" validate:"max=200"`
	Phone        string     `json:"phone,omitempty" validate:"max=40"`
	Email        string     `json:"email,omitempty" validate:"omitempty,email,max=320"`
	City         string     `json:"city,omitempty" validate:"max=120"`
	Specialty    string     `json:"specialty,omitempty" validate:"max=120"`
	Source       string     `json:"source,omitempty" validate:"max=120"`
}

// IngestLeadsRequest is the request body for adding leads to the pool.
type IngestLeadsRequest struct {
	Leads []IngestLead `json:"leads" validate:"required,min=1,max=500,dive"`
}

// LeadResponse is a lead as seen by agents and operators.
type LeadResponse struct {
	ID                uuid.UUID   `json:"id"`
	QualityScore      int         `json:"qualityScore"`
	Status            string      `json:"status"`
	AssignedAgentID   *uuid.UUID  `json:"assignedAgentId,omitempty"`
	AssignedAt        *time.Time  `json:"assignedAt,omitempty"`
	LastDispositionAt *time.Time  `json:"lastDispositionAt,omitempty"`
	Disposition       *string     `json:"disposition,omitempty"`
	PreviousAgentIDs  []uuid.UUID `json:"previousAgentIds"`
	PracticeName      string      `json:"practiceName"`
	ContactName       string      `json:"contactName,omitempty"`
	Phone             string      `json:"phone,omitempty"`
	Email             string      `json:"email,omitempty"`
	City              string      `json:"city,omitempty"`
	Specialty         string      `json:"specialty,omitempty"`
	Source            string      `json:"source,omitempty"`
	CreatedAt         time.Time   `json:"createdAt"`
}

// AssignedLeadsResponse is the agent's working set.
type AssignedLeadsResponse struct {
	AgentID uuid.UUID      `json:"agentId"`
	Count   int            `json:"count"`
	Leads   []LeadResponse `json:"leads"`
}

// AllocationResponse reports an allocator run.
type AllocationResponse struct {
	AgentID       uuid.UUID      `json:"agentId"`
	Requested     int            `json:"requested"`
	Assigned      int            `json:"assigned"`
	PoolExhausted bool           `json:"poolExhausted"`
	Leads         []LeadResponse `json:"leads"`
}

// ReplenishmentResponse reports the follow-up fill after a terminal outcome.
type ReplenishmentResponse struct {
	Allocation         *AllocationResponse `json:"allocation,omitempty"`
	ReplenishmentError string              `json:"replenishmentError,omitempty"`
	Queued             bool                `json:"queued,omitempty"`
}

// DispositionResponse is the answer to a single disposition.
type DispositionResponse struct {
	Lead          LeadResponse           `json:"lead"`
	Terminal      bool                   `json:"terminal"`
	Replenishment *ReplenishmentResponse `json:"replenishment,omitempty"`
}

// BatchItemResponse is one entry of a batch answer. Exactly one of Lead or Error is set.
type BatchItemResponse struct {
	LeadID uuid.UUID     `json:"leadId"`
	Lead   *LeadResponse `json:"lead,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// BatchDispositionResponse is the answer to a batch of dispositions.
type BatchDispositionResponse struct {
	Applied       int                    `json:"applied"`
	Failed        int                    `json:"failed"`
	Items         []BatchItemResponse    `json:"items"`
	Replenishment *ReplenishmentResponse `json:"replenishment,omitempty"`
}

// ReclaimedLeadResponse is one released lead.
type ReclaimedLeadResponse struct {
	LeadID  uuid.UUID `json:"leadId"`
	AgentID uuid.UUID `json:"agentId"`
	Reason  string    `json:"reason"`
}

// ReclaimResponse reports a reclaim run.
type ReclaimResponse struct {
	Reclaimed int                     `json:"reclaimed"`
	Skipped   int                     `json:"skipped"`
	Leads     []ReclaimedLeadResponse `json:"leads"`
}

// AgentResponse is an agent with its derived load.
type AgentResponse struct {
	ID            uuid.UUID  `json:"id"`
	DisplayName   string     `json:"displayName,omitempty"`
	Capacity      int        `json:"capacity"`
	CurrentCount  int        `json:"currentCount"`
	Active        bool       `json:"active"`
	DeactivatedAt *time.Time `json:"deactivatedAt,omitempty"`
}

// RegisterAgentResponse is the answer to an agent upsert.
type RegisterAgentResponse struct {
	Agent           AgentResponse       `json:"agent"`
	Activated       bool                `json:"activated"`
	Allocation      *AllocationResponse `json:"allocation,omitempty"`
	AllocationError string              `json:"allocationError,omitempty"`
}

// IngestLeadsResponse reports how many leads were new.
type IngestLeadsResponse struct {
	Received int `json:"received"`
	Inserted int `json:"inserted"`
}

// ToLeadResponse maps a domain lead.
func ToLeadResponse(l domain.Lead) LeadResponse {
	resp := LeadResponse{
		ID:                l.ID,
		QualityScore:      l.QualityScore,
		Status:            string(l.Status),
		AssignedAgentID:   l.AssignedAgentID,
		AssignedAt:        l.AssignedAt,
		LastDispositionAt: l.LastDispositionAt,
		PreviousAgentIDs:  l.PreviousAgentIDs,
		PracticeName:      l.Contact.PracticeName,
		ContactName:       l.Contact.ContactName,
		Phone:             l.Contact.Phone,
		Email:             l.Contact.Email,
		City:              l.Contact.City,
		Specialty:         l.Contact.Specialty,
		Source:            l.Contact.Source,
		CreatedAt:         l.CreatedAt,
	}
	if resp.PreviousAgentIDs == nil {
		resp.PreviousAgentIDs = []uuid.UUID{}
	}
	if l.Disposition != nil {
		d := string(*l.Disposition)
		resp.Disposition = &d
	}
	return resp
}

// ToLeadResponses maps a slice of domain leads, never returning nil.
func ToLeadResponses(leads []domain.Lead) []LeadResponse {
	out := make([]LeadResponse, len(leads))
	for i, l := range leads {
		out[i] = ToLeadResponse(l)
	}
	return out
}

// ToAgentResponse maps a domain agent.
func ToAgentResponse(a domain.Agent) AgentResponse {
	return AgentResponse{
		ID:            a.ID,
		DisplayName:   a.DisplayName,
		Capacity:      a.Capacity,
		CurrentCount:  a.CurrentCount,
		Active:        a.Active,
		DeactivatedAt: a.DeactivatedAt,
	}
}

// ToNewLeads maps an ingestion request to domain records.
func ToNewLeads(req IngestLeadsRequest) []domain.NewLead {
	out := make([]domain.NewLead, len(req.Leads))
	for i, l := range req.Leads {
		var id uuid.UUID
		if l.ID != nil {
			id = *l.ID
		}
		out[i] = domain.NewLead{
			ID:           id,
			QualityScore: l.QualityScore,
			Contact: domain.Contact{
				PracticeName: l.PracticeName,
				ContactName:  l.ContactName,
				Phone:        l.Phone,
				Email:        l.Email,
				City:         l.City,
				Specialty:    l.Specialty,
				Source:       l.Source,
			},
		}
	}
	return out
}
