// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"leadhopper_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Hopper Domain Events
// =============================================================================

// LeadsAllocated is published after an allocation committed at least one lead.
type LeadsAllocated struct {
	BaseEvent
	AgentID       uuid.UUID   `json:"agentId"`
	LeadIDs       []uuid.UUID `json:"leadIds"`
	Requested     int         `json:"requested"`
	PoolExhausted bool        `json:"poolExhausted"`
}

func (e LeadsAllocated) EventName() string { return "hopper.leads.allocated" }

// LeadsReclaimed is published once per losing agent after a reclaim run.
// Notification delivery is left to subscribers.
type LeadsReclaimed struct {
	BaseEvent
	AgentID uuid.UUID   `json:"agentId"`
	LeadIDs []uuid.UUID `json:"leadIds"`
	Reason  string      `json:"reason"`
}

func (e LeadsReclaimed) EventName() string { return "hopper.leads.reclaimed" }

// LeadDispositioned is published after a disposition committed.
type LeadDispositioned struct {
	BaseEvent
	LeadID      uuid.UUID `json:"leadId"`
	AgentID     uuid.UUID `json:"agentId"`
	Disposition string    `json:"disposition"`
	Status      string    `json:"status"`
	Terminal    bool      `json:"terminal"`
}

func (e LeadDispositioned) EventName() string { return "hopper.lead.dispositioned" }

// AgentDeactivated is published after an agent's hopper was emptied.
type AgentDeactivated struct {
	BaseEvent
	AgentID   uuid.UUID `json:"agentId"`
	Reclaimed int       `json:"reclaimed"`
}

func (e AgentDeactivated) EventName() string { return "hopper.agent.deactivated" }
