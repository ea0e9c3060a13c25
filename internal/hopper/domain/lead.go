// Package domain holds the lead hopper's state machine and selection rules.
// Nothing here touches storage or transport.
package domain

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// LeadStatus is the lifecycle position of a lead.
type LeadStatus string

const (
	StatusUnassigned LeadStatus = "unassigned"
	StatusAssigned   LeadStatus = "assigned"
	StatusProtected  LeadStatus = "protected"
	StatusClosedWon  LeadStatus = "closed_won"
	StatusClosedLost LeadStatus = "closed_lost"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []LeadStatus{
	StatusUnassigned,
	StatusAssigned,
	StatusProtected,
	StatusClosedWon,
	StatusClosedLost,
}

// IsTerminal reports whether the status can never change again.
func (s LeadStatus) IsTerminal() bool {
	return s == StatusClosedWon || s == StatusClosedLost
}

// IsHeld reports whether a lead in this status counts against an agent's capacity.
func (s LeadStatus) IsHeld() bool {
	return s == StatusAssigned || s == StatusProtected
}

// Valid reports whether s is a known status.
func (s LeadStatus) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Contact carries the practice details shown to the agent working the lead.
type Contact struct {
	PracticeName string
	ContactName  string
	Phone        string
	Email        string
	City         string
	Specialty    string
	Source       string
}

// Lead is a prospect record. QualityScore and ID never change after ingestion.
type Lead struct {
	ID                uuid.UUID
	QualityScore      int
	Status            LeadStatus
	AssignedAgentID   *uuid.UUID
	AssignedAt        *time.Time
	LastDispositionAt *time.Time
	PreviousAgentIDs  []uuid.UUID
	Disposition       *Disposition
	Version           int64
	Contact           Contact
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// HeldBy reports whether agentID currently holds the lead.
func (l Lead) HeldBy(agentID uuid.UUID) bool {
	return l.Status.IsHeld() && l.AssignedAgentID != nil && *l.AssignedAgentID == agentID
}

// PreviouslyHeldBy reports whether agentID appears anywhere in the lead's history.
func (l Lead) PreviouslyHeldBy(agentID uuid.UUID) bool {
	for _, id := range l.PreviousAgentIDs {
		if id == agentID {
			return true
		}
	}
	return false
}

// AppendHolder returns history with agentID appended unless it is already the
// most recent entry. The input slice is not modified.
func AppendHolder(history []uuid.UUID, agentID uuid.UUID) []uuid.UUID {
	if n := len(history); n > 0 && history[n-1] == agentID {
		out := make([]uuid.UUID, n)
		copy(out, history)
		return out
	}
	out := make([]uuid.UUID, len(history), len(history)+1)
	copy(out, history)
	return append(out, agentID)
}

// Agent is a sales agent. CurrentCount is always derived from held leads.
type Agent struct {
	ID            uuid.UUID
	DisplayName   string
	Capacity      int
	CurrentCount  int
	Active        bool
	DeactivatedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Available returns how many more leads the agent may hold.
func (a Agent) Available() int {
	if n := a.Capacity - a.CurrentCount; n > 0 {
		return n
	}
	return 0
}

// MaxQualityScore is the largest score the store can hold.
const MaxQualityScore = math.MaxInt32

// ValidQualityScore reports whether score fits the stored range.
func ValidQualityScore(score int) bool {
	return score >= 0 && score <= MaxQualityScore
}

// NewLead is an ingestion record. New leads always enter the pool unassigned.
type NewLead struct {
	ID           uuid.UUID
	QualityScore int
	Contact      Contact
}

// AgentRegistration is the upsert payload of the agent registry.
type AgentRegistration struct {
	ID          uuid.UUID
	DisplayName string
	Capacity    int
}
