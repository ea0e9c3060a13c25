package domain

import "time"

// ReclaimReason records why a lead went back to the pool.
type ReclaimReason string

const (
	ReasonIdle        ReclaimReason = "idle"
	ReasonMaxHold     ReclaimReason = "max_hold"
	ReasonDeactivated ReclaimReason = "agent_deactivated"
)

// Default reclaim thresholds.
const (
	DefaultIdleThreshold    = 24 * time.Hour
	DefaultMaxHoldThreshold = 7 * 24 * time.Hour
)

// ReclaimPolicy holds the two time-based reclaim thresholds.
type ReclaimPolicy struct {
	IdleThreshold    time.Duration
	MaxHoldThreshold time.Duration
}

// IdleCutoff is the latest assigned_at that still counts as idle at now.
func (p ReclaimPolicy) IdleCutoff(now time.Time) time.Time {
	return now.Add(-p.IdleThreshold)
}

// MaxHoldCutoff is the latest assigned_at that exceeds the hold ceiling at now.
func (p ReclaimPolicy) MaxHoldCutoff(now time.Time) time.Time {
	return now.Add(-p.MaxHoldThreshold)
}

// Eligible reports whether the scheduled sweep may reclaim l at now, and why.
// Only assigned leads qualify; protected and terminal leads never do.
// The max-hold ceiling wins when both apply.
func (p ReclaimPolicy) Eligible(l Lead, now time.Time) (ReclaimReason, bool) {
	if l.Status != StatusAssigned || l.AssignedAt == nil {
		return "", false
	}
	held := now.Sub(*l.AssignedAt)
	if held > p.MaxHoldThreshold {
		return ReasonMaxHold, true
	}
	if held > p.IdleThreshold && l.LastDispositionAt == nil {
		return ReasonIdle, true
	}
	return "", false
}
