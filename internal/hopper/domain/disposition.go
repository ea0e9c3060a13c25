package domain

import (
	"fmt"
	"strings"
)

// Disposition is the outcome an agent records after working a lead.
type Disposition string

const (
	DispositionContacted         Disposition = "contacted"
	DispositionNotInterested     Disposition = "not_interested"
	DispositionAppointmentSet    Disposition = "appointment_set"
	DispositionSaleMade          Disposition = "sale_made"
	DispositionNoAnswer          Disposition = "no_answer"
	DispositionCallbackRequested Disposition = "callback_requested"
	DispositionVoicemail         Disposition = "voicemail"
	DispositionWrongNumber       Disposition = "wrong_number"
)

// AllDispositions lists the accepted dispositions.
var AllDispositions = []Disposition{
	DispositionContacted,
	DispositionNotInterested,
	DispositionAppointmentSet,
	DispositionSaleMade,
	DispositionNoAnswer,
	DispositionCallbackRequested,
	DispositionVoicemail,
	DispositionWrongNumber,
}

// ParseDisposition normalizes and validates raw input.
func ParseDisposition(raw string) (Disposition, error) {
	d := Disposition(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range AllDispositions {
		if d == known {
			return d, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDisposition, raw)
}

// NextStatus returns the status a held lead moves to when d is applied.
// Dispositions without a transition keep the current status, so a protected
// lead stays protected after a follow-up call.
func (d Disposition) NextStatus(current LeadStatus) LeadStatus {
	switch d {
	case DispositionAppointmentSet:
		return StatusProtected
	case DispositionSaleMade:
		return StatusClosedWon
	case DispositionNotInterested:
		return StatusClosedLost
	default:
		return current
	}
}

// IsTerminal reports whether d closes the lead.
func (d Disposition) IsTerminal() bool {
	return d.NextStatus(StatusAssigned).IsTerminal()
}
