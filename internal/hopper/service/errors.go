package service

import (
	"errors"

	"leadhopper_backend/internal/hopper/domain"
	"leadhopper_backend/platform/apperr"
)

// toAppError attaches an HTTP-facing kind to domain failures while keeping the
// sentinel reachable through errors.Is. Infrastructure errors pass through.
func toAppError(op string, err error) error {
	if err == nil {
		return nil
	}
	var kind apperr.Kind
	var message string
	switch {
	case errors.Is(err, domain.ErrAgentNotFound):
		kind, message = apperr.KindNotFound, "agent not found"
	case errors.Is(err, domain.ErrLeadNotFound):
		kind, message = apperr.KindNotFound, "lead not found"
	case errors.Is(err, domain.ErrNotOwner):
		kind, message = apperr.KindForbidden, "lead is not held by this agent"
	case errors.Is(err, domain.ErrAlreadyTerminal):
		kind, message = apperr.KindConflict, "lead is already closed"
	case errors.Is(err, domain.ErrContention):
		kind, message = apperr.KindUnavailable, "too much concurrent activity, retry shortly"
	case errors.Is(err, domain.ErrInvalidDisposition):
		kind, message = apperr.KindValidation, "invalid disposition"
	case errors.Is(err, domain.ErrInvalidCapacity):
		kind, message = apperr.KindValidation, "invalid capacity"
	default:
		var existing *apperr.Error
		if errors.As(err, &existing) {
			return err
		}
		return apperr.Wrap(apperr.KindInternal, "internal error", err).WithOp(op)
	}
	return apperr.Wrap(kind, message, err).WithOp(op)
}
