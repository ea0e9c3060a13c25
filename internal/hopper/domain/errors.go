package domain

import "errors"

var (
	ErrAgentNotFound      = errors.New("agent not found")
	ErrLeadNotFound       = errors.New("lead not found")
	ErrNotOwner           = errors.New("lead is not held by this agent")
	ErrAlreadyTerminal    = errors.New("lead is already closed")
	ErrContention         = errors.New("concurrent update contention")
	ErrInvalidDisposition = errors.New("invalid disposition")
	ErrInvalidCapacity    = errors.New("invalid capacity")
	ErrInvalidPolicy      = errors.New("invalid selection policy")
)
