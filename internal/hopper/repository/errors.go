package repository

import (
	"errors"
	"fmt"

	"leadhopper_backend/internal/hopper/domain"

	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres error codes that mean "another writer got there first; try again".
const (
	pgLockNotAvailable     = "55P03"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// classify maps transient lock failures to domain.ErrContention so callers can retry.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgLockNotAvailable, pgSerializationFailure, pgDeadlockDetected:
			return fmt.Errorf("%s: %w (%s)", op, domain.ErrContention, pgErr.Code)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
