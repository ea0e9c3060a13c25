package repository

import (
	"context"
	"errors"

	"leadhopper_backend/internal/hopper/domain"

	"github.com/jackc/pgx/v5"
)

// applyDispositionQuery writes the outcome only if the lead is still the version
// the caller validated, still held by the caller and not closed.
const applyDispositionQuery = `
	WITH prior AS (
		SELECT id, status
		FROM hopper_leads
		WHERE id = $1 AND version = $2
	), updated AS (
		UPDATE hopper_leads l
		SET disposition = $4,
			status = $5,
			last_disposition_at = $6,
			version = l.version + 1,
			updated_at = $6
		WHERE l.id = $1
			AND l.version = $2
			AND l.assigned_agent_id = $3
			AND l.status IN ('assigned', 'protected')
		RETURNING ` + leadColumns + `
	), audit AS (
		INSERT INTO hopper_lead_events (lead_id, agent_id, event_type, disposition, from_status, to_status, occurred_at)
		SELECT updated.id, $3, 'dispositioned', $4, prior.status, updated.status, $6
		FROM updated JOIN prior ON prior.id = updated.id
	)
	SELECT ` + leadColumns + ` FROM updated`

// ApplyDisposition records the disposition and status transition.
// The bool is false when the version check lost to a concurrent writer.
func (r *Repository) ApplyDisposition(ctx context.Context, p DispositionParams) (domain.Lead, bool, error) {
	lead, err := scanLead(r.pool.QueryRow(ctx, applyDispositionQuery,
		p.LeadID, p.Version, p.AgentID, string(p.Disposition), string(p.NextStatus), p.Now,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Lead{}, false, nil
	}
	if err != nil {
		return domain.Lead{}, false, classify("apply disposition", err)
	}
	return lead, true, nil
}
