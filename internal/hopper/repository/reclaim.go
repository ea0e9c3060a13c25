package repository

import (
	"context"
	"errors"

	"leadhopper_backend/internal/hopper/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Keyset-paged so leads skipped after a lost race are not rescanned in the same run.
// Protected leads never match.
const listReclaimableQuery = `SELECT ` + leadColumns + `
	FROM hopper_leads
	WHERE status = 'assigned'
		AND id > $3
		AND (
			assigned_at < $2
			OR (assigned_at < $1 AND last_disposition_at IS NULL)
		)
	ORDER BY id ASC
	LIMIT $4`

// releaseLeadQuery returns the exact version that was judged eligible to the pool.
// $4 lists the statuses the reason allows to be released.
const releaseLeadQuery = `
	WITH prior AS (
		SELECT id, status, assigned_agent_id
		FROM hopper_leads
		WHERE id = $1 AND version = $2 AND status = ANY($4::text[])
	), released AS (
		UPDATE hopper_leads l
		SET status = 'unassigned',
			assigned_agent_id = NULL,
			assigned_at = NULL,
			version = l.version + 1,
			updated_at = $3
		FROM prior
		WHERE l.id = prior.id AND l.version = $2 AND l.status = ANY($4::text[])
		RETURNING l.id
	)
	INSERT INTO hopper_lead_events (lead_id, agent_id, event_type, reason, from_status, to_status, occurred_at)
	SELECT prior.id, prior.assigned_agent_id, 'reclaimed', $5, prior.status, 'unassigned', $3
	FROM released JOIN prior ON prior.id = released.id
	RETURNING lead_id`

// releasableStatuses: the scheduled sweep only touches assigned leads, while an
// agent deactivation also returns protected ones.
func releasableStatuses(reason domain.ReclaimReason) []string {
	if reason == domain.ReasonDeactivated {
		return []string{string(domain.StatusAssigned), string(domain.StatusProtected)}
	}
	return []string{string(domain.StatusAssigned)}
}

// ListReclaimable returns the next page of leads past their idle or max-hold cutoff.
func (r *Repository) ListReclaimable(ctx context.Context, p ReclaimScanParams) ([]domain.Lead, error) {
	rows, err := r.pool.Query(ctx, listReclaimableQuery, p.IdleCutoff, p.MaxHoldCutoff, p.AfterID, p.Limit)
	if err != nil {
		return nil, classify("list reclaimable", err)
	}
	return collectLeads(rows, "list reclaimable")
}

// ReleaseLead returns the lead to the pool if it is still at p.Version.
// False means a concurrent write changed it first.
func (r *Repository) ReleaseLead(ctx context.Context, p ReleaseParams) (bool, error) {
	var leadID uuid.UUID
	err := r.pool.QueryRow(ctx, releaseLeadQuery,
		p.LeadID, p.Version, p.Now, releasableStatuses(p.Reason), string(p.Reason),
	).Scan(&leadID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, classify("release lead", err)
	}
	return true, nil
}
