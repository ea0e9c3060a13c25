package repository

import (
	"context"
	"errors"
	"fmt"

	"leadhopper_backend/internal/hopper/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// NOWAIT turns a second concurrent allocation for the same agent into an
// immediate 55P03 instead of a queue, which the service retries with backoff.
const lockAgentQuery = `
	SELECT id, display_name, capacity, active, deactivated_at, created_at, updated_at
	FROM hopper_agents
	WHERE id = $1
	FOR UPDATE NOWAIT`

const countHeldQuery = `
	SELECT COUNT(*)::int
	FROM hopper_leads
	WHERE assigned_agent_id = $1 AND status IN ('assigned', 'protected')`

const candidateSelect = `
	SELECT id
	FROM hopper_leads
	WHERE status = 'unassigned'
		AND id <> ALL($1::uuid[])`

// Pool leads another allocator is already claiming are skipped, not waited on.
const candidateLock = `
	LIMIT $2
	FOR UPDATE SKIP LOCKED`

// assignLeadQuery is the per-lead conditional write. A lead that left the pool
// since it was selected matches zero rows and is skipped by the caller.
const assignLeadQuery = `
	WITH assigned AS (
		UPDATE hopper_leads
		SET status = 'assigned',
			assigned_agent_id = $2,
			assigned_at = $3,
			last_disposition_at = NULL,
			disposition = NULL,
			previous_agent_ids = CASE
				WHEN previous_agent_ids[cardinality(previous_agent_ids)] = $2 THEN previous_agent_ids
				ELSE array_append(previous_agent_ids, $2)
			END,
			version = version + 1,
			updated_at = $3
		WHERE id = $1 AND status = 'unassigned'
		RETURNING ` + leadColumns + `
	), audit AS (
		INSERT INTO hopper_lead_events (lead_id, agent_id, event_type, from_status, to_status, occurred_at)
		SELECT id, $2, 'allocated', 'unassigned', 'assigned', $3 FROM assigned
	)
	SELECT ` + leadColumns + ` FROM assigned`

// candidateQuery returns the ranked pool scan for policy and whether it takes
// the agent id as $3. $1 is the ids already tried in this transaction, $2 the limit.
func candidateQuery(policy domain.SelectionPolicy) (string, bool) {
	switch policy {
	case domain.PolicyExclude:
		return candidateSelect + `
		AND NOT ($3::uuid = ANY(previous_agent_ids))
	ORDER BY quality_score DESC, id ASC` + candidateLock, true
	case domain.PolicyIgnore:
		return candidateSelect + `
	ORDER BY quality_score DESC, id ASC` + candidateLock, false
	default:
		return candidateSelect + `
	ORDER BY ($3::uuid = ANY(previous_agent_ids)) ASC, quality_score DESC, id ASC` + candidateLock, true
	}
}

// AllocateLeads runs one allocation transaction: lock the agent row, derive its
// held count, clamp the request to free capacity and assign the best pool
// leads one conditional write at a time.
func (r *Repository) AllocateLeads(ctx context.Context, p AllocateParams) (AllocateOutcome, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return AllocateOutcome{}, classify("allocate: begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var agent domain.Agent
	err = tx.QueryRow(ctx, lockAgentQuery, p.AgentID).Scan(
		&agent.ID, &agent.DisplayName, &agent.Capacity, &agent.Active, &agent.DeactivatedAt,
		&agent.CreatedAt, &agent.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return AllocateOutcome{}, domain.ErrAgentNotFound
	}
	if err != nil {
		return AllocateOutcome{}, classify("allocate: lock agent", err)
	}
	if !agent.Active {
		return AllocateOutcome{}, domain.ErrAgentNotFound
	}

	if err := tx.QueryRow(ctx, countHeldQuery, p.AgentID).Scan(&agent.CurrentCount); err != nil {
		return AllocateOutcome{}, classify("allocate: count held", err)
	}

	outcome := AllocateOutcome{Agent: agent, Granted: min(p.Needed, agent.Available())}
	if outcome.Granted <= 0 {
		outcome.Granted = 0
		return outcome, nil
	}

	query, withAgent := candidateQuery(p.Policy)
	tried := make([]uuid.UUID, 0, outcome.Granted)
	for len(outcome.Leads) < outcome.Granted {
		want := outcome.Granted - len(outcome.Leads)
		args := []any{tried, want}
		if withAgent {
			args = append(args, p.AgentID)
		}
		ids, err := selectCandidates(ctx, tx, query, args...)
		if err != nil {
			return AllocateOutcome{}, err
		}
		if len(ids) == 0 {
			break
		}
		tried = append(tried, ids...)

		for _, id := range ids {
			lead, err := scanLead(tx.QueryRow(ctx, assignLeadQuery, id, p.AgentID, p.Now))
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			if err != nil {
				return AllocateOutcome{}, classify("allocate: assign lead", err)
			}
			outcome.Leads = append(outcome.Leads, lead)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return AllocateOutcome{}, classify("allocate: commit", err)
	}
	return outcome, nil
}

func selectCandidates(ctx context.Context, tx pgx.Tx, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("allocate: select candidates", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("allocate: scan candidates: %w", err)
	}
	return ids, nil
}
