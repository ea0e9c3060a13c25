// Package repository is the Postgres-backed lead store and agent registry.
// Every mutation encodes exactly one legal transition and is guarded by a
// conditional WHERE clause, so concurrent writers can never overwrite each other.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leadhopper_backend/internal/hopper/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is the pgx surface the repository needs. *pgxpool.Pool satisfies it.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

var _ DBTX = (*pgxpool.Pool)(nil)

// Repository implements Store on a pgx pool.
type Repository struct {
	pool DBTX
}

// New creates a new hopper repository.
func New(pool DBTX) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

const leadColumns = `id, quality_score, status, assigned_agent_id, assigned_at, last_disposition_at,
	previous_agent_ids, disposition, version,
	practice_name, contact_name, phone, email, city, specialty, source,
	created_at, updated_at`

const getLeadQuery = `SELECT ` + leadColumns + ` FROM hopper_leads WHERE id = $1`

const listHeldByAgentQuery = `SELECT ` + leadColumns + `
	FROM hopper_leads
	WHERE assigned_agent_id = $1 AND status IN ('assigned', 'protected')
	ORDER BY status DESC, quality_score DESC, id ASC`

const agentColumns = `a.id, a.display_name, a.capacity, a.active, a.deactivated_at, a.created_at, a.updated_at,
	(SELECT COUNT(*) FROM hopper_leads l
	  WHERE l.assigned_agent_id = a.id AND l.status IN ('assigned', 'protected'))::int AS current_count`

const getAgentQuery = `SELECT ` + agentColumns + ` FROM hopper_agents a WHERE a.id = $1`

// Upsert returns whether the row was inserted or flipped from inactive to active
// so the caller knows to fill the hopper.
const upsertAgentQuery = `
	WITH prior AS (
		SELECT active FROM hopper_agents WHERE id = $1
	), upserted AS (
		INSERT INTO hopper_agents (id, display_name, capacity, active, created_at, updated_at)
		VALUES ($1, $2, $3, TRUE, $4, $4)
		ON CONFLICT (id) DO UPDATE
		SET display_name = CASE WHEN EXCLUDED.display_name = '' THEN hopper_agents.display_name ELSE EXCLUDED.display_name END,
			capacity = EXCLUDED.capacity,
			active = TRUE,
			deactivated_at = NULL,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	)
	SELECT COALESCE((SELECT NOT active FROM prior), TRUE) FROM upserted`

const deactivateAgentQuery = `
	UPDATE hopper_agents
	SET active = FALSE,
		deactivated_at = COALESCE(deactivated_at, $2),
		updated_at = $2
	WHERE id = $1`

const insertLeadsQuery = `
	INSERT INTO hopper_leads (
		id, quality_score, status, practice_name, contact_name, phone, email, city, specialty, source,
		created_at, updated_at
	)
	SELECT
		u.id, u.quality_score, 'unassigned', u.practice_name, u.contact_name, u.phone, u.email, u.city,
		u.specialty, u.source, $10, $10
	FROM unnest($1::uuid[], $2::int[], $3::text[], $4::text[], $5::text[], $6::text[], $7::text[], $8::text[], $9::text[])
		AS u(id, quality_score, practice_name, contact_name, phone, email, city, specialty, source)
	ON CONFLICT (id) DO NOTHING`

const countByStatusQuery = `SELECT status, COUNT(*)::int FROM hopper_leads GROUP BY status`

const listAgentLoadsQuery = `SELECT ` + agentColumns + `
	FROM hopper_agents a
	WHERE a.active
	ORDER BY a.display_name, a.id`

// GetLead loads a lead by id.
func (r *Repository) GetLead(ctx context.Context, id uuid.UUID) (domain.Lead, error) {
	lead, err := scanLead(r.pool.QueryRow(ctx, getLeadQuery, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Lead{}, domain.ErrLeadNotFound
	}
	if err != nil {
		return domain.Lead{}, fmt.Errorf("get lead: %w", err)
	}
	return lead, nil
}

// ListHeldByAgent returns the agent's working set, protected leads first.
func (r *Repository) ListHeldByAgent(ctx context.Context, agentID uuid.UUID) ([]domain.Lead, error) {
	rows, err := r.pool.Query(ctx, listHeldByAgentQuery, agentID)
	if err != nil {
		return nil, fmt.Errorf("list held leads: %w", err)
	}
	return collectLeads(rows, "list held leads")
}

// GetAgent loads an agent with its derived current count.
func (r *Repository) GetAgent(ctx context.Context, id uuid.UUID) (domain.Agent, error) {
	agent, err := scanAgent(r.pool.QueryRow(ctx, getAgentQuery, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Agent{}, domain.ErrAgentNotFound
	}
	if err != nil {
		return domain.Agent{}, fmt.Errorf("get agent: %w", err)
	}
	return agent, nil
}

// UpsertAgent registers or updates an agent and reactivates it if needed.
// The bool reports whether the agent is newly active.
func (r *Repository) UpsertAgent(ctx context.Context, reg domain.AgentRegistration, now time.Time) (domain.Agent, bool, error) {
	var activated bool
	if err := r.pool.QueryRow(ctx, upsertAgentQuery, reg.ID, reg.DisplayName, reg.Capacity, now).Scan(&activated); err != nil {
		return domain.Agent{}, false, fmt.Errorf("upsert agent: %w", err)
	}
	agent, err := r.GetAgent(ctx, reg.ID)
	if err != nil {
		return domain.Agent{}, false, err
	}
	return agent, activated, nil
}

// DeactivateAgent marks the agent inactive. Taking the row lock here
// serializes with any in-flight allocation for the same agent.
func (r *Repository) DeactivateAgent(ctx context.Context, id uuid.UUID, now time.Time) (domain.Agent, error) {
	tag, err := r.pool.Exec(ctx, deactivateAgentQuery, id, now)
	if err != nil {
		return domain.Agent{}, classify("deactivate agent", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Agent{}, domain.ErrAgentNotFound
	}
	return r.GetAgent(ctx, id)
}

// InsertLeads adds new leads to the pool. Existing ids are left untouched.
func (r *Repository) InsertLeads(ctx context.Context, leads []domain.NewLead, now time.Time) (int, error) {
	if len(leads) == 0 {
		return 0, nil
	}

	n := len(leads)
	ids := make([]uuid.UUID, n)
	scores := make([]int64, n)
	practice := make([]string, n)
	contact := make([]string, n)
	phone := make([]string, n)
	email := make([]string, n)
	city := make([]string, n)
	specialty := make([]string, n)
	source := make([]string, n)
	for i, l := range leads {
		ids[i] = l.ID
		scores[i] = int64(l.QualityScore)
		practice[i] = l.Contact.PracticeName
		contact[i] = l.Contact.ContactName
		phone[i] = l.Contact.Phone
		email[i] = l.Contact.Email
		city[i] = l.Contact.City
		specialty[i] = l.Contact.Specialty
		source[i] = l.Contact.Source
	}

	tag, err := r.pool.Exec(ctx, insertLeadsQuery,
		ids, scores, practice, contact, phone, email, city, specialty, source, now)
	if err != nil {
		return 0, fmt.Errorf("insert leads: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// CountByStatus returns the number of leads in each status. Missing statuses count zero.
func (r *Repository) CountByStatus(ctx context.Context) (map[domain.LeadStatus]int, error) {
	rows, err := r.pool.Query(ctx, countByStatusQuery)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.LeadStatus]int, len(domain.AllStatuses))
	for _, s := range domain.AllStatuses {
		counts[s] = 0
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[domain.LeadStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	return counts, nil
}

// ListAgentLoads returns every active agent with its derived count.
func (r *Repository) ListAgentLoads(ctx context.Context) ([]domain.Agent, error) {
	rows, err := r.pool.Query(ctx, listAgentLoadsQuery)
	if err != nil {
		return nil, fmt.Errorf("list agent loads: %w", err)
	}
	defer rows.Close()

	agents := make([]domain.Agent, 0)
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent load: %w", err)
		}
		agents = append(agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agent loads: %w", err)
	}
	return agents, nil
}

func scanLead(row pgx.Row) (domain.Lead, error) {
	var (
		lead        domain.Lead
		status      string
		disposition *string
	)
	if err := row.Scan(
		&lead.ID, &lead.QualityScore, &status, &lead.AssignedAgentID, &lead.AssignedAt, &lead.LastDispositionAt,
		&lead.PreviousAgentIDs, &disposition, &lead.Version,
		&lead.Contact.PracticeName, &lead.Contact.ContactName, &lead.Contact.Phone, &lead.Contact.Email,
		&lead.Contact.City, &lead.Contact.Specialty, &lead.Contact.Source,
		&lead.CreatedAt, &lead.UpdatedAt,
	); err != nil {
		return domain.Lead{}, err
	}
	lead.Status = domain.LeadStatus(status)
	if disposition != nil {
		d := domain.Disposition(*disposition)
		lead.Disposition = &d
	}
	return lead, nil
}

func collectLeads(rows pgx.Rows, op string) ([]domain.Lead, error) {
	defer rows.Close()

	leads := make([]domain.Lead, 0)
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		leads = append(leads, lead)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate: %w", op, err)
	}
	return leads, nil
}

func scanAgent(row pgx.Row) (domain.Agent, error) {
	var agent domain.Agent
	err := row.Scan(
		&agent.ID, &agent.DisplayName, &agent.Capacity, &agent.Active, &agent.DeactivatedAt,
		&agent.CreatedAt, &agent.UpdatedAt, &agent.CurrentCount,
	)
	return agent, err
}
