//go:build integration

package repository

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"leadhopper_backend/internal/hopper/domain"
	"leadhopper_backend/migrations"
	"leadhopper_backend/platform/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Run with: HOPPER_TEST_DATABASE_URL=postgres://... go test -tags integration ./internal/hopper/repository/
// The database is truncated, so point it at a throwaway instance.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("HOPPER_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("HOPPER_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := db.RunMigrations(ctx, pool, migrations.FS); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE hopper_lead_events, hopper_leads, hopper_agents`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return pool
}

func seedPool(t *testing.T, repo *Repository, n int) {
	t.Helper()
	leads := make([]domain.NewLead, n)
	for i := range leads {
		leads[i] = domain.NewLead{
			ID:           uuid.New(),
			QualityScore: i,
			Contact:      domain.Contact{PracticeName: "Practice"},
		}
	}
	if _, err := repo.InsertLeads(context.Background(), leads, time.Now().UTC()); err != nil {
		t.Fatalf("insert leads: %v", err)
	}
}

// allocateUntilSettled retries lock conflicts the way the service does.
func allocateUntilSettled(ctx context.Context, repo *Repository, agentID uuid.UUID, needed int) ([]domain.Lead, error) {
	for attempt := 0; attempt < 50; attempt++ {
		outcome, err := repo.AllocateLeads(ctx, AllocateParams{
			AgentID: agentID,
			Needed:  needed,
			Policy:  domain.PolicyDeprioritize,
			Now:     time.Now().UTC(),
		})
		if errors.Is(err, domain.ErrContention) {
			time.Sleep(time.Duration(attempt+1) * 5 * time.Millisecond)
			continue
		}
		return outcome.Leads, err
	}
	return nil, domain.ErrContention
}

func TestConcurrentAllocationAgainstPostgres(t *testing.T) {
	pool := testPool(t)
	repo := New(pool)
	ctx := context.Background()

	const (
		agents    = 8
		capacity  = 5
		poolSize  = 30
		perAgent  = 3
		overAsked = capacity * 2
	)

	seedPool(t, repo, poolSize)
	ids := make([]uuid.UUID, agents)
	for i := range ids {
		ids[i] = uuid.New()
		if _, _, err := repo.UpsertAgent(ctx, domain.AgentRegistration{ID: ids[i], Capacity: capacity}, time.Now().UTC()); err != nil {
			t.Fatalf("upsert agent: %v", err)
		}
	}

	// Several writers per agent race each other for the agent lock and every
	// agent races the others for pool leads.
	var (
		wg    sync.WaitGroup
		errCh = make(chan error, agents*perAgent)
	)
	for _, id := range ids {
		for w := 0; w < perAgent; w++ {
			wg.Add(1)
			go func(agentID uuid.UUID) {
				defer wg.Done()
				if _, err := allocateUntilSettled(ctx, repo, agentID, overAsked); err != nil {
					errCh <- err
				}
			}(id)
		}
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("allocation failed: %v", err)
	}

	holders := make(map[uuid.UUID]uuid.UUID)
	total := 0
	for _, id := range ids {
		held, err := repo.ListHeldByAgent(ctx, id)
		if err != nil {
			t.Fatalf("list held: %v", err)
		}
		if len(held) > capacity {
			t.Fatalf("agent %s holds %d leads, capacity is %d", id, len(held), capacity)
		}
		for _, l := range held {
			if prev, dup := holders[l.ID]; dup {
				t.Fatalf("lead %s held by both %s and %s", l.ID, prev, id)
			}
			holders[l.ID] = id
		}
		total += len(held)
	}
	if total != poolSize {
		t.Fatalf("expected the whole pool of %d allocated, got %d", poolSize, total)
	}

	var events int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM hopper_lead_events WHERE event_type = 'allocated'`).Scan(&events); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if events != poolSize {
		t.Fatalf("expected one allocation event per lead, got %d", events)
	}
}

func TestReleaseAndDispositionAreVersionChecked(t *testing.T) {
	pool := testPool(t)
	repo := New(pool)
	ctx := context.Background()

	seedPool(t, repo, 2)
	agent := uuid.New()
	if _, _, err := repo.UpsertAgent(ctx, domain.AgentRegistration{ID: agent, Capacity: 2}, time.Now().UTC()); err != nil {
		t.Fatalf("upsert agent: %v", err)
	}
	held, err := allocateUntilSettled(ctx, repo, agent, 2)
	if err != nil || len(held) != 2 {
		t.Fatalf("expected 2 allocated, got %d (%v)", len(held), err)
	}

	first, second := held[0], held[1]
	release := ReleaseParams{LeadID: first.ID, Version: first.Version, Reason: domain.ReasonIdle, Now: time.Now().UTC()}
	if ok, err := repo.ReleaseLead(ctx, release); err != nil || !ok {
		t.Fatalf("expected release, got %v (%v)", ok, err)
	}
	if ok, err := repo.ReleaseLead(ctx, release); err != nil || ok {
		t.Fatalf("expected second release of the same version to miss, got %v (%v)", ok, err)
	}

	apply := DispositionParams{
		LeadID:      second.ID,
		AgentID:     agent,
		Version:     second.Version,
		Disposition: domain.DispositionSaleMade,
		NextStatus:  domain.StatusClosedWon,
		Now:         time.Now().UTC(),
	}
	lead, ok, err := repo.ApplyDisposition(ctx, apply)
	if err != nil || !ok || lead.Status != domain.StatusClosedWon {
		t.Fatalf("expected closed_won, got %s ok=%v (%v)", lead.Status, ok, err)
	}
	if _, ok, err := repo.ApplyDisposition(ctx, apply); err != nil || ok {
		t.Fatalf("expected stale version to miss, got ok=%v (%v)", ok, err)
	}
}

func TestInsertLeadsRejectsScoreBeyondColumnRange(t *testing.T) {
	pool := testPool(t)
	repo := New(pool)

	_, err := repo.InsertLeads(context.Background(), []domain.NewLead{{
		ID:           uuid.New(),
		QualityScore: domain.MaxQualityScore + 1,
		Contact:      domain.Contact{PracticeName: "Practice"},
	}}, time.Now().UTC())
	if err == nil {
		t.Fatal("expected an out-of-range score to fail instead of wrapping")
	}
}
