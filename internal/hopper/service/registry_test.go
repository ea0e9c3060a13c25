package service

import (
	"context"
	"errors"
	"testing"

	"leadhopper_backend/internal/hopper/domain"
	"leadhopper_backend/platform/apperr"

	"github.com/google/uuid"
)

func intPtr(v int) *int { return &v }

func TestRegisterAgentFillsImmediately(t *testing.T) {
	h := newHopper(testOptions())
	for i := 0; i < 10; i++ {
		h.store.addLead(i)
	}
	id := uuid.New()

	reg, err := h.registry.RegisterAgent(context.Background(), id, " Dana ", intPtr(4))
	if err != nil {
		t.Fatalf("RegisterAgent returned error: %v", err)
	}
	if !reg.Activated || reg.Agent.DisplayName != "Dana" {
		t.Fatalf("expected new active agent Dana, got %+v", reg)
	}
	if reg.Allocation == nil || reg.Allocation.Assigned() != 4 || reg.Agent.CurrentCount != 4 {
		t.Fatalf("expected immediate fill of 4, got %+v", reg.Allocation)
	}
}

func TestRegisterAgentDefaultsCapacity(t *testing.T) {
	opts := testOptions()
	opts.DefaultCapacity = 3
	h := newHopper(opts)

	reg, err := h.registry.RegisterAgent(context.Background(), uuid.New(), "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if reg.Agent.Capacity != 3 {
		t.Fatalf("expected default capacity 3, got %d", reg.Agent.Capacity)
	}
	if reg.Allocation == nil || !reg.Allocation.PoolExhausted {
		t.Fatal("expected empty pool to be reported as exhausted")
	}
}

func TestRegisterAgentRejectsNegativeCapacity(t *testing.T) {
	h := newHopper(testOptions())
	_, err := h.registry.RegisterAgent(context.Background(), uuid.New(), "", intPtr(-1))
	if !errors.Is(err, domain.ErrInvalidCapacity) || apperr.GetKind(err) != apperr.KindValidation {
		t.Fatalf("expected InvalidCapacity, got %v", err)
	}
}

func TestReactivatedAgentIsRefilled(t *testing.T) {
	h := newHopper(testOptions())
	for i := 0; i < 6; i++ {
		h.store.addLead(i)
	}
	id := uuid.New()
	ctx := context.Background()

	if _, err := h.registry.RegisterAgent(ctx, id, "", intPtr(3)); err != nil {
		t.Fatal(err)
	}
	if _, err := h.registry.DeactivateAgent(ctx, id); err != nil {
		t.Fatal(err)
	}
	if _, err := h.registry.ListAssigned(ctx, id); !errors.Is(err, domain.ErrAgentNotFound) {
		t.Fatalf("expected deactivated agent to be not found, got %v", err)
	}

	reg, err := h.registry.RegisterAgent(ctx, id, "", intPtr(3))
	if err != nil {
		t.Fatal(err)
	}
	if !reg.Activated || reg.Allocation.Assigned() != 3 {
		t.Fatalf("expected reactivation with fill of 3, got activated=%v assigned=%d", reg.Activated, reg.Allocation.Assigned())
	}
}

func TestListAssignedReturnsWorkingSet(t *testing.T) {
	h := newHopper(testOptions())
	agent, held := fillAgent(t, h, 3, 5)
	ctx := context.Background()
	if _, err := h.disposition.ApplyDisposition(ctx, held[0].ID, agent, domain.DispositionAppointmentSet); err != nil {
		t.Fatal(err)
	}

	leads, err := h.registry.ListAssigned(ctx, agent)
	if err != nil {
		t.Fatal(err)
	}
	if len(leads) != 3 {
		t.Fatalf("expected assigned plus protected leads, got %d", len(leads))
	}

	if _, err := h.registry.ListAssigned(ctx, uuid.New()); apperr.GetKind(err) != apperr.KindNotFound {
		t.Fatalf("expected not found for unknown agent, got %v", err)
	}
}

func TestIngestLeadsNormalizesAndIsIdempotent(t *testing.T) {
	h := newHopper(testOptions())
	id := uuid.New()
	batch := []domain.NewLead{{
		ID:           id,
		QualityScore: 72,
		Contact: domain.Contact{
			PracticeName: "  <b>Bright Smile</b> Dental ",
			Phone:        "(415) 555-2671",
			Email:        "Front@BrightSmile.example",
		},
	}}

	result, err := h.registry.IngestLeads(context.Background(), batch)
	if err != nil {
		t.Fatalf("IngestLeads returned error: %v", err)
	}
	if result.Inserted != 1 {
		t.Fatalf("expected 1 inserted, got %d", result.Inserted)
	}
	got := h.store.lead(id)
	if got.Status != domain.StatusUnassigned || got.Contact.PracticeName != "Bright Smile Dental" || got.Contact.Phone != "+14155552671" || got.Contact.Email != "front@brightsmile.example" {
		t.Fatalf("unexpected stored lead %+v", got)
	}

	again, err := h.registry.IngestLeads(context.Background(), batch)
	if err != nil || again.Inserted != 0 {
		t.Fatalf("expected re-ingest to insert nothing, got %d (%v)", again.Inserted, err)
	}
}

func TestIngestLeadsRejectsBadPhone(t *testing.T) {
	h := newHopper(testOptions())
	_, err := h.registry.IngestLeads(context.Background(), []domain.NewLead{
		{QualityScore: 1, Contact: domain.Contact{PracticeName: "A", Phone: "not a phone"}},
	})
	if apperr.GetKind(err) != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if n, _ := h.store.CountByStatus(context.Background()); n[domain.StatusUnassigned] != 0 {
		t.Fatal("rejected batch must not insert anything")
	}
}

func TestIngestLeadsRejectsScoreOutsideStoredRange(t *testing.T) {
	h := newHopper(testOptions())
	_, err := h.registry.IngestLeads(context.Background(), []domain.NewLead{
		{QualityScore: 80, Contact: domain.Contact{PracticeName: "Lakeside Family Dental"}},
		{QualityScore: domain.MaxQualityScore + 1, Contact: domain.Contact{PracticeName: "Harbor Orthodontics"}},
		{QualityScore: -1, Contact: domain.Contact{PracticeName: "Elm Street Pediatrics"}},
	})
	if apperr.GetKind(err) != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}

	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *apperr.Error, got %T", err)
	}
	details, _ := appErr.Details.([]string)
	if len(details) != 2 || details[0] != "leads[1].qualityScore" || details[1] != "leads[2].qualityScore" {
		t.Fatalf("expected indexed score errors, got %v", appErr.Details)
	}
	if n, _ := h.store.CountByStatus(context.Background()); n[domain.StatusUnassigned] != 0 {
		t.Fatal("rejected batch must not insert anything")
	}

	largest := domain.MaxQualityScore
	if _, err := h.registry.IngestLeads(context.Background(), []domain.NewLead{
		{QualityScore: largest, Contact: domain.Contact{PracticeName: "Harbor Orthodontics"}},
	}); err != nil {
		t.Fatalf("expected the largest stored score to be accepted, got %v", err)
	}
}
