package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"leadhopper_backend/internal/hopper/domain"
	"leadhopper_backend/internal/hopper/service"
	"leadhopper_backend/internal/hopper/transport"
	"leadhopper_backend/platform/apperr"
	"leadhopper_backend/platform/httpkit"
	"leadhopper_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type fakeServices struct {
	fillCalls    []uuid.UUID
	dispositions []service.DispositionItem
	dispErr      error
	registered   *int
	ingested     []domain.NewLead
	held         []domain.Lead
}

func (f *fakeServices) FillToCapacity(_ context.Context, agentID uuid.UUID) (service.AllocationResult, error) {
	f.fillCalls = append(f.fillCalls, agentID)
	return service.AllocationResult{AgentID: agentID, Requested: 2, Granted: 2, Leads: f.held}, nil
}

func (f *fakeServices) ApplyDisposition(_ context.Context, leadID, agentID uuid.UUID, d domain.Disposition) (service.DispositionResult, error) {
	if f.dispErr != nil {
		return service.DispositionResult{}, f.dispErr
	}
	f.dispositions = append(f.dispositions, service.DispositionItem{LeadID: leadID, Disposition: d})
	status := d.NextStatus(domain.StatusAssigned)
	return service.DispositionResult{
		Lead:     domain.Lead{ID: leadID, Status: status, AssignedAgentID: &agentID, Disposition: &d},
		Terminal: status.IsTerminal(),
	}, nil
}

func (f *fakeServices) ApplyDispositions(_ context.Context, agentID uuid.UUID, items []service.DispositionItem) (service.BatchDispositionResult, error) {
	out := service.BatchDispositionResult{}
	for i, item := range items {
		if i == 0 {
			out.Failed++
			out.Items = append(out.Items, service.DispositionItemResult{
				LeadID: item.LeadID,
				Err:    apperr.Wrap(apperr.KindForbidden, "lead is not held by this agent", domain.ErrNotOwner),
			})
			continue
		}
		lead := domain.Lead{ID: item.LeadID, Status: domain.StatusAssigned, AssignedAgentID: &agentID}
		out.Applied++
		out.Items = append(out.Items, service.DispositionItemResult{LeadID: item.LeadID, Lead: &lead})
	}
	return out, nil
}

func (f *fakeServices) RegisterAgent(_ context.Context, id uuid.UUID, name string, capacity *int) (service.Registration, error) {
	f.registered = capacity
	c := 20
	if capacity != nil {
		c = *capacity
	}
	return service.Registration{
		Agent:      domain.Agent{ID: id, DisplayName: name, Capacity: c, Active: true},
		Activated:  true,
		Allocation: &service.AllocationResult{AgentID: id, PoolExhausted: true},
	}, nil
}

func (f *fakeServices) DeactivateAgent(_ context.Context, id uuid.UUID) (service.ReclaimResult, error) {
	return service.ReclaimResult{Reclaimed: []service.ReclaimedLead{
		{LeadID: uuid.New(), AgentID: id, Reason: domain.ReasonDeactivated},
	}}, nil
}

func (f *fakeServices) ListAssigned(_ context.Context, agentID uuid.UUID) ([]domain.Lead, error) {
	return f.held, nil
}

func (f *fakeServices) IngestLeads(_ context.Context, leads []domain.NewLead) (service.IngestResult, error) {
	f.ingested = leads
	return service.IngestResult{Received: len(leads), Inserted: len(leads)}, nil
}

func (f *fakeServices) ReclaimDue(context.Context) (service.ReclaimResult, error) {
	return service.ReclaimResult{Skipped: 1}, nil
}

func (f *fakeServices) Stats(context.Context) (service.Stats, error) {
	return service.Stats{
		Total:      7,
		Unassigned: 4,
		Assigned:   1,
		Closed:     2,
		ByStatus: map[domain.LeadStatus]int{
			domain.StatusUnassigned: 4,
			domain.StatusAssigned:   1,
			domain.StatusClosedWon:  1,
			domain.StatusClosedLost: 1,
		},
	}, nil
}

// newTestRouter mounts the handler behind a stub that authenticates every
// request as userID with roles.
func newTestRouter(t *testing.T, f *fakeServices, userID uuid.UUID, roles ...string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	val := validator.New()
	if err := transport.RegisterValidations(val); err != nil {
		t.Fatalf("register validations: %v", err)
	}
	h := New(Services{Allocator: f, Dispositions: f, Registry: f, Reclaimer: f, Stats: f}, val)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(httpkit.ContextUserIDKey, userID)
		c.Set(httpkit.ContextRolesKey, roles)
		c.Next()
	})
	h.RegisterRoutes(r.Group("/api/v1/hopper"))
	admin := r.Group("/api/v1/admin/hopper", httpkit.RequireRole(httpkit.RoleAdmin))
	h.RegisterAdminRoutes(admin)
	return r
}

func do(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestApplyDispositionAsOwner(t *testing.T) {
	f := &fakeServices{}
	agent := uuid.New()
	r := newTestRouter(t, f, agent)
	leadID := uuid.New()

	rec := do(r, http.MethodPost, "/api/v1/hopper/leads/"+leadID.String()+"/disposition", map[string]any{
		"agentId":     agent,
		"disposition": "sale_made",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp transport.DispositionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Lead.Status != string(domain.StatusClosedWon) || !resp.Terminal {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestApplyDispositionForAnotherAgentIsForbidden(t *testing.T) {
	f := &fakeServices{}
	r := newTestRouter(t, f, uuid.New())

	rec := do(r, http.MethodPost, "/api/v1/hopper/leads/"+uuid.NewString()+"/disposition", map[string]any{
		"agentId":     uuid.New(),
		"disposition": "contacted",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if len(f.dispositions) != 0 {
		t.Fatal("service must not be called for a forbidden request")
	}
}

func TestAdminMayActForAnyAgent(t *testing.T) {
	f := &fakeServices{}
	r := newTestRouter(t, f, uuid.New(), httpkit.RoleAdmin)

	rec := do(r, http.MethodPost, "/api/v1/hopper/agents/"+uuid.NewString()+"/refill", nil)
	if rec.Code != http.StatusOK || len(f.fillCalls) != 1 {
		t.Fatalf("expected admin refill to succeed, got %d", rec.Code)
	}
}

func TestApplyDispositionRejectsUnknownOutcome(t *testing.T) {
	f := &fakeServices{}
	agent := uuid.New()
	r := newTestRouter(t, f, agent)

	rec := do(r, http.MethodPost, "/api/v1/hopper/leads/"+uuid.NewString()+"/disposition", map[string]any{
		"agentId":     agent,
		"disposition": "hung_up",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var resp struct {
		Details []validator.FieldError `json:"details"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Details) != 1 || resp.Details[0].Field != "disposition" {
		t.Fatalf("expected disposition field error, got %s", rec.Body.String())
	}
}

func TestApplyDispositionMapsDomainErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperr.Wrap(apperr.KindNotFound, "lead not found", domain.ErrLeadNotFound), http.StatusNotFound},
		{apperr.Wrap(apperr.KindForbidden, "not owner", domain.ErrNotOwner), http.StatusForbidden},
		{apperr.Wrap(apperr.KindConflict, "already closed", domain.ErrAlreadyTerminal), http.StatusConflict},
		{apperr.Wrap(apperr.KindUnavailable, "contention", domain.ErrContention), http.StatusServiceUnavailable},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprint(tc.want), func(t *testing.T) {
			agent := uuid.New()
			r := newTestRouter(t, &fakeServices{dispErr: tc.err}, agent)
			rec := do(r, http.MethodPost, "/api/v1/hopper/leads/"+uuid.NewString()+"/disposition", map[string]any{
				"agentId":     agent,
				"disposition": "contacted",
			})
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

func TestBatchDispositionReportsPerItemErrors(t *testing.T) {
	f := &fakeServices{}
	agent := uuid.New()
	r := newTestRouter(t, f, agent)

	rec := do(r, http.MethodPost, "/api/v1/hopper/leads/dispositions", map[string]any{
		"agentId": agent,
		"items": []map[string]any{
			{"leadId": uuid.New(), "disposition": "voicemail"},
			{"leadId": uuid.New(), "disposition": "no_answer"},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp transport.BatchDispositionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Applied != 1 || resp.Failed != 1 {
		t.Fatalf("expected 1 applied and 1 failed, got %+v", resp)
	}
	if resp.Items[0].Error != "lead is not held by this agent" || resp.Items[1].Lead == nil {
		t.Fatalf("unexpected items %+v", resp.Items)
	}
}

func TestListAssignedRequiresAgentID(t *testing.T) {
	r := newTestRouter(t, &fakeServices{}, uuid.New())
	rec := do(r, http.MethodGet, "/api/v1/hopper/leads/assigned", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestListAssignedReturnsWorkingSet(t *testing.T) {
	agent := uuid.New()
	f := &fakeServices{held: []domain.Lead{{ID: uuid.New(), Status: domain.StatusAssigned}, {ID: uuid.New(), Status: domain.StatusProtected}}}
	r := newTestRouter(t, f, agent)

	rec := do(r, http.MethodGet, "/api/v1/hopper/leads/assigned?agentId="+agent.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp transport.AssignedLeadsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Count != 2 || resp.Leads[0].PreviousAgentIDs == nil {
		t.Fatalf("unexpected working set %+v", resp)
	}
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	r := newTestRouter(t, &fakeServices{}, uuid.New())
	rec := do(r, http.MethodPost, "/api/v1/admin/hopper/reclaim", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestReclaimReturnsCount(t *testing.T) {
	r := newTestRouter(t, &fakeServices{}, uuid.New(), httpkit.RoleAdmin)
	rec := do(r, http.MethodPost, "/api/v1/admin/hopper/reclaim", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp transport.ReclaimResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Reclaimed != 0 || resp.Skipped != 1 || resp.Leads == nil {
		t.Fatalf("unexpected reclaim response %+v", resp)
	}
}

func TestRegisterAgentValidatesCapacity(t *testing.T) {
	f := &fakeServices{}
	r := newTestRouter(t, f, uuid.New(), httpkit.RoleAdmin)

	rec := do(r, http.MethodPut, "/api/v1/admin/hopper/agents/"+uuid.NewString(), map[string]any{"capacity": -1})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	rec = do(r, http.MethodPut, "/api/v1/admin/hopper/agents/"+uuid.NewString(), map[string]any{"capacity": 5, "displayName": "Dana"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 for a new agent, got %d: %s", rec.Code, rec.Body.String())
	}
	if f.registered == nil || *f.registered != 5 {
		t.Fatal("expected capacity to be passed through")
	}
	var resp transport.RegisterAgentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Allocation == nil || !resp.Allocation.PoolExhausted {
		t.Fatalf("expected allocation flag in response, got %+v", resp)
	}
}

func TestIngestLeadsValidatesEachLead(t *testing.T) {
	f := &fakeServices{}
	r := newTestRouter(t, f, uuid.New(), httpkit.RoleAdmin)

	rec := do(r, http.MethodPost, "/api/v1/admin/hopper/leads", map[string]any{
		"leads": []map[string]any{
			{"qualityScore": 80, "practiceName": "Lakeside Family Dental"},
			{"qualityScore": 70},
		},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("leads[1].practiceName")) {
		t.Fatalf("expected indexed field error, got %s", rec.Body.String())
	}

	rec = do(r, http.MethodPost, "/api/v1/admin/hopper/leads", map[string]any{
		"leads": []map[string]any{{"qualityScore": 80, "practiceName": "Lakeside Family Dental", "phone": "(415) 555-2671"}},
	})
	if rec.Code != http.StatusCreated || len(f.ingested) != 1 || f.ingested[0].Contact.Phone != "(415) 555-2671" {
		t.Fatalf("expected ingest to pass the raw lead to the registry, got %d", rec.Code)
	}
}

func TestIngestLeadsRejectsScoreBeyondStoredRange(t *testing.T) {
	f := &fakeServices{}
	r := newTestRouter(t, f, uuid.New(), httpkit.RoleAdmin)

	rec := do(r, http.MethodPost, "/api/v1/admin/hopper/leads", map[string]any{
		"leads": []map[string]any{{"qualityScore": 3000000000, "practiceName": "Lakeside Family Dental"}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("leads[0].qualityScore")) {
		t.Fatalf("expected score field error, got %s", rec.Body.String())
	}
	if f.ingested != nil {
		t.Fatal("out-of-range lead must not reach the registry")
	}
}

func TestStatsExposesAggregateTotals(t *testing.T) {
	r := newTestRouter(t, &fakeServices{}, uuid.New(), httpkit.RoleAdmin)

	rec := do(r, http.MethodGet, "/api/v1/admin/hopper/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Total      int `json:"total"`
		Unassigned int `json:"unassigned"`
		Assigned   int `json:"assigned"`
		Protected  int `json:"protected"`
		Closed     int `json:"closed"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Total != 7 || body.Unassigned != 4 || body.Assigned != 1 || body.Protected != 0 || body.Closed != 2 {
		t.Fatalf("unexpected totals %s", rec.Body.String())
	}
}

func TestDeactivateAgentReturnsReclaimedLeads(t *testing.T) {
	r := newTestRouter(t, &fakeServices{}, uuid.New(), httpkit.RoleAdmin)
	rec := do(r, http.MethodDelete, "/api/v1/admin/hopper/agents/"+uuid.NewString(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp transport.ReclaimResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Reclaimed != 1 || resp.Leads[0].Reason != string(domain.ReasonDeactivated) {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestInvalidLeadIDIsBadRequest(t *testing.T) {
	agent := uuid.New()
	r := newTestRouter(t, &fakeServices{}, agent)
	rec := do(r, http.MethodPost, "/api/v1/hopper/leads/not-a-uuid/disposition", map[string]any{
		"agentId":     agent,
		"disposition": "contacted",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
