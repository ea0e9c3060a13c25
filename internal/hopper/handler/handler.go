package handler

import (
	"context"
	"errors"
	"net/http"

	"leadhopper_backend/internal/hopper/domain"
	"leadhopper_backend/internal/hopper/service"
	"leadhopper_backend/internal/hopper/transport"
	"leadhopper_backend/platform/apperr"
	"leadhopper_backend/platform/httpkit"
	"leadhopper_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
	msgInvalidID        = "invalid id"
	msgActForOther      = "cannot act on another agent's hopper"
)

// Allocator is the allocation surface the handler needs.
type Allocator interface {
	FillToCapacity(ctx context.Context, agentID uuid.UUID) (service.AllocationResult, error)
}

// Dispositions records call outcomes.
type Dispositions interface {
	ApplyDisposition(ctx context.Context, leadID, agentID uuid.UUID, d domain.Disposition) (service.DispositionResult, error)
	ApplyDispositions(ctx context.Context, agentID uuid.UUID, items []service.DispositionItem) (service.BatchDispositionResult, error)
}

// Registry manages agents and ingestion.
type Registry interface {
	RegisterAgent(ctx context.Context, id uuid.UUID, displayName string, capacity *int) (service.Registration, error)
	DeactivateAgent(ctx context.Context, id uuid.UUID) (service.ReclaimResult, error)
	ListAssigned(ctx context.Context, agentID uuid.UUID) ([]domain.Lead, error)
	IngestLeads(ctx context.Context, leads []domain.NewLead) (service.IngestResult, error)
}

// Reclaimer runs a reclaim pass on demand.
type Reclaimer interface {
	ReclaimDue(ctx context.Context) (service.ReclaimResult, error)
}

// Stats serves the operator overview.
type Stats interface {
	Stats(ctx context.Context) (service.Stats, error)
}

// Services groups the handler's collaborators.
type Services struct {
	Allocator    Allocator
	Dispositions Dispositions
	Registry     Registry
	Reclaimer    Reclaimer
	Stats        Stats
}

// Handler handles HTTP requests for the lead hopper.
type Handler struct {
	svc Services
	val *validator.Validator
}

// New creates a new hopper handler.
func New(svc Services, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// RegisterRoutes registers the agent-facing routes.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/leads/assigned", h.ListAssigned)
	rg.POST("/leads/dispositions", h.ApplyDispositions)
	rg.POST("/leads/:id/disposition", h.ApplyDisposition)
	rg.POST("/agents/:id/refill", h.Refill)
}

// RegisterAdminRoutes registers the operator routes. The caller guards the group.
func (h *Handler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.POST("/reclaim", h.Reclaim)
	rg.GET("/stats", h.Stats)
	rg.PUT("/agents/:id", h.RegisterAgent)
	rg.DELETE("/agents/:id", h.DeactivateAgent)
	rg.POST("/leads", h.IngestLeads)
}

// authorizeAgent aborts with 403 unless the caller may act for agentID.
func authorizeAgent(c *gin.Context, agentID uuid.UUID) bool {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return false
	}
	if !identity.CanActFor(agentID) {
		httpkit.Error(c, http.StatusForbidden, msgActForOther, nil)
		return false
	}
	return true
}

func parseIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return uuid.UUID{}, false
	}
	return id, true
}

func (h *Handler) bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return false
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.Details(err))
		return false
	}
	return true
}

// ListAssigned handles GET /api/v1/hopper/leads/assigned
func (h *Handler) ListAssigned(c *gin.Context) {
	var req transport.ListAssignedRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, err.Error())
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.Details(err))
		return
	}
	agentID := uuid.MustParse(req.AgentID)
	if !authorizeAgent(c, agentID) {
		return
	}

	leads, err := h.svc.Registry.ListAssigned(c.Request.Context(), agentID)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, transport.AssignedLeadsResponse{
		AgentID: agentID,
		Count:   len(leads),
		Leads:   transport.ToLeadResponses(leads),
	})
}

// ApplyDisposition handles POST /api/v1/hopper/leads/:id/disposition
func (h *Handler) ApplyDisposition(c *gin.Context) {
	leadID, ok := parseIDParam(c)
	if !ok {
		return
	}
	var req transport.DispositionRequest
	if !h.bindJSON(c, &req) {
		return
	}
	if !authorizeAgent(c, req.AgentID) {
		return
	}

	result, err := h.svc.Dispositions.ApplyDisposition(c.Request.Context(), leadID, req.AgentID, domain.Disposition(req.Disposition))
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, transport.DispositionResponse{
		Lead:          transport.ToLeadResponse(result.Lead),
		Terminal:      result.Terminal,
		Replenishment: toReplenishmentResponse(result.Replenishment),
	})
}

// ApplyDispositions handles POST /api/v1/hopper/leads/dispositions
func (h *Handler) ApplyDispositions(c *gin.Context) {
	var req transport.BatchDispositionRequest
	if !h.bindJSON(c, &req) {
		return
	}
	if !authorizeAgent(c, req.AgentID) {
		return
	}

	items := make([]service.DispositionItem, len(req.Items))
	for i, item := range req.Items {
		items[i] = service.DispositionItem{LeadID: item.LeadID, Disposition: domain.Disposition(item.Disposition)}
	}

	result, err := h.svc.Dispositions.ApplyDispositions(c.Request.Context(), req.AgentID, items)
	if httpkit.HandleError(c, err) {
		return
	}

	resp := transport.BatchDispositionResponse{
		Applied:       result.Applied,
		Failed:        result.Failed,
		Items:         make([]transport.BatchItemResponse, len(result.Items)),
		Replenishment: toReplenishmentResponse(result.Replenishment),
	}
	for i, item := range result.Items {
		entry := transport.BatchItemResponse{LeadID: item.LeadID}
		if item.Err != nil {
			entry.Error = itemError(item.Err)
		} else if item.Lead != nil {
			lead := transport.ToLeadResponse(*item.Lead)
			entry.Lead = &lead
		}
		resp.Items[i] = entry
	}
	httpkit.OK(c, resp)
}

// Refill handles POST /api/v1/hopper/agents/:id/refill
func (h *Handler) Refill(c *gin.Context) {
	agentID, ok := parseIDParam(c)
	if !ok {
		return
	}
	if !authorizeAgent(c, agentID) {
		return
	}

	result, err := h.svc.Allocator.FillToCapacity(c.Request.Context(), agentID)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, toAllocationResponse(result))
}

// Reclaim handles POST /api/v1/admin/hopper/reclaim
func (h *Handler) Reclaim(c *gin.Context) {
	result, err := h.svc.Reclaimer.ReclaimDue(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toReclaimResponse(result))
}

// Stats handles GET /api/v1/admin/hopper/stats
func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.svc.Stats.Stats(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, stats)
}

// RegisterAgent handles PUT /api/v1/admin/hopper/agents/:id
func (h *Handler) RegisterAgent(c *gin.Context) {
	agentID, ok := parseIDParam(c)
	if !ok {
		return
	}
	var req transport.RegisterAgentRequest
	if !h.bindJSON(c, &req) {
		return
	}

	reg, err := h.svc.Registry.RegisterAgent(c.Request.Context(), agentID, req.DisplayName, req.Capacity)
	if httpkit.HandleError(c, err) {
		return
	}

	resp := transport.RegisterAgentResponse{
		Agent:           transport.ToAgentResponse(reg.Agent),
		Activated:       reg.Activated,
		AllocationError: reg.AllocationError,
	}
	if reg.Allocation != nil {
		alloc := toAllocationResponse(*reg.Allocation)
		resp.Allocation = &alloc
	}
	status := http.StatusOK
	if reg.Activated {
		status = http.StatusCreated
	}
	httpkit.JSON(c, status, resp)
}

// DeactivateAgent handles DELETE /api/v1/admin/hopper/agents/:id
func (h *Handler) DeactivateAgent(c *gin.Context) {
	agentID, ok := parseIDParam(c)
	if !ok {
		return
	}

	result, err := h.svc.Registry.DeactivateAgent(c.Request.Context(), agentID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toReclaimResponse(result))
}

// IngestLeads handles POST /api/v1/admin/hopper/leads
func (h *Handler) IngestLeads(c *gin.Context) {
	var req transport.IngestLeadsRequest
	if !h.bindJSON(c, &req) {
		return
	}

	result, err := h.svc.Registry.IngestLeads(c.Request.Context(), transport.ToNewLeads(req))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusCreated, transport.IngestLeadsResponse{
		Received: result.Received,
		Inserted: result.Inserted,
	})
}

func toAllocationResponse(r service.AllocationResult) transport.AllocationResponse {
	return transport.AllocationResponse{
		AgentID:       r.AgentID,
		Requested:     r.Requested,
		Assigned:      r.Assigned(),
		PoolExhausted: r.PoolExhausted,
		Leads:         transport.ToLeadResponses(r.Leads),
	}
}

func toReplenishmentResponse(r *service.Replenishment) *transport.ReplenishmentResponse {
	if r == nil {
		return nil
	}
	resp := &transport.ReplenishmentResponse{ReplenishmentError: r.Error, Queued: r.Queued}
	if r.Allocation != nil {
		alloc := toAllocationResponse(*r.Allocation)
		resp.Allocation = &alloc
	}
	return resp
}

func toReclaimResponse(r service.ReclaimResult) transport.ReclaimResponse {
	leads := make([]transport.ReclaimedLeadResponse, len(r.Reclaimed))
	for i, l := range r.Reclaimed {
		leads[i] = transport.ReclaimedLeadResponse{LeadID: l.LeadID, AgentID: l.AgentID, Reason: string(l.Reason)}
	}
	return transport.ReclaimResponse{Reclaimed: len(leads), Skipped: r.Skipped, Leads: leads}
}

// itemError renders a per-item failure without leaking internal detail.
func itemError(err error) string {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Kind == apperr.KindInternal {
		return "internal error"
	}
	return appErr.Message
}
