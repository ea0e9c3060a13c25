package service

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"leadhopper_backend/internal/events"
	"leadhopper_backend/internal/hopper/domain"
	"leadhopper_backend/internal/hopper/repository"
	"leadhopper_backend/platform/logger"

	"github.com/google/uuid"
)

// fakeStore is an in-memory repository.Store. A single mutex stands in for the
// agent row lock plus per-row conditional writes of the real store.
type fakeStore struct {
	mu     sync.Mutex
	leads  map[uuid.UUID]domain.Lead
	agents map[uuid.UUID]domain.Agent

	// allocateErrs are returned, in order, by the next AllocateLeads calls.
	allocateErrs []error
	// beforeDisposition runs after the caller read the lead and before the write lands.
	beforeDisposition func(leadID uuid.UUID)
	// beforeRelease runs before each ReleaseLead.
	beforeRelease func(leadID uuid.UUID)

	allocateCalls int
	disposeCalls  int
}

var _ repository.Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		leads:  make(map[uuid.UUID]domain.Lead),
		agents: make(map[uuid.UUID]domain.Agent),
	}
}

func cloneLead(l domain.Lead) domain.Lead {
	l.PreviousAgentIDs = append([]uuid.UUID(nil), l.PreviousAgentIDs...)
	return l
}

func (f *fakeStore) addAgent(capacity int) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.agents[id] = domain.Agent{ID: id, Capacity: capacity, Active: true}
	return id
}

func (f *fakeStore) addLead(score int) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.leads[id] = domain.Lead{ID: id, QualityScore: score, Status: domain.StatusUnassigned, Version: 1}
	return id
}

func (f *fakeStore) put(l domain.Lead) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l.Version == 0 {
		l.Version = 1
	}
	f.leads[l.ID] = cloneLead(l)
}

func (f *fakeStore) lead(id uuid.UUID) domain.Lead {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneLead(f.leads[id])
}

func (f *fakeStore) heldCountLocked(agentID uuid.UUID) int {
	n := 0
	for _, l := range f.leads {
		if l.HeldBy(agentID) {
			n++
		}
	}
	return n
}

func (f *fakeStore) heldCount(agentID uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.heldCountLocked(agentID)
}

func (f *fakeStore) GetLead(_ context.Context, id uuid.UUID) (domain.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.leads[id]
	if !ok {
		return domain.Lead{}, domain.ErrLeadNotFound
	}
	return cloneLead(l), nil
}

func (f *fakeStore) ListHeldByAgent(_ context.Context, agentID uuid.UUID) ([]domain.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Lead, 0)
	for _, l := range f.leads {
		if l.HeldBy(agentID) {
			out = append(out, cloneLead(l))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QualityScore > out[j].QualityScore })
	return out, nil
}

func (f *fakeStore) AllocateLeads(_ context.Context, p repository.AllocateParams) (repository.AllocateOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allocateCalls++

	if len(f.allocateErrs) > 0 {
		err := f.allocateErrs[0]
		f.allocateErrs = f.allocateErrs[1:]
		if err != nil {
			return repository.AllocateOutcome{}, err
		}
	}

	agent, ok := f.agents[p.AgentID]
	if !ok || !agent.Active {
		return repository.AllocateOutcome{}, domain.ErrAgentNotFound
	}
	agent.CurrentCount = f.heldCountLocked(p.AgentID)

	outcome := repository.AllocateOutcome{Agent: agent, Granted: min(p.Needed, agent.Available())}
	if outcome.Granted <= 0 {
		outcome.Granted = 0
		return outcome, nil
	}

	pool := make([]domain.Lead, 0, len(f.leads))
	for _, l := range f.leads {
		pool = append(pool, l)
	}
	for _, l := range domain.RankCandidates(pool, p.AgentID, p.Policy) {
		if len(outcome.Leads) == outcome.Granted {
			break
		}
		current := f.leads[l.ID]
		if current.Status != domain.StatusUnassigned {
			continue
		}
		agentID := p.AgentID
		at := p.Now
		current.Status = domain.StatusAssigned
		current.AssignedAgentID = &agentID
		current.AssignedAt = &at
		current.LastDispositionAt = nil
		current.Disposition = nil
		current.PreviousAgentIDs = domain.AppendHolder(current.PreviousAgentIDs, agentID)
		current.Version++
		f.leads[l.ID] = current
		outcome.Leads = append(outcome.Leads, cloneLead(current))
	}
	return outcome, nil
}

func (f *fakeStore) ListReclaimable(_ context.Context, p repository.ReclaimScanParams) ([]domain.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Lead, 0)
	for _, l := range f.leads {
		if l.Status != domain.StatusAssigned || l.AssignedAt == nil {
			continue
		}
		if bytes.Compare(l.ID[:], p.AfterID[:]) <= 0 {
			continue
		}
		idle := l.AssignedAt.Before(p.IdleCutoff) && l.LastDispositionAt == nil
		stale := l.AssignedAt.Before(p.MaxHoldCutoff)
		if idle || stale {
			out = append(out, cloneLead(l))
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0 })
	if len(out) > p.Limit {
		out = out[:p.Limit]
	}
	return out, nil
}

func (f *fakeStore) ReleaseLead(_ context.Context, p repository.ReleaseParams) (bool, error) {
	if f.beforeRelease != nil {
		f.beforeRelease(p.LeadID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.leads[p.LeadID]
	if !ok || l.Version != p.Version {
		return false, nil
	}
	allowed := l.Status == domain.StatusAssigned ||
		(p.Reason == domain.ReasonDeactivated && l.Status == domain.StatusProtected)
	if !allowed {
		return false, nil
	}
	l.Status = domain.StatusUnassigned
	l.AssignedAgentID = nil
	l.AssignedAt = nil
	l.Version++
	f.leads[p.LeadID] = l
	return true, nil
}

func (f *fakeStore) ApplyDisposition(_ context.Context, p repository.DispositionParams) (domain.Lead, bool, error) {
	if f.beforeDisposition != nil {
		f.beforeDisposition(p.LeadID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disposeCalls++
	l, ok := f.leads[p.LeadID]
	if !ok || l.Version != p.Version || !l.HeldBy(p.AgentID) {
		return domain.Lead{}, false, nil
	}
	d := p.Disposition
	at := p.Now
	l.Disposition = &d
	l.Status = p.NextStatus
	l.LastDispositionAt = &at
	l.Version++
	f.leads[p.LeadID] = l
	return cloneLead(l), true, nil
}

func (f *fakeStore) InsertLeads(_ context.Context, leads []domain.NewLead, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inserted := 0
	for _, nl := range leads {
		if _, exists := f.leads[nl.ID]; exists {
			continue
		}
		f.leads[nl.ID] = domain.Lead{
			ID:           nl.ID,
			QualityScore: nl.QualityScore,
			Status:       domain.StatusUnassigned,
			Contact:      nl.Contact,
			Version:      1,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		inserted++
	}
	return inserted, nil
}

func (f *fakeStore) GetAgent(_ context.Context, id uuid.UUID) (domain.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.agents[id]
	if !ok {
		return domain.Agent{}, domain.ErrAgentNotFound
	}
	a.CurrentCount = f.heldCountLocked(id)
	return a, nil
}

func (f *fakeStore) UpsertAgent(_ context.Context, reg domain.AgentRegistration, now time.Time) (domain.Agent, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, exists := f.agents[reg.ID]
	activated := !exists || !a.Active
	if !exists {
		a = domain.Agent{ID: reg.ID, CreatedAt: now}
	}
	if reg.DisplayName != "" {
		a.DisplayName = reg.DisplayName
	}
	a.Capacity = reg.Capacity
	a.Active = true
	a.DeactivatedAt = nil
	a.UpdatedAt = now
	f.agents[reg.ID] = a
	a.CurrentCount = f.heldCountLocked(reg.ID)
	return a, activated, nil
}

func (f *fakeStore) DeactivateAgent(_ context.Context, id uuid.UUID, now time.Time) (domain.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.agents[id]
	if !ok {
		return domain.Agent{}, domain.ErrAgentNotFound
	}
	a.Active = false
	if a.DeactivatedAt == nil {
		a.DeactivatedAt = &now
	}
	f.agents[id] = a
	return a, nil
}

func (f *fakeStore) CountByStatus(context.Context) (map[domain.LeadStatus]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[domain.LeadStatus]int)
	for _, s := range domain.AllStatuses {
		counts[s] = 0
	}
	for _, l := range f.leads {
		counts[l.Status]++
	}
	return counts, nil
}

func (f *fakeStore) ListAgentLoads(context.Context) ([]domain.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Agent, 0, len(f.agents))
	for _, a := range f.agents {
		if !a.Active {
			continue
		}
		a.CurrentCount = f.heldCountLocked(a.ID)
		out = append(out, a)
	}
	return out, nil
}

// recordingBus captures published events synchronously.
type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(_ context.Context, e events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *recordingBus) Subscribe(string, events.Handler) {}

func (b *recordingBus) named(name string) []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]events.Event, 0)
	for _, e := range b.events {
		if e.EventName() == name {
			out = append(out, e)
		}
	}
	return out
}

// fixedClock is a settable test clock.
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFixedClock() *fixedClock {
	return &fixedClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// hopper bundles the services over one fake store.
type hopper struct {
	store       *fakeStore
	bus         *recordingBus
	clock       *fixedClock
	allocator   *Allocator
	reclaimer   *Reclaimer
	disposition *DispositionHandler
	registry    *Registry
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.RetryBaseDelay = 0
	return opts
}

func newHopper(opts Options) *hopper {
	store := newFakeStore()
	bus := &recordingBus{}
	clock := newFixedClock()
	log := logger.Discard()

	allocator := NewAllocator(store, bus, log, nil, opts)
	allocator.now = clock.Now
	reclaimer := NewReclaimer(store, store, bus, log, nil, opts)
	reclaimer.now = clock.Now
	disposition := NewDispositionHandler(store, allocator, nil, bus, log, nil, opts)
	disposition.now = clock.Now
	registry := NewRegistry(store, allocator, reclaimer, log, opts)
	registry.now = clock.Now

	return &hopper{
		store:       store,
		bus:         bus,
		clock:       clock,
		allocator:   allocator,
		reclaimer:   reclaimer,
		disposition: disposition,
		registry:    registry,
	}
}
