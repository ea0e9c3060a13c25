// Package seed loads development fixtures into the hopper through the same
// registry operations the admin API uses.
package seed

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"leadhopper_backend/internal/hopper/domain"
	"leadhopper_backend/internal/hopper/service"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Fixture is the YAML document shape.
type Fixture struct {
	Leads  []LeadFixture  `yaml:"leads"`
	Agents []AgentFixture `yaml:"agents"`
}

// LeadFixture is one pool entry. A missing id is generated on ingest.
type LeadFixture struct {
	ID           string `yaml:"id,omitempty"`
	QualityScore int    `yaml:"quality_score"`
	PracticeName string `yaml:"practice_name"`
	ContactName  string `yaml:"contact_name,omitempty"`
	Phone        string `yaml:"phone,omitempty"`
	Email        string `yaml:"email,omitempty"`
	City         string `yaml:"city,omitempty"`
	Specialty    string `yaml:"specialty,omitempty"`
	Source       string `yaml:"source,omitempty"`
}

// AgentFixture registers one agent. A missing capacity uses the configured default.
type AgentFixture struct {
	ID          string `yaml:"id"`
	DisplayName string `yaml:"display_name,omitempty"`
	Capacity    *int   `yaml:"capacity,omitempty"`
}

// Registry is the subset of the hopper registry the loader drives.
type Registry interface {
	IngestLeads(ctx context.Context, leads []domain.NewLead) (service.IngestResult, error)
	RegisterAgent(ctx context.Context, id uuid.UUID, displayName string, capacity *int) (service.Registration, error)
}

// Summary reports what a load did.
type Summary struct {
	LeadsInserted    int
	AgentsRegistered int
	LeadsAllocated   int
}

// LoadFile reads and parses a fixture file.
func LoadFile(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a fixture and checks ids. Unknown keys are rejected so a
// typo does not silently drop data.
func Parse(data []byte) (*Fixture, error) {
	var f Fixture
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	for i, l := range f.Leads {
		if l.ID == "" {
			continue
		}
		if _, err := uuid.Parse(l.ID); err != nil {
			return nil, fmt.Errorf("leads[%d].id: %w", i, err)
		}
	}
	for i, a := range f.Agents {
		if _, err := uuid.Parse(a.ID); err != nil {
			return nil, fmt.Errorf("agents[%d].id: %w", i, err)
		}
	}
	return &f, nil
}

// Apply ingests the leads first so that registering agents fills their hoppers.
func (f *Fixture) Apply(ctx context.Context, reg Registry) (Summary, error) {
	var summary Summary

	if len(f.Leads) > 0 {
		leads := make([]domain.NewLead, len(f.Leads))
		for i, l := range f.Leads {
			var id uuid.UUID
			if l.ID != "" {
				id = uuid.MustParse(l.ID)
			}
			leads[i] = domain.NewLead{
				ID:           id,
				QualityScore: l.QualityScore,
				Contact: domain.Contact{
					PracticeName: l.PracticeName,
					ContactName:  l.ContactName,
					Phone:        l.Phone,
					Email:        l.Email,
					City:         l.City,
					Specialty:    l.Specialty,
					Source:       l.Source,
				},
			}
		}
		result, err := reg.IngestLeads(ctx, leads)
		if err != nil {
			return summary, fmt.Errorf("ingest leads: %w", err)
		}
		summary.LeadsInserted = result.Inserted
	}

	for _, a := range f.Agents {
		r, err := reg.RegisterAgent(ctx, uuid.MustParse(a.ID), a.DisplayName, a.Capacity)
		if err != nil {
			return summary, fmt.Errorf("register agent %s: %w", a.ID, err)
		}
		summary.AgentsRegistered++
		if r.Allocation != nil {
			summary.LeadsAllocated += r.Allocation.Assigned()
		}
	}
	return summary, nil
}
