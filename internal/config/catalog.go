package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// CatalogService is a service entry of catalog.yaml.
type CatalogService struct {
	Title           string  `yaml:"title"`
	Description     string  `yaml:"description"`
	Price           float64 `yaml:"price"`
	DurationMinutes int     `yaml:"duration_minutes"`
}

// CatalogSpecialist is a specialist entry of catalog.yaml. Services lists service titles.
type CatalogSpecialist struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	WorkStart   string   `yaml:"work_start"` // "10:00"
	WorkEnd     string   `yaml:"work_end"`   // "19:00"
	Active      *bool    `yaml:"active,omitempty"`
	Services    []string `yaml:"services"`
}

// IsActive defaults to true when the flag is omitted.
func (s CatalogSpecialist) IsActive() bool {
	return s.Active == nil || *s.Active
}

// SlotPublishing controls automatic free-time publication from work hours.
type SlotPublishing struct {
	DaysAhead   int   `yaml:"days_ahead"`
	StepMinutes int   `yaml:"step_minutes"`
	DaysOff     []int `yaml:"days_off"` // 1=Mon, 7=Sun
}

// Catalog is the root of catalog.yaml.
type Catalog struct {
	Services    []CatalogService    `yaml:"services"`
	Specialists []CatalogSpecialist `yaml:"specialists"`
	Slots       SlotPublishing      `yaml:"slots"`
}

// LoadCatalog loads and validates the catalog seed file.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		path = "configs/catalog.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	if err := cat.Validate(); err != nil {
		return nil, fmt.Errorf("validate catalog: %w", err)
	}

	if cat.Slots.StepMinutes <= 0 {
		cat.Slots.StepMinutes = 30
	}
	return &cat, nil
}

// Validate checks the catalog for duplicates and dangling references.
func (c *Catalog) Validate() error {
	titles := make(map[string]bool)
	for i, s := range c.Services {
		key := strings.ToLower(strings.TrimSpace(s.Title))
		if key == "" {
			return fmt.Errorf("services[%d]: title is required", i)
		}
		if titles[key] {
			return fmt.Errorf("services[%d]: duplicate title '%s'", i, s.Title)
		}
		titles[key] = true

		if s.Price < 0 {
			return fmt.Errorf("services[%d]: price cannot be negative", i)
		}
		if s.DurationMinutes < 0 {
			return fmt.Errorf("services[%d]: duration cannot be negative", i)
		}
	}

	names := make(map[string]bool)
	for i, sp := range c.Specialists {
		key := strings.ToLower(strings.TrimSpace(sp.Name))
		if key == "" {
			return fmt.Errorf("specialists[%d]: name is required", i)
		}
		if names[key] {
			return fmt.Errorf("specialists[%d]: duplicate name '%s'", i, sp.Name)
		}
		names[key] = true

		if err := validateWorkHours(sp.WorkStart, sp.WorkEnd); err != nil {
			return fmt.Errorf("specialists[%d]: %w", i, err)
		}
		for _, title := range sp.Services {
			if !titles[strings.ToLower(strings.TrimSpace(title))] {
				return fmt.Errorf("specialists[%d]: unknown service '%s'", i, title)
			}
		}
	}

	for i, d := range c.Slots.DaysOff {
		if d < 1 || d > 7 {
			return fmt.Errorf("slots.days_off[%d]: invalid day %d, must be 1-7 (1=Mon, 7=Sun)", i, d)
		}
	}
	return nil
}

func validateWorkHours(start, end string) error {
	if start == "" && end == "" {
		return nil
	}
	if start == "" || end == "" {
		return fmt.Errorf("work_start and work_end must be set together")
	}
	s, err := time.Parse("15:04", start)
	if err != nil {
		return fmt.Errorf("work_start: invalid format '%s', expected HH:MM", start)
	}
	e, err := time.Parse("15:04", end)
	if err != nil {
		return fmt.Errorf("work_end: invalid format '%s', expected HH:MM", end)
	}
	if !e.After(s) {
		return fmt.Errorf("work_end must be after work_start")
	}
	return nil
}
