package rules

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MLidstrom/Castellan-sub000/pkg/models"
)

// Definition is one declarative correlation rule.
type Definition struct {
	ID            string                 `yaml:"id"`
	Name          string                 `yaml:"name"`
	Description   string                 `yaml:"description"`
	Type          models.CorrelationType `yaml:"type"`
	Window        time.Duration          `yaml:"window"`
	MinCount      int                    `yaml:"min_count"`
	MinConfidence float64                `yaml:"min_confidence"`
	EventIDs      []int                  `yaml:"event_ids"`
	Enabled       bool                   `yaml:"enabled"`
}

func (d *Definition) validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("rule id is required")
	}
	if d.Window <= 0 {
		return fmt.Errorf("rule %s: window must be positive", d.ID)
	}
	if d.MinCount < 2 {
		return fmt.Errorf("rule %s: min_count must be at least 2", d.ID)
	}
	if d.MinConfidence < 0 || d.MinConfidence > 1 {
		return fmt.Errorf("rule %s: min_confidence must be in [0,1]", d.ID)
	}
	return nil
}

// Catalog holds rule definitions in a stable order. Mutations validate at
// update time; matching never validates.
type Catalog struct {
	mu   sync.RWMutex
	defs []Definition
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{}
}

// DefaultCatalog returns the built-in rule set.
func DefaultCatalog() *Catalog {
	c := NewCatalog()
	for _, d := range []Definition{
		{
			ID:            "brute-force-auth",
			Name:          "Brute Force Authentication",
			Description:   "Repeated authentication failures, optionally followed by a success",
			Type:          models.CorrelationBruteForce,
			Window:        5 * time.Minute,
			MinCount:      5,
			MinConfidence: 0.7,
			EventIDs:      []int{4625, 4624},
			Enabled:       true,
		},
		{
			ID:            "privilege-escalation",
			Name:          "Privilege Escalation Sequence",
			Description:   "Clustered privileged-logon and sensitive-privilege-use events",
			Type:          models.CorrelationPrivEsc,
			Window:        10 * time.Minute,
			MinCount:      3,
			MinConfidence: 0.7,
			EventIDs:      []int{4672, 4673, 4674},
			Enabled:       true,
		},
		{
			ID:            "account-manipulation",
			Name:          "Account Manipulation",
			Description:   "Rapid account create/enable/password-reset activity by one actor",
			Type:          models.CorrelationAccountManip,
			Window:        10 * time.Minute,
			MinCount:      3,
			MinConfidence: 0.65,
			EventIDs:      []int{4720, 4722, 4724, 4738},
			Enabled:       true,
		},
		{
			ID:            "lateral-movement-auth",
			Name:          "Lateral Authentication",
			Description:   "Burst of successful and explicit-credential logons for one actor",
			Type:          models.CorrelationLateralMovement,
			Window:        5 * time.Minute,
			MinCount:      4,
			MinConfidence: 0.7,
			EventIDs:      []int{4624, 4648},
			Enabled:       true,
		},
		{
			ID:            "identical-event-burst",
			Name:          "Identical Event Burst",
			Description:   "Unusually many events of any kind from one actor in a short window",
			Type:          models.CorrelationTemporalBurst,
			Window:        2 * time.Minute,
			MinCount:      8,
			MinConfidence: 0.75,
			Enabled:       true,
		},
	} {
		if err := c.Upsert(d); err != nil {
			panic(err)
		}
	}
	return c
}

// Upsert validates and adds or replaces a definition, keeping catalog order
// for existing ids.
func (c *Catalog) Upsert(d Definition) error {
	if err := d.validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.defs {
		if c.defs[i].ID == d.ID {
			c.defs[i] = d
			return nil
		}
	}
	c.defs = append(c.defs, d)
	return nil
}

// Remove deletes a definition by id.
func (c *Catalog) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.defs {
		if c.defs[i].ID == id {
			c.defs = append(c.defs[:i], c.defs[i+1:]...)
			return true
		}
	}
	return false
}

// SetEnabled toggles a definition by id.
func (c *Catalog) SetEnabled(id string, enabled bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.defs {
		if c.defs[i].ID == id {
			c.defs[i].Enabled = enabled
			return true
		}
	}
	return false
}

// Definitions returns a copy of the catalog in order.
func (c *Catalog) Definitions() []Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Definition, len(c.defs))
	copy(out, c.defs)
	return out
}

type catalogFile struct {
	Version  int             `yaml:"version"`
	Defaults catalogDefaults `yaml:"defaults"`
	Rules    []Definition    `yaml:"rules"`
}

type catalogDefaults struct {
	Window        time.Duration `yaml:"window"`
	MinCount      int           `yaml:"min_count"`
	MinConfidence float64       `yaml:"min_confidence"`
}

// LoadCatalog reads rule definitions from a YAML file. Per-rule fields fall
// back to the defaults block; invalid rules fail the whole load.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule file: %w", err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rule file: %w", err)
	}
	if file.Defaults.Window <= 0 {
		file.Defaults.Window = 5 * time.Minute
	}
	if file.Defaults.MinCount < 2 {
		file.Defaults.MinCount = 3
	}
	if file.Defaults.MinConfidence <= 0 {
		file.Defaults.MinConfidence = 0.7
	}

	c := NewCatalog()
	for i, d := range file.Rules {
		if d.ID == "" {
			d.ID = fmt.Sprintf("rule-%d", i+1)
		}
		if d.Window <= 0 {
			d.Window = file.Defaults.Window
		}
		if d.MinCount == 0 {
			d.MinCount = file.Defaults.MinCount
		}
		if d.MinConfidence == 0 {
			d.MinConfidence = file.Defaults.MinConfidence
		}
		if d.Type == "" {
			d.Type = models.CorrelationSuspicious
		}
		if err := c.Upsert(d); err != nil {
			return nil, err
		}
	}
	return c, nil
}
