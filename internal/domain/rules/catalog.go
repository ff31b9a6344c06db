package rules

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed catalog/frameworks.yaml
var defaultCatalog []byte

// Catalog is the on-disk representation of the framework reference data.
type Catalog struct {
	Frameworks []CatalogFramework `yaml:"frameworks"`
}

// CatalogFramework is one framework entry in a catalog file.
type CatalogFramework struct {
	ID          string        `yaml:"id"`
	Name        string        `yaml:"name"`
	Version     string        `yaml:"version"`
	Description string        `yaml:"description"`
	Rules       []CatalogRule `yaml:"rules"`
}

// CatalogRule is one rule entry in a catalog file.
type CatalogRule struct {
	ID          string `yaml:"id"`
	Citation    string `yaml:"citation"`
	Title       string `yaml:"title"`
	Requirement string `yaml:"requirement"`
}

// DefaultCatalog returns the catalog compiled into the binary.
func DefaultCatalog() (*Catalog, error) { return ParseCatalog(defaultCatalog) }

// LoadCatalog reads a catalog from path. An empty path yields the default
// catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks identifiers are present and unique and every rule
// carries requirement text.
func (c *Catalog) Validate() error {
	seenFw := make(map[string]struct{}, len(c.Frameworks))
	for _, fw := range c.Frameworks {
		if fw.ID == "" || fw.Name == "" {
			return fmt.Errorf("%w: framework requires id and name", ErrInvalidCatalog)
		}
		if _, dup := seenFw[fw.ID]; dup {
			return fmt.Errorf("%w: duplicate framework %q", ErrInvalidCatalog, fw.ID)
		}
		seenFw[fw.ID] = struct{}{}

		seenRule := make(map[string]struct{}, len(fw.Rules))
		for _, r := range fw.Rules {
			if r.ID == "" || r.Requirement == "" {
				return fmt.Errorf("%w: rule in %q requires id and requirement", ErrInvalidCatalog, fw.ID)
			}
			if _, dup := seenRule[r.ID]; dup {
				return fmt.Errorf("%w: duplicate rule %q in %q", ErrInvalidCatalog, r.ID, fw.ID)
			}
			seenRule[r.ID] = struct{}{}
		}
	}
	return nil
}

// FrameworkList returns the catalog frameworks as domain values sorted by ID.
func (c *Catalog) FrameworkList() []Framework {
	out := make([]Framework, 0, len(c.Frameworks))
	for _, fw := range c.Frameworks {
		out = append(out, Framework{
			ID:          fw.ID,
			Name:        fw.Name,
			Version:     fw.Version,
			Description: fw.Description,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RulesByFramework returns the catalog rules keyed by framework ID, in file order.
func (c *Catalog) RulesByFramework() map[string][]Rule {
	out := make(map[string][]Rule, len(c.Frameworks))
	for _, fw := range c.Frameworks {
		rs := make([]Rule, 0, len(fw.Rules))
		for _, r := range fw.Rules {
			rs = append(rs, Rule{
				ID:          r.ID,
				FrameworkID: fw.ID,
				Citation:    r.Citation,
				Title:       r.Title,
				Requirement: r.Requirement,
			})
		}
		out[fw.ID] = rs
	}
	return out
}
