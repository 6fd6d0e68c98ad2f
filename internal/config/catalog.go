package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/provider-cascade/internal/domain"
)

// CatalogEntry is one provider definition in the YAML catalog.
type CatalogEntry struct {
	ID          string  `yaml:"id" validate:"required"`
	Capability  string  `yaml:"capability" validate:"required"`
	Priority    int     `yaml:"priority" validate:"required,min=1"`
	Model       string  `yaml:"model"`
	BaseQuality float64 `yaml:"base_quality" validate:"min=0,max=1"`
	MaxFailures int     `yaml:"max_failures" validate:"required,min=1"`
}

// Catalog is the YAML provider catalog file layout.
type Catalog struct {
	Providers []CatalogEntry `yaml:"providers" validate:"required,min=1,dive"`
}

// LoadCatalog reads and validates a YAML provider catalog, returning
// providers ready for registration. Invalid catalogs fail with
// domain.ErrConfig.
func LoadCatalog(path string) ([]domain.Provider, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("op=config.LoadCatalog: read %s: %w", path, err)
	}
	return ParseCatalog(b)
}

// ParseCatalog parses and validates catalog YAML bytes.
func ParseCatalog(b []byte) ([]domain.Provider, error) {
	var cat Catalog
	if err := yaml.Unmarshal(b, &cat); err != nil {
		return nil, fmt.Errorf("op=config.ParseCatalog: %v: %w", err, domain.ErrConfig)
	}
	if err := validator.New().Struct(cat); err != nil {
		return nil, fmt.Errorf("op=config.ParseCatalog: %v: %w", err, domain.ErrConfig)
	}
	providers := make([]domain.Provider, 0, len(cat.Providers))
	for _, e := range cat.Providers {
		providers = append(providers, domain.Provider{
			ID:          e.ID,
			Capability:  domain.Capability(e.Capability),
			Priority:    e.Priority,
			Model:       e.Model,
			BaseQuality: e.BaseQuality,
			MaxFailures: e.MaxFailures,
		})
	}
	return providers, nil
}
