// SPDX-License-Identifier: Apache-2.0
package healing

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog is the on-disk form of the strategy definitions.
type Catalog struct {
	Strategies []Strategy `json:"strategies" yaml:"strategies"`
}

// LoadCatalog loads a strategy catalog from a YAML or JSON file.
func LoadCatalog(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("catalog path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return ParseJSON(data)
	default:
		return ParseYAML(data)
	}
}

// ParseJSON loads a catalog from JSON and validates it.
func ParseJSON(data []byte) (*Catalog, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty JSON payload")
	}
	var catalog Catalog
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parse json catalog: %w", err)
	}
	if err := catalog.Validate(); err != nil {
		return nil, err
	}
	return &catalog, nil
}

// ParseYAML loads a catalog from YAML and validates it.
func ParseYAML(data []byte) (*Catalog, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty YAML payload")
	}
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parse yaml catalog: %w", err)
	}
	if err := catalog.Validate(); err != nil {
		return nil, err
	}
	return &catalog, nil
}

// Validate checks every strategy and rejects duplicate ids.
func (c *Catalog) Validate() error {
	seen := make(map[string]bool, len(c.Strategies))
	for _, strategy := range c.Strategies {
		if err := strategy.Validate(); err != nil {
			return err
		}
		if seen[strategy.ID] {
			return fmt.Errorf("duplicate strategy id %q", strategy.ID)
		}
		seen[strategy.ID] = true
	}
	return nil
}
