package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/shortwatch/shortwatch/internal/domain"
)

// DefaultThreshold is the regulatory disclosure threshold applied when a
// jurisdiction entry does not override it.
const DefaultThreshold = 0.5

// CountryConfig is one jurisdiction entry in the registry YAML file. A
// country's source mode is fixed here at onboarding; batches that disagree
// are rejected, never coerced.
type CountryConfig struct {
	Code       string  `yaml:"code"`
	Name       string  `yaml:"name"`
	SourceMode string  `yaml:"source_mode"`
	Threshold  float64 `yaml:"threshold,omitempty"`
	Inactive   bool    `yaml:"inactive,omitempty"` // Onboarded but paused, no scheduled pulls
}

type countryRegistryFile struct {
	Countries []CountryConfig `yaml:"countries"`
}

// LoadCountryRegistry reads and validates the jurisdiction registry.
func LoadCountryRegistry(path string) ([]CountryConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read country registry: %w", err)
	}

	var file countryRegistryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse country registry: %w", err)
	}
	if len(file.Countries) == 0 {
		return nil, fmt.Errorf("country registry %s lists no countries", path)
	}

	seen := make(map[string]bool, len(file.Countries))
	for i := range file.Countries {
		c := &file.Countries[i]
		if c.Code == "" || c.Name == "" {
			return nil, fmt.Errorf("country registry entry %d missing code or name", i)
		}
		if seen[c.Code] {
			return nil, fmt.Errorf("country registry lists %s twice", c.Code)
		}
		seen[c.Code] = true
		if !domain.SourceMode(c.SourceMode).Valid() {
			return nil, fmt.Errorf("country %s has unknown source_mode %q", c.Code, c.SourceMode)
		}
		if c.Threshold == 0 {
			c.Threshold = DefaultThreshold
		}
		if c.Threshold < 0 || c.Threshold > 100 {
			return nil, fmt.Errorf("country %s has threshold %.4f outside (0,100]", c.Code, c.Threshold)
		}
	}

	return file.Countries, nil
}
