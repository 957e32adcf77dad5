package probe

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds configuration for a probe run
type Config struct {
	BaseURL      string        // Base URL of the service
	TenantHeader string        // Header naming the tenant, when the scenario sets one
	Workers      int           // Number of concurrent workers
	Repeat       int           // Times every case is sent
	Timeout      time.Duration // HTTP request timeout
	Tolerance    float64       // Allowed absolute height difference in meters
	SkipHealth   bool          // Do not check /healthz before the run
	Verbose      bool          // Log every case result
}

// Scenario is a YAML file of point and profile cases.
type Scenario struct {
	Name     string        `yaml:"name"`
	Tenant   string        `yaml:"tenant,omitempty"`
	Points   []PointCase   `yaml:"points"`
	Profiles []ProfileCase `yaml:"profiles"`
}

// PointCase is one GET /getelevation call. Status defaults to 200; Expect is
// only checked on 200 answers.
type PointCase struct {
	Name   string   `yaml:"name"`
	Pos    string   `yaml:"pos"`
	CRS    string   `yaml:"crs"`
	Status int      `yaml:"status,omitempty"`
	Expect *float64 `yaml:"expect,omitempty"`
}

// ProfileCase is one POST /getheightprofile call.
type ProfileCase struct {
	Name        string      `yaml:"name"`
	Coordinates [][]float64 `yaml:"coordinates"`
	Distances   []float64   `yaml:"distances"`
	Projection  string      `yaml:"projection"`
	Samples     int         `yaml:"samples"`
	Status      int         `yaml:"status,omitempty"`
	Expect      []float64   `yaml:"expect,omitempty"`
}

// LoadScenario reads and parses the YAML scenario at path. Unknown keys are
// rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScenario, err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes a YAML scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScenario, err)
	}
	if len(sc.Points) == 0 && len(sc.Profiles) == 0 {
		return nil, fmt.Errorf("%w: no points or profiles", ErrScenario)
	}
	for i, p := range sc.Points {
		if p.Pos == "" {
			return nil, fmt.Errorf("%w: point %d has no pos", ErrScenario, i)
		}
	}
	for i, p := range sc.Profiles {
		if len(p.Expect) > 0 && p.Samples > 0 && len(p.Expect) != p.Samples {
			return nil, fmt.Errorf("%w: profile %d expects %d heights for %d samples", ErrScenario, i, len(p.Expect), p.Samples)
		}
	}
	return &sc, nil
}

// caseName returns a label for the case at index i, preferring its own name.
func caseName(kind, name string, i int) string {
	if name != "" {
		return name
	}
	return fmt.Sprintf("%s#%d", kind, i+1)
}
