package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hochfrequenz/pipeline-orchestrator/internal/domain"
)

// Wildcard is the routing key matched when no item label matches
const Wildcard = "*"

// RouteTarget describes the pipeline bound to a routing label
type RouteTarget struct {
	Pipeline       domain.PipelineType `yaml:"pipeline"`
	Script         string              `yaml:"script"`
	Prompt         string              `yaml:"prompt"`
	Model          string              `yaml:"model"`
	TimeoutMinutes int                 `yaml:"timeout_minutes"`
	OpensPR        bool                `yaml:"opens_pr"`
	Aliases        []string            `yaml:"aliases"` // legacy label spellings
}

// Timeout returns the pipeline wall-clock timeout
func (t RouteTarget) Timeout() time.Duration {
	return time.Duration(t.TimeoutMinutes) * time.Minute
}

// Routing maps ticket labels to pipeline targets. Loaded once per process
// lifetime and treated as immutable afterwards; a reload requires restart.
type Routing struct {
	Routes map[string]RouteTarget `yaml:"routes"`
}

// LoadRouting reads the routing table from a YAML file. A missing file is
// an error: without routes no item can be processed.
func LoadRouting(path string) (*Routing, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading routing config: %w", err)
	}

	var r Routing
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing routing config: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate checks the routing table for the invariants the scheduler
// depends on.
func (r *Routing) Validate() error {
	if len(r.Routes) == 0 {
		return fmt.Errorf("routing config has no routes")
	}
	if _, ok := r.Routes[Wildcard]; !ok {
		return fmt.Errorf("routing config has no %q fallback route", Wildcard)
	}
	for label, target := range r.Routes {
		if target.Pipeline == "" {
			return fmt.Errorf("route %q has no pipeline type", label)
		}
		if target.Script == "" {
			return fmt.Errorf("route %q has no script", label)
		}
		if target.TimeoutMinutes <= 0 {
			return fmt.Errorf("route %q has no timeout", label)
		}
	}
	return nil
}
