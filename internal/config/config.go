package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"budgetline/internal/domain"
	"budgetline/internal/escalation"
)

const ProjectKind = "development-budget"

// Config models a project's budgetline.yml.
type Config struct {
	Project struct {
		ID   string `yaml:"id" json:"id"`
		Kind string `yaml:"kind" json:"kind"`
	} `yaml:"project" json:"project"`
	Timeline struct {
		BaselinePeriod int `yaml:"baseline_period" json:"baseline_period"`
		PeriodsPerYear int `yaml:"periods_per_year" json:"periods_per_year"`
	} `yaml:"timeline" json:"timeline"`
	Defaults struct {
		DistributionProfile domain.DistributionProfile `yaml:"distribution_profile" json:"distribution_profile"`
		CurveSteepness      float64                    `yaml:"curve_steepness" json:"curve_steepness"`
		EscalationTiming    domain.EscalationTiming    `yaml:"escalation_timing" json:"escalation_timing"`
	} `yaml:"defaults" json:"defaults"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Project.Kind != ProjectKind {
		return fmt.Errorf("config.project.kind must be '%s'", ProjectKind)
	}
	if c.Timeline.BaselinePeriod < 0 {
		return fmt.Errorf("config.timeline.baseline_period must be >= 0")
	}
	if c.Timeline.PeriodsPerYear < 1 {
		return fmt.Errorf("config.timeline.periods_per_year must be >= 1")
	}
	if !c.Defaults.DistributionProfile.Valid() {
		return fmt.Errorf("config.defaults.distribution_profile %q is not a known profile", c.Defaults.DistributionProfile)
	}
	if c.Defaults.CurveSteepness < 0 {
		return fmt.Errorf("config.defaults.curve_steepness must be >= 0")
	}
	if !c.Defaults.EscalationTiming.Valid() {
		return fmt.Errorf("config.defaults.escalation_timing %q is not a known timing", c.Defaults.EscalationTiming)
	}
	return nil
}

// Basis is the escalation reference described by the timeline section.
func (c *Config) Basis() escalation.Basis {
	return escalation.Basis{
		BaselinePeriod: c.Timeline.BaselinePeriod,
		PeriodsPerYear: c.Timeline.PeriodsPerYear,
	}
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID, ProjectKind)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(GenerateDefault(projectID)), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Enum values are
// accepted in any case.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.Defaults.DistributionProfile = domain.DistributionProfile(strings.ToUpper(strings.TrimSpace(string(cfg.Defaults.DistributionProfile))))
	cfg.Defaults.EscalationTiming = domain.EscalationTiming(strings.ToUpper(strings.TrimSpace(string(cfg.Defaults.EscalationTiming))))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// YAML renders the config back to YAML.
func (c *Config) YAML() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

const defaultTemplate = `project:
  id: %s
  kind: %s

timeline:
  # period index that escalation compounds from
  baseline_period: 0
  periods_per_year: 12

defaults:
  distribution_profile: LINEAR
  curve_steepness: 2
  escalation_timing: TO_START
`
