package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SenderProfile describes the operator on whose behalf outreach emails are
// written. Email generation quotes its skills and value proposition.
type SenderProfile struct {
	Name               string   `yaml:"name" json:"name"`
	CurrentRole        string   `yaml:"current_role" json:"current_role"`
	KeySkills          []string `yaml:"key_skills" json:"key_skills"`
	ExperienceSummary  string   `yaml:"experience_summary" json:"experience_summary"`
	ValueProposition   string   `yaml:"value_proposition" json:"value_proposition"`
	TargetRoles        []string `yaml:"target_roles" json:"target_roles"`
	Industries         []string `yaml:"industries" json:"industries"`
	Achievements       []string `yaml:"achievements" json:"achievements"`
	PortfolioLinks     []string `yaml:"portfolio_links" json:"portfolio_links"`
	ContactPreferences string   `yaml:"contact_preferences" json:"contact_preferences"`
}

// LoadSenderProfile reads a profile from a YAML or JSON file, decided by
// extension. Markdown profiles are converted externally; the core only
// consumes the structured record.
func LoadSenderProfile(path string) (*SenderProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var p SenderProfile
	switch filepath.Ext(path) {
	case ".json":
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("parse sender profile %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("parse sender profile %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported sender profile format %q (want .yaml, .yml or .json)", filepath.Ext(path))
	}

	if p.Name == "" {
		return nil, fmt.Errorf("sender profile %s has no name", path)
	}
	return &p, nil
}
