package dlp

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Rule masks every match of Pattern with Mask.
type Rule struct {
	Name    string `yaml:"name" json:"name"`
	Type    string `yaml:"type" json:"type"`
	Pattern string `yaml:"pattern" json:"pattern"`
	Mask    string `yaml:"mask" json:"mask"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
}

type RulesConfig struct {
	Rules []Rule `yaml:"rules" json:"rules"`
}

// LoadRules reads a YAML rules file. An empty path yields DefaultRules.
func LoadRules(path string) (RulesConfig, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return RulesConfig{}, err
	}

	var cfg RulesConfig
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return RulesConfig{}, err
	}
	if len(cfg.Rules) == 0 {
		return RulesConfig{}, errors.New("no redaction rules configured")
	}
	return cfg, nil
}

func DefaultRules() RulesConfig {
	return RulesConfig{Rules: []Rule{
		{Name: "SSN", Type: "ssn", Pattern: `\b\d{3}-\d{2}-\d{4}\b`, Mask: "***-**-****", Enabled: true},
		{Name: "DOB", Type: "dob", Pattern: `\b\d{1,2}/\d{1,2}/\d{4}\b`, Mask: "##/##/####", Enabled: true},
		{Name: "Email", Type: "email", Pattern: `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`, Mask: "***@***", Enabled: true},
		{Name: "Phone", Type: "phone", Pattern: `\b\d{3}-\d{3}-\d{4}\b|\(\d{3}\)\s?\d{3}-\d{4}\b`, Mask: "(***) ***-****", Enabled: true},
		{Name: "MRN", Type: "mrn", Pattern: `\bMRN[:#\s]*\d{5,10}\b`, Mask: "MRN ******", Enabled: true},
	}}
}
