package core

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy holds operator-tunable admission and provider settings loaded from
// an optional YAML file. Every field is optional; zero values leave the
// corresponding Config value untouched.
//
// Example policy.yaml:
//
//	daily_generation_cap: 5
//	admission_enforce: false
//	unlimited_emails:
//	  - team@pawprints.example
//	provider_order:
//	  - gemini
//	  - openai
//	  - removebg
type Policy struct {
	DailyGenerationCap int      `yaml:"daily_generation_cap"`
	AdmissionEnforce   *bool    `yaml:"admission_enforce"`
	UnlimitedEmails    []string `yaml:"unlimited_emails"`
	ProviderOrder      []string `yaml:"provider_order"`
	MarkupRate         float64  `yaml:"markup_rate"`
}

// LoadPolicy reads and parses a policy YAML file.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("core: failed to read policy file %s: %w", path, err)
	}

	var policy Policy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("core: failed to parse policy file %s: %w", path, err)
	}

	return &policy, nil
}

// ApplyTo overlays the policy's set fields onto the given config.
func (p *Policy) ApplyTo(cfg *Config) {
	if p.DailyGenerationCap > 0 {
		cfg.DailyGenerationCap = p.DailyGenerationCap
	}
	if p.AdmissionEnforce != nil {
		cfg.AdmissionEnforce = *p.AdmissionEnforce
	}
	if len(p.UnlimitedEmails) > 0 {
		cfg.UnlimitedEmails = append(cfg.UnlimitedEmails, p.UnlimitedEmails...)
	}
	if p.MarkupRate > 0 {
		cfg.MarkupRate = p.MarkupRate
	}
	if len(p.ProviderOrder) > 0 {
		cfg.ProviderOrder = p.ProviderOrder
	}
}
