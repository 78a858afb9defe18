package core

import (
	"os"
	"path/filepath"
	"testing"
)

func writePolicyFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write policy file: %v", err)
	}
	return path
}

func TestLoadPolicy(t *testing.T) {
	path := writePolicyFile(t, `
daily_generation_cap: 5
admission_enforce: false
unlimited_emails:
  - team@pawprints.example
provider_order:
  - openai
  - gemini
markup_rate: 0.5
`)

	policy, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("LoadPolicy() error = %v", err)
	}
	if policy.DailyGenerationCap != 5 {
		t.Errorf("DailyGenerationCap = %d, want 5", policy.DailyGenerationCap)
	}
	if policy.AdmissionEnforce == nil || *policy.AdmissionEnforce {
		t.Errorf("AdmissionEnforce = %v, want false", policy.AdmissionEnforce)
	}
	if len(policy.UnlimitedEmails) != 1 || policy.UnlimitedEmails[0] != "team@pawprints.example" {
		t.Errorf("UnlimitedEmails = %v", policy.UnlimitedEmails)
	}
	if len(policy.ProviderOrder) != 2 || policy.ProviderOrder[0] != "openai" {
		t.Errorf("ProviderOrder = %v", policy.ProviderOrder)
	}
	if policy.MarkupRate != 0.5 {
		t.Errorf("MarkupRate = %v, want 0.5", policy.MarkupRate)
	}
}

func TestLoadPolicy_MissingFile(t *testing.T) {
	if _, err := LoadPolicy(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadPolicy_InvalidYAML(t *testing.T) {
	path := writePolicyFile(t, "daily_generation_cap: [not an int")
	if _, err := LoadPolicy(path); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestPolicy_ApplyTo(t *testing.T) {
	enforce := false
	policy := &Policy{
		DailyGenerationCap: 10,
		AdmissionEnforce:   &enforce,
		UnlimitedEmails:    []string{"vip@pawprints.example"},
		MarkupRate:         0.25,
	}

	cfg := &Config{
		DailyGenerationCap: 3,
		AdmissionEnforce:   true,
		UnlimitedEmails:    []string{"existing@pawprints.example"},
		ProviderOrder:      []string{"gemini"},
		MarkupRate:         0.40,
	}
	policy.ApplyTo(cfg)

	if cfg.DailyGenerationCap != 10 {
		t.Errorf("DailyGenerationCap = %d, want 10", cfg.DailyGenerationCap)
	}
	if cfg.AdmissionEnforce {
		t.Error("AdmissionEnforce should be overridden to false")
	}
	if len(cfg.UnlimitedEmails) != 2 {
		t.Errorf("UnlimitedEmails should append, got %v", cfg.UnlimitedEmails)
	}
	if cfg.MarkupRate != 0.25 {
		t.Errorf("MarkupRate = %v, want 0.25", cfg.MarkupRate)
	}
	// Empty provider order leaves the existing chain intact
	if len(cfg.ProviderOrder) != 1 || cfg.ProviderOrder[0] != "gemini" {
		t.Errorf("ProviderOrder = %v, want unchanged", cfg.ProviderOrder)
	}
}

func TestPolicy_ApplyTo_ZeroValuesLeaveConfigUntouched(t *testing.T) {
	cfg := &Config{
		DailyGenerationCap: 3,
		AdmissionEnforce:   true,
		MarkupRate:         0.40,
	}
	(&Policy{}).ApplyTo(cfg)

	if cfg.DailyGenerationCap != 3 || !cfg.AdmissionEnforce || cfg.MarkupRate != 0.40 {
		t.Errorf("zero policy should not modify config: %+v", cfg)
	}
}
