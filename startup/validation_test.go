package startup

import (
	"os"
	"path/filepath"
	"testing"

	"pawprints_backend/core"
)

// validConfig returns a configuration that passes every check without
// touching the network.
func validConfig(t *testing.T) *core.Config {
	t.Helper()
	dir := t.TempDir()
	return &core.Config{
		GeminiAPIKey:       "gemini-key",
		MeshyAPIKey:        "msy_testkey",
		MeshyBaseURL:       "https://api.meshy.ai",
		DailyGenerationCap: 3,
		AdmissionEnforce:   true,
		UploadsDir:         filepath.Join(dir, "uploads"),
		ModelsDir:          filepath.Join(dir, "models"),
		DatabasePath:       filepath.Join(dir, "data", "app.db"),
	}
}

func TestConfigValidator_CheckEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")

	v := NewConfigValidator(validConfig(t)).WithEnvPath(envPath)

	result := v.CheckEnvFile()
	if !result.Valid || !result.Warning {
		t.Errorf("missing .env should warn, got %+v", result)
	}

	if err := os.WriteFile(envPath, []byte("GEMINI_API_KEY=x\n"), 0644); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	result = v.CheckEnvFile()
	if !result.Valid || result.Warning {
		t.Errorf("present .env should pass, got %+v", result)
	}
}

func TestConfigValidator_CheckStylizationProviders(t *testing.T) {
	cfg := validConfig(t)
	v := NewConfigValidator(cfg)

	result := v.CheckStylizationProviders()
	if !result.Valid {
		t.Errorf("gemini configured should pass, got %+v", result)
	}

	cfg.GeminiAPIKey = ""
	result = v.CheckStylizationProviders()
	if result.Valid {
		t.Error("no providers should fail")
	}

	cfg.RemoveBGAPIKey = "rb-key"
	result = v.CheckStylizationProviders()
	if !result.Valid {
		t.Errorf("removebg alone should pass, got %+v", result)
	}
}

func TestConfigValidator_CheckMeshyCredentials(t *testing.T) {
	cfg := validConfig(t)
	v := NewConfigValidator(cfg)

	if result := v.CheckMeshyCredentials(); !result.Valid || result.Warning {
		t.Errorf("valid key should pass, got %+v", result)
	}

	cfg.MeshyAPIKey = ""
	if result := v.CheckMeshyCredentials(); !result.Valid || !result.Warning {
		t.Errorf("missing key should warn, got %+v", result)
	}

	cfg.MeshyAPIKey = "sk-wrong-vendor"
	if result := v.CheckMeshyCredentials(); result.Valid {
		t.Error("malformed key should fail")
	}
}

func TestConfigValidator_CheckVendorCredentials(t *testing.T) {
	cfg := validConfig(t)
	v := NewConfigValidator(cfg)

	// Neither set: soft-disabled
	if result := v.CheckVendorCredentials(); !result.Valid || !result.Warning {
		t.Errorf("unconfigured vendor should warn, got %+v", result)
	}

	// Only one of the pair: misconfigured
	cfg.ShapewaysClientID = "client-id"
	if result := v.CheckVendorCredentials(); result.Valid {
		t.Error("partial credentials should fail")
	}

	cfg.ShapewaysClientSecret = "client-secret"
	if result := v.CheckVendorCredentials(); !result.Valid || result.Warning {
		t.Errorf("full credentials should pass, got %+v", result)
	}
}

func TestConfigValidator_CheckDataDirectories(t *testing.T) {
	cfg := validConfig(t)
	v := NewConfigValidator(cfg)

	result := v.CheckDataDirectories()
	if !result.Valid {
		t.Fatalf("writable directories should pass, got %+v", result)
	}

	// Directories are created as a side effect
	if _, err := os.Stat(cfg.UploadsDir); err != nil {
		t.Errorf("uploads dir not created: %v", err)
	}
	if _, err := os.Stat(filepath.Dir(cfg.DatabasePath)); err != nil {
		t.Errorf("database dir not created: %v", err)
	}
}

func TestConfigValidator_CheckAdmissionPolicy(t *testing.T) {
	cfg := validConfig(t)
	v := NewConfigValidator(cfg)

	if result := v.CheckAdmissionPolicy(); !result.Valid || result.Warning {
		t.Errorf("cap 3 enforced should pass, got %+v", result)
	}

	cfg.AdmissionEnforce = false
	if result := v.CheckAdmissionPolicy(); !result.Valid || !result.Warning {
		t.Errorf("enforcement disabled should warn, got %+v", result)
	}

	cfg.DailyGenerationCap = 0
	if result := v.CheckAdmissionPolicy(); result.Valid {
		t.Error("zero cap should fail")
	}
}
