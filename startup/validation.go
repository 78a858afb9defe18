// Package startup validates configuration and external integrations
// before the server begins accepting work. Checks are grouped into a
// suite that prints colored progress to the terminal and reports a
// machine-readable result for logging.
package startup

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"pawprints_backend/core"
)

// ValidationResult represents the result of a single configuration check.
type ValidationResult struct {
	Valid   bool
	Warning bool // Valid but degraded (integration soft-disabled)
	Message string
	Error   error
}

// ConfigValidator checks the loaded configuration for completeness.
// Integrations that soft-disable when unconfigured produce warnings
// rather than failures; a partially configured integration fails.
type ConfigValidator struct {
	cfg     *core.Config
	envPath string
}

// NewConfigValidator creates a ConfigValidator for the given configuration.
func NewConfigValidator(cfg *core.Config) *ConfigValidator {
	return &ConfigValidator{
		cfg:     cfg,
		envPath: ".env",
	}
}

// WithEnvPath sets a custom path for the .env file.
func (v *ConfigValidator) WithEnvPath(path string) *ConfigValidator {
	v.envPath = path
	return v
}

// CheckEnvFile reports whether a .env file is present. A missing file is
// not an error: configuration may come from the process environment.
func (v *ConfigValidator) CheckEnvFile() ValidationResult {
	if _, err := os.Stat(v.envPath); err != nil {
		return ValidationResult{
			Valid:   true,
			Warning: true,
			Message: "No .env file found, using process environment",
		}
	}
	return ValidationResult{
		Valid:   true,
		Message: "Environment file found",
	}
}

// CheckStylizationProviders verifies that at least one stylization
// provider has credentials. With none configured every upload would
// fail, so this is a hard error.
func (v *ConfigValidator) CheckStylizationProviders() ValidationResult {
	var configured []string
	if v.cfg.HasGemini() {
		configured = append(configured, "gemini")
	}
	if v.cfg.HasOpenAI() {
		configured = append(configured, "openai")
	}
	if v.cfg.RemoveBGAPIKey != "" {
		configured = append(configured, "removebg")
	}

	if len(configured) == 0 {
		return ValidationResult{
			Valid:   false,
			Message: "No stylization provider configured. Set GEMINI_API_KEY, OPENAI_API_KEY, or REMOVEBG_API_KEY.",
			Error:   fmt.Errorf("no stylization provider configured"),
		}
	}
	return ValidationResult{
		Valid:   true,
		Message: "Providers available: " + strings.Join(configured, ", "),
	}
}

// CheckMeshyCredentials validates the Meshy API key. Missing is a
// warning (reconstruction soft-disables); a key without the expected
// prefix is almost certainly a paste error, so it fails.
func (v *ConfigValidator) CheckMeshyCredentials() ValidationResult {
	key := v.cfg.MeshyAPIKey
	if key == "" {
		return ValidationResult{
			Valid:   true,
			Warning: true,
			Message: "MESHY_API_KEY not set, 3D reconstruction disabled",
		}
	}
	if !strings.HasPrefix(key, "msy_") {
		return ValidationResult{
			Valid:   false,
			Message: "MESHY_API_KEY does not look like a Meshy key (expected msy_ prefix)",
			Error:   fmt.Errorf("malformed Meshy API key"),
		}
	}
	return ValidationResult{
		Valid:   true,
		Message: "Meshy credentials present",
	}
}

// CheckVendorCredentials validates the Shapeways client credential pair.
// Both absent is a warning (quotes fall back to estimates); exactly one
// set is a misconfiguration and fails.
func (v *ConfigValidator) CheckVendorCredentials() ValidationResult {
	id, secret := v.cfg.ShapewaysClientID, v.cfg.ShapewaysClientSecret

	switch {
	case id == "" && secret == "":
		return ValidationResult{
			Valid:   true,
			Warning: true,
			Message: "Shapeways not configured, quotes will be estimated",
		}
	case id == "" || secret == "":
		return ValidationResult{
			Valid:   false,
			Message: "Set both SHAPEWAYS_CLIENT_ID and SHAPEWAYS_CLIENT_SECRET (or neither)",
			Error:   fmt.Errorf("partial Shapeways credentials"),
		}
	}
	return ValidationResult{
		Valid:   true,
		Message: "Shapeways credentials present",
	}
}

// CheckDataDirectories verifies the uploads and models directories and
// the database parent directory can be created and written.
func (v *ConfigValidator) CheckDataDirectories() ValidationResult {
	dirs := []string{v.cfg.UploadsDir, v.cfg.ModelsDir}
	if parent := filepath.Dir(v.cfg.DatabasePath); parent != "." {
		dirs = append(dirs, parent)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return ValidationResult{
				Valid:   false,
				Message: "Cannot create data directory " + dir,
				Error:   err,
			}
		}
		probe := filepath.Join(dir, ".write-probe")
		if err := os.WriteFile(probe, nil, 0644); err != nil {
			return ValidationResult{
				Valid:   false,
				Message: "Data directory " + dir + " is not writable",
				Error:   err,
			}
		}
		os.Remove(probe)
	}
	return ValidationResult{
		Valid:   true,
		Message: "Data directories writable",
	}
}

// CheckAdmissionPolicy sanity-checks the quota settings.
func (v *ConfigValidator) CheckAdmissionPolicy() ValidationResult {
	if v.cfg.DailyGenerationCap <= 0 {
		return ValidationResult{
			Valid:   false,
			Message: "MAX_GENERATIONS_PER_DAY must be positive",
			Error:   fmt.Errorf("daily generation cap %d is not positive", v.cfg.DailyGenerationCap),
		}
	}
	msg := fmt.Sprintf("Daily cap %d per requester", v.cfg.DailyGenerationCap)
	if !v.cfg.AdmissionEnforce {
		return ValidationResult{
			Valid:   true,
			Warning: true,
			Message: msg + " (enforcement disabled)",
		}
	}
	if n := len(v.cfg.UnlimitedEmails); n > 0 {
		msg += fmt.Sprintf(", %d unlimited emails", n)
	}
	return ValidationResult{
		Valid:   true,
		Message: msg,
	}
}
