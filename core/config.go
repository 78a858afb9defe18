package core

import (
	"crypto/tls"
	"net/http"
	"time"
)

// Config holds all configuration values for the PawPrints backend.
// Values are read from the environment (a .env file is loaded by main
// before LoadConfig runs). Every external integration is optional: a
// missing key soft-disables that integration rather than failing startup.
type Config struct {
	// Generative image providers (stylization)
	GeminiAPIKey     string   // Gemini image model key (primary stylization provider)
	GeminiEndpoint   string   // Override for the generativelanguage endpoint
	GeminiModels     []string // Ordered model names to try (first match wins)
	OpenAIAPIKey     string   // OpenAI key (secondary stylization provider)
	OpenAIImageURL   string   // Override for the OpenAI API endpoint
	OpenAIImageModel string   // Image edit model (default: gpt-image-1)
	RemoveBGAPIKey   string   // Legacy remove.bg fallback key

	// Meshy (image-to-3D reconstruction)
	MeshyAPIKey  string
	MeshyBaseURL string // Default: https://api.meshy.ai

	// Shapeways (print-on-demand vendor)
	ShapewaysClientID     string
	ShapewaysClientSecret string
	ShapewaysBaseURL      string // Default: https://api.shapeways.com

	// ProviderOrder sets the stylization fallback chain order by provider
	// name ("gemini", "openai", "removebg"). Unknown names are skipped;
	// unconfigured providers are skipped too.
	ProviderOrder []string

	// Admission policy
	DailyGenerationCap int      // Expensive generations per requester per day
	AdmissionEnforce   bool     // When false, admission always allows but records are kept
	UnlimitedEmails    []string // Allow-list: these emails bypass the daily cap
	PolicyPath         string   // Optional policy.yaml overriding the above

	// Server configuration
	Port                 int
	UploadsDir           string
	ModelsDir            string
	DatabasePath         string
	AllowSelfSignedCerts bool

	// Timeouts for external calls. Stylization providers get one fixed
	// timeout per attempt; a timeout falls through to the next provider
	// rather than retrying.
	StylizeTimeout     time.Duration
	ReconstructTimeout time.Duration
	PollTimeout        time.Duration
	TokenTimeout       time.Duration
	UploadTimeout      time.Duration

	// Pricing
	MarkupRate float64 // Markup applied over the vendor base price (0.40 = 40%)
}

// LoadConfig builds a Config from environment variables, applying defaults
// and then any overrides from the optional policy file.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		GeminiAPIKey:   GetEnvOrDefault("GEMINI_API_KEY", GetEnvOrDefault("NANOBANANA_API_KEY", "")),
		GeminiEndpoint: GetEnvOrDefault("GEMINI_ENDPOINT", "https://generativelanguage.googleapis.com"),
		GeminiModels: ParseStringSliceEnv("GEMINI_MODELS", []string{
			"gemini-2.5-flash-image",
			"gemini-2.0-flash",
		}),
		OpenAIAPIKey:     GetEnvOrDefault("OPENAI_API_KEY", ""),
		OpenAIImageURL:   GetEnvOrDefault("OPENAI_IMAGE_URL", ""),
		OpenAIImageModel: GetEnvOrDefault("OPENAI_IMAGE_MODEL", "gpt-image-1"),
		RemoveBGAPIKey:   GetEnvOrDefault("REMOVEBG_API_KEY", ""),
		ProviderOrder:    ParseStringSliceEnv("PROVIDER_ORDER", []string{"gemini", "openai", "removebg"}),

		MeshyAPIKey:  GetEnvOrDefault("MESHY_API_KEY", ""),
		MeshyBaseURL: GetEnvOrDefault("MESHY_BASE_URL", "https://api.meshy.ai"),

		ShapewaysClientID:     GetEnvOrDefault("SHAPEWAYS_CLIENT_ID", ""),
		ShapewaysClientSecret: GetEnvOrDefault("SHAPEWAYS_CLIENT_SECRET", ""),
		ShapewaysBaseURL:      GetEnvOrDefault("SHAPEWAYS_BASE_URL", "https://api.shapeways.com"),

		DailyGenerationCap: ParseIntEnv("MAX_GENERATIONS_PER_DAY", 3),
		AdmissionEnforce:   ParseBoolEnv("ADMISSION_ENFORCE", true),
		UnlimitedEmails:    ParseStringSliceEnv("UNLIMITED_EMAILS", nil),
		PolicyPath:         GetEnvOrDefault("POLICY_PATH", ""),

		Port:                 ParseIntEnv("PORT", 8000),
		UploadsDir:           GetEnvOrDefault("UPLOADS_DIR", "uploads"),
		ModelsDir:            GetEnvOrDefault("MODELS_DIR", "models"),
		DatabasePath:         GetEnvOrDefault("DATABASE_PATH", "pawprints.db"),
		AllowSelfSignedCerts: ParseBoolEnv("ALLOW_SELF_SIGNED_CERTS", false),

		StylizeTimeout:     ParseDurationEnv("STYLIZE_TIMEOUT", 45*time.Second),
		ReconstructTimeout: ParseDurationEnv("RECONSTRUCT_TIMEOUT", 60*time.Second),
		PollTimeout:        ParseDurationEnv("POLL_TIMEOUT", 30*time.Second),
		TokenTimeout:       ParseDurationEnv("TOKEN_TIMEOUT", 30*time.Second),
		UploadTimeout:      ParseDurationEnv("UPLOAD_TIMEOUT", 120*time.Second),

		MarkupRate: ParseFloat64Env("MARKUP_RATE", 0.40),
	}

	if cfg.PolicyPath != "" {
		policy, err := LoadPolicy(cfg.PolicyPath)
		if err != nil {
			return nil, err
		}
		policy.ApplyTo(cfg)
	}

	return cfg, nil
}

// HasGemini reports whether the Gemini stylization provider is configured.
func (c *Config) HasGemini() bool { return c.GeminiAPIKey != "" }

// HasOpenAI reports whether the OpenAI stylization provider is configured.
func (c *Config) HasOpenAI() bool { return c.OpenAIAPIKey != "" }

// HasMeshy reports whether the Meshy reconstruction integration is configured.
func (c *Config) HasMeshy() bool { return c.MeshyAPIKey != "" }

// HasShapeways reports whether the Shapeways vendor integration is configured.
// When false the vendor stages run soft-disabled (null model ids, estimated quotes).
func (c *Config) HasShapeways() bool {
	return c.ShapewaysClientID != "" && c.ShapewaysClientSecret != ""
}

// GetHTTPClient returns an HTTP client configured with TLS settings based on
// AllowSelfSignedCerts. All external API calls should go through clients built
// here so that TLS configuration is respected.
func GetHTTPClient(cfg *Config, timeout time.Duration) *http.Client {
	client := &http.Client{
		Timeout: timeout,
	}

	if cfg.AllowSelfSignedCerts {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	return client
}

// GetDefaultHTTPClient returns an HTTP client with a 30s timeout and the
// configured TLS settings.
func GetDefaultHTTPClient(cfg *Config) *http.Client {
	return GetHTTPClient(cfg, 30*time.Second)
}
