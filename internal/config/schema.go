package config

import "time"

// Config holds primer configuration.
// Stored at: ~/.primer/config.yaml
type Config struct {
	Server       ServerCfg                 `mapstructure:"server" yaml:"server"`
	Postgres     PostgresCfg               `mapstructure:"postgres" yaml:"postgres"`
	Store        StoreCfg                  `mapstructure:"store" yaml:"store"`
	OCRProviders map[string]OCRProviderCfg `mapstructure:"ocr_providers" yaml:"ocr_providers"`
	LLMProviders map[string]LLMProviderCfg `mapstructure:"llm_providers" yaml:"llm_providers"`
	Defaults     DefaultsCfg               `mapstructure:"defaults" yaml:"defaults"`
	Pipeline     PipelineCfg               `mapstructure:"pipeline" yaml:"pipeline"`
}

// ServerCfg configures the HTTP server.
type ServerCfg struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port string `mapstructure:"port" yaml:"port"`
}

// PostgresCfg holds connection and managed-container settings.
type PostgresCfg struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     string `mapstructure:"port" yaml:"port"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"` // supports ${ENV_VAR} syntax
	Database string `mapstructure:"database" yaml:"database"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode"`

	// Managed runs postgres in a Docker container owned by primer.
	Managed bool `mapstructure:"managed" yaml:"managed"`
	// ContainerName is the Docker container name (default: primer-postgres)
	ContainerName string `mapstructure:"container_name" yaml:"container_name"`
	// Image is the Docker image to use (default: postgres:16-alpine)
	Image string `mapstructure:"image" yaml:"image"`
}

// StoreCfg selects and configures the artifact store backend.
type StoreCfg struct {
	// Backend is one of "fs", "s3", "memory".
	Backend string `mapstructure:"backend" yaml:"backend"`
	// Root is the filesystem root for the fs backend. Empty means
	// ~/.primer/store.
	Root string `mapstructure:"root" yaml:"root"`
	S3   S3Cfg  `mapstructure:"s3" yaml:"s3"`
}

// S3Cfg configures the s3 store backend.
type S3Cfg struct {
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	Region    string `mapstructure:"region" yaml:"region"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"` // optional, for minio etc.
	Prefix    string `mapstructure:"prefix" yaml:"prefix"`
	PathStyle bool   `mapstructure:"path_style" yaml:"path_style"`
}

// OCRProviderCfg configures an OCR provider.
type OCRProviderCfg struct {
	Type       string  `mapstructure:"type" yaml:"type"`             // "mistral-ocr", "mock"
	Model      string  `mapstructure:"model" yaml:"model"`           // Model name
	APIKey     string  `mapstructure:"api_key" yaml:"api_key"`       // API key (supports ${ENV_VAR} syntax)
	RateLimit  float64 `mapstructure:"rate_limit" yaml:"rate_limit"` // Requests per second
	MaxRetries int     `mapstructure:"max_retries" yaml:"max_retries"`
	Enabled    bool    `mapstructure:"enabled" yaml:"enabled"`
}

// LLMProviderCfg configures an LLM provider.
type LLMProviderCfg struct {
	Type      string  `mapstructure:"type" yaml:"type"`             // "openai", "openrouter"
	Model     string  `mapstructure:"model" yaml:"model"`           // Model name
	APIKey    string  `mapstructure:"api_key" yaml:"api_key"`       // API key (supports ${ENV_VAR} syntax)
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"` // Requests per second
	Enabled   bool    `mapstructure:"enabled" yaml:"enabled"`
}

// DefaultsCfg specifies default provider selections.
type DefaultsCfg struct {
	OCRProvider string `mapstructure:"ocr_provider" yaml:"ocr_provider"`
	LLMProvider string `mapstructure:"llm_provider" yaml:"llm_provider"`
	MaxWorkers  int    `mapstructure:"max_workers" yaml:"max_workers"` // Max concurrent workers
}

// PipelineCfg holds the extraction pipeline knobs.
type PipelineCfg struct {
	// FlushEvery is the interior metadata flush interval during bulk OCR.
	FlushEvery int `mapstructure:"flush_every" yaml:"flush_every"`
	// RecentPages is how many trailing page minisummaries feed the context pack.
	RecentPages int `mapstructure:"recent_pages" yaml:"recent_pages"`
	// PreviewChars caps subtopic content previews in the context pack.
	PreviewChars int `mapstructure:"preview_chars" yaml:"preview_chars"`
	// DedupPreviewChars caps content previews shown to the dedup prompt.
	DedupPreviewChars int `mapstructure:"dedup_preview_chars" yaml:"dedup_preview_chars"`
	// StabilityThreshold is how many pages a subtopic sits untouched before
	// it is marked stable.
	StabilityThreshold int `mapstructure:"stability_threshold" yaml:"stability_threshold"`
	// StaleAfterSeconds is the job heartbeat staleness threshold.
	StaleAfterSeconds int `mapstructure:"stale_after_seconds" yaml:"stale_after_seconds"`
	// BulkUploadCap is the maximum page count for one bulk upload request.
	BulkUploadCap int `mapstructure:"bulk_upload_cap" yaml:"bulk_upload_cap"`
	// LLMTimeoutSeconds bounds a single LLM call.
	LLMTimeoutSeconds int `mapstructure:"llm_timeout_seconds" yaml:"llm_timeout_seconds"`
	// RenameContentCap caps the content sample sent to name refinement.
	RenameContentCap int `mapstructure:"rename_content_cap" yaml:"rename_content_cap"`
	// Snapshots enables versioned snapshots of the guideline index.
	Snapshots bool `mapstructure:"snapshots" yaml:"snapshots"`
	// Temperature for extraction LLM calls.
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`
	// ReasoningEffort for reasoning-capable models (low|medium|high).
	ReasoningEffort string `mapstructure:"reasoning_effort" yaml:"reasoning_effort"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerCfg{
			Host: "127.0.0.1",
			Port: "8080",
		},
		Postgres: PostgresCfg{
			Host:          "localhost",
			Port:          "5432",
			User:          "primer",
			Password:      "primer",
			Database:      "primer",
			SSLMode:       "disable",
			Managed:       true,
			ContainerName: "primer-postgres",
			Image:         "postgres:16-alpine",
		},
		Store: StoreCfg{
			Backend: "fs",
		},
		OCRProviders: map[string]OCRProviderCfg{
			"mistral": {
				Type:       "mistral-ocr",
				APIKey:     "${MISTRAL_API_KEY}",
				RateLimit:  6.0,
				MaxRetries: 3,
				Enabled:    true,
			},
		},
		LLMProviders: map[string]LLMProviderCfg{
			"openai": {
				Type:    "openai",
				Model:   "gpt-5",
				APIKey:  "${OPENAI_API_KEY}",
				Enabled: true,
			},
			"openrouter": {
				Type:    "openrouter",
				Model:   "anthropic/claude-sonnet-4",
				APIKey:  "${OPENROUTER_API_KEY}",
				Enabled: false,
			},
		},
		Defaults: DefaultsCfg{
			OCRProvider: "mistral",
			LLMProvider: "openai",
			MaxWorkers:  10,
		},
		Pipeline: PipelineCfg{
			FlushEvery:         5,
			RecentPages:        5,
			PreviewChars:       300,
			DedupPreviewChars:  200,
			StabilityThreshold: 5,
			StaleAfterSeconds:  120,
			BulkUploadCap:      200,
			LLMTimeoutSeconds:  500,
			RenameContentCap:   2000,
			Snapshots:          true,
			Temperature:        0.1,
			ReasoningEffort:    "medium",
		},
	}
}

// StaleAfter returns the heartbeat staleness threshold as a duration.
func (p PipelineCfg) StaleAfter() time.Duration {
	if p.StaleAfterSeconds <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(p.StaleAfterSeconds) * time.Second
}

// LLMTimeout returns the per-call LLM timeout as a duration.
func (p PipelineCfg) LLMTimeout() time.Duration {
	if p.LLMTimeoutSeconds <= 0 {
		return 500 * time.Second
	}
	return time.Duration(p.LLMTimeoutSeconds) * time.Second
}

// GetOCRProvider returns an OCR provider config by name.
func (c *Config) GetOCRProvider(name string) (OCRProviderCfg, bool) {
	cfg, ok := c.OCRProviders[name]
	return cfg, ok
}

// GetLLMProvider returns an LLM provider config by name.
func (c *Config) GetLLMProvider(name string) (LLMProviderCfg, bool) {
	cfg, ok := c.LLMProviders[name]
	return cfg, ok
}

// EnabledOCRProviders returns all enabled OCR providers.
func (c *Config) EnabledOCRProviders() map[string]OCRProviderCfg {
	result := make(map[string]OCRProviderCfg)
	for name, cfg := range c.OCRProviders {
		if cfg.Enabled {
			result[name] = cfg
		}
	}
	return result
}

// EnabledLLMProviders returns all enabled LLM providers.
func (c *Config) EnabledLLMProviders() map[string]LLMProviderCfg {
	result := make(map[string]LLMProviderCfg)
	for name, cfg := range c.LLMProviders {
		if cfg.Enabled {
			result[name] = cfg
		}
	}
	return result
}
