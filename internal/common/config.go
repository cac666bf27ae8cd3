package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string        `toml:"environment"` // "development" or "production"
	Server      ServerConfig  `toml:"server"`
	Audit       AuditConfig   `toml:"audit"`
	Cache       CacheConfig   `toml:"cache"`
	Queue       QueueConfig   `toml:"queue"`
	Browser     BrowserConfig `toml:"browser"`
	PSI         PSIConfig     `toml:"psi"`
	LLM         LLMConfig     `toml:"llm"`
	Logging     LoggingConfig `toml:"logging"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// AuditConfig controls audit execution limits
type AuditConfig struct {
	DefaultTimeout string `toml:"default_timeout"` // e.g., "600s" - total budget for one audit
	MaxConcurrent  int    `toml:"max_concurrent"`  // Global concurrent audit limit
	MaxJobsPerIP   int    `toml:"max_jobs_per_ip"` // Active job quota per client IP
}

// CacheConfig controls the SQLite result cache
type CacheConfig struct {
	Path       string `toml:"path"`        // Database file path (default: ~/.cache/beacon/audit_cache.db)
	TTLSeconds int    `toml:"ttl_seconds"` // Result time-to-live
}

// QueueConfig controls the persistent overflow queue
type QueueConfig struct {
	MaxSize        int `toml:"max_size"`        // Max pending entries
	TimeoutSeconds int `toml:"timeout_seconds"` // Stale processing/cancelled cleanup age
}

// BrowserConfig controls the headless Chrome pool
type BrowserConfig struct {
	PoolSize      int `toml:"pool_size"`      // Max pooled Chrome instances
	LaunchTimeout int `toml:"launch_timeout"` // Seconds to wait for Chrome startup
	IdleTimeout   int `toml:"idle_timeout"`   // Seconds before an idle instance is reaped
}

// PSIConfig configures the PageSpeed Insights field-data client
type PSIConfig struct {
	APIKey string `toml:"api_key"`
}

// LLMConfig configures the narrative synthesis provider
type LLMConfig struct {
	Provider        string `toml:"provider"` // "gemini" (default) or "claude"
	GoogleAPIKey    string `toml:"google_api_key"`
	AnthropicAPIKey string `toml:"anthropic_api_key"`
	Model           string `toml:"model"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// NewDefaultConfig returns the configuration defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "0.0.0.0",
		},
		Audit: AuditConfig{
			DefaultTimeout: "600s",
			MaxConcurrent:  10,
			MaxJobsPerIP:   5,
		},
		Cache: CacheConfig{
			Path:       defaultCachePath(),
			TTLSeconds: 86400,
		},
		Queue: QueueConfig{
			MaxSize:        50,
			TimeoutSeconds: 300,
		},
		Browser: BrowserConfig{
			PoolSize:      5,
			LaunchTimeout: 30,
			IdleTimeout:   300,
		},
		LLM: LLMConfig{
			Provider: "gemini",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
	}
}

func defaultCachePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "audit_cache.db")
	}
	return filepath.Join(home, ".cache", "beacon", "audit_cache.db")
}

// LoadFromFiles builds a configuration from defaults, the first readable TOML
// file in paths, and then environment overrides. Missing files are skipped.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		break
	}

	applyEnvOverrides(config)
	return config, nil
}

// DefaultTimeoutDuration parses the audit timeout, falling back to 600s.
func (c *Config) DefaultTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Audit.DefaultTimeout)
	if err != nil || d <= 0 {
		return 600 * time.Second
	}
	return d
}

// Validate checks required settings. API keys are required for the external
// stages; everything else has a default.
func (c *Config) Validate() error {
	if c.PSI.APIKey == "" {
		return fmt.Errorf("PSI_API_KEY is required (set via environment or psi.api_key in config)")
	}
	if c.LLM.Provider == "claude" {
		if c.LLM.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required when llm.provider is claude")
		}
	} else if c.LLM.GoogleAPIKey == "" {
		return fmt.Errorf("GOOGLE_API_KEY is required (set via environment or llm.google_api_key in config)")
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to config.
// Environment variables take precedence over config file values.
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("BEACON_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("BEACON_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("BEACON_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	if key := os.Getenv("PSI_API_KEY"); key != "" {
		config.PSI.APIKey = key
	}
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		config.LLM.GoogleAPIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		config.LLM.AnthropicAPIKey = key
	}
	if provider := os.Getenv("BEACON_LLM_PROVIDER"); provider != "" {
		config.LLM.Provider = provider
	}

	if path := os.Getenv("AUDIT_CACHE_PATH"); path != "" {
		config.Cache.Path = path
	}
	if ttl := os.Getenv("CACHE_TTL_SECONDS"); ttl != "" {
		if v, err := strconv.Atoi(ttl); err == nil {
			config.Cache.TTLSeconds = v
		}
	}
	if timeout := os.Getenv("AUDIT_TIMEOUT"); timeout != "" {
		if v, err := strconv.Atoi(timeout); err == nil {
			config.Audit.DefaultTimeout = strconv.Itoa(v) + "s"
		}
	}
	if max := os.Getenv("MAX_CONCURRENT_AUDITS"); max != "" {
		if v, err := strconv.Atoi(max); err == nil {
			config.Audit.MaxConcurrent = v
		}
	}
	if max := os.Getenv("MAX_QUEUE_SIZE"); max != "" {
		if v, err := strconv.Atoi(max); err == nil {
			config.Queue.MaxSize = v
		}
	}
	if timeout := os.Getenv("QUEUE_TIMEOUT_SECONDS"); timeout != "" {
		if v, err := strconv.Atoi(timeout); err == nil {
			config.Queue.TimeoutSeconds = v
		}
	}
	if size := os.Getenv("BROWSER_POOL_SIZE"); size != "" {
		if v, err := strconv.Atoi(size); err == nil {
			config.Browser.PoolSize = v
		}
	}
	if timeout := os.Getenv("BROWSER_LAUNCH_TIMEOUT"); timeout != "" {
		if v, err := strconv.Atoi(timeout); err == nil {
			config.Browser.LaunchTimeout = v
		}
	}
	if timeout := os.Getenv("BROWSER_IDLE_TIMEOUT"); timeout != "" {
		if v, err := strconv.Atoi(timeout); err == nil {
			config.Browser.IdleTimeout = v
		}
	}
	if level := os.Getenv("BEACON_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}
