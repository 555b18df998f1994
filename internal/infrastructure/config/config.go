package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/GriffinCanCode/GameLab/backend/internal/bridge/origin"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Backend   BackendConfig
	Bridge    BridgeConfig
	GitHub    GitHubConfig
	Embed     EmbedConfig
	Database  DatabaseConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8000"`
	Host            string        `envconfig:"HOST" default:"0.0.0.0"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	// CORSOrigins are UI origins allowed besides the trusted embed origins.
	CORSOrigins     []string      `envconfig:"CORS_ORIGINS" default:"http://localhost:5173,http://localhost:3000"`
}

// BackendConfig points the relay at the data-collection API.
type BackendConfig struct {
	URL     string        `envconfig:"BACKEND_URL" default:"http://localhost:8000"`
	Timeout time.Duration `envconfig:"BACKEND_TIMEOUT" default:"30s"`
	RPS     float64       `envconfig:"BACKEND_RPS" default:"0"`
}

// BridgeConfig holds fetch-proxy settings.
type BridgeConfig struct {
	TrustedOrigins []string      `envconfig:"TRUSTED_ORIGINS" default:"https://stackblitz.com,https://*.stackblitz.io,https://*.webcontainer.io,https://*.webcontainer-api.io,https://*.csb.app,https://*.codesandbox.io"`
	RefreshDelay   time.Duration `envconfig:"REFRESH_DELAY" default:"300ms"`
	PollInterval   time.Duration `envconfig:"POLL_INTERVAL" default:"2s"`
	// CallTimeout bounds proxied calls made by the probe; zero waits
	// until the caller gives up.
	CallTimeout time.Duration `envconfig:"CALL_TIMEOUT" default:"0"`
}

// GitHubConfig selects and configures the repository provider.
type GitHubConfig struct {
	Token    string `envconfig:"GITHUB_PAT"`
	APIURL   string `envconfig:"GITHUB_API_URL" default:"https://api.github.com"`
	Provider string `envconfig:"REPO_PROVIDER" default:"github"`
	Dir      string `envconfig:"REPO_DIR"`
}

// EmbedConfig holds execution container settings.
type EmbedConfig struct {
	Container     string        `envconfig:"CONTAINER" default:"preview"`
	PreviewDomain string        `envconfig:"PREVIEW_DOMAIN" default:"local.webcontainer.io"`
	DevCommand    string        `envconfig:"DEV_COMMAND" default:"npm run dev"`
	StartTimeout  time.Duration `envconfig:"START_TIMEOUT" default:"2m"`
	PublicURL     string        `envconfig:"PUBLIC_BASE_URL" default:"http://localhost:8000"`
	// ScriptURL overrides where injected pages load the bridge script from.
	// Empty means the host's own copy under PUBLIC_BASE_URL.
	ScriptURL string `envconfig:"BRIDGE_SCRIPT_URL"`
}

// BridgeScriptPath is the host route serving the sandbox bridge script.
const BridgeScriptPath = "/sandbox-bridge.js"

// BridgeScriptURL returns the absolute address injected into fetched pages.
func (e EmbedConfig) BridgeScriptURL() string {
	if e.ScriptURL != "" {
		return e.ScriptURL
	}
	return strings.TrimRight(e.PublicURL, "/") + BridgeScriptPath
}

// DatabaseConfig holds the sandbox store location.
type DatabaseConfig struct {
	Path string `envconfig:"DB_PATH" default:"gamelab.db"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
	File        string `envconfig:"LOG_FILE"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// LoadEnvFiles merges .env style files into the process environment.
// Variables already set win; missing files are skipped.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8000",
			Host:            "0.0.0.0",
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"http://localhost:5173", "http://localhost:3000"},
		},
		Backend: BackendConfig{
			URL:     "http://localhost:8000",
			Timeout: 30 * time.Second,
		},
		Bridge: BridgeConfig{
			TrustedOrigins: append([]string(nil), origin.DefaultRules...),
			RefreshDelay:   300 * time.Millisecond,
			PollInterval:   2 * time.Second,
		},
		GitHub: GitHubConfig{
			APIURL:   "https://api.github.com",
			Provider: "github",
		},
		Embed: EmbedConfig{
			Container:     "preview",
			PreviewDomain: "local.webcontainer.io",
			DevCommand:    "npm run dev",
			StartTimeout:  2 * time.Minute,
			PublicURL:     "http://localhost:8000",
		},
		Database: DatabaseConfig{
			Path: "gamelab.db",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}

// Validate checks values the server cannot start without.
func (c *Config) Validate() error {
	var errs []error

	for name, raw := range map[string]string{"BACKEND_URL": c.Backend.URL, "PUBLIC_BASE_URL": c.Embed.PublicURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s must be an absolute url, got %q", name, raw))
		}
	}
	if c.Embed.ScriptURL != "" {
		if u, err := url.Parse(c.Embed.ScriptURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("BRIDGE_SCRIPT_URL must be an absolute url, got %q", c.Embed.ScriptURL))
		}
	}
	if _, err := origin.NewGuard(c.Bridge.TrustedOrigins...); err != nil {
		errs = append(errs, fmt.Errorf("TRUSTED_ORIGINS: %w", err))
	}
	switch c.GitHub.Provider {
	case "github", "git":
	case "dir":
		if c.GitHub.Dir == "" {
			errs = append(errs, errors.New("REPO_DIR is required with REPO_PROVIDER=dir"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown REPO_PROVIDER %q", c.GitHub.Provider))
	}
	switch c.Embed.Container {
	case "preview", "process":
	default:
		errs = append(errs, fmt.Errorf("unknown CONTAINER %q", c.Embed.Container))
	}
	if c.Bridge.PollInterval <= 0 {
		errs = append(errs, errors.New("POLL_INTERVAL must be positive"))
	}

	return errors.Join(errs...)
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}
