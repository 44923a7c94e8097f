// Package config provides configuration loading and management for the orchestrator.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the orchestrator configuration.
type Config struct {
	Project     ProjectConfig     `toml:"project"`
	LLM         LLMConfig         `toml:"llm"`         // provider the cmd/ binary builds for the agent-execution callback
	Storage     StorageConfig     `toml:"storage"`      // state store settings
	SessionLock SessionLockConfig `toml:"session_lock"`
	Web         WebConfig         `toml:"web"`          // WebSocket hub / server facade
	Ceremony    CeremonyConfig    `toml:"ceremony"`      // ceremony policy overrides
	Planner     PlannerConfig     `toml:"planner"`       // scale planner tuning
	Telemetry   TelemetryConfig   `toml:"telemetry"`
	VCS         VCSConfig         `toml:"vcs"`
	NATS        NATSConfig        `toml:"nats"` // optional external event-bus fan-out
}

// LLMConfig selects and configures the provider a cmd/ binary builds to
// back its agent-execution callback (internal/agentrunner.Runner, shared
// across workflow steps, ceremonies, and prompt classification). The
// core (internal/factory and everything it assembles) never reads this
// struct directly — it only ever sees the resulting callback.
type LLMConfig struct {
	Provider     string `toml:"provider"`
	Model        string `toml:"model"`
	APIKeyEnv    string `toml:"api_key_env"`
	MaxTokens    int    `toml:"max_tokens"`
	BaseURL      string `toml:"base_url"`      // custom API endpoint (OpenRouter, LiteLLM, Ollama, LMStudio)
	Thinking     string `toml:"thinking"`      // thinking level: auto|off|low|medium|high
	MaxRetries   int    `toml:"max_retries"`   // max retry attempts (default 5)
	RetryBackoff string `toml:"retry_backoff"` // max backoff duration (default "60s")
}

// ProjectConfig identifies the project the orchestrator is driving.
type ProjectConfig struct {
	Root string `toml:"root"` // project root directory; defaults to cwd
	Name string `toml:"name"`
}

// StorageConfig contains state-store settings.
type StorageConfig struct {
	Path string `toml:"path"` // SQLite database path, default "<root>/.orchestrator/state.db"
}

// SessionLockConfig contains session-lock settings.
type SessionLockConfig struct {
	Path string `toml:"path"` // default "<root>/.orchestrator/session.lock"
}

// WebConfig contains settings for the WebSocket hub and HTTP facade.
type WebConfig struct {
	Host               string   `toml:"host"`                 // default 127.0.0.1
	Port               int      `toml:"port"`                 // default 7420
	AutoOpenBrowser    bool     `toml:"auto_open_browser"`
	CORSOrigins        []string `toml:"cors_origins"`
	TokenPath          string   `toml:"token_path"`           // default "<root>/.orchestrator/session.token"
	MaxConnections     int      `toml:"max_connections"`      // default 16
	ReplayBufferSize   int      `toml:"replay_buffer_size"`   // default 256 events, one buffer shared by all clients
	ReplayBufferTTLSec int      `toml:"replay_buffer_ttl_seconds"` // default 300
}

// GetURL returns the full base URL for the web facade.
func (w WebConfig) GetURL() string {
	return fmt.Sprintf("http://%s:%d", w.Host, w.Port)
}

// CeremonyConfig holds ceremony settings. The factory applies
// RetryMaxAttempts and AutoCommit. The standup intervals and
// CircuitBreakerThreshold are not read: the trigger engine always uses 2 and
// 5 stories, and the failure handler always opens after 3 failures.
type CeremonyConfig struct {
	StandupEveryNStoriesLevel3 int  `toml:"standup_every_n_stories_level3"` // default 2
	StandupEveryNStoriesLevel4 int  `toml:"standup_every_n_stories_level4"` // default 5
	CircuitBreakerThreshold    int  `toml:"circuit_breaker_threshold"`      // default 3
	RetryMaxAttempts           int  `toml:"retry_max_attempts"`             // default 3
	AutoCommit                 bool `toml:"auto_commit"`
}

// PlannerConfig holds planning limits. MaxStoriesPerEpic is passed to the
// coordinator as its story-loop safety cap.
type PlannerConfig struct {
	MaxStoriesPerEpic int `toml:"max_stories_per_epic"` // safety cap, default 100
}

// TelemetryConfig contains tracing/telemetry settings.
type TelemetryConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"`
	Protocol string `toml:"protocol"` // otlp, noop
}

// VCSConfig contains version-control settings. Binary is not read:
// ceremony.GitVCS always runs the git found on PATH.
type VCSConfig struct {
	Binary string `toml:"binary"` // default "git"
}

// NATSConfig gates the event bus's optional mirror onto an external NATS
// subject (internal/eventbus.NATSBridge). Disabled by default — the core
// never requires a NATS server to be present.
type NATSConfig struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`     // default "nats://127.0.0.1:4222"
	Subject string `toml:"subject"` // default "orchestrator.events"
}

// New creates a new config with defaults.
func New() *Config {
	return &Config{
		LLM: LLMConfig{
			APIKeyEnv:    "ANTHROPIC_API_KEY",
			MaxTokens:    4096,
			MaxRetries:   5,
			RetryBackoff: "60s",
		},
		Storage: StorageConfig{
			Path: ".orchestrator/state.db",
		},
		SessionLock: SessionLockConfig{
			Path: ".orchestrator/session.lock",
		},
		Web: WebConfig{
			Host:               "127.0.0.1",
			Port:               7420,
			AutoOpenBrowser:    true,
			CORSOrigins:        []string{"http://localhost:7420", "http://127.0.0.1:7420"},
			TokenPath:          ".orchestrator/session.token",
			MaxConnections:     16,
			ReplayBufferSize:   256,
			ReplayBufferTTLSec: 300,
		},
		Ceremony: CeremonyConfig{
			StandupEveryNStoriesLevel3: 2,
			StandupEveryNStoriesLevel4: 5,
			CircuitBreakerThreshold:    3,
			RetryMaxAttempts:           3,
			AutoCommit:                 true,
		},
		Planner: PlannerConfig{
			MaxStoriesPerEpic: 100,
		},
		Telemetry: TelemetryConfig{
			Protocol: "noop",
		},
		VCS: VCSConfig{
			Binary: "git",
		},
		NATS: NATSConfig{
			URL:     "nats://127.0.0.1:4222",
			Subject: "orchestrator.events",
		},
	}
}

// Default returns a default configuration.
func Default() *Config {
	return New()
}

// LoadFile loads configuration from a TOML file, applying defaults for anything unset.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// LoadDefault loads configuration from orchestrator.toml in the current directory.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}

	path := filepath.Join(cwd, "orchestrator.toml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return New(), nil
	}
	return LoadFile(path)
}

// ProjectRoot resolves the configured project root, defaulting to the current directory.
func (c *Config) ProjectRoot() (string, error) {
	if c.Project.Root != "" {
		return c.Project.Root, nil
	}
	return os.Getwd()
}

// StatePath resolves the state-store database path relative to the project root.
func (c *Config) StatePath(root string) string {
	if filepath.IsAbs(c.Storage.Path) {
		return c.Storage.Path
	}
	return filepath.Join(root, c.Storage.Path)
}

// LockPath resolves the session-lock file path relative to the project root.
func (c *Config) LockPath(root string) string {
	if filepath.IsAbs(c.SessionLock.Path) {
		return c.SessionLock.Path
	}
	return filepath.Join(root, c.SessionLock.Path)
}

// TokenPath resolves the session-token file path relative to the project root.
func (c *Config) TokenPath(root string) string {
	if filepath.IsAbs(c.Web.TokenPath) {
		return c.Web.TokenPath
	}
	return filepath.Join(root, c.Web.TokenPath)
}
