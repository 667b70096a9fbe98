// Package config loads and validates agentsync's own settings from
// ~/.agentsync/config.yaml.
//
// The config defines:
//   - Where the local API listens (agentsync serve)
//   - The local and remote proxy URLs agents are pointed at per mode
//   - Backup location and retention
//   - Probe timeout
//   - Per-agent path overrides and default models
//   - Log level and format
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ctrlai/agentsync/internal/agent"
	"github.com/ctrlai/agentsync/internal/backup"
	"github.com/ctrlai/agentsync/internal/codec"
)

// Config is the top-level agentsync configuration. Fields not set in the
// file keep their defaults.
type Config struct {
	Server  ServerConfig           `yaml:"server"`
	Proxy   ProxyConfig            `yaml:"proxy"`
	Backup  BackupConfig           `yaml:"backup"`
	Probe   ProbeConfig            `yaml:"probe"`
	Agents  map[string]AgentConfig `yaml:"agents,omitempty"`
	Logging LoggingConfig          `yaml:"logging"`
}

// ServerConfig is where `agentsync serve` listens. Loopback only by default.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ProxyConfig holds the endpoint each mode points agents at.
type ProxyConfig struct {
	LocalURL  string `yaml:"local_url"`
	RemoteURL string `yaml:"remote_url"`
}

// BackupConfig controls snapshot storage. An empty Dir means
// <config dir>/backups.
type BackupConfig struct {
	Dir       string `yaml:"dir"`
	Retention int    `yaml:"retention"`
}

// ProbeConfig bounds endpoint probes.
type ProbeConfig struct {
	TimeoutMs int `yaml:"timeoutMs"`
}

// AgentConfig overrides one agent kind's defaults.
type AgentConfig struct {
	// Path replaces the home-relative config file location. "~/" expands.
	Path string `yaml:"path,omitempty"`
	// Model is written by generates that do not name one.
	Model string `yaml:"model,omitempty"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses config.yaml from the given path.
// If the file doesn't exist, returns defaults (not an error).
// Invalid YAML or validation failures return an error.
func Load(path string) (*Config, error) {
	cfg := applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// WriteDefault writes a default config.yaml with a comment header. Used by
// `agentsync config edit` when no config file exists yet.
func WriteDefault(path string) error {
	cfg := applyDefaults()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling default config: %w", err)
	}

	header := `# agentsync configuration
#
# server:
#   host, port: where 'agentsync serve' listens (loopback only)
#
# proxy:
#   local_url:  endpoint written in local mode
#   remote_url: endpoint written in remote mode
#
# backup:
#   dir:       snapshot directory (default: <config dir>/backups)
#   retention: snapshots kept per agent
#
# probe:
#   timeoutMs: bound on each endpoint test
#
# agents:
#   <kind>:         claude-code, codex, gemini-cli, amp, opencode, factory-droid
#     path:  override the config file location
#     model: model written when none is given
#
# logging:
#   level:  debug, info, warn, error
#   format: text, json, or pretty (coloured)

`
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return os.WriteFile(path, []byte(header+string(data)), 0o644)
}

// Default returns the configuration used when config.yaml does not exist.
func Default() *Config {
	return applyDefaults()
}

// applyDefaults returns a Config with all fields set to their default values.
func applyDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8318,
		},
		Proxy: ProxyConfig{
			LocalURL: "http://127.0.0.1:8317",
		},
		Backup: BackupConfig{
			Retention: backup.DefaultRetention,
		},
		Probe: ProbeConfig{
			TimeoutMs: 10000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// validate checks the config for logical errors after parsing.
func validate(cfg *Config) error {
	if cfg.Server.Host == "" {
		return fmt.Errorf("server.host must not be empty")
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range (1-65535)", cfg.Server.Port)
	}

	if err := checkURL("proxy.local_url", cfg.Proxy.LocalURL); err != nil {
		return err
	}
	if err := checkURL("proxy.remote_url", cfg.Proxy.RemoteURL); err != nil {
		return err
	}

	if cfg.Backup.Retention < 1 {
		return fmt.Errorf("backup.retention must be at least 1")
	}
	if cfg.Probe.TimeoutMs < 0 {
		return fmt.Errorf("probe.timeoutMs must be non-negative")
	}

	for name := range cfg.Agents {
		if _, err := agent.Parse(name); err != nil {
			return fmt.Errorf("agents: %w", err)
		}
	}

	switch strings.ToLower(cfg.Logging.Format) {
	case "", "text", "json", "pretty":
	default:
		return fmt.Errorf("logging.format %q must be text, json or pretty", cfg.Logging.Format)
	}

	return nil
}

func checkURL(field, raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s %q must be an http(s) URL", field, raw)
	}
	return nil
}

// agentConfig returns the entry for k, accepting any spelling agent.Parse
// accepts as the map key.
func (c *Config) agentConfig(k agent.Kind) AgentConfig {
	for name, ac := range c.Agents {
		if parsed, err := agent.Parse(name); err == nil && parsed == k {
			return ac
		}
	}
	return AgentConfig{}
}

// Paths returns the resolver for agent config files under home, with the
// configured overrides applied.
func (c *Config) Paths(home string) agent.Paths {
	p := agent.Paths{Home: home, Overrides: make(map[agent.Kind]string)}
	for _, k := range agent.All() {
		if ac := c.agentConfig(k); ac.Path != "" {
			p.Overrides[k] = ac.Path
		}
	}
	return p
}

// BackupDir returns the snapshot directory, defaulting to
// <configDir>/backups.
func (c *Config) BackupDir(configDir string) string {
	if c.Backup.Dir == "" {
		return filepath.Join(configDir, "backups")
	}
	if strings.HasPrefix(c.Backup.Dir, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, c.Backup.Dir[2:])
		}
	}
	return c.Backup.Dir
}

// ProbeTimeout returns the probe bound as a duration. Zero means the
// prober's default.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Probe.TimeoutMs) * time.Millisecond
}

// Defaults returns the baseline settings for k in mode: the proxy URL for
// the mode and the configured model. The API key is left empty.
func (c *Config) Defaults(k agent.Kind, mode codec.Mode) (codec.Settings, error) {
	s := codec.Settings{Mode: mode, Model: c.agentConfig(k).Model}
	switch mode {
	case codec.ModeLocal:
		s.EndpointURL = c.Proxy.LocalURL
	case codec.ModeRemote:
		if c.Proxy.RemoteURL == "" {
			return codec.Settings{}, fmt.Errorf("%w: proxy.remote_url is not set", codec.ErrInvalidSettings)
		}
		s.EndpointURL = c.Proxy.RemoteURL
	default:
		return codec.Settings{}, fmt.Errorf("%w: unknown mode %q", codec.ErrInvalidSettings, mode)
	}
	return s, nil
}
