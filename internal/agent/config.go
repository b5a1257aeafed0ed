// Package agent implements the device-side companion of klepsydra: it
// reports used minutes to the server, warns the child shortly before
// the balance runs out, and locks the workstation when it does.
package agent

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// EnvConfig overrides the default config file location.
const EnvConfig = "KLEPSYDRA_AGENT_CONFIG"

var (
	ErrMissingServerURL = errors.New("server_url is required")
	ErrMissingChildID   = errors.New("child_id is required")
	ErrMissingDeviceID  = errors.New("device_id is required")
	ErrInvalidInterval  = errors.New("interval_secs must be positive")
	ErrInvalidWarnLead  = errors.New("warn_before_lock_secs must be positive and shorter than the interval")
	ErrInvalidFailsafe  = errors.New("failsafe_after_secs must be positive")
	ErrInvalidGrace     = errors.New("relock_grace_secs must not be negative")
	ErrInvalidLockPoll  = errors.New("lock_poll_secs must be positive")
)

// Config holds the agent configuration, normally written once by the
// login flow and read back on every start.
type Config struct {
	ServerURL string `yaml:"server_url"`
	ChildID   string `yaml:"child_id"`
	DeviceID  string `yaml:"device_id"`

	IntervalSecs       int `yaml:"interval_secs"`
	WarnBeforeLockSecs int `yaml:"warn_before_lock_secs"`
	FailsafeAfterSecs  int `yaml:"failsafe_after_secs"`
	RelockGraceSecs    int `yaml:"relock_grace_secs"`
	LockPollSecs       int `yaml:"lock_poll_secs"`

	// LockCmd overrides the platform lock action with a custom command,
	// split on whitespace. Linux only.
	LockCmd string `yaml:"lock_cmd,omitempty"`

	// StateDir holds the device token and the pending-minutes log.
	// Defaults to the user config dir.
	StateDir string `yaml:"state_dir,omitempty"`

	LogFile   string `yaml:"log_file,omitempty"`
	LogLevel  string `yaml:"log_level,omitempty"`
	LogFormat string `yaml:"log_format,omitempty"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		IntervalSecs:       60,
		WarnBeforeLockSecs: 45,
		FailsafeAfterSecs:  300,
		RelockGraceSecs:    15,
		LockPollSecs:       5,
		LogLevel:           "info",
		LogFormat:          "json",
	}
}

// Load reads the config file, fills in defaults and validates it.
func Load(path string) (*Config, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// read parses the config without validating it. The login flow uses it
// to pick up a partial config from before the device was registered.
func read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.applyDefaults()
	cfg.ServerURL = NormalizeServerURL(cfg.ServerURL)
	return &cfg, nil
}

// Save writes the config to path, creating parent directories as needed.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create config dir %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.IntervalSecs == 0 {
		c.IntervalSecs = def.IntervalSecs
	}
	if c.WarnBeforeLockSecs == 0 {
		c.WarnBeforeLockSecs = def.WarnBeforeLockSecs
	}
	if c.FailsafeAfterSecs == 0 {
		c.FailsafeAfterSecs = def.FailsafeAfterSecs
	}
	if c.RelockGraceSecs == 0 {
		c.RelockGraceSecs = def.RelockGraceSecs
	}
	if c.LockPollSecs == 0 {
		c.LockPollSecs = def.LockPollSecs
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = def.LogFormat
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return ErrMissingServerURL
	}
	if c.ChildID == "" {
		return ErrMissingChildID
	}
	if c.DeviceID == "" {
		return ErrMissingDeviceID
	}
	if c.IntervalSecs <= 0 {
		return ErrInvalidInterval
	}
	if c.WarnBeforeLockSecs <= 0 || c.WarnBeforeLockSecs >= c.IntervalSecs {
		return ErrInvalidWarnLead
	}
	if c.FailsafeAfterSecs <= 0 {
		return ErrInvalidFailsafe
	}
	if c.RelockGraceSecs < 0 {
		return ErrInvalidGrace
	}
	if c.LockPollSecs <= 0 {
		return ErrInvalidLockPoll
	}
	return nil
}

// Interval is how often the agent reports a heartbeat.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalSecs) * time.Second
}

// WarnLead is how long before a pending lock the warning appears.
func (c *Config) WarnLead() time.Duration {
	return time.Duration(c.WarnBeforeLockSecs) * time.Second
}

// FailsafeAfter is how long the server may stay unreachable before the
// agent locks on its own.
func (c *Config) FailsafeAfter() time.Duration {
	return time.Duration(c.FailsafeAfterSecs) * time.Second
}

// RelockGrace is how long a manual unlock lasts while the balance is
// spent before the agent locks again.
func (c *Config) RelockGrace() time.Duration {
	return time.Duration(c.RelockGraceSecs) * time.Second
}

// LockPoll is how often the re-lock loop samples the session lock state.
func (c *Config) LockPoll() time.Duration {
	return time.Duration(c.LockPollSecs) * time.Second
}

// ResolveConfigPath picks the config file location: an explicit flag
// wins, then the KLEPSYDRA_AGENT_CONFIG env var, then the per-user
// default.
func ResolveConfigPath(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if env := os.Getenv(EnvConfig); env != "" {
		return env, nil
	}
	return DefaultConfigPath()
}

// DefaultConfigPath returns the per-user config file location.
func DefaultConfigPath() (string, error) {
	dir, err := DefaultStateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "agent.yaml"), nil
}

// DefaultStateDir returns the per-user directory for agent state.
func DefaultStateDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("could not determine config dir: %w", err)
	}
	return filepath.Join(base, "klepsydra"), nil
}

// NormalizeServerURL trims the URL and picks a scheme when none is
// given: explicit http/https is kept, a port other than 443 or a local
// address means http, anything else defaults to https.
func NormalizeServerURL(raw string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(raw), "/")
	if trimmed == "" {
		return ""
	}

	if idx := strings.Index(trimmed, "://"); idx >= 0 {
		scheme := strings.ToLower(trimmed[:idx])
		if scheme == "http" || scheme == "https" {
			rest := strings.TrimRight(trimmed[idx+3:], "/")
			return scheme + "://" + rest
		}
	}

	return defaultScheme(trimmed) + "://" + trimmed
}

func defaultScheme(hostAndPath string) string {
	authority := hostAndPath
	if idx := strings.IndexAny(authority, "/?#"); idx >= 0 {
		authority = authority[:idx]
	}

	host, port := splitAuthority(authority)
	if port != "" {
		if port == "443" {
			return "https"
		}
		return "http"
	}

	host = strings.Trim(host, "[]")
	if strings.EqualFold(host, "localhost") {
		return "http"
	}
	if net.ParseIP(host) != nil {
		return "http"
	}
	return "https"
}

// splitAuthority separates an optional numeric port from the host,
// leaving IPv6 brackets on the host.
func splitAuthority(authority string) (host, port string) {
	if strings.HasPrefix(authority, "[") {
		end := strings.Index(authority, "]")
		if end < 0 {
			return authority, ""
		}
		host = authority[:end+1]
		rest := authority[end+1:]
		if p, ok := strings.CutPrefix(rest, ":"); ok && isDigits(p) {
			return host, p
		}
		return host, ""
	}

	idx := strings.LastIndex(authority, ":")
	if idx < 0 {
		return authority, ""
	}
	p := authority[idx+1:]
	if p == "" || !isDigits(p) {
		return authority, ""
	}
	return authority[:idx], p
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
