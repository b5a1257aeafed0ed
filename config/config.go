package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrInvalidConfig      = errors.New("invalid configuration")
)

// Role values accepted in the users section.
const (
	RoleParent = "parent"
	RoleChild  = "child"
)

// Config represents the server configuration
type Config struct {
	TenantID      string          `yaml:"tenant_id"`
	ListenAddr    string          `yaml:"listen_addr"`
	DatabasePath  string          `yaml:"database_path"`
	JWTSecret     string          `yaml:"jwt_secret"`
	DevCORSOrigin string          `yaml:"dev_cors_origin"`
	Log           LogConfig       `yaml:"log"`
	Session       SessionConfig   `yaml:"session"`
	Heartbeat     HeartbeatConfig `yaml:"heartbeat"`
	Children      []ChildConfig   `yaml:"children"`
	Tasks         []TaskConfig    `yaml:"tasks"`
	Users         []UserConfig    `yaml:"users"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SessionConfig contains session lifetime settings
type SessionConfig struct {
	InactivityDays int `yaml:"inactivity_days"`
	TTLDays        int `yaml:"ttl_days"`
}

// HeartbeatConfig bounds what a single heartbeat may report
type HeartbeatConfig struct {
	MaxBatch          int `yaml:"max_batch"`
	FutureSkewMinutes int `yaml:"future_skew_minutes"`
}

// ChildConfig declares a child managed by this tenant
type ChildConfig struct {
	ID          string `yaml:"id"`
	DisplayName string `yaml:"display_name"`
}

// TaskConfig declares a rewardable task
type TaskConfig struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Minutes int    `yaml:"minutes"`
}

// UserConfig declares a login account. ChildID is required for child role.
type UserConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"` // bcrypt
	Role         string `yaml:"role"`
	ChildID      string `yaml:"child_id"`
}

// Load loads configuration from a YAML file, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigFileNotFound
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.applyEnv()
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) applyEnv() {
	c.ListenAddr = getEnv("KLEPSYDRA_LISTEN_ADDR", c.ListenAddr)
	c.DatabasePath = getEnv("KLEPSYDRA_DB_PATH", c.DatabasePath)
	c.JWTSecret = getEnv("KLEPSYDRA_JWT_SECRET", c.JWTSecret)
	c.Log.Level = getEnv("KLEPSYDRA_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("KLEPSYDRA_LOG_FORMAT", c.Log.Format)
	c.DevCORSOrigin = getEnv("KLEPSYDRA_DEV_CORS_ORIGIN", c.DevCORSOrigin)
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":5151"
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "./klepsydra.db"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Session.InactivityDays == 0 {
		c.Session.InactivityDays = 7
	}
	if c.Session.TTLDays == 0 {
		c.Session.TTLDays = 30
	}
	if c.Heartbeat.MaxBatch == 0 {
		c.Heartbeat.MaxBatch = 1440
	}
	if c.Heartbeat.FutureSkewMinutes == 0 {
		c.Heartbeat.FutureSkewMinutes = 2
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.TenantID == "" {
		return fmt.Errorf("%w: tenant_id is required", ErrInvalidConfig)
	}
	if len(c.JWTSecret) < 16 {
		return fmt.Errorf("%w: jwt_secret must be at least 16 characters", ErrInvalidConfig)
	}
	if c.Session.InactivityDays <= 0 || c.Session.TTLDays <= 0 {
		return fmt.Errorf("%w: session windows must be positive", ErrInvalidConfig)
	}
	if c.Session.InactivityDays > c.Session.TTLDays {
		return fmt.Errorf("%w: session inactivity_days exceeds ttl_days", ErrInvalidConfig)
	}
	if c.Heartbeat.MaxBatch <= 0 {
		return fmt.Errorf("%w: heartbeat max_batch must be positive", ErrInvalidConfig)
	}
	if c.Heartbeat.FutureSkewMinutes < 0 {
		return fmt.Errorf("%w: heartbeat future_skew_minutes must not be negative", ErrInvalidConfig)
	}

	children := make(map[string]bool, len(c.Children))
	for _, child := range c.Children {
		if child.ID == "" || child.DisplayName == "" {
			return fmt.Errorf("%w: children entries need id and display_name", ErrInvalidConfig)
		}
		if children[child.ID] {
			return fmt.Errorf("%w: duplicate child id %q", ErrInvalidConfig, child.ID)
		}
		children[child.ID] = true
	}

	tasks := make(map[string]bool, len(c.Tasks))
	for _, task := range c.Tasks {
		if task.ID == "" || task.Name == "" {
			return fmt.Errorf("%w: tasks entries need id and name", ErrInvalidConfig)
		}
		if task.Minutes <= 0 {
			return fmt.Errorf("%w: task %q minutes must be positive", ErrInvalidConfig, task.ID)
		}
		if tasks[task.ID] {
			return fmt.Errorf("%w: duplicate task id %q", ErrInvalidConfig, task.ID)
		}
		tasks[task.ID] = true
	}

	usernames := make(map[string]bool, len(c.Users))
	for _, user := range c.Users {
		if user.Username == "" || user.PasswordHash == "" {
			return fmt.Errorf("%w: users entries need username and password_hash", ErrInvalidConfig)
		}
		if usernames[user.Username] {
			return fmt.Errorf("%w: duplicate username %q", ErrInvalidConfig, user.Username)
		}
		usernames[user.Username] = true

		switch user.Role {
		case RoleParent:
		case RoleChild:
			if user.ChildID == "" {
				return fmt.Errorf("%w: child user %q needs child_id", ErrInvalidConfig, user.Username)
			}
			if !children[user.ChildID] {
				return fmt.Errorf("%w: child user %q references unknown child %q", ErrInvalidConfig, user.Username, user.ChildID)
			}
		default:
			return fmt.Errorf("%w: user %q has unknown role %q", ErrInvalidConfig, user.Username, user.Role)
		}
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
