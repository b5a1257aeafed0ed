package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	c := Config{
		TenantID:  "family-1",
		JWTSecret: "0123456789abcdef",
		Children: []ChildConfig{
			{ID: "alice", DisplayName: "Alice"},
			{ID: "bob", DisplayName: "Bob"},
		},
		Tasks: []TaskConfig{
			{ID: "homework", Name: "Homework", Minutes: 30},
		},
		Users: []UserConfig{
			{Username: "mom", PasswordHash: "$2a$10$hash", Role: RoleParent},
			{Username: "alice", PasswordHash: "$2a$10$hash", Role: RoleChild, ChildID: "alice"},
		},
	}
	c.applyDefaults()
	return c
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing tenant id",
			mutate:  func(c *Config) { c.TenantID = "" },
			wantErr: true,
		},
		{
			name:    "short jwt secret",
			mutate:  func(c *Config) { c.JWTSecret = "short" },
			wantErr: true,
		},
		{
			name:    "inactivity exceeds ttl",
			mutate:  func(c *Config) { c.Session.InactivityDays = 60 },
			wantErr: true,
		},
		{
			name:    "duplicate child id",
			mutate:  func(c *Config) { c.Children[1].ID = "alice" },
			wantErr: true,
		},
		{
			name:    "task with zero minutes",
			mutate:  func(c *Config) { c.Tasks[0].Minutes = 0 },
			wantErr: true,
		},
		{
			name:    "child user without binding",
			mutate:  func(c *Config) { c.Users[1].ChildID = "" },
			wantErr: true,
		},
		{
			name:    "child user bound to unknown child",
			mutate:  func(c *Config) { c.Users[1].ChildID = "charlie" },
			wantErr: true,
		},
		{
			name:    "unknown role",
			mutate:  func(c *Config) { c.Users[0].Role = "admin" },
			wantErr: true,
		},
		{
			name:    "duplicate username",
			mutate:  func(c *Config) { c.Users[1].Username = "mom" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.mutate(&config)
			err := config.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	validYAML := `
tenant_id: family-1
jwt_secret: 0123456789abcdef
listen_addr: ":6161"
children:
  - id: alice
    display_name: Alice
tasks:
  - id: homework
    name: Homework
    minutes: 30
users:
  - username: mom
    password_hash: "$2a$10$hash"
    role: parent
  - username: alice
    password_hash: "$2a$10$hash"
    role: child
    child_id: alice
`

	err := os.WriteFile(configPath, []byte(validYAML), 0644)
	require.NoError(t, err)

	config, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "family-1", config.TenantID)
	assert.Equal(t, ":6161", config.ListenAddr)
	assert.Equal(t, "./klepsydra.db", config.DatabasePath)
	assert.Equal(t, 7, config.Session.InactivityDays)
	assert.Equal(t, 30, config.Session.TTLDays)
	assert.Equal(t, 1440, config.Heartbeat.MaxBatch)
	assert.Len(t, config.Children, 1)
	assert.Equal(t, "Homework", config.Tasks[0].Name)
	assert.Equal(t, RoleChild, config.Users[1].Role)

	// Non-existent file
	_, err = Load(filepath.Join(tmpDir, "missing.yaml"))
	assert.ErrorIs(t, err, ErrConfigFileNotFound)

	// Malformed YAML
	invalidPath := filepath.Join(tmpDir, "invalid.yaml")
	err = os.WriteFile(invalidPath, []byte("tenant_id: [unclosed"), 0644)
	require.NoError(t, err)

	_, err = Load(invalidPath)
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlBody := `
tenant_id: family-1
jwt_secret: 0123456789abcdef
database_path: "/from/file.db"
`
	err := os.WriteFile(configPath, []byte(yamlBody), 0644)
	require.NoError(t, err)

	t.Setenv("KLEPSYDRA_DB_PATH", "/from/env.db")
	t.Setenv("KLEPSYDRA_LISTEN_ADDR", "127.0.0.1:7171")
	t.Setenv("KLEPSYDRA_LOG_LEVEL", "debug")

	config, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "/from/env.db", config.DatabasePath)
	assert.Equal(t, "127.0.0.1:7171", config.ListenAddr)
	assert.Equal(t, "debug", config.Log.Level)
}
