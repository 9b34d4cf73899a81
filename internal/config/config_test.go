package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Server.Host == "" {
		t.Error("expected Server.Host to be set")
	}
	if cfg.Server.Port == 0 {
		t.Error("expected Server.Port to be non-zero")
	}
	if cfg.Database.Name == "" {
		t.Error("expected Database.Name to be set")
	}
	if cfg.Log.Level == "" {
		t.Error("expected Log.Level to be set")
	}
	require.NoError(t, cfg.Validate())
}

func TestConfig_DatabaseSettings(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Database.MaxOpenConns == 0 {
		t.Error("expected MaxOpenConns to be set")
	}
	if cfg.Database.MaxIdleConns == 0 {
		t.Error("expected MaxIdleConns to be set")
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		t.Error("expected ConnMaxLifetime to be set")
	}
}

func TestConfig_AutomationDefaults(t *testing.T) {
	cfg := GetDefaultConfig()

	assert.Equal(t, "pass", cfg.Automation.UnknownOperatorPolicy)
	assert.False(t, cfg.Automation.TransactionalWrites, "writes are independent unless configured")
	assert.True(t, cfg.Automation.LogErrors)
	assert.NotZero(t, cfg.Automation.ExecuteTimeout)
	assert.NotZero(t, cfg.Scheduler.ReloadInterval)
}

func TestConfig_SecurityDefaults(t *testing.T) {
	cfg := GetDefaultConfig()

	if !cfg.Security.CORS.Enabled {
		t.Error("expected CORS to be enabled")
	}
	if !cfg.Security.RateLimiting.Enabled {
		t.Error("expected rate limiting to be enabled")
	}
	if cfg.Security.RateLimiting.IdleTTL == 0 {
		t.Error("expected rate limit idle ttl to be set")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad driver", func(c *Config) { c.Database.Driver = "oracle" }, "unsupported database driver"},
		{"bad policy", func(c *Config) { c.Automation.UnknownOperatorPolicy = "maybe" }, "unknown_operator_policy"},
		{"jwt without secret", func(c *Config) { c.JWT.Enabled = true; c.JWT.Secret = "" }, "jwt.secret"},
		{"negative retention", func(c *Config) { c.History.RetentionDays = -1 }, "retention_days"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.SetConfigType("yaml")
	yml := `
database:
  driver: sqlite
  path: /tmp/kazi-test.db
automation:
  unknown_operator_policy: fail
  transactional_writes: true
  execute_timeout: 5s
scheduler:
  reload_interval: 15s
`
	require.NoError(t, viper.ReadConfig(strings.NewReader(yml)))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/tmp/kazi-test.db", cfg.Database.Path)
	assert.Equal(t, "fail", cfg.Automation.UnknownOperatorPolicy)
	assert.True(t, cfg.Automation.TransactionalWrites)
	assert.Equal(t, 5*time.Second, cfg.Automation.ExecuteTimeout)
	assert.Equal(t, 15*time.Second, cfg.Scheduler.ReloadInterval)
	// untouched sections keep their defaults
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.True(t, cfg.Automation.LogErrors)
}

func TestConfigureLogger(t *testing.T) {
	l := logrus.New()
	dir := t.TempDir()
	lc := LogConfig{
		Level:    "debug",
		Format:   "text",
		Output:   "file",
		FilePath: filepath.Join(dir, "nested", "kazi.log"),
		MaxSize:  1,
	}
	require.NoError(t, ConfigureLogger(l, lc))
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, l.Formatter)

	_, err := os.Stat(filepath.Join(dir, "nested"))
	assert.NoError(t, err, "log directory should be created")
}

func TestConfigureLogger_InvalidLevelFallsBack(t *testing.T) {
	l := logrus.New()
	require.NoError(t, ConfigureLogger(l, LogConfig{Level: "loud", Output: "stdout"}))
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, l.Formatter)
}
