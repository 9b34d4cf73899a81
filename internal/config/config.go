package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Database   DatabaseConfig   `yaml:"database" mapstructure:"database"`
	JWT        JWTConfig        `yaml:"jwt" mapstructure:"jwt"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Security   SecurityConfig   `yaml:"security" mapstructure:"security"`
	Automation AutomationConfig `yaml:"automation" mapstructure:"automation"`
	Scheduler  SchedulerConfig  `yaml:"scheduler" mapstructure:"scheduler"`
	History    HistoryConfig    `yaml:"history" mapstructure:"history"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver          string        `yaml:"driver" mapstructure:"driver"` // postgres, mysql, sqlite
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	User            string        `yaml:"user" mapstructure:"user"`
	Password        string        `yaml:"password" mapstructure:"password"`
	Name            string        `yaml:"name" mapstructure:"name"`
	SSLMode         string        `yaml:"sslmode" mapstructure:"sslmode"`
	Path            string        `yaml:"path" mapstructure:"path"` // sqlite 文件路径
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

type JWTConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Secret    string        `yaml:"secret" mapstructure:"secret"`
	ExpiresIn time.Duration `yaml:"expires_in" mapstructure:"expires_in"`
}

type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	Format     string `yaml:"format" mapstructure:"format"` // json, text
	Output     string `yaml:"output" mapstructure:"output"` // stdout, file, both
	FilePath   string `yaml:"file_path" mapstructure:"file_path"`
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size"`       // MB
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age"`         // days
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"` // number of backup files
	Compress   bool   `yaml:"compress" mapstructure:"compress"`
}

type MonitoringConfig struct {
	Enabled     bool          `yaml:"enabled" mapstructure:"enabled"`
	MetricsPath string        `yaml:"metrics_path" mapstructure:"metrics_path"`
	Tracing     TracingConfig `yaml:"tracing" mapstructure:"tracing"`
}

// TracingConfig OpenTelemetry 追踪配置
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled" mapstructure:"enabled"`
	Endpoint    string  `yaml:"endpoint" mapstructure:"endpoint"`         // OTLP gRPC 端点，例如 http://otel-collector:4317
	Insecure    bool    `yaml:"insecure" mapstructure:"insecure"`         // 是否使用明文（本地/开发）
	SampleRatio float64 `yaml:"sample_ratio" mapstructure:"sample_ratio"` // 采样率 0.0~1.0
	ServiceName string  `yaml:"service_name" mapstructure:"service_name"` // 缺省使用 "kazi"
}

type SecurityConfig struct {
	CORS         CORSConfig         `yaml:"cors" mapstructure:"cors"`
	RateLimiting RateLimitingConfig `yaml:"rate_limiting" mapstructure:"rate_limiting"`
}

type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" mapstructure:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" mapstructure:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" mapstructure:"allowed_headers"`
}

type RateLimitingConfig struct {
	Enabled           bool                  `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMinute int                   `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	Burst             int                   `yaml:"burst" mapstructure:"burst"`
	KeyHeader         string                `yaml:"key_header" mapstructure:"key_header"` // 为空时按客户端 IP 限流
	WhitelistIPs      []string              `yaml:"whitelist_ips" mapstructure:"whitelist_ips"`
	WhitelistKeys     []string              `yaml:"whitelist_keys" mapstructure:"whitelist_keys"`
	IdleTTL           time.Duration         `yaml:"idle_ttl" mapstructure:"idle_ttl"` // 空闲桶过期时间
	Paths             []PathRateLimitConfig `yaml:"paths" mapstructure:"paths"`
}

// PathRateLimitConfig 按路径前缀覆盖全局限流
type PathRateLimitConfig struct {
	Enabled           bool   `yaml:"enabled" mapstructure:"enabled"`
	Prefix            string `yaml:"prefix" mapstructure:"prefix"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	Burst             int    `yaml:"burst" mapstructure:"burst"`
}

// AutomationConfig 触发器执行相关配置
type AutomationConfig struct {
	UnknownOperatorPolicy string        `yaml:"unknown_operator_policy" mapstructure:"unknown_operator_policy"` // pass, fail
	TransactionalWrites   bool          `yaml:"transactional_writes" mapstructure:"transactional_writes"`
	LogErrors             bool          `yaml:"log_errors" mapstructure:"log_errors"`
	ExecuteTimeout        time.Duration `yaml:"execute_timeout" mapstructure:"execute_timeout"`
	WebhookTimeout        time.Duration `yaml:"webhook_timeout" mapstructure:"webhook_timeout"`
}

type SchedulerConfig struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	ReloadInterval time.Duration `yaml:"reload_interval" mapstructure:"reload_interval"`
}

// HistoryConfig 执行记录与日志的保留策略
type HistoryConfig struct {
	RetentionDays int    `yaml:"retention_days" mapstructure:"retention_days"` // 0 表示不清理
	PurgeSchedule string `yaml:"purge_schedule" mapstructure:"purge_schedule"` // cron 表达式
}

// Load 从 viper 读取配置，未设置的字段沿用默认值
func Load() (*Config, error) {
	cfg := GetDefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values the server cannot start without.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Database.Driver) {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("config: unsupported database driver %q", c.Database.Driver)
	}
	switch strings.ToLower(c.Automation.UnknownOperatorPolicy) {
	case "", "pass", "fail":
	default:
		return fmt.Errorf("config: unknown_operator_policy must be pass or fail, got %q", c.Automation.UnknownOperatorPolicy)
	}
	if c.JWT.Enabled && c.JWT.Secret == "" {
		return fmt.Errorf("config: jwt.secret is required when jwt is enabled")
	}
	if c.History.RetentionDays < 0 {
		return fmt.Errorf("config: history.retention_days must not be negative")
	}
	return nil
}

// GetDefaultConfig 返回默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Password:        "password",
			Name:            "kazi",
			SSLMode:         "disable",
			Path:            "./data/kazi.db",
			MaxOpenConns:    50,
			MaxIdleConns:    10,
			ConnMaxLifetime: 3600 * time.Second,
		},
		JWT: JWTConfig{
			Enabled:   false,
			Secret:    "default-secret-key",
			ExpiresIn: 24 * time.Hour,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			FilePath:   "./logs/kazi.log",
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 3,
			Compress:   true,
		},
		Monitoring: MonitoringConfig{
			Enabled:     true,
			MetricsPath: "/metrics",
			Tracing: TracingConfig{
				Enabled:     false,
				Endpoint:    "http://localhost:4317",
				Insecure:    true,
				SampleRatio: 0.1,
				ServiceName: "kazi",
			},
		},
		Security: SecurityConfig{
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "Authorization"},
			},
			RateLimiting: RateLimitingConfig{
				Enabled:           true,
				RequestsPerMinute: 300,
				Burst:             50,
				IdleTTL:           10 * time.Minute,
			},
		},
		Automation: AutomationConfig{
			UnknownOperatorPolicy: "pass",
			TransactionalWrites:   false,
			LogErrors:             true,
			ExecuteTimeout:        30 * time.Second,
			WebhookTimeout:        10 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Enabled:        true,
			ReloadInterval: time.Minute,
		},
		History: HistoryConfig{
			RetentionDays: 90,
			PurgeSchedule: "0 3 * * *",
		},
	}
}
