// Package config provides configuration management for the arena service.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the arena service.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	NATS         NATSConfig         `mapstructure:"nats"`
	Data         DataConfig         `mapstructure:"data"`
	Agents       AgentsConfig       `mapstructure:"agents"`
	Workspaces   WorkspacesConfig   `mapstructure:"workspaces"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Worker       WorkerConfig       `mapstructure:"worker"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Tracing      TracingConfig      `mapstructure:"tracing"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds database connection configuration.
// Driver selects between the embedded sqlite store (default) and postgres.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite, postgres
	Path     string `mapstructure:"path"`   // sqlite file path
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// NATSConfig holds NATS messaging configuration.
// An empty URL selects the in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// DataConfig holds the on-disk data layout. Memory files live under
// <dir>/memory and call logs under <dir>/logs.
type DataConfig struct {
	Dir string `mapstructure:"dir"`
}

// AgentsConfig holds the agent profile directory.
type AgentsConfig struct {
	ConfigDir string `mapstructure:"configDir"` // one YAML file per agent
}

// WorkspacesConfig holds the base directory for agent working directories.
type WorkspacesConfig struct {
	Dir string `mapstructure:"dir"`
}

// OrchestratorConfig holds group-level defaults for turn execution.
// Each group may override these through its own config.
type OrchestratorConfig struct {
	MaxResponders      int `mapstructure:"maxResponders"`
	TurnTimeoutSeconds int `mapstructure:"turnTimeoutSeconds"`
	ChainDepthLimit    int `mapstructure:"chainDepthLimit"`
	HistoryLimit       int `mapstructure:"historyLimit"`
}

// WorkerConfig bounds concurrent CLI subprocess invocations across all groups.
type WorkerConfig struct {
	MaxConcurrent int `mapstructure:"maxConcurrent"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// TracingConfig holds OpenTelemetry configuration. The exporter endpoint
// comes from OTEL_EXPORTER_OTLP_ENDPOINT; this flag only gates init.
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// TurnTimeoutDuration returns the per-invocation timeout as a time.Duration.
func (o *OrchestratorConfig) TurnTimeoutDuration() time.Duration {
	return time.Duration(o.TurnTimeoutSeconds) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" if running in Kubernetes or other production environments.
// Returns "text" for terminal/development use (human-readable console format).
func detectDefaultLogFormat() string {
	// Check if running in Kubernetes
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}

	// Check for explicit production environment
	if env := os.Getenv("ARENA_ENV"); env == "production" || env == "prod" {
		return "json"
	}

	// Default to text format for terminal use (more readable than JSON)
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Database defaults - sqlite file store unless postgres is configured
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/arena.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "arena")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "arena")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "arena-client")
	v.SetDefault("nats.maxReconnects", 10)

	// Data layout defaults
	v.SetDefault("data.dir", "./data")
	v.SetDefault("agents.configDir", "./agents")
	v.SetDefault("workspaces.dir", "./workspaces")

	// Orchestrator defaults (per-group config can override each)
	v.SetDefault("orchestrator.maxResponders", 5)
	v.SetDefault("orchestrator.turnTimeoutSeconds", 120)
	v.SetDefault("orchestrator.chainDepthLimit", 5)
	v.SetDefault("orchestrator.historyLimit", 50)

	// Worker defaults
	v.SetDefault("worker.maxConcurrent", 8)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	// Tracing defaults
	v.SetDefault("tracing.enabled", true)
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix ARENA_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory,
// ./configs, or /etc/agent-arena/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("ARENA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys)
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion,
	// so we explicitly bind keys where env var naming differs from config key naming.
	_ = v.BindEnv("database.driver", "ARENA_DATABASE_DRIVER")
	_ = v.BindEnv("database.path", "ARENA_DATABASE_PATH")
	_ = v.BindEnv("agents.configDir", "ARENA_AGENTS_CONFIG_DIR")
	_ = v.BindEnv("workspaces.dir", "ARENA_WORKSPACES_DIR")
	_ = v.BindEnv("worker.maxConcurrent", "ARENA_WORKER_MAX_CONCURRENT")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/agent-arena/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
// In development mode (default), most fields are optional.
func validate(cfg *Config) error {
	var errs []string

	// Server validation - always required
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	// Database validation
	switch cfg.Database.Driver {
	case "sqlite":
		if cfg.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite driver")
		}
	case "postgres":
		if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
			errs = append(errs, "database.port must be between 1 and 65535")
		}
		if cfg.Database.User == "" {
			errs = append(errs, "database.user is required for the postgres driver")
		}
		if cfg.Database.DBName == "" {
			errs = append(errs, "database.dbName is required for the postgres driver")
		}
	default:
		errs = append(errs, "database.driver must be one of: sqlite, postgres")
	}

	// NATS validation - optional (uses in-memory event bus if not set)
	// No validation needed - empty URL means use in-memory

	// Orchestrator validation
	if cfg.Orchestrator.MaxResponders <= 0 {
		errs = append(errs, "orchestrator.maxResponders must be positive")
	}
	if cfg.Orchestrator.TurnTimeoutSeconds <= 0 {
		errs = append(errs, "orchestrator.turnTimeoutSeconds must be positive")
	}
	if cfg.Orchestrator.ChainDepthLimit <= 0 {
		errs = append(errs, "orchestrator.chainDepthLimit must be positive")
	}
	if cfg.Orchestrator.HistoryLimit <= 0 {
		errs = append(errs, "orchestrator.historyLimit must be positive")
	}

	// Worker validation
	if cfg.Worker.MaxConcurrent <= 0 {
		errs = append(errs, "worker.maxConcurrent must be positive")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text, console")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}
