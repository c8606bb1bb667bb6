package domain

import "time"

// Config holds the complete Harrier configuration.
type Config struct {
	// Server settings
	Server ServerConfig `mapstructure:"server" json:"server"`

	// Catalog settings
	Catalog CatalogConfig `mapstructure:"catalog" json:"catalog"`

	// Component configurations
	Repository RepositoryConfig `mapstructure:"repository" json:"repository"`
	Cache      CacheConfig      `mapstructure:"cache" json:"cache"`
	EventBus   EventBusConfig   `mapstructure:"eventbus" json:"eventBus"`

	// Worker enables async issuer-status recomputation on history changes.
	Worker WorkerConfig `mapstructure:"worker" json:"worker"`

	// Observability
	Logging LoggingConfig `mapstructure:"logging" json:"logging"`
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string   `mapstructure:"host" json:"host"`
	Port           int      `mapstructure:"port" json:"port"`
	ReadTimeout    int      `mapstructure:"readtimeout" json:"readTimeout"`   // seconds
	WriteTimeout   int      `mapstructure:"writetimeout" json:"writeTimeout"` // seconds
	AllowedOrigins []string `mapstructure:"allowedorigins" json:"allowedOrigins"`
}

// CatalogConfig points at the rule catalog handed to the engine.
type CatalogConfig struct {
	// Path is a catalog JSON file loaded at startup. When empty the latest
	// persisted snapshot is used.
	Path string `mapstructure:"path" json:"path"`
}

// WorkerConfig holds async worker settings.
type WorkerConfig struct {
	Enabled bool `mapstructure:"enabled" json:"enabled"`

	// Users limits the worker to these user scopes; empty listens globally.
	Users []string `mapstructure:"users" json:"users,omitempty"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level" json:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" json:"enabled"`
	ServiceName string `mapstructure:"servicename" json:"serviceName"`
	Environment string `mapstructure:"environment" json:"environment"`
	Endpoint    string `mapstructure:"endpoint" json:"endpoint"` // Jaeger collector endpoint
}

// DefaultConfig returns a configuration that runs on a single machine:
// SQLite, in-process cache and channel bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    30,
			WriteTimeout:   30,
			AllowedOrigins: []string{"*"},
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./harrier.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			VerdictTTL:   24 * time.Hour,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Worker: WorkerConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "harrier",
			Environment: "development",
		},
	}
}
