// Package config loads Harrier configuration from file and environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/opensource-finance/harrier/internal/domain"
)

// EnvPrefix prefixes every environment override, e.g. HARRIER_SERVER_PORT.
const EnvPrefix = "HARRIER"

// Load reads configuration from path (or $HARRIER_CONFIG when path is empty)
// and the environment. Missing keys keep the values of domain.DefaultConfig.
// The file is optional; a path that does not exist is an error.
func Load(path string) (*domain.Config, error) {
	v := viper.New()
	setDefaults(v, domain.DefaultConfig())

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := &domain.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings no component can start with.
func Validate(cfg *domain.Config) error {
	var errs []error
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", cfg.Server.Port))
	}
	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("repository.driver %q is not sqlite or postgres", cfg.Repository.Driver))
	}
	switch cfg.Cache.Type {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("cache.type %q is not memory or redis", cfg.Cache.Type))
	}
	switch cfg.EventBus.Type {
	case "channel", "nats":
	default:
		errs = append(errs, fmt.Errorf("eventbus.type %q is not channel or nats", cfg.EventBus.Type))
	}
	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper, d *domain.Config) {
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.readtimeout", d.Server.ReadTimeout)
	v.SetDefault("server.writetimeout", d.Server.WriteTimeout)
	v.SetDefault("server.allowedorigins", d.Server.AllowedOrigins)

	v.SetDefault("catalog.path", d.Catalog.Path)

	v.SetDefault("repository.driver", d.Repository.Driver)
	v.SetDefault("repository.sqlitepath", d.Repository.SQLitePath)
	v.SetDefault("repository.postgreshost", d.Repository.PostgresHost)
	v.SetDefault("repository.postgresport", d.Repository.PostgresPort)
	v.SetDefault("repository.postgresuser", d.Repository.PostgresUser)
	v.SetDefault("repository.postgrespassword", d.Repository.PostgresPassword)
	v.SetDefault("repository.postgresdb", d.Repository.PostgresDB)
	v.SetDefault("repository.postgressslmode", d.Repository.PostgresSSLMode)
	v.SetDefault("repository.maxopenconns", d.Repository.MaxOpenConns)
	v.SetDefault("repository.maxidleconns", d.Repository.MaxIdleConns)
	v.SetDefault("repository.connmaxlifetime", d.Repository.ConnMaxLifetime)

	v.SetDefault("cache.type", d.Cache.Type)
	v.SetDefault("cache.localmaxsize", d.Cache.LocalMaxSize)
	v.SetDefault("cache.localttl", d.Cache.LocalTTL)
	v.SetDefault("cache.redisaddr", d.Cache.RedisAddr)
	v.SetDefault("cache.redispassword", d.Cache.RedisPassword)
	v.SetDefault("cache.redisdb", d.Cache.RedisDB)
	v.SetDefault("cache.enabletwophase", d.Cache.EnableTwoPhase)
	v.SetDefault("cache.verdictttl", d.Cache.VerdictTTL)

	v.SetDefault("eventbus.type", d.EventBus.Type)
	v.SetDefault("eventbus.channelbuffersize", d.EventBus.ChannelBufferSize)
	v.SetDefault("eventbus.natsurl", d.EventBus.NATSUrl)
	v.SetDefault("eventbus.natstoken", d.EventBus.NATSToken)
	v.SetDefault("eventbus.natsmaxreconnects", d.EventBus.NATSMaxReconnects)
	v.SetDefault("eventbus.natsreconnectwait", d.EventBus.NATSReconnectWait)

	v.SetDefault("worker.enabled", d.Worker.Enabled)
	v.SetDefault("worker.users", d.Worker.Users)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.servicename", d.Tracing.ServiceName)
	v.SetDefault("tracing.environment", d.Tracing.Environment)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
}
