// Package config assembles the runtime configuration of the session
// runner, the state server and the CLI from a viper instance: defaults,
// an optional config file, environment variables and command flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/patudom/cds-app/internal/infrastructure/external/cosmicds"
	"github.com/patudom/cds-app/internal/infrastructure/persistence/postgres"
	"github.com/patudom/cds-app/internal/infrastructure/persistence/redis"
	"github.com/patudom/cds-app/internal/infrastructure/scheduler/jobs"
	statehttp "github.com/patudom/cds-app/internal/interface/http"
	"github.com/patudom/cds-app/internal/stories/hubble"
	"github.com/patudom/cds-app/pkg/logger"
)

// Environment represents the application environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Storage drivers of the state server.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// EnvPrefix prefixes every variable without a historical name.
const EnvPrefix = "CDS"

// Config holds all application configuration.
type Config struct {
	App      AppConfig
	API      APIConfig
	Session  SessionFlags
	Sync     SyncConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Server   ServerConfig
	Log      LogConfig
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name            string
	Environment     Environment
	Version         string
	ShutdownTimeout time.Duration
}

// APIConfig points the session client at the CosmicDS API.
type APIConfig struct {
	// BaseURL comes from CDS_API_URL.
	BaseURL string

	// Key comes from CDS_API_KEY and is sent verbatim as Authorization.
	Key string

	// SessionSecret comes from SOLARA_SESSION_SECRET_KEY and salts user
	// hashes.
	SessionSecret string

	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// SyncConfig drives the periodic story-state sync of a session.
type SyncConfig struct {
	Interval time.Duration
	Timeout  time.Duration
	Story    string
}

// DatabaseConfig selects the state server storage.
type DatabaseConfig struct {
	// Driver is memory, sqlite or postgres.
	Driver string

	// Path is the sqlite database file.
	Path string

	// URL is the postgres connection string.
	URL      string
	MaxConns int32
}

// RedisConfig configures the roster cache. Disabled unless Enabled.
type RedisConfig struct {
	Enabled   bool
	Host      string
	Port      int
	Password  string
	DB        int
	RosterTTL time.Duration
}

// ServerConfig configures the state server.
type ServerConfig struct {
	Host               string
	Port               int
	APIKeyHashes       []string
	RateLimitPerMinute int
	MaxBodyBytes       int64
}

// LogConfig configures pkg/logger.
type LogConfig struct {
	Level  string
	Format string
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	server := statehttp.DefaultConfig()
	pg := postgres.DefaultConfig()
	rc := redis.DefaultConfig()
	limits := cosmicds.DefaultRateLimiterConfig()
	sync := jobs.DefaultSyncStoryStateConfig()

	return Config{
		App: AppConfig{
			Name:            "cds-app",
			Environment:     EnvDevelopment,
			Version:         "0.1.0",
			ShutdownTimeout: 30 * time.Second,
		},
		API: APIConfig{
			BaseURL:           "https://api.cosmicds.cfa.harvard.edu",
			Timeout:           15 * time.Second,
			RequestsPerSecond: limits.RequestsPerSecond,
			Burst:             limits.BurstSize,
		},
		Session: DefaultSessionFlags(),
		Sync: SyncConfig{
			Interval: sync.Interval,
			Timeout:  sync.Timeout,
			Story:    hubble.StoryID,
		},
		Database: DatabaseConfig{
			Driver:   DriverMemory,
			Path:     "cds.db",
			MaxConns: pg.MaxConns,
		},
		Redis: RedisConfig{
			Host:      rc.Host,
			Port:      rc.Port,
			RosterTTL: redis.TTLRoster,
		},
		Server: ServerConfig{
			Host:               server.Host,
			Port:               server.Port,
			RateLimitPerMinute: server.RateLimitPerMinute,
			MaxBodyBytes:       server.MaxBodyBytes,
		},
		Log: LogConfig{
			Level:  "info",
			Format: string(logger.FormatJSON),
		},
	}
}

// Bind registers defaults and environment lookups on v. Keys are dotted
// (api.url) and map to CDS_-prefixed variables (CDS_API_URL). The
// historical names of the session switches and the hash secret are bound
// explicitly.
func Bind(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("app.name", d.App.Name)
	v.SetDefault("app.environment", string(d.App.Environment))
	v.SetDefault("app.version", d.App.Version)
	v.SetDefault("app.shutdown_timeout", d.App.ShutdownTimeout)

	v.SetDefault("api.url", d.API.BaseURL)
	v.SetDefault("api.key", "")
	v.SetDefault("api.timeout", d.API.Timeout)
	v.SetDefault("api.requests_per_second", d.API.RequestsPerSecond)
	v.SetDefault("api.burst", d.API.Burst)

	v.SetDefault("sync.interval", d.Sync.Interval)
	v.SetDefault("sync.timeout", d.Sync.Timeout)
	v.SetDefault("sync.story", d.Sync.Story)

	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", d.Database.MaxConns)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", d.Redis.Host)
	v.SetDefault("redis.port", d.Redis.Port)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.roster_ttl", d.Redis.RosterTTL)

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.api_key_hashes", []string{})
	v.SetDefault("server.rate_limit", d.Server.RateLimitPerMinute)
	v.SetDefault("server.max_body_bytes", d.Server.MaxBodyBytes)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("api.session_secret", "SOLARA_SESSION_SECRET_KEY")
	bindSessionFlags(v)
}

// Load reads the configuration from a viper instance prepared with Bind.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name:            v.GetString("app.name"),
			Environment:     Environment(v.GetString("app.environment")),
			Version:         v.GetString("app.version"),
			ShutdownTimeout: v.GetDuration("app.shutdown_timeout"),
		},
		API: APIConfig{
			BaseURL:           strings.TrimRight(v.GetString("api.url"), "/"),
			Key:               v.GetString("api.key"),
			SessionSecret:     v.GetString("api.session_secret"),
			Timeout:           v.GetDuration("api.timeout"),
			RequestsPerSecond: v.GetFloat64("api.requests_per_second"),
			Burst:             v.GetInt("api.burst"),
		},
		Session: LoadSessionFlags(v),
		Sync: SyncConfig{
			Interval: v.GetDuration("sync.interval"),
			Timeout:  v.GetDuration("sync.timeout"),
			Story:    v.GetString("sync.story"),
		},
		Database: DatabaseConfig{
			Driver:   strings.ToLower(v.GetString("database.driver")),
			Path:     v.GetString("database.path"),
			URL:      v.GetString("database.url"),
			MaxConns: v.GetInt32("database.max_conns"),
		},
		Redis: RedisConfig{
			Enabled:   v.GetBool("redis.enabled"),
			Host:      v.GetString("redis.host"),
			Port:      v.GetInt("redis.port"),
			Password:  v.GetString("redis.password"),
			DB:        v.GetInt("redis.db"),
			RosterTTL: v.GetDuration("redis.roster_ttl"),
		},
		Server: ServerConfig{
			Host:               v.GetString("server.host"),
			Port:               v.GetInt("server.port"),
			APIKeyHashes:       splitList(v.GetStringSlice("server.api_key_hashes")),
			RateLimitPerMinute: v.GetInt("server.rate_limit"),
			MaxBodyBytes:       v.GetInt64("server.max_body_bytes"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: strings.ToLower(v.GetString("log.format")),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// splitList accepts both repeated values and a single comma separated
// environment value.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	switch c.Database.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Database.URL == "" {
			errs = append(errs, "database.url is required for the postgres driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be memory, sqlite or postgres", c.Database.Driver))
	}

	if c.Sync.Interval <= 0 {
		errs = append(errs, "sync.interval must be positive")
	}
	if c.Sync.Timeout <= 0 {
		errs = append(errs, "sync.timeout must be positive")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be 1-65535")
	}
	if c.Redis.Enabled && c.Redis.RosterTTL <= 0 {
		errs = append(errs, "redis.roster_ttl must be positive")
	}
	if c.Log.Format != string(logger.FormatJSON) && c.Log.Format != string(logger.FormatText) {
		errs = append(errs, "log.format must be json or text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ErrAPINotConfigured is returned by RequireAPI.
var ErrAPINotConfigured = errors.New("CDS_API_URL is required while the database is enabled")

// RequireAPI checks what a persisting session needs on top of Validate.
func (c *Config) RequireAPI() error {
	if c.Session.UpdateDB && c.API.BaseURL == "" {
		return ErrAPINotConfigured
	}
	return nil
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// ─────────────────────────────────────────────────────────────────────────────
// component configs
// ─────────────────────────────────────────────────────────────────────────────

// Logger returns the pkg/logger configuration.
func (c LogConfig) Logger() logger.Config {
	return logger.Config{Level: c.Level, Format: logger.Format(c.Format)}
}

// Client returns the API client configuration.
func (c APIConfig) Client(log *slog.Logger) cosmicds.ClientConfig {
	cc := cosmicds.DefaultClientConfig(c.BaseURL, c.Key)
	cc.SessionSecret = c.SessionSecret
	cc.Timeout = c.Timeout
	cc.RateLimiterConfig.RequestsPerSecond = c.RequestsPerSecond
	cc.RateLimiterConfig.BurstSize = c.Burst
	cc.Logger = log
	return cc
}

// Job returns the sync job configuration.
func (c SyncConfig) Job() jobs.SyncStoryStateConfig {
	return jobs.SyncStoryStateConfig{Interval: c.Interval, Timeout: c.Timeout}
}

// Postgres returns the connection configuration.
func (c DatabaseConfig) Postgres() postgres.Config {
	pc := postgres.DefaultConfig()
	pc.URL = c.URL
	if c.MaxConns > 0 {
		pc.MaxConns = c.MaxConns
	}
	return pc
}

// Cache returns the redis configuration.
func (c RedisConfig) Cache() redis.Config {
	rc := redis.DefaultConfig()
	rc.Host = c.Host
	rc.Port = c.Port
	rc.Password = c.Password
	rc.DB = c.DB
	return rc
}

// HTTP returns the state server configuration.
func (c ServerConfig) HTTP() statehttp.Config {
	hc := statehttp.DefaultConfig()
	hc.Host = c.Host
	hc.Port = c.Port
	hc.APIKeyHashes = c.APIKeyHashes
	hc.RateLimitPerMinute = c.RateLimitPerMinute
	hc.MaxBodyBytes = c.MaxBodyBytes
	return hc
}
