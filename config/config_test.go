package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patudom/cds-app/internal/stories/hubble"
)

func load(t *testing.T) *Config {
	t.Helper()
	v := viper.New()
	Bind(v)
	cfg, err := Load(v)
	require.NoError(t, err)
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg := load(t)

	assert.Equal(t, DefaultConfig(), *cfg)
	assert.True(t, cfg.Session.UpdateDB)
	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, hubble.StoryID, cfg.Sync.Story)
	assert.NoError(t, cfg.RequireAPI())
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("CDS_API_URL", "http://localhost:8081/")
	t.Setenv("CDS_API_KEY", "key-1")
	t.Setenv("SOLARA_SESSION_SECRET_KEY", "salt")
	t.Setenv("CDS_SYNC_INTERVAL", "5s")
	t.Setenv("CDS_DATABASE_DRIVER", "SQLite")
	t.Setenv("CDS_DATABASE_PATH", "/tmp/state.db")
	t.Setenv("CDS_SERVER_API_KEY_HASHES", "h1,h2")
	t.Setenv("CDS_LOG_FORMAT", "text")

	cfg := load(t)
	assert.Equal(t, "http://localhost:8081", cfg.API.BaseURL)
	assert.Equal(t, "key-1", cfg.API.Key)
	assert.Equal(t, "salt", cfg.API.SessionSecret)
	assert.Equal(t, 5*time.Second, cfg.Sync.Interval)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "/tmp/state.db", cfg.Database.Path)
	assert.Equal(t, []string{"h1", "h2"}, cfg.Server.APIKeyHashes)
	assert.Equal(t, "text", cfg.Log.Format)

	client := cfg.API.Client(nil)
	assert.Equal(t, "salt", client.SessionSecret)
	assert.Equal(t, "key-1", client.APIKey)
	assert.Equal(t, []string{"h1", "h2"}, cfg.Server.HTTP().APIKeyHashes)
}

func TestSessionFlags_Environment(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		want  SessionFlags
		names []string
	}{
		{
			name:  "defaults",
			want:  SessionFlags{UpdateDB: true},
			names: []string{FeatureUpdateDB},
		},
		{
			name: "all switched",
			env: map[string]string{
				"CDS_DISABLE_DB":          " TRUE ",
				"CDS_DEBUG_MODE":          "true",
				"CDS_SHOW_TEAM_INTERFACE": "True",
			},
			want:  SessionFlags{DebugMode: true, ShowTeamInterface: true},
			names: []string{FeatureDebugMode, FeatureShowTeamInterface},
		},
		{
			name: "only the word true counts",
			env: map[string]string{
				"CDS_DISABLE_DB": "1",
				"CDS_DEBUG_MODE": "yes",
			},
			want:  SessionFlags{UpdateDB: true},
			names: []string{FeatureUpdateDB},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg := load(t)
			assert.Equal(t, tt.want, cfg.Session)
			assert.Equal(t, tt.names, cfg.Session.Active())
		})
	}
}

func TestSessionFlags_Set(t *testing.T) {
	f := DefaultSessionFlags()
	require.NoError(t, f.Set(FeatureDebugMode, true))
	require.NoError(t, f.Set(FeatureUpdateDB, false))
	assert.True(t, f.Enabled(FeatureDebugMode))
	assert.False(t, f.Enabled(FeatureUpdateDB))

	err := f.Set("rocket_mode", true)
	var ffErr *FeatureFlagError
	require.ErrorAs(t, err, &ffErr)
	assert.Equal(t, "rocket_mode", ffErr.Feature)

	flags := f.Story()
	assert.True(t, flags.DebugMode)
	assert.False(t, flags.UpdateDB)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"sqlite without path", func(c *Config) { c.Database.Driver = DriverSQLite; c.Database.Path = "" }, "database.path"},
		{"postgres without url", func(c *Config) { c.Database.Driver = DriverPostgres }, "database.url"},
		{"zero interval", func(c *Config) { c.Sync.Interval = 0 }, "sync.interval"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.want), err.Error())
		})
	}

	cfg := DefaultConfig()
	cfg.API.BaseURL = ""
	assert.ErrorIs(t, cfg.RequireAPI(), ErrAPINotConfigured)
	cfg.Session.UpdateDB = false
	assert.NoError(t, cfg.RequireAPI())
}

func TestLoad_InvalidFails(t *testing.T) {
	t.Setenv("CDS_DATABASE_DRIVER", "mysql")
	v := viper.New()
	Bind(v)
	_, err := Load(v)
	assert.Error(t, err)
}
