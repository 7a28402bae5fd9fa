package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patudom/cds-app/internal/infrastructure/persistence"
	"github.com/patudom/cds-app/internal/infrastructure/persistence/storetest"
)

func TestConfig_DSN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Password = "secret"
	assert.Equal(t,
		"host=localhost port=5432 dbname=cosmicds user=postgres password=secret sslmode=disable connect_timeout=10",
		cfg.DSN())

	cfg.URL = "postgres://u:p@db:5432/x"
	assert.Equal(t, "postgres://u:p@db:5432/x", cfg.DSN())

	pc, err := cfg.PoolConfig()
	require.NoError(t, err)
	assert.Equal(t, int32(10), pc.MaxConns)
	assert.Equal(t, time.Hour, pc.MaxConnLifetime)
}

func TestMigrations_Ordered(t *testing.T) {
	migs := Migrations()
	require.NotEmpty(t, migs)
	for i, m := range migs {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.UpSQL, m.Name)
		assert.NotEmpty(t, m.DownSQL, m.Name)
	}
}

// TestStore needs a disposable database in CDS_TEST_POSTGRES_URL.
func TestStore(t *testing.T) {
	url := os.Getenv("CDS_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("CDS_TEST_POSTGRES_URL not set")
	}

	storetest.Run(t, func(t *testing.T) persistence.Store {
		ctx := context.Background()
		conn, err := NewConnection(ctx, Config{URL: url})
		require.NoError(t, err)

		m := NewMigrator(conn)
		for {
			status, err := m.Status(ctx)
			require.NoError(t, err)
			if !anyApplied(status) {
				break
			}
			require.NoError(t, m.Rollback(ctx))
		}
		require.NoError(t, m.Migrate(ctx))

		s := NewStore(conn)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func anyApplied(status []Migration) bool {
	for _, m := range status {
		if m.IsApplied {
			return true
		}
	}
	return false
}
