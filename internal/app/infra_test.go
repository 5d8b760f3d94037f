package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nextmed-labs/trustledger/pkg/config"
	"github.com/nextmed-labs/trustledger/pkg/logger"
)

func TestOpenInfraMemoryModeOpensNothing(t *testing.T) {
	cfg := testConfig()
	infra, err := OpenInfra(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	require.Nil(t, infra.DB)
	require.Nil(t, infra.Redis)
	require.Nil(t, infra.PubSub)
	require.NoError(t, infra.Close())
}

func TestOpenInfraSQLiteRunsMigrationsAndPersists(t *testing.T) {
	cfg := testConfig()
	cfg.App.Env = config.AppEnvDev
	cfg.FeatureFlags = config.FeatureFlagsConfig{UseSQLite: true, AutoMigrate: true, Persistence: config.PersistenceDB}
	cfg.DB = config.DBConfig{SQLitePath: filepath.Join(t.TempDir(), "trustledger.db")}

	infra, err := OpenInfra(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = infra.Close() })
	require.NotNil(t, infra.DB)

	for _, table := range []string{"audit_events", "outbox_jobs", "audit_exports", "participants", "consents"} {
		require.True(t, infra.DB.DB().Migrator().HasTable(table), table)
	}
	require.True(t, infra.DB.DB().Migrator().HasColumn("outbox_jobs", "revision"))
}

func TestCloseNilInfra(t *testing.T) {
	var infra *Infra
	require.NoError(t, infra.Close())
}
