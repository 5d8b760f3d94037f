package migrate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestEmbeddedMigrationsAreValid(t *testing.T) {
	files, err := ValidateDir("migrations")
	require.NoError(t, err)
	require.Len(t, files, 6)
	require.Equal(t, "create_audit_events", files[0].Name)
	require.Equal(t, "create_audit_exports", files[2].Name)
	require.Equal(t, "add_outbox_jobs_revision", files[3].Name)
	require.Equal(t, "create_consents", files[5].Name)
}

func TestMigrationsCreateLedgerTables(t *testing.T) {
	checks := map[string][]string{
		"*_create_audit_events.sql":      {"CREATE TABLE IF NOT EXISTS audit_events", "seq BIGINT PRIMARY KEY", "DROP TABLE IF EXISTS audit_events"},
		"*_create_outbox_jobs.sql":       {"CREATE TABLE IF NOT EXISTS outbox_jobs", "idx_outbox_jobs_due", "DROP TABLE IF EXISTS outbox_jobs"},
		"*_create_audit_exports.sql":     {"CREATE TABLE IF NOT EXISTS audit_exports", "CHECK (to_ms >= from_ms)", "DROP TABLE IF EXISTS audit_exports"},
		"*_add_outbox_jobs_revision.sql": {"ADD COLUMN revision BIGINT NOT NULL DEFAULT 0", "DROP COLUMN revision"},
		"*_create_participants.sql":      {"CREATE TABLE IF NOT EXISTS participants", "history JSONB NOT NULL", "DROP TABLE IF EXISTS participants"},
		"*_create_consents.sql":          {"CREATE TABLE IF NOT EXISTS consents", "versions JSONB NOT NULL", "DROP TABLE IF EXISTS consents"},
	}
	for pattern, wants := range checks {
		matches, err := filepath.Glob(filepath.Join("migrations", pattern))
		require.NoError(t, err)
		require.Len(t, matches, 1, pattern)
		data, err := os.ReadFile(matches[0])
		require.NoError(t, err)
		for _, want := range wants {
			require.Contains(t, string(data), want, matches[0])
		}
	}
}

func TestRunUpAndDownOnSQLite(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, Run(ctx, sqlDB, "sqlite3", "up"))
	for _, table := range []string{"audit_events", "outbox_jobs", "audit_exports", "participants", "consents"} {
		require.True(t, conn.Migrator().HasTable(table), table)
	}
	require.True(t, conn.Migrator().HasColumn("outbox_jobs", "revision"))

	require.NoError(t, MigrateToVersion(ctx, sqlDB, "sqlite3", "20260301090000"))
	require.True(t, conn.Migrator().HasTable("audit_events"))
	require.False(t, conn.Migrator().HasTable("outbox_jobs"))

	require.Error(t, MigrateToVersion(ctx, sqlDB, "sqlite3", "not-a-version"))
	require.Error(t, Run(ctx, nil, "sqlite3", "up"))
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()
	path, err := CreateSQLMigration(dir, "Add Export Index!")
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(path, "_add_export_index.sql"), path)
	files, err := ValidateDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)

	_, err = CreateSQLMigration(dir, "!!!")
	require.Error(t, err)
}

func TestCreateRefusesToOverwrite(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	path, err := createAt(dir, "seed consents", at)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "20260301090000_seed_consents.sql"), path)

	_, err = createAt(dir, "seed consents", at)
	require.Error(t, err)
}

func TestValidateDirRejectsBadFiles(t *testing.T) {
	cases := map[string]map[string]string{
		"bad name": {"001_init.sql": "-- +goose Up\n-- +goose Down\n"},
		"duplicate version": {
			"20260301090000_a.sql": "-- +goose Up\n-- +goose Down\n",
			"20260301090000_b.sql": "-- +goose Up\n-- +goose Down\n",
		},
		"missing down": {"20260301090000_a.sql": "-- +goose Up\n"},
	}
	for name, files := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			for file, body := range files {
				require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(body), 0o644))
			}
			_, err := ValidateDir(dir)
			require.Error(t, err)
		})
	}
}
