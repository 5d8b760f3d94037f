package participants

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/nextmed-labs/trustledger/pkg/enums"
	pkgerrors "github.com/nextmed-labs/trustledger/pkg/errors"
	"github.com/nextmed-labs/trustledger/pkg/logger"
)

func newSQLiteRepo(t *testing.T) *GormRepository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&Row{}))
	return NewGormRepository(conn)
}

func TestGormRepositorySharesStateAcrossServices(t *testing.T) {
	repo := newSQLiteRepo(t)
	clock := func() time.Time { return time.UnixMilli(5_000) }
	writer, err := NewService(repo, logger.Nop(), clock)
	require.NoError(t, err)
	reader, err := NewService(repo, logger.Nop(), clock)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = writer.Register(ctx, RegisterInput{ID: "hosp-1", Name: "Clinic", TrustLevel: enums.TrustLevelHigh}, enums.RoleOperator)
	require.NoError(t, err)
	_, err = reader.Register(ctx, RegisterInput{ID: "hosp-1", Name: "Other"}, enums.RoleOperator)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), "got %v", err)

	_, err = writer.Suspend(ctx, "hosp-1", "review", enums.RoleOperator)
	require.NoError(t, err)

	snap, ok, err := reader.Snapshot(ctx, "hosp-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, enums.ParticipantStatusSuspended, snap.Status)
	require.Equal(t, enums.TrustLevelHigh, snap.TrustLevel)

	got, err := reader.Get(ctx, "hosp-1")
	require.NoError(t, err)
	require.Len(t, got.History, 2)
	require.Equal(t, "review", got.History[1].Reason)

	list, err := reader.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, ok, err = reader.Snapshot(ctx, "ghost")
	require.NoError(t, err)
	require.False(t, ok)
}
