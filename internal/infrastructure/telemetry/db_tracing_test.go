package telemetry_test

import (
	"context"
	"testing"

	"github.com/erp/bundle-engine/internal/infrastructure/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type tracedRow struct {
	ID   uint `gorm:"primaryKey"`
	Name string
}

func openTracedDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&tracedRow{}))
	return db
}

func TestDefaultDBTracingConfig(t *testing.T) {
	cfg := telemetry.DefaultDBTracingConfig()
	assert.False(t, cfg.Enabled)
	assert.False(t, cfg.LogFullSQL)
	assert.Equal(t, "postgresql", cfg.DBSystem)
	assert.Positive(t, cfg.SlowQueryThresh)
}

func TestDBTracingPlugin_Disabled(t *testing.T) {
	sr := setupTestTracer(t)
	db := openTracedDB(t)

	require.NoError(t, telemetry.NewDBTracingPlugin(telemetry.DefaultDBTracingConfig(), zaptest.NewLogger(t)).Register(db))
	require.NoError(t, db.WithContext(context.Background()).Create(&tracedRow{Name: "a"}).Error)

	assert.Empty(t, sr.Ended())
}

func TestDBTracingPlugin_RecordsStatements(t *testing.T) {
	sr := setupTestTracer(t)
	db := openTracedDB(t)

	cfg := telemetry.DefaultDBTracingConfig()
	cfg.Enabled = true
	cfg.DBSystem = "sqlite"
	require.NoError(t, telemetry.NewDBTracingPlugin(cfg, zaptest.NewLogger(t)).Register(db))

	ctx := context.Background()
	require.NoError(t, db.WithContext(ctx).Create(&tracedRow{Name: "a"}).Error)
	var rows []tracedRow
	require.NoError(t, db.WithContext(ctx).Find(&rows).Error)
	assert.Len(t, rows, 1)

	assert.GreaterOrEqual(t, len(sr.Ended()), 2)
}

func TestDBTracingPlugin_MarksFailedStatements(t *testing.T) {
	sr := setupTestTracer(t)
	db := openTracedDB(t)

	cfg := telemetry.DefaultDBTracingConfig()
	cfg.Enabled = true
	require.NoError(t, telemetry.NewDBTracingPlugin(cfg, nil).Register(db))

	err := db.WithContext(context.Background()).Exec("SELECT * FROM missing_table").Error
	require.Error(t, err)

	failed := false
	for _, span := range sr.Ended() {
		if span.Status().Code == codes.Error {
			failed = true
		}
	}
	assert.True(t, failed, "expected an error span for the failed statement")
}
