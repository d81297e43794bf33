package persistence

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/erp/bundle-engine/internal/domain/catalog"
	"github.com/erp/bundle-engine/internal/domain/inventory"
	"github.com/erp/bundle-engine/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB opens a private in-memory sqlite database with the full schema
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

// newMockDB opens a GORM postgres dialector on top of sqlmock
func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	})
	gormDB, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return gormDB, mock, mockDB
}

func saveProduct(t *testing.T, db *gorm.DB, code string, kind catalog.ProductKind) *catalog.Product {
	t.Helper()
	p, err := catalog.NewProduct(code, code+" name", kind, decimal.NewFromInt(10))
	require.NoError(t, err)
	require.NoError(t, NewGormProductRepository(db).Save(context.Background(), p))
	return p
}

func seedStock(t *testing.T, db *gorm.DB, productID, locationID uuid.UUID, qty int64) {
	t.Helper()
	err := NewGormStockLedger(db).BatchMutate(context.Background(), []inventory.StockMutation{
		{ProductID: productID, LocationID: locationID, Delta: qty},
	}, "seed:"+uuid.NewString())
	require.NoError(t, err)
}
