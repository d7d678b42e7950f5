package testutil

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yungbote/labtrace-backend/internal/data/db"
	types "github.com/yungbote/labtrace-backend/internal/domain/reports"
	"github.com/yungbote/labtrace-backend/internal/pkg/logger"
)

var (
	pgOnce sync.Once
	pgDB   *gorm.DB
	pgErr  error
)

func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	if os.Getenv("TEST_LOG") != "" {
		l, err := logger.New("development")
		if err != nil {
			tb.Fatalf("failed to init logger: %v", err)
		}
		return l
	}
	return logger.Nop()
}

// DB returns a migrated database. With TEST_POSTGRES_DSN set it is a shared Postgres
// connection (wrap writes in Tx); otherwise each test gets its own in-memory SQLite.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()

	if dsn := os.Getenv("TEST_POSTGRES_DSN"); dsn != "" {
		pgOnce.Do(func() {
			pgDB, pgErr = gorm.Open(postgres.Open(dsn), &gorm.Config{
				DisableForeignKeyConstraintWhenMigrating: true,
				Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
			})
			if pgErr != nil {
				return
			}
			pgErr = db.AutoMigrateAll(pgDB)
		})
		if pgErr != nil {
			tb.Fatalf("failed to init test db: %v", pgErr)
		}
		return pgDB
	}

	name := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	sq, err := gorm.Open(sqlite.Open(name), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := sq.DB()
	if err != nil {
		tb.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	tb.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrateAll(sq); err != nil {
		tb.Fatalf("migrate sqlite: %v", err)
	}
	return sq
}

// Isolated reports whether DB hands out a private database per test.
func Isolated() bool {
	return os.Getenv("TEST_POSTGRES_DSN") == ""
}

func Tx(tb testing.TB, db *gorm.DB) *gorm.DB {
	tb.Helper()
	tx := db.Begin()
	if tx.Error != nil {
		tb.Fatalf("begin tx: %v", tx.Error)
	}
	tb.Cleanup(func() {
		_ = tx.Rollback().Error
	})
	return tx
}

func SeedReport(tb testing.TB, ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, status types.Status, deleted bool) *types.Report {
	tb.Helper()
	r := &types.Report{
		ID:      uuid.New(),
		OwnerID: ownerID,
		URL:     "file:///tmp/" + uuid.NewString() + ".jpg",
		Status:  status,
		Deleted: deleted,
	}
	if err := tx.WithContext(ctx).Create(r).Error; err != nil {
		tb.Fatalf("seed report: %v", err)
	}
	return r
}

func SeedReports(tb testing.TB, ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, n int, status types.Status, deleted bool) []*types.Report {
	tb.Helper()
	out := make([]*types.Report, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, SeedReport(tb, ctx, tx, ownerID, status, deleted))
	}
	return out
}
