//go:build integration

package containers

import (
	"context"
	"fmt"
	"testing"

	"bitbucket.org/mmdatafocus/dfia_ledger/config"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"
	"gorm.io/gorm"
)

// MySQLContainer wraps a testcontainers MySQL instance with a gorm handle
// opened the same way the service opens its own.
type MySQLContainer struct {
	Container testcontainers.Container
	DSN       string
	DB        *gorm.DB
}

func NewMySQLContainer(t *testing.T) *MySQLContainer {
	t.Helper()

	ctx := context.Background()

	container, err := tcmysql.Run(ctx, "mysql:8.0",
		tcmysql.WithDatabase("dfia_ledger"),
		tcmysql.WithUsername("dfia"),
		tcmysql.WithPassword("dfia"),
	)
	if err != nil {
		t.Fatalf("failed to start mysql container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "parseTime=true", "multiStatements=true")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get mysql connection string: %v", err)
	}

	db, err := config.OpenDatabase(dsn)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to open mysql: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
		_ = container.Terminate(context.Background())
	})

	return &MySQLContainer{Container: container, DSN: dsn, DB: db}
}

// TruncateTables empties the given tables. Use between tests to ensure isolation.
func (m *MySQLContainer) TruncateTables(ctx context.Context, tables ...string) error {
	db := m.DB.WithContext(ctx)
	if err := db.Exec("SET FOREIGN_KEY_CHECKS = 0").Error; err != nil {
		return err
	}
	for _, table := range tables {
		if err := db.Exec(fmt.Sprintf("TRUNCATE TABLE `%s`", table)).Error; err != nil {
			return err
		}
	}
	return db.Exec("SET FOREIGN_KEY_CHECKS = 1").Error
}
