package db

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Vonhoon/koalatalk/internal/models"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Connect 按驱动打开数据库。Postgres 带简单重试来等待容器就绪；
// SQLite 只允许单连接，由连接池串行化并发写入。
func Connect(driver, dsn string) (*gorm.DB, error) {
	switch driver {
	case DriverPostgres:
		return connectPostgres(dsn)
	case DriverSQLite, "":
		return connectSQLite(dsn)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}
}

func connectPostgres(dsn string) (*gorm.DB, error) {
	var gdb *gorm.DB
	var err error
	for i := 0; i < 10; i++ {
		gdb, err = gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err == nil {
			sqlDB, err2 := gdb.DB()
			if err2 == nil {
				sqlDB.SetMaxIdleConns(5)
				sqlDB.SetMaxOpenConns(20)
				sqlDB.SetConnMaxLifetime(time.Hour)
				return gdb, nil
			}
			err = err2
		}
		time.Sleep(time.Duration(500+i*200) * time.Millisecond)
	}
	return nil, err
}

func connectSQLite(dsn string) (*gorm.DB, error) {
	if dir := filepath.Dir(dsn); dsn != "" && dir != "." && !isMemoryDSN(dsn) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return gdb, nil
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || len(dsn) >= 5 && dsn[:5] == "file:"
}

// Migrate 自动迁移全部表结构。
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&models.Channel{}, &models.Message{}, &models.Subscription{})
}

// OpenMemory 打开一个已迁移的独立内存 SQLite 库，供测试与临时运行使用。
func OpenMemory() (*gorm.DB, error) {
	gdb, err := Connect(DriverSQLite, fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	if err != nil {
		return nil, err
	}
	if err := Migrate(gdb); err != nil {
		return nil, err
	}
	return gdb, nil
}
