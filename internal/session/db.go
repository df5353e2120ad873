package session

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenStore builds a Store for the configured driver. The memory driver
// needs no DSN; sqlite and postgres open a gorm-backed store.
func OpenStore(driver, dsn string) (Store, error) {
	switch driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		if dsn == "" {
			dsn = "agent-gateway.db"
		}
		db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return NewGormStore(db)
	case "postgres":
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return NewGormStore(db)
	default:
		return nil, fmt.Errorf("unknown session store driver %q", driver)
	}
}
