package database

import (
	"fmt"
	"sync"

	"github.com/smarttriage/platform/pkg/common/config"
	"github.com/smarttriage/platform/pkg/common/logger"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var (
	db     *gorm.DB
	dbErr  error
	dbOnce sync.Once
)

// GetPostgres opens the shared connection on first use.
func GetPostgres(cfg *config.Config) (*gorm.DB, error) {
	dbOnce.Do(func() {
		dsn := fmt.Sprintf(
			"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
			cfg.PostgresHost,
			cfg.PostgresUser,
			cfg.PostgresPassword,
			cfg.PostgresDB,
			cfg.PostgresPort,
			cfg.PostgresSSLMode,
		)

		db, dbErr = gorm.Open(postgres.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
		if dbErr != nil {
			logger.Log.WithError(dbErr).Error("Failed to connect to PostgreSQL")
			return
		}

		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.PostgresHost,
			"db":   cfg.PostgresDB,
		}).Info("Connected to PostgreSQL")
	})

	return db, dbErr
}

func ClosePostgres() error {
	if db != nil {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}
