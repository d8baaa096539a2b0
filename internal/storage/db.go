package storage

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Options struct {
	Driver      string
	DSN         string
	AutoMigrate bool
	MaxOpen     int
	MaxIdle     int
}

// Open connects with the configured driver ("mysql" or "sqlite").
func Open(o Options) (*gorm.DB, error) {
	var dial gorm.Dialector
	switch o.Driver {
	case "mysql":
		dial = mysql.Open(o.DSN)
	case "sqlite", "":
		dial = sqlite.Open(o.DSN)
	default:
		return nil, fmt.Errorf("unknown db driver %q", o.Driver)
	}

	db, err := gorm.Open(dial, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", o.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if o.MaxOpen > 0 {
		sqlDB.SetMaxOpenConns(o.MaxOpen)
	}
	if o.MaxIdle > 0 {
		sqlDB.SetMaxIdleConns(o.MaxIdle)
	}
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if o.AutoMigrate {
		if err := db.AutoMigrate(Models()...); err != nil {
			return nil, fmt.Errorf("automigrate: %w", err)
		}
	}
	log.Info().Str("module", "storage").Str("driver", o.Driver).Bool("migrated", o.AutoMigrate).Msg("database ready")
	return db, nil
}
