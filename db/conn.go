// Package db contains things related to the relational database
package db

import (
	"bitwise74/asset-api/internal/model"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Options struct {
	Type string // sqlite or postgres
	Path string
	DSN  string
}

func New(o Options) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch o.Type {
	case "postgres":
		dialector = postgres.Open(o.DSN)
	case "sqlite", "":
		if err := checkMounted(o.Path); err != nil {
			return nil, err
		}

		dialector = sqlite.Open(o.Path)
	default:
		return nil, fmt.Errorf("unsupported database type '%s'", o.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database, %w", o.Type, err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// checkMounted refuses to create a new sqlite file inside a docker
// container. The host should mount it with a volume instead.
func checkMounted(path string) error {
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return nil
	}

	if _, err := os.Stat("/.dockerenv"); err != nil {
		return nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("SQLite database file not mounted, please use docker volumes to mount it to /app/%s", path)
	}

	return nil
}

// Migrate creates the tables and runs one-off data migrations that
// haven't been applied yet
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		model.User{},
		model.Asset{},
		model.Tag{},
		model.Stats{},
		model.APIToken{},
		model.Setting{},
		model.AppliedMigration{},
	)
	if err != nil {
		return fmt.Errorf("failed to automigrate tables, %w", err)
	}

	for _, m := range migrations {
		var applied int64
		if err := db.Model(model.AppliedMigration{}).Where("name = ?", m.name).Count(&applied).Error; err != nil {
			return fmt.Errorf("failed to check migration %s, %w", m.name, err)
		}

		if applied > 0 {
			continue
		}

		start := time.Now()
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := m.run(tx); err != nil {
				return err
			}

			return tx.Create(&model.AppliedMigration{
				Name:   m.name,
				TookMS: time.Since(start).Milliseconds(),
			}).Error
		})
		if err != nil {
			return fmt.Errorf("failed to apply migration %s, %w", m.name, err)
		}

		zap.L().Debug("Applied migration", zap.String("name", m.name))
	}

	return nil
}
