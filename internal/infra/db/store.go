package db

import (
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"posed/internal/config"
)

var errDBUnavailable = errors.New("database unavailable")

type Store struct {
	DB *gorm.DB
}

// NewStore connects to postgres when a DSN is configured; without one
// the daemon runs with no audit trail, which is a legal deployment.
func NewStore(cfg config.Config) (*Store, error) {
	if cfg.PostgresDSN == "" {
		return &Store{DB: nil}, nil
	}

	gdb, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := gdb.AutoMigrate(&VerdictModel{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{DB: gdb}, nil
}
