package repository

import (
	"context"
	"fmt"

	"github.com/taskmaster/taskpad/internal/infrastructure/config"
	"github.com/taskmaster/taskpad/internal/infrastructure/database"
	"github.com/taskmaster/taskpad/internal/ports"
)

// NewBlobStore opens the backend selected by cfg.Driver. The returned close
// function is never nil.
func NewBlobStore(ctx context.Context, cfg config.StorageConfig, redisCfg config.RedisConfig) (ports.BlobStore, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Driver {
	case config.DriverMemory:
		return NewMemoryStore(), noop, nil

	case config.DriverFile:
		store, err := NewFileStore(cfg.Path)
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil

	case config.DriverSQLite, config.DriverPostgres:
		db, err := database.New(cfg.Driver, cfg.DSN)
		if err != nil {
			return nil, noop, err
		}
		if cfg.AutoMigrate {
			if err := db.Migrate(); err != nil {
				db.Close()
				return nil, noop, err
			}
		}
		return NewSQLStore(db), db.Close, nil

	case config.DriverRedis:
		store, err := NewRedisStore(ctx, redisCfg)
		if err != nil {
			return nil, noop, err
		}
		return store, store.Close, nil
	}

	return nil, noop, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}
