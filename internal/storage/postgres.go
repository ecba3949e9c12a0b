package storage

import (
	"attendance-ingest/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const driverPostgres = "pgx"

func NewPostgresProvider(cfg *config.Storage) (*SQLProvider, error) {
	provider, err := NewSQLProvider(cfg, driverPostgres, cfg.PostgreSQL.DSN)
	if err != nil {
		return nil, err
	}
	provider.db.SetMaxOpenConns(25)
	provider.db.SetMaxIdleConns(5)
	return provider, nil
}
