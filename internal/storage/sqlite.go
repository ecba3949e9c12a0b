package storage

import (
	"fmt"

	"attendance-ingest/internal/config"

	_ "github.com/mattn/go-sqlite3"
)

const driverSQLite = "sqlite3"

func NewSQLiteProvider(cfg *config.Storage) (*SQLProvider, error) {
	dsn := cfg.SQLite.Path
	memory := dsn == ":memory:"
	if !memory {
		dsn = fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", dsn)
	}

	provider, err := NewSQLProvider(cfg, driverSQLite, dsn)
	if err != nil {
		return nil, err
	}
	if memory {
		// Every connection to :memory: is a separate database.
		provider.db.SetMaxOpenConns(1)
	}
	return provider, nil
}
