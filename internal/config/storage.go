package config

const (
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

type Storage struct {
	Type       string             `mapstructure:"type"`
	SQLite     *SQLLiteStorage    `mapstructure:"sqlite,omitempty"`
	PostgreSQL *PostgreSQLStorage `mapstructure:"postgres,omitempty"`
}

type SQLLiteStorage struct {
	Path string `mapstructure:"path,omitempty"`
}

type PostgreSQLStorage struct {
	DSN string `mapstructure:"dsn,omitempty"`
}
