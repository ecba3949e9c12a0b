package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"attendance-ingest/internal/config"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrUnsupportedStorage = errors.New("unsupported storage configuration")
)

// DeviceStore is the device surface used by connection supervision and
// the ingest endpoints.
type DeviceStore interface {
	GetDevice(ctx context.Context, deviceID string) (*Device, error)
	GetDeviceBySerial(ctx context.Context, serial string) (*Device, error)
	FindDeviceByCloudRef(ctx context.Context, ref string) (*Device, error)
	ListDevices(ctx context.Context, filter DeviceFilter) ([]Device, error)
	GetVendorConfig(ctx context.Context, id string) (*VendorConfig, error)
	TouchDevice(ctx context.Context, deviceID string, at time.Time) error
}

// AttendanceStore is the attendance record surface used by the recorder.
type AttendanceStore interface {
	FindEmployeeByBiometricID(ctx context.Context, companyID string, biometricID string) (*Employee, error)
	GetAttendance(ctx context.Context, employeeID string, date string) (*AttendanceRecord, error)
	// ApplyAttendance returns false when the slot was already set.
	ApplyAttendance(ctx context.Context, w AttendanceWrite) (bool, error)
}

type Provider interface {
	DeviceStore
	AttendanceStore

	Close() error
	GetSchemaVersion(ctx context.Context) (int, error)

	// Device methods
	CreateDevice(ctx context.Context, device Device) error
	SetDeviceActive(ctx context.Context, deviceID string, active bool) error
	UpdateDevicePassword(ctx context.Context, deviceID string, password string) error
	DeleteDevice(ctx context.Context, deviceID string) error

	// Vendor config methods
	CreateVendorConfig(ctx context.Context, vc VendorConfig) error
	ListVendorConfigs(ctx context.Context, companyID string) ([]VendorConfig, error)

	// Employee methods
	LinkEmployee(ctx context.Context, employee Employee) error
	ListEmployees(ctx context.Context, companyID string) ([]Employee, error)

	// Attendance methods
	ListAttendance(ctx context.Context, companyID string, date string) ([]AttendanceRecord, error)
}

// NewProvider opens the configured database and brings its schema up to date.
func NewProvider(cfg *config.Storage) (Provider, error) {
	var (
		provider *SQLProvider
		err      error
	)

	switch cfg.Type {
	case config.StorageSQLite, "":
		if cfg.SQLite == nil || cfg.SQLite.Path == "" {
			return nil, fmt.Errorf("%w: sqlite path missing", ErrUnsupportedStorage)
		}
		provider, err = NewSQLiteProvider(cfg)
	case config.StoragePostgres:
		if cfg.PostgreSQL == nil || cfg.PostgreSQL.DSN == "" {
			return nil, fmt.Errorf("%w: postgres dsn missing", ErrUnsupportedStorage)
		}
		provider, err = NewPostgresProvider(cfg)
	default:
		slog.Error("Unsupported storage configuration", "type", cfg.Type)
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedStorage, cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	if err := provider.runMigrations(context.Background()); err != nil {
		provider.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return provider, nil
}
