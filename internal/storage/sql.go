package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"attendance-ingest/internal/config"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type SQLProvider struct {
	db     *sqlx.DB
	driver string

	config *config.Storage

	logger *slog.Logger
}

func NewSQLProvider(cfg *config.Storage, driverName string, dataSource string) (*SQLProvider, error) {
	db, err := sqlx.Open(driverName, dataSource)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLProvider{
		db:     db,
		driver: driverName,
		config: cfg,
		logger: slog.With("component", "storage", "driver", driverName),
	}, nil
}

func (p *SQLProvider) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

func (p *SQLProvider) runMigrations(ctx context.Context) error {
	return NewMigrationRunner(p.db, p.driver).Migrate(ctx, -1)
}

func (p *SQLProvider) GetSchemaVersion(ctx context.Context) (int, error) {
	return NewMigrationRunner(p.db, p.driver).CurrentVersion(ctx)
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

func newID() string {
	return uuid.NewString()
}

// ---------------------------------------------------------------------------
// Devices
// ---------------------------------------------------------------------------

const deviceColumns = `id, company_id, name, vendor, host, port, username, password,
	vendor_config_id, cloud_device_id, serial_number, is_active, last_seen, created_at`

func (p *SQLProvider) CreateDevice(ctx context.Context, d Device) error {
	if d.ID == "" {
		d.ID = newID()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err := p.db.NamedExecContext(ctx, `INSERT INTO devices (`+deviceColumns+`)
		VALUES (:id, :company_id, :name, :vendor, :host, :port, :username, :password,
			:vendor_config_id, :cloud_device_id, :serial_number, :is_active, :last_seen, :created_at)`, d)
	return err
}

func (p *SQLProvider) GetDevice(ctx context.Context, deviceID string) (*Device, error) {
	var d Device
	err := p.db.GetContext(ctx, &d, p.db.Rebind(`SELECT `+deviceColumns+` FROM devices WHERE id = ?`), deviceID)
	if err != nil {
		return nil, notFound(err, "device "+deviceID)
	}
	return &d, nil
}

func (p *SQLProvider) GetDeviceBySerial(ctx context.Context, serial string) (*Device, error) {
	var d Device
	err := p.db.GetContext(ctx, &d, p.db.Rebind(`SELECT `+deviceColumns+` FROM devices
		WHERE serial_number = ? ORDER BY is_active DESC, created_at ASC LIMIT 1`), serial)
	if err != nil {
		return nil, notFound(err, "device serial "+serial)
	}
	return &d, nil
}

// FindDeviceByCloudRef matches a vendor cloud device reference against
// both cloud_device_id and serial_number.
func (p *SQLProvider) FindDeviceByCloudRef(ctx context.Context, ref string) (*Device, error) {
	var d Device
	err := p.db.GetContext(ctx, &d, p.db.Rebind(`SELECT `+deviceColumns+` FROM devices
		WHERE cloud_device_id = ? OR serial_number = ?
		ORDER BY is_active DESC, created_at ASC LIMIT 1`), ref, ref)
	if err != nil {
		return nil, notFound(err, "device ref "+ref)
	}
	return &d, nil
}

func (p *SQLProvider) ListDevices(ctx context.Context, filter DeviceFilter) ([]Device, error) {
	var (
		where []string
		args  []any
	)
	if filter.ActiveOnly {
		where = append(where, "is_active = ?")
		args = append(args, true)
	}
	if filter.CompanyID != "" {
		where = append(where, "company_id = ?")
		args = append(args, filter.CompanyID)
	}
	if filter.Vendor != "" {
		where = append(where, "LOWER(vendor) = ?")
		args = append(args, strings.ToLower(filter.Vendor))
	}

	query := `SELECT ` + deviceColumns + ` FROM devices`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC"

	var devices []Device
	if err := p.db.SelectContext(ctx, &devices, p.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return devices, nil
}

func (p *SQLProvider) execOne(ctx context.Context, what string, query string, args ...any) error {
	res, err := p.db.ExecContext(ctx, p.db.Rebind(query), args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func (p *SQLProvider) SetDeviceActive(ctx context.Context, deviceID string, active bool) error {
	return p.execOne(ctx, "device "+deviceID, `UPDATE devices SET is_active = ? WHERE id = ?`, active, deviceID)
}

func (p *SQLProvider) UpdateDevicePassword(ctx context.Context, deviceID string, password string) error {
	return p.execOne(ctx, "device "+deviceID, `UPDATE devices SET password = ? WHERE id = ?`, password, deviceID)
}

// TouchDevice moves last_seen forward. Older stamps are ignored.
func (p *SQLProvider) TouchDevice(ctx context.Context, deviceID string, at time.Time) error {
	_, err := p.db.ExecContext(ctx, p.db.Rebind(`UPDATE devices SET last_seen = ?
		WHERE id = ? AND (last_seen IS NULL OR last_seen < ?)`), at.UTC(), deviceID, at.UTC())
	return err
}

func (p *SQLProvider) DeleteDevice(ctx context.Context, deviceID string) error {
	return p.execOne(ctx, "device "+deviceID, `DELETE FROM devices WHERE id = ?`, deviceID)
}

// ---------------------------------------------------------------------------
// Vendor configs
// ---------------------------------------------------------------------------

func (p *SQLProvider) CreateVendorConfig(ctx context.Context, vc VendorConfig) error {
	if vc.ID == "" {
		vc.ID = newID()
	}
	if vc.CreatedAt.IsZero() {
		vc.CreatedAt = time.Now().UTC()
	}
	_, err := p.db.NamedExecContext(ctx, `INSERT INTO vendor_configs (id, company_id, vendor, api_url, api_key, api_secret, created_at)
		VALUES (:id, :company_id, :vendor, :api_url, :api_key, :api_secret, :created_at)`, vc)
	return err
}

func (p *SQLProvider) GetVendorConfig(ctx context.Context, id string) (*VendorConfig, error) {
	var vc VendorConfig
	err := p.db.GetContext(ctx, &vc, p.db.Rebind(`SELECT id, company_id, vendor, api_url, api_key, api_secret, created_at
		FROM vendor_configs WHERE id = ?`), id)
	if err != nil {
		return nil, notFound(err, "vendor config "+id)
	}
	return &vc, nil
}

func (p *SQLProvider) ListVendorConfigs(ctx context.Context, companyID string) ([]VendorConfig, error) {
	query := `SELECT id, company_id, vendor, api_url, api_key, api_secret, created_at FROM vendor_configs`
	var args []any
	if companyID != "" {
		query += ` WHERE company_id = ?`
		args = append(args, companyID)
	}
	query += ` ORDER BY created_at ASC`

	var configs []VendorConfig
	if err := p.db.SelectContext(ctx, &configs, p.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return configs, nil
}

// ---------------------------------------------------------------------------
// Employees
// ---------------------------------------------------------------------------

// LinkEmployee creates or updates the biometric link of an employee.
func (p *SQLProvider) LinkEmployee(ctx context.Context, e Employee) error {
	if e.ID == "" {
		e.ID = newID()
	}
	_, err := p.db.NamedExecContext(ctx, `INSERT INTO employees (id, company_id, biometric_id, name)
		VALUES (:id, :company_id, :biometric_id, :name)
		ON CONFLICT (company_id, biometric_id) DO UPDATE SET id = excluded.id, name = excluded.name`, e)
	return err
}

func (p *SQLProvider) ListEmployees(ctx context.Context, companyID string) ([]Employee, error) {
	var employees []Employee
	err := p.db.SelectContext(ctx, &employees, p.db.Rebind(`SELECT id, company_id, biometric_id, name
		FROM employees WHERE company_id = ? ORDER BY biometric_id`), companyID)
	return employees, err
}

func (p *SQLProvider) FindEmployeeByBiometricID(ctx context.Context, companyID string, biometricID string) (*Employee, error) {
	var e Employee
	err := p.db.GetContext(ctx, &e, p.db.Rebind(`SELECT id, company_id, biometric_id, name
		FROM employees WHERE company_id = ? AND biometric_id = ?`), companyID, biometricID)
	if err != nil {
		return nil, notFound(err, "employee "+biometricID)
	}
	return &e, nil
}

// ---------------------------------------------------------------------------
// Attendance
// ---------------------------------------------------------------------------

const attendanceColumns = `id, company_id, employee_id, date, time_in, time_out,
	check_in_device_id, check_out_device_id, created_at, updated_at`

// GetAttendance returns nil without error when the day has no row yet.
func (p *SQLProvider) GetAttendance(ctx context.Context, employeeID string, date string) (*AttendanceRecord, error) {
	var r AttendanceRecord
	err := p.db.GetContext(ctx, &r, p.db.Rebind(`SELECT `+attendanceColumns+`
		FROM attendance WHERE employee_id = ? AND date = ?`), employeeID, date)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (p *SQLProvider) ListAttendance(ctx context.Context, companyID string, date string) ([]AttendanceRecord, error) {
	var records []AttendanceRecord
	err := p.db.SelectContext(ctx, &records, p.db.Rebind(`SELECT `+attendanceColumns+`
		FROM attendance WHERE company_id = ? AND date = ? ORDER BY time_in`), companyID, date)
	return records, err
}

// ApplyAttendance creates the day's row if needed and fills the requested
// slot only while it is NULL. The conditional update is the
// serialization point: of two concurrent writers only one sees a row
// affected, the other gets false.
func (p *SQLProvider) ApplyAttendance(ctx context.Context, w AttendanceWrite) (bool, error) {
	var column, deviceColumn string
	switch w.Slot {
	case SlotTimeIn:
		column, deviceColumn = "time_in", "check_in_device_id"
	case SlotTimeOut:
		column, deviceColumn = "time_out", "check_out_device_id"
	default:
		return false, fmt.Errorf("unknown attendance slot %q", w.Slot)
	}

	now := time.Now().UTC()

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO attendance (id, company_id, employee_id, date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (employee_id, date) DO NOTHING`),
		newID(), w.CompanyID, w.EmployeeID, w.Date, now, now)
	if err != nil {
		return false, fmt.Errorf("failed to create attendance row: %w", err)
	}

	res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE attendance SET `+column+` = ?, `+deviceColumn+` = ?, updated_at = ?
		WHERE employee_id = ? AND date = ? AND `+column+` IS NULL`),
		w.At.UTC(), w.DeviceID, now, w.EmployeeID, w.Date)
	if err != nil {
		return false, fmt.Errorf("failed to set %s: %w", column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return n > 0, nil
}
