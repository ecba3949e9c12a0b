package storage

import "time"

// Device is a biometric reader owned by a company. Password holds the
// vault token, never plaintext.
type Device struct {
	ID             string     `db:"id" json:"id" yaml:"id"`
	CompanyID      string     `db:"company_id" json:"company_id" yaml:"company_id"`
	Name           string     `db:"name" json:"name" yaml:"name"`
	Vendor         string     `db:"vendor" json:"vendor" yaml:"vendor"`
	Host           string     `db:"host" json:"host,omitempty" yaml:"host,omitempty"`
	Port           int        `db:"port" json:"port,omitempty" yaml:"port,omitempty"`
	Username       string     `db:"username" json:"username,omitempty" yaml:"username,omitempty"`
	Password       string     `db:"password" json:"-" yaml:"-"`
	VendorConfigID string     `db:"vendor_config_id" json:"vendor_config_id,omitempty" yaml:"vendor_config_id,omitempty"`
	CloudDeviceID  string     `db:"cloud_device_id" json:"cloud_device_id,omitempty" yaml:"cloud_device_id,omitempty"`
	SerialNumber   string     `db:"serial_number" json:"serial_number,omitempty" yaml:"serial_number,omitempty"`
	IsActive       bool       `db:"is_active" json:"is_active" yaml:"is_active"`
	LastSeen       *time.Time `db:"last_seen" json:"last_seen,omitempty" yaml:"last_seen,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at" yaml:"created_at"`

	// Loaded on demand, not a column.
	VendorConfig *VendorConfig `db:"-" json:"-" yaml:"-"`
}

// VendorConfig holds per company vendor cloud credentials. APIKey and
// APISecret hold vault tokens.
type VendorConfig struct {
	ID        string    `db:"id" json:"id" yaml:"id"`
	CompanyID string    `db:"company_id" json:"company_id" yaml:"company_id"`
	Vendor    string    `db:"vendor" json:"vendor" yaml:"vendor"`
	APIURL    string    `db:"api_url" json:"api_url" yaml:"api_url"`
	APIKey    string    `db:"api_key" json:"-" yaml:"-"`
	APISecret string    `db:"api_secret" json:"-" yaml:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at" yaml:"created_at"`
}

// Employee is the slice of the HR employee record ingestion needs: the
// link between a company's employee and the id a reader emits.
type Employee struct {
	ID          string `db:"id"`
	CompanyID   string `db:"company_id"`
	BiometricID string `db:"biometric_id"`
	Name        string `db:"name"`
}

// AttendanceRecord is one row per employee and UTC date.
type AttendanceRecord struct {
	ID               string     `db:"id"`
	CompanyID        string     `db:"company_id"`
	EmployeeID       string     `db:"employee_id"`
	Date             string     `db:"date"` // YYYY-MM-DD
	TimeIn           *time.Time `db:"time_in"`
	TimeOut          *time.Time `db:"time_out"`
	CheckInDeviceID  string     `db:"check_in_device_id"`
	CheckOutDeviceID string     `db:"check_out_device_id"`
	CreatedAt        time.Time  `db:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"`
}

// Slot names one side of an attendance record.
type Slot string

const (
	SlotTimeIn  Slot = "time_in"
	SlotTimeOut Slot = "time_out"
)

// AttendanceWrite sets one slot of the (EmployeeID, Date) row if it is
// still empty.
type AttendanceWrite struct {
	CompanyID  string
	EmployeeID string
	Date       string
	Slot       Slot
	At         time.Time
	DeviceID   string
}

type DeviceFilter struct {
	ActiveOnly bool
	CompanyID  string
	Vendor     string
}
