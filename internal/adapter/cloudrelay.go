package adapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"attendance-ingest/internal/attendance"
	"attendance-ingest/internal/storage"
)

const (
	cloudRelayMsgType = "AccessControl"
	cloudRelayMethod  = "client.index.accessControl"
)

// CloudRelay parses deliveries a vendor cloud pushes on behalf of its
// devices. Nothing is ever dialed.
type CloudRelay struct {
	logger *slog.Logger
}

func NewCloudRelay(opts Options) *CloudRelay {
	return &CloudRelay{
		logger: slog.With("component", "adapter", "vendor", VendorCloudRelay),
	}
}

func (a *CloudRelay) Vendor() string { return VendorCloudRelay }

// TestConnection reports whether deliveries can be matched to the device.
func (a *CloudRelay) TestConnection(_ context.Context, device storage.Device) bool {
	return cloudRef(device) != ""
}

// Both delivery shapes decode into one struct.
type cloudRelayPayload struct {
	// Message-type shape.
	MsgType   string    `json:"msgType"`
	UserID    idField   `json:"userId"`
	DeviceID  idField   `json:"deviceId"`
	LocalTime timeField `json:"localTime"`
	UTCTime   timeField `json:"utcTime"`

	// RPC-method shape.
	Method string `json:"method"`
	Params struct {
		Data struct {
			UserID   idField   `json:"userID"`
			DeviceSN idField   `json:"deviceSN"`
			Time     timeField `json:"time"`
		} `json:"data"`
	} `json:"params"`
}

type cloudRelayPunch struct {
	userID    string
	deviceRef string
	at        time.Time
}

func decodeCloudRelay(body []byte) (cloudRelayPunch, error) {
	var p cloudRelayPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return cloudRelayPunch{}, parseError(VendorCloudRelay, "invalid json", err)
	}

	switch {
	case p.MsgType == cloudRelayMsgType:
		field := p.UTCTime
		if !field.set {
			field = p.LocalTime
		}
		at, err := field.epochMillisOrWallClock(time.UTC)
		if err != nil {
			return cloudRelayPunch{}, parseError(VendorCloudRelay, "invalid time", err)
		}
		return cloudRelayPunch{userID: string(p.UserID), deviceRef: string(p.DeviceID), at: at}, nil

	case p.Method == cloudRelayMethod:
		d := p.Params.Data
		at, err := d.Time.epochMillisOrWallClock(time.UTC)
		if err != nil {
			return cloudRelayPunch{}, parseError(VendorCloudRelay, "invalid time", err)
		}
		return cloudRelayPunch{userID: string(d.UserID), deviceRef: string(d.DeviceSN), at: at}, nil

	case p.MsgType != "":
		return cloudRelayPunch{}, parseError(VendorCloudRelay, "unsupported msgType "+p.MsgType, nil)
	case p.Method != "":
		return cloudRelayPunch{}, parseError(VendorCloudRelay, "unsupported method "+p.Method, nil)
	default:
		return cloudRelayPunch{}, parseError(VendorCloudRelay, "unrecognised payload shape", nil)
	}
}

// ExtractDeviceRef returns the vendor device reference of a delivery,
// used to find the device it belongs to.
func (a *CloudRelay) ExtractDeviceRef(body []byte) (string, error) {
	p, err := decodeCloudRelay(body)
	if err != nil {
		return "", err
	}
	if p.deviceRef == "" {
		return "", parseError(VendorCloudRelay, "no device reference", nil)
	}
	return p.deviceRef, nil
}

func (a *CloudRelay) ParseWebhookPayload(body []byte, device storage.Device) (attendance.Event, error) {
	p, err := decodeCloudRelay(body)
	if err != nil {
		return attendance.Event{}, err
	}
	if p.userID == "" {
		return attendance.Event{}, parseError(VendorCloudRelay, "no user id", nil)
	}
	return attendance.Event{
		CompanyID:       device.CompanyID,
		DeviceID:        device.ID,
		Vendor:          VendorCloudRelay,
		BiometricUserID: p.userID,
		Timestamp:       p.at,
	}, nil
}
