package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"attendance-ingest/internal/attendance"
	"attendance-ingest/internal/storage"

	"github.com/jonboulle/clockwork"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// TableAttendanceLog is the only ADMS table that carries punches.
const TableAttendanceLog = "ATTLOG"

// A push device counts as reachable if it checked in this recently.
const admsFreshness = 5 * time.Minute

// ADMS parses batched attendance logs pushed by the device itself.
type ADMS struct {
	clock  clockwork.Clock
	loc    *time.Location
	logger *slog.Logger
}

func NewADMS(opts Options) *ADMS {
	opts = opts.withDefaults()
	return &ADMS{
		clock:  opts.Clock,
		loc:    opts.ADMSLocation,
		logger: slog.With("component", "adapter", "vendor", VendorADMS),
	}
}

func (a *ADMS) Vendor() string { return VendorADMS }

// TestConnection reports whether the device handshake was seen recently.
func (a *ADMS) TestConnection(_ context.Context, device storage.Device) bool {
	if device.LastSeen == nil {
		return false
	}
	return a.clock.Now().Sub(*device.LastSeen) <= admsFreshness
}

// unwrapPushBody returns the log text whether it came raw or nested in
// {data}, {content} or the first element of an array.
func unwrapPushBody(body []byte) string {
	decoded, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), body)
	if err == nil {
		body = decoded
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return ""
	}

	switch trimmed[0] {
	case '{':
		var wrapped struct {
			Data    *string `json:"data"`
			Content *string `json:"content"`
		}
		if json.Unmarshal(trimmed, &wrapped) == nil {
			if wrapped.Data != nil {
				return *wrapped.Data
			}
			if wrapped.Content != nil {
				return *wrapped.Content
			}
		}
	case '[':
		var items []json.RawMessage
		if json.Unmarshal(trimmed, &items) == nil && len(items) > 0 {
			var s string
			if json.Unmarshal(items[0], &s) == nil {
				return s
			}
			return unwrapPushBody(items[0])
		}
	case '"':
		var s string
		if json.Unmarshal(trimmed, &s) == nil {
			return s
		}
	}
	return string(body)
}

// admsEventType maps the check-type flag. Unknown flags are inferred.
func admsEventType(status string) *attendance.EventType {
	switch strings.TrimSpace(status) {
	case "0", "3", "4":
		return attendance.Type(attendance.CheckIn)
	case "1", "2", "5":
		return attendance.Type(attendance.CheckOut)
	default:
		return nil
	}
}

// ParsePushPayload parses ATTLOG lines: PIN, timestamp, status, then
// fields that are ignored, separated by tabs.
func (a *ADMS) ParsePushPayload(body []byte, device storage.Device) []attendance.Event {
	text := unwrapPushBody(body)

	var events []attendance.Event
	for n, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		ev, err := a.parseLine(line, device)
		if err != nil {
			a.logger.Warn("Skipping malformed ATTLOG line", "device_id", device.ID, "line", n+1, "error", err)
			continue
		}
		events = append(events, ev)
	}
	return events
}

func (a *ADMS) parseLine(line string, device storage.Device) (attendance.Event, error) {
	fields := strings.Split(line, "\t")
	if len(fields) < 2 {
		// Some firmware pads with spaces instead of tabs.
		fields = strings.Fields(line)
		if len(fields) >= 3 {
			fields = append([]string{fields[0], fields[1] + " " + fields[2]}, fields[3:]...)
		}
	}
	if len(fields) < 2 {
		return attendance.Event{}, parseError(VendorADMS, "too few fields", nil)
	}

	pin := strings.TrimSpace(fields[0])
	if pin == "" {
		return attendance.Event{}, parseError(VendorADMS, "empty PIN", nil)
	}
	at, err := time.ParseInLocation(wallClockLayout, strings.TrimSpace(fields[1]), a.loc)
	if err != nil {
		return attendance.Event{}, parseError(VendorADMS, "invalid timestamp", err)
	}

	ev := attendance.Event{
		CompanyID:       device.CompanyID,
		DeviceID:        device.ID,
		Vendor:          VendorADMS,
		BiometricUserID: pin,
		Timestamp:       at.UTC(),
	}
	if len(fields) > 2 {
		ev.EventType = admsEventType(fields[2])
	}
	return ev, nil
}
