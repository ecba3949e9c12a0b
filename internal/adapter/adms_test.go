package adapter

import (
	"testing"
	"time"

	"attendance-ingest/internal/attendance"
	"attendance-ingest/internal/storage"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var admsDevice = storage.Device{ID: "dev-adms", CompanyID: "acme", Vendor: VendorADMS, SerialNumber: "ADMS01"}

func TestADMS_SkipsCorruptedLines(t *testing.T) {
	a := NewADMS(Options{})
	body := "42\t2024-03-01 08:00:00\t0\t1\t0\n###garbage###\n"

	events := a.ParsePushPayload([]byte(body), admsDevice)
	require.Len(t, events, 1)
	assert.Equal(t, "42", events[0].BiometricUserID)
	assert.Equal(t, time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC), events[0].Timestamp)
	require.NotNil(t, events[0].EventType)
	assert.Equal(t, attendance.CheckIn, *events[0].EventType)
}

func TestADMS_StatusFlags(t *testing.T) {
	a := NewADMS(Options{})
	body := "1\t2024-03-01 08:00:00\t0\n" +
		"2\t2024-03-01 17:00:00\t1\n" +
		"3\t2024-03-01 12:00:00\t4\n" +
		"4\t2024-03-01 13:00:00\t5\n" +
		"5\t2024-03-01 09:00:00\t9\n" +
		"6\t2024-03-01 10:00:00\n"

	events := a.ParsePushPayload([]byte(body), admsDevice)
	require.Len(t, events, 6)
	want := []*attendance.EventType{
		attendance.Type(attendance.CheckIn),
		attendance.Type(attendance.CheckOut),
		attendance.Type(attendance.CheckIn),
		attendance.Type(attendance.CheckOut),
		nil,
		nil,
	}
	for i, ev := range events {
		assert.Equal(t, want[i], ev.EventType, "line %d", i+1)
	}
}

func TestADMS_BodyWrappers(t *testing.T) {
	a := NewADMS(Options{})
	line := `42\t2024-03-01 08:00:00\t0`
	for name, body := range map[string]string{
		"raw":     "42\t2024-03-01 08:00:00\t0\r\n",
		"data":    `{"data":"` + line + `"}`,
		"content": `{"content":"` + line + `"}`,
		"array":   `["` + line + `","ignored"]`,
		"bom":     "\ufeff42\t2024-03-01 08:00:00\t0",
		"spaces":  "42 2024-03-01 08:00:00 0",
	} {
		t.Run(name, func(t *testing.T) {
			events := a.ParsePushPayload([]byte(body), admsDevice)
			require.Len(t, events, 1)
			assert.Equal(t, "42", events[0].BiometricUserID)
		})
	}
}

func TestADMS_DeviceTimezone(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	a := NewADMS(Options{ADMSLocation: loc})
	events := a.ParsePushPayload([]byte("42\t2024-03-01 08:00:00\t0"), admsDevice)
	require.Len(t, events, 1)
	assert.Equal(t, time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC), events[0].Timestamp)
}

func TestADMS_TestConnectionUsesLastSeen(t *testing.T) {
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	a := NewADMS(Options{Clock: clockwork.NewFakeClockAt(now)})

	d := admsDevice
	assert.False(t, a.TestConnection(t.Context(), d))

	recent := now.Add(-time.Minute)
	d.LastSeen = &recent
	assert.True(t, a.TestConnection(t.Context(), d))

	stale := now.Add(-time.Hour)
	d.LastSeen = &stale
	assert.False(t, a.TestConnection(t.Context(), d))
}
