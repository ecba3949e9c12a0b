package attendance

import (
	"context"
	"testing"
	"time"

	"attendance-ingest/internal/config"
	"attendance-ingest/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) storage.Provider {
	t.Helper()
	p, err := storage.NewProvider(&config.Storage{
		Type:   config.StorageSQLite,
		SQLite: &config.SQLLiteStorage{Path: ":memory:"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	require.NoError(t, p.LinkEmployee(context.Background(), storage.Employee{
		ID: "emp-42", CompanyID: "acme", BiometricID: "42", Name: "Test",
	}))
	return p
}

func punch(ts time.Time, kind *EventType) Event {
	return Event{CompanyID: "acme", DeviceID: "dev-1", BiometricUserID: "42", Timestamp: ts, EventType: kind}
}

func TestRecord_RedeliveryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	r := NewRecorder(store)

	res, err := r.Record(ctx, punch(morning, Type(CheckIn)))
	require.NoError(t, err)
	assert.Equal(t, Recorded, res.Outcome)

	res, err = r.Record(ctx, punch(morning.Add(30*time.Second), Type(CheckIn)))
	require.NoError(t, err)
	assert.Equal(t, Duplicate, res.Outcome)

	rec, err := store.GetAttendance(ctx, "emp-42", "2024-03-01")
	require.NoError(t, err)
	require.NotNil(t, rec.TimeIn)
	assert.True(t, morning.Equal(*rec.TimeIn))
}

func TestRecord_DistinctCheckInIsAlreadySet(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	r := NewRecorder(store)

	_, err := r.Record(ctx, punch(morning, Type(CheckIn)))
	require.NoError(t, err)

	res, err := r.Record(ctx, punch(morning.Add(3*time.Minute), Type(CheckIn)))
	require.NoError(t, err)
	assert.Equal(t, AlreadySet, res.Outcome)

	rec, err := store.GetAttendance(ctx, "emp-42", "2024-03-01")
	require.NoError(t, err)
	assert.True(t, morning.Equal(*rec.TimeIn))
	assert.Nil(t, rec.TimeOut)
}

func TestRecord_InferredDay(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	r := NewRecorder(store)

	res, err := r.Record(ctx, punch(morning, nil))
	require.NoError(t, err)
	assert.Equal(t, storage.SlotTimeIn, res.Slot)

	res, err = r.Record(ctx, punch(morning.Add(9*time.Hour), nil))
	require.NoError(t, err)
	assert.Equal(t, Recorded, res.Outcome)
	assert.Equal(t, storage.SlotTimeOut, res.Slot)

	rec, err := store.GetAttendance(ctx, "emp-42", "2024-03-01")
	require.NoError(t, err)
	require.NotNil(t, rec.TimeOut)
	assert.Equal(t, "dev-1", rec.CheckOutDeviceID)
}

func TestRecord_DropsAndUnknowns(t *testing.T) {
	ctx := context.Background()
	r := NewRecorder(newStore(t))

	res, err := r.Record(ctx, Event{CompanyID: "acme", BiometricUserID: "  ", Timestamp: morning})
	require.NoError(t, err)
	assert.Equal(t, Dropped, res.Outcome)

	res, err = r.Record(ctx, Event{CompanyID: "acme", BiometricUserID: "999", Timestamp: morning})
	require.NoError(t, err)
	assert.Equal(t, UnknownEmployee, res.Outcome)

	res, err = r.Record(ctx, Event{CompanyID: "other", BiometricUserID: "42", Timestamp: morning})
	require.NoError(t, err)
	assert.Equal(t, UnknownEmployee, res.Outcome)
}
