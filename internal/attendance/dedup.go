package attendance

import (
	"time"

	"attendance-ingest/internal/storage"
)

// Redelivery tolerance per slot. Check-out is wider because people
// linger near the reader.
const (
	CheckInWindow  = 2 * time.Minute
	CheckOutWindow = 5 * time.Minute
)

func Window(t EventType) time.Duration {
	if t == CheckOut {
		return CheckOutWindow
	}
	return CheckInWindow
}

func SlotFor(t EventType) storage.Slot {
	if t == CheckOut {
		return storage.SlotTimeOut
	}
	return storage.SlotTimeIn
}

// Decision is the dedup guard's verdict for one event.
type Decision struct {
	Type      EventType
	Slot      storage.Slot
	Duplicate bool
}

func within(existing *time.Time, at time.Time, window time.Duration) bool {
	if existing == nil {
		return false
	}
	d := at.Sub(*existing)
	if d < 0 {
		d = -d
	}
	return d <= window
}

// Classify decides which slot ev targets and whether it repeats a punch
// already stored in rec. rec may be nil when the day has no row yet.
//
// Without an explicit type the event is a duplicate if it falls in the
// window of either filled slot; otherwise it fills time_in when that is
// empty and time_out after.
func Classify(ev Event, rec *storage.AttendanceRecord) Decision {
	var timeIn, timeOut *time.Time
	if rec != nil {
		timeIn, timeOut = rec.TimeIn, rec.TimeOut
	}

	if ev.EventType != nil {
		t := *ev.EventType
		existing := timeIn
		if t == CheckOut {
			existing = timeOut
		}
		return Decision{Type: t, Slot: SlotFor(t), Duplicate: within(existing, ev.Timestamp, Window(t))}
	}

	if within(timeIn, ev.Timestamp, CheckInWindow) {
		return Decision{Type: CheckIn, Slot: storage.SlotTimeIn, Duplicate: true}
	}
	if within(timeOut, ev.Timestamp, CheckOutWindow) {
		return Decision{Type: CheckOut, Slot: storage.SlotTimeOut, Duplicate: true}
	}
	if timeIn == nil {
		return Decision{Type: CheckIn, Slot: storage.SlotTimeIn}
	}
	return Decision{Type: CheckOut, Slot: storage.SlotTimeOut}
}
