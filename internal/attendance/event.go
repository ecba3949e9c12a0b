// Package attendance turns canonical punches into attendance record writes.
package attendance

import (
	"fmt"
	"time"
)

type EventType string

const (
	CheckIn  EventType = "CHECK_IN"
	CheckOut EventType = "CHECK_OUT"
)

// Type returns a pointer to t, for optional event types.
func Type(t EventType) *EventType {
	return &t
}

// Event is the canonical punch every adapter produces. A nil EventType
// leaves the slot to be inferred from the existing record.
type Event struct {
	CompanyID       string
	DeviceID        string
	Vendor          string
	BiometricUserID string
	Timestamp       time.Time
	EventType       *EventType
}

// Date is the UTC calendar day the event belongs to.
func (e Event) Date() string {
	return e.Timestamp.UTC().Format(time.DateOnly)
}

func (e Event) String() string {
	kind := "infer"
	if e.EventType != nil {
		kind = string(*e.EventType)
	}
	return fmt.Sprintf("%s/%s user=%s at=%s type=%s", e.CompanyID, e.DeviceID, e.BiometricUserID,
		e.Timestamp.UTC().Format(time.RFC3339), kind)
}
