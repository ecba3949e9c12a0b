package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"attendance-ingest/internal/metrics"
	"attendance-ingest/internal/storage"
)

type Outcome string

const (
	Recorded        Outcome = "recorded"
	Duplicate       Outcome = "duplicate"
	AlreadySet      Outcome = "already_set"
	Dropped         Outcome = "dropped"
	UnknownEmployee Outcome = "unknown_employee"
	Failed          Outcome = "failed"
)

type Result struct {
	Outcome    Outcome
	Slot       storage.Slot
	EmployeeID string
}

// Writer records one event. Recorder and Pipeline callers depend on this.
type Writer interface {
	Record(ctx context.Context, ev Event) (Result, error)
}

type Recorder struct {
	store  storage.AttendanceStore
	logger *slog.Logger
}

func NewRecorder(store storage.AttendanceStore) *Recorder {
	return &Recorder{
		store:  store,
		logger: slog.With("component", "recorder"),
	}
}

// Record resolves the employee, applies the dedup guard and performs the
// conditional upsert. Only store failures are returned as errors.
func (r *Recorder) Record(ctx context.Context, ev Event) (res Result, err error) {
	start := time.Now()
	defer func() {
		outcome := res.Outcome
		if err != nil {
			outcome = Failed
		}
		metrics.ObserveRecord(string(outcome), time.Since(start))
	}()

	ev.BiometricUserID = strings.TrimSpace(ev.BiometricUserID)
	if ev.BiometricUserID == "" {
		r.logger.Warn("Dropping event without biometric user id", "device_id", ev.DeviceID)
		return Result{Outcome: Dropped}, nil
	}
	if ev.Timestamp.IsZero() {
		r.logger.Warn("Dropping event without timestamp", "device_id", ev.DeviceID, "biometric_id", ev.BiometricUserID)
		return Result{Outcome: Dropped}, nil
	}
	ev.Timestamp = ev.Timestamp.UTC()

	employee, err := r.store.FindEmployeeByBiometricID(ctx, ev.CompanyID, ev.BiometricUserID)
	if errors.Is(err, storage.ErrNotFound) {
		r.logger.Info("No employee linked to biometric id", "company_id", ev.CompanyID,
			"device_id", ev.DeviceID, "biometric_id", ev.BiometricUserID)
		return Result{Outcome: UnknownEmployee}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("looking up employee: %w", err)
	}

	date := ev.Date()
	existing, err := r.store.GetAttendance(ctx, employee.ID, date)
	if err != nil {
		return Result{}, fmt.Errorf("loading attendance: %w", err)
	}

	decision := Classify(ev, existing)
	res = Result{Slot: decision.Slot, EmployeeID: employee.ID}
	if decision.Duplicate {
		r.logger.Debug("Duplicate punch dropped", "employee_id", employee.ID, "slot", decision.Slot, "at", ev.Timestamp)
		res.Outcome = Duplicate
		return res, nil
	}

	written, err := r.store.ApplyAttendance(ctx, storage.AttendanceWrite{
		CompanyID:  ev.CompanyID,
		EmployeeID: employee.ID,
		Date:       date,
		Slot:       decision.Slot,
		At:         ev.Timestamp,
		DeviceID:   ev.DeviceID,
	})
	if err != nil {
		return Result{}, fmt.Errorf("writing attendance: %w", err)
	}
	if !written {
		res.Outcome = AlreadySet
		return res, nil
	}

	r.logger.Info("Attendance recorded", "employee_id", employee.ID, "date", date,
		"slot", decision.Slot, "at", ev.Timestamp, "device_id", ev.DeviceID)
	res.Outcome = Recorded
	return res, nil
}
