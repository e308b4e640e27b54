package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"beautybot/internal/model"
)

const slotColumns = `id, specialist_id, service_id, slot_time, is_booked`

// AddSlot publishes a free slot. It returns false when the slot already exists.
func (db *DB) AddSlot(ctx context.Context, specialistID, serviceID int64, at time.Time) (bool, error) {
	linked, err := db.isLinked(ctx, specialistID, serviceID)
	if err != nil {
		return false, err
	}
	if !linked {
		return false, ErrNotLinked
	}

	res, err := db.exec(ctx, `
		INSERT INTO booking_times (specialist_id, service_id, slot_time, is_booked)
		VALUES (?, ?, ?, FALSE)
		ON CONFLICT (specialist_id, service_id, slot_time) DO NOTHING`,
		specialistID, serviceID, at.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("add slot: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RemoveSlot deletes a free slot. Booked slots are kept and reported as unavailable.
func (db *DB) RemoveSlot(ctx context.Context, specialistID, serviceID int64, at time.Time) error {
	res, err := db.exec(ctx, `
		DELETE FROM booking_times
		WHERE specialist_id = ? AND service_id = ? AND slot_time = ? AND is_booked = FALSE`,
		specialistID, serviceID, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("remove slot: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var booked bool
	err = db.get(ctx, &booked, `
		SELECT is_booked FROM booking_times
		WHERE specialist_id = ? AND service_id = ? AND slot_time = ?`,
		specialistID, serviceID, at.UTC(),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrSlotNotAvailable
}

func (db *DB) GetSlot(ctx context.Context, id int64) (*model.TimeSlot, error) {
	var slot model.TimeSlot
	err := db.get(ctx, &slot, `SELECT `+slotColumns+` FROM booking_times WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &slot, nil
}

// ListFreeSlots returns unbooked slots of the pair after from, earliest first.
// Slots that would overlap one of the specialist's active bookings are left out.
func (db *DB) ListFreeSlots(ctx context.Context, specialistID, serviceID int64, from time.Time) ([]model.TimeSlot, error) {
	var rows []struct {
		model.TimeSlot
		DurationMinutes int `db:"duration_minutes"`
	}
	err := db.list(ctx, &rows, `
		SELECT bt.id, bt.specialist_id, bt.service_id, bt.slot_time, bt.is_booked, s.duration_minutes
		FROM booking_times bt
		JOIN services s ON s.id = bt.service_id
		WHERE bt.specialist_id = ? AND bt.service_id = ? AND bt.is_booked = FALSE AND bt.slot_time > ?
		ORDER BY bt.slot_time`,
		specialistID, serviceID, from.UTC(),
	)
	if err != nil {
		return nil, err
	}
	busy, err := busySpans(ctx, db.DB, specialistID, from)
	if err != nil {
		return nil, err
	}

	out := make([]model.TimeSlot, 0, len(rows))
	for _, r := range rows {
		if !overlaps(r.SlotTime, serviceLength(r.DurationMinutes), busy) {
			out = append(out, r.TimeSlot)
		}
	}
	return out, nil
}

// ListSpecialistFreeSlots returns the free slots of a specialist across all services.
func (db *DB) ListSpecialistFreeSlots(ctx context.Context, specialistID int64, from time.Time) ([]model.SlotView, error) {
	var rows []struct {
		model.SlotView
		DurationMinutes int `db:"duration_minutes"`
	}
	err := db.list(ctx, &rows, `
		SELECT bt.id, bt.specialist_id, bt.service_id, bt.slot_time, bt.is_booked,
			s.title AS service_title, s.duration_minutes
		FROM booking_times bt
		JOIN services s ON s.id = bt.service_id
		WHERE bt.specialist_id = ? AND bt.is_booked = FALSE AND bt.slot_time > ?
		ORDER BY bt.slot_time, s.title`,
		specialistID, from.UTC(),
	)
	if err != nil {
		return nil, err
	}
	busy, err := busySpans(ctx, db.DB, specialistID, from)
	if err != nil {
		return nil, err
	}

	out := make([]model.SlotView, 0, len(rows))
	for _, r := range rows {
		if !overlaps(r.SlotTime, serviceLength(r.DurationMinutes), busy) {
			out = append(out, r.SlotView)
		}
	}
	return out, nil
}

// busySpan is the time an active booking takes from its specialist.
type busySpan struct {
	start, end time.Time
}

type selecter interface {
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	Rebind(query string) string
}

// maxServiceLength bounds how far back a booking can still reach into from.
const maxServiceLength = 24 * time.Hour

func busySpans(ctx context.Context, q selecter, specialistID int64, from time.Time) ([]busySpan, error) {
	var rows []struct {
		DateTime        time.Time `db:"date_time"`
		DurationMinutes int       `db:"duration_minutes"`
	}
	err := q.SelectContext(ctx, &rows, q.Rebind(`
		SELECT b.date_time, s.duration_minutes
		FROM bookings b
		JOIN services s ON s.id = b.service_id
		WHERE b.specialist_id = ? AND b.status = ? AND b.date_time > ?`),
		specialistID, model.BookingStatusActive, from.Add(-maxServiceLength).UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("load bookings of specialist %d: %w", specialistID, err)
	}
	spans := make([]busySpan, 0, len(rows))
	for _, r := range rows {
		spans = append(spans, busySpan{start: r.DateTime, end: r.DateTime.Add(serviceLength(r.DurationMinutes))})
	}
	return spans, nil
}

// overlaps reports whether [start, start+length) intersects any busy span.
func overlaps(start time.Time, length time.Duration, busy []busySpan) bool {
	end := start.Add(length)
	for _, b := range busy {
		if start.Before(b.end) && b.start.Before(end) {
			return true
		}
	}
	return false
}

func serviceLength(n int) time.Duration {
	return model.Service{DurationMinutes: n}.Duration()
}

// FindAlternativeSpecialist picks another active specialist with the earliest free
// slot for the service. It returns ErrNotFound when nobody else is free.
func (db *DB) FindAlternativeSpecialist(ctx context.Context, serviceID, excludeID int64, from time.Time) (*model.Specialist, error) {
	var candidates []model.Specialist
	err := db.list(ctx, &candidates, `
		SELECT sp.id, sp.name, sp.description, sp.is_active, sp.work_start, sp.work_end
		FROM specialists sp
		JOIN booking_times bt ON bt.specialist_id = sp.id
		WHERE bt.service_id = ? AND bt.is_booked = FALSE AND bt.slot_time > ?
			AND sp.id <> ? AND sp.is_active = TRUE
		GROUP BY sp.id, sp.name, sp.description, sp.is_active, sp.work_start, sp.work_end
		ORDER BY MIN(bt.slot_time)`,
		serviceID, from.UTC(), excludeID,
	)
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		free, err := db.ListFreeSlots(ctx, candidates[i].ID, serviceID, from)
		if err != nil {
			return nil, err
		}
		if len(free) > 0 {
			return &candidates[i], nil
		}
	}
	return nil, ErrNotFound
}
