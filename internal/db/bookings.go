package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"beautybot/internal/model"
)

const bookingViewQuery = `
	SELECT b.id, b.user_id, b.service_id, b.specialist_id, b.slot_id, b.date_time, b.status, b.reminded, b.created_at,
		s.title AS service_title, sp.name AS specialist_name, COALESCE(u.name, '') AS user_name
	FROM bookings b
	JOIN services s ON s.id = b.service_id
	JOIN specialists sp ON sp.id = b.specialist_id
	LEFT JOIN users u ON u.telegram_id = b.user_id`

// BookSlot reserves a free slot for the user and records the booking.
// The slot flip is a conditional update, so of two concurrent callers only one wins;
// the other gets ErrSlotNotAvailable. A slot overlapping another active booking of
// the same specialist is also ErrSlotNotAvailable.
func (db *DB) BookSlot(ctx context.Context, userID, slotID int64) (*model.BookingView, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE booking_times SET is_booked = TRUE WHERE id = ? AND is_booked = FALSE`), slotID)
	if err != nil {
		return nil, fmt.Errorf("flip slot %d: %w", slotID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n != 1 {
		return nil, ErrSlotNotAvailable
	}

	var slot struct {
		model.TimeSlot
		DurationMinutes int `db:"duration_minutes"`
	}
	if err := tx.GetContext(ctx, &slot, tx.Rebind(`
		SELECT bt.id, bt.specialist_id, bt.service_id, bt.slot_time, bt.is_booked, s.duration_minutes
		FROM booking_times bt
		JOIN services s ON s.id = bt.service_id
		WHERE bt.id = ?`), slotID); err != nil {
		return nil, fmt.Errorf("load slot %d: %w", slotID, err)
	}

	// The no-op update row-locks the specialist on postgres, so overlapping
	// bookings of one specialist commit one after another.
	if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE specialists SET is_active = is_active WHERE id = ?`), slot.SpecialistID); err != nil {
		return nil, fmt.Errorf("lock specialist %d: %w", slot.SpecialistID, err)
	}
	busy, err := busySpans(ctx, tx, slot.SpecialistID, slot.SlotTime)
	if err != nil {
		return nil, err
	}
	if overlaps(slot.SlotTime, serviceLength(slot.DurationMinutes), busy) {
		return nil, ErrSlotNotAvailable
	}

	var id int64
	err = tx.QueryRowxContext(ctx, tx.Rebind(`
		INSERT INTO bookings (user_id, service_id, specialist_id, slot_id, date_time, status, reminded, created_at)
		VALUES (?, ?, ?, ?, ?, ?, FALSE, ?)
		RETURNING id`),
		userID, slot.ServiceID, slot.SpecialistID, slot.ID, slot.SlotTime.UTC(), model.BookingStatusActive, time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("insert booking: %w", err)
	}

	var view model.BookingView
	if err := tx.GetContext(ctx, &view, tx.Rebind(bookingViewQuery+` WHERE b.id = ?`), id); err != nil {
		return nil, fmt.Errorf("load booking %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit booking: %w", err)
	}
	return &view, nil
}

// CancelBooking marks an active booking cancelled and frees its slot.
func (db *DB) CancelBooking(ctx context.Context, bookingID int64) (*model.BookingView, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var view model.BookingView
	err = tx.GetContext(ctx, &view, tx.Rebind(bookingViewQuery+` WHERE b.id = ?`), bookingID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE bookings SET status = ? WHERE id = ? AND status = ?`),
		model.BookingStatusCancelled, bookingID, model.BookingStatusActive,
	)
	if err != nil {
		return nil, fmt.Errorf("cancel booking %d: %w", bookingID, err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return nil, ErrBookingNotActive
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE booking_times SET is_booked = FALSE WHERE id = ?`), view.SlotID); err != nil {
		return nil, fmt.Errorf("free slot %d: %w", view.SlotID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit cancel: %w", err)
	}
	view.Status = model.BookingStatusCancelled
	return &view, nil
}

func (db *DB) GetBooking(ctx context.Context, id int64) (*model.BookingView, error) {
	var view model.BookingView
	err := db.get(ctx, &view, bookingViewQuery+` WHERE b.id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// ListUserActiveBookings returns the user's active bookings after from, nearest first.
func (db *DB) ListUserActiveBookings(ctx context.Context, userID int64, from time.Time) ([]model.BookingView, error) {
	var out []model.BookingView
	err := db.list(ctx, &out, bookingViewQuery+`
		WHERE b.user_id = ? AND b.status = ? AND b.date_time > ?
		ORDER BY b.date_time`,
		userID, model.BookingStatusActive, from.UTC(),
	)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (db *DB) ListSpecialistBookings(ctx context.Context, specialistID int64, from time.Time) ([]model.BookingView, error) {
	var out []model.BookingView
	err := db.list(ctx, &out, bookingViewQuery+`
		WHERE b.specialist_id = ? AND b.status = ? AND b.date_time > ?
		ORDER BY b.date_time`,
		specialistID, model.BookingStatusActive, from.UTC(),
	)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListActiveBookings returns every active booking after from.
func (db *DB) ListActiveBookings(ctx context.Context, from time.Time) ([]model.BookingView, error) {
	var out []model.BookingView
	err := db.list(ctx, &out, bookingViewQuery+`
		WHERE b.status = ? AND b.date_time > ?
		ORDER BY b.date_time`,
		model.BookingStatusActive, from.UTC(),
	)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListBookingsToRemind returns active bookings in [from, to) that have not been reminded yet.
func (db *DB) ListBookingsToRemind(ctx context.Context, from, to time.Time) ([]model.BookingView, error) {
	var out []model.BookingView
	err := db.list(ctx, &out, bookingViewQuery+`
		WHERE b.status = ? AND b.reminded = FALSE AND b.date_time >= ? AND b.date_time < ?
		ORDER BY b.date_time`,
		model.BookingStatusActive, from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (db *DB) MarkReminded(ctx context.Context, bookingID int64) error {
	_, err := db.exec(ctx, `UPDATE bookings SET reminded = TRUE WHERE id = ?`, bookingID)
	return err
}

// Stats counts bookings overall and within [dayStart, dayEnd).
func (db *DB) Stats(ctx context.Context, dayStart, dayEnd time.Time) (*model.BookingStats, error) {
	var st model.BookingStats
	err := db.get(ctx, &st, `
		SELECT COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN status = 'active' THEN 1 ELSE 0 END), 0) AS active,
			COALESCE(SUM(CASE WHEN status = 'cancelled' THEN 1 ELSE 0 END), 0) AS cancelled,
			COALESCE(SUM(CASE WHEN date_time >= ? AND date_time < ? THEN 1 ELSE 0 END), 0) AS today
		FROM bookings`,
		dayStart.UTC(), dayEnd.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("booking stats: %w", err)
	}
	return &st, nil
}
