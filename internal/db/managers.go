package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"beautybot/internal/model"
)

const managerViewQuery = `
	SELECT m.id, m.chat_id, m.username, m.is_active, m.created_at,
		ns.notify_new_booking, ns.notify_cancellation, ns.notify_reschedule
	FROM managers m
	JOIN notification_settings ns ON ns.manager_id = m.id`

// RegisterManager subscribes chatID to booking notifications with every toggle on.
// An inactive manager is reactivated; an active one yields ErrManagerExists.
func (db *DB) RegisterManager(ctx context.Context, chatID int64, username string) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing struct {
		ID       int64 `db:"id"`
		IsActive bool  `db:"is_active"`
	}
	err = tx.GetContext(ctx, &existing, tx.Rebind(`SELECT id, is_active FROM managers WHERE chat_id = ?`), chatID)
	switch {
	case err == nil && existing.IsActive:
		return ErrManagerExists
	case err == nil:
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE managers SET is_active = TRUE, username = ? WHERE id = ?`), username, existing.ID); err != nil {
			return fmt.Errorf("reactivate manager %d: %w", chatID, err)
		}
	case errors.Is(err, sql.ErrNoRows):
		var id int64
		err = tx.QueryRowxContext(ctx, tx.Rebind(`
			INSERT INTO managers (chat_id, username, is_active, created_at)
			VALUES (?, ?, TRUE, ?)
			RETURNING id`),
			chatID, username, time.Now().UTC(),
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert manager %d: %w", chatID, err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO notification_settings (manager_id) VALUES (?)`), id); err != nil {
			return fmt.Errorf("insert notification settings %d: %w", chatID, err)
		}
	default:
		return err
	}

	return tx.Commit()
}

// EnsureManager registers chatID unless a manager row for it exists. A manager who
// switched notifications off stays inactive.
func (db *DB) EnsureManager(ctx context.Context, chatID int64, username string) (bool, error) {
	_, err := db.GetManager(ctx, chatID)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return false, err
	}
	if err := db.RegisterManager(ctx, chatID, username); err != nil && !errors.Is(err, ErrManagerExists) {
		return false, err
	}
	return true, nil
}

// DeactivateManager stops all notifications to chatID.
func (db *DB) DeactivateManager(ctx context.Context, chatID int64) error {
	res, err := db.exec(ctx, `UPDATE managers SET is_active = FALSE WHERE chat_id = ? AND is_active = TRUE`, chatID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *DB) IsActiveManager(ctx context.Context, chatID int64) (bool, error) {
	var n int
	err := db.get(ctx, &n, `SELECT COUNT(*) FROM managers WHERE chat_id = ? AND is_active = TRUE`, chatID)
	return n > 0, err
}

func (db *DB) GetManager(ctx context.Context, chatID int64) (*model.Manager, error) {
	var m model.Manager
	err := db.get(ctx, &m, managerViewQuery+` WHERE m.chat_id = ?`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// SetNotificationToggle switches one notification type for the manager.
func (db *DB) SetNotificationToggle(ctx context.Context, chatID int64, kind model.NotificationType, on bool) error {
	col, err := toggleColumn(kind)
	if err != nil {
		return err
	}
	res, err := db.exec(ctx, `
		UPDATE notification_settings SET `+col+` = ?
		WHERE manager_id = (SELECT id FROM managers WHERE chat_id = ?)`,
		on, chatID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListManagersFor returns active managers subscribed to kind.
func (db *DB) ListManagersFor(ctx context.Context, kind model.NotificationType) ([]model.Manager, error) {
	col, err := toggleColumn(kind)
	if err != nil {
		return nil, err
	}
	var out []model.Manager
	err = db.list(ctx, &out, managerViewQuery+`
		WHERE m.is_active = TRUE AND ns.`+col+` = TRUE
		ORDER BY m.id`)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func toggleColumn(kind model.NotificationType) (string, error) {
	switch kind {
	case model.NotifyNewBooking:
		return "notify_new_booking", nil
	case model.NotifyCancellation:
		return "notify_cancellation", nil
	case model.NotifyReschedule:
		return "notify_reschedule", nil
	}
	return "", fmt.Errorf("unknown notification type %q", kind)
}
