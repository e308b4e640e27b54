package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"beautybot/internal/model"
)

// UpsertUser registers the user on first contact and refreshes the display name later.
func (db *DB) UpsertUser(ctx context.Context, telegramID int64, name string) error {
	_, err := db.exec(ctx, `
		INSERT INTO users (telegram_id, name, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (telegram_id) DO UPDATE SET name = excluded.name`,
		telegramID, name, time.Now().UTC(),
	)
	return err
}

func (db *DB) GetUser(ctx context.Context, telegramID int64) (*model.User, error) {
	var u model.User
	err := db.get(ctx, &u, `SELECT telegram_id, name, phone, created_at FROM users WHERE telegram_id = ?`, telegramID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
