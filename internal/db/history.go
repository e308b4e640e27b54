package db

import (
	"context"
	"time"

	"beautybot/internal/model"
)

// AppendMessage stores one conversation turn and trims the user's history to the
// newest keep rows. keep <= 0 disables trimming.
func (db *DB) AppendMessage(ctx context.Context, userID int64, role, content string, keep int) error {
	if _, err := db.exec(ctx, `
		INSERT INTO conversation_messages (user_id, role, content, created_at)
		VALUES (?, ?, ?, ?)`,
		userID, role, content, time.Now().UTC(),
	); err != nil {
		return err
	}
	if keep <= 0 {
		return nil
	}

	_, err := db.exec(ctx, `
		DELETE FROM conversation_messages
		WHERE user_id = ? AND id NOT IN (
			SELECT id FROM conversation_messages WHERE user_id = ? ORDER BY id DESC LIMIT ?
		)`,
		userID, userID, keep,
	)
	return err
}

// RecentMessages returns up to limit newest turns in chronological order.
func (db *DB) RecentMessages(ctx context.Context, userID int64, limit int) ([]model.ConversationMessage, error) {
	var out []model.ConversationMessage
	err := db.list(ctx, &out, `
		SELECT id, user_id, role, content, created_at FROM conversation_messages
		WHERE user_id = ?
		ORDER BY id DESC
		LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (db *DB) PurgeMessagesBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := db.exec(ctx, `DELETE FROM conversation_messages WHERE created_at < ?`, before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
