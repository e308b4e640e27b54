package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"beautybot/internal/model"
)

type dialogueStateRow struct {
	UserID       int64         `db:"user_id"`
	Step         string        `db:"step"`
	ServiceID    sql.NullInt64 `db:"service_id"`
	SpecialistID sql.NullInt64 `db:"specialist_id"`
	SlotID       sql.NullInt64 `db:"slot_id"`
	ChosenTime   sql.NullTime  `db:"chosen_time"`
	UpdatedAt    time.Time     `db:"updated_at"`
}

func (r dialogueStateRow) toModel() *model.DialogueState {
	st := &model.DialogueState{
		UserID:       r.UserID,
		Step:         r.Step,
		ServiceID:    r.ServiceID.Int64,
		SpecialistID: r.SpecialistID.Int64,
		SlotID:       r.SlotID.Int64,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.ChosenTime.Valid {
		t := r.ChosenTime.Time
		st.ChosenTime = &t
	}
	return st
}

// GetDialogueState returns nil, nil when the user is not inside a dialogue.
func (db *DB) GetDialogueState(ctx context.Context, userID int64) (*model.DialogueState, error) {
	var row dialogueStateRow
	err := db.get(ctx, &row, `
		SELECT user_id, step, service_id, specialist_id, slot_id, chosen_time, updated_at
		FROM user_state WHERE user_id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

func (db *DB) SaveDialogueState(ctx context.Context, st *model.DialogueState) error {
	var chosen any
	if st.ChosenTime != nil {
		chosen = st.ChosenTime.UTC()
	}
	st.UpdatedAt = time.Now().UTC()

	_, err := db.exec(ctx, `
		INSERT INTO user_state (user_id, step, service_id, specialist_id, slot_id, chosen_time, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			step = excluded.step,
			service_id = excluded.service_id,
			specialist_id = excluded.specialist_id,
			slot_id = excluded.slot_id,
			chosen_time = excluded.chosen_time,
			updated_at = excluded.updated_at`,
		st.UserID, st.Step, nullID(st.ServiceID), nullID(st.SpecialistID), nullID(st.SlotID), chosen, st.UpdatedAt,
	)
	return err
}

func (db *DB) DeleteDialogueState(ctx context.Context, userID int64) error {
	_, err := db.exec(ctx, `DELETE FROM user_state WHERE user_id = ?`, userID)
	return err
}

// PurgeDialogueStates removes dialogues untouched since before.
func (db *DB) PurgeDialogueStates(ctx context.Context, before time.Time) (int64, error) {
	res, err := db.exec(ctx, `DELETE FROM user_state WHERE updated_at < ?`, before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
