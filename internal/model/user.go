package model

import "time"

type User struct {
	TelegramID int64     `json:"telegram_id" db:"telegram_id"`
	Name       string    `json:"name" db:"name"`
	Phone      string    `json:"phone" db:"phone"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// DialogueState is the persisted position of a user inside the booking dialogue.
// Zero IDs mean "not chosen yet".
type DialogueState struct {
	UserID       int64      `json:"user_id"`
	Step         string     `json:"step"`
	ServiceID    int64      `json:"service_id,omitempty"`
	SpecialistID int64      `json:"specialist_id,omitempty"`
	SlotID       int64      `json:"slot_id,omitempty"`
	ChosenTime   *time.Time `json:"chosen_time,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ConversationMessage is one turn of the LLM conversation history.
type ConversationMessage struct {
	ID        int64     `json:"id" db:"id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	Role      string    `json:"role" db:"role"`
	Content   string    `json:"content" db:"content"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
