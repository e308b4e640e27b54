package model

import (
	"fmt"
	"strconv"
	"time"
)

// Service is a salon procedure offered for booking.
type Service struct {
	ID              int64     `json:"id" db:"id"`
	Title           string    `json:"title" db:"title"`
	Description     string    `json:"description" db:"description"`
	Price           float64   `json:"price" db:"price"`
	DurationMinutes int       `json:"duration_minutes" db:"duration_minutes"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// Duration returns the service length, defaulting to one hour.
func (s Service) Duration() time.Duration {
	if s.DurationMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(s.DurationMinutes) * time.Minute
}

// PriceLabel renders the price without a fractional part when it is whole.
func (s Service) PriceLabel() string {
	if s.Price == float64(int64(s.Price)) {
		return strconv.FormatInt(int64(s.Price), 10) + " ₽"
	}
	return strconv.FormatFloat(s.Price, 'f', 2, 64) + " ₽"
}

type Specialist struct {
	ID          int64  `json:"id" db:"id"`
	Name        string `json:"name" db:"name"`
	Description string `json:"description" db:"description"`
	IsActive    bool   `json:"is_active" db:"is_active"`
	WorkStart   string `json:"work_start,omitempty" db:"work_start"`
	WorkEnd     string `json:"work_end,omitempty" db:"work_end"`
}

// WorkHours returns "HH:MM-HH:MM" or an empty string when no window is set.
func (s Specialist) WorkHours() string {
	if s.WorkStart == "" || s.WorkEnd == "" {
		return ""
	}
	return fmt.Sprintf("%s-%s", s.WorkStart, s.WorkEnd)
}
