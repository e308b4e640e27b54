package model

import "time"

// SlotLayout is the user-facing format of a bookable instant.
const SlotLayout = "2006-01-02 15:04"

const (
	BookingStatusActive    = "active"
	BookingStatusCancelled = "cancelled"
)

// TimeSlot is one orderable appointment instant of a specialist for a service.
type TimeSlot struct {
	ID           int64     `json:"id" db:"id"`
	SpecialistID int64     `json:"specialist_id" db:"specialist_id"`
	ServiceID    int64     `json:"service_id" db:"service_id"`
	SlotTime     time.Time `json:"slot_time" db:"slot_time"`
	IsBooked     bool      `json:"is_booked" db:"is_booked"`
}

// Label formats the slot time in loc.
func (s TimeSlot) Label(loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return s.SlotTime.In(loc).Format(SlotLayout)
}

type Booking struct {
	ID           int64     `json:"id" db:"id"`
	UserID       int64     `json:"user_id" db:"user_id"`
	ServiceID    int64     `json:"service_id" db:"service_id"`
	SpecialistID int64     `json:"specialist_id" db:"specialist_id"`
	SlotID       int64     `json:"slot_id" db:"slot_id"`
	DateTime     time.Time `json:"date_time" db:"date_time"`
	Status       string    `json:"status" db:"status"`
	Reminded     bool      `json:"reminded" db:"reminded"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

func (b Booking) IsActive() bool {
	return b.Status == BookingStatusActive
}

// BookingView is a booking joined with the names shown to users and staff.
type BookingView struct {
	Booking
	ServiceTitle   string `json:"service_title" db:"service_title"`
	SpecialistName string `json:"specialist_name" db:"specialist_name"`
	UserName       string `json:"user_name" db:"user_name"`
}

// BookingStats aggregates booking counters for the manager report.
type BookingStats struct {
	Total     int `json:"total" db:"total"`
	Active    int `json:"active" db:"active"`
	Cancelled int `json:"cancelled" db:"cancelled"`
	Today     int `json:"today" db:"today"`
}

// SlotView is a slot joined with the service title, used in staff listings.
type SlotView struct {
	TimeSlot
	ServiceTitle string `json:"service_title" db:"service_title"`
}
