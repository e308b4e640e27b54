package slots

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"beautybot/internal/model"

	"github.com/rs/zerolog"
)

// Interval is a half-open busy period [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// StartTimes returns the instants on date at which a service of the given length fits
// inside the work window, stepping by step and skipping anything overlapping busy.
func StartTimes(date time.Time, workStart, workEnd string, length, step time.Duration, busy []Interval) ([]time.Time, error) {
	if step <= 0 {
		step = 30 * time.Minute
	}
	if length <= 0 {
		length = time.Hour
	}

	start, err := parseTimeOnDate(date, workStart)
	if err != nil {
		return nil, fmt.Errorf("parse work start: %w", err)
	}
	end, err := parseTimeOnDate(date, workEnd)
	if err != nil {
		return nil, fmt.Errorf("parse work end: %w", err)
	}

	var out []time.Time
	for cursor := start; !cursor.Add(length).After(end); cursor = cursor.Add(step) {
		slotEnd := cursor.Add(length)
		free := true
		for _, b := range busy {
			if isOverlapping(cursor, slotEnd, b.Start, b.End) {
				free = false
				break
			}
		}
		if free {
			out = append(out, cursor)
		}
	}
	return out, nil
}

// Store is the persistence the publisher needs.
type Store interface {
	ListServices(ctx context.Context) ([]model.Service, error)
	ListSpecialists(ctx context.Context, serviceID int64) ([]model.Specialist, error)
	ListSpecialistBookings(ctx context.Context, specialistID int64, from time.Time) ([]model.BookingView, error)
	AddSlot(ctx context.Context, specialistID, serviceID int64, at time.Time) (bool, error)
}

// Publisher turns specialists' work hours into bookable slots.
type Publisher struct {
	store  Store
	loc    *time.Location
	logger zerolog.Logger
}

func NewPublisher(store Store, loc *time.Location, logger *zerolog.Logger) *Publisher {
	if loc == nil {
		loc = time.Local
	}
	return &Publisher{
		store:  store,
		loc:    loc,
		logger: logger.With().Str("component", "slots").Logger(),
	}
}

// Publish adds free slots for every specialist with work hours for the next days,
// starting at from. Days listed in daysOff (1=Mon, 7=Sun) are skipped. Existing slots
// are kept, so repeated runs are idempotent. It returns the number of new slots.
func (p *Publisher) Publish(ctx context.Context, from time.Time, days int, step time.Duration, daysOff []int) (int, error) {
	if days <= 0 {
		return 0, nil
	}

	services, err := p.store.ListServices(ctx)
	if err != nil {
		return 0, fmt.Errorf("list services: %w", err)
	}
	lengths := make(map[int64]time.Duration, len(services))
	for _, s := range services {
		lengths[s.ID] = s.Duration()
	}

	off := make(map[time.Weekday]bool, len(daysOff))
	for _, d := range daysOff {
		off[time.Weekday(d%7)] = true
	}

	created := 0
	for _, svc := range services {
		specialists, err := p.store.ListSpecialists(ctx, svc.ID)
		if err != nil {
			return created, fmt.Errorf("list specialists of %d: %w", svc.ID, err)
		}
		for _, sp := range specialists {
			if sp.WorkHours() == "" {
				continue
			}
			busy, err := p.busyIntervals(ctx, sp.ID, from, lengths)
			if err != nil {
				return created, err
			}

			for day := 0; day < days; day++ {
				date := from.In(p.loc).AddDate(0, 0, day)
				if off[date.Weekday()] {
					continue
				}
				starts, err := StartTimes(date, sp.WorkStart, sp.WorkEnd, svc.Duration(), step, busy)
				if err != nil {
					return created, fmt.Errorf("specialist %d: %w", sp.ID, err)
				}
				for _, at := range starts {
					if !at.After(from) {
						continue
					}
					ok, err := p.store.AddSlot(ctx, sp.ID, svc.ID, at)
					if err != nil {
						return created, fmt.Errorf("add slot: %w", err)
					}
					if ok {
						created++
					}
				}
			}
		}
	}

	p.logger.Info().Int("created", created).Int("days", days).Msg("slots published")
	return created, nil
}

func (p *Publisher) busyIntervals(ctx context.Context, specialistID int64, from time.Time, lengths map[int64]time.Duration) ([]Interval, error) {
	bookings, err := p.store.ListSpecialistBookings(ctx, specialistID, from)
	if err != nil {
		return nil, fmt.Errorf("list bookings of %d: %w", specialistID, err)
	}
	busy := make([]Interval, 0, len(bookings))
	for _, b := range bookings {
		length, ok := lengths[b.ServiceID]
		if !ok {
			length = time.Hour
		}
		busy = append(busy, Interval{Start: b.DateTime, End: b.DateTime.Add(length)})
	}
	return busy, nil
}

func parseTimeOnDate(date time.Time, timeStr string) (time.Time, error) {
	parts := strings.Split(timeStr, ":")
	if len(parts) < 2 {
		return time.Time{}, fmt.Errorf("invalid time format: %s", timeStr)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid hour: %w", err)
	}

	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid minute: %w", err)
	}

	return time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, date.Location()), nil
}

func isOverlapping(start1, end1, start2, end2 time.Time) bool {
	return start1.Before(end2) && start2.Before(end1)
}
