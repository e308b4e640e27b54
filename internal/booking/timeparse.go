package booking

import (
	"strconv"
	"strings"
	"time"

	"beautybot/internal/model"
)

// ParseTimeInput matches user input against the offered slots.
//
// A full "YYYY-MM-DD HH:MM" must equal one of the slots. A bare "HH:MM" or hour
// ("14") is accepted only when all slots fall on a single date; otherwise it is
// ambiguous and ok is false.
func ParseTimeInput(text string, slots []model.TimeSlot, loc *time.Location) (slot model.TimeSlot, ok bool) {
	if loc == nil {
		loc = time.Local
	}
	text = strings.Join(strings.Fields(text), " ")
	if text == "" || len(slots) == 0 {
		return model.TimeSlot{}, false
	}

	if t, err := time.ParseInLocation(model.SlotLayout, text, loc); err == nil {
		return findSlot(slots, t)
	}

	dates := distinctDates(slots, loc)
	if len(dates) != 1 {
		return model.TimeSlot{}, false
	}
	hour, minute, valid := parseClock(text)
	if !valid {
		return model.TimeSlot{}, false
	}
	d := dates[0]
	return findSlot(slots, time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, loc))
}

func parseClock(text string) (hour, minute int, ok bool) {
	if t, err := time.Parse("15:04", text); err == nil {
		return t.Hour(), t.Minute(), true
	}
	h, err := strconv.Atoi(text)
	if err != nil || h < 0 || h > 23 {
		return 0, 0, false
	}
	return h, 0, true
}

func findSlot(slots []model.TimeSlot, t time.Time) (model.TimeSlot, bool) {
	for _, s := range slots {
		if s.SlotTime.Equal(t) {
			return s, true
		}
	}
	return model.TimeSlot{}, false
}

func distinctDates(slots []model.TimeSlot, loc *time.Location) []time.Time {
	seen := make(map[string]bool)
	var out []time.Time
	for _, s := range slots {
		local := s.SlotTime.In(loc)
		key := local.Format("2006-01-02")
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, local)
	}
	return out
}

// singleDate reports whether all slots share one calendar date in loc.
func singleDate(slots []model.TimeSlot, loc *time.Location) bool {
	return len(distinctDates(slots, loc)) == 1
}
