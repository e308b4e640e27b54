package booking

import (
	"fmt"
	"strings"
	"time"

	"beautybot/internal/model"
)

// maxListedSlots caps how many slots one message lists per specialist.
const maxListedSlots = 20

var yesNo = []string{"Да", "Нет"}

func withPrefix(prefix, text string) string {
	if prefix == "" {
		return text
	}
	return prefix + "\n\n" + text
}

// FormatServiceList renders the catalogue for /service_list.
func FormatServiceList(services []model.Service) string {
	if len(services) == 0 {
		return msgNoServices
	}
	var b strings.Builder
	b.WriteString("Наши услуги:\n")
	for _, s := range services {
		fmt.Fprintf(&b, "- [%d] %s — %s, %d мин\n", s.ID, s.Title, s.PriceLabel(), int(s.Duration().Minutes()))
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatSpecialistList renders specialists for /spec_list.
func FormatSpecialistList(specs []model.Specialist) string {
	if len(specs) == 0 {
		return "Пока нет специалистов."
	}
	var b strings.Builder
	b.WriteString("Наши специалисты:\n")
	for _, sp := range specs {
		fmt.Fprintf(&b, "- [%d] %s", sp.ID, sp.Name)
		if hours := sp.WorkHours(); hours != "" {
			fmt.Fprintf(&b, " (%s)", hours)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatBookingLine is a one-line summary used in lists and notifications.
func FormatBookingLine(v model.BookingView, loc *time.Location) string {
	return fmt.Sprintf("#%d %s — %s, %s", v.ID, v.DateTime.In(loc).Format(model.SlotLayout), v.ServiceTitle, v.SpecialistName)
}

// FormatBookings renders bookings one per line.
func FormatBookings(views []model.BookingView, loc *time.Location) string {
	lines := make([]string, 0, len(views))
	for _, v := range views {
		lines = append(lines, FormatBookingLine(v, loc))
	}
	return strings.Join(lines, "\n")
}

func newBookingNotice(v *model.BookingView, loc *time.Location) string {
	return fmt.Sprintf("🆕 Новая запись #%d\nКлиент: %s (id %d)\nУслуга: %s\nСпециалист: %s\nВремя: %s",
		v.ID, clientName(v), v.UserID, v.ServiceTitle, v.SpecialistName, v.DateTime.In(loc).Format(model.SlotLayout))
}

func cancellationNotice(v *model.BookingView, loc *time.Location) string {
	return fmt.Sprintf("❌ Отмена записи #%d\nКлиент: %s (id %d)\nУслуга: %s\nСпециалист: %s\nВремя: %s",
		v.ID, clientName(v), v.UserID, v.ServiceTitle, v.SpecialistName, v.DateTime.In(loc).Format(model.SlotLayout))
}

func clientName(v *model.BookingView) string {
	if v.UserName == "" {
		return "без имени"
	}
	return v.UserName
}

func servicePrompt(services []model.Service, prefix string) Reply {
	var b strings.Builder
	b.WriteString(StatePrompts[StateSelectService])
	options := make([]string, 0, len(services))
	for _, s := range services {
		fmt.Fprintf(&b, "\n- %s — %s, %d мин", s.Title, s.PriceLabel(), int(s.Duration().Minutes()))
		options = append(options, s.Title)
	}
	return Reply{Text: withPrefix(prefix, b.String()), Options: options}
}

func timePrompt(sp *model.Specialist, slots []model.TimeSlot, loc *time.Location, prefix string) Reply {
	var b strings.Builder
	fmt.Fprintf(&b, "Свободное время у специалиста %s:", sp.Name)
	options := make([]string, 0, len(slots))
	for i, s := range slots {
		if i == maxListedSlots {
			fmt.Fprintf(&b, "\n... и ещё %d", len(slots)-i)
			break
		}
		label := s.Label(loc)
		fmt.Fprintf(&b, "\n- %s", label)
		options = append(options, label)
	}
	if singleDate(slots, loc) {
		b.WriteString("\n\nВведите время, например 14:00, или выберите из списка.")
	} else {
		b.WriteString("\n\nВведите дату и время в формате ГГГГ-ММ-ДД ЧЧ:ММ или выберите из списка.")
	}
	return Reply{Text: withPrefix(prefix, b.String()), Options: options}
}

func confirmPrompt(svc *model.Service, sp *model.Specialist, at time.Time, loc *time.Location, prefix string) Reply {
	text := fmt.Sprintf("%s\nУслуга: %s (%s)\nСпециалист: %s\nВремя: %s\n\nОтветьте 'да' или 'нет'.",
		StatePrompts[StateConfirm], svc.Title, svc.PriceLabel(), sp.Name, at.In(loc).Format(model.SlotLayout))
	return Reply{Text: withPrefix(prefix, text), Options: yesNo}
}
