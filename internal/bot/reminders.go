package bot

import (
	"context"
	"fmt"
	"time"

	"beautybot/internal/model"

	"github.com/rs/zerolog"
)

// StartReminders sends next-day reminders every day at hour (salon time) until
// ctx is done. It blocks.
func (b *Bot) StartReminders(ctx context.Context, hour int) {
	l := b.logger.With().Str("component", "reminders").Logger()
	ctx = l.WithContext(ctx)

	timer := time.NewTimer(untilNextHour(b.now().In(b.loc), hour))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			sent := b.SendTomorrowReminders(ctx)
			l.Info().Int("sent", sent).Msg("Reminders sent")
			timer.Reset(untilNextHour(b.now().In(b.loc), hour))
		}
	}
}

// SendTomorrowReminders messages every client with an active booking tomorrow
// that has not been reminded yet, and returns how many were delivered.
func (b *Bot) SendTomorrowReminders(ctx context.Context) int {
	l := zerolog.Ctx(ctx)
	start, _ := b.today()
	from, to := start.AddDate(0, 0, 1), start.AddDate(0, 0, 2)

	views, err := b.db.ListBookingsToRemind(ctx, from, to)
	if err != nil {
		l.Error().Err(err).Msg("reminder: list bookings")
		return 0
	}

	sent := 0
	for _, v := range views {
		if err := ctx.Err(); err != nil {
			break
		}
		if err := b.direct(ctx, v.UserID, formatReminder(v, b.loc)); err != nil {
			l.Warn().Err(err).Int64("booking_id", v.ID).Int64("client_id", v.UserID).Msg("reminder: send")
			continue
		}
		if err := b.db.MarkReminded(ctx, v.ID); err != nil {
			l.Error().Err(err).Int64("booking_id", v.ID).Msg("reminder: mark reminded")
		}
		sent++
	}
	return sent
}

func formatReminder(v model.BookingView, loc *time.Location) string {
	return fmt.Sprintf("Напоминание: завтра в %s у вас запись на «%s» к специалисту %s.\n"+
		"Если планы изменились, напишите «Отменить запись».",
		v.DateTime.In(loc).Format("15:04"), v.ServiceTitle, v.SpecialistName)
}

func untilNextHour(now time.Time, hour int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}
