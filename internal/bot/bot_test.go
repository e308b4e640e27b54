package bot

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"beautybot/internal/booking"
	"beautybot/internal/db"
	"beautybot/internal/llm"
	"beautybot/internal/model"
	"beautybot/internal/notify"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	clientID  = int64(101)
	adminID   = int64(1)
	managerID = int64(900)
)

type fakeTelegram struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	made     []tgbotapi.Params
}

func (f *fakeTelegram) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeTelegram) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeTelegram) MakeRequest(_ string, params tgbotapi.Params) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.made = append(f.made, params)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

// texts returns the text messages sent to chatID, oldest first.
func (f *fakeTelegram) texts(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok && m.ChatID == chatID {
			out = append(out, m.Text)
		}
	}
	return out
}

func (f *fakeTelegram) last(t *testing.T, chatID int64) string {
	t.Helper()
	texts := f.texts(chatID)
	require.NotEmpty(t, texts, "no messages to %d", chatID)
	return texts[len(texts)-1]
}

type fakeFreeTime struct {
	times []time.Time
	err   error
}

func (f *fakeFreeTime) ResolveFreeTime(_ context.Context, _ string, _ time.Duration, _ time.Time) ([]time.Time, error) {
	return f.times, f.err
}

type fixture struct {
	db      *db.DB
	tg      *fakeTelegram
	bot     *Bot
	haircut *model.Service
	anna    *model.Specialist
	day     time.Time
	nextID  int
}

// newFixture seeds Haircut with Anna free at 10:00 and 14:00 two days ahead and
// registers a manager subscribed to everything.
func newFixture(t *testing.T, freeTime FreeTimeParser) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := zerolog.Nop()

	database, err := db.NewDB(filepath.Join(t.TempDir(), "bot.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	f := &fixture{db: database, tg: &fakeTelegram{}, day: time.Now().UTC().AddDate(0, 0, 2).Truncate(24 * time.Hour)}

	f.haircut, _, err = database.CreateService(ctx, "Haircut", 1500)
	require.NoError(t, err)
	f.anna, _, err = database.CreateSpecialist(ctx, model.Specialist{Name: "Anna"})
	require.NoError(t, err)
	_, err = database.LinkSpecialistService(ctx, f.anna.ID, f.haircut.ID)
	require.NoError(t, err)
	for _, hour := range []int{10, 14} {
		_, err = database.AddSlot(ctx, f.anna.ID, f.haircut.ID, f.day.Add(time.Duration(hour)*time.Hour))
		require.NoError(t, err)
	}
	require.NoError(t, database.RegisterManager(ctx, managerID, "boss"))

	notifier := notify.New(f.tg, database, notify.Config{RatePerSecond: 1000, Burst: 10}, &logger)
	engine := booking.NewEngine(booking.Config{Store: database, Notifier: notifier, Location: time.UTC})

	f.bot, err = NewWithTelegramClient(f.tg, Deps{
		DB:       database,
		Engine:   engine,
		FreeTime: freeTime,
		Reminder: notifier,
		Admins:   []int64{adminID},
		Logger:   &logger,
	})
	require.NoError(t, err)
	return f
}

// send delivers text from userID as a fresh update.
func (f *fixture) send(userID int64, text string) {
	f.nextID++
	msg := &tgbotapi.Message{
		MessageID: f.nextID,
		From:      &tgbotapi.User{ID: userID, FirstName: "Client"},
		Chat:      &tgbotapi.Chat{ID: userID, Type: "private"},
		Text:      text,
	}
	if strings.HasPrefix(text, "/") {
		cmd, _, _ := strings.Cut(text, " ")
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	f.bot.HandleUpdate(context.Background(), tgbotapi.Update{UpdateID: f.nextID, Message: msg})
}

func TestBot_HaircutScenarioNotifiesManager(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.send(clientID, "Haircut")
	assert.Contains(t, f.tg.last(t, clientID), "Anna")

	f.send(clientID, "Anna")
	assert.Contains(t, f.tg.last(t, clientID), f.day.Add(14*time.Hour).Format(model.SlotLayout))

	f.send(clientID, "14:00")
	assert.Contains(t, f.tg.last(t, clientID), "Подтвердите запись")

	f.send(clientID, "да")
	assert.Contains(t, f.tg.last(t, clientID), "успешно")

	notices := f.tg.texts(managerID)
	require.Len(t, notices, 1)
	assert.Contains(t, notices[0], "Новая запись")
	assert.Contains(t, notices[0], "Haircut")
	assert.Contains(t, notices[0], "Anna")

	bookings, err := f.db.ListUserActiveBookings(ctx, clientID, time.Now())
	require.NoError(t, err)
	require.Len(t, bookings, 1)
	assert.Equal(t, f.day.Add(14*time.Hour), bookings[0].DateTime.UTC())

	free, err := f.db.ListFreeSlots(ctx, f.anna.ID, f.haircut.ID, time.Now())
	require.NoError(t, err)
	require.Len(t, free, 1)
	assert.Equal(t, 10, free[0].SlotTime.UTC().Hour())
}

func TestBot_ReplyOptionsBecomeKeyboard(t *testing.T) {
	f := newFixture(t, nil)

	f.send(clientID, "Haircut")

	f.tg.mu.Lock()
	last := f.tg.sent[len(f.tg.sent)-1].(tgbotapi.MessageConfig)
	f.tg.mu.Unlock()
	kb, ok := last.ReplyMarkup.(tgbotapi.ReplyKeyboardMarkup)
	require.True(t, ok)
	require.NotEmpty(t, kb.Keyboard)
	assert.Equal(t, "Anna", kb.Keyboard[0][0].Text)
	assert.True(t, kb.OneTimeKeyboard)
}

func TestBot_AddServiceTwiceKeepsOneRow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.send(adminID, "/add_service NewService 500")
	assert.Contains(t, f.tg.last(t, adminID), "успешно добавлена")

	f.send(adminID, "/add_service NewService 500")
	assert.Contains(t, f.tg.last(t, adminID), "уже существует")

	f.send(adminID, "/add_service newservice 700")
	assert.Contains(t, f.tg.last(t, adminID), "уже существует")

	services, err := f.db.ListServices(ctx)
	require.NoError(t, err)
	var matches []model.Service
	for _, s := range services {
		if strings.EqualFold(s.Title, "NewService") {
			matches = append(matches, s)
		}
	}
	require.Len(t, matches, 1)
	assert.Equal(t, "NewService", matches[0].Title)
	assert.InDelta(t, 500.0, matches[0].Price, 0.001)
}

func TestBot_AdminCommandsAreGuarded(t *testing.T) {
	f := newFixture(t, nil)

	f.send(clientID, "/add_service Massage 900")
	assert.Equal(t, msgForbidden, f.tg.last(t, clientID))

	f.send(clientID, "/bookings")
	assert.Equal(t, msgForbidden, f.tg.last(t, clientID))

	// Managers count as staff but not as admins.
	f.send(managerID, "/bookings")
	assert.Equal(t, "Нет активных записей.", f.tg.last(t, managerID))

	f.send(managerID, "/set_service_duration 1 30")
	assert.Equal(t, msgForbidden, f.tg.last(t, managerID))
}

func TestBot_AddSpecialistWithHours(t *testing.T) {
	f := newFixture(t, nil)

	f.send(adminID, "/add_specialist Мария Петрова 10:00-19:00")
	assert.Contains(t, f.tg.last(t, adminID), "Мария Петрова")

	specs, err := f.db.ListSpecialists(context.Background(), 0)
	require.NoError(t, err)
	var found *model.Specialist
	for i := range specs {
		if specs[i].Name == "Мария Петрова" {
			found = &specs[i]
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, "10:00-19:00", found.WorkHours())
}

func TestBot_ManagerSelfService(t *testing.T) {
	f := newFixture(t, nil)
	const chat = int64(555)

	f.send(chat, "/notifications new_booking off")
	assert.Equal(t, msgNotManager, f.tg.last(t, chat))

	f.send(chat, "/register_manager")
	assert.Contains(t, f.tg.last(t, chat), "зарегистрированы")

	f.send(chat, "/register_manager")
	assert.Contains(t, f.tg.last(t, chat), "уже зарегистрированы")

	f.send(chat, "/notifications new_booking off")
	assert.Contains(t, f.tg.last(t, chat), "выключены")

	m, err := f.db.GetManager(context.Background(), chat)
	require.NoError(t, err)
	assert.False(t, m.NotifyNewBooking)
	assert.True(t, m.NotifyCancellation)

	f.send(chat, "/stop_notifications")
	assert.Contains(t, f.tg.last(t, chat), "отключены")

	active, err := f.db.IsActiveManager(context.Background(), chat)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestBot_StaffCancelFreesSlotAndTellsClient(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	slots, err := f.db.ListFreeSlots(ctx, f.anna.ID, f.haircut.ID, time.Now())
	require.NoError(t, err)
	require.NoError(t, f.db.UpsertUser(ctx, clientID, "Client"))
	view, err := f.db.BookSlot(ctx, clientID, slots[0].ID)
	require.NoError(t, err)

	f.send(adminID, "/spec_cancel_booking "+itoa(view.ID))
	assert.Contains(t, f.tg.last(t, adminID), "отменена")
	assert.Contains(t, f.tg.last(t, clientID), "отменена салоном")
	assert.Contains(t, f.tg.last(t, managerID), "Haircut")

	f.send(adminID, "/spec_cancel_booking "+itoa(view.ID))
	assert.Contains(t, f.tg.last(t, adminID), "уже отменена")

	free, err := f.db.ListFreeSlots(ctx, f.anna.ID, f.haircut.ID, time.Now())
	require.NoError(t, err)
	assert.Len(t, free, 2)
}

func TestBot_AddFreetime(t *testing.T) {
	t.Run("ExactTime", func(t *testing.T) {
		f := newFixture(t, nil)
		at := f.day.Add(16 * time.Hour).Format(model.SlotLayout)

		f.send(adminID, "/add_freetime "+itoa(f.anna.ID)+" "+itoa(f.haircut.ID)+" "+at)
		assert.Contains(t, f.tg.last(t, adminID), "Добавлены свободные слоты: "+at)

		f.send(adminID, "/add_freetime "+itoa(f.anna.ID)+" "+itoa(f.haircut.ID)+" "+at)
		assert.Contains(t, f.tg.last(t, adminID), "Уже были опубликованы")
	})

	t.Run("FreeTextThroughParser", func(t *testing.T) {
		parser := &fakeFreeTime{}
		f := newFixture(t, parser)
		parser.times = []time.Time{f.day.Add(17 * time.Hour), f.day.Add(18 * time.Hour)}

		f.send(adminID, "/add_freetime "+itoa(f.anna.ID)+" "+itoa(f.haircut.ID)+" послезавтра вечером")
		assert.Contains(t, f.tg.last(t, adminID), f.day.Add(18*time.Hour).Format(model.SlotLayout))

		free, err := f.db.ListFreeSlots(context.Background(), f.anna.ID, f.haircut.ID, time.Now())
		require.NoError(t, err)
		assert.Len(t, free, 4)
	})

	t.Run("UnreadableDescription", func(t *testing.T) {
		f := newFixture(t, &fakeFreeTime{err: llm.ErrMalformedReply})

		f.send(adminID, "/add_freetime "+itoa(f.anna.ID)+" "+itoa(f.haircut.ID)+" когда-нибудь")
		assert.Contains(t, f.tg.last(t, adminID), "Не удалось распознать время")
	})

	t.Run("ParserFailureIsApology", func(t *testing.T) {
		f := newFixture(t, &fakeFreeTime{err: errors.New("connection reset")})

		f.send(adminID, "/add_freetime "+itoa(f.anna.ID)+" "+itoa(f.haircut.ID)+" завтра")
		assert.Equal(t, booking.MsgApology, f.tg.last(t, adminID))
	})
}

func TestBot_RemoveFreetime(t *testing.T) {
	f := newFixture(t, nil)
	at := f.day.Add(10 * time.Hour).Format(model.SlotLayout)

	f.send(adminID, "/remove_freetime "+itoa(f.anna.ID)+" "+itoa(f.haircut.ID)+" "+at)
	assert.Contains(t, f.tg.last(t, adminID), "Удалён свободный слот")

	f.send(adminID, "/remove_freetime "+itoa(f.anna.ID)+" "+itoa(f.haircut.ID)+" "+at)
	assert.Equal(t, "Такого свободного слота нет.", f.tg.last(t, adminID))
}

func TestBot_ExportSendsDocument(t *testing.T) {
	f := newFixture(t, nil)

	f.send(adminID, "/export_bookings")

	f.tg.mu.Lock()
	defer f.tg.mu.Unlock()
	doc, ok := f.tg.sent[len(f.tg.sent)-1].(tgbotapi.DocumentConfig)
	require.True(t, ok)
	assert.Equal(t, adminID, doc.ChatID)
	file, ok := doc.File.(tgbotapi.FileBytes)
	require.True(t, ok)
	assert.True(t, strings.HasSuffix(file.Name, ".xlsx"))
	assert.NotEmpty(t, file.Bytes)
}

func TestBot_UnknownCommand(t *testing.T) {
	f := newFixture(t, nil)

	f.send(clientID, "/dance")
	assert.Contains(t, f.tg.last(t, clientID), "Неизвестная команда")
}

func TestBot_SendTomorrowReminders(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	tomorrow := time.Now().UTC().AddDate(0, 0, 1).Truncate(24 * time.Hour).Add(15 * time.Hour)

	_, err := f.db.AddSlot(ctx, f.anna.ID, f.haircut.ID, tomorrow)
	require.NoError(t, err)
	slots, err := f.db.ListFreeSlots(ctx, f.anna.ID, f.haircut.ID, time.Now())
	require.NoError(t, err)
	require.NoError(t, f.db.UpsertUser(ctx, clientID, "Client"))
	_, err = f.db.BookSlot(ctx, clientID, slots[0].ID)
	require.NoError(t, err)

	assert.Equal(t, 1, f.bot.SendTomorrowReminders(ctx))
	assert.Contains(t, f.tg.last(t, clientID), "Напоминание")
	assert.Equal(t, 0, f.bot.SendTomorrowReminders(ctx))
}

func TestBot_SetupWebhookAndCommands(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.bot.SetupWebhook(context.Background(), "https://bot.example.com/123:abc", "s3cret"))
	require.Len(t, f.tg.made, 1)
	assert.Equal(t, "s3cret", f.tg.made[0]["secret_token"])
	assert.Equal(t, "https://bot.example.com/123:abc", f.tg.made[0]["url"])

	require.NoError(t, f.bot.SetupCommands())
	require.Len(t, f.tg.requests, 1)
	cfg, ok := f.tg.requests[0].(tgbotapi.SetMyCommandsConfig)
	require.True(t, ok)
	require.NotEmpty(t, cfg.Commands)
	assert.Equal(t, "start", cfg.Commands[0].Command)
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitMessage("short", 10))

	parts := splitMessage("aaaa\nbbbb\ncccc", 10)
	assert.Equal(t, []string{"aaaa\nbbbb", "cccc"}, parts)

	for _, p := range splitMessage(strings.Repeat("я", 25), 10) {
		assert.LessOrEqual(t, len([]rune(p)), 10)
	}
}

func TestParseWorkHours(t *testing.T) {
	start, end, ok := parseWorkHours("9:00-18:30")
	require.True(t, ok)
	assert.Equal(t, "09:00", start)
	assert.Equal(t, "18:30", end)

	_, _, ok = parseWorkHours("18:00-09:00")
	assert.False(t, ok)
	_, _, ok = parseWorkHours("Петрова")
	assert.False(t, ok)
}

func TestUntilNextHour(t *testing.T) {
	now := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)
	assert.Equal(t, 30*time.Minute, untilNextHour(now, 9))
	assert.Equal(t, 23*time.Hour+30*time.Minute, untilNextHour(now.Add(time.Hour), 9))
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
