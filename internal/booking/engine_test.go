package booking

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"beautybot/internal/db"
	"beautybot/internal/llm"
	"beautybot/internal/model"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type sentNotice struct {
	kind model.NotificationType
	text string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotice
}

func (n *recordingNotifier) Notify(_ context.Context, kind model.NotificationType, text string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotice{kind: kind, text: text})
	return 1
}

func (n *recordingNotifier) notices() []sentNotice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentNotice(nil), n.sent...)
}

type mockAssistant struct {
	mock.Mock
}

func (m *mockAssistant) Interpret(ctx context.Context, dc llm.DialogueContext, text string) (*llm.Interpretation, error) {
	args := m.Called(ctx, dc, text)
	in, _ := args.Get(0).(*llm.Interpretation)
	return in, args.Error(1)
}

func (m *mockAssistant) DetermineIntent(ctx context.Context, text string) (*llm.IntentResult, error) {
	args := m.Called(ctx, text)
	res, _ := args.Get(0).(*llm.IntentResult)
	return res, args.Error(1)
}

type salon struct {
	db       *db.DB
	haircut  *model.Service
	manicure *model.Service
	anna     *model.Specialist
	olga     *model.Specialist
	day      time.Time
}

// newSalon seeds Haircut (Anna at 10:00 and 14:00, Olga without slots) and
// Manicure (Olga at 12:00), all on one day two days ahead.
func newSalon(t *testing.T) *salon {
	t.Helper()
	ctx := context.Background()
	logger := zerolog.Nop()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "salon.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	s := &salon{db: database, day: time.Now().UTC().AddDate(0, 0, 2).Truncate(24 * time.Hour)}

	s.haircut, _, err = database.CreateService(ctx, "Haircut", 1500)
	require.NoError(t, err)
	s.manicure, _, err = database.CreateService(ctx, "Manicure", 1200)
	require.NoError(t, err)
	s.anna, _, err = database.CreateSpecialist(ctx, model.Specialist{Name: "Anna"})
	require.NoError(t, err)
	s.olga, _, err = database.CreateSpecialist(ctx, model.Specialist{Name: "Olga"})
	require.NoError(t, err)

	for _, link := range [][2]int64{{s.anna.ID, s.haircut.ID}, {s.olga.ID, s.haircut.ID}, {s.olga.ID, s.manicure.ID}} {
		_, err = database.LinkSpecialistService(ctx, link[0], link[1])
		require.NoError(t, err)
	}
	for _, slot := range []struct {
		spec, serv int64
		hour       int
	}{{s.anna.ID, s.haircut.ID, 10}, {s.anna.ID, s.haircut.ID, 14}, {s.olga.ID, s.manicure.ID, 12}} {
		_, err = database.AddSlot(ctx, slot.spec, slot.serv, s.day.Add(time.Duration(slot.hour)*time.Hour))
		require.NoError(t, err)
	}
	for _, id := range []int64{101, 102} {
		require.NoError(t, database.UpsertUser(ctx, id, "Client"))
	}
	return s
}

func (s *salon) engine(assistant Assistant, notifier Notifier) *Engine {
	cfg := Config{Store: s.db, Notifier: notifier, Location: time.UTC}
	if assistant != nil {
		cfg.Assistant = assistant
	}
	return NewEngine(cfg)
}

func (s *salon) step(t *testing.T, userID int64) string {
	t.Helper()
	st, err := s.db.GetDialogueState(context.Background(), userID)
	require.NoError(t, err)
	if st == nil {
		return ""
	}
	return st.Step
}

func TestEngine_HaircutScenario(t *testing.T) {
	s := newSalon(t)
	notifier := &recordingNotifier{}
	e := s.engine(nil, notifier)
	ctx := context.Background()

	reply, err := e.Handle(ctx, 101, "Haircut")
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Anna")
	assert.Contains(t, reply.Text, "Olga")
	assert.Equal(t, []string{"Anna", "Olga"}, reply.Options)
	assert.Equal(t, string(StateSelectSpecialist), s.step(t, 101))

	reply, err = e.Handle(ctx, 101, "anna")
	require.NoError(t, err)
	assert.Contains(t, reply.Text, s.day.Add(14*time.Hour).Format(model.SlotLayout))
	assert.Equal(t, string(StateSelectTime), s.step(t, 101))

	reply, err = e.Handle(ctx, 101, "14:00")
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Подтвердите запись")
	assert.Equal(t, string(StateConfirm), s.step(t, 101))

	reply, err = e.Handle(ctx, 101, "да")
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "успешно")
	assert.Empty(t, s.step(t, 101))

	free, err := s.db.ListFreeSlots(ctx, s.anna.ID, s.haircut.ID, time.Now())
	require.NoError(t, err)
	require.Len(t, free, 1)
	assert.Equal(t, 10, free[0].SlotTime.UTC().Hour())

	bookings, err := s.db.ListUserActiveBookings(ctx, 101, time.Now())
	require.NoError(t, err)
	require.Len(t, bookings, 1)
	assert.Equal(t, "Haircut", bookings[0].ServiceTitle)

	notices := notifier.notices()
	require.Len(t, notices, 1)
	assert.Equal(t, model.NotifyNewBooking, notices[0].kind)
	assert.Contains(t, notices[0].text, "Anna")
}

func TestEngine_UnrecognisedInputRepromptsIdempotently(t *testing.T) {
	s := newSalon(t)
	e := s.engine(nil, nil)
	ctx := context.Background()

	_, err := e.Handle(ctx, 101, "хочу записаться")
	require.NoError(t, err)
	require.Equal(t, string(StateSelectService), s.step(t, 101))

	first, err := e.Handle(ctx, 101, "массаж пяток")
	require.NoError(t, err)
	second, err := e.Handle(ctx, 101, "массаж пяток")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, []string{"Haircut", "Manicure"}, first.Options)
	assert.Equal(t, string(StateSelectService), s.step(t, 101))
}

func TestEngine_ConfirmNeedsYesOrNo(t *testing.T) {
	s := newSalon(t)
	e := s.engine(nil, nil)
	ctx := context.Background()

	for _, msg := range []string{"Manicure", "Olga", "12:00"} {
		_, err := e.Handle(ctx, 101, msg)
		require.NoError(t, err)
	}
	require.Equal(t, string(StateConfirm), s.step(t, 101))

	reply, err := e.Handle(ctx, 101, "наверное")
	require.NoError(t, err)
	assert.Equal(t, msgAskYesNo, reply.Text)
	assert.Equal(t, string(StateConfirm), s.step(t, 101))

	reply, err = e.Handle(ctx, 101, "Нет.")
	require.NoError(t, err)
	assert.Equal(t, msgDialogueCancelled, reply.Text)
	assert.Empty(t, s.step(t, 101))
}

func TestEngine_SlotTakenMeanwhile(t *testing.T) {
	s := newSalon(t)
	e := s.engine(nil, nil)
	ctx := context.Background()

	for _, user := range []int64{101, 102} {
		for _, msg := range []string{"Manicure", "Olga", "12:00"} {
			_, err := e.Handle(ctx, user, msg)
			require.NoError(t, err)
		}
	}

	_, err := e.Handle(ctx, 101, "да")
	require.NoError(t, err)

	reply, err := e.Handle(ctx, 102, "да")
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "занято")
	assert.Equal(t, string(StateSelectSpecialist), s.step(t, 102))

	bookings, err := s.db.ListUserActiveBookings(ctx, 102, time.Now())
	require.NoError(t, err)
	assert.Empty(t, bookings)
}

func TestEngine_NoSlotsSuggestsColleague(t *testing.T) {
	s := newSalon(t)
	e := s.engine(nil, nil)
	ctx := context.Background()

	_, err := e.Handle(ctx, 101, "Haircut")
	require.NoError(t, err)

	reply, err := e.Handle(ctx, 101, "Olga")
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "нет свободного времени")
	assert.Contains(t, reply.Text, "Свободное время есть у специалиста Anna")
	assert.Equal(t, string(StateSelectSpecialist), s.step(t, 101))
}

func TestEngine_ExistingBookingAsksBeforeAnother(t *testing.T) {
	s := newSalon(t)
	notifier := &recordingNotifier{}
	e := s.engine(nil, notifier)
	ctx := context.Background()

	for _, msg := range []string{"Haircut", "Anna", "10:00", "да"} {
		_, err := e.Handle(ctx, 101, msg)
		require.NoError(t, err)
	}

	reply, err := e.Handle(ctx, 101, "записаться")
	require.NoError(t, err)
	assert.Contains(t, reply.Text, StatePrompts[StateConfirmAdditional])
	assert.Equal(t, string(StateConfirmAdditional), s.step(t, 101))

	reply, err = e.Handle(ctx, 101, "да")
	require.NoError(t, err)
	assert.Equal(t, string(StateSelectService), s.step(t, 101))
	assert.Equal(t, []string{"Haircut", "Manicure"}, reply.Options)

	reply, err = e.Handle(ctx, 101, "стоп")
	require.NoError(t, err)
	assert.Equal(t, msgDialogueCancelled, reply.Text)
	assert.Empty(t, s.step(t, 101))
}

func TestEngine_CancelNearestBooking(t *testing.T) {
	s := newSalon(t)
	notifier := &recordingNotifier{}
	e := s.engine(nil, notifier)
	ctx := context.Background()

	for _, msg := range []string{"Haircut", "Anna", "14:00", "да"} {
		_, err := e.Handle(ctx, 101, msg)
		require.NoError(t, err)
	}

	reply, err := e.Handle(ctx, 101, "Хочу отменить запись")
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "отменена")

	free, err := s.db.ListFreeSlots(ctx, s.anna.ID, s.haircut.ID, time.Now())
	require.NoError(t, err)
	assert.Len(t, free, 2)

	notices := notifier.notices()
	require.Len(t, notices, 2)
	assert.Equal(t, model.NotifyCancellation, notices[1].kind)

	reply, err = e.Handle(ctx, 101, "отменить запись")
	require.NoError(t, err)
	assert.Equal(t, msgNoBookings, reply.Text)
}

func TestEngine_IdleCancelWordKeepsBooking(t *testing.T) {
	s := newSalon(t)
	notifier := &recordingNotifier{}
	e := s.engine(nil, notifier)
	ctx := context.Background()

	for _, msg := range []string{"Haircut", "Anna", "14:00", "да"} {
		_, err := e.Handle(ctx, 101, msg)
		require.NoError(t, err)
	}

	for _, word := range []string{"отмена", "Отмена!", "cancel", "стоп"} {
		reply, err := e.Handle(ctx, 101, word)
		require.NoError(t, err)
		assert.Equal(t, msgDialogueCancelled, reply.Text, word)
	}

	active, err := s.db.ListUserActiveBookings(ctx, 101, time.Now())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, s.day.Add(14*time.Hour), active[0].DateTime.UTC())
	assert.Len(t, notifier.notices(), 1)
}

func TestEngine_AssistantDispatch(t *testing.T) {
	s := newSalon(t)
	assistant := new(mockAssistant)
	e := s.engine(assistant, nil)
	ctx := context.Background()

	_, err := e.Handle(ctx, 101, "Haircut")
	require.NoError(t, err)

	assistant.On("Interpret", mock.Anything, mock.MatchedBy(func(dc llm.DialogueContext) bool {
		return dc.Step == string(StateSelectSpecialist) && dc.Service == "Haircut"
	}), "к той что с короткой стрижкой").Return(&llm.Interpretation{
		Action:    llm.ActionSelectSpecialist,
		Extracted: llm.Extracted{Specialist: "Anna"},
	}, nil).Once()

	reply, err := e.Handle(ctx, 101, "к той что с короткой стрижкой")
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Свободное время у специалиста Anna")
	assert.Equal(t, string(StateSelectTime), s.step(t, 101))

	assistant.On("Interpret", mock.Anything, mock.Anything, "???").
		Return(nil, llm.ErrMalformedReply).Once()

	reply, err = e.Handle(ctx, 101, "???")
	require.NoError(t, err)
	assert.Equal(t, MsgRetry, reply.Text)
	assert.Equal(t, string(StateSelectTime), s.step(t, 101))

	assistant.AssertExpectations(t)
}

func TestEngine_IntentOutsideDialogue(t *testing.T) {
	s := newSalon(t)
	assistant := new(mockAssistant)
	e := s.engine(assistant, nil)
	ctx := context.Background()

	assistant.On("DetermineIntent", mock.Anything, "сколько стоит стрижка").
		Return(&llm.IntentResult{Intent: llm.IntentPriceQuestion}, nil).Once()
	reply, err := e.Handle(ctx, 101, "сколько стоит стрижка")
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Haircut — 1500 ₽")

	assistant.On("DetermineIntent", mock.Anything, "хочу на маникюр").
		Return(&llm.IntentResult{Intent: llm.IntentBooking, Service: "manicure"}, nil).Once()
	reply, err = e.Handle(ctx, 101, "хочу на маникюр")
	require.NoError(t, err)
	assert.Equal(t, []string{"Olga"}, reply.Options)
	assert.Equal(t, string(StateSelectSpecialist), s.step(t, 101))

	assistant.AssertExpectations(t)
}
