package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"beautybot/internal/metrics"
	"beautybot/internal/model"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeCompleter struct {
	reply string
	err   error
	calls [][]Message
}

func (f *fakeCompleter) Complete(_ context.Context, messages []Message) (string, error) {
	f.calls = append(f.calls, messages)
	return f.reply, f.err
}

func (f *fakeCompleter) last() []Message {
	return f.calls[len(f.calls)-1]
}

type mockHistory struct {
	mock.Mock
}

func (m *mockHistory) AppendMessage(ctx context.Context, userID int64, role, content string, keep int) error {
	return m.Called(ctx, userID, role, content, keep).Error(0)
}

func (m *mockHistory) RecentMessages(ctx context.Context, userID int64, limit int) ([]model.ConversationMessage, error) {
	args := m.Called(ctx, userID, limit)
	msgs, _ := args.Get(0).([]model.ConversationMessage)
	return msgs, args.Error(1)
}

func newTestAssistant(c Completer, h HistoryStore) *Assistant {
	logger := zerolog.Nop()
	return NewAssistant(c, h, AssistantConfig{HistoryMessages: 4, HistoryLimit: 10, Location: time.UTC}, &logger)
}

func TestAssistant_Interpret(t *testing.T) {
	completer := &fakeCompleter{reply: `{"action":"SELECT_SERVICE","response":"Хорошо","extracted_data":{"service":"Haircut"}}`}
	history := new(mockHistory)
	history.On("RecentMessages", mock.Anything, int64(7), 4).Return([]model.ConversationMessage{
		{Role: RoleUser, Content: "привет"},
		{Role: RoleAssistant, Content: "Здравствуйте!"},
	}, nil)
	history.On("AppendMessage", mock.Anything, int64(7), RoleUser, "хочу подстричься", 10).Return(nil)
	history.On("AppendMessage", mock.Anything, int64(7), RoleAssistant, "Хорошо", 10).Return(nil)

	a := newTestAssistant(completer, history)
	in, err := a.Interpret(context.Background(), DialogueContext{
		UserID:  7,
		Step:    "select_service",
		Options: []string{"Haircut", "Manicure"},
	}, "хочу подстричься")
	require.NoError(t, err)
	assert.Equal(t, ActionSelectService, in.Action)
	assert.Equal(t, "Haircut", in.Extracted.Service)

	sent := completer.last()
	require.Len(t, sent, 4)
	assert.Equal(t, RoleSystem, sent[0].Role)
	assert.Equal(t, "привет", sent[1].Content)
	assert.Equal(t, RoleUser, sent[3].Role)
	assert.True(t, strings.HasPrefix(sent[3].Content, "Контекст:\nТекущий шаг: select_service"))
	assert.Contains(t, sent[3].Content, "Доступные варианты: Haircut; Manicure")
	assert.True(t, strings.HasSuffix(sent[3].Content, "Сообщение пользователя: хочу подстричься"))

	history.AssertExpectations(t)
}

func TestAssistant_InterpretRejectsBadReply(t *testing.T) {
	history := new(mockHistory)
	history.On("RecentMessages", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

	a := newTestAssistant(&fakeCompleter{reply: "Конечно! Давайте запишемся."}, history)
	_, err := a.Interpret(context.Background(), DialogueContext{UserID: 7}, "hi")
	assert.ErrorIs(t, err, ErrMalformedReply)
	assert.True(t, IsReplyError(err))

	a = newTestAssistant(&fakeCompleter{reply: `{"action":"FLY"}`}, history)
	_, err = a.Interpret(context.Background(), DialogueContext{UserID: 7}, "hi")
	assert.ErrorIs(t, err, ErrUnknownAction)

	history.AssertNotCalled(t, "AppendMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAssistant_InterpretTransportError(t *testing.T) {
	boom := errors.New("connection reset")
	a := newTestAssistant(&fakeCompleter{err: boom}, nil)
	_, err := a.Interpret(context.Background(), DialogueContext{}, "hi")
	assert.ErrorIs(t, err, boom)
	assert.False(t, IsReplyError(err))
}

func TestAssistant_DetermineIntent(t *testing.T) {
	tests := []struct {
		reply string
		want  Intent
	}{
		{`{"intent":"BOOKING_INTENT","confidence":0.9,"extracted_info":{"service":"Маникюр"}}`, IntentBooking},
		{`{"intent":"price_question","confidence":0.8}`, IntentPriceQuestion},
		{`{"intent":"SMALL_TALK","confidence":0.3}`, IntentUnknown},
		{`not json at all`, IntentUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.reply, func(t *testing.T) {
			a := newTestAssistant(&fakeCompleter{reply: tt.reply}, nil)
			res, err := a.DetermineIntent(context.Background(), "text")
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Intent)
		})
	}

	a := newTestAssistant(&fakeCompleter{reply: `{"intent":"BOOKING_INTENT","confidence":0.9,"extracted_info":{"service":"Маникюр"}}`}, nil)
	res, err := a.DetermineIntent(context.Background(), "на маникюр")
	require.NoError(t, err)
	assert.Equal(t, "Маникюр", res.Service)
	assert.InDelta(t, 0.9, res.Confidence, 1e-9)
}

func TestAssistant_ResolveName(t *testing.T) {
	candidates := []string{"Анна", "Ольга"}

	a := newTestAssistant(&fakeCompleter{reply: `{"match":"ольга"}`}, nil)
	got, err := a.ResolveName(context.Background(), "Олга", candidates)
	require.NoError(t, err)
	assert.Equal(t, "Ольга", got)

	a = newTestAssistant(&fakeCompleter{reply: `{"match":"Мария"}`}, nil)
	got, err = a.ResolveName(context.Background(), "Маша", candidates)
	require.NoError(t, err)
	assert.Empty(t, got)

	completer := &fakeCompleter{}
	a = newTestAssistant(completer, nil)
	got, err = a.ResolveName(context.Background(), "кто угодно", nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, completer.calls)
}

func TestAssistant_ResolveFreeTime(t *testing.T) {
	now := time.Date(2030, 5, 1, 9, 0, 0, 0, time.UTC)
	completer := &fakeCompleter{reply: `{"slots":["2030-05-02 10:00","2030-05-02 11:00","вчера","2030-04-30 10:00"]}`}
	a := newTestAssistant(completer, nil)

	got, err := a.ResolveFreeTime(context.Background(), "завтра с 10 до 12", time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		time.Date(2030, 5, 2, 10, 0, 0, 0, time.UTC),
		time.Date(2030, 5, 2, 11, 0, 0, 0, time.UTC),
	}, got)
	assert.Contains(t, completer.last()[1].Content, "Сейчас: 2030-05-01 09:00, Wednesday")
	assert.Contains(t, completer.last()[1].Content, "Длительность услуги: 60 мин")

	a = newTestAssistant(&fakeCompleter{reply: `{"slots":[]}`}, nil)
	_, err = a.ResolveFreeTime(context.Background(), "никогда", time.Hour, now)
	assert.ErrorIs(t, err, ErrMalformedReply)
}

func llmSamples(t *testing.T, kind string) uint64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	var n uint64
	for _, f := range families {
		if f.GetName() != "beautybot_llm_request_duration_seconds" {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "kind" && l.GetValue() == kind {
					n += m.GetHistogram().GetSampleCount()
				}
			}
		}
	}
	return n
}

func TestAssistant_ObservesLatency(t *testing.T) {
	metrics.Register()

	before := llmSamples(t, "resolve")
	a := newTestAssistant(&fakeCompleter{reply: `{"match":"Anna"}`}, nil)
	_, err := a.ResolveName(context.Background(), "аня", []string{"Anna", "Olga"})
	require.NoError(t, err)
	assert.Equal(t, before+1, llmSamples(t, "resolve"))

	a = newTestAssistant(&fakeCompleter{err: errors.New("timeout")}, nil)
	_, err = a.ResolveName(context.Background(), "аня", []string{"Anna"})
	require.Error(t, err)
	assert.Equal(t, before+2, llmSamples(t, "resolve"))

	var seen *dto.MetricFamily
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == "beautybot_llm_request_duration_seconds" {
			seen = f
		}
	}
	require.NotNil(t, seen)
	assert.Equal(t, dto.MetricType_HISTOGRAM, seen.GetType())
}
