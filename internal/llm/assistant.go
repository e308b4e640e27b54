package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"beautybot/internal/metrics"
	"beautybot/internal/model"

	"github.com/rs/zerolog"
)

// HistoryStore persists conversation turns per user.
type HistoryStore interface {
	AppendMessage(ctx context.Context, userID int64, role, content string, keep int) error
	RecentMessages(ctx context.Context, userID int64, limit int) ([]model.ConversationMessage, error)
}

// Intent is a coarse classification of free-form text.
type Intent string

const (
	IntentBooking            Intent = "BOOKING_INTENT"
	IntentSpecialistQuestion Intent = "SPECIALIST_QUESTION"
	IntentPriceQuestion      Intent = "PRICE_QUESTION"
	IntentCancel             Intent = "CANCEL_INTENT"
	IntentUnknown            Intent = "UNKNOWN"
)

type IntentResult struct {
	Intent     Intent
	Confidence float64
	Service    string
	Specialist string
}

// DialogueContext describes where the user is in the booking dialogue.
type DialogueContext struct {
	UserID     int64
	Step       string
	Service    string
	Specialist string
	Time       string
	Options    []string
}

func (c DialogueContext) render() string {
	var b strings.Builder
	step := c.Step
	if step == "" {
		step = "нет активной записи"
	}
	fmt.Fprintf(&b, "Текущий шаг: %s\n", step)
	if c.Service != "" {
		fmt.Fprintf(&b, "Выбранная услуга: %s\n", c.Service)
	}
	if c.Specialist != "" {
		fmt.Fprintf(&b, "Выбранный специалист: %s\n", c.Specialist)
	}
	if c.Time != "" {
		fmt.Fprintf(&b, "Выбранное время: %s\n", c.Time)
	}
	if len(c.Options) > 0 {
		fmt.Fprintf(&b, "Доступные варианты: %s\n", strings.Join(c.Options, "; "))
	}
	return strings.TrimRight(b.String(), "\n")
}

type AssistantConfig struct {
	// HistoryMessages is how many past turns are sent with each request.
	HistoryMessages int
	// HistoryLimit is how many turns are kept per user.
	HistoryLimit int
	Location     *time.Location
}

// Assistant builds prompts, calls the model and validates its replies.
type Assistant struct {
	completer Completer
	history   HistoryStore
	cfg       AssistantConfig
	logger    zerolog.Logger
}

func NewAssistant(completer Completer, history HistoryStore, cfg AssistantConfig, logger *zerolog.Logger) *Assistant {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Assistant{
		completer: completer,
		history:   history,
		cfg:       cfg,
		logger:    logger.With().Str("component", "llm").Logger(),
	}
}

func (a *Assistant) log(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &a.logger
}

// Interpret asks the model what the user wants given the dialogue context.
// Replies that are not valid JSON or name an unknown action are rejected with
// ErrMalformedReply or ErrUnknownAction.
func (a *Assistant) Interpret(ctx context.Context, dc DialogueContext, text string) (*Interpretation, error) {
	messages := []Message{{Role: RoleSystem, Content: interpretPrompt}}
	messages = append(messages, a.recent(ctx, dc.UserID)...)
	messages = append(messages, Message{
		Role:    RoleUser,
		Content: fmt.Sprintf("Контекст:\n%s\nСообщение пользователя: %s", dc.render(), text),
	})

	raw, err := a.complete(ctx, "interpret", messages)
	if err != nil {
		metrics.IncLLMRequest("interpret", "error")
		return nil, fmt.Errorf("interpret: %w", err)
	}

	interp, err := ParseInterpretation(raw)
	if err != nil {
		metrics.IncLLMRequest("interpret", "rejected")
		a.log(ctx).Warn().Err(err).Str("raw", raw).Msg("llm reply rejected")
		return nil, err
	}
	metrics.IncLLMRequest("interpret", "ok")

	a.remember(ctx, dc.UserID, text, interp.Response)
	return interp, nil
}

// DetermineIntent classifies text. Unparseable replies map to IntentUnknown.
func (a *Assistant) DetermineIntent(ctx context.Context, text string) (*IntentResult, error) {
	raw, err := a.complete(ctx, "intent", []Message{
		{Role: RoleSystem, Content: intentPrompt},
		{Role: RoleUser, Content: text},
	})
	if err != nil {
		metrics.IncLLMRequest("intent", "error")
		return nil, fmt.Errorf("determine intent: %w", err)
	}

	var r struct {
		Intent        string  `json:"intent"`
		Confidence    float64 `json:"confidence"`
		ExtractedInfo struct {
			Service    string `json:"service"`
			Specialist string `json:"specialist"`
		} `json:"extracted_info"`
	}
	if err := decodeJSON(raw, &r); err != nil {
		metrics.IncLLMRequest("intent", "rejected")
		a.log(ctx).Warn().Err(err).Str("raw", raw).Msg("intent reply rejected")
		return &IntentResult{Intent: IntentUnknown}, nil
	}
	metrics.IncLLMRequest("intent", "ok")

	res := &IntentResult{
		Intent:     IntentUnknown,
		Confidence: r.Confidence,
		Service:    strings.TrimSpace(r.ExtractedInfo.Service),
		Specialist: strings.TrimSpace(r.ExtractedInfo.Specialist),
	}
	switch i := Intent(strings.ToUpper(strings.TrimSpace(r.Intent))); i {
	case IntentBooking, IntentSpecialistQuestion, IntentPriceQuestion, IntentCancel:
		res.Intent = i
	}
	return res, nil
}

// ResolveName picks the candidate the user most likely meant. It returns "" when
// the model finds no match or answers with something outside the list.
func (a *Assistant) ResolveName(ctx context.Context, input string, candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", nil
	}

	var list strings.Builder
	for _, c := range candidates {
		list.WriteString("- " + c + "\n")
	}
	raw, err := a.complete(ctx, "resolve", []Message{
		{Role: RoleSystem, Content: resolveNamePrompt},
		{Role: RoleUser, Content: fmt.Sprintf("Список:\n%sВвод клиента: %s", list.String(), input)},
	})
	if err != nil {
		metrics.IncLLMRequest("resolve", "error")
		return "", fmt.Errorf("resolve name: %w", err)
	}

	var r struct {
		Match string `json:"match"`
	}
	if err := decodeJSON(raw, &r); err != nil {
		metrics.IncLLMRequest("resolve", "rejected")
		a.log(ctx).Warn().Err(err).Str("raw", raw).Msg("resolve reply rejected")
		return "", err
	}
	metrics.IncLLMRequest("resolve", "ok")

	match := strings.TrimSpace(r.Match)
	for _, c := range candidates {
		if match != "" && strings.EqualFold(c, match) {
			return c, nil
		}
	}
	return "", nil
}

// ResolveFreeTime turns a description such as "завтра с 10 до 12" into slot instants
// after now. Entries the model formats incorrectly are dropped.
func (a *Assistant) ResolveFreeTime(ctx context.Context, text string, length time.Duration, now time.Time) ([]time.Time, error) {
	local := now.In(a.cfg.Location)
	raw, err := a.complete(ctx, "free_time", []Message{
		{Role: RoleSystem, Content: freeTimePrompt},
		{Role: RoleUser, Content: fmt.Sprintf("Сейчас: %s, %s\nДлительность услуги: %d мин\nОписание: %s",
			local.Format(model.SlotLayout), local.Weekday(), int(length.Minutes()), text)},
	})
	if err != nil {
		metrics.IncLLMRequest("free_time", "error")
		return nil, fmt.Errorf("resolve free time: %w", err)
	}

	var r struct {
		Slots []string `json:"slots"`
	}
	if err := decodeJSON(raw, &r); err != nil {
		metrics.IncLLMRequest("free_time", "rejected")
		a.log(ctx).Warn().Err(err).Str("raw", raw).Msg("free time reply rejected")
		return nil, err
	}

	var out []time.Time
	for _, s := range r.Slots {
		t, err := time.ParseInLocation(model.SlotLayout, strings.TrimSpace(s), a.cfg.Location)
		if err != nil || !t.After(now) {
			continue
		}
		out = append(out, t)
	}
	if len(out) == 0 {
		metrics.IncLLMRequest("free_time", "rejected")
		return nil, fmt.Errorf("%w: no usable slots", ErrMalformedReply)
	}
	metrics.IncLLMRequest("free_time", "ok")
	return out, nil
}

func (a *Assistant) complete(ctx context.Context, kind string, messages []Message) (string, error) {
	start := time.Now()
	defer func() { metrics.ObserveLLMDuration(kind, time.Since(start)) }()
	return a.completer.Complete(ctx, messages)
}

func (a *Assistant) recent(ctx context.Context, userID int64) []Message {
	if a.history == nil || userID == 0 || a.cfg.HistoryMessages <= 0 {
		return nil
	}
	turns, err := a.history.RecentMessages(ctx, userID, a.cfg.HistoryMessages)
	if err != nil {
		a.log(ctx).Warn().Err(err).Msg("load conversation history")
		return nil
	}
	out := make([]Message, 0, len(turns))
	for _, t := range turns {
		out = append(out, Message{Role: t.Role, Content: t.Content})
	}
	return out
}

func (a *Assistant) remember(ctx context.Context, userID int64, userText, reply string) {
	if a.history == nil || userID == 0 {
		return
	}
	err := a.history.AppendMessage(ctx, userID, RoleUser, userText, a.cfg.HistoryLimit)
	if err == nil && reply != "" {
		err = a.history.AppendMessage(ctx, userID, RoleAssistant, reply, a.cfg.HistoryLimit)
	}
	if err != nil {
		a.log(ctx).Warn().Err(err).Msg("store conversation history")
	}
}

// IsReplyError reports whether err came from a reply the bot could not use,
// as opposed to a transport failure.
func IsReplyError(err error) bool {
	return errors.Is(err, ErrMalformedReply) || errors.Is(err, ErrUnknownAction)
}
