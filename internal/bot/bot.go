// Package bot turns Telegram updates into booking dialogue turns and staff commands.
package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"beautybot/internal/booking"
	"beautybot/internal/cache"
	"beautybot/internal/db"
	"beautybot/internal/metrics"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// maxMessageRunes is Telegram's limit for one text message.
const maxMessageRunes = 4096

const (
	msgThrottled = "Слишком много сообщений. Подождите минуту и попробуйте снова."
	msgForbidden = "У вас нет прав для выполнения этой команды."
)

type telegramClient interface {
	Send(tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
}

type realTelegramClient struct {
	api *tgbotapi.BotAPI
}

func (c *realTelegramClient) Send(msg tgbotapi.Chattable) (tgbotapi.Message, error) {
	return c.api.Send(msg)
}

func (c *realTelegramClient) Request(msg tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return c.api.Request(msg)
}

func (c *realTelegramClient) MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error) {
	return c.api.MakeRequest(endpoint, params)
}

// FreeTimeParser reads slot instants out of a staff member's free-text description.
type FreeTimeParser interface {
	ResolveFreeTime(ctx context.Context, text string, length time.Duration, now time.Time) ([]time.Time, error)
}

// Reminder delivers one direct message, pacing and retrying as needed.
type Reminder interface {
	Send(ctx context.Context, chatID int64, text string) error
}

type Deps struct {
	DB     *db.DB
	Engine *booking.Engine
	// FreeTime, Reminder and Guard are optional.
	FreeTime FreeTimeParser
	Reminder Reminder
	Guard    *cache.Guard
	Admins   []int64
	Logger   *zerolog.Logger
	Now      func() time.Time
}

// Bot handles Telegram updates. It keeps no per-user state of its own.
type Bot struct {
	tg       telegramClient
	db       *db.DB
	engine   *booking.Engine
	freeTime FreeTimeParser
	reminder Reminder
	guard    *cache.Guard
	admins   map[int64]struct{}
	commands map[string]command
	loc      *time.Location
	now      func() time.Time
	logger   *zerolog.Logger
}

func New(api *tgbotapi.BotAPI, deps Deps) (*Bot, error) {
	if api == nil {
		return nil, fmt.Errorf("telegram api is nil")
	}
	return newBot(&realTelegramClient{api: api}, deps)
}

// NewWithTelegramClient allows injecting a mocked Telegram client for tests.
func NewWithTelegramClient(tg telegramClient, deps Deps) (*Bot, error) {
	return newBot(tg, deps)
}

func newBot(tg telegramClient, deps Deps) (*Bot, error) {
	if tg == nil {
		return nil, fmt.Errorf("telegram client is nil")
	}
	if deps.DB == nil || deps.Engine == nil {
		return nil, fmt.Errorf("database and engine are required")
	}
	if deps.Logger == nil {
		l := zerolog.Nop()
		deps.Logger = &l
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	admins := make(map[int64]struct{}, len(deps.Admins))
	for _, id := range deps.Admins {
		admins[id] = struct{}{}
	}
	b := &Bot{
		tg:       tg,
		db:       deps.DB,
		engine:   deps.Engine,
		freeTime: deps.FreeTime,
		reminder: deps.Reminder,
		guard:    deps.Guard,
		admins:   admins,
		loc:      deps.Engine.Location(),
		now:      deps.Now,
		logger:   deps.Logger,
	}
	b.commands = b.commandTable()
	return b, nil
}

// HandleUpdate processes one webhook update. Failures are logged and answered
// in the chat; nothing is returned to the transport.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	requestID := uuid.New().String()
	l := b.logger.With().Str("request_id", requestID).Int("update_id", update.UpdateID).Logger()
	ctx = l.WithContext(ctx)

	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		metrics.IncUpdate("ignored")
		return
	}
	l = l.With().Int64("user_id", msg.From.ID).Logger()
	ctx = l.WithContext(ctx)

	seen, err := b.guard.SeenUpdate(ctx, update.UpdateID)
	if err != nil {
		l.Warn().Err(err).Msg("update dedup unavailable")
	}
	if seen {
		metrics.IncUpdate("duplicate")
		l.Debug().Msg("Skipping redelivered update")
		return
	}

	allowed, err := b.guard.Allow(ctx, msg.From.ID)
	if err != nil {
		l.Warn().Err(err).Msg("rate limit unavailable")
	}
	if !allowed {
		metrics.IncUpdate("throttled")
		b.reply(ctx, msg.Chat.ID, msgThrottled)
		return
	}

	if err := b.db.UpsertUser(ctx, msg.From.ID, displayName(msg.From)); err != nil {
		l.Error().Err(err).Msg("upsert user")
	}

	if msg.IsCommand() {
		metrics.IncUpdate("command")
		l.Debug().Str("command", msg.Command()).Msg("Handling command")
		b.handleCommand(ctx, msg)
		return
	}

	metrics.IncUpdate("text")
	l.Debug().Str("text", msg.Text).Msg("Handling message")
	b.handleText(ctx, msg)
}

func (b *Bot) handleText(ctx context.Context, msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	reply, err := b.engine.Handle(ctx, msg.From.ID, text)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("dialogue turn failed")
		b.reply(ctx, msg.Chat.ID, booking.MsgApology)
		return
	}
	b.sendReply(ctx, msg.Chat.ID, reply)
}

// sendReply offers the reply options as a one-time keyboard, or removes the
// previous keyboard when there are none.
func (b *Bot) sendReply(ctx context.Context, chatID int64, reply booking.Reply) {
	if reply.Text == "" {
		return
	}
	out := tgbotapi.NewMessage(chatID, reply.Text)
	if len(reply.Options) > 0 {
		out.ReplyMarkup = optionsKeyboard(reply.Options)
	} else {
		out.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)
	}
	if _, err := b.tg.Send(out); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Int64("chat_id", chatID).Msg("send reply")
	}
}

func optionsKeyboard(options []string) tgbotapi.ReplyKeyboardMarkup {
	const perRow = 2
	var rows [][]tgbotapi.KeyboardButton
	for i := 0; i < len(options); i += perRow {
		end := min(i+perRow, len(options))
		row := make([]tgbotapi.KeyboardButton, 0, perRow)
		for _, o := range options[i:end] {
			row = append(row, tgbotapi.NewKeyboardButton(o))
		}
		rows = append(rows, tgbotapi.NewKeyboardButtonRow(row...))
	}
	kb := tgbotapi.NewReplyKeyboard(rows...)
	kb.OneTimeKeyboard = true
	kb.ResizeKeyboard = true
	return kb
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	for _, part := range splitMessage(text, maxMessageRunes) {
		if _, err := b.tg.Send(tgbotapi.NewMessage(chatID, part)); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Int64("chat_id", chatID).Msg("send message")
			return
		}
	}
}

// direct messages a user outside the request/reply cycle, through the paced
// sender when one is configured.
func (b *Bot) direct(ctx context.Context, chatID int64, text string) error {
	if b.reminder != nil {
		return b.reminder.Send(ctx, chatID, text)
	}
	_, err := b.tg.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

// splitMessage cuts text into chunks of at most limit runes, preferring line breaks.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	var parts []string
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		parts = append(parts, strings.TrimRight(string(runes[:cut]), "\n"))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}

func displayName(u *tgbotapi.User) string {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name == "" {
		name = u.UserName
	}
	return name
}

func (b *Bot) isAdmin(id int64) bool {
	_, ok := b.admins[id]
	return ok
}

// isStaff reports whether id may run specialist commands: admins and active managers.
func (b *Bot) isStaff(ctx context.Context, id int64) bool {
	if b.isAdmin(id) {
		return true
	}
	ok, err := b.db.IsActiveManager(ctx, id)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("check manager")
		return false
	}
	return ok
}
