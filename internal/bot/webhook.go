package bot

import (
	"context"
	"fmt"
	"sort"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// SetupWebhook points Telegram at url. When secret is set Telegram sends it back
// in the X-Telegram-Bot-Api-Secret-Token header of every update.
func (b *Bot) SetupWebhook(ctx context.Context, url, secret string) error {
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return fmt.Errorf("build webhook config: %w", err)
	}

	if secret == "" {
		if _, err := b.tg.Request(wh); err != nil {
			return fmt.Errorf("set webhook: %w", err)
		}
	} else {
		params := tgbotapi.Params{
			"url":          wh.URL.String(),
			"secret_token": secret,
		}
		if _, err := b.tg.MakeRequest("setWebhook", params); err != nil {
			return fmt.Errorf("set webhook: %w", err)
		}
	}

	zerolog.Ctx(ctx).Info().Str("host", wh.URL.Host).Bool("secret", secret != "").Msg("Webhook registered")
	return nil
}

// SetupCommands publishes the user commands in the Telegram menu.
func (b *Bot) SetupCommands() error {
	var cmds []tgbotapi.BotCommand
	for name, c := range b.commands {
		if c.access != accessAll || c.description == "" {
			continue
		}
		cmds = append(cmds, tgbotapi.BotCommand{Command: name, Description: c.description})
	}
	sort.Slice(cmds, func(i, j int) bool { return menuOrder(cmds[i].Command) < menuOrder(cmds[j].Command) })

	if _, err := b.tg.Request(tgbotapi.NewSetMyCommands(cmds...)); err != nil {
		return fmt.Errorf("failed to set bot commands: %w", err)
	}
	return nil
}

var menu = []string{"start", "book", "my_bookings", "service_list", "spec_list", "cancel", "help"}

func menuOrder(name string) int {
	for i, m := range menu {
		if m == name {
			return i
		}
	}
	return len(menu)
}
