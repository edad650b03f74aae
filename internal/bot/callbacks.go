package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"feedfilter/internal/model"
)

const (
	cmdRules    = "rules"
	cmdToggle   = "toggle"
	cmdRmRule   = "rmrule"
	cmdRmSource = "rmsource"
)

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	data := cb.Data
	chatID := cb.Message.Chat.ID

	callback := tgbotapi.NewCallback(cb.ID, "")
	if _, err := b.api.Send(callback); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	action, arg, ok := strings.Cut(data, ":")
	if !ok || arg == "" {
		return
	}

	var userID int64
	var username string
	if cb.From != nil {
		userID, username = cb.From.ID, cb.From.UserName
	}
	b.log.Info("callback",
		"action", action,
		"arg", arg,
		"chat_id", chatID,
		"user_id", userID,
		"username", username,
	)

	switch action {
	case cmdRules:
		b.handleRules(ctx, chatID)
	case cmdToggle:
		b.handleToggle(ctx, chatID, arg)
	case cmdRmRule:
		b.handleRmRule(ctx, chatID, arg)
	case "rmsource_confirm":
		id, err := ParseIDArg(arg)
		if err != nil {
			return
		}
		src, err := b.store.GetSource(ctx, id)
		if err != nil || src.ChatID != chatID {
			b.reply(chatID, fmt.Sprintf("Source #%d not found.", id))
			return
		}
		msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("Delete source #%d \"%s\"? This cannot be undone.", id, src.Name))
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Yes, delete", fmt.Sprintf("%s:%d", cmdRmSource, id)),
				tgbotapi.NewInlineKeyboardButtonData("Cancel", "noop:0"),
			),
		)
		if _, err := b.api.Send(msg); err != nil {
			b.log.Error("send delete confirmation", "error", err)
		}
	case cmdRmSource:
		if _, err := ParseIDArg(arg); err != nil {
			return
		}
		b.handleRmSource(ctx, chatID, arg)
	}
}

// ruleKeyboard offers toggle and remove buttons for each rule.
func ruleKeyboard(rules []model.Rule) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(rules))
	for _, r := range rules {
		label := "Disable"
		if !r.Enabled {
			label = "Enable"
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label+" "+r.Name, cmdToggle+":"+r.ID),
			tgbotapi.NewInlineKeyboardButtonData("Remove", cmdRmRule+":"+r.ID),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
