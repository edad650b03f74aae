// Package bot implements the Telegram control surface: rule editing,
// exemptions, engine statistics and feed sources.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"feedfilter/internal/config"
	"feedfilter/internal/control"
	"feedfilter/internal/fetcher"
	"feedfilter/internal/settings"
	"feedfilter/internal/storage"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Notifier is told about every settings edit.
type Notifier interface {
	Notify(ctx context.Context)
}

// Bot is the Telegram bot that edits the filter configuration.
type Bot struct {
	api      telegramAPI
	store    storage.Storage
	settings *settings.Store
	control  control.Target
	notifier Notifier
	cfg      *config.Config
	fetcher  *fetcher.Fetcher
	log      *slog.Logger
	newID    func() string
}

// New creates a Bot with the given Telegram token. Settings edits are
// reported to notifier; engine queries go through target.
func New(token string, store storage.Storage, st *settings.Store, target control.Target, notifier Notifier, cfg *config.Config, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	return &Bot{
		api:      api,
		store:    store,
		settings: st,
		control:  target,
		notifier: notifier,
		cfg:      cfg,
		fetcher:  fetcher.New(http.DefaultClient),
		log:      log,
		newID:    uuid.NewString,
	}, nil
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			if cb := update.CallbackQuery; cb != nil {
				if cb.From == nil || !b.cfg.IsUserAllowed(cb.From.ID) {
					continue
				}
				b.handleCallback(ctx, cb)
				continue
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if !b.cfg.IsUserAllowed(update.Message.From.ID) {
				b.reply(update.Message.Chat.ID, "Access denied.")
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
	}
}

// SendMessage sends a text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

// changed pushes the edited configuration to the engine.
func (b *Bot) changed(ctx context.Context) {
	if b.notifier != nil {
		b.notifier.Notify(ctx)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(ctx, chatID)
	case "help":
		b.handleHelp(chatID)
	case cmdRules:
		b.handleRules(ctx, chatID)
	case "addrule":
		b.handleAddRule(ctx, chatID, args)
	case cmdToggle:
		b.handleToggle(ctx, chatID, args)
	case cmdRmRule:
		b.handleRmRule(ctx, chatID, args)
	case "exempt":
		b.handleExempt(ctx, chatID, args, true)
	case "unexempt":
		b.handleExempt(ctx, chatID, args, false)
	case "following":
		b.handleSwitch(ctx, chatID, args, "following")
	case "completely":
		b.handleSwitch(ctx, chatID, args, "completely")
	case "stats":
		b.handleStats(ctx, chatID)
	case "diag":
		b.handleDiag(ctx, chatID)
	case "sources":
		b.handleSources(ctx, chatID)
	case "addsource":
		b.handleAddSource(ctx, chatID, args)
	case cmdRmSource:
		b.handleRmSource(ctx, chatID, args)
	case "rename":
		b.handleRename(ctx, chatID, args)
	case "interval":
		b.handleInterval(ctx, chatID, args)
	case "pause":
		b.handlePause(ctx, chatID, args)
	case "resume":
		b.handleResume(ctx, chatID, args)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}
