package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"feedfilter/internal/control"
	"feedfilter/internal/filter"
	"feedfilter/internal/model"
	"feedfilter/internal/storage"
)

func (b *Bot) handleStart(ctx context.Context, chatID int64) {
	b.reply(chatID, `Welcome to Feed Filter Bot!

Hide posts you do not want to see in your timeline.

Quick start:
1. /addrule keywords Crypto | crypto, nft - hide posts mentioning words
2. /addrule video - hide video posts
3. /exempt @friend - never hide a user

Use /help for the full command reference.

`+FormatStatus(b.settings.Rules(ctx)))
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Filters:
/rules - show all filters
/addrule <type> [name] [| kw, kw] - add a filter
/toggle <id> - enable or disable a filter
/rmrule <id> - remove a filter
Types: keywords, video, links, retweets, verified, engagement, ads

Exemptions:
/exempt @user - never hide posts by a user
/unexempt @user - remove an exemption
/following on|off - never hide posts from accounts you follow
/completely on|off - remove hidden posts instead of showing a marker

Engine:
/stats - hidden post count
/diag - how each visible post was read

Sources:
/sources - show feed sources
/addsource <url> - add an RSS feed of posts
/rmsource <id> - delete a source
/rename <id> <name> - rename a source
/interval <id> <min> - set check interval (1-1440)
/pause <id> - pause checking
/resume <id> - resume checking`)
}

func (b *Bot) handleRules(ctx context.Context, chatID int64) {
	rules := b.settings.Rules(ctx)
	msg := tgbotapi.NewMessage(chatID, FormatRuleList(rules))
	msg.DisableWebPagePreview = true
	if len(rules) > 0 {
		msg.ReplyMarkup = ruleKeyboard(rules)
	}
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send rule list", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleAddRule(ctx context.Context, chatID int64, args string) {
	parsed, err := ParseRuleCommand(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	r := model.Rule{
		ID:        b.newID(),
		Name:      parsed.Name,
		Type:      parsed.Type,
		Keywords:  parsed.Keywords,
		Enabled:   true,
		CreatedAt: time.Now().UTC(),
	}
	if err := b.settings.AddRule(ctx, r); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.changed(ctx)

	b.log.Info("rule added", "rule", r.Name, "type", r.Type, "chat_id", chatID)
	b.reply(chatID, fmt.Sprintf("Filter %s added: %s (%s)\n%s",
		ShortID(r.ID), r.Name, r.Type.Label(), FormatStatus(b.settings.Rules(ctx))))
}

func (b *Bot) handleToggle(ctx context.Context, chatID int64, args string) {
	r, err := ResolveRule(b.settings.Rules(ctx), args)
	if err != nil {
		b.reply(chatID, "Usage: /toggle <id>\n"+err.Error())
		return
	}

	r, err = b.settings.ToggleRule(ctx, r.ID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.changed(ctx)

	state := "enabled"
	if !r.Enabled {
		state = "disabled"
	}
	b.reply(chatID, fmt.Sprintf("Filter %s \"%s\" %s.\n%s",
		ShortID(r.ID), r.Name, state, FormatStatus(b.settings.Rules(ctx))))
}

func (b *Bot) handleRmRule(ctx context.Context, chatID int64, args string) {
	r, err := ResolveRule(b.settings.Rules(ctx), args)
	if err != nil {
		b.reply(chatID, "Usage: /rmrule <id>\n"+err.Error())
		return
	}

	if _, err := b.settings.RemoveRule(ctx, r.ID); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.changed(ctx)
	b.reply(chatID, fmt.Sprintf("Filter %s \"%s\" removed.", ShortID(r.ID), r.Name))
}

func (b *Bot) handleExempt(ctx context.Context, chatID int64, args string, add bool) {
	handle, err := ParseHandle(args)
	if err != nil {
		if add {
			b.reply(chatID, "Usage: /exempt @username")
		} else {
			b.reply(chatID, "Usage: /unexempt @username")
		}
		return
	}

	key := filter.NormalizeHandle(handle)
	ex, err := b.settings.UpdateExemptions(ctx, func(ex *model.ExemptionConfig) {
		var kept []string
		for _, u := range ex.Usernames {
			if filter.NormalizeHandle(u) != key {
				kept = append(kept, u)
			}
		}
		if add {
			kept = append(kept, handle)
		}
		ex.Usernames = kept
	})
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.changed(ctx)
	b.reply(chatID, FormatExemptions(ex))
}

func (b *Bot) handleSwitch(ctx context.Context, chatID int64, args, name string) {
	on, err := ParseSwitch(args)
	if err != nil {
		ex := b.settings.Exemptions(ctx)
		b.reply(chatID, fmt.Sprintf("Usage: /%s on|off\n\n%s", name, FormatExemptions(ex)))
		return
	}

	ex, err := b.settings.UpdateExemptions(ctx, func(ex *model.ExemptionConfig) {
		switch name {
		case "following":
			ex.FollowingOnly = on
		case "completely":
			ex.CompletelyHide = on
		}
	})
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.changed(ctx)
	b.reply(chatID, FormatExemptions(ex))
}

func (b *Bot) query(ctx context.Context, chatID int64, action string) (control.Response, bool) {
	resp, err := b.control.Handle(ctx, control.Message{Action: action})
	if errors.Is(err, control.ErrNotReady) {
		b.reply(chatID, "The filter engine is not running yet.")
		return resp, false
	}
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return resp, false
	}
	return resp, true
}

func (b *Bot) handleStats(ctx context.Context, chatID int64) {
	resp, ok := b.query(ctx, chatID, control.ActionGetStats)
	if !ok {
		return
	}
	var stats model.Stats
	if resp.Stats != nil {
		stats = *resp.Stats
	}
	b.reply(chatID, FormatStats(stats))
}

func (b *Bot) handleDiag(ctx context.Context, chatID int64) {
	resp, ok := b.query(ctx, chatID, control.ActionGetDiagnostics)
	if !ok {
		return
	}
	b.reply(chatID, FormatDiagnostics(resp.Diagnostics))
}

func (b *Bot) handleSources(ctx context.Context, chatID int64) {
	sources, err := b.store.ListSources(ctx, chatID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatSourceList(sources))
}

func (b *Bot) handleAddSource(ctx context.Context, chatID int64, args string) {
	url := strings.TrimSpace(args)
	if url == "" {
		b.reply(chatID, "Usage: /addsource <url>")
		return
	}

	feed, err := b.fetcher.Fetch(ctx, url)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to fetch feed: %v", err))
		return
	}

	name := feed.Title
	if name == "" {
		name = url
	}

	src := &model.Source{
		ChatID:          chatID,
		Name:            name,
		URL:             url,
		IntervalMinutes: 15,
		IsActive:        true,
	}
	if err := b.store.CreateSource(ctx, src); err != nil {
		if errors.Is(err, storage.ErrDuplicateSource) {
			b.reply(chatID, "This source is already in your list. See /sources.")
			return
		}
		b.reply(chatID, fmt.Sprintf("Failed to save source: %v", err))
		return
	}

	b.reply(chatID, fmt.Sprintf("Source added!\n#%d %s (every %d min)\nURL: %s",
		src.ID, src.Name, src.IntervalMinutes, src.URL))
}

// ownSource loads a source, replying when it does not exist or belongs to
// another chat.
func (b *Bot) ownSource(ctx context.Context, chatID, id int64) (*model.Source, bool) {
	src, err := b.store.GetSource(ctx, id)
	if err != nil || src.ChatID != chatID {
		b.reply(chatID, fmt.Sprintf("Source #%d not found.", id))
		return nil, false
	}
	return src, true
}

func (b *Bot) handleRmSource(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /rmsource <id>")
		return
	}
	src, ok := b.ownSource(ctx, chatID, id)
	if !ok {
		return
	}

	if err := b.store.DeleteSource(ctx, id); err != nil {
		b.reply(chatID, fmt.Sprintf("Error deleting source: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Source #%d \"%s\" deleted.", id, src.Name))
}

func (b *Bot) handleRename(ctx context.Context, chatID int64, args string) {
	id, name, err := ParseRenameArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	src, ok := b.ownSource(ctx, chatID, id)
	if !ok {
		return
	}

	src.Name = name
	if err := b.store.UpdateSource(ctx, src); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Source #%d renamed to \"%s\".", id, name))
}

func (b *Bot) handleInterval(ctx context.Context, chatID int64, args string) {
	id, mins, err := ParseIntervalArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	src, ok := b.ownSource(ctx, chatID, id)
	if !ok {
		return
	}

	src.IntervalMinutes = mins
	if err := b.store.UpdateSource(ctx, src); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Source #%d interval set to %d min.", id, mins))
}

func (b *Bot) handlePause(ctx context.Context, chatID int64, args string) {
	b.setActive(ctx, chatID, args, false)
}

func (b *Bot) handleResume(ctx context.Context, chatID int64, args string) {
	b.setActive(ctx, chatID, args, true)
}

func (b *Bot) setActive(ctx context.Context, chatID int64, args string, active bool) {
	cmd, verb := "pause", "paused"
	if active {
		cmd, verb = "resume", "resumed"
	}
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Usage: /%s <id>", cmd))
		return
	}
	src, ok := b.ownSource(ctx, chatID, id)
	if !ok {
		return
	}

	src.IsActive = active
	if err := b.store.UpdateSource(ctx, src); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Source #%d \"%s\" %s.", id, src.Name, verb))
}
