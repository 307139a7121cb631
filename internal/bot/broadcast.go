package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tjfontaine/hebrewbooks-bot/internal/domain"
	"github.com/tjfontaine/hebrewbooks-bot/internal/navigation"
	"github.com/tjfontaine/hebrewbooks-bot/internal/storage"
)

// broadcastPrompt answers "/broadcast [lang]\n<body>" with a confirmation.
// The body is repeated after a blank line so the confirm button can read it
// back from the message it sits on.
func (b *Bot) broadcastPrompt(ctx context.Context, c *call, args string) (Reply, error) {
	if !c.IsAdmin {
		return Reply{}, domain.ErrForbidden()
	}
	head, body, _ := strings.Cut(args, "\n")
	lang := strings.TrimSpace(head)
	body = strings.TrimSpace(body)
	if body == "" {
		return Reply{Text: c.t("BroadcastUsage")}, nil
	}
	if lang != "" && !b.tr.Supported(lang) {
		return Reply{}, domain.ErrInvalidInput("BadLanguage")
	}

	n, err := b.store.CountUsers(ctx, broadcastFilter(c.Platform, lang))
	if err != nil {
		return Reply{}, fmt.Errorf("count broadcast users: %w", err)
	}
	return Reply{
		Text: c.t("BroadcastConfirm", map[string]any{"Count": c.num(n)}) + "\n\n" + body,
		Keyboard: [][]Button{{
			{Text: c.t("Yes"), Data: navigation.Broadcast{Send: true, Lang: lang}.Token()},
			{Text: c.t("No"), Data: navigation.Broadcast{Send: false, Lang: lang}.Token()},
		}},
	}, nil
}

func broadcastFilter(p storage.Platform, lang string) storage.UserFilter {
	return storage.UserFilter{Platform: p, Language: lang, ActiveOnly: true}
}

// onBroadcast starts or cancels a confirmed broadcast. Sending runs in the
// background; the admin gets a summary when it ends.
func (b *Bot) onBroadcast(ctx context.Context, c *call, e navigation.Broadcast, _ string) error {
	if !c.IsAdmin {
		return domain.ErrForbidden()
	}
	if !e.Send {
		c.reply = Reply{Text: c.t("BroadcastCancelled"), Edit: true}
		return nil
	}
	_, body, _ := strings.Cut(c.MessageText, "\n\n")
	body = strings.TrimSpace(body)
	if body == "" {
		return domain.ErrInvalidInput("BroadcastMissing").AsAlert()
	}
	sender, ok := b.senders[c.Platform]
	if !ok {
		return domain.ErrUnavailable()
	}
	users, err := b.store.ListUsers(ctx, broadcastFilter(c.Platform, e.Lang))
	if err != nil {
		return fmt.Errorf("list broadcast users: %w", err)
	}

	b.logger.Info("broadcast started",
		slog.String("platform", string(c.Platform)),
		slog.String("admin", c.UserID),
		slog.String("language", e.Lang),
		slog.Int("users", len(users)),
	)
	admin, lang := c.UserID, c.lang
	// The request ends before the broadcast does; keep its values but tie
	// cancellation to the bot's lifetime.
	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	release := context.AfterFunc(b.life, cancel)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer cancel()
		defer release()
		b.broadcast(bg, sender, users, body, admin, lang)
	}()

	c.reply = Reply{Text: c.t("BroadcastStarted"), Edit: true}
	return nil
}

func (b *Bot) broadcast(ctx context.Context, sender Sender, users []storage.User, body, admin, lang string) {
	sent, failed := 0, 0
	for i, u := range users {
		if i > 0 && b.pace > 0 {
			t := time.NewTimer(b.pace)
			select {
			case <-ctx.Done():
				t.Stop()
			case <-t.C:
			}
		}
		if ctx.Err() != nil {
			b.logger.Warn("broadcast interrupted",
				slog.Int("sent", sent),
				slog.Int("failed", failed),
				slog.Int("remaining", len(users)-i),
			)
			return
		}
		err := sender.Send(ctx, u.ID, Reply{Text: body})
		switch {
		case err == nil:
			sent++
		case errors.Is(err, ErrUnreachable):
			failed++
			if err := b.store.SetActive(ctx, u.Platform, u.ID, false); err != nil {
				b.logger.Warn("deactivate user failed",
					slog.String("user", u.ID),
					slog.String("error", err.Error()),
				)
			}
		default:
			failed++
			b.logger.Warn("broadcast send failed",
				slog.String("user", u.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	b.logger.Info("broadcast finished", slog.Int("sent", sent), slog.Int("failed", failed))
	summary := b.tr.T(lang, "BroadcastDone", map[string]any{
		"Sent":   b.tr.Number(lang, int64(sent)),
		"Failed": b.tr.Number(lang, int64(failed)),
	})
	if err := sender.Send(ctx, admin, Reply{Text: summary}); err != nil {
		b.logger.Warn("broadcast summary failed", slog.String("error", err.Error()))
	}
}
