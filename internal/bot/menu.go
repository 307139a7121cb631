package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/tjfontaine/hebrewbooks-bot/internal/domain"
	"github.com/tjfontaine/hebrewbooks-bot/internal/navigation"
	"github.com/tjfontaine/hebrewbooks-bot/internal/storage"
)

const siteURL = "https://hebrewbooks.org"

var (
	startToken      = navigation.Start.Encode(navigation.Menu{})
	browseMenuToken = navigation.BrowseMenu.Encode(navigation.Menu{})
	statsToken      = navigation.Stats.Encode(navigation.Menu{})
	chooseLangToken = navigation.ChooseLang.Encode(navigation.Menu{})
)

// browseLabels maps each catalog to its menu label and list heading.
var browseLabels = []struct {
	kind    navigation.BrowseKind
	label   string
	heading string
}{
	{navigation.BrowseSubject, "Subjects", "ChooseSubject"},
	{navigation.BrowseLetter, "Letters", "ChooseLetter"},
	{navigation.BrowseDateRange, "DateRanges", "ChooseDateRange"},
	{navigation.BrowseShas, "Shas", "ChooseBrowseType"},
	{navigation.BrowseTursa, "TurAndSA", "ChooseBrowseType"},
}

func browseHeading(k navigation.BrowseKind) string {
	for _, l := range browseLabels {
		if l.kind == k {
			return l.heading
		}
	}
	return "ChooseBrowseType"
}

func (b *Bot) startReply(c *call) Reply {
	welcome := "WelcomeTelegram"
	if c.Platform == storage.WhatsApp {
		welcome = "WelcomeWhatsApp"
	}
	return Reply{
		Text: c.t(welcome) + "\n\n" + c.t("Footer"),
		Keyboard: [][]Button{
			{
				{Text: c.t("Search"), Switch: &Switch{CurrentChat: true}},
				{Text: c.t("Browse"), Data: browseMenuToken},
			},
			{
				{Text: c.t("Stats"), Data: statsToken},
				{Text: c.t("ChangeLanguage"), Data: chooseLangToken},
			},
			{{Text: c.t("HebrewBooksSite"), URL: siteURL}},
		},
	}
}

func (b *Bot) onStart(ctx context.Context, c *call, _ navigation.Menu, _ string) error {
	c.reply = b.startReply(c)
	c.reply.Edit = true
	return nil
}

func (b *Bot) browseMenu(c *call) Reply {
	kb := make([][]Button, 0, len(browseLabels)+1)
	for _, l := range browseLabels {
		tok := navigation.BrowseType{Kind: l.kind}.Token()
		kb = append(kb, []Button{{Text: c.t(l.label), Data: c.join(tok, browseMenuToken)}})
	}
	kb = append(kb, []Button{c.back("", startToken)})
	return Reply{Text: c.t("ChooseBrowseType"), Keyboard: kb}
}

func (b *Bot) onBrowseMenu(ctx context.Context, c *call, _ navigation.Menu, _ string) error {
	c.reply = b.browseMenu(c)
	c.reply.Edit = true
	return nil
}

func (b *Bot) languageMenu(c *call) Reply {
	langs := b.tr.Languages()
	kb := make([][]Button, 0, len(langs)+1)
	for _, l := range langs {
		kb = append(kb, []Button{{
			Text: fmt.Sprintf("%s %s", l.Flag, l.Name),
			Data: navigation.SetLanguage{Code: l.Code}.Token(),
		}})
	}
	kb = append(kb, []Button{c.back("", startToken)})
	return Reply{Text: c.t("ChooseLanguage"), Keyboard: kb}
}

func (b *Bot) onChooseLang(ctx context.Context, c *call, _ navigation.Menu, _ string) error {
	c.reply = b.languageMenu(c)
	c.reply.Edit = true
	return nil
}

func (b *Bot) onSetLanguage(ctx context.Context, c *call, e navigation.SetLanguage, _ string) error {
	if !b.tr.Supported(e.Code) {
		return domain.ErrInvalidInput("BadLanguage").AsAlert()
	}
	err := b.store.SetLanguage(ctx, c.Platform, c.UserID, e.Code)
	if errors.Is(err, storage.ErrNotFound) {
		_, err = b.store.AddUser(ctx, storage.User{
			Platform: c.Platform,
			ID:       c.UserID,
			Language: e.Code,
			Active:   true,
		})
	}
	if err != nil {
		return fmt.Errorf("set language: %w", err)
	}

	c.lang = e.Code
	c.reply = b.startReply(c)
	c.reply.Edit = true
	c.reply.Alert = c.t("LanguageChanged")
	return nil
}

func (b *Bot) statsText(ctx context.Context, c *call) (string, error) {
	st, err := b.store.Stats(ctx)
	if err != nil {
		return "", fmt.Errorf("load stats: %w", err)
	}
	n := func(v int64) string { return b.tr.Number(c.lang, v) }
	if !c.IsAdmin {
		return c.t("ShowStats", map[string]any{
			"BooksRead": n(st.BooksRead),
			"PagesRead": n(st.PagesRead),
			"Searches":  n(st.Searches()),
		}), nil
	}
	users, err := b.store.CountUsers(ctx, storage.UserFilter{})
	if err != nil {
		return "", fmt.Errorf("count users: %w", err)
	}
	var allowed, denied int64
	if lc, ok := b.limiter.(limitCounter); ok {
		allowed, denied = lc.Counts()
	}
	return c.t("ShowStatsAdmin", map[string]any{
		"Users":          n(int64(users)),
		"Limited":        n(denied),
		"Checked":        n(allowed + denied),
		"BooksRead":      n(st.BooksRead),
		"PagesRead":      n(st.PagesRead),
		"InlineSearches": n(st.InlineSearches),
		"MsgSearches":    n(st.MsgSearches),
		"Jumps":          n(st.Jumps),
	}), nil
}

func (b *Bot) onStats(ctx context.Context, c *call, _ navigation.Menu, _ string) error {
	s, err := b.statsText(ctx, c)
	if err != nil {
		return err
	}
	c.reply = Reply{Alert: s, ShowAlert: true}
	return nil
}

func (b *Bot) onJumpTip(ctx context.Context, c *call, _ navigation.Menu, _ string) error {
	c.reply = Reply{Alert: c.t("JumpTip"), ShowAlert: true}
	return nil
}
