// Package telegram is the Telegram Bot API frontdoor. Updates arrive on a
// webhook; replies go out through the Bot API. Page images and PDFs are
// shown as link previews so every bot message stays a text message and can
// be edited in place.
package telegram

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/hebrewbooks-bot/internal/bot"
	"github.com/tjfontaine/hebrewbooks-bot/internal/frontdoor/registry"
	"github.com/tjfontaine/hebrewbooks-bot/internal/server"
	"github.com/tjfontaine/hebrewbooks-bot/internal/storage"
)

// FrontdoorType is the frontdoor type identifier used in configuration.
const FrontdoorType = "telegram"

// MaxDataLen is the Bot API limit on callback_data.
const MaxDataLen = 64

// SecretHeader carries the webhook secret configured with setWebhook.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

const maxUpdateSize = 1 << 20

// RegisterFrontdoor registers the Telegram factory.
func RegisterFrontdoor() {
	if registry.IsRegistered(FrontdoorType) {
		return
	}
	registry.RegisterFactory(registry.FrontdoorFactory{
		Type:        FrontdoorType,
		Platform:    storage.Telegram,
		Description: "Telegram Bot API webhook",
		New: func(cfg registry.HandlerConfig) (registry.Frontdoor, error) {
			f, err := New(cfg)
			if err != nil {
				return nil, err
			}
			return f, nil
		},
	})
}

// APIError is an unsuccessful Bot API answer.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

// Frontdoor serves the webhook and calls the Bot API.
type Frontdoor struct {
	apiURL string
	token  string
	secret string
	path   string
	admins map[string]bool
	http   *http.Client
	logger *slog.Logger
}

// New creates the frontdoor from its configuration section.
func New(cfg registry.HandlerConfig) (*Frontdoor, error) {
	p := cfg.Platform
	if p.Token == "" {
		return nil, errors.New("telegram: token is required")
	}
	f := &Frontdoor{
		apiURL: strings.TrimRight(p.APIURL, "/"),
		token:  p.Token,
		secret: p.SecretToken,
		path:   p.Path,
		admins: make(map[string]bool, len(p.Admins)),
		http:   cfg.HTTPClient,
		logger: cfg.Logger,
	}
	if f.apiURL == "" {
		f.apiURL = "https://api.telegram.org"
	}
	if f.path == "" {
		f.path = "/telegram/webhook"
	}
	if f.http == nil {
		f.http = &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	for _, a := range p.Admins {
		f.admins[a] = true
	}
	return f, nil
}

// Handlers returns the webhook route.
func (f *Frontdoor) Handlers(b registry.Bot) []registry.HandlerRegistration {
	return []registry.HandlerRegistration{
		{Path: f.path, Method: http.MethodPost, Handler: f.webhook(b)},
	}
}

func (f *Frontdoor) webhook(b registry.Bot) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if f.secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(SecretHeader)), []byte(f.secret)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var u Update
		if err := json.NewDecoder(io.LimitReader(r.Body, maxUpdateSize)).Decode(&u); err != nil {
			http.Error(w, "invalid update", http.StatusBadRequest)
			return
		}
		server.AddLogField(r.Context(), "update_id", strconv.FormatInt(u.UpdateID, 10))
		server.AddLogField(r.Context(), "update", u.kind())
		// Answer 200 even when handling fails; Telegram retries anything else.
		if err := f.dispatch(r.Context(), b, u); err != nil {
			server.AddError(r.Context(), err)
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (f *Frontdoor) request(from User) *bot.Request {
	id := strconv.FormatInt(from.ID, 10)
	return &bot.Request{
		Platform:     storage.Telegram,
		UserID:       id,
		LanguageCode: from.LanguageCode,
		MaxDataLen:   MaxDataLen,
		IsAdmin:      f.admins[id],
	}
}

func (f *Frontdoor) dispatch(ctx context.Context, b registry.Bot, u Update) error {
	switch {
	case u.Message != nil:
		return f.onMessage(ctx, b, u.Message)
	case u.CallbackQuery != nil:
		return f.onCallback(ctx, b, u.CallbackQuery)
	case u.InlineQuery != nil:
		return f.onInline(ctx, b, u.InlineQuery)
	}
	return nil
}

func (f *Frontdoor) onMessage(ctx context.Context, b registry.Bot, m *Message) error {
	if m.From == nil || m.From.IsBot || m.Body() == "" {
		return nil
	}
	req := f.request(*m.From)
	req.Text = m.Body()
	if m.ReplyToMessage != nil {
		req.QuotedText = m.ReplyToMessage.Body()
		req.ReplyMarkupData = m.ReplyToMessage.CallbackData()
	}

	reply := b.HandleText(ctx, req)
	if reply.Empty() {
		return nil
	}
	chat := strconv.FormatInt(m.Chat.ID, 10)
	if reply.Edit && m.ReplyToMessage != nil {
		return f.edit(ctx, editMessageText{ChatID: chat, MessageID: m.ReplyToMessage.MessageID}, reply)
	}
	return f.send(ctx, chat, m.MessageID, reply)
}

func (f *Frontdoor) onCallback(ctx context.Context, b registry.Bot, q *CallbackQuery) error {
	req := f.request(q.From)
	req.Data = q.Data
	if q.Message != nil {
		req.MessageText = q.Message.Body()
		req.QuotedText = q.Message.ReplyToMessage.Body()
	}

	reply := b.HandleCallback(ctx, req)
	if err := f.call(ctx, "answerCallbackQuery", answerCallbackQuery{
		CallbackQueryID: q.ID,
		Text:            reply.Alert,
		ShowAlert:       reply.ShowAlert,
	}, nil); err != nil {
		f.logger.Warn("answer callback failed", slog.String("error", err.Error()))
	}
	if reply.Empty() {
		return nil
	}

	switch {
	case reply.Edit && q.Message != nil:
		return f.edit(ctx, editMessageText{
			ChatID:    strconv.FormatInt(q.Message.Chat.ID, 10),
			MessageID: q.Message.MessageID,
		}, reply)
	case reply.Edit && q.InlineMessageID != "":
		return f.edit(ctx, editMessageText{InlineMessageID: q.InlineMessageID}, reply)
	case q.Message != nil:
		return f.send(ctx, strconv.FormatInt(q.Message.Chat.ID, 10), 0, reply)
	default:
		return f.send(ctx, req.UserID, 0, reply)
	}
}

func (f *Frontdoor) onInline(ctx context.Context, b registry.Bot, q *InlineQuery) error {
	req := f.request(q.From)
	req.Text = q.Query
	req.Offset = q.Offset

	ans := b.HandleInline(ctx, req)
	out := answerInlineQuery{
		InlineQueryID: q.ID,
		Results:       make([]inlineArticle, 0, len(ans.Results)),
		CacheTime:     60,
		IsPersonal:    true,
		NextOffset:    ans.NextOffset,
	}
	for _, r := range ans.Results {
		out.Results = append(out.Results, inlineArticle{
			Type:                "article",
			ID:                  r.ID,
			Title:               r.Title,
			Description:         r.Description,
			ThumbnailURL:        r.ThumbURL,
			InputMessageContent: inputTextContent{MessageText: r.Text},
			ReplyMarkup:         keyboard(r.Keyboard),
		})
	}
	if ans.SwitchText != "" {
		out.Button = &inlineResultsButton{Text: ans.SwitchText, StartParameter: "inline"}
	}
	return f.call(ctx, "answerInlineQuery", out, nil)
}

// Send delivers an unsolicited message. Users who blocked the bot or
// deleted their account yield bot.ErrUnreachable.
func (f *Frontdoor) Send(ctx context.Context, userID string, r bot.Reply) error {
	err := f.send(ctx, userID, 0, r)
	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.Code == http.StatusForbidden ||
		strings.Contains(apiErr.Description, "chat not found")) {
		return fmt.Errorf("%w: %v", bot.ErrUnreachable, err)
	}
	return err
}

func (f *Frontdoor) send(ctx context.Context, chat string, replyTo int64, r bot.Reply) error {
	msg := sendMessage{
		ChatID:             chat,
		Text:               r.Text,
		LinkPreviewOptions: preview(r),
		ReplyMarkup:        keyboard(r.Keyboard),
	}
	if replyTo != 0 {
		msg.ReplyParameters = &replyParameters{MessageID: replyTo}
	}
	return f.call(ctx, "sendMessage", msg, nil)
}

func (f *Frontdoor) edit(ctx context.Context, target editMessageText, r bot.Reply) error {
	target.Text = r.Text
	target.LinkPreviewOptions = preview(r)
	target.ReplyMarkup = keyboard(r.Keyboard)
	err := f.call(ctx, "editMessageText", target, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && strings.Contains(apiErr.Description, "message is not modified") {
		return nil
	}
	return err
}

// preview shows the reply's page image or PDF above the text.
func preview(r bot.Reply) *linkPreviewOptions {
	switch {
	case r.ImageURL != "":
		return &linkPreviewOptions{URL: r.ImageURL, PreferLargeMedia: true, ShowAboveText: true}
	case r.DocumentURL != "":
		return &linkPreviewOptions{URL: r.DocumentURL, ShowAboveText: true}
	}
	return &linkPreviewOptions{IsDisabled: true}
}

func keyboard(kb [][]bot.Button) *InlineKeyboardMarkup {
	if len(kb) == 0 {
		return nil
	}
	out := &InlineKeyboardMarkup{InlineKeyboard: make([][]InlineKeyboardButton, 0, len(kb))}
	for _, row := range kb {
		buttons := make([]InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			btn := InlineKeyboardButton{Text: b.Text}
			switch {
			case b.URL != "":
				btn.URL = b.URL
			case b.Switch != nil:
				q := b.Switch.Query
				if b.Switch.CurrentChat {
					btn.SwitchInlineQueryCurrentChat = &q
				} else {
					btn.SwitchInlineQuery = &q
				}
			case b.Data != "":
				btn.CallbackData = b.Data
			default:
				continue
			}
			buttons = append(buttons, btn)
		}
		if len(buttons) > 0 {
			out.InlineKeyboard = append(out.InlineKeyboard, buttons)
		}
	}
	return out
}

// call posts payload to a Bot API method and decodes the result into out.
func (f *Frontdoor) call(ctx context.Context, method string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram %s: encode: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.apiURL+"/bot"+f.token+"/"+method, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram %s: build request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	var env response
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxUpdateSize)).Decode(&env); err != nil {
		return fmt.Errorf("telegram %s: decode HTTP %d: %w", method, resp.StatusCode, err)
	}
	if !env.OK {
		code := env.ErrorCode
		if code == 0 {
			code = resp.StatusCode
		}
		return &APIError{Method: method, Code: code, Description: env.Description}
	}
	if out != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("telegram %s: decode result: %w", method, err)
		}
	}
	return nil
}

// SetWebhook points Telegram at url.
func (f *Frontdoor) SetWebhook(ctx context.Context, url string) error {
	return f.call(ctx, "setWebhook", map[string]any{
		"url":             url,
		"secret_token":    f.secret,
		"allowed_updates": []string{"message", "callback_query", "inline_query"},
	}, nil)
}
