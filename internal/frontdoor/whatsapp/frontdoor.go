// Package whatsapp is the WhatsApp Cloud API frontdoor.
//
// WhatsApp has no inline mode and cannot edit messages, so every reply is a
// new message. Keyboards become reply buttons (up to three) or a list
// message; link buttons are written into the body. The text and button
// payloads of recently sent messages are remembered so that a button press
// or a quoted reply can be resolved against the message it came from.
package whatsapp

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/hebrewbooks-bot/internal/bot"
	"github.com/tjfontaine/hebrewbooks-bot/internal/frontdoor/registry"
	"github.com/tjfontaine/hebrewbooks-bot/internal/server"
	"github.com/tjfontaine/hebrewbooks-bot/internal/storage"
)

// FrontdoorType is the frontdoor type identifier used in configuration.
const FrontdoorType = "whatsapp"

// MaxDataLen is the Cloud API limit on list row ids, the tighter of the two
// button payload limits.
const MaxDataLen = 200

// SignatureHeader carries the HMAC-SHA256 of the payload keyed by the app
// secret.
const SignatureHeader = "X-Hub-Signature-256"

const (
	maxBodySize = 1 << 20

	maxButtons     = 3
	maxRows        = 10
	buttonTitleLen = 20
	rowTitleLen    = 24
	rowDescLen     = 72
	bodyLen        = 1024
	textLen        = 4096
	listLabel      = "☰"

	// Messages older than the customer service window cannot be answered
	// anyway.
	sentTTL  = 24 * time.Hour
	sentSize = 4096
)

// Graph error codes for recipients that cannot be messaged.
const (
	codeUndeliverable = 131026
	codeWindowClosed  = 131047
)

// RegisterFrontdoor registers the WhatsApp factory.
func RegisterFrontdoor() {
	if registry.IsRegistered(FrontdoorType) {
		return
	}
	registry.RegisterFactory(registry.FrontdoorFactory{
		Type:        FrontdoorType,
		Platform:    storage.WhatsApp,
		Description: "WhatsApp Cloud API webhook",
		New: func(cfg registry.HandlerConfig) (registry.Frontdoor, error) {
			f, err := New(cfg)
			if err != nil {
				return nil, err
			}
			return f, nil
		},
	})
}

// APIError is an unsuccessful Graph API answer.
type APIError struct {
	Status  int
	Code    int
	Type    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whatsapp: HTTP %d code %d %s: %s", e.Status, e.Code, e.Type, e.Message)
}

// sentMessage is what a later button press or quoted reply needs to know
// about a message the bot sent.
type sentMessage struct {
	text string
	data []string
}

// Frontdoor serves the webhook and calls the Cloud API.
type Frontdoor struct {
	apiURL      string
	token       string
	phoneID     string
	phone       string
	verifyToken string
	appSecret   string
	path        string
	admins      map[string]bool
	sent        *expirable.LRU[string, sentMessage]
	http        *http.Client
	logger      *slog.Logger
}

// New creates the frontdoor from its configuration section.
func New(cfg registry.HandlerConfig) (*Frontdoor, error) {
	p := cfg.Platform
	if p.Token == "" || p.PhoneID == "" {
		return nil, errors.New("whatsapp: token and phone_id are required")
	}
	f := &Frontdoor{
		apiURL:      strings.TrimRight(p.APIURL, "/"),
		token:       p.Token,
		phoneID:     p.PhoneID,
		phone:       strings.TrimPrefix(p.Phone, "+"),
		verifyToken: p.VerifyToken,
		appSecret:   p.AppSecret,
		path:        p.Path,
		admins:      make(map[string]bool, len(p.Admins)),
		sent:        expirable.NewLRU[string, sentMessage](sentSize, nil, sentTTL),
		http:        cfg.HTTPClient,
		logger:      cfg.Logger,
	}
	if f.apiURL == "" {
		f.apiURL = "https://graph.facebook.com/v19.0"
	}
	if f.path == "" {
		f.path = "/whatsapp/webhook"
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
		f.admins[strings.TrimPrefix(a, "+")] = true
	}
	return f, nil
}

// Handlers returns the verification and notification routes.
func (f *Frontdoor) Handlers(b registry.Bot) []registry.HandlerRegistration {
	return []registry.HandlerRegistration{
		{Path: f.path, Method: http.MethodGet, Handler: f.verify},
		{Path: f.path, Method: http.MethodPost, Handler: f.webhook(b)},
	}
}

// verify answers the subscription handshake.
func (f *Frontdoor) verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || f.verifyToken == "" ||
		!hmac.Equal([]byte(q.Get("hub.verify_token")), []byte(f.verifyToken)) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, q.Get("hub.challenge"))
}

func (f *Frontdoor) webhook(b registry.Bot) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
		if err != nil {
			http.Error(w, "read failed", http.StatusBadRequest)
			return
		}
		if !f.signed(body, r.Header.Get(SignatureHeader)) {
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
		var n Notification
		if err := json.Unmarshal(body, &n); err != nil {
			http.Error(w, "invalid notification", http.StatusBadRequest)
			return
		}
		// Meta redelivers anything that is not a 200.
		if err := f.dispatch(r.Context(), b, n); err != nil {
			server.AddError(r.Context(), err)
		}
		w.WriteHeader(http.StatusOK)
	}
}

// signed checks the payload signature. Without an app secret every payload
// is accepted.
func (f *Frontdoor) signed(body []byte, signature string) bool {
	if f.appSecret == "" {
		return true
	}
	hexSig, ok := strings.CutPrefix(signature, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(hexSig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(f.appSecret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

func (f *Frontdoor) dispatch(ctx context.Context, b registry.Bot, n Notification) error {
	var errs []error
	for _, e := range n.Entry {
		for _, c := range e.Changes {
			if c.Field != "messages" {
				continue
			}
			server.AddLogField(ctx, "messages", strconv.Itoa(len(c.Value.Messages)))
			for _, m := range c.Value.Messages {
				if err := f.onMessage(ctx, b, m); err != nil {
					errs = append(errs, fmt.Errorf("message %s: %w", m.ID, err))
				}
			}
		}
	}
	return errors.Join(errs...)
}

func (f *Frontdoor) request(from string) *bot.Request {
	return &bot.Request{
		Platform:     storage.WhatsApp,
		UserID:       from,
		LanguageCode: languageFor(from),
		MaxDataLen:   MaxDataLen,
		ShareURL:     f.shareURL(),
		IsAdmin:      f.admins[from],
	}
}

func (f *Frontdoor) shareURL() string {
	if f.phone == "" {
		return ""
	}
	return "https://wa.me/" + f.phone + "?text="
}

// languageFor guesses the interface language from the country code.
func languageFor(phone string) string {
	if strings.HasPrefix(phone, "972") {
		return "he"
	}
	return ""
}

func (f *Frontdoor) onMessage(ctx context.Context, b registry.Bot, m InboundMessage) error {
	var quoted sentMessage
	if m.Context != nil {
		quoted, _ = f.sent.Get(m.Context.ID)
	}
	req := f.request(m.From)

	var reply bot.Reply
	switch m.Type {
	case "text":
		if m.Text == nil || m.Text.Body == "" {
			return nil
		}
		req.Text = m.Text.Body
		req.QuotedText = quoted.text
		req.ReplyMarkupData = quoted.data
		reply = b.HandleText(ctx, req)
	case "interactive", "button":
		req.Data = m.data()
		if req.Data == "" {
			return nil
		}
		req.MessageText = quoted.text
		reply = b.HandleCallback(ctx, req)
	default:
		f.logger.Debug("ignoring whatsapp message",
			slog.String("type", m.Type),
			slog.String("id", m.ID),
		)
		return nil
	}
	return f.deliver(ctx, m.From, m.ID, reply)
}

// Send delivers an unsolicited message. Recipients the Cloud API refuses
// yield bot.ErrUnreachable.
func (f *Frontdoor) Send(ctx context.Context, userID string, r bot.Reply) error {
	err := f.deliver(ctx, userID, "", r)
	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.Code == codeUndeliverable || apiErr.Code == codeWindowClosed) {
		return fmt.Errorf("%w: %v", bot.ErrUnreachable, err)
	}
	return err
}

// deliver renders r as one or two messages. A reply with nothing but an
// alert sends the alert as text.
func (f *Frontdoor) deliver(ctx context.Context, to, replyTo string, r bot.Reply) error {
	if r.Empty() {
		if r.Alert == "" {
			return nil
		}
		r = bot.Reply{Text: r.Alert}
	}
	body, buttons := layout(r)
	msg := outbound{To: to}
	if replyTo != "" {
		msg.Context = &msgContext{MessageID: replyTo}
	}
	hdr := mediaHeader(r)

	switch {
	case len(buttons) == 0 && hdr != nil:
		msg.Type = hdr.Type
		m := hdr.media()
		m.Caption = clip(body, bodyLen)
		if hdr.Type == "image" {
			msg.Image = m
		} else {
			msg.Document = m
		}
	case len(buttons) == 0:
		msg.Type = "text"
		msg.Text = &textBody{Body: clip(body, textLen), PreviewURL: true}
	case len(buttons) <= maxButtons:
		msg.Type = "interactive"
		msg.Interactive = &interactive{
			Type:   "button",
			Header: hdr,
			Body:   plain{Text: clip(body, bodyLen)},
			Action: action{Buttons: replyButtons(buttons)},
		}
	default:
		// List messages take no media header.
		if hdr != nil {
			first := outbound{To: to, Type: hdr.Type, Context: msg.Context}
			if hdr.Type == "image" {
				first.Image = hdr.media()
			} else {
				first.Document = hdr.media()
			}
			if _, err := f.post(ctx, first); err != nil {
				return err
			}
			msg.Context = nil
		}
		msg.Type = "interactive"
		msg.Interactive = &interactive{
			Type:   "list",
			Body:   plain{Text: clip(body, bodyLen)},
			Action: action{Button: listLabel, Sections: []section{{Rows: listRows(buttons)}}},
		}
	}

	id, err := f.post(ctx, msg)
	if err != nil {
		return err
	}
	if id != "" {
		data := make([]string, len(buttons))
		for i, b := range buttons {
			data[i] = b.Data
		}
		f.sent.Add(id, sentMessage{text: r.Text, data: data})
	}
	return nil
}

// layout splits a keyboard into payload buttons and link lines appended to
// the body. Buttons that only switch to inline mode have no WhatsApp
// equivalent and are dropped.
func layout(r bot.Reply) (string, []bot.Button) {
	var sb strings.Builder
	sb.WriteString(r.Text)
	var buttons []bot.Button
	for _, row := range r.Keyboard {
		for _, b := range row {
			switch {
			case b.Data != "":
				buttons = append(buttons, b)
			case b.URL != "":
				sb.WriteString("\n")
				sb.WriteString(b.Text)
				sb.WriteString(": ")
				sb.WriteString(b.URL)
			}
		}
	}
	return sb.String(), buttons
}

func mediaHeader(r bot.Reply) *header {
	switch {
	case r.ImageURL != "":
		return &header{Type: "image", Image: &media{Link: r.ImageURL}}
	case r.DocumentURL != "":
		return &header{Type: "document", Document: &media{Link: r.DocumentURL, Filename: r.DocumentName}}
	}
	return nil
}

// media returns a copy of the header's attachment.
func (h *header) media() *media {
	if h.Image != nil {
		m := *h.Image
		return &m
	}
	m := *h.Document
	return &m
}

func replyButtons(buttons []bot.Button) []replyButton {
	out := make([]replyButton, len(buttons))
	for i, b := range buttons {
		out[i] = replyButton{Type: "reply", Reply: replyRef{ID: b.Data, Title: clip(b.Text, buttonTitleLen)}}
	}
	return out
}

func listRows(buttons []bot.Button) []row {
	if len(buttons) > maxRows {
		buttons = buttons[:maxRows]
	}
	out := make([]row, len(buttons))
	for i, b := range buttons {
		r := row{ID: b.Data, Title: clip(b.Text, rowTitleLen)}
		if r.Title != b.Text {
			r.Description = clip(b.Text, rowDescLen)
		}
		out[i] = r
	}
	return out
}

// clip shortens s to at most n runes, marking the cut with an ellipsis.
func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n-1]) + "…"
}

// post sends one message and returns its id.
func (f *Frontdoor) post(ctx context.Context, msg outbound) (string, error) {
	msg.MessagingProduct = "whatsapp"
	msg.RecipientType = "individual"
	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("whatsapp: encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.apiURL+"/"+f.phoneID+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("whatsapp: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+f.token)

	resp, err := f.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("whatsapp: %w", err)
	}
	defer resp.Body.Close()

	var res sendResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&res); err != nil {
		return "", fmt.Errorf("whatsapp: decode HTTP %d: %w", resp.StatusCode, err)
	}
	if res.Error != nil {
		return "", &APIError{Status: resp.StatusCode, Code: res.Error.Code, Type: res.Error.Type, Message: res.Error.Message}
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	if len(res.Messages) == 0 {
		return "", nil
	}
	return res.Messages[0].ID, nil
}
