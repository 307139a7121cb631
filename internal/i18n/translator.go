// Package i18n renders the bot's localized strings. Message files are TOML
// documents embedded from locales/, one per language, loaded into a go-i18n
// bundle. Platform language codes are mapped onto the supported languages
// with an x/text matcher.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"

	"github.com/BurntSushi/toml"
	goi18n "github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

//go:embed locales/*.toml
var localesFS embed.FS

// Default is the language used when nothing better matches.
var Default = language.English

// Language describes one supported language for the language chooser.
type Language struct {
	Code string
	Name string
	Flag string
}

// Translator renders message ids in a requested language. It is safe for
// concurrent use.
type Translator struct {
	bundle     *goi18n.Bundle
	tags       []language.Tag
	matcher    language.Matcher
	localizers map[string]*goi18n.Localizer
	printers   map[string]*message.Printer
	ids        map[string][]string
}

// New loads every embedded message file.
func New() (*Translator, error) {
	return NewFromFS(localesFS, "locales")
}

// NewFromFS loads every *.toml file under dir of fsys. The file name minus
// the extension is the language tag.
func NewFromFS(fsys fs.FS, dir string) (*Translator, error) {
	bundle := goi18n.NewBundle(Default)
	bundle.RegisterUnmarshalFunc("toml", toml.Unmarshal)

	files, err := fs.Glob(fsys, path.Join(dir, "*.toml"))
	if err != nil {
		return nil, fmt.Errorf("i18n: list message files: %w", err)
	}
	sort.Strings(files)

	t := &Translator{
		bundle:     bundle,
		localizers: make(map[string]*goi18n.Localizer),
		printers:   make(map[string]*message.Printer),
		ids:        make(map[string][]string),
	}
	for _, f := range files {
		mf, err := bundle.LoadMessageFileFS(fsys, f)
		if err != nil {
			return nil, fmt.Errorf("i18n: load %s: %w", f, err)
		}
		code := mf.Tag.String()
		ids := make([]string, 0, len(mf.Messages))
		for _, m := range mf.Messages {
			ids = append(ids, m.ID)
		}
		sort.Strings(ids)
		t.ids[code] = ids
		t.tags = append(t.tags, mf.Tag)
		t.localizers[code] = goi18n.NewLocalizer(bundle, code, Default.String())
		t.printers[code] = message.NewPrinter(mf.Tag)
	}
	if _, ok := t.localizers[Default.String()]; !ok {
		return nil, fmt.Errorf("i18n: no messages for default language %s", Default)
	}

	// The default goes first so the matcher falls back to it.
	sort.SliceStable(t.tags, func(i, j int) bool { return t.tags[i] == Default && t.tags[j] != Default })
	t.matcher = language.NewMatcher(t.tags)
	return t, nil
}

// Match maps a platform language code such as "he-IL" or "iw" to a
// supported language code. Unknown or empty codes map to the default.
func (t *Translator) Match(code string) string {
	if code == "" {
		return Default.String()
	}
	tag, err := language.Parse(code)
	if err != nil {
		return Default.String()
	}
	_, idx, conf := t.matcher.Match(tag)
	if conf == language.No {
		return Default.String()
	}
	return t.tags[idx].String()
}

// Supported reports whether code is exactly one of the loaded languages.
func (t *Translator) Supported(code string) bool {
	_, ok := t.localizers[code]
	return ok
}

// T renders id in lang with data as template input. A missing message
// falls back to the default language and then to the id itself.
func (t *Translator) T(lang, id string, data map[string]any) string {
	loc, ok := t.localizers[lang]
	if !ok {
		loc = t.localizers[Default.String()]
	}
	msg, err := loc.Localize(&goi18n.LocalizeConfig{MessageID: id, TemplateData: data})
	if err == nil {
		return msg
	}
	if lang != Default.String() {
		msg, err = t.localizers[Default.String()].Localize(&goi18n.LocalizeConfig{MessageID: id, TemplateData: data})
		if err == nil {
			return msg
		}
	}
	return id
}

// Number formats n with the digit grouping of lang.
func (t *Translator) Number(lang string, n int64) string {
	p, ok := t.printers[lang]
	if !ok {
		p = t.printers[Default.String()]
	}
	return p.Sprintf("%d", n)
}

// Languages lists the supported languages, default first.
func (t *Translator) Languages() []Language {
	out := make([]Language, 0, len(t.tags))
	for _, tag := range t.tags {
		code := tag.String()
		out = append(out, Language{
			Code: code,
			Name: t.T(code, "LanguageName", nil),
			Flag: t.T(code, "LanguageFlag", nil),
		})
	}
	return out
}

// MessageIDs returns the sorted message ids defined for lang.
func (t *Translator) MessageIDs(lang string) []string {
	return t.ids[lang]
}
