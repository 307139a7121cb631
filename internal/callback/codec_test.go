package callback

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

type shade string

const (
	shadeLight shade = "l"
	shadeDark  shade = "d"
)

type page struct {
	Book   int
	Title  string
	Page   int
	Shade  shade
	Pinned bool
}

var pageVariant = NewVariant("pg",
	Int("book", func(e *page) *int { return &e.Book }),
	String("title", func(e *page) *string { return &e.Title }),
	Int("page", func(e *page) *int { return &e.Page }),
	Enum("shade", func(e *page) *shade { return &e.Shade }, shadeLight, shadeDark),
	Bool("pinned", func(e *page) *bool { return &e.Pinned }),
)

type short struct{ ID int }
type long struct {
	ID   int
	Page int
}

var (
	reVariant   = NewVariant("re", Int("id", func(e *short) *int { return &e.ID }))
	readVariant = NewVariant("read",
		Int("id", func(e *long) *int { return &e.ID }),
		Int("page", func(e *long) *int { return &e.Page }),
	)
	menuVariant = NewVariant[struct{}]("menu")
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		in   page
		want string
	}{
		{
			name: "plain",
			in:   page{Book: 1234, Title: "Mishnah", Page: 5, Shade: shadeDark, Pinned: true},
			want: "pg:1234:Mishnah:5:d:1",
		},
		{
			name: "separators escaped",
			in:   page{Book: 1, Title: "a:b,c%d", Page: 0, Shade: shadeLight},
			want: "pg:1:a%3Ab%2Cc%25d:0:l:0",
		},
		{
			name: "empty string field",
			in:   page{Book: 7, Page: 2, Shade: shadeLight},
			want: "pg:7::2:l:0",
		},
		{
			name: "negative int",
			in:   page{Book: -3, Title: "x", Shade: shadeDark},
			want: "pg:-3:x:0:d:0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pageVariant.Encode(tt.in)
			if got != tt.want {
				t.Errorf("Encode() = %q, want %q", got, tt.want)
			}
			if strings.Contains(got, OuterSep) {
				t.Errorf("Encode() = %q contains outer separator", got)
			}
		})
	}

	if got := menuVariant.Encode(struct{}{}); got != "menu" {
		t.Errorf("Encode() zero-field = %q, want %q", got, "menu")
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	events := []page{
		{Book: 1234, Title: "Mishnah Berurah", Page: 5, Shade: shadeDark, Pinned: true},
		{Book: 0, Title: "", Page: 0, Shade: shadeLight},
		{Book: 99, Title: "%3A::,,%%", Page: 12, Shade: shadeLight, Pinned: true},
		{Book: 5, Title: "שולחן ערוך", Page: 300, Shade: shadeDark},
	}

	for _, want := range events {
		token := pageVariant.Encode(want)
		got, err := pageVariant.Decode(token)
		if err != nil {
			t.Fatalf("Decode(%q) error = %v", token, err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("Decode(%q) mismatch (-want +got):\n%s", token, diff)
		}
	}
}

func TestDecodeRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("decode inverts encode", prop.ForAll(
		func(book int, title string, pg int, dark bool, pinned bool) bool {
			want := page{Book: book, Title: title, Page: pg, Shade: shadeLight, Pinned: pinned}
			if dark {
				want.Shade = shadeDark
			}
			got, err := pageVariant.Decode(pageVariant.Encode(want))
			return err == nil && cmp.Equal(want, got)
		},
		gen.Int(),
		gen.AnyString(),
		gen.IntRange(-1000, 100000),
		gen.Bool(),
		gen.Bool(),
	))

	properties.Property("encoded string fields never contain a separator", prop.ForAll(
		func(title string) bool {
			token := pageVariant.Encode(page{Title: title, Shade: shadeLight})
			return strings.Count(token, Sep) == 5 && !strings.Contains(token, OuterSep)
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		token string
		check func(t *testing.T, err error)
	}{
		{
			name:  "foreign tag",
			token: "xx:1:a:2:l:0",
			check: func(t *testing.T, err error) {
				var uv *UnknownVariantError
				if !errors.As(err, &uv) {
					t.Fatalf("error = %v, want UnknownVariantError", err)
				}
				if uv.Want != "pg" {
					t.Errorf("Want = %q, want %q", uv.Want, "pg")
				}
			},
		},
		{
			name:  "tag without fields",
			token: "pg",
			check: func(t *testing.T, err error) {
				var am *ArityMismatchError
				if !errors.As(err, &am) {
					t.Fatalf("error = %v, want ArityMismatchError", err)
				}
				if am.Want != 5 || am.Got != 0 {
					t.Errorf("arity = want %d got %d, want 5/0", am.Want, am.Got)
				}
			},
		},
		{
			name:  "one field missing",
			token: "pg:1:a:2:l",
			check: func(t *testing.T, err error) {
				var am *ArityMismatchError
				if !errors.As(err, &am) {
					t.Fatalf("error = %v, want ArityMismatchError", err)
				}
				if am.Want != 5 || am.Got != 4 {
					t.Errorf("arity = want %d got %d, want 5/4", am.Want, am.Got)
				}
			},
		},
		{
			name:  "one field extra",
			token: "pg:1:a:2:l:0:9",
			check: func(t *testing.T, err error) {
				var am *ArityMismatchError
				if !errors.As(err, &am) {
					t.Fatalf("error = %v, want ArityMismatchError", err)
				}
				if am.Got != 6 {
					t.Errorf("Got = %d, want 6", am.Got)
				}
			},
		},
		{
			name:  "non numeric int",
			token: "pg:abc:a:2:l:0",
			check: func(t *testing.T, err error) {
				var ff *FieldFormatError
				if !errors.As(err, &ff) {
					t.Fatalf("error = %v, want FieldFormatError", err)
				}
				if ff.Field != "book" || ff.Value != "abc" || ff.Token != "pg:abc:a:2:l:0" {
					t.Errorf("FieldFormatError = %+v", ff)
				}
			},
		},
		{
			name:  "empty int",
			token: "pg:1:a::l:0",
			check: func(t *testing.T, err error) {
				var ff *FieldFormatError
				if !errors.As(err, &ff) || ff.Field != "page" {
					t.Fatalf("error = %v, want FieldFormatError on page", err)
				}
				if !errors.Is(err, errEmpty) {
					t.Errorf("error = %v, want errEmpty in chain", err)
				}
			},
		},
		{
			name:  "unknown enum code",
			token: "pg:1:a:2:dark:0",
			check: func(t *testing.T, err error) {
				var ff *FieldFormatError
				if !errors.As(err, &ff) || ff.Field != "shade" {
					t.Fatalf("error = %v, want FieldFormatError on shade", err)
				}
			},
		},
		{
			name:  "bad escape",
			token: "pg:1:a%zz:2:l:0",
			check: func(t *testing.T, err error) {
				var ff *FieldFormatError
				if !errors.As(err, &ff) || ff.Field != "title" {
					t.Fatalf("error = %v, want FieldFormatError on title", err)
				}
			},
		},
		{
			name:  "truncated escape",
			token: "pg:1:a%2:2:l:0",
			check: func(t *testing.T, err error) {
				var ff *FieldFormatError
				if !errors.As(err, &ff) {
					t.Fatalf("error = %v, want FieldFormatError", err)
				}
			},
		},
		{
			name:  "bad bool",
			token: "pg:1:a:2:l:maybe",
			check: func(t *testing.T, err error) {
				var ff *FieldFormatError
				if !errors.As(err, &ff) || ff.Field != "pinned" {
					t.Fatalf("error = %v, want FieldFormatError on pinned", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := pageVariant.Decode(tt.token)
			if err == nil {
				t.Fatalf("Decode(%q) = %+v, want error", tt.token, got)
			}
			if got != (page{}) {
				t.Errorf("Decode(%q) returned partial value %+v", tt.token, got)
			}
			if !IsStale(err) {
				t.Errorf("IsStale(%v) = false, want true", err)
			}
			tt.check(t, err)
		})
	}
}

func TestBoolAcceptsParseBoolForms(t *testing.T) {
	for _, s := range []string{"1", "t", "true", "TRUE"} {
		got, err := pageVariant.Decode("pg:1:a:2:l:" + s)
		if err != nil {
			t.Fatalf("Decode(%q) error = %v", s, err)
		}
		if !got.Pinned {
			t.Errorf("Decode(%q) Pinned = false, want true", s)
		}
	}
}

func TestMatchesExactTag(t *testing.T) {
	readToken := readVariant.Encode(long{ID: 12, Page: 3})
	reToken := reVariant.Encode(short{ID: 12})

	tests := []struct {
		name    string
		matches func(string) bool
		token   string
		want    bool
	}{
		{"re matches own token", reVariant.Matches, reToken, true},
		{"read matches own token", readVariant.Matches, readToken, true},
		{"re rejects read token", reVariant.Matches, readToken, false},
		{"read rejects re token", readVariant.Matches, reToken, false},
		{"re matches bare tag", reVariant.Matches, "re", true},
		{"re matches malformed tail", reVariant.Matches, "re:not-a-number", true},
		{"zero-field exact", menuVariant.Matches, "menu", true},
		{"zero-field rejects longer tag", menuVariant.Matches, "menus", false},
		{"zero-field matches fields", menuVariant.Matches, "menu:1", true},
		{"empty token", reVariant.Matches, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.matches(tt.token); got != tt.want {
				t.Errorf("Matches(%q) = %v, want %v", tt.token, got, tt.want)
			}
		})
	}
}

func TestMatchesAgreesWithDecode(t *testing.T) {
	tokens := []string{
		"re:1", "re:x", "re:1:2", "re", "re:", "read:1:2", "rex:1", "", ":1", "re,sh:1",
		"menu", "menu:", "menu:x", "menu:1:2", "menus", "pg", "pg:1:a:2:l:0",
	}
	checks := []struct {
		name    string
		matches func(string) bool
		decode  func(string) error
	}{
		{"re", reVariant.Matches, func(tok string) error { _, err := reVariant.Decode(tok); return err }},
		{"read", readVariant.Matches, func(tok string) error { _, err := readVariant.Decode(tok); return err }},
		{"menu", menuVariant.Matches, func(tok string) error { _, err := menuVariant.Decode(tok); return err }},
		{"pg", pageVariant.Matches, func(tok string) error { _, err := pageVariant.Decode(tok); return err }},
	}
	for _, c := range checks {
		for _, tok := range tokens {
			err := c.decode(tok)
			var uv *UnknownVariantError
			unknown := errors.As(err, &uv)
			if c.matches(tok) == unknown {
				t.Errorf("%s: Matches(%q) = %v but Decode error = %v", c.name, tok, c.matches(tok), err)
			}
		}
	}
}

func TestBareTagIsArityMismatch(t *testing.T) {
	_, err := reVariant.Decode("re")
	var am *ArityMismatchError
	if !errors.As(err, &am) {
		t.Fatalf("Decode(re) error = %v, want ArityMismatchError", err)
	}
	if am.Want != 1 || am.Got != 0 {
		t.Errorf("arity = %d/%d, want 1/0", am.Want, am.Got)
	}
}

func TestZeroFieldDecode(t *testing.T) {
	if _, err := menuVariant.Decode("menu"); err != nil {
		t.Fatalf("Decode(menu) error = %v", err)
	}

	_, err := menuVariant.Decode("menu:1")
	var am *ArityMismatchError
	if !errors.As(err, &am) {
		t.Fatalf("Decode(menu:1) error = %v, want ArityMismatchError", err)
	}
	if am.Want != 0 || am.Got != 1 {
		t.Errorf("arity = %d/%d, want 0/1", am.Want, am.Got)
	}
}

func TestNewVariantPanics(t *testing.T) {
	tests := []struct {
		name string
		fn   func()
	}{
		{"empty tag", func() { NewVariant[short]("") }},
		{"inner separator", func() { NewVariant[short]("a:b") }},
		{"outer separator", func() { NewVariant[short]("a,b") }},
		{"duplicate field", func() {
			NewVariant("dup",
				Int("id", func(e *short) *int { return &e.ID }),
				Int("id", func(e *short) *int { return &e.ID }),
			)
		}},
		{"enum code with separator", func() {
			Enum("shade", func(e *page) *shade { return &e.Shade }, shade("a:b"))
		}},
		{"empty enum code", func() {
			Enum("shade", func(e *page) *shade { return &e.Shade }, shade(""))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			tt.fn()
		})
	}
}

func TestFields(t *testing.T) {
	got, err := pageVariant.Fields("pg:12:a%3Ab:3:d:0")
	if err != nil {
		t.Fatalf("Fields() error = %v", err)
	}
	want := [][2]string{{"book", "12"}, {"title", "a%3Ab"}, {"page", "3"}, {"shade", "d"}, {"pinned", "0"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Fields() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"book", "title", "page", "shade", "pinned"}, pageVariant.FieldNames()); diff != "" {
		t.Errorf("FieldNames() mismatch (-want +got):\n%s", diff)
	}
}

func TestIsStale(t *testing.T) {
	if IsStale(nil) {
		t.Error("IsStale(nil) = true")
	}
	if IsStale(errors.New("boom")) {
		t.Error("IsStale(plain error) = true")
	}
	if !IsStale(ErrNoRoute) {
		t.Error("IsStale(ErrNoRoute) = false")
	}
}
