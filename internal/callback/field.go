package callback

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Field is one named, typed field of a Variant. Parse writes the decoded
// value into the event, Format reads it back out. Fields are built with the
// Int, String, Bool and Enum constructors and are immutable once a Variant
// holds them.
type Field[T any] struct {
	Name   string
	Parse  func(e *T, s string) error
	Format func(e *T) string
}

// errEmpty is returned when a field that cannot be empty is.
var errEmpty = errors.New("empty value")

// Int declares an integer field stored at the location returned by ref.
func Int[T any](name string, ref func(e *T) *int) Field[T] {
	return Field[T]{
		Name: name,
		Parse: func(e *T, s string) error {
			if s == "" {
				return errEmpty
			}
			n, err := strconv.Atoi(s)
			if err != nil {
				return err
			}
			*ref(e) = n
			return nil
		},
		Format: func(e *T) string {
			return strconv.Itoa(*ref(e))
		},
	}
}

// escaper keeps string values clear of both separators. The escape
// character itself is escaped first so decoding is unambiguous.
var (
	escaper   = strings.NewReplacer("%", "%25", Sep, "%3A", OuterSep, "%2C")
	unescaper = strings.NewReplacer("%3A", Sep, "%2C", OuterSep, "%25", "%")
)

// String declares a free-form string field. Any string round-trips; the
// separators are percent-escaped on the wire.
func String[T any](name string, ref func(e *T) *string) Field[T] {
	return Field[T]{
		Name: name,
		Parse: func(e *T, s string) error {
			if err := checkEscapes(s); err != nil {
				return err
			}
			*ref(e) = unescaper.Replace(s)
			return nil
		},
		Format: func(e *T) string {
			return escaper.Replace(*ref(e))
		},
	}
}

func checkEscapes(s string) error {
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			continue
		}
		if i+2 >= len(s) {
			return fmt.Errorf("truncated escape at offset %d", i)
		}
		switch s[i+1 : i+3] {
		case "25", "3A", "2C":
		default:
			return fmt.Errorf("invalid escape %q", s[i:i+3])
		}
		i += 2
	}
	return nil
}

// Bool declares a boolean field encoded as 1 or 0.
func Bool[T any](name string, ref func(e *T) *bool) Field[T] {
	return Field[T]{
		Name: name,
		Parse: func(e *T, s string) error {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return err
			}
			*ref(e) = b
			return nil
		},
		Format: func(e *T) string {
			if *ref(e) {
				return "1"
			}
			return "0"
		},
	}
}

// Enum declares a field restricted to a closed set of short codes. The code
// is the wire form, so renaming a display label never breaks issued tokens.
// Enum panics if a code is empty or contains a separator.
func Enum[T any, E ~string](name string, ref func(e *T) *E, codes ...E) Field[T] {
	allowed := make(map[string]E, len(codes))
	for _, c := range codes {
		s := string(c)
		if s == "" || strings.Contains(s, Sep) || strings.Contains(s, OuterSep) {
			panic(fmt.Sprintf("callback: enum field %q has invalid code %q", name, s))
		}
		allowed[s] = c
	}
	return Field[T]{
		Name: name,
		Parse: func(e *T, s string) error {
			c, ok := allowed[s]
			if !ok {
				return fmt.Errorf("unknown code %q", s)
			}
			*ref(e) = c
			return nil
		},
		Format: func(e *T) string {
			return string(*ref(e))
		},
	}
}
